package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrStartAfterEnd is returned by NewDateRange when start is later than end.
var ErrStartAfterEnd = errors.New("range start is after end")

// DateRange is an inclusive span of calendar days, truncated to UTC
// midnight. It never reasons about trading calendars or time zones; that is
// an external collaborator's concern.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange constructs a DateRange after truncating both bounds to UTC
// midnight. It fails if start falls after end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s := truncateToDay(start)
	e := truncateToDay(end)
	if s.After(e) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrStartAfterEnd, s.Format("2006-01-02"), e.Format("2006-01-02"))
	}
	return DateRange{Start: s, End: e}, nil
}

func truncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Days returns the number of calendar days spanned by the range, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// SplitByDays returns one single-day DateRange per day in r, in
// chronological order.
func (r DateRange) SplitByDays() []DateRange {
	n := r.Days()
	out := make([]DateRange, 0, n)
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, DateRange{Start: d, End: d})
	}
	return out
}

// Contains reports whether t's UTC calendar day falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	d := truncateToDay(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Overlaps reports whether r and other share at least one calendar day.
func (r DateRange) Overlaps(other DateRange) bool {
	return !r.Start.After(other.End) && !r.End.Before(other.Start)
}

// Clip restricts r to the intersection with bound. The second return value
// is false if the intersection is empty.
func (r DateRange) Clip(bound DateRange) (DateRange, bool) {
	start := r.Start
	if bound.Start.After(start) {
		start = bound.Start
	}
	end := r.End
	if bound.End.Before(end) {
		end = bound.End
	}
	if start.After(end) {
		return DateRange{}, false
	}
	return DateRange{Start: start, End: end}, true
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

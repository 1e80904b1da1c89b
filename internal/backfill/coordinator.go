// Package backfill orchestrates a resumable historical-tick backfill for a
// single symbol over a date range: it acquires a fenced lease, plans the
// days that need fetching by consulting the gap detector, drives the
// per-day fetch/save/checkpoint loop, and reports the outcome.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticksync/internal/domain"
	"ticksync/internal/gapdetect"
	"ticksync/internal/gateway"
	"ticksync/internal/jobstate"
	"ticksync/internal/tickstore"
)

// ErrJobAlreadyRunning is returned when another instance holds a fresh
// lease on the same job key.
var ErrJobAlreadyRunning = errors.New("backfill job already running under a fresh lease")

// DefaultHeartbeatTimeout is how stale a Running job's heartbeat must be
// before a new worker may take over its lease.
const DefaultHeartbeatTimeout = 5 * time.Minute

// FailedDay records a single day that could not be backfilled.
type FailedDay struct {
	Date    time.Time
	Message string
}

// BackfillReport summarizes the outcome of a BackfillRange call.
type BackfillReport struct {
	Symbol        string
	Range         domain.DateRange
	DaysProcessed int
	TotalTicks    int
	FailedDays    []FailedDay
}

// Coordinator drives the end-to-end backfill state machine.
type Coordinator struct {
	jobs      jobstate.Store
	detector  gapdetect.Detector
	gateway   gateway.HistoricalGateway
	ticks     tickstore.Store
	log       *slog.Logger
	heartbeat time.Duration
	now       func() time.Time
}

// New constructs a Coordinator from its collaborators.
func New(jobs jobstate.Store, detector gapdetect.Detector, gw gateway.HistoricalGateway, ticks tickstore.Store, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		jobs:      jobs,
		detector:  detector,
		gateway:   gw,
		ticks:     ticks,
		log:       log,
		heartbeat: DefaultHeartbeatTimeout,
		now:       time.Now,
	}
}

// WithHeartbeatTimeout overrides the stale-lease threshold used by
// acquireLease when deciding whether a Running job's heartbeat is fresh
// enough to reject a concurrent caller, or stale enough to allow takeover.
func (c *Coordinator) WithHeartbeatTimeout(d time.Duration) *Coordinator {
	if d > 0 {
		c.heartbeat = d
	}
	return c
}

// jobKey derives the durable record key for a (symbol, range) pair. The
// range's start anchors the key so distinct backfill windows for the same
// symbol do not collide.
func jobKey(symbol string, r domain.DateRange) string {
	return fmt.Sprintf("ingest:job:%s:%s", symbol, r.Start.Format("2006-01-02"))
}

func startOfDayMs(t time.Time) int64 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.UnixMilli()
}

func endOfDayMs(t time.Time) int64 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999000000, time.UTC)
	return d.UnixMilli()
}

// BackfillRange runs the full lease/plan/execute/finalize cycle for symbol
// over r.
func (c *Coordinator) BackfillRange(ctx context.Context, symbol string, r domain.DateRange) (*BackfillReport, error) {
	key := jobKey(symbol, r)

	instanceID, existing, err := c.acquireLease(ctx, key, r)
	if err != nil {
		return nil, err
	}

	report := &BackfillReport{Symbol: symbol, Range: r}

	effectiveStart, done, err := c.planStart(ctx, symbol, r, existing.Cursor)
	if err != nil {
		return nil, err
	}
	if done {
		if err := c.finalize(ctx, key, instanceID, report); err != nil {
			return nil, err
		}
		return report, nil
	}

	days, err := c.plan(ctx, symbol, effectiveStart, r)
	if err != nil {
		return nil, err
	}

	cursor := existing.Cursor
	for _, day := range days {
		if endOfDayMs(day.Start) <= cursor {
			continue
		}

		hb := c.now().UnixMilli()
		if err := c.jobs.Heartbeat(ctx, key, instanceID, hb); err != nil {
			return nil, fmt.Errorf("heartbeat: %w", err)
		}

		ticks, fetchErr := c.gateway.Fetch(ctx, symbol, day.Start)
		if fetchErr != nil {
			if err := c.recordDayFailure(ctx, key, instanceID, day.Start, fetchErr, report); err != nil {
				return nil, err
			}
			continue
		}

		if len(ticks) > 0 {
			if err := c.ticks.SaveBatch(ctx, ticks); err != nil {
				if recErr := c.recordDayFailure(ctx, key, instanceID, day.Start, err, report); recErr != nil {
					return nil, recErr
				}
				continue
			}
		}

		newCursor := endOfDayMs(day.Start)
		if len(ticks) > 0 {
			newCursor = ticks[len(ticks)-1].Timestamp.UnixMilli()
		}
		if err := c.jobs.UpdateCursor(ctx, key, instanceID, newCursor); err != nil {
			return nil, fmt.Errorf("checkpointing cursor: %w", err)
		}
		cursor = newCursor

		report.DaysProcessed++
		report.TotalTicks += len(ticks)
	}

	if err := c.finalize(ctx, key, instanceID, report); err != nil {
		return nil, err
	}
	return report, nil
}

// acquireLease reads any existing job record and either rejects the call
// (fresh lease held elsewhere), takes over a stale or terminal job, or
// creates a new one. It returns the instance id this call now owns and the
// state as last persisted (for cursor resumption).
func (c *Coordinator) acquireLease(ctx context.Context, key string, r domain.DateRange) (string, domain.JobState, error) {
	existing, err := c.jobs.Get(ctx, key)
	if err != nil {
		return "", domain.JobState{}, fmt.Errorf("reading job state: %w", err)
	}

	instanceID := uuid.NewString()
	now := c.now().UnixMilli()

	if existing == nil {
		state := domain.JobState{
			Status:        domain.JobStatusRunning,
			JobInstanceID: instanceID,
			Cursor:        startOfDayMs(r.Start) - 1,
			EndTime:       endOfDayMs(r.End),
			HeartbeatAt:   now,
		}
		if err := c.jobs.Upsert(ctx, key, state); err != nil {
			return "", domain.JobState{}, fmt.Errorf("creating job state: %w", err)
		}
		return instanceID, state, nil
	}

	if existing.Running() && now-existing.HeartbeatAt <= c.heartbeat.Milliseconds() {
		return "", domain.JobState{}, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, key)
	}

	// Either a stale Running lease (crashed worker) or a terminal job:
	// take over, preserving the cursor.
	state := domain.JobState{
		Status:        domain.JobStatusRunning,
		JobInstanceID: instanceID,
		Cursor:        existing.Cursor,
		EndTime:       existing.EndTime,
		HeartbeatAt:   now,
	}
	if err := c.jobs.Upsert(ctx, key, state); err != nil {
		return "", domain.JobState{}, fmt.Errorf("taking over job state: %w", err)
	}
	return instanceID, state, nil
}

// planStart computes the effective start day given the persisted cursor.
// If the cursor already covers the entire requested range, done is true
// and no planning work is needed.
func (c *Coordinator) planStart(_ context.Context, _ string, r domain.DateRange, cursor int64) (time.Time, bool, error) {
	effectiveStart := r.Start
	if cursor >= startOfDayMs(r.Start) {
		resumeDay := time.UnixMilli(cursor).UTC()
		effectiveStart = time.Date(resumeDay.Year(), resumeDay.Month(), resumeDay.Day(), 0, 0, 0, 0, time.UTC)
	}
	if effectiveStart.After(r.End) {
		return effectiveStart, true, nil
	}
	return effectiveStart, false, nil
}

// plan asks the gap detector for missing days across [effectiveStart, r.End]
// and unions them with effectiveStart itself, split to single days, sorted
// chronologically with duplicates removed.
func (c *Coordinator) plan(ctx context.Context, symbol string, effectiveStart time.Time, r domain.DateRange) ([]domain.DateRange, error) {
	window, err := domain.NewDateRange(effectiveStart, r.End)
	if err != nil {
		return nil, fmt.Errorf("building planning window: %w", err)
	}

	gaps, err := c.detector.DetectGaps(ctx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("detecting gaps: %w", err)
	}

	seen := make(map[string]struct{})
	var days []domain.DateRange

	add := func(d domain.DateRange) {
		k := d.Start.Format("2006-01-02")
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		days = append(days, d)
	}

	add(domain.DateRange{Start: effectiveStart, End: effectiveStart})
	for _, g := range gaps {
		clipped, ok := g.Clip(r)
		if !ok {
			continue
		}
		for _, d := range clipped.SplitByDays() {
			add(d)
		}
	}

	sortDateRanges(days)
	return days, nil
}

func sortDateRanges(days []domain.DateRange) {
	for i := 1; i < len(days); i++ {
		for j := i; j > 0 && days[j].Start.Before(days[j-1].Start); j-- {
			days[j], days[j-1] = days[j-1], days[j]
		}
	}
}

// recordDayFailure logs and reports a day-level failure, then persists it as
// the job's last error under fencing. A losing instance's SaveError call
// fails StaleInstance (or a backend error) and is fatal to the run — it
// means another worker has already taken over this job's lease, so any
// further state this instance believes it holds is no longer trustworthy.
func (c *Coordinator) recordDayFailure(ctx context.Context, key, instanceID string, day time.Time, err error, report *BackfillReport) error {
	c.log.Error("backfill day failed", "day", day.Format("2006-01-02"), "error", err)
	report.FailedDays = append(report.FailedDays, FailedDay{Date: day, Message: err.Error()})
	if saveErr := c.jobs.SaveError(ctx, key, instanceID, err.Error()); saveErr != nil {
		return fmt.Errorf("recording day failure: %w", saveErr)
	}
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, key, instanceID string, report *BackfillReport) error {
	if err := c.ticks.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down tick store: %w", err)
	}

	status := domain.JobStatusCompleted
	if len(report.FailedDays) > 0 {
		status = domain.JobStatusFailed
	}
	if err := c.jobs.UpdateStatus(ctx, key, instanceID, status); err != nil {
		return fmt.Errorf("finalizing job status: %w", err)
	}
	return nil
}

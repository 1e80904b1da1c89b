package domain

import "time"

// DataGap is a maximal run of consecutive days within an expected range for
// which a symbol's archive holds no data.
type DataGap struct {
	Symbol string
	Range  DateRange
}

// DetectGaps walks expected day by day and returns one DataGap per maximal
// run of days absent from existingDates. existingDates holds the set of
// calendar days (formatted "2006-01-02", UTC) known to have at least one
// persisted record.
func DetectGaps(symbol string, expected DateRange, existingDates map[string]struct{}) []DataGap {
	var gaps []DataGap
	var gapStart time.Time
	inGap := false

	days := expected.SplitByDays()
	for _, d := range days {
		_, present := existingDates[d.Start.Format("2006-01-02")]
		switch {
		case present && inGap:
			gaps = append(gaps, DataGap{Symbol: symbol, Range: DateRange{Start: gapStart, End: d.Start.AddDate(0, 0, -1)}})
			inGap = false
		case !present && !inGap:
			gapStart = d.Start
			inGap = true
		}
	}
	if inGap {
		gaps = append(gaps, DataGap{Symbol: symbol, Range: DateRange{Start: gapStart, End: expected.End}})
	}
	return gaps
}

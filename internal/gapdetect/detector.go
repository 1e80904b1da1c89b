// Package gapdetect scans a symbol's on-disk tick archive and reports
// calendar-day gaps relative to an expected range.
package gapdetect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"ticksync/internal/domain"
)

// ErrInvalidDateRange is returned when the requested range is malformed.
var ErrInvalidDateRange = errors.New("invalid date range")

// Detector reports missing-day intervals for a symbol over a range.
type Detector interface {
	DetectGaps(ctx context.Context, symbol string, r domain.DateRange) ([]domain.DateRange, error)
}

// filenamePattern matches the tick archive's file naming convention:
// <symbol>_YYYYMMDD_HH.<ext>
var filenamePattern = regexp.MustCompile(`^([A-Za-z0-9.\-]+)_(\d{8})_(\d{2})\.\w+$`)

// FileDetector is the reference Detector implementation. It consults the
// tick archive directory for a symbol, treats a day as present if any file
// for that day carries at least one row, and delegates the actual gap
// computation to domain.DetectGaps.
type FileDetector struct {
	DataDir string
}

// NewFileDetector constructs a FileDetector rooted at dataDir.
func NewFileDetector(dataDir string) *FileDetector {
	return &FileDetector{DataDir: dataDir}
}

var _ Detector = (*FileDetector)(nil)

// DetectGaps implements Detector.
func (d *FileDetector) DetectGaps(ctx context.Context, symbol string, r domain.DateRange) ([]domain.DateRange, error) {
	if r.Start.After(r.End) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDateRange, r)
	}

	existing, err := d.presentDates(symbol)
	if err != nil {
		return nil, err
	}

	gaps := domain.DetectGaps(symbol, r, existing)
	out := make([]domain.DateRange, len(gaps))
	for i, g := range gaps {
		out[i] = g.Range
	}
	return out, nil
}

// presentDates returns the set of calendar days (formatted "2006-01-02")
// for which the archive holds at least one row for symbol. Days with a
// file present but zero rows are treated as absent. Any filename that does
// not match the archive's naming convention is ignored.
func (d *FileDetector) presentDates(symbol string) (map[string]struct{}, error) {
	dir := filepath.Join(d.DataDir, symbol)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("reading tick archive directory: %w", err)
	}

	dates := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != symbol {
			continue
		}

		rows, err := rowCount(filepath.Join(dir, e.Name()))
		if err != nil || rows == 0 {
			continue
		}

		ymd := m[2]
		year, _ := strconv.Atoi(ymd[0:4])
		month, _ := strconv.Atoi(ymd[4:6])
		day, _ := strconv.Atoi(ymd[6:8])
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		dates[t.Format("2006-01-02")] = struct{}{}
	}
	return dates, nil
}

// rowCount reports the number of rows a Parquet file carries, using the
// file's footer metadata rather than reading every row.
func rowCount(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return 0, err
	}
	return pf.NumRows(), nil
}

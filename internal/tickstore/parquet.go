// Package tickstore persists Tick records to a Parquet archive, rotating
// files by (symbol, hour) and merging repeated writes within the same hour
// so an interrupted-and-resumed backfill never produces duplicate rows.
package tickstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"ticksync/internal/domain"
)

// Store is the tick archive's write/read contract.
type Store interface {
	SaveBatch(ctx context.Context, ticks []domain.Tick) error
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// TickRecord is the Parquet on-disk schema for a tick.
type TickRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(microsecond)"`
	BidPrice  float64 `parquet:"bid_price"`
	BidSize   float64 `parquet:"bid_size"`
	AskPrice  float64 `parquet:"ask_price"`
	AskSize   float64 `parquet:"ask_size"`
	LastPrice float64 `parquet:"last_price"`
	LastSize  float64 `parquet:"last_size"`
}

// ParquetStore is the reference Store implementation.
type ParquetStore struct {
	DataDir string

	mu      sync.Mutex
	pending map[string][]TickRecord // path -> buffered records awaiting flush
}

// NewParquetStore creates a ParquetStore rooted at dataDir.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{
		DataDir: dataDir,
		pending: make(map[string][]TickRecord),
	}
}

var _ Store = (*ParquetStore)(nil)

// SaveBatch buffers ticks, grouped by (symbol, hour) file, for the next
// Flush. It never blocks on disk I/O itself beyond the in-memory append.
func (s *ParquetStore) SaveBatch(_ context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range ticks {
		path := s.tickPath(t.Symbol, t.Timestamp)
		s.pending[path] = append(s.pending[path], TickRecord{
			Symbol:    t.Symbol,
			Timestamp: t.Timestamp.UnixMicro(),
			BidPrice:  t.Bid.Price,
			BidSize:   t.Bid.Size,
			AskPrice:  t.Ask.Price,
			AskSize:   t.Ask.Size,
			LastPrice: t.Last.Price,
			LastSize:  t.Last.Size,
		})
	}
	return nil
}

// Flush merges every buffered file's records with what is already on disk
// and rewrites it, deduplicating by (symbol, timestamp).
func (s *ParquetStore) Flush(_ context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string][]TickRecord)
	s.mu.Unlock()

	for path, records := range pending {
		existing, _ := readParquetFile[TickRecord](path)
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks to %s: %w", path, err)
		}
	}
	return nil
}

// Shutdown flushes any remaining buffered writes. Callers must not use the
// store after Shutdown returns.
func (s *ParquetStore) Shutdown(ctx context.Context) error {
	return s.Flush(ctx)
}

// tickPath returns the archive path for symbol at the hour containing ts:
//
//	<DataDir>/<SYMBOL>/<SYMBOL>_YYYYMMDD_HH.parquet
func (s *ParquetStore) tickPath(symbol string, ts time.Time) string {
	u := ts.UTC()
	name := fmt.Sprintf("%s_%s_%02d.parquet", symbol, u.Format("20060102"), u.Hour())
	return filepath.Join(s.DataDir, symbol, name)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRecords deduplicates by (symbol, timestamp), preferring the
// incoming record on a collision, and sorts the result by timestamp.
func mergeTickRecords(existing, incoming []TickRecord) []TickRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]TickRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]TickRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// Package domain holds the core value types shared by the ingestion
// pipeline: ticks, calendar ranges, gaps, and durable job state.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTick is returned by NewTick when a field fails validation.
var ErrInvalidTick = errors.New("invalid tick")

// Quote is a single (price, size) observation.
type Quote struct {
	Price float64
	Size  float64
}

// Tick is an immutable market data point: a snapshot of bid, ask, and last
// trade for a symbol at a point in time. Timestamps are UTC, microsecond
// precision, matching the archive's on-disk resolution.
type Tick struct {
	Symbol    string
	Timestamp time.Time
	Bid       Quote
	Ask       Quote
	Last      Quote
}

// NewTick validates and constructs a Tick. Symbol must be non-empty and all
// three prices must be strictly positive.
func NewTick(symbol string, ts time.Time, bid, ask, last Quote) (Tick, error) {
	if symbol == "" {
		return Tick{}, fmt.Errorf("%w: empty symbol", ErrInvalidTick)
	}
	if bid.Price <= 0 {
		return Tick{}, fmt.Errorf("%w: non-positive bid price %v", ErrInvalidTick, bid.Price)
	}
	if ask.Price <= 0 {
		return Tick{}, fmt.Errorf("%w: non-positive ask price %v", ErrInvalidTick, ask.Price)
	}
	if last.Price <= 0 {
		return Tick{}, fmt.Errorf("%w: non-positive last price %v", ErrInvalidTick, last.Price)
	}
	return Tick{
		Symbol:    symbol,
		Timestamp: ts.UTC(),
		Bid:       bid,
		Ask:       ask,
		Last:      last,
	}, nil
}

// Package stats fetches and normalizes aggregate revenue data. Stats
// are best-effort telemetry: fetch failures are recovered locally and
// the previous snapshot stays in place.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// API is the slice of the backend surface the aggregator consumes.
type API interface {
	Stats(ctx context.Context) (json.RawMessage, error)
	AllReceipts(ctx context.Context) (json.RawMessage, error)
}

// Aggregator holds the latest successfully fetched snapshot and
// receipt listing.
type Aggregator struct {
	api API

	mu       sync.Mutex
	snapshot Snapshot
	receipts []Receipt
}

// NewAggregator creates an Aggregator with an empty snapshot.
func NewAggregator(backend API) *Aggregator {
	return &Aggregator{
		api:      backend,
		snapshot: Snapshot{Recent: []Activity{}},
		receipts: []Receipt{},
	}
}

// Refresh fetches the stats and listing resources independently. Each
// one replaces its previous value wholesale on success; on failure the
// previous value is retained and nothing is surfaced to the user.
func (a *Aggregator) Refresh(ctx context.Context) {
	if raw, err := a.api.Stats(ctx); err != nil {
		slog.Debug("stats fetch failed", "error", err)
	} else {
		snap := NormalizeSnapshot(raw)
		a.mu.Lock()
		a.snapshot = snap
		a.mu.Unlock()
	}

	if raw, err := a.api.AllReceipts(ctx); err != nil {
		slog.Debug("receipt list fetch failed", "error", err)
	} else {
		list := NormalizeList(raw)
		a.mu.Lock()
		a.receipts = list
		a.mu.Unlock()
	}
}

// Snapshot returns the latest aggregate view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

// Receipts returns the latest receipt listing.
func (a *Aggregator) Receipts() []Receipt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.receipts
}

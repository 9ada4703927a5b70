package coordinator

import (
	"context"
	"time"

	"log/slog"
)

const DefaultOrderTTL = 60 * time.Second

type ReaperStore interface {
	DeleteStaleOrders(ctx context.Context, instrument string, cutoff time.Time) (int64, error)
}

// Reaper deletes orders that can no longer be acted on: fully filled
// orders and resting orders older than the TTL. In a fast-quoting market
// stale liquidity expires quickly, so the TTL defaults to a minute.
// Reaping is a deletion, not a cancellation, and is idempotent.
type Reaper struct {
	store  ReaperStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewReaper(store ReaperStore, ttl time.Duration, logger *slog.Logger) *Reaper {
	if ttl <= 0 {
		ttl = DefaultOrderTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, ttl: ttl, logger: logger}
}

func (r *Reaper) TTL() time.Duration {
	return r.ttl
}

func (r *Reaper) Reap(ctx context.Context, instrument string) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.ttl)
	removed, err := r.store.DeleteStaleOrders(ctx, instrument, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Debug("reaped stale orders", "instrument", instrument, "removed", removed)
	}
	return removed, nil
}

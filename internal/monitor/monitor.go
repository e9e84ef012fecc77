package monitor

import (
	"context"
	"log/slog"
	"time"

	"livability/internal/cache"
	"livability/internal/history"
)

// Reporter periodically logs the state of the response cache and the
// selection history.
type Reporter struct {
	cache   *cache.Store
	history *history.Store
}

func New(c *cache.Store, h *history.Store) *Reporter {
	return &Reporter{cache: c, history: h}
}

// RunStatsLoop reports once, then every interval until ctx is done. A
// non-positive interval reports once and returns.
func (r *Reporter) RunStatsLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		slog.Warn("stats interval is not positive, reporting once", "interval", interval)
		r.report(ctx)
		return
	}

	slog.Info("stats reporter starting", "interval", interval)

	r.report(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stats reporter stopped")
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	start := time.Now()
	stats := r.cache.Stats()
	items := r.history.List(ctx)

	if stats.Capacity > 0 && stats.Size == stats.Capacity {
		slog.Warn("cache is at capacity, new entries evict the oldest", "capacity", stats.Capacity)
	}

	slog.Info("stats",
		"cache_size", stats.Size,
		"cache_capacity", stats.Capacity,
		"history_items", len(items),
		"duration", time.Since(start),
	)
}

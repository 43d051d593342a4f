// workers/rate_limit_purge_worker.go
package workers

import (
	"context"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/services"
	"go.uber.org/zap"
)

// RateLimitPurgeWorker trims expired rate-limit entries on a fixed interval.
// Entries inside an active window are never removed; the limiter's retention
// horizon guarantees that.
type RateLimitPurgeWorker struct {
	limiter  *services.RateLimiter
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewRateLimitPurgeWorker(limiter *services.RateLimiter, interval time.Duration, log *zap.SugaredLogger) *RateLimitPurgeWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &RateLimitPurgeWorker{limiter: limiter, interval: interval, log: log}
}

func (w *RateLimitPurgeWorker) Start(ctx context.Context) {
	w.log.Infow("starting rate-limit purge worker", "interval", w.interval)
	go w.run(ctx)
}

func (w *RateLimitPurgeWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			purged, err := w.limiter.PurgeExpired(ctx)
			if err != nil {
				w.log.Errorw("rate-limit purge failed", "error", err)
				continue
			}
			if purged > 0 {
				w.log.Infow("purged expired rate-limit entries", "count", purged)
			}
		case <-ctx.Done():
			w.log.Infow("rate-limit purge worker stopped")
			return
		}
	}
}

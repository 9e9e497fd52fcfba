package challenge

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer is anything the sweep can purge by expiry time. The challenge and
// blacklist repositories both qualify.
type Expirer interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper is the background garbage collector for expired records. Its
// cadence is a tunable, not a correctness requirement: expiry is enforced at
// verify-time regardless of when the sweep runs.
type Sweeper struct {
	targets []Expirer
	period  time.Duration
	logger  *zap.Logger
}

func NewSweeper(period time.Duration, logger *zap.Logger, targets ...Expirer) *Sweeper {
	return &Sweeper{targets: targets, period: period, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping once per period.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()
	for _, target := range s.targets {
		deleted, err := target.DeleteExpired(ctx, now)
		if err != nil {
			s.logger.Warn("sweep failed", zap.Error(err))
			continue
		}
		if deleted > 0 {
			s.logger.Debug("swept expired records", zap.Int64("deleted", deleted))
		}
	}
}

package access

import (
	"context"
	"time"

	"github.com/medvault/dlt-phr/pkg/logger"
)

// Sweeper periodically expires stale pending requests and lapsed grants
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *logger.Logger
}

// NewSweeper creates a new sweeper. A non-positive interval falls back to
// hourly.
func NewSweeper(service *Service, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		logger:   log,
	}
}

// Run sweeps on a ticker until the context is cancelled. It sweeps once
// immediately on start so restarts do not delay expiry by a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if err := s.service.Sweep(ctx); err != nil {
		s.logger.WithError(err).Error("Sweep failed")
	}
}

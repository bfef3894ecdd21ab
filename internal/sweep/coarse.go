// Package sweep runs the periodic expiration scans that feed wagers into the
// settlement engine: a coarse pass that freezes and dispatches everything
// past its deadline, and a fine pass that settles price-sensitive crypto
// wagers at the exact deadline.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/wagerforge/wagerd/internal/engine"
	"github.com/wagerforge/wagerd/internal/observability"
)

// ExpiryRunner runs one coarse expiry pass.
type ExpiryRunner interface {
	RunExpirySweep(ctx context.Context, limit int) (engine.SweepReport, error)
}

// CoarseSweeper drives the coarse expiration pass on a fixed interval. It
// tolerates per-pass failures: errors are logged and the next tick retries.
type CoarseSweeper struct {
	runner   ExpiryRunner
	interval time.Duration
	batch    int
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewCoarseSweeper creates a CoarseSweeper running every interval, handling
// at most batch frozen wagers per pass.
func NewCoarseSweeper(runner ExpiryRunner, interval time.Duration, batch int, metrics *observability.Metrics, logger *slog.Logger) *CoarseSweeper {
	return &CoarseSweeper{
		runner:   runner,
		interval: interval,
		batch:    batch,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "coarse_sweep")),
	}
}

// Name identifies the sweeper to the orchestrator.
func (s *CoarseSweeper) Name() string { return "coarse_sweep" }

// RunOnce executes a single coarse pass.
func (s *CoarseSweeper) RunOnce(ctx context.Context) (engine.SweepReport, error) {
	report, err := s.runner.RunExpirySweep(ctx, s.batch)
	if err != nil {
		return report, err
	}
	s.metrics.SweepRun("coarse")

	if report.Frozen > 0 || report.Resolved > 0 || report.Refunded > 0 || report.Failed > 0 {
		s.logger.InfoContext(ctx, "coarse sweep pass",
			slog.Int("frozen", report.Frozen),
			slog.Int("resolved", report.Resolved),
			slog.Int("refunded", report.Refunded),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// Run executes the sweep loop until the context is cancelled.
func (s *CoarseSweeper) Run(ctx context.Context) error {
	// Run immediately on start.
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.ErrorContext(ctx, "coarse sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "coarse sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "coarse sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

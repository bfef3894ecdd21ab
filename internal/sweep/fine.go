package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/engine"
	"github.com/wagerforge/wagerd/internal/observability"
)

// ClaimStore is the slice of the ledger the fine sweep needs: candidate
// listing plus the claim pair.
type ClaimStore interface {
	ListExpiringCrypto(ctx context.Context, from, to time.Time) ([]domain.Wager, error)
	ClaimProcessing(ctx context.Context, id string) (bool, error)
	ReleaseProcessing(ctx context.Context, id string) error
}

// ClaimedResolver settles a wager whose processing claim is already held.
type ClaimedResolver interface {
	ResolveClaimed(ctx context.Context, w domain.Wager) (engine.SettleResult, error)
}

// FineSweeper settles active crypto wagers at their exact deadline. A coarse
// cadence is too imprecise for price-sensitive settlement, so this pass scans
// a small window around now every second, claims each candidate, waits out
// the remaining time to the deadline, and only then fetches the price.
//
// The distributed lock is a cheap first filter against sibling workers; the
// store-level claim remains the authoritative arbiter.
type FineSweeper struct {
	wagers   ClaimStore
	resolver ClaimedResolver
	locks    domain.LockManager
	interval time.Duration
	window   time.Duration
	lockTTL  time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
	clock    func() time.Time
}

// NewFineSweeper creates a FineSweeper scanning every interval with the given
// candidate window on both sides of now.
func NewFineSweeper(wagers ClaimStore, resolver ClaimedResolver, locks domain.LockManager, interval, window time.Duration, metrics *observability.Metrics, logger *slog.Logger) *FineSweeper {
	return &FineSweeper{
		wagers:   wagers,
		resolver: resolver,
		locks:    locks,
		interval: interval,
		window:   window,
		lockTTL:  window + 30*time.Second,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "fine_sweep")),
		clock:    time.Now,
	}
}

// Name identifies the sweeper to the orchestrator.
func (s *FineSweeper) Name() string { return "fine_sweep" }

// RunOnce scans the deadline window once and settles every candidate it can
// claim. It blocks until all spawned settlements finish, which is bounded by
// the window size.
func (s *FineSweeper) RunOnce(ctx context.Context) error {
	now := s.clock()
	candidates, err := s.wagers.ListExpiringCrypto(ctx, now.Add(-s.window), now.Add(s.window))
	if err != nil {
		return err
	}
	s.metrics.SweepRun("fine")

	var wg sync.WaitGroup
	for _, w := range candidates {
		wg.Add(1)
		go func(w domain.Wager) {
			defer wg.Done()
			s.settle(ctx, w)
		}(w)
	}
	wg.Wait()
	return nil
}

// settle claims one candidate, aligns with its deadline, and resolves it.
func (s *FineSweeper) settle(ctx context.Context, w domain.Wager) {
	unlock, err := s.locks.Acquire(ctx, w.ID, s.lockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			s.logger.WarnContext(ctx, "lock acquire failed",
				slog.String("wager_id", w.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer unlock()

	ok, err := s.wagers.ClaimProcessing(ctx, w.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "claim failed",
			slog.String("wager_id", w.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		s.metrics.ClaimConflict()
		return
	}

	// Suspend until the exact deadline so the decision price is fetched as
	// close to it as possible.
	if wait := w.Deadline.Sub(s.clock()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if err := s.wagers.ReleaseProcessing(context.WithoutCancel(ctx), w.ID); err != nil {
				s.logger.ErrorContext(ctx, "claim release on shutdown failed",
					slog.String("wager_id", w.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		case <-timer.C:
		}
	}

	res, err := s.resolver.ResolveClaimed(ctx, w)
	if err != nil {
		s.logger.ErrorContext(ctx, "deadline settlement failed",
			slog.String("wager_id", w.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(ctx, "settled at deadline",
		slog.String("wager_id", w.ID),
		slog.String("winner_id", res.WinnerID),
		slog.String("value", res.ResolutionValue),
		slog.Bool("simulated", res.Simulated),
	)
}

// Run executes the sweep loop until the context is cancelled.
func (s *FineSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "fine sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "fine sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

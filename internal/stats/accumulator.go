// Package stats maintains per-user running wager aggregates: total amounts
// wagered, won and lost, win rate, and current win streak.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
)

// Accumulator applies settlement outcomes to user aggregates. Acceptance
// (both sides staked, no winner yet) and settlement (winner determined) are
// distinct events: acceptance only touches total_wagered.
type Accumulator struct {
	store  domain.UserStatsStore
	clock  func() time.Time
	logger *slog.Logger
}

// NewAccumulator creates an Accumulator backed by the given store.
func NewAccumulator(store domain.UserStatsStore, logger *slog.Logger) *Accumulator {
	return &Accumulator{
		store:  store,
		clock:  time.Now,
		logger: logger.With(slog.String("component", "stats")),
	}
}

// RecordAcceptance bumps total_wagered for both parties when a wager is
// matched. Streaks and win rate are untouched.
func (a *Accumulator) RecordAcceptance(ctx context.Context, creatorWallet, acceptorWallet string, amount float64) error {
	for _, wallet := range []string{creatorWallet, acceptorWallet} {
		if err := a.apply(ctx, wallet, func(s *domain.UserStats) {
			s.TotalWagered += amount
		}); err != nil {
			return fmt.Errorf("stats: record acceptance for %s: %w", wallet, err)
		}
	}
	return nil
}

// RecordSettlement applies a decided outcome: the winner's total_won grows by
// the stake and their streak increments; the loser's total_lost grows and
// their streak resets. Win rates are recomputed for both.
func (a *Accumulator) RecordSettlement(ctx context.Context, winnerWallet, loserWallet string, amount float64) error {
	if err := a.apply(ctx, winnerWallet, func(s *domain.UserStats) {
		s.TotalWon += amount
		s.Streak++
		s.WinRate = winRate(s.TotalWon, s.TotalLost)
	}); err != nil {
		return fmt.Errorf("stats: record win for %s: %w", winnerWallet, err)
	}

	if err := a.apply(ctx, loserWallet, func(s *domain.UserStats) {
		s.TotalLost += amount
		s.Streak = 0
		s.WinRate = winRate(s.TotalWon, s.TotalLost)
	}); err != nil {
		return fmt.Errorf("stats: record loss for %s: %w", loserWallet, err)
	}

	a.logger.DebugContext(ctx, "settlement recorded",
		slog.String("winner", winnerWallet),
		slog.String("loser", loserWallet),
		slog.Float64("amount", amount),
	)
	return nil
}

// apply reads the wallet's aggregates, mutates them, and writes them back.
// A missing record starts from zeroes.
func (a *Accumulator) apply(ctx context.Context, wallet string, mutate func(*domain.UserStats)) error {
	s, err := a.store.Get(ctx, wallet)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s = domain.UserStats{WalletAddress: wallet}
	}

	mutate(&s)
	s.UpdatedAt = a.clock()

	return a.store.Upsert(ctx, s)
}

// winRate is total_won over everything decided, as a percentage. Zero when
// nothing has been decided yet.
func winRate(won, lost float64) float64 {
	decided := won + lost
	if decided == 0 {
		return 0
	}
	return won / decided * 100
}

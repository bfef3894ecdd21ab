package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/fees"
)

// SettleResult reports the outcome of one settlement path. NoOp is true when
// the wager was already terminal and nothing was executed.
type SettleResult struct {
	WagerID         string
	NoOp            bool
	Outcome         fees.OutcomeKind
	WinnerID        string
	WinnerPosition  string
	ResolutionValue string
	IsDraw          bool
	Ref             string
	Simulated       bool
	Breakdown       fees.Breakdown
}

func noOpResult(w domain.Wager) SettleResult {
	return SettleResult{
		WagerID:         w.ID,
		NoOp:            true,
		WinnerID:        w.WinnerID,
		WinnerPosition:  w.WinnerPosition,
		ResolutionValue: w.ResolutionValue,
		IsDraw:          w.IsDraw,
		Ref:             w.SettlementRef,
		Simulated:       w.Simulated,
	}
}

// ResolveWager determines the outcome of an active wager and settles it.
// Repeated calls on an already-terminal wager return a no-op result without a
// second executor call. Request-driven resolution does not enforce the
// deadline: an early manual resolve trusts the caller.
//
// kind, when non-empty, restricts which wager kind the identifier may match.
func (e *Engine) ResolveWager(ctx context.Context, wagerID string, kind domain.WagerKind) (SettleResult, error) {
	w, err := e.wagers.GetByID(ctx, wagerID)
	if err != nil {
		return SettleResult{}, err
	}
	if kind != "" && w.Kind != kind {
		return SettleResult{}, fmt.Errorf("%w: no %s wager %s", domain.ErrNotFound, kind, wagerID)
	}
	if w.Terminal() {
		return noOpResult(w), nil
	}
	if w.Status != domain.WagerStatusActive {
		return SettleResult{}, fmt.Errorf("%w: wager %s is %s", domain.ErrInvalidState, wagerID, w.Status)
	}

	ok, err := e.wagers.ClaimProcessing(ctx, w.ID)
	if err != nil {
		return SettleResult{}, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		e.metrics.ClaimConflict()
		return SettleResult{}, fmt.Errorf("%w: wager %s claimed by another processor", domain.ErrAlreadyProcessed, wagerID)
	}

	return e.settleClaimed(ctx, w)
}

// ResolveClaimed settles a wager whose processing claim the caller already
// holds. Used by the fine sweep, which claims before waiting out the deadline.
func (e *Engine) ResolveClaimed(ctx context.Context, w domain.Wager) (SettleResult, error) {
	return e.settleClaimed(ctx, w)
}

// settleClaimed runs outcome determination and payout for a claimed wager.
// Feed and executor failures release the claim so the next sweep retries; a
// store failure after a successful executor call keeps the claim held, which
// blocks a second executor call at the cost of manual intervention.
func (e *Engine) settleClaimed(ctx context.Context, w domain.Wager) (SettleResult, error) {
	started := e.clock()

	var (
		creatorWins     bool
		resolutionValue string
	)

	switch w.Kind {
	case domain.WagerKindCrypto:
		price, err := e.quotes.PriceOf(ctx, w.TokenSymbol)
		if err != nil {
			e.metrics.FeedError()
			e.release(ctx, w.ID)
			return SettleResult{}, err
		}
		switch w.Direction {
		case domain.DirectionAbove:
			creatorWins = price >= w.TargetPrice
		case domain.DirectionBelow:
			creatorWins = price <= w.TargetPrice
		}
		resolutionValue = strconv.FormatFloat(price, 'f', -1, 64)

	case domain.WagerKindSports:
		result, err := e.results.ResultOf(ctx, w.Sport, w.HomeTeam, w.AwayTeam)
		if err != nil {
			e.metrics.FeedError()
			e.release(ctx, w.ID)
			return SettleResult{}, err
		}
		if result == domain.ResultDraw {
			return e.settleDraw(ctx, w, started)
		}
		creatorWins = strings.EqualFold(result, w.CreatorPosition)
		resolutionValue = result

	default:
		e.release(ctx, w.ID)
		return SettleResult{}, fmt.Errorf("%w: unknown wager kind %q", domain.ErrInvalidState, w.Kind)
	}

	return e.settleWin(ctx, w, creatorWins, resolutionValue, started)
}

func (e *Engine) settleWin(ctx context.Context, w domain.Wager, creatorWins bool, resolutionValue string, started time.Time) (SettleResult, error) {
	winnerID, winnerAddress, winnerPosition := w.CreatorID, w.CreatorAddress, w.CreatorPosition
	loserAddress := w.AcceptorAddress
	if !creatorWins {
		winnerID, winnerAddress, winnerPosition = w.AcceptorID, w.AcceptorAddress, w.OpponentPosition
		loserAddress = w.CreatorAddress
	}

	breakdown := e.fees.Settlement(w.Amount, fees.OutcomeWin)
	e.logger.InfoContext(ctx, "settling wager",
		slog.String("wager_id", w.ID),
		slog.String("winner_id", winnerID),
		slog.String("value", resolutionValue),
		slog.Float64("payout", breakdown.WinnerPayout),
		slog.Float64("platform_fee", breakdown.PlatformFee),
	)

	res, err := e.executor.Execute(ctx, domain.ResolveInstruction{
		WagerID:        w.ID,
		Escrow:         w.EscrowAddress,
		Winner:         winnerAddress,
		WinnerPosition: winnerPosition,
		Payout:         breakdown.WinnerPayout,
		PlatformFee:    breakdown.PlatformFee,
	})
	if err != nil {
		e.metrics.ExecutorError()
		e.release(ctx, w.ID)
		return SettleResult{}, err
	}

	rec := domain.SettlementRecord{
		WagerID:         w.ID,
		WinnerID:        winnerID,
		WinnerPosition:  winnerPosition,
		ResolutionValue: resolutionValue,
		SettlementRef:   res.Ref,
		Simulated:       res.Simulated,
		Payout:          breakdown.WinnerPayout,
		PlatformFee:     breakdown.PlatformFee,
		NetworkFee:      breakdown.NetworkFee,
		ResolvedAt:      e.clock().UTC(),
	}
	if err := e.writeResolved(ctx, rec); err != nil {
		return SettleResult{}, err
	}

	if err := e.stats.RecordSettlement(ctx, winnerAddress, loserAddress, w.Amount); err != nil {
		e.logger.ErrorContext(ctx, "settlement stats failed",
			slog.String("wager_id", w.ID),
			slog.String("error", err.Error()),
		)
	}

	msg := fmt.Sprintf("Wager %s resolved: %s won %.4f", w.ID, winnerPosition, breakdown.WinnerPayout)
	payload := map[string]any{
		"wager_id": w.ID,
		"winner":   winnerID,
		"value":    resolutionValue,
		"payout":   breakdown.WinnerPayout,
	}
	e.recorder.Record(ctx, w.CreatorAddress, domain.NotificationWagerResolved, msg, payload)
	e.recorder.Record(ctx, w.AcceptorAddress, domain.NotificationWagerResolved, msg, payload)
	if err := e.notifier.Notify(ctx, "wager_resolved", "Wager resolved", msg); err != nil {
		e.logger.WarnContext(ctx, "operator notification failed", slog.String("error", err.Error()))
	}
	e.publish(ctx, "resolved", w.ID, map[string]any{
		"winner_id": winnerID,
		"value":     resolutionValue,
		"ref":       res.Ref,
		"simulated": res.Simulated,
	})
	e.metrics.SettlementRecorded(fees.OutcomeWin.String(), started)

	return SettleResult{
		WagerID:         w.ID,
		Outcome:         fees.OutcomeWin,
		WinnerID:        winnerID,
		WinnerPosition:  winnerPosition,
		ResolutionValue: resolutionValue,
		Ref:             res.Ref,
		Simulated:       res.Simulated,
		Breakdown:       breakdown,
	}, nil
}

func (e *Engine) settleDraw(ctx context.Context, w domain.Wager, started time.Time) (SettleResult, error) {
	breakdown := e.fees.Settlement(w.Amount, fees.OutcomeDraw)
	e.logger.InfoContext(ctx, "settling draw",
		slog.String("wager_id", w.ID),
		slog.Float64("refund_each", breakdown.PerSideRefund),
	)

	res, err := e.executor.Execute(ctx, domain.DrawInstruction{
		WagerID:    w.ID,
		Escrow:     w.EscrowAddress,
		Creator:    w.CreatorAddress,
		Acceptor:   w.AcceptorAddress,
		AmountEach: breakdown.PerSideRefund,
	})
	if err != nil {
		e.metrics.ExecutorError()
		e.release(ctx, w.ID)
		return SettleResult{}, err
	}

	rec := domain.SettlementRecord{
		WagerID:         w.ID,
		ResolutionValue: domain.ResultDraw,
		IsDraw:          true,
		SettlementRef:   res.Ref,
		Simulated:       res.Simulated,
		Payout:          breakdown.PerSideRefund,
		NetworkFee:      breakdown.NetworkFee,
		ResolvedAt:      e.clock().UTC(),
	}
	if err := e.writeResolved(ctx, rec); err != nil {
		return SettleResult{}, err
	}

	// Draws touch no win/loss aggregates or streaks.
	msg := fmt.Sprintf("Wager %s ended in a draw; both sides refunded %.4f", w.ID, breakdown.PerSideRefund)
	payload := map[string]any{"wager_id": w.ID, "refund": breakdown.PerSideRefund}
	e.recorder.Record(ctx, w.CreatorAddress, domain.NotificationWagerDraw, msg, payload)
	e.recorder.Record(ctx, w.AcceptorAddress, domain.NotificationWagerDraw, msg, payload)
	if err := e.notifier.Notify(ctx, "wager_resolved", "Wager drawn", msg); err != nil {
		e.logger.WarnContext(ctx, "operator notification failed", slog.String("error", err.Error()))
	}
	e.publish(ctx, "resolved", w.ID, map[string]any{
		"is_draw":   true,
		"ref":       res.Ref,
		"simulated": res.Simulated,
	})
	e.metrics.SettlementRecorded(fees.OutcomeDraw.String(), started)

	return SettleResult{
		WagerID:         w.ID,
		Outcome:         fees.OutcomeDraw,
		ResolutionValue: domain.ResultDraw,
		IsDraw:          true,
		Ref:             res.Ref,
		Simulated:       res.Simulated,
		Breakdown:       breakdown,
	}, nil
}

// writeResolved applies the terminal settlement write. The claim is NOT
// released on failure: the executor has already moved funds, and a second
// executor call would be worse than a stuck claim.
func (e *Engine) writeResolved(ctx context.Context, rec domain.SettlementRecord) error {
	ok, err := e.wagers.MarkResolved(ctx, rec)
	if err != nil {
		e.logger.ErrorContext(ctx, "terminal write failed after executor success",
			slog.String("wager_id", rec.WagerID),
			slog.String("ref", rec.SettlementRef),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		e.logger.ErrorContext(ctx, "terminal write no-oped under held claim",
			slog.String("wager_id", rec.WagerID),
			slog.String("ref", rec.SettlementRef),
		)
		return fmt.Errorf("%w: resolution claim lost for %s", domain.ErrStore, rec.WagerID)
	}
	return nil
}

// release drops a processing claim after a retryable failure; a failed
// release only delays the retry until an operator clears the claim.
func (e *Engine) release(ctx context.Context, wagerID string) {
	if err := e.wagers.ReleaseProcessing(ctx, wagerID); err != nil {
		e.logger.ErrorContext(ctx, "claim release failed",
			slog.String("wager_id", wagerID),
			slog.String("error", err.Error()),
		)
	}
}

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/fees"
)

// HandleExpired settles one wager past its deadline: matched wagers run full
// outcome resolution, unmatched ones are refunded to the creator. Already
// frozen (cancelled) wagers are accepted regardless of the clock so the
// dispatch pass can drive them. Idempotent on terminal wagers.
func (e *Engine) HandleExpired(ctx context.Context, wagerID string, kind domain.WagerKind) (SettleResult, error) {
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
	if w.Status != domain.WagerStatusCancelled && !w.PastDeadline(e.clock()) {
		return SettleResult{}, fmt.Errorf("%w: wager %s has not expired", domain.ErrInvalidState, wagerID)
	}

	ok, err := e.wagers.ClaimProcessing(ctx, w.ID)
	if err != nil {
		return SettleResult{}, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		e.metrics.ClaimConflict()
		return SettleResult{}, fmt.Errorf("%w: wager %s claimed by another processor", domain.ErrAlreadyProcessed, wagerID)
	}

	// The stored cancelled/expired label is only a freeze marker: a wager
	// matched before its deadline still gets a real resolution.
	if w.Matched() {
		return e.settleClaimed(ctx, w)
	}
	return e.refundClaimed(ctx, w)
}

// refundClaimed returns an unmatched wager's stake to the creator, minus the
// network-fee share.
func (e *Engine) refundClaimed(ctx context.Context, w domain.Wager) (SettleResult, error) {
	started := e.clock()

	outcome := fees.OutcomeExpire
	if _, manual := w.Meta["cancelled_by"]; manual {
		outcome = fees.OutcomeCancel
	}
	breakdown := e.fees.Settlement(w.Amount, outcome)

	e.logger.InfoContext(ctx, "refunding wager",
		slog.String("wager_id", w.ID),
		slog.String("outcome", outcome.String()),
		slog.Float64("refund", breakdown.PerSideRefund),
	)

	res, err := e.executor.Execute(ctx, domain.RefundInstruction{
		WagerID: w.ID,
		Escrow:  w.EscrowAddress,
		Creator: w.CreatorAddress,
		Amount:  breakdown.PerSideRefund,
	})
	if err != nil {
		e.metrics.ExecutorError()
		e.release(ctx, w.ID)
		return SettleResult{}, err
	}

	ok, err := e.wagers.MarkRefunded(ctx, w.ID, res.Ref, res.Simulated)
	if err != nil {
		// Same stance as writeResolved: funds moved, keep the claim.
		e.logger.ErrorContext(ctx, "refund write failed after executor success",
			slog.String("wager_id", w.ID),
			slog.String("ref", res.Ref),
			slog.String("error", err.Error()),
		)
		return SettleResult{}, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		return SettleResult{}, fmt.Errorf("%w: refund claim lost for %s", domain.ErrStore, w.ID)
	}

	typ := domain.NotificationWagerExpired
	if outcome == fees.OutcomeCancel {
		typ = domain.NotificationWagerRefunded
	}
	e.recorder.Record(ctx, w.CreatorAddress, typ,
		fmt.Sprintf("Wager %s refunded %.4f", w.ID, breakdown.PerSideRefund),
		map[string]any{"wager_id": w.ID, "refund": breakdown.PerSideRefund})
	e.publish(ctx, "refunded", w.ID, map[string]any{
		"outcome":   outcome.String(),
		"ref":       res.Ref,
		"simulated": res.Simulated,
	})
	e.metrics.SettlementRecorded(outcome.String(), started)

	return SettleResult{
		WagerID:   w.ID,
		Outcome:   outcome,
		Ref:       res.Ref,
		Simulated: res.Simulated,
		Breakdown: breakdown,
	}, nil
}

// SweepReport summarizes one coarse-sweep pass.
type SweepReport struct {
	Frozen   int
	Resolved int
	Refunded int
	Failed   int
}

// RunExpirySweep is the coarse pass: bulk-freeze live wagers past the
// deadline, then dispatch every frozen-unprocessed wager to resolution or
// refund. Operational failures on individual wagers are logged and counted;
// the affected wager stays eligible for the next cycle.
func (e *Engine) RunExpirySweep(ctx context.Context, limit int) (SweepReport, error) {
	var report SweepReport

	frozen, err := e.wagers.FreezeExpired(ctx, e.clock())
	if err != nil {
		return report, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	report.Frozen = len(frozen)
	for _, w := range frozen {
		e.logger.InfoContext(ctx, "wager frozen",
			slog.String("wager_id", w.ID),
			slog.Bool("matched", w.Matched()),
		)
	}

	pending, err := e.wagers.ListFrozenUnprocessed(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}

	for _, w := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		res, err := e.HandleExpired(ctx, w.ID, "")
		switch {
		case err != nil:
			report.Failed++
			e.logger.ErrorContext(ctx, "expiry dispatch failed",
				slog.String("wager_id", w.ID),
				slog.String("error", err.Error()),
			)
		case res.NoOp:
		case res.Outcome == fees.OutcomeWin || res.Outcome == fees.OutcomeDraw:
			report.Resolved++
		default:
			report.Refunded++
		}
	}

	return report, nil
}

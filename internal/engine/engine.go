// Package engine implements the wager lifecycle state machine and the
// settlement reconciliation logic between the on-chain escrow and the
// off-chain ledger.
//
// Every operation that changes a wager's authoritative status goes through a
// conditional store write; the engine holds no in-process locks. Within one
// settlement the executor call always completes before the terminal store
// write, and a wager is never marked resolved unless the executor reported
// success.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/fees"
	"github.com/wagerforge/wagerd/internal/notify"
	"github.com/wagerforge/wagerd/internal/observability"
	"github.com/wagerforge/wagerd/internal/stats"
)

// EventChannel is the signal bus channel settlement events are published on.
const EventChannel = "wager:events"

// Deps bundles the collaborators the engine needs. Recorder, Notifier,
// Signals and Metrics may be nil; those side effects are then skipped.
type Deps struct {
	Wagers   domain.WagerStore
	Users    domain.UserStore
	Stats    *stats.Accumulator
	Executor domain.SettlementExecutor
	Quotes   domain.QuoteSource
	Results  domain.ResultSource
	Fees     fees.Calculator
	Recorder *notify.Recorder
	Notifier *notify.Notifier
	Signals  domain.SignalBus
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Engine orchestrates wager settlement: claim exclusive processing, determine
// the outcome, invoke the executor, reconcile the store, then fire stats and
// notification side effects.
type Engine struct {
	wagers   domain.WagerStore
	users    domain.UserStore
	stats    *stats.Accumulator
	executor domain.SettlementExecutor
	quotes   domain.QuoteSource
	results  domain.ResultSource
	fees     fees.Calculator
	recorder *notify.Recorder
	notifier *notify.Notifier
	signals  domain.SignalBus
	metrics  *observability.Metrics
	logger   *slog.Logger
	clock    func() time.Time
}

// New creates an Engine from its dependency bundle.
func New(d Deps) *Engine {
	return &Engine{
		wagers:   d.Wagers,
		users:    d.Users,
		stats:    d.Stats,
		executor: d.Executor,
		quotes:   d.Quotes,
		results:  d.Results,
		fees:     d.Fees,
		recorder: d.Recorder,
		notifier: d.Notifier,
		signals:  d.Signals,
		metrics:  d.Metrics,
		logger:   d.Logger.With(slog.String("component", "engine")),
		clock:    time.Now,
	}
}

// CreateWagerInput carries the validated creation parameters for one wager.
type CreateWagerInput struct {
	Kind           domain.WagerKind
	CreatorID      string
	CreatorAddress string
	Amount         float64
	EscrowAddress  string
	Deadline       time.Time

	// Crypto payload.
	TokenSymbol string
	Direction   string
	TargetPrice float64

	// Sports payload. PredictedTeam is the creator's pick and must be one
	// of the two teams.
	Sport         string
	HomeTeam      string
	AwayTeam      string
	PredictedTeam string
}

func (in CreateWagerInput) validate(now time.Time) error {
	if in.CreatorID == "" {
		return fmt.Errorf("creator_id is required")
	}
	if in.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if in.Deadline.IsZero() || !in.Deadline.After(now) {
		return fmt.Errorf("deadline must be in the future")
	}

	switch in.Kind {
	case domain.WagerKindCrypto:
		if in.TokenSymbol == "" {
			return fmt.Errorf("token_symbol is required")
		}
		if in.Direction != domain.DirectionAbove && in.Direction != domain.DirectionBelow {
			return fmt.Errorf("direction must be %q or %q", domain.DirectionAbove, domain.DirectionBelow)
		}
		if in.TargetPrice <= 0 {
			return fmt.Errorf("target_price must be positive")
		}
	case domain.WagerKindSports:
		if in.Sport == "" || in.HomeTeam == "" || in.AwayTeam == "" {
			return fmt.Errorf("sport, home_team and away_team are required")
		}
		if in.PredictedTeam != in.HomeTeam && in.PredictedTeam != in.AwayTeam {
			return fmt.Errorf("predicted_team must be one of the two teams")
		}
	default:
		return fmt.Errorf("unknown wager kind %q", in.Kind)
	}
	return nil
}

// CreateWager mints a new open wager. The external wager identifier is
// assigned here and never changes afterwards.
func (e *Engine) CreateWager(ctx context.Context, in CreateWagerInput) (domain.Wager, error) {
	if err := in.validate(e.clock()); err != nil {
		return domain.Wager{}, err
	}

	w := domain.Wager{
		ID:             uuid.NewString(),
		Kind:           in.Kind,
		CreatorID:      in.CreatorID,
		CreatorAddress: in.CreatorAddress,
		Amount:         in.Amount,
		Status:         domain.WagerStatusOpen,
		EscrowAddress:  in.EscrowAddress,
		TokenSymbol:    strings.ToUpper(in.TokenSymbol),
		Direction:      in.Direction,
		TargetPrice:    in.TargetPrice,
		Sport:          in.Sport,
		HomeTeam:       in.HomeTeam,
		AwayTeam:       in.AwayTeam,
		Deadline:       in.Deadline.UTC(),
	}
	switch in.Kind {
	case domain.WagerKindCrypto:
		w.CreatorPosition = in.Direction
	case domain.WagerKindSports:
		w.CreatorPosition = in.PredictedTeam
	}

	created, err := e.wagers.Create(ctx, w)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}

	e.logger.InfoContext(ctx, "wager created",
		slog.String("wager_id", created.ID),
		slog.String("kind", string(created.Kind)),
		slog.Float64("amount", created.Amount),
		slog.Time("deadline", created.Deadline),
	)
	e.publish(ctx, "created", created.ID, map[string]any{
		"kind":   string(created.Kind),
		"amount": created.Amount,
	})
	return created, nil
}

// AcceptResult reports a completed acceptance.
type AcceptResult struct {
	WagerID   string
	Status    domain.WagerStatus
	Ref       string
	Simulated bool
}

// AcceptWager matches an open wager with an acceptor: the acceptor's stake is
// transferred into escrow first, then the store flips open -> active. The
// executor call happening before the store write means a failed chain call
// leaves the wager untouched.
func (e *Engine) AcceptWager(ctx context.Context, wagerID, acceptorID string) (AcceptResult, error) {
	w, err := e.wagers.GetByID(ctx, wagerID)
	if err != nil {
		return AcceptResult{}, err
	}
	if w.Status != domain.WagerStatusOpen {
		return AcceptResult{}, fmt.Errorf("%w: wager %s is %s", domain.ErrInvalidState, wagerID, w.Status)
	}

	acceptor, err := e.users.GetByID(ctx, acceptorID)
	if err != nil {
		return AcceptResult{}, err
	}
	if acceptorID == w.CreatorID || (acceptor.WalletAddress != "" && acceptor.WalletAddress == w.CreatorAddress) {
		return AcceptResult{}, fmt.Errorf("%w: acceptor is the creator", domain.ErrInvalidParticipant)
	}

	res, err := e.executor.Execute(ctx, domain.AcceptInstruction{
		WagerID:  w.ID,
		Escrow:   w.EscrowAddress,
		Acceptor: acceptor.WalletAddress,
		Amount:   w.Amount,
	})
	if err != nil {
		e.metrics.ExecutorError()
		return AcceptResult{}, err
	}

	ok, err := e.wagers.MarkActive(ctx, w.ID, acceptorID, acceptor.WalletAddress, w.ComplementPosition(), res.Ref, res.Simulated)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		// Another acceptor won the race between our read and the write.
		return AcceptResult{}, fmt.Errorf("%w: wager %s no longer open", domain.ErrInvalidState, wagerID)
	}

	if err := e.stats.RecordAcceptance(ctx, w.CreatorAddress, acceptor.WalletAddress, w.Amount); err != nil {
		e.logger.ErrorContext(ctx, "acceptance stats failed",
			slog.String("wager_id", w.ID),
			slog.String("error", err.Error()),
		)
	}

	msg := fmt.Sprintf("Wager %s accepted for %.4f per side", w.ID, w.Amount)
	payload := map[string]any{"wager_id": w.ID, "amount": w.Amount}
	e.recorder.Record(ctx, w.CreatorAddress, domain.NotificationWagerAccepted, msg, payload)
	e.recorder.Record(ctx, acceptor.WalletAddress, domain.NotificationWagerAccepted, msg, payload)
	if err := e.notifier.Notify(ctx, "wager_accepted", "Wager accepted", msg); err != nil {
		e.logger.WarnContext(ctx, "operator notification failed", slog.String("error", err.Error()))
	}
	e.publish(ctx, "accepted", w.ID, map[string]any{
		"acceptor_id": acceptorID,
		"ref":         res.Ref,
		"simulated":   res.Simulated,
	})

	e.logger.InfoContext(ctx, "wager accepted",
		slog.String("wager_id", w.ID),
		slog.String("acceptor_id", acceptorID),
		slog.String("ref", res.Ref),
		slog.Bool("simulated", res.Simulated),
	)

	return AcceptResult{
		WagerID:   w.ID,
		Status:    domain.WagerStatusActive,
		Ref:       res.Ref,
		Simulated: res.Simulated,
	}, nil
}

// CancelWager freezes an open wager on the creator's request. The on-chain
// refund is deferred to the refund sweep so the caller gets a fast
// acknowledgment; repeating the call on an already-cancelled wager is a
// no-op.
func (e *Engine) CancelWager(ctx context.Context, wagerID, requesterAddress string) error {
	w, err := e.wagers.GetByID(ctx, wagerID)
	if err != nil {
		return err
	}

	switch w.Status {
	case domain.WagerStatusCancelled:
		return nil
	case domain.WagerStatusOpen:
	default:
		return fmt.Errorf("%w: wager %s is %s", domain.ErrInvalidState, wagerID, w.Status)
	}

	creatorAddress := w.CreatorAddress
	if creatorAddress == "" {
		// Older records carry only the creator identity.
		creator, err := e.users.GetByID(ctx, w.CreatorID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		creatorAddress = creator.WalletAddress
	}
	if requesterAddress == "" || !strings.EqualFold(requesterAddress, creatorAddress) {
		return fmt.Errorf("%w: only the creator may cancel", domain.ErrInvalidParticipant)
	}

	ok, err := e.wagers.MarkCancelled(ctx, w.ID, requesterAddress, e.clock())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		// Lost a race; re-read to distinguish "already cancelled" from a
		// real state conflict.
		cur, err := e.wagers.GetByID(ctx, wagerID)
		if err != nil {
			return err
		}
		if cur.Status == domain.WagerStatusCancelled {
			return nil
		}
		return fmt.Errorf("%w: wager %s is %s", domain.ErrInvalidState, wagerID, cur.Status)
	}

	e.recorder.Record(ctx, creatorAddress, domain.NotificationWagerCancelled,
		fmt.Sprintf("Wager %s cancelled; refund will follow", w.ID),
		map[string]any{"wager_id": w.ID})
	e.publish(ctx, "cancelled", w.ID, nil)

	e.logger.InfoContext(ctx, "wager cancelled",
		slog.String("wager_id", w.ID),
		slog.String("cancelled_by", requesterAddress),
	)
	return nil
}

// MarkRefundProcessed sets the refund idempotency flag for refund flows
// driven outside the worker. Returns ErrAlreadyProcessed when the flag was
// already set.
func (e *Engine) MarkRefundProcessed(ctx context.Context, wagerID, refundRef string) error {
	if _, err := e.wagers.GetByID(ctx, wagerID); err != nil {
		return err
	}

	ok, err := e.wagers.SetRefundProcessed(ctx, wagerID, refundRef)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		return fmt.Errorf("%w: refund already recorded for %s", domain.ErrAlreadyProcessed, wagerID)
	}

	e.logger.InfoContext(ctx, "refund marked processed",
		slog.String("wager_id", wagerID),
		slog.String("refund_ref", refundRef),
	)
	return nil
}

// publish emits a settlement event on the signal bus. Best-effort: failures
// are logged, never propagated.
func (e *Engine) publish(ctx context.Context, event, wagerID string, extra map[string]any) {
	if e.signals == nil {
		return
	}

	body := map[string]any{
		"event":    event,
		"wager_id": wagerID,
		"at":       e.clock().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := e.signals.Publish(ctx, EventChannel, payload); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", event),
			slog.String("wager_id", wagerID),
			slog.String("error", err.Error()),
		)
	}
}

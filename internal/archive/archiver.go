// Package archive moves settled wagers from the primary store to JSONL blobs
// in cold storage on a cron schedule.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wagerforge/wagerd/internal/domain"
)

// Store is the slice of the ledger the archiver needs.
type Store interface {
	ListArchivable(ctx context.Context, before time.Time, limit int) ([]domain.Wager, error)
	MarkArchived(ctx context.Context, ids []string) error
}

// BlobWriter uploads one object to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports terminal wagers older than the retention period to
// newline-delimited JSON under archive/wagers/. Records are flagged archived
// only after the blob write succeeds; deletion from the primary store is a
// separate, explicitly operator-driven step.
type Archiver struct {
	wagers    Store
	writer    BlobWriter
	retention time.Duration
	batch     int
	schedule  string
	logger    *slog.Logger
	clock     func() time.Time
}

// New creates an Archiver with the given retention window and cron schedule
// (standard 5-field format, e.g. "0 3 * * *" for 03:00 daily).
func New(wagers Store, writer BlobWriter, retention time.Duration, batch int, schedule string, logger *slog.Logger) *Archiver {
	return &Archiver{
		wagers:    wagers,
		writer:    writer,
		retention: retention,
		batch:     batch,
		schedule:  schedule,
		logger:    logger.With(slog.String("component", "archiver")),
		clock:     time.Now,
	}
}

// Name identifies the archiver to the orchestrator.
func (a *Archiver) Name() string { return "archiver" }

// wagerRecord is the JSONL export shape for one settled wager.
type wagerRecord struct {
	WagerID         string     `json:"wager_id"`
	Kind            string     `json:"kind"`
	CreatorID       string     `json:"creator_id"`
	CreatorAddress  string     `json:"creator_address"`
	AcceptorID      string     `json:"acceptor_id,omitempty"`
	AcceptorAddress string     `json:"acceptor_address,omitempty"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"`
	TokenSymbol     string     `json:"token_symbol,omitempty"`
	Direction       string     `json:"direction,omitempty"`
	TargetPrice     float64    `json:"target_price,omitempty"`
	Sport           string     `json:"sport,omitempty"`
	HomeTeam        string     `json:"home_team,omitempty"`
	AwayTeam        string     `json:"away_team,omitempty"`
	Deadline        time.Time  `json:"deadline"`
	WinnerID        string     `json:"winner_id,omitempty"`
	WinnerPosition  string     `json:"winner_position,omitempty"`
	ResolutionValue string     `json:"resolution_value,omitempty"`
	IsDraw          bool       `json:"is_draw,omitempty"`
	SettlementRef   string     `json:"settlement_ref,omitempty"`
	RefundRef       string     `json:"refund_ref,omitempty"`
	Simulated       bool       `json:"simulated,omitempty"`
	Payout          float64    `json:"payout,omitempty"`
	PlatformFee     float64    `json:"platform_fee,omitempty"`
	NetworkFee      float64    `json:"network_fee,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toRecord(w domain.Wager) wagerRecord {
	return wagerRecord{
		WagerID:         w.ID,
		Kind:            string(w.Kind),
		CreatorID:       w.CreatorID,
		CreatorAddress:  w.CreatorAddress,
		AcceptorID:      w.AcceptorID,
		AcceptorAddress: w.AcceptorAddress,
		Amount:          w.Amount,
		Status:          string(w.Status),
		TokenSymbol:     w.TokenSymbol,
		Direction:       w.Direction,
		TargetPrice:     w.TargetPrice,
		Sport:           w.Sport,
		HomeTeam:        w.HomeTeam,
		AwayTeam:        w.AwayTeam,
		Deadline:        w.Deadline,
		WinnerID:        w.WinnerID,
		WinnerPosition:  w.WinnerPosition,
		ResolutionValue: w.ResolutionValue,
		IsDraw:          w.IsDraw,
		SettlementRef:   w.SettlementRef,
		RefundRef:       w.RefundRef,
		Simulated:       w.Simulated,
		Payout:          w.Payout,
		PlatformFee:     w.PlatformFee,
		NetworkFee:      w.NetworkFee,
		ResolvedAt:      w.ResolvedAt,
		CreatedAt:       w.CreatedAt,
	}
}

// RunOnce executes a single archive pass and returns the number of wagers
// archived.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	cutoff := a.clock().UTC().Add(-a.retention)
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		wagers, err := a.wagers.ListArchivable(ctx, cutoff, a.batch)
		if err != nil {
			return total, fmt.Errorf("archive: list wagers before %v: %w", cutoff, err)
		}
		if len(wagers) == 0 {
			break
		}

		buf, err := marshalJSONL(wagers)
		if err != nil {
			return total, fmt.Errorf("archive: marshal batch: %w", err)
		}

		path := archivePath(a.clock().UTC(), wagers[0].ID)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("archive: upload %s: %w", path, err)
		}

		ids := make([]string, len(wagers))
		for i, w := range wagers {
			ids[i] = w.ID
		}
		if err := a.wagers.MarkArchived(ctx, ids); err != nil {
			return total, fmt.Errorf("archive: mark archived: %w", err)
		}

		total += len(wagers)
		a.logger.InfoContext(ctx, "archived wager batch",
			slog.Int("count", len(wagers)),
			slog.String("path", path),
		)

		if len(wagers) < a.batch {
			break
		}
	}

	return total, nil
}

// Run drives RunOnce on the configured cron schedule until the context is
// cancelled. Pass failures are logged; the next trigger retries.
func (a *Archiver) Run(ctx context.Context) error {
	sched, err := cron.ParseStandard(a.schedule)
	if err != nil {
		return fmt.Errorf("archive: parse schedule %q: %w", a.schedule, err)
	}
	a.logger.Info("archiver started", slog.String("schedule", a.schedule))

	for {
		next := sched.Next(a.clock())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-timer.C:
		}

		n, err := a.RunOnce(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive pass failed",
				slog.Int("archived", n),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archive pass complete", slog.Int("archived", n))
		}
	}
}

// archivePath partitions archive objects by day, with the first wager id of
// the batch as a uniqueness suffix.
func archivePath(at time.Time, firstID string) string {
	return fmt.Sprintf("archive/wagers/%s/%s.jsonl", at.Format("2006-01-02"), firstID)
}

// marshalJSONL serializes wagers as newline-delimited JSON, one compact
// object per line.
func marshalJSONL(wagers []domain.Wager) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, w := range wagers {
		if err := enc.Encode(toRecord(w)); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

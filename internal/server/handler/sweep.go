package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/engine"
)

// SweepService defines the sweep-driven operations the handler exposes
// on demand.
type SweepService interface {
	HandleExpired(ctx context.Context, wagerID string, kind domain.WagerKind) (engine.SettleResult, error)
	RunExpirySweep(ctx context.Context, limit int) (engine.SweepReport, error)
	MarkRefundProcessed(ctx context.Context, wagerID, refundRef string) error
}

// SweepHandler serves the manual expiry and refund bookkeeping endpoints.
type SweepHandler struct {
	sweeps SweepService
	batch  int
	logger *slog.Logger
}

// NewSweepHandler creates a SweepHandler. batch bounds how many frozen
// wagers one on-demand sweep pass dispatches.
func NewSweepHandler(sweeps SweepService, batch int, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{
		sweeps: sweeps,
		batch:  batch,
		logger: logger,
	}
}

type handleExpiredRequest struct {
	WagerID   string `json:"wager_id"`
	WagerType string `json:"wager_type"`
}

// HandleExpired manually triggers expiry handling for one wager past its
// deadline.
// POST /handle-expired-wager
func (h *SweepHandler) HandleExpired(w http.ResponseWriter, r *http.Request) {
	var req handleExpiredRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WagerID == "" {
		writeError(w, http.StatusBadRequest, "wager_id is required")
		return
	}
	kind, err := parseKind(req.WagerType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.sweeps.HandleExpired(r.Context(), req.WagerID, kind)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: handle expired failed",
			slog.String("wager_id", req.WagerID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settleResponse(res))
}

// ProcessCancelled runs the coarse sweep and refund pass on demand.
// POST /process-cancelled-wagers
func (h *SweepHandler) ProcessCancelled(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeps.RunExpirySweep(r.Context(), h.batch)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: on-demand sweep failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"frozen":   report.Frozen,
		"resolved": report.Resolved,
		"refunded": report.Refunded,
		"failed":   report.Failed,
	})
}

type markRefundRequest struct {
	WagerID         string `json:"wager_id"`
	WagerType       string `json:"wager_type"`
	RefundSignature string `json:"refund_signature"`
}

// MarkRefundProcessed sets the refund idempotency flag for externally-driven
// refund flows.
// POST /mark-refund-processed
func (h *SweepHandler) MarkRefundProcessed(w http.ResponseWriter, r *http.Request) {
	var req markRefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WagerID == "" {
		writeError(w, http.StatusBadRequest, "wager_id is required")
		return
	}

	if err := h.sweeps.MarkRefundProcessed(r.Context(), req.WagerID, req.RefundSignature); err != nil {
		h.logger.WarnContext(r.Context(), "handler: mark refund processed failed",
			slog.String("wager_id", req.WagerID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
	})
}

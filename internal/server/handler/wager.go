package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/engine"
)

// WagerService defines the settlement operations the wager handler requires
// from the engine. It is declared locally so the handler package does not
// depend on the concrete engine implementation.
type WagerService interface {
	CreateWager(ctx context.Context, in engine.CreateWagerInput) (domain.Wager, error)
	AcceptWager(ctx context.Context, wagerID, acceptorID string) (engine.AcceptResult, error)
	ResolveWager(ctx context.Context, wagerID string, kind domain.WagerKind) (engine.SettleResult, error)
	CancelWager(ctx context.Context, wagerID, requesterAddress string) error
}

// WagerHandler serves the wager lifecycle endpoints.
type WagerHandler struct {
	wagers WagerService
	logger *slog.Logger
}

// NewWagerHandler creates a WagerHandler with the given service and logger.
func NewWagerHandler(wagers WagerService, logger *slog.Logger) *WagerHandler {
	return &WagerHandler{
		wagers: wagers,
		logger: logger,
	}
}

// parseKind maps a wager_type field to a WagerKind. An empty value means the
// caller did not constrain the kind.
func parseKind(s string) (domain.WagerKind, error) {
	switch s {
	case "":
		return "", nil
	case string(domain.WagerKindCrypto):
		return domain.WagerKindCrypto, nil
	case string(domain.WagerKindSports):
		return domain.WagerKindSports, nil
	default:
		return "", fmt.Errorf("unknown wager_type %q", s)
	}
}

type createWagerRequest struct {
	WagerType string          `json:"wager_type"`
	WagerData createWagerData `json:"wager_data"`
}

type createWagerData struct {
	CreatorID      string    `json:"creator_id"`
	CreatorAddress string    `json:"creator_address"`
	Amount         float64   `json:"amount"`
	EscrowAddress  string    `json:"escrow_address"`
	Deadline       time.Time `json:"deadline"`

	TokenSymbol string  `json:"token_symbol"`
	Direction   string  `json:"direction"`
	TargetPrice float64 `json:"target_price"`

	Sport         string `json:"sport"`
	HomeTeam      string `json:"home_team"`
	AwayTeam      string `json:"away_team"`
	PredictedTeam string `json:"predicted_team"`
}

// CreateWager creates a new open wager.
// POST /create-wager
func (h *WagerHandler) CreateWager(w http.ResponseWriter, r *http.Request) {
	var req createWagerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind, err := parseKind(req.WagerType)
	if err != nil || kind == "" {
		writeError(w, http.StatusBadRequest, "wager_type must be crypto or sports")
		return
	}

	created, err := h.wagers.CreateWager(r.Context(), engine.CreateWagerInput{
		Kind:           kind,
		CreatorID:      req.WagerData.CreatorID,
		CreatorAddress: req.WagerData.CreatorAddress,
		Amount:         req.WagerData.Amount,
		EscrowAddress:  req.WagerData.EscrowAddress,
		Deadline:       req.WagerData.Deadline,
		TokenSymbol:    req.WagerData.TokenSymbol,
		Direction:      req.WagerData.Direction,
		TargetPrice:    req.WagerData.TargetPrice,
		Sport:          req.WagerData.Sport,
		HomeTeam:       req.WagerData.HomeTeam,
		AwayTeam:       req.WagerData.AwayTeam,
		PredictedTeam:  req.WagerData.PredictedTeam,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create wager rejected",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"wager_id":   created.ID,
		"wager_type": string(created.Kind),
		"status":     string(created.Status),
	})
}

type acceptWagerRequest struct {
	WagerID    string `json:"wager_id"`
	WagerType  string `json:"wager_type"`
	AcceptorID string `json:"acceptor_id"`
}

// AcceptWager matches an open wager with an acceptor.
// POST /accept-wager
func (h *WagerHandler) AcceptWager(w http.ResponseWriter, r *http.Request) {
	var req acceptWagerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WagerID == "" || req.AcceptorID == "" {
		writeError(w, http.StatusBadRequest, "wager_id and acceptor_id are required")
		return
	}

	res, err := h.wagers.AcceptWager(r.Context(), req.WagerID, req.AcceptorID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: accept wager failed",
			slog.String("wager_id", req.WagerID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"status":             string(res.Status),
		"on_chain_signature": res.Ref,
		"simulated":          res.Simulated,
	})
}

type resolveWagerRequest struct {
	WagerID string `json:"wager_id"`
}

// ResolveCryptoWager resolves a crypto wager against the current price.
// POST /resolve-crypto-wager
func (h *WagerHandler) ResolveCryptoWager(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, domain.WagerKindCrypto)
}

// ResolveSportsWager resolves a sports wager against the fixture result.
// POST /resolve-sports-wager
func (h *WagerHandler) ResolveSportsWager(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, domain.WagerKindSports)
}

func (h *WagerHandler) resolve(w http.ResponseWriter, r *http.Request, kind domain.WagerKind) {
	var req resolveWagerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WagerID == "" {
		writeError(w, http.StatusBadRequest, "wager_id is required")
		return
	}

	res, err := h.wagers.ResolveWager(r.Context(), req.WagerID, kind)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: resolve wager failed",
			slog.String("wager_id", req.WagerID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settleResponse(res))
}

// settleResponse shapes a settlement result for the JSON surface.
func settleResponse(res engine.SettleResult) map[string]any {
	body := map[string]any{
		"success":  true,
		"wager_id": res.WagerID,
	}
	if res.NoOp {
		body["already_processed"] = true
	}
	if res.IsDraw {
		body["is_draw"] = true
	} else if res.WinnerID != "" {
		body["winner"] = res.WinnerID
		body["winner_position"] = res.WinnerPosition
	}
	if res.ResolutionValue != "" {
		body["resolution_value"] = res.ResolutionValue
	}
	if res.Ref != "" {
		body["on_chain_signature"] = res.Ref
		body["simulated"] = res.Simulated
	}
	if !res.NoOp {
		body["outcome"] = res.Outcome.String()
		if res.Breakdown.WinnerPayout > 0 {
			body["payout"] = res.Breakdown.WinnerPayout
		}
		if res.Breakdown.PerSideRefund > 0 {
			body["refund_per_side"] = res.Breakdown.PerSideRefund
		}
	}
	return body
}

type cancelWagerRequest struct {
	WagerID           string `json:"wager_id"`
	WagerType         string `json:"wager_type"`
	CancellingAddress string `json:"cancelling_address"`
}

// CancelWager freezes an open wager on the creator's request.
// POST /cancel-wager
func (h *WagerHandler) CancelWager(w http.ResponseWriter, r *http.Request) {
	var req cancelWagerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WagerID == "" || req.CancellingAddress == "" {
		writeError(w, http.StatusBadRequest, "wager_id and cancelling_address are required")
		return
	}

	if err := h.wagers.CancelWager(r.Context(), req.WagerID, req.CancellingAddress); err != nil {
		h.logger.WarnContext(r.Context(), "handler: cancel wager failed",
			slog.String("wager_id", req.WagerID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  string(domain.WagerStatusCancelled),
	})
}

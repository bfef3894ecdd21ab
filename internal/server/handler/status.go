package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
)

// StatusCounter reports the number of wagers per lifecycle status.
type StatusCounter interface {
	StatusCounts(ctx context.Context) (map[domain.WagerStatus]int64, error)
}

// StatusHandler serves the diagnostic endpoint: worker mode, uptime and
// per-status wager counts.
type StatusHandler struct {
	counter   StatusCounter
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(counter StatusCounter, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		counter:   counter,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// GetStatus responds with the worker mode, uptime and wager status counts.
// GET /status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.counter.StatusCounts(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: status counts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load status counts")
		return
	}

	wagers := make(map[string]int64, len(counts))
	for status, n := range counts {
		wagers[string(status)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"wagers":         wagers,
	})
}

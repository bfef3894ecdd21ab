package notify

import (
	"context"
	"log/slog"

	"github.com/wagerforge/wagerd/internal/domain"
)

// Recorder writes user-facing notification records as settlement side
// effects. Writes are best-effort: a failed notification never fails the
// settlement that produced it, it is only logged.
type Recorder struct {
	store  domain.NotificationStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(store domain.NotificationStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With(slog.String("component", "notify_recorder")),
	}
}

// Record writes one notification row. A nil Recorder drops the write.
func (r *Recorder) Record(ctx context.Context, wallet string, typ domain.NotificationType, message string, payload map[string]any) {
	if r == nil || wallet == "" {
		return
	}

	err := r.store.Create(ctx, domain.Notification{
		WalletAddress: wallet,
		Type:          typ,
		Message:       message,
		Payload:       payload,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "notification write failed",
			slog.String("wallet", wallet),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

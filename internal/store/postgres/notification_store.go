package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerforge/wagerd/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
// Notification rows are write-once side effects of settlements.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a NotificationStore backed by the given pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Create appends a notification record.
func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) error {
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (wallet_address, type, message, payload)
		VALUES ($1, $2, $3, $4)`,
		n.WalletAddress, string(n.Type), n.Message, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: create notification for %s: %w", n.WalletAddress, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.NotificationStore = (*NotificationStore)(nil)

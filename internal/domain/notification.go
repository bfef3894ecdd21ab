package domain

import "time"

// NotificationType classifies user-facing notification records.
type NotificationType string

const (
	NotificationWagerAccepted  NotificationType = "wager_accepted"
	NotificationWagerResolved  NotificationType = "wager_resolved"
	NotificationWagerExpired   NotificationType = "wager_expired"
	NotificationWagerCancelled NotificationType = "wager_cancelled"
	NotificationWagerRefunded  NotificationType = "wager_refunded"
	NotificationWagerDraw      NotificationType = "wager_draw"
)

// Notification is a write-once record addressed to a wallet, created as a
// settlement side effect and never read back by the core.
type Notification struct {
	ID            int64
	WalletAddress string
	Type          NotificationType
	Message       string
	Payload       map[string]any
	CreatedAt     time.Time
}

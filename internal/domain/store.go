package domain

import (
	"context"
	"time"
)

// WagerStore is the durable ledger of wager records. Every method that
// changes authoritative status or a processing flag uses a conditional write
// keyed on the current record state; the boolean result reports whether the
// precondition held. This is the sole concurrency-safety mechanism between
// the sweeps, request handlers, and any second worker instance.
type WagerStore interface {
	Create(ctx context.Context, w Wager) (Wager, error)
	GetByID(ctx context.Context, id string) (Wager, error)

	// MarkActive flips an open wager to active with the acceptor fields.
	// No-ops (false) if the wager is no longer open.
	MarkActive(ctx context.Context, id string, acceptorID, acceptorAddress, opponentPosition, acceptRef string, simulated bool) (bool, error)

	// MarkCancelled flips an open wager to cancelled, recording the actor.
	// No-ops (false) if the wager is no longer open.
	MarkCancelled(ctx context.Context, id, cancelledBy string, at time.Time) (bool, error)

	// ClaimProcessing sets resolution_status none -> processing, the
	// exclusive right to settle one wager. False means another claimant won.
	ClaimProcessing(ctx context.Context, id string) (bool, error)

	// ReleaseProcessing reverts processing -> none after a retryable
	// failure so the next sweep can pick the wager up again.
	ReleaseProcessing(ctx context.Context, id string) error

	// MarkResolved applies the terminal settlement write. Conditional on
	// the resolution claim being held by the caller.
	MarkResolved(ctx context.Context, rec SettlementRecord) (bool, error)

	// MarkRefunded completes the refund path for an unmatched wager:
	// refund_processed set, claim completed. Conditional on the claim.
	MarkRefunded(ctx context.Context, id, refundRef string, simulated bool) (bool, error)

	// SetRefundProcessed is the externally-driven idempotency flag setter.
	// False means the flag was already set.
	SetRefundProcessed(ctx context.Context, id, refundRef string) (bool, error)

	// MarkExpiryProcessed excludes a handled wager from future sweeps.
	MarkExpiryProcessed(ctx context.Context, id string) (bool, error)

	// FreezeExpired bulk-flips open/active wagers past the deadline to
	// cancelled and returns the affected records.
	FreezeExpired(ctx context.Context, now time.Time) ([]Wager, error)

	// ListFrozenUnprocessed returns cancelled wagers whose expiry/refund
	// bookkeeping has not completed, for the coarse sweep's dispatch pass.
	ListFrozenUnprocessed(ctx context.Context, limit int) ([]Wager, error)

	// ListExpiringCrypto returns active crypto wagers whose deadline falls
	// inside [from, to], the fine sweep's candidate window.
	ListExpiringCrypto(ctx context.Context, from, to time.Time) ([]Wager, error)

	// ListArchivable returns unarchived terminal wagers settled before the
	// cutoff; MarkArchived flags them after a successful blob write.
	ListArchivable(ctx context.Context, before time.Time, limit int) ([]Wager, error)
	MarkArchived(ctx context.Context, ids []string) error

	// StatusCounts powers the diagnostic endpoint.
	StatusCounts(ctx context.Context) (map[WagerStatus]int64, error)
}

// UserStore reads user identity records (referenced, not owned).
type UserStore interface {
	GetByID(ctx context.Context, id string) (User, error)
	GetByWallet(ctx context.Context, wallet string) (User, error)
}

// UserStatsStore persists per-user running aggregates.
type UserStatsStore interface {
	Get(ctx context.Context, wallet string) (UserStats, error)
	Upsert(ctx context.Context, stats UserStats) error
}

// NotificationStore appends user-facing notification records.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) error
}

// LockManager provides short-lived distributed locks. Used by the fine sweep
// as the cheap first-pass guard in front of the store-level claim.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PriceCache caches recent feed prices per token symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// SignalBus publishes settlement events for the websocket hub and any other
// subscriber.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

package domain

import "time"

// WagerKind distinguishes the two prediction payloads a wager can carry.
type WagerKind string

const (
	WagerKindCrypto WagerKind = "crypto"
	WagerKindSports WagerKind = "sports"
)

// WagerStatus represents the lifecycle state of a wager.
//
// open and active are live states; resolved, cancelled and expired are
// terminal labels. A cancelled wager that was matched before its deadline is
// re-routed to the resolution path by the expiration sweep, so cancelled is
// a freeze marker until the processing flags say otherwise.
type WagerStatus string

const (
	WagerStatusOpen      WagerStatus = "open"
	WagerStatusActive    WagerStatus = "active"
	WagerStatusResolved  WagerStatus = "resolved"
	WagerStatusCancelled WagerStatus = "cancelled"
	WagerStatusExpired   WagerStatus = "expired"
)

// ResolutionStatus is the claim field used to serialize settlement attempts.
type ResolutionStatus string

const (
	ResolutionNone       ResolutionStatus = "none"
	ResolutionProcessing ResolutionStatus = "processing"
	ResolutionCompleted  ResolutionStatus = "completed"
)

// Price comparison directions for crypto wagers.
const (
	DirectionAbove = "above"
	DirectionBelow = "below"
)

// ResultDraw is the sentinel outcome a result feed returns for a tie.
const ResultDraw = "draw"

// Wager is a two-party staked prediction contract with on-chain escrow.
// ID is the stable external identifier used for escrow derivation and never
// changes after creation; RowID is the storage row key.
type Wager struct {
	RowID int64
	ID    string
	Kind  WagerKind

	CreatorID       string
	CreatorAddress  string
	AcceptorID      string // empty until matched
	AcceptorAddress string

	// Amount is the collateral each side puts up, in native token units.
	// The total pot is twice this.
	Amount float64

	Status WagerStatus

	// CreatorPosition and OpponentPosition are complementary: above/below
	// for crypto, the predicted team and the other team for sports.
	CreatorPosition  string
	OpponentPosition string

	EscrowAddress string

	// Crypto prediction payload.
	TokenSymbol string
	Direction   string
	TargetPrice float64

	// Sports prediction payload.
	Sport    string
	HomeTeam string
	AwayTeam string

	Deadline time.Time

	// Outcome fields, populated only at resolution.
	WinnerID        string
	WinnerPosition  string
	ResolutionValue string
	IsDraw          bool
	SettlementRef   string
	Simulated       bool
	ResolvedAt      *time.Time

	// Payout audit trail, stored with the settlement.
	Payout      float64
	PlatformFee float64
	NetworkFee  float64

	// Processing metadata used as compare-and-set guards.
	ExpiryProcessed  bool
	RefundProcessed  bool
	ResolutionStatus ResolutionStatus
	RefundRef        string

	// Meta carries auxiliary bookkeeping (cancel actor, timestamps).
	Meta map[string]any

	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matched reports whether an acceptor has taken the other side.
func (w Wager) Matched() bool {
	return w.AcceptorID != ""
}

// Terminal reports whether the wager has fully settled: either resolved, or
// frozen with its expiry/refund bookkeeping done. A merely-frozen cancelled
// wager is not terminal yet.
func (w Wager) Terminal() bool {
	if w.Status == WagerStatusResolved {
		return true
	}
	if w.Status == WagerStatusCancelled || w.Status == WagerStatusExpired {
		return w.ExpiryProcessed || w.RefundProcessed
	}
	return false
}

// PastDeadline reports whether the wager's deadline has passed at now.
func (w Wager) PastDeadline(now time.Time) bool {
	return now.After(w.Deadline)
}

// ComplementPosition derives the opponent's position from the creator's.
func (w Wager) ComplementPosition() string {
	switch w.Kind {
	case WagerKindCrypto:
		if w.CreatorPosition == DirectionAbove {
			return DirectionBelow
		}
		return DirectionAbove
	case WagerKindSports:
		if w.CreatorPosition == w.HomeTeam {
			return w.AwayTeam
		}
		return w.HomeTeam
	}
	return ""
}

// SettlementRecord is the terminal write for a resolved wager. The store
// applies it conditionally on the resolution claim being held.
type SettlementRecord struct {
	WagerID         string
	WinnerID        string
	WinnerPosition  string
	ResolutionValue string
	IsDraw          bool
	SettlementRef   string
	Simulated       bool
	Payout          float64
	PlatformFee     float64
	NetworkFee      float64
	ResolvedAt      time.Time
}

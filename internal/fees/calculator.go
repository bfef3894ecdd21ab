// Package fees computes settlement payouts. The calculator is pure: given a
// per-side stake and an outcome kind it produces the full fee breakdown, so
// the engine can log and store the amounts before any executor call.
package fees

// OutcomeKind selects the payout formula for a settlement.
type OutcomeKind int

const (
	// OutcomeWin pays the winner the pot minus platform and network fees.
	OutcomeWin OutcomeKind = iota
	// OutcomeDraw refunds each side its stake minus half the network fee.
	OutcomeDraw
	// OutcomeCancel refunds the creator of an unmatched cancelled wager.
	OutcomeCancel
	// OutcomeExpire refunds the creator of an unmatched expired wager.
	OutcomeExpire
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeWin:
		return "win"
	case OutcomeDraw:
		return "draw"
	case OutcomeCancel:
		return "cancel"
	case OutcomeExpire:
		return "expire"
	}
	return "unknown"
}

// Breakdown is the audit record for one settlement's arithmetic. For win/lose
// outcomes WinnerPayout is set; for draw/cancel/expire PerSideRefund is set.
// TotalStake is always twice the per-side amount for matched wagers and the
// single stake for unmatched refunds.
type Breakdown struct {
	Outcome       OutcomeKind
	TotalStake    float64
	PlatformFee   float64
	NetworkFee    float64
	WinnerPayout  float64
	PerSideRefund float64
}

// Calculator holds the configured fee parameters. Construct it once from
// config and inject it; it never reads ambient state.
type Calculator struct {
	platformFeeBps float64 // e.g. 400 = 4%
	networkFee     float64 // fixed overhead in native token units
}

// NewCalculator creates a Calculator with the given platform fee in basis
// points and fixed network fee.
func NewCalculator(platformFeeBps, networkFee float64) Calculator {
	return Calculator{
		platformFeeBps: platformFeeBps,
		networkFee:     networkFee,
	}
}

// Settlement computes the payout breakdown for a wager with the given
// per-side stake amount.
func (c Calculator) Settlement(amount float64, kind OutcomeKind) Breakdown {
	b := Breakdown{Outcome: kind, NetworkFee: c.networkFee}

	switch kind {
	case OutcomeWin:
		b.TotalStake = 2 * amount
		b.PlatformFee = b.TotalStake * c.platformFeeBps / 10000
		b.WinnerPayout = b.TotalStake - b.PlatformFee - b.NetworkFee
	case OutcomeDraw:
		b.TotalStake = 2 * amount
		b.PerSideRefund = amount - c.networkFee/2
	case OutcomeCancel, OutcomeExpire:
		b.TotalStake = amount
		b.PerSideRefund = amount - c.networkFee
	}

	return b
}

// PlatformFeeBps returns the configured platform fee in basis points.
func (c Calculator) PlatformFeeBps() float64 { return c.platformFeeBps }

// NetworkFee returns the configured fixed network fee.
func (c Calculator) NetworkFee() float64 { return c.networkFee }

package domain

import "context"

// Instruction is the closed set of settlement instructions the executor
// understands. Each variant carries its required argument bundle, so an
// unsupported instruction is a compile error rather than a runtime branch.
type Instruction interface {
	Name() string
	isInstruction()
}

// AcceptInstruction transfers the acceptor's stake into escrow.
type AcceptInstruction struct {
	WagerID  string
	Escrow   string
	Acceptor string
	Amount   float64
}

// ResolveInstruction pays the winner and the platform fee out of escrow.
type ResolveInstruction struct {
	WagerID        string
	Escrow         string
	Winner         string
	WinnerPosition string
	Payout         float64
	PlatformFee    float64
}

// CancelInstruction freezes an escrow pending refund.
type CancelInstruction struct {
	WagerID string
	Escrow  string
}

// RefundInstruction returns the creator's stake minus the network-fee share.
type RefundInstruction struct {
	WagerID string
	Escrow  string
	Creator string
	Amount  float64
}

// DrawInstruction refunds both sides equally on a tie.
type DrawInstruction struct {
	WagerID    string
	Escrow     string
	Creator    string
	Acceptor   string
	AmountEach float64
}

func (AcceptInstruction) Name() string  { return "accept" }
func (ResolveInstruction) Name() string { return "resolve" }
func (CancelInstruction) Name() string  { return "cancel" }
func (RefundInstruction) Name() string  { return "refund" }
func (DrawInstruction) Name() string    { return "handle_draw" }

func (AcceptInstruction) isInstruction()  {}
func (ResolveInstruction) isInstruction() {}
func (CancelInstruction) isInstruction()  {}
func (RefundInstruction) isInstruction()  {}
func (DrawInstruction) isInstruction()    {}

// ExecutorResult reports a completed settlement instruction. Simulated is
// true when the executor ran in simulated mode and Ref is not an on-chain
// signature; the two are never conflated in stored records.
type ExecutorResult struct {
	Ref       string
	Simulated bool
}

// SettlementExecutor performs signed on-chain instructions against escrow
// accounts. The executor's account model protects against duplicate effects,
// but callers still claim wagers first to avoid paying for duplicate
// submissions.
type SettlementExecutor interface {
	Execute(ctx context.Context, ins Instruction) (ExecutorResult, error)
}

package domain

import "time"

// User is an external collaborator record: an identity mapped to a wallet
// address. The core reads it for authorization and address lookups but never
// creates users.
type User struct {
	ID            string
	WalletAddress string
	Username      string
	CreatedAt     time.Time
}

// UserStats holds a user's running wager aggregates, keyed by wallet address.
// Mutated exclusively by the stats accumulator after a settlement.
type UserStats struct {
	WalletAddress string
	TotalWagered  float64
	TotalWon      float64
	TotalLost     float64
	WinRate       float64 // percentage, 0 when nothing decided yet
	Streak        int     // consecutive wins; reset to 0 on a loss
	UpdatedAt     time.Time
}

package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("wager not in required status")
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrAlreadyProcessed   = errors.New("wager already processed")
	ErrClaimHeld          = errors.New("claim already held")
	ErrQuoteUnavailable   = errors.New("price feed unavailable")
	ErrResultUnavailable  = errors.New("result feed unavailable")
	ErrExecutor           = errors.New("settlement executor failed")
	ErrStore              = errors.New("store operation failed")
	ErrLockHeld           = errors.New("lock already held")
)

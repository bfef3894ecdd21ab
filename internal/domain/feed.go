package domain

import "context"

// QuoteSource supplies the current price for a token symbol. Implementations
// return ErrQuoteUnavailable (wrapped) when the feed cannot answer; callers
// never default the price.
type QuoteSource interface {
	PriceOf(ctx context.Context, symbol string) (float64, error)
}

// ResultSource supplies the outcome of a sports fixture: the winning team's
// name, or ResultDraw for a tie. Returns ErrResultUnavailable (wrapped) when
// the fixture is not yet decided.
type ResultSource interface {
	ResultOf(ctx context.Context, sport, homeTeam, awayTeam string) (string, error)
}

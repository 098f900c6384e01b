package strategy

import "derivbot/internal/domain"

// Strategy turns recent market history into a trading signal. HOLD means
// no action; anything else names the contract type to buy. Implementations
// are owned by a single bot run and need no internal locking beyond what
// they create for themselves.
type Strategy interface {
	AnalyzeCandles(candles []domain.Candle, symbol string, timeframeSeconds int) (domain.Signal, error)
}

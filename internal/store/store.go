package store

import (
	"errors"
	"time"

	"derivbot/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the durable persistence contract behind the trading engine.
// Writes are mirrored best-effort by the callers: a failure is logged and
// never rolls back in-memory state.
type Store interface {
	UpsertTrade(tenantID string, trade domain.Trade) error
	UpdateTradeStatus(tradeID string, status domain.TradeStatus, closedAt time.Time, closePrice, pnl float64) error
	ListTrades(tenantID string, limit int) ([]domain.Trade, error)

	ReadTenantConfig(tenantID string) (domain.TradingConfig, error)
	SaveTenantConfig(tenantID string, cfg domain.TradingConfig) error
}

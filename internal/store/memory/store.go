package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"derivbot/internal/domain"
	"derivbot/internal/store"
)

// Store keeps everything in process memory. It is the fallback when no
// database is configured and the workhorse of the test suite.
type Store struct {
	mu sync.RWMutex

	trades     map[string]domain.Trade
	tradeOrder []string
	configs    map[string]domain.TradingConfig
}

func NewStore() *Store {
	return &Store{
		trades:  make(map[string]domain.Trade),
		configs: make(map[string]domain.TradingConfig),
	}
}

func (s *Store) UpsertTrade(tenantID string, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	trade.TenantID = tenantID
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.trades[trade.ID]; !exists {
		s.tradeOrder = append(s.tradeOrder, trade.ID)
	}
	s.trades[trade.ID] = trade
	return nil
}

func (s *Store) UpdateTradeStatus(tradeID string, status domain.TradeStatus, closedAt time.Time, closePrice, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[tradeID]
	if !ok {
		return store.ErrNotFound
	}
	trade.Status = status
	trade.ClosedAt = closedAt
	trade.ClosePrice = closePrice
	trade.PnL = pnl
	s.trades[tradeID] = trade
	return nil
}

func (s *Store) ListTrades(tenantID string, limit int) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]domain.Trade, 0, limit)
	for i := len(s.tradeOrder) - 1; i >= 0 && len(out) < limit; i-- {
		trade := s.trades[s.tradeOrder[i]]
		if trade.TenantID == tenantID {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (s *Store) ReadTenantConfig(tenantID string) (domain.TradingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return domain.TradingConfig{}, store.ErrNotFound
	}
	return cfg, nil
}

func (s *Store) SaveTenantConfig(tenantID string, cfg domain.TradingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[tenantID] = cfg
	return nil
}

package engine

import (
	"sync"
	"time"

	"derivbot/internal/domain"
	"derivbot/internal/service/strategy"
)

// BotState is one tenant's bot. After Registry.Start hands it out, it is
// mutated only by that tenant's scheduler run and by administrative
// start/stop calls; the internal mutex exists for snapshot readers.
type BotState struct {
	TenantID string

	mu             sync.Mutex
	running        bool
	config         domain.TradingConfig
	strategy       strategy.Strategy
	trades         []domain.Trade
	tradesExecuted int
	dailyTrades    int
	lastTradeDate  string
	totalProfit    float64
	startedAt      time.Time
}

func (b *BotState) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *BotState) Config() domain.TradingConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

func (b *BotState) DailyTrades() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dailyTrades
}

// Snapshot returns a last-write-visible copy for status queries.
func (b *BotState) Snapshot(derivConnected bool) domain.BotSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	trades := make([]domain.Trade, len(b.trades))
	copy(trades, b.trades)
	return domain.BotSnapshot{
		TenantID:       b.TenantID,
		IsRunning:      b.running,
		Config:         b.config,
		CurrentTrades:  trades,
		TradesExecuted: b.tradesExecuted,
		DailyTrades:    b.dailyTrades,
		TotalProfit:    b.totalProfit,
		StartedAt:      b.startedAt,
		DerivConnected: derivConnected,
	}
}

// recordTrade appends a confirmed purchase exactly once and bumps the
// execution counters.
func (b *BotState) recordTrade(t domain.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = append(b.trades, t)
	b.tradesExecuted++
	b.dailyTrades++
}

// rolloverDay resets the daily trade counter when the date changes.
func (b *BotState) rolloverDay(today string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastTradeDate != today {
		b.lastTradeDate = today
		b.dailyTrades = 0
	}
}

func (b *BotState) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
}

// Registry is the authoritative map of tenant id to bot state. Its
// compare-and-set Start is the only synchronization point between
// concurrent administrative calls; a started bot is thereafter owned by a
// single scheduler run.
type Registry struct {
	mu   sync.Mutex
	bots map[string]*BotState
}

func NewRegistry() *Registry {
	return &Registry{bots: make(map[string]*BotState)}
}

// Start atomically creates a fresh running state for tenantID. It fails
// with ErrAlreadyRunning when a running state already exists, which is what
// makes two racing Start calls produce exactly one scheduler run.
func (r *Registry) Start(tenantID string, cfg domain.TradingConfig, strat strategy.Strategy) (*BotState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bots[tenantID]; ok && existing.Running() {
		return nil, ErrAlreadyRunning
	}
	state := &BotState{
		TenantID:      tenantID,
		running:       true,
		config:        cfg,
		strategy:      strat,
		startedAt:     time.Now().UTC(),
		lastTradeDate: time.Now().UTC().Format("2006-01-02"),
	}
	r.bots[tenantID] = state
	return state, nil
}

// Stop marks the tenant's bot as not running. Idempotent; a missing or
// already-stopped bot is a no-op. The scheduler notices at its next symbol
// boundary.
func (r *Registry) Stop(tenantID string) {
	r.mu.Lock()
	state, ok := r.bots[tenantID]
	r.mu.Unlock()
	if ok {
		state.stop()
	}
}

func (r *Registry) Get(tenantID string) (*BotState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.bots[tenantID]
	return state, ok
}

func (r *Registry) ListAll() []*BotState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*BotState, 0, len(r.bots))
	for _, state := range r.bots {
		out = append(out, state)
	}
	return out
}

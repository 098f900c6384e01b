package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"derivbot/internal/deriv"
	"derivbot/internal/domain"
	"derivbot/internal/service/risk"
	"derivbot/internal/service/strategy"
	"derivbot/internal/store"
)

// Gateway is the slice of the connection gateway the scheduler needs.
// Tests substitute a scripted stub.
type Gateway interface {
	Request(ctx context.Context, payload map[string]any, timeout time.Duration) (*deriv.Message, error)
	Connected() bool
}

// Notifier announces executed trades on an external channel. Delivery is
// best effort and never blocks the trading cycle.
type Notifier interface {
	NotifyTrade(ctx context.Context, trade domain.Trade) error
}

type Options struct {
	CycleInterval   time.Duration
	SymbolDelay     time.Duration
	RequestTimeout  time.Duration
	CandleCount     int
	MinCandles      int
	DefaultStake    float64
	DurationMinutes int
}

// Scheduler runs one trading cycle loop per started tenant. All tenants
// share the one gateway connection; correlation ids keep their in-flight
// calls apart, and total throughput is bounded by that shared link.
type Scheduler struct {
	gw          Gateway
	registry    *Registry
	ledger      *Ledger
	store       store.Store
	limits      *risk.Limits
	newStrategy func() strategy.Strategy
	notifier    Notifier
	opts        Options
}

func NewScheduler(gw Gateway, registry *Registry, ledger *Ledger, st store.Store, limits *risk.Limits, newStrategy func() strategy.Strategy, opts Options) *Scheduler {
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.CandleCount <= 0 {
		opts.CandleCount = 100
	}
	if opts.MinCandles <= 0 {
		opts.MinCandles = 20
	}
	if opts.DefaultStake <= 0 {
		opts.DefaultStake = 10
	}
	if opts.DurationMinutes <= 0 {
		opts.DurationMinutes = 5
	}
	return &Scheduler{
		gw:          gw,
		registry:    registry,
		ledger:      ledger,
		store:       st,
		limits:      limits,
		newStrategy: newStrategy,
		opts:        opts,
	}
}

// SetNotifier attaches an optional trade announcement channel. Call it
// before Start; the scheduler does not synchronize access.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// Start registers a running bot for the tenant and launches its cycle
// loop. Racing calls for the same tenant resolve through the registry's
// compare-and-set: exactly one wins, the rest get ErrAlreadyRunning.
func (s *Scheduler) Start(tenantID string, cfg domain.TradingConfig) (domain.BotSnapshot, error) {
	if len(cfg.Symbols) == 0 {
		return domain.BotSnapshot{}, ErrNoSymbols
	}
	if cfg.AmountPerTrade <= 0 {
		cfg.AmountPerTrade = s.opts.DefaultStake
	}
	if cfg.TimeframeSeconds <= 0 {
		cfg.TimeframeSeconds = 60
	}
	if cfg.DurationMinutes <= 0 {
		cfg.DurationMinutes = s.opts.DurationMinutes
	}

	state, err := s.registry.Start(tenantID, cfg, s.newStrategy())
	if err != nil {
		return domain.BotSnapshot{}, err
	}
	log.Printf("[%s] bot started: symbols=%v stake=%.2f interval=%s",
		tenantID, cfg.Symbols, cfg.AmountPerTrade, s.opts.CycleInterval)
	go s.run(state)
	return state.Snapshot(s.gw.Connected()), nil
}

// Stop is idempotent. The running cycle notices at its next symbol
// boundary; a request already in flight is not aborted.
func (s *Scheduler) Stop(tenantID string) {
	s.registry.Stop(tenantID)
	log.Printf("[%s] bot stop requested", tenantID)
}

// StopAll stops every tenant, for process shutdown.
func (s *Scheduler) StopAll() {
	for _, state := range s.registry.ListAll() {
		s.registry.Stop(state.TenantID)
	}
}

func (s *Scheduler) Status(tenantID string) (domain.BotSnapshot, error) {
	state, ok := s.registry.Get(tenantID)
	if !ok {
		return domain.BotSnapshot{}, ErrNotRunning
	}
	return state.Snapshot(s.gw.Connected()), nil
}

func (s *Scheduler) List() []domain.BotSnapshot {
	states := s.registry.ListAll()
	connected := s.gw.Connected()
	out := make([]domain.BotSnapshot, 0, len(states))
	for _, state := range states {
		out = append(out, state.Snapshot(connected))
	}
	return out
}

func (s *Scheduler) run(state *BotState) {
	s.cycle(state)
	ticker := time.NewTicker(s.opts.CycleInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !state.Running() {
			break
		}
		s.cycle(state)
	}
	snap := state.Snapshot(false)
	log.Printf("[%s] bot stopped: %d trades, P&L %.2f",
		state.TenantID, snap.TradesExecuted, snap.TotalProfit)
}

// cycle processes every configured symbol in order: fetch history, consult
// the strategy, and run the proposal/buy pipeline on an actionable signal.
// The running flag is checked at each symbol boundary; per-symbol errors
// are contained and the cycle moves on.
func (s *Scheduler) cycle(state *BotState) {
	state.rolloverDay(time.Now().UTC().Format("2006-01-02"))
	cfg := state.Config()
	tradesThisCycle := 0

	for i, symbol := range cfg.Symbols {
		if !state.Running() {
			break
		}
		if verdict := s.limits.Allow(tradesThisCycle, state.DailyTrades()); !verdict.Allowed {
			log.Printf("[%s] limits: %s", state.TenantID, verdict.Reason)
			break
		}
		if i > 0 && s.opts.SymbolDelay > 0 {
			time.Sleep(s.opts.SymbolDelay)
		}

		candles, err := s.fetchCandles(symbol, cfg.TimeframeSeconds)
		if err != nil {
			log.Printf("[%s] %s: history fetch failed, skipping: %v", state.TenantID, symbol, err)
			continue
		}
		if len(candles) < s.opts.MinCandles {
			log.Printf("[%s] %s: %d candles, need %d, skipping", state.TenantID, symbol, len(candles), s.opts.MinCandles)
			continue
		}

		signal, err := state.strategy.AnalyzeCandles(candles, symbol, cfg.TimeframeSeconds)
		if err != nil {
			log.Printf("[%s] %s: strategy error, skipping: %v", state.TenantID, symbol, err)
			continue
		}
		if signal.Action == domain.ActionHold {
			continue
		}

		// At most one buy per actionable signal per symbol per cycle. A
		// failed attempt is not retried until the next cycle; retrying now
		// risks a duplicate order.
		trade, err := s.executeSignal(state.TenantID, signal, cfg)
		if err != nil {
			log.Printf("[%s] %s: trade attempt failed: %v", state.TenantID, symbol, err)
			continue
		}
		state.recordTrade(trade)
		tradesThisCycle++
		s.persistTrade(trade)
		s.announceTrade(trade)
		log.Printf("[%s] %s: bought %s contract %s, stake %.2f, payout %.2f",
			state.TenantID, symbol, trade.ContractType, trade.ContractID, trade.Amount, trade.Payout)
	}

	if closed := s.ledger.Sweep(state); closed > 0 {
		log.Printf("[%s] reconciliation closed %d expired trades", state.TenantID, closed)
	}
}

// ForceTrade runs the proposal/buy pipeline immediately for a running
// tenant, bypassing the strategy.
func (s *Scheduler) ForceTrade(tenantID, symbol string, contractType domain.ContractType, amount float64) (domain.Trade, error) {
	state, ok := s.registry.Get(tenantID)
	if !ok || !state.Running() {
		return domain.Trade{}, ErrNotRunning
	}
	action := domain.ActionBuyCall
	if contractType == domain.ContractPut {
		action = domain.ActionBuyPut
	}
	signal := domain.Signal{
		Action:       action,
		Symbol:       symbol,
		ContractType: contractType,
		Amount:       amount,
	}
	trade, err := s.executeSignal(tenantID, signal, state.Config())
	if err != nil {
		return domain.Trade{}, err
	}
	state.recordTrade(trade)
	s.persistTrade(trade)
	s.announceTrade(trade)
	return trade, nil
}

func (s *Scheduler) fetchCandles(symbol string, timeframeSeconds int) ([]domain.Candle, error) {
	msg, err := s.gw.Request(context.Background(),
		deriv.HistoryRequest(symbol, timeframeSeconds, s.opts.CandleCount),
		s.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if msg.Err != nil {
		return nil, msg.Err
	}
	var resp deriv.HistoryResponse
	if err := msg.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return resp.Candles, nil
}

// executeSignal runs the two correlated requests of the trade pipeline:
// proposal, then buy against the proposal id. Either step failing ends the
// attempt without retry.
func (s *Scheduler) executeSignal(tenantID string, signal domain.Signal, cfg domain.TradingConfig) (domain.Trade, error) {
	amount := signal.Amount
	if amount <= 0 {
		amount = cfg.AmountPerTrade
	}
	if amount <= 0 {
		amount = s.opts.DefaultStake
	}
	durationMin := cfg.DurationMinutes
	if durationMin <= 0 {
		durationMin = s.opts.DurationMinutes
	}

	msg, err := s.gw.Request(context.Background(),
		deriv.ProposalRequest(amount, signal.ContractType, signal.Symbol, durationMin),
		s.opts.RequestTimeout)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("proposal: %w", err)
	}
	if msg.Err != nil {
		return domain.Trade{}, fmt.Errorf("proposal rejected: %w", msg.Err)
	}
	var prop deriv.ProposalResponse
	if err := msg.Decode(&prop); err != nil {
		return domain.Trade{}, fmt.Errorf("decode proposal: %w", err)
	}
	if prop.Proposal.ID == "" {
		return domain.Trade{}, ErrNoProposal
	}

	msg, err = s.gw.Request(context.Background(),
		deriv.BuyRequest(prop.Proposal.ID, amount),
		s.opts.RequestTimeout)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("buy: %w", err)
	}
	if msg.Err != nil {
		return domain.Trade{}, fmt.Errorf("buy rejected: %w", msg.Err)
	}
	var buy deriv.BuyResponse
	if err := msg.Decode(&buy); err != nil {
		return domain.Trade{}, fmt.Errorf("decode buy: %w", err)
	}

	return domain.Trade{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Symbol:       signal.Symbol,
		ContractType: signal.ContractType,
		Action:       signal.Action,
		Amount:       amount,
		EntryPrice:   buy.Buy.EntryTick,
		Payout:       buy.Buy.Payout,
		Status:       domain.TradeStatusOpen,
		ContractID:   strconv.FormatInt(buy.Buy.ContractID, 10),
		ProposalID:   prop.Proposal.ID,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *Scheduler) persistTrade(trade domain.Trade) {
	if err := s.store.UpsertTrade(trade.TenantID, trade); err != nil {
		log.Printf("[%s] persist trade %s: %v", trade.TenantID, trade.ID, err)
	}
}

func (s *Scheduler) announceTrade(trade domain.Trade) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.NotifyTrade(ctx, trade); err != nil {
			log.Printf("[%s] notify trade %s: %v", trade.TenantID, trade.ID, err)
		}
	}()
}

package domain

import "time"

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

type SignalAction string

const (
	ActionBuyCall SignalAction = "BUY_CALL"
	ActionBuyPut  SignalAction = "BUY_PUT"
	ActionHold    SignalAction = "HOLD"
)

type ContractType string

const (
	ContractCall ContractType = "CALL"
	ContractPut  ContractType = "PUT"
)

// Candle is one OHLC bar as returned by a ticks_history request.
type Candle struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	Epoch int64   `json:"epoch"`
}

// Signal is the strategy verdict for one symbol. A zero Amount means
// "use the configured stake".
type Signal struct {
	Action       SignalAction `json:"action"`
	Symbol       string       `json:"symbol"`
	ContractType ContractType `json:"contract_type,omitempty"`
	Confidence   float64      `json:"confidence"`
	Amount       float64      `json:"amount,omitempty"`
	Zone         *Zone        `json:"zone,omitempty"`
}

// Zone is a supply or demand area detected from recent candles.
type Zone struct {
	Top      float64 `json:"top"`
	Bottom   float64 `json:"bottom"`
	Kind     string  `json:"kind"` // "demand" or "supply"
	Strength int     `json:"strength"`
	Created  int64   `json:"created"`
	Touched  int     `json:"touched"`
}

// Trade is one purchased contract over its lifecycle. Status only moves
// open -> closed, never backward.
type Trade struct {
	ID           string       `json:"trade_id"`
	TenantID     string       `json:"tenant_id"`
	Symbol       string       `json:"symbol"`
	ContractType ContractType `json:"contract_type"`
	Action       SignalAction `json:"action"`
	Amount       float64      `json:"amount"`
	EntryPrice   float64      `json:"entry_price"`
	Payout       float64      `json:"payout"`
	Status       TradeStatus  `json:"status"`
	ContractID   string       `json:"contract_id,omitempty"`
	ProposalID   string       `json:"proposal_id,omitempty"`
	PnL          float64      `json:"pnl"`
	CreatedAt    time.Time    `json:"created_at"`
	ClosedAt     time.Time    `json:"closed_at,omitempty"`
	ClosePrice   float64      `json:"close_price,omitempty"`
}

// TradingConfig is the per-tenant bot configuration.
type TradingConfig struct {
	Symbols          []string `json:"symbols"`
	AmountPerTrade   float64  `json:"amount_per_trade"`
	TimeframeSeconds int      `json:"timeframe_seconds"`
	DurationMinutes  int      `json:"duration_minutes,omitempty"`
}

// BotSnapshot is a point-in-time view of one tenant's bot, returned by
// status queries. It carries no stronger isolation than last-write-visible.
type BotSnapshot struct {
	TenantID       string        `json:"tenant_id"`
	IsRunning      bool          `json:"is_running"`
	Config         TradingConfig `json:"config"`
	CurrentTrades  []Trade       `json:"current_trades"`
	TradesExecuted int           `json:"trades_executed"`
	DailyTrades    int           `json:"daily_trades"`
	TotalProfit    float64       `json:"total_profit"`
	StartedAt      time.Time     `json:"started_at"`
	DerivConnected bool          `json:"deriv_connected"`
}

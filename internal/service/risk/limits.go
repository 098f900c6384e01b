package risk

// Decision says whether a trade attempt may proceed and, when denied, why.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Limits caps how many contracts a tenant may buy per cycle and per day.
// A limit of zero disables that check.
type Limits struct {
	maxTradesPerCycle int
	dailyTradeLimit   int
}

func NewLimits(maxTradesPerCycle, dailyTradeLimit int) *Limits {
	return &Limits{
		maxTradesPerCycle: maxTradesPerCycle,
		dailyTradeLimit:   dailyTradeLimit,
	}
}

func (l *Limits) Allow(tradesThisCycle, dailyTrades int) Decision {
	if l.maxTradesPerCycle > 0 && tradesThisCycle >= l.maxTradesPerCycle {
		return Decision{Reason: "max_trades_per_cycle_reached"}
	}
	if l.dailyTradeLimit > 0 && dailyTrades >= l.dailyTradeLimit {
		return Decision{Reason: "daily_trade_limit_reached"}
	}
	return Decision{Allowed: true}
}

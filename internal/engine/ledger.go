package engine

import (
	"log"
	"time"

	"github.com/benbjohnson/clock"

	"derivbot/internal/domain"
	"derivbot/internal/store"
)

// Ledger keeps trade lifecycle state current in the absence of guaranteed
// settlement pushes from the venue. Contracts are assumed to run for a
// fixed nominal duration; a sweep closes any open trade strictly older
// than that, substituting the entry price for the close price since no
// authoritative close is available. The approximation is deliberate.
type Ledger struct {
	clk       clock.Clock
	store     store.Store
	duration  time.Duration
	retention time.Duration
}

func NewLedger(clk clock.Clock, st store.Store, contractDuration, retention time.Duration) *Ledger {
	return &Ledger{
		clk:       clk,
		store:     st,
		duration:  contractDuration,
		retention: retention,
	}
}

// Sweep runs one reconciliation pass over the tenant's trades and returns
// how many it closed. Closed trades older than the retention window are
// evicted from memory; their durable records are untouched. Persistence
// failures are logged and never roll back the in-memory transition.
func (l *Ledger) Sweep(state *BotState) int {
	now := l.clk.Now()
	var closedNow []domain.Trade

	state.mu.Lock()
	kept := state.trades[:0]
	for _, t := range state.trades {
		if t.Status == domain.TradeStatusOpen && now.Sub(t.CreatedAt) > l.duration {
			t.Status = domain.TradeStatusClosed
			t.ClosedAt = now
			t.ClosePrice = t.EntryPrice
			t.PnL = settlePnL(t)
			state.totalProfit += t.PnL
			closedNow = append(closedNow, t)
		}
		if t.Status == domain.TradeStatusClosed && now.Sub(t.CreatedAt) > l.retention {
			continue // evict from memory only
		}
		kept = append(kept, t)
	}
	state.trades = kept
	state.mu.Unlock()

	for _, t := range closedNow {
		if err := l.store.UpdateTradeStatus(t.ID, t.Status, t.ClosedAt, t.ClosePrice, t.PnL); err != nil {
			log.Printf("[%s] persist close for trade %s: %v", state.TenantID, t.ID, err)
		}
	}
	return len(closedNow)
}

// settlePnL applies the venue's rise/fall payout rule to the recorded
// close: a CALL wins strictly above the entry, a PUT strictly below, and
// anything else forfeits the stake. Under the sweep's entry-price
// substitution an expired trade therefore settles as a lost stake.
func settlePnL(t domain.Trade) float64 {
	win := (t.ContractType == domain.ContractCall && t.ClosePrice > t.EntryPrice) ||
		(t.ContractType == domain.ContractPut && t.ClosePrice < t.EntryPrice)
	if win {
		return t.Payout - t.Amount
	}
	return -t.Amount
}

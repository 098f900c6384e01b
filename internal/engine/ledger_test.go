package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"derivbot/internal/domain"
	"derivbot/internal/store/memory"
)

func openTrade(id string, createdAt time.Time) domain.Trade {
	return domain.Trade{
		ID:           id,
		TenantID:     "tenant-1",
		Symbol:       "R_100",
		ContractType: domain.ContractCall,
		Action:       domain.ActionBuyCall,
		Amount:       10,
		EntryPrice:   100.25,
		Payout:       19.5,
		Status:       domain.TradeStatusOpen,
		CreatedAt:    createdAt,
	}
}

func TestSweepClosesExpiredTrades(t *testing.T) {
	mock := clock.NewMock()
	st := memory.NewStore()
	ledger := NewLedger(mock, st, 5*time.Minute, time.Hour)

	expired := openTrade("expired", mock.Now().Add(-5*time.Minute-time.Second))
	fresh := openTrade("fresh", mock.Now().Add(-time.Minute))
	if err := st.UpsertTrade("tenant-1", expired); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := st.UpsertTrade("tenant-1", fresh); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	state := &BotState{TenantID: "tenant-1", running: true, trades: []domain.Trade{expired, fresh}}

	if closed := ledger.Sweep(state); closed != 1 {
		t.Fatalf("sweep closed %d trades, want 1", closed)
	}

	snap := state.Snapshot(false)
	byID := map[string]domain.Trade{}
	for _, tr := range snap.CurrentTrades {
		byID[tr.ID] = tr
	}
	if got := byID["expired"].Status; got != domain.TradeStatusClosed {
		t.Fatalf("expired trade status = %s, want closed", got)
	}
	if byID["expired"].ClosePrice != byID["expired"].EntryPrice {
		t.Fatal("close price must fall back to the entry price")
	}
	if !byID["expired"].ClosedAt.Equal(mock.Now()) {
		t.Fatalf("closed at = %s, want sweep time", byID["expired"].ClosedAt)
	}
	// Settled at the entry price, the stake is forfeited.
	if byID["expired"].PnL != -10 {
		t.Fatalf("pnl = %f, want -10", byID["expired"].PnL)
	}
	if snap.TotalProfit != -10 {
		t.Fatalf("total profit = %f, want -10", snap.TotalProfit)
	}
	if got := byID["fresh"].Status; got != domain.TradeStatusOpen {
		t.Fatalf("fresh trade status = %s, want open", got)
	}

	// The durable record follows the in-memory transition.
	persisted, err := st.ListTrades("tenant-1", 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	for _, tr := range persisted {
		if tr.ID != "expired" {
			continue
		}
		if tr.Status != domain.TradeStatusClosed {
			t.Fatalf("persisted status = %s, want closed", tr.Status)
		}
		if tr.PnL != -10 {
			t.Fatalf("persisted pnl = %f, want -10", tr.PnL)
		}
	}
}

func TestSettlePnL(t *testing.T) {
	base := domain.Trade{Amount: 10, Payout: 19.5, EntryPrice: 100}

	call := base
	call.ContractType = domain.ContractCall
	call.ClosePrice = 101
	if got := settlePnL(call); got != 9.5 {
		t.Fatalf("winning call pnl = %f, want 9.5", got)
	}
	call.ClosePrice = 100 // exactly at entry is not a win
	if got := settlePnL(call); got != -10 {
		t.Fatalf("at-entry call pnl = %f, want -10", got)
	}

	put := base
	put.ContractType = domain.ContractPut
	put.ClosePrice = 99
	if got := settlePnL(put); got != 9.5 {
		t.Fatalf("winning put pnl = %f, want 9.5", got)
	}
	put.ClosePrice = 101
	if got := settlePnL(put); got != -10 {
		t.Fatalf("losing put pnl = %f, want -10", got)
	}
}

func TestSweepKeepsTradeAtExactBoundary(t *testing.T) {
	mock := clock.NewMock()
	st := memory.NewStore()
	ledger := NewLedger(mock, st, 5*time.Minute, time.Hour)

	boundary := openTrade("boundary", mock.Now().Add(-5*time.Minute))
	state := &BotState{TenantID: "tenant-1", running: true, trades: []domain.Trade{boundary}}

	if closed := ledger.Sweep(state); closed != 0 {
		t.Fatalf("sweep closed %d trades, want 0", closed)
	}
	snap := state.Snapshot(false)
	if snap.CurrentTrades[0].Status != domain.TradeStatusOpen {
		t.Fatal("a trade exactly at the duration boundary must stay open")
	}

	mock.Add(time.Second)
	if closed := ledger.Sweep(state); closed != 1 {
		t.Fatalf("sweep after boundary closed %d trades, want 1", closed)
	}
}

func TestSweepEvictsBeyondRetention(t *testing.T) {
	mock := clock.NewMock()
	st := memory.NewStore()
	ledger := NewLedger(mock, st, 5*time.Minute, time.Hour)

	stale := openTrade("stale", mock.Now().Add(-2*time.Hour))
	if err := st.UpsertTrade("tenant-1", stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	state := &BotState{TenantID: "tenant-1", running: true, trades: []domain.Trade{stale}}

	// First sweep closes it, and since it is already past retention it is
	// evicted from memory in the same pass.
	if closed := ledger.Sweep(state); closed != 1 {
		t.Fatalf("sweep closed %d trades, want 1", closed)
	}
	snap := state.Snapshot(false)
	if len(snap.CurrentTrades) != 0 {
		t.Fatalf("stale trade still tracked in memory: %+v", snap.CurrentTrades)
	}

	// Eviction is memory-only; the durable record remains queryable.
	persisted, err := st.ListTrades("tenant-1", 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != "stale" {
		t.Fatalf("durable record missing after eviction: %+v", persisted)
	}
	if persisted[0].Status != domain.TradeStatusClosed {
		t.Fatalf("persisted status = %s, want closed", persisted[0].Status)
	}
}

type brokenStore struct {
	*memory.Store
}

func (b *brokenStore) UpdateTradeStatus(string, domain.TradeStatus, time.Time, float64, float64) error {
	return errors.New("database offline")
}

func TestSweepSurvivesPersistenceFailure(t *testing.T) {
	mock := clock.NewMock()
	ledger := NewLedger(mock, &brokenStore{Store: memory.NewStore()}, 5*time.Minute, time.Hour)

	expired := openTrade("expired", mock.Now().Add(-10*time.Minute))
	state := &BotState{TenantID: "tenant-1", running: true, trades: []domain.Trade{expired}}

	if closed := ledger.Sweep(state); closed != 1 {
		t.Fatalf("sweep closed %d trades, want 1", closed)
	}
	snap := state.Snapshot(false)
	if snap.CurrentTrades[0].Status != domain.TradeStatusClosed {
		t.Fatal("in-memory close must not roll back when persistence fails")
	}
}

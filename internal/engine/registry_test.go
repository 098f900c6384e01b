package engine

import (
	"sync"
	"testing"

	"derivbot/internal/domain"
)

type holdStrategy struct{}

func (holdStrategy) AnalyzeCandles(_ []domain.Candle, symbol string, _ int) (domain.Signal, error) {
	return domain.Signal{Action: domain.ActionHold, Symbol: symbol}, nil
}

func testTradingConfig() domain.TradingConfig {
	return domain.TradingConfig{
		Symbols:          []string{"R_100"},
		AmountPerTrade:   10,
		TimeframeSeconds: 60,
		DurationMinutes:  5,
	}
}

func TestRegistryStartStop(t *testing.T) {
	r := NewRegistry()

	state, err := r.Start("tenant-1", testTradingConfig(), holdStrategy{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !state.Running() {
		t.Fatal("expected bot to be running after start")
	}

	if _, err := r.Start("tenant-1", testTradingConfig(), holdStrategy{}); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	r.Stop("tenant-1")
	if state.Running() {
		t.Fatal("expected bot to be stopped")
	}

	// Stopping again or stopping an unknown tenant is a no-op.
	r.Stop("tenant-1")
	r.Stop("no-such-tenant")
}

func TestRegistryRestartAfterStop(t *testing.T) {
	r := NewRegistry()

	first, err := r.Start("tenant-1", testTradingConfig(), holdStrategy{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	first.recordTrade(domain.Trade{ID: "t1", TenantID: "tenant-1"})
	r.Stop("tenant-1")

	second, err := r.Start("tenant-1", testTradingConfig(), holdStrategy{})
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if second == first {
		t.Fatal("restart must produce a fresh state")
	}
	snap := second.Snapshot(false)
	if snap.TradesExecuted != 0 || len(snap.CurrentTrades) != 0 {
		t.Fatalf("restart leaked old trade state: %+v", snap)
	}
}

func TestRegistryConcurrentStartSingleWinner(t *testing.T) {
	r := NewRegistry()

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = r.Start("tenant-1", testTradingConfig(), holdStrategy{})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch err {
		case nil:
			winners++
		case ErrAlreadyRunning:
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestBotStateDayRollover(t *testing.T) {
	state := &BotState{TenantID: "tenant-1", running: true, lastTradeDate: "2026-08-26"}
	state.recordTrade(domain.Trade{ID: "t1"})
	state.recordTrade(domain.Trade{ID: "t2"})
	if got := state.DailyTrades(); got != 2 {
		t.Fatalf("daily trades = %d, want 2", got)
	}

	state.rolloverDay("2026-08-26")
	if got := state.DailyTrades(); got != 2 {
		t.Fatalf("same-day rollover reset the counter: %d", got)
	}

	state.rolloverDay("2026-08-27")
	if got := state.DailyTrades(); got != 0 {
		t.Fatalf("daily trades after rollover = %d, want 0", got)
	}
	snap := state.Snapshot(false)
	if snap.TradesExecuted != 2 {
		t.Fatalf("rollover must not touch the lifetime counter: %d", snap.TradesExecuted)
	}
}

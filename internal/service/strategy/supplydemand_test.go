package strategy

import (
	"testing"

	"derivbot/internal/domain"
)

func bar(open, high, low, close float64, epoch int64) domain.Candle {
	return domain.Candle{Open: open, High: high, Low: low, Close: close, Epoch: epoch}
}

// demandSeries builds 50 bars: a tight base around 100, an impulse break
// down, a choppy stretch lower, then a final close back inside the base.
func demandSeries() []domain.Candle {
	var candles []domain.Candle
	epoch := int64(1700000000)
	next := func(c domain.Candle) {
		c.Epoch = epoch
		epoch += 60
		candles = append(candles, c)
	}

	for i := 0; i < 5; i++ {
		next(bar(100, 100.4, 99.6, 100, 0))
	}
	// Impulse: closes well below the base with a long lower wick.
	next(bar(99.6, 99.6, 86, 90, 0))
	// Choppy drift that never forms another tight base.
	for i := 0; i < 44; i++ {
		if i%2 == 0 {
			next(bar(90, 90.5, 89.5, 90, 0))
		} else {
			next(bar(93, 93.5, 92.5, 93, 0))
		}
	}
	// Return into the demand zone.
	candles[len(candles)-1] = bar(93, 100.2, 92.8, 100, candles[len(candles)-1].Epoch)
	return candles
}

func supplySeries() []domain.Candle {
	var candles []domain.Candle
	epoch := int64(1700000000)
	next := func(c domain.Candle) {
		c.Epoch = epoch
		epoch += 60
		candles = append(candles, c)
	}

	for i := 0; i < 5; i++ {
		next(bar(100, 100.4, 99.6, 100, 0))
	}
	// Impulse: closes well above the base with a long upper wick.
	next(bar(100.4, 114, 100.4, 110, 0))
	for i := 0; i < 44; i++ {
		if i%2 == 0 {
			next(bar(110, 110.5, 109.5, 110, 0))
		} else {
			next(bar(107, 107.5, 106.5, 107, 0))
		}
	}
	// Return into the supply zone.
	candles[len(candles)-1] = bar(107, 107.2, 99.8, 100, candles[len(candles)-1].Epoch)
	return candles
}

func TestAnalyzeCandlesDemandZoneSignalsCall(t *testing.T) {
	s := NewSupplyDemand()
	signal, err := s.AnalyzeCandles(demandSeries(), "R_100", 60)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if signal.Action != domain.ActionBuyCall {
		t.Fatalf("action = %s, want BUY_CALL", signal.Action)
	}
	if signal.ContractType != domain.ContractCall {
		t.Fatalf("contract type = %s, want CALL", signal.ContractType)
	}
	if signal.Zone == nil || signal.Zone.Kind != "demand" {
		t.Fatalf("expected a demand zone on the signal, got %+v", signal.Zone)
	}
	if signal.Zone.Bottom > 100 || signal.Zone.Top < 100 {
		t.Fatalf("last close should fall inside the zone [%f, %f]", signal.Zone.Bottom, signal.Zone.Top)
	}
	if signal.Confidence < 0.5 || signal.Confidence > 0.9 {
		t.Fatalf("confidence = %f, want within [0.5, 0.9]", signal.Confidence)
	}
}

func TestAnalyzeCandlesSupplyZoneSignalsPut(t *testing.T) {
	s := NewSupplyDemand()
	signal, err := s.AnalyzeCandles(supplySeries(), "R_100", 60)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if signal.Action != domain.ActionBuyPut {
		t.Fatalf("action = %s, want BUY_PUT", signal.Action)
	}
	if signal.Zone == nil || signal.Zone.Kind != "supply" {
		t.Fatalf("expected a supply zone on the signal, got %+v", signal.Zone)
	}
}

func TestAnalyzeCandlesThrottlesRepeatSignals(t *testing.T) {
	s := NewSupplyDemand()
	candles := demandSeries()

	first, err := s.AnalyzeCandles(candles, "R_100", 60)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if first.Action != domain.ActionBuyCall {
		t.Fatalf("first action = %s, want BUY_CALL", first.Action)
	}

	second, err := s.AnalyzeCandles(candles, "R_100", 60)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if second.Action != domain.ActionHold {
		t.Fatalf("repeat signal inside the gap window: %s, want HOLD", second.Action)
	}
}

func TestAnalyzeCandlesHoldsAwayFromZones(t *testing.T) {
	s := NewSupplyDemand()
	candles := demandSeries()
	// Park the last close far below the zone.
	candles[len(candles)-1] = bar(90, 90.5, 89.5, 90, candles[len(candles)-1].Epoch)

	signal, err := s.AnalyzeCandles(candles, "R_100", 60)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if signal.Action != domain.ActionHold {
		t.Fatalf("action = %s, want HOLD", signal.Action)
	}
}

func TestAnalyzeCandlesValidation(t *testing.T) {
	s := NewSupplyDemand()

	if _, err := s.AnalyzeCandles(demandSeries(), "", 60); err == nil {
		t.Fatal("expected error for empty symbol")
	}
	if _, err := s.AnalyzeCandles(demandSeries()[:10], "R_100", 60); err == nil {
		t.Fatal("expected error for too few candles")
	}

	bad := demandSeries()
	bad[3].Close = 0
	if _, err := s.AnalyzeCandles(bad, "R_100", 60); err == nil {
		t.Fatal("expected error for nonpositive prices")
	}
}

func TestZonesExpireAfterMaxTouches(t *testing.T) {
	s := NewSupplyDemand()
	s.MinSignalGap = 0
	candles := demandSeries()

	// Each signal touches the zone once; the detector re-merges the same
	// zone each pass, so after MaxTouches the zone is spent.
	for i := 0; i < s.MaxTouches; i++ {
		signal, err := s.AnalyzeCandles(candles, "R_100", 60)
		if err != nil {
			t.Fatalf("analyze %d failed: %v", i, err)
		}
		if signal.Action != domain.ActionBuyCall {
			t.Fatalf("touch %d action = %s, want BUY_CALL", i, signal.Action)
		}
	}

	signal, err := s.AnalyzeCandles(candles, "R_100", 60)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if signal.Action != domain.ActionHold {
		t.Fatalf("spent zone still signaling: %s", signal.Action)
	}
}

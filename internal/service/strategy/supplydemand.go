package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"derivbot/internal/domain"
)

// SupplyDemand detects consolidation zones broken by an impulse candle and
// trades the return of price into those zones: a demand zone yields
// BUY_CALL, a supply zone BUY_PUT. Zones age out after a day or after
// being touched a few times.
type SupplyDemand struct {
	MinCandles         int           // lookback required before analyzing
	ConsolidationBars  int           // bars that must trade in a tight range
	ConsolidationRange float64       // max range as a fraction of avg price
	ImpulseThreshold   float64       // min breakout move as a fraction of close
	MaxZoneAge         time.Duration // zones older than this are discarded
	MaxTouches         int           // zones touched this often are spent
	MinSignalGap       time.Duration // throttle between signals per symbol

	zones      map[string][]domain.Zone
	lastSignal map[string]time.Time
}

func NewSupplyDemand() *SupplyDemand {
	return &SupplyDemand{
		MinCandles:         50,
		ConsolidationBars:  5,
		ConsolidationRange: 0.02,
		ImpulseThreshold:   0.03,
		MaxZoneAge:         24 * time.Hour,
		MaxTouches:         3,
		MinSignalGap:       5 * time.Minute,
		zones:              make(map[string][]domain.Zone),
		lastSignal:         make(map[string]time.Time),
	}
}

func (s *SupplyDemand) AnalyzeCandles(candles []domain.Candle, symbol string, timeframeSeconds int) (domain.Signal, error) {
	if symbol == "" {
		return domain.Signal{}, errors.New("symbol is required")
	}
	if len(candles) < s.MinCandles {
		return domain.Signal{}, fmt.Errorf("at least %d candles required, got %d", s.MinCandles, len(candles))
	}
	for _, c := range candles {
		if c.Close <= 0 || c.High <= 0 || c.Low <= 0 {
			return domain.Signal{}, errors.New("candles must have positive prices")
		}
	}

	now := time.Now()
	s.detectZones(candles, symbol, now)

	hold := domain.Signal{Action: domain.ActionHold, Symbol: symbol}
	if gap := now.Sub(s.lastSignal[symbol]); gap < s.MinSignalGap && !s.lastSignal[symbol].IsZero() {
		return hold, nil
	}

	lastClose := candles[len(candles)-1].Close
	zones := s.zones[symbol]
	for i := range zones {
		z := &zones[i]
		if lastClose < z.Bottom || lastClose > z.Top {
			continue
		}
		z.Touched++
		s.lastSignal[symbol] = now
		confidence := math.Min(0.9, 0.5+float64(z.Strength)*0.04)
		signal := domain.Signal{
			Symbol:     symbol,
			Confidence: confidence,
			Zone:       copyZone(*z),
		}
		if z.Kind == "demand" {
			signal.Action = domain.ActionBuyCall
			signal.ContractType = domain.ContractCall
		} else {
			signal.Action = domain.ActionBuyPut
			signal.ContractType = domain.ContractPut
		}
		return signal, nil
	}
	return hold, nil
}

// detectZones scans for a tight consolidation window followed by an
// impulse candle breaking out of it. A break below the base leaves demand
// behind; a break above leaves supply.
func (s *SupplyDemand) detectZones(candles []domain.Candle, symbol string, now time.Time) {
	for i := 0; i+s.ConsolidationBars < len(candles); i++ {
		base := candles[i : i+s.ConsolidationBars]
		if !isConsolidation(base, s.ConsolidationRange) {
			continue
		}
		baseHigh, baseLow := rangeOf(base)
		impulse := candles[i+s.ConsolidationBars]

		if impulse.Close < baseLow && (impulse.Close-impulse.Low)/impulse.Close > s.ImpulseThreshold {
			s.addZone(symbol, domain.Zone{
				Top: baseHigh, Bottom: baseLow, Kind: "demand",
				Strength: zoneStrength(base, impulse, baseHigh, baseLow),
				Created:  now.Unix(),
			})
		}
		if impulse.Close > baseHigh && (impulse.High-impulse.Close)/impulse.Close > s.ImpulseThreshold {
			s.addZone(symbol, domain.Zone{
				Top: baseHigh, Bottom: baseLow, Kind: "supply",
				Strength: zoneStrength(base, impulse, baseHigh, baseLow),
				Created:  now.Unix(),
			})
		}
	}
	s.expireZones(symbol, now)
}

// addZone merges near-duplicate zones instead of stacking them.
func (s *SupplyDemand) addZone(symbol string, zone domain.Zone) {
	zones := s.zones[symbol]
	for i := range zones {
		z := &zones[i]
		if z.Kind != zone.Kind {
			continue
		}
		if math.Abs(z.Top-zone.Top)/zone.Top < 0.01 && math.Abs(z.Bottom-zone.Bottom)/zone.Bottom < 0.01 {
			if zone.Strength > z.Strength {
				z.Strength = zone.Strength
			}
			return
		}
	}
	s.zones[symbol] = append(zones, zone)
}

func (s *SupplyDemand) expireZones(symbol string, now time.Time) {
	cutoff := now.Add(-s.MaxZoneAge).Unix()
	zones := s.zones[symbol]
	kept := zones[:0]
	for _, z := range zones {
		if z.Created > cutoff && z.Touched < s.MaxTouches {
			kept = append(kept, z)
		}
	}
	s.zones[symbol] = kept
}

func isConsolidation(bars []domain.Candle, threshold float64) bool {
	high, low := rangeOf(bars)
	sum := 0.0
	for _, b := range bars {
		sum += b.Close
	}
	avg := sum / float64(len(bars))
	return (high-low)/avg < threshold
}

func rangeOf(bars []domain.Candle) (high, low float64) {
	high, low = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	return high, low
}

// zoneStrength scores 1-10: base of 5, plus a strong impulse body, plus a
// clean break with no wick crossing back into the base.
func zoneStrength(base []domain.Candle, impulse domain.Candle, baseHigh, baseLow float64) int {
	strength := 5
	if math.Abs(impulse.Close-impulse.Open)/impulse.Open > 0.05 {
		strength += 2
	}
	if impulse.Close < baseLow && impulse.Low <= baseLow*0.995 {
		strength++
	}
	if impulse.Close > baseHigh && impulse.High >= baseHigh*1.005 {
		strength++
	}
	if strength > 10 {
		strength = 10
	}
	return strength
}

func copyZone(z domain.Zone) *domain.Zone {
	return &z
}

package domain

import "time"

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionHold  Direction = "HOLD"
)

// TradeSignal is the directional recommendation produced by the upstream
// decision engine. The execution core treats it as opaque input: it never
// second-guesses the direction, it only decides whether and how to act on it.
type TradeSignal struct {
	Symbol        string
	Direction     Direction
	EntryPrice    float64
	StructuralRef float64 // 0 means no structural level available
	Confidence    float64
	GeneratedAt   time.Time
}

// Tradeable reports whether the signal asks for a position at all.
func (s TradeSignal) Tradeable() bool {
	return (s.Direction == DirectionLong || s.Direction == DirectionShort) && s.EntryPrice > 0
}

// MarketSnapshot is one tick of market data plus Greeks for the instrument
// being monitored. Produced outside the core; consumed as plain values.
type MarketSnapshot struct {
	Symbol    string
	LastPrice float64
	Bid       float64
	Ask       float64
	Delta     float64
	Gamma     float64
	Theta     float64
	Timestamp time.Time
}

// SpreadPct returns the bid/ask spread as a fraction of the mid price.
func (m MarketSnapshot) SpreadPct() float64 {
	mid := (m.Bid + m.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (m.Ask - m.Bid) / mid
}

// Age returns how old the snapshot is relative to now.
func (m MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}

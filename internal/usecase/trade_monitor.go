package usecase

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// TickDecision is the monitor's verdict for one trade on one tick. When
// Exit is false the trade simply keeps running (possibly with a tightened
// trailing stop).
type TickDecision struct {
	Exit      bool
	Reason    domain.ExitReason
	Detail    string
	ExitPrice float64
}

func monitorContinue() TickDecision { return TickDecision{} }

func requestExit(reason domain.ExitReason, detail string, price float64) TickDecision {
	return TickDecision{Exit: true, Reason: reason, Detail: detail, ExitPrice: price}
}

// TradeMonitor evaluates every exit trigger for an open trade against a
// fresh snapshot. It performs no broker I/O: when a trigger fires it only
// requests an exit, and the emergency path does the closing. Trigger
// priority is fixed (forced conditions, then target, then stop, then
// structural invalidation), so the recorded reason is deterministic even
// when several conditions are true on the same tick.
type TradeMonitor struct {
	cfg    Config
	logger *zap.Logger
}

func NewTradeMonitor(cfg Config, logger *zap.Logger) *TradeMonitor {
	return &TradeMonitor{cfg: cfg, logger: logger}
}

// OnTick must be called with the trade's slot lock held: it mutates the
// trailing stop and the unrealized P&L.
func (m *TradeMonitor) OnTick(trade *domain.ActiveTrade, snap domain.MarketSnapshot, now time.Time) TickDecision {
	if trade.Status != domain.TradeMonitoring {
		return monitorContinue()
	}

	price := snap.LastPrice
	trade.MarkToMarket(price)

	// 1. Forced-exit conditions: broken data or session end beats any
	// price-based trigger.
	if age := snap.Age(now); age > m.cfg.StaleDataTimeout {
		return requestExit(domain.ExitForced, "stale market data", price)
	}
	if spread := snap.SpreadPct(); spread > m.cfg.MaxSpreadPct {
		return requestExit(domain.ExitForced, "bid/ask spread blown out", price)
	}
	if m.cfg.afterMarketClose(now) {
		return requestExit(domain.ExitForced, "market close reached", price)
	}

	// 2. Target.
	if trade.Direction == domain.DirectionLong && price >= trade.Target {
		return requestExit(domain.ExitTarget, "target reached", price)
	}
	if trade.Direction == domain.DirectionShort && price <= trade.Target {
		return requestExit(domain.ExitTarget, "target reached", price)
	}

	// 3. Stop.
	if trade.Direction == domain.DirectionLong && price <= trade.Stop {
		return requestExit(domain.ExitStop, "stop hit", price)
	}
	if trade.Direction == domain.DirectionShort && price >= trade.Stop {
		return requestExit(domain.ExitStop, "stop hit", price)
	}

	// 4. Structural invalidation: each trigger is independently sufficient.
	if detail, fired := m.structuralTrigger(trade, snap); fired {
		return requestExit(domain.ExitStructural, detail, price)
	}

	// 5. Trailing stop: a mutation, never an exit.
	m.maybeTrailStop(trade, price)

	return monitorContinue()
}

func (m *TradeMonitor) structuralTrigger(trade *domain.ActiveTrade, snap domain.MarketSnapshot) (string, bool) {
	// Delta sign must agree with the position's direction; a flip means the
	// structure the entry was built on is gone.
	if trade.Direction == domain.DirectionLong && snap.Delta <= 0 {
		return "delta flipped against long", true
	}
	if trade.Direction == domain.DirectionShort && snap.Delta >= 0 {
		return "delta flipped against short", true
	}
	if math.Abs(snap.Gamma) < m.cfg.GammaExhaustionFloor {
		return "gamma exhausted", true
	}
	if math.Abs(snap.Theta) >= m.cfg.ThetaSpikeLimit {
		return "theta acceleration spike", true
	}
	return "", false
}

// maybeTrailStop tightens the stop once unrealized profit clears the
// activation threshold. The stop only ever moves in the protective
// direction.
func (m *TradeMonitor) maybeTrailStop(trade *domain.ActiveTrade, price float64) {
	if trade.EntryPrice <= 0 {
		return
	}

	if trade.Direction == domain.DirectionLong {
		profitPct := (price - trade.EntryPrice) / trade.EntryPrice
		if profitPct < m.cfg.TrailingActivatePct {
			return
		}
		newStop := price * (1 - m.cfg.TrailingOffsetPct)
		if newStop > trade.Stop {
			m.logger.Info("Trailing stop tightened",
				zap.String("trade_id", trade.ID),
				zap.Float64("old_stop", trade.Stop),
				zap.Float64("new_stop", newStop))
			trade.Stop = newStop
		}
		return
	}

	profitPct := (trade.EntryPrice - price) / trade.EntryPrice
	if profitPct < m.cfg.TrailingActivatePct {
		return
	}
	newStop := price * (1 + m.cfg.TrailingOffsetPct)
	if newStop < trade.Stop {
		m.logger.Info("Trailing stop tightened",
			zap.String("trade_id", trade.ID),
			zap.Float64("old_stop", trade.Stop),
			zap.Float64("new_stop", newStop))
		trade.Stop = newStop
	}
}

package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

func monitorNow() time.Time {
	// Mid-session, well before the configured market close.
	return time.Date(2024, 9, 2, 12, 0, 0, 0, time.Local)
}

func monitorTrade() *domain.ActiveTrade {
	return &domain.ActiveTrade{
		ID:            "T-1",
		Symbol:        "NIFTY24SEP24500CE",
		Direction:     domain.DirectionLong,
		Quantity:      1,
		LotMultiplier: 100,
		EntryPrice:    100,
		Stop:          95,
		Target:        105,
		Status:        domain.TradeMonitoring,
	}
}

func healthySnap(price float64, now time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:    "NIFTY24SEP24500CE",
		LastPrice: price,
		Bid:       price - 0.05,
		Ask:       price + 0.05,
		Delta:     0.5,
		Gamma:     0.01,
		Theta:     -5,
		Timestamp: now,
	}
}

func newTestMonitor() *TradeMonitor {
	cfg := DefaultConfig()
	cfg.MarketClose = "15:20"
	return NewTradeMonitor(cfg, zap.NewNop())
}

func TestMonitor_ContinueOnQuietTick(t *testing.T) {
	m := newTestMonitor()
	trade := monitorTrade()
	now := monitorNow()

	d := m.OnTick(trade, healthySnap(102, now), now)

	assert.False(t, d.Exit)
	assert.InDelta(t, 200, trade.UnrealizedPnL, 1e-9) // (102-100) * 1 * 100
}

func TestMonitor_TargetReached(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	d := m.OnTick(monitorTrade(), healthySnap(105.5, now), now)

	assert.True(t, d.Exit)
	assert.Equal(t, domain.ExitTarget, d.Reason)
	assert.Equal(t, 105.5, d.ExitPrice)
}

func TestMonitor_StopHit(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	d := m.OnTick(monitorTrade(), healthySnap(94.8, now), now)

	assert.True(t, d.Exit)
	assert.Equal(t, domain.ExitStop, d.Reason)
}

func TestMonitor_StopHitShort(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()
	trade := monitorTrade()
	trade.Direction = domain.DirectionShort
	trade.Stop = 104
	trade.Target = 96

	snap := healthySnap(104.2, now)
	snap.Delta = -0.5

	d := m.OnTick(trade, snap, now)
	assert.True(t, d.Exit)
	assert.Equal(t, domain.ExitStop, d.Reason)
}

func TestMonitor_DeltaFlip(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	snap := healthySnap(101, now)
	snap.Delta = -0.05

	d := m.OnTick(monitorTrade(), snap, now)

	assert.True(t, d.Exit)
	assert.Equal(t, domain.ExitStructural, d.Reason)
	assert.Contains(t, d.Detail, "delta")
}

func TestMonitor_GammaExhaustion(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	snap := healthySnap(101, now)
	snap.Gamma = 0.0001

	d := m.OnTick(monitorTrade(), snap, now)

	assert.True(t, d.Exit)
	assert.Equal(t, domain.ExitStructural, d.Reason)
	assert.Contains(t, d.Detail, "gamma")
}

func TestMonitor_ThetaSpike(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	snap := healthySnap(101, now)
	snap.Theta = -80

	d := m.OnTick(monitorTrade(), snap, now)

	assert.True(t, d.Exit)
	assert.Equal(t, domain.ExitStructural, d.Reason)
	assert.Contains(t, d.Detail, "theta")
}

func TestMonitor_ForcedExits(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	t.Run("stale data", func(t *testing.T) {
		snap := healthySnap(102, now.Add(-time.Minute))
		d := m.OnTick(monitorTrade(), snap, now)
		assert.True(t, d.Exit)
		assert.Equal(t, domain.ExitForced, d.Reason)
		assert.Contains(t, d.Detail, "stale")
	})

	t.Run("spread blown out", func(t *testing.T) {
		snap := healthySnap(102, now)
		snap.Bid = 95
		snap.Ask = 109
		d := m.OnTick(monitorTrade(), snap, now)
		assert.True(t, d.Exit)
		assert.Equal(t, domain.ExitForced, d.Reason)
		assert.Contains(t, d.Detail, "spread")
	})

	t.Run("market close", func(t *testing.T) {
		late := time.Date(2024, 9, 2, 15, 21, 0, 0, time.Local)
		d := m.OnTick(monitorTrade(), healthySnap(102, late), late)
		assert.True(t, d.Exit)
		assert.Equal(t, domain.ExitForced, d.Reason)
		assert.Contains(t, d.Detail, "market close")
	})
}

// When several triggers are true on the same tick, exactly one reason is
// recorded and the priority order decides which.
func TestMonitor_TriggerPriority(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	t.Run("forced beats target", func(t *testing.T) {
		trade := monitorTrade()
		snap := healthySnap(106, now.Add(-time.Minute)) // stale AND above target
		d := m.OnTick(trade, snap, now)
		assert.Equal(t, domain.ExitForced, d.Reason)
	})

	t.Run("target beats stop", func(t *testing.T) {
		// Degenerate band where one price satisfies both.
		trade := monitorTrade()
		trade.Target = 100
		trade.Stop = 100
		d := m.OnTick(trade, healthySnap(100, now), now)
		assert.Equal(t, domain.ExitTarget, d.Reason)
	})

	t.Run("stop beats structural", func(t *testing.T) {
		trade := monitorTrade()
		snap := healthySnap(94, now)
		snap.Delta = -0.3
		d := m.OnTick(trade, snap, now)
		assert.Equal(t, domain.ExitStop, d.Reason)
	})
}

func TestMonitor_TrailingStop(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	t.Run("tightens above activation", func(t *testing.T) {
		trade := monitorTrade()
		// +4% unrealized, activation is 3%.
		d := m.OnTick(trade, healthySnap(104, now), now)
		assert.False(t, d.Exit)
		assert.InDelta(t, 104*(1-0.015), trade.Stop, 1e-9)
	})

	t.Run("never loosens", func(t *testing.T) {
		trade := monitorTrade()
		m.OnTick(trade, healthySnap(104.9, now), now)
		tightened := trade.Stop
		m.OnTick(trade, healthySnap(104, now), now)
		assert.Equal(t, tightened, trade.Stop)
	})

	t.Run("inactive below activation", func(t *testing.T) {
		trade := monitorTrade()
		m.OnTick(trade, healthySnap(101, now), now)
		assert.Equal(t, 95.0, trade.Stop)
	})

	t.Run("short side tightens downward", func(t *testing.T) {
		trade := monitorTrade()
		trade.Direction = domain.DirectionShort
		trade.Stop = 104
		trade.Target = 90
		snap := healthySnap(96, now)
		snap.Delta = -0.5
		d := m.OnTick(trade, snap, now)
		assert.False(t, d.Exit)
		assert.InDelta(t, 96*1.015, trade.Stop, 1e-9)
	})
}

func TestMonitor_IgnoresNonMonitoringTrade(t *testing.T) {
	m := newTestMonitor()
	now := monitorNow()

	trade := monitorTrade()
	trade.Status = domain.TradeExitPending

	d := m.OnTick(trade, healthySnap(90, now), now)
	assert.False(t, d.Exit)
}

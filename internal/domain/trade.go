package domain

import (
	"fmt"
	"time"
)

type TradeStatus string

const (
	TradeEntryPending TradeStatus = "ENTRY_PENDING"
	TradeMonitoring   TradeStatus = "MONITORING"
	TradeExitPending  TradeStatus = "EXIT_PENDING"
	TradeExited       TradeStatus = "EXITED"
)

// statusRank orders the lifecycle. Transitions may only move forward.
func (s TradeStatus) statusRank() int {
	switch s {
	case TradeEntryPending:
		return 0
	case TradeMonitoring:
		return 1
	case TradeExitPending:
		return 2
	case TradeExited:
		return 3
	}
	return -1
}

// CanTransition reports whether moving from s to next respects the
// monotonic lifecycle EntryPending -> Monitoring -> ExitPending -> Exited.
func (s TradeStatus) CanTransition(next TradeStatus) bool {
	return next.statusRank() > s.statusRank()
}

type ExitReason string

const (
	// Priority order when several triggers fire on the same tick:
	// Forced > Target > Stop > StructuralInvalidation. KillSwitch is
	// recorded only when the exit originates from the kill-switch path.
	ExitForced     ExitReason = "FORCED"
	ExitTarget     ExitReason = "TARGET"
	ExitStop       ExitReason = "STOP"
	ExitStructural ExitReason = "STRUCTURAL_INVALIDATION"
	ExitKillSwitch ExitReason = "KILL_SWITCH"
)

type KillSwitchReason string

const (
	KillManual         KillSwitchReason = "MANUAL"
	KillCircuitBreaker KillSwitchReason = "CIRCUIT_BREAKER"
	KillFatalExit      KillSwitchReason = "FATAL_EXIT_FAILURE"
)

// ActiveTrade is a live, protected position. Stop and Target are mutable:
// trailing-stop logic rewrites Stop while the trade is monitored. All
// mutation is serialized by the engine's per-slot lock, never by the struct.
type ActiveTrade struct {
	ID            string
	Symbol        string
	Direction     Direction
	Quantity      int
	LotMultiplier int
	EntryPrice    float64
	EntryTime     time.Time
	Stop          float64
	Target        float64
	Status        TradeStatus
	UnrealizedPnL float64
	EntryOrderID  string
	StopOrderID   string
}

// Transition advances the lifecycle or reports why it cannot.
func (t *ActiveTrade) Transition(next TradeStatus) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("trade %s: illegal transition %s -> %s", t.ID, t.Status, next)
	}
	t.Status = next
	return nil
}

// MarkToMarket recomputes unrealized P&L against the given price.
func (t *ActiveTrade) MarkToMarket(price float64) float64 {
	move := price - t.EntryPrice
	if t.Direction == DirectionShort {
		move = -move
	}
	t.UnrealizedPnL = move * float64(t.Quantity*t.LotMultiplier)
	return t.UnrealizedPnL
}

// ClosedTrade is the immutable record of a finished trade. Appended to the
// durable ledger before the day's risk counters are updated.
type ClosedTrade struct {
	ID          int64
	TradeID     string
	Symbol      string
	Direction   Direction
	Quantity    int
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	Reason      ExitReason
	Detail      string
	EntryTime   time.Time
	ExitTime    time.Time
}

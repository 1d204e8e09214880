package usecase

import (
	"fmt"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// RejectionCode identifies which admission check failed.
type RejectionCode string

const (
	RejectMarketClosed  RejectionCode = "MARKET_CLOSED"
	RejectNoSignal      RejectionCode = "NO_TRADE_SIGNAL"
	RejectSlotOccupied  RejectionCode = "SLOT_OCCUPIED"
	RejectRiskLimit     RejectionCode = "RISK_LIMIT"
	RejectCooldown      RejectionCode = "COOLDOWN"
	RejectUnhealthyData RejectionCode = "UNHEALTHY_MARKET_DATA"
	RejectSizing        RejectionCode = "SIZING"
)

// Rejection is a typed admission failure. It carries both the machine code
// and the sentence an operator reads in the audit log.
type Rejection struct {
	Code   RejectionCode
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("trade rejected (%s): %s", r.Code, r.Reason)
}

// Admission is the gate's verdict. Either Allowed is true or Rejection is set.
type Admission struct {
	Allowed   bool
	Rejection *Rejection
}

func admit() Admission { return Admission{Allowed: true} }

func reject(code RejectionCode, format string, args ...any) Admission {
	return Admission{Rejection: &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}}
}

// SafetyGate runs the pre-trade admission checks. All checks must pass and
// they short-circuit in a fixed order so the first reported reason is
// always the most fundamental one.
type SafetyGate struct {
	ledger *RiskLedger
}

func NewSafetyGate(ledger *RiskLedger) *SafetyGate {
	return &SafetyGate{ledger: ledger}
}

// Evaluate never partially admits: a single failing check rejects the trade.
func (g *SafetyGate) Evaluate(signal domain.TradeSignal, marketOpen, slotOccupied bool) Admission {
	if !marketOpen {
		return reject(RejectMarketClosed, "market is closed")
	}
	if !signal.Tradeable() {
		return reject(RejectNoSignal, "signal %s @ %.2f does not request a trade", signal.Direction, signal.EntryPrice)
	}
	if slotOccupied {
		return reject(RejectSlotOccupied, "an active trade already occupies the slot for %s", signal.Symbol)
	}
	status := g.ledger.Status()
	if status.State == LedgerLocked {
		return reject(RejectRiskLimit, "risk limit: %s (trades today %d, day loss %.2f)",
			status.LockReason, status.TradesToday, status.DayLoss)
	}
	if status.State == LedgerUnlocked && !status.CanTrade {
		return reject(RejectRiskLimit, "risk limit: daily trade limit reached (%d today)", status.TradesToday)
	}
	if status.State == LedgerCooldown {
		return reject(RejectCooldown, "in cooldown until %s", status.LockedUntil.Format("15:04:05"))
	}
	return admit()
}

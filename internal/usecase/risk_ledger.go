package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

type LockState string

const (
	LedgerUnlocked LockState = "UNLOCKED"
	LedgerCooldown LockState = "COOLDOWN"
	LedgerLocked   LockState = "LOCKED"
)

// RiskLedgerStatus is a read-only snapshot for the status endpoints.
type RiskLedgerStatus struct {
	CanTrade          bool      `json:"can_trade"`
	State             LockState `json:"state"`
	TradesToday       int       `json:"trades_today"`
	DayLoss           float64   `json:"day_loss"`
	DayPnL            float64   `json:"day_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	LockedUntil       time.Time `json:"locked_until,omitempty"`
	LockReason        string    `json:"lock_reason,omitempty"`
}

// RiskLedger tracks today's trading activity and decides when the day is
// over before the clock says so. All transitions are monotonic within a
// day: once locked, only timer expiry or an explicit day reset unlocks,
// and nothing ever clears a recorded loss.
type RiskLedger struct {
	cfg    Config
	logger *zap.Logger

	mu                sync.Mutex
	tradesToday       int
	dayPnL            float64
	dayLoss           float64 // accumulated losses only, positive number
	consecutiveLosses int
	state             LockState
	lockedUntil       time.Time
	lockReason        string
}

func NewRiskLedger(cfg Config, logger *zap.Logger) *RiskLedger {
	return &RiskLedger{
		cfg:    cfg,
		logger: logger,
		state:  LedgerUnlocked,
	}
}

// RecordResult books one closed trade into the day's counters and applies
// the threshold transitions: a losing trade starts a cooldown, crossing the
// daily-loss cap or the consecutive-loss limit locks the rest of the day.
func (l *RiskLedger) RecordResult(pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tradesToday++
	l.dayPnL += pnl

	if pnl < 0 {
		l.dayLoss += -pnl
		l.consecutiveLosses++
	} else {
		l.consecutiveLosses = 0
	}

	switch {
	case l.dayLoss >= l.cfg.MaxDailyLoss:
		l.lockLocked(l.cfg.LossLockDuration, "daily loss limit reached")
	case l.consecutiveLosses >= l.cfg.ConsecutiveLossLimit:
		l.lockLocked(l.cfg.LossLockDuration, "consecutive loss limit reached")
	case pnl < 0:
		l.startCooldownLocked(l.cfg.CooldownAfterLoss)
	}

	l.logger.Info("Risk ledger updated",
		zap.Float64("pnl", pnl),
		zap.Int("trades_today", l.tradesToday),
		zap.Float64("day_loss", l.dayLoss),
		zap.Int("consecutive_losses", l.consecutiveLosses),
		zap.String("state", string(l.state)))
}

// ReplayClosedTrade rebuilds day counters from the durable ledger after a
// restart. Same bookkeeping as RecordResult, same threshold transitions.
func (l *RiskLedger) ReplayClosedTrade(trade *domain.ClosedTrade) {
	l.RecordResult(trade.RealizedPnL)
}

// CanTrade reports whether a new entry is currently admissible. An expired
// cooldown or lock unlocks lazily here.
func (l *RiskLedger) CanTrade() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked(time.Now())

	if l.state != LedgerUnlocked {
		return false
	}
	return l.tradesToday < l.cfg.MaxTradesPerDay
}

// InCooldown reports whether the ledger is inside a post-loss cooldown.
func (l *RiskLedger) InCooldown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked(time.Now())
	return l.state == LedgerCooldown
}

// StartCooldown pauses new entries for the given duration. A cooldown never
// downgrades a full lock.
func (l *RiskLedger) StartCooldown(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startCooldownLocked(d)
}

// Lock halts new entries for the given duration. Re-locking while already
// locked keeps the later expiry; the state is idempotent otherwise.
func (l *RiskLedger) Lock(d time.Duration, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lockLocked(d, reason)
}

// ResetForNewDay clears the day counters and unlocks at session start.
// This is the only operation allowed to discard a recorded loss.
func (l *RiskLedger) ResetForNewDay() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tradesToday = 0
	l.dayPnL = 0
	l.dayLoss = 0
	l.consecutiveLosses = 0
	l.state = LedgerUnlocked
	l.lockedUntil = time.Time{}
	l.lockReason = ""
	l.logger.Info("Risk ledger reset for new session")
}

// Status returns a point-in-time snapshot for reporting.
func (l *RiskLedger) Status() RiskLedgerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked(time.Now())

	return RiskLedgerStatus{
		CanTrade:          l.state == LedgerUnlocked && l.tradesToday < l.cfg.MaxTradesPerDay,
		State:             l.state,
		TradesToday:       l.tradesToday,
		DayLoss:           l.dayLoss,
		DayPnL:            l.dayPnL,
		ConsecutiveLosses: l.consecutiveLosses,
		LockedUntil:       l.lockedUntil,
		LockReason:        l.lockReason,
	}
}

// expireLocked lazily clears a cooldown or lock whose timer has run out.
// Caller holds l.mu.
func (l *RiskLedger) expireLocked(now time.Time) {
	if l.state == LedgerUnlocked || l.lockedUntil.IsZero() {
		return
	}
	if now.After(l.lockedUntil) {
		l.state = LedgerUnlocked
		l.lockedUntil = time.Time{}
		l.lockReason = ""
	}
}

func (l *RiskLedger) startCooldownLocked(d time.Duration) {
	if l.state == LedgerLocked {
		return // a cooldown never weakens a lock
	}
	until := time.Now().Add(d)
	if l.state == LedgerCooldown && l.lockedUntil.After(until) {
		return
	}
	l.state = LedgerCooldown
	l.lockedUntil = until
	l.lockReason = "cooldown after loss"
	l.logger.Info("Cooldown started", zap.Time("until", until))
}

func (l *RiskLedger) lockLocked(d time.Duration, reason string) {
	until := time.Now().Add(d)
	if l.state == LedgerLocked && l.lockedUntil.After(until) {
		return // keep the longer lock
	}
	l.state = LedgerLocked
	l.lockedUntil = until
	l.lockReason = reason
	l.logger.Warn("Risk ledger locked", zap.String("reason", reason), zap.Time("until", until))
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// tradeSlot is one instrument-class position slot. Its mutex serializes
// every status mutation of the trade it holds, including the emergency
// path acting concurrently with the tick loop.
type tradeSlot struct {
	mu       sync.Mutex
	trade    *domain.ActiveTrade
	reserved bool // placement in flight, slot taken but no trade yet
}

// ActivePosition is one row of the active-position summary.
type ActivePosition struct {
	TradeID       string             `json:"trade_id"`
	Symbol        string             `json:"symbol"`
	Direction     domain.Direction   `json:"direction"`
	Quantity      int                `json:"quantity"`
	EntryPrice    float64            `json:"entry_price"`
	Stop          float64            `json:"stop"`
	Target        float64            `json:"target"`
	Status        domain.TradeStatus `json:"status"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
}

type ActiveSummary struct {
	Count              int              `json:"count"`
	TotalUnrealizedPnL float64          `json:"total_unrealized_pnl"`
	Positions          []ActivePosition `json:"positions"`
}

type ClosedSummary struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	TotalPnL    float64 `json:"total_pnl"`
}

// Engine composes the gate, calculators, coordinator, monitor, emergency
// exiter and risk ledger into the trade lifecycle: admit, size, place,
// monitor, exit, record. It owns the shared mutable state (the ledger and
// the slot table) and hands components synchronized access only.
type Engine struct {
	cfg     Config
	broker  domain.Broker
	repo    domain.TradeRepository
	ledger  *RiskLedger
	gate    *SafetyGate
	coord   *OrderCoordinator
	monitor *TradeMonitor
	exiter  *EmergencyExiter
	breaker *CircuitBreaker
	logger  *zap.Logger

	mu        sync.Mutex
	slots     map[string]*tradeSlot
	lastSnaps map[string]domain.MarketSnapshot

	marketOpen atomic.Bool
	killed     atomic.Bool
	tradeSeq   atomic.Int64
}

func NewEngine(broker domain.Broker, repo domain.TradeRepository, cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	ledger := NewRiskLedger(cfg, logger)
	breaker := NewCircuitBreaker(cfg.CircuitBreakerThreshold)
	exiter := NewEmergencyExiter(broker, repo, ledger, cfg, logger)

	return &Engine{
		cfg:       cfg,
		broker:    broker,
		repo:      repo,
		ledger:    ledger,
		gate:      NewSafetyGate(ledger),
		coord:     NewOrderCoordinator(broker, exiter, breaker, cfg, logger),
		monitor:   NewTradeMonitor(cfg, logger),
		exiter:    exiter,
		breaker:   breaker,
		logger:    logger,
		slots:     make(map[string]*tradeSlot),
		lastSnaps: make(map[string]domain.MarketSnapshot),
	}, nil
}

// SetMarketOpen is driven by the session clock in cmd/bot.
func (e *Engine) SetMarketOpen(open bool) { e.marketOpen.Store(open) }

// RestoreDay rebuilds today's risk counters from the durable ledger, so a
// restart mid-session cannot grant a fresh risk budget.
func (e *Engine) RestoreDay(ctx context.Context, dayStart time.Time) error {
	trades, err := e.repo.ListClosedTradesSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("restore day: %w", err)
	}
	for _, t := range trades {
		e.ledger.ReplayClosedTrade(t)
	}
	if len(trades) > 0 {
		e.logger.Info("Restored day state from closed-trade ledger",
			zap.Int("trades", len(trades)))
	}
	return nil
}

// ResetForNewDay starts a fresh session: clean ledger, rearmed breaker.
func (e *Engine) ResetForNewDay() {
	e.ledger.ResetForNewDay()
	e.breaker.Reset()
	e.killed.Store(false)
}

// TryEnter runs the full admission path: data health, safety gate, stop and
// target computation, fixed-risk sizing, then the atomic two-leg placement.
// It returns the new trade's ID, or a *Rejection / *PlacementError the
// operator can audit.
func (e *Engine) TryEnter(ctx context.Context, signal domain.TradeSignal) (string, error) {
	// Stale or spread-blown market data blocks new entries, not just exits.
	if rej := e.dataHealthRejection(signal.Symbol); rej != nil {
		e.logRejection(ctx, signal, rej)
		return "", rej
	}

	slot := e.slotFor(signal.Symbol)

	slot.mu.Lock()
	occupied := slot.trade != nil || slot.reserved
	if !occupied && e.openPositionCount() >= e.cfg.MaxConcurrentPositions {
		occupied = true
	}
	if adm := e.gate.Evaluate(signal, e.marketOpen.Load(), occupied); !adm.Allowed {
		slot.mu.Unlock()
		e.logRejection(ctx, signal, adm.Rejection)
		return "", adm.Rejection
	}
	slot.reserved = true
	slot.mu.Unlock()

	release := func() {
		slot.mu.Lock()
		slot.reserved = false
		slot.mu.Unlock()
	}

	stop, err := ComputeStop(signal.EntryPrice, signal.StructuralRef, signal.Direction, e.cfg)
	if err != nil {
		release()
		rej := &Rejection{Code: RejectSizing, Reason: err.Error()}
		e.logRejection(ctx, signal, rej)
		return "", rej
	}
	target, err := ComputeTarget(signal.EntryPrice, signal.Direction, e.cfg.TargetPct)
	if err != nil {
		release()
		rej := &Rejection{Code: RejectSizing, Reason: err.Error()}
		e.logRejection(ctx, signal, rej)
		return "", rej
	}
	quantity, err := SizePosition(signal.EntryPrice, e.cfg.RiskPerTrade, stop, e.cfg.LotMultiplier)
	if err != nil {
		release()
		rej := &Rejection{Code: RejectSizing, Reason: err.Error()}
		e.logRejection(ctx, signal, rej)
		return "", rej
	}

	tradeID := fmt.Sprintf("T-%d-%d", time.Now().UnixNano(), e.tradeSeq.Add(1))

	trade, err := e.coord.PlaceProtected(ctx, tradeID, signal, quantity, stop, target)
	if err != nil {
		release()
		e.audit(ctx, tradeID, "placement_failed", err.Error())
		// An orphaned fill the coordinator could not flatten is the same
		// unrecoverable condition as a failed emergency exit: open exposure
		// the broker will not close. Halt all new trading.
		var pe *PlacementError
		if errors.As(err, &pe) && pe.OrphanUnresolved {
			e.logger.Error("Unresolved orphaned entry leg, escalating to kill-switch", zap.Error(err))
			if !e.killed.Load() {
				e.KillSwitch(ctx, domain.KillFatalExit)
			}
		}
		return "", err
	}

	slot.mu.Lock()
	slot.reserved = false
	if err := trade.Transition(domain.TradeMonitoring); err != nil {
		slot.mu.Unlock()
		return "", err
	}
	slot.trade = trade
	slot.mu.Unlock()

	e.audit(ctx, tradeID, "entered", fmt.Sprintf("%s %s x%d @ %.2f stop %.2f target %.2f",
		signal.Direction, signal.Symbol, quantity, trade.EntryPrice, stop, target))
	return tradeID, nil
}

// Tick feeds one market snapshot through the monitor for the matching open
// trade and reacts to its decision. A tripped circuit breaker escalates to
// the kill-switch here, on the next tick after it trips.
func (e *Engine) Tick(ctx context.Context, snap domain.MarketSnapshot) {
	e.mu.Lock()
	e.lastSnaps[snap.Symbol] = snap
	slot := e.slots[snap.Symbol]
	e.mu.Unlock()

	if e.breaker.Tripped() && !e.killed.Load() {
		e.KillSwitch(ctx, domain.KillCircuitBreaker)
		return
	}

	if slot == nil {
		return
	}

	slot.mu.Lock()
	trade := slot.trade
	if trade == nil || trade.Status != domain.TradeMonitoring {
		slot.mu.Unlock()
		return
	}

	decision := e.monitor.OnTick(trade, snap, time.Now())
	if !decision.Exit {
		slot.mu.Unlock()
		return
	}

	e.logger.Info("Exit requested",
		zap.String("trade_id", trade.ID),
		zap.String("reason", string(decision.Reason)),
		zap.String("detail", decision.Detail))

	_, err := e.exiter.ForceExit(ctx, trade, decision.Reason, decision.Detail, decision.ExitPrice)
	if err == nil {
		slot.trade = nil
		slot.mu.Unlock()
		return
	}
	slot.mu.Unlock()

	// The one condition the engine cannot self-heal: exposure is open and
	// the broker will not close it. Halt all new trading while it is
	// resolved out-of-band.
	e.logger.Error("Fatal exit failure, escalating to kill-switch", zap.Error(err))
	if !e.killed.Load() {
		e.KillSwitch(ctx, domain.KillFatalExit)
	}
}

// SweepStaleData force-exits any monitored position whose market data has
// gone silent past the staleness timeout. The monitor's own staleness check
// only runs when a tick arrives, so a feed that dies completely would never
// trigger it; the session clock drives this sweep instead.
func (e *Engine) SweepStaleData(ctx context.Context) {
	e.mu.Lock()
	slots := make(map[string]*tradeSlot, len(e.slots))
	for sym, s := range e.slots {
		slots[sym] = s
	}
	snaps := make(map[string]domain.MarketSnapshot, len(e.lastSnaps))
	for sym, s := range e.lastSnaps {
		snaps[sym] = s
	}
	e.mu.Unlock()

	now := time.Now()
	for sym, slot := range slots {
		slot.mu.Lock()
		trade := slot.trade
		if trade == nil || trade.Status != domain.TradeMonitoring {
			slot.mu.Unlock()
			continue
		}

		snap, seen := snaps[sym]
		stale := false
		exitPrice := trade.EntryPrice
		if seen {
			stale = snap.Age(now) > e.cfg.StaleDataTimeout
			if snap.LastPrice > 0 {
				exitPrice = snap.LastPrice
			}
		} else {
			// Never a single tick since entry counts as silence too.
			stale = now.Sub(trade.EntryTime) > e.cfg.StaleDataTimeout
		}
		if !stale {
			slot.mu.Unlock()
			continue
		}

		e.logger.Warn("Market data went silent, forcing exit",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", sym))
		_, err := e.exiter.ForceExit(ctx, trade, domain.ExitForced, "stale market data", exitPrice)
		if err == nil {
			slot.trade = nil
			slot.mu.Unlock()
			continue
		}
		slot.mu.Unlock()

		e.logger.Error("Fatal exit failure during stale-data sweep, escalating to kill-switch", zap.Error(err))
		if !e.killed.Load() {
			e.KillSwitch(ctx, domain.KillFatalExit)
		}
	}
}

// KillSwitch force-exits every open position and locks the risk ledger for
// the configured duration. Safe to invoke repeatedly: a second activation
// leaves the same locked state behind.
func (e *Engine) KillSwitch(ctx context.Context, reason domain.KillSwitchReason) []*domain.ClosedTrade {
	e.killed.Store(true)
	e.logger.Warn("KILL SWITCH ACTIVATED", zap.String("reason", string(reason)))

	e.mu.Lock()
	slots := make(map[string]*tradeSlot, len(e.slots))
	for sym, s := range e.slots {
		slots[sym] = s
	}
	snaps := make(map[string]domain.MarketSnapshot, len(e.lastSnaps))
	for sym, s := range e.lastSnaps {
		snaps[sym] = s
	}
	e.mu.Unlock()

	var closed []*domain.ClosedTrade
	for sym, slot := range slots {
		slot.mu.Lock()
		trade := slot.trade
		if trade == nil || trade.Status == domain.TradeExited {
			slot.mu.Unlock()
			continue
		}
		exitPrice := trade.EntryPrice
		if snap, ok := snaps[sym]; ok && snap.LastPrice > 0 {
			exitPrice = snap.LastPrice
		}
		ct, err := e.exiter.ForceExit(ctx, trade, domain.ExitKillSwitch, string(reason), exitPrice)
		if err != nil {
			e.logger.Error("Kill-switch exit failed, position left EXIT_PENDING",
				zap.String("trade_id", trade.ID), zap.Error(err))
			slot.mu.Unlock()
			continue
		}
		closed = append(closed, ct)
		slot.trade = nil
		slot.mu.Unlock()
	}

	e.ledger.Lock(e.cfg.KillSwitchLockDuration, fmt.Sprintf("kill switch: %s", reason))
	e.audit(ctx, "", "kill_switch", string(reason))
	return closed
}

// ActiveSummary reports all open positions and their running P&L.
func (e *Engine) ActiveSummary() ActiveSummary {
	e.mu.Lock()
	slots := make([]*tradeSlot, 0, len(e.slots))
	for _, s := range e.slots {
		slots = append(slots, s)
	}
	e.mu.Unlock()

	var summary ActiveSummary
	for _, slot := range slots {
		slot.mu.Lock()
		if t := slot.trade; t != nil && t.Status != domain.TradeExited {
			summary.Count++
			summary.TotalUnrealizedPnL += t.UnrealizedPnL
			summary.Positions = append(summary.Positions, ActivePosition{
				TradeID:       t.ID,
				Symbol:        t.Symbol,
				Direction:     t.Direction,
				Quantity:      t.Quantity,
				EntryPrice:    t.EntryPrice,
				Stop:          t.Stop,
				Target:        t.Target,
				Status:        t.Status,
				UnrealizedPnL: t.UnrealizedPnL,
			})
		}
		slot.mu.Unlock()
	}
	return summary
}

// ClosedSummarySince aggregates the day's closed trades from storage.
func (e *Engine) ClosedSummarySince(ctx context.Context, since time.Time) (ClosedSummary, error) {
	trades, err := e.repo.ListClosedTradesSince(ctx, since)
	if err != nil {
		return ClosedSummary{}, err
	}
	var summary ClosedSummary
	for _, t := range trades {
		summary.TotalTrades++
		summary.TotalPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			summary.Wins++
		}
	}
	if summary.TotalTrades > 0 {
		summary.WinRate = float64(summary.Wins) / float64(summary.TotalTrades)
	}
	return summary, nil
}

// RiskStatus exposes the ledger snapshot for operators.
func (e *Engine) RiskStatus() RiskLedgerStatus { return e.ledger.Status() }

// Ledger gives the session clock in cmd/bot access to day resets.
func (e *Engine) Ledger() *RiskLedger { return e.ledger }

func (e *Engine) slotFor(symbol string) *tradeSlot {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.slots[symbol]
	if !ok {
		slot = &tradeSlot{}
		e.slots[symbol] = slot
	}
	return slot
}

// openPositionCount counts occupied slots. Callers may hold one slot's
// lock; this reads the trade pointers without taking the per-slot locks,
// which is fine for an admission-time bound check on a low-volume book.
func (e *Engine) openPositionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.slots {
		if s.trade != nil || s.reserved {
			n++
		}
	}
	return n
}

func (e *Engine) dataHealthRejection(symbol string) *Rejection {
	e.mu.Lock()
	snap, ok := e.lastSnaps[symbol]
	e.mu.Unlock()
	if !ok {
		return nil // no tick seen yet, the gate's own checks still apply
	}
	if age := snap.Age(time.Now()); age > e.cfg.StaleDataTimeout {
		return &Rejection{Code: RejectUnhealthyData,
			Reason: fmt.Sprintf("market data for %s is %.1fs old", symbol, age.Seconds())}
	}
	if spread := snap.SpreadPct(); spread > e.cfg.MaxSpreadPct {
		return &Rejection{Code: RejectUnhealthyData,
			Reason: fmt.Sprintf("spread %.2f%% exceeds max %.2f%%", spread*100, e.cfg.MaxSpreadPct*100)}
	}
	return nil
}

func (e *Engine) logRejection(ctx context.Context, signal domain.TradeSignal, rej *Rejection) {
	e.logger.Info("Entry rejected",
		zap.String("symbol", signal.Symbol),
		zap.String("direction", string(signal.Direction)),
		zap.String("code", string(rej.Code)),
		zap.String("reason", rej.Reason))
	e.audit(ctx, "", "rejected", rej.Reason)
}

func (e *Engine) audit(ctx context.Context, tradeID, kind, detail string) {
	event := &domain.TradeEvent{TradeID: tradeID, Kind: kind, Detail: detail, CreatedAt: time.Now()}
	if err := e.repo.SaveTradeEvent(ctx, event); err != nil {
		e.logger.Warn("Failed to save trade event", zap.String("kind", kind), zap.Error(err))
	}
}

package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// CircuitBreaker counts consecutive broker/coordinator failures. When the
// streak reaches the threshold the engine escalates to a full kill-switch,
// independent of any manual action.
type CircuitBreaker struct {
	threshold int

	mu       sync.Mutex
	failures int
	tripped  bool
}

func NewCircuitBreaker(threshold int) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold}
}

// RecordFailure books one failure and reports whether this one tripped the
// breaker. Reports true only on the crossing, so the caller escalates once.
func (b *CircuitBreaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if !b.tripped && b.failures >= b.threshold {
		b.tripped = true
		return true
	}
	return false
}

// RecordSuccess clears the streak. A tripped breaker stays tripped until Reset.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		b.failures = 0
	}
}

func (b *CircuitBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Reset rearms the breaker, typically at session start.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.tripped = false
}

// EmergencyExiter force-closes positions with bounded retries. It is the
// only component allowed to leave a trade in ExitPending: that happens when
// every retry fails and the open exposure must be resolved out-of-band.
type EmergencyExiter struct {
	broker domain.Broker
	repo   domain.TradeRepository
	ledger *RiskLedger
	cfg    Config
	logger *zap.Logger
}

func NewEmergencyExiter(broker domain.Broker, repo domain.TradeRepository, ledger *RiskLedger, cfg Config, logger *zap.Logger) *EmergencyExiter {
	return &EmergencyExiter{
		broker: broker,
		repo:   repo,
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
	}
}

// ForceExit cancels the protective stop, market-closes the position and
// books the result. The caller must hold the trade's slot lock. On success
// the closed trade is durably appended before the risk ledger is updated;
// on exhausted retries the trade stays ExitPending and an unrecoverable
// alert is logged.
func (e *EmergencyExiter) ForceExit(ctx context.Context, trade *domain.ActiveTrade, reason domain.ExitReason, detail string, exitPrice float64) (*domain.ClosedTrade, error) {
	if trade.Status == domain.TradeExited {
		return nil, fmt.Errorf("trade %s already exited", trade.ID)
	}
	if trade.Status != domain.TradeExitPending {
		if err := trade.Transition(domain.TradeExitPending); err != nil {
			return nil, err
		}
	}

	// Best-effort cancel of the resting stop. If it is already gone the
	// market close below still flattens the book.
	if trade.StopOrderID != "" {
		if err := e.broker.CancelOrder(ctx, trade.StopOrderID); err != nil {
			e.logger.Warn("Failed to cancel protective stop, continuing with market exit",
				zap.String("trade_id", trade.ID),
				zap.String("stop_order_id", trade.StopOrderID),
				zap.Error(err))
		}
	}

	spec := domain.OrderSpec{
		Symbol:   trade.Symbol,
		Side:     closingSide(trade.Direction),
		Quantity: trade.Quantity,
	}

	if err := e.submitWithRetries(ctx, spec, trade.ID); err != nil {
		e.logger.Error("UNRECOVERABLE: emergency exit failed after retries, position left EXIT_PENDING",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", trade.Symbol),
			zap.Error(err))
		e.audit(ctx, trade.ID, "exit_failed", err.Error())
		return nil, fmt.Errorf("emergency exit for %s: %w", trade.ID, err)
	}

	closed := &domain.ClosedTrade{
		TradeID:     trade.ID,
		Symbol:      trade.Symbol,
		Direction:   trade.Direction,
		Quantity:    trade.Quantity,
		EntryPrice:  trade.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realizedPnL(trade, exitPrice),
		Reason:      reason,
		Detail:      detail,
		EntryTime:   trade.EntryTime,
		ExitTime:    time.Now(),
	}

	// Durable append first: a restart must be able to rebuild today's risk
	// counters from storage alone. If the append keeps failing the in-memory
	// booking still happens, but the session is locked: a result that exists
	// nowhere durable must not leave the risk budget free to regrow.
	persistErr := e.persistClosedTrade(ctx, closed)
	e.ledger.RecordResult(closed.RealizedPnL)
	if persistErr != nil {
		e.logger.Error("UNRECOVERABLE: failed to persist closed trade, locking session",
			zap.String("trade_id", trade.ID), zap.Error(persistErr))
		e.ledger.Lock(e.cfg.LossLockDuration, "closed-trade persistence failed")
		e.audit(ctx, trade.ID, "persist_failed", persistErr.Error())
	}

	if err := trade.Transition(domain.TradeExited); err != nil {
		return nil, err
	}

	e.logger.Info("Position closed",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("reason", string(reason)),
		zap.String("detail", detail),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", closed.RealizedPnL))
	e.audit(ctx, trade.ID, "exit", fmt.Sprintf("%s: %s (pnl %.2f)", reason, detail, closed.RealizedPnL))

	return closed, nil
}

// CloseOrphanLeg flattens a filled entry whose protective stop never
// confirmed. Called synchronously from the coordinator before its placement
// call returns, so an orphaned position is never observable outside it.
func (e *EmergencyExiter) CloseOrphanLeg(ctx context.Context, entry domain.BrokerOrder) error {
	spec := domain.OrderSpec{
		Symbol:   entry.Symbol,
		Side:     oppositeSide(entry.Side),
		Quantity: entry.Quantity,
	}
	if err := e.submitWithRetries(ctx, spec, entry.ID); err != nil {
		e.logger.Error("UNRECOVERABLE: failed to close orphaned entry leg",
			zap.String("order_id", entry.ID),
			zap.String("symbol", entry.Symbol),
			zap.Error(err))
		return fmt.Errorf("close orphaned leg %s: %w", entry.ID, err)
	}
	e.logger.Warn("Orphaned entry leg closed",
		zap.String("order_id", entry.ID),
		zap.String("symbol", entry.Symbol))
	e.audit(ctx, entry.ID, "orphan_closed", "entry leg flattened after stop-leg failure")
	return nil
}

// persistClosedTrade appends the result to durable storage, retrying with
// the same backoff schedule as exit submissions.
func (e *EmergencyExiter) persistClosedTrade(ctx context.Context, closed *domain.ClosedTrade) error {
	var lastErr error
	for attempt := 0; attempt < e.cfg.ExitRetryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.ExitRetryBackoff * time.Duration(attempt)):
			}
		}
		if err := e.repo.SaveClosedTrade(ctx, closed); err != nil {
			lastErr = err
			e.logger.Warn("Closed-trade append failed",
				zap.String("trade_id", closed.TradeID), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return nil
	}
	return lastErr
}

// submitWithRetries places a market order and waits for execution, retrying
// with backoff up to the configured bound. Before any retry it queries the
// previous attempt's status so a slow fill is never doubled.
func (e *EmergencyExiter) submitWithRetries(ctx context.Context, spec domain.OrderSpec, ref string) error {
	var lastErr error
	var pendingID string

	for attempt := 0; attempt < e.cfg.ExitRetryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.ExitRetryBackoff * time.Duration(attempt)):
			}
			// The previous submission may have gone through even though we
			// saw an error. Reconcile before submitting again.
			if pendingID != "" {
				status, err := e.broker.QueryStatus(ctx, pendingID)
				if err == nil && status == domain.OrderExecuted {
					return nil
				}
			}
		}

		id, err := e.broker.SubmitOrder(ctx, spec)
		if err != nil {
			lastErr = err
			e.logger.Warn("Exit submission failed",
				zap.String("ref", ref), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		pendingID = id

		if err := awaitOrderStatus(ctx, e.broker, id, e.cfg.BrokerTimeout, func(s domain.OrderStatus) bool {
			return s == domain.OrderExecuted
		}); err != nil {
			lastErr = err
			e.logger.Warn("Exit confirmation timed out",
				zap.String("ref", ref), zap.String("order_id", id), zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("exhausted %d exit attempts: %w", e.cfg.ExitRetryLimit, lastErr)
}

func (e *EmergencyExiter) audit(ctx context.Context, tradeID, kind, detail string) {
	event := &domain.TradeEvent{TradeID: tradeID, Kind: kind, Detail: detail, CreatedAt: time.Now()}
	if err := e.repo.SaveTradeEvent(ctx, event); err != nil {
		e.logger.Warn("Failed to save trade event", zap.String("kind", kind), zap.Error(err))
	}
}

func realizedPnL(trade *domain.ActiveTrade, exitPrice float64) float64 {
	move := exitPrice - trade.EntryPrice
	if trade.Direction == domain.DirectionShort {
		move = -move
	}
	return move * float64(trade.Quantity*trade.LotMultiplier)
}

func closingSide(d domain.Direction) domain.OrderSide {
	if d == domain.DirectionShort {
		return domain.SideBuy
	}
	return domain.SideSell
}

func oppositeSide(s domain.OrderSide) domain.OrderSide {
	switch s {
	case domain.SideBuy, domain.SideStopBuy:
		return domain.SideSell
	default:
		return domain.SideBuy
	}
}

package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// PlacementStage identifies where a two-leg placement fell apart.
type PlacementStage string

const (
	StageEntrySubmit PlacementStage = "ENTRY_SUBMIT"
	StageEntryAwait  PlacementStage = "ENTRY_CONFIRM"
	StageStopSubmit  PlacementStage = "STOP_SUBMIT"
	StageStopAwait   PlacementStage = "STOP_CONFIRM"
)

// PlacementError is returned whenever PlaceProtected cannot hand back a
// fully-protected trade. OrphanResolved reports that a filled entry leg had
// to be flattened on the way out; OrphanUnresolved reports the worse case
// where the flattening itself failed and an unprotected fill is still open
// at the broker. At most one of the two is set.
type PlacementError struct {
	Stage            PlacementStage
	Err              error
	OrphanResolved   bool
	OrphanUnresolved bool
}

func (e *PlacementError) Error() string {
	switch {
	case e.OrphanResolved:
		return fmt.Sprintf("placement failed at %s (orphaned entry closed): %v", e.Stage, e.Err)
	case e.OrphanUnresolved:
		return fmt.Sprintf("placement failed at %s (orphaned entry still open): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("placement failed at %s: %v", e.Stage, e.Err)
}

func (e *PlacementError) Unwrap() error { return e.Err }

// OrderCoordinator places the entry leg and its protective stop as one
// logical transaction. It either returns a trade with both legs confirmed,
// or an error after any half-placed state has been resolved: there is no
// return path that leaves an unprotected fill behind.
type OrderCoordinator struct {
	broker  domain.Broker
	exiter  *EmergencyExiter
	breaker *CircuitBreaker
	cfg     Config
	logger  *zap.Logger
}

func NewOrderCoordinator(broker domain.Broker, exiter *EmergencyExiter, breaker *CircuitBreaker, cfg Config, logger *zap.Logger) *OrderCoordinator {
	return &OrderCoordinator{
		broker:  broker,
		exiter:  exiter,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

// PlaceProtected runs the two-leg transaction. The trade it returns is in
// EntryPending; the engine promotes it to Monitoring once it takes ownership.
func (c *OrderCoordinator) PlaceProtected(ctx context.Context, tradeID string, signal domain.TradeSignal, quantity int, stopPrice, targetPrice float64) (*domain.ActiveTrade, error) {
	entrySpec := domain.OrderSpec{
		Symbol:   signal.Symbol,
		Side:     entrySide(signal.Direction),
		Quantity: quantity,
		Price:    signal.EntryPrice,
	}

	entry, err := c.placeLeg(ctx, entrySpec, domain.OrderExecuted)
	if err != nil {
		c.noteFailure()
		stage := StageEntrySubmit
		if entry.ID != "" {
			stage = StageEntryAwait
		}
		return nil, &PlacementError{Stage: stage, Err: err}
	}

	stopSpec := domain.OrderSpec{
		Symbol:   signal.Symbol,
		Side:     stopSide(signal.Direction),
		Quantity: quantity,
		Price:    stopPrice,
	}

	stop, err := c.placeLeg(ctx, stopSpec, domain.OrderPlaced)
	if err != nil {
		// The entry is filled but unprotected. Resolve the orphan before
		// returning: the caller must never observe a half-placed pair.
		c.noteFailure()
		c.logger.Error("Stop leg failed after entry fill, closing orphaned entry",
			zap.String("trade_id", tradeID),
			zap.String("entry_order_id", entry.ID),
			zap.Error(err))
		closeErr := c.exiter.CloseOrphanLeg(ctx, entry)
		stage := StageStopSubmit
		if stop.ID != "" {
			stage = StageStopAwait
		}
		if closeErr != nil {
			return nil, &PlacementError{
				Stage:            stage,
				Err:              fmt.Errorf("%v; orphan close also failed: %w", err, closeErr),
				OrphanUnresolved: true,
			}
		}
		return nil, &PlacementError{Stage: stage, Err: err, OrphanResolved: true}
	}

	pair, err := domain.NewLinkedOrderPair(entry, stop)
	if err != nil {
		// Should be impossible: both legs were just confirmed.
		c.noteFailure()
		closeErr := c.exiter.CloseOrphanLeg(ctx, entry)
		return nil, &PlacementError{
			Stage:            StageStopAwait,
			Err:              err,
			OrphanResolved:   closeErr == nil,
			OrphanUnresolved: closeErr != nil,
		}
	}

	c.breaker.RecordSuccess()
	c.logger.Info("Protected position placed",
		zap.String("trade_id", tradeID),
		zap.String("symbol", signal.Symbol),
		zap.String("direction", string(signal.Direction)),
		zap.Int("quantity", quantity),
		zap.Float64("entry", pair.Entry().Price),
		zap.Float64("stop", stopPrice),
		zap.Float64("target", targetPrice))

	return &domain.ActiveTrade{
		ID:            tradeID,
		Symbol:        signal.Symbol,
		Direction:     signal.Direction,
		Quantity:      quantity,
		LotMultiplier: c.cfg.LotMultiplier,
		EntryPrice:    pair.Entry().Price,
		EntryTime:     pair.Entry().PlacedAt,
		Stop:          stopPrice,
		Target:        targetPrice,
		Status:        domain.TradeEntryPending,
		EntryOrderID:  pair.Entry().ID,
		StopOrderID:   pair.Stop().ID,
	}, nil
}

// placeLeg submits one leg and waits until it reaches at least want. On a
// confirmation timeout it queries the final status once more before giving
// up, because the broker may have filled the order after our deadline.
// It never submits the same leg twice.
func (c *OrderCoordinator) placeLeg(ctx context.Context, spec domain.OrderSpec, want domain.OrderStatus) (domain.BrokerOrder, error) {
	order := domain.BrokerOrder{
		Symbol:   spec.Symbol,
		Side:     spec.Side,
		Quantity: spec.Quantity,
		Price:    spec.Price,
		Status:   domain.OrderPending,
	}

	id, err := c.broker.SubmitOrder(ctx, spec)
	if err != nil {
		return order, fmt.Errorf("submit %s %s: %w", spec.Side, spec.Symbol, err)
	}
	order.ID = id
	order.Status = domain.OrderPlaced
	order.PlacedAt = time.Now()

	reached := func(s domain.OrderStatus) bool {
		if want == domain.OrderPlaced {
			return s == domain.OrderPlaced || s == domain.OrderExecuted
		}
		return s == want
	}

	if err := awaitOrderStatus(ctx, c.broker, id, c.cfg.BrokerTimeout, reached); err != nil {
		// One final reconciliation: a timeout is not proof of failure.
		status, qErr := c.broker.QueryStatus(ctx, id)
		if qErr == nil && reached(status) {
			order.Status = status
			order.UpdatedAt = time.Now()
			return order, nil
		}
		return order, fmt.Errorf("confirm %s %s: %w", spec.Side, id, err)
	}

	status, err := c.broker.QueryStatus(ctx, id)
	if err != nil {
		return order, fmt.Errorf("query %s after confirm: %w", id, err)
	}
	order.Status = status
	order.UpdatedAt = time.Now()

	if status == domain.OrderRejected || status == domain.OrderCancelled {
		return order, fmt.Errorf("leg %s terminal with status %s", id, status)
	}
	return order, nil
}

func (c *OrderCoordinator) noteFailure() {
	if c.breaker.RecordFailure() {
		c.logger.Error("Circuit breaker tripped by repeated placement failures")
	}
}

// awaitOrderStatus polls the broker until the order reaches an acceptable
// status, a terminal rejection, or the timeout expires.
func awaitOrderStatus(ctx context.Context, broker domain.Broker, orderID string, timeout time.Duration, reached func(domain.OrderStatus) bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := broker.QueryStatus(ctx, orderID)
		if err == nil {
			if reached(status) {
				return nil
			}
			if status == domain.OrderRejected || status == domain.OrderCancelled {
				return fmt.Errorf("order %s terminal with status %s", orderID, status)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("order %s confirmation: %w", orderID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func entrySide(d domain.Direction) domain.OrderSide {
	if d == domain.DirectionShort {
		return domain.SideSell
	}
	return domain.SideBuy
}

func stopSide(d domain.Direction) domain.OrderSide {
	if d == domain.DirectionShort {
		return domain.SideStopBuy
	}
	return domain.SideStopSell
}

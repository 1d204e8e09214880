package domain

import (
	"context"
	"time"
)

// Broker is the narrow surface the execution core needs from the brokerage
// client. Transport, auth and wire formats live behind it.
type Broker interface {
	SubmitOrder(ctx context.Context, spec OrderSpec) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	QueryStatus(ctx context.Context, orderID string) (OrderStatus, error)
}

// TradeRepository persists the append-only closed-trade ledger. A trade is
// only considered final once SaveClosedTrade has returned, so a restart can
// rebuild the day's risk counters from ListClosedTradesSince.
type TradeRepository interface {
	SaveClosedTrade(ctx context.Context, trade *ClosedTrade) error
	ListClosedTrades(ctx context.Context, limit int) ([]*ClosedTrade, error)
	ListClosedTradesSince(ctx context.Context, since time.Time) ([]*ClosedTrade, error)
	SaveTradeEvent(ctx context.Context, event *TradeEvent) error
}

// TradeEvent is one audit row in the order lifecycle: placements, exits,
// rejections, kill-switch activations. Operators reconstruct decisions
// from these after the fact.
type TradeEvent struct {
	ID        int64
	TradeID   string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

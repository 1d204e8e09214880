package domain

import (
	"fmt"
	"time"
)

type OrderSide string

const (
	SideBuy      OrderSide = "BUY"
	SideSell     OrderSide = "SELL"
	SideStopSell OrderSide = "STOP_SELL" // protective stop for a long entry
	SideStopBuy  OrderSide = "STOP_BUY"  // protective stop for a short entry
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPlaced    OrderStatus = "PLACED"
	OrderExecuted  OrderStatus = "EXECUTED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	return s == OrderExecuted || s == OrderRejected || s == OrderCancelled
}

// OrderSpec is what the coordinator asks the broker to do for one leg.
type OrderSpec struct {
	Symbol   string
	Side     OrderSide
	Quantity int
	Price    float64 // limit price for entry, trigger price for stops
}

// BrokerOrder is one leg as acknowledged by the broker. The coordinator owns
// it until execution is confirmed; after that the record belongs to the trade.
type BrokerOrder struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Quantity  int
	Price     float64
	Status    OrderStatus
	PlacedAt  time.Time
	UpdatedAt time.Time
}

// LinkedOrderPair binds an executed entry leg to its confirmed protective
// stop. The unexported fields and the single constructor make a half-placed
// pair unrepresentable: callers can only obtain a pair once both legs exist.
type LinkedOrderPair struct {
	entry BrokerOrder
	stop  BrokerOrder
}

// NewLinkedOrderPair builds a pair from two confirmed legs. It refuses legs
// that are not actually confirmed, so a pair value is itself the proof that
// the position is protected.
func NewLinkedOrderPair(entry, stop BrokerOrder) (LinkedOrderPair, error) {
	if entry.Status != OrderExecuted {
		return LinkedOrderPair{}, fmt.Errorf("entry leg %s not executed (status %s)", entry.ID, entry.Status)
	}
	if stop.Status != OrderPlaced && stop.Status != OrderExecuted {
		return LinkedOrderPair{}, fmt.Errorf("stop leg %s not confirmed (status %s)", stop.ID, stop.Status)
	}
	return LinkedOrderPair{entry: entry, stop: stop}, nil
}

func (p LinkedOrderPair) Entry() BrokerOrder { return p.entry }
func (p LinkedOrderPair) Stop() BrokerOrder  { return p.stop }

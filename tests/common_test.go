package tests

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// scriptedBroker fills everything instantly unless a failure flag is set.
type scriptedBroker struct {
	mu  sync.Mutex
	seq int

	FailStopSubmit bool

	orders    map[string]domain.OrderStatus
	Submitted []domain.OrderSpec
	Cancelled []string
}

func newScriptedBroker() *scriptedBroker {
	return &scriptedBroker{orders: make(map[string]domain.OrderStatus)}
}

func stopOrder(side domain.OrderSide) bool {
	return side == domain.SideStopBuy || side == domain.SideStopSell
}

func (b *scriptedBroker) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Submitted = append(b.Submitted, spec)
	if stopOrder(spec.Side) && b.FailStopSubmit {
		return "", errors.New("stop order rejected")
	}

	b.seq++
	id := fmt.Sprintf("ord-%d", b.seq)
	if stopOrder(spec.Side) {
		b.orders[id] = domain.OrderPlaced
	} else {
		b.orders[id] = domain.OrderExecuted
	}
	return id, nil
}

func (b *scriptedBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[orderID]; !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	b.Cancelled = append(b.Cancelled, orderID)
	b.orders[orderID] = domain.OrderCancelled
	return nil
}

func (b *scriptedBroker) QueryStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.orders[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}
	return status, nil
}

// NetPosition is positive when buys outweigh sells across all fills.
func (b *scriptedBroker) NetPosition() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	net := 0
	for _, spec := range b.Submitted {
		if stopOrder(spec.Side) {
			continue
		}
		if spec.Side == domain.SideBuy {
			net += spec.Quantity
		} else {
			net -= spec.Quantity
		}
	}
	return net
}

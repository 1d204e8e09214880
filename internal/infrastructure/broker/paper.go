package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// PaperBroker fills everything instantly against itself. Used for dry runs
// and by cmd/bot when no API credentials are configured: the whole engine
// runs unchanged, only the fills are imaginary.
type PaperBroker struct {
	mu     sync.Mutex
	seq    int
	orders map[string]domain.OrderStatus
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{orders: make(map[string]domain.OrderStatus)}
}

func (p *PaperBroker) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("paper-%d-%d", time.Now().UnixNano(), p.seq)

	// Stop legs rest at the broker; market and limit legs fill at once.
	if spec.Side == domain.SideStopBuy || spec.Side == domain.SideStopSell {
		p.orders[id] = domain.OrderPlaced
	} else {
		p.orders[id] = domain.OrderExecuted
	}
	return id, nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if status.Terminal() {
		return fmt.Errorf("order %s already %s", orderID, status)
	}
	p.orders[orderID] = domain.OrderCancelled
	return nil
}

func (p *PaperBroker) QueryStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.orders[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}
	return status, nil
}

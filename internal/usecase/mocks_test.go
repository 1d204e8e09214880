package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// mockBroker scripts per-leg behavior with flags, in the spirit of the
// hand-rolled exchange mocks used across the service tests.
type mockBroker struct {
	mu  sync.Mutex
	seq int

	orders map[string]domain.OrderStatus

	// Failure injection
	FailEntrySubmit bool // entry/market submissions return an error
	FailStopSubmit  bool // stop submissions return an error
	StopNeverFills  bool // stop submission succeeds but never confirms
	ExitSubmitFails int  // number of market-exit submissions that error before one succeeds

	Submitted []domain.OrderSpec
	Cancelled []string

	specs        map[string]domain.OrderSpec
	exitFailures int
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		orders: make(map[string]domain.OrderStatus),
		specs:  make(map[string]domain.OrderSpec),
	}
}

func isStopSide(s domain.OrderSide) bool {
	return s == domain.SideStopBuy || s == domain.SideStopSell
}

func (m *mockBroker) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Submitted = append(m.Submitted, spec)

	if isStopSide(spec.Side) {
		if m.FailStopSubmit {
			return "", errors.New("stop leg rejected by broker")
		}
	} else if spec.Price > 0 {
		// Entry legs carry a price; market exits do not.
		if m.FailEntrySubmit {
			return "", errors.New("entry leg rejected by broker")
		}
	} else {
		if m.exitFailures < m.ExitSubmitFails {
			m.exitFailures++
			return "", errors.New("exit submission failed")
		}
	}

	m.seq++
	id := fmt.Sprintf("mock-%d", m.seq)
	m.specs[id] = spec
	switch {
	case isStopSide(spec.Side) && m.StopNeverFills:
		m.orders[id] = domain.OrderPending
	case isStopSide(spec.Side):
		m.orders[id] = domain.OrderPlaced
	default:
		m.orders[id] = domain.OrderExecuted
	}
	return id, nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, orderID)
	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	m.orders[orderID] = domain.OrderCancelled
	return nil
}

func (m *mockBroker) QueryStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.orders[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}
	return status, nil
}

// OpenExposure counts non-stop fills minus closes: >0 means a long position
// is still open at the broker. Only submissions that produced an executed
// order count; an errored submission never moved a position.
func (m *mockBroker) OpenExposure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	exposure := 0
	for id, spec := range m.specs {
		if isStopSide(spec.Side) || m.orders[id] != domain.OrderExecuted {
			continue
		}
		if spec.Side == domain.SideBuy {
			exposure += spec.Quantity
		} else {
			exposure -= spec.Quantity
		}
	}
	return exposure
}

// mockRepo is an in-memory TradeRepository.
type mockRepo struct {
	mu     sync.Mutex
	Closed []*domain.ClosedTrade
	Events []*domain.TradeEvent

	FailSave     bool
	SaveFailures int    // number of saves that error before one succeeds
	SaveHook     func() // runs inside SaveClosedTrade, before the append

	saveFailed int
}

func newMockRepo() *mockRepo {
	return &mockRepo{}
}

func (r *mockRepo) SaveClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSave {
		return errors.New("storage unavailable")
	}
	if r.saveFailed < r.SaveFailures {
		r.saveFailed++
		return errors.New("storage unavailable")
	}
	if r.SaveHook != nil {
		r.SaveHook()
	}
	trade.ID = int64(len(r.Closed) + 1)
	r.Closed = append(r.Closed, trade)
	return nil
}

func (r *mockRepo) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ClosedTrade, len(r.Closed))
	copy(out, r.Closed)
	return out, nil
}

func (r *mockRepo) ListClosedTradesSince(ctx context.Context, since time.Time) ([]*domain.ClosedTrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ClosedTrade
	for _, t := range r.Closed {
		if !t.ExitTime.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *mockRepo) SaveTradeEvent(ctx context.Context, event *domain.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, event)
	return nil
}

// testConfig shrinks the timeouts so failure paths resolve quickly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BrokerTimeout = 300 * time.Millisecond
	cfg.ExitRetryBackoff = 10 * time.Millisecond
	cfg.CooldownAfterLoss = 50 * time.Millisecond
	cfg.MarketClose = "23:59"
	return cfg
}

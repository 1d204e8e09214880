package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeLifecycleIsMonotonic(t *testing.T) {
	trade := &ActiveTrade{ID: "T-1", Status: TradeEntryPending}

	require.NoError(t, trade.Transition(TradeMonitoring))
	require.NoError(t, trade.Transition(TradeExitPending))

	// No way back.
	assert.Error(t, trade.Transition(TradeMonitoring))
	assert.Error(t, trade.Transition(TradeEntryPending))

	require.NoError(t, trade.Transition(TradeExited))
	assert.Error(t, trade.Transition(TradeExitPending))
}

func TestTradeCanSkipForward(t *testing.T) {
	trade := &ActiveTrade{ID: "T-1", Status: TradeMonitoring}
	assert.NoError(t, trade.Transition(TradeExited))
}

func TestMarkToMarket(t *testing.T) {
	long := &ActiveTrade{Direction: DirectionLong, Quantity: 2, LotMultiplier: 50, EntryPrice: 100}
	assert.InDelta(t, 300, long.MarkToMarket(103), 1e-9)

	short := &ActiveTrade{Direction: DirectionShort, Quantity: 2, LotMultiplier: 50, EntryPrice: 100}
	assert.InDelta(t, -300, short.MarkToMarket(103), 1e-9)
}

func TestLinkedOrderPairRequiresConfirmedLegs(t *testing.T) {
	entry := BrokerOrder{ID: "e1", Status: OrderExecuted}
	stop := BrokerOrder{ID: "s1", Status: OrderPlaced}

	pair, err := NewLinkedOrderPair(entry, stop)
	require.NoError(t, err)
	assert.Equal(t, "e1", pair.Entry().ID)
	assert.Equal(t, "s1", pair.Stop().ID)

	// An unfilled entry can never anchor a pair.
	entry.Status = OrderPlaced
	_, err = NewLinkedOrderPair(entry, stop)
	assert.Error(t, err)

	// Neither can a stop the broker has not acknowledged.
	entry.Status = OrderExecuted
	stop.Status = OrderPending
	_, err = NewLinkedOrderPair(entry, stop)
	assert.Error(t, err)

	stop.Status = OrderCancelled
	_, err = NewLinkedOrderPair(entry, stop)
	assert.Error(t, err)
}

func TestSnapshotHealthMeasures(t *testing.T) {
	snap := MarketSnapshot{Bid: 99, Ask: 101}
	assert.InDelta(t, 0.02, snap.SpreadPct(), 1e-9)

	empty := MarketSnapshot{}
	assert.Zero(t, empty.SpreadPct())
}

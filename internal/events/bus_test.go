package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cctoken/internal/ledger"
)

func TestBusRoutesByKind(t *testing.T) {
	bus := NewBus(nil)

	var mints, all []ledger.Event
	require.NoError(t, bus.Subscribe(ledger.OpMint, func(ev ledger.Event) { mints = append(mints, ev) }))
	require.NoError(t, bus.SubscribeAll(func(ev ledger.Event) { all = append(all, ev) }))

	bus.Emit(ledger.Event{TxID: 1, Kind: ledger.OpMint, To: "alice", Delta: 10})
	bus.Emit(ledger.Event{TxID: 2, Kind: ledger.OpTransfer, From: "alice", To: "bob"})
	bus.Emit(ledger.Event{TxID: 3, Kind: ledger.OpBurn, From: "bob", Delta: -1})

	require.Len(t, mints, 1)
	require.Equal(t, uint64(1), mints[0].TxID)
	require.Len(t, all, 3)
	require.Equal(t, "cct:transfer_from", Topic(ledger.OpTransferFrom))
}

func TestBusAsyncAndUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	handler := func(ledger.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}
	require.NoError(t, bus.SubscribeAsync(Topic(ledger.OpApprove), handler))

	for i := 0; i < 5; i++ {
		bus.Emit(ledger.Event{TxID: uint64(i + 1), Kind: ledger.OpApprove})
	}
	bus.WaitAsync()
	mu.Lock()
	require.Equal(t, 5, count)
	mu.Unlock()

	require.NoError(t, bus.Unsubscribe(Topic(ledger.OpApprove), handler))
	bus.Emit(ledger.Event{TxID: 9, Kind: ledger.OpApprove})
	bus.WaitAsync()
	mu.Lock()
	require.Equal(t, 5, count)
	mu.Unlock()
}

func TestRecorderAndMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, b}
	m.Emit(ledger.Event{TxID: 1, Kind: ledger.OpMint})
	m.Emit(ledger.Event{TxID: 2, Kind: ledger.OpBurn})

	require.Len(t, a.Events(), 2)
	require.Equal(t, a.Events(), b.Events())
	a.Reset()
	require.Empty(t, a.Events())
	require.Len(t, b.Events(), 2)
}

func TestLogEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bus := NewBus(nil)
	require.NoError(t, LogEvents(bus, zap.New(core)))

	bus.Emit(ledger.Event{TxID: 4, Kind: ledger.OpTransfer, From: "alice", To: "bob", Height: 12})

	entries := logs.FilterMessage("ledger event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "transfer", fields["kind"])
	require.Equal(t, uint64(4), fields["tx_id"])
}

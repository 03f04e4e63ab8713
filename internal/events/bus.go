// Package events delivers committed ledger events to subscribers.
//
// Bus publishes every event twice: on "cct:<kind>" and on TopicAll. Handlers take a
// single ledger.Event argument.
package events

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"cctoken/internal/ledger"
)

const (
	topicPrefix = "cct:"
	// TopicAll receives every event regardless of kind.
	TopicAll = topicPrefix + "*"
)

// Topic returns the topic events of kind are published on.
func Topic(kind ledger.OpKind) string {
	return topicPrefix + string(kind)
}

// Bus is a ledger.Emitter backed by asaskevich/EventBus.
type Bus struct {
	bus evbus.Bus
	log *zap.Logger
}

var _ ledger.Emitter = (*Bus)(nil)

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{bus: evbus.New(), log: logger}
}

// Emit publishes ev on its kind topic and on TopicAll.
func (b *Bus) Emit(ev ledger.Event) {
	topic := Topic(ev.Kind)
	if b.bus.HasCallback(topic) {
		b.bus.Publish(topic, ev)
	}
	if b.bus.HasCallback(TopicAll) {
		b.bus.Publish(TopicAll, ev)
	}
	b.log.Debug("event published", zap.String("topic", topic), zap.Uint64("tx_id", ev.TxID))
}

// Subscribe runs fn synchronously for every event of kind.
func (b *Bus) Subscribe(kind ledger.OpKind, fn func(ev ledger.Event)) error {
	return b.bus.Subscribe(Topic(kind), fn)
}

// SubscribeAll runs fn synchronously for every event.
func (b *Bus) SubscribeAll(fn func(ev ledger.Event)) error {
	return b.bus.Subscribe(TopicAll, fn)
}

// SubscribeAsync runs fn on its own goroutine for every event on topic. Calls for
// one handler are serialized.
func (b *Bus) SubscribeAsync(topic string, fn func(ev ledger.Event)) error {
	return b.bus.SubscribeAsync(topic, fn, true)
}

// Unsubscribe removes fn from topic.
func (b *Bus) Unsubscribe(topic string, fn func(ev ledger.Event)) error {
	return b.bus.Unsubscribe(topic, fn)
}

// WaitAsync blocks until asynchronous handlers have drained.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *Recorder) Emit(ev ledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []ledger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.Event(nil), r.events...)
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi fans an event out to several emitters in order.
type Multi []ledger.Emitter

func (m Multi) Emit(ev ledger.Event) {
	for _, em := range m {
		em.Emit(ev)
	}
}

// LogEvents subscribes a handler that writes every event to logger.
func LogEvents(b *Bus, logger *zap.Logger) error {
	return b.SubscribeAll(func(ev ledger.Event) {
		logger.Info("ledger event",
			zap.Uint64("tx_id", ev.TxID),
			zap.String("kind", string(ev.Kind)),
			zap.String("from", string(ev.From)),
			zap.String("to", string(ev.To)),
			zap.String("owner", string(ev.Owner)),
			zap.String("spender", string(ev.Spender)),
			zap.Float64("delta", ev.Delta),
			zap.Uint64("height", ev.Height))
	})
}

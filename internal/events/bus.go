package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HistoryLimit caps the audit ring of published events.
const HistoryLimit = 10000

var (
	// ErrBusUnavailable is returned when the broker refuses a connection.
	ErrBusUnavailable = errors.New("event bus unavailable")
	// ErrBusNotConnected is returned for operations on a disconnected bus.
	ErrBusNotConnected = errors.New("event bus not connected")
)

// Handler processes a delivered event. Handlers must be idempotent or
// deduplicate on event id: delivery is at-least-once.
type Handler func(ctx context.Context, event *Event) error

// Message is a raw broker delivery before decoding.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live broker-side channel subscription that can grow and
// shrink while the listener runs.
type Subscription interface {
	Channel() <-chan Message
	Add(ctx context.Context, channels ...string) error
	Remove(ctx context.Context, channels ...string) error
	Close() error
}

// Broker is the narrow surface the bus needs from the message broker:
// pub/sub channels plus a sorted-set history ring.
type Broker interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	HistoryAdd(ctx context.Context, key string, score float64, payload []byte) error
	HistoryTrim(ctx context.Context, key string, keep int64) error
	HistoryRange(ctx context.Context, key string, limit int64) ([]string, error)
	Subscribe(ctx context.Context, channels ...string) Subscription
}

// BusHealth is a point-in-time view of the bus. Connected reflects the last
// broker ping; it is not a liveness oracle for subscribers.
type BusHealth struct {
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
	Listening     bool `json:"listening"`
}

// BusStats tracks dispatch metrics.
type BusStats struct {
	EventsPublished  int64 `json:"events_published"`
	EventsDispatched int64 `json:"events_dispatched"`
	DecodeFailures   int64 `json:"decode_failures"`
	HandlerErrors    int64 `json:"handler_errors"`
}

// SubscriptionHandle identifies one registered handler for removal.
type SubscriptionHandle struct {
	kind Kind
	id   uint64
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus is a topic-per-kind pub/sub event bus. Every published event is also
// recorded in a sorted-set history ring trimmed to HistoryLimit entries.
type Bus struct {
	broker Broker
	prefix string
	logger *logrus.Logger

	mu        sync.RWMutex
	handlers  map[Kind][]registration
	nextID    uint64
	connected bool
	listening bool
	sub       Subscription
	cancel    context.CancelFunc
	done      chan struct{}

	statsMu sync.Mutex
	stats   BusStats
}

// NewBus creates a bus over the given broker. The prefix namespaces every
// channel and the history key.
func NewBus(broker Broker, prefix string, logger *logrus.Logger) *Bus {
	if prefix == "" {
		prefix = "fpl"
	}
	return &Bus{
		broker:   broker,
		prefix:   prefix,
		logger:   logger,
		handlers: make(map[Kind][]registration),
	}
}

func (b *Bus) channelFor(kind Kind) string {
	return b.prefix + ":" + string(kind)
}

func (b *Bus) historyKey() string {
	return b.prefix + ":events:history"
}

// Connect verifies the broker is reachable. Idempotent.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}
	if err := b.broker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	b.connected = true
	b.logger.WithField("prefix", b.prefix).Info("Event bus connected")
	return nil
}

// Disconnect stops the listener and marks the bus disconnected. Subsequent
// publishes fail with ErrBusNotConnected.
func (b *Bus) Disconnect(ctx context.Context) error {
	b.StopListening()

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	b.logger.Info("Event bus disconnected")
	return nil
}

// Publish encodes the event, publishes it to the kind's channel and records
// it in the history ring. History failures are logged but never fail the
// publish. Returns the broker-reported subscriber count.
func (b *Bus) Publish(ctx context.Context, event *Event) (int64, error) {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()
	if !connected {
		return 0, ErrBusNotConnected
	}

	data, err := event.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	receivers, err := b.broker.Publish(ctx, b.channelFor(event.Kind), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish %s: %w", event.Kind, err)
	}

	b.statsMu.Lock()
	b.stats.EventsPublished++
	b.statsMu.Unlock()

	// Best-effort audit ring
	key := b.historyKey()
	if err := b.broker.HistoryAdd(ctx, key, float64(event.Timestamp.UnixMilli()), data); err != nil {
		b.logger.WithError(err).WithField("event_id", event.ID).Warn("History write failed")
	} else if err := b.broker.HistoryTrim(ctx, key, HistoryLimit); err != nil {
		b.logger.WithError(err).Warn("History trim failed")
	}

	b.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Kind,
		"receivers":  receivers,
	}).Debug("Event published")

	return receivers, nil
}

// Subscribe registers a handler for a kind. The first handler for a kind
// triggers the broker-level channel subscription; later handlers share it.
func (b *Bus) Subscribe(ctx context.Context, kind Kind, handler Handler) (*SubscriptionHandle, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, kind)
	}
	if handler == nil {
		return nil, fmt.Errorf("nil handler for %s", kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	reg := registration{id: b.nextID, handler: handler}
	first := len(b.handlers[kind]) == 0
	b.handlers[kind] = append(b.handlers[kind], reg)

	if first && b.listening && b.sub != nil {
		if err := b.sub.Add(ctx, b.channelFor(kind)); err != nil {
			b.handlers[kind] = b.handlers[kind][:len(b.handlers[kind])-1]
			return nil, fmt.Errorf("failed to subscribe channel for %s: %w", kind, err)
		}
	}

	return &SubscriptionHandle{kind: kind, id: reg.id}, nil
}

// Unsubscribe removes every handler for a kind and releases the broker-level
// subscription. Unsubscribing a kind with no handlers is a no-op.
func (b *Bus) Unsubscribe(ctx context.Context, kind Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.handlers[kind]) == 0 {
		return nil
	}
	delete(b.handlers, kind)
	return b.releaseChannel(ctx, kind)
}

// UnsubscribeHandler removes a single handler. Removing the last handler for
// the kind releases the broker-level subscription. Unknown handles are a
// no-op.
func (b *Bus) UnsubscribeHandler(ctx context.Context, handle *SubscriptionHandle) error {
	if handle == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[handle.kind]
	for i, reg := range regs {
		if reg.id == handle.id {
			b.handlers[handle.kind] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[handle.kind]) == 0 {
		delete(b.handlers, handle.kind)
		return b.releaseChannel(ctx, handle.kind)
	}
	return nil
}

// releaseChannel drops the broker subscription for a kind. Callers hold b.mu.
func (b *Bus) releaseChannel(ctx context.Context, kind Kind) error {
	if b.listening && b.sub != nil {
		if err := b.sub.Remove(ctx, b.channelFor(kind)); err != nil {
			return fmt.Errorf("failed to release channel for %s: %w", kind, err)
		}
	}
	return nil
}

// StartListening launches the background listener over every currently
// subscribed kind. Idempotent.
func (b *Bus) StartListening(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrBusNotConnected
	}
	if b.listening {
		b.mu.Unlock()
		return nil
	}

	channels := make([]string, 0, len(b.handlers))
	for kind := range b.handlers {
		channels = append(channels, b.channelFor(kind))
	}

	listenCtx, cancel := context.WithCancel(ctx)
	b.sub = b.broker.Subscribe(listenCtx, channels...)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.listening = true
	sub := b.sub
	done := b.done
	b.mu.Unlock()

	go b.listen(listenCtx, sub, done)

	b.logger.WithField("channels", len(channels)).Info("Event bus listener started")
	return nil
}

// StopListening cancels the listener loop and waits briefly for it to drain.
// Idempotent.
func (b *Bus) StopListening() {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return
	}
	b.listening = false
	cancel := b.cancel
	sub := b.sub
	done := b.done
	b.sub = nil
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			b.logger.WithError(err).Debug("Subscription close failed")
		}
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			b.logger.Warn("Listener did not drain within grace period")
		}
	}
	b.logger.Info("Event bus listener stopped")
}

// listen is the single long-running dispatch loop. Handler errors and panics
// never terminate it.
func (b *Bus) listen(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			b.dispatch(ctx, msg)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, msg Message) {
	event, err := Decode([]byte(msg.Payload))
	if err != nil {
		b.statsMu.Lock()
		b.stats.DecodeFailures++
		b.statsMu.Unlock()
		b.logger.WithError(err).WithField("channel", msg.Channel).Warn("Dropping undecodable message")
		return
	}

	b.mu.RLock()
	regs := make([]registration, len(b.handlers[event.Kind]))
	copy(regs, b.handlers[event.Kind])
	b.mu.RUnlock()

	for _, reg := range regs {
		b.invoke(ctx, reg.handler, event)
	}

	b.statsMu.Lock()
	b.stats.EventsDispatched++
	b.statsMu.Unlock()
}

func (b *Bus) invoke(ctx context.Context, handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.statsMu.Lock()
			b.stats.HandlerErrors++
			b.statsMu.Unlock()
			b.logger.WithFields(logrus.Fields{
				"event_id":   event.ID,
				"event_type": event.Kind,
				"panic":      r,
			}).Error("Handler panicked")
		}
	}()

	if err := handler(ctx, event); err != nil {
		b.statsMu.Lock()
		b.stats.HandlerErrors++
		b.statsMu.Unlock()
		b.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Kind,
		}).Error("Handler failed")
	}
}

// History returns the most recent events newest-first, optionally filtered
// by kind. Read errors yield an empty slice.
func (b *Bus) History(ctx context.Context, limit int, kind *Kind) []*Event {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}

	raw, err := b.broker.HistoryRange(ctx, b.historyKey(), int64(limit))
	if err != nil {
		b.logger.WithError(err).Warn("History read failed")
		return []*Event{}
	}

	out := make([]*Event, 0, len(raw))
	for _, entry := range raw {
		event, err := Decode([]byte(entry))
		if err != nil {
			continue
		}
		if kind != nil && event.Kind != *kind {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Health pings the broker and reports the subscription and listener state.
func (b *Bus) Health(ctx context.Context) BusHealth {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	connected := b.broker.Ping(pingCtx) == nil

	b.mu.RLock()
	subs := len(b.handlers)
	listening := b.listening
	b.mu.RUnlock()

	return BusHealth{
		Connected:     connected,
		Subscriptions: subs,
		Listening:     listening,
	}
}

// Stats returns a snapshot of dispatch counters.
func (b *Bus) Stats() BusStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
)

// Logic is the behaviour an agent plugs into the shared lifecycle: a name,
// the event kinds it wants, and a handler.
type Logic interface {
	Name() string
	Kinds() []events.Kind
	HandleEvent(ctx context.Context, event *events.Event) error
}

// StartHook is implemented by logic that needs setup before subscriptions go
// live.
type StartHook interface {
	OnStart(ctx context.Context) error
}

// StopHook is implemented by logic that needs teardown after subscriptions
// are removed.
type StopHook interface {
	OnStop(ctx context.Context) error
}

// handlerTimeout caps a single handler invocation so a wedged agent cannot
// stall the dispatch loop behind it.
const handlerTimeout = 2 * time.Minute

// Stats is a snapshot of an agent's counters.
type Stats struct {
	Agent           string    `json:"agent"`
	Running         bool      `json:"running"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	EventsProcessed int64     `json:"events_processed"`
	EventsFailed    int64     `json:"events_failed"`
	EventsRetried   int64     `json:"events_retried"`
	EventsPublished int64     `json:"events_published"`
	LastError       string    `json:"last_error,omitempty"`
	LastEventAt     time.Time `json:"last_event_at,omitempty"`
}

// Agent wraps a Logic with subscription lifecycle, panic containment, error
// notifications and capped retry republication.
type Agent struct {
	logic  Logic
	bus    *events.Bus
	logger *logrus.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	handles   []*events.SubscriptionHandle

	statsMu         sync.Mutex
	eventsProcessed int64
	eventsFailed    int64
	eventsRetried   int64
	eventsPublished int64
	lastError       string
	lastEventAt     time.Time
}

// New wraps logic around the shared bus.
func New(logic Logic, bus *events.Bus, logger *logrus.Logger) *Agent {
	return &Agent{
		logic:  logic,
		bus:    bus,
		logger: logger,
	}
}

// Name returns the wrapped logic's name.
func (a *Agent) Name() string {
	return a.logic.Name()
}

// Start runs the optional start hook, subscribes the agent's kinds and
// announces the agent on the bus. Starting twice is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.WithField("agent", a.Name()).Warn("Agent already started")
		return nil
	}
	a.mu.Unlock()

	if hook, ok := a.logic.(StartHook); ok {
		if err := hook.OnStart(ctx); err != nil {
			return fmt.Errorf("agent %s start hook: %w", a.Name(), err)
		}
	}

	kinds := a.logic.Kinds()
	handles := make([]*events.SubscriptionHandle, 0, len(kinds))
	for _, kind := range kinds {
		handle, err := a.bus.Subscribe(ctx, kind, a.handle)
		if err != nil {
			for _, h := range handles {
				_ = a.bus.UnsubscribeHandler(ctx, h)
			}
			return fmt.Errorf("agent %s subscribe %s: %w", a.Name(), kind, err)
		}
		handles = append(handles, handle)
	}

	a.mu.Lock()
	a.running = true
	a.startedAt = time.Now().UTC()
	a.handles = handles
	a.mu.Unlock()

	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}
	a.publish(ctx, events.KindSystemStartup, events.StartupPayload{
		Agent: a.Name(),
		Kinds: kindNames,
	})

	a.logger.WithFields(logrus.Fields{
		"agent": a.Name(),
		"kinds": len(kinds),
	}).Info("Agent started")

	return nil
}

// Stop removes the agent's subscriptions, runs the optional stop hook and
// announces the shutdown. Stopping twice is a no-op.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	handles := a.handles
	a.handles = nil
	a.mu.Unlock()

	for _, h := range handles {
		if err := a.bus.UnsubscribeHandler(ctx, h); err != nil {
			a.logger.WithError(err).WithField("agent", a.Name()).Warn("Failed to remove subscription")
		}
	}

	if hook, ok := a.logic.(StopHook); ok {
		if err := hook.OnStop(ctx); err != nil {
			a.logger.WithError(err).WithField("agent", a.Name()).Warn("Agent stop hook failed")
		}
	}

	a.publish(ctx, events.KindSystemShutdown, events.ShutdownPayload{Agent: a.Name()})

	a.logger.WithField("agent", a.Name()).Info("Agent stopped")
	return nil
}

// Running reports whether Start has completed and Stop has not.
func (a *Agent) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Publish sends an event stamped with this agent as source and counts it.
func (a *Agent) Publish(ctx context.Context, kind events.Kind, payload interface{}, opts ...events.Option) error {
	opts = append(opts, events.WithSource(a.Name()))
	event, err := events.New(kind, payload, opts...)
	if err != nil {
		return err
	}
	if _, err := a.bus.Publish(ctx, event); err != nil {
		return err
	}
	a.statsMu.Lock()
	a.eventsPublished++
	a.statsMu.Unlock()
	return nil
}

// publish is the best-effort variant used for lifecycle notices.
func (a *Agent) publish(ctx context.Context, kind events.Kind, payload interface{}) {
	if err := a.Publish(ctx, kind, payload); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"agent": a.Name(),
			"kind":  kind,
		}).Warn("Failed to publish lifecycle event")
	}
}

// handle is the wrapper registered on the bus for every subscribed kind. It
// contains panics, publishes an error notification on failure, and
// republishes the event with an incremented retry counter until the cap.
func (a *Agent) handle(ctx context.Context, event *events.Event) error {
	handlerCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	err := a.invoke(handlerCtx, event)
	if err == nil {
		a.statsMu.Lock()
		a.eventsProcessed++
		a.lastEventAt = time.Now().UTC()
		a.statsMu.Unlock()
		return nil
	}

	a.statsMu.Lock()
	a.eventsFailed++
	a.lastError = err.Error()
	a.lastEventAt = time.Now().UTC()
	a.statsMu.Unlock()

	a.logger.WithError(err).WithFields(logrus.Fields{
		"agent":    a.Name(),
		"event_id": event.ID,
		"kind":     event.Kind,
		"retry":    event.Retry,
	}).Error("Agent handler failed")

	a.publishError(ctx, event, err)

	if event.CanRetry() {
		retried := event.WithRetry()
		if _, pubErr := a.bus.Publish(ctx, retried); pubErr != nil {
			a.logger.WithError(pubErr).WithFields(logrus.Fields{
				"agent":    a.Name(),
				"event_id": event.ID,
			}).Error("Failed to republish event for retry")
		} else {
			a.statsMu.Lock()
			a.eventsRetried++
			a.statsMu.Unlock()
		}
	} else {
		a.logger.WithFields(logrus.Fields{
			"agent":    a.Name(),
			"event_id": event.ID,
			"kind":     event.Kind,
			"retries":  event.Retry,
		}).Error("Event dropped after exhausting retries")
	}

	return err
}

// invoke calls the logic's handler with panic containment.
func (a *Agent) invoke(ctx context.Context, event *events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return a.logic.HandleEvent(ctx, event)
}

func (a *Agent) publishError(ctx context.Context, event *events.Event, handlerErr error) {
	payload := events.NotificationPayload{
		Level:   "error",
		Title:   fmt.Sprintf("%s handler failed", a.Name()),
		Message: handlerErr.Error(),
		Agent:   a.Name(),
		EventID: event.ID,
	}
	notice, err := events.New(events.KindNotificationError, payload,
		events.WithSource(a.Name()),
		events.WithPriority(events.PriorityHigh),
		events.WithCorrelation(event.ID),
	)
	if err != nil {
		a.logger.WithError(err).WithField("agent", a.Name()).Error("Failed to build error notification")
		return
	}
	if _, err := a.bus.Publish(ctx, notice); err != nil {
		a.logger.WithError(err).WithField("agent", a.Name()).Error("Failed to publish error notification")
	}
}

// Stats returns a snapshot of the agent's counters.
func (a *Agent) Stats() Stats {
	a.mu.RLock()
	running := a.running
	startedAt := a.startedAt
	a.mu.RUnlock()

	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return Stats{
		Agent:           a.Name(),
		Running:         running,
		StartedAt:       startedAt,
		EventsProcessed: a.eventsProcessed,
		EventsFailed:    a.eventsFailed,
		EventsRetried:   a.eventsRetried,
		EventsPublished: a.eventsPublished,
		LastError:       a.lastError,
		LastEventAt:     a.lastEventAt,
	}
}

// Package event carries ordered session change events from the coordinator to
// connected clients and out-of-band sinks.
package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultAsyncQueueSize = 1000

type Type string

const (
	UserJoined         Type = "user-joined"
	UserLeft           Type = "user-left"
	ParticipantCount   Type = "participant-count"
	VoteCast           Type = "vote-cast"
	CommentAdded       Type = "comment-added"
	RequirementChanged Type = "requirement-changed"
	SessionStatus      Type = "session-status"
	DecisionRecorded   Type = "decision-recorded"
)

// Event is one applied mutation. Seq increases strictly per session and is
// assigned while the session is serialized, so subscribers see the order the
// coordinator applied the mutations.
type Event struct {
	Type      Type
	SessionID string
	Seq       uint64
	At        time.Time
	Data      any
}

type HandlerFunc func(Event)

type SubscriberID int

type subscriber struct {
	name    string
	handler HandlerFunc
	queue   chan Event
	done    chan struct{}
}

// Bus fans events out to subscribers. Synchronous subscribers run inside
// Publish on the publisher's goroutine; asynchronous ones get a bounded queue
// drained by a dedicated goroutine and drop events when the queue is full.
type Bus struct {
	mu        sync.RWMutex
	subs      map[SubscriberID]*subscriber
	order     []SubscriberID
	lastSubID SubscriberID
	stopped   bool
	logger    *slog.Logger
	metrics   *busMetrics
}

func NewBus(promRegistry prometheus.Registerer, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:   make(map[SubscriberID]*subscriber),
		logger: logger,
	}
	if promRegistry != nil {
		b.initMetrics(promRegistry)
	}
	return b
}

// SubscribeFunc registers a handler invoked synchronously, in publish order.
// Handlers must not block for long: they run while the publishing session is
// serialized.
func (b *Bus) SubscribeFunc(handler HandlerFunc) SubscriberID {
	return b.add(&subscriber{name: "sync", handler: handler})
}

// SubscribeAsync registers a handler fed through a queue of queueSize events.
func (b *Bus) SubscribeAsync(name string, queueSize int, handler HandlerFunc) SubscriberID {
	if queueSize <= 0 {
		queueSize = DefaultAsyncQueueSize
	}
	sub := &subscriber{
		name:    name,
		handler: handler,
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
	id := b.add(sub)
	if id == 0 {
		return 0
	}
	go func() {
		defer close(sub.done)
		for evt := range sub.queue {
			handler(evt)
		}
	}()
	return id
}

func (b *Bus) add(sub *subscriber) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0
	}
	b.lastSubID++
	id := b.lastSubID
	b.subs[id] = sub
	b.order = append(b.order, id)
	if b.metrics != nil {
		b.metrics.subscribers.Inc()
	}
	return id
}

// Unsubscribe removes a subscriber. Async subscribers drain what is already
// queued before their goroutine exits.
func (b *Bus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		for i, candidate := range b.order {
			if candidate == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		if b.metrics != nil {
			b.metrics.subscribers.Dec()
		}
	}
	b.mu.Unlock()

	if ok && sub.queue != nil {
		close(sub.queue)
		<-sub.done
	}
}

func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}
	if b.metrics != nil {
		b.metrics.published.WithLabelValues(string(evt.Type)).Inc()
	}
	for _, id := range b.order {
		sub := b.subs[id]
		if sub.queue == nil {
			sub.handler(evt)
			continue
		}
		select {
		case sub.queue <- evt:
		default:
			if b.metrics != nil {
				b.metrics.dropped.WithLabelValues(sub.name).Inc()
			}
			b.logger.Warn(
				"event queue full, dropping event",
				"subscriber", sub.name,
				"type", evt.Type,
				"session_id", evt.SessionID,
				"seq", evt.Seq,
			)
		}
	}
}

// Stop closes every async queue and waits for the draining goroutines.
// Publish is a no-op afterwards.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	pending := make([]*subscriber, 0, len(b.subs))
	for _, id := range b.order {
		if sub := b.subs[id]; sub.queue != nil {
			pending = append(pending, sub)
		}
	}
	b.subs = make(map[SubscriberID]*subscriber)
	b.order = nil
	b.mu.Unlock()

	for _, sub := range pending {
		close(sub.queue)
		<-sub.done
	}
}

package event

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscribeFuncDeliversInPublishOrder(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Stop()

	var got []uint64
	bus.SubscribeFunc(func(evt Event) {
		got = append(got, evt.Seq)
	})
	for seq := uint64(1); seq <= 5; seq++ {
		bus.Publish(Event{Type: VoteCast, SessionID: "S1", Seq: seq})
	}

	if len(got) != 5 {
		t.Fatalf("delivered %d events, want 5", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, seq, i+1)
		}
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Stop()

	var at time.Time
	bus.SubscribeFunc(func(evt Event) { at = evt.At })
	bus.Publish(Event{Type: UserJoined, SessionID: "S1"})
	if at.IsZero() {
		t.Fatal("expected Publish to stamp At")
	}
}

func TestSubscribeAsyncDrainsOnStop(t *testing.T) {
	bus := NewBus(nil, nil)

	var (
		mu  sync.Mutex
		got []Type
	)
	bus.SubscribeAsync("test", 10, func(evt Event) {
		mu.Lock()
		got = append(got, evt.Type)
		mu.Unlock()
	})
	bus.Publish(Event{Type: VoteCast, SessionID: "S1", Seq: 1})
	bus.Publish(Event{Type: CommentAdded, SessionID: "S1", Seq: 2})
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != VoteCast || got[1] != CommentAdded {
		t.Fatalf("async delivery = %v, want [vote-cast comment-added]", got)
	}

	bus.Publish(Event{Type: VoteCast, SessionID: "S1", Seq: 3})
	if len(got) != 2 {
		t.Fatal("expected Publish after Stop to be a no-op")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Stop()

	count := 0
	id := bus.SubscribeFunc(func(Event) { count++ })
	bus.Publish(Event{Type: UserLeft, SessionID: "S1"})
	bus.Unsubscribe(id)
	bus.Publish(Event{Type: UserLeft, SessionID: "S1"})

	if count != 1 {
		t.Fatalf("handler called %d times, want 1", count)
	}

	asyncID := bus.SubscribeAsync("late", 1, func(Event) {})
	bus.Unsubscribe(asyncID)
	bus.Unsubscribe(asyncID)
}

func TestFullAsyncQueueDropsAndCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	bus := NewBus(registry, nil)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.SubscribeAsync("slow", 1, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.Publish(Event{Type: VoteCast, SessionID: "S1", Seq: 1})
	<-started
	bus.Publish(Event{Type: VoteCast, SessionID: "S1", Seq: 2})
	bus.Publish(Event{Type: VoteCast, SessionID: "S1", Seq: 3})

	if dropped := testutil.ToFloat64(bus.metrics.dropped.WithLabelValues("slow")); dropped != 1 {
		t.Fatalf("dropped = %v, want 1", dropped)
	}
	if published := testutil.ToFloat64(bus.metrics.published.WithLabelValues(string(VoteCast))); published != 3 {
		t.Fatalf("published = %v, want 3", published)
	}

	close(release)
	bus.Stop()
}

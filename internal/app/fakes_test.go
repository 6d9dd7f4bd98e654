package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"reviewroom/api/internal/event"
	"reviewroom/api/internal/store"
)

var errStoreDown = errors.New("connection refused")

// fakeStore wraps the in-memory store; a non-nil fn field overrides the
// matching method.
type fakeStore struct {
	*store.MemoryStore

	getSessionFn         func(context.Context, string) (store.Session, error)
	updateSessionStateFn func(context.Context, string, store.SessionState) error
	putVoteFn            func(context.Context, store.Vote) error
	insertCommentFn      func(context.Context, store.Comment) error
	setPresenceFn        func(context.Context, string, string, bool, time.Time) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: store.NewMemoryStore()}
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.getSessionFn != nil {
		return f.getSessionFn(ctx, sessionID)
	}
	return f.MemoryStore.GetSession(ctx, sessionID)
}

func (f *fakeStore) UpdateSessionState(ctx context.Context, sessionID string, state store.SessionState) error {
	if f.updateSessionStateFn != nil {
		return f.updateSessionStateFn(ctx, sessionID, state)
	}
	return f.MemoryStore.UpdateSessionState(ctx, sessionID, state)
}

func (f *fakeStore) PutVote(ctx context.Context, vote store.Vote) error {
	if f.putVoteFn != nil {
		return f.putVoteFn(ctx, vote)
	}
	return f.MemoryStore.PutVote(ctx, vote)
}

func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return f.MemoryStore.InsertComment(ctx, comment)
}

func (f *fakeStore) SetParticipantPresence(ctx context.Context, sessionID, userID string, online bool, at time.Time) error {
	if f.setPresenceFn != nil {
		return f.setPresenceFn(ctx, sessionID, userID, online, at)
	}
	return f.MemoryStore.SetParticipantPresence(ctx, sessionID, userID, online, at)
}

// failNTimes returns a func that fails the first n calls and then delegates.
func failNTimes[T any](n int, next func(context.Context, T) error) (func(context.Context, T) error, *int) {
	calls := 0
	var mu sync.Mutex
	return func(ctx context.Context, value T) error {
		mu.Lock()
		calls++
		current := calls
		mu.Unlock()
		if current <= n {
			return errStoreDown
		}
		return next(ctx, value)
	}, &calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(evt event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) all() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Event(nil), p.events...)
}

func (p *recordingPublisher) ofType(eventType event.Type) []event.Event {
	items := make([]event.Event, 0)
	for _, evt := range p.all() {
		if evt.Type == eventType {
			items = append(items, evt)
		}
	}
	return items
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type testHarness struct {
	store       *fakeStore
	events      *recordingPublisher
	coordinator *Coordinator
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	fake := newFakeStore()
	events := &recordingPublisher{}
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	coordinator := NewCoordinator(Options{
		Store:      fake,
		Events:     events,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		RetryDelay: time.Millisecond,
		Now: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return &testHarness{store: fake, events: events, coordinator: coordinator}
}

// createSession makes a three-requirement session run by "fac" with
// participants "u1", "u2" and observer "obs".
func (h *testHarness) createSession(t *testing.T) store.Session {
	t.Helper()
	session, err := h.coordinator.CreateSession(context.Background(), CreateSessionInput{
		Name:            "Sprint 12 review",
		RequirementRefs: []string{"REQ-1", "REQ-2", "REQ-3"},
		Participants: []ParticipantInput{
			{UserID: "fac", DisplayName: "Fran", Role: "facilitator"},
			{UserID: "u1", DisplayName: "Uma"},
			{UserID: "u2", DisplayName: "Ugo"},
			{UserID: "obs", DisplayName: "Olive", Role: "observer"},
		},
		CreatedBy: "fac",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (h *testHarness) startSession(t *testing.T) store.Session {
	t.Helper()
	session := h.createSession(t)
	if _, err := h.coordinator.StartSession(context.Background(), session.ID, "fac"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	h.events.reset()
	return session
}

func assertCode(t *testing.T, err error, sentinel *DomainError) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", sentinel.Code)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %s, got %v", sentinel.Code, err)
	}
}

package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryTracker struct {
	mu    sync.Mutex
	conns map[string]map[string]int
	now   func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		conns: make(map[string]map[string]int),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (t *MemoryTracker) MarkOnline(_ context.Context, sessionID, participantID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bySession := t.conns[sessionID]
	if bySession == nil {
		bySession = make(map[string]int)
		t.conns[sessionID] = bySession
	}
	bySession[participantID]++
	return bySession[participantID] == 1, nil
}

func (t *MemoryTracker) MarkOffline(_ context.Context, sessionID, participantID string) (bool, time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := t.now()
	bySession := t.conns[sessionID]
	count, ok := bySession[participantID]
	if !ok {
		return false, seen, nil
	}
	if count > 1 {
		bySession[participantID] = count - 1
		return false, seen, nil
	}
	delete(bySession, participantID)
	if len(bySession) == 0 {
		delete(t.conns, sessionID)
	}
	return true, seen, nil
}

func (t *MemoryTracker) OnlineCount(_ context.Context, sessionID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[sessionID]), nil
}

func (t *MemoryTracker) Online(_ context.Context, sessionID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := make([]string, 0, len(t.conns[sessionID]))
	for participantID := range t.conns[sessionID] {
		items = append(items, participantID)
	}
	sort.Strings(items)
	return items, nil
}

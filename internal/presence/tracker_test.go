package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTrackers(t *testing.T) map[string]Tracker {
	t.Helper()
	s := miniredis.RunT(t)
	redisTracker, err := NewRedisTracker("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisTracker failed: %v", err)
	}
	t.Cleanup(func() { _ = redisTracker.Close() })
	return map[string]Tracker{
		"memory": NewMemoryTracker(),
		"redis":  redisTracker,
	}
}

func TestReconnectStormReportsSingleTransition(t *testing.T) {
	for name, tracker := range newTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			joined, err := tracker.MarkOnline(ctx, "S1", "U1")
			if err != nil || !joined {
				t.Fatalf("first MarkOnline = %v, %v; want joined", joined, err)
			}
			joined, err = tracker.MarkOnline(ctx, "S1", "U1")
			if err != nil || joined {
				t.Fatalf("second MarkOnline = %v, %v; want no transition", joined, err)
			}

			count, _ := tracker.OnlineCount(ctx, "S1")
			if count != 1 {
				t.Fatalf("OnlineCount = %d, want 1", count)
			}

			left, _, err := tracker.MarkOffline(ctx, "S1", "U1")
			if err != nil || left {
				t.Fatalf("first MarkOffline = %v, %v; want still online", left, err)
			}
			left, seen, err := tracker.MarkOffline(ctx, "S1", "U1")
			if err != nil || !left {
				t.Fatalf("second MarkOffline = %v, %v; want left", left, err)
			}
			if seen.IsZero() {
				t.Fatal("expected lastSeen to be set")
			}

			count, _ = tracker.OnlineCount(ctx, "S1")
			if count != 0 {
				t.Fatalf("OnlineCount after leave = %d, want 0", count)
			}
		})
	}
}

func TestMarkOfflineUnknownParticipant(t *testing.T) {
	for name, tracker := range newTrackers(t) {
		t.Run(name, func(t *testing.T) {
			left, _, err := tracker.MarkOffline(context.Background(), "S1", "ghost")
			if err != nil {
				t.Fatalf("MarkOffline error = %v", err)
			}
			if left {
				t.Fatal("expected no transition for a participant that was never online")
			}
			joined, _ := tracker.MarkOnline(context.Background(), "S1", "ghost")
			if !joined {
				t.Fatal("expected a clean join after a stray MarkOffline")
			}
		})
	}
}

func TestOnlineListsParticipantsPerSession(t *testing.T) {
	for name, tracker := range newTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _ = tracker.MarkOnline(ctx, "S1", "U2")
			_, _ = tracker.MarkOnline(ctx, "S1", "U1")
			_, _ = tracker.MarkOnline(ctx, "S2", "U3")

			online, err := tracker.Online(ctx, "S1")
			if err != nil {
				t.Fatalf("Online error = %v", err)
			}
			if len(online) != 2 || online[0] != "U1" || online[1] != "U2" {
				t.Fatalf("Online(S1) = %v, want [U1 U2]", online)
			}
		})
	}
}

func TestConcurrentJoinsReportOneTransition(t *testing.T) {
	for name, tracker := range newTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				wg          sync.WaitGroup
				mu          sync.Mutex
				transitions int
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					joined, err := tracker.MarkOnline(ctx, "S1", "U1")
					if err != nil {
						t.Errorf("MarkOnline error = %v", err)
						return
					}
					if joined {
						mu.Lock()
						transitions++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if transitions != 1 {
				t.Fatalf("transitions = %d, want 1", transitions)
			}
		})
	}
}

// Package presence tracks which session participants hold a live connection.
package presence

import (
	"context"
	"time"
)

// Tracker counts live connections per (session, participant). Transitions are
// reported only when the first connection arrives or the last one goes away,
// so a reconnect storm yields a single joined/left pair.
type Tracker interface {
	MarkOnline(ctx context.Context, sessionID, participantID string) (joined bool, err error)
	MarkOffline(ctx context.Context, sessionID, participantID string) (left bool, lastSeen time.Time, err error)
	OnlineCount(ctx context.Context, sessionID string) (int, error)
	Online(ctx context.Context, sessionID string) ([]string, error)
}

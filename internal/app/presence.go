package app

import (
	"context"
	"strings"
	"time"

	"reviewroom/api/internal/event"
	"reviewroom/api/internal/rbac"
	"reviewroom/api/internal/store"
)

// JoinResult is the state a joining connection needs to render the room.
type JoinResult struct {
	Session          store.Session
	ParticipantCount int
	Seq              uint64
}

// Join marks a roster participant, or the session creator, online. user-joined
// and participant-count are emitted only when this is the participant's first
// live connection.
func (c *Coordinator) Join(ctx context.Context, sessionID, participantID, displayName string) (result JoinResult, err error) {
	ctx, span := c.startSpan(ctx, "Join", sessionID)
	defer func() { c.finish(span, "join", err) }()

	err = c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		participant, ok := h.session.Participant(participantID)
		if !ok {
			if participantID == "" || participantID != h.session.CreatedBy {
				return failure(ErrNotAParticipant, "", map[string]any{"userId": participantID})
			}
			participant = store.Participant{UserID: participantID, DisplayName: participantID, Role: string(rbac.RoleFacilitator)}
		}
		joined, err := c.presence.MarkOnline(ctx, sessionID, participantID)
		if err != nil {
			c.logger.Warn("presence mark online failed", "session_id", sessionID, "user_id", participantID, "error", err)
			return failure(ErrStorageUnavailable, "presence unavailable", nil)
		}
		count, err := c.presence.OnlineCount(ctx, sessionID)
		if err != nil {
			c.logger.Warn("presence count failed", "session_id", sessionID, "error", err)
		}
		if joined {
			c.persistPresence(ctx, h, participantID, true, c.now())
			name := strings.TrimSpace(displayName)
			if name == "" {
				name = participant.DisplayName
			}
			c.emit(h, event.UserJoined, event.UserJoinedData{UserID: participantID, UserName: name})
			c.emit(h, event.ParticipantCount, event.ParticipantCountData{Count: count})
		}
		result = JoinResult{Session: h.session.Clone(), ParticipantCount: count, Seq: h.seq}
		return nil
	})
	return result, err
}

// Leave marks one connection of the participant gone. user-left and
// participant-count are emitted once the last connection is gone.
func (c *Coordinator) Leave(ctx context.Context, sessionID, participantID string) (err error) {
	ctx, span := c.startSpan(ctx, "Leave", sessionID)
	defer func() { c.finish(span, "leave", err) }()

	return c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		left, lastSeen, err := c.presence.MarkOffline(ctx, sessionID, participantID)
		if err != nil {
			c.logger.Warn("presence mark offline failed", "session_id", sessionID, "user_id", participantID, "error", err)
			return failure(ErrStorageUnavailable, "presence unavailable", nil)
		}
		if !left {
			return nil
		}
		c.persistPresence(ctx, h, participantID, false, lastSeen)
		count, err := c.presence.OnlineCount(ctx, sessionID)
		if err != nil {
			c.logger.Warn("presence count failed", "session_id", sessionID, "error", err)
		}
		c.emit(h, event.UserLeft, event.UserLeftData{UserID: participantID})
		c.emit(h, event.ParticipantCount, event.ParticipantCountData{Count: count})
		c.evictIfIdle(ctx, h)
		return nil
	})
}

// persistPresence records the online flag on the roster. It is advisory, so a
// failed write is logged and otherwise ignored.
func (c *Coordinator) persistPresence(ctx context.Context, h *sessionHandle, participantID string, online bool, at time.Time) {
	if _, ok := h.session.Participant(participantID); !ok {
		return
	}
	if err := c.store.SetParticipantPresence(ctx, h.session.ID, participantID, online, at); err != nil {
		c.logger.Warn("persist presence failed", "session_id", h.session.ID, "user_id", participantID, "error", err)
		return
	}
	for i := range h.session.Participants {
		if h.session.Participants[i].UserID == participantID {
			seen := at
			h.session.Participants[i].Online = online
			h.session.Participants[i].LastSeenAt = &seen
			return
		}
	}
}

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned by every lookup that does not match a row.
var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

type VoteType string

const (
	VoteApprove         VoteType = "approve"
	VoteReject          VoteType = "reject"
	VoteNeedsDiscussion VoteType = "needs-discussion"
)

// Valid reports whether v is one of the three accepted vote types.
func (v VoteType) Valid() bool {
	switch v {
	case VoteApprove, VoteReject, VoteNeedsDiscussion:
		return true
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeferred Outcome = "deferred"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomeDeferred:
		return true
	default:
		return false
	}
}

// Session is the durable record of one review meeting. RequirementRefs is
// fixed at creation. Cursor is only meaningful while active or paused.
type Session struct {
	ID                string
	Name              string
	Description       string
	ProjectID         string
	RequirementRefs   []string
	Cursor            int
	Status            Status
	CreatedBy         string
	Participants      []Participant
	RosterSizeAtStart int
	ScheduledAt       *time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasRequirement reports whether ref is part of the session's traversal order.
func (s Session) HasRequirement(ref string) bool {
	for _, candidate := range s.RequirementRefs {
		if candidate == ref {
			return true
		}
	}
	return false
}

// Participant returns the roster entry for userID.
func (s Session) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// CurrentRequirement returns the requirement under the cursor, or "" when
// the cursor is not meaningful.
func (s Session) CurrentRequirement() string {
	if s.Status != StatusActive && s.Status != StatusPaused {
		return ""
	}
	if s.Cursor < 0 || s.Cursor >= len(s.RequirementRefs) {
		return ""
	}
	return s.RequirementRefs[s.Cursor]
}

// Clone returns a deep copy so callers can mutate without touching caches.
func (s Session) Clone() Session {
	out := s
	out.RequirementRefs = append([]string(nil), s.RequirementRefs...)
	out.Participants = append([]Participant(nil), s.Participants...)
	out.ScheduledAt = cloneTime(s.ScheduledAt)
	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	for i := range out.Participants {
		out.Participants[i].LastSeenAt = cloneTime(out.Participants[i].LastSeenAt)
	}
	return out
}

type Participant struct {
	SessionID   string
	UserID      string
	DisplayName string
	Role        string
	Online      bool
	LastSeenAt  *time.Time
}

// SessionState is the mutable part of a session written on every transition.
type SessionState struct {
	Status            Status
	Cursor            int
	RosterSizeAtStart int
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

type Vote struct {
	SessionID      string
	RequirementRef string
	ParticipantID  string
	Type           VoteType
	Comment        string
	CastAt         time.Time
}

type Comment struct {
	ID             string
	SessionID      string
	RequirementRef string
	AuthorID       string
	Text           string
	Mentions       []string
	ReplyTo        string
	CreatedAt      time.Time
}

type Decision struct {
	SessionID      string
	RequirementRef string
	Outcome        Outcome
	Rationale      string
	DecidedBy      string
	DecidedAt      time.Time
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

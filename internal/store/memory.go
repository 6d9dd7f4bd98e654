package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps sessions, votes, comments and decisions in process.
// It backs tests and single-node deployments without DATABASE_URL.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	votes     map[string][]Vote
	comments  map[string][]Comment
	decisions map[string]map[string]Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]Session),
		votes:     make(map[string][]Vote),
		comments:  make(map[string][]Comment),
		decisions: make(map[string]map[string]Decision),
	}
}

func scopeKey(sessionID, requirementRef string) string {
	return sessionID + "\x00" + requirementRef
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertSession(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("insert session: %s already exists", session.ID)
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	for i := range session.Participants {
		session.Participants[i].SessionID = session.ID
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session.Clone(), nil
}

func (s *MemoryStore) UpdateSessionState(_ context.Context, sessionID string, state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.Status = state.Status
	session.Cursor = state.Cursor
	session.RosterSizeAtStart = state.RosterSizeAtStart
	session.StartedAt = cloneTime(state.StartedAt)
	session.CompletedAt = cloneTime(state.CompletedAt)
	session.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = session
	return nil
}

func (s *MemoryStore) SetParticipantPresence(_ context.Context, sessionID, userID string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	for i := range session.Participants {
		if session.Participants[i].UserID != userID {
			continue
		}
		session.Participants[i].Online = online
		seen := lastSeen
		session.Participants[i].LastSeenAt = &seen
		s.sessions[sessionID] = session
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) PutVote(_ context.Context, vote Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(vote.SessionID, vote.RequirementRef)
	votes := s.votes[key]
	for i := range votes {
		if votes[i].ParticipantID == vote.ParticipantID {
			votes[i] = vote
			return nil
		}
	}
	s.votes[key] = append(votes, vote)
	return nil
}

func (s *MemoryStore) ListVotes(_ context.Context, sessionID, requirementRef string) ([]Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	votes := s.votes[scopeKey(sessionID, requirementRef)]
	return append(make([]Vote, 0, len(votes)), votes...), nil
}

func (s *MemoryStore) ListSessionVotes(_ context.Context, sessionID string) ([]Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Vote, 0)
	for _, votes := range s.votes {
		for _, vote := range votes {
			if vote.SessionID == sessionID {
				items = append(items, vote)
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RequirementRef != items[j].RequirementRef {
			return items[i].RequirementRef < items[j].RequirementRef
		}
		return items[i].CastAt.Before(items[j].CastAt)
	})
	return items, nil
}

func (s *MemoryStore) InsertComment(_ context.Context, comment Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(comment.SessionID, comment.RequirementRef)
	for _, existing := range s.comments[key] {
		if existing.ID == comment.ID {
			return fmt.Errorf("insert comment: %s already exists", comment.ID)
		}
	}
	comment.Mentions = append([]string(nil), comment.Mentions...)
	s.comments[key] = append(s.comments[key], comment)
	return nil
}

func (s *MemoryStore) GetComment(_ context.Context, sessionID, requirementRef, commentID string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, comment := range s.comments[scopeKey(sessionID, requirementRef)] {
		if comment.ID == commentID {
			return comment, nil
		}
	}
	return Comment{}, ErrNotFound
}

func (s *MemoryStore) ListComments(_ context.Context, sessionID, requirementRef string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comments := s.comments[scopeKey(sessionID, requirementRef)]
	return append(make([]Comment, 0, len(comments)), comments...), nil
}

func (s *MemoryStore) ListSessionComments(_ context.Context, sessionID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Comment, 0)
	for _, comments := range s.comments {
		for _, comment := range comments {
			if comment.SessionID == sessionID {
				items = append(items, comment)
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) SearchComments(ctx context.Context, sessionID, text string, limit int) ([]Comment, error) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return []Comment{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	all, err := s.ListSessionComments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items := make([]Comment, 0)
	for _, comment := range all {
		if strings.Contains(strings.ToLower(comment.Text), needle) {
			items = append(items, comment)
			if len(items) == limit {
				break
			}
		}
	}
	return items, nil
}

func (s *MemoryStore) UpsertDecision(_ context.Context, decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[decision.SessionID]; !ok {
		return ErrNotFound
	}
	bySession := s.decisions[decision.SessionID]
	if bySession == nil {
		bySession = make(map[string]Decision)
		s.decisions[decision.SessionID] = bySession
	}
	bySession[decision.RequirementRef] = decision
	return nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, sessionID string) ([]Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Decision, 0, len(s.decisions[sessionID]))
	for _, decision := range s.decisions[sessionID] {
		items = append(items, decision)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].RequirementRef < items[j].RequirementRef
	})
	return items, nil
}

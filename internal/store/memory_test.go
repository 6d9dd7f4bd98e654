package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedSession(t *testing.T, s *MemoryStore) Session {
	t.Helper()
	session := Session{
		ID:              "ses_1",
		Name:            "Sprint 12 review",
		RequirementRefs: []string{"R1", "R2"},
		Status:          StatusScheduled,
		CreatedBy:       "U1",
		Participants: []Participant{
			{UserID: "U1", DisplayName: "Avery", Role: "facilitator"},
			{UserID: "U2", DisplayName: "Jamie", Role: "participant"},
		},
	}
	if err := s.InsertSession(context.Background(), session); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	return session
}

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	seedSession(t, s)
	ctx := context.Background()

	got, err := s.GetSession(ctx, "ses_1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Participants[0].SessionID != "ses_1" {
		t.Fatalf("participant session id not stamped: %+v", got.Participants[0])
	}

	got.RequirementRefs[0] = "mutated"
	again, _ := s.GetSession(ctx, "ses_1")
	if again.RequirementRefs[0] != "R1" {
		t.Fatal("GetSession must return a copy")
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.InsertSession(ctx, Session{ID: "ses_1"}); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
}

func TestMemoryStoreUpdateSessionState(t *testing.T) {
	s := NewMemoryStore()
	seedSession(t, s)
	ctx := context.Background()
	started := time.Now().UTC()

	err := s.UpdateSessionState(ctx, "ses_1", SessionState{Status: StatusActive, Cursor: 1, RosterSizeAtStart: 2, StartedAt: &started})
	if err != nil {
		t.Fatalf("UpdateSessionState() error = %v", err)
	}
	got, _ := s.GetSession(ctx, "ses_1")
	if got.Status != StatusActive || got.Cursor != 1 || got.RosterSizeAtStart != 2 || got.StartedAt == nil {
		t.Fatalf("unexpected state: %+v", got)
	}
	if err := s.UpdateSessionState(ctx, "missing", SessionState{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateSessionState(missing) error = %v", err)
	}
}

func TestMemoryStorePutVoteOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := Vote{SessionID: "ses_1", RequirementRef: "R1", ParticipantID: "U1", Type: VoteApprove, CastAt: time.Now()}
	second := first
	second.Type = VoteReject
	second.Comment = "changed my mind"

	if err := s.PutVote(ctx, first); err != nil {
		t.Fatalf("PutVote() error = %v", err)
	}
	if err := s.PutVote(ctx, second); err != nil {
		t.Fatalf("PutVote() error = %v", err)
	}
	votes, err := s.ListVotes(ctx, "ses_1", "R1")
	if err != nil {
		t.Fatalf("ListVotes() error = %v", err)
	}
	if len(votes) != 1 || votes[0].Type != VoteReject || votes[0].Comment != "changed my mind" {
		t.Fatalf("unexpected votes: %+v", votes)
	}
}

func TestMemoryStoreComments(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	first := Comment{ID: "c1", SessionID: "ses_1", RequirementRef: "R1", AuthorID: "U1", Text: "Latency budget looks wrong", CreatedAt: now}
	reply := Comment{ID: "c2", SessionID: "ses_1", RequirementRef: "R1", AuthorID: "U2", Text: "agreed", ReplyTo: "c1", CreatedAt: now.Add(time.Second)}
	other := Comment{ID: "c3", SessionID: "ses_1", RequirementRef: "R2", AuthorID: "U2", Text: "latency again", CreatedAt: now.Add(2 * time.Second)}
	for _, c := range []Comment{first, reply, other} {
		if err := s.InsertComment(ctx, c); err != nil {
			t.Fatalf("InsertComment(%s) error = %v", c.ID, err)
		}
	}
	if err := s.InsertComment(ctx, first); err == nil {
		t.Fatal("expected duplicate comment insert to fail")
	}

	thread, _ := s.ListComments(ctx, "ses_1", "R1")
	if len(thread) != 2 || thread[1].ReplyTo != "c1" {
		t.Fatalf("unexpected thread: %+v", thread)
	}
	if _, err := s.GetComment(ctx, "ses_1", "R2", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetComment across scopes error = %v, want ErrNotFound", err)
	}

	hits, err := s.SearchComments(ctx, "ses_1", "LATENCY", 10)
	if err != nil {
		t.Fatalf("SearchComments() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("SearchComments() = %d hits, want 2", len(hits))
	}
}

func TestMemoryStoreDecisionsAndPresence(t *testing.T) {
	s := NewMemoryStore()
	seedSession(t, s)
	ctx := context.Background()

	if err := s.UpsertDecision(ctx, Decision{SessionID: "ses_1", RequirementRef: "R2", Outcome: OutcomeDeferred}); err != nil {
		t.Fatalf("UpsertDecision() error = %v", err)
	}
	if err := s.UpsertDecision(ctx, Decision{SessionID: "ses_1", RequirementRef: "R2", Outcome: OutcomeApproved}); err != nil {
		t.Fatalf("UpsertDecision() error = %v", err)
	}
	decisions, _ := s.ListDecisions(ctx, "ses_1")
	if len(decisions) != 1 || decisions[0].Outcome != OutcomeApproved {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}

	seen := time.Now().UTC()
	if err := s.SetParticipantPresence(ctx, "ses_1", "U2", true, seen); err != nil {
		t.Fatalf("SetParticipantPresence() error = %v", err)
	}
	got, _ := s.GetSession(ctx, "ses_1")
	participant, _ := got.Participant("U2")
	if !participant.Online || participant.LastSeenAt == nil {
		t.Fatalf("presence not stored: %+v", participant)
	}
	if err := s.SetParticipantPresence(ctx, "ses_1", "nobody", true, seen); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetParticipantPresence(nobody) error = %v", err)
	}
}

func TestSessionCurrentRequirement(t *testing.T) {
	session := Session{RequirementRefs: []string{"R1", "R2"}, Status: StatusScheduled, Cursor: 1}
	if got := session.CurrentRequirement(); got != "" {
		t.Fatalf("scheduled CurrentRequirement() = %q, want empty", got)
	}
	session.Status = StatusPaused
	if got := session.CurrentRequirement(); got != "R2" {
		t.Fatalf("paused CurrentRequirement() = %q, want R2", got)
	}
}

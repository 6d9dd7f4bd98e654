package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func openTestDatabase(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("REVIEWROOM_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("REVIEWROOM_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	migrations, err := Migrations("")
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresStoreLifecycle(t *testing.T) {
	s := openTestDatabase(t)
	ctx := context.Background()

	err := s.InsertSession(ctx, Session{
		ID:              "ses_pg",
		Name:            "Payments review",
		RequirementRefs: []string{"R1", "R2"},
		Status:          StatusScheduled,
		CreatedBy:       "U1",
		Participants: []Participant{
			{UserID: "U1", DisplayName: "Avery", Role: "facilitator"},
			{UserID: "U2", DisplayName: "Jamie", Role: "participant"},
		},
	})
	if err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}

	started := time.Now().UTC()
	if err := s.UpdateSessionState(ctx, "ses_pg", SessionState{Status: StatusActive, Cursor: 1, RosterSizeAtStart: 2, StartedAt: &started}); err != nil {
		t.Fatalf("UpdateSessionState() error = %v", err)
	}
	if err := s.UpdateSessionState(ctx, "ses_pg", SessionState{Status: StatusActive, Cursor: 5}); err == nil {
		t.Fatal("expected cursor range constraint to reject cursor=5")
	}

	session, err := s.GetSession(ctx, "ses_pg")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.Status != StatusActive || session.Cursor != 1 || len(session.Participants) != 2 {
		t.Fatalf("unexpected session: %+v", session)
	}

	vote := Vote{SessionID: "ses_pg", RequirementRef: "R1", ParticipantID: "U1", Type: VoteApprove, CastAt: time.Now()}
	if err := s.PutVote(ctx, vote); err != nil {
		t.Fatalf("PutVote() error = %v", err)
	}
	vote.Type = VoteNeedsDiscussion
	if err := s.PutVote(ctx, vote); err != nil {
		t.Fatalf("PutVote() overwrite error = %v", err)
	}
	votes, err := s.ListVotes(ctx, "ses_pg", "R1")
	if err != nil || len(votes) != 1 || votes[0].Type != VoteNeedsDiscussion {
		t.Fatalf("ListVotes() = %+v, %v", votes, err)
	}

	root := Comment{ID: "c1", SessionID: "ses_pg", RequirementRef: "R1", AuthorID: "U1", Text: "hello", Mentions: []string{"U2"}, CreatedAt: time.Now()}
	if err := s.InsertComment(ctx, root); err != nil {
		t.Fatalf("InsertComment() error = %v", err)
	}
	got, err := s.GetComment(ctx, "ses_pg", "R1", "c1")
	if err != nil || len(got.Mentions) != 1 || got.Mentions[0] != "U2" {
		t.Fatalf("GetComment() = %+v, %v", got, err)
	}
	if _, err := s.GetComment(ctx, "ses_pg", "R2", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetComment() wrong scope error = %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `UPDATE session_comments SET body='edited' WHERE id='c1'`); err == nil {
		t.Fatal("expected comment update to be blocked by trigger")
	}
}

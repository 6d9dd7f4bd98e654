package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertSession(ctx context.Context, session Session) error {
	refs, err := json.Marshal(session.RequirementRefs)
	if err != nil {
		return fmt.Errorf("marshal requirement refs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_sessions (id, name, description, project_id, requirement_refs, cursor_index, status, created_by, scheduled_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
	`, session.ID, session.Name, session.Description, session.ProjectID, string(refs), session.Cursor, string(session.Status), session.CreatedBy, nullTime(session.ScheduledAt)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, participant := range session.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_participants (session_id, user_id, display_name, role)
			VALUES ($1, $2, $3, $4)
		`, session.ID, participant.UserID, participant.DisplayName, participant.Role); err != nil {
			return fmt.Errorf("insert participant %s: %w", participant.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var (
		item        Session
		refs        string
		status      string
		scheduledAt sql.NullTime
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, project_id, requirement_refs::text, cursor_index, status, created_by,
			roster_size_at_start, scheduled_at, started_at, completed_at, created_at, updated_at
		FROM review_sessions
		WHERE id=$1
	`, sessionID).Scan(
		&item.ID,
		&item.Name,
		&item.Description,
		&item.ProjectID,
		&refs,
		&item.Cursor,
		&status,
		&item.CreatedBy,
		&item.RosterSizeAtStart,
		&scheduledAt,
		&startedAt,
		&completedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(refs), &item.RequirementRefs); err != nil {
		return Session{}, fmt.Errorf("decode requirement refs: %w", err)
	}
	item.Status = Status(status)
	item.ScheduledAt = timePtr(scheduledAt)
	item.StartedAt = timePtr(startedAt)
	item.CompletedAt = timePtr(completedAt)

	participants, err := s.listParticipants(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	item.Participants = participants
	return item, nil
}

func (s *PostgresStore) listParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, display_name, role, online, last_seen_at
		FROM session_participants
		WHERE session_id=$1
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]Participant, 0)
	for rows.Next() {
		var (
			item     Participant
			lastSeen sql.NullTime
		)
		if err := rows.Scan(&item.SessionID, &item.UserID, &item.DisplayName, &item.Role, &item.Online, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		item.LastSeenAt = timePtr(lastSeen)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSessionState(ctx context.Context, sessionID string, state SessionState) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE review_sessions
		SET status=$2, cursor_index=$3, roster_size_at_start=$4, started_at=$5, completed_at=$6, updated_at=NOW()
		WHERE id=$1
	`, sessionID, string(state.Status), state.Cursor, state.RosterSizeAtStart, nullTime(state.StartedAt), nullTime(state.CompletedAt))
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return requireAffected(result, "update session state")
}

func (s *PostgresStore) SetParticipantPresence(ctx context.Context, sessionID, userID string, online bool, lastSeen time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE session_participants
		SET online=$3, last_seen_at=$4
		WHERE session_id=$1 AND user_id=$2
	`, sessionID, userID, online, lastSeen)
	if err != nil {
		return fmt.Errorf("set participant presence: %w", err)
	}
	return requireAffected(result, "set participant presence")
}

func (s *PostgresStore) PutVote(ctx context.Context, vote Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_votes (session_id, requirement_ref, participant_id, vote_type, comment, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, requirement_ref, participant_id)
		DO UPDATE SET vote_type=EXCLUDED.vote_type, comment=EXCLUDED.comment, cast_at=EXCLUDED.cast_at
	`, vote.SessionID, vote.RequirementRef, vote.ParticipantID, string(vote.Type), vote.Comment, vote.CastAt)
	if err != nil {
		return fmt.Errorf("put vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, sessionID, requirementRef string) ([]Vote, error) {
	return s.queryVotes(ctx, `
		SELECT session_id, requirement_ref, participant_id, vote_type, comment, cast_at
		FROM session_votes
		WHERE session_id=$1 AND requirement_ref=$2
		ORDER BY cast_at ASC, participant_id ASC
	`, sessionID, requirementRef)
}

func (s *PostgresStore) ListSessionVotes(ctx context.Context, sessionID string) ([]Vote, error) {
	return s.queryVotes(ctx, `
		SELECT session_id, requirement_ref, participant_id, vote_type, comment, cast_at
		FROM session_votes
		WHERE session_id=$1
		ORDER BY requirement_ref ASC, cast_at ASC
	`, sessionID)
}

func (s *PostgresStore) queryVotes(ctx context.Context, query string, args ...any) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var (
			item     Vote
			voteType string
		)
		if err := rows.Scan(&item.SessionID, &item.RequirementRef, &item.ParticipantID, &voteType, &item.Comment, &item.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		item.Type = VoteType(voteType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	mentions := comment.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	mentionsJSON, err := json.Marshal(mentions)
	if err != nil {
		return fmt.Errorf("marshal mentions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_comments (id, session_id, requirement_ref, author_id, body, mentions_json, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, NULLIF($7, ''), $8)
	`, comment.ID, comment.SessionID, comment.RequirementRef, comment.AuthorID, comment.Text, string(mentionsJSON), comment.ReplyTo, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

const commentColumns = `id, session_id, requirement_ref, author_id, body, mentions_json::text, COALESCE(reply_to, ''), created_at`

func (s *PostgresStore) GetComment(ctx context.Context, sessionID, requirementRef, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM session_comments
		WHERE session_id=$1 AND requirement_ref=$2 AND id=$3
	`, sessionID, requirementRef, commentID)
	item, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, sessionID, requirementRef string) ([]Comment, error) {
	return s.queryComments(ctx, `
		SELECT `+commentColumns+`
		FROM session_comments
		WHERE session_id=$1 AND requirement_ref=$2
		ORDER BY position ASC
	`, sessionID, requirementRef)
}

func (s *PostgresStore) ListSessionComments(ctx context.Context, sessionID string) ([]Comment, error) {
	return s.queryComments(ctx, `
		SELECT `+commentColumns+`
		FROM session_comments
		WHERE session_id=$1
		ORDER BY position ASC
	`, sessionID)
}

func (s *PostgresStore) SearchComments(ctx context.Context, sessionID, text string, limit int) ([]Comment, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryComments(ctx, `
		SELECT `+commentColumns+`
		FROM session_comments
		WHERE session_id=$1 AND body ILIKE '%' || $2 || '%'
		ORDER BY position DESC
		LIMIT $3
	`, sessionID, text, limit)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var (
		item     Comment
		mentions string
	)
	if err := row.Scan(&item.ID, &item.SessionID, &item.RequirementRef, &item.AuthorID, &item.Text, &mentions, &item.ReplyTo, &item.CreatedAt); err != nil {
		return Comment{}, err
	}
	if err := json.Unmarshal([]byte(mentions), &item.Mentions); err != nil {
		return Comment{}, fmt.Errorf("decode mentions: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) queryComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertDecision(ctx context.Context, decision Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_decisions (session_id, requirement_ref, outcome, rationale, decided_by, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, requirement_ref)
		DO UPDATE SET outcome=EXCLUDED.outcome, rationale=EXCLUDED.rationale, decided_by=EXCLUDED.decided_by, decided_at=EXCLUDED.decided_at
	`, decision.SessionID, decision.RequirementRef, string(decision.Outcome), decision.Rationale, decision.DecidedBy, decision.DecidedAt)
	if err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, sessionID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, requirement_ref, outcome, rationale, decided_by, decided_at
		FROM session_decisions
		WHERE session_id=$1
		ORDER BY requirement_ref ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	items := make([]Decision, 0)
	for rows.Next() {
		var (
			item    Decision
			outcome string
		)
		if err := rows.Scan(&item.SessionID, &item.RequirementRef, &outcome, &item.Rationale, &item.DecidedBy, &item.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		item.Outcome = Outcome(outcome)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

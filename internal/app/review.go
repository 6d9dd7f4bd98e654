package app

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"reviewroom/api/internal/event"
	"reviewroom/api/internal/export"
	"reviewroom/api/internal/rbac"
	"reviewroom/api/internal/store"
	"reviewroom/api/internal/util"
)

const maxCommentLength = 4000

type CastVoteInput struct {
	SessionID      string
	RequirementRef string
	ParticipantID  string
	VoteType       store.VoteType
	Comment        string
}

// requireVotingScope checks, in order, that the session is active, the
// requirement belongs to it and the participant is on the roster.
func requireVotingScope(session store.Session, requirementRef, participantID string, action rbac.Action) error {
	if session.Status != store.StatusActive {
		return failure(ErrNotActive, "session is "+string(session.Status), nil)
	}
	if !session.HasRequirement(requirementRef) {
		return failure(ErrUnknownRequirement, "", map[string]any{"requirementId": requirementRef})
	}
	onRoster, allowed := rosterCan(session, participantID, action)
	if !onRoster {
		return failure(ErrNotAParticipant, "", map[string]any{"userId": participantID})
	}
	if !allowed {
		return failure(ErrNotAuthorized, "role does not allow "+string(action), nil)
	}
	return nil
}

// CastVote records the participant's vote on a requirement, replacing any
// earlier vote by the same participant.
func (c *Coordinator) CastVote(ctx context.Context, input CastVoteInput) (vote store.Vote, err error) {
	ctx, span := c.startSpan(ctx, "CastVote", input.SessionID)
	defer func() { c.finish(span, "cast_vote", err) }()

	err = c.withSession(ctx, input.SessionID, func(h *sessionHandle) error {
		if err := requireVotingScope(h.session, input.RequirementRef, input.ParticipantID, rbac.ActionVote); err != nil {
			return err
		}
		if !input.VoteType.Valid() {
			return failure(ErrInvalidInput, "voteType must be approve, reject or needs-discussion", nil)
		}
		vote = store.Vote{
			SessionID:      input.SessionID,
			RequirementRef: input.RequirementRef,
			ParticipantID:  input.ParticipantID,
			Type:           input.VoteType,
			Comment:        strings.TrimSpace(input.Comment),
			CastAt:         c.now(),
		}
		if err := c.retry(ctx, "put vote", func(ctx context.Context) error {
			return c.store.PutVote(ctx, vote)
		}); err != nil {
			return err
		}
		c.emit(h, event.VoteCast, event.VoteCastData{
			SessionID:     vote.SessionID,
			RequirementID: vote.RequirementRef,
			VoteType:      string(vote.Type),
			Comment:       vote.Comment,
			UserID:        vote.ParticipantID,
		})
		return nil
	})
	return vote, err
}

type AddCommentInput struct {
	SessionID      string
	RequirementRef string
	AuthorID       string
	Text           string
	Mentions       []string
	ReplyTo        string
}

// AddComment appends a comment to the requirement's discussion. Replies are
// one level deep: a reply must point at a top-level comment in the same scope.
func (c *Coordinator) AddComment(ctx context.Context, input AddCommentInput) (comment store.Comment, err error) {
	ctx, span := c.startSpan(ctx, "AddComment", input.SessionID)
	defer func() { c.finish(span, "add_comment", err) }()

	err = c.withSession(ctx, input.SessionID, func(h *sessionHandle) error {
		if err := requireVotingScope(h.session, input.RequirementRef, input.AuthorID, rbac.ActionComment); err != nil {
			return err
		}
		text := strings.TrimSpace(input.Text)
		if text == "" {
			return failure(ErrInvalidInput, "comment text is required", nil)
		}
		if utf8.RuneCountInString(text) > maxCommentLength {
			return failure(ErrInvalidInput, "comment text is too long", map[string]any{"max": maxCommentLength})
		}

		mentions := make([]string, 0, len(input.Mentions))
		seen := make(map[string]struct{}, len(input.Mentions))
		for _, raw := range input.Mentions {
			userID := strings.TrimSpace(raw)
			if userID == "" {
				continue
			}
			if _, dup := seen[userID]; dup {
				continue
			}
			if _, ok := h.session.Participant(userID); !ok {
				return failure(ErrNotAParticipant, "mentioned user is not on the roster", map[string]any{"userId": userID})
			}
			seen[userID] = struct{}{}
			mentions = append(mentions, userID)
		}

		replyTo := strings.TrimSpace(input.ReplyTo)
		if replyTo != "" {
			var parent store.Comment
			err := c.retry(ctx, "get comment", func(ctx context.Context) error {
				var err error
				parent, err = c.store.GetComment(ctx, input.SessionID, input.RequirementRef, replyTo)
				return err
			})
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return failure(ErrNotFound, "replyTo comment not found", map[string]any{"replyTo": replyTo})
				}
				return err
			}
			if parent.ReplyTo != "" {
				return failure(ErrInvalidInput, "replies cannot be nested", map[string]any{"replyTo": replyTo})
			}
		}

		comment = store.Comment{
			ID:             util.NewID("cmt"),
			SessionID:      input.SessionID,
			RequirementRef: input.RequirementRef,
			AuthorID:       input.AuthorID,
			Text:           text,
			Mentions:       mentions,
			ReplyTo:        replyTo,
			CreatedAt:      c.now(),
		}
		if err := c.retry(ctx, "insert comment", func(ctx context.Context) error {
			return c.store.InsertComment(ctx, comment)
		}); err != nil {
			return err
		}
		c.emit(h, event.CommentAdded, event.CommentAddedData{
			SessionID:     comment.SessionID,
			RequirementID: comment.RequirementRef,
			Comment:       commentData(comment),
		})
		return nil
	})
	return comment, err
}

type RecordDecisionInput struct {
	SessionID      string
	RequirementRef string
	RequestorID    string
	Outcome        store.Outcome
	Rationale      string
}

// RecordDecision sets the facilitator's final outcome for a requirement. It is
// independent of the cursor and may be revised until the session completes.
func (c *Coordinator) RecordDecision(ctx context.Context, input RecordDecisionInput) (decision store.Decision, err error) {
	ctx, span := c.startSpan(ctx, "RecordDecision", input.SessionID)
	defer func() { c.finish(span, "record_decision", err) }()

	err = c.withSession(ctx, input.SessionID, func(h *sessionHandle) error {
		if err := c.authorizeFacilitator(h.session, input.RequestorID); err != nil {
			return err
		}
		if h.session.Status != store.StatusActive && h.session.Status != store.StatusPaused {
			return failure(ErrNotActive, "decisions can only be recorded during the session", nil)
		}
		if !h.session.HasRequirement(input.RequirementRef) {
			return failure(ErrUnknownRequirement, "", map[string]any{"requirementId": input.RequirementRef})
		}
		if !input.Outcome.Valid() {
			return failure(ErrInvalidInput, "outcome must be approved, rejected or deferred", nil)
		}
		decision = store.Decision{
			SessionID:      input.SessionID,
			RequirementRef: input.RequirementRef,
			Outcome:        input.Outcome,
			Rationale:      strings.TrimSpace(input.Rationale),
			DecidedBy:      input.RequestorID,
			DecidedAt:      c.now(),
		}
		if err := c.retry(ctx, "upsert decision", func(ctx context.Context) error {
			return c.store.UpsertDecision(ctx, decision)
		}); err != nil {
			return err
		}
		c.emit(h, event.DecisionRecorded, event.DecisionRecordedData{
			SessionID:     decision.SessionID,
			RequirementID: decision.RequirementRef,
			Outcome:       string(decision.Outcome),
			Rationale:     decision.Rationale,
			DecidedBy:     decision.DecidedBy,
		})
		return nil
	})
	return decision, err
}

type ReviewState struct {
	SessionID string       `json:"sessionId"`
	Status    store.Status `json:"status"`
	Current   bool         `json:"current"`
	export.RequirementSummary
}

// GetReviewState is a pure read of one requirement's votes, discussion,
// decision and tally.
func (c *Coordinator) GetReviewState(ctx context.Context, sessionID, requirementRef string) (ReviewState, error) {
	session, err := c.snapshot(ctx, sessionID)
	if err != nil {
		return ReviewState{}, err
	}
	if !session.HasRequirement(requirementRef) {
		return ReviewState{}, failure(ErrUnknownRequirement, "", map[string]any{"requirementId": requirementRef})
	}

	var (
		votes     []store.Vote
		comments  []store.Comment
		decisions []store.Decision
	)
	if err := c.retry(ctx, "read review state", func(ctx context.Context) error {
		var err error
		if votes, err = c.store.ListVotes(ctx, sessionID, requirementRef); err != nil {
			return err
		}
		if comments, err = c.store.ListComments(ctx, sessionID, requirementRef); err != nil {
			return err
		}
		decisions, err = c.store.ListDecisions(ctx, sessionID)
		return err
	}); err != nil {
		return ReviewState{}, err
	}

	return ReviewState{
		SessionID:          sessionID,
		Status:             session.Status,
		Current:            session.CurrentRequirement() == requirementRef,
		RequirementSummary: requirementSummary(session, requirementRef, votes, comments, findDecision(decisions, requirementRef)),
	}, nil
}

// SessionSummary assembles the export document for a session.
func (c *Coordinator) SessionSummary(ctx context.Context, sessionID string) (export.Summary, error) {
	session, err := c.snapshot(ctx, sessionID)
	if err != nil {
		return export.Summary{}, err
	}

	var (
		votes     []store.Vote
		comments  []store.Comment
		decisions []store.Decision
	)
	if err := c.retry(ctx, "read session summary", func(ctx context.Context) error {
		var err error
		if votes, err = c.store.ListSessionVotes(ctx, sessionID); err != nil {
			return err
		}
		if comments, err = c.store.ListSessionComments(ctx, sessionID); err != nil {
			return err
		}
		decisions, err = c.store.ListDecisions(ctx, sessionID)
		return err
	}); err != nil {
		return export.Summary{}, err
	}

	votesByRef := make(map[string][]store.Vote)
	for _, vote := range votes {
		votesByRef[vote.RequirementRef] = append(votesByRef[vote.RequirementRef], vote)
	}
	commentsByRef := make(map[string][]store.Comment)
	for _, comment := range comments {
		commentsByRef[comment.RequirementRef] = append(commentsByRef[comment.RequirementRef], comment)
	}

	summary := export.Summary{
		SessionID:         session.ID,
		Name:              session.Name,
		Description:       session.Description,
		ProjectID:         session.ProjectID,
		Status:            string(session.Status),
		RequirementsTotal: len(session.RequirementRefs),
		ParticipantCount:  len(session.Participants),
		Participants:      make([]export.Participant, 0, len(session.Participants)),
		StartedAt:         session.StartedAt,
		CompletedAt:       session.CompletedAt,
		GeneratedAt:       c.now(),
		Requirements:      make([]export.RequirementSummary, 0, len(session.RequirementRefs)),
	}
	for _, p := range session.Participants {
		summary.Participants = append(summary.Participants, export.Participant{UserID: p.UserID, DisplayName: p.DisplayName, Role: p.Role})
	}
	for _, ref := range session.RequirementRefs {
		item := requirementSummary(session, ref, votesByRef[ref], commentsByRef[ref], findDecision(decisions, ref))
		if item.Reviewed() {
			summary.RequirementsReviewed++
		}
		summary.Requirements = append(summary.Requirements, item)
	}
	return summary, nil
}

func findDecision(decisions []store.Decision, requirementRef string) *store.Decision {
	for i := range decisions {
		if decisions[i].RequirementRef == requirementRef {
			return &decisions[i]
		}
	}
	return nil
}

func requirementSummary(session store.Session, ref string, votes []store.Vote, comments []store.Comment, decision *store.Decision) export.RequirementSummary {
	item := export.RequirementSummary{
		Ref:      ref,
		Tally:    tally(session, votes),
		Votes:    make([]export.Vote, 0, len(votes)),
		Comments: make([]export.Comment, 0, len(comments)),
	}
	for _, vote := range votes {
		item.Votes = append(item.Votes, export.Vote{
			UserID:   vote.ParticipantID,
			VoteType: string(vote.Type),
			Comment:  vote.Comment,
			CastAt:   vote.CastAt,
		})
	}
	for _, comment := range comments {
		item.Comments = append(item.Comments, export.Comment{
			ID:        comment.ID,
			AuthorID:  comment.AuthorID,
			Text:      comment.Text,
			Mentions:  comment.Mentions,
			ReplyTo:   comment.ReplyTo,
			CreatedAt: comment.CreatedAt,
		})
	}
	if decision != nil {
		item.Decision = &export.Decision{
			Outcome:   string(decision.Outcome),
			Rationale: decision.Rationale,
			DecidedBy: decision.DecidedBy,
			DecidedAt: decision.DecidedAt,
		}
	}
	return item
}

// tally divides by the voting roster frozen at start so that absent
// participants still count against coverage.
func tally(session store.Session, votes []store.Vote) export.Tally {
	result := export.Tally{RosterSize: session.RosterSizeAtStart}
	if result.RosterSize == 0 {
		result.RosterSize = votingRosterSize(session)
	}
	for _, vote := range votes {
		switch vote.Type {
		case store.VoteApprove:
			result.Approve++
		case store.VoteReject:
			result.Reject++
		case store.VoteNeedsDiscussion:
			result.NeedsDiscussion++
		}
	}
	result.Voted = len(votes)
	if result.RosterSize > 0 {
		result.PercentVoted = math.Round(float64(result.Voted)/float64(result.RosterSize)*1000) / 10
	}
	return result
}

func commentData(comment store.Comment) event.CommentData {
	return event.CommentData{
		ID:        comment.ID,
		AuthorID:  comment.AuthorID,
		Text:      comment.Text,
		Mentions:  comment.Mentions,
		ReplyTo:   comment.ReplyTo,
		CreatedAt: comment.CreatedAt,
	}
}

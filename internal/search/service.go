package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"reviewroom/api/internal/event"
)

// Service is the facade that tries the engine first and falls back to the store.
type Service struct {
	engine   Engine
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. engine may be nil if Meilisearch is not configured.
func NewService(engine Engine, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, fallback: fallback, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("search engine error, falling back to store", "session_id", q.SessionID, "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("store search failed", "session_id", q.SessionID, "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "store"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "store"}
}

// HandleEvent indexes comments and decisions as they are published. It is
// meant to run as an async bus subscriber.
func (s *Service) HandleEvent(evt event.Event) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	switch data := evt.Data.(type) {
	case event.CommentAddedData:
		record := CommentRecord{
			ID:            data.Comment.ID,
			SessionID:     data.SessionID,
			RequirementID: data.RequirementID,
			AuthorID:      data.Comment.AuthorID,
			Text:          data.Comment.Text,
			Mentions:      data.Comment.Mentions,
			ReplyTo:       data.Comment.ReplyTo,
			CreatedAt:     data.Comment.CreatedAt,
		}
		if err := s.engine.IndexComment(record); err != nil {
			s.logger.Warn("index comment failed", "comment_id", record.ID, "error", err)
		}
	case event.DecisionRecordedData:
		record := DecisionRecord{
			ID:            DecisionID(data.SessionID, data.RequirementID),
			SessionID:     data.SessionID,
			RequirementID: data.RequirementID,
			Outcome:       data.Outcome,
			Rationale:     data.Rationale,
			DecidedBy:     data.DecidedBy,
		}
		if err := s.engine.IndexDecision(record); err != nil {
			s.logger.Warn("index decision failed", "session_id", data.SessionID, "error", err)
		}
	}
}

// DecisionID derives a Meilisearch-safe primary key for a requirement
// decision. Requirement refs are opaque, so they are hex encoded.
func DecisionID(sessionID, requirementRef string) string {
	return fmt.Sprintf("%s_%x", strings.ReplaceAll(sessionID, "-", "_"), requirementRef)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

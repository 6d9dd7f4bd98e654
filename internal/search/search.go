// Package search indexes session discussion and decisions for full-text
// lookup. Meilisearch is the primary engine; the session store's own comment
// search is the fallback.
package search

import (
	"context"
	"time"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultComment  ResultType = "comment"
	ResultDecision ResultType = "decision"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type          ResultType `json:"type"`
	ID            string     `json:"id"`
	SessionID     string     `json:"sessionId"`
	RequirementID string     `json:"requirementId"`
	AuthorID      string     `json:"authorId,omitempty"`
	Snippet       string     `json:"snippet"`
	Outcome       string     `json:"outcome,omitempty"`
}

// Query describes a search request. Searches are always scoped to a session.
type Query struct {
	SessionID  string
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexComment(c CommentRecord) error
	IndexDecision(d DecisionRecord) error
}

// Engine is a search backend that also maintains its own index.
type Engine interface {
	Searcher
	Indexer
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	RequirementID string    `json:"requirementId"`
	AuthorID      string    `json:"authorId"`
	Text          string    `json:"text"`
	Mentions      []string  `json:"mentions"`
	ReplyTo       string    `json:"replyTo,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DecisionRecord is the data we index for a requirement decision.
type DecisionRecord struct {
	ID            string `json:"id"`
	SessionID     string `json:"sessionId"`
	RequirementID string `json:"requirementId"`
	Outcome       string `json:"outcome"`
	Rationale     string `json:"rationale"`
	DecidedBy     string `json:"decidedBy"`
}

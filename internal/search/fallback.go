package search

import (
	"context"
	"strings"

	"reviewroom/api/internal/store"
)

type commentSearcher interface {
	SearchComments(ctx context.Context, sessionID, text string, limit int) ([]store.Comment, error)
}

// StoreSearcher answers comment searches from the session store with a plain
// case-insensitive match. Decisions are not covered.
type StoreSearcher struct {
	store commentSearcher
}

func NewStoreSearcher(s commentSearcher) *StoreSearcher {
	return &StoreSearcher{store: s}
}

// Healthy always returns true: if the store is down the whole app is down.
func (p *StoreSearcher) Healthy() bool {
	return true
}

func (p *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.FilterType == ResultDecision {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	comments, err := p.store.SearchComments(ctx, q.SessionID, q.Text, limit+offset)
	if err != nil {
		return nil, 0, err
	}
	if offset >= len(comments) {
		return nil, len(comments), nil
	}
	results := make([]Result, 0, len(comments)-offset)
	for _, c := range comments[offset:] {
		results = append(results, Result{
			Type:          ResultComment,
			ID:            c.ID,
			SessionID:     c.SessionID,
			RequirementID: c.RequirementRef,
			AuthorID:      c.AuthorID,
			Snippet:       snippet(c.Text, q.Text),
		})
	}
	return results, len(comments), nil
}

// snippet returns up to 30 words around the first match.
func snippet(text, query string) string {
	words := strings.Fields(text)
	if len(words) <= 30 {
		return text
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	start := 0
	for i, word := range words {
		if strings.Contains(strings.ToLower(word), needle) {
			start = i - 10
			break
		}
	}
	if start < 0 {
		start = 0
	}
	end := start + 30
	if end > len(words) {
		end = len(words)
		start = end - 30
	}
	return strings.Join(words[start:end], " ")
}

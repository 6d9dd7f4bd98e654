package event

import "time"

// Payloads below are the wire shapes broadcast to websocket clients.

type UserJoinedData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeftData struct {
	UserID string `json:"userId"`
}

type ParticipantCountData struct {
	Count int `json:"count"`
}

type VoteCastData struct {
	SessionID     string `json:"sessionId"`
	RequirementID string `json:"requirementId"`
	VoteType      string `json:"voteType"`
	Comment       string `json:"comment,omitempty"`
	UserID        string `json:"userId"`
}

type CommentData struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	Mentions  []string  `json:"mentions,omitempty"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CommentAddedData struct {
	SessionID     string      `json:"sessionId"`
	RequirementID string      `json:"requirementId"`
	Comment       CommentData `json:"comment"`
}

type RequirementChangedData struct {
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
}

type SessionStatusData struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Index     int    `json:"index"`
}

type DecisionRecordedData struct {
	SessionID     string `json:"sessionId"`
	RequirementID string `json:"requirementId"`
	Outcome       string `json:"outcome"`
	Rationale     string `json:"rationale,omitempty"`
	DecidedBy     string `json:"decidedBy"`
}

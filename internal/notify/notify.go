// Package notify forwards vote, comment and mention events to the
// notification collaborator. Delivery (email, push) happens elsewhere.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"reviewroom/api/internal/event"
)

type Kind string

const (
	KindVoteCast     Kind = "vote-cast"
	KindCommentAdded Kind = "comment-added"
	KindMention      Kind = "mention"
)

// Notification is the JSON message handed to the collaborator.
type Notification struct {
	Kind          Kind      `json:"kind"`
	SessionID     string    `json:"sessionId"`
	RequirementID string    `json:"requirementId"`
	ActorID       string    `json:"actorId"`
	RecipientID   string    `json:"recipientId,omitempty"`
	VoteType      string    `json:"voteType,omitempty"`
	CommentID     string    `json:"commentId,omitempty"`
	Text          string    `json:"text,omitempty"`
	Seq           uint64    `json:"seq"`
	At            time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// FromEvent maps a bus event to zero or more notifications. A comment yields
// one comment-added notification plus one mention per mentioned user.
func FromEvent(evt event.Event) []Notification {
	switch data := evt.Data.(type) {
	case event.VoteCastData:
		return []Notification{{
			Kind:          KindVoteCast,
			SessionID:     data.SessionID,
			RequirementID: data.RequirementID,
			ActorID:       data.UserID,
			VoteType:      data.VoteType,
			Text:          data.Comment,
			Seq:           evt.Seq,
			At:            evt.At,
		}}
	case event.CommentAddedData:
		base := Notification{
			Kind:          KindCommentAdded,
			SessionID:     data.SessionID,
			RequirementID: data.RequirementID,
			ActorID:       data.Comment.AuthorID,
			CommentID:     data.Comment.ID,
			Text:          data.Comment.Text,
			Seq:           evt.Seq,
			At:            evt.At,
		}
		out := []Notification{base}
		for _, userID := range data.Comment.Mentions {
			if userID == data.Comment.AuthorID {
				continue
			}
			mention := base
			mention.Kind = KindMention
			mention.RecipientID = userID
			out = append(out, mention)
		}
		return out
	default:
		return nil
	}
}

// Forwarder is an async bus subscriber that hands notifications to a Publisher.
type Forwarder struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

func NewForwarder(publisher Publisher, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{publisher: publisher, logger: logger, timeout: 5 * time.Second}
}

func (f *Forwarder) HandleEvent(evt event.Event) {
	for _, n := range FromEvent(evt) {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := f.publisher.Publish(ctx, n)
		cancel()
		if err != nil {
			f.logger.Warn("notification publish failed", "kind", n.Kind, "session_id", n.SessionID, "error", err)
		}
	}
}

// RedisPublisher publishes notifications as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "reviewroom:notifications"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogPublisher writes notifications to the log when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, n Notification) error {
	p.logger.Info("notification",
		"kind", n.Kind,
		"session_id", n.SessionID,
		"requirement_id", n.RequirementID,
		"actor_id", n.ActorID,
		"recipient_id", n.RecipientID,
	)
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"reviewroom/api/internal/event"
)

func TestFromEventExpandsMentions(t *testing.T) {
	evt := event.Event{
		Type: event.CommentAdded,
		Seq:  7,
		Data: event.CommentAddedData{
			SessionID:     "S1",
			RequirementID: "R1",
			Comment: event.CommentData{
				ID:       "c1",
				AuthorID: "U1",
				Text:     "hello",
				Mentions: []string{"U2", "U1", "U3"},
			},
		},
	}
	got := FromEvent(evt)
	if len(got) != 3 {
		t.Fatalf("FromEvent() = %d notifications, want 3", len(got))
	}
	if got[0].Kind != KindCommentAdded || got[0].Seq != 7 {
		t.Fatalf("unexpected base notification: %+v", got[0])
	}
	if got[1].Kind != KindMention || got[1].RecipientID != "U2" || got[2].RecipientID != "U3" {
		t.Fatalf("unexpected mentions: %+v", got[1:])
	}
}

func TestFromEventIgnoresOtherTypes(t *testing.T) {
	if got := FromEvent(event.Event{Type: event.UserJoined, Data: event.UserJoinedData{UserID: "U1"}}); got != nil {
		t.Fatalf("FromEvent(user-joined) = %+v, want nil", got)
	}
}

func TestRedisForwarderPublishesVote(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "reviewroom:test")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	forwarder := NewForwarder(NewRedisPublisher(client, "reviewroom:test"), nil)
	forwarder.HandleEvent(event.Event{
		Type: event.VoteCast,
		Seq:  3,
		At:   time.Now().UTC(),
		Data: event.VoteCastData{SessionID: "S1", RequirementID: "R1", VoteType: "approve", UserID: "U1"},
	})

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	var n Notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if n.Kind != KindVoteCast || n.ActorID != "U1" || n.VoteType != "approve" || n.Seq != 3 {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"reviewroom/api/internal/app"
	"reviewroom/api/internal/auth"
	"reviewroom/api/internal/event"
	"reviewroom/api/internal/store"
)

const (
	frameJoinSession     = "join-session"
	frameLeaveSession    = "leave-session"
	frameCastVote        = "cast-vote"
	frameAddComment      = "add-comment"
	frameNextRequirement = "next-requirement"
	frameAck             = "ack"
	frameError           = "error"

	codeInvalidArgument = "INVALID_ARGUMENT"
	codeRateLimited     = "RATE_LIMITED"
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

type leavePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// castVotePayload accepts userId for client compatibility; the vote is
// always attributed to the authenticated identity.
type castVotePayload struct {
	SessionID     string `json:"sessionId"`
	RequirementID string `json:"requirementId"`
	VoteType      string `json:"voteType"`
	Comment       string `json:"comment"`
	UserID        string `json:"userId"`
}

type commentPayload struct {
	Text     string   `json:"text"`
	Mentions []string `json:"mentions"`
	ReplyTo  string   `json:"replyTo"`
}

type addCommentPayload struct {
	SessionID     string          `json:"sessionId"`
	RequirementID string          `json:"requirementId"`
	Comment       *commentPayload `json:"comment"`
}

type nextRequirementPayload struct {
	SessionID string `json:"sessionId"`
	Index     *int   `json:"index"`
}

// protocolError is a malformed or out-of-order frame. It is reported to the
// sender and the connection stays open.
type protocolError struct {
	message string
}

func (e *protocolError) Error() string { return e.message }

func invalid(format string, args ...any) error {
	return &protocolError{message: fmt.Sprintf(format, args...)}
}

func (g *Gateway) serveConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	identity, _ := conn.Request().Context().Value(identityKey{}).(auth.Identity)
	conn.MaxPayloadBytes = maxFrameBytes
	// The HTTP server's deadlines survive the hijack; the writer sets its own.
	_ = conn.SetDeadline(time.Time{})
	p := newPeer(conn, identity, g.sendQueue)
	if !g.track(p) {
		return
	}
	defer g.untrack(p)
	go p.writeLoop()
	defer func() {
		g.leaveCurrent(p)
		p.shutdown()
	}()

	logger := g.logger.With("user_id", identity.UserID)
	logger.Debug("websocket connected", "remote", conn.Request().RemoteAddr)

	ctx := conn.Request().Context()
	limiter := rate.NewLimiter(rate.Limit(g.framesPerSec), g.framesPerSec)
	for {
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				g.metrics.frames.WithLabelValues("unknown", codeInvalidArgument).Inc()
				g.replyError(p, "", errorPayload{Code: codeInvalidArgument, Message: "frame too large"})
				continue
			}
			logger.Debug("websocket closed", "reason", err)
			return
		}
		if !limiter.Allow() {
			g.metrics.frames.WithLabelValues("unknown", codeRateLimited).Inc()
			g.replyError(p, "", errorPayload{Code: codeRateLimited, Message: "rate limit exceeded", Retryable: true})
			logger.Warn("closing connection over frame rate limit")
			return
		}
		g.handleFrame(ctx, logger, p, raw)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, logger *slog.Logger, p *peer, raw []byte) {
	var in frame
	if err := decodeStrict(raw, &in); err != nil {
		g.metrics.frames.WithLabelValues("unknown", codeInvalidArgument).Inc()
		g.replyError(p, "", errorPayload{Code: codeInvalidArgument, Message: "invalid frame: " + err.Error()})
		return
	}
	label := in.Type
	if len(in.Payload) > maxFramePayloadBytes {
		g.metrics.frames.WithLabelValues(label, codeInvalidArgument).Inc()
		g.replyError(p, in.RequestID, errorPayload{Code: codeInvalidArgument, Message: "payload too large"})
		return
	}

	var (
		result map[string]any
		err    error
	)
	switch in.Type {
	case frameJoinSession:
		result, err = g.handleJoin(ctx, p, in.Payload)
	case frameLeaveSession:
		result, err = g.handleLeave(ctx, p, in.Payload)
	case frameCastVote:
		result, err = g.handleCastVote(ctx, p, in.Payload)
	case frameAddComment:
		result, err = g.handleAddComment(ctx, p, in.Payload)
	case frameNextRequirement:
		result, err = g.handleNextRequirement(ctx, p, in.Payload)
	default:
		label = "unknown"
		err = invalid("unsupported frame type %q", in.Type)
	}

	if err != nil {
		payload := errorFrom(err)
		g.metrics.frames.WithLabelValues(label, payload.Code).Inc()
		if payload.Code == "SERVER_ERROR" || payload.Retryable {
			logger.Error("command failed", "type", in.Type, "error", err)
		}
		g.replyError(p, in.RequestID, payload)
		return
	}
	g.metrics.frames.WithLabelValues(label, "ok").Inc()
	if result == nil {
		result = map[string]any{}
	}
	result["status"] = "ok"
	g.reply(p, frame{Type: frameAck, RequestID: in.RequestID, Payload: mustJSON(logger, result)})
}

func (g *Gateway) handleJoin(ctx context.Context, p *peer, raw json.RawMessage) (map[string]any, error) {
	var payload joinPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		return nil, invalid("sessionId is required")
	}
	if err := checkClaimedUser(p, payload.UserID); err != nil {
		return nil, err
	}
	if p.currentSession() == sessionID {
		return map[string]any{"sessionId": sessionID, "alreadyJoined": true}, nil
	}
	if previous := p.currentSession(); previous != "" {
		g.leaveSession(ctx, p, previous)
	}

	// Register before joining so the connection sees its own user-joined.
	g.hub.join(sessionID, p)
	p.setSession(sessionID)
	name := strings.TrimSpace(payload.UserName)
	if name == "" {
		name = p.identity.Name
	}
	result, err := g.coordinator.Join(ctx, sessionID, p.identity.UserID, name)
	if err != nil {
		g.hub.leave(sessionID, p)
		p.setSession("")
		return nil, err
	}
	return map[string]any{
		"sessionId":        sessionID,
		"session":          app.NewSessionView(result.Session),
		"participantCount": result.ParticipantCount,
		"seq":              result.Seq,
	}, nil
}

func (g *Gateway) handleLeave(ctx context.Context, p *peer, raw json.RawMessage) (map[string]any, error) {
	var payload leavePayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if err := checkClaimedUser(p, payload.UserID); err != nil {
		return nil, err
	}
	if sessionID == "" || p.currentSession() != sessionID {
		return nil, invalid("not joined to session %q", sessionID)
	}
	if err := g.leaveSession(ctx, p, sessionID); err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": sessionID}, nil
}

func (g *Gateway) handleCastVote(ctx context.Context, p *peer, raw json.RawMessage) (map[string]any, error) {
	var payload castVotePayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	if err := requireJoined(p, payload.SessionID); err != nil {
		return nil, err
	}
	vote, err := g.coordinator.CastVote(ctx, app.CastVoteInput{
		SessionID:      payload.SessionID,
		RequirementRef: strings.TrimSpace(payload.RequirementID),
		ParticipantID:  p.identity.UserID,
		VoteType:       store.VoteType(strings.TrimSpace(payload.VoteType)),
		Comment:        payload.Comment,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"vote": event.VoteCastData{
		SessionID:     vote.SessionID,
		RequirementID: vote.RequirementRef,
		VoteType:      string(vote.Type),
		Comment:       vote.Comment,
		UserID:        vote.ParticipantID,
	}}, nil
}

func (g *Gateway) handleAddComment(ctx context.Context, p *peer, raw json.RawMessage) (map[string]any, error) {
	var payload addCommentPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	if payload.Comment == nil {
		return nil, invalid("comment is required")
	}
	if err := requireJoined(p, payload.SessionID); err != nil {
		return nil, err
	}
	comment, err := g.coordinator.AddComment(ctx, app.AddCommentInput{
		SessionID:      payload.SessionID,
		RequirementRef: strings.TrimSpace(payload.RequirementID),
		AuthorID:       p.identity.UserID,
		Text:           payload.Comment.Text,
		Mentions:       payload.Comment.Mentions,
		ReplyTo:        payload.Comment.ReplyTo,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"comment": event.CommentData{
		ID:        comment.ID,
		AuthorID:  comment.AuthorID,
		Text:      comment.Text,
		Mentions:  comment.Mentions,
		ReplyTo:   comment.ReplyTo,
		CreatedAt: comment.CreatedAt,
	}}, nil
}

func (g *Gateway) handleNextRequirement(ctx context.Context, p *peer, raw json.RawMessage) (map[string]any, error) {
	var payload nextRequirementPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	if payload.Index == nil {
		return nil, invalid("index is required")
	}
	if err := requireJoined(p, payload.SessionID); err != nil {
		return nil, err
	}
	session, err := g.coordinator.MoveCursorTo(ctx, payload.SessionID, p.identity.UserID, *payload.Index)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": session.ID, "index": session.Cursor}, nil
}

// leaveSession removes the connection from the room before telling the
// coordinator, so the leaving connection does not receive its own user-left.
func (g *Gateway) leaveSession(ctx context.Context, p *peer, sessionID string) error {
	g.hub.leave(sessionID, p)
	p.setSession("")
	if err := g.coordinator.Leave(ctx, sessionID, p.identity.UserID); err != nil {
		g.logger.Warn("leave failed", "session_id", sessionID, "user_id", p.identity.UserID, "error", err)
		return err
	}
	return nil
}

// leaveCurrent is the implicit leave on socket close.
func (g *Gateway) leaveCurrent(p *peer) {
	sessionID := p.currentSession()
	if sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), implicitLeaveTimeout)
	defer cancel()
	_ = g.leaveSession(ctx, p, sessionID)
}

func checkClaimedUser(p *peer, claimed string) error {
	claimed = strings.TrimSpace(claimed)
	if claimed == "" || claimed == p.identity.UserID {
		return nil
	}
	return &app.DomainError{
		Status:  http.StatusForbidden,
		Code:    app.ErrNotAuthorized.Code,
		Message: "userId does not match the authenticated identity",
	}
}

func requireJoined(p *peer, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return invalid("sessionId is required")
	}
	if p.currentSession() != sessionID {
		return invalid("join session %q before sending commands for it", sessionID)
	}
	return nil
}

func decodeStrict(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func decodePayload(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return invalid("payload is required")
	}
	if err := decodeStrict(raw, target); err != nil {
		return invalid("invalid payload: %v", err)
	}
	return nil
}

func errorFrom(err error) errorPayload {
	var protoErr *protocolError
	if errors.As(err, &protoErr) {
		return errorPayload{Code: codeInvalidArgument, Message: protoErr.message}
	}
	info := app.MapError(err)
	return errorPayload{Code: info.Code, Message: info.Message, Retryable: info.Retryable}
}

func (g *Gateway) reply(p *peer, out frame) {
	data, err := json.Marshal(out)
	if err != nil {
		g.logger.Error("marshal reply frame", "type", out.Type, "error", err)
		return
	}
	if p.enqueue(data) {
		g.metrics.overflows.Inc()
	}
}

func (g *Gateway) replyError(p *peer, requestID string, payload errorPayload) {
	g.reply(p, frame{Type: frameError, RequestID: requestID, Payload: mustJSON(g.logger, payload)})
}

func mustJSON(logger *slog.Logger, v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("marshal websocket payload", "error", err)
		return nil
	}
	return b
}

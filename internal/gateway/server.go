// Package gateway is the realtime websocket front of the review engine. It
// authenticates connections, turns client frames into coordinator calls and
// fans coordinator events out to every connection joined to a session.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/websocket"

	"reviewroom/api/internal/app"
	"reviewroom/api/internal/auth"
	"reviewroom/api/internal/event"
	"reviewroom/api/internal/store"
)

const (
	maxFramePayloadBytes  = 16 * 1024
	maxFrameBytes         = 2 * maxFramePayloadBytes
	defaultSendQueue      = 256
	defaultFramesPerSec   = 40
	writeTimeout          = 10 * time.Second
	implicitLeaveTimeout  = 5 * time.Second
	accessTokenQueryParam = "access_token"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// Coordinator is the subset of the session coordinator driven by clients.
type Coordinator interface {
	Join(ctx context.Context, sessionID, participantID, displayName string) (app.JoinResult, error)
	Leave(ctx context.Context, sessionID, participantID string) error
	CastVote(ctx context.Context, input app.CastVoteInput) (store.Vote, error)
	AddComment(ctx context.Context, input app.AddCommentInput) (store.Comment, error)
	MoveCursorTo(ctx context.Context, sessionID, requestorID string, index int) (store.Session, error)
}

type EventSource interface {
	SubscribeFunc(handler event.HandlerFunc) event.SubscriberID
	Unsubscribe(id event.SubscriberID)
}

type Options struct {
	Coordinator        Coordinator
	Authenticator      Authenticator
	Events             EventSource
	Logger             *slog.Logger
	Registerer         prometheus.Registerer
	SendQueue          int
	MaxFramesPerSecond int
}

type Gateway struct {
	coordinator   Coordinator
	authenticator Authenticator
	events        EventSource
	subscription  event.SubscriberID
	logger        *slog.Logger
	metrics       *gatewayMetrics
	sendQueue     int
	framesPerSec  int
	hub           *roomHub

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
}

// New creates a gateway and subscribes it to coordinator events.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		coordinator:   opts.Coordinator,
		authenticator: opts.Authenticator,
		events:        opts.Events,
		logger:        logger.With("component", "gateway"),
		metrics:       newGatewayMetrics(opts.Registerer),
		sendQueue:     opts.SendQueue,
		framesPerSec:  opts.MaxFramesPerSecond,
		hub:           newRoomHub(),
		peers:         make(map[*peer]struct{}),
	}
	if g.sendQueue <= 0 {
		g.sendQueue = defaultSendQueue
	}
	if g.framesPerSec <= 0 {
		g.framesPerSec = defaultFramesPerSec
	}
	if g.events != nil {
		g.subscription = g.events.SubscribeFunc(g.dispatch)
	}
	return g
}

// Handler serves the websocket upgrade. Authentication happens before the
// upgrade so a bad token gets a plain 401.
func (g *Gateway) Handler() http.Handler {
	wsHandler := websocket.Handler(g.serveConn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token := tokenFromRequest(r)
		if token == "" || g.authenticator == nil {
			g.refuse(w, r, "missing token")
			return
		}
		identity, err := g.authenticator.Authenticate(r.Context(), token)
		if err != nil || strings.TrimSpace(identity.UserID) == "" {
			g.refuse(w, r, "token rejected")
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), identityKey{}, identity))
		wsHandler.ServeHTTP(w, r)
	})
}

func (g *Gateway) refuse(w http.ResponseWriter, r *http.Request, reason string) {
	g.logger.Info("websocket unauthorized", "remote", r.RemoteAddr, "reason", reason)
	g.metrics.rejected.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":  app.ErrConnectionUnauthenticated.Code,
		"error": "authentication required",
	})
}

type identityKey struct{}

func tokenFromRequest(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam))
}

// dispatch runs synchronously inside the coordinator's publish, so frames
// are queued in the order the session applied its mutations.
func (g *Gateway) dispatch(evt event.Event) {
	data, err := json.Marshal(frame{
		Type:    string(evt.Type),
		Seq:     evt.Seq,
		Payload: mustJSON(g.logger, evt.Data),
	})
	if err != nil {
		g.logger.Error("marshal event frame", "type", evt.Type, "error", err)
		return
	}
	for _, p := range g.hub.members(evt.SessionID) {
		if p.enqueue(data) {
			g.metrics.overflows.Inc()
			g.logger.Warn("closing slow connection", "session_id", evt.SessionID, "user_id", p.identity.UserID)
		}
	}
	g.metrics.broadcasts.WithLabelValues(string(evt.Type)).Inc()
}

func (g *Gateway) track(p *peer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.peers[p] = struct{}{}
	g.metrics.connections.Inc()
	return true
}

func (g *Gateway) untrack(p *peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.peers[p]; ok {
		delete(g.peers, p)
		g.metrics.connections.Dec()
	}
}

// Close unsubscribes from events and drops every open connection. Each
// connection's handler then performs its implicit leave.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	peers := make([]*peer, 0, len(g.peers))
	for p := range g.peers {
		peers = append(peers, p)
	}
	g.mu.Unlock()

	if g.events != nil {
		g.events.Unsubscribe(g.subscription)
	}
	for _, p := range peers {
		p.abort()
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reviewroom/api/internal/event"
	"reviewroom/api/internal/presence"
	"reviewroom/api/internal/store"
	"reviewroom/api/internal/util"
)

// Store is the durable state behind the coordinator. store.PostgresStore and
// store.MemoryStore both satisfy it.
type Store interface {
	Ping(context.Context) error
	InsertSession(context.Context, store.Session) error
	GetSession(context.Context, string) (store.Session, error)
	UpdateSessionState(context.Context, string, store.SessionState) error
	SetParticipantPresence(context.Context, string, string, bool, time.Time) error
	PutVote(context.Context, store.Vote) error
	ListVotes(context.Context, string, string) ([]store.Vote, error)
	ListSessionVotes(context.Context, string) ([]store.Vote, error)
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string, string, string) (store.Comment, error)
	ListComments(context.Context, string, string) ([]store.Comment, error)
	ListSessionComments(context.Context, string) ([]store.Comment, error)
	UpsertDecision(context.Context, store.Decision) error
	ListDecisions(context.Context, string) ([]store.Decision, error)
}

type publisher interface {
	Publish(event.Event)
}

type Options struct {
	Store      Store
	Presence   presence.Tracker
	Events     publisher
	Authorizer Authorizer
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	// RetryDelay is the pause before the single retry of a failed store write.
	RetryDelay time.Duration
	Now        func() time.Time
}

// Coordinator is the only path through which session status, cursor, votes,
// comments and decisions change. Mutations on one session are serialized by
// that session's handle; different sessions never share a lock.
type Coordinator struct {
	store      Store
	presence   presence.Tracker
	events     publisher
	authorizer Authorizer
	logger     *slog.Logger
	metrics    *coordinatorMetrics
	tracer     trace.Tracer
	retryDelay time.Duration
	now        func() time.Time

	mu      sync.Mutex
	handles map[string]*sessionHandle
}

type sessionHandle struct {
	mu      sync.Mutex
	loaded  bool
	evicted bool
	session store.Session
	seq     uint64
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		store:      opts.Store,
		presence:   opts.Presence,
		events:     opts.Events,
		authorizer: opts.Authorizer,
		logger:     opts.Logger,
		tracer:     otel.Tracer("reviewroom/app"),
		retryDelay: opts.RetryDelay,
		now:        opts.Now,
		handles:    make(map[string]*sessionHandle),
	}
	if c.presence == nil {
		c.presence = presence.NewMemoryTracker()
	}
	if c.events == nil {
		c.events = event.NewBus(nil, opts.Logger)
	}
	if c.authorizer == nil {
		c.authorizer = RosterAuthorizer{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Registerer != nil {
		c.metrics = newCoordinatorMetrics(opts.Registerer)
	}
	return c
}

func (c *Coordinator) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Coordinator) handle(sessionID string) *sessionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[sessionID]
	if !ok {
		h = &sessionHandle{}
		c.handles[sessionID] = h
	}
	return h
}

// lockHandle returns the live handle for sessionID with its lock held. A
// handle evicted while the caller waited is skipped.
func (c *Coordinator) lockHandle(sessionID string) *sessionHandle {
	for {
		h := c.handle(sessionID)
		h.mu.Lock()
		if !h.evicted {
			return h
		}
		h.mu.Unlock()
	}
}

// forget drops the handle from the cache. The caller holds h.mu.
func (c *Coordinator) forget(sessionID string, h *sessionHandle) {
	h.evicted = true
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles[sessionID] == h {
		delete(c.handles, sessionID)
	}
}

// evictIfIdle forgets a completed session once nobody is connected to it. A
// later call reloads it from the store.
func (c *Coordinator) evictIfIdle(ctx context.Context, h *sessionHandle) {
	if h.session.Status != store.StatusCompleted {
		return
	}
	count, err := c.presence.OnlineCount(ctx, h.session.ID)
	if err != nil || count > 0 {
		return
	}
	c.forget(h.session.ID, h)
}

// withSession runs fn while holding the session's handle, loading the session
// from the store on first use.
func (c *Coordinator) withSession(ctx context.Context, sessionID string, fn func(*sessionHandle) error) error {
	if strings.TrimSpace(sessionID) == "" {
		return failure(ErrInvalidInput, "sessionId is required", nil)
	}
	h := c.lockHandle(sessionID)
	defer h.mu.Unlock()
	if !h.loaded {
		var session store.Session
		err := c.retry(ctx, "load session", func(ctx context.Context) error {
			var err error
			session, err = c.store.GetSession(ctx, sessionID)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.forget(sessionID, h)
			}
			return err
		}
		h.session = session
		h.loaded = true
	}
	return fn(h)
}

// snapshot returns a copy of the session without holding its handle afterwards.
func (c *Coordinator) snapshot(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	err := c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		session = h.session.Clone()
		c.evictIfIdle(ctx, h)
		return nil
	})
	return session, err
}

// retry runs a store call, retrying once after RetryDelay. Not-found and
// domain errors are never retried.
func (c *Coordinator) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	err := backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var domainErr *DomainError
		if errors.Is(err, store.ErrNotFound) || errors.As(err, &domainErr) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("store call failed", "op", op, "attempt", attempt, "error", err)
		if c.metrics != nil {
			c.metrics.storeFailures.WithLabelValues(op).Inc()
		}
		return err
	}, policy)
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, store.ErrNotFound) {
		return failure(ErrNotFound, fmt.Sprintf("%s: not found", op), nil)
	}
	c.logger.Error("store unavailable", "op", op, "attempts", attempt, "error", err)
	return failure(ErrStorageUnavailable, fmt.Sprintf("%s failed, retry later", op), nil)
}

// emit publishes an event stamped with the session's next sequence number.
// Callers hold h.mu.
func (c *Coordinator) emit(h *sessionHandle, eventType event.Type, data any) {
	h.seq++
	c.events.Publish(event.Event{
		Type:      eventType,
		SessionID: h.session.ID,
		Seq:       h.seq,
		At:        c.now(),
		Data:      data,
	})
}

func (c *Coordinator) startSpan(ctx context.Context, op, sessionID string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "coordinator."+op, trace.WithAttributes(attribute.String("session.id", sessionID)))
}

func (c *Coordinator) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			result = domainErr.Code
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if c.metrics != nil {
		c.metrics.mutations.WithLabelValues(op, result).Inc()
	}
}

type ParticipantInput struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type CreateSessionInput struct {
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	ProjectID       string             `json:"projectId"`
	RequirementRefs []string           `json:"requirementRefs"`
	Participants    []ParticipantInput `json:"participants"`
	ScheduledAt     *time.Time         `json:"scheduledAt"`
	CreatedBy       string             `json:"-"`
}

// CreateSession validates the roster and requirement list and stores a new
// scheduled session. The roster is stored as supplied; a creator who is not on
// it still controls the session through CreatedBy but never votes.
func (c *Coordinator) CreateSession(ctx context.Context, input CreateSessionInput) (session store.Session, err error) {
	ctx, span := c.startSpan(ctx, "CreateSession", "")
	defer func() { c.finish(span, "create_session", err) }()

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Session{}, failure(ErrInvalidInput, "name is required", nil)
	}
	createdBy := strings.TrimSpace(input.CreatedBy)
	if createdBy == "" {
		return store.Session{}, failure(ErrInvalidInput, "creator is required", nil)
	}
	if len(input.RequirementRefs) == 0 {
		return store.Session{}, failure(ErrInvalidInput, "requirementRefs must not be empty", nil)
	}
	if len(input.Participants) == 0 {
		return store.Session{}, failure(ErrInvalidInput, "participants must not be empty", nil)
	}

	refs := make([]string, 0, len(input.RequirementRefs))
	seenRefs := make(map[string]struct{}, len(input.RequirementRefs))
	for _, raw := range input.RequirementRefs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			return store.Session{}, failure(ErrInvalidInput, "requirementRefs must not contain blank entries", nil)
		}
		if _, dup := seenRefs[ref]; dup {
			return store.Session{}, failure(ErrInvalidInput, "requirementRefs must be unique", map[string]any{"requirementId": ref})
		}
		seenRefs[ref] = struct{}{}
		refs = append(refs, ref)
	}

	participants := make([]store.Participant, 0, len(input.Participants))
	seenUsers := make(map[string]struct{}, len(input.Participants))
	for _, raw := range input.Participants {
		userID := strings.TrimSpace(raw.UserID)
		if userID == "" {
			return store.Session{}, failure(ErrInvalidInput, "participant userId is required", nil)
		}
		if _, dup := seenUsers[userID]; dup {
			return store.Session{}, failure(ErrInvalidInput, "participants must be unique", map[string]any{"userId": userID})
		}
		seenUsers[userID] = struct{}{}
		displayName := strings.TrimSpace(raw.DisplayName)
		if displayName == "" {
			displayName = userID
		}
		role := strings.TrimSpace(raw.Role)
		if role == "" {
			role = "participant"
		}
		participants = append(participants, store.Participant{UserID: userID, DisplayName: displayName, Role: role})
	}

	now := c.now()
	session = store.Session{
		ID:              util.NewID("ses"),
		Name:            name,
		Description:     strings.TrimSpace(input.Description),
		ProjectID:       strings.TrimSpace(input.ProjectID),
		RequirementRefs: refs,
		Status:          store.StatusScheduled,
		CreatedBy:       createdBy,
		Participants:    participants,
		ScheduledAt:     input.ScheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(attribute.String("session.id", session.ID))
	if err := c.retry(ctx, "insert session", func(ctx context.Context) error {
		return c.store.InsertSession(ctx, session)
	}); err != nil {
		return store.Session{}, err
	}

	h := c.handle(session.ID)
	h.mu.Lock()
	h.session = session.Clone()
	h.loaded = true
	h.mu.Unlock()

	c.logger.Info("session created", "session_id", session.ID, "requirements", len(refs), "participants", len(participants))
	return session, nil
}

func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	return c.snapshot(ctx, sessionID)
}

func (c *Coordinator) authorizeFacilitator(session store.Session, requestorID string) error {
	requestorID = strings.TrimSpace(requestorID)
	if requestorID == "" {
		return failure(ErrNotAuthorized, "requestor identity is required", nil)
	}
	if !c.authorizer.CanFacilitate(session, requestorID) {
		return failure(ErrNotAuthorized, "only a facilitator can control the session", nil)
	}
	return nil
}

// transition applies mutate to a copy of the cached session, persists the
// resulting state and only then swaps the cache.
func (c *Coordinator) transition(ctx context.Context, h *sessionHandle, op string, mutate func(*store.Session)) (store.Session, error) {
	next := h.session.Clone()
	mutate(&next)
	state := store.SessionState{
		Status:            next.Status,
		Cursor:            next.Cursor,
		RosterSizeAtStart: next.RosterSizeAtStart,
		StartedAt:         next.StartedAt,
		CompletedAt:       next.CompletedAt,
	}
	if err := c.retry(ctx, op, func(ctx context.Context) error {
		return c.store.UpdateSessionState(ctx, next.ID, state)
	}); err != nil {
		return store.Session{}, err
	}
	next.UpdatedAt = c.now()
	h.session = next
	return next.Clone(), nil
}

func (c *Coordinator) emitStatus(h *sessionHandle) {
	c.emit(h, event.SessionStatus, event.SessionStatusData{
		SessionID: h.session.ID,
		Status:    string(h.session.Status),
		Index:     h.session.Cursor,
	})
}

func (c *Coordinator) StartSession(ctx context.Context, sessionID, requestorID string) (result store.Session, err error) {
	ctx, span := c.startSpan(ctx, "StartSession", sessionID)
	defer func() { c.finish(span, "start_session", err) }()

	err = c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		if err := c.authorizeFacilitator(h.session, requestorID); err != nil {
			return err
		}
		if h.session.Status != store.StatusScheduled {
			return failure(ErrInvalidTransition, fmt.Sprintf("cannot start a %s session", h.session.Status), nil)
		}
		now := c.now()
		updated, err := c.transition(ctx, h, "start session", func(s *store.Session) {
			s.Status = store.StatusActive
			s.Cursor = 0
			s.StartedAt = &now
			s.RosterSizeAtStart = votingRosterSize(*s)
		})
		if err != nil {
			return err
		}
		result = updated
		c.emitStatus(h)
		c.emit(h, event.RequirementChanged, event.RequirementChangedData{SessionID: sessionID, Index: 0})
		return nil
	})
	return result, err
}

func (c *Coordinator) PauseSession(ctx context.Context, sessionID, requestorID string) (store.Session, error) {
	return c.toggle(ctx, "PauseSession", "pause_session", sessionID, requestorID, store.StatusActive, store.StatusPaused)
}

func (c *Coordinator) ResumeSession(ctx context.Context, sessionID, requestorID string) (store.Session, error) {
	return c.toggle(ctx, "ResumeSession", "resume_session", sessionID, requestorID, store.StatusPaused, store.StatusActive)
}

func (c *Coordinator) toggle(ctx context.Context, spanName, op, sessionID, requestorID string, from, to store.Status) (result store.Session, err error) {
	ctx, span := c.startSpan(ctx, spanName, sessionID)
	defer func() { c.finish(span, op, err) }()

	err = c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		if err := c.authorizeFacilitator(h.session, requestorID); err != nil {
			return err
		}
		if h.session.Status != from {
			return failure(ErrInvalidTransition, fmt.Sprintf("cannot move a %s session to %s", h.session.Status, to), nil)
		}
		updated, err := c.transition(ctx, h, strings.ReplaceAll(op, "_", " "), func(s *store.Session) {
			s.Status = to
		})
		if err != nil {
			return err
		}
		result = updated
		c.emitStatus(h)
		return nil
	})
	return result, err
}

type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
)

// AdvanceCursor moves the cursor one step, clamped to the requirement list.
// Moving past either end is not an error and never completes the session.
func (c *Coordinator) AdvanceCursor(ctx context.Context, sessionID, requestorID string, direction Direction) (result store.Session, err error) {
	ctx, span := c.startSpan(ctx, "AdvanceCursor", sessionID)
	defer func() { c.finish(span, "advance_cursor", err) }()

	step := 0
	switch direction {
	case DirectionNext:
		step = 1
	case DirectionPrevious:
		step = -1
	default:
		return store.Session{}, failure(ErrInvalidInput, "direction must be next or previous", nil)
	}

	err = c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		if err := c.requireCursorControl(h, requestorID); err != nil {
			return err
		}
		result, err = c.moveCursor(ctx, h, h.session.Cursor+step)
		return err
	})
	return result, err
}

// MoveCursorTo accepts an absolute index as sent by realtime clients. The
// index must be the current cursor (no-op) or one step away from it.
func (c *Coordinator) MoveCursorTo(ctx context.Context, sessionID, requestorID string, index int) (result store.Session, err error) {
	ctx, span := c.startSpan(ctx, "MoveCursorTo", sessionID)
	defer func() { c.finish(span, "advance_cursor", err) }()

	err = c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		if err := c.requireCursorControl(h, requestorID); err != nil {
			return err
		}
		switch index - h.session.Cursor {
		case -1, 0, 1:
		default:
			return failure(ErrInvalidTransition, fmt.Sprintf("cursor is at %d, cannot jump to %d", h.session.Cursor, index),
				map[string]any{"index": h.session.Cursor})
		}
		result, err = c.moveCursor(ctx, h, index)
		return err
	})
	return result, err
}

func (c *Coordinator) requireCursorControl(h *sessionHandle, requestorID string) error {
	if err := c.authorizeFacilitator(h.session, requestorID); err != nil {
		return err
	}
	if h.session.Status != store.StatusActive {
		return failure(ErrInvalidTransition, fmt.Sprintf("cannot move the cursor of a %s session", h.session.Status), nil)
	}
	return nil
}

// moveCursor clamps target and persists it. requirement-changed is emitted
// only when the cursor actually moves. Callers hold h.mu.
func (c *Coordinator) moveCursor(ctx context.Context, h *sessionHandle, target int) (store.Session, error) {
	if target < 0 {
		target = 0
	}
	if last := len(h.session.RequirementRefs) - 1; target > last {
		target = last
	}
	if target == h.session.Cursor {
		return h.session.Clone(), nil
	}
	updated, err := c.transition(ctx, h, "advance cursor", func(s *store.Session) {
		s.Cursor = target
	})
	if err != nil {
		return store.Session{}, err
	}
	c.emit(h, event.RequirementChanged, event.RequirementChangedData{SessionID: h.session.ID, Index: target})
	return updated, nil
}

// CompleteSession is idempotent: completing a completed session returns its
// current state.
func (c *Coordinator) CompleteSession(ctx context.Context, sessionID, requestorID string) (result store.Session, err error) {
	ctx, span := c.startSpan(ctx, "CompleteSession", sessionID)
	defer func() { c.finish(span, "complete_session", err) }()

	err = c.withSession(ctx, sessionID, func(h *sessionHandle) error {
		if err := c.authorizeFacilitator(h.session, requestorID); err != nil {
			return err
		}
		switch h.session.Status {
		case store.StatusCompleted:
			result = h.session.Clone()
			return nil
		case store.StatusActive, store.StatusPaused:
		default:
			return failure(ErrInvalidTransition, fmt.Sprintf("cannot complete a %s session", h.session.Status), nil)
		}
		now := c.now()
		updated, err := c.transition(ctx, h, "complete session", func(s *store.Session) {
			s.Status = store.StatusCompleted
			s.CompletedAt = &now
		})
		if err != nil {
			return err
		}
		result = updated
		c.emitStatus(h)
		c.logger.Info("session completed", "session_id", sessionID)
		c.evictIfIdle(ctx, h)
		return nil
	})
	return result, err
}

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reviewroom/api/internal/auth"
	"reviewroom/api/internal/export"
	"reviewroom/api/internal/search"
	"reviewroom/api/internal/store"
)

type identityVerifier interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

type summaryExporter interface {
	Export(ctx context.Context, summary export.Summary, format export.Format) (*export.Result, error)
}

type discussionSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type HTTPOptions struct {
	Coordinator *Coordinator
	Verifier    identityVerifier
	Exporter    summaryExporter
	Searcher    discussionSearcher
	Logger      *slog.Logger
	CORSOrigin  string
	// ReadyChecks are reported by /api/ready next to the store ping.
	ReadyChecks map[string]func(context.Context) error
}

type HTTPServer struct {
	coordinator *Coordinator
	verifier    identityVerifier
	exporter    summaryExporter
	searcher    discussionSearcher
	logger      *slog.Logger
	corsOrigin  string
	readyChecks map[string]func(context.Context) error
}

func NewHTTPServer(opts HTTPOptions) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		coordinator: opts.Coordinator,
		verifier:    opts.Verifier,
		exporter:    opts.Exporter,
		searcher:    opts.Searcher,
		logger:      logger,
		corsOrigin:  opts.CORSOrigin,
		readyChecks: opts.ReadyChecks,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/me" {
		writeJSON(w, http.StatusOK, map[string]any{"userId": identity.UserID, "userName": identity.Name, "role": identity.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
		var body CreateSessionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.CreatedBy = identity.UserID
		session, err := s.coordinator.CreateSession(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": NewSessionView(session)})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleSession(w, r, identity, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.coordinator.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	for name, check := range s.readyChecks {
		if err := check(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, identity auth.Identity, sessionID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 && r.Method == http.MethodGet {
		session, err := s.coordinator.GetSession(ctx, sessionID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": NewSessionView(session)})
		return
	}

	if len(rest) == 1 && r.Method == http.MethodPost {
		var (
			session store.Session
			err     error
		)
		switch rest[0] {
		case "start":
			session, err = s.coordinator.StartSession(ctx, sessionID, identity.UserID)
		case "pause":
			session, err = s.coordinator.PauseSession(ctx, sessionID, identity.UserID)
		case "resume":
			session, err = s.coordinator.ResumeSession(ctx, sessionID, identity.UserID)
		case "complete":
			session, err = s.coordinator.CompleteSession(ctx, sessionID, identity.UserID)
		case "cursor":
			var body struct {
				Direction Direction `json:"direction"`
			}
			if decodeErr := decodeBody(r, &body); decodeErr != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
				return
			}
			session, err = s.coordinator.AdvanceCursor(ctx, sessionID, identity.UserID, body.Direction)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": NewSessionView(session)})
		return
	}

	if len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet {
		s.handleExport(w, r, sessionID)
		return
	}

	if len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet {
		s.handleSearch(w, r, sessionID)
		return
	}

	if len(rest) == 3 && rest[0] == "requirements" {
		s.handleRequirement(w, r, identity, sessionID, rest[1], rest[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleRequirement(w http.ResponseWriter, r *http.Request, identity auth.Identity, sessionID, requirementRef, action string) {
	ctx := r.Context()

	switch {
	case action == "review" && r.Method == http.MethodGet:
		state, err := s.coordinator.GetReviewState(ctx, sessionID, requirementRef)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case action == "votes" && r.Method == http.MethodPost:
		var body struct {
			VoteType string `json:"voteType"`
			Comment  string `json:"comment"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		vote, err := s.coordinator.CastVote(ctx, CastVoteInput{
			SessionID:      sessionID,
			RequirementRef: requirementRef,
			ParticipantID:  identity.UserID,
			VoteType:       store.VoteType(body.VoteType),
			Comment:        body.Comment,
		})
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"vote": export.Vote{UserID: vote.ParticipantID, VoteType: string(vote.Type), Comment: vote.Comment, CastAt: vote.CastAt},
		})

	case action == "comments" && r.Method == http.MethodPost:
		var body struct {
			Text     string   `json:"text"`
			Mentions []string `json:"mentions"`
			ReplyTo  string   `json:"replyTo"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.coordinator.AddComment(ctx, AddCommentInput{
			SessionID:      sessionID,
			RequirementRef: requirementRef,
			AuthorID:       identity.UserID,
			Text:           body.Text,
			Mentions:       body.Mentions,
			ReplyTo:        body.ReplyTo,
		})
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"comment": commentData(comment)})

	case action == "decision" && r.Method == http.MethodPut:
		var body struct {
			Outcome   string `json:"outcome"`
			Rationale string `json:"rationale"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		decision, err := s.coordinator.RecordDecision(ctx, RecordDecisionInput{
			SessionID:      sessionID,
			RequirementRef: requirementRef,
			RequestorID:    identity.UserID,
			Outcome:        store.Outcome(body.Outcome),
			Rationale:      body.Rationale,
		})
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"decision": export.Decision{
				Outcome:   string(decision.Outcome),
				Rationale: decision.Rationale,
				DecidedBy: decision.DecidedBy,
				DecidedAt: decision.DecidedAt,
			},
		})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "format must be json or pdf", nil)
		return
	}
	summary, err := s.coordinator.SessionSummary(r.Context(), sessionID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	result, err := s.exporter.Export(r.Context(), summary, format)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	if result.DownloadURL != "" {
		w.Header().Set("X-Download-URL", result.DownloadURL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
		return
	}
	if _, err := s.coordinator.GetSession(r.Context(), sessionID); err != nil {
		s.writeMappedError(w, err)
		return
	}
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.searcher.Search(r.Context(), search.Query{
		SessionID:  sessionID,
		Text:       text,
		FilterType: search.ResultType(query.Get("type")),
		Limit:      limit,
		Offset:     offset,
	}))
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" || s.verifier == nil {
		writeError(w, http.StatusUnauthorized, ErrConnectionUnauthenticated.Code, "Unauthorized", nil)
		return auth.Identity{}, false
	}
	identity, err := s.verifier.Authenticate(r.Context(), token)
	if err != nil {
		s.writeMappedError(w, err)
		return auth.Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	info := MapError(err)
	if info.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", info.Code, "error", err)
	}
	writeError(w, info.Status, info.Code, info.Message, info.Details)
}

type requestIDKey struct{}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ErrorInfo is the caller-facing shape of any error returned by the engine.
type ErrorInfo struct {
	Status    int
	Code      string
	Message   string
	Details   any
	Retryable bool
}

// MapError converts coordinator, auth and export errors for HTTP responses
// and websocket error frames.
func MapError(err error) ErrorInfo {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return ErrorInfo{
			Status:    domainErr.Status,
			Code:      domainErr.Code,
			Message:   domainErr.Message,
			Details:   domainErr.Details,
			Retryable: domainErr.Retryable(),
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrorInfo{Status: http.StatusNotFound, Code: ErrNotFound.Code, Message: "Not found"}
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return ErrorInfo{Status: http.StatusUnauthorized, Code: ErrConnectionUnauthenticated.Code, Message: "Unauthorized"}
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return ErrorInfo{Status: http.StatusUnprocessableEntity, Code: ErrInvalidInput.Code, Message: err.Error()}
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return ErrorInfo{Status: http.StatusServiceUnavailable, Code: "EXPORT_UNAVAILABLE", Message: "PDF export is not available", Retryable: true}
	}
	return ErrorInfo{Status: http.StatusInternalServerError, Code: "SERVER_ERROR", Message: "Server error"}
}

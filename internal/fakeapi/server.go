// Package fakeapi serves an in-process emulation of the remote execution API.
// It backs transport and end-to-end tests and the `fakeapi` subcommand used
// for local runs. Notable routes:
//   - GET /api/* answers from the fixture's route table or 404.
//   - POST /graphql answers with the fixture's GraphQL document.
//   - GET /healthz for readiness checks.
package fakeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/execution-probe/internal/probe"
)

// Fixture describes what the emulated API returns.
type Fixture struct {
	// Token is the accepted bearer token. Empty disables auth checks.
	Token string
	// RequireAuthToken rejects requests lacking the X-Auth-Token header.
	RequireAuthToken bool
	// Routes maps REST paths relative to /api to raw JSON bodies.
	Routes map[string]string
	// Statuses overrides the status for a REST path.
	Statuses map[string]int
	// GraphQL is the raw response to POST /graphql. Empty answers 404.
	GraphQL string
}

// Server is the emulated API.
type Server struct {
	router  chi.Router
	fixture Fixture
	logger  *zap.Logger

	mu   sync.Mutex
	hits map[string]int
}

// NewServer constructs a Server with middleware and routes.
func NewServer(fixture Fixture, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		fixture: fixture,
		logger:  logger,
		hits:    make(map[string]int),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Group(func(r chi.Router) {
		r.Use(s.countMiddleware)
		r.Use(authMiddleware(fixture.Token, fixture.RequireAuthToken))
		r.Get("/api/*", s.serveREST)
		r.Post("/graphql", s.serveGraphQL)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hits returns how often "METHOD /path" was requested.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serveREST(w http.ResponseWriter, r *http.Request) {
	path := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if status, ok := s.fixture.Statuses[path]; ok {
		writeError(w, status, http.StatusText(status))
		return
	}
	body, ok := s.fixture.Routes[path]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeRaw(w, http.StatusOK, body)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func (s *Server) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid graphql request")
		return
	}
	if s.fixture.GraphQL == "" {
		writeError(w, http.StatusNotFound, "graphql not enabled")
		return
	}
	writeRaw(w, http.StatusOK, s.fixture.GraphQL)
}

// DemoFixture serves a checkpoint tree for ids so a local extract run has
// something to normalize.
func DemoFixture(ids probe.Identifiers, token string) Fixture {
	exec := ids.ExecutionID.String()
	return Fixture{
		Token: token,
		Routes: map[string]string{
			"/executions/" + exec: `{"id":` + quoteID(exec) + `,"status":"PASSED"}`,
			"/executions/" + exec + "/checkpoints": `[` +
				`{"id":1,"name":"Navigate to login","steps":[{"id":11,"action":"navigate","value":"https://app.example.test/login"}]},` +
				`{"id":2,"name":"Sign in","steps":[{"id":21,"action":"write","selector":"#email","value":"demo@example.test"},{"id":22,"action":"click","selector":"#submit"}]}` +
				`]`,
			"/runs/" + exec: `{"id":` + quoteID(exec) + `,"state":"finished"}`,
		},
	}
}

func quoteID(id string) string {
	out, err := json.Marshal(probe.Identifier(id))
	if err != nil {
		return `null`
	}
	return string(out)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

// authMiddleware accepts `Authorization: Bearer <token>`, and additionally
// X-Auth-Token when requireAuthToken is set.
func authMiddleware(token string, requireAuthToken bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if requireAuthToken && r.Header.Get(probe.AuthTokenHeader) != token {
				writeError(w, http.StatusUnauthorized, "missing auth token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

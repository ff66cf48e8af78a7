// Package api exposes the task and webhook operations over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/taskhook/internal/auth"
	"github.com/austindbirch/taskhook/internal/delivery"
	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/ratelimit"
	"github.com/austindbirch/taskhook/internal/store"
	"github.com/austindbirch/taskhook/internal/tasks"
)

const maxBodyBytes = 1 << 20

// WebhookTester sends the fixed test message to one webhook
type WebhookTester interface {
	SendTest(ctx context.Context, webhookID string) (delivery.Outcome, error)
}

type Options struct {
	Tasks  *tasks.Service
	Store  store.Store
	Tester WebhookTester
	Guard  URLGuard
	Now    func() time.Time
	NewID  func() string
	Logger *logging.Logger
	// TrustedProxies may set X-Forwarded-For; other peers are keyed by
	// their socket address
	TrustedProxies []string
}

// URLGuard decides whether a webhook URL is acceptable
type URLGuard interface {
	Allowed(rawURL string) bool
}

type Server struct {
	tasks  *tasks.Service
	store  store.Store
	tester WebhookTester
	guard  URLGuard
	now    func() time.Time
	newID  func() string
	logger *logging.Logger

	trustedProxies []string
}

func New(opts Options) *Server {
	s := &Server{
		tasks:  opts.Tasks,
		store:  opts.Store,
		tester: opts.Tester,
		guard:  opts.Guard,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: opts.Logger,

		trustedProxies: opts.TrustedProxies,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = logging.New("taskhook-api")
	}
	return s
}

// Routes registers every /v1 route on a new mux
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/projects", s.createProject)
	mux.HandleFunc("GET /v1/projects/{id}", s.getProject)

	mux.HandleFunc("POST /v1/tasks", s.createTask)
	mux.HandleFunc("GET /v1/tasks", s.listTasks)
	mux.HandleFunc("GET /v1/tasks/next", s.nextTask)
	mux.HandleFunc("GET /v1/tasks/{id}", s.getTask)
	mux.HandleFunc("GET /v1/tasks/{id}/history", s.taskHistory)
	mux.HandleFunc("POST /v1/tasks/{id}/status", s.updateTaskStatus)
	mux.HandleFunc("DELETE /v1/tasks/{id}", s.deleteTask)

	mux.HandleFunc("POST /v1/webhooks", s.createWebhook)
	mux.HandleFunc("GET /v1/webhooks", s.listWebhooks)
	mux.HandleFunc("GET /v1/webhooks/{id}", s.getWebhook)
	mux.HandleFunc("PUT /v1/webhooks/{id}", s.updateWebhook)
	mux.HandleFunc("DELETE /v1/webhooks/{id}", s.deleteWebhook)
	mux.HandleFunc("POST /v1/webhooks/{id}/test", s.testWebhook)

	mux.HandleFunc("POST /v1/urlcheck", s.urlCheck)
	return mux
}

// Handler wraps Routes with caller identity and rate limiting. A nil
// validator identifies callers by client IP only.
func (s *Server) Handler(l *ratelimit.Limiter, p ratelimit.Policy, v *auth.JWTValidator) http.Handler {
	return auth.Middleware(v, s.trustedProxies...)(ratelimit.Middleware(l, p)(s.Routes()))
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeTaskError maps task service errors onto responses. Invalid
// transitions are reported like a missing task.
func (s *Server) writeTaskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tasks.ErrInvalidTask):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, tasks.ErrInvalidTransition):
		writeError(w, http.StatusNotFound, "task not found or invalid transition")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "task was modified concurrently, retry")
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WithContext(r.Context()).
		WithError(err).
		WithField("path", r.URL.Path).
		Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// actor is the authenticated subject; anonymous callers render as System
func actor(r *http.Request) string {
	sub, _ := auth.SubjectFromContext(r.Context())
	return sub
}

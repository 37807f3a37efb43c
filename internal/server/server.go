// Package server is the agent's local HTTP API. The app shell talks to it
// instead of the REST API so offline requests land in the queue.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/austindbirch/fieldsync/internal/action"
	"github.com/austindbirch/fieldsync/internal/client"
	"github.com/austindbirch/fieldsync/internal/logging"
	"github.com/austindbirch/fieldsync/internal/queue"
	"github.com/austindbirch/fieldsync/internal/replay"
	"github.com/austindbirch/fieldsync/internal/tracing"
)

type requester interface {
	Do(ctx context.Context, endpoint string, opts action.Options) (*client.Response, action.Action, error)
}

type replayer interface {
	Trigger(ctx context.Context) (replay.Result, error)
}

type connectivity interface {
	Online() bool
	Set(online bool)
}

type Options struct {
	Client       requester
	Queue        *queue.Queue
	Replayer     replayer
	Connectivity connectivity
	Health       http.Handler
	Metrics      http.Handler
	CORSOrigins  []string
	Logger       *logging.Logger
}

type Server struct {
	opts     Options
	router   *chi.Mux
	validate *validator.Validate
	logger   *logging.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	s := &Server{
		opts:     opts,
		router:   chi.NewMux(),
		validate: validator.New(),
		logger:   opts.Logger,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "traceparent", "tracestate"},
		MaxAge:         300,
	}))

	if s.opts.Health != nil {
		s.router.Method(http.MethodGet, "/healthz", s.opts.Health)
	}
	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/requests", s.sendRequest)
		r.Get("/queue", s.listQueue)
		r.Delete("/queue", s.clearQueue)
		r.Post("/replay", s.triggerReplay)
		r.Get("/connectivity", s.getConnectivity)
		r.Put("/connectivity", s.setConnectivity)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.ExtractHTTP(r.Context(), r.Header)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.logger.WithContext(ctx).WithRequest(r.Method, r.URL.Path).WithFields(map[string]any{
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("handled request")
	})
}

type sendRequest struct {
	Endpoint string            `json:"endpoint" validate:"required"`
	Method   string            `json:"method"   validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Body     string            `json:"body"`
	Headers  map[string]string `json:"headers"`
}

type queuedResponse struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
}

func (s *Server) sendRequest(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, queued, err := s.opts.Client.Do(r.Context(), req.Endpoint, action.Options{
		Method:  req.Method,
		Body:    req.Body,
		Headers: req.Headers,
	})
	if errors.Is(err, client.ErrQueued) {
		writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true, ID: queued.ID})
		return
	}
	if resp != nil {
		// Upstream replied; relay it as is, whatever the status.
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
		return
	}
	s.logger.WithContext(r.Context()).WithRequest(req.Method, req.Endpoint).WithError(err).Warn("upstream request failed")
	writeError(w, http.StatusBadGateway, err)
}

type queueResponse struct {
	Count   int             `json:"count"`
	Actions []action.Action `json:"actions"`
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := s.opts.Queue.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if actions == nil {
		actions = []action.Action{}
	}
	writeJSON(w, http.StatusOK, queueResponse{Count: len(actions), Actions: actions})
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Queue.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.WithContext(r.Context()).Info("queue cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) triggerReplay(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Replayer.Trigger(r.Context())
	switch {
	case errors.Is(err, replay.ErrPassInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type connectivityState struct {
	Online *bool `json:"online" validate:"required"`
}

func (s *Server) getConnectivity(w http.ResponseWriter, r *http.Request) {
	online := s.opts.Connectivity.Online()
	writeJSON(w, http.StatusOK, connectivityState{Online: &online})
}

func (s *Server) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityState
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.opts.Connectivity.Set(*req.Online)
	writeJSON(w, http.StatusOK, req)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

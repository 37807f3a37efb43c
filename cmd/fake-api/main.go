package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/austindbirch/fieldsync/internal/config"
	"github.com/austindbirch/fieldsync/internal/logging"
)

// flakyAPI stands in for the REST API during demos. It can fail the first N
// requests, always fail chosen path prefixes, or simulate a full outage.
type flakyAPI struct {
	cfg    config.FakeAPI
	logger *logging.Logger

	mu       sync.Mutex
	reqCount int
	down     bool
	seen     map[string]int // idempotency key -> deliveries
}

func newFlakyAPI(cfg config.FakeAPI, logger *logging.Logger) *flakyAPI {
	if cfg.FailStatus == 0 {
		cfg.FailStatus = http.StatusInternalServerError
	}
	return &flakyAPI{cfg: cfg, logger: logger, seen: make(map[string]int)}
}

func (f *flakyAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", f.handleHealth)
	r.Put("/admin/outage", f.handleOutage)
	r.HandleFunc("/*", f.handleAPI)
	return r
}

func (f *flakyAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		http.Error(w, "outage", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *flakyAPI) handleOutage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Down bool `json:"down"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.down = req.Down
	f.mu.Unlock()
	f.logger.Plain().WithField("down", req.Down).Info("outage toggled")
	w.WriteHeader(http.StatusNoContent)
}

type echo struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

func (f *flakyAPI) handleAPI(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if f.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(f.cfg.ResponseDelayMS) * time.Millisecond)
	}

	key := r.Header.Get("Idempotency-Key")
	log := f.logger.Plain().WithAction(key).WithRequest(r.Method, r.URL.Path)

	f.mu.Lock()
	f.reqCount++
	n := f.reqCount
	status := 0
	switch {
	case f.down:
		status = http.StatusServiceUnavailable
	case n <= f.cfg.FailFirstN:
		status = f.cfg.FailStatus
	case matchesAny(r.URL.Path, f.cfg.FailPaths):
		status = f.cfg.FailStatus
	}
	duplicate := false
	if status == 0 && key != "" {
		f.seen[key]++
		duplicate = f.seen[key] > 1
	}
	f.mu.Unlock()

	if status != 0 {
		log.WithField("request", n).WithField("status", status).Warn("failing request")
		http.Error(w, fmt.Sprintf("simulated failure %d", status), status)
		return
	}

	log.WithField("request", n).WithField("body", truncate(string(b), 160)).WithField("duplicate", duplicate).Info("request ok")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(echo{Method: r.Method, Path: r.URL.Path, Body: string(b), Duplicate: duplicate})
}

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-api")

	api := newFlakyAPI(cfg.FakeAPI, logger)
	logger.Plain().WithFields(map[string]any{
		"addr":         cfg.FakeAPI.Port,
		"fail_first_n": cfg.FakeAPI.FailFirstN,
		"fail_paths":   cfg.FakeAPI.FailPaths,
		"fail_status":  cfg.FakeAPI.FailStatus,
	}).Info("fake-api listening")

	srv := &http.Server{Addr: cfg.FakeAPI.Port, Handler: api.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("fake-api stopped")
	}
}

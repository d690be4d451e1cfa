// Package server implements the HTTP gateway of the question pipeline.
// It accepts a question, publishes it on the bus under a fresh
// correlation id and polls the response store until the answer appears
// or the poll budget runs out. The server is started by the
// `devhelper serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devhelper/devhelper-go/internal/bus"
	"github.com/devhelper/devhelper-go/internal/logging"
	"github.com/devhelper/devhelper-go/internal/pipeline"
)

// New constructs a Server over the provided bus and config. hist may be
// nil to disable history recording.
func New(b bus.Bus, hist Recorder, cfg *Config) (*Server, error) {
	if b == nil {
		return nil, fmt.Errorf("server: bus must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollAttempts == 0 {
		cfg.MaxPollAttempts = 60
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast the full poll budget.
		cfg.WriteTimeout = cfg.PollInterval*time.Duration(cfg.MaxPollAttempts) + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DefaultK == 0 {
		cfg.DefaultK = 5
	}
	if cfg.RequestTTL == 0 {
		cfg.RequestTTL = 5 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil || cfg.MetricsGatherer == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		cfg.MetricsGatherer = reg
	}

	s := &Server{
		bus:     b,
		history: hist,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		s.log.Warn("API key not configured — authentication is disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("POST /ask",
		rl.middleware(authMiddleware(cfg.APIKey, s.instrument("ask", http.HandlerFunc(s.handleAsk)))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("gateway listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /ask. It assigns a correlation id, publishes
// the question and blocks polling the response store. The three
// terminal outcomes map to 200 (completed), 502 (pipeline reported
// failure) and 504 (poll budget exhausted).
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}
	k := req.K
	if k <= 0 {
		k = s.cfg.DefaultK
	}

	id := uuid.NewString()
	log = log.With("id", id)
	log.Info("question accepted", "k", k)

	// Bookkeeping record; losing it only degrades observability.
	reqRecord, err := pipeline.Marshal(pipeline.Request{
		ID:        id,
		Question:  req.Question,
		K:         k,
		Status:    pipeline.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		if err := s.bus.Set(r.Context(), bus.RequestKey(id), reqRecord, s.cfg.RequestTTL); err != nil {
			log.Warn("failed to store request record", "error", err)
		}
	}

	payload, err := pipeline.Marshal(pipeline.Question{ID: id, Question: req.Question, K: k})
	if err != nil {
		s.finishAsk(w, log, "error", start, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if err := s.bus.Publish(r.Context(), bus.TopicQuestions, payload); err != nil {
		log.Error("failed to publish question", "error", err)
		s.finishAsk(w, log, "error", start, http.StatusInternalServerError, errorResponse{Error: "failed to publish question"})
		return
	}

	raw, err := bus.Poll(r.Context(), s.bus, bus.ResponseKey(id), s.cfg.PollInterval, s.cfg.MaxPollAttempts)
	switch {
	case errors.Is(err, bus.ErrPollTimeout):
		s.record(r.Context(), id, req.Question, "", "timeout", time.Since(start).Seconds())
		s.finishAsk(w, log, "timeout", start, http.StatusGatewayTimeout, errorResponse{Error: "timed out waiting for an answer"})
		return
	case err != nil:
		// Context cancellation or a bus failure mid-poll.
		log.Warn("poll aborted", "error", err)
		s.finishAsk(w, log, "error", start, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	var resp pipeline.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Error("undecodable response record", "error", err)
		s.finishAsk(w, log, "error", start, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if resp.Status == pipeline.StatusFailed {
		s.record(r.Context(), id, req.Question, "", resp.Status, resp.Elapsed)
		s.finishAsk(w, log, "failed", start, http.StatusBadGateway, errorResponse{Error: resp.Error})
		return
	}

	s.record(r.Context(), id, req.Question, resp.Answer, resp.Status, resp.Elapsed)
	s.finishAsk(w, log, "ok", start, http.StatusOK, askResponse{
		ID:       id,
		Answer:   resp.Answer,
		Contexts: resp.Contexts,
		Elapsed:  resp.Elapsed,
	})
}

// finishAsk writes the response body and the per-outcome metrics in one
// place so every exit path of handleAsk is counted.
func (s *Server) finishAsk(w http.ResponseWriter, log *slog.Logger, outcome string, start time.Time, status int, body any) {
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	log.Info("question finished", "outcome", outcome, "status", status)
	writeJSON(w, status, body)
}

// record appends to the history store, best effort.
func (s *Server) record(ctx context.Context, id, question, answer, status string, elapsed float64) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, id, question, answer, status, elapsed); err != nil {
		s.log.Warn("failed to record history entry", "id", id, "error", err)
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

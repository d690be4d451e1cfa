package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devhelper/devhelper-go/internal/bus"
)

// Config holds the HTTP gateway configuration.
type Config struct {
	// Host is the address to bind to (default: 0.0.0.0).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It
	// must exceed the full poll budget or answers get cut off mid-wait.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on POST /ask.
	// If empty, authentication is disabled (development mode).
	APIKey string

	// DefaultK is the context count used when the request omits k.
	DefaultK int
	// RequestTTL bounds the lifetime of the request:<id> bookkeeping record.
	RequestTTL time.Duration
	// ResponseTTL is only informational here; response records are written
	// by the generation stage.
	ResponseTTL time.Duration
	// PollInterval is the sleep between response-store polls.
	PollInterval time.Duration
	// MaxPollAttempts bounds how many polls are made before giving up
	// with 504.
	MaxPollAttempts int

	// MetricsRegistry receives all metric registrations. Defaults to a
	// fresh registry shared with MetricsGatherer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint.
	MetricsGatherer prometheus.Gatherer
}

// Recorder persists answered questions. *history.Store satisfies it;
// tests inject a fake. A nil Recorder disables history.
type Recorder interface {
	Append(ctx context.Context, id, question, answer, status string, elapsed float64) error
}

// Server is the HTTP gateway that accepts questions, publishes them on
// the bus and waits for the pipeline's answer.
type Server struct {
	// bus carries questions out and answers back.
	bus bus.Bus
	// history records answered questions; nil disables recording.
	history Recorder
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds this instance's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// K is the number of contexts to retrieve; 0 selects the default.
	K int `json:"k,omitempty"`
}

// askResponse is the JSON response for a completed POST /ask.
type askResponse struct {
	// ID is the correlation id assigned to the request.
	ID string `json:"id"`
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Contexts are the retrieved document texts the answer is grounded on.
	Contexts []string `json:"contexts,omitempty"`
	// Elapsed is the generation stage processing time in seconds.
	Elapsed float64 `json:"elapsed"`
}

// errorResponse is the JSON body for error statuses.
type errorResponse struct {
	// Error describes what went wrong.
	Error string `json:"error"`
}

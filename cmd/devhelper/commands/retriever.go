package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/devhelper/devhelper-go/internal/config"
	"github.com/devhelper/devhelper-go/internal/logging"
	"github.com/devhelper/devhelper-go/internal/pipeline"
)

// NewRetrieverCmd constructs the `devhelper retriever` command, which runs
// the retrieval worker: it consumes questions from the bus, looks up
// relevant contexts in the vector index and forwards enriched requests to
// the generation worker.
func NewRetrieverCmd() *cobra.Command {
	var metricsPort int

	cmd := &cobra.Command{
		Use:   "retriever",
		Short: "Run the retrieval worker",
		Long: `Run the retrieval worker.

The worker subscribes to incoming questions, embeds each one (with a
shared embedding cache in Redis), queries the HNSW index for the most
relevant document passages and publishes the enriched request for the
generation worker. Malformed messages are dropped; retrieval failures
resolve the request as failed so the gateway never waits out its full
poll budget.

If the index file is missing on startup, it is rebuilt from the metadata
store before the worker begins consuming.

Examples:
  devhelper retriever
  devhelper retriever --metrics-port 9101
  INDEX_PATH=/data/index.msgpack devhelper retriever`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.ForStage(logging.New(), "retrieval")
			ctx = logging.WithLogger(ctx, log)

			b, err := busFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("retriever: %w", err)
			}
			defer func() { _ = b.Close() }()

			r, err := buildRetriever(b, log)
			if err != nil {
				return fmt.Errorf("retriever: %w", err)
			}

			if !r.Ready() {
				log.Info("index missing, rebuilding from metadata")
				if err := r.RebuildIfMissing(ctx); err != nil {
					return fmt.Errorf("retriever: rebuild: %w", err)
				}
			}
			log.Info("index ready", slog.Int("vectors", r.Len()))

			reg := prometheus.NewRegistry()
			serveMetrics(metricsPort, reg, log)

			ttl := time.Duration(config.EnvInt("RESPONSE_TTL_SECONDS", 300)) * time.Second
			stage := pipeline.NewRetrievalStage(b, r, ttl, log, pipeline.NewMetrics(reg))
			return stage.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Expose Prometheus metrics on this port (0 disables)")

	return cmd
}

// serveMetrics starts a background /metrics listener when port is non-zero.
// Worker metrics are best-effort; a failed listener is logged, not fatal.
func serveMetrics(port int, reg *prometheus.Registry, log *slog.Logger) {
	if port == 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		addr := fmt.Sprintf(":%d", port)
		log.Info("metrics listener starting", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics listener stopped", slog.Any("error", err))
		}
	}()
}

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/devhelper/devhelper-go/internal/config"
	"github.com/devhelper/devhelper-go/internal/generator"
	"github.com/devhelper/devhelper-go/internal/logging"
	"github.com/devhelper/devhelper-go/internal/pipeline"
	"github.com/devhelper/devhelper-go/internal/provider"
)

// NewGeneratorCmd constructs the `devhelper generator` command, which runs
// the generation worker: it consumes context-enriched requests from the
// retrieval worker, produces a grounded answer with the configured LLM and
// writes the final response record for the gateway to pick up.
func NewGeneratorCmd() *cobra.Command {
	var metricsPort int

	cmd := &cobra.Command{
		Use:   "generator",
		Short: "Run the generation worker",
		Long: `Run the generation worker.

The worker subscribes to context-enriched requests, prompts the
configured model to answer strictly from the supplied contexts and
stores the completed (or failed) response under the request's
correlation id, where the gateway's poll loop finds it.

Examples:
  devhelper generator
  MODEL_PROVIDER=openai devhelper generator
  OLLAMA_MODEL=llama3.1 devhelper generator`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.ForStage(logging.New(), "generation")
			ctx = logging.WithLogger(ctx, log)

			log.Info("generator starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("generator: failed to initialise model provider: %w", err)
			}

			gen, err := generator.New(chatModel)
			if err != nil {
				return fmt.Errorf("generator: %w", err)
			}

			b, err := busFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("generator: %w", err)
			}
			defer func() { _ = b.Close() }()

			reg := prometheus.NewRegistry()
			serveMetrics(metricsPort, reg, log)

			ttl := time.Duration(config.EnvInt("RESPONSE_TTL_SECONDS", 300)) * time.Second
			stage := pipeline.NewGenerationStage(b, gen, ttl, log, pipeline.NewMetrics(reg))
			return stage.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Expose Prometheus metrics on this port (0 disables)")

	return cmd
}

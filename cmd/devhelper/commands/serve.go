package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devhelper/devhelper-go/internal/config"
	"github.com/devhelper/devhelper-go/internal/history"
	"github.com/devhelper/devhelper-go/internal/logging"
	"github.com/devhelper/devhelper-go/internal/server"
)

// NewServeCmd constructs the `devhelper serve` command, which starts the
// HTTP gateway that accepts questions and waits for pipeline answers.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the DevHelper HTTP gateway",
		Long: `Start the DevHelper HTTP gateway.

The gateway exposes POST /ask: it assigns each question a correlation id,
publishes it for the retrieval worker and polls the response store until
the generation worker resolves the answer or the poll budget runs out.
Run 'devhelper retriever' and 'devhelper generator' alongside it.

Examples:
  devhelper serve
  devhelper serve --port 9090
  REDIS_HOST=redis.internal devhelper serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.ForStage(logging.New(), "gateway")
			ctx = logging.WithLogger(ctx, log)

			b, err := busFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = b.Close() }()

			// Open the answered-questions history store. DEVHELPER_HISTORY_DB
			// overrides the default path (~/.devhelper/history.db). Set to
			// "disabled" to turn recording off.
			var recorder server.Recorder
			dbPath := os.Getenv("DEVHELPER_HISTORY_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = history.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					hs, hsErr := history.Open(dbPath)
					if hsErr != nil {
						log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
					} else {
						recorder = hs
						defer func() { _ = hs.Close() }()
						log.Info("history: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("history: disabled via DEVHELPER_HISTORY_DB=disabled")
			}

			if host == "" {
				host = config.EnvStr("SERVER_HOST", "0.0.0.0")
			}
			if port == 0 {
				port = config.EnvInt("SERVER_PORT", 8000)
			}

			srv, err := server.New(b, recorder, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         []server.Pinger{&server.BusPinger{Bus: b}},
				APIKey:          os.Getenv("DEVHELPER_API_KEY"),
				DefaultK:        config.EnvInt("RETRIEVAL_K", 5),
				RequestTTL:      time.Duration(config.EnvInt("REQUEST_TTL_SECONDS", 300)) * time.Second,
				ResponseTTL:     time.Duration(config.EnvInt("RESPONSE_TTL_SECONDS", 300)) * time.Second,
				PollInterval:    time.Duration(config.EnvInt("POLL_INTERVAL_SECONDS", 1)) * time.Second,
				MaxPollAttempts: config.EnvInt("MAX_POLL_ATTEMPTS", 60),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: 8000)")

	return cmd
}

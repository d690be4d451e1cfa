// Package commands defines all Cobra CLI commands for the devhelper binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/devhelper/devhelper-go/internal/audit"
	"github.com/devhelper/devhelper-go/internal/config"
	"github.com/devhelper/devhelper-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "devhelper",
		Short: "DevHelper — a retrieval-augmented question answering service",
		Long: `DevHelper answers technical questions from your own document corpus.

It runs as three cooperating processes connected over Redis: an HTTP
gateway that accepts questions, a retrieval worker that finds relevant
document passages with an HNSW vector index, and a generation worker
that produces grounded answers with an LLM.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.devhelper/config.yaml).
See 'devhelper --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.devhelper/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewRetrieverCmd(),
		NewGeneratorCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewVersionCmd(),
	)

	return root
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devhelper/devhelper-go/internal/logging"
)

// NewSearchCmd constructs the `devhelper search` command, which runs a
// one-shot local similarity search against the index without the bus or
// the generation stage. Useful for inspecting what the retrieval worker
// would hand to the model.
func NewSearchCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the local vector index",
		Long: `Search the local vector index and print the best-matching passages.

The query is embedded with the configured embedding backend and matched
against the index at INDEX_PATH. No Redis or model provider is needed.

Examples:
  devhelper search "What is Docker?"
  devhelper search -k 3 "how do I roll back a deployment?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			r, err := buildRetriever(nil, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if !r.Ready() {
				return fmt.Errorf("search: no index at the configured path; run 'devhelper ingest' first")
			}

			results, err := r.Search(ctx, args[0], k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}

			for i, res := range results {
				fmt.Printf("%d. [%.4f] %s\n   %s\n", i+1, res.Score, res.Meta.Source, res.Meta.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results to return (0 selects the configured default)")

	return cmd
}

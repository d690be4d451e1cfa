package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devhelper/devhelper-go/internal/config"
	"github.com/devhelper/devhelper-go/internal/logging"
	"github.com/devhelper/devhelper-go/internal/metastore"
)

// ingestDoc is one line of the ingestion JSONL file.
type ingestDoc struct {
	// Text is the document passage to index.
	Text string `json:"text"`
	// Source identifies where the passage came from.
	Source string `json:"source"`
}

// NewIngestCmd constructs the `devhelper ingest` command, which indexes a
// JSONL documents file into the metadata store and vector index.
func NewIngestCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index a JSONL documents file into the vector store",
		Long: `Index a documents file into the metadata store and HNSW vector index.

The input is JSONL: one {"text": ..., "source": ...} object per line.
Each document is assigned a monotone vector id, its metadata is written
to META_PATH and all texts are embedded and indexed into a fresh index
at INDEX_PATH, replacing any existing one.

Required environment variables:
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)
  INDEX_PATH           Index file path (default: index/index.msgpack)
  META_PATH            Metadata file path (default: index/meta.json)

Examples:
  devhelper ingest --file docs.jsonl
  EMBEDDING_PROVIDER=openai devhelper ingest --file corpus/passages.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}

			docs, err := readDocs(file)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(docs) == 0 {
				return fmt.Errorf("ingest: %s contains no documents", file)
			}
			log.Info("documents loaded", slog.String("file", file), slog.Int("count", len(docs)))

			meta := make(map[uint64]metastore.Metadata, len(docs))
			for i, d := range docs {
				meta[uint64(i)] = metastore.Metadata{Text: d.Text, Source: d.Source}
			}

			store := metastore.New(config.EnvStr("META_PATH", defaultMetaPath))
			if err := store.Save(meta); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			// Drop any previous index so the rebuild covers exactly this corpus.
			indexPath := config.EnvStr("INDEX_PATH", defaultIndexPath)
			if err := os.Remove(indexPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("ingest: removing stale index: %w", err)
			}

			r, err := buildRetriever(nil, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if err := r.RebuildIfMissing(ctx); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("vectors", r.Len()),
				slog.String("index", indexPath),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSONL documents file to ingest")

	return cmd
}

// readDocs parses the JSONL documents file. Blank lines are skipped;
// documents with no text are rejected with their line number.
func readDocs(path string) ([]ingestDoc, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening documents file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var docs []ingestDoc
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var d ingestDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("line %d: document has no text", line)
		}
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading documents file: %w", err)
	}
	return docs, nil
}

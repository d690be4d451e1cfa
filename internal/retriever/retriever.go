// Package retriever composes the embedding provider, the vector index,
// the embedding cache and the metadata store into a single semantic
// search operation. A Retriever owns its index and cache exclusively;
// callers interact only through Search and Contexts.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/devhelper/devhelper-go/internal/cache"
	"github.com/devhelper/devhelper-go/internal/embedder"
	"github.com/devhelper/devhelper-go/internal/index"
	"github.com/devhelper/devhelper-go/internal/metastore"
)

// ErrNoMetadata indicates a rebuild was requested but the metadata store
// is empty, so there is nothing to build an index from.
var ErrNoMetadata = errors.New("retriever: metadata store is empty, nothing to rebuild from")

// Config carries the retrieval tuning knobs.
type Config struct {
	// DefaultK is the result count used when a caller passes k <= 0.
	DefaultK int
	// Ef bounds query-time candidate exploration in the index.
	Ef int
	// EfConstruction bounds build-time candidate exploration when the
	// index has to be rebuilt from metadata.
	EfConstruction int
	// M bounds graph links per node when the index has to be rebuilt.
	M int
}

// DefaultConfig returns the standard retrieval parameters.
func DefaultConfig() Config {
	return Config{
		DefaultK:       5,
		Ef:             64,
		EfConstruction: 200,
		M:              16,
	}
}

// Result pairs a similarity score with the metadata of a matched document.
// Score is in [-1, 1]; higher means more similar.
type Result struct {
	// Score is the cosine similarity of the match.
	Score float32
	// Meta is the document metadata bound to the matched vector id. It is
	// the zero value when the metadata entry is missing.
	Meta metastore.Metadata
}

// Retriever implements search(query, k) over a persisted vector index.
type Retriever struct {
	emb       embedder.Embedder
	cache     cache.Cache
	metaStore *metastore.Store
	meta      map[uint64]metastore.Metadata
	idx       *index.HNSW
	indexPath string
	cfg       Config
	log       *slog.Logger
}

// New constructs a Retriever. It reads the metadata store eagerly and
// attempts to load a persisted index from indexPath; a missing index
// file is not an error (call RebuildIfMissing to create one). A loaded
// index whose dimension differs from the embedder's output dimension is
// a fatal configuration error.
func New(emb embedder.Embedder, c cache.Cache, store *metastore.Store, indexPath string, cfg Config, log *slog.Logger) (*Retriever, error) {
	if emb == nil {
		return nil, fmt.Errorf("retriever: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("retriever: metadata store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = def.DefaultK
	}
	if cfg.Ef <= 0 {
		cfg.Ef = def.Ef
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.M <= 0 {
		cfg.M = def.M
	}

	meta, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("retriever: load metadata: %w", err)
	}

	r := &Retriever{
		emb:       emb,
		cache:     c,
		metaStore: store,
		meta:      meta,
		indexPath: indexPath,
		cfg:       cfg,
		log:       log,
	}

	idx, err := index.Load(indexPath)
	switch {
	case err == nil:
		if idx.Dimensions() != emb.Dimensions() {
			return nil, fmt.Errorf("retriever: index dimension %d does not match embedder dimension %d: %w",
				idx.Dimensions(), emb.Dimensions(), index.ErrDimensionMismatch)
		}
		r.idx = idx
		log.Info("loaded vector index", "path", indexPath, "vectors", idx.Len())
	case errors.Is(err, os.ErrNotExist):
		log.Warn("no persisted index found", "path", indexPath)
	default:
		return nil, fmt.Errorf("retriever: load index: %w", err)
	}

	return r, nil
}

// Ready reports whether an index is loaded and queryable.
func (r *Retriever) Ready() bool { return r.idx != nil }

// Len returns the number of indexed vectors, or 0 when no index is loaded.
func (r *Retriever) Len() int {
	if r.idx == nil {
		return 0
	}
	return r.idx.Len()
}

// RebuildIfMissing builds, persists and adopts a fresh index when none
// was loaded at construction time. Every document in the metadata store
// is re-embedded, so this is an O(n) pass over the embedding provider.
// Freshly computed vectors are written through to the cache so the first
// queries after a rebuild do not pay for embedding again. It is a no-op
// when an index is already loaded.
func (r *Retriever) RebuildIfMissing(ctx context.Context) error {
	if r.idx != nil {
		return nil
	}
	if len(r.meta) == 0 {
		return ErrNoMetadata
	}

	ids := make([]uint64, 0, len(r.meta))
	for id := range r.meta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	texts := make([]string, len(ids))
	for i, id := range ids {
		texts[i] = r.meta[id].Text
	}

	r.log.Info("rebuilding vector index", "documents", len(ids))
	vectors, err := r.emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("retriever: embed documents for rebuild: %w", err)
	}
	if len(vectors) != len(ids) {
		return fmt.Errorf("retriever: embedder returned %d vectors for %d documents", len(vectors), len(ids))
	}

	idx, err := index.New(r.emb.Dimensions(), index.Config{
		M:              r.cfg.M,
		EfConstruction: r.cfg.EfConstruction,
		EfSearch:       r.cfg.Ef,
	})
	if err != nil {
		return fmt.Errorf("retriever: create index: %w", err)
	}

	entries := make([]index.Entry, len(ids))
	for i, id := range ids {
		entries[i] = index.Entry{ID: id, Vector: vectors[i]}
	}
	if err := idx.Build(entries); err != nil {
		return fmt.Errorf("retriever: build index: %w", err)
	}
	if err := idx.Save(r.indexPath); err != nil {
		return fmt.Errorf("retriever: persist index: %w", err)
	}

	if r.cache != nil {
		for i, text := range texts {
			if err := r.cache.Put(ctx, cache.Key(text), vectors[i]); err != nil {
				r.log.Warn("cache warm failed", "error", err)
				break
			}
		}
	}

	r.idx = idx
	r.log.Info("vector index rebuilt", "path", r.indexPath, "vectors", idx.Len())
	return nil
}

// Search embeds the query and returns up to k results ordered by
// descending score. A blank query returns an empty result set without
// touching the embedder or the index. A missing metadata entry for a
// matched id yields a zero-value Metadata rather than an error.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if isBlank(query) {
		return nil, nil
	}
	if r.idx == nil {
		return nil, index.ErrNotBuilt
	}
	if k <= 0 {
		k = r.cfg.DefaultK
	}

	vec, err := r.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	neighbors, err := r.idx.Query(vec, k, r.cfg.Ef)
	if err != nil {
		return nil, fmt.Errorf("retriever: index query: %w", err)
	}

	results := make([]Result, len(neighbors))
	for i, n := range neighbors {
		results[i] = Result{
			Score: index.Score(n.Distance),
			Meta:  r.meta[n.ID],
		}
	}
	return results, nil
}

// Contexts returns only the text field of each Search result, in the
// same order.
func (r *Retriever) Contexts(ctx context.Context, query string, k int) ([]string, error) {
	results, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	contexts := make([]string, len(results))
	for i, res := range results {
		contexts[i] = res.Meta.Text
	}
	return contexts, nil
}

// queryVector resolves the embedding for query, consulting the cache
// first. Cache failures are logged and degrade to a recompute; they
// never fail the search.
func (r *Retriever) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := cache.Key(query)
	if r.cache != nil {
		vec, found, err := r.cache.Get(ctx, key)
		if err != nil {
			r.log.Warn("cache lookup failed", "error", err)
		} else if found {
			return vec, nil
		}
	}

	vec, err := embedder.EmbedOne(ctx, r.emb, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, key, vec); err != nil {
			r.log.Warn("cache store failed", "error", err)
		}
	}
	return vec, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

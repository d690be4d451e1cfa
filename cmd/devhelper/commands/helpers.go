package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/devhelper/devhelper-go/internal/bus"
	"github.com/devhelper/devhelper-go/internal/cache"
	"github.com/devhelper/devhelper-go/internal/config"
	"github.com/devhelper/devhelper-go/internal/embedder"
	"github.com/devhelper/devhelper-go/internal/metastore"
	"github.com/devhelper/devhelper-go/internal/retriever"
)

// Default locations for the persisted index and its metadata, relative to
// the working directory. Both are overridable via INDEX_PATH / META_PATH.
const (
	defaultIndexPath = "index/index.msgpack"
	defaultMetaPath  = "index/meta.json"
)

// busFromEnv connects to Redis using the REDIS_* environment variables.
// With no REDIS_HOST set, the common fallback hosts are probed in order.
func busFromEnv(ctx context.Context) (*bus.Redis, error) {
	return bus.NewRedis(ctx, bus.RedisConfig{
		Host:     os.Getenv("REDIS_HOST"),
		Port:     config.EnvInt("REDIS_PORT", 6379),
		DB:       config.EnvInt("REDIS_DB", 0),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
}

// buildRetriever wires the embedder, embedding cache, metadata store and
// vector index into a ready retriever. When b is non-nil its Redis
// connection backs the embedding cache so workers share cached vectors;
// otherwise a bounded in-process LRU is used.
func buildRetriever(b *bus.Redis, log *slog.Logger) (*retriever.Retriever, error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	var c cache.Cache
	if b != nil {
		c = cache.NewRedis(b.Client(), 0)
	} else {
		c, err = cache.NewLRU(0)
		if err != nil {
			return nil, err
		}
	}

	store := metastore.New(config.EnvStr("META_PATH", defaultMetaPath))

	cfg := retriever.DefaultConfig()
	cfg.DefaultK = config.EnvInt("RETRIEVAL_K", cfg.DefaultK)
	cfg.Ef = config.EnvInt("RETRIEVAL_EF", cfg.Ef)
	cfg.EfConstruction = config.EnvInt("INDEX_EF_CONSTRUCTION", cfg.EfConstruction)
	cfg.M = config.EnvInt("INDEX_M", cfg.M)

	indexPath := config.EnvStr("INDEX_PATH", defaultIndexPath)

	r, err := retriever.New(emb, c, store, indexPath, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise retriever: %w", err)
	}
	return r, nil
}

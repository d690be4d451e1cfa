// Package index implements an HNSW (Hierarchical Navigable Small World)
// approximate nearest-neighbor index over fixed-dimension embedding vectors
// in cosine space. Vectors are normalized on insert, so cosine distance
// reduces to 1 - dot(a, b) in the hot search loop.
//
// The index is owned by a single process (the retriever) and is not safe
// for unsynchronized concurrent mutation; an internal RWMutex serializes
// Add against Query so the build path and the query path can at least
// coexist safely within one process.
package index

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when an inserted or queried vector does
// not match the dimension fixed at index creation. This is a configuration
// error: the embedding model and the index must agree at all times.
var ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

// ErrNotBuilt is returned by Query when the index holds no vectors — it was
// neither built nor loaded from disk.
var ErrNotBuilt = errors.New("index: not built")

// Config contains the HNSW tuning parameters.
type Config struct {
	// M bounds the number of bi-directional links kept per node per layer.
	// Larger values raise recall and memory use.
	M int
	// EfConstruction bounds the candidate list explored while inserting a
	// node. Larger values raise build-time recall and build cost.
	EfConstruction int
	// EfSearch is the default query-time candidate list size, used when the
	// caller passes ef <= 0 to Query.
	EfSearch int
	// LevelMultiplier controls the geometric layer distribution; the
	// canonical choice is 1/ln(M).
	LevelMultiplier float64
}

// DefaultConfig returns the index defaults used by the rebuild path:
// M=16, EfConstruction=200, EfSearch=64.
func DefaultConfig() Config {
	return Config{
		M:               16,
		EfConstruction:  200,
		EfSearch:        64,
		LevelMultiplier: 1.0 / math.Log(16.0),
	}
}

// Entry is a single (vector id, vector) pair handed to Build.
type Entry struct {
	// ID is the stable external vector id assigned at ingestion time.
	ID uint64
	// Vector is the embedding; its length must equal the index dimension.
	Vector []float32
}

// Neighbor is one approximate nearest neighbor returned by Query.
type Neighbor struct {
	// ID is the external vector id.
	ID uint64
	// Distance is the cosine distance to the query, in [0, 2], ascending.
	Distance float32
}

// Score converts a cosine distance into a similarity score in [-1, 1],
// higher meaning more similar. Pure function; not part of persisted state.
func Score(distance float32) float32 {
	return 1 - distance
}

// normalize scales v to unit length in place. Zero vectors are left as-is
// so they never divide by zero; they simply match nothing well.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// dot returns the inner product of two equal-length vectors.
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

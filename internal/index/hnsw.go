package index

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// HNSW is a hierarchical navigable small world graph over normalized
// vectors. Nodes are addressed internally by dense uint32 ids; the external
// uint64 vector ids are carried alongside and survive persist/load.
type HNSW struct {
	cfg Config
	dim int

	mu sync.RWMutex

	// ids maps internal node id to the external vector id.
	ids []uint64
	// byID maps external vector id back to the internal node id.
	byID map[uint64]uint32
	// levels holds each node's top layer.
	levels []uint16
	// vectors is the flat normalized vector storage; node i occupies
	// [i*dim, (i+1)*dim).
	vectors []float32
	// links[node][layer] is the neighbor list for that node at that layer,
	// capped at cfg.M entries.
	links [][][]uint32

	entry    uint32
	hasEntry bool
	maxLevel int
}

// New constructs an empty HNSW index with the given vector dimension.
// Zero-valued cfg fields fall back to DefaultConfig.
func New(dim int, cfg Config) (*HNSW, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index: dimension must be positive, got %d", dim)
	}
	def := DefaultConfig()
	if cfg.M <= 0 {
		cfg.M = def.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	if cfg.LevelMultiplier <= 0 {
		cfg.LevelMultiplier = 1.0 / math.Log(float64(cfg.M))
	}
	return &HNSW{
		cfg:  cfg,
		dim:  dim,
		byID: make(map[uint64]uint32),
	}, nil
}

// Build inserts all entries into the index. It is equivalent to calling Add
// for each entry and exists so the rebuild path reads as one operation.
func (h *HNSW) Build(entries []Entry) error {
	for _, e := range entries {
		if err := h.Add(e.ID, e.Vector); err != nil {
			return fmt.Errorf("index: build id %d: %w", e.ID, err)
		}
	}
	return nil
}

// Add inserts one vector under the given external id. Re-adding an existing
// id overwrites the stored vector in place without rewiring the graph.
func (h *HNSW) Add(id uint64, vec []float32) error {
	if len(vec) != h.dim {
		return fmt.Errorf("%w: index dim %d, vector dim %d", ErrDimensionMismatch, h.dim, len(vec))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if internal, ok := h.byID[id]; ok {
		dst := h.vectorAt(internal)
		copy(dst, vec)
		normalize(dst)
		return nil
	}

	level := h.randomLevel()
	internal := uint32(len(h.ids))

	off := len(h.vectors)
	h.vectors = append(h.vectors, vec...)
	normalized := h.vectors[off : off+h.dim]
	normalize(normalized)

	h.ids = append(h.ids, id)
	h.byID[id] = internal
	h.levels = append(h.levels, uint16(level))
	h.links = append(h.links, make([][]uint32, level+1))

	if !h.hasEntry {
		h.entry = internal
		h.hasEntry = true
		h.maxLevel = level
		return nil
	}

	ep := h.entry
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedyClosest(normalized, ep, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(normalized, ep, h.cfg.EfConstruction, l)
		neighbors := h.selectNeighbors(normalized, candidates, h.cfg.M)
		h.links[internal][l] = append(h.links[internal][l][:0], neighbors...)

		for _, n := range neighbors {
			h.linkBack(n, l, internal)
		}

		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > h.maxLevel {
		h.entry = internal
		h.maxLevel = level
	}
	return nil
}

// Query returns up to k approximate nearest neighbors of vec, ordered by
// ascending cosine distance. ef bounds the query-time candidate list; values
// below k are clamped to k, and ef <= 0 selects cfg.EfSearch.
func (h *HNSW) Query(vec []float32, k int, ef int) ([]Neighbor, error) {
	if len(vec) != h.dim {
		return nil, fmt.Errorf("%w: index dim %d, query dim %d", ErrDimensionMismatch, h.dim, len(vec))
	}
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return nil, ErrNotBuilt
	}

	query := make([]float32, h.dim)
	copy(query, vec)
	normalize(query)

	ep := h.entry
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosest(query, ep, l)
	}

	candidates := h.searchLayer(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Neighbor, len(candidates))
	for i, c := range candidates {
		out[i] = Neighbor{ID: h.ids[c.id], Distance: c.dist}
	}
	return out, nil
}

// Len returns the number of vectors in the index.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

// Dimensions returns the vector dimension fixed at creation or load time.
func (h *HNSW) Dimensions() int { return h.dim }

// IDs returns the external ids of every inserted vector, in insertion order.
func (h *HNSW) IDs() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uint64, len(h.ids))
	copy(out, h.ids)
	return out
}

// randomLevel draws a node layer from the geometric distribution
// -ln(U) * levelMultiplier.
func (h *HNSW) randomLevel() int {
	return int(-math.Log(rand.Float64()) * h.cfg.LevelMultiplier)
}

func (h *HNSW) vectorAt(internal uint32) []float32 {
	off := int(internal) * h.dim
	return h.vectors[off : off+h.dim]
}

func (h *HNSW) distance(query []float32, internal uint32) float32 {
	return 1 - dot(query, h.vectorAt(internal))
}

// greedyClosest walks one layer greedily and returns the local minimum —
// the node whose neighborhood contains nothing closer to query.
func (h *HNSW) greedyClosest(query []float32, ep uint32, layer int) uint32 {
	current := ep
	currentDist := h.distance(query, current)

	for {
		changed := false
		for _, n := range h.neighborsAt(current, layer) {
			if d := h.distance(query, n); d < currentDist {
				current = n
				currentDist = d
				changed = true
			}
		}
		if !changed {
			return current
		}
	}
}

// searchLayer runs the beam search with candidate list size ef on one layer,
// returning up to ef nodes ordered by ascending distance.
func (h *HNSW) searchLayer(query []float32, ep uint32, ef int, layer int) []distItem {
	visited := make(map[uint32]struct{}, ef*4)
	visited[ep] = struct{}{}

	epDist := h.distance(query, ep)
	candidates := &distHeap{}          // min-heap: closest first
	results := &distHeap{max: true}    // max-heap: furthest first, capped at ef
	candidates.push(distItem{id: ep, dist: epDist})
	results.push(distItem{id: ep, dist: epDist})

	for candidates.len() > 0 {
		closest := candidates.pop()
		if results.len() >= ef && closest.dist > results.peek().dist {
			break
		}

		for _, n := range h.neighborsAt(closest.id, layer) {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}

			d := h.distance(query, n)
			if results.len() < ef || d < results.peek().dist {
				candidates.push(distItem{id: n, dist: d})
				results.push(distItem{id: n, dist: d})
				if results.len() > ef {
					results.pop()
				}
			}
		}
	}

	// Drain the max-heap furthest-first so the slice ends up closest-first.
	out := make([]distItem, results.len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// selectNeighbors keeps the m closest candidates. Candidates arrive sorted
// by ascending distance from searchLayer, so this is a simple truncation.
func (h *HNSW) selectNeighbors(query []float32, candidates []distItem, m int) []uint32 {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]uint32, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// linkBack adds newNode to node's neighbor list at the given layer. When the
// list is full the best m among existing plus new are kept, measured from
// node's own vector.
func (h *HNSW) linkBack(node uint32, layer int, newNode uint32) {
	if layer >= len(h.links[node]) {
		return
	}
	current := h.links[node][layer]
	if len(current) < h.cfg.M {
		h.links[node][layer] = append(current, newNode)
		return
	}

	base := h.vectorAt(node)
	all := make([]distItem, 0, len(current)+1)
	for _, n := range current {
		all = append(all, distItem{id: n, dist: h.distance(base, n)})
	}
	all = append(all, distItem{id: newNode, dist: h.distance(base, newNode)})
	sortByDistance(all)
	kept := h.selectNeighbors(base, all, h.cfg.M)
	h.links[node][layer] = append(current[:0], kept...)
}

func (h *HNSW) neighborsAt(node uint32, layer int) []uint32 {
	if layer >= len(h.links[node]) {
		return nil
	}
	return h.links[node][layer]
}

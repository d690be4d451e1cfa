package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion guards the on-disk format. Bump on incompatible changes;
// Load rejects versions it does not know.
const snapshotVersion = "1"

// snapshot is the serializable form of an HNSW index. The full vector data
// is included so a load reproduces the exact distances observed before the
// save, without re-embedding anything.
type snapshot struct {
	Version  string
	Config   Config
	Dim      int
	IDs      []uint64
	Levels   []uint16
	Vectors  []float32
	Links    [][][]uint32
	Entry    uint32
	HasEntry bool
	MaxLevel int
}

// Save writes the index to path as a msgpack snapshot. The write goes to a
// temp file in the same directory followed by a rename, so a concurrent
// reader never observes a partial file. State is copied under a read lock
// so queries are not blocked for the duration of the I/O.
func (h *HNSW) Save(path string) error {
	h.mu.RLock()
	snap := snapshot{
		Version:  snapshotVersion,
		Config:   h.cfg,
		Dim:      h.dim,
		IDs:      append([]uint64(nil), h.ids...),
		Levels:   append([]uint16(nil), h.levels...),
		Vectors:  append([]float32(nil), h.vectors...),
		Links:    make([][][]uint32, len(h.links)),
		Entry:    h.entry,
		HasEntry: h.hasEntry,
		MaxLevel: h.maxLevel,
	}
	for i, perLayer := range h.links {
		snap.Links[i] = make([][]uint32, len(perLayer))
		for l, ns := range perLayer {
			snap.Links[i][l] = append([]uint32(nil), ns...)
		}
	}
	h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("index: save %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("index: save %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := msgpack.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("index: encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("index: rename %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot written by Save and reconstructs the index. A load
// reproduces the inserted ids and exact-duplicate query distances of the
// saved state. When no file is present the returned error wraps
// os.ErrNotExist so callers can distinguish "rebuild" from "corrupt".
func Load(path string) (*HNSW, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: load %s: %w", path, err)
	}
	defer file.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("index: decode %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("index: %s: unsupported snapshot version %q", path, snap.Version)
	}
	if snap.Dim <= 0 || len(snap.IDs) != len(snap.Levels) || len(snap.IDs) != len(snap.Links) {
		return nil, fmt.Errorf("index: %s: inconsistent snapshot", path)
	}

	h, err := New(snap.Dim, snap.Config)
	if err != nil {
		return nil, err
	}
	h.ids = snap.IDs
	h.levels = snap.Levels
	h.vectors = snap.Vectors
	h.links = snap.Links
	h.entry = snap.Entry
	h.hasEntry = snap.HasEntry
	h.maxLevel = snap.MaxLevel
	for internal, id := range h.ids {
		h.byID[id] = uint32(internal)
	}
	return h, nil
}

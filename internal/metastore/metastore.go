// Package metastore persists the vector-id to document-metadata mapping as
// a JSON file. The file is written by the ingestion path and read once by
// the retriever at startup; the only concurrency guarantee is atomic
// replacement, so a reader never observes a half-written file.
//
// On disk the map is keyed by string-encoded integer ids:
//
//	{"0": {"text": "...", "source": "doc1"}, "1": {...}}
package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Metadata is the document payload bound to one vector id.
type Metadata struct {
	// Text is the raw chunk text fed to the embedder and returned as context.
	Text string `json:"text"`
	// Source identifies where the chunk came from (file path, URL, doc id).
	Source string `json:"source"`
}

// Store reads and writes the metadata file at a fixed path.
type Store struct {
	path string
}

// New constructs a Store for the given file path. No I/O happens until
// Load or Save is called.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path this store reads and writes.
func (s *Store) Path() string { return s.path }

// Load reads the metadata file. A missing file is not an error — it returns
// an empty map, matching a fresh deployment with no ingested documents.
func (s *Store) Load() (map[uint64]Metadata, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uint64]Metadata{}, nil
		}
		return nil, fmt.Errorf("metastore: read %s: %w", s.path, err)
	}

	var raw map[string]Metadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("metastore: parse %s: %w", s.path, err)
	}

	out := make(map[uint64]Metadata, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("metastore: %s: non-integer key %q", s.path, k)
		}
		out[id] = v
	}
	return out, nil
}

// Save atomically overwrites the metadata file: the JSON is written to a
// temp file in the same directory and renamed into place.
func (s *Store) Save(meta map[uint64]Metadata) error {
	raw := make(map[string]Metadata, len(meta))
	for id, m := range meta {
		raw[strconv.FormatUint(id, 10)] = m
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("metastore: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("metastore: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("metastore: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("metastore: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metastore: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("metastore: rename to %s: %w", s.path, err)
	}
	return nil
}

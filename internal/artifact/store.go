// Package artifact persists immutable engine outputs (discovery maps, reward
// snapshots) as write-once files indexed by a JSON manifest. Selection of
// "latest" or "oldest" goes through manifest sequence numbers, never through
// filename parsing or file mtimes.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Families of artifacts the engine persists.
const (
	FamilyDiscovery = "discovery"
	FamilySnapshot  = "snapshot"
	FamilyVector    = "vector"
)

// Entry describes one immutable artifact file.
type Entry struct {
	ID        string    `json:"id"`
	Family    string    `json:"family"`
	Pool      string    `json:"pool"`
	Key       string    `json:"key,omitempty"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
}

// Manifest is the on-disk index over all artifacts in a store.
type Manifest struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	NextSeq     uint64    `json:"next_seq"`
	Entries     []Entry   `json:"entries"`
}

const manifestVersion = 1

// ErrNotFound is returned when no artifact matches a lookup.
var ErrNotFound = fmt.Errorf("artifact not found")

// Store is a single-writer artifact store rooted at one directory.
type Store struct {
	root string
	now  func() time.Time

	mu       sync.Mutex
	manifest *Manifest
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads (or initializes) the store at root.
func Open(root string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", root, err)
	}
	s := &Store{root: root, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	manifest, err := loadManifest(s.manifestPath())
	if err != nil {
		return nil, err
	}
	s.manifest = manifest
	return s, nil
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.root, "manifest.json")
}

func loadManifest(path string) (*Manifest, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Manifest{Version: manifestVersion, NextSeq: 1}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.NextSeq == 0 {
		m.NextSeq = 1
	}
	return &m, nil
}

// saveManifest writes the manifest atomically. Caller holds the lock.
func (s *Store) saveManifest() error {
	s.manifest.Version = manifestVersion
	s.manifest.GeneratedAt = s.now()

	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, s.manifestPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Put writes data as a new immutable artifact and records it in the manifest.
func (s *Store) Put(family, pool, key string, data []byte) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.manifest.NextSeq
	name := fmt.Sprintf("%s_%06d.json", family, seq)
	dir := filepath.Join(s.root, family, pool)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("artifact %s already exists", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to finalize artifact: %w", err)
	}

	entry := Entry{
		ID:        fmt.Sprintf("%s-%s-%06d", family, pool, seq),
		Family:    family,
		Pool:      pool,
		Key:       key,
		Seq:       seq,
		CreatedAt: s.now(),
		Path:      path,
		Bytes:     int64(len(data)),
	}
	s.manifest.NextSeq++
	s.manifest.Entries = append(s.manifest.Entries, entry)

	if err := s.saveManifest(); err != nil {
		return nil, err
	}
	log.Debug().Str("family", family).Str("pool", pool).Uint64("seq", seq).Msg("artifact written")
	return &entry, nil
}

func (s *Store) match(family, pool, key string) []Entry {
	var out []Entry
	for _, e := range s.manifest.Entries {
		if e.Family != family || e.Pool != pool {
			continue
		}
		if key != "" && e.Key != key {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Latest returns the highest-sequence entry for (family, pool, key).
// An empty key matches any key.
func (s *Store) Latest(family, pool, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.match(family, pool, key)
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	e := entries[len(entries)-1]
	return &e, nil
}

// Oldest returns the lowest-sequence entry for (family, pool, key).
func (s *Store) Oldest(family, pool, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.match(family, pool, key)
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	e := entries[0]
	return &e, nil
}

// List returns all entries for (family, pool, key) ordered by sequence.
func (s *Store) List(family, pool, key string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match(family, pool, key)
}

// CreatedBetween reports whether any (family, pool) artifact was created in
// (from, to], by manifest timestamps.
func (s *Store) CreatedBetween(family, pool string, from, to time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.manifest.Entries {
		if e.Family != family || e.Pool != pool {
			continue
		}
		if e.CreatedAt.After(from) && !e.CreatedAt.After(to) {
			return true
		}
	}
	return false
}

// Read loads an artifact's bytes.
func (s *Store) Read(e *Entry) ([]byte, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", e.ID, err)
	}
	return data, nil
}

// ReadJSON loads an artifact and decodes it into v.
func (s *Store) ReadJSON(e *Entry, v interface{}) error {
	data, err := s.Read(e)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode artifact %s: %w", e.ID, err)
	}
	return nil
}

// PutJSON encodes v and writes it as a new artifact.
func (s *Store) PutJSON(family, pool, key string, v interface{}) (*Entry, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	return s.Put(family, pool, key, data)
}

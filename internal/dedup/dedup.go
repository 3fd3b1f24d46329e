// Package dedup keeps the local cache of already-protected content.
//
// The cache is advisory. A hit lets the client reject a second protection
// without contacting the service; a miss proves nothing, and the service's
// answer always wins. Records are never deleted or overwritten.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pendergraft/pngprotect/internal/fingerprint"
	"github.com/pendergraft/pngprotect/internal/storage"
)

// StorageKey is the single durable key holding the serialized cache.
const StorageKey = "pngprotect.protected-hashes"

// ErrExists is returned by Put when the fingerprint already has a record.
var ErrExists = errors.New("fingerprint already has a protection record")

// Record describes one protected piece of content.
type Record struct {
	OwnerID         string    `json:"ownerId"`
	Strength        int       `json:"strength"`
	CreatedAt       time.Time `json:"createdAt"`
	ResultReference string    `json:"resultReference"`
}

// Entry pairs a fingerprint with its record.
type Entry struct {
	Fingerprint fingerprint.Fingerprint
	Record      Record
}

// StorageError wraps a durable read or write failure. It is logged, never
// surfaced as a workflow failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("dedup storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store maps fingerprints to protection records and mirrors them to a
// durable backend.
type Store struct {
	mu      sync.RWMutex
	records map[fingerprint.Fingerprint]Record
	backend storage.KVStore
	logger  *slog.Logger

	// persistMu orders snapshot-and-write so an older snapshot never lands
	// after a newer one.
	persistMu sync.Mutex
}

// New returns an empty store backed by backend. A nil backend keeps the
// store in memory only.
func New(backend storage.KVStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[fingerprint.Fingerprint]Record),
		backend: backend,
		logger:  logger,
	}
}

// Load reads the cache from backend. A missing key yields an empty store;
// unreadable or malformed content is logged and also yields an empty store.
func Load(ctx context.Context, backend storage.KVStore, logger *slog.Logger) *Store {
	s := New(backend, logger)
	if backend == nil {
		return s
	}

	data, err := backend.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return s
	}
	if err != nil {
		s.logger.Warn("dedup cache unreadable, starting empty", "error", &StorageError{Op: "load", Err: err})
		return s
	}

	records, err := Decode(data)
	if err != nil {
		s.logger.Warn("dedup cache corrupted, discarding", "error", &StorageError{Op: "decode", Err: err})
		return s
	}

	s.records = records
	s.logger.Debug("dedup cache loaded", "entries", len(records))
	return s
}

// Has reports whether fp has a record.
func (s *Store) Has(fp fingerprint.Fingerprint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[fp]
	return ok
}

// Get returns the record for fp.
func (s *Store) Get(fp fingerprint.Fingerprint) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fp]
	return rec, ok
}

// Put inserts a record and persists the cache. An existing record is never
// replaced; ErrExists is returned instead.
func (s *Store) Put(ctx context.Context, fp fingerprint.Fingerprint, rec Record) error {
	if fp == "" {
		return errors.New("fingerprint cannot be empty")
	}

	s.mu.Lock()
	if _, ok := s.records[fp]; ok {
		s.mu.Unlock()
		return ErrExists
	}
	s.records[fp] = rec
	s.mu.Unlock()

	s.Persist(ctx)
	return nil
}

// Persist writes the cache to the backend. Failures are logged only.
func (s *Store) Persist(ctx context.Context) {
	if err := s.persist(ctx); err != nil {
		s.logger.Warn("dedup cache not persisted", "error", err)
	}
}

func (s *Store) persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	data, err := Encode(s.Entries())
	if err != nil {
		return &StorageError{Op: "encode", Err: err}
	}
	if err := s.backend.Put(ctx, StorageKey, data); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Entries returns all records ordered by fingerprint.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.records))
	for fp, rec := range s.records {
		entries = append(entries, Entry{Fingerprint: fp, Record: rec})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Fingerprint < entries[j].Fingerprint
	})
	return entries
}

// Encode serializes entries as a JSON list of [fingerprint, record] pairs.
func Encode(entries []Entry) ([]byte, error) {
	pairs := make([][2]any, len(entries))
	for i, e := range entries {
		pairs[i] = [2]any{e.Fingerprint, e.Record}
	}
	return json.Marshal(pairs)
}

// Decode parses the output of Encode. Any structural problem fails the
// whole decode.
func Decode(data []byte) (map[fingerprint.Fingerprint]Record, error) {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, err
	}

	records := make(map[fingerprint.Fingerprint]Record, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("entry %d: expected [fingerprint, record] pair", i)
		}

		var fp fingerprint.Fingerprint
		if err := json.Unmarshal(pair[0], &fp); err != nil {
			return nil, fmt.Errorf("entry %d: fingerprint: %w", i, err)
		}
		if fp == "" {
			return nil, fmt.Errorf("entry %d: empty fingerprint", i)
		}

		var rec Record
		if err := json.Unmarshal(pair[1], &rec); err != nil {
			return nil, fmt.Errorf("entry %d: record: %w", i, err)
		}
		if rec.OwnerID == "" {
			return nil, fmt.Errorf("entry %d: record has no owner", i)
		}

		records[fp] = rec
	}
	return records, nil
}

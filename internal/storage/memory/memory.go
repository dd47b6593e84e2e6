// Package memory provides a process-local record store. Nothing survives a
// restart; it backs storage.type=memory and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/usagestat/internal/storage"
)

// Store keeps the encoded record in memory so that loads go through the
// same decode path as the durable stores.
type Store struct {
	mu   sync.Mutex
	data []byte
	meta *storage.RecordMeta
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Seed replaces the stored bytes verbatim, bypassing encoding.
func (s *Store) Seed(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

// Load decodes the stored record.
func (s *Store) Load(ctx context.Context) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()

	if data == nil {
		return nil, storage.ErrNotFound
	}
	return storage.Decode(data)
}

// Save encodes and keeps the record.
func (s *Store) Save(ctx context.Context, record *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(record)
}

// Update reads, changes and keeps the record while holding the lock.
func (s *Store) Update(ctx context.Context, fn storage.UpdateFunc) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *storage.Record
	if s.data != nil {
		if record, err := storage.Decode(s.data); err == nil {
			current = record
		}
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if err := s.put(next); err != nil {
		return nil, err
	}
	return next, nil
}

// put must be called with the lock held.
func (s *Store) put(record *storage.Record) error {
	data, err := storage.Encode(record)
	if err != nil {
		return err
	}
	if s.meta != nil && s.meta.SchemaVersion > record.SchemaVersion {
		return storage.ErrNewerSchema
	}

	s.data = data
	s.meta = &storage.RecordMeta{
		SchemaVersion: record.SchemaVersion,
		SavedAt:       time.Now().UTC(),
		Size:          len(data),
	}
	return nil
}

// Meta returns bookkeeping about the last save.
func (s *Store) Meta(ctx context.Context) (*storage.RecordMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil, storage.ErrNotFound
	}
	m := *s.meta
	return &m, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

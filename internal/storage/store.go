package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrNewerSchema is returned by Save when the stored record was written
// with a newer schema than the one being saved.
var ErrNewerSchema = errors.New("storage: stored record has a newer schema")

// ErrLocked is returned by Open when another process holds the store.
var ErrLocked = errors.New("storage: store is locked by another process")

// ErrConflict is returned by Update when concurrent writers kept changing
// the record until the retry budget ran out.
var ErrConflict = errors.New("storage: concurrent update retries exhausted")

// UpdateFunc computes the record to store from the stored one. current is
// nil when nothing is stored or the stored value does not decode. It may be
// called more than once, each time with a freshly loaded record.
type UpdateFunc func(current *Record) (*Record, error)

// RecordStore persists the single usage record under a fixed key.
//
// Load returns ErrNotFound when nothing has been saved yet. Any other error,
// including a value that does not decode, is reported as-is so callers can
// tell an empty store from a damaged one.
//
// Update is an atomic read-modify-write: no other writer's save can land
// between the read handed to fn and the write of its result. It returns
// the record that was stored.
type RecordStore interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Update(ctx context.Context, fn UpdateFunc) (*Record, error)
	Close() error
}

// MetaReader is implemented by stores that keep bookkeeping alongside the
// record.
type MetaReader interface {
	Meta(ctx context.Context) (*RecordMeta, error)
}

package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/usagestat/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketAnalytics = "analytics"
	bucketMeta      = "meta"

	// DefaultLockTimeout is how long Open waits for the file lock.
	DefaultLockTimeout = 2 * time.Second
)

// Store implements storage.RecordStore using bbolt.
type Store struct {
	db  *bbolt.DB
	key string
}

// Open opens a BoltDB-backed record store. The record lives under key.
// bbolt allows a single process per file; when another process holds it for
// longer than lockTimeout (DefaultLockTimeout if zero), Open returns
// storage.ErrLocked.
func Open(path, key string, lockTimeout time.Duration) (*Store, error) {
	if key == "" {
		return nil, fmt.Errorf("record key is required")
	}

	if err := ensureDir(path); err != nil {
		return nil, err
	}

	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("open bolt db %s: %w", path, storage.ErrLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db, key: key}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketAnalytics, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads and decodes the record.
func (s *Store) Load(ctx context.Context) (*storage.Record, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAnalytics))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(s.key))
		if value == nil {
			return storage.ErrNotFound
		}
		// Values are only valid inside the transaction.
		data = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.Decode(data)
}

// Save writes the record and its bookkeeping in one transaction.
func (s *Store) Save(ctx context.Context, record *storage.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.put(tx, record)
	})
}

// Update reads, changes and writes the record inside one write transaction.
func (s *Store) Update(ctx context.Context, fn storage.UpdateFunc) (*storage.Record, error) {
	var result *storage.Record
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAnalytics))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketAnalytics)
		}

		var current *storage.Record
		if value := b.Get([]byte(s.key)); value != nil {
			// Undecodable values are replaced.
			if record, err := storage.Decode(value); err == nil {
				current = record
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := s.put(tx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// put writes the record and its bookkeeping. It refuses to overwrite a
// record saved with a newer schema.
func (s *Store) put(tx *bbolt.Tx, record *storage.Record) error {
	data, err := storage.Encode(record)
	if err != nil {
		return err
	}
	meta, err := marshal(storage.RecordMeta{
		SchemaVersion: record.SchemaVersion,
		SavedAt:       time.Now().UTC(),
		Size:          len(data),
	})
	if err != nil {
		return err
	}

	b := tx.Bucket([]byte(bucketAnalytics))
	if b == nil {
		return fmt.Errorf("bucket missing: %s", bucketAnalytics)
	}
	m := tx.Bucket([]byte(bucketMeta))
	if m == nil {
		return fmt.Errorf("bucket missing: %s", bucketMeta)
	}

	if existing := m.Get([]byte(s.key)); existing != nil {
		var prev storage.RecordMeta
		if err := unmarshal(existing, &prev); err == nil && prev.SchemaVersion > record.SchemaVersion {
			return storage.ErrNewerSchema
		}
	}

	if err := b.Put([]byte(s.key), data); err != nil {
		return err
	}
	return m.Put([]byte(s.key), meta)
}

// Meta returns bookkeeping about the last save.
func (s *Store) Meta(ctx context.Context) (*storage.RecordMeta, error) {
	var meta *storage.RecordMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketMeta))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(s.key))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.RecordMeta
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		meta = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

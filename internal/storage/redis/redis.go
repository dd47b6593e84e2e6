package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/usagestat/internal/config"
	"github.com/goodtune/usagestat/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "usagestat:record:"

	// maxUpdateRetries bounds optimistic retries when another writer changes
	// the record between WATCH and EXEC.
	maxUpdateRetries = 16
)

var saveScript = redis.NewScript(saveRecordScript)

// Store implements storage.RecordStore using Redis
type Store struct {
	client    *redis.Client
	recordKey string
	metaKey   string
}

// Open creates a new Redis-backed record store. The record lives under
// usagestat:record:{key}.
func Open(cfg config.RedisConfig, key string) (*Store, error) {
	if key == "" {
		return nil, fmt.Errorf("record key is required")
	}

	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:    client,
		recordKey: keyPrefix + key,
		metaKey:   keyPrefix + key + ":meta",
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Load reads and decodes the record
func (s *Store) Load(ctx context.Context) (*storage.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return storage.Decode(data)
}

// Save atomically writes the record and its metadata
func (s *Store) Save(ctx context.Context, record *storage.Record) error {
	keys, args, err := s.saveArgs(record)
	if err != nil {
		return err
	}
	return saveError(saveScript.Run(ctx, s.client, keys, args...).Err())
}

// Update reads, changes and writes the record under WATCH, retrying when
// another writer got there first.
func (s *Store) Update(ctx context.Context, fn storage.UpdateFunc) (*storage.Record, error) {
	var result *storage.Record

	txf := func(tx *redis.Tx) error {
		var current *storage.Record
		data, err := tx.Get(ctx, s.recordKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			// Undecodable values are replaced.
			if record, err := storage.Decode(data); err == nil {
				current = record
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		keys, args, err := s.saveArgs(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			saveScript.Eval(ctx, pipe, keys, args...)
			return nil
		})
		if err != nil {
			return err
		}

		result = next
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, s.recordKey, s.metaKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, saveError(err)
	}

	return nil, storage.ErrConflict
}

func (s *Store) saveArgs(record *storage.Record) ([]string, []interface{}, error) {
	data, err := storage.Encode(record)
	if err != nil {
		return nil, nil, err
	}

	keys := []string{s.recordKey, s.metaKey}
	args := []interface{}{
		data,
		record.SchemaVersion,
		time.Now().UTC().Format(time.RFC3339Nano),
	}
	return keys, args, nil
}

// saveError maps the script's refusal to storage.ErrNewerSchema.
func saveError(err error) error {
	if err != nil && strings.Contains(err.Error(), "NEWER_SCHEMA") {
		return storage.ErrNewerSchema
	}
	return err
}

// Meta returns bookkeeping about the last save
func (s *Store) Meta(ctx context.Context) (*storage.RecordMeta, error) {
	data, err := s.client.HGetAll(ctx, s.metaKey).Result()
	if err != nil {
		return nil, err
	}
	return parseRecordMeta(data)
}

package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/usagestat/internal/storage"
)

// parseRecordMeta converts a Redis hash to RecordMeta
func parseRecordMeta(data map[string]string) (*storage.RecordMeta, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	version, err := strconv.Atoi(data["schema_version"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema_version: %w", err)
	}

	savedAt, err := time.Parse(time.RFC3339Nano, data["saved_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse saved_at: %w", err)
	}

	size, err := strconv.Atoi(data["size"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse size: %w", err)
	}

	return &storage.RecordMeta{
		SchemaVersion: version,
		SavedAt:       savedAt,
		Size:          size,
	}, nil
}

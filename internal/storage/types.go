package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the only record layout this package understands.
const SchemaVersion = 1

// DateLayout is the key format of Record.DailyStats.
const DateLayout = "2006-01-02"

// Record is the persisted root of all usage analytics.
type Record struct {
	SchemaVersion      int                   `json:"schemaVersion"`
	FirstUseTimestamp  time.Time             `json:"firstUseTimestamp"`
	LastUseTimestamp   *time.Time            `json:"lastUseTimestamp"`
	SessionCount       int64                 `json:"sessionCount"`
	TotalActiveSeconds int64                 `json:"totalActiveSeconds"`
	Features           *Features             `json:"features"`
	DailyStats         map[string]*DayRecord `json:"dailyStats"`
}

// FeatureStat holds the all-time counters for one feature.
type FeatureStat struct {
	DisplayName       string     `json:"displayName"`
	ClickCount        int64      `json:"clickCount"`
	LastUsedTimestamp *time.Time `json:"lastUsedTimestamp"`
}

// DayRecord aggregates sessions and feature uses for one calendar date.
type DayRecord struct {
	SessionCount  int64            `json:"sessionCount"`
	FeatureCounts map[string]int64 `json:"featureCounts"`
}

// NewDayRecord returns an empty day aggregate.
func NewDayRecord() *DayRecord {
	return &DayRecord{FeatureCounts: make(map[string]int64)}
}

// Day returns the aggregate for date, creating it if absent.
func (r *Record) Day(date string) *DayRecord {
	if r.DailyStats == nil {
		r.DailyStats = make(map[string]*DayRecord)
	}
	day, ok := r.DailyStats[date]
	if !ok || day == nil {
		day = NewDayRecord()
		r.DailyStats[date] = day
	}
	if day.FeatureCounts == nil {
		day.FeatureCounts = make(map[string]int64)
	}
	return day
}

// Validate reports whether a decoded record can be trusted.
func (r *Record) Validate() error {
	if r.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", r.SchemaVersion, SchemaVersion)
	}
	if r.Features == nil {
		return fmt.Errorf("features missing")
	}
	for date, day := range r.DailyStats {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return fmt.Errorf("invalid daily stats date %q", date)
		}
		if day == nil {
			continue
		}
		for id, n := range day.FeatureCounts {
			if n < 0 {
				return fmt.Errorf("negative count for %q on %s", id, date)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := &Record{
		SchemaVersion:      r.SchemaVersion,
		FirstUseTimestamp:  r.FirstUseTimestamp,
		LastUseTimestamp:   cloneTime(r.LastUseTimestamp),
		SessionCount:       r.SessionCount,
		TotalActiveSeconds: r.TotalActiveSeconds,
		Features:           r.Features.Clone(),
	}
	if r.DailyStats != nil {
		out.DailyStats = make(map[string]*DayRecord, len(r.DailyStats))
		for date, day := range r.DailyStats {
			if day == nil {
				out.DailyStats[date] = NewDayRecord()
				continue
			}
			counts := make(map[string]int64, len(day.FeatureCounts))
			for id, n := range day.FeatureCounts {
				counts[id] = n
			}
			out.DailyStats[date] = &DayRecord{SessionCount: day.SessionCount, FeatureCounts: counts}
		}
	}
	return out
}

// Encode serializes a record for storage.
func Encode(record *Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// Decode parses and validates a stored record.
func Decode(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	if record.DailyStats == nil {
		record.DailyStats = make(map[string]*DayRecord)
	}
	for date, day := range record.DailyStats {
		if day == nil {
			record.DailyStats[date] = NewDayRecord()
		} else if day.FeatureCounts == nil {
			day.FeatureCounts = make(map[string]int64)
		}
	}
	return &record, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// RecordMeta describes the last successful save.
type RecordMeta struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	Size          int       `json:"size"`
}

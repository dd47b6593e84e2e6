package usage

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/usagestat/internal/metrics"
	"github.com/goodtune/usagestat/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultTopLimit is the length of the top lists in a report
	DefaultTopLimit = 10

	// DefaultWindowDays is the number of calendar days, today included,
	// summed for the weekly top list
	DefaultWindowDays = 7

	// DefaultPersistTimeout bounds a single load or save
	DefaultPersistTimeout = 2 * time.Second

	// OtherFeatureLabel is the metrics label for feature IDs outside the
	// catalog, so clients cannot create series at will.
	OtherFeatureLabel = "other"

	// maxPendingChanges bounds the unsaved changes kept for replay while the
	// store is failing. Past it they collapse into one snapshot.
	maxPendingChanges = 1024
)

var _ Recorder = (*Tracker)(nil)

// Config holds tracker configuration
type Config struct {
	Catalog        []CatalogEntry
	Location       *time.Location
	TopLimit       int
	WindowDays     int
	PersistTimeout time.Duration
	Clock          Clock
}

// change applies one mutation to a record and returns the result. Changes
// are replayed onto whatever the store holds at save time, so a change must
// only touch the record it is given.
type change func(*storage.Record) *storage.Record

// Tracker owns the usage record and mirrors every change to the store.
//
// Storage failures never reach callers: a record that cannot be loaded is
// replaced by an empty one, and a failed save leaves the in-memory record
// authoritative until the next successful save.
//
// Saves go through storage.RecordStore.Update: the changes made since the
// last successful save are replayed onto the stored record, so several
// trackers sharing one store add up instead of overwriting each other.
type Tracker struct {
	store          storage.RecordStore
	catalog        []CatalogEntry
	catalogIDs     map[string]bool
	location       *time.Location
	topLimit       int
	windowDays     int
	persistTimeout time.Duration
	clock          Clock
	logger         zerolog.Logger

	mu           sync.Mutex
	record       *storage.Record
	pending      []change
	sessionStart time.Time
	sessionOpen  bool
}

// NewTracker creates a new usage tracker. The tracker holds an empty record
// until Initialize is called.
func NewTracker(store storage.RecordStore, config Config, logger zerolog.Logger) *Tracker {
	if config.Catalog == nil {
		config.Catalog = DefaultCatalog
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.TopLimit <= 0 {
		config.TopLimit = DefaultTopLimit
	}
	if config.WindowDays <= 0 {
		config.WindowDays = DefaultWindowDays
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = DefaultPersistTimeout
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}

	catalogIDs := make(map[string]bool, len(config.Catalog))
	for _, entry := range config.Catalog {
		catalogIDs[entry.ID] = true
	}

	t := &Tracker{
		store:          store,
		catalog:        config.Catalog,
		catalogIDs:     catalogIDs,
		location:       config.Location,
		topLimit:       config.TopLimit,
		windowDays:     config.WindowDays,
		persistTimeout: config.PersistTimeout,
		clock:          config.Clock,
		logger:         logger.With().Str("component", "usage-tracker").Logger(),
	}
	t.record = t.emptyRecord(t.clock.Now())

	return t
}

// Initialize loads the stored record, falling back to an empty one, and
// begins a session. hooks may be nil, in which case session duration is
// only recorded by an explicit EndSession.
func (t *Tracker) Initialize(hooks ShutdownRegistrar) {
	t.mu.Lock()
	t.record = t.load()
	t.pending = nil
	t.sessionOpen = false
	t.mu.Unlock()

	t.BeginSession(hooks)

	t.logger.Info().
		Int("features", t.featureCount()).
		Msg("Usage tracker initialized")
}

// BeginSession counts a new session and registers EndSession to run at
// shutdown. A session that is still open is ended first.
func (t *Tracker) BeginSession(hooks ShutdownRegistrar) {
	t.mu.Lock()
	now := t.clock.Now()

	var seconds int64
	if t.sessionOpen {
		seconds = t.closeSession(now)
	}
	t.sessionStart = now
	t.sessionOpen = true

	stamp := timestamp(now)
	date := t.dateKey(now, 0)
	t.apply(func(r *storage.Record) *storage.Record {
		r.TotalActiveSeconds += seconds
		openSession(r, stamp, date)
		return r
	})
	sessions := t.record.SessionCount
	t.mu.Unlock()

	metrics.SessionsTotal.Inc()

	if hooks != nil {
		hooks.OnShutdown(t.EndSession)
	}

	t.logger.Debug().
		Int64("session_count", sessions).
		Msg("Started usage session")
}

// EndSession adds the elapsed session time to the record and persists it.
// It does nothing when no session is open.
func (t *Tracker) EndSession() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.sessionOpen {
		return
	}

	seconds := t.closeSession(t.clock.Now())
	t.apply(func(r *storage.Record) *storage.Record {
		r.TotalActiveSeconds += seconds
		return r
	})

	t.logger.Info().
		Int64("seconds", seconds).
		Int64("total_active_seconds", t.record.TotalActiveSeconds).
		Msg("Ended usage session")
}

// Track records one use of a feature. Unknown features are added to the
// catalog with their ID as display name. Surrounding whitespace is not part
// of an ID; a blank ID is ignored.
func (t *Tracker) Track(featureID string) {
	featureID = strings.TrimSpace(featureID)
	if featureID == "" {
		t.logger.Warn().Msg("Ignoring track call with empty feature ID")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	stamp := timestamp(now)
	date := t.dateKey(now, 0)

	if _, ok := t.record.Features.Get(featureID); !ok {
		t.logger.Debug().Str("feature", featureID).Msg("Added feature to catalog")
	}

	t.apply(func(r *storage.Record) *storage.Record {
		if stat, ok := r.Features.Get(featureID); ok {
			stat.ClickCount++
			stat.LastUsedTimestamp = &stamp
		} else {
			r.Features.Add(featureID, &storage.FeatureStat{
				DisplayName:       featureID,
				ClickCount:        1,
				LastUsedTimestamp: &stamp,
			})
		}
		r.Day(date).FeatureCounts[featureID]++
		return r
	})

	metrics.FeatureUsesTotal.WithLabelValues(t.metricLabel(featureID)).Inc()

	t.logger.Debug().Str("feature", featureID).Msg("Tracked feature use")
}

// Reset discards all history and starts over with an empty record. An open
// session carries over as the first session of the new record.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()

	fresh := t.emptyRecord(now)
	if t.sessionOpen {
		openSession(fresh, timestamp(now), t.dateKey(now, 0))
		t.sessionStart = now
	}

	// Unsaved changes are superseded.
	t.pending = nil
	t.apply(func(*storage.Record) *storage.Record {
		return fresh.Clone()
	})

	metrics.ResetsTotal.Inc()

	t.logger.Info().Msg("Usage statistics reset")
}

// load reads the stored record. It must be called with the lock held.
func (t *Tracker) load() *storage.Record {
	ctx, cancel := context.WithTimeout(context.Background(), t.persistTimeout)
	defer cancel()

	record, err := t.store.Load(ctx)
	switch {
	case err == nil:
		t.logger.Debug().
			Int64("session_count", record.SessionCount).
			Int("features", record.Features.Len()).
			Msg("Loaded usage record")
		return record
	case errors.Is(err, storage.ErrNotFound):
		t.logger.Info().Msg("No stored usage record, starting fresh")
	default:
		metrics.StoreErrorsTotal.WithLabelValues("load").Inc()
		t.logger.Warn().Err(err).Msg("Failed to load usage record, starting fresh")
	}

	return t.emptyRecord(t.clock.Now())
}

// apply changes the in-memory record, queues the change and persists. It
// must be called with the lock held.
func (t *Tracker) apply(c change) {
	t.record = c(t.record)

	if len(t.pending) >= maxPendingChanges {
		snapshot := t.record.Clone()
		t.pending = []change{func(*storage.Record) *storage.Record {
			return snapshot.Clone()
		}}
	} else {
		t.pending = append(t.pending, c)
	}

	t.persist()
}

// persist replays the pending changes onto the stored record. When nothing
// usable is stored, the in-memory record is written as is. It must be
// called with the lock held.
func (t *Tracker) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), t.persistTimeout)
	defer cancel()

	local := t.record
	pending := t.pending

	saved, err := t.store.Update(ctx, func(current *storage.Record) (*storage.Record, error) {
		if current == nil {
			return local.Clone(), nil
		}
		for _, c := range pending {
			current = c(current)
		}
		return current, nil
	})
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("save").Inc()
		t.logger.Error().
			Err(err).
			Int("pending", len(pending)).
			Msg("Failed to persist usage record")
		return
	}

	t.pending = nil
	t.record = saved
}

// openSession counts a session on r.
func openSession(r *storage.Record, stamp time.Time, date string) {
	r.SessionCount++
	r.LastUseTimestamp = &stamp
	r.Day(date).SessionCount++
}

// closeSession ends the open session and returns its length in whole
// seconds.
func (t *Tracker) closeSession(now time.Time) int64 {
	seconds := int64(math.Round(now.Sub(t.sessionStart).Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	t.sessionOpen = false

	metrics.SessionSecondsTotal.Add(float64(seconds))

	return seconds
}

func (t *Tracker) metricLabel(featureID string) string {
	if t.catalogIDs[featureID] {
		return featureID
	}
	return OtherFeatureLabel
}

func (t *Tracker) emptyRecord(now time.Time) *storage.Record {
	features := storage.NewFeatures()
	for _, entry := range t.catalog {
		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		features.Add(entry.ID, &storage.FeatureStat{DisplayName: name})
	}

	return &storage.Record{
		SchemaVersion:     storage.SchemaVersion,
		FirstUseTimestamp: timestamp(now),
		Features:          features,
		DailyStats:        make(map[string]*storage.DayRecord),
	}
}

func (t *Tracker) featureCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.Features.Len()
}

// dateKey returns the local calendar date daysAgo days before now. Noon is
// used as the anchor so that a short or long DST day cannot skip a date.
func (t *Tracker) dateKey(now time.Time, daysAgo int) string {
	local := now.In(t.location)
	y, m, d := local.Date()
	return time.Date(y, m, d-daysAgo, 12, 0, 0, 0, t.location).Format(storage.DateLayout)
}

// timestamp normalizes an instant for storage: UTC, millisecond precision.
func timestamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Millisecond)
}

package usage

import (
	"math"
	"sort"

	"github.com/goodtune/usagestat/internal/storage"
)

// Report computes a fresh report from the current record. It does not
// modify the record.
func (t *Tracker) Report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.record.Clone()
	keys := record.Features.Keys()

	used := make([]FeatureCount, 0, len(keys))
	unused := make([]string, 0)
	for _, id := range keys {
		stat, _ := record.Features.Get(id)
		if stat.ClickCount > 0 {
			used = append(used, FeatureCount{
				ID:       id,
				Name:     displayName(id, stat),
				Clicks:   stat.ClickCount,
				LastUsed: stat.LastUsedTimestamp,
			})
		} else {
			unused = append(unused, displayName(id, stat))
		}
	}

	summary := Summary{
		FirstUse:           record.FirstUseTimestamp,
		LastUse:            record.LastUseTimestamp,
		TotalSessions:      record.SessionCount,
		TotalActiveMinutes: int64(math.Round(float64(record.TotalActiveSeconds) / 60)),
		TotalFeatures:      len(keys),
		UsedFeatures:       len(used),
		UnusedFeatures:     len(unused),
	}

	topAll := make([]FeatureCount, len(used))
	copy(topAll, used)
	sortByClicks(topAll)

	return &Report{
		Summary:            summary,
		TopAllTime:         truncate(topAll, t.topLimit),
		TopThisWeek:        truncate(t.windowTop(record, keys), t.topLimit),
		UnusedFeatureNames: unused,
		Raw:                record,
	}
}

// windowTop sums feature counts over the trailing window of calendar days.
// Ties keep catalog order; IDs no longer in the catalog follow, sorted.
func (t *Tracker) windowTop(record *storage.Record, keys []string) []FeatureCount {
	now := t.clock.Now()
	sums := make(map[string]int64)
	for i := 0; i < t.windowDays; i++ {
		day, ok := record.DailyStats[t.dateKey(now, i)]
		if !ok {
			continue
		}
		for id, n := range day.FeatureCounts {
			sums[id] += n
		}
	}

	out := make([]FeatureCount, 0, len(sums))
	for _, id := range keys {
		if n := sums[id]; n > 0 {
			stat, _ := record.Features.Get(id)
			out = append(out, FeatureCount{ID: id, Name: displayName(id, stat), Clicks: n})
			delete(sums, id)
		}
	}

	orphans := make([]string, 0, len(sums))
	for id, n := range sums {
		if n > 0 {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		out = append(out, FeatureCount{ID: id, Name: id, Clicks: sums[id]})
	}

	sortByClicks(out)
	return out
}

// displayName falls back to the ID for features stored without a name.
func displayName(id string, stat *storage.FeatureStat) string {
	if stat == nil || stat.DisplayName == "" {
		return id
	}
	return stat.DisplayName
}

func sortByClicks(rows []FeatureCount) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Clicks > rows[j].Clicks
	})
}

func truncate(rows []FeatureCount, limit int) []FeatureCount {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

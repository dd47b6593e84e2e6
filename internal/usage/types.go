package usage

import (
	"time"

	"github.com/goodtune/usagestat/internal/storage"
)

// Recorder is the capability handed to callers that record feature use.
type Recorder interface {
	Track(featureID string)
	Report() *Report
	Reset()
}

// ShutdownRegistrar accepts callbacks to run once before the process exits.
type ShutdownRegistrar interface {
	OnShutdown(fn func())
}

// Report is a point-in-time view of the usage record.
type Report struct {
	Summary            Summary         `json:"summary"`
	TopAllTime         []FeatureCount  `json:"topAllTime"`
	TopThisWeek        []FeatureCount  `json:"topThisWeek"`
	UnusedFeatureNames []string        `json:"unusedFeatureNames"`
	Raw                *storage.Record `json:"raw"`
}

// Summary holds the headline numbers of a report.
type Summary struct {
	FirstUse           time.Time  `json:"firstUse"`
	LastUse            *time.Time `json:"lastUse"`
	TotalSessions      int64      `json:"totalSessions"`
	TotalActiveMinutes int64      `json:"totalActiveMinutes"`
	TotalFeatures      int        `json:"totalFeatures"`
	UsedFeatures       int        `json:"usedFeatures"`
	UnusedFeatures     int        `json:"unusedFeatures"`
}

// FeatureCount is one row of a top list.
type FeatureCount struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Clicks   int64      `json:"clicks"`
	LastUsed *time.Time `json:"lastUsed,omitempty"`
}

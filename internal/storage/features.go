package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Features is the feature catalog keyed by feature ID. It remembers
// insertion order, including across JSON round trips, because report
// ordering breaks ties on it.
type Features struct {
	order []string
	stats map[string]*FeatureStat
}

// NewFeatures returns an empty catalog.
func NewFeatures() *Features {
	return &Features{stats: make(map[string]*FeatureStat)}
}

// Get returns the stat for id.
func (f *Features) Get(id string) (*FeatureStat, bool) {
	stat, ok := f.stats[id]
	return stat, ok
}

// Add inserts or replaces the stat for id. New IDs go to the end.
func (f *Features) Add(id string, stat *FeatureStat) {
	if f.stats == nil {
		f.stats = make(map[string]*FeatureStat)
	}
	if _, ok := f.stats[id]; !ok {
		f.order = append(f.order, id)
	}
	f.stats[id] = stat
}

// Keys returns feature IDs in insertion order.
func (f *Features) Keys() []string {
	keys := make([]string, len(f.order))
	copy(keys, f.order)
	return keys
}

// Len returns the number of features.
func (f *Features) Len() int {
	return len(f.order)
}

// Clone returns a deep copy.
func (f *Features) Clone() *Features {
	if f == nil {
		return nil
	}
	out := &Features{
		order: make([]string, len(f.order)),
		stats: make(map[string]*FeatureStat, len(f.stats)),
	}
	copy(out.order, f.order)
	for id, stat := range f.stats {
		s := *stat
		s.LastUsedTimestamp = cloneTime(stat.LastUsedTimestamp)
		out.stats[id] = &s
	}
	return out
}

// MarshalJSON writes the catalog as an object in insertion order.
func (f *Features) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range f.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.stats[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the key order of the document.
func (f *Features) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("features: expected object, got %v", tok)
	}

	f.order = nil
	f.stats = make(map[string]*FeatureStat)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("features: expected key, got %v", tok)
		}
		var stat FeatureStat
		if err := dec.Decode(&stat); err != nil {
			return fmt.Errorf("features: %s: %w", id, err)
		}
		if stat.ClickCount < 0 {
			return fmt.Errorf("features: %s: negative click count", id)
		}
		f.Add(id, &stat)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

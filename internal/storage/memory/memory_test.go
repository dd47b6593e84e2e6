package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/usagestat/internal/storage"
)

func testRecord(version int) *storage.Record {
	features := storage.NewFeatures()
	features.Add("folder_navigate", &storage.FeatureStat{DisplayName: "folder_navigate", ClickCount: 1})
	return &storage.Record{
		SchemaVersion:     version,
		FirstUseTimestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Features:          features,
		DailyStats:        map[string]*storage.DayRecord{},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Save(ctx, testRecord(storage.SchemaVersion)); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stat, ok := loaded.Features.Get("folder_navigate")
	if !ok || stat.ClickCount != 1 {
		t.Fatalf("unexpected feature after load: %+v", stat)
	}

	meta, err := store.Meta(ctx)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.Size == 0 || meta.SchemaVersion != storage.SchemaVersion {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestStoreLoadReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Save(ctx, testRecord(storage.SchemaVersion)); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, _ := store.Load(ctx)
	stat, _ := first.Features.Get("folder_navigate")
	stat.ClickCount = 50

	second, _ := store.Load(ctx)
	stat, _ = second.Features.Get("folder_navigate")
	if stat.ClickCount != 1 {
		t.Fatalf("loaded records share state: clickCount %d", stat.ClickCount)
	}
}

func TestStoreSeedCorrupt(t *testing.T) {
	store := New()
	store.Seed([]byte("garbage"))

	_, err := store.Load(context.Background())
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestStoreRefusesNewerSchema(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Save(ctx, testRecord(storage.SchemaVersion+1)); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if err := store.Save(ctx, testRecord(storage.SchemaVersion)); !errors.Is(err, storage.ErrNewerSchema) {
		t.Fatalf("expected ErrNewerSchema, got %v", err)
	}
}

func TestStoreCanceledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, testRecord(storage.SchemaVersion)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStoreUpdate(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Update(ctx, func(current *storage.Record) (*storage.Record, error) {
			if current == nil {
				return testRecord(storage.SchemaVersion), nil
			}
			stat, _ := current.Features.Get("folder_navigate")
			stat.ClickCount++
			return current, nil
		})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stat, _ := loaded.Features.Get("folder_navigate")
	if stat.ClickCount != 3 {
		t.Fatalf("expected 3 clicks, got %d", stat.ClickCount)
	}
}

func TestStoreUpdateReplacesCorrupt(t *testing.T) {
	store := New()
	store.Seed([]byte("garbage"))

	_, err := store.Update(context.Background(), func(current *storage.Record) (*storage.Record, error) {
		if current != nil {
			t.Errorf("expected corrupt record to be passed as nil")
		}
		return testRecord(storage.SchemaVersion), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
}

package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "weather.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := OpenSQLiteStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSQLiteStoreInsertLookup(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	key := "(40.71,-74.01)"
	w := record(key, "New York", 0)
	w.Temperature2m = 21.5
	w.WindSpeed10m = 8.2
	w.WeatherCode = 3
	w.RelativeHumidity2m = 55
	w.ApparentTemperature = 20.1
	w.PrecipitationProbability = 40

	if err := s.Insert(ctx, key, w, testTTL); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	got, ok, err := s.Lookup(ctx, key, testTTL)
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after insert")
	}
	if got.ID != key || got.Location != "New York" {
		t.Errorf("identity fields wrong: %+v", got)
	}
	if got.Temperature2m != 21.5 || got.WindSpeed10m != 8.2 || got.WeatherCode != 3 {
		t.Errorf("conditions wrong: %+v", got)
	}
	if got.RelativeHumidity2m != 55 || got.ApparentTemperature != 20.1 || got.PrecipitationProbability != 40 {
		t.Errorf("conditions wrong: %+v", got)
	}
	// millisecond precision survives the round trip
	if got.CreatedAt.UnixMilli() != w.CreatedAt.UnixMilli() {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, w.CreatedAt)
	}
}

func TestSQLiteStoreLookupMiss(t *testing.T) {
	s := newSQLiteStore(t)
	_, ok, err := s.Lookup(context.Background(), "(0.00,0.00)", testTTL)
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if ok {
		t.Error("expected miss on empty table")
	}
}

func TestSQLiteStoreStaleIsMiss(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	key := "(40.71,-74.01)"
	if err := s.Insert(ctx, key, record(key, "New York", testTTL+time.Minute), testTTL); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	_, ok, err := s.Lookup(ctx, key, testTTL)
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if ok {
		t.Error("stale row served as hit")
	}
}

func TestSQLiteStoreUpsertOverwrites(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	key := "(40.71,-74.01)"

	if err := s.Insert(ctx, key, record(key, "first", time.Minute), testTTL); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	second := record(key, "second", 0)
	if err := s.Insert(ctx, key, second, testTTL); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	got, ok, _ := s.Lookup(ctx, key, testTTL)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Location != "second" {
		t.Errorf("Location = %q, want second (last writer wins)", got.Location)
	}
	if got.CreatedAt.UnixMilli() != second.CreatedAt.UnixMilli() {
		t.Errorf("CreatedAt not replaced by upsert: %v", got.CreatedAt)
	}
}

func TestSQLiteStorePrune(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_ = s.Insert(ctx, "fresh", record("fresh", "a", time.Minute), testTTL)
	_ = s.Insert(ctx, "stale1", record("stale1", "b", testTTL+time.Minute), testTTL)
	_ = s.Insert(ctx, "stale2", record("stale2", "c", testTTL+time.Hour), testTTL)

	removed, err := s.Prune(ctx, testTTL)
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
	if _, ok, _ := s.Lookup(ctx, "fresh", testTTL); !ok {
		t.Error("fresh row lost to prune")
	}
	if _, ok, _ := s.Lookup(ctx, "stale1", testTTL); ok {
		t.Error("stale row survived prune")
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weather.db")
	ctx := context.Background()
	key := "(51.51,-0.13)"

	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore error: %v", err)
	}
	if err := s.Insert(ctx, key, record(key, "London", 0), testTTL); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	s2, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Lookup(ctx, key, testTTL)
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if !ok {
		t.Fatal("record did not survive reopen")
	}
	if got.Location != "London" {
		t.Errorf("Location = %q, want London", got.Location)
	}
}

func TestSQLiteStorePing(t *testing.T) {
	s := newSQLiteStore(t)
	if err := s.Ping(); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}

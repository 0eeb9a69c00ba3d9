package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func testCheckpoint(chatID int64) *Checkpoint {
	return &Checkpoint{
		ChatID: chatID,
		Track: TrackRecord{
			ID:               "dQw4w9WgXcQ",
			Title:            "Never Gonna Give You Up",
			Duration:         212,
			SourceURL:        "https://youtu.be/dQw4w9WgXcQ",
			StreamURL:        "https://cdn.example.com/expiring",
			RequesterID:      42,
			RequesterDisplay: "Rick",
		},
		PositionSeconds: 30,
		IsPaused:        false,
		SavedAtUnix:     1700000000,
	}
}

// runStoreConformance exercises the Store contract against any backend.
func runStoreConformance(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	// Missing key reads as nil, nil.
	got, err := s.Get(ctx, "state_404")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("Get missing = %q, want nil", got)
	}

	// Set then Get round-trips.
	if err := s.Set(ctx, "state_100", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = s.Get(ctx, "state_100")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("Get = %s, want {\"a\":1}", got)
	}

	// Set overwrites.
	if err := s.Set(ctx, "state_100", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "state_100")
	if string(got) != `{"a":2}` {
		t.Fatalf("Get after overwrite = %s, want {\"a\":2}", got)
	}

	// Scan only returns matching keys, sorted.
	if err := s.Set(ctx, "state_200", []byte(`{"b":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "other_1", []byte(`{"c":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entries, err := s.Scan(ctx, "state_")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Scan returned %d entries, want 2", len(entries))
	}
	if entries[0].Key != "state_100" || entries[1].Key != "state_200" {
		t.Fatalf("Scan keys = %q, %q; want state_100, state_200", entries[0].Key, entries[1].Key)
	}

	// Delete is effective and idempotent.
	if err := s.Delete(ctx, "state_100"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "state_100"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	got, _ = s.Get(ctx, "state_100")
	if got != nil {
		t.Fatalf("Get after delete = %q, want nil", got)
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()
	runStoreConformance(t, s)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := SaveCheckpoint(ctx, s, testCheckpoint(100)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	s.Close()

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	cp, err := LoadCheckpoint(ctx, reopened, 100)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("checkpoint missing after reopen")
	}
	if cp.Track.Title != "Never Gonna Give You Up" || cp.PositionSeconds != 30 {
		t.Fatalf("unexpected checkpoint after reopen: %+v", cp)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	runStoreConformance(t, s)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Set(ctx, "state_7", []byte(`{"chat_id":7}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "state_7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"chat_id":7}` {
		t.Fatalf("Get after reopen = %s", got)
	}
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer s.Close()
	runStoreConformance(t, s)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(RedisOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	runStoreConformance(t, s)
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()

	want := testCheckpoint(100)
	if err := SaveCheckpoint(ctx, s, want); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	got, err := LoadCheckpoint(ctx, s, 100)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got == nil {
		t.Fatal("LoadCheckpoint returned nil")
	}
	if *got != *want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadCheckpointsDropsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()

	if err := SaveCheckpoint(ctx, s, testCheckpoint(100)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	// Not JSON at all.
	if err := s.Set(ctx, "state_200", []byte(`garbage`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Valid JSON but missing the track id and any replayable source.
	if err := s.Set(ctx, "state_300", []byte(`{"chat_id":300,"track":{"title":"x"}}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	checkpoints, dropped, err := LoadCheckpoints(ctx, s)
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}
	if len(checkpoints) != 1 || checkpoints[0].ChatID != 100 {
		t.Fatalf("checkpoints = %+v, want just chat 100", checkpoints)
	}
	if len(dropped) != 2 {
		t.Fatalf("dropped = %v, want 2 keys", dropped)
	}
}

func TestCheckpointUnknownFieldsIgnored(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()

	record := `{"chat_id":5,"track":{"id":"t1","title":"T","source_url":"https://x"},"position_seconds":9,"legacy_field":true}`
	if err := s.Set(ctx, Key(5), []byte(record)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cp, err := LoadCheckpoint(ctx, s, 5)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp == nil || cp.PositionSeconds != 9 || cp.Track.ID != "t1" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
}

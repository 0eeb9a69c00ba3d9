package music

import (
	"fmt"
	"testing"

	apperrors "vcmplayer/backend/pkg/errors"
)

func mkTrack(id string) Track {
	return Track{
		ID:        id,
		Title:     "title-" + id,
		Duration:  180,
		StreamURL: "https://stream.example/" + id,
		SourceURL: "https://source.example/" + id,
	}
}

func fillQueue(t *testing.T, q *Queue, n int) []Track {
	t.Helper()
	tracks := make([]Track, 0, n)
	for i := 0; i < n; i++ {
		tr := mkTrack(fmt.Sprintf("t%d", i))
		if _, err := q.Add(tr); err != nil {
			t.Fatalf("Add(%s) failed: %v", tr.ID, err)
		}
		tracks = append(tracks, tr)
	}
	return tracks
}

func TestQueueAdvanceWalksInOrder(t *testing.T) {
	q := NewQueue(0)
	tracks := fillQueue(t, q, 3)

	if _, ok := q.Current(); ok {
		t.Error("expected no current track before the first advance")
	}
	for i, want := range tracks {
		got, ok := q.Advance()
		if !ok {
			t.Fatalf("Advance #%d returned false", i)
		}
		if got.ID != want.ID {
			t.Errorf("Advance #%d = %s, want %s", i, got.ID, want.ID)
		}
		if q.CurrentIndex() != i {
			t.Errorf("CurrentIndex = %d, want %d", q.CurrentIndex(), i)
		}
	}
	if _, ok := q.Advance(); ok {
		t.Error("expected Advance past the end to return false")
	}
	// the cursor must stay on the last track after a failed advance
	if cur, _ := q.Current(); cur.ID != tracks[2].ID {
		t.Errorf("Current after exhausted advance = %s, want %s", cur.ID, tracks[2].ID)
	}
}

func TestQueueAdvanceEmpty(t *testing.T) {
	q := NewQueue(0)
	if _, ok := q.Advance(); ok {
		t.Error("expected Advance on empty queue to return false")
	}
	if _, ok := q.Skip(); ok {
		t.Error("expected Skip on empty queue to return false")
	}
}

func TestQueueLoopTrackRepeatsUntilForced(t *testing.T) {
	q := NewQueue(0)
	tracks := fillQueue(t, q, 2)
	q.SetLoop(LoopTrack)

	first, _ := q.Advance()
	if first.ID != tracks[0].ID {
		t.Fatalf("first advance = %s, want %s", first.ID, tracks[0].ID)
	}
	for i := 0; i < 3; i++ {
		got, ok := q.Advance()
		if !ok || got.ID != tracks[0].ID {
			t.Fatalf("loop-track advance #%d = %s ok=%v, want %s", i, got.ID, ok, tracks[0].ID)
		}
	}
	got, ok := q.Skip()
	if !ok || got.ID != tracks[1].ID {
		t.Errorf("Skip under loop-track = %s ok=%v, want %s", got.ID, ok, tracks[1].ID)
	}
}

func TestQueueLoopQueueWrapsAround(t *testing.T) {
	q := NewQueue(0)
	tracks := fillQueue(t, q, 2)
	q.SetLoop(LoopQueue)

	q.Advance()
	q.Advance()
	got, ok := q.Advance()
	if !ok || got.ID != tracks[0].ID {
		t.Errorf("wrap advance = %s ok=%v, want %s", got.ID, ok, tracks[0].ID)
	}
	if q.CurrentIndex() != 0 {
		t.Errorf("CurrentIndex after wrap = %d, want 0", q.CurrentIndex())
	}
}

func TestQueueCapAddFails(t *testing.T) {
	q := NewQueue(2)
	fillQueue(t, q, 2)
	_, err := q.Add(mkTrack("overflow"))
	if err == nil {
		t.Fatal("expected Add over capacity to fail")
	}
	if !apperrors.IsErrorType(err, apperrors.ErrorTypeCommand) {
		t.Errorf("expected a command error, got %v", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
}

func TestQueueRemoveAdjustsCursor(t *testing.T) {
	q := NewQueue(0)
	tracks := fillQueue(t, q, 4)
	q.Advance()
	q.Advance() // cursor on t1

	removed, err := q.Remove(0)
	if err != nil {
		t.Fatalf("Remove(0) failed: %v", err)
	}
	if removed.ID != tracks[0].ID {
		t.Errorf("Remove(0) returned %s, want %s", removed.ID, tracks[0].ID)
	}
	if cur, _ := q.Current(); cur.ID != tracks[1].ID {
		t.Errorf("Current after removing earlier track = %s, want %s", cur.ID, tracks[1].ID)
	}
	if removed, err = q.Remove(2); err != nil { // t3, after the cursor
		t.Fatalf("Remove(2) failed: %v", err)
	}
	if removed.ID != tracks[3].ID {
		t.Errorf("Remove(2) returned %s, want %s", removed.ID, tracks[3].ID)
	}
	if cur, _ := q.Current(); cur.ID != tracks[1].ID {
		t.Errorf("Current after removing later track = %s, want %s", cur.ID, tracks[1].ID)
	}
	if _, err := q.Remove(9); err == nil {
		t.Error("expected out-of-range Remove to fail")
	}
}

func TestQueueMoveKeepsCursorOnTrack(t *testing.T) {
	q := NewQueue(0)
	tracks := fillQueue(t, q, 4)
	q.Advance() // cursor on t0

	moved, err := q.Move(3, 1)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if moved.ID != tracks[3].ID {
		t.Errorf("Move returned %s, want %s", moved.ID, tracks[3].ID)
	}
	if cur, _ := q.Current(); cur.ID != tracks[0].ID {
		t.Errorf("Current after move = %s, want %s", cur.ID, tracks[0].ID)
	}
	next, _ := q.Advance()
	if next.ID != tracks[3].ID {
		t.Errorf("next after move = %s, want %s", next.ID, tracks[3].ID)
	}

	if _, err := q.Move(1, 9); err == nil {
		t.Error("expected out-of-range Move to fail")
	}
}

func TestQueueShuffleLeavesPlayedAndCurrentAlone(t *testing.T) {
	q := NewQueue(0)
	tracks := fillQueue(t, q, 10)
	q.Advance()
	q.Advance() // t0 played, t1 current

	moved := q.Shuffle()
	if moved != 8 {
		t.Errorf("Shuffle moved %d tracks, want 8", moved)
	}
	if cur, _ := q.Current(); cur.ID != tracks[1].ID {
		t.Errorf("current changed by shuffle: %s", cur.ID)
	}
	page, _, _ := q.Page(0, 100)
	if page[0].ID != tracks[0].ID || page[1].ID != tracks[1].ID {
		t.Error("played or current track moved by shuffle")
	}
	seen := make(map[string]bool, len(page))
	for _, tr := range page {
		seen[tr.ID] = true
	}
	for _, tr := range tracks {
		if !seen[tr.ID] {
			t.Errorf("track %s lost by shuffle", tr.ID)
		}
	}
}

func TestQueueShuffleTooShortIsNoop(t *testing.T) {
	q := NewQueue(0)
	fillQueue(t, q, 2)
	q.Advance()
	if moved := q.Shuffle(); moved != 0 {
		t.Errorf("Shuffle moved %d tracks, want 0", moved)
	}
}

func TestQueuePageClampsAndSlices(t *testing.T) {
	q := NewQueue(0)
	tracks := fillQueue(t, q, 13)

	items, page, total := q.Page(0, 10)
	if len(items) != 10 || page != 0 || total != 2 {
		t.Fatalf("Page(0) = %d items, page %d, total %d", len(items), page, total)
	}
	if items[0].ID != tracks[0].ID {
		t.Errorf("first item = %s, want %s", items[0].ID, tracks[0].ID)
	}

	items, page, total = q.Page(1, 10)
	if len(items) != 3 || page != 1 || total != 2 {
		t.Fatalf("Page(1) = %d items, page %d, total %d", len(items), page, total)
	}

	items, page, _ = q.Page(7, 10)
	if page != 1 || len(items) != 3 {
		t.Errorf("Page(7) should clamp to last page, got page %d with %d items", page, len(items))
	}
	_, page, _ = q.Page(-2, 10)
	if page != 0 {
		t.Errorf("Page(-2) should clamp to 0, got %d", page)
	}
}

func TestQueuePageEmpty(t *testing.T) {
	q := NewQueue(0)
	items, page, total := q.Page(0, 10)
	if len(items) != 0 || page != 0 || total != 1 {
		t.Errorf("empty Page = %d items, page %d, total %d", len(items), page, total)
	}
}

func TestQueueClearResets(t *testing.T) {
	q := NewQueue(0)
	fillQueue(t, q, 3)
	q.Advance()
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len after clear = %d", q.Len())
	}
	if _, ok := q.Current(); ok {
		t.Error("expected no current track after clear")
	}
	if _, ok := q.Advance(); ok {
		t.Error("expected Advance after clear to return false")
	}
}

func TestParseLoopMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want LoopMode
	}{
		{"off", LoopOff},
		{"track", LoopTrack},
		{"queue", LoopQueue},
	} {
		got, err := ParseLoopMode(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseLoopMode(%q) = %v, %v", tc.in, got, err)
		}
		if got.String() != tc.in {
			t.Errorf("String() = %q, want %q", got.String(), tc.in)
		}
	}
	if _, err := ParseLoopMode("sideways"); err == nil {
		t.Error("expected unknown mode to fail")
	}
}

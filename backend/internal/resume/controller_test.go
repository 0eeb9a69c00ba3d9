package resume

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vcmplayer/backend/internal/music"
	"vcmplayer/backend/internal/state"
	"vcmplayer/backend/internal/telegram"
)

type fakeSession struct {
	mu    sync.Mutex
	plays []music.Play
}

func (s *fakeSession) Submit(m music.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := m.(music.Play); ok {
		s.plays = append(s.plays, p)
	}
	return true
}

func (s *fakeSession) playList() []music.Play {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]music.Play(nil), s.plays...)
}

type fakeProvider struct {
	mu       sync.Mutex
	order    []int64
	sessions map[int64]*fakeSession
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sessions: make(map[int64]*fakeSession)}
}

func (p *fakeProvider) engine(chatID int64) Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[chatID]
	if !ok {
		s = &fakeSession{}
		p.sessions[chatID] = s
	}
	p.order = append(p.order, chatID)
	return s
}

func (p *fakeProvider) orderList() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.order...)
}

func (p *fakeProvider) session(chatID int64) *fakeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[chatID]
}

type note struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string, _ *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{chatID: chatID, text: text})
	return &telegram.Message{MessageID: int64(len(n.notes))}, nil
}

func (n *fakeNotifier) noteList() []note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]note(nil), n.notes...)
}

type fixture struct {
	ctl    *Controller
	prov   *fakeProvider
	notes  *fakeNotifier
	store  state.Store
	delays []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fx := &fixture{prov: newFakeProvider(), notes: &fakeNotifier{}, store: store}
	fx.ctl = New(store, fx.prov.engine, fx.notes, Options{
		Stagger: 2 * time.Second,
		Sleep:   func(_ context.Context, d time.Duration) { fx.delays = append(fx.delays, d) },
	})
	return fx
}

func seedStream(t *testing.T, store state.Store, chatID int64, title string, position int) {
	t.Helper()
	cp := &state.Checkpoint{
		ChatID: chatID,
		Track: state.TrackRecord{
			ID:        "trk-" + title,
			Title:     title,
			Duration:  240,
			SourceURL: "https://music.example/watch?v=" + title,
			StreamURL: "https://cdn.example/" + title,
		},
		PositionSeconds: position,
		SavedAtUnix:     time.Now().Unix(),
	}
	if err := state.SaveCheckpoint(context.Background(), store, cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
}

func seedUpload(t *testing.T, store state.Store, chatID int64, title, fileRef string, position int) {
	t.Helper()
	cp := &state.Checkpoint{
		ChatID: chatID,
		Track: state.TrackRecord{
			ID:       "upl-" + title,
			Title:    title,
			Duration: 180,
			FileRef:  fileRef,
		},
		PositionSeconds: position,
		SavedAtUnix:     time.Now().Unix(),
	}
	if err := state.SaveCheckpoint(context.Background(), store, cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
}

func TestRunResumesSavedSessions(t *testing.T) {
	fx := newFixture(t)
	seedStream(t, fx.store, -100, "First Song", 30)
	seedStream(t, fx.store, -200, "Second Song", 90)

	if err := fx.ctl.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	order := fx.prov.orderList()
	if len(order) != 2 || order[0] != -100 || order[1] != -200 {
		t.Fatalf("resume order = %v, want [-100 -200]", order)
	}

	plays := fx.prov.session(-100).playList()
	if len(plays) != 1 {
		t.Fatalf("plays for -100 = %d, want 1", len(plays))
	}
	p := plays[0]
	if p.Track == nil || p.Track.Title != "First Song" {
		t.Fatalf("resumed track = %+v", p.Track)
	}
	if p.Seek != 30 {
		t.Errorf("seek = %d, want 30", p.Seek)
	}
	if !p.RefreshStream {
		t.Error("stream track should refresh its stream URL")
	}
	if !p.FromResume {
		t.Error("play not marked as resume")
	}

	if len(fx.delays) != 1 || fx.delays[0] != 2*time.Second {
		t.Errorf("stagger delays = %v, want one 2s pause", fx.delays)
	}

	notes := fx.notes.noteList()
	if len(notes) != 2 {
		t.Fatalf("announcements = %d, want 2", len(notes))
	}
	if notes[0].chatID != -100 || !strings.Contains(notes[0].text, "Resuming") || !strings.Contains(notes[0].text, "0:30") {
		t.Errorf("first announcement = %+v", notes[0])
	}
	if !strings.Contains(notes[1].text, "1:30") {
		t.Errorf("second announcement = %q, want position 1:30", notes[1].text)
	}
}

func TestRunKeepsUploadedFileSession(t *testing.T) {
	fx := newFixture(t)
	path := filepath.Join(t.TempDir(), "upload.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	seedUpload(t, fx.store, -300, "Demo Tape", path, 12)

	if err := fx.ctl.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	plays := fx.prov.session(-300).playList()
	if len(plays) != 1 {
		t.Fatalf("plays = %d, want 1", len(plays))
	}
	p := plays[0]
	if p.Track.FileRef != path {
		t.Errorf("file ref = %q, want %q", p.Track.FileRef, path)
	}
	if p.RefreshStream {
		t.Error("uploaded track must not refresh a stream URL")
	}
	if cp, err := state.LoadCheckpoint(context.Background(), fx.store, -300); err != nil || cp == nil {
		t.Errorf("checkpoint should survive a successful dispatch, got cp=%v err=%v", cp, err)
	}
}

func TestRunDropsSessionWhenFileGone(t *testing.T) {
	fx := newFixture(t)
	seedUpload(t, fx.store, -400, "Lost Tape", filepath.Join(t.TempDir(), "gone.mp3"), 44)

	if err := fx.ctl.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if order := fx.prov.orderList(); len(order) != 0 {
		t.Fatalf("no engine should be provisioned, got %v", order)
	}
	if cp, err := state.LoadCheckpoint(context.Background(), fx.store, -400); err != nil || cp != nil {
		t.Errorf("checkpoint not deleted, cp=%v err=%v", cp, err)
	}
	notes := fx.notes.noteList()
	if len(notes) != 1 || !strings.Contains(notes[0].text, "Lost Tape") {
		t.Fatalf("announcements = %+v, want one mentioning the track", notes)
	}
}

func TestRunPurgesCorruptRecords(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if err := fx.store.Set(ctx, "state_-1", []byte("{broken")); err != nil {
		t.Fatalf("seed corrupt: %v", err)
	}
	if err := fx.store.Set(ctx, "state_-2", []byte(`{"chat_id":-2}`)); err != nil {
		t.Fatalf("seed incomplete: %v", err)
	}

	if err := fx.ctl.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := fx.store.Scan(ctx, state.KeyPrefix)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("unreadable checkpoints not purged: %v", entries)
	}
	if order := fx.prov.orderList(); len(order) != 0 {
		t.Errorf("no engine should be provisioned, got %v", order)
	}
	if notes := fx.notes.noteList(); len(notes) != 0 {
		t.Errorf("unexpected announcements: %+v", notes)
	}
}

func TestRunWithEmptyStore(t *testing.T) {
	fx := newFixture(t)
	if err := fx.ctl.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if order := fx.prov.orderList(); len(order) != 0 {
		t.Errorf("sessions provisioned on empty store: %v", order)
	}
	if len(fx.delays) != 0 {
		t.Errorf("unexpected stagger delays: %v", fx.delays)
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	seedStream(t, store, -1, "One", 10)
	seedStream(t, store, -2, "Two", 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prov := newFakeProvider()
	ctl := New(store, prov.engine, &fakeNotifier{}, Options{
		Stagger: time.Second,
		Sleep:   func(context.Context, time.Duration) { cancel() },
	})

	if err := ctl.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v, want context.Canceled", err)
	}
	if order := prov.orderList(); len(order) != 1 || order[0] != -1 {
		t.Fatalf("resumed chats = %v, want only the first", order)
	}
}

func TestFmtClock(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{-5, "0:00"},
		{59, "0:59"},
		{90, "1:30"},
		{3600, "1:00:00"},
		{5405, "1:30:05"},
	}
	for _, tc := range cases {
		if got := fmtClock(tc.seconds); got != tc.want {
			t.Errorf("fmtClock(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

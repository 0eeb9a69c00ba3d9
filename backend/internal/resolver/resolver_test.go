package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "vcmplayer/backend/pkg/errors"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return New("yt-dlp-test", 30*time.Second)
}

func infoJSON(t *testing.T, id, title string, duration float64) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          id,
		"title":       title,
		"duration":    duration,
		"url":         "https://cdn.example/" + id,
		"webpage_url": "https://www.youtube.com/watch?v=" + id,
		"uploader":    "channel-" + id,
		"thumbnail":   "https://i.example/" + id + ".jpg",
	})
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	return b
}

type runRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (rec *runRecorder) add(args []string) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, append([]string(nil), args...))
	return len(rec.calls)
}

func (rec *runRecorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.calls)
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestResolveFreeTextSearches(t *testing.T) {
	r := newTestResolver(t)
	rec := &runRecorder{}
	r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		rec.add(args)
		if !hasArg(args, "--default-search") || !hasArg(args, "ytsearch1") {
			t.Errorf("search args missing: %v", args)
		}
		if !hasArg(args, "--format") || !hasArg(args, "bestaudio/best") {
			t.Errorf("format args missing: %v", args)
		}
		return infoJSON(t, "abc123", "Test Song", 212.4), nil, nil
	}

	track, err := r.Resolve(context.Background(), "test song artist")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if track.ID != "abc123" || track.Title != "Test Song" || track.Duration != 212 {
		t.Errorf("track = %+v", track)
	}
	if track.StreamURL != "https://cdn.example/abc123" {
		t.Errorf("StreamURL = %s", track.StreamURL)
	}
	if track.SourceURL != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("SourceURL = %s", track.SourceURL)
	}
	if rec.count() != 1 {
		t.Errorf("run calls = %d, want 1", rec.count())
	}
}

func TestResolveURLFetchesDirectly(t *testing.T) {
	r := newTestResolver(t)
	url := "https://www.youtube.com/watch?v=abc123"
	r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		if hasArg(args, "--default-search") {
			t.Errorf("URL query must not search: %v", args)
		}
		if !hasArg(args, url) {
			t.Errorf("URL missing from args: %v", args)
		}
		if !hasArg(args, "--no-playlist") {
			t.Errorf("--no-playlist missing: %v", args)
		}
		return infoJSON(t, "abc123", "Test Song", 212), nil, nil
	}

	track, err := r.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if track.Title != "Test Song" {
		t.Errorf("Title = %s", track.Title)
	}
}

func TestResolveEmptyQueryAndOutput(t *testing.T) {
	r := newTestResolver(t)
	if _, err := r.Resolve(context.Background(), "   "); !apperrors.IsErrorType(err, apperrors.ErrorTypeResolve) {
		t.Errorf("blank query: %v", err)
	}

	r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		return []byte("\n"), nil, nil
	}
	_, err := r.Resolve(context.Background(), "nothing matches this")
	var nf *apperrors.ErrResolveNotFound
	if !errors.As(err, &nf) {
		t.Errorf("empty output should be not-found, got %v", err)
	}
}

func TestResolveErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		check  func(error) bool
	}{
		{"no match", "ERROR: ytsearch1: did not match any results", func(err error) bool {
			var e *apperrors.ErrResolveNotFound
			return errors.As(err, &e)
		}},
		{"removed", "ERROR: This video has been removed by the uploader", func(err error) bool {
			var e *apperrors.ErrResolveNotFound
			return errors.As(err, &e)
		}},
		{"private", "ERROR: Private video. Sign in if you've been granted access", func(err error) bool {
			var e *apperrors.ErrResolveForbidden
			return errors.As(err, &e)
		}},
		{"age", "ERROR: This video is age-restricted", func(err error) bool {
			var e *apperrors.ErrResolveForbidden
			return errors.As(err, &e)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestResolver(t)
			rec := &runRecorder{}
			r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
				rec.add(args)
				return nil, []byte(tc.stderr), errors.New("exit status 1")
			}
			_, err := r.Resolve(context.Background(), "whatever")
			if !tc.check(err) {
				t.Errorf("wrong classification: %v", err)
			}
			// terminal failures must not burn retries
			if rec.count() != 1 {
				t.Errorf("run calls = %d, want 1", rec.count())
			}
		})
	}
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	r := newTestResolver(t)
	rec := &runRecorder{}
	r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		if n := rec.add(args); n < 3 {
			return nil, []byte("ERROR: unable to download webpage: timed out"), errors.New("exit status 1")
		}
		return infoJSON(t, "abc123", "Test Song", 212), nil, nil
	}

	track, err := r.Resolve(context.Background(), "flaky network song")
	if err != nil {
		t.Fatalf("Resolve should succeed on the third attempt: %v", err)
	}
	if track.ID != "abc123" {
		t.Errorf("track = %+v", track)
	}
	if rec.count() != 3 {
		t.Errorf("run calls = %d, want 3", rec.count())
	}
}

func TestResolveGivesUpAfterMaxAttempts(t *testing.T) {
	r := newTestResolver(t)
	rec := &runRecorder{}
	r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		rec.add(args)
		return nil, []byte("connection reset by peer"), errors.New("exit status 1")
	}

	_, err := r.Resolve(context.Background(), "always broken")
	var unavailable *apperrors.ErrResolveUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if rec.count() != maxAttempts {
		t.Errorf("run calls = %d, want %d", rec.count(), maxAttempts)
	}
}

func TestResolveLiveStreamHasNoDuration(t *testing.T) {
	r := newTestResolver(t)
	r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		b, _ := json.Marshal(map[string]any{
			"id":       "live1",
			"title":    "24/7 radio",
			"duration": 3600.0,
			"url":      "https://cdn.example/live1",
			"is_live":  true,
		})
		return b, nil, nil
	}
	track, err := r.Resolve(context.Background(), "lofi radio")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if track.Duration != 0 {
		t.Errorf("live track duration = %d, want 0", track.Duration)
	}
}

func TestResolveDirectAudioURL(t *testing.T) {
	var sawHead atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodHead {
			sawHead.Store(true)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newTestResolver(t)
	r.run = func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		t.Error("direct audio URL must not reach the extractor")
		return nil, nil, errors.New("unexpected")
	}

	fileURL := srv.URL + "/sets/My_Great_Mix.mp3"
	track, err := r.Resolve(context.Background(), fileURL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !sawHead.Load() {
		t.Error("expected a HEAD probe")
	}
	if track.StreamURL != fileURL || track.SourceURL != fileURL {
		t.Errorf("track URLs = %s / %s", track.StreamURL, track.SourceURL)
	}
	if track.Title != "My Great Mix" {
		t.Errorf("Title = %q", track.Title)
	}
	if !track.Live() {
		t.Error("unknown duration should read as live (no watchdog)")
	}
}

func TestResolveDirectAudioErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusForbidden)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	r := newTestResolver(t)
	fileURL := srv.URL + "/x.mp3"

	_, err := r.Resolve(context.Background(), fileURL)
	var forbidden *apperrors.ErrResolveForbidden
	if !errors.As(err, &forbidden) {
		t.Errorf("403 should map to forbidden, got %v", err)
	}

	status.Store(http.StatusNotFound)
	_, err = r.Resolve(context.Background(), fileURL)
	var notFound *apperrors.ErrResolveNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("404 should map to not-found, got %v", err)
	}
}

func TestResolveDirectAudioHeadFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/ogg")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newTestResolver(t)
	track, err := r.Resolve(context.Background(), srv.URL+"/stream.ogg")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if track.Title != "stream" {
		t.Errorf("Title = %q", track.Title)
	}
}

func TestResolveDirectAudioRejectsHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newTestResolver(t)
	_, err := r.Resolve(context.Background(), srv.URL+"/error-page.mp3")
	var notFound *apperrors.ErrResolveNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("html response should map to not-found, got %v", err)
	}
}

func TestURLDetection(t *testing.T) {
	for _, tc := range []struct {
		query  string
		direct bool
	}{
		{"https://cdn.example/a.mp3", true},
		{"https://cdn.example/a.OPUS", true},
		{"https://cdn.example/a.mp3?token=abc", true},
		{"https://www.youtube.com/watch?v=abc", false},
		{"just some words.mp3", false},
		{"ftp://cdn.example/a.mp3", false},
	} {
		if got := isDirectAudioURL(tc.query); got != tc.direct {
			t.Errorf("isDirectAudioURL(%q) = %v, want %v", tc.query, got, tc.direct)
		}
	}
}

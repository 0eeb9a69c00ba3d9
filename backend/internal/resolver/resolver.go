// Package resolver turns play queries (free text, extractor URLs, track page
// links and direct audio file URLs) into playable tracks.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"vcmplayer/backend/internal/music"
	apperrors "vcmplayer/backend/pkg/errors"
	"vcmplayer/backend/pkg/logger"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 4 * time.Second
)

// runFunc executes the extractor binary; tests swap it out.
type runFunc func(ctx context.Context, args ...string) (stdout, stderr []byte, err error)

// Resolver shells out to yt-dlp for anything it cannot answer with a plain
// HTTP probe. One instance serves all chats.
type Resolver struct {
	executable string
	timeout    time.Duration
	run        runFunc
	httpClient *http.Client
	log        *zap.Logger
}

func New(executable string, timeout time.Duration) *Resolver {
	if executable == "" {
		executable = findExecutable()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	r := &Resolver{
		executable: executable,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.Named("resolver"),
	}
	r.run = r.execRun
	return r
}

func findExecutable() string {
	if p, err := exec.LookPath("yt-dlp"); err == nil {
		return p
	}
	if p, err := exec.LookPath("ytdlp"); err == nil {
		return p
	}
	return "yt-dlp"
}

// Resolve maps a query to a single playable track.
func (r *Resolver) Resolve(ctx context.Context, query string) (*music.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewResolveNotFound(query)
	}
	switch {
	case isDirectAudioURL(query):
		return r.resolveDirect(ctx, query)
	case isTrackPageLink(query):
		return r.resolveTrackPage(ctx, query)
	default:
		return r.resolveExtractor(ctx, query)
	}
}

// ytdlpInfo is the subset of --dump-json output the resolver reads.
type ytdlpInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Uploader   string  `json:"uploader"`
	Thumbnail  string  `json:"thumbnail"`
	IsLive     bool    `json:"is_live"`
}

// resolveExtractor runs yt-dlp, retrying transient failures with doubling
// backoff. A URL is fetched as-is; anything else becomes a single-result
// search.
func (r *Resolver) resolveExtractor(ctx context.Context, query string) (*music.Track, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{"--dump-json", "--no-playlist", "--format", "bestaudio/best"}
	if looksLikeURL(query) {
		args = append(args, query)
	} else {
		args = append(args, "--default-search", "ytsearch1", query)
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, apperrors.NewResolveUnavailable(query, ctx.Err())
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		stdout, stderr, err := r.run(ctx, args...)
		if err == nil {
			return parseInfo(stdout, query)
		}
		lastErr = classify(query, stderr, err)
		if !apperrors.IsRetryable(lastErr) {
			return nil, lastErr
		}
		r.log.Warn("extractor attempt failed",
			zap.String("query", query),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, lastErr
}

func (r *Resolver) execRun(ctx context.Context, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, r.executable, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func parseInfo(stdout []byte, query string) (*music.Track, error) {
	line := firstLine(bytes.TrimSpace(stdout))
	if len(line) == 0 {
		return nil, apperrors.NewResolveNotFound(query)
	}
	var info ytdlpInfo
	if err := json.Unmarshal(line, &info); err != nil {
		return nil, apperrors.NewResolveUnavailable(query, err)
	}
	if info.Title == "" || info.URL == "" {
		return nil, apperrors.NewResolveNotFound(query)
	}
	source := info.WebpageURL
	if source == "" && info.ID != "" {
		source = fmt.Sprintf("https://www.youtube.com/watch?v=%s", info.ID)
	}
	id := info.ID
	if id == "" {
		id = source
	}
	duration := int(info.Duration)
	if info.IsLive {
		duration = 0
	}
	return &music.Track{
		ID:           id,
		Title:        info.Title,
		Duration:     duration,
		StreamURL:    info.URL,
		SourceURL:    source,
		Uploader:     info.Uploader,
		ThumbnailURL: info.Thumbnail,
	}, nil
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}

// classify maps an extractor failure onto the resolve error taxonomy. Only
// the Unavailable bucket is worth retrying.
func classify(query string, stderr []byte, err error) error {
	msg := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(msg, "did not match"),
		strings.Contains(msg, "no video results"),
		strings.Contains(msg, "unsupported url"),
		strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "has been removed"):
		return apperrors.NewResolveNotFound(query)
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "sign in"),
		strings.Contains(msg, "age-restricted"),
		strings.Contains(msg, "age restricted"),
		strings.Contains(msg, "not available in your country"):
		return apperrors.NewResolveForbidden(query, err)
	default:
		return apperrors.NewResolveUnavailable(query, err)
	}
}

// Direct audio file URLs skip the extractor: the file itself is the stream.

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".opus": true,
	".flac": true,
	".wav":  true,
	".aac":  true,
}

func isDirectAudioURL(query string) bool {
	u, err := url.Parse(query)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return audioExtensions[strings.ToLower(path.Ext(u.Path))]
}

func looksLikeURL(query string) bool {
	return strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://")
}

func (r *Resolver) resolveDirect(ctx context.Context, rawURL string) (*music.Track, error) {
	resp, err := r.probe(ctx, http.MethodHead, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		if resp, err = r.probe(ctx, http.MethodGet, rawURL); err != nil {
			return nil, err
		}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewResolveForbidden(rawURL, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, apperrors.NewResolveNotFound(rawURL)
	case resp.StatusCode >= 400:
		return nil, apperrors.NewResolveUnavailable(rawURL, fmt.Errorf("status %d", resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !playableContentType(ct) {
		return nil, apperrors.NewResolveNotFound(rawURL)
	}

	u, _ := url.Parse(rawURL)
	return &music.Track{
		ID:        rawURL,
		Title:     titleFromPath(u.Path),
		StreamURL: rawURL,
		SourceURL: rawURL,
	}, nil
}

// probe checks reachability without downloading; the body is discarded.
func (r *Resolver) probe(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, apperrors.NewResolveNotFound(rawURL)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewResolveUnavailable(rawURL, err)
	}
	resp.Body.Close()
	return resp, nil
}

func playableContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	if strings.HasPrefix(ct, "audio/") {
		return true
	}
	switch ct {
	case "application/ogg", "application/octet-stream", "binary/octet-stream":
		return true
	}
	return false
}

func titleFromPath(p string) string {
	base := path.Base(p)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
	if base == "" || base == "." || base == "/" {
		return "audio stream"
	}
	return base
}

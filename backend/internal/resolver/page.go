package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vcmplayer/backend/internal/music"
	apperrors "vcmplayer/backend/pkg/errors"
)

// Track pages (Spotify links and friends) are not streamable themselves; the
// page title becomes a search query against the extractor.

const (
	maxPlaylistTracks     = 50
	maxConcurrentSearches = 4
	playlistFetchTimeout  = 90 * time.Second
	maxPageBytes          = 4 << 20

	pageUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

var pageHosts = map[string]bool{
	"open.spotify.com": true,
	"spotify.com":      true,
	"www.spotify.com":  true,
}

func isTrackPageLink(query string) bool {
	u, err := url.Parse(query)
	if err != nil || !pageHosts[strings.ToLower(u.Host)] {
		return false
	}
	return strings.Contains(u.Path, "/track/")
}

// IsPlaylistLink reports whether the query is a track-list page (playlist or
// album) that expands into multiple plays.
func IsPlaylistLink(query string) bool {
	u, err := url.Parse(strings.TrimSpace(query))
	if err != nil || !pageHosts[strings.ToLower(u.Host)] {
		return false
	}
	return strings.Contains(u.Path, "/playlist/") || strings.Contains(u.Path, "/album/")
}

func (r *Resolver) resolveTrackPage(ctx context.Context, pageURL string) (*music.Track, error) {
	body, err := r.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	title := cleanPageTitle(pageTitle(bytes.NewReader(body)))
	if title == "" {
		return nil, apperrors.NewResolveNotFound(pageURL)
	}
	return r.resolveExtractor(ctx, title)
}

// ResolvePlaylist expands a playlist or album page into tracks. Entries are
// searched concurrently; ones that cannot be matched are dropped rather than
// failing the whole list. The second result is the page's display title.
func (r *Resolver) ResolvePlaylist(ctx context.Context, pageURL string) ([]music.Track, string, error) {
	ctx, cancel := context.WithTimeout(ctx, playlistFetchTimeout)
	defer cancel()

	body, err := r.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	title := cleanPageTitle(pageTitle(bytes.NewReader(body)))
	names := trackNames(body)
	if len(names) == 0 {
		return nil, "", apperrors.NewResolveNotFound(pageURL)
	}
	if len(names) > maxPlaylistTracks {
		names = names[:maxPlaylistTracks]
	}

	results := make([]*music.Track, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSearches)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			track, err := r.resolveExtractor(gctx, name)
			if err != nil {
				r.log.Debug("playlist entry skipped",
					zap.String("query", name), zap.Error(err))
				return nil
			}
			results[i] = track
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", apperrors.NewResolveUnavailable(pageURL, err)
	}

	tracks := make([]music.Track, 0, len(results))
	for _, t := range results {
		if t != nil {
			tracks = append(tracks, *t)
		}
	}
	if len(tracks) == 0 {
		return nil, "", apperrors.NewResolveNotFound(pageURL)
	}
	return tracks, title, nil
}

func (r *Resolver) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperrors.NewResolveNotFound(pageURL)
	}
	req.Header.Set("User-Agent", pageUserAgent)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewResolveUnavailable(pageURL, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewResolveForbidden(pageURL, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, apperrors.NewResolveNotFound(pageURL)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewResolveUnavailable(pageURL, fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, apperrors.NewResolveUnavailable(pageURL, err)
	}
	return body, nil
}

// pageTitle prefers the og:title meta tag over the document title.
func pageTitle(body io.Reader) string {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return ""
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func cleanPageTitle(title string) string {
	title = strings.ReplaceAll(title, " | Spotify", "")
	title = strings.ReplaceAll(title, " - song and lyrics by ", " - ")
	title = strings.ReplaceAll(title, " | ", " ")
	return strings.TrimSpace(title)
}

// trackNames digs "Artist - Title" pairs out of the JSON blobs embedded in a
// playlist page.
var playlistTrackPattern = regexp.MustCompile(`"name":"([^"]+)"[^}]*"artists":\[[^\]]*"name":"([^"]+)"`)

func trackNames(body []byte) []string {
	matches := playlistTrackPattern.FindAllSubmatch(body, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) < 3 {
			continue
		}
		name := fmt.Sprintf("%s - %s", m[2], m[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

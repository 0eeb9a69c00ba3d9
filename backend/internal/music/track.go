// Package music implements the per-chat playback engine: a queue, a playback
// state machine and a registry of one actor per chat.
package music

import (
	"fmt"

	"vcmplayer/backend/internal/state"
)

// Track is one playable audio item. It is immutable once constructed; the
// engine copies it around by value.
type Track struct {
	ID               string
	Title            string
	Duration         int // seconds; 0 = live or unknown
	StreamURL        string
	SourceURL        string
	Uploader         string
	ThumbnailURL     string
	RequesterID      int64
	RequesterDisplay string
	FileRef          string // local path for uploaded audio
}

// Source returns what the voice transport should stream: the local file for
// uploads, otherwise the resolved stream URL.
func (t Track) Source() string {
	if t.FileRef != "" {
		return t.FileRef
	}
	return t.StreamURL
}

// Live reports whether the track has no known end.
func (t Track) Live() bool {
	return t.Duration <= 0
}

// Record converts the track to its persisted form.
func (t Track) Record() state.TrackRecord {
	return state.TrackRecord{
		ID:               t.ID,
		Title:            t.Title,
		Duration:         t.Duration,
		SourceURL:        t.SourceURL,
		StreamURL:        t.StreamURL,
		FileRef:          t.FileRef,
		RequesterID:      t.RequesterID,
		RequesterDisplay: t.RequesterDisplay,
	}
}

// TrackFromRecord rebuilds a track from a checkpoint record. The stream URL
// it carries may have expired; callers refresh it before joining.
func TrackFromRecord(r state.TrackRecord) Track {
	return Track{
		ID:               r.ID,
		Title:            r.Title,
		Duration:         r.Duration,
		SourceURL:        r.SourceURL,
		StreamURL:        r.StreamURL,
		FileRef:          r.FileRef,
		RequesterID:      r.RequesterID,
		RequesterDisplay: r.RequesterDisplay,
	}
}

// FormatDuration formats a duration in seconds as M:SS or H:MM:SS.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "LIVE"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

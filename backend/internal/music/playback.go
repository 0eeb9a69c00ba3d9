package music

import (
	"time"

	"vcmplayer/backend/internal/state"
)

// DefaultVolume is the transport volume a fresh session starts with.
const DefaultVolume = 100

// PlaybackState tracks where the current track is in wall-clock terms.
// Elapsed time is derived, never counted: it is the distance from StartedAt
// (shifted forward across pauses) plus the initial seek offset.
type PlaybackState struct {
	Track     Track
	StartedAt time.Time
	PausedAt  time.Time // zero unless paused
	Offset    time.Duration
	Volume    int
}

// NewPlaybackState starts timekeeping for a track at the given seek offset.
func NewPlaybackState(t Track, seekSeconds int, now time.Time) *PlaybackState {
	return &PlaybackState{
		Track:     t,
		StartedAt: now,
		Offset:    time.Duration(seekSeconds) * time.Second,
		Volume:    DefaultVolume,
	}
}

// IsPaused reports whether the clock is stopped.
func (p *PlaybackState) IsPaused() bool {
	return !p.PausedAt.IsZero()
}

// Elapsed returns the effective playback position. While paused it is frozen
// at the pause instant.
func (p *PlaybackState) Elapsed(now time.Time) time.Duration {
	ref := now
	if p.IsPaused() {
		ref = p.PausedAt
	}
	return ref.Sub(p.StartedAt) + p.Offset
}

// Pause freezes the clock. Pausing while paused is a no-op.
func (p *PlaybackState) Pause(now time.Time) {
	if !p.IsPaused() {
		p.PausedAt = now
	}
}

// Resume restarts the clock, shifting StartedAt forward by the pause length
// so Elapsed picks up exactly where it stopped.
func (p *PlaybackState) Resume(now time.Time) {
	if !p.IsPaused() {
		return
	}
	p.StartedAt = p.StartedAt.Add(now.Sub(p.PausedAt))
	p.PausedAt = time.Time{}
}

// Remaining returns how much of the track is left, or 0 for live tracks.
func (p *PlaybackState) Remaining(now time.Time) time.Duration {
	if p.Track.Live() {
		return 0
	}
	remaining := time.Duration(p.Track.Duration)*time.Second - p.Elapsed(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Checkpoint snapshots the state into its persisted form.
func (p *PlaybackState) Checkpoint(chatID int64, now time.Time) *state.Checkpoint {
	position := int(p.Elapsed(now) / time.Second)
	if position < 0 {
		position = 0
	}
	return &state.Checkpoint{
		ChatID:          chatID,
		Track:           p.Track.Record(),
		PositionSeconds: position,
		IsPaused:        p.IsPaused(),
		SavedAtUnix:     now.Unix(),
	}
}

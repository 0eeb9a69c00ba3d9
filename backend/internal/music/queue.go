package music

import (
	"fmt"
	"math/rand"

	apperrors "vcmplayer/backend/pkg/errors"
)

// LoopMode controls what Advance does at track and queue boundaries.
type LoopMode int

const (
	// LoopOff plays the queue once, front to back.
	LoopOff LoopMode = iota
	// LoopTrack repeats the current track.
	LoopTrack
	// LoopQueue wraps to the first track after the last.
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// ParseLoopMode parses the user-facing loop mode names.
func ParseLoopMode(s string) (LoopMode, error) {
	switch s {
	case "off":
		return LoopOff, nil
	case "track":
		return LoopTrack, nil
	case "queue":
		return LoopQueue, nil
	}
	return LoopOff, fmt.Errorf("unknown loop mode: %s", s)
}

// Queue is a chat's ordered track list with a cursor. It is not safe for
// concurrent use: exactly one engine owns it and touches it from its run loop.
type Queue struct {
	tracks  []Track
	current int // -1 = nothing playing yet
	loop    LoopMode
	maxSize int
}

// NewQueue creates an empty queue capped at maxSize tracks.
func NewQueue(maxSize int) *Queue {
	return &Queue{current: -1, maxSize: maxSize}
}

// Add appends a track and returns its zero-based position.
func (q *Queue) Add(t Track) (int, error) {
	if q.maxSize > 0 && len(q.tracks) >= q.maxSize {
		return 0, apperrors.NewQueueFull(q.maxSize)
	}
	q.tracks = append(q.tracks, t)
	return len(q.tracks) - 1, nil
}

// Current returns the track under the cursor.
func (q *Queue) Current() (Track, bool) {
	if q.current < 0 || q.current >= len(q.tracks) {
		return Track{}, false
	}
	return q.tracks[q.current], true
}

// CurrentIndex returns the cursor, -1 when nothing has played yet.
func (q *Queue) CurrentIndex() int { return q.current }

// Advance moves the cursor to the next track honoring the loop mode and
// returns it. An empty or exhausted queue returns false without mutating.
func (q *Queue) Advance() (Track, bool) {
	return q.advance(false)
}

// Skip moves to the next track like Advance but never repeats the current
// one, so skipping works even in track-loop mode.
func (q *Queue) Skip() (Track, bool) {
	return q.advance(true)
}

func (q *Queue) advance(force bool) (Track, bool) {
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	if q.loop == LoopTrack && q.current >= 0 && !force {
		return q.tracks[q.current], true
	}
	next := q.current + 1
	if next >= len(q.tracks) {
		if q.loop != LoopQueue {
			return Track{}, false
		}
		next = 0
	}
	q.current = next
	return q.tracks[q.current], true
}

// Remove deletes and returns the track at index. Removing at or before the
// cursor shifts the cursor back so it keeps pointing at the same track.
func (q *Queue) Remove(index int) (Track, error) {
	if index < 0 || index >= len(q.tracks) {
		return Track{}, fmt.Errorf("index %d out of range [0,%d)", index, len(q.tracks))
	}
	t := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	if index <= q.current {
		q.current--
	}
	return t, nil
}

// Move relocates the track at from to position to and returns it, dragging
// the cursor along if it pointed at a shifted track.
func (q *Queue) Move(from, to int) (Track, error) {
	if from < 0 || from >= len(q.tracks) {
		return Track{}, fmt.Errorf("from %d out of range [0,%d)", from, len(q.tracks))
	}
	if to < 0 || to >= len(q.tracks) {
		return Track{}, fmt.Errorf("to %d out of range [0,%d)", to, len(q.tracks))
	}
	t := q.tracks[from]
	if from == to {
		return t, nil
	}
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	q.tracks = append(q.tracks[:to], append([]Track{t}, q.tracks[to:]...)...)

	switch {
	case q.current == from:
		q.current = to
	case from < q.current && to >= q.current:
		q.current--
	case from > q.current && to <= q.current:
		q.current++
	}
	return t, nil
}

// Shuffle randomizes the order of the tracks strictly after the cursor and
// returns how many moved. Played history and the current track stay put.
func (q *Queue) Shuffle() int {
	start := q.current + 1
	n := len(q.tracks) - start
	if n < 2 {
		return 0
	}
	rand.Shuffle(n, func(i, j int) {
		q.tracks[start+i], q.tracks[start+j] = q.tracks[start+j], q.tracks[start+i]
	})
	return n
}

// Clear drops every track and resets the cursor.
func (q *Queue) Clear() {
	q.tracks = q.tracks[:0]
	q.current = -1
}

// Page returns the tracks on the given zero-based page, the page actually
// served (out-of-range requests clamp to the nearest valid page) and the
// total page count.
func (q *Queue) Page(page, size int) ([]Track, int, int) {
	if size <= 0 {
		size = 10
	}
	total := (len(q.tracks) + size - 1) / size
	if total == 0 {
		total = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= total {
		page = total - 1
	}
	start := page * size
	if start >= len(q.tracks) {
		return nil, page, total
	}
	end := start + size
	if end > len(q.tracks) {
		end = len(q.tracks)
	}
	out := make([]Track, end-start)
	copy(out, q.tracks[start:end])
	return out, page, total
}

// Len returns the number of tracks, played ones included.
func (q *Queue) Len() int { return len(q.tracks) }

// Loop returns the loop mode.
func (q *Queue) Loop() LoopMode { return q.loop }

// SetLoop sets the loop mode.
func (q *Queue) SetLoop(m LoopMode) { q.loop = m }

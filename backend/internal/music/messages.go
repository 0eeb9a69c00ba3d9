package music

// Message is a mailbox entry. Everything that can influence a chat's playback
// (user commands, transport signals, timer firings) funnels through this one
// sum type so the engine processes them in a single total order.
type Message interface{ isMessage() }

// Play asks the engine to resolve and play (or enqueue) a track. Either Query
// or Track is set: uploads and restart recovery arrive pre-resolved. Ref is
// opaque to the engine and echoed back on the Queued, NowPlaying or Failed
// event this request produces.
type Play struct {
	Query            string
	Track            *Track
	Seek             int
	RefreshStream    bool // re-resolve SourceURL to refresh an expired stream URL
	FromResume       bool // on failure, drop the checkpoint this request came from
	RequesterID      int64
	RequesterDisplay string
	Ref              any
}

// Pause freezes playback.
type Pause struct{}

// Resume continues paused playback.
type Resume struct{}

// Skip jumps to the next queued track, leaving the call when none is left.
type Skip struct{}

// Stop ends the session: leave the call, clear the queue, drop the checkpoint.
type Stop struct{}

// SetLoop switches the queue loop mode.
type SetLoop struct{ Mode LoopMode }

// Shuffle randomizes the not-yet-played remainder of the queue.
type Shuffle struct{}

// Remove deletes the queue entry at a zero-based index. The entry under the
// cursor is refused; only Skip displaces the playing track.
type Remove struct{ Index int }

// Move relocates the queue entry at From to position To, both zero-based.
type Move struct{ From, To int }

// SetVolume adjusts the call volume (1-200).
type SetVolume struct{ Level int }

// StreamEnded reports that the current source hit EOF. TrackID is set by the
// engine's own watchdog so a stale timer can never advance a newer track;
// transport-originated signals leave it empty.
type StreamEnded struct{ TrackID string }

// Checkpoint forces an immediate checkpoint write.
type Checkpoint struct{}

// QueueSnapshot requests a QueuePage event for the given page. Ref is opaque
// to the engine and echoed back on the event, so the requester can tell its
// own pages apart (send a new message vs. edit an existing one).
type QueueSnapshot struct {
	Page int
	Size int
	Ref  any
}

// shutdown tears the actor down while keeping its checkpoint so the session
// can be resumed after a restart.
type shutdown struct{}

// opJoining and opDone are posted back by the async play operation goroutine.
type opJoining struct{ seq uint64 }

type opDone struct {
	seq        uint64
	track      *Track
	seek       int
	enqueue    bool
	fromResume bool
	ref        any
	err        error
}

func (Play) isMessage()          {}
func (Pause) isMessage()         {}
func (Resume) isMessage()        {}
func (Skip) isMessage()          {}
func (Stop) isMessage()          {}
func (SetLoop) isMessage()       {}
func (Shuffle) isMessage()       {}
func (Remove) isMessage()        {}
func (Move) isMessage()          {}
func (SetVolume) isMessage()     {}
func (StreamEnded) isMessage()   {}
func (Checkpoint) isMessage()    {}
func (QueueSnapshot) isMessage() {}
func (shutdown) isMessage()      {}
func (opJoining) isMessage()     {}
func (opDone) isMessage()        {}

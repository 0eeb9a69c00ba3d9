package music

// Event is what the engine emits back to whoever talks to the user. Events
// leave the engine in the exact order the originating messages were
// processed; the channel closes when the actor tears down.
type Event interface{ isEvent() }

// NowPlaying announces a track that just started (or resumed at an offset).
// Ref carries the opaque value from the Play that started it, nil when the
// track started by queue advancement.
type NowPlaying struct {
	Track   Track
	Elapsed int // seconds already played, nonzero on restart recovery
	Ref     any
}

// Queued announces a track appended behind the current one.
type Queued struct {
	Track    Track
	Position int // 1-based position in the queue
	Ref      any
}

// Progress carries the advancing position for now-playing message edits.
type Progress struct {
	Track   Track
	Elapsed int
}

// Paused reports a successful pause at the given position.
type Paused struct {
	Track   Track
	Elapsed int
}

// Resumed reports a successful resume at the given position.
type Resumed struct {
	Track   Track
	Elapsed int
}

// Skipped reports the track that was skipped; a NowPlaying or QueueDrained
// event follows.
type Skipped struct{ Track Track }

// LoopChanged reports the new loop mode.
type LoopChanged struct{ Mode LoopMode }

// Shuffled reports how many upcoming tracks were shuffled.
type Shuffled struct{ Count int }

// Removed reports a track deleted from the queue on request.
type Removed struct {
	Track Track
	Index int // zero-based position it held
}

// Moved reports a queued track relocated to a new position.
type Moved struct {
	Track Track
	From  int
	To    int
}

// VolumeChanged reports the new call volume.
type VolumeChanged struct{ Level int }

// QueuePage carries one page of the queue for rendering. Ref is the opaque
// value from the originating QueueSnapshot.
type QueuePage struct {
	Items        []Track
	Page         int
	TotalPages   int
	Total        int
	CurrentIndex int
	Loop         LoopMode
	Ref          any
}

// Stopped reports an explicit stop: call left, queue cleared, checkpoint gone.
type Stopped struct{}

// QueueDrained reports a natural end: the last track finished (or was
// skipped) and the engine left the call.
type QueueDrained struct{}

// Failed reports an operation that failed without changing playback state.
type Failed struct {
	Err   error
	Query string // the play query, when the failure came from one
	Ref   any
}

func (NowPlaying) isEvent()    {}
func (Queued) isEvent()        {}
func (Progress) isEvent()      {}
func (Paused) isEvent()        {}
func (Resumed) isEvent()       {}
func (Skipped) isEvent()       {}
func (LoopChanged) isEvent()   {}
func (Shuffled) isEvent()      {}
func (Removed) isEvent()       {}
func (Moved) isEvent()         {}
func (VolumeChanged) isEvent() {}
func (QueuePage) isEvent()     {}
func (Stopped) isEvent()       {}
func (QueueDrained) isEvent()  {}
func (Failed) isEvent()        {}

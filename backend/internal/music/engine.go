package music

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vcmplayer/backend/internal/state"
	apperrors "vcmplayer/backend/pkg/errors"
	"vcmplayer/backend/pkg/logger"
)

const (
	// watchdogSlack is added past the track's nominal end so the transport's
	// own end-of-stream signal wins the race when it is working.
	watchdogSlack = 2 * time.Second

	// transportTimeout bounds the synchronous transport calls made from the
	// run loop (pause, resume, volume, stream changes, leave).
	transportTimeout = 10 * time.Second
)

// Options tunes an engine. Zero values fall back to the defaults below,
// except ProgressInterval where zero disables progress events entirely.
type Options struct {
	CheckpointInterval time.Duration
	ProgressInterval   time.Duration
	StorageTimeout     time.Duration
	MaxQueueSize       int
	MailboxSize        int
	EventBufferSize    int
	Now                func() time.Time // injectable clock for tests
}

func (o Options) withDefaults() Options {
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 15 * time.Second
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = 5 * time.Second
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = 50
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 32
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 32
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps are the capabilities an engine drives. All of them must be safe for
// concurrent use across chats.
type Deps struct {
	Resolver  Resolver
	Transport Transport
	Presence  Presence
	Store     state.Store
}

type engineState int

const (
	stateIdle engineState = iota
	stateResolving
	stateJoining
	statePlaying
	statePaused
	stateStopping
)

func (s engineState) String() string {
	switch s {
	case stateResolving:
		return "resolving"
	case stateJoining:
		return "joining"
	case statePlaying:
		return "playing"
	case statePaused:
		return "paused"
	case stateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

type exitReason int

const (
	exitStop exitReason = iota
	exitDrained
	exitFailed
	exitShutdown
)

// Status is a lock-free snapshot of an engine, JSON-ready for the status
// endpoint.
type Status struct {
	ChatID   int64  `json:"chat_id"`
	State    string `json:"state"`
	TrackID  string `json:"track_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Elapsed  int    `json:"elapsed_seconds,omitempty"`
	Duration int    `json:"duration_seconds,omitempty"`
	Paused   bool   `json:"paused,omitempty"`
	QueueLen int    `json:"queue_len"`
	Loop     string `json:"loop"`
	Volume   int    `json:"volume"`
}

// playRequest is a Play command waiting its turn: only one resolve/join
// operation runs at a time, the rest queue here in arrival order.
type playRequest struct {
	query            string
	track            *Track
	seek             int
	refreshStream    bool
	fromResume       bool
	requesterID      int64
	requesterDisplay string
	ref              any
}

// ckptOp is one unit of work for the checkpoint writer. A nil checkpoint
// means delete.
type ckptOp struct {
	cp *state.Checkpoint
}

// Engine is the actor owning one chat's playback. All mutable state below
// the ctx fields is touched only by the run goroutine; the outside world
// talks to it through Submit and listens on Events.
type Engine struct {
	chatID int64
	deps   Deps
	opts   Options
	log    *zap.Logger

	mailbox chan Message
	events  chan Event
	done    chan struct{}
	onExit  func(*Engine)

	ctx    context.Context
	cancel context.CancelFunc

	queue     *Queue
	pb        *PlaybackState
	st        engineState
	joined    bool
	volume    int
	seq       uint64
	opRunning bool
	opCancel  context.CancelFunc
	pending   []playRequest

	watchdog      *time.Timer
	watchdogTrack string

	ckptCh     chan ckptOp
	writerDone chan struct{}

	status atomic.Pointer[Status]
}

// NewEngine builds an engine for one chat. onExit, if set, is called from the
// run goroutine right before the engine's channels close; the registry uses
// it to drop its reference. Call Start to bring the actor to life.
func NewEngine(chatID int64, deps Deps, opts Options, onExit func(*Engine)) *Engine {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		chatID:     chatID,
		deps:       deps,
		opts:       opts,
		log:        logger.Named("engine").With(zap.Int64("chat_id", chatID)),
		mailbox:    make(chan Message, opts.MailboxSize),
		events:     make(chan Event, opts.EventBufferSize),
		done:       make(chan struct{}),
		onExit:     onExit,
		ctx:        ctx,
		cancel:     cancel,
		queue:      NewQueue(opts.MaxQueueSize),
		st:         stateIdle,
		volume:     DefaultVolume,
		ckptCh:     make(chan ckptOp, 16),
		writerDone: make(chan struct{}),
	}
	e.publishStatus()
	return e
}

// Start launches the run loop and the checkpoint writer.
func (e *Engine) Start() {
	go e.checkpointWriter()
	go e.run()
}

// Submit posts a message to the engine's mailbox. It reports false once the
// engine has exited; messages accepted before that are processed in order.
func (e *Engine) Submit(msg Message) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.mailbox <- msg:
		return true
	case <-e.done:
		return false
	}
}

// Events returns the engine's event stream. It closes when the engine exits.
func (e *Engine) Events() <-chan Event { return e.events }

// Done is closed when the engine has fully torn down.
func (e *Engine) Done() <-chan struct{} { return e.done }

// ChatID returns the chat this engine plays in.
func (e *Engine) ChatID() int64 { return e.chatID }

// Status returns the latest published snapshot.
func (e *Engine) Status() Status { return *e.status.Load() }

// Shutdown stops the engine while keeping its checkpoint, so the session can
// be picked back up after a restart. It blocks until the engine has exited
// or ctx ends.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Submit(shutdown{})
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) now() time.Time { return e.opts.Now() }

func (e *Engine) run() {
	ckpt := time.NewTicker(e.opts.CheckpointInterval)
	defer ckpt.Stop()

	// a nil channel never fires; ProgressInterval 0 keeps it nil
	var progressC <-chan time.Time
	if e.opts.ProgressInterval > 0 {
		progress := time.NewTicker(e.opts.ProgressInterval)
		defer progress.Stop()
		progressC = progress.C
	}

	e.watchdog = time.NewTimer(time.Hour)
	e.stopWatchdog()

	for {
		select {
		case msg := <-e.mailbox:
			if e.handle(msg) {
				return
			}
		case <-e.watchdog.C:
			trackID := e.watchdogTrack
			e.watchdogTrack = ""
			if trackID != "" && e.handleTrackEnded(trackID) {
				return
			}
		case <-ckpt.C:
			e.writeCheckpoint()
		case <-progressC:
			e.emitProgress()
		}
		e.publishStatus()
	}
}

// handle processes one mailbox message. A true result means the engine tore
// down and the run loop must return.
func (e *Engine) handle(msg Message) bool {
	switch m := msg.(type) {
	case Play:
		e.handlePlay(m)
	case Pause:
		e.handlePause()
	case Resume:
		e.handleResume()
	case Skip:
		return e.handleSkip()
	case Stop:
		e.teardown(exitStop)
		return true
	case SetLoop:
		e.queue.SetLoop(m.Mode)
		e.emit(LoopChanged{Mode: m.Mode})
	case Shuffle:
		e.emit(Shuffled{Count: e.queue.Shuffle()})
	case Remove:
		e.handleRemove(m)
	case Move:
		e.handleMove(m)
	case SetVolume:
		e.handleSetVolume(m.Level)
	case StreamEnded:
		return e.handleTrackEnded(m.TrackID)
	case Checkpoint:
		e.writeCheckpoint()
	case QueueSnapshot:
		e.handleQueueSnapshot(m)
	case shutdown:
		e.teardown(exitShutdown)
		return true
	case opJoining:
		if m.seq == e.seq {
			e.st = stateJoining
		}
	case opDone:
		return e.handleOpDone(m)
	}
	return false
}

func (e *Engine) handlePlay(m Play) {
	req := playRequest{
		query:            m.Query,
		track:            m.Track,
		seek:             m.Seek,
		refreshStream:    m.RefreshStream,
		fromResume:       m.FromResume,
		requesterID:      m.RequesterID,
		requesterDisplay: m.RequesterDisplay,
		ref:              m.Ref,
	}
	if e.opRunning {
		e.pending = append(e.pending, req)
		return
	}
	e.startOp(req)
}

func (e *Engine) startOp(req playRequest) {
	e.seq++
	enqueue := e.joined
	if !enqueue {
		e.st = stateResolving
	}
	opCtx, cancel := context.WithCancel(e.ctx)
	e.opCancel = cancel
	e.opRunning = true
	go e.playOp(opCtx, e.seq, req, enqueue)
}

func (e *Engine) startPending() {
	if e.opRunning || len(e.pending) == 0 {
		return
	}
	req := e.pending[0]
	e.pending = e.pending[1:]
	e.startOp(req)
}

// playOp runs off the loop: it resolves the track and, for the session's
// first track, brings the assistant into the call. The result comes back as
// an opDone message so the loop applies it in mailbox order.
func (e *Engine) playOp(ctx context.Context, seq uint64, req playRequest, enqueue bool) {
	track, err := e.prepareTrack(ctx, req)
	if err == nil && !enqueue {
		err = e.joinCall(ctx, seq, track.Source(), req.seek)
	}
	e.Submit(opDone{
		seq:        seq,
		track:      track,
		seek:       req.seek,
		enqueue:    enqueue,
		fromResume: req.fromResume,
		ref:        req.ref,
		err:        err,
	})
}

func (e *Engine) prepareTrack(ctx context.Context, req playRequest) (*Track, error) {
	track := req.track
	if track != nil && track.FileRef != "" {
		return track, nil // local uploads never expire
	}
	if track != nil && track.StreamURL != "" && !req.refreshStream {
		return track, nil
	}
	query := req.query
	if track != nil {
		query = track.SourceURL
	}
	resolved, err := e.deps.Resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if track != nil {
		// keep identity and attribution from the stored record
		resolved.ID = track.ID
		resolved.RequesterID = track.RequesterID
		resolved.RequesterDisplay = track.RequesterDisplay
	} else {
		resolved.RequesterID = req.requesterID
		resolved.RequesterDisplay = req.requesterDisplay
	}
	return resolved, nil
}

func (e *Engine) joinCall(ctx context.Context, seq uint64, source string, seek int) error {
	if err := e.deps.Presence.EnsureReady(ctx, e.chatID); err != nil {
		return err
	}
	e.Submit(opJoining{seq: seq})
	err := e.deps.Transport.Join(ctx, e.chatID, source, seek)
	if err == nil {
		return nil
	}
	if !apperrors.IsAlreadyJoined(err) {
		return err
	}
	// A previous session's call is still up; reuse it by swapping the stream.
	return e.deps.Transport.ChangeStream(ctx, e.chatID, source, seek)
}

func (e *Engine) handleOpDone(m opDone) bool {
	if m.seq != e.seq {
		return false // a newer operation superseded this one
	}
	e.opRunning = false
	if e.opCancel != nil {
		e.opCancel()
		e.opCancel = nil
	}
	if m.err != nil {
		return e.opFailed(m)
	}

	track := *m.track
	pos, err := e.queue.Add(track)
	if err != nil {
		e.emit(Failed{Err: err, Query: track.Title, Ref: m.ref})
		e.startPending()
		return false
	}

	if m.enqueue {
		e.emit(Queued{Track: track, Position: pos + 1, Ref: m.ref})
		e.startPending()
		return false
	}

	started, ok := e.queue.Advance()
	if !ok {
		started = track // unreachable: the track was just added
	}
	e.pb = NewPlaybackState(started, m.seek, e.now())
	e.pb.Volume = e.volume
	e.joined = true
	e.st = statePlaying
	e.armWatchdog(started)
	e.emit(NowPlaying{Track: started, Elapsed: m.seek, Ref: m.ref})
	e.writeCheckpoint()
	e.startPending()
	return false
}

func (e *Engine) opFailed(m opDone) bool {
	e.log.Warn("play operation failed", zap.Error(m.err))
	e.emit(Failed{Err: m.err, Ref: m.ref})
	if m.fromResume {
		// The saved session cannot be revived; drop its checkpoint so the
		// next restart does not retry it.
		e.ckptCh <- ckptOp{}
	}
	if e.joined {
		// current playback is untouched, move on to whatever queued up
		e.startPending()
		return false
	}
	if len(e.pending) > 0 {
		e.st = stateIdle
		e.startPending()
		return false
	}
	e.teardown(exitFailed)
	return true
}

func (e *Engine) handlePause() {
	if e.st == statePaused && e.pb != nil {
		return // already paused
	}
	if e.st != statePlaying || e.pb == nil {
		e.emit(Failed{Err: apperrors.NewNothingPlaying()})
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, transportTimeout)
	err := e.deps.Transport.Pause(ctx, e.chatID)
	cancel()
	if err != nil {
		e.log.Warn("pause failed", zap.Error(err))
		e.emit(Failed{Err: err})
		return
	}
	now := e.now()
	e.pb.Pause(now)
	e.st = statePaused
	e.stopWatchdog()
	e.emit(Paused{Track: e.pb.Track, Elapsed: int(e.pb.Elapsed(now) / time.Second)})
	e.writeCheckpoint()
}

func (e *Engine) handleResume() {
	if e.st != statePaused || e.pb == nil {
		e.emit(Failed{Err: apperrors.NewNotPaused()})
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, transportTimeout)
	err := e.deps.Transport.Resume(ctx, e.chatID)
	cancel()
	if err != nil {
		e.log.Warn("resume failed", zap.Error(err))
		e.emit(Failed{Err: err})
		return
	}
	now := e.now()
	e.pb.Resume(now)
	e.st = statePlaying
	e.armWatchdog(e.pb.Track)
	e.emit(Resumed{Track: e.pb.Track, Elapsed: int(e.pb.Elapsed(now) / time.Second)})
	e.writeCheckpoint()
}

func (e *Engine) handleSkip() bool {
	if e.pb == nil {
		e.emit(Failed{Err: apperrors.NewNothingPlaying()})
		return false
	}
	e.stopWatchdog()
	e.emit(Skipped{Track: e.pb.Track})
	return e.advanceTrack(true)
}

func (e *Engine) handleSetVolume(level int) {
	if level < 1 {
		level = 1
	}
	if level > 200 {
		level = 200
	}
	if !e.joined {
		e.emit(Failed{Err: apperrors.NewNothingPlaying()})
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, transportTimeout)
	err := e.deps.Transport.SetVolume(ctx, e.chatID, level)
	cancel()
	if err != nil {
		e.emit(Failed{Err: err})
		return
	}
	e.volume = level
	if e.pb != nil {
		e.pb.Volume = level
	}
	e.emit(VolumeChanged{Level: level})
}

// handleRemove drops a queued track. The slot under the cursor is refused:
// the queue must keep matching what the call is playing, so the current track
// only leaves via Skip or Stop.
func (e *Engine) handleRemove(m Remove) {
	if m.Index == e.queue.CurrentIndex() {
		e.emit(Failed{Err: apperrors.NewBadQueueIndex(m.Index + 1)})
		return
	}
	t, err := e.queue.Remove(m.Index)
	if err != nil {
		e.emit(Failed{Err: apperrors.NewBadQueueIndex(m.Index + 1)})
		return
	}
	e.emit(Removed{Track: t, Index: m.Index})
}

func (e *Engine) handleMove(m Move) {
	t, err := e.queue.Move(m.From, m.To)
	if err != nil {
		pos := m.From
		if pos >= 0 && pos < e.queue.Len() {
			pos = m.To
		}
		e.emit(Failed{Err: apperrors.NewBadQueueIndex(pos + 1)})
		return
	}
	e.emit(Moved{Track: t, From: m.From, To: m.To})
}

func (e *Engine) handleQueueSnapshot(m QueueSnapshot) {
	items, page, totalPages := e.queue.Page(m.Page, m.Size)
	e.emit(QueuePage{
		Items:        items,
		Page:         page,
		TotalPages:   totalPages,
		Total:        e.queue.Len(),
		CurrentIndex: e.queue.CurrentIndex(),
		Loop:         e.queue.Loop(),
		Ref:          m.Ref,
	})
}

// handleTrackEnded reacts to an end-of-stream signal, from the transport or
// from the watchdog. trackID, when set, must still match the current track;
// that keeps a stale signal from advancing past a track that replaced it.
func (e *Engine) handleTrackEnded(trackID string) bool {
	if e.pb == nil || (e.st != statePlaying && e.st != statePaused) {
		return false
	}
	if trackID != "" && trackID != e.pb.Track.ID {
		return false
	}
	e.stopWatchdog()
	return e.advanceTrack(false)
}

// advanceTrack moves playback to the next queue entry, skipping entries whose
// stream the transport rejects. It tears the engine down when the queue is
// exhausted and reports whether that happened.
func (e *Engine) advanceTrack(force bool) bool {
	attempts := e.queue.Len() + 1
	for i := 0; i < attempts; i++ {
		var next Track
		var ok bool
		if force || i > 0 {
			next, ok = e.queue.Skip()
		} else {
			next, ok = e.queue.Advance()
		}
		if !ok {
			e.teardown(exitDrained)
			return true
		}
		ctx, cancel := context.WithTimeout(e.ctx, transportTimeout)
		err := e.deps.Transport.ChangeStream(ctx, e.chatID, next.Source(), 0)
		cancel()
		if err != nil {
			e.log.Warn("stream change failed, trying next track",
				zap.String("title", next.Title), zap.Error(err))
			e.emit(Failed{Err: err, Query: next.Title})
			continue
		}
		e.pb = NewPlaybackState(next, 0, e.now())
		e.pb.Volume = e.volume
		e.st = statePlaying
		e.armWatchdog(next)
		e.emit(NowPlaying{Track: next})
		e.writeCheckpoint()
		return false
	}
	e.teardown(exitDrained)
	return true
}

// teardown unwinds the actor. Only exitShutdown keeps the checkpoint; an
// explicit stop or a drained queue deletes it, and a failed first play leaves
// storage as it was.
func (e *Engine) teardown(reason exitReason) {
	e.st = stateStopping
	e.publishStatus()

	if e.opCancel != nil {
		e.opCancel()
		e.opCancel = nil
	}
	e.opRunning = false
	e.pending = nil
	e.stopWatchdog()
	e.cancel()

	if e.joined {
		ctx, cancel := context.WithTimeout(context.Background(), transportTimeout)
		if err := e.deps.Transport.Leave(ctx, e.chatID); err != nil {
			e.log.Warn("could not leave call cleanly", zap.Error(err))
		}
		cancel()
		e.joined = false
	}

	switch reason {
	case exitShutdown:
		if e.pb != nil {
			e.ckptCh <- ckptOp{cp: e.pb.Checkpoint(e.chatID, e.now())}
		}
	case exitStop, exitDrained:
		e.ckptCh <- ckptOp{}
	}

	e.queue.Clear()
	e.pb = nil
	close(e.ckptCh)
	<-e.writerDone

	switch reason {
	case exitStop:
		e.emit(Stopped{})
	case exitDrained:
		e.emit(QueueDrained{})
	}
	e.publishStatus()

	if e.onExit != nil {
		e.onExit(e)
	}
	close(e.done)
	close(e.events)
}

// checkpointWriter serializes storage access for this chat so writes land in
// the order they were decided, even when a backend call is slow. It drains
// ckptCh fully; teardown closes the channel after queueing the final op.
func (e *Engine) checkpointWriter() {
	defer close(e.writerDone)
	key := state.Key(e.chatID)
	for op := range e.ckptCh {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StorageTimeout)
		var err error
		if op.cp == nil {
			err = state.DeleteCheckpoint(ctx, e.deps.Store, e.chatID)
		} else {
			err = state.SaveCheckpoint(ctx, e.deps.Store, op.cp)
		}
		cancel()
		if err != nil {
			e.log.Warn("checkpoint write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// writeCheckpoint hands the current position to the writer without blocking
// the loop; a busy writer just means this cadence tick is skipped.
func (e *Engine) writeCheckpoint() {
	if e.pb == nil {
		return
	}
	select {
	case e.ckptCh <- ckptOp{cp: e.pb.Checkpoint(e.chatID, e.now())}:
	default:
		e.log.Debug("checkpoint writer busy, skipping write")
	}
}

func (e *Engine) armWatchdog(t Track) {
	e.stopWatchdog()
	if t.Live() {
		return // live streams end only via transport signal or user command
	}
	e.watchdog.Reset(e.pb.Remaining(e.now()) + watchdogSlack)
	e.watchdogTrack = t.ID
}

func (e *Engine) stopWatchdog() {
	e.watchdogTrack = ""
	if !e.watchdog.Stop() {
		select {
		case <-e.watchdog.C:
		default:
		}
	}
}

func (e *Engine) emit(ev Event) {
	e.events <- ev
}

// emitProgress drops the event when the consumer lags: position updates are
// cosmetic and must never stall the loop.
func (e *Engine) emitProgress() {
	if e.st != statePlaying || e.pb == nil {
		return
	}
	select {
	case e.events <- Progress{Track: e.pb.Track, Elapsed: int(e.pb.Elapsed(e.now()) / time.Second)}:
	default:
	}
}

func (e *Engine) publishStatus() {
	s := Status{
		ChatID:   e.chatID,
		State:    e.st.String(),
		QueueLen: e.queue.Len(),
		Loop:     e.queue.Loop().String(),
		Volume:   e.volume,
	}
	if e.pb != nil {
		s.TrackID = e.pb.Track.ID
		s.Title = e.pb.Track.Title
		s.Elapsed = int(e.pb.Elapsed(e.now()) / time.Second)
		s.Duration = e.pb.Track.Duration
		s.Paused = e.pb.IsPaused()
	}
	e.status.Store(&s)
}

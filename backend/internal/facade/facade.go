// Package facade is the chat-facing layer: it turns bot commands, button
// presses and uploaded audio into engine messages, and renders the engines'
// event streams back into messages and inline keyboards.
package facade

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vcmplayer/backend/internal/music"
	"vcmplayer/backend/internal/resolver"
	"vcmplayer/backend/internal/telegram"
	apperrors "vcmplayer/backend/pkg/errors"
	"vcmplayer/backend/pkg/logger"
)

const (
	// sendTimeout bounds each outbound API call made while rendering events;
	// renders run on background contexts so final announcements survive a
	// shutdown of the update loop.
	sendTimeout = 10 * time.Second

	// pollRetryDelay spaces retries after a failed getUpdates poll.
	pollRetryDelay = 2 * time.Second

	downloadTimeout = 2 * time.Minute
	volumeStep      = 10
)

// Platform is the slice of the bot API the facade drives. *telegram.Client
// implements it.
type Platform interface {
	GetUpdates(ctx context.Context, offset int64) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *telegram.InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error
	GetChatMember(ctx context.Context, chatID, userID int64) (*telegram.ChatMemberInfo, error)
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, file *telegram.File, destDir string) (string, error)
}

// PlaylistResolver expands playlist and album pages into resolved tracks.
// *resolver.Resolver implements it.
type PlaylistResolver interface {
	ResolvePlaylist(ctx context.Context, pageURL string) ([]music.Track, string, error)
}

// Options tunes the facade. Zero values fall back to the defaults below.
type Options struct {
	BotUsername       string        // strips /cmd@bot suffixes addressed to this bot
	AssistantUsername string        // assistant handle named when users must add it by hand
	RateLimitEvery    time.Duration // min interval between plays per requester; 0 disables
	ResolveTimeout    time.Duration // bounds playlist page expansion
	DownloadDir       string        // where uploaded audio lands
	PageSize          int           // queue page size
}

func (o Options) withDefaults() Options {
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = 90 * time.Second
	}
	if o.DownloadDir == "" {
		o.DownloadDir = "downloads"
	}
	if o.PageSize <= 0 {
		o.PageSize = 10
	}
	return o
}

// msgRef marks an engine message as the outcome of a specific ack message, so
// the event consumer edits that message instead of posting a new one. Zero
// means there is nothing to edit.
type msgRef int64

func ackRef(m *telegram.Message) any {
	if m == nil {
		return msgRef(0)
	}
	return msgRef(m.MessageID)
}

func refTarget(ref any) int64 {
	if id, ok := ref.(msgRef); ok {
		return int64(id)
	}
	return 0
}

// panel is one chat's pinned now-playing card. The chat's event consumer is
// the only writer; callback handlers read snapshots under the facade mutex.
type panel struct {
	messageID int64
	track     music.Track
	elapsed   int
	paused    bool
}

// Facade routes updates to engines and engine events back to chats.
type Facade struct {
	api       Platform
	registry  *music.Registry
	playlists PlaylistResolver
	opts      Options
	log       *zap.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	panels   map[int64]*panel
}

func New(api Platform, registry *music.Registry, playlists PlaylistResolver, opts Options) *Facade {
	return &Facade{
		api:       api,
		registry:  registry,
		playlists: playlists,
		opts:      opts.withDefaults(),
		log:       logger.Named("facade"),
		limiters:  make(map[int64]*rate.Limiter),
		panels:    make(map[int64]*panel),
	}
}

// Engine returns the chat's live engine, creating it and attaching its event
// consumer on first use. Restart recovery provisions engines through here too,
// so resumed sessions announce like any other.
func (f *Facade) Engine(chatID int64) *music.Engine {
	e, created := f.registry.GetOrCreate(chatID)
	if created {
		go f.consume(e)
	}
	return e
}

// Run polls for updates until ctx ends. Handlers run inline so commands from
// one batch keep their arrival order; only slow work (playlist expansion,
// file downloads) moves off this goroutine.
func (f *Facade) Run(ctx context.Context) error {
	f.log.Info("command loop started")
	var offset int64
	for {
		updates, err := f.api.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				f.log.Info("command loop stopped")
				return nil
			}
			f.log.Warn("update poll failed", zap.Error(err))
			select {
			case <-time.After(pollRetryDelay):
			case <-ctx.Done():
				f.log.Info("command loop stopped")
				return nil
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			f.dispatch(ctx, u)
		}
	}
}

func (f *Facade) dispatch(ctx context.Context, u telegram.Update) {
	switch {
	case u.CallbackQuery != nil:
		f.handleCallback(ctx, u.CallbackQuery)
	case u.Message == nil:
	case u.Message.Audio != nil || u.Message.Voice != nil:
		f.handleUpload(ctx, u.Message)
	case strings.HasPrefix(u.Message.Text, "/"):
		f.handleCommand(ctx, u.Message)
	}
}

// splitCommand separates "/play@musicbot never gonna" into ("play", "never
// gonna"). Commands mentioning a different bot are dropped.
func splitCommand(text, botUser string) (string, string) {
	cmd, args, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd = strings.TrimPrefix(cmd, "/")
	if name, mention, ok := strings.Cut(cmd, "@"); ok {
		if botUser != "" && !strings.EqualFold(mention, botUser) {
			return "", ""
		}
		cmd = name
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func isGroup(chat telegram.Chat) bool {
	return chat.Type == "group" || chat.Type == "supergroup"
}

func requester(msg *telegram.Message) (int64, string) {
	if msg.From == nil {
		return msg.Chat.ID, "someone"
	}
	return msg.From.ID, msg.From.DisplayName()
}

func (f *Facade) handleCommand(ctx context.Context, msg *telegram.Message) {
	cmd, args := splitCommand(msg.Text, f.opts.BotUsername)
	if cmd == "" {
		return
	}
	chatID := msg.Chat.ID
	switch cmd {
	case "start", "help":
		f.send(ctx, chatID, helpText)
		return
	}
	if !isGroup(msg.Chat) {
		f.send(ctx, chatID, groupOnlyText)
		return
	}
	switch cmd {
	case "play":
		f.handlePlay(ctx, msg, args)
	case "pause":
		f.control(ctx, msg, music.Pause{})
	case "resume":
		f.control(ctx, msg, music.Resume{})
	case "skip":
		f.control(ctx, msg, music.Skip{})
	case "stop":
		f.control(ctx, msg, music.Stop{})
	case "shuffle":
		f.control(ctx, msg, music.Shuffle{})
	case "loop":
		mode, err := music.ParseLoopMode(args)
		if err != nil {
			f.send(ctx, chatID, loopUsageText)
			return
		}
		f.control(ctx, msg, music.SetLoop{Mode: mode})
	case "volume":
		level, err := strconv.Atoi(args)
		if err != nil || level < 1 || level > 200 {
			f.send(ctx, chatID, volumeUsageText)
			return
		}
		f.control(ctx, msg, music.SetVolume{Level: level})
	case "remove":
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			f.send(ctx, chatID, removeUsageText)
			return
		}
		f.control(ctx, msg, music.Remove{Index: n - 1})
	case "move":
		from, to, ok := parseMoveArgs(args)
		if !ok {
			f.send(ctx, chatID, moveUsageText)
			return
		}
		f.control(ctx, msg, music.Move{From: from - 1, To: to - 1})
	case "queue":
		f.handleQueueCommand(ctx, msg, args)
	}
}

// parseMoveArgs parses "/move 4 2" positions, 1-based the way the queue
// listing numbers them.
func parseMoveArgs(args string) (int, int, bool) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, 0, false
	}
	from, err := strconv.Atoi(fields[0])
	if err != nil || from < 1 {
		return 0, 0, false
	}
	to, err := strconv.Atoi(fields[1])
	if err != nil || to < 1 {
		return 0, 0, false
	}
	return from, to, true
}

// control submits a playback command to the chat's live engine. It never
// creates one: controlling an idle chat is just "nothing playing".
func (f *Facade) control(ctx context.Context, msg *telegram.Message, m music.Message) {
	if !f.isAdmin(ctx, msg.Chat.ID, msg.From) {
		f.send(ctx, msg.Chat.ID, adminOnlyText)
		return
	}
	e, ok := f.registry.Get(msg.Chat.ID)
	if !ok || !e.Submit(m) {
		f.send(ctx, msg.Chat.ID, nothingPlayingText)
	}
}

// isAdmin reports whether the user may drive playback. A failed lookup allows
// the command: a flaky permission check must not brick the player.
func (f *Facade) isAdmin(ctx context.Context, chatID int64, from *telegram.User) bool {
	if from == nil {
		return false
	}
	member, err := f.api.GetChatMember(ctx, chatID, from.ID)
	if err != nil {
		f.log.Warn("admin check failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return true
	}
	return member.Status == "creator" || member.Status == "administrator"
}

func (f *Facade) handlePlay(ctx context.Context, msg *telegram.Message, query string) {
	chatID := msg.Chat.ID
	if query == "" {
		f.send(ctx, chatID, playUsageText)
		return
	}
	userID, display := requester(msg)
	if wait, ok := f.allowPlay(userID); !ok {
		f.send(ctx, chatID, failureText(apperrors.NewRateLimited(wait), "", f.opts.AssistantUsername))
		return
	}
	if resolver.IsPlaylistLink(query) {
		ack := f.send(ctx, chatID, "⏳ Fetching the playlist…")
		go f.expandPlaylist(ctx, chatID, query, userID, display, ack)
		return
	}
	ack := f.send(ctx, chatID, searchingText(query))
	f.submitPlay(chatID, music.Play{
		Query:            query,
		RequesterID:      userID,
		RequesterDisplay: display,
		Ref:              ackRef(ack),
	})
}

// submitPlay retries once: an engine can exit between lookup and submit, and
// the registry hands back a fresh one on the next call.
func (f *Facade) submitPlay(chatID int64, m music.Play) {
	if f.Engine(chatID).Submit(m) {
		return
	}
	f.Engine(chatID).Submit(m)
}

// expandPlaylist runs off the dispatch goroutine: page scraping takes seconds
// and must not stall other chats' commands. Entries arrive pre-resolved, so
// submitting them is cheap.
func (f *Facade) expandPlaylist(ctx context.Context, chatID int64, pageURL string, userID int64, display string, ack *telegram.Message) {
	rctx, cancel := context.WithTimeout(ctx, f.opts.ResolveTimeout)
	defer cancel()
	tracks, title, err := f.playlists.ResolvePlaylist(rctx, pageURL)
	if err != nil {
		f.log.Warn("playlist expansion failed", zap.Int64("chat_id", chatID), zap.Error(err))
		f.editOrSend(ctx, chatID, ackRef(ack), failureText(err, pageURL, f.opts.AssistantUsername))
		return
	}
	for i := range tracks {
		tracks[i].RequesterID = userID
		tracks[i].RequesterDisplay = display
		f.submitPlay(chatID, music.Play{Track: &tracks[i]})
	}
	f.editOrSend(ctx, chatID, ackRef(ack), playlistQueuedText(len(tracks), title))
}

func (f *Facade) handleUpload(ctx context.Context, msg *telegram.Message) {
	if !isGroup(msg.Chat) {
		f.send(ctx, msg.Chat.ID, groupOnlyText)
		return
	}
	userID, _ := requester(msg)
	if wait, ok := f.allowPlay(userID); !ok {
		f.send(ctx, msg.Chat.ID, failureText(apperrors.NewRateLimited(wait), "", f.opts.AssistantUsername))
		return
	}
	ack := f.send(ctx, msg.Chat.ID, "⬇️ Downloading the audio…")
	go f.downloadUpload(ctx, msg, ack)
}

func uploadMeta(msg *telegram.Message) (fileID, title string, duration int) {
	switch {
	case msg.Audio != nil:
		title = msg.Audio.Title
		if title == "" {
			title = msg.Audio.FileName
		}
		if title == "" {
			title = "Uploaded audio"
		}
		if msg.Audio.Performer != "" {
			title = msg.Audio.Performer + " - " + title
		}
		return msg.Audio.FileID, title, msg.Audio.Duration
	case msg.Voice != nil:
		return msg.Voice.FileID, "Voice message", msg.Voice.Duration
	default:
		return "", "", 0
	}
}

// downloadUpload runs off the dispatch goroutine; the finished track enters
// the engine pre-resolved with a local file reference.
func (f *Facade) downloadUpload(ctx context.Context, msg *telegram.Message, ack *telegram.Message) {
	fileID, title, duration := uploadMeta(msg)
	userID, display := requester(msg)

	dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	file, err := f.api.GetFile(dctx, fileID)
	if err == nil {
		var path string
		if path, err = f.api.DownloadFile(dctx, file, f.opts.DownloadDir); err == nil {
			f.submitPlay(msg.Chat.ID, music.Play{
				Track: &music.Track{
					ID:               fileID,
					Title:            title,
					Duration:         duration,
					FileRef:          path,
					RequesterID:      userID,
					RequesterDisplay: display,
				},
				Ref: ackRef(ack),
			})
			return
		}
	}
	f.log.Warn("upload download failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	f.editOrSend(ctx, msg.Chat.ID, ackRef(ack), "⚠️ I couldn't download that audio file.")
}

func (f *Facade) handleQueueCommand(ctx context.Context, msg *telegram.Message, args string) {
	e, ok := f.registry.Get(msg.Chat.ID)
	if !ok {
		f.send(ctx, msg.Chat.ID, nothingPlayingText)
		return
	}
	page := 1
	if args != "" {
		if n, err := strconv.Atoi(args); err == nil && n > 0 {
			page = n
		}
	}
	e.Submit(music.QueueSnapshot{Page: page - 1, Size: f.opts.PageSize, Ref: msgRef(0)})
}

func (f *Facade) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	action, chatID, page, ok := parseCallback(cb.Data)
	if !ok {
		f.answer(ctx, cb.ID, "", false)
		return
	}
	if controlAction(action) && !f.isAdmin(ctx, chatID, &cb.From) {
		f.answer(ctx, cb.ID, "Only group admins can control playback", true)
		return
	}
	e, live := f.registry.Get(chatID)
	if !live {
		f.answer(ctx, cb.ID, "Nothing is playing", true)
		return
	}

	switch action {
	case "player_pause":
		e.Submit(music.Pause{})
		f.answer(ctx, cb.ID, "Pausing", false)
	case "player_play":
		e.Submit(music.Resume{})
		f.answer(ctx, cb.ID, "Resuming", false)
	case "player_skip":
		e.Submit(music.Skip{})
		f.answer(ctx, cb.ID, "Skipping", false)
	case "player_stop":
		e.Submit(music.Stop{})
		f.answer(ctx, cb.ID, "Stopping", false)
	case "player_settings":
		if cb.Message != nil {
			err := f.api.EditMessageReplyMarkup(ctx, chatID, cb.Message.MessageID, settingsMenu(chatID))
			if err != nil && !telegram.IsNotModified(err) {
				f.log.Debug("settings menu edit failed", zap.Int64("chat_id", chatID), zap.Error(err))
			}
		}
		f.answer(ctx, cb.ID, "", false)
	case "back_to_player":
		f.backToPlayer(ctx, e, cb)
	case "queue_open", "queue_nav":
		var ref msgRef
		if cb.Message != nil {
			ref = msgRef(cb.Message.MessageID)
		}
		e.Submit(music.QueueSnapshot{Page: page - 1, Size: f.opts.PageSize, Ref: ref})
		f.answer(ctx, cb.ID, "", false)
	case "volume_up", "volume_down":
		delta := volumeStep
		if action == "volume_down" {
			delta = -volumeStep
		}
		level := e.Status().Volume + delta
		if level < 1 {
			level = 1
		}
		if level > 200 {
			level = 200
		}
		e.Submit(music.SetVolume{Level: level})
		f.answer(ctx, cb.ID, "", false)
	case "loop_toggle":
		e.Submit(music.SetLoop{Mode: nextLoopMode(e.Status().Loop)})
		f.answer(ctx, cb.ID, "", false)
	case "shuffle":
		e.Submit(music.Shuffle{})
		f.answer(ctx, cb.ID, "", false)
	default:
		f.answer(ctx, cb.ID, "", false)
	}
}

// backToPlayer redraws the pressed message as the player card, restoring the
// control keyboard after a settings or queue detour.
func (f *Facade) backToPlayer(ctx context.Context, e *music.Engine, cb *telegram.CallbackQuery) {
	p, ok := f.panelSnapshot(e.ChatID())
	if !ok || cb.Message == nil {
		f.answer(ctx, cb.ID, "Nothing is playing", true)
		return
	}
	st := e.Status()
	text := nowPlayingText(p.track, st.Elapsed, st.Paused)
	err := f.api.EditMessageText(ctx, e.ChatID(), cb.Message.MessageID, text, playerControls(e.ChatID(), st.Paused))
	if err != nil && !telegram.IsNotModified(err) {
		f.log.Debug("player redraw failed", zap.Int64("chat_id", e.ChatID()), zap.Error(err))
	}
	f.answer(ctx, cb.ID, "", false)
}

// controlAction reports whether the button changes playback, which only group
// admins may do. Queue browsing stays open to everyone.
func controlAction(action string) bool {
	switch action {
	case "player_pause", "player_play", "player_skip", "player_stop",
		"player_settings", "volume_up", "volume_down", "loop_toggle", "shuffle":
		return true
	}
	return false
}

// loop_toggle cycles off, track, queue.
func nextLoopMode(current string) music.LoopMode {
	switch current {
	case "off":
		return music.LoopTrack
	case "track":
		return music.LoopQueue
	default:
		return music.LoopOff
	}
}

// allowPlay enforces the per-requester play interval. The false result
// carries how long the requester still has to wait.
func (f *Facade) allowPlay(userID int64) (time.Duration, bool) {
	if f.opts.RateLimitEvery <= 0 {
		return 0, true
	}
	f.mu.Lock()
	lim, ok := f.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.opts.RateLimitEvery), 1)
		f.limiters[userID] = lim
	}
	f.mu.Unlock()
	r := lim.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return d, false
	}
	return 0, true
}

// consume renders one engine's event stream. It is the only writer of the
// chat's panel, so card edits never race each other.
func (f *Facade) consume(e *music.Engine) {
	chatID := e.ChatID()
	for ev := range e.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		f.render(ctx, chatID, ev)
		cancel()
	}
	f.mu.Lock()
	delete(f.panels, chatID)
	f.mu.Unlock()
}

func (f *Facade) render(ctx context.Context, chatID int64, ev music.Event) {
	switch ev := ev.(type) {
	case music.NowPlaying:
		f.renderNowPlaying(ctx, chatID, ev)
	case music.Progress:
		f.renderProgress(ctx, chatID, ev)
	case music.Queued:
		f.editOrSend(ctx, chatID, ev.Ref, queuedText(ev))
	case music.Paused:
		f.renderPauseState(ctx, chatID, ev.Track, ev.Elapsed, true)
	case music.Resumed:
		f.renderPauseState(ctx, chatID, ev.Track, ev.Elapsed, false)
	case music.Skipped:
		f.send(ctx, chatID, skippedText(ev.Track))
	case music.LoopChanged:
		f.send(ctx, chatID, loopText(ev.Mode))
	case music.Shuffled:
		f.send(ctx, chatID, shuffledText(ev.Count))
	case music.Removed:
		f.send(ctx, chatID, removedText(ev.Track))
	case music.Moved:
		f.send(ctx, chatID, movedText(ev))
	case music.VolumeChanged:
		f.send(ctx, chatID, volumeText(ev.Level))
	case music.QueuePage:
		f.renderQueuePage(ctx, chatID, ev)
	case music.Stopped:
		f.deletePanel(ctx, chatID)
		f.send(ctx, chatID, "⏹ Stopped. Queue cleared, leaving the voice chat.")
	case music.QueueDrained:
		f.deletePanel(ctx, chatID)
		f.send(ctx, chatID, "🏁 Queue finished, leaving the voice chat.")
	case music.Failed:
		f.editOrSend(ctx, chatID, ev.Ref, failureText(ev.Err, ev.Query, f.opts.AssistantUsername))
	}
}

func (f *Facade) renderNowPlaying(ctx context.Context, chatID int64, ev music.NowPlaying) {
	text := nowPlayingText(ev.Track, ev.Elapsed, false)
	kb := playerControls(chatID, false)

	target := refTarget(ev.Ref)
	cur := f.panelID(chatID)
	switch {
	case target == 0:
		target = cur
	case cur != 0 && cur != target:
		// the search ack becomes the new card; retire the old one
		if err := f.api.DeleteMessage(ctx, chatID, cur); err != nil {
			f.log.Debug("stale card delete failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	id := f.upsertCard(ctx, chatID, target, text, kb)
	f.setPanel(chatID, &panel{messageID: id, track: ev.Track, elapsed: ev.Elapsed})
}

// upsertCard edits targetID when set, falling back to a fresh message when
// the edit fails, and returns the id of whichever message now holds the card.
func (f *Facade) upsertCard(ctx context.Context, chatID, targetID int64, text string, kb *telegram.InlineKeyboardMarkup) int64 {
	if targetID != 0 {
		err := f.api.EditMessageText(ctx, chatID, targetID, text, kb)
		if err == nil || telegram.IsNotModified(err) {
			return targetID
		}
		f.log.Debug("card edit failed, posting a new one", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	m, err := f.api.SendMessage(ctx, chatID, text, kb)
	if err != nil {
		f.log.Warn("card send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return 0
	}
	return m.MessageID
}

func (f *Facade) renderProgress(ctx context.Context, chatID int64, ev music.Progress) {
	f.mu.Lock()
	p := f.panels[chatID]
	var id int64
	if p != nil && p.messageID != 0 && p.track.ID == ev.Track.ID && !p.paused {
		p.elapsed = ev.Elapsed
		id = p.messageID
	}
	f.mu.Unlock()
	if id == 0 {
		return
	}
	err := f.api.EditMessageText(ctx, chatID, id, nowPlayingText(ev.Track, ev.Elapsed, false), playerControls(chatID, false))
	if err != nil && !telegram.IsNotModified(err) {
		f.log.Debug("progress edit failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (f *Facade) renderPauseState(ctx context.Context, chatID int64, t music.Track, elapsed int, paused bool) {
	f.mu.Lock()
	p := f.panels[chatID]
	var id int64
	if p != nil {
		p.track = t
		p.elapsed = elapsed
		p.paused = paused
		id = p.messageID
	}
	f.mu.Unlock()
	if id == 0 {
		return
	}
	err := f.api.EditMessageText(ctx, chatID, id, nowPlayingText(t, elapsed, paused), playerControls(chatID, paused))
	if err != nil && !telegram.IsNotModified(err) {
		f.log.Debug("card edit failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (f *Facade) renderQueuePage(ctx context.Context, chatID int64, ev music.QueuePage) {
	text := queuePageText(ev, f.opts.PageSize)
	kb := queueKeyboard(chatID, ev.Page+1, ev.TotalPages)
	if target := refTarget(ev.Ref); target != 0 {
		err := f.api.EditMessageText(ctx, chatID, target, text, kb)
		if err == nil || telegram.IsNotModified(err) {
			return
		}
		f.log.Debug("queue page edit failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if _, err := f.api.SendMessage(ctx, chatID, text, kb); err != nil {
		f.log.Warn("queue page send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// editOrSend edits the ack message the ref points at, or posts a new message
// when there is none (or the edit fails).
func (f *Facade) editOrSend(ctx context.Context, chatID int64, ref any, text string) {
	if target := refTarget(ref); target != 0 {
		err := f.api.EditMessageText(ctx, chatID, target, text, nil)
		if err == nil || telegram.IsNotModified(err) {
			return
		}
	}
	f.send(ctx, chatID, text)
}

func (f *Facade) send(ctx context.Context, chatID int64, text string) *telegram.Message {
	m, err := f.api.SendMessage(ctx, chatID, text, nil)
	if err != nil {
		f.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}
	return m
}

func (f *Facade) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := f.api.AnswerCallbackQuery(ctx, callbackID, text, alert); err != nil {
		f.log.Debug("callback answer failed", zap.Error(err))
	}
}

func (f *Facade) panelID(chatID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panels[chatID]; ok {
		return p.messageID
	}
	return 0
}

func (f *Facade) panelSnapshot(chatID int64) (panel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panels[chatID]
	if !ok {
		return panel{}, false
	}
	return *p, true
}

func (f *Facade) setPanel(chatID int64, p *panel) {
	f.mu.Lock()
	f.panels[chatID] = p
	f.mu.Unlock()
}

// deletePanel retires the chat's card message, if any.
func (f *Facade) deletePanel(ctx context.Context, chatID int64) {
	f.mu.Lock()
	p := f.panels[chatID]
	delete(f.panels, chatID)
	f.mu.Unlock()
	if p == nil || p.messageID == 0 {
		return
	}
	if err := f.api.DeleteMessage(ctx, chatID, p.messageID); err != nil {
		f.log.Debug("card delete failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

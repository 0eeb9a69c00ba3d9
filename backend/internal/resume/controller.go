// Package resume replays persisted checkpoints on startup, reviving every
// chat that was mid-playback when the previous process stopped.
package resume

import (
	"context"
	"fmt"
	"html"
	"os"
	"time"

	"go.uber.org/zap"

	"vcmplayer/backend/internal/music"
	"vcmplayer/backend/internal/state"
	"vcmplayer/backend/internal/telegram"
	"vcmplayer/backend/pkg/logger"
)

// Session accepts playback messages. *music.Engine satisfies it.
type Session interface {
	Submit(music.Message) bool
}

// ProvisionFunc hands out the live session for a chat, creating the engine
// (with its event consumer attached) when none is running yet.
type ProvisionFunc func(chatID int64) Session

// Notifier posts best-effort chat announcements. *telegram.Client satisfies it.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
}

// Options tune the recovery pass.
type Options struct {
	// Stagger is the pause between successive chat resumes, spreading the
	// thundering herd of re-resolves and voice joins. Zero disables it.
	Stagger time.Duration

	// Sleep is a test seam; nil means a context-aware timer sleep.
	Sleep func(context.Context, time.Duration)
}

// Controller scans the checkpoint store once and brings every recoverable
// session back up. It does not watch the store afterwards; the engines own
// their checkpoints from then on.
type Controller struct {
	store     state.Store
	provision ProvisionFunc
	notify    Notifier
	stagger   time.Duration
	sleep     func(context.Context, time.Duration)
	log       *zap.Logger
}

// New builds a Controller. provision must attach whatever event consumers the
// caller needs before returning the session, so resume announcements and
// now-playing cards flow the same way as for fresh requests.
func New(store state.Store, provision ProvisionFunc, notify Notifier, opts Options) *Controller {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Controller{
		store:     store,
		provision: provision,
		notify:    notify,
		stagger:   opts.Stagger,
		sleep:     sleep,
		log:       logger.Named("resume"),
	}
}

// Run performs the recovery pass: scan checkpoints, purge the unreadable
// ones, then revive each chat in key order with Stagger between them. It
// returns once every checkpoint has been dispatched; playback proceeds
// asynchronously inside the engines.
func (c *Controller) Run(ctx context.Context) error {
	checkpoints, dropped, err := state.LoadCheckpoints(ctx, c.store)
	if err != nil {
		return fmt.Errorf("scan checkpoints: %w", err)
	}

	for _, key := range dropped {
		c.log.Warn("dropping unreadable checkpoint", zap.String("key", key))
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn("checkpoint cleanup failed", zap.String("key", key), zap.Error(err))
		}
	}

	if len(checkpoints) == 0 {
		c.log.Info("no sessions to resume")
		return nil
	}

	c.log.Info("resuming saved sessions", zap.Int("sessions", len(checkpoints)))
	for i, cp := range checkpoints {
		if i > 0 && c.stagger > 0 {
			c.sleep(ctx, c.stagger)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.resumeOne(ctx, cp)
	}
	return nil
}

func (c *Controller) resumeOne(ctx context.Context, cp *state.Checkpoint) {
	track := music.TrackFromRecord(cp.Track)

	// Uploaded files must still be on disk; stream tracks re-resolve instead.
	if track.FileRef != "" {
		if _, err := os.Stat(track.FileRef); err != nil {
			c.log.Warn("uploaded audio gone, dropping session",
				zap.Int64("chat_id", cp.ChatID),
				zap.String("file", track.FileRef))
			if derr := state.DeleteCheckpoint(ctx, c.store, cp.ChatID); derr != nil {
				c.log.Warn("checkpoint delete failed", zap.Int64("chat_id", cp.ChatID), zap.Error(derr))
			}
			c.announce(ctx, cp.ChatID, lostFileText(track.Title))
			return
		}
	}

	c.announce(ctx, cp.ChatID, resumeText(track.Title, cp.PositionSeconds))

	// Saved is_paused is informational only; resumed sessions always start
	// playing. A failed resume drops the checkpoint inside the engine.
	session := c.provision(cp.ChatID)
	session.Submit(music.Play{
		Track:         &track,
		Seek:          cp.PositionSeconds,
		RefreshStream: track.FileRef == "",
		FromResume:    true,
	})

	c.log.Info("session resumed",
		zap.Int64("chat_id", cp.ChatID),
		zap.String("track_id", track.ID),
		zap.Int("position", cp.PositionSeconds))
}

func (c *Controller) announce(ctx context.Context, chatID int64, text string) {
	if _, err := c.notify.SendMessage(ctx, chatID, text, nil); err != nil {
		c.log.Warn("resume announcement failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func resumeText(title string, position int) string {
	return fmt.Sprintf("🔄 Back online. Resuming <b>%s</b> from %s.",
		html.EscapeString(title), fmtClock(position))
}

func lostFileText(title string) string {
	return fmt.Sprintf("🗂 Couldn't restore <b>%s</b>: the uploaded file is no longer on disk.",
		html.EscapeString(title))
}

func fmtClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	m, s := seconds/60, seconds%60
	if h := m / 60; h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m%60, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

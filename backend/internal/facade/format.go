package facade

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"vcmplayer/backend/internal/music"
	apperrors "vcmplayer/backend/pkg/errors"
)

// Messages use HTML parse mode throughout; every user-controlled string goes
// through esc before it lands in one.

const (
	progressBarWidth = 10
	titleMaxRunes    = 50
	queryMaxRunes    = 60
)

const helpText = `🎧 <b>Voice Chat Music Player</b>

I play music in your group's voice chat.

<b>Commands</b>
/play &lt;name or link&gt; - search and play, or queue a track
/pause and /resume - hold and continue playback
/skip - jump to the next track
/stop - stop playback and clear the queue
/queue [page] - show what's queued
/remove &lt;n&gt; - drop a queued track
/move &lt;from&gt; &lt;to&gt; - reorder the queue
/loop off|track|queue - set the repeat mode
/shuffle - shuffle the upcoming tracks
/volume 1-200 - set the call volume

You can also send me an audio file and I'll play it.
Add me and my assistant account to a group, start a voice chat, then /play.`

const (
	groupOnlyText      = "I play music in group voice chats. Add me to a group and try there."
	adminOnlyText      = "🔐 Only group admins can control playback."
	nothingPlayingText = "🤷 Nothing is playing in this chat."
	playUsageText      = "Usage: /play &lt;song name or link&gt;"
	loopUsageText      = "Usage: /loop off|track|queue"
	volumeUsageText    = "Usage: /volume 1-200"
	removeUsageText    = "Usage: /remove &lt;queue position&gt;"
	moveUsageText      = "Usage: /move &lt;from&gt; &lt;to&gt;"
)

func esc(s string) string { return html.EscapeString(s) }

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// clock formats a position as M:SS or H:MM:SS. Unlike track durations, a
// position of zero is a real value, not "live".
func clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// progressBar renders elapsed/total as a fixed-width bar. Live tracks, which
// have no known end, show a full bar.
func progressBar(elapsed, total int) string {
	if total <= 0 {
		return strings.Repeat("▰", progressBarWidth)
	}
	filled := elapsed * progressBarWidth / total
	if filled < 0 {
		filled = 0
	}
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", progressBarWidth-filled)
}

// titleLine renders the track title, linked to its source page when known.
func titleLine(t music.Track) string {
	title := esc(truncate(t.Title, titleMaxRunes))
	if t.SourceURL != "" {
		return fmt.Sprintf(`<b><a href="%s">%s</a></b>`, esc(t.SourceURL), title)
	}
	return "<b>" + title + "</b>"
}

func requesterName(t music.Track) string {
	if t.RequesterDisplay == "" {
		return "someone"
	}
	return t.RequesterDisplay
}

// nowPlayingText is the player card. elapsed is clamped into the duration so
// a watchdog-slack tick never renders 3:47 / 3:45.
func nowPlayingText(t music.Track, elapsed int, paused bool) string {
	if t.Duration > 0 && elapsed > t.Duration {
		elapsed = t.Duration
	}
	head := "🎵 <b>Now Playing</b>"
	if paused {
		head = "⏸ <b>Paused</b>"
	}
	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n\n")
	b.WriteString(titleLine(t))
	if t.Uploader != "" {
		b.WriteString("\n🎤 ")
		b.WriteString(esc(t.Uploader))
	}
	b.WriteString("\n👤 ")
	b.WriteString(esc(requesterName(t)))
	b.WriteString("\n\n")
	b.WriteString(progressBar(elapsed, t.Duration))
	b.WriteString("\n")
	b.WriteString(clock(elapsed))
	b.WriteString(" / ")
	b.WriteString(music.FormatDuration(t.Duration))
	return b.String()
}

func searchingText(query string) string {
	return fmt.Sprintf("🔍 Searching: <b>%s</b>", esc(truncate(query, queryMaxRunes)))
}

func queuedText(ev music.Queued) string {
	return fmt.Sprintf("➕ Added to queue, position <b>%d</b>: %s", ev.Position, titleLine(ev.Track))
}

func skippedText(t music.Track) string {
	return fmt.Sprintf("⏭ Skipped: <b>%s</b>", esc(truncate(t.Title, titleMaxRunes)))
}

func loopText(mode music.LoopMode) string {
	switch mode {
	case music.LoopTrack:
		return "🔂 Looping the current track."
	case music.LoopQueue:
		return "🔁 Looping the whole queue."
	default:
		return "➡️ Loop is off."
	}
}

func shuffledText(count int) string {
	if count == 0 {
		return "🔀 Nothing left to shuffle."
	}
	return fmt.Sprintf("🔀 Shuffled <b>%d</b> upcoming tracks.", count)
}

func removedText(t music.Track) string {
	return fmt.Sprintf("🗑 Removed from the queue: <b>%s</b>", esc(truncate(t.Title, titleMaxRunes)))
}

func movedText(ev music.Moved) string {
	return fmt.Sprintf("↕️ Moved <b>%s</b> to position <b>%d</b>.", esc(truncate(ev.Track.Title, titleMaxRunes)), ev.To+1)
}

func volumeText(level int) string {
	return fmt.Sprintf("🔊 Volume set to <b>%d%%</b>.", level)
}

func playlistQueuedText(count int, title string) string {
	if title == "" {
		title = "playlist"
	}
	return fmt.Sprintf("📃 Queued <b>%d</b> tracks from <b>%s</b>.", count, esc(truncate(title, titleMaxRunes)))
}

// queuePageText renders one page of the queue; size is the page size the
// snapshot was requested with.
func queuePageText(ev music.QueuePage, size int) string {
	if ev.Total == 0 {
		return "📃 The queue is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📃 <b>Queue</b> · %d track", ev.Total)
	if ev.Total != 1 {
		b.WriteString("s")
	}
	if ev.Loop != music.LoopOff {
		fmt.Fprintf(&b, " · loop: %s", ev.Loop)
	}
	b.WriteString("\n\n")
	for i, t := range ev.Items {
		idx := ev.Page*size + i
		line := fmt.Sprintf("%d. %s (%s)", idx+1, esc(truncate(t.Title, 40)), music.FormatDuration(t.Duration))
		if idx == ev.CurrentIndex {
			line = "▶️ <b>" + line + "</b>"
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nPage %d/%d", ev.Page+1, ev.TotalPages)
	return b.String()
}

// failureText turns an engine error into guidance the user can act on.
// assistant is the handle to name when the fix is adding the assistant by hand.
func failureText(err error, query, assistant string) string {
	var (
		notFound  *apperrors.ErrResolveNotFound
		forbidden *apperrors.ErrResolveForbidden
		unavail   *apperrors.ErrResolveUnavailable
		noCall    *apperrors.ErrNoActiveCall
		transport *apperrors.ErrTransportFailure
		blocked   *apperrors.ErrAssistantBlocked
		queueFull *apperrors.ErrQueueFull
		limited   *apperrors.ErrRateLimited
		missing   *apperrors.ErrMissingLocalFile
		nothing   *apperrors.ErrNothingPlaying
		notPaused *apperrors.ErrNotPaused
		badIndex  *apperrors.ErrBadQueueIndex
	)
	switch {
	case errors.As(err, &notFound):
		q := query
		if q == "" {
			q = notFound.Query
		}
		return fmt.Sprintf("❌ No results for <b>%s</b>.", esc(truncate(q, queryMaxRunes)))
	case errors.As(err, &forbidden):
		return "⛔️ The source refused to serve that track. Try another link."
	case errors.As(err, &unavail):
		return "⚠️ The source is unavailable right now. Try again in a bit."
	case errors.As(err, &noCall):
		return "📴 No active voice chat here. Start one and try again."
	case errors.As(err, &blocked):
		return assistantBlockedText(blocked, assistant)
	case errors.As(err, &transport):
		return "⚠️ The voice connection hiccupped. Try again."
	case errors.As(err, &queueFull):
		return fmt.Sprintf("📦 The queue is full (max %d tracks).", queueFull.Limit)
	case errors.As(err, &limited):
		secs := int(limited.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("🕒 Too fast! Wait %ds and try again.", secs)
	case errors.As(err, &missing):
		return "🗑 That uploaded audio is gone from disk, so I dropped the saved session."
	case errors.As(err, &nothing):
		return nothingPlayingText
	case errors.As(err, &notPaused):
		return "▶️ Playback is not paused."
	case errors.As(err, &badIndex):
		return fmt.Sprintf("❓ Can't touch queue position <b>%d</b>. It doesn't exist, or it's playing right now (use /skip).", badIndex.Position)
	default:
		return "⚠️ Something went wrong. Try again."
	}
}

func assistantBlockedText(b *apperrors.ErrAssistantBlocked, assistant string) string {
	who := "the assistant"
	if assistant != "" {
		who = "@" + esc(assistant)
	}
	switch b.Reason {
	case apperrors.BlockBotNotAdmin:
		return "🔐 I need admin rights (invite users, manage video chats) so my assistant can join the call."
	case apperrors.BlockAssistantPrivacy:
		return fmt.Sprintf("🙈 My assistant's privacy settings reject the invite. Please add %s to this group manually.", who)
	case apperrors.BlockCannotInvite:
		return fmt.Sprintf("🔗 I couldn't create an invite link for my assistant. Please add %s to this group manually.", who)
	default:
		return "⚠️ My assistant couldn't join the voice chat. Try again."
	}
}

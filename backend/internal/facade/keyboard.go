package facade

import (
	"fmt"
	"strconv"
	"strings"

	"vcmplayer/backend/internal/telegram"
)

// Callback data is "<action>:<chat_id>" with an optional ":<page>" tail. The
// chat id rides along so a press identifies its engine without relying on the
// message's chat, which the platform omits for very old messages.

func cbData(action string, chatID int64) string {
	return fmt.Sprintf("%s:%d", action, chatID)
}

func cbDataPage(action string, chatID int64, page int) string {
	return fmt.Sprintf("%s:%d:%d", action, chatID, page)
}

// parseCallback splits callback data into action, chat and page. Page is
// 1-based and defaults to 1 for actions that carry none.
func parseCallback(data string) (action string, chatID int64, page int, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", 0, 0, false
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	page = 1
	if len(parts) == 3 {
		page, err = strconv.Atoi(parts[2])
		if err != nil || page < 1 {
			return "", 0, 0, false
		}
	}
	return parts[0], chatID, page, true
}

// playerControls is the keyboard under the now-playing card.
func playerControls(chatID int64, paused bool) *telegram.InlineKeyboardMarkup {
	toggle := telegram.InlineKeyboardButton{Text: "⏸ Pause", CallbackData: cbData("player_pause", chatID)}
	if paused {
		toggle = telegram.InlineKeyboardButton{Text: "▶️ Resume", CallbackData: cbData("player_play", chatID)}
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{
			toggle,
			{Text: "⏭ Skip", CallbackData: cbData("player_skip", chatID)},
			{Text: "⏹ Stop", CallbackData: cbData("player_stop", chatID)},
		},
		{
			{Text: "📃 Queue", CallbackData: cbDataPage("queue_open", chatID, 1)},
			{Text: "⚙️ Settings", CallbackData: cbData("player_settings", chatID)},
		},
	}}
}

// settingsMenu replaces the control rows when the gear button is pressed.
func settingsMenu(chatID int64) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{
			{Text: "🔉 Vol -", CallbackData: cbData("volume_down", chatID)},
			{Text: "🔊 Vol +", CallbackData: cbData("volume_up", chatID)},
		},
		{
			{Text: "🔁 Loop", CallbackData: cbData("loop_toggle", chatID)},
			{Text: "🔀 Shuffle", CallbackData: cbData("shuffle", chatID)},
		},
		{
			{Text: "« Back", CallbackData: cbData("back_to_player", chatID)},
		},
	}}
}

// queueKeyboard pages through the queue; page and totalPages are 1-based.
func queueKeyboard(chatID int64, page, totalPages int) *telegram.InlineKeyboardMarkup {
	var nav []telegram.InlineKeyboardButton
	if page > 1 {
		nav = append(nav, telegram.InlineKeyboardButton{Text: "⬅️", CallbackData: cbDataPage("queue_nav", chatID, page-1)})
	}
	nav = append(nav, telegram.InlineKeyboardButton{Text: "🔄", CallbackData: cbDataPage("queue_nav", chatID, page)})
	if page < totalPages {
		nav = append(nav, telegram.InlineKeyboardButton{Text: "➡️", CallbackData: cbDataPage("queue_nav", chatID, page+1)})
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		nav,
		{{Text: "🎵 Player", CallbackData: cbData("back_to_player", chatID)}},
	}}
}

package facade

import (
	"testing"

	"vcmplayer/backend/internal/telegram"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data       string
		wantAction string
		wantChat   int64
		wantPage   int
		wantOK     bool
	}{
		{"player_pause:-100123", "player_pause", -100123, 1, true},
		{"queue_nav:-100123:3", "queue_nav", -100123, 3, true},
		{"queue_open:42:1", "queue_open", 42, 1, true},
		{"back_to_player:-5", "back_to_player", -5, 1, true},
		{"garbage", "", 0, 0, false},
		{"x:notanumber", "", 0, 0, false},
		{"x:1:0", "", 0, 0, false},
		{"x:1:nope", "", 0, 0, false},
		{"x:1:2:3", "", 0, 0, false},
		{"", "", 0, 0, false},
	}
	for _, tt := range tests {
		action, chat, page, ok := parseCallback(tt.data)
		if ok != tt.wantOK || action != tt.wantAction || chat != tt.wantChat || page != tt.wantPage {
			t.Errorf("parseCallback(%q) = (%q, %d, %d, %v), want (%q, %d, %d, %v)",
				tt.data, action, chat, page, ok, tt.wantAction, tt.wantChat, tt.wantPage, tt.wantOK)
		}
	}
}

func TestCallbackDataRoundTrips(t *testing.T) {
	keyboards := []*telegram.InlineKeyboardMarkup{
		playerControls(-100123, false),
		playerControls(-100123, true),
		settingsMenu(-100123),
		queueKeyboard(-100123, 2, 5),
	}
	for _, kb := range keyboards {
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				if _, chat, _, ok := parseCallback(btn.CallbackData); !ok || chat != -100123 {
					t.Errorf("button data %q does not parse back", btn.CallbackData)
				}
			}
		}
	}
}

func TestPlayerControlsToggle(t *testing.T) {
	playing := playerControls(-1, false)
	if got := playing.InlineKeyboard[0][0].CallbackData; got != "player_pause:-1" {
		t.Errorf("playing toggle = %q, want player_pause", got)
	}
	paused := playerControls(-1, true)
	if got := paused.InlineKeyboard[0][0].CallbackData; got != "player_play:-1" {
		t.Errorf("paused toggle = %q, want player_play", got)
	}
}

func TestQueueKeyboardEdges(t *testing.T) {
	first := queueKeyboard(-1, 1, 3)
	nav := first.InlineKeyboard[0]
	if len(nav) != 2 || nav[1].CallbackData != "queue_nav:-1:2" {
		t.Errorf("first page nav = %+v, want refresh+next", nav)
	}
	last := queueKeyboard(-1, 3, 3)
	nav = last.InlineKeyboard[0]
	if len(nav) != 2 || nav[0].CallbackData != "queue_nav:-1:2" {
		t.Errorf("last page nav = %+v, want prev+refresh", nav)
	}
	only := queueKeyboard(-1, 1, 1)
	if len(only.InlineKeyboard[0]) != 1 {
		t.Errorf("single page nav = %+v, want refresh only", only.InlineKeyboard[0])
	}
}

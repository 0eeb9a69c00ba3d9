package telegram

// The subset of Bot API objects this service touches. Field sets follow the
// platform docs; anything unused is left out.

// Update is one long-poll entry from getUpdates.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// User is a platform account, bot or human.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName is the best human-readable handle for announcements.
func (u *User) DisplayName() string {
	if u == nil {
		return "someone"
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = "@" + u.Username
	}
	return name
}

// Chat is a conversation: private, group, supergroup or channel.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// Message is an incoming or sent chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
	Audio     *Audio `json:"audio,omitempty"`
	Voice     *Voice `json:"voice,omitempty"`
}

// Audio is a music file attachment.
type Audio struct {
	FileID    string `json:"file_id"`
	Duration  int    `json:"duration"`
	Performer string `json:"performer,omitempty"`
	Title     string `json:"title,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
}

// Voice is a voice note attachment.
type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// File is the download handle returned by getFile.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// CallbackQuery is a press on an inline keyboard button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// ChatMemberInfo describes one user's standing in a chat.
type ChatMemberInfo struct {
	Status              string `json:"status"`
	User                User   `json:"user"`
	CanManageVideoChats bool   `json:"can_manage_video_chats,omitempty"`
}

// IsMember reports whether the user currently belongs to the chat.
func (m *ChatMemberInfo) IsMember() bool {
	switch m.Status {
	case "creator", "administrator", "member", "restricted":
		return true
	default:
		return false
	}
}

// ChatInviteLink is a bot-created invite.
type ChatInviteLink struct {
	InviteLink string `json:"invite_link"`
	Creator    User   `json:"creator"`
	IsRevoked  bool   `json:"is_revoked,omitempty"`
}

// InlineKeyboardMarkup is the reply_markup for inline buttons.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton is one button; exactly one of CallbackData or URL is set.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Package telegram is a minimal Bot API client covering what the playback
// service needs: long-polled updates, messages with inline keyboards, chat
// membership administration and file downloads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"vcmplayer/backend/pkg/logger"
)

// ParseModeHTML is the parse_mode used for every outgoing message; user-fed
// text must pass through EscapeHTML before interpolation.
const ParseModeHTML = "HTML"

// pollTimeout is the long-poll window passed to getUpdates. It must stay
// below the HTTP client timeout or every poll would error out.
const pollTimeout = 25

// APIError is a Bot API rejection (ok=false in the envelope).
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %s (code %d)", e.Method, e.Description, e.Code)
}

// IsNotModified reports the harmless edit error the API returns when new
// content equals the old; progress edits hit it whenever a track is paused.
func IsNotModified(err error) bool {
	var api *APIError
	if !asAPIError(err, &api) {
		return false
	}
	return strings.Contains(strings.ToLower(api.Description), "message is not modified")
}

// IsUserNotParticipant reports the getChatMember failure modes meaning the
// user is simply not in the chat.
func IsUserNotParticipant(err error) bool {
	var api *APIError
	if !asAPIError(err, &api) {
		return false
	}
	desc := strings.ToLower(api.Description)
	return strings.Contains(desc, "user not found") ||
		strings.Contains(desc, "participant_id_invalid") ||
		strings.Contains(desc, "user_not_participant")
}

// IsNotEnoughRights reports permission rejections: the bot is not an admin or
// lacks the specific right it tried to use.
func IsNotEnoughRights(err error) bool {
	var api *APIError
	if !asAPIError(err, &api) {
		return false
	}
	if api.Code == http.StatusForbidden {
		return true
	}
	desc := strings.ToLower(api.Description)
	return strings.Contains(desc, "not enough rights") ||
		strings.Contains(desc, "chat_admin_required") ||
		strings.Contains(desc, "need administrator rights")
}

func asAPIError(err error, target **APIError) bool {
	for err != nil {
		if api, ok := err.(*APIError); ok {
			*target = api
			return true
		}
		wrapped, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapped.Unwrap()
	}
	return false
}

// Client talks to one bot's API endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

// New creates a client for the given API base (usually
// https://api.telegram.org) and bot token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: time.Duration(pollTimeout+10) * time.Second,
		},
		log: logger.Named("telegram"),
	}
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// call posts params as JSON to bot<token>/<method> and decodes the result
// into out (which may be nil). A 429 waits out retry_after once.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	for attempt := 0; ; attempt++ {
		retryAfter, err := c.callOnce(ctx, method, params, out)
		if err == nil || retryAfter <= 0 || attempt > 0 {
			return err
		}
		c.log.Warn("rate limited by platform, backing off",
			zap.String("method", method),
			zap.Int("retry_after_seconds", retryAfter))
		timer := time.NewTimer(time.Duration(retryAfter) * time.Second)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (c *Client) callOnce(ctx context.Context, method string, params, out any) (retryAfter int, err error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var body io.Reader
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return 0, fmt.Errorf("marshal %s params: %w", method, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read %s response: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !env.OK {
		if env.Parameters != nil {
			retryAfter = env.Parameters.RetryAfter
		}
		return retryAfter, &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return 0, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return 0, nil
}

// GetMe returns the bot's own account, doubling as a token check at startup.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

type getUpdatesParams struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// GetUpdates long-polls for updates after offset. It blocks up to the poll
// window when nothing happens; an empty slice is a normal outcome.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", getUpdatesParams{
		Offset:         offset,
		Timeout:        pollTimeout,
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

type sendMessageParams struct {
	ChatID         int64                 `json:"chat_id"`
	Text           string                `json:"text"`
	ParseMode      string                `json:"parse_mode,omitempty"`
	ReplyMarkup    *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
	DisablePreview bool                  `json:"disable_web_page_preview,omitempty"`
}

// SendMessage posts text (HTML parse mode) with an optional inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageParams{
		ChatID:         chatID,
		Text:           text,
		ParseMode:      ParseModeHTML,
		ReplyMarkup:    markup,
		DisablePreview: true,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type editMessageParams struct {
	ChatID         int64                 `json:"chat_id"`
	MessageID      int64                 `json:"message_id"`
	Text           string                `json:"text"`
	ParseMode      string                `json:"parse_mode,omitempty"`
	ReplyMarkup    *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
	DisablePreview bool                  `json:"disable_web_page_preview,omitempty"`
}

// EditMessageText replaces a message's text and keyboard in place.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	return c.call(ctx, "editMessageText", editMessageParams{
		ChatID:         chatID,
		MessageID:      messageID,
		Text:           text,
		ParseMode:      ParseModeHTML,
		ReplyMarkup:    markup,
		DisablePreview: true,
	}, nil)
}

type editMarkupParams struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageReplyMarkup swaps a message's inline keyboard, leaving the text.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *InlineKeyboardMarkup) error {
	return c.call(ctx, "editMessageReplyMarkup", editMarkupParams{
		ChatID:      chatID,
		MessageID:   messageID,
		ReplyMarkup: markup,
	}, nil)
}

type deleteMessageParams struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// DeleteMessage removes a message the bot posted.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", deleteMessageParams{ChatID: chatID, MessageID: messageID}, nil)
}

type answerCallbackParams struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert,omitempty"`
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	}, nil)
}

type chatIDParams struct {
	ChatID int64 `json:"chat_id"`
}

// GetChat fetches chat metadata, mainly for the public username check.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	if err := c.call(ctx, "getChat", chatIDParams{ChatID: chatID}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

type chatMemberParams struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// GetChatMember returns one user's membership record in a chat.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMemberInfo, error) {
	var member ChatMemberInfo
	if err := c.call(ctx, "getChatMember", chatMemberParams{ChatID: chatID, UserID: userID}, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

type promoteParams struct {
	ChatID              int64 `json:"chat_id"`
	UserID              int64 `json:"user_id"`
	CanManageVideoChats bool  `json:"can_manage_video_chats"`
}

// PromoteChatMember grants the user voice-chat management rights. The bot
// itself must be an admin allowed to add new admins.
func (c *Client) PromoteChatMember(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "promoteChatMember", promoteParams{
		ChatID:              chatID,
		UserID:              userID,
		CanManageVideoChats: true,
	}, nil)
}

// CreateChatInviteLink makes a fresh single-use style invite for chats
// without a public handle.
func (c *Client) CreateChatInviteLink(ctx context.Context, chatID int64) (*ChatInviteLink, error) {
	var link ChatInviteLink
	if err := c.call(ctx, "createChatInviteLink", chatIDParams{ChatID: chatID}, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

type revokeLinkParams struct {
	ChatID     int64  `json:"chat_id"`
	InviteLink string `json:"invite_link"`
}

// RevokeChatInviteLink invalidates an invite produced by the bot.
func (c *Client) RevokeChatInviteLink(ctx context.Context, chatID int64, inviteLink string) error {
	return c.call(ctx, "revokeChatInviteLink", revokeLinkParams{ChatID: chatID, InviteLink: inviteLink}, nil)
}

type getFileParams struct {
	FileID string `json:"file_id"`
}

// GetFile resolves a file_id into a downloadable path on the API file server.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var file File
	if err := c.call(ctx, "getFile", getFileParams{FileID: fileID}, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// DownloadFile streams a file the bot received into destDir and returns the
// local path. The stored name keeps the platform's extension but is prefixed
// with the file id to avoid collisions.
func (c *Client) DownloadFile(ctx context.Context, file *File, destDir string) (string, error) {
	if file == nil || file.FilePath == "" {
		return "", fmt.Errorf("file has no download path")
	}
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	name := sanitizeFileName(file.FileID) + filepath.Ext(file.FilePath)
	localPath := filepath.Join(destDir, name)

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("write local file: %w", err)
	}

	c.log.Debug("file downloaded",
		zap.String("file_id", file.FileID),
		zap.String("path", localPath))
	return localPath, nil
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

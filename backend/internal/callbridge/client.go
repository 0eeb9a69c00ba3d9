// Package callbridge speaks over a WebSocket to the calls sidecar, the
// separate process that holds the assistant's user session and the media
// stack.
// Every playback action is a request/reply pair correlated by id; the sidecar
// additionally pushes unsolicited stream-end events when a source hits EOF.
package callbridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "vcmplayer/backend/pkg/errors"
	"vcmplayer/backend/pkg/logger"
)

// Operations understood by the sidecar.
const (
	OpJoin         = "JOIN"
	OpChangeStream = "CHANGE_STREAM"
	OpPause        = "PAUSE"
	OpResume       = "RESUME"
	OpLeave        = "LEAVE"
	OpSetVolume    = "SET_VOLUME"
	OpJoinChat     = "JOIN_CHAT"
	OpResult       = "RESULT"
	OpStreamEnd    = "STREAM_END"
)

// Error tags the sidecar puts in failed results. Anything else is a generic
// transport failure.
const (
	tagNoActiveCall      = "NO_ACTIVE_CALL"
	tagAlreadyJoined     = "ALREADY_JOINED"
	tagPrivacyRestricted = "PRIVACY_RESTRICTED"
)

const (
	writeTimeout    = 10 * time.Second
	maxBackoffDelay = 5 * time.Second
)

var errNotConnected = errors.New("bridge not connected")
var errConnectionLost = errors.New("bridge connection lost")

type request struct {
	Op     string `json:"op"`
	ID     string `json:"id"`
	ChatID int64  `json:"chat_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type response struct {
	Op     string `json:"op"`
	ID     string `json:"id,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type streamData struct {
	Source      string `json:"source"`
	SeekSeconds int    `json:"seek_seconds,omitempty"`
}

type volumeData struct {
	Level int `json:"level"`
}

type joinChatData struct {
	Target string `json:"target"`
}

// Client is the WebSocket client to the calls sidecar. It satisfies
// music.Transport; all methods are safe for concurrent use.
type Client struct {
	url string
	log *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[string]chan response
	onStreamEnd func(chatID int64)
}

// New creates a client for the sidecar at wsURL (for example
// ws://localhost:8765). Call Connect before issuing requests.
func New(wsURL string) *Client {
	return &Client{
		url:     wsURL,
		log:     logger.Named("callbridge"),
		pending: make(map[string]chan response),
	}
}

// SetOnStreamEnd registers the stream-end handler. Set it before Connect so
// no event can slip past.
func (c *Client) SetOnStreamEnd(fn func(chatID int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStreamEnd = fn
}

// WaitForBridge blocks until the sidecar accepts a connection, retrying with
// exponential backoff (doubled each attempt, capped at 5s).
func (c *Client) WaitForBridge(ctx context.Context, maxAttempts int, initialDelay time.Duration) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid bridge url: %w", err)
	}

	c.log.Info("waiting for calls sidecar", zap.String("url", u.String()))

	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			conn.Close()
			c.log.Info("calls sidecar is up", zap.Int("attempt", attempt))
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < maxAttempts {
			c.log.Debug("sidecar not ready, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("retry_delay", delay),
				zap.Error(err))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			delay *= 2
			if delay > maxBackoffDelay {
				delay = maxBackoffDelay
			}
		}
	}

	return fmt.Errorf("calls sidecar not available after %d attempts", maxAttempts)
}

// Connect dials the sidecar and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid bridge url: %w", err)
	}

	c.log.Info("connecting to calls sidecar", zap.String("url", u.String()))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial sidecar: %w", err)
	}
	c.conn = conn

	go c.readLoop(conn)
	return nil
}

// Close tears the connection down. In-flight requests fail with a
// connection-lost error once the read loop notices.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// readLoop owns all reads on conn: it matches RESULT frames to waiting
// requests and hands STREAM_END events to the registered handler.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg response
		if err := conn.ReadJSON(&msg); err != nil {
			c.failPending(conn, err)
			return
		}

		switch msg.Op {
		case OpResult:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- msg
			} else {
				c.log.Debug("dropping late result", zap.String("id", msg.ID))
			}
		case OpStreamEnd:
			c.mu.Lock()
			fn := c.onStreamEnd
			c.mu.Unlock()
			if fn != nil {
				// Off the read loop: a consumer stuck behind a busy engine
				// must not stall result delivery for every other chat.
				go fn(msg.ChatID)
			}
		default:
			c.log.Warn("unknown op from sidecar", zap.String("op", msg.Op))
		}
	}
}

// failPending closes every waiting request channel after the connection
// drops, so callers fail fast instead of waiting out their contexts.
func (c *Client) failPending(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pend := c.pending
	c.pending = make(map[string]chan response)
	c.mu.Unlock()

	if len(pend) > 0 {
		c.log.Warn("sidecar connection lost",
			zap.Int("in_flight", len(pend)), zap.Error(err))
	} else {
		c.log.Debug("sidecar read loop ended", zap.Error(err))
	}
	for _, ch := range pend {
		close(ch)
	}
}

// do sends one request and waits for its RESULT or the context.
func (c *Client) do(ctx context.Context, op string, chatID int64, data any) error {
	id := uuid.New().String()
	ch := make(chan response, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return apperrors.NewTransportFailure(chatID, op, errNotConnected)
	}
	c.pending[id] = ch
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(request{Op: op, ID: id, ChatID: chatID, Data: data})
	c.mu.Unlock()

	if err != nil {
		c.forget(id)
		return apperrors.NewTransportFailure(chatID, op, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return apperrors.NewTransportFailure(chatID, op, errConnectionLost)
		}
		return c.toError(chatID, op, resp)
	case <-ctx.Done():
		c.forget(id)
		return apperrors.NewTransportFailure(chatID, op, ctx.Err())
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// toError maps a failed result to the playback error taxonomy. The sidecar
// formats errors as "TAG" or "TAG: detail".
func (c *Client) toError(chatID int64, op string, resp response) error {
	if resp.OK {
		return nil
	}
	tag := resp.Error
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		tag = tag[:i]
	}
	switch strings.TrimSpace(tag) {
	case tagNoActiveCall:
		return apperrors.NewNoActiveCall(chatID)
	case tagAlreadyJoined:
		return apperrors.NewAlreadyJoined(chatID)
	case tagPrivacyRestricted:
		// The assistant account's privacy settings rejected a chat invite.
		return apperrors.NewAssistantBlocked(chatID, apperrors.BlockAssistantPrivacy, errors.New(resp.Error))
	default:
		return apperrors.NewTransportFailure(chatID, op, errors.New(resp.Error))
	}
}

// Join starts streaming source into the chat's active voice chat.
func (c *Client) Join(ctx context.Context, chatID int64, source string, seekSeconds int) error {
	return c.do(ctx, OpJoin, chatID, streamData{Source: source, SeekSeconds: seekSeconds})
}

// ChangeStream swaps the playing source without leaving the call.
func (c *Client) ChangeStream(ctx context.Context, chatID int64, source string, seekSeconds int) error {
	return c.do(ctx, OpChangeStream, chatID, streamData{Source: source, SeekSeconds: seekSeconds})
}

// Pause suspends the chat's stream.
func (c *Client) Pause(ctx context.Context, chatID int64) error {
	return c.do(ctx, OpPause, chatID, nil)
}

// Resume continues the chat's paused stream.
func (c *Client) Resume(ctx context.Context, chatID int64) error {
	return c.do(ctx, OpResume, chatID, nil)
}

// Leave disconnects the assistant from the chat's voice chat.
func (c *Client) Leave(ctx context.Context, chatID int64) error {
	return c.do(ctx, OpLeave, chatID, nil)
}

// SetVolume adjusts the call volume (1-200).
func (c *Client) SetVolume(ctx context.Context, chatID int64, level int) error {
	return c.do(ctx, OpSetVolume, chatID, volumeData{Level: level})
}

// JoinChat makes the assistant account join a chat by public handle or invite
// link. The assistant's user session lives in the sidecar, so membership
// changes go through it rather than the bot API.
func (c *Client) JoinChat(ctx context.Context, chatID int64, target string) error {
	return c.do(ctx, OpJoinChat, chatID, joinChatData{Target: target})
}

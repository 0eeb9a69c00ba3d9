package music

import "context"

// Resolver turns a free-text query or URL into a playable track. It performs
// network I/O and must honor cancellation; the engine always calls it off the
// run loop.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*Track, error)
}

// Transport is the voice-call capability the engine drives. Implementations
// route by chat id internally and are safe to call from distinct chat actors
// concurrently.
type Transport interface {
	Join(ctx context.Context, chatID int64, source string, seekSeconds int) error
	ChangeStream(ctx context.Context, chatID int64, source string, seekSeconds int) error
	Pause(ctx context.Context, chatID int64) error
	Resume(ctx context.Context, chatID int64) error
	Leave(ctx context.Context, chatID int64) error
	SetVolume(ctx context.Context, chatID int64, level int) error
}

// Presence makes sure the assistant account is in the chat with voice-chat
// management rights before the first join of a session.
type Presence interface {
	EnsureReady(ctx context.Context, chatID int64) error
}

package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeResolve represents track resolution errors
	ErrorTypeResolve ErrorType = "resolve"
	// ErrorTypeTransport represents voice-call transport errors
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypePresence represents assistant membership/promotion errors
	ErrorTypePresence ErrorType = "presence"
	// ErrorTypeStorage represents checkpoint storage errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeState represents playback state errors
	ErrorTypeState ErrorType = "state"
	// ErrorTypeCommand represents command handling errors
	ErrorTypeCommand ErrorType = "command"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Resolve Errors

// ErrResolveNotFound is returned when a query matches no playable track
type ErrResolveNotFound struct {
	*BaseError
	Query string
}

func NewResolveNotFound(query string) *ErrResolveNotFound {
	return &ErrResolveNotFound{
		BaseError: NewBaseError(ErrorTypeResolve, fmt.Sprintf("no results for: %s", query), nil),
		Query:     query,
	}
}

// ErrResolveUnavailable is returned when the extractor or network fails
type ErrResolveUnavailable struct {
	*BaseError
	Query string
}

func NewResolveUnavailable(query string, err error) *ErrResolveUnavailable {
	return &ErrResolveUnavailable{
		BaseError: NewBaseError(ErrorTypeResolve, fmt.Sprintf("source unavailable: %s", query), err),
		Query:     query,
	}
}

// ErrResolveForbidden is returned when the source refuses to serve the track
type ErrResolveForbidden struct {
	*BaseError
	Query string
}

func NewResolveForbidden(query string, err error) *ErrResolveForbidden {
	return &ErrResolveForbidden{
		BaseError: NewBaseError(ErrorTypeResolve, fmt.Sprintf("source refused: %s", query), err),
		Query:     query,
	}
}

// Transport Errors

// ErrNoActiveCall is returned when the chat has no live voice chat to join
type ErrNoActiveCall struct {
	*BaseError
	ChatID int64
}

func NewNoActiveCall(chatID int64) *ErrNoActiveCall {
	return &ErrNoActiveCall{
		BaseError: NewBaseError(ErrorTypeTransport, fmt.Sprintf("no active voice chat in %d", chatID), nil),
		ChatID:    chatID,
	}
}

// ErrAlreadyJoined is returned when the transport is already in the chat's call
type ErrAlreadyJoined struct {
	*BaseError
	ChatID int64
}

func NewAlreadyJoined(chatID int64) *ErrAlreadyJoined {
	return &ErrAlreadyJoined{
		BaseError: NewBaseError(ErrorTypeTransport, fmt.Sprintf("already joined call in %d", chatID), nil),
		ChatID:    chatID,
	}
}

// ErrTransportFailure is returned for any other voice transport failure
type ErrTransportFailure struct {
	*BaseError
	ChatID int64
	Op     string
}

func NewTransportFailure(chatID int64, op string, err error) *ErrTransportFailure {
	return &ErrTransportFailure{
		BaseError: NewBaseError(ErrorTypeTransport, fmt.Sprintf("transport %s failed in %d", op, chatID), err),
		ChatID:    chatID,
		Op:        op,
	}
}

// Presence Errors

// BlockReason distinguishes why the assistant could not be made ready
type BlockReason string

const (
	// BlockBotNotAdmin means the bot lacks the rights to promote or invite
	BlockBotNotAdmin BlockReason = "bot_not_admin"
	// BlockAssistantPrivacy means the assistant's privacy settings reject the invite
	BlockAssistantPrivacy BlockReason = "assistant_privacy_restricts"
	// BlockCannotInvite means no invite link could be produced for a private chat
	BlockCannotInvite BlockReason = "cannot_invite"
	// BlockPlatformError covers any other platform failure
	BlockPlatformError BlockReason = "platform_error"
)

// ErrAssistantBlocked is returned when the assistant cannot be made ready in a chat
type ErrAssistantBlocked struct {
	*BaseError
	ChatID int64
	Reason BlockReason
}

func NewAssistantBlocked(chatID int64, reason BlockReason, err error) *ErrAssistantBlocked {
	return &ErrAssistantBlocked{
		BaseError: NewBaseError(ErrorTypePresence, fmt.Sprintf("assistant blocked in %d: %s", chatID, reason), err),
		ChatID:    chatID,
		Reason:    reason,
	}
}

// Storage Errors

// ErrStorageFailure is returned when a checkpoint store operation fails
type ErrStorageFailure struct {
	*BaseError
	Op  string
	Key string
}

func NewStorageFailure(op, key string, err error) *ErrStorageFailure {
	return &ErrStorageFailure{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage %s failed for %s", op, key), err),
		Op:        op,
		Key:       key,
	}
}

// State Errors

// ErrMissingLocalFile is returned during resume when an uploaded file is gone
type ErrMissingLocalFile struct {
	*BaseError
	Path string
}

func NewMissingLocalFile(path string) *ErrMissingLocalFile {
	return &ErrMissingLocalFile{
		BaseError: NewBaseError(ErrorTypeState, fmt.Sprintf("local file missing: %s", path), nil),
		Path:      path,
	}
}

// Command Errors

// ErrNothingPlaying is returned when a playback command arrives with no active track
type ErrNothingPlaying struct {
	*BaseError
}

func NewNothingPlaying() *ErrNothingPlaying {
	return &ErrNothingPlaying{
		BaseError: NewBaseError(ErrorTypeCommand, "nothing is playing", nil),
	}
}

// ErrNotPaused is returned when resume is requested but playback is not paused
type ErrNotPaused struct {
	*BaseError
}

func NewNotPaused() *ErrNotPaused {
	return &ErrNotPaused{
		BaseError: NewBaseError(ErrorTypeCommand, "playback is not paused", nil),
	}
}

// ErrRateLimited is returned when a requester plays faster than the allowed interval
type ErrRateLimited struct {
	*BaseError
	RetryAfter time.Duration
}

func NewRateLimited(retryAfter time.Duration) *ErrRateLimited {
	return &ErrRateLimited{
		BaseError:  NewBaseError(ErrorTypeCommand, fmt.Sprintf("rate limited, retry in %s", retryAfter.Round(time.Second)), nil),
		RetryAfter: retryAfter,
	}
}

// ErrQueueFull is returned when a chat queue is at its hard cap
type ErrQueueFull struct {
	*BaseError
	Limit int
}

func NewQueueFull(limit int) *ErrQueueFull {
	return &ErrQueueFull{
		BaseError: NewBaseError(ErrorTypeCommand, fmt.Sprintf("queue is full (max %d)", limit), nil),
		Limit:     limit,
	}
}

// ErrBadQueueIndex is returned when a queue position does not exist or holds
// the playing track, which only skip may displace
type ErrBadQueueIndex struct {
	*BaseError
	Position int // 1-based, the way the queue listing shows it
}

func NewBadQueueIndex(position int) *ErrBadQueueIndex {
	return &ErrBadQueueIndex{
		BaseError: NewBaseError(ErrorTypeCommand, fmt.Sprintf("no movable track at position %d", position), nil),
		Position:  position,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// baseType is promoted into every typed error that embeds *BaseError, so a
// single assertion covers the whole taxonomy.
func (e *BaseError) baseType() ErrorType { return e.Type }

// IsErrorType checks if an error (or anything it wraps) is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if typed, ok := err.(interface{ baseType() ErrorType }); ok {
			return typed.baseType() == errType
		}
		wrapped, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapped.Unwrap()
	}
	return false
}

// IsAlreadyJoined reports whether err is the transport's already-joined signal
func IsAlreadyJoined(err error) bool {
	_, ok := err.(*ErrAlreadyJoined)
	return ok
}

// IsNoActiveCall reports whether err means the chat has no live voice chat
func IsNoActiveCall(err error) bool {
	_, ok := err.(*ErrNoActiveCall)
	return ok
}

// IsRetryable reports whether the engine may retry the failed operation
func IsRetryable(err error) bool {
	// Only extractor/network hiccups are worth retrying; a missing or
	// refused track will not appear on the next attempt.
	if _, ok := err.(*ErrResolveUnavailable); ok {
		return true
	}
	if _, ok := err.(*ErrStorageFailure); ok {
		return true
	}
	return false
}

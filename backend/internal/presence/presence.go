// Package presence brings the assistant account into a chat with voice-chat
// management rights before a playback session starts. The bot identity can
// administrate but never join calls; the assistant can join calls but has no
// rights until the bot grants them.
package presence

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"vcmplayer/backend/internal/telegram"
	apperrors "vcmplayer/backend/pkg/errors"
	"vcmplayer/backend/pkg/logger"
)

// Admin is the bot-side administration surface, satisfied by the telegram
// client.
type Admin interface {
	GetChat(ctx context.Context, chatID int64) (*telegram.Chat, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (*telegram.ChatMemberInfo, error)
	PromoteChatMember(ctx context.Context, chatID, userID int64) error
	CreateChatInviteLink(ctx context.Context, chatID int64) (*telegram.ChatInviteLink, error)
	RevokeChatInviteLink(ctx context.Context, chatID int64, inviteLink string) error
}

// Joiner moves the assistant account into a chat by public handle or invite
// link. It is satisfied by the callbridge client: the assistant's session
// lives in the calls sidecar, so membership changes have to go through it.
type Joiner interface {
	JoinChat(ctx context.Context, chatID int64, target string) error
}

// Manager implements music.Presence.
type Manager struct {
	bot         Admin
	assistant   Joiner
	assistantID int64
	log         *zap.Logger
}

func NewManager(bot Admin, assistant Joiner, assistantID int64) *Manager {
	return &Manager{
		bot:         bot,
		assistant:   assistant,
		assistantID: assistantID,
		log:         logger.Named("presence"),
	}
}

// EnsureReady walks the readiness ladder: already set up, promote-only, or
// join-then-promote. Every failure maps to an ErrAssistantBlocked with a
// reason the user can act on.
func (m *Manager) EnsureReady(ctx context.Context, chatID int64) error {
	member, err := m.bot.GetChatMember(ctx, chatID, m.assistantID)
	switch {
	case err == nil && member.IsMember():
		if member.Status == "creator" || member.CanManageVideoChats {
			return nil
		}
		m.log.Debug("assistant present but unprivileged, promoting",
			zap.Int64("chat_id", chatID))
		return m.promote(ctx, chatID)
	case err == nil:
		// membership record exists but the assistant left or was removed
	case telegram.IsUserNotParticipant(err):
	default:
		return apperrors.NewAssistantBlocked(chatID, apperrors.BlockPlatformError, err)
	}

	if err := m.join(ctx, chatID); err != nil {
		return err
	}
	m.log.Info("assistant joined chat", zap.Int64("chat_id", chatID))
	return m.promote(ctx, chatID)
}

// join brings the assistant in through the chat's public handle when it has
// one, otherwise through a bot-created invite link that is revoked right
// after use.
func (m *Manager) join(ctx context.Context, chatID int64) error {
	chat, err := m.bot.GetChat(ctx, chatID)
	if err != nil {
		return apperrors.NewAssistantBlocked(chatID, apperrors.BlockPlatformError, err)
	}

	if chat.Username != "" {
		if err := m.assistant.JoinChat(ctx, chatID, chat.Username); err != nil {
			return m.joinError(chatID, err)
		}
		return nil
	}

	link, err := m.bot.CreateChatInviteLink(ctx, chatID)
	if err != nil {
		if telegram.IsNotEnoughRights(err) {
			return apperrors.NewAssistantBlocked(chatID, apperrors.BlockCannotInvite, err)
		}
		return apperrors.NewAssistantBlocked(chatID, apperrors.BlockPlatformError, err)
	}
	joinErr := m.assistant.JoinChat(ctx, chatID, link.InviteLink)
	if err := m.bot.RevokeChatInviteLink(ctx, chatID, link.InviteLink); err != nil {
		m.log.Warn("could not revoke invite link",
			zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if joinErr != nil {
		return m.joinError(chatID, joinErr)
	}
	return nil
}

// joinError keeps the sidecar's own taxonomy mapping (privacy rejections
// arrive pre-tagged) and wraps everything else as a platform error.
func (m *Manager) joinError(chatID int64, err error) error {
	var blocked *apperrors.ErrAssistantBlocked
	if errors.As(err, &blocked) {
		return err
	}
	return apperrors.NewAssistantBlocked(chatID, apperrors.BlockPlatformError, err)
}

func (m *Manager) promote(ctx context.Context, chatID int64) error {
	if err := m.bot.PromoteChatMember(ctx, chatID, m.assistantID); err != nil {
		if telegram.IsNotEnoughRights(err) {
			return apperrors.NewAssistantBlocked(chatID, apperrors.BlockBotNotAdmin, err)
		}
		return apperrors.NewAssistantBlocked(chatID, apperrors.BlockPlatformError, err)
	}
	m.log.Info("assistant promoted", zap.Int64("chat_id", chatID))
	return nil
}

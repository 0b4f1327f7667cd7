// internal/messaging/repository.go

package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrUserNotFound         = errors.New("user not found")
)

type Repository interface {
	// Users
	UpsertUser(ctx context.Context, user *UserInfo) error
	GetUserInfo(ctx context.Context, userID string) (*UserInfo, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetDirectConversation(ctx context.Context, user1ID, user2ID string) (*Conversation, error)
	GetUserConversations(ctx context.Context, userID string) ([]*Conversation, error)
	RenameConversation(ctx context.Context, id, name string) error
	UpdateConversationAvatar(ctx context.Context, id, avatarURL string) error

	// Participants
	GetConversationParticipants(ctx context.Context, convID string) ([]*Participant, error)
	IsUserInConversation(ctx context.Context, userID, convID string) (bool, error)
	RemoveParticipant(ctx context.Context, convID, userID string) error
	ToggleMuted(ctx context.Context, convID, userID string) (bool, error)
	IncrementUnreadCount(ctx context.Context, convID, exceptUserID string) error
	ResetUnreadCount(ctx context.Context, convID, userID string) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessageByClientID(ctx context.Context, senderID, clientID string) (*Message, error)
	GetConversationMessages(ctx context.Context, convID string, limit int) ([]*Message, error)
	// Mutations write only the columns they own, bump the version and
	// return the row as stored afterwards.
	EditMessage(ctx context.Context, id, content string, editedAt time.Time) (*Message, error)
	DeleteMessage(ctx context.Context, id string, deletedAt time.Time) (msg *Message, changed bool, err error)
	TogglePin(ctx context.Context, id, userID string, at time.Time) (*Message, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, int64, error)
	SearchMessages(ctx context.Context, userID, query string, limit int) ([]*SearchResult, error)
	GetPinnedMessages(ctx context.Context, convID string) ([]*Message, error)
}

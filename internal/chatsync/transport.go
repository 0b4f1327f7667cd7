// internal/chatsync/transport.go

package chatsync

import (
	"context"
	"errors"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

var (
	ErrNotConnected = errors.New("event stream not connected")
)

// API is the request/response collaborator of the synchronizer.
type API interface {
	ListConversations(ctx context.Context) ([]*messaging.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]*messaging.Message, error)
	SendMessage(ctx context.Context, req *messaging.SendMessageRequest) (*messaging.Message, error)
	EditMessage(ctx context.Context, req *messaging.EditMessageRequest) (*messaging.Message, error)
	DeleteMessage(ctx context.Context, ref *messaging.MessageRef) (*messaging.Message, error)
	ToggleReaction(ctx context.Context, req *messaging.ReactionRequest) (*messaging.Message, error)
	TogglePin(ctx context.Context, ref *messaging.MessageRef) (*messaging.Message, error)
	ForwardMessage(ctx context.Context, req *messaging.ForwardRequest) (*messaging.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	CreateDirect(ctx context.Context, userID string) (*messaging.Conversation, error)
	CreateGroup(ctx context.Context, name string, userIDs []string) (*messaging.Conversation, error)
	RenameConversation(ctx context.Context, conversationID, name string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	ToggleMuteConversation(ctx context.Context, conversationID string) error
	SearchMessages(ctx context.Context, query string) ([]*messaging.SearchResult, error)
	GetPinnedMessages(ctx context.Context, conversationID string) ([]*messaging.Message, error)
}

// Stream is the persistent event-stream collaborator. Connection
// lifecycle belongs to the implementation; the synchronizer only emits
// commands and reacts to what is delivered.
type Stream interface {
	Connected() bool
	Emit(ctx context.Context, command string, payload interface{}) error
}

// EventHandler receives frames and connection notifications from a Stream.
type EventHandler interface {
	HandleEnvelope(env messaging.Envelope)
	HandleConnect()
}

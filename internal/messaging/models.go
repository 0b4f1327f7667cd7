// internal/messaging/models.go

package messaging

import (
	"encoding/json"
	"time"
)

// ConversationKind distinguishes direct chats, ad-hoc groups and team channels.
type ConversationKind string

const (
	KindDirect      ConversationKind = "direct"
	KindGroup       ConversationKind = "group"
	KindTeamChannel ConversationKind = "team_channel"
)

// ParticipantRole is the role a user holds inside a conversation.
type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// MessageType separates user-authored text from gateway-generated notices.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// SendStatus is the client-side delivery state of a message. The gateway
// never sets it; it stays empty on the wire.
type SendStatus string

const (
	StatusSent    SendStatus = ""
	StatusPending SendStatus = "pending"
	StatusFailed  SendStatus = "failed"
)

// UserInfo is the public summary of a user
type UserInfo struct {
	ID          string  `json:"id" db:"id"`
	Username    string  `json:"username" db:"username"`
	DisplayName string  `json:"display_name" db:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty" db:"avatar_url"`
	Email       *string `json:"-" db:"email"`
	Phone       *string `json:"-" db:"phone"`
}

// Name returns the display name, falling back to the username.
func (u UserInfo) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Participant represents a conversation participant
type Participant struct {
	UserID   string          `json:"user_id" db:"user_id"`
	Role     ParticipantRole `json:"role" db:"role"`
	JoinedAt time.Time       `json:"joined_at" db:"joined_at"`
	Online   bool            `json:"online"`
	User     *UserInfo       `json:"user,omitempty"`

	// Per-user state, only meaningful to the gateway
	IsMuted     bool `json:"-" db:"is_muted"`
	UnreadCount int  `json:"-" db:"unread_count"`
}

// LastMessage summarises the most recent message of a conversation.
type LastMessage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Deleted    bool      `json:"deleted,omitempty"`
}

// Conversation is the per-user view of a chat conversation
type Conversation struct {
	ID           string           `json:"id" db:"id"`
	Kind         ConversationKind `json:"kind" db:"kind"`
	Name         string           `json:"name" db:"name"`
	AvatarURL    *string          `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedBy    string           `json:"created_by" db:"created_by"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	Participants []*Participant   `json:"participants"`
	LastMessage  *LastMessage     `json:"last_message,omitempty"`
	UnreadCount  int              `json:"unread_count"`
	HasUnread    bool             `json:"has_unread"`
	IsMuted      bool             `json:"is_muted"`
	PinnedCount  int              `json:"pinned_count"`
}

// Participant returns the participant entry for userID, or nil.
func (c *Conversation) Participant(userID string) *Participant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Reaction is one user's emoji on a message. A user holds at most one
// reaction per emoji per message.
type Reaction struct {
	Emoji     string    `json:"emoji" db:"emoji"`
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ReplyRef is the denormalised target of a reply.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
}

// ForwardRef points at the message a forward was copied from.
type ForwardRef struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderName     string `json:"sender_name"`
}

// Message represents a chat message
type Message struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"client_id,omitempty"`
	ConversationID string      `json:"conversation_id"`
	Sender         UserInfo    `json:"sender"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
	PinnedAt       *time.Time  `json:"pinned_at,omitempty"`
	IsPinned       bool        `json:"is_pinned"`
	PinnedBy       *string     `json:"pinned_by,omitempty"`
	Reactions      []Reaction  `json:"reactions"`
	ReplyTo        *ReplyRef   `json:"reply_to,omitempty"`
	ForwardedFrom  *ForwardRef `json:"forwarded_from,omitempty"`
	Version        int64       `json:"version"`

	Status SendStatus `json:"-"`
}

// IsDeleted reports whether the message is a tombstone.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Summary builds the LastMessage pointer for this message.
func (m *Message) Summary() *LastMessage {
	lm := &LastMessage{
		ID:         m.ID,
		Content:    m.Content,
		SenderID:   m.Sender.ID,
		SenderName: m.Sender.Name(),
		CreatedAt:  m.CreatedAt,
	}
	if m.IsDeleted() {
		lm.Content = ""
		lm.Deleted = true
	}
	return lm
}

// Clone returns a copy that shares no slices or pointers with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Reactions != nil {
		c.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	c.EditedAt = cloneTime(m.EditedAt)
	c.DeletedAt = cloneTime(m.DeletedAt)
	c.PinnedAt = cloneTime(m.PinnedAt)
	if m.PinnedBy != nil {
		v := *m.PinnedBy
		c.PinnedBy = &v
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.ForwardedFrom != nil {
		f := *m.ForwardedFrom
		c.ForwardedFrom = &f
	}
	return &c
}

// Clone returns a copy that shares no slices or pointers with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	if c.Participants != nil {
		out.Participants = make([]*Participant, len(c.Participants))
		for i, p := range c.Participants {
			cp := *p
			if p.User != nil {
				u := *p.User
				cp.User = &u
			}
			out.Participants[i] = &cp
		}
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SearchResult is a message hit with the conversation it belongs to.
type SearchResult struct {
	Message          *Message `json:"message"`
	ConversationName string   `json:"conversation_name"`
}

// Envelope wraps every frame exchanged over the event stream
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(eventType string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// Events pushed by the gateway
const (
	EventMessage             = "chat:message"
	EventMessageUpdated      = "chat:message-updated"
	EventMessageDeleted      = "chat:message-deleted"
	EventReaction            = "chat:reaction"
	EventMessagePinned       = "chat:message-pinned"
	EventPresence            = "chat:presence"
	EventTyping              = "chat:typing"
	EventOnlineUsers         = "chat:online-users"
	EventConversationRenamed = "chat:conversation-renamed"
	EventParticipantLeft     = "chat:participant-left"
	EventNotification        = "chat:notification"
	EventError               = "chat:error"
)

// Commands accepted by the gateway
const (
	CommandJoin      = "chat:join"
	CommandLeave     = "chat:leave"
	CommandSend      = "chat:send"
	CommandEdit      = "chat:edit"
	CommandDelete    = "chat:delete"
	CommandReaction  = "chat:reaction"
	CommandPin       = "chat:pin"
	CommandForward   = "chat:forward"
	CommandTyping    = "chat:typing"
	CommandRead      = "chat:read"
	CommandGetOnline = "chat:get-online"
)

// Request DTOs, shared by the REST surface and websocket commands

type ConversationRef struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=4000"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
	ClientID       string `json:"client_id,omitempty" validate:"omitempty,max=64"`
}

type EditMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=4000"`
}

type MessageRef struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id" validate:"required"`
}

type ReactionRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id" validate:"required"`
	Emoji          string `json:"emoji" validate:"required,max=32"`
}

type ForwardRequest struct {
	ConversationID       string `json:"conversation_id"`
	MessageID            string `json:"message_id" validate:"required"`
	TargetConversationID string `json:"target_conversation_id" validate:"required"`
}

type CreateDirectRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type CreateGroupRequest struct {
	Name    string           `json:"name" validate:"required,max=100"`
	Kind    ConversationKind `json:"kind,omitempty" validate:"omitempty,oneof=group team_channel"`
	UserIDs []string         `json:"user_ids" validate:"required,min=1,dive,required"`
}

type RenameConversationRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// Event payloads

type TypingPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	UserID         string `json:"user_id,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

type ReactionEvent struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id"`
	Reactions      []Reaction `json:"reactions"`
	Version        int64      `json:"version"`
}

type PinEvent struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id"`
	IsPinned       bool       `json:"is_pinned"`
	PinnedBy       *string    `json:"pinned_by,omitempty"`
	PinnedAt       *time.Time `json:"pinned_at,omitempty"`
	Version        int64      `json:"version"`
}

type PresenceEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type OnlineUsersEvent struct {
	UserIDs []string `json:"user_ids"`
}

type ConversationRenamedEvent struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
}

type ParticipantLeftEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type NotificationEvent struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
}

type ErrorEvent struct {
	Command  string `json:"command"`
	ClientID string `json:"client_id,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Notification kinds
const (
	NotificationConversationCreated = "conversation_created"
	NotificationAvatarChanged       = "avatar_changed"
)

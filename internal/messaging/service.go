// internal/messaging/service.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotParticipant = errors.New("not a participant in this conversation")
	ErrInvalidRequest = errors.New("invalid request")
	ErrMessageDeleted = errors.New("message has been deleted")
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 500
	searchLimit         = 50
	previewLength       = 80
)

type Service interface {
	// Users
	RegisterUser(ctx context.Context, user *UserInfo) error

	// Conversation management
	GetUserConversations(ctx context.Context, userID string) ([]*Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error)
	CreateDirectConversation(ctx context.Context, userID, otherUserID string) (*Conversation, error)
	CreateGroupConversation(ctx context.Context, userID string, req *CreateGroupRequest) (*Conversation, error)
	RenameConversation(ctx context.Context, userID, conversationID, name string) (*Conversation, error)
	LeaveConversation(ctx context.Context, userID, conversationID string) error
	ToggleMute(ctx context.Context, userID, conversationID string) (bool, error)
	SetConversationAvatar(ctx context.Context, userID, conversationID string, file io.Reader, filename, contentType string) (string, error)
	GetConversationParticipants(ctx context.Context, conversationID string) ([]*Participant, error)
	IsUserInConversation(ctx context.Context, userID, conversationID string) bool

	// Messages
	GetConversationMessages(ctx context.Context, conversationID, userID string, limit int) ([]*Message, error)
	SendMessage(ctx context.Context, userID string, req *SendMessageRequest) (*Message, error)
	EditMessage(ctx context.Context, userID string, req *EditMessageRequest) (*Message, error)
	DeleteMessage(ctx context.Context, userID, messageID string) (*Message, error)
	ToggleReaction(ctx context.Context, userID string, req *ReactionRequest) (*Message, error)
	TogglePin(ctx context.Context, userID, messageID string) (*Message, error)
	ForwardMessage(ctx context.Context, userID string, req *ForwardRequest) (*Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) error
	SearchMessages(ctx context.Context, userID, query string) ([]*SearchResult, error)
	GetPinnedMessages(ctx context.Context, userID, conversationID string) ([]*Message, error)

	// Typing indicators
	NotifyTyping(ctx context.Context, userID, conversationID string, isTyping bool) error

	// Hub management
	SetHub(hub Publisher)
}

// Publisher fans envelopes out to live connections. *Hub implements it.
type Publisher interface {
	Publish(ctx context.Context, d Delivery)
	IsOnline(ctx context.Context, userID string) bool
	EvictUser(ctx context.Context, conversationID, userID string)
}

type MessageService struct {
	repo     Repository
	hub      Publisher
	storage  StorageService
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, storage StorageService, notifier Notifier, logger zerolog.Logger) *MessageService {
	return &MessageService{
		repo:     repo,
		storage:  storage,
		notifier: notifier,
		logger:   logger.With().Str("component", "messaging").Logger(),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// SetHub sets the hub after initialization to avoid circular dependency
func (s *MessageService) SetHub(hub Publisher) {
	s.hub = hub
}

func (s *MessageService) RegisterUser(ctx context.Context, user *UserInfo) error {
	if user.ID == "" {
		return ErrInvalidRequest
	}
	if user.Username == "" {
		user.Username = user.ID
	}
	return s.repo.UpsertUser(ctx, user)
}

// Conversations

func (s *MessageService) GetUserConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	convs, err := s.repo.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for _, conv := range convs {
		s.decorate(ctx, conv, userID)
	}
	return convs, nil
}

func (s *MessageService) GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	self := conv.Participant(userID)
	if self == nil {
		return nil, ErrNotParticipant
	}
	conv.UnreadCount = self.UnreadCount
	conv.HasUnread = self.UnreadCount > 0
	conv.IsMuted = self.IsMuted
	s.decorate(ctx, conv, userID)
	return conv, nil
}

// decorate fills presence flags and names a direct conversation after the
// other participant.
func (s *MessageService) decorate(ctx context.Context, conv *Conversation, userID string) {
	for _, p := range conv.Participants {
		if s.hub != nil {
			p.Online = s.hub.IsOnline(ctx, p.UserID)
		}
		if conv.Kind == KindDirect && conv.Name == "" && p.UserID != userID && p.User != nil {
			conv.Name = p.User.Name()
		}
	}
}

func (s *MessageService) CreateDirectConversation(ctx context.Context, userID, otherUserID string) (*Conversation, error) {
	if otherUserID == "" || otherUserID == userID {
		return nil, ErrInvalidRequest
	}
	if _, err := s.repo.GetUserInfo(ctx, otherUserID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetDirectConversation(ctx, userID, otherUserID)
	if err == nil {
		return s.GetConversation(ctx, existing.ID, userID)
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	now := s.now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Kind:      KindDirect,
		CreatedBy: userID,
		CreatedAt: now,
		Participants: []*Participant{
			{UserID: userID, Role: RoleMember, JoinedAt: now},
			{UserID: otherUserID, Role: RoleMember, JoinedAt: now},
		},
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create direct conversation: %w", err)
	}

	s.publishEvent(ctx, Delivery{UserIDs: []string{otherUserID}}, EventNotification, NotificationEvent{
		Kind:           NotificationConversationCreated,
		ConversationID: conv.ID,
	})
	return s.GetConversation(ctx, conv.ID, userID)
}

func (s *MessageService) CreateGroupConversation(ctx context.Context, userID string, req *CreateGroupRequest) (*Conversation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidRequest
	}
	kind := req.Kind
	if kind == "" {
		kind = KindGroup
	}
	if kind == KindDirect {
		return nil, ErrInvalidRequest
	}

	now := s.now()
	conv := &Conversation{
		ID:           uuid.NewString(),
		Kind:         kind,
		Name:         name,
		CreatedBy:    userID,
		CreatedAt:    now,
		Participants: []*Participant{{UserID: userID, Role: RoleAdmin, JoinedAt: now}},
	}

	seen := map[string]bool{userID: true}
	var invited []string
	for _, id := range req.UserIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.repo.GetUserInfo(ctx, id); err != nil {
			return nil, fmt.Errorf("participant %s: %w", id, err)
		}
		conv.Participants = append(conv.Participants, &Participant{UserID: id, Role: RoleMember, JoinedAt: now})
		invited = append(invited, id)
	}
	if len(invited) == 0 {
		return nil, ErrInvalidRequest
	}

	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create group conversation: %w", err)
	}

	s.publishEvent(ctx, Delivery{UserIDs: invited}, EventNotification, NotificationEvent{
		Kind:           NotificationConversationCreated,
		ConversationID: conv.ID,
		Text:           name,
	})
	return s.GetConversation(ctx, conv.ID, userID)
}

func (s *MessageService) RenameConversation(ctx context.Context, userID, conversationID, name string) (*Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidRequest
	}
	conv, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.Kind == KindDirect {
		return nil, ErrInvalidRequest
	}

	if err := s.repo.RenameConversation(ctx, conversationID, name); err != nil {
		return nil, err
	}
	conv.Name = name

	s.publishEvent(ctx, Delivery{UserIDs: participantIDs(conv.Participants)}, EventConversationRenamed,
		ConversationRenamedEvent{ConversationID: conversationID, Name: name})
	return conv, nil
}

// LeaveConversation removes the user, posts a system notice to the remaining
// participants and tells everyone, the leaver included, who left.
func (s *MessageService) LeaveConversation(ctx context.Context, userID, conversationID string) error {
	parts, err := s.repo.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	var leaver *Participant
	for _, p := range parts {
		if p.UserID == userID {
			leaver = p
		}
	}
	if leaver == nil {
		return ErrNotParticipant
	}

	if err := s.repo.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if s.hub != nil {
		s.hub.EvictUser(ctx, conversationID, userID)
	}

	sender := UserInfo{ID: userID, Username: userID}
	if leaver.User != nil {
		sender = *leaver.User
	}
	notice := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        fmt.Sprintf("%s left the conversation", sender.Name()),
		Type:           MessageTypeSystem,
		CreatedAt:      s.now(),
		Reactions:      []Reaction{},
		Version:        1,
	}
	if err := s.repo.CreateMessage(ctx, notice); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to record leave notice")
	} else {
		messagesTotal.WithLabelValues(string(MessageTypeSystem)).Inc()
		var remaining []string
		for _, p := range parts {
			if p.UserID != userID {
				remaining = append(remaining, p.UserID)
			}
		}
		s.publishEvent(ctx, Delivery{UserIDs: remaining}, EventMessage, notice)
	}

	s.publishEvent(ctx, Delivery{UserIDs: participantIDs(parts)}, EventParticipantLeft,
		ParticipantLeftEvent{ConversationID: conversationID, UserID: userID})
	return nil
}

func (s *MessageService) ToggleMute(ctx context.Context, userID, conversationID string) (bool, error) {
	return s.repo.ToggleMuted(ctx, conversationID, userID)
}

func (s *MessageService) SetConversationAvatar(ctx context.Context, userID, conversationID string, file io.Reader, filename, contentType string) (string, error) {
	if s.storage == nil {
		return "", errors.New("avatar storage is not configured")
	}
	conv, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return "", err
	}
	if conv.Kind == KindDirect {
		return "", ErrInvalidRequest
	}

	key := fmt.Sprintf("conversations/%s/avatar-%d%s", conversationID, s.now().Unix(), strings.ToLower(path.Ext(filename)))
	url, err := s.storage.Upload(ctx, key, file, contentType)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.repo.UpdateConversationAvatar(ctx, conversationID, url); err != nil {
		return "", err
	}

	s.publishEvent(ctx, Delivery{UserIDs: participantIDs(conv.Participants)}, EventNotification, NotificationEvent{
		Kind:           NotificationAvatarChanged,
		ConversationID: conversationID,
	})
	return url, nil
}

func (s *MessageService) GetConversationParticipants(ctx context.Context, conversationID string) ([]*Participant, error) {
	return s.repo.GetConversationParticipants(ctx, conversationID)
}

func (s *MessageService) IsUserInConversation(ctx context.Context, userID, conversationID string) bool {
	ok, err := s.repo.IsUserInConversation(ctx, userID, conversationID)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("participant check failed")
		return false
	}
	return ok
}

// Messages

func (s *MessageService) GetConversationMessages(ctx context.Context, conversationID, userID string, limit int) ([]*Message, error) {
	if !s.IsUserInConversation(ctx, userID, conversationID) {
		return nil, ErrNotParticipant
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	return s.repo.GetConversationMessages(ctx, conversationID, limit)
}

// SendMessage stores and fans out a new message. A repeated client_id from
// the same sender returns the stored message instead of creating another.
func (s *MessageService) SendMessage(ctx context.Context, userID string, req *SendMessageRequest) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrInvalidRequest
	}

	parts, err := s.repo.GetConversationParticipants(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !containsParticipant(parts, userID) {
		return nil, ErrNotParticipant
	}

	if req.ClientID != "" {
		existing, err := s.repo.GetMessageByClientID(ctx, userID, req.ClientID)
		if err == nil {
			s.publishEvent(ctx, Delivery{UserIDs: []string{userID}}, EventMessage, existing)
			return existing, nil
		}
		if !errors.Is(err, ErrMessageNotFound) {
			return nil, err
		}
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ClientID:       req.ClientID,
		ConversationID: req.ConversationID,
		Sender:         s.senderInfo(ctx, parts, userID),
		Content:        content,
		Type:           MessageTypeText,
		CreatedAt:      s.now(),
		Reactions:      []Reaction{},
		Version:        1,
	}

	if req.ReplyToID != "" {
		target, err := s.repo.GetMessage(ctx, req.ReplyToID)
		if err != nil {
			return nil, err
		}
		if target.ConversationID != req.ConversationID {
			return nil, ErrInvalidRequest
		}
		msg.ReplyTo = &ReplyRef{MessageID: target.ID, SenderName: target.Sender.Name(), Content: target.Content}
		if target.IsDeleted() {
			msg.ReplyTo.Content = ""
		}
	}

	if err := s.deliverNew(ctx, msg, parts); err != nil {
		return nil, err
	}
	return msg, nil
}

// deliverNew persists a fresh message, bumps unread counters and fans it out.
func (s *MessageService) deliverNew(ctx context.Context, msg *Message, parts []*Participant) error {
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if err := s.repo.IncrementUnreadCount(ctx, msg.ConversationID, msg.Sender.ID); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("failed to update unread counters")
	}

	label := string(msg.Type)
	if msg.ForwardedFrom != nil {
		label = "forward"
	}
	messagesTotal.WithLabelValues(label).Inc()

	s.publishEvent(ctx, Delivery{UserIDs: participantIDs(parts)}, EventMessage, msg)
	s.notifyOffline(ctx, msg, parts)
	return nil
}

func (s *MessageService) EditMessage(ctx context.Context, userID string, req *EditMessageRequest) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrInvalidRequest
	}
	msg, err := s.ownedMessage(ctx, userID, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, ErrMessageDeleted
	}

	updated, err := s.repo.EditMessage(ctx, msg.ID, content, s.now())
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	s.publishEvent(ctx, roomDelivery(updated.ConversationID, userID), EventMessageUpdated, updated)
	return updated, nil
}

// DeleteMessage turns the message into a tombstone. Deleting a tombstone is a
// no-op that returns it unchanged.
func (s *MessageService) DeleteMessage(ctx context.Context, userID, messageID string) (*Message, error) {
	msg, err := s.ownedMessage(ctx, userID, "", messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return msg, nil
	}

	deleted, changed, err := s.repo.DeleteMessage(ctx, msg.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	if changed {
		s.publishEvent(ctx, roomDelivery(deleted.ConversationID, userID), EventMessageDeleted, deleted)
	}
	return deleted, nil
}

func (s *MessageService) ToggleReaction(ctx context.Context, userID string, req *ReactionRequest) (*Message, error) {
	if strings.TrimSpace(req.Emoji) == "" {
		return nil, ErrInvalidRequest
	}
	msg, err := s.visibleMessage(ctx, userID, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, ErrMessageDeleted
	}

	reactions, version, err := s.repo.ToggleReaction(ctx, msg.ID, userID, req.Emoji)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	msg.Reactions = reactions
	msg.Version = version

	s.publishEvent(ctx, roomDelivery(msg.ConversationID, userID), EventReaction, ReactionEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Reactions:      reactions,
		Version:        version,
	})
	return msg, nil
}

func (s *MessageService) TogglePin(ctx context.Context, userID, messageID string) (*Message, error) {
	msg, err := s.visibleMessage(ctx, userID, "", messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, ErrMessageDeleted
	}

	pinned, err := s.repo.TogglePin(ctx, msg.ID, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("toggle pin: %w", err)
	}

	s.publishEvent(ctx, roomDelivery(pinned.ConversationID, userID), EventMessagePinned, PinEvent{
		ConversationID: pinned.ConversationID,
		MessageID:      pinned.ID,
		IsPinned:       pinned.IsPinned,
		PinnedBy:       pinned.PinnedBy,
		PinnedAt:       pinned.PinnedAt,
		Version:        pinned.Version,
	})
	return pinned, nil
}

// ForwardMessage copies a message into another conversation the user takes
// part in. The copy references its source.
func (s *MessageService) ForwardMessage(ctx context.Context, userID string, req *ForwardRequest) (*Message, error) {
	source, err := s.visibleMessage(ctx, userID, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, err
	}
	if source.IsDeleted() {
		return nil, ErrMessageDeleted
	}

	parts, err := s.repo.GetConversationParticipants(ctx, req.TargetConversationID)
	if err != nil {
		return nil, err
	}
	if !containsParticipant(parts, userID) {
		return nil, ErrNotParticipant
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: req.TargetConversationID,
		Sender:         s.senderInfo(ctx, parts, userID),
		Content:        source.Content,
		Type:           MessageTypeText,
		CreatedAt:      s.now(),
		Reactions:      []Reaction{},
		ForwardedFrom: &ForwardRef{
			MessageID:      source.ID,
			ConversationID: source.ConversationID,
			SenderName:     source.Sender.Name(),
		},
		Version: 1,
	}
	if err := s.deliverNew(ctx, msg, parts); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) MarkRead(ctx context.Context, userID, conversationID string) error {
	return s.repo.ResetUnreadCount(ctx, conversationID, userID)
}

func (s *MessageService) SearchMessages(ctx context.Context, userID, query string) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*SearchResult{}, nil
	}
	results, err := s.repo.SearchMessages(ctx, userID, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	if results == nil {
		results = []*SearchResult{}
	}
	return results, nil
}

func (s *MessageService) GetPinnedMessages(ctx context.Context, userID, conversationID string) ([]*Message, error) {
	if !s.IsUserInConversation(ctx, userID, conversationID) {
		return nil, ErrNotParticipant
	}
	return s.repo.GetPinnedMessages(ctx, conversationID)
}

func (s *MessageService) NotifyTyping(ctx context.Context, userID, conversationID string, isTyping bool) error {
	if !s.IsUserInConversation(ctx, userID, conversationID) {
		return ErrNotParticipant
	}
	s.publishEvent(ctx, Delivery{Room: conversationID, ExceptUser: userID}, EventTyping, TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	return nil
}

// Helpers

// visibleMessage loads a message the user may see. A non-empty
// conversationID must match the message's conversation.
func (s *MessageService) visibleMessage(ctx context.Context, userID, conversationID, messageID string) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if conversationID != "" && msg.ConversationID != conversationID {
		return nil, ErrMessageNotFound
	}
	if !s.IsUserInConversation(ctx, userID, msg.ConversationID) {
		return nil, ErrNotParticipant
	}
	return msg, nil
}

func (s *MessageService) ownedMessage(ctx context.Context, userID, conversationID, messageID string) (*Message, error) {
	msg, err := s.visibleMessage(ctx, userID, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Sender.ID != userID {
		return nil, ErrUnauthorized
	}
	return msg, nil
}

func (s *MessageService) senderInfo(ctx context.Context, parts []*Participant, userID string) UserInfo {
	for _, p := range parts {
		if p.UserID == userID && p.User != nil {
			return *p.User
		}
	}
	if u, err := s.repo.GetUserInfo(ctx, userID); err == nil {
		return *u
	}
	return UserInfo{ID: userID, Username: userID}
}

func (s *MessageService) publishEvent(ctx context.Context, d Delivery, eventType string, data interface{}) {
	if s.hub == nil {
		return
	}
	env, err := NewEnvelope(eventType, data)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to encode event")
		return
	}
	d.Envelope = env
	s.hub.Publish(ctx, d)
}

// notifyOffline tells participants with no live connection about msg. It runs
// in the background and outlives the request that triggered it.
func (s *MessageService) notifyOffline(ctx context.Context, msg *Message, parts []*Participant) {
	if s.notifier == nil || s.hub == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	go func() {
		var recipients []*Participant
		for _, p := range parts {
			if p.UserID == msg.Sender.ID || p.IsMuted || s.hub.IsOnline(ctx, p.UserID) {
				continue
			}
			recipients = append(recipients, p)
		}
		if len(recipients) == 0 {
			return
		}

		notice := OfflineNotice{
			ConversationID: msg.ConversationID,
			SenderName:     msg.Sender.Name(),
			Preview:        preview(msg.Content),
		}
		if conv, err := s.repo.GetConversation(ctx, msg.ConversationID); err == nil {
			notice.ConversationName = conv.Name
		}
		if notice.ConversationName == "" {
			notice.ConversationName = notice.SenderName
		}

		for _, p := range recipients {
			user := p.User
			if user == nil {
				u, err := s.repo.GetUserInfo(ctx, p.UserID)
				if err != nil {
					continue
				}
				user = u
			}
			if err := s.notifier.Notify(ctx, user, notice); err != nil {
				notificationsTotal.WithLabelValues("failed").Inc()
				s.logger.Warn().Err(err).Str("user_id", p.UserID).Msg("offline notification failed")
				continue
			}
			notificationsTotal.WithLabelValues("sent").Inc()
		}
	}()
}

func roomDelivery(conversationID, actorID string) Delivery {
	return Delivery{Room: conversationID, UserIDs: []string{actorID}}
}

func participantIDs(parts []*Participant) []string {
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.UserID
	}
	return ids
}

func containsParticipant(parts []*Participant, userID string) bool {
	for _, p := range parts {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLength {
		return content
	}
	return string(r[:previewLength-1]) + "…"
}

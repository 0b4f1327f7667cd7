// internal/chatsync/synchronizer.go

package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const (
	defaultTypingTimeout = 2 * time.Second
	defaultEditTimeout   = 10 * time.Second
	defaultSendTimeout   = 30 * time.Second
	backgroundTimeout    = 15 * time.Second

	// Prefix of the provisional id an optimistic message carries until the
	// gateway confirms it.
	ProvisionalPrefix = "local:"
)

var (
	ErrEmptyContent        = errors.New("message content is empty")
	ErrEditInFlight        = errors.New("an edit for this message is already in flight")
	ErrUnknownConversation = errors.New("conversation is not known locally")
)

// ChangeKind tells a listener which part of the state moved.
type ChangeKind string

const (
	ChangeConversations ChangeKind = "conversations"
	ChangeMessages      ChangeKind = "messages"
	ChangeTyping        ChangeKind = "typing"
	ChangePresence      ChangeKind = "presence"
	ChangeNotification  ChangeKind = "notification"
)

// Change is delivered to Config.OnChange after the state has been updated.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	MessageID      string
	Text           string
}

// Config holds optional synchronizer settings.
type Config struct {
	Logger        zerolog.Logger
	TypingTimeout time.Duration
	EditTimeout   time.Duration
	// SendTimeout bounds how long a message sent over the stream may stay
	// pending before it is marked failed.
	SendTimeout time.Duration
	// OnChange is called outside the state lock; it may read the
	// synchronizer but must not block for long.
	OnChange func(Change)
}

// deadline is a cancellable timer whose identity survives map replacement.
type deadline struct {
	timer *time.Timer
}

// Synchronizer owns the canonical conversation list and the messages of
// the active conversation, reconciling REST fetches, streamed events and
// local optimistic sends into one view. Readers get copies.
type Synchronizer struct {
	userID        string
	api           API
	stream        Stream
	logger        zerolog.Logger
	typingTimeout time.Duration
	editTimeout   time.Duration
	sendTimeout   time.Duration
	onChange      func(Change)
	now           func() time.Time

	mu            sync.RWMutex
	conversations []*messaging.Conversation
	convIssued    uint64
	convApplied   uint64
	active        string
	messages      []*messaging.Message
	generation    uint64
	rooms         map[string]struct{}
	typing        map[string]string
	online        map[string]struct{}
	edits         map[string]*deadline
	localTyping   map[string]*deadline
	sends         map[string]*deadline
}

// New creates a synchronizer for userID. stream may be nil, in which case
// every operation goes through api.
func New(userID string, api API, stream Stream, cfg Config) *Synchronizer {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = defaultTypingTimeout
	}
	if cfg.EditTimeout <= 0 {
		cfg.EditTimeout = defaultEditTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	return &Synchronizer{
		userID:        userID,
		api:           api,
		stream:        stream,
		logger:        cfg.Logger.With().Str("component", "chatsync").Str("user_id", userID).Logger(),
		typingTimeout: cfg.TypingTimeout,
		editTimeout:   cfg.EditTimeout,
		sendTimeout:   cfg.SendTimeout,
		onChange:      cfg.OnChange,
		now:           time.Now,
		rooms:         make(map[string]struct{}),
		typing:        make(map[string]string),
		online:        make(map[string]struct{}),
		edits:         make(map[string]*deadline),
		localTyping:   make(map[string]*deadline),
		sends:         make(map[string]*deadline),
	}
}

// UserID returns the id of the user this synchronizer acts for.
func (s *Synchronizer) UserID() string {
	return s.userID
}

// ---- read side ----

// Conversations returns a copy of the conversation list.
func (s *Synchronizer) Conversations() []*messaging.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*messaging.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

// Conversation returns a copy of one conversation.
func (s *Synchronizer) Conversation(id string) (*messaging.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.findConversation(id)
	if conv == nil {
		return nil, false
	}
	return conv.Clone(), true
}

// ActiveConversation returns the id of the open conversation, if any.
func (s *Synchronizer) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Messages returns a copy of the active conversation's messages in
// display order.
func (s *Synchronizer) Messages() []*messaging.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*messaging.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// TypingUser returns the user most recently seen typing in a conversation.
func (s *Synchronizer) TypingUser(conversationID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[conversationID]
}

// IsOnline reports whether userID is in the online set.
func (s *Synchronizer) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// OnlineUsers returns the online set, sorted.
func (s *Synchronizer) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ---- loading ----

// LoadConversations replaces the conversation list with the server's view.
// On failure the previous list is kept.
func (s *Synchronizer) LoadConversations(ctx context.Context) error {
	s.mu.Lock()
	s.convIssued++
	seq := s.convIssued
	s.mu.Unlock()

	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		transportErrors.WithLabelValues("list_conversations").Inc()
		s.logger.Warn().Err(err).Msg("load conversations failed")
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	if seq < s.convApplied {
		s.mu.Unlock()
		staleResponses.WithLabelValues("list_conversations").Inc()
		return nil
	}
	s.convApplied = seq
	s.conversations = make([]*messaging.Conversation, 0, len(convs))
	for _, c := range convs {
		conv := c.Clone()
		s.applyOnlineHints(conv)
		s.conversations = append(s.conversations, conv)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConversations})
	return nil
}

// LoadMessages makes conversationID the active conversation and replaces
// its message list with the fetched history. A response that comes back
// after the user moved on is discarded.
func (s *Synchronizer) LoadMessages(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.active != conversationID {
		s.active = conversationID
		s.messages = nil
	}
	s.mu.Unlock()

	msgs, err := s.api.GetMessages(ctx, conversationID)
	if err != nil {
		transportErrors.WithLabelValues("get_messages").Inc()
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("load messages failed")
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	if gen != s.generation || s.active != conversationID {
		s.mu.Unlock()
		staleResponses.WithLabelValues("get_messages").Inc()
		s.logger.Debug().Str("conversation_id", conversationID).Msg("discarding stale message history")
		return nil
	}
	s.messages = s.mergeFetched(msgs)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ConversationID: conversationID})

	if err := s.MarkRead(ctx, conversationID); err != nil {
		s.logger.Debug().Err(err).Msg("mark read after load failed")
	}
	return nil
}

// mergeFetched builds the new active list from a history fetch, keeping
// local entries the fetch cannot know about: optimistic sends and
// messages streamed in while the request was in flight. Caller holds s.mu.
func (s *Synchronizer) mergeFetched(fetched []*messaging.Message) []*messaging.Message {
	out := make([]*messaging.Message, 0, len(fetched)+len(s.messages))
	index := make(map[string]int, len(fetched))
	clientIDs := make(map[string]struct{})

	for _, m := range fetched {
		if _, dup := index[m.ID]; dup {
			continue
		}
		c := m.Clone()
		c.Status = messaging.StatusSent
		out = insertSorted(out, c)
		index[c.ID] = 0
		if c.ClientID != "" {
			clientIDs[c.ClientID] = struct{}{}
		}
	}
	for i, m := range out {
		index[m.ID] = i
	}

	var cutoff time.Time
	if len(out) > 0 {
		cutoff = out[len(out)-1].CreatedAt
	}

	for _, local := range s.messages {
		if i, ok := index[local.ID]; ok {
			if local.Version > out[i].Version {
				out[i] = local
			}
			continue
		}
		if local.ClientID != "" {
			if _, ok := clientIDs[local.ClientID]; ok {
				continue
			}
		}
		if local.Status != messaging.StatusSent || local.CreatedAt.After(cutoff) {
			out = insertSorted(out, local)
		}
	}
	return out
}

// MarkRead zeroes the local unread indicator and tells the server.
func (s *Synchronizer) MarkRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if conv := s.findConversation(conversationID); conv != nil {
		conv.UnreadCount = 0
		conv.HasUnread = false
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeConversations, ConversationID: conversationID})

	if s.command(ctx, messaging.CommandRead, messaging.ConversationRef{ConversationID: conversationID}) {
		return nil
	}
	if err := s.api.MarkRead(ctx, conversationID); err != nil {
		transportErrors.WithLabelValues("mark_read").Inc()
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark read failed")
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ---- rooms ----

// JoinConversation subscribes the stream to a conversation's room. When
// the stream is down the room is remembered and joined on reconnect.
func (s *Synchronizer) JoinConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.rooms[conversationID] = struct{}{}
	s.mu.Unlock()

	return s.emitIfConnected(ctx, messaging.CommandJoin, messaging.ConversationRef{ConversationID: conversationID})
}

// LeaveConversation unsubscribes the stream from a conversation's room.
func (s *Synchronizer) LeaveConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.rooms, conversationID)
	delete(s.typing, conversationID)
	s.mu.Unlock()

	return s.emitIfConnected(ctx, messaging.CommandLeave, messaging.ConversationRef{ConversationID: conversationID})
}

// OpenConversation switches the active conversation: leave the previous
// room, join the new one and load its history.
func (s *Synchronizer) OpenConversation(ctx context.Context, conversationID string) error {
	s.mu.RLock()
	prev := s.active
	s.mu.RUnlock()

	if prev != "" && prev != conversationID {
		if err := s.LeaveConversation(ctx, prev); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", prev).Msg("leave room failed")
		}
	}
	if err := s.JoinConversation(ctx, conversationID); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("join room failed")
	}
	return s.LoadMessages(ctx, conversationID)
}

// Rooms returns the rooms the stream should currently be subscribed to.
func (s *Synchronizer) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ---- mutations ----

// SendMessage inserts an optimistic message and sends it over the stream,
// or over REST when the stream is unavailable. The provisional entry is
// replaced when the confirmed message arrives with the same client id.
func (s *Synchronizer) SendMessage(ctx context.Context, conversationID, content, replyToID string) (*messaging.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	clientID := uuid.NewString()

	s.mu.Lock()
	pending := &messaging.Message{
		ID:             ProvisionalPrefix + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		Sender:         s.selfInfo(conversationID),
		Content:        content,
		Type:           messaging.MessageTypeText,
		CreatedAt:      s.now().UTC(),
		Reactions:      []messaging.Reaction{},
		Status:         messaging.StatusPending,
	}
	if replyToID != "" {
		pending.ReplyTo = &messaging.ReplyRef{MessageID: replyToID}
		if i := s.indexByID(replyToID); i >= 0 {
			target := s.messages[i]
			pending.ReplyTo.SenderName = target.Sender.Name()
			if !target.IsDeleted() {
				pending.ReplyTo.Content = target.Content
			}
		}
	}
	if s.active == conversationID {
		s.messages = insertSorted(s.messages, pending)
	}
	if conv := s.findConversation(conversationID); conv != nil {
		conv.LastMessage = pending.Summary()
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ConversationID: conversationID, MessageID: pending.ID})
	s.StopTyping(ctx, conversationID)

	req := &messaging.SendMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		ReplyToID:      replyToID,
		ClientID:       clientID,
	}

	if s.command(ctx, messaging.CommandSend, req) {
		s.expireSend(clientID)
		return pending.Clone(), nil
	}

	msg, err := s.api.SendMessage(ctx, req)
	if err != nil {
		transportErrors.WithLabelValues("send_message").Inc()
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("send message failed")
		s.markFailed(clientID)
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.HandleEvent(MessageCreated{Message: msg})
	return msg.Clone(), nil
}

// EditMessage replaces a message's content. Only one edit per message may
// be in flight; the slot frees when the update is confirmed or after the
// edit timeout.
func (s *Synchronizer) EditMessage(ctx context.Context, conversationID, messageID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}

	s.mu.Lock()
	if _, busy := s.edits[messageID]; busy {
		s.mu.Unlock()
		return ErrEditInFlight
	}
	d := &deadline{}
	s.edits[messageID] = d
	d.timer = time.AfterFunc(s.editTimeout, func() { s.clearEdit(messageID, d) })
	s.mu.Unlock()

	req := &messaging.EditMessageRequest{
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        content,
	}

	err := s.mutate(ctx, "edit_message", messaging.CommandEdit, req,
		func(ctx context.Context) (*messaging.Message, error) { return s.api.EditMessage(ctx, req) },
		func(msg *messaging.Message) Event { return MessageUpdated{Message: msg} },
	)
	if err != nil {
		s.clearEdit(messageID, d)
	}
	return err
}

// DeleteMessage tombstones a message.
func (s *Synchronizer) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	ref := &messaging.MessageRef{ConversationID: conversationID, MessageID: messageID}

	return s.mutate(ctx, "delete_message", messaging.CommandDelete, ref,
		func(ctx context.Context) (*messaging.Message, error) { return s.api.DeleteMessage(ctx, ref) },
		func(msg *messaging.Message) Event { return MessageDeleted{Message: msg} },
	)
}

// ToggleReaction toggles the current user's emoji on a message. The
// outcome is never predicted locally; the server's reaction list is applied.
func (s *Synchronizer) ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	req := &messaging.ReactionRequest{ConversationID: conversationID, MessageID: messageID, Emoji: emoji}

	return s.mutate(ctx, "toggle_reaction", messaging.CommandReaction, req,
		func(ctx context.Context) (*messaging.Message, error) { return s.api.ToggleReaction(ctx, req) },
		func(msg *messaging.Message) Event {
			return ReactionChanged{messaging.ReactionEvent{
				ConversationID: msg.ConversationID,
				MessageID:      msg.ID,
				Reactions:      msg.Reactions,
				Version:        msg.Version,
			}}
		},
	)
}

// TogglePin pins or unpins a message.
func (s *Synchronizer) TogglePin(ctx context.Context, conversationID, messageID string) error {
	ref := &messaging.MessageRef{ConversationID: conversationID, MessageID: messageID}

	return s.mutate(ctx, "toggle_pin", messaging.CommandPin, ref,
		func(ctx context.Context) (*messaging.Message, error) { return s.api.TogglePin(ctx, ref) },
		func(msg *messaging.Message) Event {
			return PinChanged{messaging.PinEvent{
				ConversationID: msg.ConversationID,
				MessageID:      msg.ID,
				IsPinned:       msg.IsPinned,
				PinnedBy:       msg.PinnedBy,
				PinnedAt:       msg.PinnedAt,
				Version:        msg.Version,
			}}
		},
	)
}

// ForwardMessage copies a message into another conversation. The target
// must already be in the local conversation list.
func (s *Synchronizer) ForwardMessage(ctx context.Context, conversationID, messageID, targetConversationID string) error {
	s.mu.RLock()
	known := s.findConversation(targetConversationID) != nil
	s.mu.RUnlock()
	if !known {
		return ErrUnknownConversation
	}

	req := &messaging.ForwardRequest{
		ConversationID:       conversationID,
		MessageID:            messageID,
		TargetConversationID: targetConversationID,
	}

	return s.mutate(ctx, "forward_message", messaging.CommandForward, req,
		func(ctx context.Context) (*messaging.Message, error) { return s.api.ForwardMessage(ctx, req) },
		func(msg *messaging.Message) Event { return MessageCreated{Message: msg} },
	)
}

// mutate sends a command over the stream, or performs the REST call and
// reconciles its result through the same path as a streamed event.
func (s *Synchronizer) mutate(
	ctx context.Context,
	op, command string,
	payload interface{},
	rest func(context.Context) (*messaging.Message, error),
	toEvent func(*messaging.Message) Event,
) error {
	if s.command(ctx, command, payload) {
		return nil
	}

	msg, err := rest(ctx)
	if err != nil {
		transportErrors.WithLabelValues(op).Inc()
		s.logger.Warn().Err(err).Str("operation", op).Msg("chat mutation failed")
		return fmt.Errorf("%s: %w", strings.ReplaceAll(op, "_", " "), err)
	}

	s.HandleEvent(toEvent(msg))
	return nil
}

// ---- conversation management ----

// CreateDirect opens (or reuses) a direct conversation with userID.
func (s *Synchronizer) CreateDirect(ctx context.Context, userID string) (*messaging.Conversation, error) {
	conv, err := s.api.CreateDirect(ctx, userID)
	if err != nil {
		transportErrors.WithLabelValues("create_direct").Inc()
		s.logger.Warn().Err(err).Msg("create direct conversation failed")
		return nil, fmt.Errorf("create direct: %w", err)
	}
	s.upsertConversation(conv)
	return conv.Clone(), nil
}

// CreateGroup creates a group and reloads the conversation list.
func (s *Synchronizer) CreateGroup(ctx context.Context, name string, userIDs []string) (*messaging.Conversation, error) {
	conv, err := s.api.CreateGroup(ctx, name, userIDs)
	if err != nil {
		transportErrors.WithLabelValues("create_group").Inc()
		s.logger.Warn().Err(err).Msg("create group failed")
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.upsertConversation(conv)

	if err := s.LoadConversations(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("reload after create group failed")
	}
	return conv.Clone(), nil
}

// RenameConversation renames a conversation and applies the new name.
func (s *Synchronizer) RenameConversation(ctx context.Context, conversationID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyContent
	}
	if err := s.api.RenameConversation(ctx, conversationID, name); err != nil {
		transportErrors.WithLabelValues("rename_conversation").Inc()
		s.logger.Warn().Err(err).Msg("rename conversation failed")
		return fmt.Errorf("rename conversation: %w", err)
	}

	var ev ConversationRenamed
	ev.ConversationID = conversationID
	ev.Name = name
	s.HandleEvent(ev)
	return nil
}

// ToggleMute flips the mute flag on the server and then locally.
func (s *Synchronizer) ToggleMute(ctx context.Context, conversationID string) error {
	if err := s.api.ToggleMuteConversation(ctx, conversationID); err != nil {
		transportErrors.WithLabelValues("toggle_mute").Inc()
		s.logger.Warn().Err(err).Msg("toggle mute failed")
		return fmt.Errorf("toggle mute: %w", err)
	}
	s.HandleEvent(MuteToggled{ConversationID: conversationID})
	return nil
}

// ExitConversation removes the user from a conversation and drops it
// from the local set.
func (s *Synchronizer) ExitConversation(ctx context.Context, conversationID string) error {
	if err := s.api.LeaveConversation(ctx, conversationID); err != nil {
		transportErrors.WithLabelValues("leave_conversation").Inc()
		s.logger.Warn().Err(err).Msg("leave conversation failed")
		return fmt.Errorf("leave conversation: %w", err)
	}
	if err := s.LeaveConversation(ctx, conversationID); err != nil {
		s.logger.Debug().Err(err).Msg("leave room failed")
	}

	s.mu.Lock()
	s.removeConversation(conversationID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConversations, ConversationID: conversationID})
	return nil
}

// SearchMessages runs a full-text search across the user's conversations.
func (s *Synchronizer) SearchMessages(ctx context.Context, query string) ([]*messaging.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	results, err := s.api.SearchMessages(ctx, query)
	if err != nil {
		transportErrors.WithLabelValues("search_messages").Inc()
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return results, nil
}

// PinnedMessages returns the pinned messages of a conversation.
func (s *Synchronizer) PinnedMessages(ctx context.Context, conversationID string) ([]*messaging.Message, error) {
	msgs, err := s.api.GetPinnedMessages(ctx, conversationID)
	if err != nil {
		transportErrors.WithLabelValues("get_pinned").Inc()
		return nil, fmt.Errorf("pinned messages: %w", err)
	}
	return msgs, nil
}

// StartPolling reloads the conversation list on a fixed interval until ctx
// is done. It covers changes the event stream did not deliver.
func (s *Synchronizer) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.logger.Info().Dur("interval", interval).Msg("starting conversation polling")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// LoadConversations logs its own failures
			_ = s.LoadConversations(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("stopping conversation polling")
			return
		}
	}
}

// ---- typing ----

// NotifyTyping announces that the local user is typing. Repeated calls
// within the typing timeout only extend it; a stop is sent when it lapses.
func (s *Synchronizer) NotifyTyping(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if d, ok := s.localTyping[conversationID]; ok {
		d.timer.Reset(s.typingTimeout)
		s.mu.Unlock()
		return nil
	}
	d := &deadline{}
	s.localTyping[conversationID] = d
	d.timer = time.AfterFunc(s.typingTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		s.stopTyping(ctx, conversationID, d)
	})
	s.mu.Unlock()

	return s.emitIfConnected(ctx, messaging.CommandTyping, messaging.TypingPayload{
		ConversationID: conversationID,
		UserID:         s.userID,
		IsTyping:       true,
	})
}

// StopTyping ends a local typing announcement early.
func (s *Synchronizer) StopTyping(ctx context.Context, conversationID string) {
	s.mu.RLock()
	d := s.localTyping[conversationID]
	s.mu.RUnlock()
	if d != nil {
		s.stopTyping(ctx, conversationID, d)
	}
}

func (s *Synchronizer) stopTyping(ctx context.Context, conversationID string, d *deadline) {
	s.mu.Lock()
	if s.localTyping[conversationID] != d {
		s.mu.Unlock()
		return
	}
	delete(s.localTyping, conversationID)
	d.timer.Stop()
	s.mu.Unlock()

	if err := s.emitIfConnected(ctx, messaging.CommandTyping, messaging.TypingPayload{
		ConversationID: conversationID,
		UserID:         s.userID,
		IsTyping:       false,
	}); err != nil {
		s.logger.Debug().Err(err).Msg("typing stop failed")
	}
}

// ---- event stream ----

// HandleEnvelope decodes a frame from the stream and applies it.
func (s *Synchronizer) HandleEnvelope(env messaging.Envelope) {
	ev, err := DecodeEvent(env)
	if err != nil {
		s.logger.Warn().Err(err).Str("type", env.Type).Msg("dropping undecodable event")
		return
	}
	s.HandleEvent(ev)
}

// HandleConnect runs after every (re)connect: it asks for the online
// snapshot, rejoins rooms and reloads state that may have been missed.
func (s *Synchronizer) HandleConnect() {
	rooms := s.Rooms()

	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		s.command(ctx, messaging.CommandGetOnline, struct{}{})
		for _, id := range rooms {
			s.command(ctx, messaging.CommandJoin, messaging.ConversationRef{ConversationID: id})
		}

		if err := s.LoadConversations(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("resync conversations failed")
		}
		if active != "" {
			if err := s.LoadMessages(ctx, active); err != nil {
				s.logger.Debug().Err(err).Msg("resync messages failed")
			}
		}
	}()
}

// HandleEvent reconciles one event into local state.
func (s *Synchronizer) HandleEvent(ev Event) {
	var (
		changes   []Change
		reload    bool
		leaveRoom string
	)

	s.mu.Lock()
	switch e := ev.(type) {
	case MessageCreated:
		changes = s.reconcileCreated(e.Message)

	case MessageUpdated:
		changes = s.reconcileUpdated(e.Message, messaging.EventMessageUpdated)

	case MessageDeleted:
		changes = s.reconcileUpdated(e.Message, messaging.EventMessageDeleted)

	case ReactionChanged:
		changes = s.reconcileReactions(e.ReactionEvent)

	case PinChanged:
		changes = s.reconcilePin(e.PinEvent)

	case ConversationRenamed:
		if conv := s.findConversation(e.ConversationID); conv != nil {
			conv.Name = e.Name
			changes = append(changes, Change{Kind: ChangeConversations, ConversationID: e.ConversationID})
		}

	case MuteToggled:
		if conv := s.findConversation(e.ConversationID); conv != nil {
			conv.IsMuted = !conv.IsMuted
			changes = append(changes, Change{Kind: ChangeConversations, ConversationID: e.ConversationID})
		}

	case ParticipantLeft:
		if e.UserID == s.userID {
			if _, joined := s.rooms[e.ConversationID]; joined {
				leaveRoom = e.ConversationID
			}
			s.removeConversation(e.ConversationID)
			changes = append(changes, Change{Kind: ChangeConversations, ConversationID: e.ConversationID})
		}
		reload = true

	case PresenceChanged:
		if e.Online {
			s.online[e.UserID] = struct{}{}
		} else {
			delete(s.online, e.UserID)
		}
		s.refreshOnlineHints()
		changes = append(changes, Change{Kind: ChangePresence})

	case TypingChanged:
		if e.UserID != "" && e.UserID != s.userID {
			if e.IsTyping {
				s.typing[e.ConversationID] = e.UserID
			} else if s.typing[e.ConversationID] == e.UserID {
				delete(s.typing, e.ConversationID)
			}
			changes = append(changes, Change{Kind: ChangeTyping, ConversationID: e.ConversationID})
		}

	case OnlineSnapshot:
		s.online = make(map[string]struct{}, len(e.UserIDs))
		for _, id := range e.UserIDs {
			s.online[id] = struct{}{}
		}
		s.refreshOnlineHints()
		changes = append(changes, Change{Kind: ChangePresence})

	case Notification:
		changes = append(changes, Change{Kind: ChangeNotification, ConversationID: e.ConversationID, Text: e.Text})
		reload = true

	case CommandFailed:
		s.logger.Warn().Str("command", e.Command).Str("code", e.Code).Msg(e.Message)
		if e.ClientID != "" {
			if change, ok := s.failPending(e.ClientID); ok {
				changes = append(changes, change)
			}
		}

	default:
		s.mu.Unlock()
		s.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unhandled event")
		return
	}
	s.mu.Unlock()

	eventsApplied.WithLabelValues(ev.eventName()).Inc()
	s.notify(changes...)

	if leaveRoom != "" {
		// Left from another device; stop this stream's room subscription too.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			defer cancel()
			s.command(ctx, messaging.CommandLeave, messaging.ConversationRef{ConversationID: leaveRoom})
		}()
	}
	if reload {
		s.reloadInBackground()
	}
}

// reconcileCreated merges a confirmed new message. Caller holds s.mu.
func (s *Synchronizer) reconcileCreated(in *messaging.Message) []Change {
	msg := in.Clone()
	msg.Status = messaging.StatusSent
	if msg.Reactions == nil {
		msg.Reactions = []messaging.Reaction{}
	}

	var changes []Change
	fresh := true
	provisionalID := ""
	if msg.ClientID != "" {
		provisionalID = ProvisionalPrefix + msg.ClientID
	}

	if msg.ClientID != "" {
		s.clearSend(msg.ClientID)
	}

	if s.active == msg.ConversationID {
		if msg.ClientID != "" {
			if i := s.indexByClientID(msg.ClientID); i >= 0 && s.messages[i].ID != msg.ID {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				fresh = false
			}
		}
		if i := s.indexByID(msg.ID); i >= 0 {
			fresh = false
			if msg.Version > s.messages[i].Version {
				s.messages[i] = msg
			}
		} else {
			s.messages = insertSorted(s.messages, msg)
		}
		changes = append(changes, Change{Kind: ChangeMessages, ConversationID: msg.ConversationID, MessageID: msg.ID})
	}

	conv := s.findConversation(msg.ConversationID)
	if conv == nil {
		return changes
	}

	if lm := conv.LastMessage; lm == nil ||
		lm.ID == msg.ID ||
		(provisionalID != "" && lm.ID == provisionalID) ||
		!msg.CreatedAt.Before(lm.CreatedAt) {
		if lm != nil && lm.ID == msg.ID {
			fresh = false
		}
		conv.LastMessage = msg.Summary()
	}

	if fresh && msg.Sender.ID != s.userID {
		conv.UnreadCount++
		conv.HasUnread = true
	}
	return append(changes, Change{Kind: ChangeConversations, ConversationID: msg.ConversationID})
}

// reconcileUpdated replaces a message by id, in place. Caller holds s.mu.
func (s *Synchronizer) reconcileUpdated(in *messaging.Message, event string) []Change {
	var changes []Change

	if d, ok := s.edits[in.ID]; ok {
		d.timer.Stop()
		delete(s.edits, in.ID)
	}

	if conv := s.findConversation(in.ConversationID); conv != nil && conv.LastMessage != nil && conv.LastMessage.ID == in.ID {
		conv.LastMessage = in.Summary()
		changes = append(changes, Change{Kind: ChangeConversations, ConversationID: in.ConversationID})
	}

	if s.active != in.ConversationID {
		return changes
	}
	i := s.indexByID(in.ID)
	if i < 0 {
		reconcileMisses.WithLabelValues(event).Inc()
		s.logger.Debug().Str("message_id", in.ID).Str("event", event).Msg("update for unknown message")
		return changes
	}
	if in.Version < s.messages[i].Version {
		staleResponses.WithLabelValues(event).Inc()
		return changes
	}

	msg := in.Clone()
	msg.Status = messaging.StatusSent
	if msg.Reactions == nil {
		msg.Reactions = []messaging.Reaction{}
	}
	s.messages[i] = msg
	return append(changes, Change{Kind: ChangeMessages, ConversationID: in.ConversationID, MessageID: in.ID})
}

// reconcileReactions replaces a message's reaction list. Caller holds s.mu.
func (s *Synchronizer) reconcileReactions(e messaging.ReactionEvent) []Change {
	if s.active != e.ConversationID {
		return nil
	}
	i := s.indexByID(e.MessageID)
	if i < 0 {
		reconcileMisses.WithLabelValues(messaging.EventReaction).Inc()
		return nil
	}
	msg := s.messages[i]
	if e.Version < msg.Version {
		staleResponses.WithLabelValues(messaging.EventReaction).Inc()
		return nil
	}
	msg.Reactions = append([]messaging.Reaction{}, e.Reactions...)
	msg.Version = e.Version
	return []Change{{Kind: ChangeMessages, ConversationID: e.ConversationID, MessageID: e.MessageID}}
}

// reconcilePin replaces a message's pin fields. Caller holds s.mu.
func (s *Synchronizer) reconcilePin(e messaging.PinEvent) []Change {
	if s.active != e.ConversationID {
		return nil
	}
	i := s.indexByID(e.MessageID)
	if i < 0 {
		reconcileMisses.WithLabelValues(messaging.EventMessagePinned).Inc()
		return nil
	}
	msg := s.messages[i]
	if e.Version < msg.Version {
		staleResponses.WithLabelValues(messaging.EventMessagePinned).Inc()
		return nil
	}

	changes := []Change{{Kind: ChangeMessages, ConversationID: e.ConversationID, MessageID: e.MessageID}}
	if conv := s.findConversation(e.ConversationID); conv != nil && msg.IsPinned != e.IsPinned {
		if e.IsPinned {
			conv.PinnedCount++
		} else if conv.PinnedCount > 0 {
			conv.PinnedCount--
		}
		changes = append(changes, Change{Kind: ChangeConversations, ConversationID: e.ConversationID})
	}

	msg.IsPinned = e.IsPinned
	msg.PinnedBy = nil
	if e.PinnedBy != nil {
		v := *e.PinnedBy
		msg.PinnedBy = &v
	}
	msg.PinnedAt = nil
	if e.PinnedAt != nil {
		v := *e.PinnedAt
		msg.PinnedAt = &v
	}
	msg.Version = e.Version
	return changes
}

// ---- helpers ----

// command emits over the stream when it is up. It reports whether the
// command was handed to the stream.
func (s *Synchronizer) command(ctx context.Context, command string, payload interface{}) bool {
	if s.stream == nil || !s.stream.Connected() {
		return false
	}
	if err := s.stream.Emit(ctx, command, payload); err != nil {
		transportErrors.WithLabelValues(command).Inc()
		s.logger.Warn().Err(err).Str("command", command).Msg("stream emit failed")
		return false
	}
	return true
}

// emitIfConnected emits a stream-only command; a missing stream is not
// an error.
func (s *Synchronizer) emitIfConnected(ctx context.Context, command string, payload interface{}) error {
	if s.stream == nil || !s.stream.Connected() {
		return nil
	}
	if err := s.stream.Emit(ctx, command, payload); err != nil {
		transportErrors.WithLabelValues(command).Inc()
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func (s *Synchronizer) notify(changes ...Change) {
	if s.onChange == nil {
		return
	}
	for _, c := range changes {
		s.onChange(c)
	}
}

func (s *Synchronizer) reloadInBackground() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		_ = s.LoadConversations(ctx)
	}()
}

func (s *Synchronizer) clearEdit(messageID string, d *deadline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edits[messageID] == d {
		d.timer.Stop()
		delete(s.edits, messageID)
	}
}

func (s *Synchronizer) markFailed(clientID string) {
	s.mu.Lock()
	change, ok := s.failPending(clientID)
	s.mu.Unlock()
	if ok {
		s.notify(change)
	}
}

// expireSend fails a streamed send that gets neither a confirmation nor
// an error within the send timeout.
func (s *Synchronizer) expireSend(clientID string) {
	d := &deadline{}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends[clientID] = d
	d.timer = time.AfterFunc(s.sendTimeout, func() {
		s.mu.Lock()
		if s.sends[clientID] != d {
			s.mu.Unlock()
			return
		}
		change, ok := s.failPending(clientID)
		s.mu.Unlock()
		if ok {
			s.logger.Warn().Str("client_id", clientID).Msg("send not confirmed in time")
			s.notify(change)
		}
	})
}

// clearSend stops the send timer for clientID. Caller holds s.mu.
func (s *Synchronizer) clearSend(clientID string) {
	if d, ok := s.sends[clientID]; ok {
		d.timer.Stop()
		delete(s.sends, clientID)
	}
}

// failPending marks an optimistic message as failed. Caller holds s.mu.
func (s *Synchronizer) failPending(clientID string) (Change, bool) {
	s.clearSend(clientID)
	i := s.indexByClientID(clientID)
	if i < 0 || s.messages[i].Status != messaging.StatusPending {
		return Change{}, false
	}
	s.messages[i].Status = messaging.StatusFailed
	return Change{Kind: ChangeMessages, ConversationID: s.messages[i].ConversationID, MessageID: s.messages[i].ID}, true
}

func (s *Synchronizer) upsertConversation(conv *messaging.Conversation) {
	s.mu.Lock()
	c := conv.Clone()
	s.applyOnlineHints(c)
	replaced := false
	for i, existing := range s.conversations {
		if existing.ID == c.ID {
			s.conversations[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		s.conversations = append([]*messaging.Conversation{c}, s.conversations...)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConversations, ConversationID: conv.ID})
}

// removeConversation drops a conversation and, if it was open, the active
// message list. Caller holds s.mu.
func (s *Synchronizer) removeConversation(id string) {
	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	delete(s.rooms, id)
	delete(s.typing, id)
	if s.active == id {
		s.active = ""
		s.messages = nil
		s.generation++
	}
}

func (s *Synchronizer) findConversation(id string) *messaging.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Synchronizer) indexByID(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) indexByClientID(clientID string) int {
	for i, m := range s.messages {
		if m.ClientID == clientID {
			return i
		}
	}
	return -1
}

// selfInfo finds the local user's profile in a conversation. Caller holds s.mu.
func (s *Synchronizer) selfInfo(conversationID string) messaging.UserInfo {
	if conv := s.findConversation(conversationID); conv != nil {
		if p := conv.Participant(s.userID); p != nil && p.User != nil {
			return *p.User
		}
	}
	return messaging.UserInfo{ID: s.userID}
}

// applyOnlineHints sets participant online flags from the presence set.
// Caller holds s.mu.
func (s *Synchronizer) applyOnlineHints(conv *messaging.Conversation) {
	if len(s.online) == 0 {
		return
	}
	for _, p := range conv.Participants {
		_, p.Online = s.online[p.UserID]
	}
}

func (s *Synchronizer) refreshOnlineHints() {
	for _, conv := range s.conversations {
		for _, p := range conv.Participants {
			_, p.Online = s.online[p.UserID]
		}
	}
}

// insertSorted places msg after every message created at or before it,
// keeping the list in non-decreasing creation order.
func insertSorted(list []*messaging.Message, msg *messaging.Message) []*messaging.Message {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(msg.CreatedAt)
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = msg
	return list
}

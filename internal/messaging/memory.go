// internal/messaging/memory.go
// In-process repository for STORAGE_DRIVER=memory and tests

package messaging

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu            sync.RWMutex
	users         map[string]*UserInfo
	conversations map[string]*Conversation
	participants  map[string][]*Participant
	messages      map[string]*Message
	byConv        map[string][]string
}

// NewMemoryRepository returns an empty Repository kept in process memory.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:         make(map[string]*UserInfo),
		conversations: make(map[string]*Conversation),
		participants:  make(map[string][]*Participant),
		messages:      make(map[string]*Message),
		byConv:        make(map[string][]string),
	}
}

func (r *memoryRepository) UpsertUser(ctx context.Context, user *UserInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := *user
	r.users[user.ID] = &u
	return nil
}

func (r *memoryRepository) GetUserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (r *memoryRepository) CreateConversation(ctx context.Context, conv *Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := &Conversation{
		ID:        conv.ID,
		Kind:      conv.Kind,
		Name:      conv.Name,
		AvatarURL: conv.AvatarURL,
		CreatedBy: conv.CreatedBy,
		CreatedAt: conv.CreatedAt,
	}
	r.conversations[conv.ID] = stored

	parts := make([]*Participant, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		cp := *p
		cp.User = nil
		parts = append(parts, &cp)
	}
	r.participants[conv.ID] = parts
	return nil
}

func (r *memoryRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := *conv
	out.Participants = r.participantsLocked(id)
	return &out, nil
}

func (r *memoryRepository) GetDirectConversation(ctx context.Context, user1ID, user2ID string) (*Conversation, error) {
	r.mu.RLock()
	var found string
	for id, conv := range r.conversations {
		if conv.Kind != KindDirect {
			continue
		}
		if r.hasParticipantLocked(id, user1ID) && r.hasParticipantLocked(id, user2ID) {
			found = id
			break
		}
	}
	r.mu.RUnlock()

	if found == "" {
		return nil, ErrConversationNotFound
	}
	return r.GetConversation(ctx, found)
}

func (r *memoryRepository) GetUserConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var convs []*Conversation
	for id, conv := range r.conversations {
		var self *Participant
		for _, p := range r.participants[id] {
			if p.UserID == userID {
				self = p
				break
			}
		}
		if self == nil {
			continue
		}

		out := *conv
		out.Participants = r.participantsLocked(id)
		out.UnreadCount = self.UnreadCount
		out.HasUnread = self.UnreadCount > 0
		out.IsMuted = self.IsMuted

		ids := r.byConv[id]
		if len(ids) > 0 {
			out.LastMessage = r.hydrateLocked(r.messages[ids[len(ids)-1]]).Summary()
		}
		for _, mid := range ids {
			m := r.messages[mid]
			if m.IsPinned && !m.IsDeleted() {
				out.PinnedCount++
			}
		}
		convs = append(convs, &out)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return lastActivity(convs[i]).After(lastActivity(convs[j]))
	})
	return convs, nil
}

func lastActivity(c *Conversation) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

func (r *memoryRepository) RenameConversation(ctx context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Name = name
	return nil
}

func (r *memoryRepository) UpdateConversationAvatar(ctx context.Context, id, avatarURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.AvatarURL = &avatarURL
	return nil
}

func (r *memoryRepository) GetConversationParticipants(ctx context.Context, convID string) ([]*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conversations[convID]; !ok {
		return nil, ErrConversationNotFound
	}
	return r.participantsLocked(convID), nil
}

func (r *memoryRepository) IsUserInConversation(ctx context.Context, userID, convID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasParticipantLocked(convID, userID), nil
}

func (r *memoryRepository) RemoveParticipant(ctx context.Context, convID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := r.participants[convID]
	for i, p := range parts {
		if p.UserID == userID {
			r.participants[convID] = append(parts[:i:i], parts[i+1:]...)
			return nil
		}
	}
	return ErrNotParticipant
}

func (r *memoryRepository) ToggleMuted(ctx context.Context, convID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.participantLocked(convID, userID)
	if p == nil {
		return false, ErrNotParticipant
	}
	p.IsMuted = !p.IsMuted
	return p.IsMuted, nil
}

func (r *memoryRepository) IncrementUnreadCount(ctx context.Context, convID, exceptUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[convID] {
		if p.UserID != exceptUserID {
			p.UnreadCount++
		}
	}
	return nil
}

func (r *memoryRepository) ResetUnreadCount(ctx context.Context, convID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.participantLocked(convID, userID)
	if p == nil {
		return ErrNotParticipant
	}
	p.UnreadCount = 0
	return nil
}

func (r *memoryRepository) CreateMessage(ctx context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[msg.ConversationID]; !ok {
		return ErrConversationNotFound
	}
	if msg.Version == 0 {
		msg.Version = 1
	}
	r.messages[msg.ID] = msg.Clone()

	ids := r.byConv[msg.ConversationID]
	i := sort.Search(len(ids), func(i int) bool {
		return r.messages[ids[i]].CreatedAt.After(msg.CreatedAt)
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = msg.ID
	r.byConv[msg.ConversationID] = ids
	return nil
}

func (r *memoryRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return r.hydrateLocked(m), nil
}

func (r *memoryRepository) GetMessageByClientID(ctx context.Context, senderID, clientID string) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages {
		if m.ClientID == clientID && m.Sender.ID == senderID {
			return r.hydrateLocked(m), nil
		}
	}
	return nil, ErrMessageNotFound
}

func (r *memoryRepository) GetConversationMessages(ctx context.Context, convID string, limit int) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conversations[convID]; !ok {
		return nil, ErrConversationNotFound
	}
	ids := r.byConv[convID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.hydrateLocked(r.messages[id]))
	}
	return out, nil
}

func (r *memoryRepository) EditMessage(ctx context.Context, id, content string, editedAt time.Time) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if m.IsDeleted() {
		return nil, ErrMessageDeleted
	}
	m.Content = content
	m.EditedAt = &editedAt
	m.Version++
	return r.hydrateLocked(m), nil
}

func (r *memoryRepository) DeleteMessage(ctx context.Context, id string, deletedAt time.Time) (*Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, false, ErrMessageNotFound
	}
	if m.IsDeleted() {
		return r.hydrateLocked(m), false, nil
	}
	m.Content = ""
	m.DeletedAt = &deletedAt
	m.Version++
	return r.hydrateLocked(m), true, nil
}

func (r *memoryRepository) TogglePin(ctx context.Context, id, userID string, at time.Time) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if m.IsDeleted() {
		return nil, ErrMessageDeleted
	}
	if m.IsPinned {
		m.IsPinned = false
		m.PinnedAt = nil
		m.PinnedBy = nil
	} else {
		by := userID
		m.IsPinned = true
		m.PinnedAt = &at
		m.PinnedBy = &by
	}
	m.Version++
	return r.hydrateLocked(m), nil
}

func (r *memoryRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, 0, ErrMessageNotFound
	}

	removed := false
	kept := make([]Reaction, 0, len(m.Reactions)+1)
	for _, rc := range m.Reactions {
		if rc.UserID == userID && rc.Emoji == emoji {
			removed = true
			continue
		}
		kept = append(kept, rc)
	}
	if !removed {
		kept = append(kept, Reaction{Emoji: emoji, UserID: userID, CreatedAt: time.Now().UTC()})
	}
	m.Reactions = kept
	m.Version++
	return append([]Reaction(nil), kept...), m.Version, nil
}

func (r *memoryRepository) SearchMessages(ctx context.Context, userID, query string, limit int) ([]*SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(query)
	var results []*SearchResult
	for convID, conv := range r.conversations {
		if !r.hasParticipantLocked(convID, userID) {
			continue
		}
		for _, id := range r.byConv[convID] {
			m := r.messages[id]
			if m.IsDeleted() || !strings.Contains(strings.ToLower(m.Content), needle) {
				continue
			}
			results = append(results, &SearchResult{Message: r.hydrateLocked(m), ConversationName: conv.Name})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Message.CreatedAt.After(results[j].Message.CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *memoryRepository) GetPinnedMessages(ctx context.Context, convID string) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pinned []*Message
	for _, id := range r.byConv[convID] {
		m := r.messages[id]
		if m.IsPinned && !m.IsDeleted() {
			pinned = append(pinned, r.hydrateLocked(m))
		}
	}
	sort.SliceStable(pinned, func(i, j int) bool {
		return pinned[i].PinnedAt.After(*pinned[j].PinnedAt)
	})
	return pinned, nil
}

// hydrateLocked copies a stored message and resolves sender and reply
// details from their current rows.
func (r *memoryRepository) hydrateLocked(m *Message) *Message {
	out := m.Clone()
	if out.Reactions == nil {
		out.Reactions = []Reaction{}
	}
	if u, ok := r.users[m.Sender.ID]; ok {
		out.Sender = *u
	}
	if out.ReplyTo != nil {
		if target, ok := r.messages[out.ReplyTo.MessageID]; ok {
			out.ReplyTo.SenderName = target.Sender.Name()
			if u, ok := r.users[target.Sender.ID]; ok {
				out.ReplyTo.SenderName = u.Name()
			}
			out.ReplyTo.Content = target.Content
			if target.IsDeleted() {
				out.ReplyTo.Content = ""
			}
		}
	}
	return out
}

func (r *memoryRepository) participantsLocked(convID string) []*Participant {
	parts := r.participants[convID]
	out := make([]*Participant, 0, len(parts))
	for _, p := range parts {
		cp := *p
		if u, ok := r.users[p.UserID]; ok {
			info := *u
			cp.User = &info
		}
		out = append(out, &cp)
	}
	return out
}

func (r *memoryRepository) participantLocked(convID, userID string) *Participant {
	for _, p := range r.participants[convID] {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *memoryRepository) hasParticipantLocked(convID, userID string) bool {
	return r.participantLocked(convID, userID) != nil
}

package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

var errTransport = errors.New("connection refused")

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func newMsg(id, convID, senderID, content string, createdAt time.Time) *messaging.Message {
	return &messaging.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         messaging.UserInfo{ID: senderID, Username: senderID},
		Content:        content,
		Type:           messaging.MessageTypeText,
		CreatedAt:      createdAt,
		Reactions:      []messaging.Reaction{},
		Version:        1,
	}
}

func newConv(id string, participants ...string) *messaging.Conversation {
	conv := &messaging.Conversation{
		ID:        id,
		Kind:      messaging.KindGroup,
		Name:      "conv " + id,
		CreatedAt: baseTime,
	}
	for _, p := range participants {
		conv.Participants = append(conv.Participants, &messaging.Participant{
			UserID: p,
			Role:   messaging.RoleMember,
			User:   &messaging.UserInfo{ID: p, Username: p},
		})
	}
	return conv
}

// fakeAPI is an in-memory gateway acting for a single user.
type fakeAPI struct {
	mu sync.Mutex

	userID        string
	conversations []*messaging.Conversation
	messages      map[string][]*messaging.Message
	seq           int

	// gates block GetMessages for a conversation until closed
	gates   map[string]chan struct{}
	started chan string

	fail  map[string]error
	calls map[string]int
}

func newFakeAPI(userID string, convs ...*messaging.Conversation) *fakeAPI {
	return &fakeAPI{
		userID:        userID,
		conversations: convs,
		messages:      make(map[string][]*messaging.Message),
		gates:         make(map[string]chan struct{}),
		started:       make(chan string, 16),
		fail:          make(map[string]error),
		calls:         make(map[string]int),
	}
}

func (f *fakeAPI) setMessages(convID string, msgs ...*messaging.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[convID] = msgs
}

func (f *fakeAPI) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeAPI) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.fail[op]
}

func (f *fakeAPI) find(messageID string) *messaging.Message {
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				return m
			}
		}
	}
	return nil
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]*messaging.Conversation, error) {
	if err := f.enter("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*messaging.Conversation, len(f.conversations))
	for i, c := range f.conversations {
		out[i] = c.Clone()
	}
	return out, nil
}

func (f *fakeAPI) GetMessages(ctx context.Context, conversationID string) ([]*messaging.Message, error) {
	if err := f.enter("get_messages"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	gate := f.gates[conversationID]
	out := make([]*messaging.Message, 0, len(f.messages[conversationID]))
	for _, m := range f.messages[conversationID] {
		out = append(out, m.Clone())
	}
	f.mu.Unlock()

	select {
	case f.started <- conversationID:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, req *messaging.SendMessageRequest) (*messaging.Message, error) {
	if err := f.enter("send"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := newMsg(fmt.Sprintf("srv-%d", f.seq), req.ConversationID, f.userID, req.Content, at(100+f.seq))
	m.ClientID = req.ClientID
	f.messages[req.ConversationID] = append(f.messages[req.ConversationID], m)
	return m.Clone(), nil
}

func (f *fakeAPI) EditMessage(ctx context.Context, req *messaging.EditMessageRequest) (*messaging.Message, error) {
	if err := f.enter("edit"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(req.MessageID)
	if m == nil {
		return nil, errors.New("not found")
	}
	now := at(200)
	m.Content = req.Content
	m.EditedAt = &now
	m.Version++
	return m.Clone(), nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, ref *messaging.MessageRef) (*messaging.Message, error) {
	if err := f.enter("delete"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(ref.MessageID)
	if m == nil {
		return nil, errors.New("not found")
	}
	now := at(300)
	m.DeletedAt = &now
	m.Version++
	return m.Clone(), nil
}

func (f *fakeAPI) ToggleReaction(ctx context.Context, req *messaging.ReactionRequest) (*messaging.Message, error) {
	if err := f.enter("reaction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(req.MessageID)
	if m == nil {
		return nil, errors.New("not found")
	}

	kept := make([]messaging.Reaction, 0, len(m.Reactions)+1)
	removed := false
	for _, r := range m.Reactions {
		if r.Emoji == req.Emoji && r.UserID == f.userID {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		kept = append(kept, messaging.Reaction{Emoji: req.Emoji, UserID: f.userID, CreatedAt: at(400)})
	}
	m.Reactions = kept
	m.Version++
	return m.Clone(), nil
}

func (f *fakeAPI) TogglePin(ctx context.Context, ref *messaging.MessageRef) (*messaging.Message, error) {
	if err := f.enter("pin"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(ref.MessageID)
	if m == nil {
		return nil, errors.New("not found")
	}
	m.IsPinned = !m.IsPinned
	if m.IsPinned {
		now := at(500)
		by := f.userID
		m.PinnedAt, m.PinnedBy = &now, &by
	} else {
		m.PinnedAt, m.PinnedBy = nil, nil
	}
	m.Version++
	return m.Clone(), nil
}

func (f *fakeAPI) ForwardMessage(ctx context.Context, req *messaging.ForwardRequest) (*messaging.Message, error) {
	if err := f.enter("forward"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.find(req.MessageID)
	if src == nil {
		return nil, errors.New("not found")
	}
	f.seq++
	m := newMsg(fmt.Sprintf("srv-%d", f.seq), req.TargetConversationID, f.userID, src.Content, at(100+f.seq))
	m.ForwardedFrom = &messaging.ForwardRef{MessageID: src.ID, ConversationID: src.ConversationID, SenderName: src.Sender.Name()}
	f.messages[req.TargetConversationID] = append(f.messages[req.TargetConversationID], m)
	return m.Clone(), nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID string) error {
	return f.enter("mark_read")
}

func (f *fakeAPI) CreateDirect(ctx context.Context, userID string) (*messaging.Conversation, error) {
	if err := f.enter("create_direct"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := newConv("dm-"+userID, f.userID, userID)
	conv.Kind = messaging.KindDirect
	f.conversations = append(f.conversations, conv)
	return conv.Clone(), nil
}

func (f *fakeAPI) CreateGroup(ctx context.Context, name string, userIDs []string) (*messaging.Conversation, error) {
	if err := f.enter("create_group"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := newConv("grp-"+name, append([]string{f.userID}, userIDs...)...)
	conv.Name = name
	f.conversations = append(f.conversations, conv)
	return conv.Clone(), nil
}

func (f *fakeAPI) RenameConversation(ctx context.Context, conversationID, name string) error {
	return f.enter("rename")
}

func (f *fakeAPI) LeaveConversation(ctx context.Context, conversationID string) error {
	return f.enter("leave")
}

func (f *fakeAPI) ToggleMuteConversation(ctx context.Context, conversationID string) error {
	return f.enter("mute")
}

func (f *fakeAPI) SearchMessages(ctx context.Context, query string) ([]*messaging.SearchResult, error) {
	if err := f.enter("search"); err != nil {
		return nil, err
	}
	return []*messaging.SearchResult{{Message: newMsg("m1", "c1", "bob", query, at(1)), ConversationName: "conv c1"}}, nil
}

func (f *fakeAPI) GetPinnedMessages(ctx context.Context, conversationID string) ([]*messaging.Message, error) {
	if err := f.enter("pinned"); err != nil {
		return nil, err
	}
	return nil, nil
}

type emitted struct {
	command string
	payload interface{}
}

// fakeStream records emitted commands.
type fakeStream struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []emitted
}

func (s *fakeStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) Emit(ctx context.Context, command string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, emitted{command: command, payload: payload})
	return nil
}

func (s *fakeStream) commands(name string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interface{}
	for _, e := range s.sent {
		if e.command == name {
			out = append(out, e.payload)
		}
	}
	return out
}

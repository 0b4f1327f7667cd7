package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

func setup(t *testing.T, stream *fakeStream, cfg Config) (*Synchronizer, *fakeAPI) {
	t.Helper()

	c1 := newConv("c1", "alice", "bob")
	c1.UnreadCount = 5
	c1.HasUnread = true
	api := newFakeAPI("alice", c1, newConv("c2", "alice", "carol"), newConv("c3", "alice", "bob", "carol"))
	api.setMessages("c1",
		newMsg("m1", "c1", "bob", "hi", at(1)),
		newMsg("m2", "c1", "alice", "hello", at(2)),
	)
	api.setMessages("c2", newMsg("b1", "c2", "carol", "hey", at(3)))

	var st Stream
	if stream != nil {
		st = stream
	}
	cfg.Logger = zerolog.Nop()
	s := New("alice", api, st, cfg)
	require.NoError(t, s.LoadConversations(context.Background()))
	return s, api
}

func ids(msgs []*messaging.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func conversation(t *testing.T, s *Synchronizer, id string) *messaging.Conversation {
	t.Helper()
	conv, ok := s.Conversation(id)
	require.True(t, ok, "conversation %s not found", id)
	return conv
}

func TestLoadConversations(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx := context.Background()

	t.Run("replaces the list wholesale", func(t *testing.T) {
		assert.Len(t, s.Conversations(), 3)
		assert.Equal(t, 1, api.callCount("list"))
	})

	t.Run("failure keeps previous state", func(t *testing.T) {
		api.failOn("list", errTransport)
		err := s.LoadConversations(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errTransport))
		assert.Len(t, s.Conversations(), 3)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		convs := s.Conversations()
		convs[0].Name = "mutated"
		assert.NotEqual(t, "mutated", conversation(t, s, convs[0].ID).Name)
	})
}

func TestIncomingMessages_UniqueAndOrdered(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	require.NoError(t, s.OpenConversation(context.Background(), "c1"))

	order := []int{5, 3, 5, 4, 3, 9, 7, 9}
	for _, n := range order {
		s.HandleEvent(MessageCreated{Message: newMsg(fmt.Sprintf("e%d", n), "c1", "bob", "x", at(10+n))})
	}
	// older than everything already loaded
	s.HandleEvent(MessageCreated{Message: newMsg("e0", "c1", "bob", "x", at(0))})

	msgs := s.Messages()
	assert.Equal(t, []string{"e0", "m1", "m2", "e3", "e4", "e5", "e7", "e9"}, ids(msgs))

	seen := make(map[string]bool)
	for i, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}

func TestIncomingMessage_OtherConversation(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	require.NoError(t, s.OpenConversation(context.Background(), "c1"))

	s.HandleEvent(MessageCreated{Message: newMsg("b2", "c2", "carol", "later", at(20))})

	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
	c2 := conversation(t, s, "c2")
	require.NotNil(t, c2.LastMessage)
	assert.Equal(t, "b2", c2.LastMessage.ID)
	assert.Equal(t, 1, c2.UnreadCount)
	assert.True(t, c2.HasUnread)
}

func TestScenario_NewMessageInOpenConversation(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	require.Len(t, s.Conversations(), 3)
	require.NoError(t, s.OpenConversation(context.Background(), "c1"))

	env, err := messaging.NewEnvelope(messaging.EventMessage, newMsg("m99", "c1", "bob", "ping", at(30)))
	require.NoError(t, err)
	s.HandleEnvelope(env)

	msgs := s.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "m99", msgs[len(msgs)-1].ID)
	assert.Equal(t, "m99", conversation(t, s, "c1").LastMessage.ID)
}

func TestMarkReadThenIncomingMessage(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx := context.Background()

	require.Equal(t, 5, conversation(t, s, "c1").UnreadCount)
	require.NoError(t, s.MarkRead(ctx, "c1"))
	assert.Equal(t, 0, conversation(t, s, "c1").UnreadCount)
	assert.Equal(t, 1, api.callCount("mark_read"))

	s.HandleEvent(MessageCreated{Message: newMsg("m3", "c1", "bob", "new", at(5))})

	conv := conversation(t, s, "c1")
	assert.Equal(t, 1, conv.UnreadCount)
	assert.True(t, conv.HasUnread)
}

func TestLoadMessages_StaleResponseDiscarded(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx := context.Background()

	gate := make(chan struct{})
	api.mu.Lock()
	api.gates["c1"] = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.LoadMessages(ctx, "c1") }()
	require.Equal(t, "c1", <-api.started)

	require.NoError(t, s.LoadMessages(ctx, "c2"))
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, "c2", s.ActiveConversation())
	assert.Equal(t, []string{"b1"}, ids(s.Messages()))
}

func TestLoadMessages_ZeroesUnread(t *testing.T) {
	s, api := setup(t, nil, Config{})

	require.NoError(t, s.LoadMessages(context.Background(), "c1"))
	assert.Equal(t, 0, conversation(t, s, "c1").UnreadCount)
	assert.Equal(t, 1, api.callCount("mark_read"))
}

func TestEditScenario(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, _ := setup(t, stream, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	require.NoError(t, s.EditMessage(ctx, "c1", "m1", "hello v2"))
	require.Len(t, stream.commands(messaging.CommandEdit), 1)

	t.Run("second edit while first is in flight", func(t *testing.T) {
		err := s.EditMessage(ctx, "c1", "m1", "hello v3")
		assert.ErrorIs(t, err, ErrEditInFlight)
	})

	edited := newMsg("m1", "c1", "bob", "hello v2", at(1))
	editedAt := at(40)
	edited.EditedAt = &editedAt
	edited.Version = 2
	s.HandleEvent(MessageUpdated{Message: edited})

	msgs := s.Messages()
	require.Equal(t, []string{"m1", "m2"}, ids(msgs))
	assert.Equal(t, "hello v2", msgs[0].Content)
	require.NotNil(t, msgs[0].EditedAt)

	t.Run("confirmation frees the edit slot", func(t *testing.T) {
		assert.NoError(t, s.EditMessage(ctx, "c1", "m1", "hello v3"))
	})
}

func TestEditTimeoutFreesSlot(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, _ := setup(t, stream, Config{EditTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	require.NoError(t, s.EditMessage(ctx, "c1", "m1", "first"))
	require.ErrorIs(t, s.EditMessage(ctx, "c1", "m1", "second"), ErrEditInFlight)

	assert.Eventually(t, func() bool {
		return s.EditMessage(ctx, "c1", "m1", "third") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestMessageUpdated_Idempotent(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	require.NoError(t, s.OpenConversation(context.Background(), "c1"))

	updated := newMsg("m2", "c1", "alice", "changed", at(2))
	updated.Version = 2

	s.HandleEvent(MessageUpdated{Message: updated})
	once := s.Messages()
	s.HandleEvent(MessageUpdated{Message: updated})
	twice := s.Messages()

	assert.Equal(t, once, twice)
}

func TestMessageUpdated_OlderVersionIgnored(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	require.NoError(t, s.OpenConversation(context.Background(), "c1"))

	newer := newMsg("m1", "c1", "bob", "newer", at(1))
	newer.Version = 3
	older := newMsg("m1", "c1", "bob", "older", at(1))
	older.Version = 2

	s.HandleEvent(MessageUpdated{Message: newer})
	s.HandleEvent(MessageUpdated{Message: older})

	assert.Equal(t, "newer", s.Messages()[0].Content)
}

func TestMessageUpdated_UnknownIDIsNoop(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	require.NoError(t, s.OpenConversation(context.Background(), "c1"))
	before := s.Messages()

	s.HandleEvent(MessageUpdated{Message: newMsg("m404", "c1", "bob", "ghost", at(1))})
	s.HandleEvent(MessageDeleted{Message: newMsg("m405", "c1", "bob", "ghost", at(1))})

	assert.Equal(t, before, s.Messages())
}

func TestDeleteScenario(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	require.NoError(t, s.DeleteMessage(ctx, "c1", "m2"))

	msgs := s.Messages()
	require.Equal(t, []string{"m1", "m2"}, ids(msgs))
	assert.True(t, msgs[1].IsDeleted())
	assert.Equal(t, at(2), msgs[1].CreatedAt)
	assert.Equal(t, DeletedPlaceholder, DisplayContent(msgs[1]))
	assert.NotContains(t, DisplayContent(msgs[1]), "hello")
}

func TestToggleReactionTwiceRestoresSet(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	original := s.Messages()[0].Reactions

	require.NoError(t, s.ToggleReaction(ctx, "c1", "m1", "👍"))
	reacted := s.Messages()[0].Reactions
	require.Len(t, reacted, 1)
	assert.Equal(t, "alice", reacted[0].UserID)

	require.NoError(t, s.ToggleReaction(ctx, "c1", "m1", "👍"))
	assert.ElementsMatch(t, original, s.Messages()[0].Reactions)
}

func TestTogglePin(t *testing.T) {
	s, _ := setup(t, nil, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	require.NoError(t, s.TogglePin(ctx, "c1", "m1"))
	m := s.Messages()[0]
	assert.True(t, m.IsPinned)
	require.NotNil(t, m.PinnedBy)
	assert.Equal(t, "alice", *m.PinnedBy)
	assert.Equal(t, 1, conversation(t, s, "c1").PinnedCount)

	require.NoError(t, s.TogglePin(ctx, "c1", "m1"))
	assert.False(t, s.Messages()[0].IsPinned)
	assert.Equal(t, 0, conversation(t, s, "c1").PinnedCount)
}

func TestForwardMessage(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	t.Run("unknown target makes no call", func(t *testing.T) {
		err := s.ForwardMessage(ctx, "c1", "m1", "nowhere")
		assert.ErrorIs(t, err, ErrUnknownConversation)
		assert.Equal(t, 0, api.callCount("forward"))
	})

	t.Run("known target updates its last message", func(t *testing.T) {
		require.NoError(t, s.ForwardMessage(ctx, "c1", "m1", "c2"))
		c2 := conversation(t, s, "c2")
		require.NotNil(t, c2.LastMessage)
		assert.Equal(t, "hi", c2.LastMessage.Content)
		assert.Equal(t, 0, c2.UnreadCount)
		assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
	})
}

func TestSendMessage_OptimisticOverStream(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, api := setup(t, stream, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	pending, err := s.SendMessage(ctx, "c1", "  yo  ", "m1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pending.ID, ProvisionalPrefix))
	assert.Equal(t, messaging.StatusPending, pending.Status)
	assert.Equal(t, 0, api.callCount("send"))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	last := msgs[2]
	assert.Equal(t, pending.ID, last.ID)
	assert.Equal(t, "yo", last.Content)
	require.NotNil(t, last.ReplyTo)
	assert.Equal(t, "hi", last.ReplyTo.Content)
	assert.Equal(t, pending.ID, conversation(t, s, "c1").LastMessage.ID)

	sent := stream.commands(messaging.CommandSend)
	require.Len(t, sent, 1)
	req, ok := sent[0].(*messaging.SendMessageRequest)
	require.True(t, ok)
	assert.Equal(t, pending.ClientID, req.ClientID)
	assert.Equal(t, "yo", req.Content)

	echo := newMsg("srv-1", "c1", "alice", "yo", at(50))
	echo.ClientID = pending.ClientID
	s.HandleEvent(MessageCreated{Message: echo})
	s.HandleEvent(MessageCreated{Message: echo})

	msgs = s.Messages()
	require.Equal(t, []string{"m1", "m2", "srv-1"}, ids(msgs))
	assert.Equal(t, messaging.StatusSent, msgs[2].Status)

	conv := conversation(t, s, "c1")
	assert.Equal(t, "srv-1", conv.LastMessage.ID)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestSendMessage_RESTFallback(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	msg, err := s.SendMessage(ctx, "c1", "over rest", "")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, 1, api.callCount("send"))

	// the stream echo of the same message must not duplicate it
	s.HandleEvent(MessageCreated{Message: msg})
	assert.Equal(t, []string{"m1", "m2", "srv-1"}, ids(s.Messages()))
}

func TestSendMessage_Failures(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		s, api := setup(t, nil, Config{})
		_, err := s.SendMessage(context.Background(), "c1", "   ", "")
		assert.ErrorIs(t, err, ErrEmptyContent)
		assert.Equal(t, 0, api.callCount("send"))
	})

	t.Run("transport failure marks the message failed", func(t *testing.T) {
		s, api := setup(t, nil, Config{})
		ctx := context.Background()
		require.NoError(t, s.OpenConversation(ctx, "c1"))
		api.failOn("send", errTransport)

		_, err := s.SendMessage(ctx, "c1", "lost", "")
		require.ErrorIs(t, err, errTransport)

		msgs := s.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, messaging.StatusFailed, msgs[2].Status)
		assert.Equal(t, "lost", msgs[2].Content)
	})

	t.Run("gateway rejection marks the message failed", func(t *testing.T) {
		stream := &fakeStream{connected: true}
		s, _ := setup(t, stream, Config{})
		ctx := context.Background()
		require.NoError(t, s.OpenConversation(ctx, "c1"))

		pending, err := s.SendMessage(ctx, "c1", "rejected", "")
		require.NoError(t, err)

		s.HandleEvent(CommandFailed{messaging.ErrorEvent{
			Command:  messaging.CommandSend,
			ClientID: pending.ClientID,
			Code:     "forbidden",
			Message:  "not a participant",
		}})
		assert.Equal(t, messaging.StatusFailed, s.Messages()[2].Status)
	})
}

func TestLoadMessages_KeepsPendingSends(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, _ := setup(t, stream, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	pending, err := s.SendMessage(ctx, "c1", "in flight", "")
	require.NoError(t, err)

	require.NoError(t, s.LoadMessages(ctx, "c1"))
	assert.Equal(t, []string{"m1", "m2", pending.ID}, ids(s.Messages()))
}

func TestSendMessage_UnconfirmedStreamSendFails(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, _ := setup(t, stream, Config{SendTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))

	lost, err := s.SendMessage(ctx, "c1", "into the void", "")
	require.NoError(t, err)
	confirmed, err := s.SendMessage(ctx, "c1", "echoed", "")
	require.NoError(t, err)

	echo := newMsg("srv-9", "c1", "alice", "echoed", at(60))
	echo.ClientID = confirmed.ClientID
	s.HandleEvent(MessageCreated{Message: echo})

	find := func(id string) *messaging.Message {
		for _, m := range s.Messages() {
			if m.ID == id {
				return m
			}
		}
		return nil
	}
	assert.Eventually(t, func() bool {
		m := find(lost.ID)
		return m != nil && m.Status == messaging.StatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "into the void", find(lost.ID).Content)

	echoed := find("srv-9")
	require.NotNil(t, echoed)
	assert.Equal(t, messaging.StatusSent, echoed.Status)
}

func TestOpenConversation_SwitchesRooms(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, _ := setup(t, stream, Config{})
	ctx := context.Background()

	require.NoError(t, s.OpenConversation(ctx, "c1"))
	require.NoError(t, s.OpenConversation(ctx, "c2"))

	assert.Len(t, stream.commands(messaging.CommandJoin), 2)
	leaves := stream.commands(messaging.CommandLeave)
	require.Len(t, leaves, 1)
	assert.Equal(t, messaging.ConversationRef{ConversationID: "c1"}, leaves[0])
	assert.Equal(t, []string{"c2"}, s.Rooms())
}

func TestTypingIndicator(t *testing.T) {
	s, _ := setup(t, nil, Config{})

	typing := func(user string, on bool) {
		s.HandleEvent(TypingChanged{messaging.TypingPayload{ConversationID: "c1", UserID: user, IsTyping: on}})
	}

	typing("bob", true)
	assert.Equal(t, "bob", s.TypingUser("c1"))

	typing("carol", true)
	assert.Equal(t, "carol", s.TypingUser("c1"))

	typing("bob", false)
	assert.Equal(t, "carol", s.TypingUser("c1"), "stop from a previous typer keeps the slot")

	typing("alice", true)
	assert.Equal(t, "carol", s.TypingUser("c1"), "own typing is ignored")

	typing("carol", false)
	assert.Empty(t, s.TypingUser("c1"))
}

func TestNotifyTyping_Debounce(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, _ := setup(t, stream, Config{TypingTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, s.NotifyTyping(ctx, "c1"))
	require.NoError(t, s.NotifyTyping(ctx, "c1"))

	starts := stream.commands(messaging.CommandTyping)
	require.Len(t, starts, 1)
	assert.True(t, starts[0].(messaging.TypingPayload).IsTyping)

	require.Eventually(t, func() bool {
		return len(stream.commands(messaging.CommandTyping)) == 2
	}, time.Second, 5*time.Millisecond)

	stop := stream.commands(messaging.CommandTyping)[1].(messaging.TypingPayload)
	assert.False(t, stop.IsTyping)
	assert.Equal(t, "alice", stop.UserID)
}

func TestPresence(t *testing.T) {
	s, _ := setup(t, nil, Config{})

	s.HandleEvent(PresenceChanged{messaging.PresenceEvent{UserID: "bob", Online: true}})
	assert.True(t, s.IsOnline("bob"))
	assert.True(t, conversation(t, s, "c1").Participant("bob").Online)

	s.HandleEvent(OnlineSnapshot{UserIDs: []string{"carol"}})
	assert.False(t, s.IsOnline("bob"))
	assert.Equal(t, []string{"carol"}, s.OnlineUsers())
	assert.False(t, conversation(t, s, "c1").Participant("bob").Online)

	s.HandleEvent(PresenceChanged{messaging.PresenceEvent{UserID: "carol", Online: false}})
	assert.Empty(t, s.OnlineUsers())
}

func TestConversationEvents(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx := context.Background()

	t.Run("rename", func(t *testing.T) {
		var ev ConversationRenamed
		ev.ConversationID, ev.Name = "c2", "Design"
		s.HandleEvent(ev)
		assert.Equal(t, "Design", conversation(t, s, "c2").Name)
	})

	t.Run("mute toggles locally after the round trip", func(t *testing.T) {
		require.NoError(t, s.ToggleMute(ctx, "c3"))
		assert.True(t, conversation(t, s, "c3").IsMuted)
		require.NoError(t, s.ToggleMute(ctx, "c3"))
		assert.False(t, conversation(t, s, "c3").IsMuted)
		assert.Equal(t, 2, api.callCount("mute"))
	})

	t.Run("mute failure leaves the flag", func(t *testing.T) {
		api.failOn("mute", errTransport)
		require.Error(t, s.ToggleMute(ctx, "c3"))
		assert.False(t, conversation(t, s, "c3").IsMuted)
	})
}

func TestParticipantLeft_TriggersReload(t *testing.T) {
	s, api := setup(t, nil, Config{})

	s.HandleEvent(ParticipantLeft{messaging.ParticipantLeftEvent{ConversationID: "c3", UserID: "carol"}})
	assert.Eventually(t, func() bool { return api.callCount("list") == 2 }, time.Second, 5*time.Millisecond)
}

func TestParticipantLeft_CurrentUserDropsConversation(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, api := setup(t, stream, Config{})
	require.NoError(t, s.OpenConversation(context.Background(), "c1"))
	require.Len(t, stream.commands(messaging.CommandJoin), 1)

	api.mu.Lock()
	api.conversations = api.conversations[1:]
	api.mu.Unlock()

	s.HandleEvent(ParticipantLeft{messaging.ParticipantLeftEvent{ConversationID: "c1", UserID: "alice"}})

	_, ok := s.Conversation("c1")
	assert.False(t, ok)
	assert.Empty(t, s.ActiveConversation())
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Rooms())

	assert.Eventually(t, func() bool {
		return len(stream.commands(messaging.CommandLeave)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, messaging.ConversationRef{ConversationID: "c1"}, stream.commands(messaging.CommandLeave)[0])

	// Another member leaving does not touch this user's rooms.
	s.HandleEvent(ParticipantLeft{messaging.ParticipantLeftEvent{ConversationID: "c3", UserID: "carol"}})
	assert.Never(t, func() bool {
		return len(stream.commands(messaging.CommandLeave)) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestNotificationTriggersReload(t *testing.T) {
	var (
		mu      sync.Mutex
		notices []string
	)
	s, api := setup(t, nil, Config{OnChange: func(c Change) {
		if c.Kind == ChangeNotification {
			mu.Lock()
			notices = append(notices, c.Text)
			mu.Unlock()
		}
	}})

	s.HandleEvent(Notification{messaging.NotificationEvent{
		Kind: messaging.NotificationConversationCreated,
		Text: "added to a group",
	}})

	assert.Eventually(t, func() bool { return api.callCount("list") == 2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"added to a group"}, notices)
}

func TestConversationManagement(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx := context.Background()

	t.Run("create direct adds the conversation", func(t *testing.T) {
		conv, err := s.CreateDirect(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, "dm-dave", conv.ID)
		_, ok := s.Conversation("dm-dave")
		assert.True(t, ok)
	})

	t.Run("create group reloads the list", func(t *testing.T) {
		before := api.callCount("list")
		conv, err := s.CreateGroup(ctx, "team", []string{"bob"})
		require.NoError(t, err)
		assert.Equal(t, "team", conv.Name)
		assert.Equal(t, before+1, api.callCount("list"))
		_, ok := s.Conversation(conv.ID)
		assert.True(t, ok)
	})

	t.Run("rename applies the new name", func(t *testing.T) {
		require.NoError(t, s.RenameConversation(ctx, "c3", "  Ops  "))
		assert.Equal(t, "Ops", conversation(t, s, "c3").Name)
		assert.ErrorIs(t, s.RenameConversation(ctx, "c3", " "), ErrEmptyContent)
	})

	t.Run("exit removes the conversation", func(t *testing.T) {
		require.NoError(t, s.ExitConversation(ctx, "c2"))
		_, ok := s.Conversation("c2")
		assert.False(t, ok)
	})

	t.Run("search ignores blank queries", func(t *testing.T) {
		results, err := s.SearchMessages(ctx, "  ")
		require.NoError(t, err)
		assert.Nil(t, results)
		assert.Equal(t, 0, api.callCount("search"))

		results, err = s.SearchMessages(ctx, "hi")
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestHandleConnect_RejoinsAndResyncs(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, api := setup(t, stream, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))
	listBefore := api.callCount("list")

	s.HandleConnect()

	assert.Eventually(t, func() bool {
		return len(stream.commands(messaging.CommandGetOnline)) == 1 &&
			len(stream.commands(messaging.CommandJoin)) == 2 &&
			api.callCount("list") == listBefore+1 &&
			api.callCount("get_messages") == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHandleConnect_ResyncsMessagesWhenListFails(t *testing.T) {
	stream := &fakeStream{connected: true}
	s, api := setup(t, stream, Config{})
	ctx := context.Background()
	require.NoError(t, s.OpenConversation(ctx, "c1"))
	api.failOn("list", errTransport)
	api.setMessages("c1",
		newMsg("m1", "c1", "bob", "hi", at(1)),
		newMsg("m2", "c1", "alice", "hello", at(2)),
		newMsg("m3", "c1", "bob", "missed while offline", at(3)),
	)

	s.HandleConnect()

	assert.Eventually(t, func() bool {
		return len(s.Messages()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages()))
}

func TestStartPolling(t *testing.T) {
	s, api := setup(t, nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.StartPolling(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return api.callCount("list") >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestEmitFailureFallsBackToREST(t *testing.T) {
	stream := &fakeStream{connected: true, err: errTransport}
	s, api := setup(t, stream, Config{})
	ctx := context.Background()
	require.NoError(t, s.LoadMessages(ctx, "c1"))

	require.NoError(t, s.ToggleReaction(ctx, "c1", "m2", "🎉"))
	assert.Equal(t, 1, api.callCount("reaction"))
	assert.Len(t, s.Messages()[1].Reactions, 1)
}

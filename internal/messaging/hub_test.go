package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewLocalBroker(), NewMemoryPresence(), HubConfig{}, zerolog.Nop())
	require.NoError(t, hub.Start())
	t.Cleanup(hub.Shutdown)
	return hub
}

// queued drains the frames waiting on a socketless client.
func queued(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}

func TestHub_PresenceAnnouncements(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	alice := NewClient(hub, nil, "alice", nil)
	hub.Register(alice)
	assert.Empty(t, queued(t, alice))

	bob1 := NewClient(hub, nil, "bob", nil)
	bob2 := NewClient(hub, nil, "bob", nil)
	hub.Register(bob1)
	hub.Register(bob2)

	got := queued(t, alice)
	require.Len(t, got, 1, "second connection of a user is not announced")
	var p PresenceEvent
	require.NoError(t, json.Unmarshal(got[0].Data, &p))
	assert.Equal(t, PresenceEvent{UserID: "bob", Online: true}, p)
	assert.Empty(t, queued(t, bob1))

	assert.True(t, hub.IsOnline(ctx, "bob"))
	assert.Equal(t, 3, hub.ActiveConnections())
	users, err := hub.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	hub.Unregister(bob1)
	assert.Empty(t, queued(t, alice))
	assert.True(t, hub.IsOnline(ctx, "bob"))

	hub.Unregister(bob2)
	hub.Unregister(bob2)
	got = queued(t, alice)
	require.Len(t, got, 1)
	require.NoError(t, json.Unmarshal(got[0].Data, &p))
	assert.Equal(t, PresenceEvent{UserID: "bob", Online: false}, p)
	assert.False(t, hub.IsOnline(ctx, "bob"))
	assert.Equal(t, 1, hub.ActiveConnections())
}

func TestHub_DeliveryTargets(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	alice := NewClient(hub, nil, "alice", nil)
	bob := NewClient(hub, nil, "bob", nil)
	carol := NewClient(hub, nil, "carol", nil)
	for _, c := range []*Client{alice, bob, carol} {
		hub.Register(c)
	}
	for _, c := range []*Client{alice, bob, carol} {
		queued(t, c)
	}

	hub.JoinRoom(alice, "room-1")
	hub.JoinRoom(bob, "room-1")

	env, err := NewEnvelope(EventTyping, TypingPayload{ConversationID: "room-1", UserID: "alice", IsTyping: true})
	require.NoError(t, err)
	hub.Publish(ctx, Delivery{Room: "room-1", ExceptUser: "alice", Envelope: env})

	assert.Empty(t, queued(t, alice))
	assert.Equal(t, []string{EventTyping}, types(queued(t, bob)))
	assert.Empty(t, queued(t, carol))

	// room members and named users are merged without duplicates
	env, err = NewEnvelope(EventMessageUpdated, map[string]string{"id": "m1"})
	require.NoError(t, err)
	hub.Publish(ctx, Delivery{Room: "room-1", UserIDs: []string{"alice", "carol"}, Envelope: env})

	assert.Equal(t, []string{EventMessageUpdated}, types(queued(t, alice)))
	assert.Equal(t, []string{EventMessageUpdated}, types(queued(t, bob)))
	assert.Equal(t, []string{EventMessageUpdated}, types(queued(t, carol)))

	hub.LeaveRoom(bob, "room-1")
	hub.Publish(ctx, Delivery{Room: "room-1", Envelope: env})
	assert.Len(t, queued(t, alice), 1)
	assert.Empty(t, queued(t, bob))

	hub.Publish(ctx, Delivery{Broadcast: true, Envelope: env})
	for _, c := range []*Client{alice, bob, carol} {
		assert.Len(t, queued(t, c), 1)
	}
}

func TestHub_UnregisterLeavesRooms(t *testing.T) {
	hub := newTestHub(t)

	alice := NewClient(hub, nil, "alice", nil)
	hub.Register(alice)
	hub.JoinRoom(alice, "room-1")
	hub.Unregister(alice)

	hub.clientsMux.RLock()
	defer hub.clientsMux.RUnlock()
	assert.Empty(t, hub.rooms)
	assert.Empty(t, hub.clients)

	_, open := <-alice.send
	assert.False(t, open)
	assert.True(t, alice.enqueue([]byte("late")), "frames for a closed client are dropped")
}

func TestHub_EvictUser(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	alice := NewClient(hub, nil, "alice", nil)
	bob1 := NewClient(hub, nil, "bob", nil)
	bob2 := NewClient(hub, nil, "bob", nil)
	for _, c := range []*Client{alice, bob1, bob2} {
		hub.Register(c)
		hub.JoinRoom(c, "room-1")
	}
	hub.JoinRoom(bob1, "room-2")
	queued(t, alice)

	hub.EvictUser(ctx, "room-1", "bob")

	hub.clientsMux.RLock()
	assert.Len(t, hub.rooms["room-1"], 1)
	assert.Len(t, hub.rooms["room-2"], 1)
	hub.clientsMux.RUnlock()
	assert.False(t, bob1.rooms["room-1"])
	assert.True(t, bob1.rooms["room-2"])

	env, err := NewEnvelope(EventTyping, TypingPayload{ConversationID: "room-1", UserID: "alice"})
	require.NoError(t, err)
	hub.Publish(ctx, Delivery{Room: "room-1", Envelope: env})

	assert.Equal(t, []string{EventTyping}, types(queued(t, alice)))
	assert.Empty(t, queued(t, bob1))
	assert.Empty(t, queued(t, bob2))
}

func TestHub_LeftUserStopsReceivingRoomEvents(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	svc := NewService(NewMemoryRepository(), &fakeStorage{}, nil, zerolog.Nop())
	svc.SetHub(hub)
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, svc.RegisterUser(ctx, &UserInfo{ID: id, Username: id}))
	}
	conv, err := svc.CreateGroupConversation(ctx, "alice", &CreateGroupRequest{Name: "team", UserIDs: []string{"bob", "carol"}})
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, "alice", &SendMessageRequest{ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)

	alice := NewClient(hub, nil, "alice", svc)
	bobPhone := NewClient(hub, nil, "bob", svc)
	bobLaptop := NewClient(hub, nil, "bob", svc)
	carol := NewClient(hub, nil, "carol", svc)
	clients := []*Client{alice, bobPhone, bobLaptop, carol}
	for _, c := range clients {
		hub.Register(c)
		hub.JoinRoom(c, conv.ID)
	}
	for _, c := range clients {
		queued(t, c)
	}

	require.NoError(t, svc.LeaveConversation(ctx, "bob", conv.ID))
	assert.Equal(t, []string{EventParticipantLeft}, types(queued(t, bobPhone)))
	assert.Equal(t, []string{EventParticipantLeft}, types(queued(t, bobLaptop)))
	queued(t, alice)
	queued(t, carol)

	_, err = svc.EditMessage(ctx, "alice", &EditMessageRequest{MessageID: msg.ID, Content: "edited"})
	require.NoError(t, err)
	require.NoError(t, svc.NotifyTyping(ctx, "carol", conv.ID, true))

	assert.Empty(t, queued(t, bobPhone))
	assert.Empty(t, queued(t, bobLaptop))
	assert.Equal(t, []string{EventMessageUpdated, EventTyping}, types(queued(t, alice)))
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	slow := NewClient(hub, nil, "slow", nil)
	hub.Register(slow)
	for i := 0; i < maxQueuedMessages; i++ {
		require.True(t, slow.enqueue([]byte("{}")))
	}

	env, err := NewEnvelope(EventNotification, NotificationEvent{Kind: "x"})
	require.NoError(t, err)
	hub.Publish(ctx, Delivery{UserIDs: []string{"slow"}, Envelope: env})

	assert.Eventually(t, func() bool {
		return hub.ActiveConnections() == 0
	}, time.Second, 10*time.Millisecond)
	assert.False(t, hub.IsOnline(ctx, "slow"))
}

func TestLocalBroker_SubscriptionEndsWithContext(t *testing.T) {
	broker := NewLocalBroker()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan Delivery, 4)
	require.NoError(t, broker.Subscribe(ctx, func(d Delivery) { got <- d }))

	require.NoError(t, broker.Publish(context.Background(), Delivery{Room: "r"}))
	select {
	case d := <-got:
		assert.Equal(t, "r", d.Room)
	default:
		t.Fatal("delivery not handled synchronously")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_ = broker.Publish(context.Background(), Delivery{Room: "after"})
		select {
		case <-got:
			return false
		default:
			return true
		}
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryPresence(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPresence()

	first, err := p.Connect(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, first)
	first, _ = p.Connect(ctx, "u1")
	assert.False(t, first)

	last, _ := p.Disconnect(ctx, "u1")
	assert.False(t, last)
	online, _ := p.IsOnline(ctx, "u1")
	assert.True(t, online)

	last, _ = p.Disconnect(ctx, "u1")
	assert.True(t, last)
	online, _ = p.IsOnline(ctx, "u1")
	assert.False(t, online)

	last, _ = p.Disconnect(ctx, "never")
	assert.False(t, last)
}

// internal/messaging/hub.go

package messaging

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HubConfig tunes per-connection command limits.
type HubConfig struct {
	CommandRate  rate.Limit
	CommandBurst int
}

// Hub maintains active websocket connections and the rooms they joined
type Hub struct {
	// Connections per user; a user may hold several
	clients map[string]map[*Client]bool
	// Connections per conversation room
	rooms      map[string]map[*Client]bool
	clientsMux sync.RWMutex

	broker   Broker
	presence PresenceStore
	config   HubConfig
	logger   zerolog.Logger

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// WaitGroup for pending operations
	wg sync.WaitGroup
}

func NewHub(broker Broker, presence PresenceStore, config HubConfig, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if config.CommandRate <= 0 {
		config.CommandRate = 20
	}
	if config.CommandBurst <= 0 {
		config.CommandBurst = 40
	}

	return &Hub{
		clients:  make(map[string]map[*Client]bool),
		rooms:    make(map[string]map[*Client]bool),
		broker:   broker,
		presence: presence,
		config:   config,
		logger:   logger.With().Str("component", "hub").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes the hub to its broker. Deliveries published after Start
// returns reach local connections.
func (h *Hub) Start() error {
	return h.broker.Subscribe(h.ctx, h.deliver)
}

// Register adds a connection and announces the user when it is their first.
func (h *Hub) Register(client *Client) {
	h.clientsMux.Lock()
	conns, ok := h.clients[client.userID]
	if !ok {
		conns = make(map[*Client]bool)
		h.clients[client.userID] = conns
	}
	conns[client] = true
	total := h.countLocked()
	h.clientsMux.Unlock()

	connectionsGauge.Inc()
	h.logger.Info().Str("user_id", client.userID).Int("total", total).Msg("client connected")

	first, err := h.presence.Connect(h.ctx, client.userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", client.userID).Msg("presence connect failed")
		return
	}
	if first {
		h.publishPresence(client.userID, true)
	}
}

// Unregister drops a connection from the hub and every room. It is safe to
// call more than once.
func (h *Hub) Unregister(client *Client) {
	h.clientsMux.Lock()
	conns, ok := h.clients[client.userID]
	if !ok || !conns[client] {
		h.clientsMux.Unlock()
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
	for room := range client.rooms {
		h.leaveRoomLocked(client, room)
	}
	client.closeSend()
	total := h.countLocked()
	h.clientsMux.Unlock()

	connectionsGauge.Dec()
	h.logger.Info().Str("user_id", client.userID).Int("total", total).Msg("client disconnected")

	last, err := h.presence.Disconnect(h.ctx, client.userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", client.userID).Msg("presence disconnect failed")
		return
	}
	if last {
		h.publishPresence(client.userID, false)
	}
}

func (h *Hub) publishPresence(userID string, online bool) {
	env, err := NewEnvelope(EventPresence, PresenceEvent{UserID: userID, Online: online})
	if err != nil {
		return
	}
	h.Publish(h.ctx, Delivery{Broadcast: true, ExceptUser: userID, Envelope: env})
}

func (h *Hub) JoinRoom(client *Client, conversationID string) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[conversationID] = room
	}
	room[client] = true
	client.rooms[conversationID] = true
}

func (h *Hub) LeaveRoom(client *Client, conversationID string) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	h.leaveRoomLocked(client, conversationID)
}

func (h *Hub) leaveRoomLocked(client *Client, conversationID string) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(client.rooms, conversationID)
}

// EvictUser takes every connection of userID, on every instance, out of the
// conversation's room.
func (h *Hub) EvictUser(ctx context.Context, conversationID, userID string) {
	h.Publish(ctx, Delivery{UserIDs: []string{userID}, Room: conversationID, Evict: true})
}

func (h *Hub) evictLocal(d Delivery) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	for _, userID := range d.UserIDs {
		for c := range h.clients[userID] {
			h.leaveRoomLocked(c, d.Room)
		}
	}
}

// Publish hands d to the broker, which delivers it on every instance.
func (h *Hub) Publish(ctx context.Context, d Delivery) {
	if err := h.broker.Publish(ctx, d); err != nil {
		h.logger.Error().Err(err).Str("event", d.Envelope.Type).Msg("publish failed")
	}
}

// deliver writes d to the matching local connections.
func (h *Hub) deliver(d Delivery) {
	if d.Evict {
		h.evictLocal(d)
		return
	}

	data, err := json.Marshal(d.Envelope)
	if err != nil {
		h.logger.Error().Err(err).Str("event", d.Envelope.Type).Msg("error marshalling envelope")
		return
	}

	h.clientsMux.RLock()
	targets := make(map[*Client]bool)
	if d.Broadcast {
		for _, conns := range h.clients {
			for c := range conns {
				targets[c] = true
			}
		}
	}
	for _, userID := range d.UserIDs {
		for c := range h.clients[userID] {
			targets[c] = true
		}
	}
	if d.Room != "" {
		for c := range h.rooms[d.Room] {
			targets[c] = true
		}
	}
	h.clientsMux.RUnlock()

	for c := range targets {
		if d.ExceptUser != "" && c.userID == d.ExceptUser {
			continue
		}
		if !c.enqueue(data) {
			// Unregister if channel is blocked
			h.logger.Warn().Str("user_id", c.userID).Msg("dropping slow client")
			go h.Unregister(c)
			continue
		}
		deliveriesTotal.WithLabelValues(d.Envelope.Type).Inc()
	}
}

// SendToClient writes an envelope to a single connection.
func (h *Hub) SendToClient(client *Client, eventType string, data interface{}) {
	env, err := NewEnvelope(eventType, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", eventType).Msg("error marshalling envelope")
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if !client.enqueue(raw) {
		go h.Unregister(client)
	}
}

func (h *Hub) IsOnline(ctx context.Context, userID string) bool {
	online, err := h.presence.IsOnline(ctx, userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("presence lookup failed")
		h.clientsMux.RLock()
		defer h.clientsMux.RUnlock()
		return len(h.clients[userID]) > 0
	}
	return online
}

func (h *Hub) OnlineUsers(ctx context.Context) ([]string, error) {
	return h.presence.OnlineUsers(ctx)
}

func (h *Hub) ActiveConnections() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

func (h *Hub) newLimiter() *rate.Limiter {
	return rate.NewLimiter(h.config.CommandRate, h.config.CommandBurst)
}

// Shutdown closes every connection and stops the broker subscription.
func (h *Hub) Shutdown() {
	h.clientsMux.RLock()
	var all []*Client
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.clientsMux.RUnlock()

	for _, c := range all {
		h.Unregister(c)
	}
	h.cancel()
	h.wg.Wait()
}

// internal/messaging/client.go

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

const commandTimeout = 10 * time.Second

var errRateLimited = errors.New("too many commands")

// Client represents a websocket client
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	service Service
	limiter *rate.Limiter
	logger  zerolog.Logger

	// guarded by hub.clientsMux
	rooms map[string]bool

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, service Service) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, maxQueuedMessages),
		userID:  userID,
		service: service,
		limiter: hub.newLimiter(),
		logger:  hub.logger.With().Str("user_id", userID).Logger(),
		rooms:   make(map[string]bool),
	}
}

func (c *Client) Start() {
	c.hub.wg.Add(2)
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			break
		}

		// Commands run in arrival order so a send followed by an edit stays ordered
		c.processMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues data for the write pump. It reports false when the queue is
// full; frames for a closed client are dropped silently.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) processMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.replyError("", "", fmt.Errorf("%w: malformed frame", ErrInvalidRequest))
		return
	}
	commandsTotal.WithLabelValues(env.Type).Inc()

	if !c.limiter.Allow() {
		c.replyError(env.Type, clientIDOf(env), errRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, commandTimeout)
	defer cancel()

	if err := c.dispatch(ctx, env); err != nil {
		c.replyError(env.Type, clientIDOf(env), err)
	}
}

func (c *Client) dispatch(ctx context.Context, env Envelope) error {
	switch env.Type {
	case CommandJoin:
		var req ConversationRef
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		if !c.service.IsUserInConversation(ctx, c.userID, req.ConversationID) {
			return ErrNotParticipant
		}
		c.hub.JoinRoom(c, req.ConversationID)

	case CommandLeave:
		var req ConversationRef
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		c.hub.LeaveRoom(c, req.ConversationID)

	case CommandSend:
		var req SendMessageRequest
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		_, err := c.service.SendMessage(ctx, c.userID, &req)
		return err

	case CommandEdit:
		var req EditMessageRequest
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		_, err := c.service.EditMessage(ctx, c.userID, &req)
		return err

	case CommandDelete:
		var req MessageRef
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		_, err := c.service.DeleteMessage(ctx, c.userID, req.MessageID)
		return err

	case CommandReaction:
		var req ReactionRequest
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		_, err := c.service.ToggleReaction(ctx, c.userID, &req)
		return err

	case CommandPin:
		var req MessageRef
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		_, err := c.service.TogglePin(ctx, c.userID, req.MessageID)
		return err

	case CommandForward:
		var req ForwardRequest
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		_, err := c.service.ForwardMessage(ctx, c.userID, &req)
		return err

	case CommandTyping:
		var req TypingPayload
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		return c.service.NotifyTyping(ctx, c.userID, req.ConversationID, req.IsTyping)

	case CommandRead:
		var req ConversationRef
		if err := decodeCommand(env.Data, &req); err != nil {
			return err
		}
		return c.service.MarkRead(ctx, c.userID, req.ConversationID)

	case CommandGetOnline:
		users, err := c.hub.OnlineUsers(ctx)
		if err != nil {
			return err
		}
		c.hub.SendToClient(c, EventOnlineUsers, OnlineUsersEvent{UserIDs: users})

	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidRequest, env.Type)
	}
	return nil
}

func (c *Client) replyError(command, clientID string, err error) {
	code := errorCode(err)
	if code == "internal" {
		c.logger.Error().Err(err).Str("command", command).Msg("command failed")
	}
	c.hub.SendToClient(c, EventError, ErrorEvent{
		Command:  command,
		ClientID: clientID,
		Code:     code,
		Message:  err.Error(),
	})
}

func decodeCommand(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := utils.ValidateStruct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// clientIDOf extracts the idempotency token of a send so failures can be
// matched to the optimistic copy.
func clientIDOf(env Envelope) string {
	if env.Type != CommandSend {
		return ""
	}
	var ref struct {
		ClientID string `json:"client_id"`
	}
	json.Unmarshal(env.Data, &ref)
	return ref.ClientID
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "bad_request"
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrUnauthorized):
		return "forbidden"
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrMessageDeleted):
		return "conflict"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

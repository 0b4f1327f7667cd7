// internal/messaging/websocket.go

package messaging

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket configuration constants
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Maximum number of queued messages per client
	maxQueuedMessages = 256
)

// Upgrader for WebSocket connections
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Tokens are checked before the upgrade, so any origin may connect
		return true
	},
}

// ServeWS upgrades an authenticated request and attaches the connection to
// the hub.
func ServeWS(hub *Hub, service Service, userID string, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(hub, conn, userID, service)
	hub.Register(client)
	client.Start()
	return nil
}

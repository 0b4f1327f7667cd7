// internal/chatsync/stream.go

package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const (
	// Time allowed to write a frame to the gateway
	writeWait = 10 * time.Second

	// Time allowed between frames or pings from the gateway
	pongWait = 60 * time.Second

	// Send pings to the gateway with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the gateway
	maxMessageSize = 512 * 1024
)

// WSStream is a Stream over the gateway's websocket endpoint. Run owns the
// connection and redials with exponential backoff until its context ends.
type WSStream struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger zerolog.Logger

	// NewBackOff builds the reconnect schedule; tests shorten it.
	NewBackOff func() backoff.BackOff

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWSStream creates a stream for the websocket url, authenticating
// with token.
func NewWSStream(url, token string, logger zerolog.Logger) *WSStream {
	return &WSStream{
		url:   url,
		token: token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		logger:     logger.With().Str("component", "chat_stream").Logger(),
		NewBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Connected reports whether a connection is currently up.
func (s *WSStream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Emit sends one command frame.
func (s *WSStream) Emit(ctx context.Context, command string, payload interface{}) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	env, err := messaging.NewEnvelope(command, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Run connects and delivers frames to handler until ctx is done.
// HandleConnect is called after every successful dial.
func (s *WSStream) Run(ctx context.Context, handler EventHandler) error {
	b := s.NewBackOff()
	b.Reset()

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return err
			}
			transportErrors.WithLabelValues("stream_dial").Inc()
			s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("stream dial failed")

			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b.Reset()
		s.setConn(conn)
		s.logger.Info().Str("url", s.url).Msg("stream connected")
		handler.HandleConnect()

		err = s.serve(ctx, conn, handler)
		s.setConn(nil)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("stream disconnected")
	}
}

func (s *WSStream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// serve runs the read loop and keepalive for one connection.
func (s *WSStream) serve(ctx context.Context, conn *websocket.Conn, handler EventHandler) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					conn.Close()
					return
				}
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		// The gateway batches queued frames into one message, newline separated
		for _, frame := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			var env messaging.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				s.logger.Warn().Err(err).Msg("malformed stream frame")
				continue
			}
			handler.HandleEnvelope(env)
		}
	}
}

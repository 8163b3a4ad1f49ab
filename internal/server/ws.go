package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/go-drift/videoplayer/pkg/platform"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// Close reasons sent to event observers.
const (
	closeDisposed     = "disposed"
	closeReplaced     = "replaced"
	closeSlowConsumer = "slow consumer"
	closeShutdown     = "server shutting down"
)

var errSlowConsumer = errors.New("server: observer send buffer full")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type closeFrame struct {
	code   int
	reason string
}

// wsClient forwards one player's events to one WebSocket.
type wsClient struct {
	id      int64
	conn    *websocket.Conn
	send    chan []byte
	closing chan closeFrame
	once    sync.Once
	logger  logrus.FieldLogger
}

func newWSClient(id int64, logger logrus.FieldLogger) *wsClient {
	return &wsClient{
		id:      id,
		send:    make(chan []byte, wsSendBuffer),
		closing: make(chan closeFrame, 1),
		logger:  logger,
	}
}

// closeWith asks the write pump to flush pending events and send a close
// frame. Only the first call has an effect.
func (c *wsClient) closeWith(code int, reason string) {
	c.once.Do(func() {
		c.closing <- closeFrame{code: code, reason: reason}
	})
}

func (c *wsClient) enqueue(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Warn("ws marshal failed")
		return nil
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.closeWith(websocket.CloseTryAgainLater, closeSlowConsumer)
		return errSlowConsumer
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c := newWSClient(id, s.logger.WithField("player", id))

	// Subscribing before the upgrade lets an unknown id fail as plain HTTP.
	// Events arriving in between wait in the send buffer.
	sub, err := s.plugin.Listen(id, platform.EventHandler{
		OnEvent: func(data map[string]any) error {
			return c.enqueue(data)
		},
		OnError: func(code, message string) error {
			return c.enqueue(map[string]any{"error": map[string]any{"code": code, "message": message}})
		},
		OnDone: func() {
			reason := closeDisposed
			if lo.Contains(s.plugin.Players(), id) {
				reason = closeReplaced
			}
			c.closeWith(websocket.CloseNormalClosure, reason)
		},
	})
	if err != nil {
		writeCallError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Cancel()
		c.logger.WithError(err).Debug("ws upgrade failed")
		return
	}
	c.conn = conn

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	c.logger.Debug("observer connected")

	go c.writePump()
	c.readPump()

	sub.Cancel()
	c.closeWith(websocket.CloseNormalClosure, "")
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.logger.Debug("observer disconnected")
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case f := <-c.closing:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(f.code, f.reason),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is already buffered so a close frame never
// overtakes an event.
func (c *wsClient) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *wsClient) write(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg) == nil
}

// readPump discards client messages and returns once the peer goes away.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every event observer.
func (s *Server) Close() {
	s.mu.Lock()
	clients := lo.Keys(s.clients)
	s.mu.Unlock()
	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, closeShutdown)
	}
}

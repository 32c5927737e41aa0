package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teranos/specix/builder"
	"github.com/teranos/specix/logger"
)

// WebSocket timeouts following the gorilla chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients only send control frames
	maxMessageSize = 512
)

// Client is one status stream connection
type Client struct {
	server      *Server
	conn        *websocket.Conn
	id          string
	updates     <-chan builder.State
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// HandleStatusStream upgrades to a WebSocket that receives the tracker status
// on connect and after every transition
func (s *Server) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	updates, unsubscribe := s.tracker.Subscribe()
	client := &Client{
		server:      s,
		conn:        conn,
		id:          uuid.NewString()[:8],
		updates:     updates,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}

	if !s.register(client) {
		client.close()
		return
	}

	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// register adds c and reserves its two pumps on s.wg. It shares s.mu with
// Stop so no pump is added once Stop has started waiting.
func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	if s.getState() != ServerStateRunning {
		s.mu.Unlock()
		s.logger.Debugw("Server draining, rejecting status stream", "client_id", c.id)
		return false
	}
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", c.id,
			"max_clients", MaxClients)
		return false
	}
	s.clients[c] = true
	s.wg.Add(2)
	total := len(s.clients)
	s.mu.Unlock()

	s.metrics.wsClients.Set(float64(total))
	s.logger.Infow("Status stream client connected", "client_id", c.id, logger.FieldCount, total)
	return true
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()

	s.metrics.wsClients.Set(float64(total))
	s.logger.Infow("Status stream client disconnected", "client_id", c.id, logger.FieldCount, total)
}

// readPump consumes control frames so pongs extend the deadline. Clients
// send nothing else; any data frame is discarded.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error", "client_id", c.id, logger.FieldError, err)
			}
			return
		}
	}
}

// writePump is the only writer on the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.server.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			return
		case state, ok := <-c.updates:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(StreamMessage{Type: "status", Data: state}); err != nil {
				c.server.logger.Debugw("Status write error", "client_id", c.id, logger.FieldError, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears the client down once: unsubscribe, unregister, close the socket
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.unsubscribe()
		c.server.unregister(c)
		_ = c.conn.Close()
	})
}

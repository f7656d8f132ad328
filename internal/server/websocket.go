package server

import (
	"net/http"
	"strings"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/gorilla/websocket"
)

// Frame is pushed to a socket once per flush in which one of its cells committed.
type Frame struct {
	Changes map[string]any `json:"changes"`
}

const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan Frame
	sub  internal.Subscription
}

// handleWebSocket upgrades /ws?key=local:cell&key=... A bare "cell" key uses
// the cell name as the local key. The first frame carries every key.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	cells, err := s.resolveKeys(r.URL.Query()["key"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan Frame, sendBuffer)}

	initial := make(map[string]any, len(cells))
	for key, cell := range cells {
		initial[key] = cell.Value()
	}
	c.send <- Frame{Changes: initial}

	sub, err := s.runtime.SubscribeComponent(c, cells, true, s.push)
	if err != nil {
		conn.Close()
		return
	}
	c.sub = sub

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go c.writeLoop()

	// keep the connection until the peer goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.drop(c)
}

func (s *Server) resolveKeys(keys []string) (map[string]internal.Cell, error) {
	if len(keys) == 0 {
		return nil, errBadKeys("at least one key is required")
	}

	cells := make(map[string]internal.Cell, len(keys))
	for _, raw := range keys {
		local, name, found := strings.Cut(raw, ":")
		if !found {
			name = local
		}

		cell, ok := s.runtime.Lookup(name)
		if !ok {
			return nil, errBadKeys("unknown cell " + name)
		}
		cells[local] = cell
	}
	return cells, nil
}

type errBadKeys string

func (e errBadKeys) Error() string { return string(e) }

// push is the update function of every socket subscription. It runs inside Flush and never blocks.
func (s *Server) push(handle any, changes map[string]any) {
	c := handle.(*client)

	select {
	case c.send <- Frame{Changes: changes}:
	default:
		s.logger.Warn("websocket client too slow, dropping frame", "remote", c.conn.RemoteAddr().String())
	}
}

func (c *client) writeLoop() {
	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			c.conn.Close()
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if !ok {
		return
	}

	s.runtime.Unsubscribe(c.sub)
	close(c.send)
	c.conn.Close()
}

func (s *Server) closeClients() {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		s.drop(c)
	}
}

// ClientCount returns the number of connected sockets.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Frame is what the hub sends to each viewer.
type Frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Hub broadcasts events to connected websocket viewers. A viewer that
// cannot keep up loses frames rather than slowing the sender.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	buffer  int
}

type hubClient struct {
	conn *websocket.Conn
	send chan Frame
}

// NewHub returns a hub with a per-viewer queue of buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{clients: make(map[*hubClient]struct{}), buffer: buffer}
}

// Clients is the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the viewer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: websocket upgrade error: %v", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan Frame, h.buffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("hub: viewer connected from %s", r.RemoteAddr)

	go h.writeLoop(c)

	// Drain reads so control frames are processed and a close is noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	log.Printf("hub: viewer %s disconnected", r.RemoteAddr)
}

func (h *Hub) writeLoop(c *hubClient) {
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(f); err != nil {
			c.conn.Close()
			h.remove(c)
			return
		}
	}
	c.conn.Close()
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Emit queues the event for every viewer. It never blocks.
func (h *Hub) Emit(event, payload string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := Frame{Event: event, Data: payload}
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
		}
	}
	return nil
}

// Close disconnects every viewer.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

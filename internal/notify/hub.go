package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks websocket watchers per item and pushes bid events to them
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]map[*client]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int64]map[*client]struct{})}
}

// Publish broadcasts ev to the item's watchers
func (h *Hub) Publish(_ context.Context, ev BidEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal bid event: %w", err)
	}
	h.Broadcast(ev.ItemID, data)
	return nil
}

// Broadcast sends payload to every watcher of itemID. Watchers whose buffer
// is full are disconnected rather than slowing the others down.
func (h *Hub) Broadcast(itemID int64, payload []byte) {
	h.mu.RLock()
	var slow []*client
	for c := range h.subscribers[itemID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("Dropping slow websocket watcher on item %d", itemID)
		h.remove(itemID, c)
	}
}

// Subscribers returns the number of watchers of itemID
func (h *Hub) Subscribers(itemID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[itemID])
}

func (h *Hub) add(itemID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[itemID] == nil {
		h.subscribers[itemID] = make(map[*client]struct{})
	}
	h.subscribers[itemID][c] = struct{}{}
}

// remove unregisters c and closes its send channel exactly once
func (h *Hub) remove(itemID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subscribers[itemID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subscribers, itemID)
	}
	close(c.send)
}

// Serve registers conn as a watcher of itemID and blocks until the peer
// disconnects. Incoming messages are ignored.
func (h *Hub) Serve(conn *websocket.Conn, itemID int64) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(itemID, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for payload := range c.send {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("Failed to send message: %v", err)
				conn.Close()
				for range c.send {
				}
				return
			}
		}
		// Dropped by Broadcast; unblock the reader below.
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(itemID, c)
	<-done
	conn.Close()
}

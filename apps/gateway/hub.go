package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mahaj/chat-relay/pkg/fanout"
)

// Hub owns every websocket client on this instance, keyed by connection id.
// It is the push-delivery transport the fanout broadcaster and the session
// gateway write through: Push reports fanout.ErrGone when the connection is
// no longer reachable here.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	log zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.connectionID] = client
			h.mu.Unlock()
			h.log.Debug().Str("connection_id", client.connectionID).Str("user_id", client.userID).Msg("client attached")

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.connectionID]; ok && current == client {
				delete(h.clients, client.connectionID)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug().Str("connection_id", client.connectionID).Msg("client detached")

		case <-ctx.Done():
			return
		}
	}
}

// Push queues a payload for one connection. Unknown ids report Gone; a full
// send buffer means the client stopped draining, so it is dropped and also
// reported Gone.
func (h *Hub) Push(ctx context.Context, connectionID string, payload []byte) error {
	// The read lock is held across the send attempt so the unregister path
	// cannot close the channel mid-send. The send itself never blocks.
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return fanout.ErrGone
	}

	select {
	case client.send <- payload:
		return nil
	default:
		h.log.Warn().Str("connection_id", connectionID).Msg("send buffer full, dropping client")
		client.conn.Close()
		return fanout.ErrGone
	}
}

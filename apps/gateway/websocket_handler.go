package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/connid"
	"github.com/mahaj/chat-relay/pkg/intake"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/session"
	"github.com/mahaj/chat-relay/pkg/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Submits per second one connection may send, with a small burst.
	submitRate  = 2
	submitBurst = 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between one websocket and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound payloads.
	send chan []byte

	connectionID string
	userID       string
	limiter      *rate.Limiter
}

type wsServer struct {
	hub     *Hub
	session *session.Gateway
	intake  *intake.Intake
	ids     *connid.Generator
	log     zerolog.Logger
}

// serveWs authenticates and registers the connection, then upgrades it and
// starts the pumps. A missing or invalid token rejects the socket before the
// upgrade.
func (s *wsServer) serveWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		// Header fallback for clients that cannot set query params.
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connectionID := s.ids.Next()
	record, err := s.session.Connect(r.Context(), token, connectionID)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		s.log.Error().Err(err).Msg("connect failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		s.session.Disconnect(r.Context(), connectionID)
		return
	}

	client := &Client{
		hub:          s.hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		connectionID: connectionID,
		userID:       record.UserID,
		limiter:      rate.NewLimiter(submitRate, submitBurst),
	}
	s.hub.register <- client

	go client.writePump()
	go s.readPump(client)
}

// readPump reads frames from one websocket and dispatches them. It owns the
// disconnect: when the read loop ends for any reason the client unregisters,
// which also removes the registry record.
func (s *wsServer) readPump(c *Client) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		s.session.Disconnect(context.Background(), c.connectionID)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn().Str("connection_id", c.connectionID).Err(err).Msg("read error")
			}
			return
		}

		var req model.ClientRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			s.pushError(c, model.CodeValidation, "request must be JSON with an action field")
			continue
		}

		switch req.Action {
		case model.ActionSendMessage:
			s.handleSubmit(c, req)
		case model.ActionGetMessages:
			s.handleHistory(c, req)
		default:
			s.pushError(c, model.CodeValidation, "unknown action")
		}
	}
}

func (s *wsServer) handleSubmit(c *Client, req model.ClientRequest) {
	if !c.limiter.Allow() {
		s.pushError(c, model.CodeRateLimited, "too many messages, slow down")
		return
	}

	msg, err := s.intake.Submit(context.Background(), c.connectionID, req.RoomID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrEmptyMessage):
			s.pushError(c, model.CodeValidation, "message text is required")
		case errors.Is(err, intake.ErrUnknownConnection):
			s.pushError(c, model.CodeNotFound, "connection not found, reconnect")
		case errors.Is(err, store.ErrDuplicateKey):
			s.log.Error().Str("connection_id", c.connectionID).Err(err).Msg("duplicate message key")
			s.pushError(c, model.CodeServerError, "internal server error")
		default:
			s.log.Error().Str("connection_id", c.connectionID).Err(err).Msg("submit failed")
			s.pushError(c, model.CodeServerError, "internal server error")
		}
		return
	}

	s.pushJSON(c, model.SentAck{
		Action:    model.ActionSent,
		MessageID: msg.MessageID,
		Timestamp: msg.Timestamp.Format(time.RFC3339Nano),
	})
}

func (s *wsServer) handleHistory(c *Client, req model.ClientRequest) {
	if err := s.session.History(context.Background(), c.connectionID, req.RoomID, req.Limit); err != nil {
		s.log.Error().Str("connection_id", c.connectionID).Err(err).Msg("history failed")
		s.pushError(c, model.CodeServerError, "internal server error")
	}
}

func (s *wsServer) pushError(c *Client, code, message string) {
	s.pushJSON(c, model.ErrorPush{Action: model.ActionError, Code: code, Message: message})
}

func (s *wsServer) pushJSON(c *Client, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("encode push")
		return
	}
	if err := s.hub.Push(context.Background(), c.connectionID, payload); err != nil {
		s.log.Debug().Str("connection_id", c.connectionID).Err(err).Msg("reply push failed")
	}
}

// writePump pumps queued payloads to the websocket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// Package session bridges credential verification and the connection
// registry: it admits connections, cleans up on disconnect, and serves room
// history back to the requesting connection.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/model"
)

const (
	// DefaultHistoryLimit caps a history request that omits a limit.
	DefaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Registry interface {
	Upsert(ctx context.Context, conn model.Connection) error
	Remove(ctx context.Context, connectionID string) error
}

type HistoryStore interface {
	QueryRoom(ctx context.Context, roomID string, limit int) ([]model.Message, error)
}

type Pusher interface {
	Push(ctx context.Context, connectionID string, payload []byte) error
}

type Gateway struct {
	verifier  auth.Verifier
	registry  Registry
	store     HistoryStore
	pusher    Pusher
	connTTL   time.Duration
	opTimeout time.Duration
	log       zerolog.Logger
}

func New(verifier auth.Verifier, registry Registry, store HistoryStore, pusher Pusher, connTTL, opTimeout time.Duration, log zerolog.Logger) *Gateway {
	if connTTL <= 0 {
		connTTL = 24 * time.Hour
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Gateway{
		verifier:  verifier,
		registry:  registry,
		store:     store,
		pusher:    pusher,
		connTTL:   connTTL,
		opTimeout: opTimeout,
		log:       log.With().Str("component", "session").Logger(),
	}
}

// Connect verifies the credential and registers the connection. A missing or
// invalid credential returns auth.ErrUnauthorized and the transport must
// reject the socket.
func (g *Gateway) Connect(ctx context.Context, rawToken, connectionID string) (model.Connection, error) {
	identity, err := g.verifier.Verify(rawToken)
	if err != nil {
		return model.Connection{}, err
	}

	now := time.Now()
	conn := model.Connection{
		ConnectionID: connectionID,
		UserID:       identity.UserID,
		Username:     identity.Username,
		Email:        identity.Email,
		ConnectedAt:  now,
		ExpiresAt:    now.Add(g.connTTL),
	}

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	if err := g.registry.Upsert(opCtx, conn); err != nil {
		return model.Connection{}, fmt.Errorf("session: register connection: %w", err)
	}

	g.log.Info().
		Str("connection_id", connectionID).
		Str("user_id", identity.UserID).
		Str("username", identity.Username).
		Msg("connected")
	return conn, nil
}

// Disconnect removes the connection's registry record. Cleanup must never
// fail visibly to the transport layer, so failures are only logged; expiry
// will reclaim the record.
func (g *Gateway) Disconnect(ctx context.Context, connectionID string) {
	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	if err := g.registry.Remove(opCtx, connectionID); err != nil {
		g.log.Warn().Str("connection_id", connectionID).Err(err).Msg("disconnect cleanup failed")
		return
	}
	g.log.Info().Str("connection_id", connectionID).Msg("disconnected")
}

// History queries the room's most recent messages and pushes them, oldest
// first, back to the requesting connection only.
func (g *Gateway) History(ctx context.Context, connectionID, roomID string, limit int) error {
	if roomID == "" {
		roomID = model.DefaultRoom
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	messages, err := g.store.QueryRoom(opCtx, roomID, limit)
	cancel()
	if err != nil {
		return fmt.Errorf("session: query history: %w", err)
	}

	// Storage returns newest-first; clients display oldest-first.
	reversed := make([]model.Message, len(messages))
	for i, m := range messages {
		reversed[len(messages)-1-i] = m
	}

	payload, err := json.Marshal(model.MessagesPush{Action: model.ActionMessages, Messages: reversed})
	if err != nil {
		return fmt.Errorf("session: encode history: %w", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	if err := g.pusher.Push(pushCtx, connectionID, payload); err != nil {
		return fmt.Errorf("session: push history to %s: %w", connectionID, err)
	}
	return nil
}

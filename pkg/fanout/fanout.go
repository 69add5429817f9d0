// Package fanout reacts to newly stored messages by pushing them to every
// currently registered connection. Delivery is best-effort: individual
// recipient failures are swallowed and never fail the batch.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/chat-relay/pkg/model"
)

// ErrGone is returned by a Pusher when the recipient endpoint is permanently
// unreachable. The broadcaster swallows it without logging; the stale
// registry record is reclaimed by expiry, not deleted here.
var ErrGone = errors.New("fanout: recipient gone")

// Registry enumerates the current recipient set.
type Registry interface {
	List(ctx context.Context) ([]model.Connection, error)
}

// Pusher delivers one payload to one connection.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload []byte) error
}

const (
	defaultMaxInFlight = 64
	defaultPushTimeout = 10 * time.Second
)

type Broadcaster struct {
	registry    Registry
	pusher      Pusher
	maxInFlight int
	pushTimeout time.Duration
	log         zerolog.Logger
}

func New(registry Registry, pusher Pusher, maxInFlight int, pushTimeout time.Duration, log zerolog.Logger) *Broadcaster {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	return &Broadcaster{
		registry:    registry,
		pusher:      pusher,
		maxInFlight: maxInFlight,
		pushTimeout: pushTimeout,
		log:         log.With().Str("component", "fanout").Logger(),
	}
}

// HandleBatch broadcasts each message in the batch to every connection
// registered at the moment of its fanout. The change feed may redeliver a
// batch, so recipients can see duplicate pushes for one messageId; that is
// accepted and not deduplicated here.
//
// The batch fails only when a recipient set cannot be enumerated at all.
// Per-recipient outcomes never fail the batch.
func (b *Broadcaster) HandleBatch(ctx context.Context, msgs []model.Message) error {
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.broadcast(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broadcaster) broadcast(ctx context.Context, msg model.Message) error {
	conns, err := b.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("fanout: enumerate recipients for %s: %w", msg.MessageID, err)
	}

	payload, err := json.Marshal(model.NewMessagePush{Action: model.ActionNewMessage, Message: msg})
	if err != nil {
		return fmt.Errorf("fanout: encode message %s: %w", msg.MessageID, err)
	}

	// Independent pushes, bounded in flight, joined before returning.
	sem := make(chan struct{}, b.maxInFlight)
	var wg sync.WaitGroup
	var delivered, gone, failed int64
	var mu sync.Mutex

	for _, conn := range conns {
		wg.Add(1)
		sem <- struct{}{}
		go func(conn model.Connection) {
			defer wg.Done()
			defer func() { <-sem }()

			pushCtx, cancel := context.WithTimeout(ctx, b.pushTimeout)
			defer cancel()

			err := b.pusher.Push(pushCtx, conn.ConnectionID, payload)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				delivered++
			case errors.Is(err, ErrGone):
				// Stale endpoint; expiry reclaims the record.
				gone++
			default:
				failed++
				b.log.Warn().
					Str("message_id", msg.MessageID).
					Str("connection_id", conn.ConnectionID).
					Err(err).
					Msg("push failed")
			}
		}(conn)
	}
	wg.Wait()

	b.log.Info().
		Str("message_id", msg.MessageID).
		Str("room_id", msg.RoomID).
		Int64("delivered", delivered).
		Int64("gone", gone).
		Int64("failed", failed).
		Msg("fanout complete")
	return nil
}

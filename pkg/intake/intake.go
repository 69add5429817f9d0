// Package intake accepts message submissions: it resolves the sender's
// identity from the connection registry, appends the message to the store,
// and announces it on the change feed. It never pushes to recipients; that
// is the broadcaster's job.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/registry"
	"github.com/mahaj/chat-relay/pkg/store"
)

// ErrEmptyMessage rejects a submit with no text. ErrUnknownConnection means
// the sender's session is stale; the client must reconnect rather than
// retry the same request.
var (
	ErrEmptyMessage      = errors.New("intake: message text is required")
	ErrUnknownConnection = errors.New("intake: connection not found")
)

type Registry interface {
	Get(ctx context.Context, connectionID string) (model.Connection, error)
}

type Appender interface {
	Append(ctx context.Context, msg model.Message) error
}

type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type Intake struct {
	registry  Registry
	store     Appender
	feed      Publisher
	opTimeout time.Duration
	log       zerolog.Logger
}

func New(registry Registry, appender Appender, feed Publisher, opTimeout time.Duration, log zerolog.Logger) *Intake {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Intake{
		registry:  registry,
		store:     appender,
		feed:      feed,
		opTimeout: opTimeout,
		log:       log.With().Str("component", "intake").Logger(),
	}
}

// Submit validates and stores one message from the given connection,
// returning the stored record with its assigned id and timestamp.
func (i *Intake) Submit(ctx context.Context, connectionID, roomID, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, ErrEmptyMessage
	}
	if roomID == "" {
		roomID = model.DefaultRoom
	}

	getCtx, cancel := context.WithTimeout(ctx, i.opTimeout)
	conn, err := i.registry.Get(getCtx, connectionID)
	cancel()
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return model.Message{}, ErrUnknownConnection
		}
		return model.Message{}, fmt.Errorf("intake: resolve sender: %w", err)
	}

	msg := model.Message{
		MessageID: uuid.NewString(),
		RoomID:    roomID,
		UserID:    conn.UserID,
		Username:  conn.Username,
		Message:   text,
		Timestamp: time.Now(),
	}

	appendCtx, cancel := context.WithTimeout(ctx, i.opTimeout)
	err = i.store.Append(appendCtx, msg)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Freshly generated uuid collided with a stored key: a bug, not
			// a retryable condition.
			i.log.Error().Str("message_id", msg.MessageID).Msg("duplicate message key on append")
		}
		return model.Message{}, fmt.Errorf("intake: append: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, i.opTimeout)
	err = i.feed.Publish(pubCtx, msg)
	cancel()
	if err != nil {
		// The message is durably stored but its fanout trigger is lost:
		// surface a transient error so the sender knows delivery is in
		// doubt. History reads will still show the message.
		return model.Message{}, fmt.Errorf("intake: announce: %w", err)
	}

	i.log.Debug().
		Str("message_id", msg.MessageID).
		Str("room_id", msg.RoomID).
		Str("user_id", msg.UserID).
		Msg("message stored")
	return msg, nil
}

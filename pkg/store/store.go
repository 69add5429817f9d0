// Package store is the durable append-only message log. Messages are
// partitioned by room and clustered newest-first, so a room history read is
// a single partition scan with a limit.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/model"
)

// ErrDuplicateKey is returned when an append reuses an existing message key.
// Under correct id generation this never happens; callers treat it as a bug
// signal, not a retryable condition.
var ErrDuplicateKey = errors.New("store: duplicate message key")

type Store struct {
	db *db.Session
}

func New(session *db.Session) *Store {
	return &Store{db: session}
}

// Append stores a new immutable message. The MessageID must be assigned by
// the caller. The insert is a conditional write so a key reuse surfaces as
// ErrDuplicateKey instead of silently overwriting.
func (s *Store) Append(ctx context.Context, msg model.Message) error {
	q := s.db.Query(
		`INSERT INTO messages (room_id, created_at, message_id, user_id, username, content)
		 VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		msg.RoomID, msg.Timestamp, msg.MessageID, msg.UserID, msg.Username, msg.Message,
	).WithContext(ctx)

	applied, err := q.MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("store: append %s: %w", msg.MessageID, err)
	}
	if !applied {
		return ErrDuplicateKey
	}
	return nil
}

// QueryRoom returns up to limit messages for the room, newest first. Callers
// presenting history reverse the slice to oldest-first themselves.
func (s *Store) QueryRoom(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	iter := s.db.Query(
		`SELECT message_id, room_id, user_id, username, content, created_at
		 FROM messages WHERE room_id = ? LIMIT ?`,
		roomID, limit,
	).WithContext(ctx).Iter()

	var messages []model.Message
	var m model.Message
	for iter.Scan(&m.MessageID, &m.RoomID, &m.UserID, &m.Username, &m.Message, &m.Timestamp) {
		messages = append(messages, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("store: query room %s: %w", roomID, err)
	}
	return messages, nil
}

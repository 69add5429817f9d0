// Package registry tracks which connections are currently reachable. Records
// live in Redis, one JSON value per connection plus an index set for scans.
// Every record carries an absolute expiry mirrored into the Redis TTL, so an
// abnormal disconnect that never reaches Remove is reclaimed automatically.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mahaj/chat-relay/pkg/model"
)

// ErrNotFound is returned by Get when no live record exists for the id.
var ErrNotFound = errors.New("registry: connection not found")

const indexKey = "conns"

func recordKey(connectionID string) string {
	return "conn:" + connectionID
}

type Registry struct {
	rdb *redis.Client
	log zerolog.Logger
}

func New(rdb *redis.Client, log zerolog.Logger) *Registry {
	return &Registry{rdb: rdb, log: log.With().Str("component", "registry").Logger()}
}

// Upsert inserts or replaces the record for conn.ConnectionID. Replacing an
// existing record is not an error.
func (r *Registry) Upsert(ctx context.Context, conn model.Connection) error {
	payload, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("registry: marshal connection: %w", err)
	}

	ttl := time.Until(conn.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("registry: connection %s already expired", conn.ConnectionID)
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, recordKey(conn.ConnectionID), payload, ttl)
	pipe.SAdd(ctx, indexKey, conn.ConnectionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: upsert %s: %w", conn.ConnectionID, err)
	}
	return nil
}

// Remove deletes the record. Removing an unknown id is a no-op.
func (r *Registry) Remove(ctx context.Context, connectionID string) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, recordKey(connectionID))
	pipe.SRem(ctx, indexKey, connectionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: remove %s: %w", connectionID, err)
	}
	return nil
}

// Get returns the live record for the id, or ErrNotFound when the id is
// unknown or the record has logically expired.
func (r *Registry) Get(ctx context.Context, connectionID string) (model.Connection, error) {
	raw, err := r.rdb.Get(ctx, recordKey(connectionID)).Bytes()
	if err == redis.Nil {
		return model.Connection{}, ErrNotFound
	}
	if err != nil {
		return model.Connection{}, fmt.Errorf("registry: get %s: %w", connectionID, err)
	}

	var conn model.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return model.Connection{}, fmt.Errorf("registry: decode %s: %w", connectionID, err)
	}
	if conn.Expired(time.Now()) {
		return model.Connection{}, ErrNotFound
	}
	return conn, nil
}

// List returns every non-expired connection. The result reflects concurrent
// mutation; it is not a point-in-time snapshot. Index members whose record
// has already been reclaimed by TTL are dropped from the index as they are
// discovered.
func (r *Registry) List(ctx context.Context) ([]model.Connection, error) {
	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list records: %w", err)
	}

	now := time.Now()
	conns := make([]model.Connection, 0, len(values))
	var dangling []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Record expired out from under the index.
			dangling = append(dangling, ids[i])
			continue
		}
		var conn model.Connection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			r.log.Warn().Str("connection_id", ids[i]).Err(err).Msg("dropping undecodable registry record")
			dangling = append(dangling, ids[i])
			continue
		}
		if conn.Expired(now) {
			continue
		}
		conns = append(conns, conn)
	}

	if len(dangling) > 0 {
		if err := r.rdb.SRem(ctx, indexKey, dangling...).Err(); err != nil {
			r.log.Warn().Err(err).Msg("failed to prune registry index")
		}
	}
	return conns, nil
}

package fanout_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/fanout"
	"github.com/mahaj/chat-relay/pkg/intake"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/registry"
	"github.com/mahaj/chat-relay/pkg/session"
)

// memRegistry satisfies the registry interfaces of session, intake, and
// fanout at once.
type memRegistry struct {
	mu      sync.Mutex
	records map[string]model.Connection
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: make(map[string]model.Connection)}
}

func (r *memRegistry) Upsert(ctx context.Context, conn model.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[conn.ConnectionID] = conn
	return nil
}

func (r *memRegistry) Remove(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, connectionID)
	return nil
}

func (r *memRegistry) Get(ctx context.Context, connectionID string) (model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.records[connectionID]
	if !ok || conn.Expired(time.Now()) {
		return model.Connection{}, registry.ErrNotFound
	}
	return conn, nil
}

func (r *memRegistry) List(ctx context.Context) ([]model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	conns := make([]model.Connection, 0, len(r.records))
	for _, conn := range r.records {
		if !conn.Expired(now) {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

// memStore keeps appended messages and serves room queries newest-first.
type memStore struct {
	mu       sync.Mutex
	messages []model.Message
}

func (s *memStore) Append(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) QueryRoom(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// directFeed hands every published message straight to the broadcaster, the
// way the change feed would.
type directFeed struct {
	broadcaster *fanout.Broadcaster
}

func (f *directFeed) Publish(ctx context.Context, msg model.Message) error {
	return f.broadcaster.HandleBatch(ctx, []model.Message{msg})
}

type memPusher struct {
	mu     sync.Mutex
	pushes map[string][][]byte
}

func newMemPusher() *memPusher {
	return &memPusher{pushes: make(map[string][][]byte)}
}

func (p *memPusher) Push(ctx context.Context, connectionID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes[connectionID] = append(p.pushes[connectionID], payload)
	return nil
}

func (p *memPusher) newMessages(t *testing.T, connectionID string) []model.Message {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Message
	for _, payload := range p.pushes[connectionID] {
		var push model.NewMessagePush
		require.NoError(t, json.Unmarshal(payload, &push))
		if push.Action == model.ActionNewMessage {
			out = append(out, push.Message)
		}
	}
	return out
}

type staticVerifier map[string]auth.Identity

func (v staticVerifier) Verify(token string) (auth.Identity, error) {
	id, ok := v[token]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return id, nil
}

func TestConnectSubmitFanoutDisconnect(t *testing.T) {
	reg := newMemRegistry()
	st := &memStore{}
	pusher := newMemPusher()

	broadcaster := fanout.New(reg, pusher, 8, time.Second, zerolog.Nop())
	feed := &directFeed{broadcaster: broadcaster}
	submit := intake.New(reg, st, feed, time.Second, zerolog.Nop())

	verifier := staticVerifier{
		"tok-a": {UserID: "u1", Username: "alice", Email: "alice@example.com"},
		"tok-b": {UserID: "u2", Username: "bob", Email: "bob@example.com"},
	}
	gateway := session.New(verifier, reg, st, pusher, 24*time.Hour, time.Second, zerolog.Nop())

	ctx := context.Background()

	// Connect A, then B.
	_, err := gateway.Connect(ctx, "tok-a", "conn-a")
	require.NoError(t, err)
	conns, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)

	_, err = gateway.Connect(ctx, "tok-b", "conn-b")
	require.NoError(t, err)

	// A submits "hi" to general.
	sent, err := submit.Submit(ctx, "conn-a", "general", "hi")
	require.NoError(t, err)

	stored, err := st.QueryRoom(ctx, "general", 50)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "u1", stored[0].UserID)
	assert.Equal(t, "alice", stored[0].Username)
	assert.Equal(t, "hi", stored[0].Message)
	assert.Equal(t, "general", stored[0].RoomID)

	// Both A and B received the push.
	for _, connID := range []string{"conn-a", "conn-b"} {
		got := pusher.newMessages(t, connID)
		require.Len(t, got, 1, "connection %s", connID)
		assert.Equal(t, sent.MessageID, got[0].MessageID)
		assert.Equal(t, "hi", got[0].Message)
	}

	// B disconnects; A submits "bye"; only A receives it.
	gateway.Disconnect(ctx, "conn-b")

	_, err = submit.Submit(ctx, "conn-a", "general", "bye")
	require.NoError(t, err)

	assert.Len(t, pusher.newMessages(t, "conn-a"), 2)
	assert.Len(t, pusher.newMessages(t, "conn-b"), 1, "no push attempted to the removed connection")

	// B's stale connection can no longer submit.
	_, err = submit.Submit(ctx, "conn-b", "general", "ghost")
	assert.ErrorIs(t, err, intake.ErrUnknownConnection)
}

func TestExpiredConnectionCannotSubmit(t *testing.T) {
	reg := newMemRegistry()
	st := &memStore{}
	broadcaster := fanout.New(reg, newMemPusher(), 8, time.Second, zerolog.Nop())
	submit := intake.New(reg, st, &directFeed{broadcaster: broadcaster}, time.Second, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, reg.Upsert(ctx, model.Connection{
		ConnectionID: "conn-old",
		UserID:       "u1",
		Username:     "alice",
		ConnectedAt:  time.Now().Add(-25 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	_, err := submit.Submit(ctx, "conn-old", "general", "hi")
	assert.ErrorIs(t, err, intake.ErrUnknownConnection)

	stored, err := st.QueryRoom(ctx, "general", 50)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestHistoryAfterSubmits(t *testing.T) {
	reg := newMemRegistry()
	st := &memStore{}
	pusher := newMemPusher()

	broadcaster := fanout.New(reg, pusher, 8, time.Second, zerolog.Nop())
	submit := intake.New(reg, st, &directFeed{broadcaster: broadcaster}, time.Second, zerolog.Nop())
	verifier := staticVerifier{"tok-a": {UserID: "u1", Username: "alice"}}
	gateway := session.New(verifier, reg, st, pusher, 24*time.Hour, time.Second, zerolog.Nop())

	ctx := context.Background()
	_, err := gateway.Connect(ctx, "tok-a", "conn-a")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := submit.Submit(ctx, "conn-a", "general", text)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}
	_, err = submit.Submit(ctx, "conn-a", "random", "elsewhere")
	require.NoError(t, err)

	require.NoError(t, gateway.History(ctx, "conn-a", "general", 50))

	// The last push to conn-a is the history result, oldest first.
	pusher.mu.Lock()
	payloads := pusher.pushes["conn-a"]
	last := payloads[len(payloads)-1]
	pusher.mu.Unlock()

	var push model.MessagesPush
	require.NoError(t, json.Unmarshal(last, &push))
	require.Equal(t, model.ActionMessages, push.Action)
	require.Len(t, push.Messages, 3)
	assert.Equal(t, "one", push.Messages[0].Message)
	assert.Equal(t, "two", push.Messages[1].Message)
	assert.Equal(t, "three", push.Messages[2].Message)
}

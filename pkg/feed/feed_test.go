package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chat-relay/pkg/model"
)

// scriptReader hands out a fixed sequence of records, then reports
// cancellation to end the consumer loop.
type scriptReader struct {
	mu      sync.Mutex
	recs    []kafka.Message
	next    int
	commits []int64
}

func (r *scriptReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.recs) {
		return kafka.Message{}, context.Canceled
	}
	rec := r.recs[r.next]
	r.next++
	return rec, nil
}

func (r *scriptReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *scriptReader) Close() error { return nil }

func (r *scriptReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

func record(t *testing.T, offset int64, msg model.Message) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(msg.RoomID), Value: payload}
}

func testConsumer(r records) *Consumer {
	return &Consumer{reader: r, retryDelay: time.Millisecond, log: zerolog.Nop()}
}

func TestRunRetriesFailedRecordInPlace(t *testing.T) {
	first := model.Message{MessageID: "m-1", RoomID: "general", Message: "hi"}
	second := model.Message{MessageID: "m-2", RoomID: "general", Message: "there"}
	reader := &scriptReader{recs: []kafka.Message{
		record(t, 0, first),
		record(t, 1, second),
	}}

	var handled []string
	failures := 2
	handle := func(ctx context.Context, msgs []model.Message) error {
		require.Len(t, msgs, 1)
		handled = append(handled, msgs[0].MessageID)
		if msgs[0].MessageID == "m-1" && failures > 0 {
			failures--
			return assert.AnError
		}
		return nil
	}

	err := testConsumer(reader).Run(context.Background(), handle)
	require.ErrorIs(t, err, context.Canceled)

	// The failed record is handed back to the handler until it sticks; the
	// next record is not fetched (and its offset not committed) before then.
	assert.Equal(t, []string{"m-1", "m-1", "m-1", "m-2"}, handled)
	assert.Equal(t, []int64{0, 1}, reader.committed())
}

func TestRunSkipsUndecodableRecord(t *testing.T) {
	good := model.Message{MessageID: "m-1", RoomID: "general", Message: "hi"}
	reader := &scriptReader{recs: []kafka.Message{
		{Offset: 0, Value: []byte("not json")},
		record(t, 1, good),
	}}

	var handled []string
	handle := func(ctx context.Context, msgs []model.Message) error {
		handled = append(handled, msgs[0].MessageID)
		return nil
	}

	err := testConsumer(reader).Run(context.Background(), handle)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"m-1"}, handled)
	assert.Equal(t, []int64{0, 1}, reader.committed())
}

func TestRunStopsDuringRetryBackoff(t *testing.T) {
	msg := model.Message{MessageID: "m-1", RoomID: "general", Message: "hi"}
	reader := &scriptReader{recs: []kafka.Message{record(t, 0, msg)}}

	ctx, cancel := context.WithCancel(context.Background())
	handle := func(ctx context.Context, msgs []model.Message) error {
		cancel()
		return assert.AnError
	}

	c := &Consumer{reader: reader, retryDelay: time.Minute, log: zerolog.Nop()}
	err := c.Run(ctx, handle)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reader.committed())
}

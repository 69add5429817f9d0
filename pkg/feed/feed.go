// Package feed is the change-notification boundary between the message
// store and the fanout broadcaster, realized as a Kafka topic. Delivery is
// at-least-once: the consumer commits an offset only after the handler has
// processed the record, so a crash mid-handle redelivers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chat-relay/pkg/model"
)

// Publisher announces newly appended messages.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish writes the stored message to the topic. Keyed by room so one
// room's messages stay on one partition.
func (p *Publisher) Publish(ctx context.Context, msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("feed: marshal message %s: %w", msg.MessageID, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.RoomID),
		Value: payload,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("feed: publish message %s: %w", msg.MessageID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Handler receives each batch of newly appended messages. Returning an error
// makes the consumer retry the same batch until it is accepted.
type Handler func(ctx context.Context, msgs []model.Message) error

// records is the subset of kafka.Reader the consumer loop uses.
type records interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds stored messages to a Handler.
type Consumer struct {
	reader     records
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewConsumer creates a reader in the given consumer group. Fanout consumers
// pass a group id unique to the instance so every instance sees every
// message.
func NewConsumer(brokers []string, topic, groupID string, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    10e3,
			MaxBytes:    10e6,
		}),
		retryDelay: time.Second,
		log:        log.With().Str("component", "feed").Logger(),
	}
}

// Run consumes until ctx is cancelled. Records that fail to decode are
// logged and committed so a poison record cannot wedge the partition.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		rec, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error().Err(err).Msg("fetch failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(rec.Value, &msg); err != nil {
			c.log.Error().Err(err).Int64("offset", rec.Offset).Msg("skipping undecodable record")
			if err := c.reader.CommitMessages(ctx, rec); err != nil {
				c.log.Error().Err(err).Msg("commit failed")
			}
			continue
		}

		// Retry in place until the handler accepts the record. The reader
		// advances past fetched records whether or not they are committed,
		// so moving on after a failure would drop the record for good.
		for {
			err := handle(ctx, []model.Message{msg})
			if err == nil {
				break
			}
			c.log.Error().Err(err).Str("message_id", msg.MessageID).Msg("handler failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		if err := c.reader.CommitMessages(ctx, rec); err != nil {
			c.log.Error().Err(err).Msg("commit failed")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SaleHandler processes one sale event. Returning an error leaves the
// message uncommitted so it is delivered again.
type SaleHandler func(ctx context.Context, evt models.SaleEvent) error

type Consumer struct {
	reader     MessageReader
	logger     *logger.Logger
	retryDelay time.Duration
}

// NewConsumer creates a consumer-group reader for the given topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, log)
}

func NewConsumerWithReader(reader MessageReader, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, logger: log, retryDelay: 2 * time.Second}
}

// Run consumes sale events until ctx is cancelled. Messages are committed
// only after the handler succeeds; undecodable messages are committed and
// dropped.
func (c *Consumer) Run(ctx context.Context, handle SaleHandler) error {
	c.logger.Info("KAFKA", "Sale consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("KAFKA", "Sale consumer stopped")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error fetching message: %v", err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		var evt models.SaleEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Dropping undecodable message at offset %d: %v", msg.Offset, err))
			c.commit(ctx, msg)
			continue
		}

		c.logger.LogKafka("RECEIVED", msg.Topic, fmt.Sprintf("sale %s (%d tickets, replay=%t)", evt.PaymentReference, len(evt.TicketIDs), evt.Replay))
		if err := c.handleWithRetry(ctx, handle, evt); err != nil {
			return nil
		}
		c.commit(ctx, msg)
	}
}

// handleWithRetry retries until the handler succeeds or ctx ends.
func (c *Consumer) handleWithRetry(ctx context.Context, handle SaleHandler, evt models.SaleEvent) error {
	for {
		err := handle(ctx, evt)
		if err == nil {
			return nil
		}
		c.logger.Error("KAFKA", fmt.Sprintf("Handler failed for sale %s, retrying: %v", evt.PaymentReference, err))
		if !c.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Topics struct {
	SaleFinalized string
	TicketStatus  string
}

type Producer struct {
	Writer MessageWriter
	Topics Topics
	Logger *logger.Logger
}

// NewProducer builds a producer whose writer picks the topic per message.
func NewProducer(brokers []string, topics Topics, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// Publish writes one JSON message keyed by key.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	p.Logger.LogKafka("PUBLISHED", topic, fmt.Sprintf("key=%s bytes=%d", key, len(msgBytes)))
	return nil
}

// PublishSale streams a finalized sale, keyed by payment reference so
// replays land on the same partition.
func (p *Producer) PublishSale(ctx context.Context, evt models.SaleEvent) error {
	return p.Publish(ctx, p.Topics.SaleFinalized, evt.PaymentReference, evt)
}

// PublishStatusChange streams ticket status changes keyed by raffle.
func (p *Producer) PublishStatusChange(ctx context.Context, evt models.TicketStatusEvent) error {
	return p.Publish(ctx, p.Topics.TicketStatus, evt.RaffleID, evt)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

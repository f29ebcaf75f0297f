package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"

	"comandapos/internal/domain"
)

// TicketPublisher pushes kitchen tickets to the display stream. Publishing
// is best-effort: order persistence never depends on it.
type TicketPublisher interface {
	PublishTicket(ctx context.Context, ticket domain.KitchenTicket) error
	Close() error
}

// KafkaPublisher writes tickets to a kafka topic, keyed by order id so a
// single order's tickets stay in one partition and arrive in sequence.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishTicket(ctx context.Context, ticket domain.KitchenTicket) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ticket.OrderID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write ticket: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher is used when no brokers are configured (dev mode, tests).
type NoopPublisher struct{}

func (NoopPublisher) PublishTicket(_ context.Context, ticket domain.KitchenTicket) error {
	log.Printf("[events] kitchen ticket (no brokers): order=%s status=%s", ticket.OrderID, ticket.Status)
	return nil
}

func (NoopPublisher) Close() error { return nil }

package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// KafkaPublisher writes order events keyed by user id, so one user's orders
// land on one partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, event domain.OrderPlaced) error {
	msg, err := orderMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order %s: %w", event.OrderID, err)
	}
	return nil
}

func orderMessage(event domain.OrderPlaced) (kafka.Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal order event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.UserID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(orderPlacedEventType)},
			{Key: "order_id", Value: []byte(event.OrderID)},
		},
	}, nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

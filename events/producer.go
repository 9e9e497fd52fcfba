package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/veriguard/veriguard/models"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{writer: writer}
}

// PublishAbuseEvent writes one event keyed by IP so events for the same
// source stay ordered within a partition.
func (p *Producer) PublishAbuseEvent(ctx context.Context, event *AbuseEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.IP),
		Value: data,
		Time:  time.Now(),
	}

	return p.writer.WriteMessages(ctx, msg)
}

// PublishModel publishes a persistence-model event, assigning wire identity.
func (p *Producer) PublishModel(ctx context.Context, event *models.AbuseEvent) error {
	wire := NewAbuseEvent(event.IP, event.Fingerprint, event.SiteKey, event.EventType, event.Severity, event.Detail)
	if event.ID != uuid.Nil {
		wire.ID = event.ID.String()
	}
	return p.PublishAbuseEvent(ctx, wire)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

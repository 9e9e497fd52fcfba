package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/veriguard/veriguard/models"
)

type Consumer struct {
	reader  *kafka.Reader
	handler EventHandler
	logger  *zap.Logger
}

type EventHandler interface {
	HandleAbuseEvent(ctx context.Context, event *AbuseEvent) error
}

func NewConsumer(brokers []string, topic string, groupID string, handler EventHandler, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader:  reader,
		handler: handler,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				msg, err := c.reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					c.logger.Warn("error reading message", zap.Error(err))
					continue
				}

				var event AbuseEvent
				if err := json.Unmarshal(msg.Value, &event); err != nil {
					c.logger.Warn("error unmarshaling event", zap.Error(err))
					continue
				}

				if err := c.handler.HandleAbuseEvent(ctx, &event); err != nil {
					c.logger.Warn("error handling event",
						zap.String("event_type", event.EventType),
						zap.Error(err))
				}
			}
		}
	}()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// EventWriter persists consumed events.
type EventWriter interface {
	Create(ctx context.Context, event *models.AbuseEvent) error
}

// PersistingHandler writes consumed events to the authoritative store. The
// detector also persists synchronously so escalation queries see fresh data;
// the store insert is idempotent on event ID, so the double write and
// at-least-once redelivery both collapse to one row.
type PersistingHandler struct {
	repo   EventWriter
	logger *zap.Logger
}

func NewPersistingHandler(repo EventWriter, logger *zap.Logger) *PersistingHandler {
	return &PersistingHandler{repo: repo, logger: logger}
}

func (h *PersistingHandler) HandleAbuseEvent(ctx context.Context, event *AbuseEvent) error {
	h.logger.Info("abuse event",
		zap.String("event_type", event.EventType),
		zap.String("ip", event.IP),
		zap.String("severity", string(event.Severity)))
	return h.repo.Create(ctx, event.Model())
}

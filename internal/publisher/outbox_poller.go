package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "storefront-orders"
	batchSize    = 100
)

// EventSource is the slice of the store the poller needs.
type EventSource interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64, now time.Time) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxPoller relays committed outbox rows to Kafka. Delivery is at least
// once: a crash between publish and mark re-sends the event.
type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	repo      EventSource
	writer    MessageWriter
	breaker   *circuitbreaker.Breaker
	clock     domain.Clock
	logger    *slog.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo EventSource, writer MessageWriter, breaker *circuitbreaker.Breaker, clock domain.Clock, logger *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		repo:      repo,
		writer:    writer,
		breaker:   breaker,
		clock:     clock,
		logger:    logger,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublishedEvents publishes one batch and returns how many events
// were marked processed.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to fetch outbox events", slog.Any("error", err))
		return 0
	}

	published := 0
	for _, event := range events {
		errPublish := p.breaker.Do(func() error {
			return p.publishToKafka(ctx, event)
		})
		if errors.Is(errPublish, circuitbreaker.ErrOpen) {
			p.logger.WarnContext(ctx, "kafka circuit open, postponing outbox batch", slog.Int("pending", len(events)-published))
			return published
		}
		if errPublish != nil {
			p.logger.ErrorContext(ctx, "failed to publish event",
				slog.Int64("event_id", event.ID), slog.Any("error", errPublish))
			continue
		}

		if errMark := p.repo.MarkEventAsProcessed(ctx, event.ID, p.clock.Now()); errMark != nil {
			p.logger.ErrorContext(ctx, "failed to mark event as processed",
				slog.Int64("event_id", event.ID), slog.Any("error", errMark))
			continue
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps per-order ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}

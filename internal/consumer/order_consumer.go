package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/IBM/sarama"
	"github.com/tradecore/coinmatch/internal/service"
	"github.com/tradecore/coinmatch/internal/validation"
	"github.com/tradecore/coinmatch/libs/kafka"
)

const (
	ordersAcceptedEventType  = "orders.accepted"
	ordersCancelledEventType = "orders.cancelled"

	dedupeCapacity = 4096
)

// OrderEvent is the shared shape of orders.accepted and orders.cancelled.
// The consumer only needs the instrument to know which book to rematch.
type OrderEvent struct {
	kafka.Envelope
	OrderID    string `json:"order_id"`
	Instrument string `json:"instrument"`
}

type CycleTrigger interface {
	Trigger(ctx context.Context, instrument string)
}

// OrderConsumer reacts to order lifecycle events by nudging the matcher
// for the affected instrument. Redelivered events dedupe on event id, so
// an at-least-once topic costs at most one extra cycle.
type OrderConsumer struct {
	trigger  CycleTrigger
	dlq      kafka.Publisher
	dlqTopic string
	logger   *slog.Logger
	metrics  *service.Metrics
	deduper  *eventDeduper
}

func NewOrderConsumer(trigger CycleTrigger, dlq kafka.Publisher, dlqTopic string, logger *slog.Logger, metrics *service.Metrics) *OrderConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderConsumer{
		trigger:  trigger,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		logger:   logger,
		metrics:  metrics,
		deduper:  newEventDeduper(dedupeCapacity),
	}
}

func (c *OrderConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		c.record("unknown", "error")
		return fmt.Errorf("empty kafka message")
	}

	var event OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.record("unknown", "error")
		return c.deadLetter(ctx, msg, kafka.DLQ(err, "decode_failed"))
	}
	if err := event.Validate(); err != nil {
		c.record(event.EventType, "error")
		return c.deadLetter(ctx, msg, kafka.DLQ(err, "validation_failed"))
	}

	if c.deduper.seen(event.EventID) {
		c.logger.Debug("order event already processed", "event_id", event.EventID, "order_id", event.OrderID)
		c.record(event.EventType, "duplicate")
		return nil
	}

	if c.trigger != nil {
		c.trigger.Trigger(ctx, event.Instrument)
	}
	c.record(event.EventType, "success")
	return nil
}

// deadLetter routes a poison message to the DLQ topic and marks it
// consumed; without a DLQ publisher the error propagates and the message
// is skipped by the group handler.
func (c *OrderConsumer) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, err error) error {
	dlqErr, ok := err.(*kafka.DLQError)
	if !ok || c.dlq == nil || c.dlqTopic == "" {
		return err
	}

	payload := kafka.BuildDLQPayload(msg, dlqErr, 1)
	if _, _, pubErr := c.dlq.PublishJSON(ctx, c.dlqTopic, string(msg.Key), payload); pubErr != nil {
		c.logger.Error("dead letter publish failed", "topic", c.dlqTopic, "error", pubErr)
		return err
	}
	c.logger.Warn("order event dead lettered", "topic", msg.Topic, "offset", msg.Offset, "reason", dlqErr.Reason)
	return nil
}

func (e *OrderEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != ordersAcceptedEventType && e.EventType != ordersCancelledEventType {
		return fmt.Errorf("unexpected event_type: %s", e.EventType)
	}
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("order_id is required")
	}
	instrument := validation.NormalizeInstrument(e.Instrument)
	if instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	e.Instrument = instrument
	return nil
}

func (c *OrderConsumer) record(eventType, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.EventsProcessed.WithLabelValues(eventType, status).Inc()
}

// eventDeduper remembers the last capacity event ids. Eviction is FIFO;
// this only has to cover the redelivery window of the consumer group.
type eventDeduper struct {
	mu       sync.Mutex
	ids      map[string]struct{}
	order    []string
	capacity int
}

func newEventDeduper(capacity int) *eventDeduper {
	if capacity <= 0 {
		capacity = dedupeCapacity
	}
	return &eventDeduper{
		ids:      make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

func (d *eventDeduper) seen(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ids[eventID]; ok {
		return true
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.ids, oldest)
	}
	d.ids[eventID] = struct{}{}
	d.order = append(d.order, eventID)
	return false
}

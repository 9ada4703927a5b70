package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/tradecore/coinmatch/libs/kafka"
)

type stubTrigger struct {
	instruments []string
}

func (s *stubTrigger) Trigger(ctx context.Context, instrument string) {
	s.instruments = append(s.instruments, instrument)
}

type stubDLQ struct {
	topics   []string
	payloads []any
	err      error
}

func (s *stubDLQ) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.topics = append(s.topics, topic)
	s.payloads = append(s.payloads, value)
	return 0, 1, nil
}

func (s *stubDLQ) Close() error { return nil }

func orderEventMessage(t *testing.T, eventType, eventID, instrument string) *sarama.ConsumerMessage {
	t.Helper()
	env, err := kafka.NewEnvelopeWithID(eventID, eventType, 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	payload, err := json.Marshal(OrderEvent{
		Envelope:   env,
		OrderID:    uuid.NewString(),
		Instrument: instrument,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "orders.accepted", Value: payload}
}

func TestHandleMessageTriggersCycle(t *testing.T) {
	trigger := &stubTrigger{}
	c := NewOrderConsumer(trigger, nil, "", nil, nil)

	msg := orderEventMessage(t, ordersAcceptedEventType, uuid.NewString(), "btc-usd")
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(trigger.instruments) != 1 || trigger.instruments[0] != "BTC-USD" {
		t.Fatalf("expected trigger for BTC-USD, got %v", trigger.instruments)
	}
}

func TestHandleMessageDeduplicates(t *testing.T) {
	trigger := &stubTrigger{}
	c := NewOrderConsumer(trigger, nil, "", nil, nil)

	eventID := uuid.NewString()
	first := orderEventMessage(t, ordersCancelledEventType, eventID, "BTC-USD")
	second := orderEventMessage(t, ordersCancelledEventType, eventID, "BTC-USD")

	if err := c.HandleMessage(context.Background(), first); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := c.HandleMessage(context.Background(), second); err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(trigger.instruments) != 1 {
		t.Fatalf("expected one trigger, got %d", len(trigger.instruments))
	}
}

func TestHandleMessageMalformedGoesToDLQ(t *testing.T) {
	trigger := &stubTrigger{}
	dlq := &stubDLQ{}
	c := NewOrderConsumer(trigger, dlq, "dead.letter", nil, nil)

	msg := &sarama.ConsumerMessage{Topic: "orders.accepted", Value: []byte("{not json")}
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected dead lettered message consumed, got %v", err)
	}
	if len(dlq.topics) != 1 || dlq.topics[0] != "dead.letter" {
		t.Fatalf("expected dlq publish, got %v", dlq.topics)
	}
	if len(trigger.instruments) != 0 {
		t.Fatalf("expected no trigger for poison message")
	}
}

func TestHandleMessageUnexpectedEventType(t *testing.T) {
	dlq := &stubDLQ{}
	c := NewOrderConsumer(&stubTrigger{}, dlq, "dead.letter", nil, nil)

	msg := orderEventMessage(t, "prices.updated", uuid.NewString(), "BTC-USD")
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected dead lettered message consumed, got %v", err)
	}
	if len(dlq.topics) != 1 {
		t.Fatalf("expected dlq publish for bad event type")
	}
}

func TestHandleMessageDLQUnavailablePropagates(t *testing.T) {
	c := NewOrderConsumer(&stubTrigger{}, nil, "", nil, nil)

	msg := &sarama.ConsumerMessage{Topic: "orders.accepted", Value: []byte("{not json")}
	if err := c.HandleMessage(context.Background(), msg); err == nil {
		t.Fatalf("expected error when no dlq configured")
	}
}

func TestEventDeduperEviction(t *testing.T) {
	d := newEventDeduper(2)

	if d.seen("a") || d.seen("b") {
		t.Fatalf("fresh ids reported seen")
	}
	if !d.seen("a") {
		t.Fatalf("expected a remembered")
	}
	// c evicts the oldest id, which is a.
	if d.seen("c") {
		t.Fatalf("fresh id reported seen")
	}
	if d.seen("a") {
		t.Fatalf("expected a evicted")
	}
}

func TestOrderEventValidate(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*OrderEvent)
		valid bool
	}{
		{"valid", func(e *OrderEvent) {}, true},
		{"missing order id", func(e *OrderEvent) { e.OrderID = "" }, false},
		{"missing instrument", func(e *OrderEvent) { e.Instrument = " " }, false},
		{"bad event type", func(e *OrderEvent) { e.EventType = "something.else" }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := kafka.NewEnvelope(ordersAcceptedEventType, 1, "")
			if err != nil {
				t.Fatalf("envelope: %v", err)
			}
			event := OrderEvent{Envelope: env, OrderID: uuid.NewString(), Instrument: "BTC-USD"}
			tc.mut(&event)

			err = event.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

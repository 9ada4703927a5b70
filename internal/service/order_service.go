package service

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/cache"
	"github.com/tradecore/coinmatch/internal/engine"
	"github.com/tradecore/coinmatch/internal/storage"
	"github.com/tradecore/coinmatch/libs/kafka"
)

var ErrInstrumentNotFound = errors.New("instrument not found")

type Topics struct {
	OrdersAccepted  string
	OrdersCancelled string
}

type OrderStore interface {
	ListInstruments(ctx context.Context) ([]storage.Instrument, error)
	FindOpenOrders(ctx context.Context, instrument, side string) ([]*engine.Order, error)
	CreateOrder(ctx context.Context, order engine.Order) (*engine.Order, error)
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*engine.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*engine.Order, error)
	GetInstrumentPrice(ctx context.Context, instrument string) (*storage.InstrumentPrice, error)
	ListPriceHistory(ctx context.Context, instrument string, limit int) ([]storage.PriceHistoryEntry, error)
}

// CycleTrigger nudges the coordinator after a mutation so the book is
// rematched without waiting for the next scheduled tick.
type CycleTrigger interface {
	Trigger(ctx context.Context, instrument string)
}

type PriceCache interface {
	Get(ctx context.Context, instrument string) (*storage.InstrumentPrice, error)
	Set(ctx context.Context, price storage.InstrumentPrice) error
}

type SubmitOrderInput struct {
	Instrument    string
	Side          string
	LimitPrice    decimal.Decimal
	Quantity      decimal.Decimal
	OwnerID       uuid.UUID
	CorrelationID string
}

type OrderBook struct {
	Instrument string
	Buys       []*engine.Order
	Sells      []*engine.Order
}

type OrderService struct {
	store    OrderStore
	producer kafka.Publisher
	trigger  CycleTrigger
	prices   PriceCache
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
}

func NewOrderService(store OrderStore, producer kafka.Publisher, trigger CycleTrigger, prices PriceCache, logger *slog.Logger, metrics *Metrics, topics Topics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		store:    store,
		producer: producer,
		trigger:  trigger,
		prices:   prices,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
	}
}

// SubmitOrder persists the order, announces it, and nudges the matcher.
// The order rests in the book immediately; matching happens in the next
// cycle, never inline with the request.
func (s *OrderService) SubmitOrder(ctx context.Context, input SubmitOrderInput) (*engine.Order, error) {
	if err := s.ensureInstrument(ctx, input.Instrument); err != nil {
		if s.metrics != nil {
			s.metrics.OrderSubmissions.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	order, err := s.store.CreateOrder(ctx, engine.Order{
		Instrument: input.Instrument,
		Side:       input.Side,
		LimitPrice: input.LimitPrice,
		Quantity:   input.Quantity,
		OwnerID:    input.OwnerID,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.OrderSubmissions.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	s.publishOrderAccepted(ctx, input.CorrelationID, order)
	if s.trigger != nil {
		s.trigger.Trigger(ctx, order.Instrument)
	}
	if s.metrics != nil {
		s.metrics.OrderSubmissions.WithLabelValues("accepted").Inc()
	}
	return order, nil
}

// CancelOrder flips a resting order to cancelled. The partial fill it may
// already carry stays on record; only the unfilled remainder leaves the
// book.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, correlationID string) (*engine.Order, error) {
	order, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		if s.metrics != nil {
			label := "error"
			if errors.Is(err, storage.ErrNotFound) {
				label = "not_found"
			} else if errors.Is(err, storage.ErrInvalidStatus) {
				label = "invalid_status"
			}
			s.metrics.OrderCancellations.WithLabelValues(label).Inc()
		}
		return nil, err
	}

	s.publishOrderCancelled(ctx, correlationID, order)
	if s.metrics != nil {
		s.metrics.OrderCancellations.WithLabelValues("success").Inc()
	}
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*engine.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// GetOrderBook reads both sides of the resting book in priority order.
func (s *OrderService) GetOrderBook(ctx context.Context, instrument string) (*OrderBook, error) {
	if err := s.ensureInstrument(ctx, instrument); err != nil {
		return nil, err
	}

	buys, err := s.store.FindOpenOrders(ctx, instrument, engine.SideBuy)
	if err != nil {
		return nil, err
	}
	sells, err := s.store.FindOpenOrders(ctx, instrument, engine.SideSell)
	if err != nil {
		return nil, err
	}
	return &OrderBook{Instrument: instrument, Buys: buys, Sells: sells}, nil
}

// GetPrice serves the cached quote when present and falls back to the
// database, repopulating the cache on the way out. A cache failure only
// costs the fast path.
func (s *OrderService) GetPrice(ctx context.Context, instrument string) (*storage.InstrumentPrice, error) {
	if s.prices != nil {
		cached, err := s.prices.Get(ctx, instrument)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("price cache read failed", "instrument", instrument, "error", err)
		}
	}

	price, err := s.store.GetInstrumentPrice(ctx, instrument)
	if err != nil {
		return nil, err
	}
	if s.prices != nil {
		if err := s.prices.Set(ctx, *price); err != nil {
			s.logger.Warn("price cache write failed", "instrument", instrument, "error", err)
		}
	}
	return price, nil
}

func (s *OrderService) GetPriceHistory(ctx context.Context, instrument string, limit int) ([]storage.PriceHistoryEntry, error) {
	if err := s.ensureInstrument(ctx, instrument); err != nil {
		return nil, err
	}
	return s.store.ListPriceHistory(ctx, instrument, limit)
}

func (s *OrderService) ListInstruments(ctx context.Context) ([]storage.Instrument, error) {
	return s.store.ListInstruments(ctx)
}

func (s *OrderService) ensureInstrument(ctx context.Context, instrument string) error {
	instruments, err := s.store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instruments {
		if inst.Symbol == instrument {
			return nil
		}
	}
	return ErrInstrumentNotFound
}

func (s *OrderService) publishOrderAccepted(ctx context.Context, correlationID string, order *engine.Order) {
	if s.producer == nil || s.topics.OrdersAccepted == "" {
		return
	}
	eventID := kafka.DeterministicEventID("orders.accepted", order.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "orders.accepted", 1, correlationID)
	if err != nil {
		s.logger.Error("build order accepted envelope failed", "error", err)
		return
	}

	payload := OrderAcceptedEvent{
		Envelope:   env,
		OrderID:    order.ID.String(),
		Instrument: order.Instrument,
		Side:       order.Side,
		LimitPrice: order.LimitPrice.String(),
		Quantity:   order.Quantity.String(),
		OwnerID:    order.OwnerID.String(),
		Status:     order.Status,
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.OrdersAccepted, order.Instrument, payload); err != nil {
		s.logger.Error("publish order accepted failed", "error", err)
	}
}

func (s *OrderService) publishOrderCancelled(ctx context.Context, correlationID string, order *engine.Order) {
	if s.producer == nil || s.topics.OrdersCancelled == "" {
		return
	}
	eventID := kafka.DeterministicEventID("orders.cancelled", order.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "orders.cancelled", 1, correlationID)
	if err != nil {
		s.logger.Error("build order cancelled envelope failed", "error", err)
		return
	}
	payload := OrderCancelledEvent{
		Envelope:       env,
		OrderID:        order.ID.String(),
		Instrument:     order.Instrument,
		Status:         order.Status,
		FilledQuantity: order.FilledQuantity.String(),
		CancelledAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.OrdersCancelled, order.Instrument, payload); err != nil {
		s.logger.Error("publish order cancelled failed", "error", err)
	}
}

// Event payloads

type OrderAcceptedEvent struct {
	kafka.Envelope
	OrderID    string `json:"order_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	LimitPrice string `json:"limit_price"`
	Quantity   string `json:"quantity"`
	OwnerID    string `json:"owner_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

type OrderCancelledEvent struct {
	kafka.Envelope
	OrderID        string `json:"order_id"`
	Instrument     string `json:"instrument"`
	Status         string `json:"status"`
	FilledQuantity string `json:"filled_quantity"`
	CancelledAt    string `json:"cancelled_at"`
}

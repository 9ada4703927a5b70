package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/engine"
	"github.com/tradecore/coinmatch/internal/storage"
	"github.com/tradecore/coinmatch/internal/ws"
	"github.com/tradecore/coinmatch/libs/kafka"
)

const (
	EventTypePriceUpdated  = "prices.updated"
	EventTypeTradeExecuted = "trades.executed"
)

// PriceUpdatedEvent is published after every committed cycle that set a
// new price. The event id is derived from instrument and timestamp so a
// republished event dedupes downstream.
type PriceUpdatedEvent struct {
	kafka.Envelope
	Instrument    string    `json:"instrument"`
	Price         string    `json:"price"`
	ChangePercent string    `json:"change_percent"`
	Volume        string    `json:"volume"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type TradeExecutedEvent struct {
	kafka.Envelope
	TradeID     string    `json:"trade_id"`
	Instrument  string    `json:"instrument"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Price       string    `json:"price"`
	Quantity    string    `json:"quantity"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Broadcaster is the ws surface the notifier needs.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// PriceCacher refreshes the read-side quote cache.
type PriceCacher interface {
	Set(ctx context.Context, price storage.InstrumentPrice) error
}

type Topics struct {
	PricesUpdated  string
	TradesExecuted string
}

// Notifier fans committed cycle results out to Kafka, websocket
// subscribers and the price cache. Every sink is attempted even when an
// earlier one fails; the caller treats any returned error as advisory.
type Notifier struct {
	publisher kafka.Publisher
	hub       Broadcaster
	cache     PriceCacher
	topics    Topics
	logger    *slog.Logger
}

func New(publisher kafka.Publisher, hub Broadcaster, cache PriceCacher, topics Topics, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		publisher: publisher,
		hub:       hub,
		cache:     cache,
		topics:    topics,
		logger:    logger,
	}
}

func (n *Notifier) NotifyPriceUpdate(ctx context.Context, price storage.InstrumentPrice, volume decimal.Decimal) error {
	var errs []error

	if n.cache != nil {
		if err := n.cache.Set(ctx, price); err != nil {
			errs = append(errs, fmt.Errorf("refresh price cache: %w", err))
		}
	}

	event, err := n.priceEvent(price, volume)
	if err != nil {
		errs = append(errs, err)
	} else {
		if n.publisher != nil && n.topics.PricesUpdated != "" {
			if _, _, err := n.publisher.PublishJSON(ctx, n.topics.PricesUpdated, price.Instrument, event); err != nil {
				errs = append(errs, fmt.Errorf("publish price update: %w", err))
			}
		}
		if n.hub != nil {
			n.hub.Broadcast(ws.ChannelFor(ws.ChannelPrices, price.Instrument), event)
		}
	}

	return errors.Join(errs...)
}

func (n *Notifier) BroadcastTrade(ctx context.Context, trade engine.Trade) error {
	envelope, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(EventTypeTradeExecuted, trade.ID.String()),
		EventTypeTradeExecuted, 1, "",
	)
	if err != nil {
		return fmt.Errorf("build trade envelope: %w", err)
	}

	event := TradeExecutedEvent{
		Envelope:    envelope,
		TradeID:     trade.ID.String(),
		Instrument:  trade.Instrument,
		BuyOrderID:  trade.BuyOrderID.String(),
		SellOrderID: trade.SellOrderID.String(),
		Price:       trade.Price.String(),
		Quantity:    trade.Quantity.String(),
		ExecutedAt:  trade.ExecutedAt,
	}

	var errs []error
	if n.publisher != nil && n.topics.TradesExecuted != "" {
		if _, _, err := n.publisher.PublishJSON(ctx, n.topics.TradesExecuted, trade.Instrument, event); err != nil {
			errs = append(errs, fmt.Errorf("publish trade: %w", err))
		}
	}
	if n.hub != nil {
		n.hub.Broadcast(ws.ChannelFor(ws.ChannelTrades, trade.Instrument), event)
	}
	return errors.Join(errs...)
}

func (n *Notifier) priceEvent(price storage.InstrumentPrice, volume decimal.Decimal) (PriceUpdatedEvent, error) {
	envelope, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(EventTypePriceUpdated, price.Instrument, price.LastUpdated.Format(time.RFC3339Nano)),
		EventTypePriceUpdated, 1, "",
	)
	if err != nil {
		return PriceUpdatedEvent{}, fmt.Errorf("build price envelope: %w", err)
	}
	return PriceUpdatedEvent{
		Envelope:      envelope,
		Instrument:    price.Instrument,
		Price:         price.CurrentPrice.String(),
		ChangePercent: price.ChangePercent.String(),
		Volume:        volume.String(),
		UpdatedAt:     price.LastUpdated,
	}, nil
}

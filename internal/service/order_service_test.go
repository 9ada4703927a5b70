package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/cache"
	"github.com/tradecore/coinmatch/internal/engine"
	"github.com/tradecore/coinmatch/internal/storage"
)

type fakeOrderStore struct {
	orders      map[uuid.UUID]*engine.Order
	price       *storage.InstrumentPrice
	priceReads  int
	createErr   error
	instruments []storage.Instrument
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:      make(map[uuid.UUID]*engine.Order),
		instruments: []storage.Instrument{{Symbol: "BTC-USD", Active: true}},
	}
}

func (f *fakeOrderStore) ListInstruments(ctx context.Context) ([]storage.Instrument, error) {
	return f.instruments, nil
}

func (f *fakeOrderStore) FindOpenOrders(ctx context.Context, instrument, side string) ([]*engine.Order, error) {
	var out []*engine.Order
	for _, o := range f.orders {
		if o.Instrument == instrument && o.Side == side && !o.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, order engine.Order) (*engine.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	order.ID = uuid.New()
	order.Status = engine.StatusOpen
	order.FilledQuantity = decimal.Zero
	order.CreatedAt = time.Now().UTC()
	f.orders[order.ID] = &order
	return &order, nil
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*engine.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return order, nil
}

func (f *fakeOrderStore) CancelOrder(ctx context.Context, orderID uuid.UUID) (*engine.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if order.IsTerminal() {
		return nil, storage.ErrInvalidStatus
	}
	order.Status = engine.StatusCancelled
	return order, nil
}

func (f *fakeOrderStore) GetInstrumentPrice(ctx context.Context, instrument string) (*storage.InstrumentPrice, error) {
	f.priceReads++
	if f.price == nil {
		return nil, storage.ErrNotFound
	}
	return f.price, nil
}

func (f *fakeOrderStore) ListPriceHistory(ctx context.Context, instrument string, limit int) ([]storage.PriceHistoryEntry, error) {
	return nil, nil
}

type stubPublisher struct {
	topics []string
	events []any
}

func (s *stubPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	s.topics = append(s.topics, topic)
	s.events = append(s.events, value)
	return 0, 1, nil
}

func (s *stubPublisher) Close() error { return nil }

type stubTrigger struct {
	instruments []string
}

func (s *stubTrigger) Trigger(ctx context.Context, instrument string) {
	s.instruments = append(s.instruments, instrument)
}

type memPriceCache struct {
	prices map[string]storage.InstrumentPrice
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: make(map[string]storage.InstrumentPrice)}
}

func (m *memPriceCache) Get(ctx context.Context, instrument string) (*storage.InstrumentPrice, error) {
	price, ok := m.prices[instrument]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return &price, nil
}

func (m *memPriceCache) Set(ctx context.Context, price storage.InstrumentPrice) error {
	m.prices[price.Instrument] = price
	return nil
}

var testTopics = Topics{OrdersAccepted: "orders.accepted", OrdersCancelled: "orders.cancelled"}

func submitInput() SubmitOrderInput {
	return SubmitOrderInput{
		Instrument: "BTC-USD",
		Side:       engine.SideBuy,
		LimitPrice: decimal.RequireFromString("64000"),
		Quantity:   decimal.RequireFromString("1"),
		OwnerID:    uuid.New(),
	}
}

func TestSubmitOrderPublishesAndTriggers(t *testing.T) {
	store := newFakeOrderStore()
	publisher := &stubPublisher{}
	trigger := &stubTrigger{}
	svc := NewOrderService(store, publisher, trigger, nil, nil, nil, testTopics)

	order, err := svc.SubmitOrder(context.Background(), submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != engine.StatusOpen {
		t.Fatalf("expected open order, got %s", order.Status)
	}
	if len(publisher.topics) != 1 || publisher.topics[0] != "orders.accepted" {
		t.Fatalf("expected orders.accepted publish, got %v", publisher.topics)
	}
	if len(trigger.instruments) != 1 || trigger.instruments[0] != "BTC-USD" {
		t.Fatalf("expected cycle trigger for BTC-USD, got %v", trigger.instruments)
	}
}

func TestSubmitOrderUnknownInstrument(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderService(store, nil, nil, nil, nil, nil, testTopics)

	input := submitInput()
	input.Instrument = "DOGE-USD"
	if _, err := svc.SubmitOrder(context.Background(), input); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	store := newFakeOrderStore()
	publisher := &stubPublisher{}
	svc := NewOrderService(store, publisher, nil, nil, nil, nil, testTopics)

	order, err := svc.SubmitOrder(context.Background(), submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cancelled, err := svc.CancelOrder(context.Background(), order.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != engine.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if publisher.topics[len(publisher.topics)-1] != "orders.cancelled" {
		t.Fatalf("expected orders.cancelled publish, got %v", publisher.topics)
	}

	if _, err := svc.CancelOrder(context.Background(), order.ID, ""); !errors.Is(err, storage.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on double cancel, got %v", err)
	}
	if _, err := svc.CancelOrder(context.Background(), uuid.New(), ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestGetPriceCacheFallback(t *testing.T) {
	store := newFakeOrderStore()
	store.price = &storage.InstrumentPrice{
		Instrument:   "BTC-USD",
		CurrentPrice: decimal.RequireFromString("63250"),
		LastUpdated:  time.Now().UTC(),
	}
	prices := newMemPriceCache()
	svc := NewOrderService(store, nil, nil, prices, nil, nil, testTopics)

	got, err := svc.GetPrice(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if !got.CurrentPrice.Equal(store.price.CurrentPrice) {
		t.Fatalf("price mismatch: %s", got.CurrentPrice)
	}
	if store.priceReads != 1 {
		t.Fatalf("expected one db read, got %d", store.priceReads)
	}

	// Second read is served from the repopulated cache.
	if _, err := svc.GetPrice(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("get price again: %v", err)
	}
	if store.priceReads != 1 {
		t.Fatalf("expected cached read, db reads %d", store.priceReads)
	}
}

func TestGetPriceUnknownInstrument(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderService(store, nil, nil, nil, nil, nil, testTopics)

	if _, err := svc.GetPrice(context.Background(), "BTC-USD"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unpriced instrument, got %v", err)
	}
}

func TestGetOrderBook(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderService(store, nil, nil, nil, nil, nil, testTopics)

	input := submitInput()
	if _, err := svc.SubmitOrder(context.Background(), input); err != nil {
		t.Fatalf("submit buy: %v", err)
	}
	input.Side = engine.SideSell
	if _, err := svc.SubmitOrder(context.Background(), input); err != nil {
		t.Fatalf("submit sell: %v", err)
	}

	book, err := svc.GetOrderBook(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("order book: %v", err)
	}
	if len(book.Buys) != 1 || len(book.Sells) != 1 {
		t.Fatalf("expected 1 buy and 1 sell, got %d/%d", len(book.Buys), len(book.Sells))
	}
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/engine"
	"github.com/tradecore/coinmatch/internal/service"
	"github.com/tradecore/coinmatch/internal/storage"
)

type fakeService struct {
	order      *engine.Order
	book       *service.OrderBook
	price      *storage.InstrumentPrice
	history    []storage.PriceHistoryEntry
	err        error
	lastSubmit *service.SubmitOrderInput
}

func (f *fakeService) SubmitOrder(ctx context.Context, input service.SubmitOrderInput) (*engine.Order, error) {
	f.lastSubmit = &input
	return f.order, f.err
}

func (f *fakeService) CancelOrder(ctx context.Context, orderID uuid.UUID, correlationID string) (*engine.Order, error) {
	return f.order, f.err
}

func (f *fakeService) GetOrder(ctx context.Context, orderID uuid.UUID) (*engine.Order, error) {
	return f.order, f.err
}

func (f *fakeService) GetOrderBook(ctx context.Context, instrument string) (*service.OrderBook, error) {
	return f.book, f.err
}

func (f *fakeService) GetPrice(ctx context.Context, instrument string) (*storage.InstrumentPrice, error) {
	return f.price, f.err
}

func (f *fakeService) GetPriceHistory(ctx context.Context, instrument string, limit int) ([]storage.PriceHistoryEntry, error) {
	return f.history, f.err
}

func (f *fakeService) ListInstruments(ctx context.Context) ([]storage.Instrument, error) {
	return []storage.Instrument{{Symbol: "BTC-USD", DisplayName: "Bitcoin", Active: true}}, f.err
}

func newRouter(svc *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	New(svc, nil).Register(router)
	return router
}

func makeRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func testOrder() *engine.Order {
	return &engine.Order{
		ID:             uuid.New(),
		Instrument:     "BTC-USD",
		Side:           engine.SideBuy,
		LimitPrice:     decimal.RequireFromString("64000"),
		Quantity:       decimal.RequireFromString("1"),
		FilledQuantity: decimal.Zero,
		Status:         engine.StatusOpen,
		OwnerID:        uuid.New(),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateOrder(t *testing.T) {
	svc := &fakeService{order: testOrder()}
	router := newRouter(svc)

	resp := makeRequest(router, http.MethodPost, "/orders", map[string]string{
		"instrument": "btc-usd",
		"side":       "buy",
		"price":      "64000",
		"quantity":   "1",
		"owner_id":   uuid.NewString(),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastSubmit == nil || svc.lastSubmit.Instrument != "BTC-USD" {
		t.Fatalf("expected normalized instrument, got %+v", svc.lastSubmit)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := &fakeService{order: testOrder()}
	router := newRouter(svc)

	resp := makeRequest(router, http.MethodPost, "/orders", map[string]string{
		"instrument": "BTC-USD",
		"side":       "hold",
		"price":      "-1",
		"quantity":   "",
		"owner_id":   uuid.NewString(),
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if body.Code != "INVALID_REQUEST" || len(body.Fields) == 0 {
		t.Fatalf("expected field errors, got %+v", body)
	}
	if svc.lastSubmit != nil {
		t.Fatalf("expected no submit call on invalid request")
	}
}

func TestCreateOrderUnknownInstrument(t *testing.T) {
	svc := &fakeService{err: service.ErrInstrumentNotFound}
	router := newRouter(svc)

	resp := makeRequest(router, http.MethodPost, "/orders", map[string]string{
		"instrument": "DOGE-USD",
		"side":       "buy",
		"price":      "1",
		"quantity":   "1",
		"owner_id":   uuid.NewString(),
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCancelOrderStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, http.StatusOK},
		{"not found", storage.ErrNotFound, http.StatusNotFound},
		{"not cancellable", storage.ErrInvalidStatus, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{order: testOrder(), err: tc.err}
			router := newRouter(svc)

			resp := makeRequest(router, http.MethodDelete, "/orders/"+uuid.NewString(), nil)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestCancelOrderInvalidID(t *testing.T) {
	router := newRouter(&fakeService{})

	resp := makeRequest(router, http.MethodDelete, "/orders/not-a-uuid", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetOrderBook(t *testing.T) {
	svc := &fakeService{book: &service.OrderBook{
		Instrument: "BTC-USD",
		Buys:       []*engine.Order{testOrder()},
		Sells:      []*engine.Order{},
	}}
	router := newRouter(svc)

	resp := makeRequest(router, http.MethodGet, "/orderbook/BTC-USD", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body orderBookResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Buys) != 1 || len(body.Sells) != 0 {
		t.Fatalf("unexpected book %+v", body)
	}
}

func TestGetPrice(t *testing.T) {
	svc := &fakeService{price: &storage.InstrumentPrice{
		Instrument:    "BTC-USD",
		CurrentPrice:  decimal.RequireFromString("63250"),
		ChangePercent: decimal.RequireFromString("-1.2"),
		LastUpdated:   time.Now().UTC(),
	}}
	router := newRouter(svc)

	resp := makeRequest(router, http.MethodGet, "/prices/BTC-USD", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body priceResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Price != "63250" || body.ChangePercent != "-1.2" {
		t.Fatalf("unexpected price response %+v", body)
	}
}

func TestGetPriceNotFound(t *testing.T) {
	svc := &fakeService{err: storage.ErrNotFound}
	router := newRouter(svc)

	resp := makeRequest(router, http.MethodGet, "/prices/BTC-USD", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetPriceHistory(t *testing.T) {
	svc := &fakeService{history: []storage.PriceHistoryEntry{
		{Instrument: "BTC-USD", Price: decimal.RequireFromString("63000"), RecordedAt: time.Now().UTC()},
	}}
	router := newRouter(svc)

	resp := makeRequest(router, http.MethodGet, "/prices/BTC-USD/history?limit=10", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body priceHistoryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.History) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(body.History))
	}
}

func TestGetPriceHistoryInvalidLimit(t *testing.T) {
	router := newRouter(&fakeService{})

	resp := makeRequest(router, http.MethodGet, "/prices/BTC-USD/history?limit=many", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListInstruments(t *testing.T) {
	router := newRouter(&fakeService{})

	resp := makeRequest(router, http.MethodGet, "/instruments", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

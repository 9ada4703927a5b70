package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradecore/coinmatch/internal/engine"
	"github.com/tradecore/coinmatch/internal/service"
	"github.com/tradecore/coinmatch/internal/storage"
	"github.com/tradecore/coinmatch/internal/validation"
)

type OrderService interface {
	SubmitOrder(ctx context.Context, input service.SubmitOrderInput) (*engine.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, correlationID string) (*engine.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*engine.Order, error)
	GetOrderBook(ctx context.Context, instrument string) (*service.OrderBook, error)
	GetPrice(ctx context.Context, instrument string) (*storage.InstrumentPrice, error)
	GetPriceHistory(ctx context.Context, instrument string, limit int) ([]storage.PriceHistoryEntry, error)
	ListInstruments(ctx context.Context) ([]storage.Instrument, error)
}

type Handler struct {
	Service OrderService
	Logger  *slog.Logger
}

func New(service OrderService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: service, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:id", h.GetOrder)
	r.DELETE("/orders/:id", h.CancelOrder)
	r.GET("/orderbook/:instrument", h.GetOrderBook)
	r.GET("/prices/:instrument", h.GetPrice)
	r.GET("/prices/:instrument/history", h.GetPriceHistory)
	r.GET("/instruments", h.ListInstruments)
}

type createOrderRequest struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	OwnerID    string `json:"owner_id"`
}

type orderItem struct {
	OrderID    string `json:"order_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Filled     string `json:"filled_quantity"`
	Status     string `json:"status"`
	OwnerID    string `json:"owner_id"`
	CreatedAt  string `json:"created_at"`
}

type orderBookResponse struct {
	Instrument string      `json:"instrument"`
	Buys       []orderItem `json:"buys"`
	Sells      []orderItem `json:"sells"`
}

type priceResponse struct {
	Instrument    string `json:"instrument"`
	Price         string `json:"price"`
	ChangePercent string `json:"change_percent"`
	UpdatedAt     string `json:"updated_at"`
}

type priceHistoryResponse struct {
	Instrument string             `json:"instrument"`
	History    []priceHistoryItem `json:"history"`
}

type priceHistoryItem struct {
	Price         string `json:"price"`
	ChangePercent string `json:"change_percent"`
	RecordedAt    string `json:"recorded_at"`
}

type instrumentItem struct {
	Symbol      string `json:"symbol"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	parsed, errs := validation.ValidateOrderRequest(req.Instrument, req.Side, req.Quantity, req.Price)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	ownerID, err := parseUUIDParam(req.OwnerID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid owner_id", nil)
		return
	}

	order, err := h.Service.SubmitOrder(c.Request.Context(), service.SubmitOrderInput{
		Instrument:    parsed.Instrument,
		Side:          parsed.Side,
		LimitPrice:    parsed.LimitPrice,
		Quantity:      parsed.Quantity,
		OwnerID:       ownerID,
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		if errors.Is(err, service.ErrInstrumentNotFound) {
			writeError(c, http.StatusBadRequest, "INSTRUMENT_NOT_FOUND", "instrument not found", nil)
			return
		}
		h.Logger.Error("submit order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusCreated, orderToItem(order))
}

func (h *Handler) GetOrder(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	order, err := h.Service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error("get order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, orderToItem(order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	order, err := h.Service.CancelOrder(c.Request.Context(), orderID, requestIDFromContext(c))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		if errors.Is(err, storage.ErrInvalidStatus) {
			writeError(c, http.StatusConflict, "INVALID_REQUEST", "order not cancellable", nil)
			return
		}
		h.Logger.Error("cancel order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, orderToItem(order))
}

func (h *Handler) GetOrderBook(c *gin.Context) {
	instrument := validation.NormalizeInstrument(c.Param("instrument"))

	book, err := h.Service.GetOrderBook(c.Request.Context(), instrument)
	if err != nil {
		if errors.Is(err, service.ErrInstrumentNotFound) {
			writeError(c, http.StatusNotFound, "INSTRUMENT_NOT_FOUND", "instrument not found", nil)
			return
		}
		h.Logger.Error("get order book failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	resp := orderBookResponse{
		Instrument: book.Instrument,
		Buys:       make([]orderItem, 0, len(book.Buys)),
		Sells:      make([]orderItem, 0, len(book.Sells)),
	}
	for _, order := range book.Buys {
		resp.Buys = append(resp.Buys, orderToItem(order))
	}
	for _, order := range book.Sells {
		resp.Sells = append(resp.Sells, orderToItem(order))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetPrice(c *gin.Context) {
	instrument := validation.NormalizeInstrument(c.Param("instrument"))

	price, err := h.Service.GetPrice(c.Request.Context(), instrument)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "PRICE_NOT_FOUND", "no price recorded yet", nil)
			return
		}
		h.Logger.Error("get price failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, priceResponse{
		Instrument:    price.Instrument,
		Price:         price.CurrentPrice.String(),
		ChangePercent: price.ChangePercent.String(),
		UpdatedAt:     price.LastUpdated.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) GetPriceHistory(c *gin.Context) {
	instrument := validation.NormalizeInstrument(c.Param("instrument"))

	limit := 0
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		limit = n
	}

	history, err := h.Service.GetPriceHistory(c.Request.Context(), instrument, limit)
	if err != nil {
		if errors.Is(err, service.ErrInstrumentNotFound) {
			writeError(c, http.StatusNotFound, "INSTRUMENT_NOT_FOUND", "instrument not found", nil)
			return
		}
		h.Logger.Error("get price history failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	resp := priceHistoryResponse{Instrument: instrument, History: make([]priceHistoryItem, 0, len(history))}
	for _, entry := range history {
		resp.History = append(resp.History, priceHistoryItem{
			Price:         entry.Price.String(),
			ChangePercent: entry.ChangePercent.String(),
			RecordedAt:    entry.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListInstruments(c *gin.Context) {
	instruments, err := h.Service.ListInstruments(c.Request.Context())
	if err != nil {
		h.Logger.Error("list instruments failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	items := make([]instrumentItem, 0, len(instruments))
	for _, inst := range instruments {
		items = append(items, instrumentItem{Symbol: inst.Symbol, DisplayName: inst.DisplayName, Active: inst.Active})
	}
	c.JSON(http.StatusOK, gin.H{"instruments": items})
}

func orderToItem(order *engine.Order) orderItem {
	return orderItem{
		OrderID:    order.ID.String(),
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      order.LimitPrice.String(),
		Quantity:   order.Quantity.String(),
		Filled:     order.FilledQuantity.String(),
		Status:     order.Status,
		OwnerID:    order.OwnerID.String(),
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get("X-Request-ID"); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	StatusOpen      = "open"
	StatusPartial   = "partial"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

// Order is one resting intent to trade an instrument at a limit price.
// FilledQuantity only ever grows; Status is derived from it plus explicit
// cancellation and never disagrees with the quantities.
type Order struct {
	ID             uuid.UUID
	Instrument     string
	Side           string
	LimitPrice     decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         string
	OwnerID        uuid.UUID
	CreatedAt      time.Time
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

func (o *Order) IsTerminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// StatusFor derives the order status from fill progress.
func StatusFor(filled, quantity decimal.Decimal) string {
	if filled.GreaterThanOrEqual(quantity) {
		return StatusFilled
	}
	if filled.IsPositive() {
		return StatusPartial
	}
	return StatusOpen
}

// Trade records one match event. Trades are append-only; nothing in the
// system mutates or deletes them after the cycle commits.
type Trade struct {
	ID          uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Instrument  string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	ExecutedAt  time.Time
}

// SortBuys orders the buy side by price-time priority: highest limit
// first, oldest first among equal prices.
func SortBuys(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		cmp := orders[i].LimitPrice.Cmp(orders[j].LimitPrice)
		if cmp != 0 {
			return cmp > 0
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

// SortSells orders the sell side by price-time priority: lowest limit
// first, oldest first among equal prices.
func SortSells(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		cmp := orders[i].LimitPrice.Cmp(orders[j].LimitPrice)
		if cmp != 0 {
			return cmp < 0
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fill is the mutation a match cycle produced for one order.
type Fill struct {
	OrderID        uuid.UUID
	FilledQuantity decimal.Decimal
	Status         string
}

// Result is everything one match cycle produced for a single instrument.
// VWAP is the volume-weighted execution price across the cycle's trades
// and is the candidate new instrument price; it is zero when no trade
// happened, which callers must treat as "no price update".
type Result struct {
	Trades []Trade
	Fills  []Fill
	VWAP   decimal.Decimal
	Volume decimal.Decimal
}

func (r Result) HasTrades() bool {
	return len(r.Trades) > 0
}

// Match runs one deterministic matching pass over the open orders of a
// single instrument. Buy orders are walked best-price-first (ties broken
// by submission time) and each is filled against crossing sell orders in
// the same priority order. The resting sell side sets the print price.
//
// The passed orders are mutated in place: FilledQuantity grows by the
// matched amount and Status follows StatusFor. Orders untouched by the
// cycle are left exactly as they came in. A cycle with no crossing
// prices returns an empty Result; that is a normal outcome, not an
// error.
func Match(now time.Time, buys, sells []*Order) Result {
	SortBuys(buys)
	SortSells(sells)

	var (
		trades   []Trade
		touched  = make(map[uuid.UUID]struct{})
		notional = decimal.Zero
		volume   = decimal.Zero
	)

	for _, buy := range buys {
		if !buy.Remaining().IsPositive() {
			continue
		}
		for _, sell := range sells {
			if !buy.Remaining().IsPositive() {
				break
			}
			// Sells are sorted ascending by limit; once one fails to
			// cross, none of the rest can.
			if buy.LimitPrice.LessThan(sell.LimitPrice) {
				break
			}
			remaining := sell.Remaining()
			if !remaining.IsPositive() {
				continue
			}

			matchQty := decimal.Min(buy.Remaining(), remaining)

			buy.FilledQuantity = buy.FilledQuantity.Add(matchQty)
			sell.FilledQuantity = sell.FilledQuantity.Add(matchQty)
			buy.Status = StatusFor(buy.FilledQuantity, buy.Quantity)
			sell.Status = StatusFor(sell.FilledQuantity, sell.Quantity)
			touched[buy.ID] = struct{}{}
			touched[sell.ID] = struct{}{}

			trades = append(trades, Trade{
				ID:          uuid.New(),
				BuyOrderID:  buy.ID,
				SellOrderID: sell.ID,
				Instrument:  buy.Instrument,
				Price:       sell.LimitPrice,
				Quantity:    matchQty,
				ExecutedAt:  now,
			})
			notional = notional.Add(sell.LimitPrice.Mul(matchQty))
			volume = volume.Add(matchQty)
		}
	}

	vwap := decimal.Zero
	if volume.IsPositive() {
		vwap = notional.Div(volume)
	}

	return Result{
		Trades: trades,
		Fills:  collectFills(touched, buys, sells),
		VWAP:   vwap,
		Volume: volume,
	}
}

// ChangePercent computes the relative price move in percent. A zero old
// price yields zero rather than a division blowup (first print for a
// freshly listed instrument).
func ChangePercent(oldPrice, newPrice decimal.Decimal) decimal.Decimal {
	if oldPrice.IsZero() {
		return decimal.Zero
	}
	return newPrice.Sub(oldPrice).Div(oldPrice).Mul(decimal.NewFromInt(100))
}

func collectFills(touched map[uuid.UUID]struct{}, buys, sells []*Order) []Fill {
	if len(touched) == 0 {
		return nil
	}
	fills := make([]Fill, 0, len(touched))
	for _, side := range [][]*Order{buys, sells} {
		for _, order := range side {
			if _, ok := touched[order.ID]; !ok {
				continue
			}
			fills = append(fills, Fill{
				OrderID:        order.ID,
				FilledQuantity: order.FilledQuantity,
				Status:         order.Status,
			})
		}
	}
	return fills
}

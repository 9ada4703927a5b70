package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/engine"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid status transition")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ListInstruments(ctx context.Context) ([]Instrument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, display_name, active, created_at
		FROM instruments
		WHERE active
		ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instruments := []Instrument{}
	for rows.Next() {
		var inst Instrument
		if err := rows.Scan(&inst.Symbol, &inst.DisplayName, &inst.Active, &inst.CreatedAt); err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

// FindOpenOrders loads the resting open/partial orders for one side of an
// instrument's book, already in price-time priority order: buys best
// (highest) price first, sells best (lowest) price first, submission time
// breaking ties.
func (s *Store) FindOpenOrders(ctx context.Context, instrument, side string) ([]*engine.Order, error) {
	order := "limit_price ASC, created_at ASC"
	if side == engine.SideBuy {
		order = "limit_price DESC, created_at ASC"
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, instrument, side, limit_price::text, quantity::text, filled_quantity::text, status, owner_id, created_at
		FROM orders
		WHERE instrument = $1 AND side = $2 AND status IN ('open', 'partial')
		ORDER BY %s
	`, order), instrument, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []*engine.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) CreateOrder(ctx context.Context, order engine.Order) (*engine.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (id, instrument, side, limit_price, quantity, filled_quantity, status, owner_id)
		VALUES ($1, $2, $3, $4, $5, 0, 'open', $6)
		RETURNING id, instrument, side, limit_price::text, quantity::text, filled_quantity::text, status, owner_id, created_at
	`, order.ID, order.Instrument, order.Side, order.LimitPrice.String(), order.Quantity.String(), order.OwnerID)
	return scanOrder(row)
}

func (s *Store) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*engine.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, instrument, side, limit_price::text, quantity::text, filled_quantity::text, status, owner_id, created_at
		FROM orders
		WHERE id = $1
	`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

// CancelOrder flips a non-terminal order to cancelled. Terminal orders
// (filled, already cancelled) report ErrInvalidStatus; unknown ids report
// ErrNotFound.
func (s *Store) CancelOrder(ctx context.Context, orderID uuid.UUID) (*engine.Order, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('open', 'partial')
		RETURNING id, instrument, side, limit_price::text, quantity::text, filled_quantity::text, status, owner_id, created_at
	`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var status string
		check := s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID)
		if scanErr := check.Scan(&status); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, scanErr
		}
		return nil, ErrInvalidStatus
	}
	return order, nil
}

// DeleteStaleOrders removes fully filled orders and orders older than the
// cutoff. It is a deletion rather than a cancellation, and running it
// again with no new orders removes nothing.
func (s *Store) DeleteStaleOrders(ctx context.Context, instrument string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM orders
		WHERE instrument = $1 AND (status = 'filled' OR created_at < $2)
	`, instrument, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetInstrumentPrice(ctx context.Context, instrument string) (*InstrumentPrice, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT instrument, current_price::text, change_percent::text, last_updated
		FROM instrument_prices
		WHERE instrument = $1
	`, instrument)
	price, err := scanInstrumentPrice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return price, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, instrument string, limit int) ([]PriceHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT instrument, price::text, change_percent::text, recorded_at
		FROM price_history
		WHERE instrument = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, instrument, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []PriceHistoryEntry{}
	for rows.Next() {
		var entry PriceHistoryEntry
		var priceStr, changeStr string
		if err := rows.Scan(&entry.Instrument, &priceStr, &changeStr, &entry.RecordedAt); err != nil {
			return nil, err
		}
		if entry.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse history price: %w", err)
		}
		if entry.ChangePercent, err = decimal.NewFromString(changeStr); err != nil {
			return nil, fmt.Errorf("parse history change: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CommitCycle persists everything one match cycle produced as a single
// transaction: order fill mutations, trade records, and, when the cycle
// traded, the instrument price upsert plus its history row. Any failure
// rolls the whole cycle back; the caller reruns it from a fresh read.
func (s *Store) CommitCycle(ctx context.Context, commit CycleCommit) (*InstrumentPrice, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin cycle tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()

	for _, fill := range commit.Fills {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET filled_quantity = $1, status = $2, updated_at = $3
			WHERE id = $4 AND status IN ('open', 'partial')
		`, fill.FilledQuantity.String(), fill.Status, now, fill.OrderID)
		if err != nil {
			return nil, fmt.Errorf("apply fill %s: %w", fill.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("apply fill %s: %w", fill.OrderID, ErrInvalidStatus)
		}
	}

	for _, trade := range commit.Trades {
		if _, err := tx.Exec(ctx, `
			INSERT INTO trades (id, buy_order_id, sell_order_id, instrument, price, quantity, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, trade.ID, trade.BuyOrderID, trade.SellOrderID, trade.Instrument, trade.Price.String(), trade.Quantity.String(), trade.ExecutedAt); err != nil {
			return nil, fmt.Errorf("insert trade %s: %w", trade.ID, err)
		}
	}

	var updated *InstrumentPrice
	if commit.Price != nil {
		updated, err = upsertPrice(ctx, tx, commit.Instrument, commit.Price.Price, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cycle: %w", err)
	}
	return updated, nil
}

func upsertPrice(ctx context.Context, tx pgx.Tx, instrument string, newPrice decimal.Decimal, now time.Time) (*InstrumentPrice, error) {
	oldPrice := decimal.Zero
	var oldStr string
	row := tx.QueryRow(ctx, `
		SELECT current_price::text
		FROM instrument_prices
		WHERE instrument = $1
		FOR UPDATE
	`, instrument)
	if err := row.Scan(&oldStr); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("read current price: %w", err)
		}
	} else {
		parsed, err := decimal.NewFromString(strings.TrimSpace(oldStr))
		if err != nil {
			return nil, fmt.Errorf("parse current price: %w", err)
		}
		oldPrice = parsed
	}

	change := engine.ChangePercent(oldPrice, newPrice)

	if _, err := tx.Exec(ctx, `
		INSERT INTO instrument_prices (instrument, current_price, change_percent, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instrument) DO UPDATE
		SET current_price = EXCLUDED.current_price,
		    change_percent = EXCLUDED.change_percent,
		    last_updated = EXCLUDED.last_updated
	`, instrument, newPrice.String(), change.String(), now); err != nil {
		return nil, fmt.Errorf("upsert price: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO price_history (instrument, price, change_percent, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, instrument, newPrice.String(), change.String(), now); err != nil {
		return nil, fmt.Errorf("append price history: %w", err)
	}

	return &InstrumentPrice{
		Instrument:    instrument,
		CurrentPrice:  newPrice,
		ChangePercent: change,
		LastUpdated:   now,
	}, nil
}

func scanOrder(row pgx.Row) (*engine.Order, error) {
	var order engine.Order
	var priceStr, qtyStr, filledStr string
	if err := row.Scan(&order.ID, &order.Instrument, &order.Side, &priceStr, &qtyStr, &filledStr, &order.Status, &order.OwnerID, &order.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if order.LimitPrice, err = decimal.NewFromString(strings.TrimSpace(priceStr)); err != nil {
		return nil, fmt.Errorf("parse limit price: %w", err)
	}
	if order.Quantity, err = decimal.NewFromString(strings.TrimSpace(qtyStr)); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if order.FilledQuantity, err = decimal.NewFromString(strings.TrimSpace(filledStr)); err != nil {
		return nil, fmt.Errorf("parse filled quantity: %w", err)
	}
	return &order, nil
}

func scanInstrumentPrice(row pgx.Row) (*InstrumentPrice, error) {
	var price InstrumentPrice
	var priceStr, changeStr string
	if err := row.Scan(&price.Instrument, &priceStr, &changeStr, &price.LastUpdated); err != nil {
		return nil, err
	}
	var err error
	if price.CurrentPrice, err = decimal.NewFromString(strings.TrimSpace(priceStr)); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if price.ChangePercent, err = decimal.NewFromString(strings.TrimSpace(changeStr)); err != nil {
		return nil, fmt.Errorf("parse change percent: %w", err)
	}
	return &price, nil
}

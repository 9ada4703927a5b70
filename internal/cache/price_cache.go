package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/storage"
)

const defaultPricePrefix = "cmx:price:"

var ErrCacheMiss = errors.New("cache: price not found")

// cachedPrice is the redis wire form. Decimals travel as strings so the
// stored precision survives the round trip.
type cachedPrice struct {
	Instrument    string    `json:"instrument"`
	CurrentPrice  string    `json:"current_price"`
	ChangePercent string    `json:"change_percent"`
	LastUpdated   time.Time `json:"last_updated"`
}

// PriceCache keeps the latest committed quote per instrument in redis so
// price reads skip the database on the hot path. Entries expire on their
// own; the database row stays the source of truth.
type PriceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PriceCache{client: client, prefix: defaultPricePrefix, ttl: ttl}
}

func (c *PriceCache) Set(ctx context.Context, price storage.InstrumentPrice) error {
	payload, err := json.Marshal(cachedPrice{
		Instrument:    price.Instrument,
		CurrentPrice:  price.CurrentPrice.String(),
		ChangePercent: price.ChangePercent.String(),
		LastUpdated:   price.LastUpdated,
	})
	if err != nil {
		return fmt.Errorf("marshal cached price: %w", err)
	}
	return c.client.Set(ctx, c.prefix+price.Instrument, payload, c.ttl).Err()
}

func (c *PriceCache) Get(ctx context.Context, instrument string) (*storage.InstrumentPrice, error) {
	raw, err := c.client.Get(ctx, c.prefix+instrument).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var cached cachedPrice
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("unmarshal cached price: %w", err)
	}

	currentPrice, err := decimal.NewFromString(cached.CurrentPrice)
	if err != nil {
		return nil, fmt.Errorf("parse cached price: %w", err)
	}
	changePercent, err := decimal.NewFromString(cached.ChangePercent)
	if err != nil {
		return nil, fmt.Errorf("parse cached change percent: %w", err)
	}

	return &storage.InstrumentPrice{
		Instrument:    cached.Instrument,
		CurrentPrice:  currentPrice,
		ChangePercent: changePercent,
		LastUpdated:   cached.LastUpdated,
	}, nil
}

func (c *PriceCache) Invalidate(ctx context.Context, instrument string) error {
	return c.client.Del(ctx, c.prefix+instrument).Err()
}

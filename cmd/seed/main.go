package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	env := getEnv("CMX_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: CMX_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "coinmatch")
	user := getEnv("POSTGRES_USER", "coinmatch")
	password := getEnv("POSTGRES_PASSWORD", "coinmatch")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedInstruments(ctx, pool); err != nil {
		log.Fatalf("seed instruments: %v", err)
	}
	fmt.Println("✓ Instruments seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedDemoBook(ctx, pool); err != nil {
			log.Fatalf("seed demo book: %v", err)
		}
		fmt.Println("✓ Demo order book seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
}

func seedInstruments(ctx context.Context, pool *pgxpool.Pool) error {
	instruments := []struct {
		symbol      string
		displayName string
	}{
		{"BTC-USD", "Bitcoin"},
		{"ETH-USD", "Ethereum"},
		{"SOL-USD", "Solana"},
	}

	for _, inst := range instruments {
		if _, err := pool.Exec(ctx, `
			INSERT INTO instruments (symbol, display_name, active)
			VALUES ($1, $2, true)
			ON CONFLICT (symbol) DO NOTHING
		`, inst.symbol, inst.displayName); err != nil {
			return fmt.Errorf("insert %s: %w", inst.symbol, err)
		}
	}
	return nil
}

// seedDemoBook plants a crossing pair of orders per instrument so the
// first match cycle after startup produces trades and a price.
func seedDemoBook(ctx context.Context, pool *pgxpool.Pool) error {
	demoOwner := uuid.New()

	orders := []struct {
		instrument string
		side       string
		price      string
		quantity   string
	}{
		{"BTC-USD", "buy", "64000", "1"},
		{"BTC-USD", "sell", "63000", "0.5"},
		{"BTC-USD", "sell", "63500", "0.6"},
		{"ETH-USD", "buy", "3200", "10"},
		{"ETH-USD", "sell", "3150", "4"},
		{"SOL-USD", "buy", "145", "50"},
		{"SOL-USD", "sell", "144.5", "25"},
	}

	for _, o := range orders {
		if _, err := pool.Exec(ctx, `
			INSERT INTO orders (id, instrument, side, limit_price, quantity, filled_quantity, status, owner_id)
			VALUES ($1, $2, $3, $4, $5, 0, 'open', $6)
		`, uuid.New(), o.instrument, o.side, o.price, o.quantity, demoOwner); err != nil {
			return fmt.Errorf("insert %s %s order: %w", o.instrument, o.side, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

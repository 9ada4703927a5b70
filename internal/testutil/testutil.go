package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "coinmatch"),
		getEnv("POSTGRES_PASSWORD", "coinmatch"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "coinmatch"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

func CleanupTestData(ctx context.Context, pool *pgxpool.Pool, instruments ...string) error {
	for _, instrument := range instruments {
		for _, q := range []string{
			"DELETE FROM trades WHERE instrument = $1",
			"DELETE FROM price_history WHERE instrument = $1",
			"DELETE FROM instrument_prices WHERE instrument = $1",
			"DELETE FROM orders WHERE instrument = $1",
			"DELETE FROM instruments WHERE symbol = $1",
		} {
			if _, err := pool.Exec(ctx, q, instrument); err != nil {
				return fmt.Errorf("cleanup %q: %w", q, err)
			}
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

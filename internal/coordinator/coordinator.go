package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/engine"
	"github.com/tradecore/coinmatch/internal/storage"
	"log/slog"
)

// Store is the persistence surface one match cycle needs. CommitCycle
// must apply its batch atomically; beyond that no consistency guarantee
// is assumed.
type Store interface {
	ListInstruments(ctx context.Context) ([]storage.Instrument, error)
	FindOpenOrders(ctx context.Context, instrument, side string) ([]*engine.Order, error)
	CommitCycle(ctx context.Context, commit storage.CycleCommit) (*storage.InstrumentPrice, error)
	DeleteStaleOrders(ctx context.Context, instrument string, cutoff time.Time) (int64, error)
}

// Notifier fans committed cycle results out to downstream subscribers.
// Every method is best-effort: an error is logged by the coordinator and
// never rolls back or fails the cycle.
type Notifier interface {
	NotifyPriceUpdate(ctx context.Context, price storage.InstrumentPrice, volume decimal.Decimal) error
	BroadcastTrade(ctx context.Context, trade engine.Trade) error
}

type Metrics interface {
	ObserveCycle(instrument string, trades int, duration time.Duration)
	ObserveReaped(instrument string, count int64)
	ObserveNotifyFailure(kind string)
	SetBookDepth(instrument, side string, depth float64)
}

type Config struct {
	Interval      time.Duration
	OrderTTL      time.Duration
	CommitTimeout time.Duration
	NotifyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.OrderTTL <= 0 {
		c.OrderTTL = DefaultOrderTTL
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 5 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 3 * time.Second
	}
	return c
}

// Coordinator runs match cycles. Cycles for one instrument are strictly
// serialized through a per-instrument mutex; cycles for different
// instruments run concurrently and share no mutable state. Orders
// submitted or cancelled while a cycle runs are picked up by the next
// cycle's read, never mid-cycle.
type Coordinator struct {
	store    Store
	notifier Notifier
	reaper   *Reaper
	logger   *slog.Logger
	metrics  Metrics
	cfg      Config

	mu     sync.Mutex
	states map[string]*instrumentState
}

type instrumentState struct {
	mu    sync.Mutex
	dirty atomic.Bool
}

func New(store Store, notifier Notifier, logger *slog.Logger, metrics Metrics, cfg Config) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		store:    store,
		notifier: notifier,
		reaper:   NewReaper(store, cfg.OrderTTL, logger),
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run drives periodic cycles over every active instrument until the
// context is cancelled. Instruments whose previous cycle is still in
// flight are skipped and rerun right after it finishes, so a slow
// commit or notifier never stacks cycles for the same instrument.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Coordinator) runAll(ctx context.Context) {
	instruments, err := c.store.ListInstruments(ctx)
	if err != nil {
		c.logger.Error("list instruments failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, instrument := range instruments {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := c.runIfIdle(ctx, symbol); err != nil {
				c.logger.Error("match cycle failed", "instrument", symbol, "error", err)
			}
		}(instrument.Symbol)
	}
	wg.Wait()
}

// RunCycle runs one cycle for the instrument, waiting for any in-flight
// cycle to finish first. If triggers arrived while a cycle was running
// the cycle is repeated once more against the fresh order set.
func (c *Coordinator) RunCycle(ctx context.Context, instrument string) error {
	state := c.state(instrument)
	state.mu.Lock()
	defer state.mu.Unlock()
	return c.runLocked(ctx, instrument, state)
}

// Trigger requests a cycle without blocking the caller. A cycle already
// in flight for the instrument absorbs the trigger via the dirty flag.
// The cycle runs detached from the caller's context: triggers usually
// arrive on a request context that is cancelled the moment the handler
// returns, and the cycle must outlive it.
func (c *Coordinator) Trigger(ctx context.Context, instrument string) {
	cycleCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.runIfIdle(cycleCtx, instrument); err != nil {
			c.logger.Error("triggered cycle failed", "instrument", instrument, "error", err)
		}
	}()
}

func (c *Coordinator) runIfIdle(ctx context.Context, instrument string) error {
	state := c.state(instrument)
	if !state.mu.TryLock() {
		state.dirty.Store(true)
		return nil
	}
	defer state.mu.Unlock()
	return c.runLocked(ctx, instrument, state)
}

func (c *Coordinator) runLocked(ctx context.Context, instrument string, state *instrumentState) error {
	for {
		state.dirty.Store(false)
		if err := c.cycle(ctx, instrument); err != nil {
			return err
		}
		if !state.dirty.Load() {
			return nil
		}
	}
}

// cycle is one atomic matching pass: reap, load, match, commit, notify.
// Only the commit can fail the cycle; it either lands completely or not
// at all, and the next run re-reads state so a retry is always safe.
func (c *Coordinator) cycle(ctx context.Context, instrument string) error {
	start := time.Now()

	reaped, err := c.reaper.Reap(ctx, instrument)
	if err != nil {
		return fmt.Errorf("reap stale orders: %w", err)
	}
	if c.metrics != nil && reaped > 0 {
		c.metrics.ObserveReaped(instrument, reaped)
	}

	buys, err := c.store.FindOpenOrders(ctx, instrument, engine.SideBuy)
	if err != nil {
		return fmt.Errorf("load buy orders: %w", err)
	}
	sells, err := c.store.FindOpenOrders(ctx, instrument, engine.SideSell)
	if err != nil {
		return fmt.Errorf("load sell orders: %w", err)
	}

	if c.metrics != nil {
		c.metrics.SetBookDepth(instrument, engine.SideBuy, float64(len(buys)))
		c.metrics.SetBookDepth(instrument, engine.SideSell, float64(len(sells)))
	}

	result := engine.Match(time.Now().UTC(), buys, sells)
	if !result.HasTrades() {
		// Zero crossing orders is a normal outcome: nothing to commit
		// and no price update.
		return nil
	}

	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()

	price, err := c.store.CommitCycle(commitCtx, storage.CycleCommit{
		Instrument: instrument,
		Fills:      result.Fills,
		Trades:     result.Trades,
		Price:      &storage.PriceUpdate{Price: result.VWAP, Volume: result.Volume},
	})
	if err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}

	c.notify(ctx, instrument, price, result)

	if c.metrics != nil {
		c.metrics.ObserveCycle(instrument, len(result.Trades), time.Since(start))
	}
	c.logger.Info("match cycle committed",
		"instrument", instrument,
		"trades", len(result.Trades),
		"volume", result.Volume.String(),
		"price", result.VWAP.String(),
	)
	return nil
}

// notify runs outside the atomic boundary: committed state stays
// committed whatever happens here.
func (c *Coordinator) notify(ctx context.Context, instrument string, price *storage.InstrumentPrice, result engine.Result) {
	if c.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()

	if price != nil {
		if err := c.notifier.NotifyPriceUpdate(notifyCtx, *price, result.Volume); err != nil {
			c.logger.Warn("price notification failed", "instrument", instrument, "error", err)
			if c.metrics != nil {
				c.metrics.ObserveNotifyFailure("price")
			}
		}
	}
	for _, trade := range result.Trades {
		if err := c.notifier.BroadcastTrade(notifyCtx, trade); err != nil {
			c.logger.Warn("trade broadcast failed", "instrument", instrument, "trade_id", trade.ID, "error", err)
			if c.metrics != nil {
				c.metrics.ObserveNotifyFailure("trade")
			}
		}
	}
}

func (c *Coordinator) state(instrument string) *instrumentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.states[instrument]
	if state == nil {
		if c.states == nil {
			c.states = make(map[string]*instrumentState)
		}
		state = &instrumentState{}
		c.states[instrument] = state
	}
	return state
}

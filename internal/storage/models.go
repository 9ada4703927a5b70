package storage

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradecore/coinmatch/internal/engine"
)

// Instrument is a tradable coin listed on the platform.
type Instrument struct {
	Symbol      string
	DisplayName string
	Active      bool
	CreatedAt   time.Time
}

// InstrumentPrice is the current quote for an instrument, written only by
// committed match cycles that produced at least one trade.
type InstrumentPrice struct {
	Instrument    string
	CurrentPrice  decimal.Decimal
	ChangePercent decimal.Decimal
	LastUpdated   time.Time
}

// PriceHistoryEntry is one row of the append-only price audit series.
type PriceHistoryEntry struct {
	Instrument    string
	Price         decimal.Decimal
	ChangePercent decimal.Decimal
	RecordedAt    time.Time
}

// PriceUpdate is the candidate quote a match cycle derived (cycle VWAP
// plus matched volume). The change percent is computed against the stored
// price inside the commit transaction.
type PriceUpdate struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// CycleCommit is the full effect of one match cycle. CommitCycle persists
// it as a single transaction: all of it lands or none of it does.
type CycleCommit struct {
	Instrument string
	Fills      []engine.Fill
	Trades     []engine.Trade
	Price      *PriceUpdate
}

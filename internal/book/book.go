package book

import (
	"io"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"github.com/coachpo/bookkeeper/internal/schema"
)

const loggerPrefix = "book "

func ensureLogger(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

// DiscardLogger returns a logger that drops everything, for callers that want silence.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// OrderBook pairs the buy and sell ladders of one instrument.
type OrderBook struct {
	Symbol string
	Buy    *Ladder
	Sell   *Ladder
}

// NewOrderBook constructs an empty book for symbol.
func NewOrderBook(symbol string, logger *log.Logger) *OrderBook {
	logger = ensureLogger(logger)
	return &OrderBook{
		Symbol: symbol,
		Buy:    NewLadder(symbol, schema.SideBuy, logger),
		Sell:   NewLadder(symbol, schema.SideSell, logger),
	}
}

// Ladder returns the ladder for side.
func (b *OrderBook) Ladder(side schema.Side) (*Ladder, bool) {
	switch side {
	case schema.SideBuy:
		return b.Buy, true
	case schema.SideSell:
		return b.Sell, true
	default:
		return nil, false
	}
}

// Insert routes an insert to the side's ladder.
func (b *OrderBook) Insert(side schema.Side, id int64, price decimal.Decimal, size int64) bool {
	ladder, ok := b.Ladder(side)
	if !ok {
		return false
	}
	return ladder.Insert(id, price, size)
}

// Update routes a size update to the side's ladder.
func (b *OrderBook) Update(side schema.Side, id int64, size int64) bool {
	ladder, ok := b.Ladder(side)
	if !ok {
		return false
	}
	return ladder.Update(id, size)
}

// Delete routes a delete to the side's ladder.
func (b *OrderBook) Delete(side schema.Side, id int64) bool {
	ladder, ok := b.Ladder(side)
	if !ok {
		return false
	}
	return ladder.Delete(id)
}

// Spread returns best ask minus best bid when both sides are populated.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, ok := b.Buy.Best()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.Sell.Best()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Reset empties both ladders.
func (b *OrderBook) Reset() {
	b.Buy.Reset()
	b.Sell.Reset()
}

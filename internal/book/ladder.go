// Package book reconstructs per-instrument level-2 order books from table deltas.
package book

import (
	"iter"
	"log"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/coachpo/bookkeeper/internal/schema"
)

const ladderDegree = 32

// Order is one resting order on a ladder. It is owned by the ladder that holds it.
type Order struct {
	ID    int64
	Side  schema.Side
	Price decimal.Decimal
	Size  int64
}

// Level is a price and the size resting there.
type Level struct {
	Price decimal.Decimal
	Size  int64
}

// Ladder holds one side of one instrument's book: distinct prices in ascending order,
// each carried by exactly one live order, indexed by order id.
type Ladder struct {
	symbol string
	side   schema.Side
	levels *btree.BTreeG[*Order]
	orders map[int64]*Order
	logger *log.Logger
}

func lessByPrice(a, b *Order) bool {
	return a.Price.LessThan(b.Price)
}

// NewLadder constructs an empty ladder for one side of symbol.
func NewLadder(symbol string, side schema.Side, logger *log.Logger) *Ladder {
	return &Ladder{
		symbol: symbol,
		side:   side,
		levels: btree.NewG[*Order](ladderDegree, lessByPrice),
		orders: make(map[int64]*Order),
		logger: ensureLogger(logger),
	}
}

// Side reports which side of the book the ladder holds.
func (l *Ladder) Side() schema.Side {
	return l.side
}

// Len returns the number of live orders.
func (l *Ladder) Len() int {
	return len(l.orders)
}

// Insert places an order. An insert at a price already held by a different order is
// logged and dropped; the ladder keeps the first order.
func (l *Ladder) Insert(id int64, price decimal.Decimal, size int64) bool {
	if existing, ok := l.levels.Get(&Order{Price: price}); ok {
		if existing.ID == id {
			existing.Size = size
			return true
		}
		l.logger.Printf("warn: %s %s ladder: price %s already held by order %d, dropping order %d",
			l.symbol, l.side, price, existing.ID, id)
		return false
	}
	if stale, ok := l.orders[id]; ok {
		l.levels.Delete(stale)
	}
	order := &Order{ID: id, Side: l.side, Price: price, Size: size}
	l.levels.ReplaceOrInsert(order)
	l.orders[id] = order
	return true
}

// Update replaces the size of a live order. Unknown ids are ignored.
func (l *Ladder) Update(id int64, size int64) bool {
	order, ok := l.orders[id]
	if !ok {
		return false
	}
	order.Size = size
	return true
}

// Delete removes a live order. Unknown ids are ignored.
func (l *Ladder) Delete(id int64) bool {
	order, ok := l.orders[id]
	if !ok {
		return false
	}
	l.levels.Delete(order)
	delete(l.orders, id)
	return true
}

// Order returns a copy of the live order with id.
func (l *Ladder) Order(id int64) (Order, bool) {
	order, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

// Best returns the most favourable level: highest bid or lowest ask.
func (l *Ladder) Best() (Level, bool) {
	for level := range l.TopN(1) {
		return level, true
	}
	return Level{}, false
}

// TopN yields up to limit levels best-first: descending for Buy, ascending for Sell.
// The sequence can be ranged over again to restart from the current best level.
func (l *Ladder) TopN(limit int) iter.Seq[Level] {
	return func(yield func(Level) bool) {
		if limit <= 0 {
			return
		}
		emitted := 0
		visit := func(order *Order) bool {
			if !yield(Level{Price: order.Price, Size: order.Size}) {
				return false
			}
			emitted++
			return emitted < limit
		}
		if l.side == schema.SideBuy {
			l.levels.Descend(visit)
			return
		}
		l.levels.Ascend(visit)
	}
}

// Reset drops every order.
func (l *Ladder) Reset() {
	l.levels.Clear(false)
	clear(l.orders)
}

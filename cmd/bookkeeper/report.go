package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/coachpo/bookkeeper/internal/balance"
	"github.com/coachpo/bookkeeper/internal/book"
	"github.com/coachpo/bookkeeper/internal/schema"
)

// reporter prints depth and balance from the consumer goroutine, at most once per interval.
type reporter struct {
	books    *book.Registry
	balances *balance.Aggregator
	symbol   string
	depth    int
	interval time.Duration
	logger   *log.Logger
	last     time.Time
}

func (r *reporter) maybeReport(now time.Time) {
	if r.interval <= 0 || now.Sub(r.last) < r.interval {
		return
	}
	r.last = now
	r.report()
}

func (r *reporter) report() {
	for _, side := range []schema.Side{schema.SideBuy, schema.SideSell} {
		r.logger.Printf("depth %s %s: %s", r.symbol, side, formatDepth(r.books, r.symbol, side, r.depth))
	}
	b := r.balances.Balance()
	r.logger.Printf("balance: wallet=%s unrealised=%s margin=%s position=%s available=%s",
		b.WalletBalance, b.UnrealisedPnl, b.MarginBalance, b.PositionMargin, b.AvailableBalance)
}

func formatDepth(books *book.Registry, symbol string, side schema.Side, limit int) string {
	var parts []string
	for level := range books.CumulativeTopOfBook(symbol, side, limit) {
		parts = append(parts, fmt.Sprintf("%s x %d (%d)", level.Price, level.Size, level.Cumulative))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, ", ")
}

package book

import (
	"log"
	"sort"

	"github.com/coachpo/bookkeeper/internal/schema"
)

// ApplyResult counts what happened to the rows of one frame.
type ApplyResult struct {
	Applied int
	Ignored int
}

// Registry owns one OrderBook per instrument. Books are created on first reference and
// live until Reset. It is not safe for concurrent use.
type Registry struct {
	books  map[string]*OrderBook
	logger *log.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		books:  make(map[string]*OrderBook),
		logger: ensureLogger(logger),
	}
}

// Book returns the book for symbol without creating it.
func (r *Registry) Book(symbol string) (*OrderBook, bool) {
	b, ok := r.books[symbol]
	return b, ok
}

func (r *Registry) bookFor(symbol string) *OrderBook {
	b, ok := r.books[symbol]
	if !ok {
		b = NewOrderBook(symbol, r.logger)
		r.books[symbol] = b
	}
	return b
}

// Symbols lists instruments with a book, sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.books))
	for symbol := range r.books {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Apply mutates the books named by rows. A partial clears each referenced book once
// before inserting so the snapshot replaces prior contents. Rows that cannot be applied
// (duplicate price, unknown id) are counted as ignored and never abort sibling rows.
func (r *Registry) Apply(action schema.Action, rows []schema.OrderBookRow) ApplyResult {
	var result ApplyResult
	var seeded map[string]struct{}
	if action == schema.ActionPartial {
		seeded = make(map[string]struct{})
	}
	for _, row := range rows {
		if row.Symbol == "" {
			r.logger.Printf("error: %s row %d has no instrument, dropping", action, row.ID)
			result.Ignored++
			continue
		}
		b := r.bookFor(row.Symbol)
		var ok bool
		switch action {
		case schema.ActionPartial:
			if _, done := seeded[row.Symbol]; !done {
				b.Reset()
				seeded[row.Symbol] = struct{}{}
			}
			ok = b.Insert(row.Side, row.ID, row.Price, row.Size)
		case schema.ActionInsert:
			ok = b.Insert(row.Side, row.ID, row.Price, row.Size)
		case schema.ActionUpdate:
			ok = b.Update(row.Side, row.ID, row.Size)
		case schema.ActionDelete:
			ok = b.Delete(row.Side, row.ID)
		default:
			r.logger.Printf("error: unsupported book action %q", action)
			result.Ignored += len(rows)
			return result
		}
		if ok {
			result.Applied++
		} else {
			result.Ignored++
		}
	}
	return result
}

// Reset forgets every book.
func (r *Registry) Reset() {
	clear(r.books)
}

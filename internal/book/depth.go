package book

import (
	"iter"

	"github.com/shopspring/decimal"

	"github.com/coachpo/bookkeeper/internal/schema"
)

// DepthLevel is a top-of-book level with the running size of every level yielded so far.
type DepthLevel struct {
	Price      decimal.Decimal
	Size       int64
	Cumulative int64
}

// CumulativeTopOfBook yields up to limit best-first levels of symbol's side together with
// their cumulative size. Unknown instruments yield nothing and are not created.
func (r *Registry) CumulativeTopOfBook(symbol string, side schema.Side, limit int) iter.Seq[DepthLevel] {
	return func(yield func(DepthLevel) bool) {
		b, ok := r.books[symbol]
		if !ok {
			return
		}
		ladder, ok := b.Ladder(side)
		if !ok {
			return
		}
		var cumulative int64
		for level := range ladder.TopN(limit) {
			cumulative += level.Size
			if !yield(DepthLevel{Price: level.Price, Size: level.Size, Cumulative: cumulative}) {
				return
			}
		}
	}
}


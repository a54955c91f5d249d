package book

import (
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/bookkeeper/internal/schema"
)

func row(symbol string, id int64, side schema.Side, price string, size int64) schema.OrderBookRow {
	r := schema.OrderBookRow{Symbol: symbol, ID: id, Side: side, Size: size}
	if price != "" {
		r.Price = decimal.RequireFromString(price)
	}
	return r
}

func TestRegistryPartialThenUpdateScenario(t *testing.T) {
	registry := NewRegistry(DiscardLogger())

	res := registry.Apply(schema.ActionPartial, []schema.OrderBookRow{
		row("XBTUSD", 1, schema.SideBuy, "100", 5),
		row("XBTUSD", 2, schema.SideSell, "101", 3),
	})
	require.Equal(t, ApplyResult{Applied: 2}, res)

	res = registry.Apply(schema.ActionUpdate, []schema.OrderBookRow{
		row("XBTUSD", 1, schema.SideBuy, "", 9),
	})
	require.Equal(t, 1, res.Applied)

	depth := slices.Collect(registry.CumulativeTopOfBook("XBTUSD", schema.SideBuy, 5))
	require.Len(t, depth, 1)
	require.Equal(t, "100", depth[0].Price.String())
	require.Equal(t, int64(9), depth[0].Size)
	require.Equal(t, int64(9), depth[0].Cumulative)
}

func TestRegistryCumulativeIsRunningSum(t *testing.T) {
	registry := NewRegistry(DiscardLogger())
	registry.Apply(schema.ActionPartial, []schema.OrderBookRow{
		row("ETHUSD", 10, schema.SideSell, "2001", 4),
		row("ETHUSD", 11, schema.SideSell, "2000.5", 6),
		row("ETHUSD", 12, schema.SideSell, "2003", 1),
		row("ETHUSD", 13, schema.SideBuy, "1999", 2),
	})

	depth := slices.Collect(registry.CumulativeTopOfBook("ETHUSD", schema.SideSell, 10))
	require.Len(t, depth, 3)

	var running int64
	for i, level := range depth {
		running += level.Size
		require.Equal(t, running, level.Cumulative)
		if i > 0 {
			require.GreaterOrEqual(t, level.Cumulative, depth[i-1].Cumulative)
			require.True(t, depth[i-1].Price.LessThan(level.Price))
		}
	}
	require.Equal(t, int64(6), depth[0].Cumulative)
	require.Equal(t, int64(11), depth[2].Cumulative)

	top := slices.Collect(registry.CumulativeTopOfBook("ETHUSD", schema.SideSell, 2))
	require.Len(t, top, 2)
}

func TestRegistryPartialReplacesPriorContents(t *testing.T) {
	registry := NewRegistry(DiscardLogger())
	registry.Apply(schema.ActionPartial, []schema.OrderBookRow{
		row("XBTUSD", 1, schema.SideBuy, "100", 5),
		row("XBTUSD", 2, schema.SideBuy, "99", 5),
	})
	registry.Apply(schema.ActionPartial, []schema.OrderBookRow{
		row("XBTUSD", 3, schema.SideBuy, "98", 1),
	})

	b, ok := registry.Book("XBTUSD")
	require.True(t, ok)
	require.Equal(t, 1, b.Buy.Len())
	_, ok = b.Buy.Order(1)
	require.False(t, ok)
}

func TestRegistryInsertDeleteAndUnknownIDs(t *testing.T) {
	registry := NewRegistry(DiscardLogger())
	registry.Apply(schema.ActionInsert, []schema.OrderBookRow{
		row("XBTUSD", 1, schema.SideBuy, "100", 5),
		row("XBTUSD", 2, schema.SideBuy, "100", 6),
		row("XBTUSD", 3, schema.SideSell, "102", 1),
	})

	res := registry.Apply(schema.ActionDelete, []schema.OrderBookRow{
		row("XBTUSD", 1, schema.SideBuy, "", 0),
		row("XBTUSD", 99, schema.SideBuy, "", 0),
	})
	require.Equal(t, ApplyResult{Applied: 1, Ignored: 1}, res)

	require.Empty(t, slices.Collect(registry.CumulativeTopOfBook("XBTUSD", schema.SideBuy, 5)))
	require.Len(t, slices.Collect(registry.CumulativeTopOfBook("XBTUSD", schema.SideSell, 5)), 1)
}

func TestRegistryDropsRowsWithoutInstrument(t *testing.T) {
	registry := NewRegistry(DiscardLogger())
	res := registry.Apply(schema.ActionInsert, []schema.OrderBookRow{
		row("", 1, schema.SideBuy, "100", 5),
		row("XBTUSD", 2, schema.SideBuy, "100", 5),
	})
	require.Equal(t, ApplyResult{Applied: 1, Ignored: 1}, res)
	require.Equal(t, []string{"XBTUSD"}, registry.Symbols())
}

func TestRegistryUnknownSymbolQueryDoesNotCreateBook(t *testing.T) {
	registry := NewRegistry(DiscardLogger())
	require.Empty(t, slices.Collect(registry.CumulativeTopOfBook("NOPE", schema.SideBuy, 5)))
	require.Empty(t, registry.Symbols())
}

func TestOrderBookSpread(t *testing.T) {
	b := NewOrderBook("XBTUSD", DiscardLogger())
	_, ok := b.Spread()
	require.False(t, ok)

	b.Insert(schema.SideBuy, 1, decimal.RequireFromString("100"), 1)
	b.Insert(schema.SideSell, 2, decimal.RequireFromString("100.5"), 1)
	spread, ok := b.Spread()
	require.True(t, ok)
	require.Equal(t, "0.5", spread.String())
}

package bitmex

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderIDFactory mints client order ids.
type OrderIDFactory interface {
	NewOrderID(prefix, symbol string, price decimal.Decimal) string
}

// SimpleOrderIDs builds ids of the form "prefix,symbol,price,unixMillis".
type SimpleOrderIDs struct {
	Clock func() time.Time
}

// NewOrderID implements OrderIDFactory.
func (f SimpleOrderIDs) NewOrderID(prefix, symbol string, price decimal.Decimal) string {
	clock := f.Clock
	if clock == nil {
		clock = time.Now
	}
	if symbol == "" {
		symbol = "simple"
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(',')
	b.WriteString(symbol)
	b.WriteByte(',')
	b.WriteString(price.String())
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(clock().UnixMilli(), 10))
	return b.String()
}

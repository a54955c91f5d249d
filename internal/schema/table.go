// Package schema defines the realtime frame envelope and the typed row shapes of known tables.
package schema

import (
	"strings"

	"github.com/coachpo/bookkeeper/errs"
)

// Action is the mutation carried by a data frame.
type Action string

const (
	// ActionPartial replaces a table's rows and declares its key schema.
	ActionPartial Action = "partial"
	// ActionInsert adds rows.
	ActionInsert Action = "insert"
	// ActionUpdate modifies existing rows by key.
	ActionUpdate Action = "update"
	// ActionDelete removes rows by key.
	ActionDelete Action = "delete"
)

// Validate ensures the action is one the stores understand.
func (a Action) Validate() error {
	switch a {
	case ActionPartial, ActionInsert, ActionUpdate, ActionDelete:
		return nil
	default:
		return errs.New("schema/action", errs.CodeInvalid, errs.WithMessage("unsupported action"), errs.WithField("action", string(a)))
	}
}

// Side identifies one side of an order book.
type Side string

const (
	// SideBuy is the bid side.
	SideBuy Side = "Buy"
	// SideSell is the ask side.
	SideSell Side = "Sell"
)

// ParseSide normalises a wire side value.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", errs.New("schema/side", errs.CodeInvalid, errs.WithMessage("unknown side"), errs.WithField("side", raw))
	}
}

// Known table names.
const (
	TableOrderBookL2   = "orderBookL2"
	TableOrderBookL225 = "orderBookL2_25"
	TableWallet        = "wallet"
	TablePosition      = "position"
	TableOrder         = "order"
	TableExecution     = "execution"
	TableMargin        = "margin"
)

// IsOrderBookTable reports whether table carries per-order level-2 book rows.
func IsOrderBookTable(table string) bool {
	return table == TableOrderBookL2 || table == TableOrderBookL225
}

// Row is a generic field-name to value mapping used for tables without a typed shape.
type Row map[string]any

// Merge copies every field of delta into r, keeping fields delta does not carry.
func (r Row) Merge(delta Row) {
	for k, v := range delta {
		r[k] = v
	}
}

// String returns the field as a string when it holds one.
func (r Row) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Matches reports whether every scope field holds the same string in r.
func (r Row) Matches(scope map[string]string) bool {
	for field, want := range scope {
		if got, ok := r.String(field); !ok || got != want {
			return false
		}
	}
	return true
}

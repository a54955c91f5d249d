package schema

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/bookkeeper/errs"
)

// OrderBookRow is one level-2 order entry of an orderBookL2 table.
// Update and delete rows omit price; update rows carry the new size.
type OrderBookRow struct {
	Symbol string          `json:"symbol"`
	ID     int64           `json:"id"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Size   int64           `json:"size"`
}

// WalletRow is the typed view of a wallet table row. Nil fields were absent from the delta.
type WalletRow struct {
	Account  *int64           `json:"account"`
	Currency *string          `json:"currency"`
	Amount   *decimal.Decimal `json:"amount"`
	Fields   Row              `json:"-"`
}

// PositionRow is the typed view of a position table row. Nil fields were absent from the delta.
type PositionRow struct {
	Account       *int64           `json:"account"`
	Symbol        string           `json:"symbol"`
	Currency      *string          `json:"currency"`
	CurrentQty    *int64           `json:"currentQty"`
	RealisedPnl   *decimal.Decimal `json:"realisedPnl"`
	UnrealisedPnl *decimal.Decimal `json:"unrealisedPnl"`
	MaintMargin   *decimal.Decimal `json:"maintMargin"`
	Leverage      *decimal.Decimal `json:"leverage"`
	Fields        Row              `json:"-"`
}

// rowError reports a row that could not be decoded; sibling rows are unaffected.
func rowError(table string, index int, msg string, cause error) error {
	opts := []errs.Option{
		errs.WithMessage(msg),
		errs.WithField("table", table),
		errs.WithField("index", strconv.Itoa(index)),
	}
	if cause != nil {
		opts = append(opts, errs.WithCause(cause))
	}
	return errs.New("schema/row", errs.CodeDecode, opts...)
}

// DecodeRow parses one row into a generic field map, keeping numbers as json.Number.
func DecodeRow(raw json.RawMessage) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row Row
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errs.New("schema/row", errs.CodeDecode, errs.WithMessage("row is not an object"))
	}
	return row, nil
}

// DecodeRows parses generic rows. Rows that fail are reported and skipped.
func DecodeRows(table string, data []json.RawMessage) ([]Row, []error) {
	rows := make([]Row, 0, len(data))
	var failures []error
	for i, raw := range data {
		row, err := DecodeRow(raw)
		if err != nil {
			failures = append(failures, rowError(table, i, "decode row", err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, failures
}

// DecodeOrderBookRows parses level-2 book rows. Rows without a symbol or with an
// unknown side are reported and skipped.
func DecodeOrderBookRows(table string, data []json.RawMessage) ([]OrderBookRow, []error) {
	rows := make([]OrderBookRow, 0, len(data))
	var failures []error
	for i, raw := range data {
		var row OrderBookRow
		if err := json.Unmarshal(raw, &row); err != nil {
			failures = append(failures, rowError(table, i, "decode book row", err))
			continue
		}
		row.Symbol = strings.TrimSpace(row.Symbol)
		if row.Symbol == "" {
			failures = append(failures, rowError(table, i, "instrument missing", nil))
			continue
		}
		side, err := ParseSide(string(row.Side))
		if err != nil {
			failures = append(failures, rowError(table, i, "invalid side", err))
			continue
		}
		row.Side = side
		rows = append(rows, row)
	}
	return rows, failures
}

// DecodeWalletRows parses wallet rows into typed views, keeping every raw field.
func DecodeWalletRows(data []json.RawMessage) ([]WalletRow, []error) {
	rows := make([]WalletRow, 0, len(data))
	var failures []error
	for i, raw := range data {
		var row WalletRow
		if err := json.Unmarshal(raw, &row); err != nil {
			failures = append(failures, rowError(TableWallet, i, "decode wallet row", err))
			continue
		}
		fields, err := DecodeRow(raw)
		if err != nil {
			failures = append(failures, rowError(TableWallet, i, "decode wallet fields", err))
			continue
		}
		row.Fields = fields
		rows = append(rows, row)
	}
	return rows, failures
}

// DecodePositionRows parses position rows into typed views, keeping every raw field.
func DecodePositionRows(data []json.RawMessage) ([]PositionRow, []error) {
	rows := make([]PositionRow, 0, len(data))
	var failures []error
	for i, raw := range data {
		var row PositionRow
		if err := json.Unmarshal(raw, &row); err != nil {
			failures = append(failures, rowError(TablePosition, i, "decode position row", err))
			continue
		}
		row.Symbol = strings.TrimSpace(row.Symbol)
		if row.Symbol == "" {
			failures = append(failures, rowError(TablePosition, i, "instrument missing", nil))
			continue
		}
		fields, err := DecodeRow(raw)
		if err != nil {
			failures = append(failures, rowError(TablePosition, i, "decode position fields", err))
			continue
		}
		row.Fields = fields
		rows = append(rows, row)
	}
	return rows, failures
}

// Package balance merges wallet and position deltas into account state and derives margin figures.
package balance

import (
	"log"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coachpo/bookkeeper/internal/schema"
)

const loggerPrefix = "balance "

// Wallet is the merged wallet snapshot.
type Wallet struct {
	Account  int64
	Currency string
	Amount   decimal.Decimal
	Fields   schema.Row
}

func (w *Wallet) merge(row schema.WalletRow) {
	if row.Account != nil {
		w.Account = *row.Account
	}
	if row.Currency != nil {
		w.Currency = *row.Currency
	}
	if row.Amount != nil {
		w.Amount = *row.Amount
	}
	if w.Fields == nil {
		w.Fields = make(schema.Row, len(row.Fields))
	}
	w.Fields.Merge(row.Fields)
}

func (w Wallet) clone() Wallet {
	w.Fields = w.Fields.Clone()
	return w
}

// Position is the merged state of one instrument's position.
type Position struct {
	Symbol        string
	Account       int64
	Currency      string
	CurrentQty    int64
	RealisedPnl   decimal.Decimal
	UnrealisedPnl decimal.Decimal
	MaintMargin   decimal.Decimal
	Leverage      decimal.Decimal
	Fields        schema.Row
}

func (p *Position) merge(row schema.PositionRow) {
	if row.Account != nil {
		p.Account = *row.Account
	}
	if row.Currency != nil {
		p.Currency = *row.Currency
	}
	if row.CurrentQty != nil {
		p.CurrentQty = *row.CurrentQty
	}
	if row.RealisedPnl != nil {
		p.RealisedPnl = *row.RealisedPnl
	}
	if row.UnrealisedPnl != nil {
		p.UnrealisedPnl = *row.UnrealisedPnl
	}
	if row.MaintMargin != nil {
		p.MaintMargin = *row.MaintMargin
	}
	if row.Leverage != nil {
		p.Leverage = *row.Leverage
	}
	if p.Fields == nil {
		p.Fields = make(schema.Row, len(row.Fields))
	}
	p.Fields.Merge(row.Fields)
}

func (p Position) clone() Position {
	p.Fields = p.Fields.Clone()
	return p
}

// Balance is the derived account view shown by the exchange front end.
type Balance struct {
	WalletBalance    decimal.Decimal
	UnrealisedPnl    decimal.Decimal
	MarginBalance    decimal.Decimal
	PositionMargin   decimal.Decimal
	AvailableBalance decimal.Decimal
}

// Aggregator holds one wallet and the positions of every instrument. It is not safe for
// concurrent use.
type Aggregator struct {
	wallet    Wallet
	hasWallet bool
	positions map[string]*Position
	logger    *log.Logger
}

// NewAggregator constructs an empty aggregator.
func NewAggregator(logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	}
	return &Aggregator{
		positions: make(map[string]*Position),
		logger:    logger,
	}
}

// ApplyWallet merges wallet rows. A partial replaces the wallet wholesale; insert and
// update merge field by field.
func (a *Aggregator) ApplyWallet(action schema.Action, rows []schema.WalletRow) {
	switch action {
	case schema.ActionPartial:
		a.wallet = Wallet{}
		a.hasWallet = len(rows) > 0
		for _, row := range rows {
			a.wallet.merge(row)
		}
	case schema.ActionInsert, schema.ActionUpdate:
		for _, row := range rows {
			a.wallet.merge(row)
			a.hasWallet = true
		}
	case schema.ActionDelete:
		a.logger.Printf("warn: ignoring wallet delete of %d rows", len(rows))
	default:
		a.logger.Printf("error: unsupported wallet action %q", action)
	}
}

// ApplyPosition merges position rows keyed by symbol. A partial replaces the position of
// each symbol it names and leaves other instruments alone; insert and update merge field by
// field; delete forgets the instrument.
func (a *Aggregator) ApplyPosition(action schema.Action, rows []schema.PositionRow) {
	switch action {
	case schema.ActionPartial:
		seeded := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			if _, ok := seeded[row.Symbol]; !ok {
				seeded[row.Symbol] = struct{}{}
				a.positions[row.Symbol] = &Position{Symbol: row.Symbol}
			}
			a.positionFor(row.Symbol).merge(row)
		}
	case schema.ActionInsert, schema.ActionUpdate:
		for _, row := range rows {
			a.positionFor(row.Symbol).merge(row)
		}
	case schema.ActionDelete:
		for _, row := range rows {
			delete(a.positions, row.Symbol)
		}
	default:
		a.logger.Printf("error: unsupported position action %q", action)
	}
}

func (a *Aggregator) positionFor(symbol string) *Position {
	p, ok := a.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol}
		a.positions[symbol] = p
	}
	return p
}

// Wallet returns a copy of the wallet and whether a snapshot has arrived.
func (a *Aggregator) Wallet() (Wallet, bool) {
	return a.wallet.clone(), a.hasWallet
}

// Position returns a copy of symbol's position.
func (a *Aggregator) Position(symbol string) (Position, bool) {
	p, ok := a.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// Symbols lists instruments with a tracked position, sorted.
func (a *Aggregator) Symbols() []string {
	out := make([]string, 0, len(a.positions))
	for symbol := range a.positions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Balance derives the account figures over every tracked position. The wallet amount
// counts as zero until a wallet row has arrived.
func (a *Aggregator) Balance() Balance {
	positions := make([]Position, 0, len(a.positions))
	for _, p := range a.positions {
		positions = append(positions, *p)
	}
	return compute(a.wallet.Amount, positions)
}

func compute(amount decimal.Decimal, positions []Position) Balance {
	realised := decimal.Zero
	unrealised := decimal.Zero
	margin := decimal.Zero
	for _, p := range positions {
		realised = realised.Add(p.RealisedPnl)
		unrealised = unrealised.Add(p.UnrealisedPnl)
		margin = margin.Add(p.MaintMargin)
	}
	walletBalance := amount.Add(realised)
	marginBalance := walletBalance.Add(unrealised)
	return Balance{
		WalletBalance:    walletBalance,
		UnrealisedPnl:    unrealised,
		MarginBalance:    marginBalance,
		PositionMargin:   margin,
		AvailableBalance: marginBalance.Sub(margin),
	}
}

// FrontWallet derives the front-end wallet view from one wallet and one position.
func FrontWallet(wallet Wallet, position Position) Balance {
	return compute(wallet.Amount, []Position{position})
}

package main

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/bookkeeper/internal/adapters/bitmex"
	"github.com/coachpo/bookkeeper/internal/balance"
	"github.com/coachpo/bookkeeper/internal/config"
	"github.com/coachpo/bookkeeper/internal/schema"
)

const leverageTimeout = 10 * time.Second

type leverageState int

const (
	leverageCheckPosition leverageState = iota
	leverageAdjust
	leverageSettled
)

func (s leverageState) String() string {
	switch s {
	case leverageCheckPosition:
		return "check-position"
	case leverageAdjust:
		return "adjust"
	case leverageSettled:
		return "settled"
	default:
		return "unknown"
	}
}

type leverageEvent int

const (
	eventPositionMissing leverageEvent = iota
	eventLeverageMatches
	eventLeverageDiffers
	eventAdjusted
	eventAdjustFailed
)

// nextLeverageState is the transition table of the leverage check. The check settles after
// one adjustment attempt whatever its outcome; settled is terminal.
func nextLeverageState(state leverageState, event leverageEvent) leverageState {
	switch state {
	case leverageCheckPosition:
		switch event {
		case eventLeverageMatches:
			return leverageSettled
		case eventLeverageDiffers:
			return leverageAdjust
		}
	case leverageAdjust:
		switch event {
		case eventAdjusted, eventAdjustFailed:
			return leverageSettled
		}
	}
	return state
}

type leverageSetter interface {
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) (schema.PositionRow, error)
}

// leverageCheck waits for the configured symbol's position and brings its leverage to the
// target once. It runs on the consumer goroutine between frames.
type leverageCheck struct {
	state    leverageState
	symbol   string
	target   decimal.Decimal
	balances *balance.Aggregator
	setter   leverageSetter
	logger   *log.Logger
}

// newLeverageCheck returns nil when no leverage is configured or there is no REST client.
func newLeverageCheck(cfg config.BitmexConfig, balances *balance.Aggregator, client *bitmex.Client, logger *log.Logger) *leverageCheck {
	if cfg.Leverage <= 0 || client == nil {
		return nil
	}
	return &leverageCheck{
		symbol:   cfg.Symbol,
		target:   decimal.NewFromFloat(cfg.Leverage),
		balances: balances,
		setter:   client,
		logger:   logger,
	}
}

func (c *leverageCheck) step(ctx context.Context) {
	if c == nil || c.state == leverageSettled {
		return
	}
	if c.state == leverageCheckPosition {
		c.transition(c.observe())
	}
	if c.state == leverageAdjust {
		c.transition(c.adjust(ctx))
	}
}

func (c *leverageCheck) transition(event leverageEvent) {
	next := nextLeverageState(c.state, event)
	if next != c.state {
		c.logger.Printf("leverage check %s: %s -> %s", c.symbol, c.state, next)
	}
	c.state = next
}

func (c *leverageCheck) observe() leverageEvent {
	p, ok := c.balances.Position(c.symbol)
	if !ok {
		return eventPositionMissing
	}
	if p.Leverage.Equal(c.target) {
		return eventLeverageMatches
	}
	return eventLeverageDiffers
}

func (c *leverageCheck) adjust(ctx context.Context) leverageEvent {
	callCtx, cancel := context.WithTimeout(ctx, leverageTimeout)
	defer cancel()
	row, err := c.setter.SetLeverage(callCtx, c.symbol, c.target)
	if err != nil {
		c.logger.Printf("warn: set leverage %s on %s: %v", c.target, c.symbol, err)
		return eventAdjustFailed
	}
	if row.Symbol == "" {
		row.Symbol = c.symbol
	}
	c.balances.ApplyPosition(schema.ActionUpdate, []schema.PositionRow{row})
	c.logger.Printf("leverage on %s set to %s", c.symbol, c.target)
	return eventAdjusted
}

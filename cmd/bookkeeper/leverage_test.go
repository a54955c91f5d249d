package main

import (
	"bytes"
	"context"
	"log"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/config"
	"github.com/coachpo/bookkeeper/internal/schema"
)

type fakeSetter struct {
	calls []decimal.Decimal
	err   error
}

func (f *fakeSetter) SetLeverage(_ context.Context, symbol string, leverage decimal.Decimal) (schema.PositionRow, error) {
	f.calls = append(f.calls, leverage)
	if f.err != nil {
		return schema.PositionRow{}, f.err
	}
	return schema.PositionRow{Symbol: symbol, Leverage: &leverage}, nil
}

func TestLeverageTransitions(t *testing.T) {
	cases := []struct {
		from  leverageState
		event leverageEvent
		want  leverageState
	}{
		{leverageCheckPosition, eventPositionMissing, leverageCheckPosition},
		{leverageCheckPosition, eventLeverageMatches, leverageSettled},
		{leverageCheckPosition, eventLeverageDiffers, leverageAdjust},
		{leverageCheckPosition, eventAdjusted, leverageCheckPosition},
		{leverageAdjust, eventAdjusted, leverageSettled},
		{leverageAdjust, eventAdjustFailed, leverageSettled},
		{leverageAdjust, eventPositionMissing, leverageAdjust},
		{leverageSettled, eventLeverageDiffers, leverageSettled},
		{leverageSettled, eventPositionMissing, leverageSettled},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, nextLeverageState(tc.from, tc.event), "%s on %d", tc.from, tc.event)
	}
}

func newTestLeverageCheck(h *harness, target int64, setter leverageSetter) (*leverageCheck, *bytes.Buffer) {
	logs := new(bytes.Buffer)
	return &leverageCheck{
		symbol:   "XBTUSD",
		target:   decimal.NewFromInt(target),
		balances: h.reporter.balances,
		setter:   setter,
		logger:   log.New(logs, "", 0),
	}, logs
}

func TestConsumeAdjustsLeverageOnce(t *testing.T) {
	h := newHarness(0)
	setter := &fakeSetter{}
	check, logs := newTestLeverageCheck(h, 10, setter)
	h.publish(t,
		`{"table":"wallet","action":"partial","data":[{"account":1,"currency":"XBt","amount":1000}]}`,
		`{"table":"position","action":"partial","keys":["account","symbol","currency"],"data":[
			{"account":1,"symbol":"XBTUSD","currency":"XBt","leverage":5}]}`,
		`{"table":"position","action":"update","data":[{"account":1,"symbol":"XBTUSD","currency":"XBt","leverage":3}]}`,
	)
	h.queue.Close()

	require.NoError(t, consume(context.Background(), h.queue, h.router, h.reporter, check))
	require.Equal(t, leverageSettled, check.state)
	require.Len(t, setter.calls, 1)
	require.True(t, setter.calls[0].Equal(decimal.NewFromInt(10)))
	require.Contains(t, logs.String(), "check-position -> adjust")
	require.Contains(t, logs.String(), "leverage on XBTUSD set to 10")
}

func TestLeverageCheckWaitsForPosition(t *testing.T) {
	h := newHarness(0)
	setter := &fakeSetter{}
	check, _ := newTestLeverageCheck(h, 10, setter)

	check.step(context.Background())
	require.Equal(t, leverageCheckPosition, check.state)
	require.Empty(t, setter.calls)

	ten := decimal.NewFromInt(10)
	h.reporter.balances.ApplyPosition(schema.ActionPartial, []schema.PositionRow{{Symbol: "XBTUSD", Leverage: &ten}})
	check.step(context.Background())
	require.Equal(t, leverageSettled, check.state)
	require.Empty(t, setter.calls)
}

func TestLeverageCheckSettlesAfterFailedAdjust(t *testing.T) {
	h := newHarness(0)
	setter := &fakeSetter{err: errs.New("bitmex/rest", errs.CodeExchange, errs.WithMessage("leverage rejected"))}
	check, logs := newTestLeverageCheck(h, 10, setter)
	h.reporter.balances.ApplyPosition(schema.ActionPartial, []schema.PositionRow{{Symbol: "XBTUSD"}})

	check.step(context.Background())
	check.step(context.Background())
	require.Equal(t, leverageSettled, check.state)
	require.Len(t, setter.calls, 1)
	require.Contains(t, logs.String(), "warn: set leverage 10 on XBTUSD")
	p, _ := h.reporter.balances.Position("XBTUSD")
	require.True(t, p.Leverage.IsZero())
}

func TestNewLeverageCheckDisabled(t *testing.T) {
	h := newHarness(0)
	require.Nil(t, newLeverageCheck(config.BitmexConfig{Symbol: "XBTUSD"}, h.reporter.balances, nil, nil))
	require.Nil(t, newLeverageCheck(config.BitmexConfig{Symbol: "XBTUSD", Leverage: 10}, h.reporter.balances, nil, nil))

	var check *leverageCheck
	check.step(context.Background())
}

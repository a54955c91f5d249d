package schema

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/bookkeeper/errs"
)

func TestDecodeFrameClassifiesControlFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"subscribe", `{"success":true,"subscribe":"orderBookL2:XBTUSD","request":{"op":"subscribe"}}`, KindSubscribe},
		{"error", `{"status":400,"error":"Unknown table: foo"}`, KindError},
		{"info", `{"info":"Welcome to the BitMEX Realtime API.","version":"2.0"}`, KindInfo},
		{"auth ack", `{"success":true,"request":{"op":"authKeyExpires"}}`, KindAck},
		{"data", `{"table":"wallet","action":"partial","keys":["account","currency"],"data":[]}`, KindData},
		{"malformed", `{"foo":"bar"}`, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, frame.Kind())
		})
	}
}

func TestDecodeFrameControlText(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"status":401,"error":"Invalid API Key."}`))
	require.NoError(t, err)
	require.Equal(t, "Invalid API Key.", frame.ErrorText())
	require.Equal(t, 401, frame.Status)

	frame, err = DecodeFrame([]byte(`{"success":true,"subscribe":"wallet"}`))
	require.NoError(t, err)
	require.Equal(t, "wallet", frame.SubscribeText())
}

func TestFrameScopeKeepsStringFilterFields(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"table":"position","action":"partial","keys":["account","symbol","currency"],
		"filter":{"account":12345,"symbol":"XBTUSD"},"data":[]}`))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"symbol": "XBTUSD"}, frame.Scope())

	frame, err = DecodeFrame([]byte(`{"table":"wallet","action":"partial","filter":{"account":12345},"data":[]}`))
	require.NoError(t, err)
	require.Nil(t, frame.Scope())
}

func TestDecodeFrameRejectsBrokenEnvelope(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"table":`))
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeDecode))

	_, err = DecodeFrame([]byte("   "))
	require.True(t, errs.HasCode(err, errs.CodeDecode))
}

func TestDecodeOrderBookRowsIsolatesBadRows(t *testing.T) {
	data := []json.RawMessage{
		json.RawMessage(`{"symbol":"XBTUSD","id":1,"side":"Buy","price":100.5,"size":5}`),
		json.RawMessage(`{"id":2,"side":"Sell","price":101,"size":3}`),
		json.RawMessage(`{"symbol":"XBTUSD","id":3,"side":"Sideways","price":99,"size":1}`),
		json.RawMessage(`{"symbol":"XBTUSD","id":4,"side":"sell","size":7}`),
	}
	rows, failures := DecodeOrderBookRows(TableOrderBookL2, data)
	require.Len(t, rows, 2)
	require.Len(t, failures, 2)

	require.Equal(t, int64(1), rows[0].ID)
	require.Equal(t, SideBuy, rows[0].Side)
	require.Equal(t, "100.5", rows[0].Price.String())
	require.Equal(t, SideSell, rows[1].Side)
	require.True(t, rows[1].Price.IsZero())
	require.Equal(t, int64(7), rows[1].Size)
}

func TestDecodePositionRowsKeepsPresenceAndFields(t *testing.T) {
	data := []json.RawMessage{
		json.RawMessage(`{"account":2,"symbol":"XBTUSD","currency":"XBt","realisedPnl":50,"maintMargin":30,"leverage":10}`),
		json.RawMessage(`{"account":2,"currency":"XBt","realisedPnl":1}`),
	}
	rows, failures := DecodePositionRows(data)
	require.Len(t, rows, 1)
	require.Len(t, failures, 1)

	row := rows[0]
	require.NotNil(t, row.RealisedPnl)
	require.Equal(t, "50", row.RealisedPnl.String())
	require.Nil(t, row.UnrealisedPnl)
	require.NotNil(t, row.MaintMargin)
	require.Equal(t, json.Number("10"), row.Fields["leverage"])
}

func TestDecodeWalletRows(t *testing.T) {
	rows, failures := DecodeWalletRows([]json.RawMessage{
		json.RawMessage(`{"account":2,"currency":"XBt","amount":1000}`),
		json.RawMessage(`[1,2]`),
	})
	require.Len(t, rows, 1)
	require.Len(t, failures, 1)
	require.Equal(t, "1000", rows[0].Amount.String())
	require.Equal(t, "XBt", *rows[0].Currency)
}

func TestParseSideAndAction(t *testing.T) {
	side, err := ParseSide(" BUY ")
	require.NoError(t, err)
	require.Equal(t, SideBuy, side)
	_, err = ParseSide("")
	require.Error(t, err)

	require.NoError(t, ActionPartial.Validate())
	require.Error(t, Action("upsert").Validate())
}

func TestRowMergeKeepsAbsentFields(t *testing.T) {
	row := Row{"amount": json.Number("1000"), "currency": "XBt"}
	row.Merge(Row{"amount": json.Number("900")})
	require.Equal(t, json.Number("900"), row["amount"])
	currency, ok := row.String("currency")
	require.True(t, ok)
	require.Equal(t, "XBt", currency)
}

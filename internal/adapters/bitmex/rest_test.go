package bitmex

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/config"
)

var testNow = time.Unix(1700000000, 0)

// verifySignature checks the request was signed with "secret" the way the exchange does.
func verifySignature(t *testing.T, r *http.Request, body string) {
	t.Helper()
	expires, err := strconv.ParseInt(r.Header.Get(HeaderAPIExpires), 10, 64)
	require.NoError(t, err)
	query := ""
	if r.URL.RawQuery != "" {
		query = "?" + r.URL.RawQuery
	}
	require.Equal(t, "key", r.Header.Get(HeaderAPIKey))
	require.Equal(t, Sign("secret", r.Method, r.URL.Path, query, expires, body), r.Header.Get(HeaderAPISignature))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{
		BaseURL:           srv.URL + "/api/v1",
		Credentials:       config.Credentials{APIKey: "key", APISecret: "secret"},
		RequestsPerMinute: 6000,
		OrderIDPrefix:     "bk",
		Logger:            log.New(io.Discard, "", 0),
		Clock:             fixedClock(testNow),
	})
	require.NoError(t, err)
	return client
}

func TestPositionsSignsAndDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/position", r.URL.Path)
		require.Equal(t, `{"symbol":"XBTUSD"}`, r.URL.Query().Get("filter"))
		verifySignature(t, r, "")
		w.Header().Set(HeaderRateLimit, "60")
		w.Header().Set(HeaderRateRemaining, "59")
		w.Header().Set(HeaderRateReset, "1700000060")
		_, _ = w.Write([]byte(`[{"account":1,"symbol":"XBTUSD","currency":"XBt","currentQty":100,"realisedPnl":50,"unrealisedPnl":-20,"maintMargin":30}]`))
	})

	rows, err := client.Positions(context.Background(), "XBTUSD")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "XBTUSD", rows[0].Symbol)
	require.True(t, rows[0].MaintMargin.Equal(decimal.NewFromInt(30)))
	require.Equal(t, RateLimit{Limit: 60, Remaining: 59, Reset: time.Unix(1700000060, 0)}, client.RateLimit())
}

func TestWallet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/user/wallet", r.URL.Path)
		require.Equal(t, "XBt", r.URL.Query().Get("currency"))
		verifySignature(t, r, "")
		_, _ = w.Write([]byte(`{"account":1,"currency":"XBt","amount":1000}`))
	})

	wallet, err := client.Wallet(context.Background(), "XBt")
	require.NoError(t, err)
	require.True(t, wallet.Amount.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, "XBt", *wallet.Currency)
}

func TestPlaceOrderBuildsClientID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/order", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		verifySignature(t, r, string(body))

		var sent map[string]any
		require.NoError(t, json.Unmarshal(body, &sent))
		require.Equal(t, "bk,XBTUSD,8630.5,1700000000000", sent["clOrdID"])
		require.Equal(t, "ParticipateDoNotInitiate", sent["execInst"])
		require.EqualValues(t, -100, sent["orderQty"])
		require.EqualValues(t, 8630.5, sent["price"])
		_, _ = w.Write([]byte(`{"orderID":"abc","clOrdID":"bk,XBTUSD,8630.5,1700000000000","symbol":"XBTUSD","side":"Sell","orderQty":100,"price":8630.5,"ordStatus":"New"}`))
	})

	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "XBTUSD", Quantity: -100, Price: decimal.RequireFromString("8630.5"), PostOnly: true,
	})
	require.NoError(t, err)
	require.Equal(t, "abc", order.OrderID)
	require.Equal(t, "New", order.OrdStatus)
}

func TestPlaceBulkIndexesClientIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/order/bulk", r.URL.Path)
		var sent struct {
			Orders []map[string]any `json:"orders"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		require.Len(t, sent.Orders, 2)
		require.Equal(t, "bk0,XBTUSD,100,1700000000000", sent.Orders[0]["clOrdID"])
		require.Equal(t, "bk1,XBTUSD,101,1700000000000", sent.Orders[1]["clOrdID"])
		_, _ = w.Write([]byte(`[{"orderID":"a"},{"orderID":"b"}]`))
	})

	orders, err := client.PlaceBulk(context.Background(), []OrderRequest{
		{Symbol: "XBTUSD", Quantity: 1, Price: decimal.NewFromInt(100)},
		{Symbol: "XBTUSD", Quantity: -1, Price: decimal.NewFromInt(101)},
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	none, err := client.PlaceBulk(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestSetLeverage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/position/leverage", r.URL.Path)
		var sent map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		require.EqualValues(t, 25, sent["leverage"])
		_, _ = w.Write([]byte(`{"symbol":"XBTUSD","leverage":25,"maintMargin":3}`))
	})

	pos, err := client.SetLeverage(context.Background(), "XBTUSD", decimal.NewFromInt(25))
	require.NoError(t, err)
	require.Equal(t, "XBTUSD", pos.Symbol)
	require.Equal(t, json.Number("25"), pos.Fields["leverage"])
	require.NotNil(t, pos.Leverage)
	require.True(t, pos.Leverage.Equal(decimal.NewFromInt(25)))
}

func TestClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/api/v1/user/wallet":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key.","name":"HTTPError"}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid leverage","name":"ValidationError"}}`))
		}
	})

	_, err := client.Wallet(context.Background(), "XBt")
	require.True(t, errs.HasCode(err, errs.CodeAuth))
	require.Contains(t, err.Error(), "Invalid API Key.")

	_, err = client.SetLeverage(context.Background(), "XBTUSD", decimal.NewFromInt(500))
	require.True(t, errs.HasCode(err, errs.CodeExchange))
	require.Equal(t, int32(2), calls.Load())
}

func TestMissingEndpointIsNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"Not Found","name":"HTTPError"}}`))
	})

	_, err := client.Positions(context.Background(), "XBTUSD")
	require.True(t, errs.HasCode(err, errs.CodeNotFound))
}

func TestOverloadIsRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"The system is currently overloaded.","name":"HTTPError"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"orderID":"retried"}`))
	})

	order, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "XBTUSD", Quantity: 1, Price: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.Equal(t, "retried", order.OrderID)
	require.Equal(t, int32(2), calls.Load())
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "not a url"})
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

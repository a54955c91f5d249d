package bitmex

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/config"
	"github.com/coachpo/bookkeeper/internal/schema"
	"github.com/coachpo/bookkeeper/internal/telemetry"
)

// Rate-limit headers returned on every REST response.
const (
	HeaderRateLimit     = "x-ratelimit-limit"
	HeaderRateRemaining = "x-ratelimit-remaining"
	HeaderRateReset     = "x-ratelimit-reset"
)

// execInstPostOnly keeps an order from taking liquidity.
const execInstPostOnly = "ParticipateDoNotInitiate"

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL           string
	Credentials       config.Credentials
	HTTPTimeout       time.Duration
	SignatureTTL      time.Duration
	RequestsPerMinute int
	OrderIDPrefix     string
	MaxRetries        uint
	HTTPClient        *http.Client
	OrderIDs          OrderIDFactory
	Logger            *log.Logger
	Clock             func() time.Time
}

// ClientConfigFrom maps application settings onto a client configuration.
func ClientConfigFrom(cfg config.BitmexConfig) ClientConfig {
	return ClientConfig{
		BaseURL:           cfg.RESTURL,
		Credentials:       cfg.Credentials,
		HTTPTimeout:       cfg.HTTPTimeout,
		SignatureTTL:      cfg.SignatureTTL,
		RequestsPerMinute: cfg.RequestsPerMinute,
		OrderIDPrefix:     cfg.OrderIDPrefix,
	}
}

// RateLimit is the most recent rate-limit state reported by the exchange.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// OrderRequest describes a limit order. A negative quantity sells.
type OrderRequest struct {
	Symbol   string
	Quantity int64
	Price    decimal.Decimal
	PostOnly bool
}

type orderBody struct {
	Symbol   string      `json:"symbol"`
	OrderQty int64       `json:"orderQty"`
	Price    json.Number `json:"price"`
	ClOrdID  string      `json:"clOrdID"`
	ExecInst string      `json:"execInst,omitempty"`
}

// Order is the exchange's view of a placed order.
type Order struct {
	OrderID   string          `json:"orderID"`
	ClOrdID   string          `json:"clOrdID"`
	Symbol    string          `json:"symbol"`
	Side      schema.Side     `json:"side"`
	OrderQty  int64           `json:"orderQty"`
	Price     decimal.Decimal `json:"price"`
	OrdStatus string          `json:"ordStatus"`
	Text      string          `json:"text"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

// Client is a signed REST client. It is safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	signer   *Signer
	limiter  *rate.Limiter
	ids      OrderIDFactory
	prefix   string
	retries  uint
	clock    func() time.Time
	logger   *log.Logger
	metrics  *adapterMetrics

	mu     sync.Mutex
	limits RateLimit
}

// NewClient validates cfg and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.New("bitmex/rest", errs.CodeInvalid,
			errs.WithMessage("invalid base url"), errs.WithField("url", cfg.BaseURL), errs.WithCause(err))
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	ids := cfg.OrderIDs
	if ids == nil {
		ids = SimpleOrderIDs{Clock: cfg.Clock}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "bitmex ", log.LstdFlags|log.Lmicroseconds)
	}
	burst := max(1, cfg.RequestsPerMinute/10)

	return &Client{
		baseURL: base,
		http:    httpClient,
		signer:  NewSigner(cfg.Credentials, cfg.SignatureTTL, clock),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst),
		ids:     ids,
		prefix:  cfg.OrderIDPrefix,
		retries: cfg.MaxRetries,
		clock:   clock,
		logger:  logger,
		metrics: newAdapterMetrics(),
	}, nil
}

// RateLimit returns the last rate-limit headers seen.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// Positions returns the open positions on symbol.
func (c *Client) Positions(ctx context.Context, symbol string) ([]schema.PositionRow, error) {
	filter, err := json.Marshal(map[string]string{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	query := url.Values{"filter": []string{string(filter)}}
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/position", query, nil, &raw); err != nil {
		return nil, err
	}
	rows, failures := schema.DecodePositionRows(raw)
	if len(failures) > 0 {
		return rows, errors.Join(failures...)
	}
	return rows, nil
}

// Wallet returns the wallet holding currency.
func (c *Client) Wallet(ctx context.Context, currency string) (schema.WalletRow, error) {
	query := url.Values{"currency": []string{currency}}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/user/wallet", query, nil, &raw); err != nil {
		return schema.WalletRow{}, err
	}
	rows, failures := schema.DecodeWalletRows([]json.RawMessage{raw})
	if len(failures) > 0 {
		return schema.WalletRow{}, failures[0]
	}
	return rows[0], nil
}

// SetLeverage sets isolated leverage on symbol; zero selects cross margin.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) (schema.PositionRow, error) {
	body := map[string]any{"symbol": symbol, "leverage": json.Number(leverage.String())}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/position/leverage", nil, body, &raw); err != nil {
		return schema.PositionRow{}, err
	}
	rows, failures := schema.DecodePositionRows([]json.RawMessage{raw})
	if len(failures) > 0 {
		return schema.PositionRow{}, failures[0]
	}
	return rows[0], nil
}

// PlaceOrder submits one limit order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, "/order", nil, c.newOrderBody(c.prefix, req), &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// PlaceBulk submits several limit orders in one request. Each client id is prefixed with
// the order's index in reqs.
func (c *Client) PlaceBulk(ctx context.Context, reqs []OrderRequest) ([]Order, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	orders := make([]orderBody, len(reqs))
	for i, req := range reqs {
		orders[i] = c.newOrderBody(c.prefix+strconv.Itoa(i), req)
	}
	var out []Order
	if err := c.do(ctx, http.MethodPost, "/order/bulk", nil, map[string]any{"orders": orders}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) newOrderBody(prefix string, req OrderRequest) orderBody {
	body := orderBody{
		Symbol:   req.Symbol,
		OrderQty: req.Quantity,
		Price:    json.Number(req.Price.String()),
		ClOrdID:  c.ids.NewOrderID(prefix, req.Symbol, req.Price),
	}
	if req.PostOnly {
		body.ExecInst = execInstPostOnly
	}
	return body
}

// do sends one signed request, retrying while the exchange reports overload or throttling.
// Reads also retry transport failures.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errs.New("bitmex/rest", errs.CodeInvalid, errs.WithMessage("encode body"), errs.WithCause(err))
		}
	}
	path := c.baseURL.Path + endpoint
	rawQuery := ""
	if len(query) > 0 {
		rawQuery = "?" + query.Encode()
	}

	operation := func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx, method, path, rawQuery, payload, out)
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(c.retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Printf("warn: %s %s retrying in %s: %v", method, endpoint, next, err)
		}))
	return err
}

func (c *Client) attempt(ctx context.Context, method, path, rawQuery string, payload []byte, out any) error {
	if err := c.waitTurn(ctx); err != nil {
		return backoff.Permanent(err)
	}

	target := *c.baseURL
	target.Path = path
	target.RawQuery = strings.TrimPrefix(rawQuery, "?")
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return backoff.Permanent(errs.New("bitmex/rest", errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err)))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.signer.Enabled() {
		c.signer.Apply(req.Header, method, path, rawQuery, string(payload))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.recordRequest(method, path, telemetry.ResultError, time.Since(start))
		netErr := errs.New("bitmex/rest", errs.CodeNetwork, errs.WithMessage(method+" "+path), errs.WithCause(err))
		if method != http.MethodGet || ctx.Err() != nil {
			return backoff.Permanent(netErr)
		}
		return netErr
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.trackLimits(resp.Header)

	if resp.StatusCode >= http.StatusBadRequest {
		c.metrics.recordRequest(method, path, telemetry.ResultError, time.Since(start))
		return c.statusError(method, path, resp)
	}
	c.metrics.recordRequest(method, path, telemetry.ResultApplied, time.Since(start))
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(errs.New("bitmex/rest", errs.CodeDecode,
			errs.WithMessage("decode "+path), errs.WithHTTP(resp.StatusCode), errs.WithCause(err)))
	}
	return nil
}

func (c *Client) statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var parsed errorBody
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	code := errs.CodeExchange
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = errs.CodeAuth
	case http.StatusNotFound:
		code = errs.CodeNotFound
	case http.StatusTooManyRequests:
		code = errs.CodeRateLimited
	}
	err := errs.New("bitmex/rest", code,
		errs.WithMessage(method+" "+path),
		errs.WithHTTP(resp.StatusCode),
		errs.WithRawMessage(message))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		if seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && seconds > 0 {
			return errors.Join(err, backoff.RetryAfter(seconds))
		}
		return err
	case http.StatusServiceUnavailable:
		return err
	default:
		return backoff.Permanent(err)
	}
}

// waitTurn blocks on the local limiter and, once the exchange reports an exhausted budget,
// until its reset time.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	limits := c.limits
	c.mu.Unlock()
	if limits.Limit > 0 && limits.Remaining == 0 {
		if wait := limits.Reset.Sub(c.clock()); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) trackLimits(h http.Header) {
	limit, err := strconv.Atoi(h.Get(HeaderRateLimit))
	if err != nil {
		return
	}
	remaining, _ := strconv.Atoi(h.Get(HeaderRateRemaining))
	reset, _ := strconv.ParseInt(h.Get(HeaderRateReset), 10, 64)
	c.mu.Lock()
	c.limits = RateLimit{Limit: limit, Remaining: remaining, Reset: time.Unix(reset, 0)}
	c.mu.Unlock()
}

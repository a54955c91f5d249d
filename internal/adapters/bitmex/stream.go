package bitmex

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/config"
)

// readLimit bounds one websocket frame; full order-book partials run to several MiB.
const readLimit = 32 << 20

// Publisher accepts raw frames for the consumer goroutine.
type Publisher interface {
	Publish(payload []byte) error
}

// StreamConfig configures the realtime connection.
type StreamConfig struct {
	URL              string
	Symbol           string
	Tables           []string
	Credentials      config.Credentials
	SignatureTTL     time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// ReconnectBackoff overrides the default exponential reconnect policy.
	ReconnectBackoff *backoff.ExponentialBackOff
	Logger           *log.Logger
	Clock            func() time.Time
}

// StreamConfigFrom maps application settings onto a stream configuration.
func StreamConfigFrom(cfg config.BitmexConfig) StreamConfig {
	return StreamConfig{
		URL:              cfg.WebsocketURL,
		Symbol:           cfg.Symbol,
		Tables:           cfg.Tables,
		Credentials:      cfg.Credentials,
		SignatureTTL:     cfg.SignatureTTL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
	}
}

type command struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// Stream keeps one authenticated, subscribed websocket open and hands every text frame to
// a Publisher, reconnecting with exponential backoff.
type Stream struct {
	cfg     StreamConfig
	topics  []string
	sink    Publisher
	signer  *Signer
	logger  *log.Logger
	metrics *adapterMetrics

	connMu  sync.RWMutex
	conn    *websocket.Conn
	session string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewStream validates cfg. Without credentials, account-scoped tables are dropped with a
// warning.
func NewStream(cfg StreamConfig, sink Publisher) (*Stream, error) {
	if cfg.URL == "" {
		return nil, errs.New("bitmex/stream", errs.CodeInvalid, errs.WithMessage("websocket url required"))
	}
	if sink == nil {
		return nil, errs.New("bitmex/stream", errs.CodeInvalid, errs.WithMessage("publisher required"))
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "bitmex ", log.LstdFlags|log.Lmicroseconds)
	}

	tables := slices.Clone(cfg.Tables)
	if !cfg.Credentials.Authenticated() && RequiresAuth(tables) {
		logger.Printf("warn: no credentials, dropping account tables from %v", tables)
		tables = slices.DeleteFunc(tables, func(table string) bool { return RequiresAuth([]string{table}) })
	}
	if len(tables) == 0 {
		return nil, errs.New("bitmex/stream", errs.CodeInvalid, errs.WithMessage("no tables to subscribe"))
	}

	return &Stream{
		cfg:     cfg,
		topics:  Topics(cfg.Symbol, tables...),
		sink:    sink,
		signer:  NewSigner(cfg.Credentials, cfg.SignatureTTL, cfg.Clock),
		logger:  logger,
		metrics: newAdapterMetrics(),
		ready:   make(chan struct{}),
	}, nil
}

// Topics returns the subscription arguments sent on every connect.
func (s *Stream) Topics() []string {
	return slices.Clone(s.topics)
}

// Ready is closed once the first connection has been subscribed.
func (s *Stream) Ready() <-chan struct{} {
	return s.ready
}

// Session identifies the current connection in logs.
func (s *Stream) Session() string {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.session
}

// Run maintains the connection until ctx is done or the publisher is closed.
func (s *Stream) Run(ctx context.Context) error {
	policy := s.cfg.ReconnectBackoff
	if policy == nil {
		policy = backoff.NewExponentialBackOff()
		policy.MaxInterval = 30 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.dial(ctx)
		if err == nil {
			policy.Reset()
			err = s.serve(ctx, conn)
			s.setConn(nil, "")
			if errs.HasCode(err, errs.CodeClosed) {
				s.logger.Printf("publisher closed, stopping stream")
				_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.metrics.recordStreamError()
			s.logger.Printf("error: stream: %v", err)
		}
		s.metrics.recordConnection("disconnected")

		sleep := policy.NextBackOff()
		s.logger.Printf("reconnecting in %s", sleep)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return nil, errs.New("bitmex/stream", errs.CodeNetwork,
			errs.WithMessage("dial"), errs.WithField("url", s.cfg.URL), errs.WithCause(err))
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// serve authenticates, subscribes and pumps frames until the connection fails.
func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.CloseNow()

	session := uuid.NewString()
	s.setConn(conn, session)
	s.metrics.recordConnection("connected")
	s.logger.Printf("connected session=%s url=%s", session, s.cfg.URL)

	if s.signer.Enabled() {
		if err := s.send(connCtx, conn, command{Op: "authKeyExpires", Args: s.signer.AuthArgs()}); err != nil {
			return err
		}
	}
	args := make([]any, len(s.topics))
	for i, topic := range s.topics {
		args[i] = topic
	}
	if err := s.send(connCtx, conn, command{Op: "subscribe", Args: args}); err != nil {
		return err
	}
	s.readyOnce.Do(func() { close(s.ready) })

	go s.pingLoop(connCtx, conn)
	return s.readLoop(connCtx, conn)
}

func (s *Stream) send(ctx context.Context, conn *websocket.Conn, cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cmd.Op, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return errs.New("bitmex/stream", errs.CodeNetwork,
			errs.WithMessage("write "+cmd.Op), errs.WithCause(err))
	}
	return nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return errs.New("bitmex/stream", errs.CodeNetwork, errs.WithMessage("read"), errs.WithCause(err))
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.metrics.recordMessage()
		if err := s.sink.Publish(data); err != nil {
			return err
		}
	}
}

// pingLoop closes the connection when the peer stops answering pings.
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				s.logger.Printf("warn: ping failed, dropping connection: %v", err)
				_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (s *Stream) setConn(conn *websocket.Conn, session string) {
	s.connMu.Lock()
	s.conn = conn
	s.session = session
	s.connMu.Unlock()
}

// Drop closes the current connection; Run reconnects after the usual backoff.
func (s *Stream) Drop() {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	}
}

// Package bus carries raw transport messages from the stream goroutine to the single
// consumer goroutine that applies them.
package bus

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/telemetry"
)

// Message is one raw frame as received from the transport.
type Message struct {
	Payload  []byte
	Received time.Time
}

// Config tunes queue diagnostics.
type Config struct {
	// WarnBacklog logs a warning whenever the backlog reaches a new multiple of this size.
	// Zero disables the warning.
	WarnBacklog int
	Logger      *log.Logger
}

// Queue is an unbounded FIFO. Publish never blocks; exactly one goroutine may Run.
type Queue struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	items  []Message
	closed bool
	signal chan struct{}
	warned int

	published metric.Int64Counter
	consumed  metric.Int64Counter
	backlog   metric.Int64ObservableGauge
}

// NewQueue constructs an empty queue.
func NewQueue(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "bus ", log.LstdFlags|log.Lmicroseconds)
	}
	q := &Queue{
		cfg:    cfg,
		logger: logger,
		signal: make(chan struct{}, 1),
	}

	meter := otel.Meter("bus")
	env := telemetry.Environment()
	q.published, _ = meter.Int64Counter("bus.messages.published",
		metric.WithDescription("Messages accepted by the queue"),
		metric.WithUnit("{message}"))
	q.consumed, _ = meter.Int64Counter("bus.messages.consumed",
		metric.WithDescription("Messages handed to the consumer"),
		metric.WithUnit("{message}"))
	q.backlog, _ = meter.Int64ObservableGauge("bus.backlog",
		metric.WithDescription("Messages waiting for the consumer"),
		metric.WithUnit("{message}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(q.Len()), metric.WithAttributes(telemetry.AttrEnvironment.String(env)))
			return nil
		}))
	return q
}

// Publish appends payload. It fails with CodeClosed once Close has been called.
func (q *Queue) Publish(payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errs.New("bus/publish", errs.CodeClosed, errs.WithMessage("queue closed"))
	}
	q.items = append(q.items, Message{Payload: payload, Received: time.Now()})
	depth := len(q.items)
	warn := q.cfg.WarnBacklog > 0 && depth >= q.cfg.WarnBacklog && depth/q.cfg.WarnBacklog > q.warned
	if warn {
		q.warned = depth / q.cfg.WarnBacklog
	}
	q.mu.Unlock()

	if warn {
		q.logger.Printf("warn: consumer lagging, %d messages queued", depth)
	}
	if q.published != nil {
		q.published.Add(context.Background(), 1)
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Len reports the backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops intake. Run returns once the remaining backlog is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Run hands messages to handler in publish order until the queue is closed and drained,
// ctx is done, or handler fails. Pending messages are discarded on cancellation.
func (q *Queue) Run(ctx context.Context, handler func(Message) error) error {
	for {
		batch, closed := q.take()
		for _, msg := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if q.consumed != nil {
				q.consumed.Add(ctx, 1)
			}
			if err := handler(msg); err != nil {
				return err
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) take() ([]Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = nil
	if len(batch) == 0 && q.warned > 0 {
		q.warned = 0
	}
	return batch, q.closed
}

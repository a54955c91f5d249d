// Package dispatcher decodes inbound frames and routes their rows to the stores that
// own each table.
package dispatcher

import (
	"context"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/balance"
	"github.com/coachpo/bookkeeper/internal/book"
	"github.com/coachpo/bookkeeper/internal/schema"
	"github.com/coachpo/bookkeeper/internal/snapshot"
	"github.com/coachpo/bookkeeper/internal/telemetry"
)

const loggerPrefix = "dispatcher "

// Router applies frames to the book registry, the balance aggregator and the keyed
// snapshot store. It must be driven by a single goroutine.
type Router struct {
	routes   *Table
	books    *book.Registry
	balances *balance.Aggregator
	store    *snapshot.Store
	partials map[string]struct{}
	logger   *log.Logger
	metrics  *routerMetrics
}

// NewRouter wires the default routes: order-book tables to books, wallet and position to
// balances. Every other table falls through to store.
func NewRouter(books *book.Registry, balances *balance.Aggregator, store *snapshot.Store, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	}
	r := &Router{
		routes:   NewTable(),
		books:    books,
		balances: balances,
		store:    store,
		partials: make(map[string]struct{}),
		logger:   logger,
		metrics:  newRouterMetrics(),
	}
	for _, name := range []string{schema.TableOrderBookL2, schema.TableOrderBookL225} {
		_ = r.routes.Upsert(Route{Table: name, Handler: r.applyBook, Mirror: true})
	}
	_ = r.routes.Upsert(Route{Table: schema.TableWallet, Handler: r.applyWallet, Mirror: true})
	_ = r.routes.Upsert(Route{Table: schema.TablePosition, Handler: r.applyPosition, Mirror: true})
	return r
}

// Routes exposes the routing table so callers can register extra tables.
func (r *Router) Routes() *Table {
	return r.routes
}

// Dispatch decodes raw and applies it. Only an undecodable envelope is returned as an
// error; data-quality problems are logged and never abort the caller.
func (r *Router) Dispatch(raw []byte) error {
	start := time.Now()
	frame, err := schema.DecodeFrame(raw)
	if err != nil {
		r.metrics.recordDecodeError()
		return err
	}

	switch kind := frame.Kind(); kind {
	case schema.KindSubscribe:
		r.logger.Printf("subscribed: %s", frame.SubscribeText())
	case schema.KindError:
		r.logger.Printf("error: exchange status=%d: %s", frame.Status, frame.ErrorText())
	case schema.KindInfo:
		r.logger.Printf("info: %s", frame.Info)
	case schema.KindAck:
		r.logger.Printf("ack: success=%t request=%s", *frame.Success, string(frame.Request))
	case schema.KindData:
		r.applyData(frame)
		r.metrics.recordFrame(frame.Table, string(frame.Action), time.Since(start))
	default:
		r.metrics.recordIgnored()
	}
	return nil
}

func (r *Router) applyData(frame *schema.Frame) {
	if err := frame.Action.Validate(); err != nil {
		r.logger.Printf("error: table %s: %v", frame.Table, err)
		return
	}
	route, ok := r.routes.Lookup(frame.Table)
	if !ok {
		r.applyStore(frame, true)
		return
	}
	if frame.Action == schema.ActionPartial {
		r.partials[frame.Table] = struct{}{}
	} else if _, seen := r.partials[frame.Table]; !seen {
		r.logger.Printf("error: table %s %s: %v", frame.Table, frame.Action, errs.New("dispatcher/apply", errs.CodeUnknownSchema,
			errs.WithMessage("rows arrived before partial"),
			errs.WithField("table", frame.Table),
			errs.WithField("action", string(frame.Action))))
		r.metrics.recordRows(frame.Table, 0, len(frame.Data))
		return
	}
	if err := route.Handler(frame); err != nil {
		r.logger.Printf("error: table %s %s: %v", frame.Table, frame.Action, err)
	}
	if route.Mirror {
		r.applyStore(frame, false)
	}
}

func (r *Router) applyBook(frame *schema.Frame) error {
	rows, failures := schema.DecodeOrderBookRows(frame.Table, frame.Data)
	r.logRowErrors(frame.Table, failures)
	if symbol := scopedSymbol(frame); symbol != "" {
		if b, ok := r.books.Book(symbol); ok {
			b.Reset()
		}
	}
	res := r.books.Apply(frame.Action, rows)
	r.metrics.recordRows(frame.Table, res.Applied, res.Ignored+len(failures))
	return nil
}

func (r *Router) applyWallet(frame *schema.Frame) error {
	rows, failures := schema.DecodeWalletRows(frame.Data)
	r.logRowErrors(frame.Table, failures)
	r.balances.ApplyWallet(frame.Action, rows)
	r.metrics.recordRows(frame.Table, len(rows), len(failures))
	return nil
}

func (r *Router) applyPosition(frame *schema.Frame) error {
	rows, failures := schema.DecodePositionRows(frame.Data)
	r.logRowErrors(frame.Table, failures)
	if symbol := scopedSymbol(frame); symbol != "" {
		r.balances.ApplyPosition(schema.ActionDelete, []schema.PositionRow{{Symbol: symbol}})
	}
	r.balances.ApplyPosition(frame.Action, rows)
	r.metrics.recordRows(frame.Table, len(rows), len(failures))
	return nil
}

// scopedSymbol names the instrument a partial was filtered to, so an empty partial for one
// symbol still clears it.
func scopedSymbol(frame *schema.Frame) string {
	if frame.Action != schema.ActionPartial {
		return ""
	}
	return frame.Scope()["symbol"]
}

// applyStore writes the frame's generic rows to the keyed store. Primary marks the store
// as the owner of the table, in which case row failures are reported and counted.
func (r *Router) applyStore(frame *schema.Frame, primary bool) {
	rows, failures := schema.DecodeRows(frame.Table, frame.Data)
	res, err := r.store.ApplyScoped(frame.Table, frame.Action, frame.Keys, frame.Scope(), rows)
	if !primary {
		return
	}
	r.logRowErrors(frame.Table, failures)
	if err != nil {
		r.logger.Printf("error: table %s %s: %v", frame.Table, frame.Action, err)
	}
	r.metrics.recordRows(frame.Table, res.Applied, res.Dropped+len(failures))
}

func (r *Router) logRowErrors(table string, failures []error) {
	for _, err := range failures {
		r.logger.Printf("error: table %s: %v", table, err)
	}
}

type routerMetrics struct {
	environment string

	frames       metric.Int64Counter
	rows         metric.Int64Counter
	decodeErrors metric.Int64Counter
	ignored      metric.Int64Counter
	duration     metric.Float64Histogram
}

func newRouterMetrics() *routerMetrics {
	meter := otel.Meter("dispatcher")
	m := &routerMetrics{environment: telemetry.Environment()}
	m.frames, _ = meter.Int64Counter("dispatcher.frames",
		metric.WithDescription("Data frames applied by the router"),
		metric.WithUnit("{frame}"))
	m.rows, _ = meter.Int64Counter("dispatcher.rows",
		metric.WithDescription("Rows applied or dropped by the router"),
		metric.WithUnit("{row}"))
	m.decodeErrors, _ = meter.Int64Counter("dispatcher.decode.errors",
		metric.WithDescription("Messages whose envelope could not be decoded"),
		metric.WithUnit("{message}"))
	m.ignored, _ = meter.Int64Counter("dispatcher.frames.ignored",
		metric.WithDescription("Frames with neither a table nor a control key"),
		metric.WithUnit("{frame}"))
	m.duration, _ = meter.Float64Histogram("dispatcher.frame.duration",
		metric.WithDescription("Time to decode and apply one data frame"),
		metric.WithUnit("ms"))
	return m
}

func (m *routerMetrics) recordFrame(table, action string, elapsed time.Duration) {
	if m == nil || m.frames == nil {
		return
	}
	attrs := metric.WithAttributes(telemetry.FrameAttributes(m.environment, table, action)...)
	m.frames.Add(context.Background(), 1, attrs)
	m.duration.Record(context.Background(), float64(elapsed.Microseconds())/1000, attrs)
}

func (m *routerMetrics) recordRows(table string, applied, dropped int) {
	if m == nil || m.rows == nil {
		return
	}
	if applied > 0 {
		m.rows.Add(context.Background(), int64(applied),
			metric.WithAttributes(telemetry.RowAttributes(m.environment, table, telemetry.ResultApplied)...))
	}
	if dropped > 0 {
		m.rows.Add(context.Background(), int64(dropped),
			metric.WithAttributes(telemetry.RowAttributes(m.environment, table, telemetry.ResultDropped)...))
	}
}

func (m *routerMetrics) recordDecodeError() {
	if m == nil || m.decodeErrors == nil {
		return
	}
	m.decodeErrors.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.AttrEnvironment.String(m.environment)))
}

func (m *routerMetrics) recordIgnored() {
	if m == nil || m.ignored == nil {
		return
	}
	m.ignored.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.AttrEnvironment.String(m.environment)))
}

package dispatcher

import (
	"sort"
	"strings"
	"sync"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/schema"
)

// Handler applies one decoded data frame.
type Handler func(frame *schema.Frame) error

// Route binds a table name to the handler that owns its state.
type Route struct {
	Table   string
	Handler Handler
	// Mirror also writes the frame's raw rows into the keyed snapshot store.
	Mirror bool
}

// Validate ensures the route definition is well-formed.
func (r Route) Validate() error {
	if strings.TrimSpace(r.Table) == "" {
		return errs.New("dispatcher/route", errs.CodeInvalid, errs.WithMessage("table required"))
	}
	if r.Handler == nil {
		return errs.New("dispatcher/route", errs.CodeInvalid,
			errs.WithMessage("handler required"), errs.WithField("table", r.Table))
	}
	return nil
}

// Table stores routes keyed by table name.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewTable constructs an empty dispatch table.
func NewTable() *Table {
	return &Table{routes: make(map[string]Route)}
}

// Upsert inserts or replaces the provided route.
func (t *Table) Upsert(route Route) error {
	if err := route.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.routes[route.Table] = route
	t.mu.Unlock()
	return nil
}

// Remove deletes the route if present.
func (t *Table) Remove(table string) {
	t.mu.Lock()
	delete(t.routes, table)
	t.mu.Unlock()
}

// Lookup returns the route if present.
func (t *Table) Lookup(table string) (Route, bool) {
	t.mu.RLock()
	route, ok := t.routes[table]
	t.mu.RUnlock()
	return route, ok
}

// Tables lists routed table names, sorted.
func (t *Table) Tables() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.routes))
	for name := range t.routes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Package snapshot reconstructs arbitrary tables from partial/insert/update/delete frames,
// addressing rows by the key fields each table declares in its first partial.
package snapshot

import (
	"log"
	"os"
	"slices"
	"sort"

	"github.com/coachpo/bookkeeper/errs"
	"github.com/coachpo/bookkeeper/internal/schema"
)

const loggerPrefix = "snapshot "

// ApplyResult counts what happened to the rows of one frame.
type ApplyResult struct {
	Applied int
	Dropped int
}

type table struct {
	keys []string
	rows map[Key]schema.Row
}

// Store keeps one keyed row set per table. It is not safe for concurrent use.
type Store struct {
	tables map[string]*table
	logger *log.Logger
}

// NewStore constructs an empty store.
func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	}
	return &Store{
		tables: make(map[string]*table),
		logger: logger,
	}
}

// Apply mutates table name. A partial records the declared key fields and replaces the
// table's rows. Other actions before any partial fail with CodeUnknownSchema and leave the
// store untouched. Rows whose key cannot be built are logged and dropped individually.
func (s *Store) Apply(name string, action schema.Action, keys []string, rows []schema.Row) (ApplyResult, error) {
	return s.ApplyScoped(name, action, keys, nil, rows)
}

// ApplyScoped is Apply for a partial sent for a filtered subscription. When scope is set and
// the table already exists with the same key fields, the partial replaces only the rows whose
// fields equal every scope entry and keeps the rest. Other actions ignore scope.
func (s *Store) ApplyScoped(name string, action schema.Action, keys []string, scope map[string]string, rows []schema.Row) (ApplyResult, error) {
	if err := action.Validate(); err != nil {
		return ApplyResult{Dropped: len(rows)}, err
	}
	t, known := s.tables[name]
	if action == schema.ActionPartial {
		if len(keys) > MaxKeyFields {
			return ApplyResult{Dropped: len(rows)}, errs.New("snapshot/apply", errs.CodeInvalid,
				errs.WithMessage("too many key fields"), errs.WithField("table", name))
		}
		if len(keys) == 0 {
			s.logger.Printf("warn: table %s declares no key fields, rows collapse to one entry", name)
		}
		if known && len(scope) > 0 && slices.Equal(t.keys, keys) {
			t.evict(scope)
		} else {
			t = &table{keys: slices.Clone(keys), rows: make(map[Key]schema.Row, len(rows))}
			s.tables[name] = t
		}
	} else if !known {
		return ApplyResult{Dropped: len(rows)}, errs.New("snapshot/apply", errs.CodeUnknownSchema,
			errs.WithMessage("rows arrived before partial"),
			errs.WithField("table", name),
			errs.WithField("action", string(action)))
	}

	var result ApplyResult
	for _, row := range rows {
		key, err := t.keyOf(row)
		if err != nil {
			s.logger.Printf("error: table %s %s: %v", name, action, err)
			result.Dropped++
			continue
		}
		switch action {
		case schema.ActionPartial, schema.ActionInsert:
			t.rows[key] = row
		case schema.ActionUpdate:
			if existing, ok := t.rows[key]; ok {
				existing.Merge(row)
			} else {
				t.rows[key] = row
			}
		case schema.ActionDelete:
			delete(t.rows, key)
		}
		result.Applied++
	}
	return result, nil
}

func (t *table) evict(scope map[string]string) {
	for key, row := range t.rows {
		if row.Matches(scope) {
			delete(t.rows, key)
		}
	}
}

func (t *table) keyOf(row schema.Row) (Key, error) {
	values := make([]any, len(t.keys))
	for i, field := range t.keys {
		v, ok := row[field]
		if !ok {
			return Key{}, errs.New("snapshot/key", errs.CodeInvalid,
				errs.WithMessage("row missing key field"), errs.WithField("field", field))
		}
		values[i] = v
	}
	return KeyOf(values...)
}

// HasSchema reports whether table name has received its partial.
func (s *Store) HasSchema(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// KeyFields returns the declared key fields of table name.
func (s *Store) KeyFields(name string) []string {
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	return slices.Clone(t.keys)
}

// Get returns a copy of the row stored under key.
func (s *Store) Get(name string, key Key) (schema.Row, bool) {
	t, ok := s.tables[name]
	if !ok {
		return nil, false
	}
	row, ok := t.rows[key]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Len returns the number of rows held for table name.
func (s *Store) Len(name string) int {
	t, ok := s.tables[name]
	if !ok {
		return 0
	}
	return len(t.rows)
}

// Range calls fn for every row of table name until fn returns false. Rows must not be
// modified by fn.
func (s *Store) Range(name string, fn func(Key, schema.Row) bool) {
	t, ok := s.tables[name]
	if !ok {
		return
	}
	for key, row := range t.rows {
		if !fn(key, row) {
			return
		}
	}
}

// Tables lists tables with a known schema, sorted.
func (s *Store) Tables() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reset forgets every table and schema.
func (s *Store) Reset() {
	clear(s.tables)
}

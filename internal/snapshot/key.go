package snapshot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/coachpo/bookkeeper/errs"
)

// MaxKeyFields bounds how many fields a table may declare as its key.
const MaxKeyFields = 8

// Key identifies a row by the typed values of its table's key fields, in declared order.
// Values keep their type, so ("1", "23") and ("12", "3") are distinct keys.
type Key struct {
	n    uint8
	vals [MaxKeyFields]any
}

// KeyOf builds a key from scalar values. Objects and arrays cannot be key values.
func KeyOf(values ...any) (Key, error) {
	var k Key
	if len(values) > MaxKeyFields {
		return Key{}, errs.New("snapshot/key", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("at most %d key fields supported", MaxKeyFields)),
			errs.WithField("fields", strconv.Itoa(len(values))))
	}
	for i, v := range values {
		switch v.(type) {
		case nil, string, bool, json.Number, float64, int, int64:
		default:
			return Key{}, errs.New("snapshot/key", errs.CodeInvalid,
				errs.WithMessage("key value must be a scalar"),
				errs.WithField("position", strconv.Itoa(i)),
				errs.WithField("type", fmt.Sprintf("%T", v)))
		}
		k.vals[i] = v
	}
	k.n = uint8(len(values))
	return k, nil
}

// MustKey is KeyOf for literals known to be valid.
func MustKey(values ...any) Key {
	k, err := KeyOf(values...)
	if err != nil {
		panic(err)
	}
	return k
}

// Len returns the number of key values.
func (k Key) Len() int {
	return int(k.n)
}

// Values returns the key values in declared order.
func (k Key) Values() []any {
	out := make([]any, k.n)
	copy(out, k.vals[:k.n])
	return out
}

func (k Key) String() string {
	parts := make([]string, 0, k.n)
	for _, v := range k.vals[:k.n] {
		if s, ok := v.(string); ok {
			parts = append(parts, strconv.Quote(s))
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

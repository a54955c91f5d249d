package schema

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/coachpo/bookkeeper/errs"
)

// Kind classifies a decoded websocket frame.
type Kind int

const (
	// KindUnknown marks frames with neither a table nor a recognised control key.
	KindUnknown Kind = iota
	// KindSubscribe marks a subscription acknowledgement.
	KindSubscribe
	// KindError marks an exchange error notice.
	KindError
	// KindInfo marks the greeting sent when a connection opens.
	KindInfo
	// KindAck marks a generic success acknowledgement (authentication, unsubscribe).
	KindAck
	// KindData marks a table data frame.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindSubscribe:
		return "subscribe"
	case KindError:
		return "error"
	case KindInfo:
		return "info"
	case KindAck:
		return "ack"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Frame is one decoded envelope from the realtime stream.
type Frame struct {
	Table  string            `json:"table"`
	Action Action            `json:"action"`
	Keys   []string          `json:"keys"`
	Data   []json.RawMessage `json:"data"`
	Filter map[string]any    `json:"filter"`

	Subscribe json.RawMessage `json:"subscribe"`
	Error     json.RawMessage `json:"error"`
	Status    int             `json:"status"`
	Info      string          `json:"info"`
	Success   *bool           `json:"success"`
	Request   json.RawMessage `json:"request"`
}

// Kind reports which class of frame f is.
func (f *Frame) Kind() Kind {
	switch {
	case len(f.Subscribe) > 0:
		return KindSubscribe
	case len(f.Error) > 0:
		return KindError
	case f.Table != "":
		return KindData
	case f.Info != "":
		return KindInfo
	case f.Success != nil:
		return KindAck
	default:
		return KindUnknown
	}
}

// Scope returns the string-valued fields of the subscription filter a partial was sent
// for, such as {"symbol": "XBTUSD"} for a per-instrument topic. Numeric filter fields
// are left out.
func (f *Frame) Scope() map[string]string {
	var scope map[string]string
	for field, value := range f.Filter {
		text, ok := value.(string)
		if !ok || text == "" {
			continue
		}
		if scope == nil {
			scope = make(map[string]string, len(f.Filter))
		}
		scope[field] = text
	}
	return scope
}

// ErrorText returns the error notice as plain text when it was sent as a JSON string.
func (f *Frame) ErrorText() string {
	return rawText(f.Error)
}

// SubscribeText returns the acknowledged subscription as plain text.
func (f *Frame) SubscribeText() string {
	return rawText(f.Subscribe)
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// DecodeFrame parses one transport message into a Frame.
func DecodeFrame(raw []byte) (*Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errs.New("schema/frame", errs.CodeDecode, errs.WithMessage("empty message"))
	}
	frame := new(Frame)
	if err := json.Unmarshal(trimmed, frame); err != nil {
		return nil, errs.New("schema/frame", errs.CodeDecode, errs.WithMessage("decode envelope"), errs.WithCause(err))
	}
	return frame, nil
}

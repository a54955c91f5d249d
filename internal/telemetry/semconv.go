package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by the service's instruments.
const (
	AttrEnvironment = attribute.Key("environment")

	// Frame attributes
	AttrTable  = attribute.Key("table")
	AttrAction = attribute.Key("action")
	AttrKind   = attribute.Key("frame.kind")

	// Book attributes
	AttrSymbol = attribute.Key("symbol")
	AttrSide   = attribute.Key("side")

	// Outcome attributes
	AttrResult    = attribute.Key("result")
	AttrErrorCode = attribute.Key("error.code")

	// Transport attributes
	AttrEndpoint        = attribute.Key("endpoint")
	AttrMethod          = attribute.Key("http.method")
	AttrConnectionState = attribute.Key("connection.state")
)

// Result values
const (
	ResultApplied = "applied"
	ResultIgnored = "ignored"
	ResultDropped = "dropped"
	ResultError   = "error"
)

// FrameAttributes returns attributes for per-frame metrics.
func FrameAttributes(environment, table, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrTable.String(table),
		AttrAction.String(action),
	}
}

// RowAttributes returns attributes for per-row outcome metrics.
func RowAttributes(environment, table, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrTable.String(table),
		AttrResult.String(result),
	}
}

// RequestAttributes returns attributes for REST request metrics.
func RequestAttributes(environment, method, endpoint, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrMethod.String(method),
		AttrEndpoint.String(endpoint),
		AttrResult.String(result),
	}
}

// ConnectionAttributes returns attributes for websocket lifecycle metrics.
func ConnectionAttributes(environment, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrConnectionState.String(state),
	}
}

// Package bitmex connects the bookkeeper to the exchange: a realtime websocket stream that
// feeds the inbound queue and a signed REST client for account queries and orders.
package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/coachpo/bookkeeper/internal/config"
)

// Authentication headers understood by the REST API.
const (
	HeaderAPIKey       = "api-key"
	HeaderAPIExpires   = "api-expires"
	HeaderAPISignature = "api-signature"
)

// realtimePath is the path signed when authenticating the websocket.
const realtimePath = "/realtime"

// Sign returns the hex HMAC-SHA256 of verb, path, query, expires and body concatenated.
// Query includes its leading '?' when present.
func Sign(secret, verb, path, query string, expires int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(verb + path + query + strconv.FormatInt(expires, 10) + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signer signs requests with one credential pair.
type Signer struct {
	creds config.Credentials
	ttl   time.Duration
	clock func() time.Time
}

// NewSigner builds a signer whose signatures stay valid for ttl.
func NewSigner(creds config.Credentials, ttl time.Duration, clock func() time.Time) *Signer {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &Signer{creds: creds, ttl: ttl, clock: clock}
}

// Enabled reports whether credentials are configured.
func (s *Signer) Enabled() bool {
	return s != nil && s.creds.Authenticated()
}

// Expires returns the unix second at which a signature made now lapses.
func (s *Signer) Expires() int64 {
	return s.clock().Add(s.ttl).Unix()
}

// Apply sets the authentication headers on h.
func (s *Signer) Apply(h http.Header, verb, path, query, body string) {
	expires := s.Expires()
	h.Set(HeaderAPIExpires, strconv.FormatInt(expires, 10))
	h.Set(HeaderAPIKey, s.creds.APIKey)
	h.Set(HeaderAPISignature, Sign(s.creds.APISecret, verb, path, query, expires, body))
}

// AuthArgs returns the arguments of the websocket authKeyExpires command.
func (s *Signer) AuthArgs() []any {
	expires := s.Expires()
	return []any{s.creds.APIKey, expires, Sign(s.creds.APISecret, http.MethodGet, realtimePath, "", expires, "")}
}

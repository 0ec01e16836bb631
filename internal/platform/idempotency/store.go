// Package idempotency lets clients retry order submission safely. A request carrying an
// Idempotency-Key claims the key; once the handler answers, the response is kept for the TTL and
// replayed to retries that send the same request again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a finished response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused reports a key presented again with a different request.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Outcome tells the middleware what to do after Claim.
type Outcome int

const (
	// OutcomeFresh means the caller now owns the key and must run the request.
	OutcomeFresh Outcome = iota
	// OutcomeReplay means a finished response is available in Claim.Response.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key and has not answered yet.
	OutcomeInFlight
)

// Response is the stored answer to a request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Claim struct {
	Outcome  Outcome
	Response Response
}

// Store keeps one entry per scoped key.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// entry is what both store implementations persist.
type entry struct {
	Fingerprint string
	Done        bool
	Response    Response
	ClaimedAt   time.Time
	ExpiresAt   time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// decide resolves a claim against the current entry, nil when absent. take reports whether the
// caller should write a fresh pending entry.
func decide(current *entry, fingerprint string, now time.Time) (claim Claim, take bool, err error) {
	if current == nil || current.expired(now) {
		return Claim{Outcome: OutcomeFresh}, true, nil
	}
	if current.Fingerprint != fingerprint {
		return Claim{}, false, ErrKeyReused
	}
	if current.Done {
		return Claim{Outcome: OutcomeReplay, Response: current.Response}, false, nil
	}
	return Claim{Outcome: OutcomeInFlight}, false, nil
}

func pending(fingerprint string, now time.Time, ttl time.Duration) entry {
	return entry{Fingerprint: fingerprint, ClaimedAt: now, ExpiresAt: now.Add(ttlOrDefault(ttl))}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// replayHeaders are the response headers worth replaying; hop-by-hop and per-response headers
// such as Date are regenerated.
var replayHeaders = []string{"Content-Type", "Location", "Cache-Control"}

func keepHeaders(src http.Header) http.Header {
	out := make(http.Header)
	for _, name := range replayHeaders {
		if values := src.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

func digest(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

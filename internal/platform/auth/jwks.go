package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// keySnapshot is one fetched key set. It is replaced wholesale on refresh.
type keySnapshot struct {
	keys       map[string]any
	expiresAt  time.Time
	prefetchAt time.Time
}

// JWKSCache holds the signing keys published at a JWKS URL. A key set lives for the response's
// Cache-Control max-age, or the refresh interval without one; after half of that a lookup
// triggers a background refetch. Concurrent refreshes collapse into one request.
type JWKSCache struct {
	url        string
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
	ttl        time.Duration
	timeout    time.Duration
	background bool

	current     atomic.Pointer[keySnapshot]
	fetches     singleflight.Group
	prefetching atomic.Bool
}

// JWKSOption configures NewJWKSCache.
type JWKSOption func(*JWKSCache)

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
		now:        time.Now,
		ttl:        15 * time.Minute,
		timeout:    5 * time.Second,
		background: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSRefreshInterval sets the key set lifetime used when the response carries no max-age.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutJWKSBackgroundRefresh only refetches once the key set has expired.
func WithoutJWKSBackgroundRefresh() JWKSOption {
	return func(c *JWKSCache) { c.background = false }
}

// Keyfunc adapts the cache to jwt parsing. Tokens must be RS256 and name a kid.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid. An unknown kid forces one refetch, since issuers rotate keys
// before the old set expires.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	snap := c.current.Load()
	if snap == nil || !now.Before(snap.expiresAt) {
		var err error
		if snap, err = c.refresh(ctx); err != nil {
			return nil, err
		}
	} else if c.background && !now.Before(snap.prefetchAt) && c.prefetching.CompareAndSwap(false, true) {
		go c.prefetch()
	}

	if key, ok := snap.keys[kid]; ok {
		return key, nil
	}
	snap, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := snap.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) prefetch() {
	defer c.prefetching.Store(false)
	if _, err := c.refresh(context.Background()); err != nil {
		c.logger.Warn("jwks prefetch failed", zap.String("url", c.url), zap.Error(err))
	}
}

func (c *JWKSCache) refresh(ctx context.Context) (*keySnapshot, error) {
	v, err, _ := c.fetches.Do("jwks", func() (any, error) {
		snap, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.current.Store(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySnapshot), nil
}

func (c *JWKSCache) fetch(ctx context.Context) (*keySnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk.Key
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable keys", ErrJWKSFetchFailed)
	}

	ttl := c.ttl
	if maxAge, ok := maxAge(resp.Header.Values("Cache-Control")); ok {
		ttl = maxAge
	}
	now := c.now()
	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return &keySnapshot{keys: keys, expiresAt: now.Add(ttl), prefetchAt: now.Add(ttl / 2)}, nil
}

func maxAge(headers []string) (time.Duration, bool) {
	for _, header := range headers {
		for _, directive := range strings.Split(header, ",") {
			name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
			if !ok || !strings.EqualFold(name, "max-age") {
				continue
			}
			if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second, true
			}
		}
	}
	return 0, false
}

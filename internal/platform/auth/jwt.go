package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

// JWTVerifier implements TokenVerifier for RS256 tokens of an external identity provider whose
// signing keys are published as a JWKS document.
type JWTVerifier struct {
	cache    *JWKSCache
	audience string
	issuers  []string
	metrics  MetricsRecorder
	now      func() time.Time
}

var _ TokenVerifier = (*JWTVerifier)(nil)

// JWTOption customises the verifier.
type JWTOption func(*JWTVerifier)

// WithJWTMetrics sets the metrics recorder.
func WithJWTMetrics(recorder MetricsRecorder) JWTOption {
	return func(v *JWTVerifier) {
		v.metrics = recorder
	}
}

// WithJWTClock injects a custom clock used for expiry checks and metric durations.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewJWTVerifier constructs a verifier accepting tokens for audience signed by one of issuers.
func NewJWTVerifier(cache *JWKSCache, audience string, issuers []string, opts ...JWTOption) (*JWTVerifier, error) {
	if cache == nil {
		return nil, errors.New("jwt verifier: jwks cache is required")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("jwt verifier: audience is required")
	}
	allowed := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed = append(allowed, issuer)
		}
	}
	v := &JWTVerifier{
		cache:    cache,
		audience: audience,
		issuers:  allowed,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (VerifiedToken, error) {
	start := v.now()

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(rawToken, claims, v.cache.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.record(ctx, false, "jwks_unavailable", start)
			return VerifiedToken{}, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		v.record(ctx, false, "token_invalid", start)
		return VerifiedToken{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		v.record(ctx, false, "token_expired", start)
		return VerifiedToken{}, ErrTokenExpired
	}
	if !claims.VerifyIssuedAt(now, false) || !claims.VerifyNotBefore(now, false) {
		v.record(ctx, false, "token_not_yet_valid", start)
		return VerifiedToken{}, fmt.Errorf("%w: token used before issued", ErrTokenInvalid)
	}

	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 && !slices.Contains(v.issuers, issuer) {
		v.record(ctx, false, "issuer_mismatch", start)
		return VerifiedToken{}, fmt.Errorf("%w: issuer %q not accepted", ErrTokenInvalid, issuer)
	}
	if !claims.VerifyAudience(v.audience, true) {
		v.record(ctx, false, "audience_mismatch", start)
		return VerifiedToken{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject, _ := claims["sub"].(string)
	if strings.TrimSpace(subject) == "" {
		v.record(ctx, false, "subject_missing", start)
		return VerifiedToken{}, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}

	v.record(ctx, true, "ok", start)
	out := make(map[string]any, len(claims))
	for key, value := range claims {
		out[key] = value
	}
	return VerifiedToken{Subject: subject, Issuer: issuer, Claims: out}, nil
}

func (v *JWTVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "jwt", success, reason, v.now().Sub(start))
}

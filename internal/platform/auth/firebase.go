package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/tableorder/api/internal/platform/config"
)

// IDTokenVerifier is the part of the Firebase Admin auth client that checks ID tokens.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies staff Firebase ID tokens.
type FirebaseVerifier struct {
	client  IDTokenVerifier
	timeout time.Duration
}

var _ TokenVerifier = (*FirebaseVerifier)(nil)

// FirebaseOption customises a FirebaseVerifier.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout bounds each Admin SDK call.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID, using cfg.CredentialsFile when
// set and application default credentials otherwise.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var creds []option.ClientOption
	if cfg.CredentialsFile != "" {
		creds = []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, creds...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return NewFirebaseTokenVerifier(client, opts...), nil
}

// NewFirebaseTokenVerifier wraps an initialised client, typically a stub in tests.
func NewFirebaseTokenVerifier(client IDTokenVerifier, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{client: client, timeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify checks idToken with Firebase. Expired tokens map to ErrTokenExpired and every other
// rejection to ErrTokenInvalid.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (VerifiedToken, error) {
	if v == nil || v.client == nil {
		return VerifiedToken{}, fmt.Errorf("%w: firebase verifier not initialised", ErrVerifierUnavailable)
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return VerifiedToken{}, classifyFirebaseError(err)
	}
	if token == nil {
		return VerifiedToken{}, ErrTokenInvalid
	}
	return VerifiedToken{Subject: token.UID, Issuer: token.Issuer, Claims: token.Claims}, nil
}

func classifyFirebaseError(err error) error {
	switch {
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenInvalid):
		return err
	case firebaseauth.IsIDTokenExpired(err):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		// Revoked tokens and disabled users fall in here alongside malformed tokens.
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tableorder/api/internal/platform/config"
)

const (
	emulatorHostEnv = "FIRESTORE_EMULATOR_HOST"
	projectEnv      = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned by Client once Close has run.
var ErrProviderClosed = errors.New("firestore: provider closed")

// Provider owns the process-wide Firestore client. The client is dialled lazily so the API can
// start while Firestore is unreachable; /readyz reports it until Ping succeeds.
type Provider struct {
	settings    config.FirestoreConfig
	dialTimeout time.Duration
	extra       []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation. Non-positive values keep the ten second default.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions adds Google API client options such as a credentials file.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.extra = append(p.extra, opts...)
	}
}

// NewProvider prepares a provider for cfg without dialling.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{settings: cfg, dialTimeout: 10 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client. Callers racing on the first call share one dial; a failed dial
// is retried by the next caller.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	project, opts, err := p.target()
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial %s: %w", project, err)
	}
	p.client = client
	return client, nil
}

// target resolves the project and client options, switching to an unauthenticated plaintext
// connection when an emulator is configured.
func (p *Provider) target() (string, []option.ClientOption, error) {
	project := firstNonBlank(p.settings.ProjectID, os.Getenv(projectEnv))
	if project == "" {
		return "", nil, errors.New("firestore: no project id configured")
	}

	opts := append([]option.ClientOption(nil), p.extra...)
	host := firstNonBlank(p.settings.EmulatorHost, os.Getenv(emulatorHostEnv))
	if host == "" {
		return project, opts, nil
	}
	// The client library reads the emulator address from the environment only.
	if os.Getenv(emulatorHostEnv) == "" {
		_ = os.Setenv(emulatorHostEnv, host)
	}
	return project, append(opts,
		option.WithEndpoint(host),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	), nil
}

// Close releases the client and leaves the provider unusable. Repeated calls return nil.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunTransaction runs fn on the shared client with the configured attempt and timeout limits.
// Later opts take precedence.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	limits := []TxOption{WithTxAttempts(p.settings.TxAttempts), WithTxTimeout(p.settings.TxTimeout)}
	return RunTransaction(ctx, client, fn, append(limits, opts...)...)
}

// Ping reads a sentinel document. NotFound still proves the backend answers.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection("_health").Doc("ping").Get(ctx); err != nil && !IsNotFound(err) {
		return WrapError("firestore.ping", err)
	}
	return nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

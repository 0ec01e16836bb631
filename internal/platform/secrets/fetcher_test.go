package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubAccessor struct {
	mu       sync.Mutex
	accessFn func(name string) (string, error)
	calls    map[string]int
}

func (s *stubAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[req.GetName()]++
	s.mu.Unlock()

	value, err := s.accessFn(req.GetName())
	if err != nil {
		return nil, err
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (s *stubAccessor) Close() error { return nil }

func (s *stubAccessor) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func remoteValues(values map[string]string) *stubAccessor {
	return &stubAccessor{accessFn: func(name string) (string, error) {
		if v, ok := values[name]; ok {
			return v, nil
		}
		return "", status.Error(codes.NotFound, "no such secret")
	}}
}

func failingRemote(code codes.Code) *stubAccessor {
	return &stubAccessor{accessFn: func(string) (string, error) { return "", status.Error(code, "remote failure") }}
}

func writeLocal(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write local secrets: %v", err)
	}
	return path
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	f, err := NewFetcher(context.Background(), append([]Option{WithDefaultProject("orders-dev"), WithFallbackFile("")}, opts...)...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestResolveCachesRemoteValue(t *testing.T) {
	const name = "projects/orders-dev/secrets/postgres_dsn/versions/latest"
	remote := remoteValues(map[string]string{name: "postgres://remote"})
	f := newTestFetcher(t, WithSecretManagerClient(remote))

	for i := 0; i < 3; i++ {
		got, err := f.Resolve(context.Background(), "secret://postgres_dsn")
		if err != nil || got != "postgres://remote" {
			t.Fatalf("Resolve #%d = %q, %v", i, got, err)
		}
	}
	if n := remote.count(name); n != 1 {
		t.Fatalf("remote called %d times", n)
	}

	f.Invalidate("sm://postgres_dsn")
	if _, err := f.Resolve(context.Background(), "secret://postgres_dsn"); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if n := remote.count(name); n != 2 {
		t.Fatalf("expected a refetch after Invalidate, remote called %d times", n)
	}
}

func TestResolveVersionAndProjectSelection(t *testing.T) {
	remote := remoteValues(map[string]string{
		"projects/orders-dev/secrets/amqp_url/versions/7":           "pinned",
		"projects/orders-prod/secrets/amqp_url/versions/9":          "prod-pinned",
		"projects/orders-dev/secrets/amqp_url/versions/2":           "explicit",
		"projects/other/secrets/amqp_url/versions/latest":           "override",
		"projects/orders-prod/secrets/postgres_dsn/versions/latest": "mapped",
	})

	dev := newTestFetcher(t, WithSecretManagerClient(remote), WithVersionPins(map[string]string{
		"secret://amqp_url":      "7",
		"prod:secret://amqp_url": "9",
	}))
	prod := newTestFetcher(t, WithSecretManagerClient(remote), WithEnvironment("PROD"),
		WithProjectMap(map[string]string{"prod": "orders-prod"}),
		WithVersionPins(map[string]string{"secret://amqp_url": "7", "prod:secret://amqp_url": "9"}),
	)

	cases := []struct {
		f    *Fetcher
		ref  string
		want string
	}{
		{dev, "secret://amqp_url", "pinned"},
		{dev, "secret://amqp_url?version=2", "explicit"},
		{dev, "secret://amqp_url?project=other&version=latest", "override"},
		{prod, "secret://amqp_url", "prod-pinned"},
		{prod, "secret://postgres_dsn", "mapped"},
	}
	for _, tc := range cases {
		got, err := tc.f.Resolve(context.Background(), tc.ref)
		if err != nil || got != tc.want {
			t.Fatalf("Resolve(%s) = %q, %v; want %q", tc.ref, got, err, tc.want)
		}
	}
}

func TestResolveLocalFallback(t *testing.T) {
	path := writeLocal(t, "# dev secrets\nsecret://postgres_dsn=postgres://local?sslmode=disable\nsm://amqp_url#3=amqp://v3\n\nnot a line\n")

	cases := []struct {
		name    string
		remote  *stubAccessor
		ref     string
		want    string
		wantErr error
	}{
		{"unavailable falls back", failingRemote(codes.Unavailable), "secret://postgres_dsn", "postgres://local?sslmode=disable", nil},
		{"permission denied falls back", failingRemote(codes.PermissionDenied), "secret://postgres_dsn", "postgres://local?sslmode=disable", nil},
		{"versioned local entry", failingRemote(codes.Unauthenticated), "secret://amqp_url?version=3", "amqp://v3", nil},
		{"not found stays not found", remoteValues(nil), "secret://postgres_dsn", "", ErrNotFound},
		{"missing locally", failingRemote(codes.Unavailable), "secret://jwt_key", "", ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFetcher(t, WithSecretManagerClient(tc.remote), WithFallbackFile(path))
			got, err := f.Resolve(context.Background(), tc.ref)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Resolve = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestResolveDoesNotFallBackOnOtherErrors(t *testing.T) {
	path := writeLocal(t, "secret://postgres_dsn=local\n")
	f := newTestFetcher(t, WithSecretManagerClient(failingRemote(codes.InvalidArgument)), WithFallbackFile(path))
	_, err := f.Resolve(context.Background(), "secret://postgres_dsn")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewFetcherWithoutClientServesLocalFile(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	f, err := NewFetcher(context.Background(), WithDefaultProject("orders-dev"), WithFallbackFile(writeLocal(t, "secret://postgres_dsn=local-dsn\n")))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer f.Close()

	got, err := f.Resolve(context.Background(), "secret://postgres_dsn")
	if err != nil || got != "local-dsn" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestResolveSharesConcurrentFetches(t *testing.T) {
	release := make(chan struct{})
	remote := &stubAccessor{accessFn: func(string) (string, error) {
		<-release
		return "shared", nil
	}}
	f := newTestFetcher(t, WithSecretManagerClient(remote))

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = f.Resolve(context.Background(), "secret://jwt_key")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, got := range results {
		if got != "shared" {
			t.Fatalf("result %d = %q", i, got)
		}
	}
	if n := remote.count("projects/orders-dev/secrets/jwt_key/versions/latest"); n > 2 {
		t.Fatalf("expected shared fetches, remote called %d times", n)
	}
}

func TestLimitedRetryer(t *testing.T) {
	r := &limitedRetryer{
		next: gax.OnCodes([]codes.Code{codes.Unavailable}, gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond}),
		left: 2,
	}
	if _, ok := r.Retry(status.Error(codes.NotFound, "missing")); ok {
		t.Fatal("retried a non-retryable code")
	}
	unavailable := status.Error(codes.Unavailable, "down")
	for i := 0; i < 2; i++ {
		if _, ok := r.Retry(unavailable); !ok {
			t.Fatalf("retry %d refused", i+1)
		}
	}
	if _, ok := r.Retry(unavailable); ok {
		t.Fatal("retried past the limit")
	}
}

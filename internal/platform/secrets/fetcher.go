// Package secrets resolves secret:// references against Google Secret Manager, with a process
// cache and a local fallback file for development.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	instrumentationName = "github.com/tableorder/api/internal/platform/secrets"
	latestVersion       = "latest"

	sourceCache  = "cache"
	sourceRemote = "remote"
	sourceLocal  = "local"
	sourceError  = "error"
)

// ErrNotFound reports a secret that exists neither in Secret Manager nor in the local file.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type settings struct {
	logger         *zap.Logger
	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string
	localPath      string
	meter          metric.Meter
	client         accessor
	clientOpts     []option.ClientOption
}

// Option configures NewFetcher.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects the entry of the project map and of environment-scoped version pins.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is used when the environment has no project mapping.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment labels to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(s *settings) { s.projects = trimmedCopy(projects) }
}

// WithVersionPins pins versions by canonical reference, optionally prefixed with "env:".
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.pins = trimmedCopy(pins) }
}

// WithFallbackFile sets the local reference=value file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.localPath = strings.TrimSpace(path) }
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient supplies the client instead of dialling one. The fetcher does not close it.
func WithSecretManagerClient(client accessor) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions is passed to secretmanager.NewClient.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// Fetcher resolves secret references. It is safe for concurrent use; concurrent lookups of the
// same secret share one Secret Manager call.
type Fetcher struct {
	client      accessor
	closeClient bool
	logger      *zap.Logger

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string
	local          *localFile

	flight singleflight.Group
	mu     sync.RWMutex
	cache  map[string]cached

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cached struct {
	secret string
	value  string
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created the fetcher serves
// the local file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{env: "local", localPath: ".secrets.local"}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	f := &Fetcher{
		client:         s.client,
		logger:         s.logger,
		env:            s.env,
		defaultProject: s.defaultProject,
		projects:       s.projects,
		pins:           s.pins,
		local:          &localFile{path: s.localPath},
		cache:          make(map[string]cached),
	}

	var err error
	if f.latency, err = s.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolve latency by source"),
	); err != nil {
		f.logger.Warn("secrets latency metric disabled", zap.Error(err))
	}
	if f.cacheHits, err = s.meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolves served from the process cache"),
	); err != nil {
		f.logger.Warn("secrets cache metric disabled", zap.Error(err))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, serving local secrets only", zap.Error(err))
		} else {
			f.client = client
			f.closeClient = true
		}
	}
	return f, nil
}

// Close closes the Secret Manager client the fetcher created.
func (f *Fetcher) Close() error {
	if f.closeClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref. Remote permission or availability failures fall back to
// the local file; a remote NotFound does not.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := ParseRef(raw)
	if err != nil {
		return "", err
	}
	version := f.versionFor(ref)
	project := f.projectFor(ref)
	key := project + "/" + versionKey(ref.Canonical(), version)

	if value, ok := f.fromCache(key); ok {
		f.observe(ctx, started, sourceCache)
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", fingerprint(ref.Canonical()))))
		}
		return value, nil
	}

	type result struct{ value, source string }
	out, err, _ := f.flight.Do(key, func() (any, error) {
		value, source, err := f.fetch(ctx, ref, project, version)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[key] = cached{secret: ref.Secret, value: value}
		f.mu.Unlock()
		return result{value, source}, nil
	})
	if err != nil {
		f.observe(ctx, started, sourceError)
		return "", err
	}
	res := out.(result)
	f.observe(ctx, started, res.source)
	return res.value, nil
}

// Invalidate forgets every cached version of ref.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseRef(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.secret == ref.Secret {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) fetch(ctx context.Context, ref Ref, project, version string) (string, string, error) {
	if project != "" && f.client != nil {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.Secret, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, accessCallOptions()...)
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), sourceRemote, nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: %s returned no payload", name)
		case status.Code(err) == codes.NotFound:
			return "", "", fmt.Errorf("%w: %s: %v", ErrNotFound, ref.Canonical(), err)
		case !localFallbackAllowed(err):
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.Canonical(), err)
		}
		f.logger.Debug("secret manager failed, trying local file", zap.String("secret", ref.Canonical()), zap.Error(err))
	}

	value, ok, err := f.local.lookup(ref, version)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.Canonical())
	}
	return value, sourceLocal, nil
}

func (f *Fetcher) fromCache(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) projectFor(ref Ref) string {
	if ref.Project != "" {
		return ref.Project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) versionFor(ref Ref) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := f.pins[f.env+":"+ref.Canonical()]; pin != "" {
		return pin
	}
	if pin := f.pins[ref.Canonical()]; pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, started time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(started))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func localFallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// fingerprint keeps secret names out of metric labels.
func fingerprint(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func trimmedCopy(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

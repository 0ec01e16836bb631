package main

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/tableorder/api/internal/platform/config"
	"github.com/tableorder/api/internal/platform/secrets"
)

// envReader reads trimmed values from the merged environment map.
type envReader map[string]string

func (e envReader) get(key string) string { return strings.TrimSpace(e[key]) }

func (e envReader) first(keys ...string) string {
	for _, key := range keys {
		if v := e.get(key); v != "" {
			return v
		}
	}
	return ""
}

func (e envReader) environment() string {
	if env := strings.ToLower(e.get("API_SECURITY_ENVIRONMENT")); env != "" {
		return env
	}
	return "local"
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	e := envReader(env)
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithEnvironment(e.environment()),
		secrets.WithDefaultProject(e.first("API_SECRET_DEFAULT_PROJECT_ID", "API_FIREBASE_PROJECT_ID")),
		secrets.WithProjectMap(secretProjectMapFromEnv(env)),
		secrets.WithVersionPins(secretVersionPinsFromEnv(env)),
	}
	if path := e.get("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if creds := e.get("API_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve from Secret Manager. Development
// environments may carry plain credentials.
func requiredSecretNames(env map[string]string) []string {
	e := envReader(env)
	switch e.environment() {
	case "local", "dev", "test":
		return nil
	}
	required := []string{}
	if strings.EqualFold(e.get("API_STORAGE_DRIVER"), config.StorageDriverPostgres) {
		required = append(required, "Postgres.DSN")
	}
	if strings.EqualFold(e.get("API_EVENTS_DRIVER"), config.EventsDriverAMQP) {
		required = append(required, "Events.AMQPURL")
	}
	slices.Sort(required)
	return required
}

// secretProjectMapFromEnv reads API_SECRET_PROJECT_IDS, e.g. "prod=orders-prod,staging=orders-stg".
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := map[string]string{}
	for label, project := range pairs(env["API_SECRET_PROJECT_IDS"]) {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

// secretVersionPinsFromEnv reads API_SECRET_VERSION_PINS. An entry may be scoped to an environment
// ("prod:db/dsn=3") and may use either scheme or none.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := map[string]string{}
	for ref, version := range pairs(env["API_SECRET_VERSION_PINS"]) {
		var scope string
		if label, rest, ok := strings.Cut(ref, ":"); ok && !strings.HasPrefix(rest, "//") {
			scope, ref = strings.ToLower(strings.TrimSpace(label))+":", strings.TrimSpace(rest)
		}
		if parsed, err := secrets.ParseRef(withScheme(ref)); err == nil {
			pins[scope+parsed.Canonical()] = version
		}
	}
	return pins
}

func withScheme(ref string) string {
	if strings.Contains(ref, "://") {
		return ref
	}
	return "secret://" + ref
}

// pairs splits "k=v,k2=v2", dropping entries with an empty side.
func pairs(raw string) map[string]string {
	out := map[string]string{}
	for _, item := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(item, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

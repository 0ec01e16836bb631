package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// loadEnv runs Load against env only, ignoring the process environment and any dotenv file.
func loadEnv(env map[string]string, opts ...Option) (Config, error) {
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func writeDotEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func mapResolver(values map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := values[ref]; ok {
			return v, nil
		}
		return "", errors.New("no such secret")
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadEnv(map[string]string{"API_FIREBASE_PROJECT_ID": "orders-dev"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	server := ServerConfig{
		Port:            defaultPort,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	if cfg.Server != server {
		t.Errorf("server: got %+v want %+v", cfg.Server, server)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level: got %q", cfg.Logging.Level)
	}
	if cfg.Storage.Driver != StorageDriverFirestore || cfg.Events.Driver != EventsDriverNone {
		t.Errorf("drivers: storage %q events %q", cfg.Storage.Driver, cfg.Events.Driver)
	}
	if cfg.Firestore.ProjectID != "orders-dev" || cfg.Events.PubSubProjectID != "orders-dev" {
		t.Errorf("project inheritance: firestore %q pubsub %q", cfg.Firestore.ProjectID, cfg.Events.PubSubProjectID)
	}
	if cfg.Firestore.TxAttempts != 5 || cfg.Firestore.TxTimeout != 15*time.Second {
		t.Errorf("firestore tx limits: %+v", cfg.Firestore)
	}
	if cfg.Events.AMQPExchange != defaultAMQPExchange || cfg.Events.PubSubTopic != "order-events" {
		t.Errorf("events: %+v", cfg.Events)
	}
	if !cfg.Postgres.MigrateOnStart || cfg.Postgres.MaxConns != defaultPostgresMaxConns {
		t.Errorf("postgres: %+v", cfg.Postgres)
	}

	sec := cfg.Security
	if sec.Environment != "local" || sec.Provider != AuthProviderFirebase {
		t.Errorf("security: env %q provider %q", sec.Environment, sec.Provider)
	}
	if sec.RoleClaim != "role" || sec.TenantClaim != "tenants" {
		t.Errorf("claims: role %q tenants %q", sec.RoleClaim, sec.TenantClaim)
	}
	if sec.OIDC.JWKSURL != defaultOIDCJWKSURL || !slices.Equal(sec.OIDC.Issuers, []string{defaultSecurityIssuer}) {
		t.Errorf("oidc: %+v", sec.OIDC)
	}

	idem := IdempotencyConfig{
		Header:           defaultIdempotencyHeader,
		TTL:              defaultIdempotencyTTL,
		CleanupInterval:  time.Hour,
		CleanupBatchSize: defaultIdempotencyBatchSize,
	}
	if cfg.Idempotency != idem {
		t.Errorf("idempotency: got %+v want %+v", cfg.Idempotency, idem)
	}

	ordering := OrderingConfig{
		MaxSequenceAttempts:  5,
		DefaultListLimit:     50,
		MaxListLimit:         200,
		MaxLines:             50,
		MaxQuantity:          99,
		MaxCustomerNameRunes: 80,
		MaxCommentRunes:      500,
	}
	if cfg.Ordering != ordering {
		t.Errorf("ordering: got %+v want %+v", cfg.Ordering, ordering)
	}
}

func TestLoadOverridesResolveSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_SERVER_REQUEST_TIMEOUT":         "5s",
		"LOG_LEVEL":                          "DEBUG",
		"API_STORAGE_DRIVER":                 "Postgres",
		"API_POSTGRES_DSN":                   "secret://orders/postgres-dsn",
		"API_POSTGRES_MAX_CONNS":             "20",
		"API_POSTGRES_MIN_CONNS":             "2",
		"API_POSTGRES_MIGRATE_ON_START":      "off",
		"API_EVENTS_DRIVER":                  "amqp",
		"API_EVENTS_AMQP_URL":                "sm://orders/amqp-url",
		"API_EVENTS_AMQP_EXCHANGE":           "kitchen",
		"API_SECURITY_ENVIRONMENT":           "Prod",
		"API_SECURITY_PROVIDER":              "jwt",
		"API_SECURITY_TENANT_CLAIM":          "restaurants",
		"API_SECURITY_OIDC_AUDIENCES":        "PROD=https://orders.example.com, stg=https://orders-stg.example.com",
		"API_SECURITY_OIDC_ISSUERS":          "https://id.example.com, ,https://accounts.google.com",
		"API_SECURITY_OIDC_JWKS_URL":         "https://id.example.com/jwks.json",
		"API_IDEMPOTENCY_HEADER":             "X-Order-Key",
		"API_IDEMPOTENCY_TTL":                "48h",
		"API_ORDERING_MAX_SEQUENCE_ATTEMPTS": "8",
		"API_ORDERING_DEFAULT_LIST_LIMIT":    "25",
		"API_ORDERING_MAX_LIST_LIMIT":        "100",
		"API_ORDERING_MAX_COMMENT":           "300",
	}
	resolver := mapResolver(map[string]string{
		"secret://orders/postgres-dsn": "postgres://orders:pw@db/orders",
		"secret://orders/amqp-url":     "amqp://guest:guest@mq:5672/",
	})

	cfg, err := loadEnv(env, WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute || cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("server: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Storage.Driver != StorageDriverPostgres {
		t.Errorf("lower-casing: level %q driver %q", cfg.Logging.Level, cfg.Storage.Driver)
	}
	pg := cfg.Postgres
	if pg.DSN != "postgres://orders:pw@db/orders" || pg.MaxConns != 20 || pg.MinConns != 2 || pg.MigrateOnStart {
		t.Errorf("postgres: %+v", pg)
	}
	if cfg.Events.AMQPURL != "amqp://guest:guest@mq:5672/" || cfg.Events.AMQPExchange != "kitchen" {
		t.Errorf("events: %+v", cfg.Events)
	}
	oidc := cfg.Security.OIDC
	if oidc.Audience != "https://orders.example.com" {
		t.Errorf("audience picked for prod: %q", oidc.Audience)
	}
	if !slices.Equal(oidc.Issuers, []string{"https://id.example.com", "https://accounts.google.com"}) {
		t.Errorf("issuers: %v", oidc.Issuers)
	}
	if cfg.Security.TenantClaim != "restaurants" {
		t.Errorf("tenant claim: %q", cfg.Security.TenantClaim)
	}
	if cfg.Idempotency.Header != "X-Order-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("idempotency: %+v", cfg.Idempotency)
	}
	ord := cfg.Ordering
	if ord.MaxSequenceAttempts != 8 || ord.DefaultListLimit != 25 || ord.MaxListLimit != 100 || ord.MaxCommentRunes != 300 {
		t.Errorf("ordering: %+v", ord)
	}
}

func TestLoadLayerPrecedence(t *testing.T) {
	dotenv := writeDotEnv(t, "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"orders-dot\"\n# kitchen box\nAPI_STORAGE_DRIVER=memory\n")

	cases := []struct {
		name string
		env  map[string]string
		port string
	}{
		{"dotenv only", nil, "7070"},
		{"explicit map wins", map[string]string{"API_SERVER_PORT": "6060"}, "6060"},
		{"blank override keeps default", map[string]string{"API_SERVER_PORT": "  "}, defaultPort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(context.Background(), WithEnvFile(dotenv), WithoutSystemEnv(), WithEnvMap(tc.env))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Server.Port != tc.port {
				t.Fatalf("port: got %q want %q", cfg.Server.Port, tc.port)
			}
			if cfg.Firebase.ProjectID != "orders-dot" || cfg.Storage.Driver != StorageDriverMemory {
				t.Fatalf("dotenv values lost: project %q driver %q", cfg.Firebase.ProjectID, cfg.Storage.Driver)
			}
		})
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.env")
	_, err := Load(context.Background(),
		WithEnvFile(missing),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "orders-dev"}),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadValidationFields(t *testing.T) {
	cases := []struct {
		name   string
		env    map[string]string
		fields []string
	}{
		{
			name:   "no project",
			env:    map[string]string{"API_FIREBASE_PROJECT_ID": ""},
			fields: []string{"Firestore.ProjectID", "Firebase.ProjectID"},
		},
		{"unknown storage driver", map[string]string{"API_STORAGE_DRIVER": "mysql"}, []string{"Storage.Driver"}},
		{"postgres without dsn", map[string]string{"API_STORAGE_DRIVER": "postgres"}, []string{"Postgres.DSN"}},
		{
			name:   "min conns above max",
			env:    map[string]string{"API_STORAGE_DRIVER": "postgres", "API_POSTGRES_DSN": "postgres://db", "API_POSTGRES_MIN_CONNS": "20"},
			fields: []string{"Postgres.MinConns"},
		},
		{"amqp without url", map[string]string{"API_EVENTS_DRIVER": "amqp"}, []string{"Events.AMQPURL"}},
		{"unknown events driver", map[string]string{"API_EVENTS_DRIVER": "kafka"}, []string{"Events.Driver"}},
		{"jwt without audience", map[string]string{"API_SECURITY_PROVIDER": "jwt"}, []string{"Security.OIDC.Audience"}},
		{"unknown provider", map[string]string{"API_SECURITY_PROVIDER": "saml"}, []string{"Security.Provider"}},
		{"default list limit above max", map[string]string{"API_ORDERING_DEFAULT_LIST_LIMIT": "500"}, []string{"Ordering.DefaultListLimit"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}, []string{"Logging.Level"}},
		{
			name: "unparsable values",
			env: map[string]string{
				"API_SERVER_READ_TIMEOUT":       "soon",
				"API_POSTGRES_MAX_CONNS":        "99999999999",
				"API_POSTGRES_MIGRATE_ON_START": "maybe",
			},
			fields: []string{"API_SERVER_READ_TIMEOUT", "API_POSTGRES_MAX_CONNS", "API_POSTGRES_MIGRATE_ON_START"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{"API_FIREBASE_PROJECT_ID": "orders-dev"}
			for k, v := range tc.env {
				env[k] = v
			}
			_, err := loadEnv(env)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if got := validation.Fields(); !slices.Equal(got, tc.fields) {
				t.Fatalf("fields: got %v want %v", got, tc.fields)
			}
		})
	}
}

func TestLoadSecretReferences(t *testing.T) {
	cases := []struct {
		name     string
		dsn      string
		resolver SecretResolver
		wantDSN  string
		wantRef  string
	}{
		{
			name:     "secret scheme",
			dsn:      "secret://orders/postgres-dsn",
			resolver: mapResolver(map[string]string{"secret://orders/postgres-dsn": "postgres://current"}),
			wantDSN:  "postgres://current",
		},
		{
			name:     "sm scheme is rewritten",
			dsn:      "sm://orders/postgres-dsn",
			resolver: mapResolver(map[string]string{"secret://orders/postgres-dsn": "postgres://legacy"}),
			wantDSN:  "postgres://legacy",
		},
		{
			name:    "plain value passes through",
			dsn:     "postgres://plain",
			wantDSN: "postgres://plain",
		},
		{
			name:    "no resolver configured",
			dsn:     "secret://missing",
			wantRef: "secret://missing",
		},
		{
			name:     "resolver failure",
			dsn:      "sm://orders/absent",
			resolver: mapResolver(nil),
			wantRef:  "secret://orders/absent",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{
				"API_FIREBASE_PROJECT_ID": "orders-dev",
				"API_STORAGE_DRIVER":      "postgres",
				"API_POSTGRES_DSN":        tc.dsn,
			}
			var opts []Option
			if tc.resolver != nil {
				opts = append(opts, WithSecretResolver(tc.resolver))
			}
			cfg, err := loadEnv(env, opts...)

			if tc.wantRef != "" {
				var secretErr *SecretError
				if !errors.As(err, &secretErr) {
					t.Fatalf("expected *SecretError, got %v", err)
				}
				if secretErr.Ref != tc.wantRef {
					t.Fatalf("ref: got %q want %q", secretErr.Ref, tc.wantRef)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Postgres.DSN != tc.wantDSN {
				t.Fatalf("dsn: got %q want %q", cfg.Postgres.DSN, tc.wantDSN)
			}
		})
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "orders-dev"}

	_, err := loadEnv(env, WithRequiredSecrets("Events.AMQPURL", " ", "Events.AMQPURL"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingSecretsError, got %v", err)
	}
	if got := missing.Names(); !slices.Equal(got, []string{"Events.AMQPURL"}) {
		t.Fatalf("names: %v", got)
	}
	if got := missing.RedactedNames(); !slices.Equal(got, []string{redactSecretName("Events.AMQPURL")}) {
		t.Fatalf("redacted names: %v", got)
	}

	env["API_EVENTS_AMQP_URL"] = "amqp://plain"
	if _, err := loadEnv(env, WithRequiredSecrets("Events.AMQPURL")); err != nil {
		t.Fatalf("resolved secret still reported missing: %v", err)
	}
}

func TestLoadRequiredSecretsPanic(t *testing.T) {
	defer func() {
		missing, ok := recover().(*MissingSecretsError)
		if !ok {
			t.Fatal("expected *MissingSecretsError panic")
		}
		if got := missing.Names(); !slices.Equal(got, []string{"Postgres.DSN"}) {
			t.Fatalf("names: %v", got)
		}
	}()

	_, _ = loadEnv(map[string]string{"API_FIREBASE_PROJECT_ID": "orders-dev"},
		WithRequiredSecrets("Postgres.DSN"),
		WithPanicOnMissingSecrets(),
	)
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	dotenv := writeDotEnv(t, "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n")
	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(dotenv), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://orders/postgres-dsn=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}

	want := map[string]string{
		"API_FIREBASE_PROJECT_ID":  "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://orders/postgres-dsn=5",
	}
	for key, value := range want {
		if got := values[key]; got != value {
			t.Errorf("%s: got %q want %q", key, got, value)
		}
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultRequestTimeout       = 30 * time.Second
	defaultLogLevel             = "info"
	defaultStorageDriver        = StorageDriverFirestore
	defaultFirestoreTxAttempts  = 5
	defaultFirestoreTxTimeout   = 15 * time.Second
	defaultPostgresMaxConns     = 10
	defaultPostgresConnAttempts = 5
	defaultPostgresConnLifetime = time.Hour
	defaultPostgresConnIdle     = 10 * time.Minute
	defaultEventsDriver         = EventsDriverNone
	defaultEventsTopic          = "order-events"
	defaultAMQPExchange         = "orders_topic"
	defaultSecurityEnvironment  = "local"
	defaultSecurityProvider     = AuthProviderFirebase
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultRoleClaim            = "role"
	defaultTenantClaim          = "tenants"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultSequenceAttempts     = 5
	defaultListLimit            = 50
	defaultMaxListLimit         = 200
	defaultMaxLines             = 50
	defaultMaxQuantity          = 99
	defaultMaxNameRunes         = 80
	defaultMaxCommentRunes      = 500
)

// Storage drivers.
const (
	StorageDriverFirestore = "firestore"
	StorageDriverPostgres  = "postgres"
	StorageDriverMemory    = "memory"
)

// Event drivers.
const (
	EventsDriverNone   = "none"
	EventsDriverPubSub = "pubsub"
	EventsDriverAMQP   = "amqp"
)

// Staff token providers.
const (
	AuthProviderFirebase = "firebase"
	AuthProviderJWT      = "jwt"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Events      EventsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Ordering    OrderingConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig selects the minimum log level.
type LoggingConfig struct {
	Level string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	TxAttempts   int
	TxTimeout    time.Duration
}

// StorageConfig selects the backing store for catalog and orders.
type StorageConfig struct {
	Driver string
}

// PostgresConfig configures the pgx pool used when Storage.Driver is postgres.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectAttempts int
	MigrateOnStart  bool
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Driver          string
	PubSubProjectID string
	PubSubTopic     string
	AMQPURL         string
	AMQPExchange    string
}

// SecurityConfig groups staff authentication settings.
type SecurityConfig struct {
	Environment string
	Provider    string
	RoleClaim   string
	TenantClaim string
	OIDC        OIDCConfig
}

// OIDCConfig controls externally issued token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// OrderingConfig bounds order intake and listing.
type OrderingConfig struct {
	MaxSequenceAttempts  int
	DefaultListLimit     int
	MaxListLimit         int
	MaxLines             int
	MaxQuantity          int
	MaxCustomerNameRunes int
	MaxCommentRunes      int
}

// Load builds the Config from defaults, the dotenv file, the process environment and the explicit
// env map, each layer overriding the previous one. Credential fields holding secret:// or sm://
// references are resolved through the configured SecretResolver.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	settings := newLoadSettings(opts)
	src, err := settings.source()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  src.duration("API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: src.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Logging: LoggingConfig{
			Level: src.lower("LOG_LEVEL", defaultLogLevel),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
			TxAttempts:   src.integer("API_FIRESTORE_TX_ATTEMPTS", defaultFirestoreTxAttempts),
			TxTimeout:    src.duration("API_FIRESTORE_TX_TIMEOUT", defaultFirestoreTxTimeout),
		},
		Storage: StorageConfig{
			Driver: src.lower("API_STORAGE_DRIVER", defaultStorageDriver),
		},
		Postgres: PostgresConfig{
			DSN:             src.str("API_POSTGRES_DSN", ""),
			MaxConns:        src.i32("API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			MinConns:        src.i32("API_POSTGRES_MIN_CONNS", 0),
			MaxConnLifetime: src.duration("API_POSTGRES_MAX_CONN_LIFETIME", defaultPostgresConnLifetime),
			MaxConnIdleTime: src.duration("API_POSTGRES_MAX_CONN_IDLE_TIME", defaultPostgresConnIdle),
			ConnectAttempts: src.integer("API_POSTGRES_CONNECT_ATTEMPTS", defaultPostgresConnAttempts),
			MigrateOnStart:  src.boolean("API_POSTGRES_MIGRATE_ON_START", true),
		},
		Events: EventsConfig{
			Driver:          src.lower("API_EVENTS_DRIVER", defaultEventsDriver),
			PubSubProjectID: src.str("API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     src.str("API_EVENTS_PUBSUB_TOPIC", defaultEventsTopic),
			AMQPURL:         src.str("API_EVENTS_AMQP_URL", ""),
			AMQPExchange:    src.str("API_EVENTS_AMQP_EXCHANGE", defaultAMQPExchange),
		},
		Security: SecurityConfig{
			Environment: src.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			Provider:    src.lower("API_SECURITY_PROVIDER", defaultSecurityProvider),
			RoleClaim:   src.str("API_SECURITY_ROLE_CLAIM", defaultRoleClaim),
			TenantClaim: src.str("API_SECURITY_TENANT_CLAIM", defaultTenantClaim),
			OIDC: OIDCConfig{
				JWKSURL:   src.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  src.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: src.labels("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   src.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Ordering: OrderingConfig{
			MaxSequenceAttempts:  src.integer("API_ORDERING_MAX_SEQUENCE_ATTEMPTS", defaultSequenceAttempts),
			DefaultListLimit:     src.integer("API_ORDERING_DEFAULT_LIST_LIMIT", defaultListLimit),
			MaxListLimit:         src.integer("API_ORDERING_MAX_LIST_LIMIT", defaultMaxListLimit),
			MaxLines:             src.integer("API_ORDERING_MAX_LINES", defaultMaxLines),
			MaxQuantity:          src.integer("API_ORDERING_MAX_QUANTITY", defaultMaxQuantity),
			MaxCustomerNameRunes: src.integer("API_ORDERING_MAX_CUSTOMER_NAME", defaultMaxNameRunes),
			MaxCommentRunes:      src.integer("API_ORDERING_MAX_COMMENT", defaultMaxCommentRunes),
		},
	}
	cfg.inherit()

	resolved, err := resolveSecretFields(ctx, settings.secret, []secretField{
		{name: "Postgres.DSN", value: &cfg.Postgres.DSN},
		{name: "Events.AMQPURL", value: &cfg.Events.AMQPURL},
	})
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(src.malformed); err != nil {
		return Config{}, err
	}

	if missing := missingSecrets(settings.requiredSecrets, resolved); missing != nil {
		if settings.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// inherit fills project and identity settings that default to their siblings.
func (c *Config) inherit() {
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = c.Firebase.ProjectID
	}
	if c.Events.PubSubProjectID == "" {
		c.Events.PubSubProjectID = c.Firestore.ProjectID
	}
	if len(c.Security.OIDC.Issuers) == 0 {
		c.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if c.Security.OIDC.Audience == "" {
		c.Security.OIDC.Audience = c.Security.OIDC.Audiences[strings.ToLower(c.Security.Environment)]
	}
}

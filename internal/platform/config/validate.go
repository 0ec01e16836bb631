package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError lists the config fields, or environment keys with unparsable values, that
// stopped Load.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending names.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

type checks []string

func (c *checks) require(ok bool, field string) {
	if !ok {
		*c = append(*c, field)
	}
}

func (c *checks) nonBlank(value, field string) {
	c.require(strings.TrimSpace(value) != "", field)
}

func (c Config) validate(malformed []string) error {
	failed := checks(slices.Clone(malformed))

	failed.nonBlank(c.Server.Port, "Server.Port")
	failed.require(c.Server.ShutdownTimeout > 0, "Server.ShutdownTimeout")
	failed.require(slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level), "Logging.Level")

	switch c.Storage.Driver {
	case StorageDriverFirestore:
		failed.nonBlank(c.Firestore.ProjectID, "Firestore.ProjectID")
	case StorageDriverPostgres:
		failed.nonBlank(c.Postgres.DSN, "Postgres.DSN")
		failed.require(c.Postgres.MaxConns > 0, "Postgres.MaxConns")
		failed.require(c.Postgres.MinConns >= 0 && c.Postgres.MinConns <= c.Postgres.MaxConns, "Postgres.MinConns")
	case StorageDriverMemory:
	default:
		failed.require(false, "Storage.Driver")
	}

	switch c.Events.Driver {
	case EventsDriverNone:
	case EventsDriverPubSub:
		failed.nonBlank(c.Events.PubSubProjectID, "Events.PubSubProjectID")
		failed.nonBlank(c.Events.PubSubTopic, "Events.PubSubTopic")
	case EventsDriverAMQP:
		failed.nonBlank(c.Events.AMQPURL, "Events.AMQPURL")
		failed.nonBlank(c.Events.AMQPExchange, "Events.AMQPExchange")
	default:
		failed.require(false, "Events.Driver")
	}

	switch c.Security.Provider {
	case AuthProviderFirebase:
		failed.nonBlank(c.Firebase.ProjectID, "Firebase.ProjectID")
	case AuthProviderJWT:
		failed.nonBlank(c.Security.OIDC.JWKSURL, "Security.OIDC.JWKSURL")
		failed.nonBlank(c.Security.OIDC.Audience, "Security.OIDC.Audience")
	default:
		failed.require(false, "Security.Provider")
	}
	failed.nonBlank(c.Security.TenantClaim, "Security.TenantClaim")

	idem := c.Idempotency
	failed.nonBlank(idem.Header, "Idempotency.Header")
	failed.require(idem.TTL > 0, "Idempotency.TTL")
	failed.require(idem.CleanupInterval > 0, "Idempotency.CleanupInterval")
	failed.require(idem.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	ord := c.Ordering
	failed.require(ord.MaxSequenceAttempts > 0, "Ordering.MaxSequenceAttempts")
	failed.require(ord.MaxListLimit > 0, "Ordering.MaxListLimit")
	failed.require(ord.DefaultListLimit > 0 && ord.DefaultListLimit <= ord.MaxListLimit, "Ordering.DefaultListLimit")
	failed.require(ord.MaxLines > 0, "Ordering.MaxLines")
	failed.require(ord.MaxQuantity > 0, "Ordering.MaxQuantity")
	failed.require(ord.MaxCustomerNameRunes > 0, "Ordering.MaxCustomerNameRunes")
	failed.require(ord.MaxCommentRunes > 0, "Ordering.MaxCommentRunes")

	if len(failed) > 0 {
		return &ValidationError{fields: failed}
	}
	return nil
}

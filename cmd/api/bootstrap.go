package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/tableorder/api/internal/platform/config"
	pfirestore "github.com/tableorder/api/internal/platform/firestore"
	"github.com/tableorder/api/internal/platform/idempotency"
	"github.com/tableorder/api/internal/platform/messaging"
	ppostgres "github.com/tableorder/api/internal/platform/postgres"
	ppubsub "github.com/tableorder/api/internal/platform/pubsub"
	"github.com/tableorder/api/internal/platform/secrets"
	"github.com/tableorder/api/internal/repositories"
	firestoreRepo "github.com/tableorder/api/internal/repositories/firestore"
	"github.com/tableorder/api/internal/repositories/memory"
	postgresRepo "github.com/tableorder/api/internal/repositories/postgres"
	"github.com/tableorder/api/internal/services"
)

// storage bundles the repositories of the selected driver with their readiness checks.
type storage struct {
	Catalog     repositories.CatalogReader
	Orders      repositories.OrderStore
	Idempotency idempotency.Store
	checks      []repositories.DependencyCheck
	closers     []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(credentialOptions(cfg)...))
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, err
		}
		catalog, err := firestoreRepo.NewCatalogReader(provider)
		if err != nil {
			return nil, err
		}
		orders, err := firestoreRepo.NewOrderStore(provider)
		if err != nil {
			return nil, err
		}
		return &storage{
			Catalog:     catalog,
			Orders:      orders,
			Idempotency: idempotency.NewFirestoreStore(client),
			checks: []repositories.DependencyCheck{{
				Name:     "firestore",
				Critical: true,
				Check:    provider.Ping,
			}},
			closers: []func(){func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Close(closeCtx); err != nil {
					logger.Warn("firestore close error", zap.Error(err))
				}
			}},
		}, nil

	case config.StorageDriverPostgres:
		pool, err := ppostgres.Connect(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.MigrateOnStart {
			if err := postgresRepo.Migrate(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		catalog, err := postgresRepo.NewCatalogReader(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		orders, err := postgresRepo.NewOrderStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.Warn("idempotency records are kept in process memory with the postgres driver")
		return &storage{
			Catalog:     catalog,
			Orders:      orders,
			Idempotency: idempotency.NewMemoryStore(),
			checks: []repositories.DependencyCheck{{
				Name:     "postgres",
				Critical: true,
				Check:    pool.Ping,
			}},
			closers: []func(){pool.Close},
		}, nil

	case config.StorageDriverMemory:
		logger.Warn("memory storage selected; orders are lost on restart")
		store := memory.New()
		return &storage{
			Catalog:     store,
			Orders:      store,
			Idempotency: idempotency.NewMemoryStore(),
		}, nil
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}

// credentialOptions points Google clients at the service account file shared with Firebase.
func credentialOptions(cfg config.Config) []option.ClientOption {
	if cfg.Firebase.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.Firebase.CredentialsFile)}
}

// events holds the optional order event publisher.
type events struct {
	Publisher services.OrderEventPublisher
	checks    []repositories.DependencyCheck
	closers   []func()
}

func (e *events) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func openEvents(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events, error) {
	switch cfg.Events.Driver {
	case config.EventsDriverNone, "":
		return &events{}, nil

	case config.EventsDriverPubSub:
		client, err := gpubsub.NewClient(ctx, cfg.Events.PubSubProjectID, credentialOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSubTopic)
		publisher, err := ppubsub.NewOrderEventPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &events{
			Publisher: publisher,
			checks: []repositories.DependencyCheck{{
				Name: "pubsub",
				Check: func(ctx context.Context) error {
					ok, err := topic.Exists(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("topic %s does not exist", cfg.Events.PubSubTopic)
					}
					return nil
				},
			}},
			closers: []func(){
				func() {
					if err := client.Close(); err != nil {
						logger.Warn("pubsub close error", zap.Error(err))
					}
				},
				publisher.Stop,
			},
		}, nil

	case config.EventsDriverAMQP:
		conn, err := messaging.Dial(ctx, cfg.Events.AMQPURL, cfg.Events.AMQPExchange, logger)
		if err != nil {
			return nil, err
		}
		publisher, err := messaging.NewOrderEventPublisher(conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &events{
			Publisher: publisher,
			checks: []repositories.DependencyCheck{{
				Name:  "amqp",
				Check: conn.Ping,
			}},
			closers: []func(){func() {
				if err := conn.Close(); err != nil {
					logger.Warn("amqp close error", zap.Error(err))
				}
			}},
		}, nil
	}
	return nil, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
}

func newSystemService(store *storage, evts *events, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	checks = append(checks, store.checks...)
	checks = append(checks, evts.checks...)
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				return err
			},
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

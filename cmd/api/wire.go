package main

import (
	"context"
	"fmt"

	fb "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	fbadapter "github.com/gocrave/runner-api/internal/adapters/firebase"
	fbdocstore "github.com/gocrave/runner-api/internal/adapters/firebase/docstore"
	fbidentity "github.com/gocrave/runner-api/internal/adapters/firebase/identity"
	kafkaevents "github.com/gocrave/runner-api/internal/adapters/kafka/events"
	memdocstore "github.com/gocrave/runner-api/internal/adapters/memory/docstore"
	memevents "github.com/gocrave/runner-api/internal/adapters/memory/events"
	memidentity "github.com/gocrave/runner-api/internal/adapters/memory/identity"
	"github.com/gocrave/runner-api/internal/adapters/postgres"
	pgdocstore "github.com/gocrave/runner-api/internal/adapters/postgres/docstore"
	pgidentity "github.com/gocrave/runner-api/internal/adapters/postgres/identity"
	redisdocstore "github.com/gocrave/runner-api/internal/adapters/redis/docstore"
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/platform/config"
	"github.com/gocrave/runner-api/internal/platform/logger"
	"github.com/gocrave/runner-api/internal/ports/out/docstore"
	"github.com/gocrave/runner-api/internal/ports/out/events"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

// backends holds the configured adapters. Close releases them in reverse order.
type backends struct {
	docs   docstore.Store
	idp    identity.Provider
	events events.Publisher

	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg config.Config) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()
	log := logger.Named("wire")

	var pool *pgxpool.Pool
	if cfg.Storage.Backend == "postgres" || cfg.Identity.Backend == "postgres" {
		pool, err = postgres.NewPool(ctx, cfg.Storage.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, err
		}
	}

	var app *fb.App
	if cfg.Storage.Backend == "firebase" || cfg.Identity.Backend == "firebase" {
		app, err = fbadapter.NewApp(ctx, fbadapter.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			DatabaseURL:     cfg.Firebase.DatabaseURL,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
	}

	switch cfg.Storage.Backend {
	case "postgres":
		b.docs = pgdocstore.NewStore(pool)
	case "redis":
		rs := redisdocstore.New(cfg.Storage.Redis.Addr, cfg.Storage.Redis.DB, cfg.Storage.Redis.Prefix)
		b.closers = append(b.closers, func() { _ = rs.Close() })
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b.docs = rs
	case "firebase":
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase database: %w", err)
		}
		b.docs = fbdocstore.NewStore(client)
	default:
		b.docs = memdocstore.NewStore()
	}

	switch cfg.Identity.Backend {
	case "postgres":
		b.idp = pgidentity.NewProvider(pool)
	case "firebase":
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase auth: %w", err)
		}
		b.idp = fbidentity.NewProvider(client)
	default:
		mem := memidentity.NewProvider()
		// Without a real identity backend nobody could hold the admin role.
		mem.Seed(identity.User{
			UID:          domain.AuthUID(cfg.Server.DevSubject),
			Email:        "dev-admin@localhost",
			DisplayName:  "Dev Admin",
			CustomClaims: map[string]any{identity.ClaimRole: string(domain.RoleAdmin)},
		})
		b.idp = mem
		log.Warn("using in-memory identity provider", zap.String("admin_subject", cfg.Server.DevSubject))
	}

	switch cfg.Events.Backend {
	case "kafka":
		kp := kafkaevents.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		b.closers = append(b.closers, func() {
			if err := kp.Close(); err != nil {
				log.Warn("close kafka publisher", zap.Error(err))
			}
		})
		b.events = kp
	case "memory":
		b.events = memevents.NewPublisher()
	default:
		b.events = events.Noop{}
	}

	log.Info("backends ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("identity", cfg.Identity.Backend),
		zap.String("events", cfg.Events.Backend),
	)
	return b, nil
}

package postgres

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	ppostgres "github.com/tableorder/api/internal/platform/postgres"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations exposes the schema files applied by Migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies the order schema to the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	return ppostgres.Migrate(ctx, pool, Migrations(), logger)
}

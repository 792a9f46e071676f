// Package db provides PostgreSQL-backed implementations of the planner
// repository, the reminder log and the scheduler job tables. All repositories
// accept a DBTX interface that is satisfied by both *pgxpool.Pool (for normal
// queries) and pgx.Tx (for transactional execution).
package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mealreminder/internal/config"
	"mealreminder/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL for every table the service uses. Statements are
// idempotent.
func Schema() string {
	return schemaSQL
}

// NewPool builds a pgx pool from the storage configuration and pings it.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "invalid DATABASE_URL", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create database pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to ping database", err)
	}
	return pool, nil
}

// EnsureSchema applies Schema(). Used by the CLI and integration tests; deployed
// environments run the same file through their migration tooling.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}

// ImportSeed upserts every user and planner in the seed inside one transaction.
func ImportSeed(ctx context.Context, pool *pgxpool.Pool, seed *types.SeedFile) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin seed transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	planners := NewPlannerRepository(tx)
	for _, u := range seed.Users {
		if err := planners.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	for _, p := range seed.Planners {
		if err := planners.UpsertPlanner(ctx, p); err != nil {
			return fmt.Errorf("seeding planner %s: %w", p.OwnerID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit seed transaction", err)
	}
	return nil
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/herdtrack/internal/domain"
	"github.com/rpattn/herdtrack/internal/store"
)

// DBTX is the subset of *pgxpool.Pool used by the repositories.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DocumentRepository persists the hierarchical document tree in Postgres.
type DocumentRepository interface {
	store.DocumentStore
}

// TelemetryRepository mirrors uploaded rows for row oriented consumers.
type TelemetryRepository interface {
	store.BatchWriter
}

// IngestionLogRepository records skipped rows and upload failures.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, sessionID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

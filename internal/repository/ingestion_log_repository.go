package repository

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/herdtrack/internal/domain"
)

type ingestionLogRepository struct {
	pool DBTX
}

// NewIngestionLogRepository wires a repository backed by pgxpool.
func NewIngestionLogRepository(pool DBTX) IngestionLogRepository {
	return &ingestionLogRepository{pool: pool}
}

func (r *ingestionLogRepository) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	if r.pool == nil {
		return errors.New("ingestion log repository not initialized")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var rowNumber any
	if entry.RowNumber != nil {
		rowNumber = *entry.RowNumber
	}
	var createdAt any
	if !entry.CreatedAt.IsZero() {
		createdAt = entry.CreatedAt
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO ingestion_logs (id, session_id, species, file_name, row_number, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))`,
		entry.ID,
		entry.SessionID,
		entry.Species,
		entry.FileName,
		rowNumber,
		entry.ErrorMessage,
		createdAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record ingestion log")
	}

	return nil
}

func (r *ingestionLogRepository) List(ctx context.Context, sessionID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if r.pool == nil {
		return nil, errors.New("ingestion log repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, session_id, species, file_name, row_number, error_message, created_at
		 FROM ingestion_logs
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		sessionID,
		limit,
		offset,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ingestion logs")
	}
	defer rows.Close()

	logs := []domain.IngestionLogEntry{}
	for rows.Next() {
		var (
			entry     domain.IngestionLogEntry
			rowNumber pgtype.Int4
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.Species,
			&entry.FileName,
			&rowNumber,
			&entry.ErrorMessage,
			&createdAt,
		); scanErr != nil {
			return nil, errors.Wrap(scanErr, "failed to scan ingestion log")
		}

		if rowNumber.Valid {
			value := int(rowNumber.Int32)
			entry.RowNumber = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, errors.Wrap(rowsErr, "failed to iterate ingestion logs")
	}

	return logs, nil
}

package repository

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/herdtrack/internal/store"
)

type telemetryRepository struct {
	pool DBTX
}

// NewTelemetryRepository wires the row mirror backed by pgxpool.
func NewTelemetryRepository(pool DBTX) TelemetryRepository {
	return &telemetryRepository{pool: pool}
}

// WriteBatch upserts rows at offsets start..start+len(rows)-1, so replaying a
// batch is harmless.
func (r *telemetryRepository) WriteBatch(ctx context.Context, key store.MirrorKey, start int, rows []map[string]string) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			return errors.Wrapf(err, "failed to encode row %d", start+i)
		}
		batch.Queue(
			`INSERT INTO telemetry_rows (species, animal_id, row_index, data)
			 VALUES ($1, $2, $3, $4::jsonb)
			 ON CONFLICT (species, animal_id, row_index) DO UPDATE SET data = EXCLUDED.data`,
			key.Species, key.AnimalID, start+i, string(encoded),
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return errors.Wrapf(err, "failed to mirror row %d", start+i)
		}
	}
	return errors.Wrap(results.Close(), "failed to finish mirror batch")
}

func (r *telemetryRepository) Count(ctx context.Context, key store.MirrorKey) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM telemetry_rows WHERE species = $1 AND animal_id = $2`,
		key.Species, key.AnimalID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count mirrored rows")
	}
	return count, nil
}

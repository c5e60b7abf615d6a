package ingestion

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/herdtrack/internal/domain"
)

// DefaultChunkSize is the number of rows reconciled per unit of work.
const DefaultChunkSize = 1000

// ChunkOptions controls parallel row processing.
type ChunkOptions struct {
	ChunkSize int
	Workers   int
}

// ProcessRows reconciles timestamps for every row. Chunks run concurrently
// and write into their own slice window, so output order equals input order.
func ProcessRows(ctx context.Context, rows []domain.Row, cfg domain.TimestampConfig, mapping domain.ColumnMapping, opts ChunkOptions) ([]domain.ProcessedRow, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]domain.ProcessedRow, len(rows))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(rows); start += chunkSize {
		start := start
		end := min(start+chunkSize, len(rows))
		g.Go(func() error {
			for idx := start; idx < end; idx++ {
				if idx%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				out[idx] = ProcessRow(rows[idx], idx, cfg, mapping)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

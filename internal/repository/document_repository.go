package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/rpattn/herdtrack/internal/db"
	"github.com/rpattn/herdtrack/internal/store"
)

// documentRepository stores every leaf of the document tree as one row keyed
// by its full path. Maps are flattened on write and reassembled on read.
type documentRepository struct {
	pool   DBTX
	logger *zap.SugaredLogger
}

// NewDocumentRepository wires a document store backed by pgxpool.
func NewDocumentRepository(pool DBTX, logger *zap.SugaredLogger) DocumentRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &documentRepository{pool: pool, logger: logger}
}

func (r *documentRepository) Get(ctx context.Context, path string) (any, bool, error) {
	segments, err := store.SplitPath(path)
	if err != nil {
		return nil, false, err
	}
	return readTree(ctx, r.pool, strings.Join(segments, "/"))
}

func (r *documentRepository) Set(ctx context.Context, path string, value any) error {
	segments, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	normalized, err := normalizeDocument(value)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		return writeTree(ctx, tx, segments, normalized)
	})
}

func (r *documentRepository) Update(ctx context.Context, path string, values map[string]any) error {
	segments, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	type child struct {
		segments []string
		value    any
	}
	children := make([]child, 0, len(values))
	for key, value := range values {
		keySegments, err := store.SplitPath(key)
		if err != nil {
			return err
		}
		normalized, err := normalizeDocument(value)
		if err != nil {
			return err
		}
		full := append(append([]string{}, segments...), keySegments...)
		children = append(children, child{segments: full, value: normalized})
	}
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		for _, c := range children {
			if err := writeTree(ctx, tx, c.segments, c.value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transaction serializes writers of path with an advisory lock held for the
// life of the database transaction, so it also covers paths that do not exist yet.
func (r *documentRepository) Transaction(ctx context.Context, path string, fn func(current any, exists bool) (any, error)) (any, error) {
	segments, err := store.SplitPath(path)
	if err != nil {
		return nil, err
	}
	joined := strings.Join(segments, "/")

	var result any
	err = db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, joined); err != nil {
			return errors.Wrap(err, "failed to lock document")
		}
		current, exists, err := readTree(ctx, tx, joined)
		if err != nil {
			return err
		}
		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		normalized, err := normalizeDocument(next)
		if err != nil {
			return err
		}
		if err := writeTree(ctx, tx, segments, normalized); err != nil {
			return err
		}
		result = normalized
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// subtreePredicate matches the document at $1 and everything below it.
// starts_with compares bytes, so siblings such as "a/b-c" never match "a/b".
const subtreePredicate = `(path = $1 OR starts_with(path, $1 || '/'))`

// rowQuerier is implemented by both the pool and a pgx.Tx.
type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func readTree(ctx context.Context, q rowQuerier, path string) (any, bool, error) {
	rows, err := q.Query(ctx,
		`SELECT path, value::text FROM documents
		 WHERE `+subtreePredicate+`
		 ORDER BY path`,
		path,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read document %s", path)
	}
	defer rows.Close()

	leaves := map[string]any{}
	for rows.Next() {
		var (
			leafPath string
			raw      string
		)
		if err := rows.Scan(&leafPath, &raw); err != nil {
			return nil, false, errors.Wrap(err, "failed to scan document")
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, false, errors.Wrapf(err, "failed to decode document %s", leafPath)
		}
		leaves[leafPath] = value
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "failed to iterate documents")
	}
	value, exists := assembleTree(path, leaves)
	return value, exists, nil
}

func writeTree(ctx context.Context, tx pgx.Tx, segments []string, value any) error {
	path := strings.Join(segments, "/")

	// a path is either a leaf or a subtree; clear the subtree and any leaf ancestors
	if _, err := tx.Exec(ctx,
		`DELETE FROM documents
		 WHERE `+subtreePredicate+` OR path = ANY($2)`,
		path, ancestorPaths(segments),
	); err != nil {
		return errors.Wrapf(err, "failed to clear document %s", path)
	}
	if value == nil {
		return nil
	}

	leaves := map[string]any{}
	flattenDocument(path, value, leaves)
	keys := make([]string, 0, len(leaves))
	for key := range leaves {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	batch := &pgx.Batch{}
	for _, key := range keys {
		encoded, err := json.Marshal(leaves[key])
		if err != nil {
			return errors.Wrapf(err, "failed to encode document %s", key)
		}
		batch.Queue(
			`INSERT INTO documents (path, value, updated_at) VALUES ($1, $2::jsonb, now())
			 ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			key, string(encoded),
		)
	}
	results := tx.SendBatch(ctx, batch)
	for range keys {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return errors.Wrapf(err, "failed to write document %s", path)
		}
	}
	return errors.Wrap(results.Close(), "failed to finish document batch")
}

// flattenDocument maps every non-map value below prefix to its full path.
// Empty maps produce no leaves.
func flattenDocument(prefix string, value any, out map[string]any) {
	node, ok := value.(map[string]any)
	if !ok {
		out[prefix] = value
		return
	}
	for key, child := range node {
		flattenDocument(prefix+"/"+key, child, out)
	}
}

// assembleTree rebuilds the node at root from leaves keyed by full path.
func assembleTree(root string, leaves map[string]any) (any, bool) {
	tree := map[string]any{}
	found := false
	for path, value := range leaves {
		rel := strings.TrimPrefix(path, root+"/")
		if rel == path {
			continue
		}
		found = true
		parts := strings.Split(rel, "/")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	if found {
		return tree, true
	}
	value, ok := leaves[root]
	return value, ok
}

func ancestorPaths(segments []string) []string {
	out := make([]string, 0, len(segments))
	for i := 1; i < len(segments); i++ {
		out = append(out, strings.Join(segments[:i], "/"))
	}
	return out
}

func normalizeDocument(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encode document value")
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, errors.Wrap(err, "decode document value")
	}
	return out, nil
}

// Package store defines the remote document and blob collaborators used by
// ingestion, along with in-memory and filesystem implementations.
package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned when a blob or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPath is returned for empty or malformed document paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrInvalidURL is returned when a blob URL is not issued by the store.
	ErrInvalidURL = errors.New("invalid blob url")
	// ErrInvalidToken is returned when a blob URL signature does not verify.
	ErrInvalidToken = errors.New("invalid blob token")
	// ErrAborted may be returned by a transaction handler to abandon the write.
	ErrAborted = errors.New("transaction aborted")
)

// DocumentStore is a hierarchical key-value store addressed by slash separated paths.
// Values are JSON shaped: map[string]any, []any, string, float64, bool or nil.
type DocumentStore interface {
	// Get reads the node at path. The boolean is false when nothing is stored there.
	Get(ctx context.Context, path string) (any, bool, error)
	// Set overwrites the subtree at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update merges the given children into the node at path without touching siblings.
	Update(ctx context.Context, path string, values map[string]any) error
	// Transaction atomically replaces the node at path with the handler's result.
	Transaction(ctx context.Context, path string, fn func(current any, exists bool) (any, error)) (any, error)
}

// Subscriber delivers change notifications for a path.
type Subscriber interface {
	Subscribe(path string, fn func(value any, exists bool)) (cancel func())
}

// BlobStore stores file artifacts and hands back durable URLs.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// MirrorKey addresses the rows of one uploaded dataset in a batch store.
type MirrorKey struct {
	Species  string
	AnimalID int64
}

// BatchWriter is the row-oriented mirror store. WriteBatch must be idempotent
// for a given key and start offset.
type BatchWriter interface {
	WriteBatch(ctx context.Context, key MirrorKey, start int, rows []map[string]string) error
	Count(ctx context.Context, key MirrorKey) (int, error)
}

var keyReplacer = strings.NewReplacer(".", "_", "#", "_", "$", "_", "/", "_", "[", "_", "]", "_")

// SanitizeKey replaces characters that are illegal in a document key.
func SanitizeKey(key string) string {
	return keyReplacer.Replace(key)
}

// JoinPath joins segments into a document path, dropping empty segments.
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "/")
}

// SplitPath returns the non-empty segments of a path.
func SplitPath(path string) ([]string, error) {
	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		if strings.ContainsAny(segment, ".#$[]") {
			return nil, errors.Wrapf(ErrInvalidPath, "segment %q", segment)
		}
		segments = append(segments, segment)
	}
	if len(segments) == 0 {
		return nil, errors.Wrapf(ErrInvalidPath, "%q", path)
	}
	return segments, nil
}

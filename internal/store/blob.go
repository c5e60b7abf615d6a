package store

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const memoryScheme = "memory://"

// MemoryBlobStore keeps blobs in a map. URLs use the memory:// scheme.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore returns an empty blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: map[string][]byte{}}
}

func (s *MemoryBlobStore) Upload(ctx context.Context, path string, data []byte) (string, error) {
	path = JoinPath(path)
	if path == "" {
		return "", errors.Wrap(ErrInvalidPath, "empty blob path")
	}
	s.mu.Lock()
	s.blobs[path] = append([]byte(nil), data...)
	s.mu.Unlock()
	return memoryScheme + path, nil
}

func (s *MemoryBlobStore) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if !strings.HasPrefix(rawURL, memoryScheme) {
		return nil, errors.Wrapf(ErrInvalidURL, "%q", rawURL)
	}
	path := strings.TrimPrefix(rawURL, memoryScheme)
	s.mu.RLock()
	data, ok := s.blobs[path]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "blob %s", path)
	}
	return append([]byte(nil), data...), nil
}

// FileBlobStore writes blobs below a directory and issues signed URLs
// rooted at baseURL, e.g. http://host/blobs/AnalysisData/x/1.csv?token=...
type FileBlobStore struct {
	dir     string
	baseURL string
	signer  *URLSigner
	now     func() time.Time
}

// NewFileBlobStore creates the directory if needed.
func NewFileBlobStore(dir, baseURL string, signer *URLSigner) (*FileBlobStore, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create blob directory %s", dir)
	}
	if signer == nil {
		signer = NewURLSigner("", 0)
	}
	return &FileBlobStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		now:     time.Now,
	}, nil
}

func (s *FileBlobStore) Upload(ctx context.Context, path string, data []byte) (string, error) {
	path = JoinPath(path)
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrap(err, "create blob parent directory")
	}

	// write then rename so readers never observe a partial file
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write blob %s", path)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "finalize blob %s", path)
	}

	token := s.signer.Sign(path, s.now())
	return s.baseURL + "/" + escapePath(path) + "?token=" + url.QueryEscape(token), nil
}

func (s *FileBlobStore) Download(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidURL, "%q", rawURL)
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidURL, "base %q", s.baseURL)
	}
	prefix := strings.TrimRight(base.Path, "/") + "/"
	if parsed.Scheme != base.Scheme || parsed.Host != base.Host || !strings.HasPrefix(parsed.Path, prefix) {
		return nil, errors.Wrapf(ErrInvalidURL, "%q", rawURL)
	}
	return s.Open(strings.TrimPrefix(parsed.Path, prefix), parsed.Query().Get("token"))
}

// escapePath escapes each segment so spaces and reserved characters survive
// the URL round trip.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// Open verifies token for path and returns the blob contents.
func (s *FileBlobStore) Open(path, token string) ([]byte, error) {
	path = JoinPath(path)
	if err := s.signer.Verify(path, token, s.now()); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "blob %s", path)
		}
		return nil, errors.Wrapf(err, "read blob %s", path)
	}
	return data, nil
}

func (s *FileBlobStore) resolve(path string) (string, error) {
	if path == "" {
		return "", errors.Wrap(ErrInvalidPath, "empty blob path")
	}
	full := filepath.Join(s.dir, filepath.FromSlash(path))
	if full != s.dir && !strings.HasPrefix(full, s.dir+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrInvalidPath, "blob path %q escapes store", path)
	}
	return full, nil
}

package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/herdtrack/internal/domain"
	"github.com/rpattn/herdtrack/internal/logging"
)

// Service owns the live wizard sessions and the collaborators they share.
type Service struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	uploader *Uploader
	issueLog IssueLog
	cfg      SessionConfig
	logger   *zap.SugaredLogger
	metrics  *Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(logger *zap.SugaredLogger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogRepository records skipped rows and upload failures for every session.
func WithLogRepository(log IssueLog) ServiceOption {
	return func(s *Service) {
		s.issueLog = log
	}
}

// WithDefaults sets the configuration handed to new sessions.
func WithDefaults(cfg SessionConfig) ServiceOption {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// NewService creates a service that uploads through uploader.
func NewService(uploader *Uploader, opts ...ServiceOption) *Service {
	s := &Service{
		sessions: map[uuid.UUID]*Session{},
		uploader: uploader,
		cfg:      DefaultSessionConfig(),
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession parses a file into a new session. Nothing is registered when
// the file cannot be parsed.
func (s *Service) StartSession(ctx context.Context, fileName string, payload []byte) (*Session, error) {
	session, err := NewSession(s.uploader,
		WithSessionConfig(s.cfg),
		WithSessionLogger(s.logger.Named("session")),
		WithSessionMetrics(s.metrics),
		WithIssueLog(s.issueLog),
	)
	if err != nil {
		return nil, err
	}
	if err := session.LoadFile(ctx, fileName, payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	s.metrics.observeSession()
	s.logger.Infow("session started",
		logging.FieldSessionID, session.ID().String(),
		logging.FieldFile, fileName,
	)
	return session, nil
}

// Session looks up a live session.
func (s *Service) Session(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "%s", id)
	}
	return session, nil
}

// Discard drops a session. A session with an upload in flight is kept.
func (s *Service) Discard(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return errors.Wrapf(ErrSessionNotFound, "%s", id)
	}
	if err := session.Reset(); err != nil {
		return err
	}
	delete(s.sessions, id)
	s.logger.Infow("session discarded", logging.FieldSessionID, id.String())
	return nil
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// PruneCompleted drops sessions that finished uploading.
func (s *Service) PruneCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.State().UploadStatus == domain.UploadSuccess {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// IssueLister reads back what an IssueLog recorded for a session.
type IssueLister interface {
	List(ctx context.Context, sessionID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

// Logs lists the recorded skipped rows and upload failures of a session.
// Entries outlive the session, so id need not be live.
func (s *Service) Logs(ctx context.Context, id uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	lister, ok := s.issueLog.(IssueLister)
	if !ok {
		return []domain.IngestionLogEntry{}, nil
	}
	entries, err := lister.List(ctx, id, limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "list logs for session %s", id)
	}
	return entries, nil
}

// Sweep reports, and optionally removes, metadata records for species that
// never received their CSV artifact.
func (s *Service) Sweep(ctx context.Context, species string, olderThan time.Duration, remove bool) ([]string, error) {
	if s.uploader == nil {
		return nil, errors.New("service has no uploader")
	}
	return s.uploader.Sweep(ctx, species, olderThan, remove)
}

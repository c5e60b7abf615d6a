package ingestion

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/herdtrack/internal/domain"
	"github.com/rpattn/herdtrack/internal/logging"
	"github.com/rpattn/herdtrack/internal/store"
)

const defaultMaxUploadBytes = 32 << 20

// BlobOpener serves stored artifacts by path and signed token.
type BlobOpener interface {
	Open(path, token string) ([]byte, error)
}

// Handler exposes the import wizard as a JSON API.
type Handler struct {
	service        *Service
	blobs          BlobOpener
	maxUploadBytes int64
	logger         *zap.SugaredLogger
	router         chi.Router
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithBlobOpener serves GET /blobs/* from blobs.
func WithBlobOpener(blobs BlobOpener) HandlerOption {
	return func(h *Handler) {
		h.blobs = blobs
	}
}

func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func WithHandlerLogger(logger *zap.SugaredLogger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHTTPHandler wires the wizard routes around service.
func NewHTTPHandler(service *Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:        service,
		maxUploadBytes: defaultMaxUploadBytes,
		logger:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.handleState)
		r.Delete("/", h.handleDiscard)
		r.Get("/logs", h.handleLogs)
		r.Get("/suggestion", h.handleSuggestion)
		r.Put("/mapping", h.handleSetMapping)
		r.Put("/timestamp", h.handleSetTimestamp)
		r.Put("/details", h.handleSetDetails)
		r.Put("/display-names", h.handleSetDisplayNames)
		r.Put("/skip", h.handleSetSkip)
		r.Post("/validate", h.handleValidate)
		r.Get("/preview", h.handlePreview)
		r.Post("/next", h.handleNext)
		r.Post("/back", h.handleBack)
		r.Post("/upload", h.handleUpload)
	})
	r.Post("/sweep/{species}", h.handleSweep)
	r.Get("/blobs/*", h.handleBlob)
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type validationResponse struct {
	IsValid      bool                  `json:"isValid"`
	Errors       []string              `json:"errors"`
	Warnings     []string              `json:"warnings"`
	ErrorCount   int                   `json:"errorCount"`
	WarningCount int                   `json:"warningCount"`
	Issues       []domain.Issue        `json:"issues"`
	Preview      []domain.ProcessedRow `json:"processedPreviewData"`
}

type skipPayload struct {
	Enabled bool `json:"enabled"`
}

type errorResponse struct {
	Error string   `json:"error"`
	Hints []string `json:"hints,omitempty"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid form data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "file required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "failed to read file"))
		return
	}

	session, err := h.service.StartSession(r.Context(), header.Filename, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session.State())
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid session id"))
		return
	}
	if err := h.service.Discard(id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid session id"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.Logs(r.Context(), id, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	suggestion, err := session.SuggestedMapping()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (h *Handler) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	var mapping domain.ColumnMapping
	h.update(w, r, &mapping, func(s *Session) error {
		return s.SetMapping(mapping)
	})
}

func (h *Handler) handleSetTimestamp(w http.ResponseWriter, r *http.Request) {
	var cfg domain.TimestampConfig
	h.update(w, r, &cfg, func(s *Session) error {
		return s.SetTimestampConfig(cfg)
	})
}

func (h *Handler) handleSetDetails(w http.ResponseWriter, r *http.Request) {
	var details domain.AnimalDetails
	h.update(w, r, &details, func(s *Session) error {
		return s.SetAnimalDetails(details)
	})
}

func (h *Handler) handleSetDisplayNames(w http.ResponseWriter, r *http.Request) {
	names := map[string]string{}
	h.update(w, r, &names, func(s *Session) error {
		return s.SetDisplayNames(names)
	})
}

func (h *Handler) handleSetSkip(w http.ResponseWriter, r *http.Request) {
	var payload skipPayload
	h.update(w, r, &payload, func(s *Session) error {
		_, err := s.SetSkipInvalidRows(payload.Enabled)
		return err
	})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	result, err := session.Validate(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderValidation(result, session.cfg.DisplayLimit))
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	result, err := session.Preview(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderValidation(result, session.cfg.DisplayLimit))
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Next(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Back(); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Upload(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Hour
	if raw := strings.TrimSpace(r.URL.Query().Get("olderThan")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid olderThan"))
			return
		}
		olderThan = parsed
	}
	remove, _ := strconv.ParseBool(r.URL.Query().Get("remove"))

	paths, err := h.service.Sweep(r.Context(), chi.URLParam(r, "species"), olderThan, remove)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": paths,
		"removed": remove,
	})
}

func (h *Handler) handleBlob(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, errors.New("blob downloads are not enabled"))
		return
	}
	path := chi.URLParam(r, "*")
	// chi routes on RawPath when it is set, leaving the wildcard escaped
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(path)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid blob path"))
			return
		}
		path = unescaped
	}
	data, err := h.blobs.Open(path, r.URL.Query().Get("token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		name = path[idx+1:]
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid session id"))
		return nil, false
	}
	session, err := h.service.Session(id)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return session, true
}

// update decodes the body into dst, applies fn and responds with the new state.
func (h *Handler) update(w http.ResponseWriter, r *http.Request, dst any, fn func(*Session) error) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if err := fn(session); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("request failed",
			logging.FieldMethod, r.Method,
			logging.FieldPath, r.URL.Path,
			logging.FieldError, err,
		)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.IsAny(err, ErrSessionNotFound, store.ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, ErrUnsupportedFormat, ErrEmptyFile, ErrNoHeader, ErrUnknownColumn, ErrInvalidTimestampConfig, store.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInvalidToken):
		return http.StatusForbidden
	case errors.IsAny(err, ErrWrongStep, ErrUploadInFlight, ErrAlreadyUploaded):
		return http.StatusConflict
	case errors.IsAny(err, ErrStepBlocked, ErrAllRowsInvalid, ErrInvalidDetails):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func renderValidation(result domain.ValidationResult, limit int) validationResponse {
	errs, warnings := result.Display(limit)
	issues := make([]domain.Issue, 0, len(result.Errors)+len(result.Warnings))
	issues = append(issues, result.Errors...)
	issues = append(issues, result.Warnings...)
	return validationResponse{
		IsValid:      result.IsValid,
		Errors:       errs,
		Warnings:     warnings,
		ErrorCount:   len(result.Errors),
		WarningCount: len(result.Warnings),
		Issues:       issues,
		Preview:      result.Preview,
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Hints: errors.GetAllHints(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

package ingestion

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/herdtrack/internal/domain"
	"github.com/rpattn/herdtrack/internal/logging"
)

const msgAllRowsInvalid = "All rows contain errors. Please correct the file and upload it again."

// IssueLog receives skipped rows and upload failures.
type IssueLog interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
}

// SessionConfig tunes a wizard session.
type SessionConfig struct {
	// SampleLimit bounds the rows handed to the column classifier.
	SampleLimit            int
	PreviewRows            int
	DisplayLimit           int
	ChunkSize              int
	Workers                int
	ClassifierCacheSize    int
	DefaultIntervalMinutes int
}

// DefaultSessionConfig returns the stock session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SampleLimit:            DefaultSampleLimit,
		PreviewRows:            DefaultPreviewRows,
		DisplayLimit:           DefaultDisplayLimit,
		ChunkSize:              DefaultChunkSize,
		ClassifierCacheSize:    32,
		DefaultIntervalMinutes: DefaultIntervalMinutes,
	}
}

// SessionState is a point in time snapshot of a session.
type SessionState struct {
	ID              uuid.UUID              `json:"id"`
	Step            domain.WizardStep      `json:"step"`
	FileName        string                 `json:"fileName"`
	Headers         []string               `json:"headers"`
	RowCount        int                    `json:"rowCount"`
	ActiveRowCount  int                    `json:"activeRowCount"`
	Mapping         domain.ColumnMapping   `json:"mapping"`
	TimestampConfig domain.TimestampConfig `json:"timestampConfig"`
	Details         *domain.AnimalDetails  `json:"details,omitempty"`
	DisplayNames    map[string]string      `json:"displayNames"`
	SkipInvalidRows bool                   `json:"skipInvalidRows"`
	SkippedRows     int                    `json:"skippedRows"`
	AllRowsInvalid  bool                   `json:"allRowsInvalid"`
	IsValid         bool                   `json:"isValid"`
	Errors          []string               `json:"errors"`
	Warnings        []string               `json:"warnings"`
	ErrorCount      int                    `json:"errorCount"`
	WarningCount    int                    `json:"warningCount"`
	Preview         []domain.ProcessedRow  `json:"processedPreviewData"`
	UploadProgress  int                    `json:"uploadProgress"`
	UploadStatus    domain.UploadStatus    `json:"uploadStatus"`
	Result          *UploadResult          `json:"result,omitempty"`
}

// Session owns one file's trip through the import wizard. All methods are
// safe for concurrent use; at most one upload runs at a time.
type Session struct {
	mu sync.Mutex

	id         uuid.UUID
	cfg        SessionConfig
	classifier *Classifier
	uploader   *Uploader
	validate   *validator.Validate
	issueLog   IssueLog
	logger     *zap.SugaredLogger
	metrics    *Metrics

	step         domain.WizardStep
	fileName     string
	headers      []string
	rows         []domain.Row
	mapping      domain.ColumnMapping
	tsConfig     domain.TimestampConfig
	details      *domain.AnimalDetails
	displayNames map[string]string
	skipInvalid  bool
	validated    bool
	validation   domain.ValidationResult
	skip         SkipResult
	uploadErrors []string
	progress     int
	status       domain.UploadStatus
	result       *UploadResult
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithSessionID(id uuid.UUID) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

func WithSessionConfig(cfg SessionConfig) SessionOption {
	return func(s *Session) {
		s.cfg = cfg
	}
}

func WithSessionLogger(logger *zap.SugaredLogger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithIssueLog records skipped rows and upload failures to log.
func WithIssueLog(log IssueLog) SessionOption {
	return func(s *Session) {
		s.issueLog = log
	}
}

// NewSession creates an empty session at the upload step.
func NewSession(uploader *Uploader, opts ...SessionOption) (*Session, error) {
	s := &Session{
		id:       uuid.New(),
		cfg:      DefaultSessionConfig(),
		uploader: uploader,
		validate: newDetailsValidator(),
		logger:   zap.NewNop().Sugar(),
		status:   domain.UploadIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	classifier, err := NewClassifier(s.cfg.ClassifierCacheSize)
	if err != nil {
		return nil, err
	}
	s.classifier = classifier
	s.logger = s.logger.With(logging.FieldSessionID, s.id.String())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// LoadFile parses payload and replaces whatever the session held. A parse
// failure leaves the session empty.
func (s *Session) LoadFile(ctx context.Context, fileName string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.UploadUploading {
		return ErrUploadInFlight
	}
	s.resetLocked()

	table, err := ParseTable(fileName, payload)
	if err != nil {
		s.logger.Warnw("file rejected", logging.FieldFile, fileName, logging.FieldError, err)
		return err
	}

	s.fileName = fileName
	s.headers = table.Headers
	s.rows = table.Rows

	suggestion := s.classifier.Classify(ClassifyInput{
		Headers: s.headers,
		Sample:  s.sampleLocked(),
	})
	s.mapping = suggestion.Mapping
	s.tsConfig = s.withIntervalDefault(suggestion.TimestampConfig)

	s.logger.Infow("file loaded",
		logging.FieldFile, fileName,
		logging.FieldCount, len(s.rows),
		"timestamp_format", s.tsConfig.Format,
	)
	return nil
}

// SuggestedMapping classifies the loaded file, keeping fields already mapped.
func (s *Session) SuggestedMapping() (Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers == nil {
		return Classification{}, errors.Wrap(ErrWrongStep, "no file loaded")
	}
	return s.classifier.Classify(ClassifyInput{
		Headers:        s.headers,
		Sample:         s.sampleLocked(),
		Previous:       s.mapping,
		PreviousConfig: s.tsConfig,
	}), nil
}

// SetMapping replaces the column mapping. Every mapped header must exist in the file.
func (s *Session) SetMapping(mapping domain.ColumnMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return err
	}
	if err := s.checkColumnsLocked(mapping.Columns()...); err != nil {
		return err
	}
	s.mapping = mapping
	if mapping.DateColumn != "" && mapping.TimeColumn != "" {
		s.tsConfig.DateColumn = mapping.DateColumn
		s.tsConfig.TimeColumn = mapping.TimeColumn
	}
	s.revalidateLocked()
	return nil
}

// SetTimestampConfig replaces the timestamp strategy.
func (s *Session) SetTimestampConfig(cfg domain.TimestampConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return err
	}
	if !cfg.Format.Valid() {
		return errors.Wrapf(ErrInvalidTimestampConfig, "format %q", cfg.Format)
	}
	if err := s.checkColumnsLocked(cfg.DateColumn, cfg.TimeColumn); err != nil {
		return err
	}
	s.tsConfig = s.withIntervalDefault(cfg)
	s.revalidateLocked()
	return nil
}

// SetAnimalDetails validates and stores the metadata written with the dataset.
func (s *Session) SetAnimalDetails(details domain.AnimalDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return err
	}
	if err := s.validate.Struct(details); err != nil {
		return detailsError(err)
	}
	s.details = &details
	return nil
}

// SetDisplayNames sets the header renames applied to the uploaded artifact.
func (s *Session) SetDisplayNames(names map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return err
	}
	copied := make(map[string]string, len(names))
	for header, name := range names {
		if err := s.checkColumnsLocked(header); err != nil {
			return err
		}
		if name = strings.TrimSpace(name); name != "" {
			copied[header] = name
		}
	}
	s.displayNames = copied
	return nil
}

// SetSkipInvalidRows toggles skip-and-continue and returns the current filter outcome.
func (s *Session) SetSkipInvalidRows(enabled bool) (SkipResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return SkipResult{}, err
	}
	s.skipInvalid = enabled
	s.revalidateLocked()
	return s.skip, nil
}

// Validate checks every parsed row against the current mapping and timestamp
// config. The filter is re-applied to the new, uncapped error list.
func (s *Session) Validate(ctx context.Context) (domain.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers == nil {
		return domain.ValidationResult{}, errors.Wrap(ErrWrongStep, "no file loaded")
	}
	s.validateLocked()
	return s.validation, nil
}

// Preview validates the rows that would be uploaded and reconciles the first
// few for display.
func (s *Session) Preview(ctx context.Context) (domain.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers == nil {
		return domain.ValidationResult{}, errors.Wrap(ErrWrongStep, "no file loaded")
	}
	return Validate(s.activeRowsLocked(), s.mapping, s.tsConfig, ValidateOptions{
		CheckRequiredColumns: true,
		SampleLimit:          DefaultSampleLimit,
		PreviewRows:          s.cfg.PreviewRows,
	}), nil
}

// Next advances one step when the current step's guard allows it.
func (s *Session) Next(ctx context.Context) (domain.WizardStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.UploadUploading {
		return s.step, ErrUploadInFlight
	}

	switch s.step {
	case domain.StepUpload:
		if s.headers == nil {
			return s.step, errors.Wrap(ErrStepBlocked, "no file loaded")
		}
		if len(s.rows) == 0 {
			return s.step, errors.Wrap(ErrStepBlocked, msgNoData)
		}
		s.step = domain.StepValidate
		s.validateLocked()

	case domain.StepValidate:
		if !s.validated {
			s.validateLocked()
		}
		if blocking := s.validation.BlockingErrors(); len(blocking) > 0 {
			return s.step, errors.Wrap(ErrStepBlocked, blocking[0].Message)
		}
		if s.skip.AllRowsInvalid {
			return s.step, ErrAllRowsInvalid
		}
		s.step = domain.StepMapColumns
		s.validateLocked()

	case domain.StepMapColumns:
		if !s.mapping.HasCoordinates() {
			return s.step, errors.Wrap(ErrStepBlocked, "latitude and longitude must be mapped")
		}
		if err := s.timestampSourceLocked(); err != nil {
			return s.step, err
		}
		s.step = domain.StepConfigureTimestamps
		s.validateLocked()

	case domain.StepConfigureTimestamps:
		if err := s.readyForDetailsLocked(); err != nil {
			return s.step, err
		}
		s.step = domain.StepAnimalDetails

	case domain.StepAnimalDetails:
		if s.details == nil {
			return s.step, errors.Wrap(ErrStepBlocked, "animal details are required")
		}
		s.step = domain.StepPreviewAndUpload

	case domain.StepPreviewAndUpload:
		return s.step, errors.Wrap(ErrWrongStep, "use upload to complete the session")

	default:
		return s.step, errors.Wrap(ErrWrongStep, "session is complete")
	}

	s.logger.Debugw("step advanced", logging.FieldStep, s.step.String())
	return s.step, nil
}

// Back returns to the previous step. It is a no-op at the first step.
func (s *Session) Back() (domain.WizardStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return s.step, err
	}
	if s.step > domain.StepUpload {
		s.step--
	}
	return s.step, nil
}

// Upload reconciles the surviving rows and writes them through the uploader.
// Failures are appended to the session's error list and leave the session at
// the preview step so the user can retry.
func (s *Session) Upload(ctx context.Context) (UploadResult, error) {
	s.mu.Lock()
	switch {
	case s.status == domain.UploadUploading:
		s.mu.Unlock()
		return UploadResult{}, ErrUploadInFlight
	case s.status == domain.UploadSuccess || s.step == domain.StepComplete:
		s.mu.Unlock()
		return UploadResult{}, ErrAlreadyUploaded
	case s.step != domain.StepPreviewAndUpload:
		s.mu.Unlock()
		return UploadResult{}, errors.Wrapf(ErrWrongStep, "upload requires %s, session is at %s", domain.StepPreviewAndUpload, s.step)
	case s.uploader == nil:
		s.mu.Unlock()
		return UploadResult{}, errors.New("session has no uploader")
	}
	if err := s.readyForDetailsLocked(); err != nil {
		s.mu.Unlock()
		return UploadResult{}, err
	}
	if s.details == nil {
		s.mu.Unlock()
		return UploadResult{}, errors.Wrap(ErrStepBlocked, "animal details are required")
	}

	rows := s.activeRowsLocked()
	cfg, mapping := s.tsConfig, s.mapping
	req := UploadRequest{
		SessionID:    s.id,
		FileName:     s.fileName,
		Details:      *s.details,
		Headers:      append([]string(nil), s.headers...),
		Mapping:      mapping,
		DisplayNames: s.displayNames,
	}
	var (
		skipped     []domain.Issue
		skippedRows int
	)
	if s.skipInvalid {
		skipped = s.skippedIssuesLocked()
		skippedRows = s.skip.Removed
	}
	s.status = domain.UploadUploading
	s.progress = 0
	s.mu.Unlock()

	started := time.Now()
	processed, err := ProcessRows(ctx, rows, cfg, mapping, ChunkOptions{
		ChunkSize: s.cfg.ChunkSize,
		Workers:   s.cfg.Workers,
	})
	var result UploadResult
	if err == nil {
		req.Rows = processed
		result, err = s.uploader.Upload(ctx, req, s.setProgress)
	}

	s.mu.Lock()
	if err != nil {
		s.status = domain.UploadError
		s.uploadErrors = append(s.uploadErrors, "Upload failed: "+err.Error())
		s.mu.Unlock()

		s.logger.Errorw("upload failed", logging.FieldSpecies, req.Details.Species, logging.FieldError, err)
		s.record(ctx, req, nil, err.Error())
		return result, err
	}
	s.status = domain.UploadSuccess
	s.progress = 100
	s.step = domain.StepComplete
	s.result = &result
	s.mu.Unlock()

	s.metrics.observeSkipped(skippedRows)
	for _, issue := range skipped {
		s.record(ctx, req, issue.Row, issue.Message)
	}
	s.logger.Infow("session uploaded",
		logging.FieldSpecies, result.Species,
		logging.FieldAnimalID, result.AnimalID,
		logging.FieldCount, result.RowsWritten,
		logging.FieldDurationMS, time.Since(started).Milliseconds(),
	)
	return result, nil
}

// Reset discards the file and every choice made for it.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.UploadUploading {
		return ErrUploadInFlight
	}
	s.resetLocked()
	return nil
}

// State returns a snapshot suitable for rendering.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs, warnings := s.validation.Display(s.cfg.DisplayLimit)
	if s.skip.AllRowsInvalid {
		errs = append(errs, msgAllRowsInvalid)
	}
	errs = append(errs, s.uploadErrors...)

	state := SessionState{
		ID:              s.id,
		Step:            s.step,
		FileName:        s.fileName,
		Headers:         append([]string{}, s.headers...),
		RowCount:        len(s.rows),
		ActiveRowCount:  len(s.activeRowsLocked()),
		Mapping:         s.mapping,
		TimestampConfig: s.tsConfig,
		DisplayNames:    map[string]string{},
		SkipInvalidRows: s.skipInvalid,
		AllRowsInvalid:  s.skip.AllRowsInvalid,
		IsValid:         s.validated && s.validation.IsValid,
		Errors:          errs,
		Warnings:        warnings,
		ErrorCount:      len(s.validation.Errors) + len(s.uploadErrors),
		WarningCount:    len(s.validation.Warnings),
		Preview:         s.validation.Preview,
		UploadProgress:  s.progress,
		UploadStatus:    s.status,
		Result:          s.result,
	}
	if s.skipInvalid {
		state.SkippedRows = s.skip.Removed
	}
	if s.details != nil {
		details := *s.details
		state.Details = &details
	}
	for k, v := range s.displayNames {
		state.DisplayNames[k] = v
	}
	if state.Preview == nil {
		state.Preview = []domain.ProcessedRow{}
	}
	return state
}

func (s *Session) setProgress(percent int) {
	s.mu.Lock()
	if percent > s.progress {
		s.progress = percent
	}
	s.mu.Unlock()
}

func (s *Session) record(ctx context.Context, req UploadRequest, row *int, message string) {
	if s.issueLog == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		ID:           uuid.New(),
		SessionID:    req.SessionID,
		Species:      req.Details.Species,
		FileName:     req.FileName,
		RowNumber:    row,
		ErrorMessage: message,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.issueLog.Record(ctx, entry); err != nil {
		s.logger.Warnw("failed to record ingestion log entry", logging.FieldError, err)
	}
}

// validateLocked runs the validator over every parsed row and recomputes the
// skip filter from the full error list.
func (s *Session) validateLocked() {
	s.validation = Validate(s.rows, s.mapping, s.tsConfig, ValidateOptions{
		CheckRequiredColumns: s.step > domain.StepMapColumns,
		PreviewRows:          s.cfg.PreviewRows,
	})
	s.skip = SkipInvalidRows(s.rows, s.validation.Errors, s.cfg.PreviewRows)
	s.validated = true
	if s.skipInvalid {
		preview := make([]domain.ProcessedRow, 0, len(s.skip.Preview))
		for idx, row := range s.skip.Preview {
			preview = append(preview, ProcessRow(row, idx, s.tsConfig, s.mapping))
		}
		s.validation.Preview = preview
	}
	s.metrics.observeIssues(len(s.validation.Errors), len(s.validation.Warnings))
}

func (s *Session) revalidateLocked() {
	if s.step >= domain.StepValidate {
		s.validateLocked()
	}
}

// readyForDetailsLocked guards the later steps: the mapping must still hold
// coordinates and row errors must either be absent or skipped.
func (s *Session) readyForDetailsLocked() error {
	if !s.tsConfig.Format.Valid() {
		return errors.Wrapf(ErrInvalidTimestampConfig, "format %q", s.tsConfig.Format)
	}
	if err := s.timestampSourceLocked(); err != nil {
		return err
	}
	if s.tsConfig.Format == domain.TimestampInterval {
		if _, err := intervalStart(s.tsConfig); err != nil {
			return errors.WithHint(
				errors.Wrapf(ErrInvalidTimestampConfig, "interval start %q %q", s.tsConfig.StartDate, s.tsConfig.StartTime),
				"set a start date such as 2024-01-01 for interval timestamps",
			)
		}
	}
	if !s.validated {
		s.validateLocked()
	}
	if blocking := s.validation.BlockingErrors(); len(blocking) > 0 {
		return errors.Wrap(ErrStepBlocked, blocking[0].Message)
	}
	if s.skip.AllRowsInvalid {
		return ErrAllRowsInvalid
	}
	if s.skip.Removed > 0 && !s.skipInvalid {
		return errors.WithHint(
			errors.Wrapf(ErrStepBlocked, "%d rows have errors", s.skip.Removed),
			"enable skip invalid rows or fix the file",
		)
	}
	return nil
}

// timestampSourceLocked requires mapped timestamp columns unless timestamps
// are generated from an interval.
func (s *Session) timestampSourceLocked() error {
	if s.mapping.HasTimestampSource() || s.tsConfig.Format == domain.TimestampInterval {
		return nil
	}
	return errors.WithHint(
		errors.Wrap(ErrStepBlocked, "map a timestamp column or both date and time columns"),
		"or choose interval timestamps to generate them",
	)
}

func (s *Session) activeRowsLocked() []domain.Row {
	if s.skipInvalid && s.validated {
		return s.skip.Rows
	}
	return s.rows
}

func (s *Session) skippedIssuesLocked() []domain.Issue {
	dropped := make(map[int]bool, len(s.skip.SkippedIndices))
	for _, idx := range s.skip.SkippedIndices {
		dropped[idx] = true
	}
	var out []domain.Issue
	for _, issue := range s.validation.Errors {
		if idx, ok := issue.RowIndex(); ok && dropped[idx] {
			out = append(out, issue)
		}
	}
	return out
}

func (s *Session) sampleLocked() []domain.Row {
	limit := s.cfg.SampleLimit
	if limit <= 0 || limit > len(s.rows) {
		limit = len(s.rows)
	}
	return s.rows[:limit]
}

func (s *Session) mutableLocked() error {
	switch {
	case s.status == domain.UploadUploading:
		return ErrUploadInFlight
	case s.step == domain.StepComplete:
		return ErrAlreadyUploaded
	case s.headers == nil:
		return errors.Wrap(ErrWrongStep, "no file loaded")
	}
	return nil
}

func (s *Session) checkColumnsLocked(columns ...string) error {
	for _, column := range columns {
		if column == "" {
			continue
		}
		found := false
		for _, header := range s.headers {
			if header == column {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(ErrUnknownColumn, "%q", column)
		}
	}
	return nil
}

func (s *Session) withIntervalDefault(cfg domain.TimestampConfig) domain.TimestampConfig {
	if cfg.Format == domain.TimestampInterval && cfg.Interval == nil {
		minutes := s.cfg.DefaultIntervalMinutes
		if minutes <= 0 {
			minutes = DefaultIntervalMinutes
		}
		cfg.Interval = &minutes
	}
	return cfg
}

func (s *Session) resetLocked() {
	s.step = domain.StepUpload
	s.fileName = ""
	s.headers = nil
	s.rows = nil
	s.mapping = domain.ColumnMapping{}
	s.tsConfig = domain.TimestampConfig{}
	s.details = nil
	s.displayNames = nil
	s.skipInvalid = false
	s.validated = false
	s.validation = domain.ValidationResult{}
	s.skip = SkipResult{}
	s.uploadErrors = nil
	s.progress = 0
	s.status = domain.UploadIdle
	s.result = nil
	s.classifier.Purge()
}

func newDetailsValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func detailsError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(ErrInvalidDetails, err.Error())
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Field()))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.Wrap(ErrInvalidDetails, strings.Join(messages, "; "))
}

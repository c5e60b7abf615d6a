package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/herdtrack/internal/domain"
	"github.com/rpattn/herdtrack/internal/logging"
	"github.com/rpattn/herdtrack/internal/store"
)

const (
	// DefaultBatchSize is the number of rows per mirror batch.
	DefaultBatchSize = 100
	// DefaultTimestampColumn names the reconciled timestamp column in uploaded CSVs.
	DefaultTimestampColumn = "timestamp"

	analysisRoot = "AnalysisData"
	counterRoot  = "Counters"
)

// Upload saga states stored on the metadata record.
const (
	StatePending  = "pending"
	StateStored   = "stored"
	StateComplete = "complete"
)

// UploadRequest is a cleaned dataset ready for persistence.
type UploadRequest struct {
	SessionID uuid.UUID
	FileName  string
	Details   domain.AnimalDetails
	Headers   []string
	Rows      []domain.ProcessedRow
	Mapping   domain.ColumnMapping
	// DisplayNames renames headers in the uploaded artifact; unnamed headers keep their label.
	DisplayNames map[string]string
	// TimestampColumn names the reconciled timestamp column; empty uses DefaultTimestampColumn.
	TimestampColumn string
	// OmitTimestamp leaves the reconciled timestamp out of the artifact.
	OmitTimestamp bool
}

// UploadResult describes what was written.
type UploadResult struct {
	Species      string `json:"species"`
	AnimalID     int64  `json:"animalId"`
	RecordPath   string `json:"recordPath"`
	CSVURL       string `json:"csvDownloadURL"`
	RowsWritten  int    `json:"rowsWritten"`
	MirroredRows int    `json:"mirroredRows"`
}

// ProgressFunc receives integer percentages in [0,100], never decreasing.
type ProgressFunc func(percent int)

// Uploader performs the final write of a dataset: metadata record, CSV
// artifact, and an optional row mirror. The steps are not atomic; the
// uploadState field on the record tells how far an upload got, and Sweep
// finds records left without an artifact.
type Uploader struct {
	docs      store.DocumentStore
	blobs     store.BlobStore
	mirror    store.BatchWriter
	batchSize int
	logger    *zap.SugaredLogger
	metrics   *Metrics
	now       func() time.Time
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithMirror enables batch mirroring of rows into w.
func WithMirror(w store.BatchWriter) UploaderOption {
	return func(u *Uploader) {
		u.mirror = w
	}
}

// WithBatchSize overrides the mirror batch size.
func WithBatchSize(size int) UploaderOption {
	return func(u *Uploader) {
		if size > 0 {
			u.batchSize = size
		}
	}
}

func WithUploaderLogger(logger *zap.SugaredLogger) UploaderOption {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func WithUploaderMetrics(m *Metrics) UploaderOption {
	return func(u *Uploader) {
		u.metrics = m
	}
}

// NewUploader wires an uploader over the document and blob stores.
func NewUploader(docs store.DocumentStore, blobs store.BlobStore, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		docs:      docs,
		blobs:     blobs,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop().Sugar(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload persists req. progress may be nil.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest, progress ProgressFunc) (UploadResult, error) {
	started := u.now()
	result, err := u.upload(ctx, req, progress)
	if err != nil {
		u.metrics.observeUpload("error", 0, u.now().Sub(started))
		return result, err
	}
	u.metrics.observeUpload("success", result.RowsWritten, u.now().Sub(started))
	return result, nil
}

func (u *Uploader) upload(ctx context.Context, req UploadRequest, progress ProgressFunc) (UploadResult, error) {
	var result UploadResult
	report := progressReporter(progress)

	species := store.SanitizeKey(strings.TrimSpace(req.Details.Species))
	if species == "" {
		return result, errors.Wrap(ErrInvalidDetails, "species is required")
	}
	if len(req.Rows) == 0 {
		return result, errors.New("no rows to upload")
	}
	result.Species = species
	report(0)

	columns, records, renamed, err := renameRows(req)
	if err != nil {
		return result, err
	}
	log := u.logger.With(logging.FieldSessionID, req.SessionID.String(), logging.FieldSpecies, species)

	animalID, err := u.allocateID(ctx, species)
	if err != nil {
		return result, errors.Wrap(err, "allocate animal id")
	}
	result.AnimalID = animalID
	idKey := strconv.FormatInt(animalID, 10)
	recordPath := store.JoinPath(analysisRoot, species, idKey)
	result.RecordPath = recordPath
	log = log.With(logging.FieldAnimalID, animalID)

	record := req.Details.Record()
	record["uploadState"] = StatePending
	record["createdAt"] = u.now().UTC().Format(time.RFC3339)
	record["rowCount"] = len(records)
	record["sourceFile"] = req.FileName
	record["columns"] = columns
	record["columnMapping"] = renamed
	if err := u.docs.Set(ctx, recordPath, record); err != nil {
		return result, errors.Wrap(err, "write animal record")
	}
	log.Debugw("animal record written", logging.FieldPath, recordPath)

	payload, err := EncodeCSV(columns, records)
	if err != nil {
		return result, err
	}
	csvURL, err := u.blobs.Upload(ctx, store.JoinPath(analysisRoot, species, idKey+".csv"), payload)
	if err != nil {
		return result, errors.WithHint(
			errors.Wrap(err, "upload csv artifact"),
			fmt.Sprintf("record %s was written without csvDownloadURL", recordPath),
		)
	}
	result.CSVURL = csvURL
	if err := u.docs.Update(ctx, recordPath, map[string]any{
		"csvDownloadURL": csvURL,
		"uploadState":    StateStored,
	}); err != nil {
		return result, errors.Wrap(err, "attach csv url to record")
	}
	if err := u.verifyArtifact(ctx, csvURL, len(records)); err != nil {
		return result, err
	}
	result.RowsWritten = len(records)
	log.Debugw("csv artifact stored", logging.FieldCount, len(records))

	if u.mirror != nil {
		mirrored, err := u.mirrorRows(ctx, store.MirrorKey{Species: species, AnimalID: animalID}, records, report)
		if err != nil {
			return result, err
		}
		result.MirroredRows = mirrored
	}

	if err := u.docs.Update(ctx, recordPath, map[string]any{
		"uploadState": StateComplete,
		"completedAt": u.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return result, errors.Wrap(err, "mark record complete")
	}

	report(100)
	log.Infow("upload complete", logging.FieldCount, len(records), "url", csvURL)
	return result, nil
}

// allocateID reserves the next sequential id for species through an atomic
// counter. The counter is seeded from the largest id already stored.
func (u *Uploader) allocateID(ctx context.Context, species string) (int64, error) {
	seed, err := u.maxExistingID(ctx, species)
	if err != nil {
		return 0, err
	}
	value, err := u.docs.Transaction(ctx, store.JoinPath(counterRoot, analysisRoot, species), func(current any, exists bool) (any, error) {
		next := seed
		if exists {
			if n, ok := toInt64(current); ok && n > next {
				next = n
			}
		}
		return next + 1, nil
	})
	if err != nil {
		return 0, err
	}
	id, ok := toInt64(value)
	if !ok {
		return 0, errors.Newf("counter holds non numeric value %v", value)
	}
	return id, nil
}

func (u *Uploader) maxExistingID(ctx context.Context, species string) (int64, error) {
	node, exists, err := u.docs.Get(ctx, store.JoinPath(analysisRoot, species))
	if err != nil {
		return 0, errors.Wrap(err, "read species records")
	}
	if !exists {
		return 0, nil
	}
	children, ok := node.(map[string]any)
	if !ok {
		return 0, nil
	}
	var maxID int64
	for key := range children {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil && id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

func (u *Uploader) verifyArtifact(ctx context.Context, url string, expected int) error {
	data, err := u.blobs.Download(ctx, url)
	if err != nil {
		return errors.Wrap(err, "read back csv artifact")
	}
	table, err := ParseTable("artifact.csv", data)
	if err != nil {
		return errors.Wrap(err, "parse stored csv artifact")
	}
	if len(table.Rows) != expected {
		return errors.Wrapf(ErrVerificationFailed, "artifact has %d rows, expected %d", len(table.Rows), expected)
	}
	return nil
}

// mirrorRows writes records in fixed size batches. Progress for the final
// batch is left to the caller so 100 is only reported after verification.
func (u *Uploader) mirrorRows(ctx context.Context, key store.MirrorKey, records []map[string]string, report ProgressFunc) (int, error) {
	total := len(records)
	for start := 0; start < total; start += u.batchSize {
		end := min(start+u.batchSize, total)
		if err := u.mirror.WriteBatch(ctx, key, start, records[start:end]); err != nil {
			return start, errors.Wrapf(err, "mirror rows %d-%d", start+1, end)
		}
		if end < total {
			report(end * 100 / total)
		}
		u.logger.Debugw("mirror batch committed",
			logging.FieldSpecies, key.Species,
			logging.FieldAnimalID, key.AnimalID,
			logging.FieldBatchSize, end-start,
		)
	}

	count, err := u.mirror.Count(ctx, key)
	if err != nil {
		return 0, errors.Wrap(err, "count mirrored rows")
	}
	if count != total {
		return count, errors.Wrapf(ErrVerificationFailed, "mirror holds %d rows, expected %d", count, total)
	}
	return count, nil
}

// Sweep lists metadata records for species that never received a CSV URL and
// are older than olderThan. With remove set they are deleted.
func (u *Uploader) Sweep(ctx context.Context, species string, olderThan time.Duration, remove bool) ([]string, error) {
	species = store.SanitizeKey(strings.TrimSpace(species))
	if species == "" {
		return nil, errors.New("species is required")
	}
	node, exists, err := u.docs.Get(ctx, store.JoinPath(analysisRoot, species))
	if err != nil {
		return nil, errors.Wrap(err, "read species records")
	}
	if !exists {
		return []string{}, nil
	}
	children, ok := node.(map[string]any)
	if !ok {
		return []string{}, nil
	}

	cutoff := u.now().Add(-olderThan)
	stale := []string{}
	for key, value := range children {
		record, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if url, _ := record["csvDownloadURL"].(string); url != "" {
			continue
		}
		if created, _ := record["createdAt"].(string); created != "" {
			if ts, err := time.Parse(time.RFC3339, created); err == nil && ts.After(cutoff) {
				continue
			}
		}
		stale = append(stale, store.JoinPath(analysisRoot, species, key))
	}
	sort.Strings(stale)

	if remove {
		for _, path := range stale {
			if err := u.docs.Set(ctx, path, nil); err != nil {
				return stale, errors.Wrapf(err, "remove %s", path)
			}
			u.logger.Infow("removed incomplete upload record", logging.FieldPath, path)
		}
	}
	return stale, nil
}

// renameRows applies display names, sanitizes keys for the document store and
// appends the reconciled timestamp. It returns the output column order, the
// renamed records and the mapping expressed in output column names.
func renameRows(req UploadRequest) ([]string, []map[string]string, map[string]string, error) {
	names := make(map[string]string, len(req.Headers))
	columns := make([]string, 0, len(req.Headers)+1)
	used := make(map[string]bool)
	claim := func(label string) string {
		base := store.SanitizeKey(strings.TrimSpace(label))
		if base == "" {
			base = fmt.Sprintf("column_%d", len(columns)+1)
		}
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		columns = append(columns, name)
		return name
	}

	for _, header := range req.Headers {
		label := header
		if display := strings.TrimSpace(req.DisplayNames[header]); display != "" {
			label = display
		}
		names[header] = claim(label)
	}
	timestampColumn := ""
	if !req.OmitTimestamp {
		timestampColumn = claim(firstNonEmpty(req.TimestampColumn, DefaultTimestampColumn))
	}

	records := make([]map[string]string, len(req.Rows))
	for idx, processed := range req.Rows {
		record := make(map[string]string, len(columns))
		for header, name := range names {
			record[name] = processed.Row[header]
		}
		if timestampColumn != "" {
			record[timestampColumn] = processed.Timestamp
		}
		records[idx] = record
	}

	var semantic map[string]string
	encoded, err := json.Marshal(req.Mapping)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "encode column mapping")
	}
	if err := json.Unmarshal(encoded, &semantic); err != nil {
		return nil, nil, nil, errors.Wrap(err, "decode column mapping")
	}
	renamed := map[string]string{}
	for field, header := range semantic {
		if name, ok := names[header]; ok {
			renamed[field] = name
		}
	}
	if timestampColumn != "" {
		renamed["processedTimestamp"] = timestampColumn
	}
	return columns, records, renamed, nil
}

func progressReporter(progress ProgressFunc) ProgressFunc {
	last := -1
	return func(percent int) {
		if progress == nil {
			return
		}
		percent = max(0, min(100, percent))
		if percent <= last {
			return
		}
		last = percent
		progress(percent)
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if math.Trunc(v) != v {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

package ingestion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/herdtrack/internal/domain"
	"github.com/rpattn/herdtrack/internal/store"
)

type failingBlobStore struct {
	err error
}

func (s *failingBlobStore) Upload(ctx context.Context, path string, data []byte) (string, error) {
	return "", s.err
}

func (s *failingBlobStore) Download(ctx context.Context, url string) ([]byte, error) {
	return nil, s.err
}

// truncatingBlobStore drops the last line of every upload.
type truncatingBlobStore struct {
	*store.MemoryBlobStore
}

func (s truncatingBlobStore) Upload(ctx context.Context, path string, data []byte) (string, error) {
	trimmed := data
	for i := len(data) - 2; i >= 0; i-- {
		if data[i] == '\n' {
			trimmed = data[:i+1]
			break
		}
	}
	return s.MemoryBlobStore.Upload(ctx, path, trimmed)
}

func processedRows(n int) []domain.ProcessedRow {
	rows := make([]domain.ProcessedRow, n)
	for i := range rows {
		rows[i] = domain.ProcessedRow{
			Row: domain.Row{
				"lat": fmt.Sprintf("-1.%d", i),
				"lon": "36.8",
			},
			Timestamp: fmt.Sprintf("2024-01-01T00:00:%02d.000Z", i%60),
		}
	}
	return rows
}

func uploadRequest(n int) UploadRequest {
	return UploadRequest{
		SessionID: uuid.New(),
		FileName:  "collar.csv",
		Details:   domain.AnimalDetails{Name: "Bella", Species: "cattle", Category: "livestock"},
		Headers:   []string{"lat", "lon"},
		Rows:      processedRows(n),
		Mapping:   domain.ColumnMapping{Latitude: "lat", Longitude: "lon"},
	}
}

func TestUploaderProgressAcrossBatches(t *testing.T) {
	docs := store.NewMemoryDocumentStore()
	mirror := store.NewMemoryBatchStore()
	uploader := NewUploader(docs, store.NewMemoryBlobStore(), WithMirror(mirror), WithBatchSize(100))

	var progress []int
	result, err := uploader.Upload(context.Background(), uploadRequest(250), func(p int) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 40, 80, 100}, progress)
	assert.Equal(t, 250, result.RowsWritten)
	assert.Equal(t, 250, result.MirroredRows)
	assert.Equal(t, 3, mirror.Batches())

	rows := mirror.Rows(store.MirrorKey{Species: "cattle", AnimalID: result.AnimalID})
	require.Len(t, rows, 250)
	assert.Equal(t, "-1.0", rows[0]["lat"])
	assert.Equal(t, "-1.249", rows[249]["lat"])
}

func TestUploaderWritesRecordAndArtifact(t *testing.T) {
	docs := store.NewMemoryDocumentStore()
	blobs := store.NewMemoryBlobStore()
	uploader := NewUploader(docs, blobs)

	req := uploadRequest(3)
	req.DisplayNames = map[string]string{"lat": "Latitude (deg)", "lon": "gps.lon"}

	var progress []int
	result, err := uploader.Upload(context.Background(), req, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{0, 100}, progress)
	assert.Equal(t, "cattle", result.Species)
	assert.Equal(t, int64(1), result.AnimalID)
	assert.Equal(t, "AnalysisData/cattle/1", result.RecordPath)
	assert.Equal(t, "memory://AnalysisData/cattle/1.csv", result.CSVURL)

	value, ok, err := docs.Get(context.Background(), result.RecordPath)
	require.NoError(t, err)
	require.True(t, ok)
	record := value.(map[string]any)
	assert.Equal(t, "Bella", record["name"])
	assert.Equal(t, "livestock", record["category"])
	assert.Equal(t, StateComplete, record["uploadState"])
	assert.Equal(t, result.CSVURL, record["csvDownloadURL"])
	assert.Equal(t, float64(3), record["rowCount"])
	assert.Equal(t, "collar.csv", record["sourceFile"])
	assert.Equal(t, []any{"Latitude (deg)", "gps_lon", "timestamp"}, record["columns"])
	assert.Equal(t, map[string]any{
		"latitude":           "Latitude (deg)",
		"longitude":          "gps_lon",
		"processedTimestamp": "timestamp",
	}, record["columnMapping"])
	assert.NotEmpty(t, record["completedAt"])

	payload, err := blobs.Download(context.Background(), result.CSVURL)
	require.NoError(t, err)
	table, err := ParseTable("artifact.csv", payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"Latitude (deg)", "gps_lon", "timestamp"}, table.Headers)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "-1.2", table.Rows[2]["Latitude (deg)"])
	assert.Equal(t, "2024-01-01T00:00:02.000Z", table.Rows[2]["timestamp"])
}

func TestUploaderAllocatesSequentialIDs(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryDocumentStore()
	require.NoError(t, docs.Set(ctx, "AnalysisData/cattle/7", map[string]any{"name": "legacy"}))
	uploader := NewUploader(docs, store.NewMemoryBlobStore())

	first, err := uploader.Upload(ctx, uploadRequest(1), nil)
	require.NoError(t, err)
	second, err := uploader.Upload(ctx, uploadRequest(1), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(8), first.AnimalID)
	assert.Equal(t, int64(9), second.AnimalID)

	other := uploadRequest(1)
	other.Details.Species = "red.deer"
	third, err := uploader.Upload(ctx, other, nil)
	require.NoError(t, err)
	assert.Equal(t, "red_deer", third.Species)
	assert.Equal(t, int64(1), third.AnimalID)
}

func TestUploaderRenameAvoidsCollisions(t *testing.T) {
	req := uploadRequest(1)
	req.Headers = []string{"x.1", "x_1", "timestamp"}
	req.Rows = []domain.ProcessedRow{{
		Row:       domain.Row{"x.1": "a", "x_1": "b", "timestamp": "raw"},
		Timestamp: "2024-01-01T00:00:00",
	}}

	columns, records, _, err := renameRows(req)
	require.NoError(t, err)

	assert.Equal(t, []string{"x_1", "x_1_2", "timestamp", "timestamp_2"}, columns)
	assert.Equal(t, map[string]string{
		"x_1":         "a",
		"x_1_2":       "b",
		"timestamp":   "raw",
		"timestamp_2": "2024-01-01T00:00:00",
	}, records[0])
}

func TestUploaderRenameMapsSemanticFields(t *testing.T) {
	req := uploadRequest(1)
	req.DisplayNames = map[string]string{"lat": "Latitude (deg)"}

	columns, _, renamed, err := renameRows(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Latitude (deg)", "lon", "timestamp"}, columns)
	assert.Equal(t, map[string]string{
		"latitude":           "Latitude (deg)",
		"longitude":          "lon",
		"processedTimestamp": "timestamp",
	}, renamed)
}

func TestUploaderConcurrentUploadsGetUniqueIDs(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryDocumentStore()
	uploader := NewUploader(docs, store.NewMemoryBlobStore())

	const uploads = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]bool{}
	)
	errs := make(chan error, uploads)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := uploader.Upload(ctx, uploadRequest(3), nil)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			ids[result.AnimalID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, ids, uploads)
	for id := int64(1); id <= uploads; id++ {
		assert.True(t, ids[id], "animal id %d", id)
	}

	counter, ok, err := docs.Get(ctx, "Counters/AnalysisData/cattle")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, uploads, counter)
}

func TestUploaderBlobFailureLeavesPendingRecord(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryDocumentStore()
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	uploader := NewUploader(docs, &failingBlobStore{err: errors.New("bucket unavailable")}, WithUploaderMetrics(metrics))
	uploader.now = func() time.Time { return fixed }

	_, err = uploader.Upload(ctx, uploadRequest(2), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Contains(t, errors.GetAllHints(err), "record AnalysisData/cattle/1 was written without csvDownloadURL")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UploadsTotal.WithLabelValues("error")))

	value, ok, err := docs.Get(ctx, "AnalysisData/cattle/1/uploadState")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatePending, value)

	stale, err := uploader.Sweep(ctx, "cattle", time.Hour, false)
	require.NoError(t, err)
	assert.Empty(t, stale, "record is younger than the cutoff")

	uploader.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	stale, err = uploader.Sweep(ctx, "cattle", time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"AnalysisData/cattle/1"}, stale)

	_, ok, err = docs.Get(ctx, "AnalysisData/cattle/1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploaderSweepSkipsCompletedRecords(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryDocumentStore()
	uploader := NewUploader(docs, store.NewMemoryBlobStore())

	_, err := uploader.Upload(ctx, uploadRequest(1), nil)
	require.NoError(t, err)

	stale, err := uploader.Sweep(ctx, "cattle", 0, true)
	require.NoError(t, err)
	assert.Empty(t, stale)

	none, err := uploader.Sweep(ctx, "goat", 0, false)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = uploader.Sweep(ctx, " ", 0, false)
	assert.Error(t, err)
}

func TestUploaderVerifiesArtifact(t *testing.T) {
	docs := store.NewMemoryDocumentStore()
	uploader := NewUploader(docs, truncatingBlobStore{store.NewMemoryBlobStore()})

	_, err := uploader.Upload(context.Background(), uploadRequest(4), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerificationFailed))

	value, _, err := docs.Get(context.Background(), "AnalysisData/cattle/1/uploadState")
	require.NoError(t, err)
	assert.Equal(t, StateStored, value)
}

func TestUploaderRejectsIncompleteRequests(t *testing.T) {
	uploader := NewUploader(store.NewMemoryDocumentStore(), store.NewMemoryBlobStore())

	req := uploadRequest(1)
	req.Details.Species = ""
	_, err := uploader.Upload(context.Background(), req, nil)
	assert.True(t, errors.Is(err, ErrInvalidDetails))

	_, err = uploader.Upload(context.Background(), uploadRequest(0), nil)
	assert.Error(t, err)
}

func TestProgressReporterIsMonotone(t *testing.T) {
	var got []int
	report := progressReporter(func(p int) { got = append(got, p) })
	for _, p := range []int{-5, 0, 30, 20, 30, 150, 100} {
		report(p)
	}
	assert.Equal(t, []int{0, 30, 100}, got)

	progressReporter(nil)(50)
}

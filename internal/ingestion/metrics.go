package ingestion

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingestion Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	// UploadsTotal is labelled by final status: success or error.
	UploadsTotal    *prometheus.CounterVec
	RowsUploaded    prometheus.Counter
	RowsSkipped     prometheus.Counter
	UploadDuration  prometheus.Histogram
	SessionsStarted prometheus.Counter
	// ValidationIssues is labelled by severity.
	ValidationIssues *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herdtrack_ingestion_uploads_total",
				Help: "Total number of dataset uploads by final status",
			},
			[]string{"status"},
		),
		RowsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdtrack_ingestion_rows_uploaded_total",
			Help: "Total number of telemetry rows written by successful uploads",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdtrack_ingestion_rows_skipped_total",
			Help: "Total number of rows removed by skip-and-continue",
		}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "herdtrack_ingestion_upload_duration_seconds",
			Help:    "Time taken by the final upload step",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdtrack_ingestion_sessions_started_total",
			Help: "Total number of upload sessions created from a parsed file",
		}),
		ValidationIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herdtrack_ingestion_validation_issues_total",
				Help: "Validation issues reported by severity",
			},
			[]string{"severity"},
		),
	}
	for _, c := range []prometheus.Collector{
		m.UploadsTotal, m.RowsUploaded, m.RowsSkipped, m.UploadDuration, m.SessionsStarted, m.ValidationIssues,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register ingestion metrics")
		}
	}
	return m, nil
}

func (m *Metrics) observeUpload(status string, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
	m.UploadDuration.Observe(elapsed.Seconds())
	if status == "success" {
		m.RowsUploaded.Add(float64(rows))
	}
}

func (m *Metrics) observeSkipped(rows int) {
	if m == nil || rows <= 0 {
		return
	}
	m.RowsSkipped.Add(float64(rows))
}

func (m *Metrics) observeSession() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) observeIssues(errorsCount, warningsCount int) {
	if m == nil {
		return
	}
	m.ValidationIssues.WithLabelValues("error").Add(float64(errorsCount))
	m.ValidationIssues.WithLabelValues("warning").Add(float64(warningsCount))
}

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rpattn/herdtrack/internal/logging"
)

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging logs one line per request with method, path, status and duration.
func Logging(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			fields := []any{
				logging.FieldMethod, r.Method,
				logging.FieldPath, r.URL.Path,
				logging.FieldStatus, rw.statusCode,
				logging.FieldDurationMS, float64(time.Since(start).Microseconds()) / 1000,
				logging.FieldRemoteAddr, r.RemoteAddr,
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				fields = append(fields, logging.FieldRequestID, id)
			}
			if rw.statusCode >= http.StatusInternalServerError {
				logger.Warnw("http request", fields...)
				return
			}
			logger.Infow("http request", fields...)
		})
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/herdtrack/internal/config"
	"github.com/rpattn/herdtrack/internal/db"
	"github.com/rpattn/herdtrack/internal/ingestion"
	"github.com/rpattn/herdtrack/internal/logging"
	"github.com/rpattn/herdtrack/internal/middleware"
	"github.com/rpattn/herdtrack/internal/repository"
	"github.com/rpattn/herdtrack/internal/store"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	envLoaded := godotenv.Load() == nil

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{JSON: cfg.Log.JSON, Level: cfg.Log.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if !envLoaded {
		logger.Debugw("no .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorw("server stopped with error", logging.FieldError, err)
		os.Exit(1)
	}
	logger.Infow("server exited")
}

func run(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := ingestion.NewMetrics(registry)
	if err != nil {
		return err
	}

	var (
		docs     store.DocumentStore
		mirror   store.BatchWriter
		issueLog ingestion.IssueLog
	)
	switch cfg.Store.Backend {
	case "postgres":
		conn, err := db.NewConnection(ctx, cfg.Database.DB(), logger.Named("db"))
		if err != nil {
			return err
		}
		defer conn.Close()

		if cfg.Database.Migrate {
			if err := db.RunMigrations(conn.Pool, logger.Named("migrate")); err != nil {
				return err
			}
		}
		docs = repository.NewDocumentRepository(conn.Pool, logger.Named("documents"))
		mirror = repository.NewTelemetryRepository(conn.Pool)
		issueLog = repository.NewIngestionLogRepository(conn.Pool)
	default:
		docs = store.NewMemoryDocumentStore()
		mirror = store.NewMemoryBatchStore()
	}

	var (
		blobs      store.BlobStore
		blobOpener ingestion.BlobOpener
	)
	if cfg.Blobs.Dir != "" {
		fileBlobs, err := store.NewFileBlobStore(
			cfg.Blobs.Dir,
			cfg.Blobs.BaseURL,
			store.NewURLSigner(cfg.Blobs.SigningSecret, cfg.Blobs.URLTTL),
		)
		if err != nil {
			return err
		}
		blobs, blobOpener = fileBlobs, fileBlobs
	} else {
		blobs = store.NewMemoryBlobStore()
	}

	uploaderOpts := []ingestion.UploaderOption{
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithUploaderLogger(logger.Named("uploader")),
		ingestion.WithUploaderMetrics(metrics),
	}
	if cfg.Ingestion.Mirror {
		uploaderOpts = append(uploaderOpts, ingestion.WithMirror(mirror))
	}
	uploader := ingestion.NewUploader(docs, blobs, uploaderOpts...)

	service := ingestion.NewService(uploader,
		ingestion.WithLogger(logger.Named("ingestion")),
		ingestion.WithMetrics(metrics),
		ingestion.WithLogRepository(issueLog),
		ingestion.WithDefaults(ingestion.SessionConfig{
			SampleLimit:            cfg.Ingestion.SampleLimit,
			PreviewRows:            cfg.Ingestion.PreviewRows,
			DisplayLimit:           cfg.Ingestion.DisplayLimit,
			ChunkSize:              cfg.Ingestion.ChunkSize,
			Workers:                cfg.Ingestion.Workers,
			ClassifierCacheSize:    cfg.Ingestion.ClassifierCacheSize,
			DefaultIntervalMinutes: cfg.Ingestion.DefaultIntervalMinutes,
		}),
	)

	handlerOpts := []ingestion.HandlerOption{
		ingestion.WithMaxUploadBytes(cfg.Ingestion.MaxUploadBytes),
		ingestion.WithHandlerLogger(logger.Named("http")),
	}
	if blobOpener != nil {
		handlerOpts = append(handlerOpts, ingestion.WithBlobOpener(blobOpener))
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.Logging(logger.Named("http")))
	router.Use(corsHandler.Handler)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/", ingestion.NewHTTPHandler(service, handlerOpts...))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting server",
			"addr", cfg.Server.Addr,
			"store", cfg.Store.Backend,
			"mirror", cfg.Ingestion.Mirror,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Infow("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

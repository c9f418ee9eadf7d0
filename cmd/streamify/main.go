package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/config"
	"github.com/streamify/streamify/internal/database"
	"github.com/streamify/streamify/internal/email"
	"github.com/streamify/streamify/internal/engagement"
	"github.com/streamify/streamify/internal/geoip"
	"github.com/streamify/streamify/internal/logging"
	"github.com/streamify/streamify/internal/mailqueue"
	"github.com/streamify/streamify/internal/media"
	"github.com/streamify/streamify/internal/metrics"
	"github.com/streamify/streamify/internal/server"
	"github.com/streamify/streamify/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("streamify stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logger.Info("database migrations applied")

	store, err := storage.New(ctx, storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		PublicEndpoint: cfg.Storage.PublicEndpoint,
		Bucket:         cfg.Storage.Bucket,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		Region:         cfg.Storage.Region,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("storage bucket check failed: %w", err)
	}
	logger.Info("storage bucket ready", zap.String("bucket", cfg.Storage.Bucket))

	geo, err := geoip.New(cfg.GeoIPDB, logger.Named("geoip"))
	if err != nil {
		return fmt.Errorf("geoip: %w", err)
	}
	defer func() { _ = geo.Close() }()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	emailClient := email.New(email.Config{
		BaseURL:           cfg.Email.BaseURL,
		Username:          cfg.Email.Username,
		Password:          cfg.Email.Password,
		OTPTemplateID:     cfg.Email.OTPTemplateID,
		WelcomeTemplateID: cfg.Email.WelcomeTemplate,
		ResetTemplateID:   cfg.Email.ResetTemplateID,
	}, logger.Named("email"))

	mailer, closeMailer, err := newMailer(ctx, workerCtx, cfg.Redis.URL, emailClient, logger)
	if err != nil {
		return err
	}
	defer closeMailer()

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New()
	}

	processor := media.NewProcessor(store, logger.Named("media"))
	svc := engagement.NewService(engagement.NewPostgresStore(db.Pool), geo, m, logger.Named("engagement"))

	srv := server.New(server.Config{
		DB:              db.Pool,
		Pinger:          db,
		Media:           processor,
		MediaKeys:       store,
		Geo:             geo,
		Mailer:          mailer,
		Metrics:         m,
		Logger:          logger,
		Engagement:      svc,
		JWTSecret:       cfg.JWTSecret,
		TokenTTL:        cfg.TokenTTL,
		BaseURL:         cfg.BaseURL,
		FrontendURL:     cfg.FrontendURL,
		StorageEndpoint: cfg.Storage.PublicEndpoint,
		MaxUploadBytes:  cfg.Storage.MaxUploadBytes,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("streamify listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-shutdownCh:
	}
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	stopWorkers()
	logger.Info("shutdown complete")
	return nil
}

// newMailer sends inline when no Redis URL is configured. Otherwise mail is
// queued and delivered by a worker bound to workerCtx.
func newMailer(ctx, workerCtx context.Context, redisURL string, sender *email.Client, logger *zap.Logger) (auth.Mailer, func(), error) {
	if redisURL == "" {
		logger.Info("mail queue disabled, sending inline")
		return sender, func() {}, nil
	}

	rdb, err := mailqueue.Connect(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("mail queue: %w", err)
	}

	queue := mailqueue.New(rdb, logger.Named("mailqueue"))
	worker := mailqueue.NewWorker(queue, sender, logger.Named("mailworker"))
	go worker.Run(workerCtx)
	logger.Info("mail queue enabled")

	return queue, func() { _ = rdb.Close() }, nil
}

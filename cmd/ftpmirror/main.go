package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/ftpmirror/internal/cleanup"
	"github.com/italolelis/ftpmirror/internal/config"
	"github.com/italolelis/ftpmirror/internal/http/rest"
	"github.com/italolelis/ftpmirror/internal/logctx"
	"github.com/italolelis/ftpmirror/internal/mirror"
	"github.com/italolelis/ftpmirror/internal/notifier"
	"github.com/italolelis/ftpmirror/internal/source/ftp"
	"github.com/italolelis/ftpmirror/internal/store/minio"
	"github.com/italolelis/ftpmirror/internal/store/s3"
	"github.com/italolelis/ftpmirror/internal/telemetry"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

const serviceName = "ftpmirror"

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var errJobFailed = errors.New("mirror job failed")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("failed to initialize telemetry", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(logHandler(cfg, tel))).With("instance_id", mirror.InstanceID())
	slog.SetDefault(logger)

	logger.Info("ftp mirror starting...", "version", version, "log_level", cfg.LogLevel)

	err = run(logctx.WithLogger(ctx, logger), cfg, tel)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("failed to shutdown telemetry", "err", shutdownErr)
	}

	if err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// logHandler writes JSON to stdout and, when telemetry exports logs, fans out
// to the OTLP pipeline as well.
func logHandler(cfg *config.Config, tel *telemetry.Telemetry) slog.Handler {
	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})

	otlp := tel.LogHandler()
	if otlp == nil {
		return stdout
	}

	return slogmulti.Fanout(stdout, otlp)
}

func run(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Source and Destination
	tlsMode, err := ftp.ParseTLSMode(cfg.FTP.TLS)
	if err != nil {
		return err
	}

	dialer := transfer.NewInstrumentedDialer(ftp.NewDialer(ftp.Options{
		TLS:         tlsMode,
		DialTimeout: cfg.FTP.DialTimeout,
		Dir:         cfg.FTP.Dir,
	}), tel, "ftp")

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build destination store: %w", err)
	}

	// =========================================================================
	// Start Mirror
	spool := mirror.NewSpool(cfg.SpoolDir, int64(cfg.MaxFileSize))
	sweepSpool(ctx, spool, cfg.SpoolMaxAge)

	worker := mirror.NewWorker(transfer.NewInstrumentedStore(store, tel, cfg.Destination), spool, cfg.FileTimeout, tel)
	m := mirror.New(dialer, worker, mirror.Options{MaxParallel: cfg.MaxParallel}, tel)

	runner := mirror.NewRunner(m, cfg.Job)
	runner.OnFinished = onFinished(spool, cfg)

	if cfg.RunOnce {
		return runOnce(ctx, runner)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, runner, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Main Loop
	go runner.Watch(ctx, cfg.SyncInterval)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// runOnce executes a single job, the way a scheduled function invocation would.
func runOnce(ctx context.Context, runner *mirror.Runner) error {
	summary, err := runner.Trigger(ctx)
	if err != nil {
		return err
	}

	if summary.Status == transfer.JobFailed {
		return errJobFailed
	}

	return nil
}

// This is an abstract factory for the destination store.
func buildStore(ctx context.Context, cfg *config.Config) (transfer.Store, error) {
	switch cfg.Destination {
	case "s3":
		return s3.New(ctx, s3.Options{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
			RateLimit: int64(cfg.UploadRateLimit),
		})
	case "minio":
		return minio.New(minio.Options{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
	}

	return nil, fmt.Errorf("invalid destination: %s", cfg.Destination)
}

func onFinished(spool *mirror.Spool, cfg *config.Config) func(context.Context, transfer.Summary) {
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL, Client: &http.Client{Timeout: 10 * time.Second}}
	}

	return func(ctx context.Context, summary transfer.Summary) {
		sweepSpool(ctx, spool, cfg.SpoolMaxAge)

		if notif == nil || summary.Status == transfer.JobSuccess {
			return
		}

		// The job context may already be cancelled on shutdown.
		if err := notif.Notify(context.WithoutCancel(ctx), notifier.SummaryMessage(summary)); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "job_id", summary.JobID, "err", err)
		}
	}
}

func sweepSpool(ctx context.Context, spool *mirror.Spool, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}

	removed, err := cleanup.DeleteStaleSpools(ctx, spool.Dir(), mirror.SpoolPattern, maxAge)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to sweep stale spool files", "err", err)

		return
	}

	if removed > 0 {
		logctx.LoggerFromContext(ctx).Info("swept stale spool files", "removed", removed)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, runner *mirror.Runner, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	syncHandler := rest.NewSyncHandler(ctx, cfg.Web.Username, cfg.Web.Password, runner, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", rest.HandleHealth)
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", syncHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, serviceName),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

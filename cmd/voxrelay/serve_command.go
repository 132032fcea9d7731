package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/voxrelay/internal/auth"
	"github.com/your-org/voxrelay/internal/intake"
	"github.com/your-org/voxrelay/internal/telegram"
	"github.com/your-org/voxrelay/pkg/config"
	"github.com/your-org/voxrelay/pkg/media"
	"github.com/your-org/voxrelay/pkg/metrics"
	"github.com/your-org/voxrelay/pkg/notify"
	"github.com/your-org/voxrelay/pkg/storage/objectstore"
	"github.com/your-org/voxrelay/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the audio file server and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			logr, err := ctx.logger()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, ctx, cfg, logr)
		},
	}
}

func serve(ctx context.Context, cc *commandContext, cfg *config.Config, logr *zap.Logger) error {
	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	metrics.Register()

	if path, err := media.CheckBinary(cfg.Media.FFmpegPath); err != nil {
		logr.Warn("ffmpeg not found, conversions will fail", zap.Error(err))
	} else {
		logr.Info("ffmpeg located", zap.String("path", path))
	}

	store, err := cc.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	gate, err := auth.NewGate(ctx, auth.GateParams{
		Store:  store,
		Secret: cfg.Auth.Secret,
		Logger: logr.Named("auth"),
	})
	if err != nil {
		return err
	}

	notifier, err := notify.New(notifierConfig(cfg))
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	mirror, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	if mirror != nil {
		defer mirror.Close()
	}

	bot, err := telegram.New(telegram.Config{
		Token:        cfg.Bot.Token,
		PollTimeout:  cfg.Bot.PollTimeout,
		Debug:        cfg.Bot.Debug,
		MaxFileBytes: cfg.Media.MaxSizeBytes,
	}, logr.Named("telegram"))
	if err != nil {
		return err
	}

	converter := media.NewConverter(media.Config{
		OutputDir:  cfg.Media.OutputDir,
		FFmpegPath: cfg.Media.FFmpegPath,
		Bitrate:    cfg.Media.Bitrate,
		KeepRaw:    cfg.Media.KeepRaw,
		MaxBytes:   cfg.Media.MaxSizeBytes,
	}, logr.Named("media"))

	service := intake.NewService(intake.Params{
		Gate:          gate,
		Fetcher:       bot,
		Converter:     converter,
		Notifier:      notifier,
		Mirror:        mirror,
		Replier:       bot,
		Logger:        logr.Named("intake"),
		PublicScheme:  cfg.Public.Scheme,
		PublicDomain:  cfg.Public.Domain,
		CommandsTopic: cfg.Notify.CommandsTopic,
	})

	handler := intake.NewHTTPHandler(converter.OutputDir(), logr.Named("http"))
	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	metricsServer := newMetricsServer(cfg.Metrics)

	errCh := make(chan error, 2)
	go func() {
		logr.Info("audio file server starting", zap.String("addr", server.Addr), zap.String("dir", converter.OutputDir()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			logr.Info("metrics server starting", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	} else {
		logr.Info("metrics server disabled")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	botDone := make(chan error, 1)
	go func() {
		logr.Info("bot polling started", zap.String("username", bot.Username()))
		botDone <- bot.Run(runCtx, service.Dispatch)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logr.Info("shutdown requested")
	case runErr = <-errCh:
		logr.Error("server failed", zap.Error(runErr))
	case runErr = <-botDone:
		botDone = nil
		logr.Warn("bot polling stopped", zap.Error(runErr))
	}
	cancel()

	// In-flight conversions finish before the file server goes away.
	if botDone != nil {
		select {
		case <-botDone:
		case <-time.After(shutdownTimeout):
			logr.Warn("timed out waiting for in-flight messages")
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("http server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logr.Error("metrics server shutdown failed", zap.Error(err))
		}
	}
	return runErr
}

// newMetricsServer returns nil when the endpoint is disabled.
func newMetricsServer(cfg config.MetricsConfig) *http.Server {
	if !cfg.Serving() {
		return nil
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func notifierConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Provider:    cfg.Notify.Provider,
		Host:        cfg.Notify.Host,
		Port:        cfg.Notify.Port,
		Username:    cfg.Notify.Username,
		Password:    cfg.Notify.Password,
		TLS:         cfg.Notify.TLS,
		ClientID:    cfg.Notify.ClientID,
		Timeout:     cfg.Notify.Timeout,
		Compression: cfg.Notify.CompressionCodec,
		SASL:        cfg.Notify.SASLMechanism,
	}
}

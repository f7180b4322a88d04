package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/config"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/logger"
)

const (
	projectName     = "sbcntr-asset-notifier"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: projectName,
		Env:     cfg.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000",
			ServiceVersion: "1.0.0",
		}); err != nil {
			zl.Warn("failed to configure X-Ray", zap.Error(err))
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl, app.Options{WithPoller: true})
	if err != nil {
		zl.Fatal("failed to create app", zap.Error(err))
	}
	defer a.Close()

	handler, err := a.Handler()
	if err != nil {
		zl.Fatal("failed to create http handler", zap.Error(err))
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	pollDone := make(chan error, 1)
	go func() {
		pollDone <- a.Poller.Run(ctx, cfg.Poller.Interval)
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("failed to shut down http server", zap.Error(err))
	}

	// 実行中のポーリングの終了を待つ
	select {
	case err := <-pollDone:
		if err != nil {
			zl.Error("poller stopped with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		zl.Warn("poller did not stop before shutdown timeout")
	}
}

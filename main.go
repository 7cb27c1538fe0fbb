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

	httpv1 "github.com/yourorg/comps-api/http/v1"
	"github.com/yourorg/comps-api/internal/app"
	"github.com/yourorg/comps-api/internal/logger"
)

func main() {
	cfg := app.LoadConfig()
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	router := BuildRouter(RouterDeps{
		Comps: httpv1.CompsDeps{
			Resolver: a.Resolver,
			Usage:    a.Usage,
			Limits:   cfg.Limits,
			Logger:   lg,
		},
		Log:               lg,
		Gatherer:          a.Registry,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Health:            func(r *http.Request) error { return a.Ping(r.Context()) },
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-rootCtx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	lg.Info("comps-api listening",
		zap.Int("port", cfg.Port),
		zap.String("usage_backend", cfg.UsageBackend),
		zap.Bool("cache", a.Redis != nil))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

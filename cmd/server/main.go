package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiwari-pos/canceldesk/internal/backend"
	"github.com/kiwari-pos/canceldesk/internal/cancellation"
	"github.com/kiwari-pos/canceldesk/internal/cashier"
	"github.com/kiwari-pos/canceldesk/internal/config"
	"github.com/kiwari-pos/canceldesk/internal/logger"
	"github.com/kiwari-pos/canceldesk/internal/metrics"
	"github.com/kiwari-pos/canceldesk/internal/notify"
	"github.com/kiwari-pos/canceldesk/internal/router"
	"github.com/kiwari-pos/canceldesk/internal/service"
	"github.com/kiwari-pos/canceldesk/internal/ws"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()
	zap.ReplaceGlobals(zlog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	client := backend.NewClient(cfg.Backend, zlog)
	closers := make([]func() error, 0, 1)

	hub := ws.NewHub(zlog, registry)
	go hub.Run(ctx)

	sinks := []notify.Notifier{notify.NewHubNotifier(hub, registry, ws.RoomCashier, ws.RoomOwner)}
	if cfg.Redis.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := notify.NewRedisClient(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			zlog.Warn("redis unavailable, events stay in-process", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewRedisNotifier(rdb, cfg.Redis.Channel, registry))
			closers = append(closers, rdb.Close)
			zlog.Info("event mirror: redis", zap.String("channel", cfg.Redis.Channel))
		}
	}

	enricher := cancellation.NewEnricher(client, cfg.Desk.EnrichConcurrency, zlog, registry)
	desk := service.NewDesk(client, enricher, notify.NewFanout(zlog, sinks...), registry, zlog,
		service.Config{RefetchDelay: cfg.Desk.RefetchDelay})
	if err := desk.Refresh(ctx); err != nil {
		// The dashboard shows the error and offers a retry.
		zlog.Warn("initial cancel request load failed", zap.Error(err))
	}

	board := cashier.NewBoard(client, cfg.Backend.PageSize, cfg.Backend.MaxPages, zlog)
	if err := board.Refresh(ctx); err != nil {
		zlog.Warn("initial order load failed", zap.Error(err))
	}
	events, unsubscribe := hub.Subscribe(64)
	defer unsubscribe()
	go board.Run(ctx, events)

	server := &http.Server{
		Addr: cfg.Address(),
		Handler: router.New(cfg, router.Deps{
			Desk:    desk,
			Board:   board,
			Hub:     hub,
			Metrics: registry.Handler(),
			Log:     zlog,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("cancel desk listening", zap.String("addr", cfg.Address()), zap.String("backend", cfg.Backend.BaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("shutdown error", zap.Error(err))
	}
	desk.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zlog.Warn("close error", zap.Error(err))
		}
	}

	zlog.Info("server stopped")
}

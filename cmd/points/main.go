// Package main запускает HTTP-сервер сервиса баллов и кампаний.
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
	"golang.org/x/sync/errgroup"

	"github.com/linkplace/points-system/internal/config"
	"github.com/linkplace/points-system/internal/handler"
	"github.com/linkplace/points-system/internal/middleware"
	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
	"github.com/linkplace/points-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Infow("database URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	svc := service.NewService(repo, cfg.PointsTTL, cfg.ArchiveRetention)
	defer svc.Close()

	if cfg.AdminLogin != "" && cfg.AdminPassword != "" {
		if _, err := svc.RegisterUser(context.Background(), cfg.AdminLogin, cfg.AdminPassword, model.RoleAdmin); err != nil &&
			!errors.Is(err, repository.ErrUserExists) {
			sugar.Fatalw("admin seeding error", "error", err.Error())
		}
	}

	secret := cfg.AuthSecret
	if secret == "" {
		secret = "points-secret"
	}
	authMiddleware := middleware.NewAuthMiddleware(secret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой очистки архива
	g.Go(func() error {
		svc.StartMaintenance(ctx, cfg.CleanupInterval, sugar)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting points server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

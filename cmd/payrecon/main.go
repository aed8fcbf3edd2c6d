// Package main запускает воркер сверки платежей и административный HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/payrecon/internal/bank"
	"github.com/mmeshcher/payrecon/internal/config"
	"github.com/mmeshcher/payrecon/internal/handler"
	"github.com/mmeshcher/payrecon/internal/metrics"
	"github.com/mmeshcher/payrecon/internal/middleware"
	"github.com/mmeshcher/payrecon/internal/repository"
	"github.com/mmeshcher/payrecon/internal/service"
	"github.com/mmeshcher/payrecon/internal/vault"
)

const adminTokenTTL = 12 * time.Hour

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)

	if cfg.IssueTokenFor != "" {
		if cfg.JWTSecret == "" {
			sugar.Fatal("JWT_SECRET is required to issue admin tokens")
		}
		token, err := authMiddleware.IssueToken(cfg.IssueTokenFor, middleware.RoleAdmin, adminTokenTTL)
		if err != nil {
			sugar.Fatalw("issue token error", "error", err.Error())
		}
		fmt.Println(token)
		return
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	if cfg.EncryptionKey == "" {
		sugar.Warn("ENCRYPTION_KEY is not set, bank password is expected in plain text")
	}
	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, admin API will reject every token")
	}

	m := metrics.New()
	v := vault.New(cfg.EncryptionKey)

	bankClient := bank.NewClient(cfg.BankBaseURL,
		bank.WithTimeout(cfg.BankTimeout),
		bank.WithMetrics(m),
	)

	worker := service.NewWorker(repo, bankClient, v, logger,
		service.WithInterval(cfg.CheckInterval),
		service.WithWindowDays(cfg.HistoryWindowDays),
		service.WithWorkerMetrics(m),
	)

	svc := service.NewService(repo, v, logger, m)
	defer svc.Close()

	h := handler.NewHandler(svc, worker, logger, authMiddleware)

	r := h.SetupRouter(m.Handler(), cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Воркер сверки: текущий цикл доводится до конца перед выходом
	g.Go(func() error {
		worker.Start(ctx)
		<-ctx.Done()
		worker.Stop()
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting payrecon server", "addr", cfg.RunAddress)
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

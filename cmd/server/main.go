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

	"matchapos/backend/internal/cart"
	"matchapos/backend/internal/config"
	"matchapos/backend/internal/httpapi"
	"matchapos/backend/internal/logger"
	"matchapos/backend/internal/service"
	"matchapos/backend/internal/store"
	"matchapos/backend/internal/store/memory"
	pgstore "matchapos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalw("invalid security configuration", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatalw("repository unavailable", "error", err)
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	carts, closeCarts := openCarts(ctx, cfg, log)
	if closeCarts != nil {
		closers = append(closers, closeCarts)
	}

	svc := service.New(repo, carts,
		service.WithRetryPolicy(service.RetryPolicy{
			MaxAttempts: cfg.CheckoutMaxAttempts,
			BaseDelay:   cfg.CheckoutRetryBase,
		}),
		service.WithLogger(log),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLoginRate(cfg.LoginRatePerMinute, cfg.LoginBurst),
		httpapi.WithLogger(log),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infow("matchapos backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Errorw("close error", "error", err)
		}
	}

	log.Info("server stopped")
}

// openRepository refuses to fall back to memory when DATABASE_URL is set,
// so a misconfigured deployment never sells against a throwaway catalog.
func openRepository(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		repo := memory.NewSeeded()
		repo.SetLockTimeout(cfg.LockTimeout)
		log.Infow("repository ready", "backend", "memory")
		return repo, nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	pg.SetLockTimeout(cfg.LockTimeout)
	log.Infow("repository ready", "backend", "postgres")
	return pg, pg.Close, nil
}

// openCarts prefers Redis so carts survive restarts and are shared between
// instances. An unreachable Redis degrades to process-local carts.
func openCarts(ctx context.Context, cfg config.Config, log *logger.Logger) (cart.Provider, func() error) {
	if cfg.RedisAddr == "" {
		log.Infow("cart provider ready", "backend", "memory", "ttl", cfg.CartTTL)
		return cart.NewMemoryProvider(cfg.CartTTL), nil
	}

	redisCarts := cart.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CartTTL)
	if err := redisCarts.Ping(ctx); err != nil {
		_ = redisCarts.Close()
		log.Warnw("redis unavailable, using in-memory carts", "addr", cfg.RedisAddr, "error", err)
		return cart.NewMemoryProvider(cfg.CartTTL), nil
	}
	log.Infow("cart provider ready", "backend", "redis", "addr", cfg.RedisAddr, "ttl", cfg.CartTTL)
	return redisCarts, redisCarts.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.CheckoutMaxAttempts < 1 {
		return fmt.Errorf("CHECKOUT_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

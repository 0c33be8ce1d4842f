package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payerbook.org/internal/account"
	"payerbook.org/internal/auth"
	"payerbook.org/internal/config"
	"payerbook.org/internal/entity"
	"payerbook.org/internal/httpapi"
	"payerbook.org/internal/obs"
	"payerbook.org/internal/store/memory"
	"payerbook.org/internal/store/pg"
)

var (
	version = "dev"
	commit  = "none"
)

// store is what the API needs from either backend.
type store interface {
	Users() account.UserStore
	Entities() entity.Store
	Ping(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", os.Getenv("PAYERBOOK_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	if cfg.Commit == "none" {
		cfg.Commit = commit
	}

	logger, err := obs.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("payerbook-api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	var checks []httpapi.Check

	var st store
	if cfg.DB.DSN != "" {
		pgStore, err := pg.Open(cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer pgStore.Close()
		st = pgStore
		checks = append(checks, httpapi.Check{Name: "postgres", Fn: pgStore.Ping})
	} else {
		logger.Warn("PAYERBOOK_PG_DSN not set, using in-memory store")
		st = memory.New()
	}

	tokenOpts := []auth.ServiceOption{
		auth.WithIssuer(cfg.Tokens.Issuer),
		auth.WithAccessTTL(cfg.Tokens.AccessTTL),
		auth.WithRefreshTTL(cfg.Tokens.RefreshTTL),
	}
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		revoker := auth.NewRedisRevoker(rdb, "")
		tokenOpts = append(tokenOpts, auth.WithRevoker(revoker))
		checks = append(checks, httpapi.Check{Name: "redis", Fn: revoker.Ping})
		logger.Info("refresh token revocation enabled", zap.String("redis_addr", cfg.Redis.Address))
	}

	tokens, err := auth.NewService(cfg.Tokens.AccessSecret, cfg.Tokens.RefreshSecret, tokenOpts...)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	api := httpapi.New(httpapi.Deps{
		Tokens:        tokens,
		Accounts:      account.NewService(st.Users(), tokens, auth.NewPasswordHasher(cfg.Tokens.BcryptCost)),
		Entities:      entity.NewService(st.Entities()),
		Ready:         httpapi.ReadyProbe{Checks: checks},
		Version:       cfg.Version,
		SecureCookies: !cfg.IsDevelopment(),
		CORSOrigins:   cfg.HTTPServer.CORSOrigins,
		MaxBodyBytes:  cfg.HTTPServer.MaxBodyBytes,
		AuthLimiter:   httpapi.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.HTTPServer.TrustedProxies),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPServer.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTPServer.ReadTimeout,
		WriteTimeout:      cfg.HTTPServer.WriteTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcSrv := httpapi.NewGRPCServer(api.Readiness())

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Address))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcDone := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(grpcDone)
	}()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	select {
	case <-grpcDone:
	case <-ctx.Done():
		grpcSrv.Stop()
	}
	logger.Info("stopped")
	return runErr
}

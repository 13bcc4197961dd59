// Command ds-server serves the dual-backend content store over gRPC.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/dualstore/internal/config"
	"github.com/and161185/dualstore/internal/limiter"
	"github.com/and161185/dualstore/internal/migrate"
	"github.com/and161185/dualstore/internal/model"
	"github.com/and161185/dualstore/internal/realtime"
	"github.com/and161185/dualstore/internal/repository"
	"github.com/and161185/dualstore/internal/repository/local"
	"github.com/and161185/dualstore/internal/repository/postgres"
	grpcserver "github.com/and161185/dualstore/internal/server/grpc"
	"github.com/and161185/dualstore/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// main loads configuration, opens both backends and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("limiter", cfg.Limiter.Store),
	)

	var opts []grpc.ServerOption
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled, serving plaintext")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The remote may be down at start; reads fall back to the cache until it returns.
	if cfg.Remote.Migrate {
		mctx, cancel := context.WithTimeout(ctx, 2*cfg.Remote.Timeout)
		if v, err := migrate.Up(mctx, cfg.Remote.DSN, logger); err != nil {
			logger.Warn("migrate up failed, continuing", zap.Error(err))
		} else {
			logger.Info("schema ready", zap.Int64("version", v))
		}
		cancel()
	}

	db, err := postgres.New(ctx, cfg.Remote.DSN, cfg.Remote.Timeout)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()
	pctx, cancel := context.WithTimeout(ctx, cfg.Remote.Timeout)
	if err := db.Ping(pctx); err != nil {
		logger.Warn("remote unreachable, serving from local cache", zap.Error(err))
	}
	cancel()

	medium, err := local.Open(ctx, cfg.MediumOptions())
	if err != nil {
		logger.Fatal("open local cache", zap.Error(err))
	}
	if c, ok := medium.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	// Repositories
	remote := postgres.NewContentRepo(db,
		postgres.WithTimeout(cfg.Remote.Timeout),
		postgres.WithLogger(logger.Named("remote")),
	)
	store := local.NewStore(medium, cfg.Cache.Prefix)
	repo := repository.NewDual(remote, store, logger.Named("repo"),
		repository.WithObserver(func(op string, c model.Collection, src repository.Source) {
			logger.Debug("served", zap.String("op", op), zap.String("collection", string(c)), zap.String("source", string(src)))
		}),
	)
	bridge := realtime.New(remote, logger.Named("realtime"))

	lim, err := limiter.New(cfg.Limiter.Store, db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)
	if err != nil {
		logger.Fatal("limiter", zap.Error(err))
	}

	// Services
	authSvc := service.NewAuthService([]byte(cfg.JWTKey), cfg.TokenTTL, lim)
	contentSvc := service.NewContentService(repo, bridge, cfg.MaxLimit)

	// gRPC server with interceptors
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AdminUnary(authSvc, grpcserver.MutatingMethods...),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LoggingStream(logger),
		),
	)
	s := grpc.NewServer(opts...)
	grpcserver.Register(s, grpcserver.New(contentSvc, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

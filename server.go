package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/broscore/internal/config"
	"github.com/example/broscore/internal/handlers"
	"github.com/example/broscore/internal/inference"
	"github.com/example/broscore/internal/logging"
	"github.com/example/broscore/internal/metrics"
	"github.com/example/broscore/internal/receipt"
	"github.com/example/broscore/internal/repository"
	"github.com/example/broscore/internal/usecase"
)

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	db, err := openDatabase(ctx, cfg.Database, cfg.Log.Development)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err), zap.String("driver", cfg.Database.Driver))
		return err
	}
	repo := repository.NewLeaderboardRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Error("auto migrate failed", zap.Error(err))
		return err
	}

	cache, closeCache, err := initCache(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	visionConn, err := inference.Dial(ctx, cfg.Inference.VisionAddr, logger)
	if err != nil {
		return err
	}
	defer visionConn.Close()

	speechConn := visionConn
	if target := cfg.Inference.SpeechTarget(); target != cfg.Inference.VisionAddr {
		if speechConn, err = inference.Dial(ctx, target, logger); err != nil {
			return err
		}
		defer speechConn.Close()
	}
	models := inference.NewClient(visionConn, speechConn, cfg.Inference.Timeout, logger)

	uc := usecase.NewScoringUseCase(
		repo,
		cache,
		models,
		models,
		receipt.NewSigner(cfg.Receipts.Secret, cfg.Receipts.TTL),
		usecase.Options{
			AnalysisTTL:     cfg.Redis.AnalysisTTL,
			LeaderboardTTL:  cfg.Redis.LeaderboardTTL,
			RequireReceipts: cfg.Receipts.Required,
		},
		logger,
	)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newHandler(uc, cfg.HTTP, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("broscore API listening", zap.String("addr", cfg.HTTP.Addr))
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

func newHandler(svc handlers.ScoringService, cfg config.HTTPConfig, logger *zap.Logger) http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	r.Use(gin.Recovery(), logging.GinMiddleware(logger), metrics.GinMiddleware())
	handlers.RegisterRoutes(r, svc)

	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", logging.RequestIDHeader},
		ExposedHeaders: []string{logging.RequestIDHeader},
		MaxAge:         300,
	})(r)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, verbose bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DSN
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := gormlogger.Warn
	if verbose {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, logging.NewOperationError("database.open", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("database.handle", "", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, logging.NewOperationError("database.ping", "", err)
	}
	return db, nil
}

// initCache connects to Redis, or returns a no-op cache when no address is set.
func initCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (usecase.Cache, func(), error) {
	if cfg.Addr == "" {
		logger.Info("redis not configured, caching disabled")
		return usecase.NopCache{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		logger.Error("redis connection failed", zap.Error(err), zap.String("addr", cfg.Addr))
		return nil, nil, logging.NewOperationError("redis.ping", "", err)
	}
	return usecase.NewRedisCache(client), func() { client.Close() }, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

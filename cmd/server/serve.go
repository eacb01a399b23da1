package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/mtiwari1/tradeflow/internal/archive"
	"github.com/mtiwari1/tradeflow/internal/config"
	"github.com/mtiwari1/tradeflow/internal/extract"
	grpcserver "github.com/mtiwari1/tradeflow/internal/grpcserver"
	"github.com/mtiwari1/tradeflow/internal/identity"
	"github.com/mtiwari1/tradeflow/internal/pipeline"
	"github.com/mtiwari1/tradeflow/internal/ratelimit"
	"github.com/mtiwari1/tradeflow/internal/recorder"
	"github.com/mtiwari1/tradeflow/internal/repository"
	"github.com/mtiwari1/tradeflow/internal/restapi"
	"github.com/mtiwari1/tradeflow/internal/worker"
	pb "github.com/mtiwari1/tradeflow/proto"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST and gRPC ingestion servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, *configFile, map[string]string{
				"http.addr":  "http-addr",
				"grpc.addr":  "grpc-addr",
				"upload.dir": "upload-dir",
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().String("http-addr", ":8080", "REST listen address")
	cmd.Flags().String("grpc-addr", ":50051", "gRPC listen address")
	cmd.Flags().String("upload-dir", "./data", "directory uploads are spooled to")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting TradeFlow")

	// ── Ensure upload directory exists ──
	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create upload dir")
	}

	// ── MySQL connection with pooling ──
	db, err := openDB(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connected")

	if cfg.DB.Migrate {
		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
	}

	// ── Repository ──
	repo, err := repository.NewMySQLRepo(db, cfg.Credit.DefaultQuota)
	if err != nil {
		return errors.Wrap(err, "init repository")
	}
	defer repo.Close()

	// ── Sessions ──
	rdb := newRedis(cfg.Redis)
	defer rdb.Close()
	provider := identity.NewRedisProvider(rdb)
	if err := provider.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup", slog.String("error", err.Error()))
	}

	// ── Extraction ──
	extractor, closeExtractor, err := newExtractor(ctx, cfg.Extract)
	if err != nil {
		return err
	}
	defer closeExtractor()
	logger.Info("extractor ready", slog.String("backend", cfg.Extract.Backend))

	// ── Archive (optional) ──
	var archiver recorder.Archiver
	if cfg.Archive.Bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return errors.Wrap(err, "storage.NewClient")
		}
		defer client.Close()
		archiver = archive.NewGCS(client, cfg.Archive.Bucket, logger)
		logger.Info("archiving completed uploads", slog.String("bucket", cfg.Archive.Bucket))
	}

	// ── Worker pool and per-session pipelines ──
	pool := worker.NewPool(cfg.Pipeline.Workers, extractor, logger)
	pool.Start()
	logger.Info("worker pool started", slog.Int("workers", cfg.Pipeline.Workers))

	pc, err := cfg.PipelineConfig()
	if err != nil {
		return err
	}
	overdraft, err := cfg.Overdraft()
	if err != nil {
		return err
	}
	registry, err := pipeline.NewRegistry(pool, pipeline.Options{
		Config:    pc,
		Overdraft: overdraft,
		Scheduler: pipeline.WallClock{},
		Quotas:    repo,
		Recorder:  recorder.New(repo, archiver, logger),
		Logger:    logger,
	})
	if err != nil {
		pool.Shutdown()
		return err
	}
	registry.Start()

	limiter := ratelimit.New(cfg.RateLimit.UploadsPerMinute)
	defer limiter.Stop()

	// ── gRPC server ──
	grpcSrv := grpc.NewServer(grpcserver.ServerOptions(provider, logger)...)
	pb.RegisterIngestionServer(grpcSrv, grpcserver.NewServer(registry, cfg.Upload.Dir, limiter, logger))

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		registry.Shutdown()
		return errors.Wrap(err, "listen gRPC")
	}

	// ── REST API ──
	handler := restapi.NewHandler(restapi.Deps{
		Sessions:  registry,
		Auth:      provider,
		Records:   repo,
		Quotas:    repo,
		Limiter:   limiter,
		UploadDir: cfg.Upload.Dir,
		Health:    map[string]restapi.Pinger{"database": repo, "redis": provider},
		Logger:    logger,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("addr", cfg.GRPC.Addr))
		return errors.Wrap(grpcSrv.Serve(lis), "gRPC serve")
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "HTTP serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// 1. Stop accepting new HTTP requests.
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("HTTP shutdown", slog.String("error", err.Error()))
		}
		logger.Info("HTTP server stopped")

		// 2. Stop gRPC server gracefully.
		grpcSrv.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})
	err = g.Wait()

	// 3. Cancel in-flight items, drain the worker pool and the dispatcher.
	registry.Shutdown()
	logger.Info("pipelines closed, worker pool drained")

	logger.Info("TradeFlow shutdown complete")
	return err
}

func openDB(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse db.dsn")
	}
	mc.ParseTime = true

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// Connection pool tuning.
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return db, nil
}

func newExtractor(ctx context.Context, cfg config.ExtractConfig) (extract.Extractor, func(), error) {
	switch cfg.Backend {
	case "vertex":
		v, err := extract.NewVertex(ctx, cfg.Project, cfg.Region, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return v, func() { v.Close() }, nil
	default:
		return extract.Simulated{Latency: cfg.Latency}, func() {}, nil
	}
}

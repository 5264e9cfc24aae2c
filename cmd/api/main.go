package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/jbi-analyzer/internal/application"
	appanalysis "github.com/bryanwahyu/jbi-analyzer/internal/application/analysis"
	appreport "github.com/bryanwahyu/jbi-analyzer/internal/application/report"
	"github.com/bryanwahyu/jbi-analyzer/internal/config"
	domain "github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/jbi-analyzer/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/jbi-analyzer/internal/infra/db/postgres"
	"github.com/bryanwahyu/jbi-analyzer/internal/infra/httpserver"
	"github.com/bryanwahyu/jbi-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/jbi-analyzer/internal/infra/workflow/stepfunctions"
	"github.com/bryanwahyu/jbi-analyzer/internal/logging"
	"github.com/bryanwahyu/jbi-analyzer/internal/middleware"
)

type sessionRepo interface {
	domain.Repository
	middleware.Pinger
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	logger.Info("session repository ready", zap.String("driver", cfg.Database.Driver))

	// init S3 / MinIO
	store, err := storage.New(ctx, storage.Options{
		Endpoint:     cfg.Storage.Endpoint,
		Region:       cfg.Storage.Region,
		Bucket:       cfg.Storage.BucketName,
		AccessKey:    cfg.Storage.AccessKey,
		SecretKey:    cfg.Storage.SecretKey,
		UseSSL:       cfg.Storage.UseSSL,
		CreateBucket: cfg.Storage.CreateBucket,
	})
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	// init Step Functions
	wf, err := stepfunctions.New(ctx, cfg.Storage.Region, cfg.Workflow.StateMachineARN, cfg.Storage.AccessKey, cfg.Storage.SecretKey)
	if err != nil {
		return fmt.Errorf("workflow init: %w", err)
	}
	if cfg.Workflow.StateMachineARN == "" {
		logger.Warn("STEP_FUNCTION_ARN not set, uploads will fail to start processing")
	}

	clock := application.SystemClock{}
	analysisSvc := &appanalysis.Service{
		Repo:     repo,
		Store:    store,
		Workflow: wf,
		Clock:    clock,
		Logger:   logger.Named("analysis"),
		Limits: appanalysis.Limits{
			MaxFiles:    cfg.Upload.MaxFiles,
			MaxFileSize: cfg.Upload.MaxFileSize,
		},
	}
	reportSvc := &appreport.Service{
		Store:  store,
		Clock:  clock,
		Logger: logger.Named("report"),
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.UploadRatePerMin > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.UploadRatePerMin)
		defer limiter.Close()
	}

	handler := httpserver.NewRouter(httpserver.Options{
		Analysis: analysisSvc,
		Reports:  reportSvc,
		Logger:   logger.Named("http"),
		Metrics:  middleware.NewMetrics(),
		Checkers: map[string]middleware.HealthChecker{
			"storage":  middleware.PingChecker{Target: store},
			"database": middleware.PingChecker{Target: repo},
		},
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		APIKeys:            cfg.Server.APIKeys,
		UploadLimiter:      limiter,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// upload batch bisa sampai ratusan MB
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", addr),
			zap.String("bucket", cfg.Storage.BucketName),
			zap.String("region", cfg.Storage.Region))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openRepository picks the session store. db is nil for the in-memory driver.
func openRepository(ctx context.Context, cfg *config.Config) (sessionRepo, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		if err := mysqlp.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("mysql migrate: %w", err)
		}
		return mysqlp.NewSessionRepository(db), db, nil
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgresp.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return postgresp.NewSessionRepository(db), db, nil
	default:
		return memory.NewSessionRepository(), nil, nil
	}
}

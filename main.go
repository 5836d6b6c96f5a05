package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toko-catalog/internal/assets"
	"toko-catalog/internal/config"
	"toko-catalog/internal/models"
	"toko-catalog/internal/query"
	"toko-catalog/internal/repositories"
	"toko-catalog/internal/server"
	"toko-catalog/internal/services"
	"toko-catalog/pkg/logger"
	"toko-catalog/pkg/mongodb"
	"toko-catalog/pkg/rabbitmq"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// --- Storage ---
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql handle: %w", err)
	}
	defer sqlDB.Close()

	productRepo, closeProducts, err := newProductRepository(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeProducts()
	userRepo := repositories.NewGORMUserRepository(db)

	// --- Object store ---
	store, err := assets.NewMinioStore(ctx, assets.MinioConfig{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
		PublicURL: cfg.Minio.PublicURL,
		Timeout:   cfg.Minio.Timeout,
	})
	if err != nil {
		return err
	}

	// --- Cleanup queue ---
	// Without a broker the service still runs; orphaned assets are then only logged.
	var publisher assets.CleanupPublisher
	mqClient, err := rabbitmq.NewClient(rabbitmq.Config{
		URL:          cfg.RabbitMQ.URL,
		CleanupQueue: cfg.RabbitMQ.CleanupQueue,
		Logger:       log,
	})
	if err != nil {
		log.Warn("cleanup queue unavailable", zap.Error(err))
	} else {
		defer mqClient.Close()
		publisher = mqClient
		worker := assets.NewCleanupWorker(store, log)
		if err := mqClient.ConsumeAssetCleanup(worker.HandleDelivery); err != nil {
			log.Warn("failed to start cleanup consumer", zap.Error(err))
		}
	}

	// --- Services ---
	maxFileSize, err := cfg.MaxFileSizeBytes()
	if err != nil {
		return err
	}
	bodyLimit, err := cfg.BodyLimitBytes()
	if err != nil {
		return err
	}
	reconciler := assets.NewReconciler(store, productRepo, assets.NewValidator(maxFileSize), publisher,
		assets.Options{PurgeSuperseded: cfg.Assets.PurgeSuperseded, Concurrency: cfg.Assets.Concurrency}, log)
	queryOpts := query.Options{DefaultLimit: cfg.Catalog.DefaultLimit, MaxLimit: cfg.Catalog.MaxLimit}

	app := server.New(server.Deps{
		Products:  services.NewProductService(productRepo, reconciler, queryOpts, log),
		Stats:     services.NewStatsService(productRepo),
		Auth:      services.NewAuthService(userRepo, cfg.JWT.Secret, log),
		Log:       log,
		BodyLimit: bodyLimit,
		AccessLog: cfg.App.AccessLog,
		Checks: map[string]func() error{
			"database": sqlDB.Ping,
		},
	})

	// --- HTTP server with graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.App.Port), zap.String("backend", cfg.Catalog.Backend))
		serveErr <- app.Listen(cfg.App.Port)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("error during fiber shutdown", zap.Error(err))
	}
	log.Info("server gracefully stopped")
	return nil
}

// openDatabase connects the relational store and migrates the tables it owns.
func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&models.Product{}, &models.User{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return db, nil
}

// newProductRepository picks the product store for catalog.backend. The returned func releases it.
func newProductRepository(ctx context.Context, cfg config.Config, db *gorm.DB) (repositories.ProductRepository, func(), error) {
	noop := func() {}
	switch cfg.Catalog.Backend {
	case "sql":
		return repositories.NewGORMProductRepository(db), noop, nil
	case "memory":
		return repositories.NewMockProductRepository(), noop, nil
	case "mongo":
		conn, err := mongodb.NewConnection(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		closeConn := func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = conn.Close(shutdownCtx)
		}
		return repositories.NewMongoProductRepository(conn), closeConn, nil
	}
	return nil, nil, fmt.Errorf("unsupported catalog backend %q", cfg.Catalog.Backend)
}

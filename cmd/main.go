package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/afero"

	"filevault/internal/bus"
	"filevault/internal/config"
	"filevault/internal/handler"
	"filevault/internal/repository"
	"filevault/internal/service"
	"filevault/internal/service/s3"
	"filevault/internal/storage"
)

func connectWithRetry(cfg config.DatabaseConfig, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	// Сначала подключаемся к базе postgres (системная база, которая всегда существует)
	system := cfg
	system.Name = "postgres"
	pgDB, err := sqlx.Connect("postgres", system.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	defer pgDB.Close()

	// Проверяем, существует ли база данных
	var exists bool
	err = pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)", cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	// Если базы нет, создаем её
	if !exists {
		log.Printf("Database %s does not exist, creating...", cfg.Name)
		if _, err = pgDB.Exec("CREATE DATABASE " + quoteIdentifier(cfg.Name)); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	var db *sqlx.DB
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", cfg.GetDSN())
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := connectWithRetry(cfg, 5, time.Second*5)
	if err != nil {
		return nil, err
	}

	if err := repository.RunMigrations(cfg.GetURL(), time.Second*5); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// buildStores создает хранилища содержимого, доступные контейнерам
func buildStores(ctx context.Context, cfg *config.Config) ([]storage.ContentStore, error) {
	pool := storage.NewBlockPool(cfg.Storage.BlockSize, cfg.Storage.MaxIdleBlocks)
	stores := []storage.ContentStore{storage.NewMemoryStore(config.StoreMemory, pool)}

	if cfg.Storage.DiskDir != "" {
		disk, err := storage.NewDiskStore(config.StoreDisk, afero.NewOsFs(), cfg.Storage.DiskDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk store: %w", err)
		}
		stores = append(stores, disk)
	}

	if cfg.S3.Name != "" {
		client, err := s3.NewClient(&cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach S3 bucket: %w", err)
		}
		stores = append(stores, client)
	}
	return stores, nil
}

func newBus(cfg config.BusConfig, db *sqlx.DB, registry *service.Registry) bus.Bus {
	policy := bus.RetryPolicy{
		Attempts: cfg.RetryAttempts,
		Delay:    cfg.RetryDelay,
		MaxDelay: cfg.RetryMaxDelay,
	}
	processor := bus.NewProcessor(registry)

	switch cfg.Kind {
	case config.KindPostgres:
		b := bus.NewPostgresBus(db, processor, policy, cfg.PollInterval)
		b.Start()
		return b
	case config.KindMemory:
		return bus.NewMemoryBus(processor, policy)
	default:
		return nil
	}
}

func newCatalogue(kind, name string, db *sqlx.DB) repository.Catalogue {
	if kind == config.KindPostgres {
		return repository.NewPostgresCatalogue(name, db)
	}
	return repository.NewMemoryCatalogue(name)
}

// buildRegistry регистрирует хранилища, каталоги и контейнеры из конфигурации
func buildRegistry(cfg *config.Config, stores []storage.ContentStore, db *sqlx.DB, b bus.Bus, registry *service.Registry) error {
	for _, store := range stores {
		if err := registry.AddStore(store); err != nil {
			return fmt.Errorf("failed to register store: %w", err)
		}
	}

	for _, cc := range cfg.Containers {
		store, err := registry.Store(cc.Store)
		if err != nil {
			return fmt.Errorf("container %s: %w", cc.Name, err)
		}

		catalogue := newCatalogue(cc.Catalogue, cc.Name, db)
		if err := registry.AddCatalogue(catalogue); err != nil {
			return fmt.Errorf("failed to register catalogue: %w", err)
		}

		opts := []service.ContainerOption{service.WithHashAlgorithm(cfg.Storage.HashAlgorithm)}
		if b != nil {
			opts = append(opts, service.WithMessageBus(b))
		}
		container, err := service.NewContainer(cc.Name, catalogue, store, opts...)
		if err != nil {
			return fmt.Errorf("failed to create container %s: %w", cc.Name, err)
		}
		if err := registry.AddContainer(container); err != nil {
			return fmt.Errorf("failed to register container: %w", err)
		}
		log.Printf("Container %s: catalogue=%s store=%s", cc.Name, cc.Catalogue, store.Name())
	}
	return nil
}

func main() {
	// Загружаем конфигурацию
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var db *sqlx.DB
	if appConfig.NeedsDatabase() {
		db, err = openDatabase(appConfig.Database)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
	}

	stores, err := buildStores(context.Background(), appConfig)
	if err != nil {
		log.Fatalf("Failed to create stores: %v", err)
	}

	registry := service.NewRegistry()
	messageBus := newBus(appConfig.Bus, db, registry)

	if err := buildRegistry(appConfig, stores, db, messageBus, registry); err != nil {
		log.Fatalf("Failed to build registry: %v", err)
	}

	// Настройка HTTP роутера
	r := handler.NewRouter(handler.NewContainerHandler(registry), handler.RouterOptions{
		RequestTimeout: appConfig.Server.RequestTimeout,
		AllowedOrigins: appConfig.Server.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	// Канал для сигналов завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем HTTP сервер
	go func() {
		log.Printf("Starting HTTP server on port %s", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	if messageBus != nil {
		if err := messageBus.Close(); err != nil {
			log.Printf("Error closing message bus: %v", err)
		}
	}

	log.Println("Server exited properly")
}

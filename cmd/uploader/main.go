package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chunk-upload-service/conf"
	"chunk-upload-service/controller"
	"chunk-upload-service/database"
	"chunk-upload-service/service/auth_service"
	"chunk-upload-service/service/upload_service"
	"chunk-upload-service/storage"
)

var ENV string

func init() {
	flag.StringVar(&ENV, "env", "dev", "Environment: dev/test/prod")
}

// @title           Chunk Upload Service API
// @version         1.0
// @description     Control plane for resumable chunked uploads: initiate, pause, resume, retry and cancel transfers to a blob target

// @host      localhost:7290
// @BasePath  /api/v1

func main() {
	// Initialize all components
	worker, cleanupProcessor, srv, cleanup := initAll()
	defer cleanup()

	// Start cleanup processor (in goroutine)
	cleanupProcessor.Start()

	// Start HTTP API service (in goroutine)
	go startServer(srv)
	log.Println("Uploader API service started successfully")

	// Wait for shutdown signal
	waitForShutdown()

	log.Println("Shutting down uploader service...")

	// Stop background components
	cleanupProcessor.Stop()
	worker.Stop()

	// Gracefully shutdown HTTP service
	shutdownServer(srv)

	log.Println("Server exited")
}

// initAll initialize all components
func initAll() (*upload_service.TransferWorker, *upload_service.CleanupProcessor, *http.Server, func()) {
	// Parse command line parameters
	flag.Parse()
	conf.SetEnv(ENV)
	log.Printf("Environment: %s", ENV)

	// Initialize configuration
	if err := conf.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	log.Printf("Configuration loaded: env=%s, port=%s", ENV, conf.Cfg.Port)

	// Initialize database
	if err := initDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (optional, won't fail if disabled or unavailable)
	if err := database.InitRedis(); err != nil {
		log.Printf("⚠️  Redis initialization failed (cache will be disabled): %v", err)
	}

	// Initialize blob store
	blob, err := storage.NewBlobStore()
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}
	log.Printf("Blob store initialized: type=%s", conf.Cfg.Storage.Type)

	// Wire the control plane
	locks := upload_service.NewKeyedMutex()
	store := upload_service.NewStateStore(database.NewRedisCache(), database.DB)
	leases := upload_service.NewLeaseManager(blob, time.Duration(conf.Cfg.Uploader.LeaseDuration)*time.Second)
	worker := upload_service.NewTransferWorker(store, blob, leases, locks,
		conf.Cfg.Uploader.ChunkSize, conf.Cfg.Uploader.ChunkRetryLimit)
	controlService := upload_service.NewControlService(store, leases, worker, locks,
		conf.Cfg.Uploader.MaxRetries, conf.Cfg.Uploader.MaxChunks, conf.Cfg.Uploader.ChunkSize)
	cleanupProcessor := upload_service.NewCleanupProcessor(store, blob, worker, locks,
		time.Duration(conf.Cfg.Uploader.CleanupInterval)*time.Second,
		time.Duration(conf.Cfg.Uploader.StalledAfter)*time.Second,
		time.Duration(conf.Cfg.Uploader.TerminalRetention)*time.Second)

	authService := auth_service.NewAuthService(conf.Cfg.Auth.JwtSecret)

	// Setup uploader service router
	router := controller.SetupUploaderRouter(controlService, authService)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + conf.Cfg.Port,
		Handler: router,
	}

	// Return component instances and cleanup function
	cleanup := func() {
		if database.DB != nil {
			database.DB.Close()
		}
		if err := database.CloseRedis(); err != nil {
			log.Printf("Failed to close Redis: %v", err)
		}
	}

	return worker, cleanupProcessor, srv, cleanup
}

// initDatabase initialize database based on configuration
func initDatabase() error {
	dbType := database.DBType(conf.Cfg.Database.Type)

	switch dbType {
	case database.DBTypePebble:
		config := &database.PebbleConfig{
			DataDir: conf.Cfg.Database.DataDir,
		}
		return database.InitDatabase(database.DBTypePebble, config)

	default:
		config := &database.MySQLConfig{
			DSN:          conf.Cfg.Database.Dsn,
			MaxOpenConns: conf.Cfg.Database.MaxOpenConns,
			MaxIdleConns: conf.Cfg.Database.MaxIdleConns,
		}
		return database.InitDatabase(database.DBTypeMySQL, config)
	}
}

// startServer start HTTP server
func startServer(srv *http.Server) {
	log.Printf("Uploader API service starting on port %s...", conf.Cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// waitForShutdown wait for shutdown signal
func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}

// shutdownServer gracefully shutdown server
func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
}

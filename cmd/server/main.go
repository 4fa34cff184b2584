package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/batch"
	"github.com/stanstork/stratum-identity/internal/capability"
	"github.com/stanstork/stratum-identity/internal/config"
	"github.com/stanstork/stratum-identity/internal/directory/rest"
	"github.com/stanstork/stratum-identity/internal/handlers"
	"github.com/stanstork/stratum-identity/internal/idplink"
	"github.com/stanstork/stratum-identity/internal/jobs"
	"github.com/stanstork/stratum-identity/internal/middleware"
	"github.com/stanstork/stratum-identity/internal/migration"
	"github.com/stanstork/stratum-identity/internal/notification"
	"github.com/stanstork/stratum-identity/internal/provision"
	"github.com/stanstork/stratum-identity/internal/repository"
	"github.com/stanstork/stratum-identity/internal/routes"
	"github.com/stanstork/stratum-identity/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	pool          *worker.Pool
	logger        zerolog.Logger
	notifications notification.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	app := &application{
		config: cfg,
		logger: logger,
	}

	// Jobs live in PostgreSQL when a database is configured, in memory otherwise.
	var (
		migrationRepo    repository.MigrationRepository
		notificationRepo repository.NotificationRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to the database")
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ping database")
		}

		// Run database migrations.
		if err := migration.RunMigrations(db, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		app.db = db
		migrationRepo = repository.NewMigrationRepository(db)
		notificationRepo = repository.NewNotificationRepository(db)
	} else {
		logger.Warn().Msg("No database_url configured, keeping jobs in memory")
		migrationRepo = repository.NewMemoryMigrationRepository()
		notificationRepo = repository.NewMemoryNotificationRepository()
	}

	// Initialize notification service.
	app.notifications = notification.NewService(notificationRepo, logger, notification.NewWebhookNotifier(cfg.Notifications, logger))

	// Shared worker pool for every batch of every job.
	app.pool = worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize, logger)

	// Initialize the HTTP router and middleware.
	router := app.initRouter(migrationRepo, logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter wires the directory clients and services and returns the router.
func (app *application) initRouter(migrationRepo repository.MigrationRepository, logger zerolog.Logger) http.Handler {
	cfg := app.config

	// Directory clients
	dirOpts := rest.Options{
		BaseURL:           cfg.Directory.BaseURL,
		Timeout:           cfg.Directory.Timeout,
		RequestsPerSecond: cfg.Directory.RequestsPerSecond,
		Burst:             cfg.Directory.Burst,
		SigningKey:        []byte(cfg.JWTSecret),
		TokenTTL:          cfg.Directory.ServiceTokenTTL,
	}
	directoryClient, err := rest.NewClient(dirOpts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create directory client")
	}
	authClient := directoryClient
	if cfg.Directory.AuthURL != "" {
		dirOpts.BaseURL = cfg.Directory.AuthURL
		if authClient, err = rest.NewClient(dirOpts, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create authentication directory client")
		}
	}

	// Services
	resolver := capability.NewResolver(directoryClient, capability.Options{
		BatchSize:   cfg.Capabilities.BatchSize,
		MaxAttempts: cfg.Capabilities.MaxAttempts,
		RetryDelay:  cfg.Capabilities.RetryDelay,
	}, logger)
	provisioner := provision.NewProvisioner(authClient, directoryClient, resolver, cfg.Migration.PasswordPolicy, logger)
	executor := batch.NewExecutor(app.pool, cfg.Migration.BatchSize, logger)
	manager := jobs.NewManager(migrationRepo, directoryClient, directoryClient, provisioner, executor, app.notifications, jobs.Options{
		PageSize:   cfg.Migration.PageSize,
		MaxRecords: cfg.Migration.MaxRecords,
	}, logger)
	linker := idplink.NewLinker(directoryClient, authClient, executor, app.notifications, cfg.IdentityProvider.AliasTemplate, logger)

	// Handlers
	var store handlers.Pinger
	if app.db != nil {
		store = app.db
	}
	authHandler := handlers.NewAuthHandler(cfg, logger)
	migrationHandler := handlers.NewMigrationHandler(manager, logger)
	linkHandler := handlers.NewIdentityLinkHandler(linker, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(handlers.HealthCheck(store), authHandler, migrationHandler, linkHandler, notificationHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Drain the worker pool.
	logger.Info().Msg("Stopping worker pool...")
	app.pool.Shutdown()
	logger.Info().Msg("Worker pool stopped.")
}

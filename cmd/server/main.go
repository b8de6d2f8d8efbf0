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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skinvault/tradebot/internal/api"
	"github.com/skinvault/tradebot/internal/auth"
	"github.com/skinvault/tradebot/internal/config"
	"github.com/skinvault/tradebot/internal/db"
	"github.com/skinvault/tradebot/internal/notify"
	"github.com/skinvault/tradebot/internal/recon"
	"github.com/skinvault/tradebot/internal/steam"
)

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Main entry point: sets up the store, trading session, reconciliation
// pipeline, and HTTP server
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	// Trading session: the bridge sidecar holds the authenticated session
	bridge := steam.NewBridge(cfg.Steam.BridgeURL, cfg.Steam.BridgeToken,
		cfg.Steam.AppID, cfg.Steam.ContextID, cfg.Steam.Timeout, logger.Named("steam"))
	go bridge.Run(ctx)

	// Reconciliation pipeline
	dispatcher := notify.NewDispatcher(notify.Options{
		Endpoint:     cfg.Notify.Endpoint,
		Secret:       cfg.Notify.Secret,
		MaxAttempts:  cfg.Notify.MaxAttempts,
		BaseBackoff:  cfg.Notify.BaseBackoff,
		Timeout:      cfg.Notify.Timeout,
		DrainTimeout: cfg.Notify.DrainTimeout,
	}, logger.Named("notify"))
	defer dispatcher.Close()

	lockFor := time.Duration(cfg.LockDays) * 24 * time.Hour
	coordinator := recon.NewCoordinator(database, dispatcher, lockFor, logger.Named("recon"))
	go coordinator.Run(ctx, bridge.StateChanges())

	// Initialize auth service
	authService := auth.NewAuthService(database, cfg.JWTSecret)

	// Initialize API handlers
	handler := api.NewHandler(database, bridge, authService, cfg.Steam.OfferMessage, logger.Named("api"))

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/get-inventory", handler.GetInventory)
		r.Post("/create-offer", handler.CreateOffer)
		r.Get("/sell-requests", handler.GetSellRequests)
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

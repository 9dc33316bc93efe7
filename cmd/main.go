package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	emberly "github.com/emberlyhq/emberly-backend"
	"github.com/emberlyhq/emberly-backend/internal/api/conversations"
	"github.com/emberlyhq/emberly-backend/internal/auth"
	"github.com/emberlyhq/emberly-backend/internal/cache"
	"github.com/emberlyhq/emberly-backend/internal/chat"
	"github.com/emberlyhq/emberly-backend/internal/config"
	"github.com/emberlyhq/emberly-backend/internal/middleware"
	"github.com/emberlyhq/emberly-backend/internal/storage/postgres"
	"github.com/emberlyhq/emberly-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	migrationsFS, err := fs.Sub(emberly.MigrationsFS, "migrations")
	if err != nil {
		logger.Fatal().Err(err).Msg("load embedded migrations")
	}
	logger.Info().Msg("running database migrations")
	if err := postgres.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	store, err := postgres.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer store.Close()
	logger.Info().Msg("connected to PostgreSQL")

	// The cache is a soft dependency: without VALKEY_URL every cache call
	// reports unavailable and the store-only paths carry the load.
	var ephemeral cache.Cache = cache.Noop{}
	if cfg.ValkeyURL != "" {
		vc, err := cache.NewValkeyCache(cache.ValkeyOptions{
			URL:        cfg.ValkeyURL,
			OpTimeout:  cfg.CacheOpTimeout,
			WindowSize: cfg.WindowSize,
			WindowTTL:  cfg.WindowTTL,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("valkey connection failed")
		}
		defer vc.Close()
		ephemeral = vc
		logger.Info().Msg("connected to Valkey")
	} else {
		logger.Warn().Msg("no VALKEY_URL configured, running store-only")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)

	hub := ws.NewHub(store, ephemeral, logger, cfg.HeartbeatWindow)
	chatSvc := chat.NewService(store, ephemeral, hub, logger, cfg.WindowSize)
	signals := chat.NewSignalTracker(store, ephemeral, hub, logger, cfg.TypingTTL)
	hub.OnDisconnect = signals.ClearUser

	dispatcher := ws.NewDispatcher(hub, chatSvc, signals, logger)
	wsHandler := ws.NewHandler(hub, dispatcher, verifier, logger, cfg.HeartbeatWindow, cfg.WriteTimeout)

	router := mux.NewRouter()
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigin))

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ws/chat", wsHandler.ServeWS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(verifier))
	conversations.Register(api, &conversations.Handler{Store: store, Chat: chatSvc, Logger: logger})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xsukax/ephemchat/internal/chat"
	"github.com/xsukax/ephemchat/internal/config"
	"github.com/xsukax/ephemchat/internal/handlers"
	"github.com/xsukax/ephemchat/internal/middleware"
	"github.com/xsukax/ephemchat/internal/store/sqlstore"
)

var addr = flag.String("addr", "", "http service address (overrides config)")

func initLogger(environment string) *slog.Logger {
	var logger *slog.Logger
	if environment == "development" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	slog.SetDefault(logger)
	return logger
}

func main() {
	flag.Parse()

	cfg := config.Load()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logger := initLogger(cfg.Environment)

	// Initialize Database
	store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Core engine
	engine := chat.NewService(store, logger, chat.Options{
		Lifetime:         cfg.Room.Lifetime,
		HeartbeatTimeout: cfg.Room.HeartbeatTimeout,
		MaxParticipants:  cfg.Room.MaxParticipants,
		FetchLimit:       cfg.Room.FetchLimit,
	})

	chatHandler := &handlers.ChatHandler{Chat: engine, Log: logger}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer limiter.Stop()

	r := mux.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(MetricsMiddleware(metrics))
	r.Use(limiter.Middleware)

	// The whole chat protocol multiplexes over one endpoint. GET is accepted
	// for the action discriminator as a fallback, POST is the documented way.
	r.HandleFunc("/api", chatHandler.Actions).Methods("POST", "GET")
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	// Serve the single-page client
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, cfg.Server.StaticDir+"/index.html")
	})

	// Serve static files with cache-busting headers for development
	r.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".css") || strings.HasSuffix(r.URL.Path, ".js") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		}
		http.FileServer(http.Dir(cfg.Server.StaticDir)).ServeHTTP(w, r)
	}))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

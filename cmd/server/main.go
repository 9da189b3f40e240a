package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/eupholio/costbasis/internal/api"
	"github.com/eupholio/costbasis/internal/cache"
	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/metrics"
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		slog.Error("invalid settings", "err", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, settings.LogLevel)
	slog.SetDefault(logger)
	if !config.KnownLogLevel(settings.LogLevel) {
		slog.Warn("unknown LOG_LEVEL, using info", "level", settings.LogLevel)
	}

	// --- Initialize report cache ---
	var rc cache.Cache
	var cleanup []func()

	if settings.RedisURL != "" {
		rdb, err := cache.NewRedisClient(settings.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { rdb.Close() })
		redisCache := cache.NewRedisCache(rdb, settings.CacheTTL)

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			slog.Warn("redis unreachable, cache lookups will miss until it recovers", "err", err)
		}
		cancel()

		rc = redisCache
		slog.Info("Redis report cache enabled", "ttl", settings.CacheTTL.String())
	} else {
		slog.Info("REDIS_URL not set, using in-process report cache", "ttl", settings.CacheTTL.String())
		rc = cache.NewMemoryCache(settings.CacheTTL)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := api.NewWSHub()
	go wsHub.Run(hubCtx)

	// --- Calculation service ---
	svc := api.NewService(rc, wsHub, api.Limits{
		MaxEvents:    settings.MaxEvents,
		MaxBodyBytes: settings.MaxBodyBytes,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(settings.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"costbasis"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	var limiter *rate.Limiter
	if settings.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(settings.RateLimitRPS), settings.RateLimitBurst)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of completed calculations.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(api.RateLimit(limiter))
			r.Post("/calculate", svc.Calculate)
			r.Post("/validate", svc.Validate)
			r.Post("/normalize/{format}", svc.Normalize)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + settings.Port,
		Handler:      r,
		ReadTimeout:  settings.RequestTimeout,
		WriteTimeout: settings.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("costbasis listening", "port", settings.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down costbasis...")
	stopHub()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("costbasis stopped")
}

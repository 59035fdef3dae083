package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ubipay/internal/handler"
	"ubipay/internal/ledger"
	"ubipay/internal/middleware"
	"ubipay/internal/notification"
	"ubipay/internal/provider"
	"ubipay/internal/repository/postgres"
	"ubipay/internal/risk"
	"ubipay/internal/scheduler"
	"ubipay/pkg/cache"
	"ubipay/pkg/config"
	"ubipay/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("wallet-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Wallet Service", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	db, err := postgres.Connect(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Failed to create Redis client", map[string]interface{}{"error": err.Error()})
	}
	defer redisCache.Close()

	if err := redisCache.Ping(context.Background()); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Redis connected", nil)

	sink, err := notification.New(cfg.Notification, redisCache.Client(), log)
	if err != nil {
		log.Fatal("Failed to create notifier", map[string]interface{}{"error": err.Error()})
	}
	notifier := notification.NewAsync(sink, 1024, log)
	defer notifier.Close()

	ledgerService := ledger.NewService(postgres.NewLedgerStore(db), redisCache, cfg.Ledger, log)

	registry, err := provider.NewRegistryFromConfig(cfg.Providers, cfg.Card, log)
	if err != nil {
		log.Fatal("Failed to configure providers", map[string]interface{}{"error": err.Error()})
	}

	// assigned only when configured so a nil *GeoIPLocator never hides in the interface
	var geo risk.GeoLocator
	if cfg.Risk.GeoIPDatabasePath != "" {
		locator, err := risk.OpenGeoIP(cfg.Risk.GeoIPDatabasePath)
		if err != nil {
			log.Fatal("Failed to open GeoIP database", map[string]interface{}{
				"path":  cfg.Risk.GeoIPDatabasePath,
				"error": err.Error(),
			})
		}
		defer locator.Close()
		geo = locator
	}

	riskEngine := risk.NewEngine(
		postgres.NewRiskRepository(db),
		redisCache,
		ledgerService,
		geo,
		notifier,
		ledgerService,
		cfg.Risk,
		log,
	)

	jobs := scheduler.NewScheduler(time.Second, log)
	jobs.Schedule(&scheduler.Task{
		Name:     "hold-sweeper",
		Interval: cfg.Ledger.HoldSweepInterval,
		Run: func(ctx context.Context) error {
			n, err := ledgerService.ExpireHolds(ctx)
			if n > 0 {
				log.Info("Expired holds released", map[string]interface{}{"count": n})
			}
			return err
		},
	})
	jobs.Schedule(&scheduler.Task{
		Name:     "review-sweeper",
		Interval: cfg.Risk.ReviewSweepInterval,
		Run: func(ctx context.Context) error {
			n, err := riskEngine.SweepRejectedReviews(ctx)
			if n > 0 {
				log.Info("Rejected review transactions failed", map[string]interface{}{"count": n})
			}
			return err
		},
	})
	jobs.Start()

	systemHandler := handler.NewSystemHandler(map[string]handler.Check{
		"postgres": db.PingContext,
		"redis":    redisCache.Ping,
	}, log)
	riskHandler := handler.NewRiskHandler(riskEngine, log)
	callbackHandler := handler.NewCallbackHandler(registry, notifier, log)

	r := mux.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Trace)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.NewLoggingMiddleware(log).Log)

	r.HandleFunc("/health", systemHandler.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", systemHandler.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	callbacks := r.PathPrefix("/callbacks").Subrouter()
	callbacks.Use(middleware.NewRateLimiter(redisCache, "callbacks", 600, time.Minute, log).Limit)
	callbacks.HandleFunc("/{provider}", callbackHandler.Handle).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1/risk").Subrouter()
	api.Use(middleware.BlockBlacklistedIPs(riskEngine, log))
	api.Use(middleware.NewRateLimiter(redisCache, "risk", 120, time.Minute, log).Limit)
	api.HandleFunc("/assess", riskHandler.Assess).Methods(http.MethodPost)
	api.HandleFunc("/reviews", riskHandler.ListReviews).Methods(http.MethodGet)
	api.HandleFunc("/reviews/{id}", riskHandler.Review).Methods(http.MethodPost)
	api.HandleFunc("/patterns/{user_id}", riskHandler.Patterns).Methods(http.MethodGet)
	api.HandleFunc("/blacklist", riskHandler.AddToBlacklist).Methods(http.MethodPost)
	api.HandleFunc("/blacklist/{kind}/{value}", riskHandler.RemoveFromBlacklist).Methods(http.MethodDelete)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Wallet service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down wallet service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Wallet service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	jobs.Stop()

	log.Info("Wallet service stopped gracefully", nil)
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ubipay/internal/ledger"
	"ubipay/internal/notification"
	"ubipay/internal/provider"
	"ubipay/internal/reconciliation"
	"ubipay/internal/repository/postgres"
	"ubipay/pkg/cache"
	"ubipay/pkg/config"
	"ubipay/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run a single reconciliation pass and exit")
	dateFlag := flag.String("date", "", "day to reconcile with -once (YYYY-MM-DD); defaults to yesterday")
	flag.Parse()

	cfg := config.Load()
	log := logger.New("reconciliation-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := postgres.Connect(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}
	defer redisCache.Close()

	sink, err := notification.New(cfg.Notification, redisCache.Client(), log)
	if err != nil {
		log.Fatal("Failed to create notifier", map[string]interface{}{"error": err.Error()})
	}
	notifier := notification.NewAsync(sink, 256, log)
	defer notifier.Close()

	registry, err := provider.NewRegistryFromConfig(cfg.Providers, cfg.Card, log)
	if err != nil {
		log.Fatal("Failed to configure providers", map[string]interface{}{"error": err.Error()})
	}

	ledgerService := ledger.NewService(postgres.NewLedgerStore(db), redisCache, cfg.Ledger, log)

	engine, err := reconciliation.NewEngine(
		postgres.NewReconciliationRepository(db),
		ledgerService,
		registry,
		notifier,
		cfg.Reconciliation,
		log,
	)
	if err != nil {
		log.Fatal("Failed to create reconciliation engine", map[string]interface{}{"error": err.Error()})
	}

	sched, err := reconciliation.NewScheduler(engine, cfg.Reconciliation, log)
	if err != nil {
		log.Fatal("Failed to create reconciliation scheduler", map[string]interface{}{"error": err.Error()})
	}

	if *once {
		date := sched.PreviousDay()
		if *dateFlag != "" {
			date, err = time.Parse("2006-01-02", *dateFlag)
			if err != nil {
				log.Fatal("Invalid -date, expected YYYY-MM-DD", map[string]interface{}{"date": *dateFlag})
			}
		}
		os.Exit(runOnce(engine, sched, date, log))
	}

	sched.Start()
	log.Info("Reconciliation scheduler started", map[string]interface{}{
		"interval":   cfg.Reconciliation.Interval.String(),
		"providers":  cfg.Reconciliation.Providers,
		"currencies": cfg.Reconciliation.Currencies,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down reconciliation scheduler...", nil)
	sched.Stop()
	log.Info("Reconciliation scheduler stopped", nil)
}

// runOnce reconciles every configured pair for date and returns the exit code.
func runOnce(engine *reconciliation.Engine, sched *reconciliation.Scheduler, date time.Time, log logger.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	failed := 0
	for _, res := range sched.RunNow(ctx, date) {
		fields := map[string]interface{}{
			"provider": res.Job.Provider,
			"currency": res.Job.Currency,
			"date":     res.Job.Date.Format("2006-01-02"),
		}
		if res.Err != nil {
			failed++
			fields["error"] = res.Err.Error()
			log.Error("Reconciliation job failed", fields)
			continue
		}
		fields["matched"] = res.Report.Matched
		fields["discrepancies"] = res.Report.Discrepancies
		if res.Balance != nil {
			fields["balance_status"] = res.Balance.Status
		}
		log.Info("Reconciliation job finished", fields)
	}

	day := date.UTC().Truncate(24 * time.Hour)
	summary, err := engine.GetReconciliationSummary(ctx, reconciliation.SummaryFilter{StartDate: day, EndDate: day})
	if err != nil {
		log.Error("Failed to build reconciliation summary", map[string]interface{}{"error": err.Error()})
		return 1
	}
	pending, err := engine.GetPendingDiscrepancies(ctx, reconciliation.PageRequest{Page: 1, PageSize: 1})
	if err != nil {
		log.Error("Failed to count pending discrepancies", map[string]interface{}{"error": err.Error()})
		return 1
	}
	log.Info("Reconciliation summary", map[string]interface{}{
		"reports":               summary.Reports,
		"failed_reports":        summary.FailedReports,
		"total_transactions":    summary.TotalTransactions,
		"total_discrepancies":   summary.TotalDiscrepancies,
		"match_rate":            summary.MatchRate.String(),
		"pending_discrepancies": pending.Total,
	})

	if failed > 0 {
		return 1
	}
	return 0
}

package reconciliation

import (
	"context"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/scheduler"
	"ubipay/pkg/config"
	"ubipay/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Runner is the part of Engine a Scheduler drives.
type Runner interface {
	RunDailyReconciliation(ctx context.Context, p domain.Provider, date time.Time, currency domain.Currency) (*domain.ReconciliationReport, error)
	RunBalanceReconciliation(ctx context.Context, p domain.Provider, date time.Time, currency domain.Currency) (*domain.BalanceReconciliation, error)
	AutoResolveSmallDiscrepancies(ctx context.Context) (int, error)
}

// Job is one (provider, currency) pair for a closed day.
type Job struct {
	Provider domain.Provider
	Currency domain.Currency
	Date     time.Time
}

type JobResult struct {
	Job     Job
	Report  *domain.ReconciliationReport
	Balance *domain.BalanceReconciliation
	Err     error
}

// Scheduler runs the previous day's jobs on every interval, at most
// workers of them at a time.
type Scheduler struct {
	runner     Runner
	providers  []domain.Provider
	currencies []domain.Currency
	workers    int
	interval   time.Duration
	location   *time.Location
	logger     logger.Logger
	now        func() time.Time

	ticker *scheduler.Scheduler
}

func NewScheduler(runner Runner, cfg config.ReconciliationConfig, log logger.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		runner:   runner,
		workers:  workers,
		interval: cfg.Interval,
		location: loc,
		logger:   log,
		now:      time.Now,
	}
	for _, p := range cfg.Providers {
		s.providers = append(s.providers, domain.Provider(p))
	}
	for _, c := range cfg.Currencies {
		s.currencies = append(s.currencies, domain.Currency(c))
	}
	return s, nil
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// PreviousDay is the last fully closed calendar day in the scheduler's timezone.
func (s *Scheduler) PreviousDay() time.Time {
	y, m, d := s.now().In(s.location).AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Jobs lists the configured (provider, currency) pairs for date.
func (s *Scheduler) Jobs(date time.Time) []Job {
	jobs := make([]Job, 0, len(s.providers)*len(s.currencies))
	for _, p := range s.providers {
		for _, c := range s.currencies {
			jobs = append(jobs, Job{Provider: p, Currency: c, Date: date})
		}
	}
	return jobs
}

// Start launches the interval trigger. The first batch runs one interval
// after Start.
func (s *Scheduler) Start() {
	s.ticker = scheduler.NewScheduler(time.Second, s.logger).WithClock(s.now)
	s.ticker.Schedule(&scheduler.Task{
		Name:     "daily-reconciliation",
		Interval: s.interval,
		Run: func(ctx context.Context) error {
			s.RunNow(ctx, s.PreviousDay())
			return ctx.Err()
		},
	})
	s.ticker.Start()

	s.logger.Info("Reconciliation scheduler started", map[string]interface{}{
		"workers":  s.workers,
		"interval": s.interval.String(),
		"jobs":     len(s.providers) * len(s.currencies),
	})
}

// Stop halts the trigger, cancels a running batch and waits for it.
func (s *Scheduler) Stop() {
	s.ticker.Stop()
	s.logger.Info("Reconciliation scheduler stopped", nil)
}

// RunNow runs every job for date, at most workers at a time, and waits for
// all of them before auto-resolving once. Jobs not started before ctx is
// cancelled report ctx's error.
func (s *Scheduler) RunNow(ctx context.Context, date time.Time) []JobResult {
	jobs := s.Jobs(date)
	results := make([]JobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = JobResult{Job: job, Err: err}
				return err
			}
			results[i] = s.execute(gctx, job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("Reconciliation batch interrupted", map[string]interface{}{
			"date":  date.Format("2006-01-02"),
			"error": err.Error(),
		})
		return results
	}

	if _, err := s.runner.AutoResolveSmallDiscrepancies(ctx); err != nil {
		s.logger.Error("Auto-resolve failed", map[string]interface{}{"error": err.Error()})
	}
	return results
}

func (s *Scheduler) execute(ctx context.Context, job Job) JobResult {
	result := JobResult{Job: job}
	fields := map[string]interface{}{
		"provider": job.Provider,
		"currency": job.Currency,
		"date":     job.Date.Format("2006-01-02"),
	}

	result.Report, result.Err = s.runner.RunDailyReconciliation(ctx, job.Provider, job.Date, job.Currency)
	if result.Err != nil {
		fields["error"] = result.Err.Error()
		s.logger.Error("Daily reconciliation job failed", fields)
		return result
	}

	result.Balance, result.Err = s.runner.RunBalanceReconciliation(ctx, job.Provider, job.Date, job.Currency)
	if result.Err != nil {
		fields["error"] = result.Err.Error()
		s.logger.Error("Balance reconciliation job failed", fields)
	}
	return result
}

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/ledger"
	"ubipay/internal/provider"
	"ubipay/internal/reconciliation"
	"ubipay/internal/repository/postgres"
	"ubipay/pkg/cache"
	"ubipay/pkg/config"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("ubipay_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Skipping test: docker not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.Connect(dsn, 10, 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, postgres.Migrate(db.DB))
	// A second run is a no-op.
	require.NoError(t, postgres.Migrate(db.DB))
	return db
}

var ledgerCfg = config.LedgerConfig{
	BalanceCacheTTL: time.Minute,
	IdempotencyTTL:  time.Hour,
	DefaultHoldTTL:  10 * time.Minute,
}

func TestPostgresIntegration(t *testing.T) {
	db := setupDB(t)
	store := postgres.NewLedgerStore(db)
	at := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	svc := ledger.NewService(store, cache.NewMemoryCache(), ledgerCfg, logger.NewNop()).
		WithClock(func() time.Time { return at })

	t.Run("ledger", func(t *testing.T) { testLedger(t, store, svc, at) })
	t.Run("risk", func(t *testing.T) { testRisk(t, db) })
	t.Run("reconciliation", func(t *testing.T) { testReconciliation(t, db, svc) })
}

func testLedger(t *testing.T, store *postgres.LedgerStore, svc *ledger.Service, at time.Time) {
	ctx := context.Background()
	user := uuid.New()

	acc, err := svc.GetOrCreateAccount(ctx, user, domain.AccountTypeUserWallet, domain.KES)
	require.NoError(t, err)
	again, err := svc.GetOrCreateAccount(ctx, user, domain.AccountTypeUserWallet, domain.KES)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, again.ID)

	credit := ledger.CreditRequest{
		Account:           ledger.ByID(acc.ID),
		Amount:            decimal.NewFromInt(5000),
		Currency:          domain.KES,
		Type:              domain.TransactionTypeWalletTopup,
		IdempotencyKey:    "topup-" + user.String(),
		ProviderReference: "MP-" + user.String()[:8],
		Provider:          domain.ProviderMPesa,
	}
	first, err := svc.Credit(ctx, credit)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTransaction(ctx, first.Transaction.ID))

	// A fresh cache forces the replay through the unique index lookup.
	cold := ledger.NewService(store, cache.NewMemoryCache(), ledgerCfg, logger.NewNop())
	replay, err := cold.Credit(ctx, credit)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Transaction.ID, replay.Transaction.ID)

	_, err = svc.Debit(ctx, ledger.DebitRequest{
		Account:  ledger.ByID(acc.ID),
		Amount:   decimal.NewFromInt(7000),
		Currency: domain.KES,
		Type:     domain.TransactionTypeRidePayment,
	})
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))

	hold, err := svc.Hold(ctx, ledger.HoldRequest{
		Account:  ledger.ByID(acc.ID),
		Amount:   decimal.NewFromInt(1200),
		Currency: domain.KES,
		Reason:   "ride estimate",
	})
	require.NoError(t, err)

	b, err := store.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, b.AvailableBalance.Equal(decimal.NewFromInt(3800)), b.AvailableBalance.String())
	assert.True(t, b.HeldBalance.Equal(decimal.NewFromInt(1200)))
	assert.NoError(t, b.CheckInvariant())

	_, err = svc.Release(ctx, hold.ID)
	require.NoError(t, err)
	_, err = svc.Release(ctx, hold.ID)
	assert.True(t, errors.Is(err, errors.ErrAlreadyReleased))

	b, err = store.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, b.AvailableBalance.Equal(decimal.NewFromInt(5000)))
	assert.True(t, b.HeldBalance.IsZero())

	other := uuid.New()
	_, err = svc.GetOrCreateAccount(ctx, other, domain.AccountTypeUserWallet, domain.KES)
	require.NoError(t, err)
	transfer, err := svc.Transfer(ctx, ledger.TransferRequest{
		From:     ledger.ByOwner(user, domain.AccountTypeUserWallet),
		To:       ledger.ByOwner(other, domain.AccountTypeUserWallet),
		Amount:   decimal.NewFromInt(750),
		Currency: domain.KES,
	})
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTransaction(ctx, transfer.Transaction.ID))

	float, err := svc.ProviderFloatBalance(ctx, domain.ProviderMPesa, domain.KES)
	require.NoError(t, err)
	assert.True(t, float.Equal(decimal.NewFromInt(5000)), float.String())

	stats, err := store.UserStats(ctx, user, domain.KES, at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Positive(t, stats.TransactionCount)

	stats, err = store.UserStats(ctx, user, domain.USD, at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.TransactionCount)

	testConcurrentAccountCreation(t, svc)
}

func testConcurrentAccountCreation(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	owner := uuid.New()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 16)
	errs := make([]error, len(ids))
	start := make(chan struct{})
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			acc, err := svc.GetOrCreateAccount(ctx, owner, domain.AccountTypeUserWallet, domain.UGX)
			errs[i] = err
			if err == nil {
				ids[i] = acc.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	// First posting in a new currency creates the provider float.
	res, err := svc.Credit(ctx, ledger.CreditRequest{
		Account:  ledger.ByID(ids[0]),
		Amount:   decimal.NewFromInt(30000),
		Currency: domain.UGX,
		Type:     domain.TransactionTypeWalletTopup,
		Provider: domain.ProviderMTNMoMo,
	})
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTransaction(ctx, res.Transaction.ID))
}

func testRisk(t *testing.T, db *sqlx.DB) {
	ctx := context.Background()
	repo := postgres.NewRiskRepository(db)

	pending := domain.ReviewStatusPending
	a := &domain.RiskAssessment{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Amount:    decimal.NewFromInt(10000),
		Currency:  domain.KES,
		Provider:  domain.ProviderMPesa,
		Type:      domain.TransactionTypeWalletTopup,
		RiskScore: 45,
		RiskLevel: domain.RiskLevelMedium,
		Action:    domain.RiskActionReview,
		Factors:   domain.RiskFactors{{Factor: "amount_anomaly", Score: 30, Reason: "amount is 10.0x the average"}},
		Status:    &pending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateAssessment(ctx, a))

	stored, err := repo.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Factors, stored.Factors)
	assert.True(t, stored.Amount.Equal(a.Amount))

	queue, err := repo.ListPendingReviews(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	approved := domain.ReviewStatusApproved
	reviewer := uuid.New()
	reviewedAt := time.Now().UTC()
	stored.Status = &approved
	stored.ReviewedBy = &reviewer
	stored.ReviewedAt = &reviewedAt
	require.NoError(t, repo.UpdateReview(ctx, stored))
	assert.True(t, errors.Is(repo.UpdateReview(ctx, stored), errors.ErrAlreadyResolved))

	_, err = repo.GetAssessment(ctx, uuid.New())
	assert.True(t, errors.Is(err, errors.ErrAssessmentNotFound))

	txID := uuid.New()
	rejected := *a
	rejected.ID = uuid.New()
	rejected.TransactionID = &txID
	rejected.Status = &pending
	require.NoError(t, repo.CreateAssessment(ctx, &rejected))

	rejectedStatus := domain.ReviewStatusRejected
	rejected.Status = &rejectedStatus
	rejected.ReviewedBy = &reviewer
	rejected.ReviewedAt = &reviewedAt
	require.NoError(t, repo.UpdateReview(ctx, &rejected))

	unapplied, err := repo.ListUnappliedRejections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unapplied, 1)
	assert.Equal(t, rejected.ID, unapplied[0].ID)
	assert.Nil(t, unapplied[0].RejectionAppliedAt)

	require.NoError(t, repo.MarkRejectionApplied(ctx, rejected.ID, time.Now().UTC()))
	unapplied, err = repo.ListUnappliedRejections(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unapplied)

	stored, err = repo.GetAssessment(ctx, rejected.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.RejectionAppliedAt)
}

type statementAdapter struct {
	statement []provider.Transaction
	balance   decimal.Decimal
}

func (a *statementAdapter) Provider() domain.Provider { return domain.ProviderMPesa }
func (a *statementAdapter) CreatePayment(context.Context, provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return nil, fmt.Errorf("not supported")
}
func (a *statementAdapter) QueryTransaction(context.Context, string) (*provider.QueryResponse, error) {
	return nil, fmt.Errorf("not supported")
}
func (a *statementAdapter) Disbursement(context.Context, provider.DisbursementRequest) (*provider.DisbursementResponse, error) {
	return nil, fmt.Errorf("not supported")
}
func (a *statementAdapter) GetBalance(context.Context, domain.Currency) decimal.Decimal { return a.balance }
func (a *statementAdapter) HandleCallback(context.Context, []byte) (*provider.CallbackResult, error) {
	return nil, fmt.Errorf("not supported")
}
func (a *statementAdapter) ListTransactions(context.Context, time.Time, domain.Currency) ([]provider.Transaction, error) {
	return a.statement, nil
}

func testReconciliation(t *testing.T, db *sqlx.DB, svc *ledger.Service) {
	ctx := context.Background()
	repo := postgres.NewReconciliationRepository(db)

	user := uuid.New()
	_, err := svc.GetOrCreateAccount(ctx, user, domain.AccountTypeUserWallet, domain.KES)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, ledger.CreditRequest{
		Account:           ledger.ByOwner(user, domain.AccountTypeUserWallet),
		Amount:            decimal.NewFromInt(1000),
		Currency:          domain.KES,
		Type:              domain.TransactionTypeWalletTopup,
		ProviderReference: "P-1",
		Provider:          domain.ProviderMPesa,
	})
	require.NoError(t, err)

	adapter := &statementAdapter{balance: decimal.NewFromInt(1)}
	// Every MPESA top-up of the day is on the statement except P-1, which
	// the provider settled at 1050.
	txns, err := svc.ListTransactions(ctx, ledger.TransactionFilter{
		Provider: ptr(domain.ProviderMPesa),
		Status:   domain.TransactionStatusCompleted,
	})
	require.NoError(t, err)
	for _, txn := range txns {
		amount := txn.Amount
		if *txn.ProviderReference == "P-1" {
			amount = decimal.NewFromInt(1050)
		}
		adapter.statement = append(adapter.statement, provider.Transaction{
			ProviderReference: *txn.ProviderReference,
			Amount:            amount,
			Currency:          txn.Currency,
			Status:            domain.TransactionStatusCompleted,
		})
	}

	cfg := config.ReconciliationConfig{
		Timezone:             "Africa/Nairobi",
		AutoResolveThreshold: decimal.NewFromInt(1),
		BalanceTolerancePct:  decimal.RequireFromString("0.01"),
	}
	engine, err := reconciliation.NewEngine(repo, svc, provider.NewRegistry(adapter), nil, cfg, logger.NewNop())
	require.NoError(t, err)

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	report, err := engine.RunDailyReconciliation(ctx, domain.ProviderMPesa, day, domain.KES)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusCompleted, report.Status)
	assert.Equal(t, 1, report.Discrepancies)
	assert.Equal(t, len(txns)-1, report.Matched)

	stored, err := repo.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusCompleted, stored.Status)
	assert.Equal(t, day, stored.Date.UTC())

	rerun, err := engine.RunDailyReconciliation(ctx, domain.ProviderMPesa, day, domain.KES)
	require.NoError(t, err)
	assert.Equal(t, report.ID, rerun.ID)
	assert.Equal(t, 1, rerun.Discrepancies)

	var reports int
	require.NoError(t, db.GetContext(ctx, &reports,
		`SELECT COUNT(*) FROM reconciliation_reports WHERE provider = $1 AND report_date = $2::date AND currency = $3`,
		domain.ProviderMPesa, "2024-03-10", domain.KES))
	assert.Equal(t, 1, reports)

	page, err := engine.GetPendingDiscrepancies(ctx, reconciliation.PageRequest{PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	d := page.Items[0]
	assert.Equal(t, domain.DiscrepancyAmountMismatch, d.Type)
	assert.True(t, d.Difference.Equal(decimal.NewFromInt(50)), d.Difference.String())

	_, err = engine.ResolveDiscrepancy(ctx, d.ID, "fee withheld by provider", "ops-1")
	require.NoError(t, err)
	_, err = engine.ResolveDiscrepancy(ctx, d.ID, "again", "ops-2")
	assert.True(t, errors.Is(err, errors.ErrAlreadyResolved))

	// The resolved mismatch is not raised again.
	rerun, err = engine.RunDailyReconciliation(ctx, domain.ProviderMPesa, day, domain.KES)
	require.NoError(t, err)
	assert.Zero(t, rerun.Discrepancies)
	page, err = engine.GetPendingDiscrepancies(ctx, reconciliation.PageRequest{PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	summary, err := engine.GetReconciliationSummary(ctx, reconciliation.SummaryFilter{StartDate: day, EndDate: day})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reports)
	assert.Equal(t, 1, summary.CompletedReports)
	assert.Zero(t, summary.TotalDiscrepancies)

	balance, err := engine.RunBalanceReconciliation(ctx, domain.ProviderMPesa, day, domain.KES)
	require.NoError(t, err)
	assert.Equal(t, domain.BalanceStatusDiscrepancy, balance.Status)

	var alerts int
	require.NoError(t, db.GetContext(ctx, &alerts, `SELECT COUNT(*) FROM alerts`))
	assert.Equal(t, 1, alerts)
}

func ptr[T any](v T) *T { return &v }

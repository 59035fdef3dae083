package risk_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/notification"
	"ubipay/internal/repository/memory"
	"ubipay/internal/risk"
	"ubipay/pkg/cache"
	"ubipay/pkg/config"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	stats      domain.UserStats
	amounts    []decimal.Decimal
	err        error
	currencies []domain.Currency
}

func (h *fakeHistory) UserStats(context.Context, uuid.UUID, domain.Currency, time.Time) (*domain.UserStats, error) {
	if h.err != nil {
		return nil, h.err
	}
	s := h.stats
	return &s, nil
}

func (h *fakeHistory) RecentAmounts(_ context.Context, _ uuid.UUID, currency domain.Currency, _ time.Time) ([]decimal.Decimal, error) {
	h.currencies = append(h.currencies, currency)
	return h.amounts, h.err
}

type fakeGeo map[string]risk.Location

func (g fakeGeo) Locate(ip string) (*risk.Location, error) {
	loc, ok := g[ip]
	if !ok {
		return nil, fmt.Errorf("address not found")
	}
	return &loc, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event string, _ map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// fakeFailer returns err for its first errTimes calls, or always when
// errTimes is zero.
type fakeFailer struct {
	failed   []uuid.UUID
	err      error
	errTimes int
}

func (f *fakeFailer) MarkTransactionFailed(_ context.Context, id uuid.UUID, _ string) error {
	f.failed = append(f.failed, id)
	if f.err != nil && (f.errTimes == 0 || len(f.failed) <= f.errTimes) {
		return f.err
	}
	return nil
}

// brokenCache fails every read.
type brokenCache struct {
	cache.Cache
}

func (brokenCache) Get(context.Context, string, interface{}) error {
	return fmt.Errorf("connection refused")
}

const (
	nairobiIP = "41.90.0.1"
	lagosIP   = "102.89.0.1"
)

type fixture struct {
	engine   *risk.Engine
	repo     *memory.RiskRepository
	cache    *cache.MemoryCache
	history  *fakeHistory
	notifier *recordingNotifier
	failer   *fakeFailer
	now      time.Time
}

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		VelocityWindow:      time.Hour,
		VelocitySoftLimit:   5,
		VelocityHardLimit:   10,
		VelocityMaxVolume:   decimal.NewFromInt(500000),
		BlacklistTTL:        30 * 24 * time.Hour,
		UnusualHourStart:    0,
		UnusualHourEnd:      5,
		DefaultTimezone:     "Africa/Nairobi",
		GeoDistanceKm:       500,
		GeoFarDistanceKm:    2000,
		LastLocationTTL:     30 * 24 * time.Hour,
		ReportingThreshold:  decimal.NewFromInt(100000),
		PatternLookback:     7 * 24 * time.Hour,
		HistoryLookbackDays: 90,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.NewRiskRepository(),
		history:  &fakeHistory{stats: domain.UserStats{TransactionCount: 20, AverageAmount: decimal.NewFromInt(1000)}},
		notifier: &recordingNotifier{},
		failer:   &fakeFailer{},
		now:      time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.cache = cache.NewMemoryCache().WithClock(clock)
	geo := fakeGeo{
		nairobiIP: {Latitude: -1.2864, Longitude: 36.8172, City: "Nairobi", Country: "KE"},
		lagosIP:   {Latitude: 6.5244, Longitude: 3.3792, City: "Lagos", Country: "NG"},
	}
	f.engine = risk.NewEngine(f.repo, f.cache, f.history, geo, f.notifier, f.failer, testConfig(), logger.NewNop()).
		WithClock(clock)
	return f
}

func request(user uuid.UUID, amount int64) risk.AssessmentRequest {
	return risk.AssessmentRequest{
		UserID:   user,
		Amount:   decimal.NewFromInt(amount),
		Currency: domain.KES,
		Provider: domain.ProviderMPesa,
		Type:     domain.TransactionTypeWalletTopup,
	}
}

func TestAssessRisk_BlacklistDominates(t *testing.T) {
	for _, amount := range []int64{1, 1000, 1000000} {
		t.Run(fmt.Sprint(amount), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.engine.BlacklistIP(ctx, "10.0.0.7", 0, "card testing"))

			req := request(uuid.New(), amount)
			req.IPAddress = "10.0.0.7"
			a, err := f.engine.AssessRisk(ctx, req)
			require.NoError(t, err)

			assert.Equal(t, 100, a.RiskScore)
			assert.Equal(t, domain.RiskLevelCritical, a.RiskLevel)
			assert.Equal(t, domain.RiskActionBlock, a.Action)
			assert.True(t, a.HasFactor(risk.FactorBlacklist))
			assert.True(t, errors.Is(risk.Enforce(a), errors.ErrBlacklisted))
			assert.Equal(t, []string{notification.EventRiskAlert}, f.notifier.events)

			stored, err := f.repo.GetAssessment(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.RiskActionBlock, stored.Action)
		})
	}
}

func TestAssessRisk_BlacklistedDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.BlacklistDevice(ctx, "device-42", time.Hour, "chargebacks"))

	req := request(uuid.New(), 10)
	req.DeviceID = "device-42"
	a, err := f.engine.AssessRisk(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskActionBlock, a.Action)
}

func TestAssessRisk_EstablishedUserIsAllowed(t *testing.T) {
	f := newFixture(t)
	a, err := f.engine.AssessRisk(context.Background(), request(uuid.New(), 1200))
	require.NoError(t, err)

	assert.Equal(t, 0, a.RiskScore)
	assert.Equal(t, domain.RiskLevelLow, a.RiskLevel)
	assert.Equal(t, domain.RiskActionAllow, a.Action)
	assert.Nil(t, a.Status)
	assert.Nil(t, risk.Enforce(a))
	assert.Empty(t, f.notifier.events)
}

func TestAssessRisk_NewAccount(t *testing.T) {
	f := newFixture(t)
	f.history.stats = domain.UserStats{}

	a, err := f.engine.AssessRisk(context.Background(), request(uuid.New(), 500))
	require.NoError(t, err)
	assert.Equal(t, 15, a.RiskScore)
	assert.True(t, a.HasFactor(risk.FactorAccountAge))
	assert.Equal(t, domain.RiskActionAllow, a.Action)
}

func TestAssessRisk_LargeFirstTransactionNeedsReview(t *testing.T) {
	f := newFixture(t)
	f.history.stats = domain.UserStats{}
	ctx := context.Background()

	a, err := f.engine.AssessRisk(ctx, request(uuid.New(), 20000))
	require.NoError(t, err)
	assert.Equal(t, 30, a.RiskScore)
	assert.Equal(t, domain.RiskLevelMedium, a.RiskLevel)
	assert.Equal(t, domain.RiskActionReview, a.Action)
	require.NotNil(t, a.Status)
	assert.Equal(t, domain.ReviewStatusPending, *a.Status)

	card := request(uuid.New(), 20000)
	card.Provider = domain.ProviderCard
	a, err = f.engine.AssessRisk(ctx, card)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskActionRequire3DS, a.Action)
}

func TestAssessRisk_AmountAnomaly(t *testing.T) {
	f := newFixture(t)
	a, err := f.engine.AssessRisk(context.Background(), request(uuid.New(), 10000))
	require.NoError(t, err)
	assert.Equal(t, 30, a.RiskScore)
	assert.True(t, a.HasFactor(risk.FactorAmount))
	assert.Equal(t, domain.RiskActionReview, a.Action)
}

func TestAssessRisk_VelocityAbuseBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	var last *domain.RiskAssessment
	for i := 0; i < 11; i++ {
		a, err := f.engine.AssessRisk(ctx, request(user, 1000))
		require.NoError(t, err)
		if i == 5 {
			assert.True(t, a.HasFactor(risk.FactorVelocity), "soft limit")
			assert.Equal(t, domain.RiskActionAllow, a.Action)
		}
		last = a
	}
	assert.Equal(t, domain.RiskActionBlock, last.Action)
	assert.True(t, errors.Is(risk.Enforce(last), errors.ErrRiskBlocked))

	// window expiry resets the counter
	f.now = f.now.Add(2 * time.Hour)
	a, err := f.engine.AssessRisk(ctx, request(user, 1000))
	require.NoError(t, err)
	assert.False(t, a.HasFactor(risk.FactorVelocity))
}

func TestAssessRisk_VolumeAbuseBlocks(t *testing.T) {
	f := newFixture(t)
	f.history.stats = domain.UserStats{TransactionCount: 50, AverageAmount: decimal.NewFromInt(100000)}

	a, err := f.engine.AssessRisk(context.Background(), request(uuid.New(), 600000))
	require.NoError(t, err)
	assert.True(t, a.HasFactor(risk.FactorVolume))
	assert.Equal(t, domain.RiskLevelHigh, a.RiskLevel)
	assert.Equal(t, domain.RiskActionBlock, a.Action)
}

func TestAssessRisk_UnusualHour(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC) // 03:30 in Nairobi

	a, err := f.engine.AssessRisk(context.Background(), request(uuid.New(), 1000))
	require.NoError(t, err)
	assert.True(t, a.HasFactor(risk.FactorTimeOfDay))
	assert.Equal(t, 5, a.RiskScore)

	req := request(uuid.New(), 1000)
	req.Timezone = "America/New_York"
	a, err = f.engine.AssessRisk(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, a.HasFactor(risk.FactorTimeOfDay))
}

func TestAssessRisk_GeoJump(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	req := request(user, 1000)
	req.IPAddress = nairobiIP
	a, err := f.engine.AssessRisk(ctx, req)
	require.NoError(t, err)
	assert.False(t, a.HasFactor(risk.FactorGeo))

	req.IPAddress = lagosIP
	a, err = f.engine.AssessRisk(ctx, req)
	require.NoError(t, err)
	require.True(t, a.HasFactor(risk.FactorGeo))
	assert.Equal(t, 25, a.RiskScore)

	// unknown address gives no signal
	req.IPAddress = "192.168.1.1"
	a, err = f.engine.AssessRisk(ctx, req)
	require.NoError(t, err)
	assert.False(t, a.HasFactor(risk.FactorGeo))
}

func TestAssessRisk_FailsClosed(t *testing.T) {
	f := newFixture(t)
	f.history.err = fmt.Errorf("db timeout")

	_, err := f.engine.AssessRisk(context.Background(), request(uuid.New(), 1000))
	assert.True(t, errors.Is(err, errors.ErrRiskUnavailable))
	assert.Equal(t, errors.KindSecurity, errors.KindOf(err))

	pending, err := f.engine.GetPendingReviews(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAssessRisk_BlacklistCacheFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	engine := risk.NewEngine(f.repo, brokenCache{Cache: f.cache}, f.history, nil, nil, f.failer, testConfig(), logger.NewNop())

	req := request(uuid.New(), 10)
	req.IPAddress = nairobiIP
	_, err := engine.AssessRisk(context.Background(), req)
	assert.True(t, errors.Is(err, errors.ErrRiskUnavailable))
}

func TestAssessRisk_Validation(t *testing.T) {
	f := newFixture(t)
	tests := map[string]func(r *risk.AssessmentRequest){
		"zero amount":      func(r *risk.AssessmentRequest) { r.Amount = decimal.Zero },
		"missing user":     func(r *risk.AssessmentRequest) { r.UserID = uuid.Nil },
		"unknown currency": func(r *risk.AssessmentRequest) { r.Currency = "ABC" },
		"bad ip":           func(r *risk.AssessmentRequest) { r.IPAddress = "not-an-ip" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := request(uuid.New(), 100)
			mutate(&req)
			_, err := f.engine.AssessRisk(context.Background(), req)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}

func TestBlacklistManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, errors.Is(f.engine.BlacklistIP(ctx, "999.1.1.1", 0, ""), errors.ErrInvalidRequest))
	assert.True(t, errors.Is(f.engine.BlacklistDevice(ctx, " ", 0, ""), errors.ErrInvalidRequest))

	require.NoError(t, f.engine.BlacklistIP(ctx, "10.1.1.1", time.Hour, "fraud ring"))
	hit, err := f.engine.IsIPBlacklisted(ctx, "10.1.1.1")
	require.NoError(t, err)
	assert.True(t, hit)

	require.NoError(t, f.engine.RemoveFromBlacklist(ctx, risk.BlacklistIP, "10.1.1.1"))
	hit, err = f.engine.IsIPBlacklisted(ctx, "10.1.1.1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, f.engine.BlacklistDevice(ctx, "dev-1", time.Hour, ""))
	f.now = f.now.Add(61 * time.Minute)
	hit, err = f.engine.IsDeviceBlacklisted(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, hit, "entry expires with its ttl")
}

func TestLevelAndAction(t *testing.T) {
	levels := map[int]domain.RiskLevel{
		0: domain.RiskLevelLow, 29: domain.RiskLevelLow,
		30: domain.RiskLevelMedium, 59: domain.RiskLevelMedium,
		60: domain.RiskLevelHigh, 79: domain.RiskLevelHigh,
		80: domain.RiskLevelCritical, 100: domain.RiskLevelCritical,
	}
	for score, want := range levels {
		assert.Equal(t, want, risk.LevelFor(score), "score %d", score)
	}

	assert.Equal(t, domain.RiskActionAllow, risk.ActionFor(domain.RiskLevelLow, domain.ProviderCard, false))
	assert.Equal(t, domain.RiskActionRequire3DS, risk.ActionFor(domain.RiskLevelMedium, domain.ProviderCard, false))
	assert.Equal(t, domain.RiskActionReview, risk.ActionFor(domain.RiskLevelMedium, domain.ProviderMPesa, false))
	assert.Equal(t, domain.RiskActionReview, risk.ActionFor(domain.RiskLevelHigh, domain.ProviderMPesa, false))
	assert.Equal(t, domain.RiskActionBlock, risk.ActionFor(domain.RiskLevelHigh, domain.ProviderMPesa, true))
	assert.Equal(t, domain.RiskActionBlock, risk.ActionFor(domain.RiskLevelCritical, domain.ProviderCard, false))
}

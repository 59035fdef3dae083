package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Ledger         LedgerConfig
	Risk           RiskConfig
	Reconciliation ReconciliationConfig
	Providers      ProvidersConfig
	Notification   NotificationConfig
	Card           CardConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type LedgerConfig struct {
	BalanceCacheTTL   time.Duration
	IdempotencyTTL    time.Duration
	DefaultHoldTTL    time.Duration
	HoldSweepInterval time.Duration
}

type RiskConfig struct {
	VelocityWindow      time.Duration
	VelocitySoftLimit   int64
	VelocityHardLimit   int64
	VelocityMaxVolume   decimal.Decimal
	BlacklistTTL        time.Duration
	UnusualHourStart    int
	UnusualHourEnd      int
	DefaultTimezone     string
	GeoDistanceKm       float64
	GeoFarDistanceKm    float64
	GeoIPDatabasePath   string
	LastLocationTTL     time.Duration
	ReportingThreshold  decimal.Decimal
	PatternLookback     time.Duration
	AlertOnHighRisk     bool
	HistoryLookbackDays int
	ReviewSweepInterval time.Duration
}

type ReconciliationConfig struct {
	Interval             time.Duration
	Workers              int
	Providers            []string
	Currencies           []string
	Timezone             string
	AutoResolveThreshold decimal.Decimal
	BalanceTolerancePct  decimal.Decimal
}

type ProvidersConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	Endpoints      map[string]ProviderEndpoint
}

// ProviderEndpoint holds the OAuth2 client-credentials settings of one network.
type ProviderEndpoint struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type NotificationConfig struct {
	Sink         string
	KafkaBrokers []string
	KafkaTopic   string
	RedisStream  string
}

type CardConfig struct {
	EncryptionKey string
	KeyContext    string
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			BalanceCacheTTL:   getDurationEnv("LEDGER_BALANCE_CACHE_TTL", 30*time.Second),
			IdempotencyTTL:    getDurationEnv("LEDGER_IDEMPOTENCY_TTL", 24*time.Hour),
			DefaultHoldTTL:    getDurationEnv("LEDGER_DEFAULT_HOLD_TTL", 30*time.Minute),
			HoldSweepInterval: getDurationEnv("LEDGER_HOLD_SWEEP_INTERVAL", time.Minute),
		},
		Risk:           loadRiskConfig(),
		Reconciliation: loadReconciliationConfig(),
		Providers: ProvidersConfig{
			MaxRetries:     getIntEnv("PROVIDER_MAX_RETRIES", 3),
			InitialBackoff: getDurationEnv("PROVIDER_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     getDurationEnv("PROVIDER_MAX_BACKOFF", 2*time.Second),
			RequestTimeout: getDurationEnv("PROVIDER_REQUEST_TIMEOUT", 15*time.Second),
			Endpoints:      loadProviderEndpoints(),
		},
		Notification: NotificationConfig{
			Sink:         strings.ToLower(getEnv("NOTIFICATION_SINK", "log")),
			KafkaBrokers: getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:   getEnv("KAFKA_NOTIFICATION_TOPIC", "ubipay.notifications"),
			RedisStream:  getEnv("REDIS_NOTIFICATION_STREAM", "ubipay:notifications"),
		},
		Card: CardConfig{
			EncryptionKey: getEnv("CARD_ENCRYPTION_KEY", ""),
			KeyContext:    getEnv("CARD_KEY_CONTEXT", "ubipay-card-v1"),
		},
	}
}

func loadRiskConfig() RiskConfig {
	return RiskConfig{
		VelocityWindow:      getDurationEnv("RISK_VELOCITY_WINDOW", time.Hour),
		VelocitySoftLimit:   int64(getIntEnv("RISK_VELOCITY_SOFT_LIMIT", 5)),
		VelocityHardLimit:   int64(getIntEnv("RISK_VELOCITY_HARD_LIMIT", 10)),
		VelocityMaxVolume:   getDecimalEnv("RISK_VELOCITY_MAX_VOLUME", decimal.NewFromInt(500000)),
		BlacklistTTL:        getDurationEnv("RISK_BLACKLIST_TTL", 30*24*time.Hour),
		UnusualHourStart:    getIntEnv("RISK_UNUSUAL_HOUR_START", 0),
		UnusualHourEnd:      getIntEnv("RISK_UNUSUAL_HOUR_END", 5),
		DefaultTimezone:     getEnv("RISK_DEFAULT_TIMEZONE", "Africa/Nairobi"),
		GeoDistanceKm:       getFloatEnv("RISK_GEO_DISTANCE_KM", 500),
		GeoFarDistanceKm:    getFloatEnv("RISK_GEO_FAR_DISTANCE_KM", 2000),
		GeoIPDatabasePath:   getEnv("GEOIP_DB_PATH", ""),
		LastLocationTTL:     getDurationEnv("RISK_LAST_LOCATION_TTL", 30*24*time.Hour),
		ReportingThreshold:  getDecimalEnv("RISK_REPORTING_THRESHOLD", decimal.NewFromInt(100000)),
		PatternLookback:     getDurationEnv("RISK_PATTERN_LOOKBACK", 7*24*time.Hour),
		AlertOnHighRisk:     getBoolEnv("RISK_ALERT_ON_HIGH", true),
		HistoryLookbackDays: getIntEnv("RISK_HISTORY_LOOKBACK_DAYS", 90),
		ReviewSweepInterval: getDurationEnv("RISK_REVIEW_SWEEP_INTERVAL", time.Minute),
	}
}

func loadReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		Interval:             getDurationEnv("RECON_INTERVAL", 24*time.Hour),
		Workers:              getIntEnv("RECON_WORKERS", 4),
		Providers:            getListEnv("RECON_PROVIDERS", []string{"MPESA", "MTN_MOMO"}),
		Currencies:           getListEnv("RECON_CURRENCIES", []string{"KES"}),
		Timezone:             getEnv("RECON_TIMEZONE", "Africa/Nairobi"),
		AutoResolveThreshold: getDecimalEnv("RECON_AUTO_RESOLVE_THRESHOLD", decimal.NewFromInt(1)),
		BalanceTolerancePct:  getDecimalEnv("RECON_BALANCE_TOLERANCE_PCT", decimal.NewFromFloat(0.01)),
	}
}

// loadProviderEndpoints reads <PROVIDER>_BASE_URL, _TOKEN_URL, _CLIENT_ID and
// _CLIENT_SECRET for every known network. Providers without a base URL are skipped.
func loadProviderEndpoints() map[string]ProviderEndpoint {
	names := []string{"MPESA", "MTN_MOMO", "ORANGE_MONEY", "TELEBIRR", "STRIPE", "PAYSTACK", "FLUTTERWAVE"}
	endpoints := make(map[string]ProviderEndpoint)
	for _, name := range names {
		baseURL := getEnv(name+"_BASE_URL", "")
		if baseURL == "" {
			continue
		}
		endpoints[name] = ProviderEndpoint{
			BaseURL:      baseURL,
			TokenURL:     getEnv(name+"_TOKEN_URL", ""),
			ClientID:     getEnv(name+"_CLIENT_ID", ""),
			ClientSecret: getEnv(name+"_CLIENT_SECRET", ""),
		}
	}
	return endpoints
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// SourceConfig holds the per-platform scrape cadence and normalization
// options. Normalization options are static: the normalizer must stay a
// pure function of record + config.
type SourceConfig struct {
	Platform            string
	Interval            time.Duration
	MaxConcurrentFetch  int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	RateLimitMs         int
	MaxRetries          int
	CurrencyDefault     string
	AreaUnit            string
	DateFormat          string
	SeedURL             string
}

// DedupConfig holds the matching thresholds. Scores are in [0,1].
type DedupConfig struct {
	MergeThreshold  float64 // >= → MERGE
	ReviewThreshold float64 // >= (and < merge) → NEW flagged for review
	CosineFloor     float64 // embedding retrieval floor within a city
	TieEpsilon      float64
}

// LifecycleConfig holds staleness and retention windows.
type LifecycleConfig struct {
	MaxMissedChecks int
	Retention       time.Duration
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	OpenAIAPIKey   string
	EmbeddingModel string

	TelegramBotToken string

	GlobalMaxConcurrency int
	EmbedTimeout         time.Duration
	FetchTimeout         time.Duration
	MetricsAddr          string
	ResultsDir           string

	Dedup     DedupConfig
	Lifecycle LifecycleConfig
	Sources   []SourceConfig

	// Exchange rates to UAH, used for deterministic currency conversion.
	RatesUAH map[string]float64

	ChromeBin string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "kovcheg"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "kovcheg123"),
		PostgresDB:       getEnv("POSTGRES_DB", "kovcheg_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		GlobalMaxConcurrency: getEnvInt("GLOBAL_MAX_CONCURRENCY", 8),
		EmbedTimeout:         getEnvDuration("EMBED_TIMEOUT", 15*time.Second),
		FetchTimeout:         getEnvDuration("FETCH_TIMEOUT", 90*time.Second),
		MetricsAddr:          getEnv("METRICS_ADDR", ":9109"),
		ResultsDir:           getEnv("RESULTS_DIR", "results"),

		Dedup: DedupConfig{
			MergeThreshold:  getEnvFloat("DEDUP_MERGE_THRESHOLD", 0.92),
			ReviewThreshold: getEnvFloat("DEDUP_REVIEW_THRESHOLD", 0.75),
			CosineFloor:     getEnvFloat("DEDUP_COSINE_FLOOR", 0.80),
			TieEpsilon:      getEnvFloat("DEDUP_TIE_EPSILON", 0.01),
		},
		Lifecycle: LifecycleConfig{
			MaxMissedChecks: getEnvInt("LIFECYCLE_MAX_MISSED_CHECKS", 3),
			Retention:       getEnvDuration("LIFECYCLE_RETENTION", 90*24*time.Hour),
		},

		RatesUAH: map[string]float64{
			"UAH": 1.0,
			"USD": getEnvFloat("RATE_USD_UAH", 41.78),
			"EUR": getEnvFloat("RATE_EUR_UAH", 48.99),
		},

		ChromeBin: getEnv("CHROME_BIN", ""),
	}

	cfg.Sources = []SourceConfig{
		sourceFromEnv("olx", "OLX", "https://www.olx.ua/nedvizhimost/", "UAH"),
		sourceFromEnv("m2bomber", "M2B", "https://ua.m2bomber.com/obj-flats-sale", "USD"),
		sourceFromEnv("telegram", "TG", "", "USD"),
	}

	return cfg
}

func sourceFromEnv(platform, prefix, defaultSeed, defaultCurrency string) SourceConfig {
	return SourceConfig{
		Platform:           platform,
		Interval:           getEnvDuration(prefix+"_INTERVAL", 5*time.Minute),
		MaxConcurrentFetch: getEnvInt(prefix+"_MAX_CONCURRENCY", 3),
		BackoffBase:        getEnvDuration(prefix+"_BACKOFF_BASE", 2*time.Second),
		BackoffMax:         getEnvDuration(prefix+"_BACKOFF_MAX", 60*time.Second),
		RateLimitMs:        getEnvInt(prefix+"_RATE_LIMIT_MS", 2000),
		MaxRetries:         getEnvInt(prefix+"_MAX_RETRIES", 3),
		CurrencyDefault:    getEnv(prefix+"_CURRENCY_DEFAULT", defaultCurrency),
		AreaUnit:           getEnv(prefix+"_AREA_UNIT", "m2"),
		DateFormat:         getEnv(prefix+"_DATE_FORMAT", "02.01.2006"),
		SeedURL:            getEnv(prefix+"_SEED_URL", defaultSeed),
	}
}

// Source returns the config block for one platform, or nil.
func (c *Config) Source(platform string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].Platform == platform {
			return &c.Sources[i]
		}
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

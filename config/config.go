package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppIdentifier = "com.dianyi.stock-manager"
	AppName       = "stock-manager"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds explicit store credentials. When URL is empty the
// credentials are resolved from the AppConfig directories instead.
type DatabaseConfig struct {
	URL   string
	Token string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers       []string
	TopicStock    string
	ConsumerGroup string
}

// Enabled reports whether at least one broker was configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	// TraceSampleRatio is the share of root spans kept, 0 to 1
	TraceSampleRatio float64
}

type BusinessConfig struct {
	AlertPeriodDays            int
	ExcludedNames              []string
	ValuationCacheTTL          time.Duration
	SchemaLockTTL              time.Duration
	AdjustStockOnLoanByDefault bool
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	alertDays, err := strconv.Atoi(getEnv("ALERT_PERIOD_DAYS", "30"))
	if err != nil || alertDays < 0 {
		alertDays = 30
	}
	cacheTTL, err := time.ParseDuration(getEnv("VALUATION_CACHE_TTL", "5m"))
	if err != nil {
		cacheTTL = 5 * time.Minute
	}
	lockTTL, err := time.ParseDuration(getEnv("SCHEMA_LOCK_TTL", "30s"))
	if err != nil {
		lockTTL = 30 * time.Second
	}
	adjust, err := strconv.ParseBool(getEnv("LOAN_ADJUST_STOCK", "true"))
	if err != nil {
		adjust = true
	}
	sampleRatio, err := strconv.ParseFloat(getEnv("TRACE_SAMPLE_RATIO", "1"), 64)
	if err != nil || sampleRatio < 0 || sampleRatio > 1 {
		sampleRatio = 1
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:   getEnv(EnvDatabaseURL, ""),
			Token: getEnv(EnvDatabaseToken, ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			TopicStock:    getEnv("KAFKA_TOPIC_STOCK_EVENTS", "stock-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "stock-ledger-valuation"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", ""),
			TraceSampleRatio: sampleRatio,
		},
		Business: BusinessConfig{
			AlertPeriodDays:            alertDays,
			ExcludedNames:              splitList(getEnv("VALUATION_EXCLUDED_NAMES", "test")),
			ValuationCacheTTL:          cacheTTL,
			SchemaLockTTL:              lockTTL,
			AdjustStockOnLoanByDefault: adjust,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

// Resolver returns the credential resolver for this configuration: explicit
// environment values first, then the AppConfig directories.
func (c *Config) Resolver() Resolver {
	return ChainResolver{
		StaticResolver{URL: c.Database.URL, Token: c.Database.Token},
		NewFileResolver(DefaultConfigDirs()...),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

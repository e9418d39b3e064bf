package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	pkgconfig "github.com/utafrali/catalogsearch/pkg/config"
	"github.com/utafrali/catalogsearch/pkg/database"
	"github.com/utafrali/catalogsearch/pkg/tracing"
)

// Engine and catalog source selectors.
const (
	EngineElasticsearch = "elasticsearch"
	EngineMemory        = "memory"

	SourcePostgres   = "postgres"
	SourceProductAPI = "productapi"
)

// maxSyncPageSize bounds one bulk request.
const maxSyncPageSize = 5000

// Config holds all configuration for the search service.
type Config struct {
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"catalog-search"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// HTTP server
	HTTPPort           int           `env:"SEARCH_HTTP_PORT" envDefault:"8010"`
	RequestTimeout     time.Duration `env:"SEARCH_REQUEST_TIMEOUT" envDefault:"30s"`
	OperatorToken      string        `env:"SEARCH_OPERATOR_TOKEN"`
	JWTSecret          string        `env:"JWT_SECRET"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	PprofEnabled       bool          `env:"PPROF_ENABLED" envDefault:"false"`
	PprofAllowedCIDRs  []string      `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Search engine selection (elasticsearch or memory)
	SearchEngine          string `env:"SEARCH_ENGINE" envDefault:"elasticsearch"`
	ElasticsearchURL      string `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	ElasticsearchIndex    string `env:"ELASTICSEARCH_INDEX" envDefault:"catalog_products"`
	ElasticsearchUsername string `env:"ELASTICSEARCH_USERNAME"`
	ElasticsearchPassword string `env:"ELASTICSEARCH_PASSWORD"`
	ElasticsearchRefresh  string `env:"ELASTICSEARCH_REFRESH" envDefault:"false"`

	// Catalog source selection (postgres or productapi)
	CatalogSource         string        `env:"CATALOG_SOURCE" envDefault:"postgres"`
	ProductServiceURL     string        `env:"PRODUCT_SERVICE_URL" envDefault:"http://localhost:8001"`
	ProductServiceTimeout time.Duration `env:"PRODUCT_SERVICE_TIMEOUT" envDefault:"10s"`

	// Circuit breaker for the product service
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// PostgreSQL
	PostgresHost      string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort      int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser      string        `env:"POSTGRES_USER" envDefault:"catalog_reader"`
	PostgresPassword  string        `env:"POSTGRES_PASSWORD"`
	PostgresDB        string        `env:"POSTGRES_DB" envDefault:"catalog"`
	PostgresSSLMode   string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	PostgresMaxConns  int32         `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	PostgresSlowQuery time.Duration `env:"POSTGRES_SLOW_QUERY_THRESHOLD" envDefault:"500ms"`

	// Redis (sync watermark and event deduplication)
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	WatermarkKey  string `env:"SYNC_WATERMARK_KEY" envDefault:"catalogsearch:sync:watermark"`

	// Kafka
	KafkaEnabled   bool          `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID   string        `env:"KAFKA_GROUP_ID" envDefault:"catalog-search"`
	KafkaDLQ       bool          `env:"KAFKA_DLQ_ENABLED" envDefault:"true"`
	IdempotencyTTL time.Duration `env:"KAFKA_IDEMPOTENCY_TTL" envDefault:"24h"`

	// Sync
	SyncPageSize         int     `env:"SYNC_PAGE_SIZE" envDefault:"500"`
	SyncPagesPerSecond   float64 `env:"SYNC_PAGES_PER_SECOND" envDefault:"10"`
	SyncIncrementalCron  string  `env:"SYNC_INCREMENTAL_CRON" envDefault:"@every 5m"`
	SyncBootstrapEnabled bool    `env:"SYNC_BOOTSTRAP_ENABLED" envDefault:"true"`
	SyncWorkers          int     `env:"SYNC_WORKERS" envDefault:"4"`
	SyncQueueSize        int     `env:"SYNC_QUEUE_SIZE" envDefault:"64"`

	// OpenTelemetry
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load search config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	switch c.SearchEngine {
	case EngineElasticsearch, EngineMemory:
	default:
		errs = append(errs, fmt.Errorf("SEARCH_ENGINE must be %s or %s, got %q", EngineElasticsearch, EngineMemory, c.SearchEngine))
	}
	switch c.CatalogSource {
	case SourcePostgres, SourceProductAPI:
	default:
		errs = append(errs, fmt.Errorf("CATALOG_SOURCE must be %s or %s, got %q", SourcePostgres, SourceProductAPI, c.CatalogSource))
	}
	if c.SyncPageSize < 1 || c.SyncPageSize > maxSyncPageSize {
		errs = append(errs, fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and %d", maxSyncPageSize))
	}
	if c.SyncPagesPerSecond < 0 {
		errs = append(errs, errors.New("SYNC_PAGES_PER_SECOND must not be negative"))
	}
	if c.SyncWorkers < 1 {
		errs = append(errs, errors.New("SYNC_WORKERS must be at least 1"))
	}
	if c.SyncQueueSize < 1 {
		errs = append(errs, errors.New("SYNC_QUEUE_SIZE must be at least 1"))
	}
	if c.SyncIncrementalCron != "" {
		if _, err := cron.ParseStandard(c.SyncIncrementalCron); err != nil {
			errs = append(errs, fmt.Errorf("invalid SYNC_INCREMENTAL_CRON: %w", err))
		}
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when Kafka is enabled"))
	}
	if c.OperatorToken == "" && c.JWTSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("SEARCH_OPERATOR_TOKEN or JWT_SECRET is required outside development"))
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1 {
		errs = append(errs, errors.New("CB_FAILURE_RATIO must be in (0, 1]"))
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATE must be in [0, 1]"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Postgres returns the catalog database settings.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPassword
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSLMode
	pg.MaxConns = c.PostgresMaxConns
	return pg
}

// Redis returns the Redis connection settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// Tracing returns the OpenTelemetry settings.
func (c *Config) Tracing() tracing.Config {
	tc := tracing.DefaultConfig(c.ServiceName)
	tc.Environment = c.Environment
	tc.OTLPEndpoint = c.OTelEndpoint
	tc.SampleRate = c.OTelSampleRate
	tc.Enabled = c.OTelEnabled
	return tc
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/incumbency"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/scoring"
	"github.com/Ramsey-B/fern/pkg/sources"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api" validate:"required"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3004" validate:"min=1,max=65535"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"120"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	ShutdownTimeoutSeconds        int      `env:"HTTP_SERVER_SHUTDOWN_TIMEOUT_SECONDS" env-default:"30"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5" validate:"min=1"`

	HealthCheckTimeout time.Duration `env:"HEALTH_CHECK_TIMEOUT" env-default:"2s"`

	// PostgreSQL
	DatabaseHost                string        `env:"DB_HOST" env-default:"localhost" validate:"required"`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"fern" validate:"required"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    uint          `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Redis (scope locks across processes and daily source quotas)
	RedisEnabled   bool          `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost      string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort      int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB        int           `env:"REDIS_DB" env-default:"0"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX" env-default:"fern"`
	ScopeLockTTL   time.Duration `env:"SCOPE_LOCK_TTL" env-default:"30m"`
	ScopeLockWait  time.Duration `env:"SCOPE_LOCK_WAIT" env-default:"5s"`
	QuotaWindow    time.Duration `env:"SOURCE_QUOTA_WINDOW" env-default:"24h"`
	QuotaMaxWait   time.Duration `env:"SOURCE_QUOTA_MAX_WAIT" env-default:"0s"`

	// Graph Database (Neo4j)
	GraphDBEnabled  bool   `env:"GRAPH_DB_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBName     string `env:"GRAPH_DB_NAME" env-default:""`

	// Kafka Producer (representative lifecycle events)
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"representative-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1" validate:"oneof=-1 0 1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`

	// Tracing
	TraceSampleRatio float64 `env:"OTEL_TRACE_SAMPLE_RATIO" env-default:"1" validate:"min=0,max=1"`

	// Sources
	SourceRequestTimeout time.Duration `env:"SOURCE_REQUEST_TIMEOUT" env-default:"15s"`
	SourceRetryAttempts  int           `env:"SOURCE_RETRY_ATTEMPTS" env-default:"3" validate:"min=1"`
	SourceUserAgent      string        `env:"SOURCE_USER_AGENT" env-default:"fern/1.0 (civic representative ingestion)"`

	CongressEnabled bool    `env:"CONGRESS_ENABLED" env-default:"true"`
	CongressBaseURL string  `env:"CONGRESS_BASE_URL" env-default:"https://api.congress.gov/v3" validate:"url"`
	CongressAPIKey  string  `env:"CONGRESS_API_KEY" env-default:""`
	CongressRPS     float64 `env:"CONGRESS_RPS" env-default:"1" validate:"gt=0"`
	CongressBurst   int     `env:"CONGRESS_BURST" env-default:"5" validate:"min=1"`
	CongressQuota   int64   `env:"CONGRESS_DAILY_QUOTA" env-default:"5000"`

	OpenStatesEnabled bool    `env:"OPENSTATES_ENABLED" env-default:"true"`
	OpenStatesBaseURL string  `env:"OPENSTATES_BASE_URL" env-default:"https://v3.openstates.org" validate:"url"`
	OpenStatesAPIKey  string  `env:"OPENSTATES_API_KEY" env-default:""`
	OpenStatesRPS     float64 `env:"OPENSTATES_RPS" env-default:"0.5" validate:"gt=0"`
	OpenStatesBurst   int     `env:"OPENSTATES_BURST" env-default:"2" validate:"min=1"`
	OpenStatesQuota   int64   `env:"OPENSTATES_DAILY_QUOTA" env-default:"500"`

	CivicEnabled bool    `env:"CIVIC_ENABLED" env-default:"true"`
	CivicBaseURL string  `env:"CIVIC_BASE_URL" env-default:"https://civicinfo.googleapis.com/civicinfo/v2" validate:"url"`
	CivicAPIKey  string  `env:"CIVIC_API_KEY" env-default:""`
	CivicRPS     float64 `env:"CIVIC_RPS" env-default:"5" validate:"gt=0"`
	CivicBurst   int     `env:"CIVIC_BURST" env-default:"10" validate:"min=1"`
	CivicQuota   int64   `env:"CIVIC_DAILY_QUOTA" env-default:"25000"`

	FECEnabled bool    `env:"FEC_ENABLED" env-default:"true"`
	FECBaseURL string  `env:"FEC_BASE_URL" env-default:"https://api.open.fec.gov/v1" validate:"url"`
	FECAPIKey  string  `env:"FEC_API_KEY" env-default:"DEMO_KEY"`
	FECRPS     float64 `env:"FEC_RPS" env-default:"0.25" validate:"gt=0"`
	FECBurst   int     `env:"FEC_BURST" env-default:"2" validate:"min=1"`
	FECQuota   int64   `env:"FEC_DAILY_QUOTA" env-default:"1000"`

	WikipediaEnabled bool    `env:"WIKIPEDIA_ENABLED" env-default:"true"`
	WikipediaBaseURL string  `env:"WIKIPEDIA_BASE_URL" env-default:"https://en.wikipedia.org" validate:"url"`
	WikipediaRPS     float64 `env:"WIKIPEDIA_RPS" env-default:"2" validate:"gt=0"`
	WikipediaBurst   int     `env:"WIKIPEDIA_BURST" env-default:"4" validate:"min=1"`

	// Pipeline
	IngestWorkers              int           `env:"INGEST_WORKERS" env-default:"10" validate:"min=1"`
	IngestBatchSize            int           `env:"INGEST_BATCH_SIZE" env-default:"10" validate:"min=1"`
	IngestBatchRetries         int           `env:"INGEST_BATCH_RETRIES" env-default:"2" validate:"min=0"`
	IngestBatchBackoff         time.Duration `env:"INGEST_BATCH_BACKOFF" env-default:"500ms"`
	FreshnessThreshold         time.Duration `env:"FRESHNESS_THRESHOLD" env-default:"4320h"`
	ElectionWindow             time.Duration `env:"ELECTION_WINDOW" env-default:"17520h"`
	CurrentMinSignals          int           `env:"CURRENT_MIN_SIGNALS" env-default:"2" validate:"min=1,max=4"`
	NameMatchConfidence        float64       `env:"NAME_MATCH_CONFIDENCE" env-default:"0.7" validate:"gt=0,lte=1"`
	NearMissThreshold          float64       `env:"NEAR_MISS_THRESHOLD" env-default:"0.93" validate:"gt=0,lte=1"`
	SourceWeights              string        `env:"SOURCE_WEIGHTS" env-default:"congress:40,openstates:35,civic:25,fec:20,wikipedia:10"`
	SourceIdentifierConfidence string        `env:"SOURCE_IDENTIFIER_CONFIDENCE" env-default:"congress:0.95,openstates:0.9,fec:0.85"`
}

// Load reads .env (when present) and the process environment into a validated Config
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// a missing .env is normal outside local development
		_ = godotenv.Load(f)
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and parses the per-source maps
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	_, err := c.Orchestrator()
	return err
}

func parseSourceMap(raw string) (map[models.Source]float64, error) {
	out := make(map[models.Source]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("%q: expected source:value", pair)
		}
		source, ok := models.ParseSource(name)
		if !ok {
			return nil, fmt.Errorf("%q: unknown source %q", pair, name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pair, err)
		}
		out[source] = v
	}
	return out, nil
}

func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() *database.MigrationConfig {
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		DatabaseName:        c.DatabaseName,
		Version:             c.DatabaseMigrationVersion,
		Force:               c.DatabaseMigrationForce,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) Graph() graph.Config {
	return graph.Config{
		Host:     c.GraphDBHost,
		Port:     c.GraphDBPort,
		Username: c.GraphDBUser,
		Password: c.GraphDBPassword,
		Database: c.GraphDBName,
	}
}

func (c *Config) Producer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaOutputTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

func (c *Config) HTTPClient() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = c.SourceRequestTimeout
	cfg.UserAgent = c.SourceUserAgent
	return cfg
}

// SourceSettings are the connection and rate-limit settings of one source
type SourceSettings struct {
	Enabled    bool
	Adapter    sources.Config
	RPS        float64
	Burst      int
	DailyQuota int64
}

// Source returns the settings of a single source
func (c *Config) Source(source models.Source) SourceSettings {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = c.SourceRetryAttempts
	policy.AttemptTimeout = c.SourceRequestTimeout

	switch source {
	case models.SourceCongress:
		return SourceSettings{c.CongressEnabled, sources.Config{BaseURL: c.CongressBaseURL, APIKey: c.CongressAPIKey, Retry: policy}, c.CongressRPS, c.CongressBurst, c.CongressQuota}
	case models.SourceOpenStates:
		return SourceSettings{c.OpenStatesEnabled, sources.Config{BaseURL: c.OpenStatesBaseURL, APIKey: c.OpenStatesAPIKey, Retry: policy}, c.OpenStatesRPS, c.OpenStatesBurst, c.OpenStatesQuota}
	case models.SourceCivic:
		return SourceSettings{c.CivicEnabled, sources.Config{BaseURL: c.CivicBaseURL, APIKey: c.CivicAPIKey, Retry: policy}, c.CivicRPS, c.CivicBurst, c.CivicQuota}
	case models.SourceFEC:
		return SourceSettings{c.FECEnabled, sources.Config{BaseURL: c.FECBaseURL, APIKey: c.FECAPIKey, Retry: policy}, c.FECRPS, c.FECBurst, c.FECQuota}
	case models.SourceWikipedia:
		return SourceSettings{c.WikipediaEnabled, sources.Config{BaseURL: c.WikipediaBaseURL, Retry: policy}, c.WikipediaRPS, c.WikipediaBurst, 0}
	}
	return SourceSettings{}
}

// Orchestrator assembles the pipeline configuration
func (c *Config) Orchestrator() (orchestrator.Config, error) {
	weights, err := scoring.ParseWeights(c.SourceWeights)
	if err != nil {
		return orchestrator.Config{}, errors.Wrap(err, "invalid SOURCE_WEIGHTS")
	}
	confidence, err := parseSourceMap(c.SourceIdentifierConfidence)
	if err != nil {
		return orchestrator.Config{}, errors.Wrap(err, "invalid SOURCE_IDENTIFIER_CONFIDENCE")
	}

	cfg := orchestrator.DefaultConfig()
	cfg.Workers = c.IngestWorkers
	cfg.BatchSize = c.IngestBatchSize
	cfg.BatchRetries = c.IngestBatchRetries
	cfg.BatchBackoff = c.IngestBatchBackoff

	cfg.Resolver = resolver.DefaultConfig()
	cfg.Resolver.NameMatchConfidence = c.NameMatchConfidence
	cfg.Resolver.NearMissThreshold = c.NearMissThreshold
	for source, v := range confidence {
		if v <= 0 || v > 1 {
			return orchestrator.Config{}, errors.Errorf("invalid SOURCE_IDENTIFIER_CONFIDENCE: %s must be in (0, 1]", source)
		}
		cfg.Resolver.IdentifierConfidence[source] = v
	}

	cfg.Scoring = scoring.Config{
		Weights:            weights,
		FreshnessThreshold: c.FreshnessThreshold,
	}
	cfg.Incumbency = incumbency.Config{
		ElectionWindow:     c.ElectionWindow,
		FreshnessThreshold: c.FreshnessThreshold,
		MinSignals:         c.CurrentMinSignals,
	}
	return cfg, nil
}

package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database    *dbConfig
	Service     *svcConfig
	Queue       *queueConfig
	RateLimit   *rateLimitConfig
	ObjectStore *objectStoreConfig
	OCR         *ocrConfig
	AI          *aiConfig
	Scoring     *scoringConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"verifier"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string `envconfig:"VERIFIER_ADDRESS" default:":8080"`
	BaseUrl         string `envconfig:"VERIFIER_BASE_URL" default:"http://localhost:8080"`
	LogLevel        string `envconfig:"VERIFIER_LOG_LEVEL" default:"info"`
	StagingDir      string `envconfig:"VERIFIER_STAGING_DIR" default:"/tmp/verifier/staging"`
	MigrationFolder string `envconfig:"VERIFIER_MIGRATIONS_FOLDER" default:""`
	// MetricsAddress enables a second, private scrape endpoint when set.
	// The public router serves /metrics either way.
	MetricsAddress string `envconfig:"VERIFIER_METRICS_ADDRESS" default:""`
	Kafka          kafkaConfig
}

type kafkaConfig struct {
	Brokers  []string `envconfig:"VERIFIER_KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"VERIFIER_KAFKA_TOPIC" default:""`
	ClientID string   `envconfig:"VERIFIER_KAFKA_CLIENT_ID" default:"dispute-verifier"`
}

type queueConfig struct {
	WorkerCount       int           `envconfig:"VERIFIER_QUEUE_WORKERS" default:"4"`
	PollInterval      time.Duration `envconfig:"VERIFIER_QUEUE_POLL_INTERVAL" default:"250ms"`
	VisibilityTimeout time.Duration `envconfig:"VERIFIER_QUEUE_VISIBILITY_TIMEOUT" default:"2m"`
	HeartbeatInterval time.Duration `envconfig:"VERIFIER_QUEUE_HEARTBEAT_INTERVAL" default:"15s"`
	StallTimeout      time.Duration `envconfig:"VERIFIER_QUEUE_STALL_TIMEOUT" default:"1m"`
	ReconcileInterval time.Duration `envconfig:"VERIFIER_QUEUE_RECONCILE_INTERVAL" default:"30s"`
	MaxRetries        int           `envconfig:"VERIFIER_QUEUE_MAX_RETRIES" default:"3"`
	RetryBackoffBase  time.Duration `envconfig:"VERIFIER_QUEUE_RETRY_BACKOFF_BASE" default:"5s"`
	RetryBackoffMax   time.Duration `envconfig:"VERIFIER_QUEUE_RETRY_BACKOFF_MAX" default:"5m"`
	StageTimeout      time.Duration `envconfig:"VERIFIER_QUEUE_STAGE_TIMEOUT" default:"90s"`
}

type rateLimitConfig struct {
	Backend   string `envconfig:"VERIFIER_RATELIMIT_BACKEND" default:"memory"`
	RedisAddr string `envconfig:"VERIFIER_RATELIMIT_REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"VERIFIER_RATELIMIT_REDIS_DB" default:"0"`
	// Default window limits applied to keys created without explicit limits.
	PerMinute int `envconfig:"VERIFIER_RATELIMIT_PER_MINUTE" default:"60"`
	PerHour   int `envconfig:"VERIFIER_RATELIMIT_PER_HOUR" default:"600"`
	PerDay    int `envconfig:"VERIFIER_RATELIMIT_PER_DAY" default:"2400"`
	// Burst smoothing in front of the window check. Zero disables it.
	BurstRPS   float64       `envconfig:"VERIFIER_RATELIMIT_BURST_RPS" default:"0"`
	BurstSize  int           `envconfig:"VERIFIER_RATELIMIT_BURST_SIZE" default:"0"`
	JanitorTTL time.Duration `envconfig:"VERIFIER_RATELIMIT_JANITOR_TTL" default:"15m"`
}

type objectStoreConfig struct {
	Endpoint     string        `envconfig:"VERIFIER_S3_ENDPOINT" default:"localhost:9000"`
	AccessKey    string        `envconfig:"VERIFIER_S3_ACCESS_KEY" default:""`
	SecretKey    string        `envconfig:"VERIFIER_S3_SECRET_KEY" default:""`
	Bucket       string        `envconfig:"VERIFIER_S3_BUCKET" default:"dispute-documents"`
	UseSSL       bool          `envconfig:"VERIFIER_S3_USE_SSL" default:"false"`
	SignedURLTTL time.Duration `envconfig:"VERIFIER_S3_SIGNED_URL_TTL" default:"1h"`
}

type ocrConfig struct {
	Endpoint string        `envconfig:"VERIFIER_OCR_ENDPOINT" default:""`
	APIKey   string        `envconfig:"VERIFIER_OCR_API_KEY" default:""`
	Preset   string        `envconfig:"VERIFIER_OCR_PRESET" default:"payment-dispute"`
	Timeout  time.Duration `envconfig:"VERIFIER_OCR_TIMEOUT" default:"60s"`
}

type aiConfig struct {
	Endpoint string        `envconfig:"VERIFIER_AI_ENDPOINT" default:""`
	APIKey   string        `envconfig:"VERIFIER_AI_API_KEY" default:""`
	Model    string        `envconfig:"VERIFIER_AI_MODEL" default:"authenticity-v2"`
	Timeout  time.Duration `envconfig:"VERIFIER_AI_TIMEOUT" default:"45s"`
}

type scoringConfig struct {
	OCRWeight          float64 `envconfig:"VERIFIER_SCORING_OCR_WEIGHT" default:"0.35"`
	ComparisonWeight   float64 `envconfig:"VERIFIER_SCORING_COMPARISON_WEIGHT" default:"0.35"`
	AuthenticityWeight float64 `envconfig:"VERIFIER_SCORING_AUTHENTICITY_WEIGHT" default:"0.30"`
	RejectBelow        float64 `envconfig:"VERIFIER_SCORING_REJECT_BELOW" default:"0.45"`
	ApproveAt          float64 `envconfig:"VERIFIER_SCORING_APPROVE_AT" default:"0.75"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a configuration suitable for tests: sqlite backed by a
// shared in-memory database, memory rate-limit counters and tight intervals.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type: "sqlite",
			Name: "file::memory:?cache=shared",
		},
		Service: &svcConfig{
			Address:    "localhost:0",
			LogLevel:   "error",
			StagingDir: "/tmp/verifier/staging",
		},
		Queue: &queueConfig{
			WorkerCount:       2,
			PollInterval:      10 * time.Millisecond,
			VisibilityTimeout: 30 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			StallTimeout:      15 * time.Second,
			ReconcileInterval: 50 * time.Millisecond,
			MaxRetries:        3,
			RetryBackoffBase:  10 * time.Millisecond,
			RetryBackoffMax:   100 * time.Millisecond,
			StageTimeout:      5 * time.Second,
		},
		RateLimit: &rateLimitConfig{
			Backend:    "memory",
			PerMinute:  60,
			PerHour:    600,
			PerDay:     2400,
			JanitorTTL: 15 * time.Minute,
		},
		ObjectStore: &objectStoreConfig{
			Bucket:       "dispute-documents-test",
			SignedURLTTL: time.Hour,
		},
		OCR: &ocrConfig{Timeout: 5 * time.Second, Preset: "payment-dispute"},
		AI:  &aiConfig{Timeout: 5 * time.Second, Model: "authenticity-v2"},
		Scoring: &scoringConfig{
			OCRWeight:          0.35,
			ComparisonWeight:   0.35,
			AuthenticityWeight: 0.30,
			RejectBelow:        0.45,
			ApproveAt:          0.75,
		},
	}
}

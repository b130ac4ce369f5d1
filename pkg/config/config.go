package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"TradeWatch/internal/domain/models"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TRADEWATCH_SERVER_PORT.
const EnvPrefix = "TRADEWATCH"

type Config struct {
	Environment   string              `yaml:"environment" default:"development" validate:"required"`
	Server        ServerConfig        `yaml:"server"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
	Storage       StorageConfig       `yaml:"storage"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	SQLite        SQLiteConfig        `yaml:"sqlite"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Queue         QueueConfig         `yaml:"queue"`
	Finnhub       FinnhubConfig       `yaml:"finnhub"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Runner        RunnerConfig        `yaml:"runner"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Portfolio     PortfolioConfig     `yaml:"portfolio"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORS            bool          `yaml:"cors" default:"true"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
}

// StorageConfig selects where analysis results and monitor events are persisted.
type StorageConfig struct {
	Type string `yaml:"type" default:"sqlite" validate:"oneof=clickhouse sqlite none"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"tradewatch"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type SQLiteConfig struct {
	Path        string        `yaml:"path" default:"data/tradewatch.db"`
	BusyTimeout time.Duration `yaml:"busy_timeout" default:"5s"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
	RequiredAcks int           `yaml:"required_acks" default:"1"`
	Compression  string        `yaml:"compression" default:"snappy"`
	Topics       KafkaTopics   `yaml:"topics"`
	Producer     KafkaProducer `yaml:"producer"`
	Consumer     KafkaConsumer `yaml:"consumer"`
}

type KafkaTopics struct {
	BatchRequests string `yaml:"batch_requests" default:"tradewatch.analysis.requests"`
	Notifications string `yaml:"notifications" default:"tradewatch.notifications"`
	Logs          string `yaml:"logs"`
}

type KafkaProducer struct {
	MaxAttempts      int           `yaml:"max_attempts" default:"3"`
	Linger           time.Duration `yaml:"linger" default:"10ms"`
	BatchBytes       int           `yaml:"batch_bytes" default:"1048576"`
	BatchSize        int           `yaml:"batch_size" default:"100"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	Async            bool          `yaml:"async"`
	AutoCreateTopics bool          `yaml:"auto_create_topics"`
}

type KafkaConsumer struct {
	GroupID    string        `yaml:"group_id" default:"tradewatch"`
	Workers    int           `yaml:"workers" default:"2"`
	BufferSize int           `yaml:"buffer_size" default:"100"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic   string        `yaml:"dlq_topic"`
	MinBytes   int           `yaml:"min_bytes" default:"1"`
	MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
}

// RedisConfig backs the price cache, the portfolio lock and the notification queue.
// When disabled an in-process cache is used and webhooks are sent inline.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	Prefix       string        `yaml:"prefix" default:"tradewatch"`
	LocalSize    int           `yaml:"local_size" default:"1000"`
	LocalTTL     time.Duration `yaml:"local_ttl" default:"2s"`
}

type QueueConfig struct {
	Workers    int           `yaml:"workers" default:"2"`
	QueueSize  int           `yaml:"queue_size" default:"1000"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"5s"`
	JobTimeout time.Duration `yaml:"job_timeout" default:"30s"`
}

type FinnhubConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIKey         string        `yaml:"api_key"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
	RestURL        string        `yaml:"rest_url" default:"https://finnhub.io/api/v1"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	MaxRPS         int           `yaml:"max_rps" default:"20"`
	BufferSize     int           `yaml:"buffer_size" default:"1000"`
	PriceTTL       time.Duration `yaml:"price_ttl" default:"10m"`
	MaxAge         time.Duration `yaml:"max_age" default:"1m"`
	QuoteTimeout   time.Duration `yaml:"quote_timeout" default:"5s"`
}

type AnalysisConfig struct {
	ServiceURL         string        `yaml:"service_url" default:"http://localhost:8501"`
	Timeout            time.Duration `yaml:"timeout" default:"310s"`
	Attempts           int           `yaml:"attempts" default:"2" validate:"gte=1"`
	DefaultConcurrency int           `yaml:"default_concurrency" default:"3" validate:"gte=1"`
	MaxConcurrency     int           `yaml:"max_concurrency" default:"10" validate:"gte=1"`
	DefaultTimeout     time.Duration `yaml:"default_timeout" default:"300s"`
	Period             string        `yaml:"period" default:"1y"`
	AutoSync           bool          `yaml:"auto_sync"`
	NotifySummary      bool          `yaml:"notify_summary" default:"true"`
}

type RunnerConfig struct {
	TrackedBatches int `yaml:"tracked_batches" default:"100" validate:"gte=1"`
}

type MonitorConfig struct {
	TickInterval         time.Duration `yaml:"tick_interval" default:"5s"`
	DefaultCheckInterval time.Duration `yaml:"default_check_interval" default:"60s"`
	FetchConcurrency     int           `yaml:"fetch_concurrency" default:"4" validate:"gte=1"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout" default:"10s"`
	EventLimit           int           `yaml:"event_limit" default:"500" validate:"gte=1"`
	RefreshBurst         float64       `yaml:"refresh_burst" default:"3"`
	RefreshPerSecond     float64       `yaml:"refresh_per_second" default:"0.2"`
}

// SchedulerConfig is the trading calendar schedule plus the evaluation interval.
// Markets without trading_hours use the built-in sessions.
type SchedulerConfig struct {
	Interval          time.Duration                     `yaml:"interval" default:"30s"`
	Enabled           bool                              `yaml:"enabled"`
	Market            string                            `yaml:"market" default:"CN" validate:"required"`
	Timezone          string                            `yaml:"timezone"`
	TradingDays       []int                             `yaml:"trading_days" default:"[1,2,3,4,5]" validate:"min=1,dive,gte=1,lte=7"`
	TradingHours      map[string][]models.TradingWindow `yaml:"trading_hours"`
	PreMarketMinutes  int                               `yaml:"pre_market_minutes" default:"5" validate:"gte=0,lte=240"`
	PostMarketMinutes int                               `yaml:"post_market_minutes" default:"5" validate:"gte=0,lte=240"`
	AutoStop          bool                              `yaml:"auto_stop" default:"true"`
	Holidays          []string                          `yaml:"holidays"`
}

// Schedule returns the calendar part of the section.
func (s SchedulerConfig) Schedule() models.ScheduleConfig {
	return models.ScheduleConfig{
		Enabled:           s.Enabled,
		Market:            s.Market,
		Timezone:          s.Timezone,
		TradingDays:       append([]int(nil), s.TradingDays...),
		TradingHours:      s.TradingHours,
		PreMarketMinutes:  s.PreMarketMinutes,
		PostMarketMinutes: s.PostMarketMinutes,
		AutoStop:          s.AutoStop,
		Holidays:          append([]string(nil), s.Holidays...),
	}
}

type PortfolioConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Times      []string      `yaml:"times" default:"[\"09:35\",\"15:05\"]"`
	Timezone   string        `yaml:"timezone" default:"Asia/Shanghai"`
	Symbols    []string      `yaml:"symbols"`
	Sequential bool          `yaml:"sequential"`
	MaxWorkers int           `yaml:"max_workers" default:"3" validate:"gte=1,lte=10"`
	Timeout    time.Duration `yaml:"timeout" default:"300s"`
	Sync       bool          `yaml:"sync" default:"true"`
}

type NotificationsConfig struct {
	Log     bool          `yaml:"log" default:"true"`
	Kafka   bool          `yaml:"kafka"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Type    string        `yaml:"type" default:"generic" validate:"oneof=generic dingtalk feishu"`
	Keyword string        `yaml:"keyword"`
	Timeout time.Duration `yaml:"timeout" default:"10s"`
}

// overrides are the environment variables applied on top of the file.
// Unset variables leave the pointer nil so the file value survives.
type overrides struct {
	Environment    *string        `envconfig:"ENVIRONMENT"`
	ServerPort     *int           `envconfig:"SERVER_PORT"`
	LogLevel       *string        `envconfig:"LOG_LEVEL"`
	LogFormat      *string        `envconfig:"LOG_FORMAT"`
	StorageType    *string        `envconfig:"STORAGE_TYPE"`
	SQLitePath     *string        `envconfig:"SQLITE_PATH"`
	ClickHouseHost *string        `envconfig:"CLICKHOUSE_HOST"`
	ClickHousePort *int           `envconfig:"CLICKHOUSE_PORT"`
	ClickHouseUser *string        `envconfig:"CLICKHOUSE_USER"`
	ClickHousePass *string        `envconfig:"CLICKHOUSE_PASSWORD"`
	KafkaEnabled   *bool          `envconfig:"KAFKA_ENABLED"`
	KafkaBrokers   *[]string      `envconfig:"KAFKA_BROKERS"`
	RedisEnabled   *bool          `envconfig:"REDIS_ENABLED"`
	RedisHost      *string        `envconfig:"REDIS_HOST"`
	RedisPort      *int           `envconfig:"REDIS_PORT"`
	RedisPassword  *string        `envconfig:"REDIS_PASSWORD"`
	FinnhubEnabled *bool          `envconfig:"FINNHUB_ENABLED"`
	FinnhubAPIKey  *string        `envconfig:"FINNHUB_API_KEY"`
	Symbols        *[]string      `envconfig:"SYMBOLS"`
	AnalysisURL    *string        `envconfig:"ANALYSIS_SERVICE_URL"`
	AnalysisTTL    *time.Duration `envconfig:"ANALYSIS_TIMEOUT"`
	WebhookURL     *string        `envconfig:"WEBHOOK_URL"`
	WebhookType    *string        `envconfig:"WEBHOOK_TYPE"`
	WebhookKeyword *string        `envconfig:"WEBHOOK_KEYWORD"`
}

func (o *overrides) apply(c *Config) {
	setIf(&c.Environment, o.Environment)
	setIf(&c.Server.Port, o.ServerPort)
	setIf(&c.Logging.Level, o.LogLevel)
	setIf(&c.Logging.Format, o.LogFormat)
	setIf(&c.Storage.Type, o.StorageType)
	setIf(&c.SQLite.Path, o.SQLitePath)
	setIf(&c.ClickHouse.Host, o.ClickHouseHost)
	setIf(&c.ClickHouse.Port, o.ClickHousePort)
	setIf(&c.ClickHouse.User, o.ClickHouseUser)
	setIf(&c.ClickHouse.Password, o.ClickHousePass)
	setIf(&c.Kafka.Enabled, o.KafkaEnabled)
	setIf(&c.Kafka.Brokers, o.KafkaBrokers)
	setIf(&c.Redis.Enabled, o.RedisEnabled)
	setIf(&c.Redis.Host, o.RedisHost)
	setIf(&c.Redis.Port, o.RedisPort)
	setIf(&c.Redis.Password, o.RedisPassword)
	setIf(&c.Finnhub.Enabled, o.FinnhubEnabled)
	setIf(&c.Finnhub.APIKey, o.FinnhubAPIKey)
	setIf(&c.Finnhub.Symbols, o.Symbols)
	setIf(&c.Analysis.ServiceURL, o.AnalysisURL)
	setIf(&c.Analysis.Timeout, o.AnalysisTTL)
	setIf(&c.Notifications.Webhook.URL, o.WebhookURL)
	setIf(&c.Notifications.Webhook.Type, o.WebhookType)
	setIf(&c.Notifications.Webhook.Keyword, o.WebhookKeyword)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

var validate = validator.New()

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML, an optional .env file and TRADEWATCH_*
// environment variables, in that order of precedence from low to high.
// Un-prefixed names such as FINNHUB_API_KEY are accepted as well.
func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	var o overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	o.apply(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// loadEnvFiles loads the given .env files, or ./.env when none are given.
// A missing default file is not an error.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Analysis.DefaultConcurrency > c.Analysis.MaxConcurrency {
		return fmt.Errorf("analysis.default_concurrency (%d) exceeds analysis.max_concurrency (%d)",
			c.Analysis.DefaultConcurrency, c.Analysis.MaxConcurrency)
	}
	if c.Storage.Type == "clickhouse" && c.ClickHouse.Database == "" {
		return fmt.Errorf("clickhouse.database is required when storage.type is clickhouse")
	}
	if c.Storage.Type == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		return fmt.Errorf("sqlite.path is required when storage.type is sqlite")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Notifications.Kafka && !c.Kafka.Enabled {
		return fmt.Errorf("notifications.kafka requires kafka.enabled")
	}
	if c.Finnhub.Enabled && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required when finnhub is enabled")
	}
	return nil
}

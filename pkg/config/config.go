package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string            `yaml:"environment" default:"development" validate:"required"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Engine      EngineConfig      `yaml:"engine"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	PriceSource PriceSourceConfig `yaml:"price_source"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Events      EventsConfig      `yaml:"events"`
	History     HistoryConfig     `yaml:"history"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
	DisableCORS     bool          `yaml:"disable_cors"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
	Collector  struct {
		Enabled   bool          `yaml:"enabled"`
		Topic     string        `yaml:"topic" default:"cryptoalert.logs"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100"`
	} `yaml:"collector"`
}

// EngineConfig controls the polling engine. Interval is bounded to 10s..1h.
type EngineConfig struct {
	Interval        time.Duration `yaml:"interval" default:"60s" validate:"min=10s,max=3600s"`
	Currency        string        `yaml:"currency" default:"usd" validate:"required,lowercase,alpha"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" default:"15s" validate:"gt=0"`
	StoreTimeout    time.Duration `yaml:"store_timeout" default:"5s" validate:"gt=0"`
	NotifyTimeout   time.Duration `yaml:"notify_timeout" default:"10s" validate:"gt=0"`
	StopTimeout     time.Duration `yaml:"stop_timeout" default:"10s" validate:"gt=0"`
	QueueSize       int           `yaml:"queue_size" default:"256" validate:"min=1"`
	ManualStart     bool          `yaml:"manual_start"`
	DistributedLock bool          `yaml:"distributed_lock"`
}

type StoreConfig struct {
	Type string `yaml:"type" default:"memory" validate:"oneof=memory redis postgres"`
}

type CacheConfig struct {
	Type     string        `yaml:"type" default:"memory" validate:"oneof=memory redis"`
	PriceTTL time.Duration `yaml:"price_ttl" default:"10m"`
	MaxSize  int           `yaml:"max_size" default:"10000" validate:"min=1"`
}

type RedisConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"cryptoalert"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
}

type PriceSourceConfig struct {
	Type      string        `yaml:"type" default:"coingecko" validate:"oneof=coingecko finnhub kafka"`
	MaxAge    time.Duration `yaml:"max_age" default:"5m"`
	CoinGecko struct {
		BaseURL string            `yaml:"base_url" default:"https://api.coingecko.com/api/v3" validate:"url"`
		APIKey  string            `yaml:"api_key"`
		Timeout time.Duration     `yaml:"timeout" default:"10s"`
		CoinIDs map[string]string `yaml:"coin_ids"`
	} `yaml:"coingecko"`
	Finnhub struct {
		APIKey         string            `yaml:"api_key"`
		WebSocketURL   string            `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        map[string]string `yaml:"symbols"`
		ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
		MaxRPS         int               `yaml:"max_rps" default:"20"`
	} `yaml:"finnhub"`
	Kafka struct {
		Topic string `yaml:"topic" default:"cryptoalert.ticks"`
	} `yaml:"kafka"`
}

type NotifierConfig struct {
	Type     string `yaml:"type" default:"log" validate:"oneof=log telegram webhook"`
	Telegram struct {
		BotToken string        `yaml:"bot_token"`
		APIURL   string        `yaml:"api_url" default:"https://api.telegram.org" validate:"url"`
		Timeout  time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"telegram"`
	Webhook struct {
		URL     string        `yaml:"url" validate:"omitempty,url"`
		Timeout time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"webhook"`
}

type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic" default:"cryptoalert.events"`
}

type HistoryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRange   time.Duration `yaml:"max_range" default:"720h"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"cryptoalert"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"100ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"cryptoalert"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
}

// RateLimitConfig is a per-user token bucket on the command surface.
type RateLimitConfig struct {
	Backend      string  `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	Capacity     int     `yaml:"capacity" default:"20" validate:"min=1"`
	RefillPerSec float64 `yaml:"refill_per_sec" default:"1" validate:"gt=0"`
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv is Load with environment overrides applied before validation.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("env override: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notifier.Telegram.BotToken = v
	}
	if v := getenv("NOTIFIER"); v != "" {
		c.Notifier.Type = v
	}
	if v := getenv("WEBHOOK_URL"); v != "" {
		c.Notifier.Webhook.URL = v
	}
	if v := getenv("ALERTS_STORE"); v != "" {
		c.Store.Type = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR port: %w", err)
		}
		c.Redis.Host, c.Redis.Port = host, p
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("POLL_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		c.Engine.Interval = d
	}
	if v := getenv("PRICE_CURRENCY"); v != "" {
		c.Engine.Currency = strings.ToLower(strings.TrimSpace(v))
	}
	if v := getenv("PRICE_SOURCE"); v != "" {
		c.PriceSource.Type = v
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.PriceSource.CoinGecko.APIKey = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.PriceSource.Finnhub.APIKey = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

// parseInterval accepts a Go duration ("90s") or plain seconds ("90").
func parseInterval(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks field constraints and the settings each selected backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Store.Type == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when store.type is postgres")
	}
	switch c.Notifier.Type {
	case "telegram":
		if c.Notifier.Telegram.BotToken == "" {
			return fmt.Errorf("notifier.telegram.bot_token is required (or TELEGRAM_BOT_TOKEN)")
		}
	case "webhook":
		if c.Notifier.Webhook.URL == "" {
			return fmt.Errorf("notifier.webhook.url is required when notifier.type is webhook")
		}
	}
	if c.PriceSource.Type == "finnhub" && c.PriceSource.Finnhub.APIKey == "" {
		return fmt.Errorf("price_source.finnhub.api_key is required (or FINNHUB_API_KEY)")
	}
	if c.needsKafka() && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when a kafka feature is enabled")
	}
	return nil
}

func (c *Config) needsKafka() bool {
	return c.PriceSource.Type == "kafka" || c.Events.Enabled || c.Logging.Collector.Enabled
}

// NeedsRedis reports whether any component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return c.Store.Type == "redis" || c.Cache.Type == "redis" || c.RateLimit.Backend == "redis" || c.Engine.DistributedLock
}

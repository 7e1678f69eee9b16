package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Reader   ReaderConfig   `mapstructure:"reader"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 返回 postgres 连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		d.Host, d.User, d.Password, d.DBName, d.Port, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TimelineConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

type CacheConfig struct {
	Driver    string        `mapstructure:"driver"` // redis | memory
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	MaxUsers  int           `mapstructure:"max_users"`
}

type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type FanoutConfig struct {
	CelebrityThreshold int64         `mapstructure:"celebrity_threshold"`
	InactiveSkipWindow time.Duration `mapstructure:"inactive_skip_window"`
	Concurrency        int           `mapstructure:"concurrency"`
	PageSize           int           `mapstructure:"page_size"`
	WriteRate          float64       `mapstructure:"write_rate"`
	WriteBurst         int           `mapstructure:"write_burst"`
	Retry              RetryConfig   `mapstructure:"retry"`
}

type ReaderConfig struct {
	RebuildTimeout  time.Duration `mapstructure:"rebuild_timeout"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	PullLimit       int           `mapstructure:"pull_limit"`
}

type ConsumerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Stream      string        `mapstructure:"stream"`
	Group       string        `mapstructure:"group"`
	Consumer    string        `mapstructure:"consumer"`
	Lanes       int           `mapstructure:"lanes"`
	BatchSize   int64         `mapstructure:"batch_size"`
	Block       time.Duration `mapstructure:"block"`
	ClaimIdle   time.Duration `mapstructure:"claim_idle"`
	ClaimEvery  time.Duration `mapstructure:"claim_every"`
	MaxAttempts uint          `mapstructure:"max_attempts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "timeline.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "timeline")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.service_name", "timeline-fanout")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("timeline.max_size", 800)

	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.key_prefix", "timeline:")
	v.SetDefault("cache.max_users", 100000)

	v.SetDefault("fanout.celebrity_threshold", 10000)
	v.SetDefault("fanout.inactive_skip_window", 720*time.Hour)
	v.SetDefault("fanout.concurrency", 32)
	v.SetDefault("fanout.page_size", 500)
	v.SetDefault("fanout.write_rate", 0)
	v.SetDefault("fanout.write_burst", 100)
	v.SetDefault("fanout.retry.max_tries", 3)
	v.SetDefault("fanout.retry.initial_interval", 50*time.Millisecond)
	v.SetDefault("fanout.retry.max_interval", time.Second)

	v.SetDefault("reader.rebuild_timeout", 2*time.Second)
	v.SetDefault("reader.store_timeout", 5*time.Second)
	v.SetDefault("reader.default_page_size", 20)
	v.SetDefault("reader.max_page_size", 200)
	v.SetDefault("reader.pull_limit", 800)

	v.SetDefault("consumer.enabled", true)
	v.SetDefault("consumer.stream", "posts:created")
	v.SetDefault("consumer.group", "timeline-fanout")
	v.SetDefault("consumer.lanes", 8)
	v.SetDefault("consumer.batch_size", 64)
	v.SetDefault("consumer.block", 2*time.Second)
	v.SetDefault("consumer.claim_idle", time.Minute)
	v.SetDefault("consumer.claim_every", 30*time.Second)
	v.SetDefault("consumer.max_attempts", 5)
}

// Load 读取配置：config/config.yaml（可选）+ TIMELINE_ 前缀环境变量
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验关键参数
func (c *Config) Validate() error {
	if c.Timeline.MaxSize <= 0 {
		return fmt.Errorf("timeline.max_size must be positive, got %d", c.Timeline.MaxSize)
	}
	if c.Fanout.CelebrityThreshold < 0 {
		return fmt.Errorf("fanout.celebrity_threshold must not be negative")
	}
	if c.Fanout.Concurrency <= 0 {
		return fmt.Errorf("fanout.concurrency must be positive")
	}
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

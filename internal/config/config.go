package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Lock     LockConfig     `mapstructure:"lock"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	WorkerID        int64         `mapstructure:"worker_id"` // 雪花算法机器号，多实例部署时必须不同
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

// DatabaseConfig 数据库配置
// 行锁等待上限按驱动分别设置：mysql 用 innodb_lock_wait_timeout，
// postgres 用 lock_timeout，sqlite 用 _busy_timeout
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql | postgres | sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	Path            string        `mapstructure:"path"` // sqlite file
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	LockWaitTimeout time.Duration `mapstructure:"lock_wait_timeout"`
	LogSQL          bool          `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Movements string `mapstructure:"movements"`
}

type AuthConfig struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	AdminToken string        `mapstructure:"admin_token"`
}

// LockConfig 账户锁配置
// mode: none（仅依赖数据库行锁）| local（进程内）| redis（分布式）
type LockConfig struct {
	Mode string        `mapstructure:"mode"`
	TTL  time.Duration `mapstructure:"ttl"`
	Wait time.Duration `mapstructure:"wait"`
}

type BusinessConfig struct {
	MaxRetryCount       int           `mapstructure:"max_retry_count"`
	HistoryDefaultLimit int           `mapstructure:"history_default_limit"`
	HistoryMaxLimit     int           `mapstructure:"history_max_limit"`
	ReaderRecentLimit   int           `mapstructure:"reader_recent_limit"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.database", "cardpay")
	v.SetDefault("database.path", "data/cardpay.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.password", "")
	v.SetDefault("database.lock_wait_timeout", 5*time.Second)
	v.SetDefault("database.log_sql", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.movements", "ledger.movement")

	v.SetDefault("auth.session_ttl", 12*time.Hour)
	v.SetDefault("auth.admin_token", "")

	v.SetDefault("lock.mode", "none")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.wait", 3*time.Second)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.history_default_limit", 50)
	v.SetDefault("business.history_max_limit", 500)
	v.SetDefault("business.reader_recent_limit", 5)
	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.reconcile_interval", 10*time.Minute)
}

// Load 加载配置文件；configPath 为空时只使用默认值与环境变量
// 环境变量前缀 CARDPAY_，例如 CARDPAY_DATABASE_DRIVER=sqlite
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARDPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Lock.Mode {
	case "none", "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("lock mode redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unsupported lock mode %q", c.Lock.Mode)
	}
	if c.Business.HistoryDefaultLimit <= 0 || c.Business.HistoryMaxLimit < c.Business.HistoryDefaultLimit {
		return fmt.Errorf("invalid history limits: default=%d max=%d",
			c.Business.HistoryDefaultLimit, c.Business.HistoryMaxLimit)
	}
	return nil
}

// Package config 提供 TOML 配置加载与环境变量覆盖
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 期权引擎配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 治理配置
	Governance GovernanceConfig `mapstructure:"governance"`
	// 风险参数
	Risk RiskConfig `mapstructure:"risk"`
	// 结算配置
	Settlement SettlementConfig `mapstructure:"settlement"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 按客户端 IP 的 HTTP 限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr 返回 host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	MaxRetries   int      `mapstructure:"max_retries"`
	RetryBackoff int      `mapstructure:"retry_backoff_ms"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// GovernanceConfig 治理配置：管理员名单、协议参数与模块暂停开关
type GovernanceConfig struct {
	Admins        []string          `mapstructure:"admins"`
	PausedModules []string          `mapstructure:"paused_modules"`
	Parameters    map[string]string `mapstructure:"parameters"`
}

// RiskConfig 保证金风险参数
type RiskConfig struct {
	// 保证金模型：symmetric_strike 或 moneyness_aware
	MarginModel            string  `mapstructure:"margin_model"`
	InitialMarginRatio     float64 `mapstructure:"initial_margin_ratio"`
	MaintenanceMarginRatio float64 `mapstructure:"maintenance_margin_ratio"`
	EarlyExerciseBuffer    float64 `mapstructure:"early_exercise_buffer"`
	OTMFloorRatio          float64 `mapstructure:"otm_floor_ratio"`
}

// SettlementConfig 结算配置
type SettlementConfig struct {
	// TWAP 取样窗口（分钟）
	TWAPWindowMinutes int `mapstructure:"twap_window_minutes"`
}

// Load 从 TOML 文件加载配置，缺省值兜底，环境变量（APP_ 前缀）覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if len(c.Governance.Admins) == 0 {
		return fmt.Errorf("governance requires at least one admin")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff_ms", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("risk.margin_model", "symmetric_strike")
	v.SetDefault("risk.initial_margin_ratio", 0.15)
	v.SetDefault("risk.maintenance_margin_ratio", 0.10)
	v.SetDefault("risk.early_exercise_buffer", 0.25)
	v.SetDefault("risk.otm_floor_ratio", 0.5)

	v.SetDefault("settlement.twap_window_minutes", 30)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 100)
	v.SetDefault("rate_limit.burst", 200)

	v.SetDefault("governance.parameters", map[string]string{
		"min_strike":               "0.01",
		"max_strike":               "10000000",
		"min_contract_size":        "1",
		"max_contract_size":        "100000",
		"max_expiry_days":          "730",
		"max_price_staleness_secs": "60",
	})
}

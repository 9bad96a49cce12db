// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务配置结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// gRPC 服务配置（健康检查）
	GRPC GRPCConfig `mapstructure:"grpc"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Outbox 转发配置
	Outbox OutboxConfig `mapstructure:"outbox"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// 额度服务配置
	LimitService LimitServiceConfig `mapstructure:"limit_service"`
	// 决策引擎配置
	Engine EngineConfig `mapstructure:"engine"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 启动时自动迁移
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 为空时额度与库存使用进程内存储
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 工作流事件主题
	WorkflowTopic string `mapstructure:"workflow_topic"`
	// 库存事件主题
	InventoryTopic string `mapstructure:"inventory_topic"`
	// 写入最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// OutboxConfig Outbox 转发配置
type OutboxConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 轮询间隔（毫秒）
	PollInterval int `mapstructure:"poll_interval"`
	// 每批条数
	BatchSize int `mapstructure:"batch_size"`
	// 单条最大投递次数，超过后标记为 failed
	MaxAttempts int `mapstructure:"max_attempts"`
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

// RateLimitConfig HTTP 限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// LimitServiceConfig 外部额度服务配置
type LimitServiceConfig struct {
	// 为空时使用本地额度存储
	BaseURL string `mapstructure:"base_url"`
	// 单次请求超时（毫秒）
	Timeout int `mapstructure:"timeout"`
	// 熔断连续失败阈值
	BreakerFailures int `mapstructure:"breaker_failures"`
	// 熔断打开持续时间（秒）
	BreakerOpenSeconds int `mapstructure:"breaker_open_seconds"`
}

// EngineConfig 决策引擎配置
type EngineConfig struct {
	// 默认审批人
	DefaultApprover string `mapstructure:"default_approver"`
	// 默认证券温度
	DefaultTemperature string `mapstructure:"default_temperature"`
	// 默认借券费率
	DefaultBorrowRate string `mapstructure:"default_borrow_rate"`
	// 没有自动审批规则命中时是否仍自动审批
	AutoApproveByDefault bool `mapstructure:"auto_approve_by_default"`
	// 各温度的扣减比例，例如 {"GC": "1", "HTB": "1"}
	DecrementFractions map[string]string `mapstructure:"decrement_fractions"`
	// 订单校验时间预算（毫秒）
	OrderBudgetMillis int `mapstructure:"order_budget_millis"`
	// 原子扣减的最大尝试次数
	MaxAttempts int `mapstructure:"max_attempts"`
	// 首次重试退避（毫秒）
	RetryBackoffMillis int `mapstructure:"retry_backoff_millis"`
	// 业务日历时区
	Timezone string `mapstructure:"timezone"`
	// 节假日列表（YYYY-MM-DD）
	Holidays []string `mapstructure:"holidays"`
	// 规则刷新间隔（秒）
	RuleRefreshSeconds int `mapstructure:"rule_refresh_seconds"`
	// 借券过期扫描间隔（秒）
	ExpirySweepSeconds int `mapstructure:"expiry_sweep_seconds"`
	// 参考数据本地缓存时长（秒）
	ReferenceCacheSeconds int `mapstructure:"reference_cache_seconds"`
}

// OrderBudget 订单校验时间预算
func (e EngineConfig) OrderBudget() time.Duration {
	return time.Duration(e.OrderBudgetMillis) * time.Millisecond
}

// RetryBackoff 首次重试退避
func (e EngineConfig) RetryBackoff() time.Duration {
	return time.Duration(e.RetryBackoffMillis) * time.Millisecond
}

// Load 从 TOML 文件加载配置，文件不存在时仅使用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// 环境变量覆盖，例如 APP_DATABASE_DSN
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
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
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("engine.max_attempts must be positive")
	}
	if c.Engine.OrderBudgetMillis <= 0 {
		return fmt.Errorf("engine.order_budget_millis must be positive")
	}
	if c.Engine.RuleRefreshSeconds <= 0 {
		return fmt.Errorf("engine.rule_refresh_seconds must be positive")
	}
	if c.Engine.ExpirySweepSeconds <= 0 {
		return fmt.Errorf("engine.expiry_sweep_seconds must be positive")
	}
	if c.Engine.ReferenceCacheSeconds <= 0 {
		return fmt.Errorf("engine.reference_cache_seconds must be positive")
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("invalid engine.timezone %q: %w", c.Engine.Timezone, err)
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "seclending")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 5)
	v.SetDefault("http.write_timeout", 5)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 50)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 20)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 1)
	v.SetDefault("redis.write_timeout", 1)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.workflow_topic", "seclending.workflow.events")
	v.SetDefault("kafka.inventory_topic", "seclending.inventory.events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.poll_interval", 200)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 20)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/seclending.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 500)
	v.SetDefault("rate_limit.burst", 1000)

	v.SetDefault("limit_service.timeout", 50)
	v.SetDefault("limit_service.breaker_failures", 5)
	v.SetDefault("limit_service.breaker_open_seconds", 10)

	v.SetDefault("engine.default_approver", "SYSTEM")
	v.SetDefault("engine.default_temperature", "GC")
	v.SetDefault("engine.default_borrow_rate", "0")
	v.SetDefault("engine.auto_approve_by_default", true)
	v.SetDefault("engine.order_budget_millis", 150)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.retry_backoff_millis", 2)
	v.SetDefault("engine.timezone", "America/New_York")
	v.SetDefault("engine.rule_refresh_seconds", 30)
	v.SetDefault("engine.expiry_sweep_seconds", 300)
	v.SetDefault("engine.reference_cache_seconds", 60)
}

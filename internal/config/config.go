// Package config 提供配置管理
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/paiban/bnpdive/pkg/scheduler/colgen"
	"github.com/paiban/bnpdive/pkg/scheduler/diving"
	"github.com/paiban/bnpdive/pkg/scheduler/optimizer"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `envPrefix:"APP_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	API      APIConfig      `envPrefix:"API_"`
	Diving   DivingConfig   `envPrefix:"DIVING_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `env:"NAME" envDefault:"bnpdive"`
	Env      string `env:"ENV" envDefault:"development" validate:"oneof=development test production"`
	Port     int    `env:"PORT" envDefault:"7012" validate:"gt=0,lte=65535"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// DatabaseConfig 数据库配置，Enabled 为 false 时不持久化运行结果
type DatabaseConfig struct {
	Enabled         bool          `env:"ENABLED" envDefault:"false"`
	Host            string        `env:"HOST" envDefault:"localhost"`
	Port            int           `env:"PORT" envDefault:"5432"`
	Name            string        `env:"NAME" envDefault:"bnpdive"`
	User            string        `env:"USER" envDefault:"bnpdive"`
	Password        string        `env:"PASSWORD" envDefault:"bnpdive"`
	SSLMode         string        `env:"SSL_MODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// APIConfig API配置
type APIConfig struct {
	RateLimit    int           `env:"RATE_LIMIT" envDefault:"100"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s"`
	SolveTimeout time.Duration `env:"SOLVE_TIMEOUT" envDefault:"1h"`
	MaxBodyBytes int64         `env:"MAX_BODY_BYTES" envDefault:"67108864"`
	CORS         CORSConfig    `envPrefix:"CORS_"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"true"`
	Origins []string `env:"ORIGINS" envDefault:"*" envSeparator:","`
}

// DivingConfig 下潜求解配置
type DivingConfig struct {
	CGPolicy         string        `env:"CG_POLICY" envDefault:"sequential" validate:"oneof=sequential full_sweep"`
	Branching        string        `env:"BRANCHING" envDefault:"threshold" validate:"oneof=threshold largest"`
	Threshold        float64       `env:"THRESHOLD" envDefault:"0.6" validate:"gt=0,lte=1"`
	TotalTime        time.Duration `env:"TOTAL_TIME" envDefault:"3600s" validate:"gte=0"`
	RootTime         time.Duration `env:"ROOT_TIME" envDefault:"1800s" validate:"gte=0"`
	NodeTime         time.Duration `env:"NODE_TIME" envDefault:"10s" validate:"gt=0"`
	PricingTimeLimit time.Duration `env:"PRICING_TIME_LIMIT" envDefault:"60s" validate:"gte=0"`
	RunLog           string        `env:"RUN_LOG" envDefault:"solution.txt"`
	Improve          bool          `env:"IMPROVE" envDefault:"false"`
	ImproveTime      time.Duration `env:"IMPROVE_TIME" envDefault:"60s" validate:"gt=0"`
	SeedGreedy       bool          `env:"SEED_GREEDY" envDefault:"false"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"/metrics"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			// 只返回第一个错误
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置非法: %w", err)
	}
	return nil
}

// DivingOptions 转换为下潜参数
func (c *DivingConfig) DivingOptions(log *zerolog.Logger) (diving.Options, error) {
	opts := diving.DefaultOptions()
	policy, err := colgen.ParsePolicy(c.CGPolicy)
	if err != nil {
		return opts, err
	}
	branching, err := diving.ParseBranching(c.Branching)
	if err != nil {
		return opts, err
	}
	opts.CGPolicy = policy
	opts.Branching = branching
	opts.Threshold = c.Threshold
	opts.TotalTime = c.TotalTime
	opts.RootTime = c.RootTime
	opts.NodeTime = c.NodeTime
	opts.PricingTimeLimit = c.PricingTimeLimit
	opts.SeedGreedy = c.SeedGreedy
	opts.Logger = log
	return opts, nil
}

// ImproveConfig 局部搜索配置，未开启时为 nil
func (c *DivingConfig) ImproveConfig() *optimizer.OptimizationConfig {
	if !c.Improve {
		return nil
	}
	cfg := optimizer.DefaultOptConfig()
	cfg.MaxTime = c.ImproveTime
	cfg.MaxIterations = 1 << 30
	if c.PricingTimeLimit > 0 {
		cfg.PricingTimeLimit = min(cfg.PricingTimeLimit, c.PricingTimeLimit)
	}
	return cfg
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsTest 检查是否为测试环境
func (c *Config) IsTest() bool {
	return c.App.Env == "test"
}

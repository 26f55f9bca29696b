// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					output = f
				} else {
					output = os.Stdout
				}
			} else {
				output = os.Stdout
			}
		default:
			output = os.Stdout
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	if logger.GetLevel() == zerolog.Disabled {
		Init(DefaultConfig())
	}
	return &logger
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()
	
	// 添加请求ID
	if reqID, ok := ctx.Value("request_id").(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}
	
	// 添加求解任务ID
	if runID, ok := ctx.Value("run_id").(string); ok {
		l = l.With().Str("run_id", runID).Logger()
	}
	
	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// WithField 添加字段
func WithField(key string, value interface{}) *zerolog.Logger {
	l := Get().With().Interface(key, value).Logger()
	return &l
}

// WithFields 添加多个字段
func WithFields(fields map[string]interface{}) *zerolog.Logger {
	ctx := Get().With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	l := ctx.Logger()
	return &l
}

// DiveLogger 分支定价下潜求解专用日志器
type DiveLogger struct {
	base *zerolog.Logger
}

// NewDiveLogger 基于 base 创建求解日志器，base 为空时不输出
func NewDiveLogger(base *zerolog.Logger) *DiveLogger {
	if base == nil {
		nop := zerolog.Nop()
		return &DiveLogger{base: &nop}
	}
	l := base.With().Str("component", "diving").Logger()
	return &DiveLogger{base: &l}
}

// Logger 返回底层日志器
func (l *DiveLogger) Logger() *zerolog.Logger { return l.base }

// StartRun 记录求解开始
func (l *DiveLogger) StartRun(runID string, people, tasks, days int) {
	l.base.Info().
		Str("run_id", runID).
		Int("people", people).
		Int("tasks", tasks).
		Int("days", days).
		Msg("开始分支定价下潜")
}

// Iteration 记录一轮列生成
func (l *DiveLogger) Iteration(iter int, objective float64, added int) {
	l.base.Debug().
		Int("iteration", iter).
		Float64("objective", objective).
		Int("added", added).
		Msg("列生成迭代")
}

// ColumnAdded 记录加入主问题的列
func (l *DiveLogger) ColumnAdded(person int, reducedCost float64) {
	l.base.Trace().
		Int("person", person).
		Float64("reduced_cost", reducedCost).
		Msg("加入新列")
}

// DiveLevel 记录一层下潜
func (l *DiveLogger) DiveLevel(level, fixed int, objective float64, nodeBudget time.Duration) {
	l.base.Info().
		Int("level", level).
		Int("fixed", fixed).
		Float64("objective", objective).
		Dur("node_budget", nodeBudget).
		Msg("下潜一层")
}

// OracleFailure 记录求解器失败
func (l *DiveLogger) OracleFailure(stage, status string) {
	l.base.Error().
		Str("stage", stage).
		Str("status", status).
		Msg("求解器返回致命状态")
}

// Improvement 记录局部搜索改进
func (l *DiveLogger) Improvement(iter, k int, objective float64) {
	l.base.Debug().
		Int("iteration", iter).
		Int("k", k).
		Float64("objective", objective).
		Msg("局部搜索改进")
}

// RunComplete 记录求解完成
func (l *DiveLogger) RunComplete(runID string, integral bool, objective int, bound, gap float64, duration time.Duration) {
	l.base.Info().
		Str("run_id", runID).
		Bool("integral", integral).
		Int("objective", objective).
		Float64("root_bound", bound).
		Float64("gap", gap).
		Dur("duration", duration).
		Msg("分支定价下潜完成")
}

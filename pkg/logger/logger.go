// Package logger 提供基于 zap 的结构化日志，支持控制台/JSON 编码与 lumberjack 文件滚动。
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.RWMutex
	log     *zap.Logger
	jsonOut bool
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" env:"TR_LOG_LEVEL"`   // debug, info, warn, error
	Format     string `yaml:"format" env:"TR_LOG_FORMAT"` // json, console
	Output     string `yaml:"output" env:"TR_LOG_OUTPUT"` // stdout, file, both
	FilePath   string `yaml:"file_path" env:"TR_LOG_FILE"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// DefaultConfig 返回默认日志配置
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// Init 初始化全局日志实例，可重复调用，后一次覆盖前一次
func Init(cfg *Config) *zap.Logger {
	l := New(cfg)
	mu.Lock()
	log = l
	jsonOut = cfg != nil && cfg.Format == "json"
	mu.Unlock()
	return l
}

// New 创建日志实例，不影响全局实例
func New(cfg *Config) *zap.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// L 获取全局日志实例
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		return Init(nil)
	}
	return l
}

// IsJSON 全局日志是否为 JSON 格式
func IsJSON() bool {
	mu.RLock()
	defer mu.RUnlock()
	return jsonOut
}

// OrDefault 返回 l，为 nil 时返回全局实例
func OrDefault(l *zap.Logger) *zap.Logger {
	if l == nil {
		return L()
	}
	return l
}

// Sync 同步日志
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

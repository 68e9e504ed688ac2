package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"yqhp/test-runner/pkg/types"
)

// Validator 校验配置，收集全部错误后一起返回
type Validator struct {
	errors types.ValidationErrors
}

// NewValidator 创建校验器
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, &types.ValidationError{Field: field, Message: message})
}

// Validate 校验配置，返回 types.ValidationErrors 或 nil
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	v.validateServer(&cfg.Server)
	v.validateRunner(&cfg.Runner)
	v.validateScenarios(&cfg.Scenarios)
	v.validateAdapter(cfg)
	v.validateDatabase(cfg)
	v.validateRedis(cfg)
	v.validateScheduler(cfg)
	v.validateLogging(cfg)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Validate 使用默认校验器
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Address == "" {
		v.addError("server.address", "is required")
	} else if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		v.addError("server.address", fmt.Sprintf("invalid address: %v", err))
	}
	if cfg.ReadTimeout < 0 {
		v.addError("server.read_timeout", "must not be negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.write_timeout", "must not be negative")
	}
	if cfg.RunTimeout < 0 {
		v.addError("server.run_timeout", "must not be negative")
	}
}

func (v *Validator) validateRunner(cfg *RunnerConfig) {
	if cfg.RetryDelay < 0 {
		v.addError("runner.retry_delay", "must not be negative")
	}
	if cfg.MaxRetry < 0 {
		v.addError("runner.max_retry", "must not be negative")
	}
	if cfg.RetryVariables != "" && !cfg.RetryVariables.Valid() {
		v.addError("runner.retry_variables", fmt.Sprintf("unknown mode %q", cfg.RetryVariables))
	}
}

func (v *Validator) validateScenarios(cfg *ScenariosConfig) {
	if cfg.Dir == "" {
		v.addError("scenarios.dir", "is required")
	}
}

func (v *Validator) validateAdapter(cfg *Config) {
	if cfg.Adapter.HTTP.Timeout < 0 {
		v.addError("adapter.http.timeout", "must not be negative")
	}
	if cfg.Adapter.Reno.Timeout < 0 {
		v.addError("adapter.reno.timeout", "must not be negative")
	}
	if u := cfg.Adapter.Reno.BaseURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		v.addError("adapter.reno.base_url", "must start with http:// or https://")
	}
}

func (v *Validator) validateDatabase(cfg *Config) {
	db := &cfg.Database
	switch db.Driver {
	case "", "memory":
		return
	case "postgres", "postgresql", "mysql":
	default:
		v.addError("database.driver", fmt.Sprintf("unsupported driver %q", db.Driver))
		return
	}
	if db.Host == "" {
		v.addError("database.host", "is required")
	}
	if db.Port <= 0 || db.Port > 65535 {
		v.addError("database.port", "must be between 1 and 65535")
	}
	if db.Database == "" {
		v.addError("database.database", "is required")
	}
}

func (v *Validator) validateRedis(cfg *Config) {
	if !cfg.Redis.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Redis.Addr); err != nil {
		v.addError("redis.addr", fmt.Sprintf("invalid address: %v", err))
	}
}

func (v *Validator) validateScheduler(cfg *Config) {
	s := &cfg.Scheduler
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			v.addError("scheduler.timezone", err.Error())
		}
	}
	if s.SyncInterval < 0 {
		v.addError("scheduler.sync_interval", "must not be negative")
	}
}

func (v *Validator) validateLogging(cfg *Config) {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("unknown format %q", cfg.Logging.Format))
	}
	switch cfg.Logging.Output {
	case "stdout", "file", "both":
		if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
			v.addError("logging.file_path", "is required when output is file or both")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("unknown output %q", cfg.Logging.Output))
	}
}

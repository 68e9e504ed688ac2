// Package config 加载 test-runner 的配置。
//
// 优先级：默认值 < YAML 文件 < 环境变量（env 标签）< 命令行参数。
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/test-runner/internal/adapter"
	"yqhp/test-runner/internal/notifier"
	"yqhp/test-runner/internal/scheduler"
	"yqhp/test-runner/internal/store"
	"yqhp/test-runner/pkg/logger"
	"yqhp/test-runner/pkg/types"
)

// Config 顶层配置
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Runner    RunnerConfig          `yaml:"runner"`
	Scenarios ScenariosConfig       `yaml:"scenarios"`
	Adapter   adapter.Config        `yaml:"adapter"`
	Database  store.DatabaseConfig  `yaml:"database"`
	Redis     scheduler.RedisConfig `yaml:"redis"`
	Scheduler scheduler.Config      `yaml:"scheduler"`
	Notifier  NotifierConfig        `yaml:"notifier"`
	Logging   logger.Config         `yaml:"logging"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Address      string        `yaml:"address" env:"TR_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"TR_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"TR_SERVER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"TR_SERVER_ENABLE_CORS"`
	RunTimeout   time.Duration `yaml:"run_timeout" env:"TR_SERVER_RUN_TIMEOUT"` // 异步运行的总超时，0 表示不限制
}

// RunnerConfig 引擎默认值
type RunnerConfig struct {
	RetryDelay     time.Duration   `yaml:"retry_delay" env:"TR_RETRY_DELAY"`
	MaxRetry       int             `yaml:"max_retry" env:"TR_MAX_RETRY"`
	AutoFix        bool            `yaml:"auto_fix" env:"TR_AUTO_FIX"`
	RetryVariables types.RetryMode `yaml:"retry_variables" env:"TR_RETRY_VARIABLES"`
	RecordSkipped  bool            `yaml:"record_skipped" env:"TR_RECORD_SKIPPED"`
}

// ScenariosConfig 场景目录配置
type ScenariosConfig struct {
	Dir    string `yaml:"dir" env:"TR_SCENARIOS_DIR"`
	Cache  bool   `yaml:"cache" env:"TR_SCENARIOS_CACHE"`
	Strict bool   `yaml:"strict" env:"TR_SCENARIOS_STRICT"`
}

// NotifierConfig 通知配置
type NotifierConfig struct {
	Slack notifier.SlackConfig `yaml:"slack"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			RunTimeout:   30 * time.Minute,
		},
		Runner: RunnerConfig{
			RetryDelay:     2 * time.Second,
			MaxRetry:       types.DefaultMaxRetry,
			AutoFix:        true,
			RetryVariables: types.RetryLive,
		},
		Scenarios: ScenariosConfig{
			Dir:   "scenarios",
			Cache: true,
		},
		Adapter:   *adapter.DefaultConfig(),
		Database:  *store.DefaultDatabaseConfig(),
		Redis:     *scheduler.DefaultRedisConfig(),
		Scheduler: *scheduler.DefaultConfig(),
		Notifier: NotifierConfig{
			Slack: *notifier.DefaultSlackConfig(),
		},
		Logging: *logger.DefaultConfig(),
	}
}

// Loader 从多个来源加载配置
type Loader struct {
	configPath string
	cmdArgs    map[string]string
	lookupEnv  func(string) string
}

// NewLoader 创建加载器
func NewLoader() *Loader {
	return &Loader{
		cmdArgs:   make(map[string]string),
		lookupEnv: os.Getenv,
	}
}

// WithConfigPath 设置 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs 设置命令行覆盖，key 为点分路径，如 server.address
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	for k, v := range args {
		l.cmdArgs[k] = v
	}
	return l
}

// WithEnv 替换环境变量读取函数，测试用
func (l *Loader) WithEnv(lookup func(string) string) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load 按优先级加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// applyEnvToStruct 递归处理带 env 标签的字段
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := l.lookupEnv(envTag)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}
	return nil
}

// setConfigValue 按 yaml 标签组成的点分路径设置值
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}
	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, strings.ReplaceAll(name, "_", "")) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 把字符串写入字段
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的整数: %w", err)
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的 map 类型")
		}
		m := make(map[string]string)
		for _, pair := range strings.Split(value, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) == 2 {
				m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}
	return nil
}

// Load 读取配置文件（可为空）并应用环境变量
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Serialize 序列化为 YAML
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

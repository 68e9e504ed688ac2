// Package runner 实现场景执行引擎。
//
// 一次运行：加载场景 → 初始化变量 → 创建运行记录 → 顺序执行步骤（失败时按
// auto-fix 策略重试）→ 汇总并更新运行记录。步骤严格串行，后续步骤可能依赖
// 前面步骤保存的变量。引擎本身不发送通知，由调用方负责。
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/adapter"
	"yqhp/test-runner/internal/scenario"
	"yqhp/test-runner/internal/store"
	"yqhp/test-runner/pkg/logger"
	"yqhp/test-runner/pkg/types"
)

// DefaultRetryDelay 重试之间的固定等待时间
const DefaultRetryDelay = 2 * time.Second

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Runner holds the dependencies shared by all runs. It is safe for concurrent use;
// every run gets its own variable store and adapters.
type Runner struct {
	loader     scenario.Loader
	gateway    store.Gateway
	registry   *adapter.Registry
	adapterCfg *adapter.Config
	log        *zap.Logger
	retryDelay time.Duration
	defaults   Defaults
	sleep      Sleeper
	now        func() time.Time
}

// Defaults 调用方没有设置的运行选项取这里的值
type Defaults struct {
	AutoFix        bool
	MaxRetry       int
	RetryVariables types.RetryMode
	RecordSkipped  bool
}

// DefaultDefaults auto-fix 开启，最多重试 3 次，重试时使用当前变量
func DefaultDefaults() Defaults {
	return Defaults{
		AutoFix:        true,
		MaxRetry:       types.DefaultMaxRetry,
		RetryVariables: types.RetryLive,
	}
}

func (d Defaults) apply(opts *types.RunOptions) {
	if opts.AutoFix == nil {
		v := d.AutoFix
		opts.AutoFix = &v
	}
	if opts.MaxRetry == nil {
		v := d.MaxRetry
		opts.MaxRetry = &v
	}
	if opts.RetryVariables == "" {
		opts.RetryVariables = d.RetryVariables
	}
	if opts.RetryVariables == "" {
		opts.RetryVariables = types.RetryLive
	}
	if !opts.RecordSkipped {
		opts.RecordSkipped = d.RecordSkipped
	}
}

// Option 配置 Runner
type Option func(*Runner)

// WithRegistry 替换适配器注册表
func WithRegistry(registry *adapter.Registry) Option {
	return func(r *Runner) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) {
		r.log = logger.OrDefault(log)
	}
}

// WithRetryDelay 设置重试间隔
func WithRetryDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

// WithDefaults 设置运行选项默认值（来自配置文件）
func WithDefaults(d Defaults) Option {
	return func(r *Runner) {
		if d.MaxRetry < 0 {
			d.MaxRetry = 0
		}
		r.defaults = d
	}
}

// WithSleeper 替换重试等待实现，测试用
func WithSleeper(s Sleeper) Option {
	return func(r *Runner) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithAdapterConfig 设置适配器配置（超时、全局请求头、Reno 地址等）
func WithAdapterConfig(cfg *adapter.Config) Option {
	return func(r *Runner) {
		if cfg != nil {
			r.adapterCfg = cfg
		}
	}
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Runner.
func New(loader scenario.Loader, gateway store.Gateway, opts ...Option) *Runner {
	r := &Runner{
		loader:     loader,
		gateway:    gateway,
		registry:   adapter.DefaultRegistry(),
		adapterCfg: adapter.DefaultConfig(),
		log:        logger.L(),
		retryDelay: DefaultRetryDelay,
		defaults:   DefaultDefaults(),
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one scenario run and blocks until it is finished.
func (r *Runner) Run(ctx context.Context, opts types.RunOptions) (*types.RunResult, error) {
	return r.NewExecution(opts).Run(ctx)
}

// NewExecution prepares a run without starting it, so callers can observe its State.
// The run ID is assigned here and used for the run row once it is created.
func (r *Runner) NewExecution(opts types.RunOptions) *Execution {
	e := &Execution{runner: r, opts: opts, id: uuid.NewString()}
	e.state.set(PhaseIdle, 0)
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

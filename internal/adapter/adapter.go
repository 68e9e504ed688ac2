// Package adapter 提供步骤适配器框架：每种步骤类型一个适配器，
// 把步骤定义转换为统一的 StepResult。
package adapter

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/variable"
	"yqhp/test-runner/pkg/logger"
	"yqhp/test-runner/pkg/types"
)

// Adapter 执行一种类型的步骤。
// 业务失败和传输失败都以 FAILED 结果返回，而不是 Go error。
type Adapter interface {
	// Type 返回该适配器处理的步骤类型。
	Type() string

	// ExecuteStep 执行一次步骤并返回本次尝试的结果。
	ExecuteStep(ctx context.Context, step *types.Step) *types.StepResult
}

// Env 是单次运行内所有适配器共享的依赖。
// 每次运行构造一个新的 Env，Vars 不跨运行共享。
type Env struct {
	Vars     *variable.Store
	Scenario *types.Scenario
	Logger   *zap.Logger
	Config   *Config
	Client   *fasthttp.Client
}

// NewEnv 创建运行环境，并按配置构建本次运行的 HTTP 客户端
func NewEnv(scenario *types.Scenario, vars *variable.Store, cfg *Config, log *zap.Logger) (*Env, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	client, err := cfg.BuildClient()
	if err != nil {
		return nil, err
	}
	return &Env{
		Vars:     vars,
		Scenario: scenario,
		Logger:   logger.OrDefault(log),
		Config:   cfg,
		Client:   client,
	}, nil
}

// Factory 为一次运行创建适配器
type Factory func(env *Env) (Adapter, error)

// base 提供适配器的通用字段和辅助方法
type base struct {
	typ string
	env *Env
	log *zap.Logger
}

func newBase(typ string, env *Env) base {
	return base{
		typ: typ,
		env: env,
		log: env.Logger.With(zap.String("adapter", typ)),
	}
}

// Type implements Adapter.
func (b *base) Type() string {
	return b.typ
}

// warnUnresolved 记录未解析的变量，替换本身不会失败
func (b *base) warnUnresolved(step *types.Step, field string, names []string) {
	if len(names) == 0 {
		return
	}
	b.log.Warn("unresolved variables left as literal tokens",
		zap.String("step", step.Name),
		zap.String("field", field),
		zap.Strings("variables", names),
	)
}

// wrongSpec 返回步骤载荷与适配器类型不匹配时的失败结果
func (b *base) wrongSpec(step *types.Step) *types.StepResult {
	result := types.NewStepResult(step.Name, step.Type)
	defer result.Finish()
	return result.Fail("step \"" + step.Name + "\" has no " + b.typ + " payload")
}

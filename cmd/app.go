package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"yqhp/test-runner/internal/config"
	"yqhp/test-runner/internal/runner"
	"yqhp/test-runner/internal/scenario"
	"yqhp/test-runner/internal/store"
	"yqhp/test-runner/pkg/logger"
)

// app 是各命令共用的组件
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	store  store.Store
	loader *scenario.FileLoader
	runner *runner.Runner
}

// loadConfig 读取配置文件、环境变量，再应用命令行覆盖
func loadConfig(overrides map[string]string) (*config.Config, error) {
	args := make(map[string]string, len(overrides)+2)
	for k, v := range overrides {
		args[k] = v
	}
	if debug {
		args["logging.level"] = "debug"
	}
	if scenariosDir != "" {
		args["scenarios.dir"] = scenariosDir
	}

	cfg, err := config.NewLoader().WithConfigPath(cfgFile).WithCmdArgs(args).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// newApp 按配置初始化日志、存储、场景加载器和执行引擎
func newApp(cfg *config.Config) (*app, error) {
	log := logger.Init(&cfg.Logging)

	st, err := store.New(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	loader := scenario.NewFileLoader(cfg.Scenarios.Dir,
		scenario.WithCache(cfg.Scenarios.Cache),
		scenario.WithStrict(cfg.Scenarios.Strict),
		scenario.WithLogger(log),
	)

	r := runner.New(loader, st,
		runner.WithLogger(log),
		runner.WithAdapterConfig(&cfg.Adapter),
		runner.WithRetryDelay(cfg.Runner.RetryDelay),
		runner.WithDefaults(runner.Defaults{
			AutoFix:        cfg.Runner.AutoFix,
			MaxRetry:       cfg.Runner.MaxRetry,
			RetryVariables: cfg.Runner.RetryVariables,
			RecordSkipped:  cfg.Runner.RecordSkipped,
		}),
	)

	return &app{cfg: cfg, log: log, store: st, loader: loader, runner: r}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store failed", zap.Error(err))
	}
	logger.Sync()
}

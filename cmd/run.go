package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/notifier"
	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

var (
	// run 命令的 flags
	runEnv            string
	runMaxRetry       int
	runAutoFix        bool
	runStopOnFailure  bool
	runRecordSkipped  bool
	runRetryVariables string
	runJSONOutput     string
	runNotify         bool
	runTimeout        time.Duration
)

// runCmd 是 run 子命令
var runCmd = &cobra.Command{
	Use:   "run <project> <scenario>",
	Short: "执行一个场景并输出结果",
	Long: `加载 <scenarios>/<project>/ 下的场景并顺序执行全部步骤。

结果以 JSON 输出到标准输出。运行状态为 FAILED 时退出码为 1，
配置或加载错误时退出码为 2。未配置数据库时结果只保存在内存中。`,
	Example: `  # 执行 acme 项目的 login 场景
  test-runner run acme login

  # 生产环境，失败后最多重试 1 次，遇到失败停止
  test-runner run acme login --env production --max-retry 1 --stop-on-failure

  # 关闭自动重试并把结果写入文件
  test-runner run acme login --auto-fix=false --out result.json`,
	Args: cobra.ExactArgs(2),
	RunE: runScenario,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runEnv, "env", "e", "", "运行环境 (development, staging, production)，默认取场景配置")
	runCmd.Flags().IntVar(&runMaxRetry, "max-retry", -1, "失败步骤最多重试次数，默认取配置")
	runCmd.Flags().BoolVar(&runAutoFix, "auto-fix", true, "失败步骤是否自动重试")
	runCmd.Flags().BoolVar(&runStopOnFailure, "stop-on-failure", false, "步骤最终失败后停止执行剩余步骤")
	runCmd.Flags().BoolVar(&runRecordSkipped, "record-skipped", false, "停止后为剩余步骤写入 SKIPPED 记录")
	runCmd.Flags().StringVar(&runRetryVariables, "retry-variables", "", "重试时的变量视图 (live, snapshot)")
	runCmd.Flags().StringVarP(&runJSONOutput, "out", "o", "", "把 JSON 结果写入文件")
	runCmd.Flags().BoolVar(&runNotify, "notify", false, "运行结束后发送 Slack 通知")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "整个运行的超时时间，0 表示不限制")
}

// runOptionsFromFlags 只设置用户显式给出的选项，其余交给配置默认值
func runOptionsFromFlags(cmd *cobra.Command, project, slug string) types.RunOptions {
	opts := types.RunOptions{
		Project:        project,
		Scenario:       slug,
		Environment:    types.Environment(runEnv),
		TriggeredBy:    types.TriggerManual,
		StopOnFailure:  runStopOnFailure,
		RecordSkipped:  runRecordSkipped,
		RetryVariables: types.RetryMode(runRetryVariables),
	}
	if cmd.Flags().Changed("auto-fix") {
		v := runAutoFix
		opts.AutoFix = &v
	}
	if cmd.Flags().Changed("max-retry") {
		v := runMaxRetry
		opts.MaxRetry = &v
	}
	return opts
}

func runScenario(cmd *cobra.Command, args []string) error {
	opts := runOptionsFromFlags(cmd, args[0], args[1])
	if err := opts.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	res, runErr := a.runner.Run(ctx, opts)

	var n notifier.Notifier = notifier.Nop{}
	if runNotify {
		n = notifier.New(&cfg.Notifier.Slack)
	}

	if res == nil {
		<-notifier.DispatchFailure(ctx, n, opts.Project, opts.Scenario, runErr, a.log)
		return runErr
	}

	if err := printResult(cmd, res); err != nil {
		return err
	}
	<-notifier.Dispatch(ctx, n, res.Summary(), a.log)

	if runErr != nil {
		a.log.Error("run aborted", zap.String("run_id", res.TestRunID), zap.Error(runErr))
		return runErr
	}
	if !res.Passed() {
		return &runFailedError{runID: res.TestRunID, failed: res.FailedSteps, total: res.TotalSteps}
	}
	return nil
}

func printResult(cmd *cobra.Command, res *types.RunResult) error {
	data, err := jsonx.MarshalIndent(res)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if runJSONOutput != "" {
		if err := os.WriteFile(runJSONOutput, data, 0o644); err != nil {
			return fmt.Errorf("写入 JSON 输出失败: %w", err)
		}
	}
	return nil
}

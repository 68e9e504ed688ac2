// Package cmd 提供 test-runner CLI 的命令实现
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version 当前版本号，构建时可通过 -ldflags 覆盖
var Version = "0.1.0"

var (
	// 全局配置
	cfgFile      string
	debug        bool
	scenariosDir string
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "test-runner",
	Short: "场景化 API 测试执行器",
	Long: `test-runner 按 YAML 场景顺序执行 HTTP 和 AI 评估步骤，
失败步骤自动重试，结果写入数据库并通过 Slack 通知。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().StringVar(&scenariosDir, "scenarios", "", "场景目录 (覆盖配置文件)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// runFailedError 运行结束但状态为 FAILED
type runFailedError struct {
	runID  string
	failed int
	total  int
}

func (e *runFailedError) Error() string {
	return fmt.Sprintf("run %s failed: %d/%d steps failed", e.runID, e.failed, e.total)
}

// exitCode 运行失败返回 1，其他错误（配置、加载、基础设施）返回 2
func exitCode(err error) int {
	if _, ok := err.(*runFailedError); ok {
		return 1
	}
	return 2
}

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

	"yqhp/test-runner/api/rest"
	"yqhp/test-runner/internal/notifier"
	"yqhp/test-runner/internal/scheduler"
)

var (
	// serve 命令的 flags
	serveAddress    string
	serveNoSchedule bool
)

// serveCmd 是 serve 子命令
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 接口和定时调度",
	Long: `启动 REST 接口 (POST /api/test/run 等)，scheduler.enabled 为 true 时
同时按场景的 schedule 字段定时执行。redis.enabled 为 true 时多实例之间
通过 Redis 锁保证同一任务只执行一次。`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "监听地址 (覆盖配置文件)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "不启动定时调度")
}

func serve(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{}
	if serveAddress != "" {
		overrides["server.address"] = serveAddress
	}
	cfg, err := loadConfig(overrides)
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

	n := notifier.New(&cfg.Notifier.Slack)
	serverOpts := []rest.Option{rest.WithLogger(a.log), rest.WithNotifier(n)}

	if cfg.Scheduler.Enabled && !serveNoSchedule {
		sched, err := newScheduler(ctx, a, n)
		if err != nil {
			return err
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				a.log.Warn("stop scheduler failed", zap.Error(err))
			}
		}()
		serverOpts = append(serverOpts, rest.WithJobs(sched))
	}

	srv := rest.NewServer(&cfg.Server, a.runner, a.loader, a.store, serverOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务异常退出: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newScheduler 创建并启动调度器，配置了 Redis 时使用分布式锁
func newScheduler(ctx context.Context, a *app, n notifier.Notifier) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{scheduler.WithLogger(a.log), scheduler.WithNotifier(n)}

	if a.cfg.Redis.Enabled {
		client, err := scheduler.NewRedisClient(ctx, &a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		locker, err := scheduler.NewRedisLocker(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		opts = append(opts, scheduler.WithLocker(locker))
		a.log.Info("scheduler uses redis lock", zap.String("addr", a.cfg.Redis.Addr))
	}

	sched, err := scheduler.New(&a.cfg.Scheduler, a.loader, a.runner, opts...)
	if err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		_ = sched.Stop()
		return nil, fmt.Errorf("启动调度器失败: %w", err)
	}
	return sched, nil
}

// Package rest 提供 test-runner 的 HTTP 接口。
//
// POST /api/test/run 预加载场景后立即返回 202，运行在后台继续，
// 结束后由通知器发送结果。
package rest

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/config"
	"yqhp/test-runner/internal/notifier"
	"yqhp/test-runner/internal/runner"
	"yqhp/test-runner/internal/scenario"
	"yqhp/test-runner/internal/scheduler"
	"yqhp/test-runner/internal/store"
	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/logger"
)

// JobLister 列出定时任务
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// Server REST 服务
type Server struct {
	app      *fiber.App
	cfg      *config.ServerConfig
	runner   *runner.Runner
	loader   scenario.Loader
	reader   store.Reader
	notifier notifier.Notifier
	jobs     JobLister
	log      *zap.Logger

	// 后台运行使用 baseCtx，Shutdown 超时后取消
	baseCtx context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
	active  sync.Map // execution id -> *runner.Execution
}

// Option 配置 Server
type Option func(*Server)

// WithNotifier 设置通知器
func WithNotifier(n notifier.Notifier) Option {
	return func(s *Server) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithJobs 暴露调度器的任务列表
func WithJobs(j JobLister) Option {
	return func(s *Server) {
		s.jobs = j
	}
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = logger.OrDefault(log)
	}
}

// NewServer 创建 REST 服务
func NewServer(cfg *config.ServerConfig, r *runner.Runner, loader scenario.Loader, reader store.Reader, opts ...Option) *Server {
	if cfg == nil {
		cfg = &config.DefaultConfig().Server
	}

	s := &Server{
		cfg:      cfg,
		runner:   r,
		loader:   loader,
		reader:   reader,
		notifier: notifier.Nop{},
		log:      logger.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("rest")
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          errorHandler,
		AppName:               "test-runner",
		DisableStartupMessage: true,
		JSONEncoder:           jsonx.Marshal,
		JSONDecoder:           jsonx.Unmarshal,
	})

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupRoutes 注册路由
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	api := s.app.Group("/api/test")
	api.Post("/run", s.runTest)
	api.Get("/executions/:id", s.getExecution)
	api.Get("/results", s.listResults)
	api.Get("/results/:id", s.getResult)
	api.Get("/stats/:project", s.getStats)
	api.Get("/schedules", s.listSchedules)
}

// Start 开始监听，阻塞直到服务关闭
func (s *Server) Start() error {
	s.log.Info("rest server listening", zap.String("address", s.cfg.Address))
	return s.app.Listen(s.cfg.Address)
}

// Shutdown 停止接收请求并等待后台运行结束；ctx 到期后取消仍在执行的运行
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown timeout, cancelling running executions")
		s.cancel()
		<-done
	}
	s.cancel()
	return err
}

// Wait 等待所有后台运行结束，测试用
func (s *Server) Wait() {
	s.runs.Wait()
}

// App 返回 fiber 实例
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) runContext() (context.Context, context.CancelFunc) {
	if s.cfg.RunTimeout > 0 {
		return context.WithTimeout(s.baseCtx, s.cfg.RunTimeout)
	}
	return context.WithCancel(s.baseCtx)
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), 30*time.Second)
}

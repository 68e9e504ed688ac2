// Package scheduler 按场景声明的 cron 表达式定时触发运行。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/notifier"
	"yqhp/test-runner/internal/scenario"
	"yqhp/test-runner/pkg/logger"
	"yqhp/test-runner/pkg/types"
)

// Runner 执行一次运行
type Runner interface {
	Run(ctx context.Context, opts types.RunOptions) (*types.RunResult, error)
}

// Catalog 列出可调度的场景
type Catalog interface {
	Projects(ctx context.Context) ([]string, error)
	List(ctx context.Context, project string) ([]scenario.Entry, error)
}

// Config 调度器配置
type Config struct {
	Enabled      bool          `yaml:"enabled" env:"TR_SCHEDULER_ENABLED"`
	Projects     []string      `yaml:"projects"` // 为空表示全部项目
	Timezone     string        `yaml:"timezone" env:"TR_SCHEDULER_TZ"`
	SyncInterval time.Duration `yaml:"sync_interval"` // 重新扫描场景目录的间隔，0 表示只在启动时同步
	RunTimeout   time.Duration `yaml:"run_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Timezone:     "Local",
		SyncInterval: time.Minute,
		RunTimeout:   30 * time.Minute,
	}
}

// JobInfo 描述一个已注册的定时任务
type JobInfo struct {
	Project  string    `json:"project"`
	Scenario string    `json:"scenario"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
}

// SyncReport Sync 的结果
type SyncReport struct {
	Added   []string          `json:"added"`
	Removed []string          `json:"removed"`
	Kept    []string          `json:"kept"`
	Invalid map[string]string `json:"invalid,omitempty"`
}

type jobEntry struct {
	id       uuid.UUID
	project  string
	slug     string
	schedule string
}

// Scheduler 把场景的 schedule 字段注册为 gocron 任务。
// 每个任务使用单例模式，上一次运行未结束时跳过本次触发。
type Scheduler struct {
	config   *Config
	cron     gocron.Scheduler
	catalog  Catalog
	runner   Runner
	notifier notifier.Notifier
	log      *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobEntry

	baseCtx context.Context
	cancel  context.CancelFunc
}

// Option 配置 Scheduler
type Option func(*options)

type options struct {
	locker   gocron.Locker
	notifier notifier.Notifier
	log      *zap.Logger
}

// WithLocker 使用分布式锁，多实例部署时同一任务只在一个实例执行
func WithLocker(locker gocron.Locker) Option {
	return func(o *options) { o.locker = locker }
}

// WithNotifier 设置通知器
func WithNotifier(n notifier.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// New 创建调度器，需要调用 Start 才会开始触发
func New(cfg *Config, catalog Catalog, runner Runner, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &options{notifier: notifier.Nop{}}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.OrDefault(o.log).Named("scheduler")

	schedOpts := []gocron.SchedulerOption{
		gocron.WithLogger(zapLogger{log.Sugar()}),
		gocron.WithStopTimeout(10 * time.Second),
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		schedOpts = append(schedOpts, gocron.WithLocation(loc))
	}
	if o.locker != nil {
		schedOpts = append(schedOpts, gocron.WithDistributedLocker(o.locker))
	}

	cron, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:   cfg,
		cron:     cron,
		catalog:  catalog,
		runner:   runner,
		notifier: o.notifier,
		log:      log,
		jobs:     make(map[string]*jobEntry),
		baseCtx:  ctx,
		cancel:   cancel,
	}, nil
}

// Start 同步一次任务并启动调度；配置了 SyncInterval 时定期重新同步
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Sync(ctx); err != nil {
		return err
	}
	if s.config.SyncInterval > 0 {
		_, err := s.cron.NewJob(
			gocron.DurationJob(s.config.SyncInterval),
			gocron.NewTask(func() {
				if _, err := s.Sync(s.baseCtx); err != nil {
					s.log.Warn("resync scenarios failed", zap.Error(err))
				}
			}),
			gocron.WithName("scenario-sync"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("register sync job: %w", err)
		}
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.Jobs())))
	return nil
}

// Stop 停止调度并等待正在执行的任务
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.cron.Shutdown()
}

// Sync 按当前场景文件更新任务：新增、删除以及 schedule 变化的任务被替换
func (s *Scheduler) Sync(ctx context.Context) (*SyncReport, error) {
	projects := s.config.Projects
	if len(projects) == 0 {
		var err error
		projects, err = s.catalog.Projects(ctx)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
	}

	wanted := make(map[string]scenario.Entry)
	for _, project := range projects {
		entries, err := s.catalog.List(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("list scenarios of %s: %w", project, err)
		}
		for _, e := range entries {
			if e.Error != "" || strings.TrimSpace(e.Schedule) == "" {
				continue
			}
			wanted[jobKey(e.Project, e.Slug)] = e
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := &SyncReport{Invalid: map[string]string{}}
	for key, job := range s.jobs {
		e, ok := wanted[key]
		if ok && e.Schedule == job.schedule {
			report.Kept = append(report.Kept, key)
			continue
		}
		if err := s.cron.RemoveJob(job.id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			s.log.Warn("remove job failed", zap.String("job", key), zap.Error(err))
		}
		delete(s.jobs, key)
		if !ok {
			report.Removed = append(report.Removed, key)
		}
	}

	for key, e := range wanted {
		if _, ok := s.jobs[key]; ok {
			continue
		}
		job, err := s.add(e)
		if err != nil {
			report.Invalid[key] = err.Error()
			s.log.Warn("invalid schedule", zap.String("job", key), zap.String("schedule", e.Schedule), zap.Error(err))
			continue
		}
		s.jobs[key] = job
		report.Added = append(report.Added, key)
	}

	sort.Strings(report.Added)
	sort.Strings(report.Removed)
	sort.Strings(report.Kept)
	return report, nil
}

func (s *Scheduler) add(e scenario.Entry) (*jobEntry, error) {
	expr := strings.TrimSpace(e.Schedule)
	withSeconds := len(strings.Fields(expr)) == 6
	key := jobKey(e.Project, e.Slug)

	j, err := s.cron.NewJob(
		gocron.CronJob(expr, withSeconds),
		gocron.NewTask(s.trigger, e.Project, e.Slug),
		gocron.WithName(key),
		gocron.WithTags(e.Project),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	return &jobEntry{id: j.ID(), project: e.Project, slug: e.Slug, schedule: expr}, nil
}

// trigger 是定时任务的执行体：运行场景并异步发送通知
func (s *Scheduler) trigger(project, slug string) {
	ctx := s.baseCtx
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	log := s.log.With(zap.String("project", project), zap.String("scenario", slug))
	log.Info("scheduled run triggered")

	res, err := s.runner.Run(ctx, types.RunOptions{
		Project:     project,
		Scenario:    slug,
		TriggeredBy: types.TriggerSchedule,
	})
	if res == nil {
		if err != nil {
			log.Error("scheduled run failed to start", zap.Error(err))
			notifier.DispatchFailure(ctx, s.notifier, project, slug, err, s.log)
		}
		return
	}
	if err != nil {
		log.Error("scheduled run aborted", zap.Error(err))
	}
	notifier.Dispatch(ctx, s.notifier, res.Summary(), s.log)
}

// RunNow 立即触发一个已注册的任务
func (s *Scheduler) RunNow(project, slug string) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobKey(project, slug)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no scheduled job for %s", jobKey(project, slug))
	}
	for _, j := range s.cron.Jobs() {
		if j.ID() == entry.id {
			return j.RunNow()
		}
	}
	return gocron.ErrJobNotFound
}

// Jobs 返回已注册的场景任务，按名称排序
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	byID := make(map[uuid.UUID]*jobEntry, len(s.jobs))
	for _, e := range s.jobs {
		byID[e.id] = e
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(byID))
	for _, j := range s.cron.Jobs() {
		e, ok := byID[j.ID()]
		if !ok {
			continue
		}
		next, _ := j.NextRun()
		out = append(out, JobInfo{Project: e.project, Scenario: e.slug, Schedule: e.schedule, NextRun: next})
	}
	sort.Slice(out, func(i, j int) bool {
		return jobKey(out[i].Project, out[i].Scenario) < jobKey(out[j].Project, out[j].Scenario)
	})
	return out
}

func jobKey(project, slug string) string {
	return project + "/" + slug
}

// zapLogger 适配 gocron.Logger
type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, args ...any) { z.l.Debugw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.l.Errorw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.l.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.l.Warnw(msg, args...) }

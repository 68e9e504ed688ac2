package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"yqhp/test-runner/pkg/logger"
	"yqhp/test-runner/pkg/types"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"TR_DB_DRIVER"`
	Host            string `yaml:"host" env:"TR_DB_HOST"`
	Port            int    `yaml:"port" env:"TR_DB_PORT"`
	Username        string `yaml:"username" env:"TR_DB_USER"`
	Password        string `yaml:"password" env:"TR_DB_PASSWORD"`
	Database        string `yaml:"database" env:"TR_DB_NAME"`
	Charset         string `yaml:"charset"`
	SSLMode         string `yaml:"ssl_mode" env:"TR_DB_SSLMODE"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `yaml:"auto_migrate" env:"TR_DB_AUTO_MIGRATE"`
}

// DefaultDatabaseConfig 默认配置（Driver 为空或 memory 表示使用内存存储）
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Port:            5432,
		Charset:         "utf8mb4",
		SSLMode:         "disable",
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: 3600,
		AutoMigrate:     true,
	}
}

// Enabled 是否配置了数据库
func (c *DatabaseConfig) Enabled() bool {
	return c != nil && c.Driver != "" && c.Driver != "memory"
}

// DSN 按驱动生成连接串
func (c *DatabaseConfig) DSN() (string, error) {
	switch c.Driver {
	case "mysql":
		charset := c.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			c.Username, c.Password, c.Host, c.Port, c.Database, charset), nil
	case "postgres", "postgresql":
		sslmode := c.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, sslmode), nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
}

func (c *DatabaseConfig) dialector() (gorm.Dialector, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	if c.Driver == "mysql" {
		return mysql.Open(dsn), nil
	}
	return postgres.Open(dsn), nil
}

// GormStore 基于 gorm 的持久化实现
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open 连接数据库，按配置执行 AutoMigrate
func Open(cfg *DatabaseConfig, log *zap.Logger) (*GormStore, error) {
	log = logger.OrDefault(log)

	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(log.Named("gorm"), gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池参数
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	s := NewGormStore(db, log)
	if cfg.AutoMigrate {
		if err := s.Migrate(); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	log.Info("database connected", zap.String("driver", cfg.Driver), zap.String("host", cfg.Host))
	return s, nil
}

// NewGormStore 使用已有连接
func NewGormStore(db *gorm.DB, log *zap.Logger) *GormStore {
	return &GormStore{db: db, log: logger.OrDefault(log)}
}

// Migrate 建表
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&TestRun{}, &TestStep{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *GormStore) CreateRun(ctx context.Context, run *types.Run) error {
	m, err := toTestRun(run)
	if err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	run.ID = m.ID
	return nil
}

// UpdateRun 只更新可变字段；零值也要写入，所以用 Select
func (s *GormStore) UpdateRun(ctx context.Context, run *types.Run) error {
	m, err := toTestRun(run)
	if err != nil {
		return err
	}
	tx := s.db.WithContext(ctx).Model(&TestRun{ID: run.ID}).
		Select(runUpdateColumns).
		Updates(m)
	if tx.Error != nil {
		return fmt.Errorf("update run %s: %w", run.ID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

var runUpdateColumns = []string{
	"scenario_name", "status",
	"total_steps", "passed_steps", "failed_steps", "skipped_steps",
	"auto_fixed_count", "retry_count",
	"ended_at", "duration_ms",
}

func (s *GormStore) CreateStep(ctx context.Context, step *types.StepRecord) error {
	m, err := toTestStep(step)
	if err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	step.ID = m.ID
	return nil
}

func (s *GormStore) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var m TestRun
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.toRun()
}

func (s *GormStore) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.Run, int64, error) {
	filter.Normalize()

	query := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&TestRun{}).Scopes(filterScope(filter))
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []*TestRun
	if err := query().Order("started_at DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	runs := make([]*types.Run, 0, len(rows))
	for _, m := range rows {
		run, err := m.toRun()
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, nil
}

func filterScope(filter types.RunFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.Project != "" {
			db = db.Where("project = ?", filter.Project)
		}
		if filter.Scenario != "" {
			db = db.Where("scenario = ?", filter.Scenario)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", string(filter.Status))
		}
		return db
	}
}

func (s *GormStore) ListSteps(ctx context.Context, runID string) ([]*types.StepRecord, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var rows []*TestStep
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.StepRecord, 0, len(rows))
	for _, m := range rows {
		rec, err := m.toStepRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats 读取项目下全部运行再在内存中计算分位数
func (s *GormStore) Stats(ctx context.Context, project string) (*types.ProjectStats, error) {
	var rows []*TestRun
	if err := s.db.WithContext(ctx).
		Select("status", "auto_fixed_count", "retry_count", "started_at", "duration_ms").
		Where("project = ?", project).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]*types.Run, 0, len(rows))
	for _, m := range rows {
		run, err := m.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return ComputeStats(project, runs), nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

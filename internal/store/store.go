// Package store 是运行记录和步骤记录的持久化网关。
//
// 引擎只依赖 Gateway 的三个写操作；REST 接口和统计使用 Reader。
// 每次调用都是独立写入，整个运行没有跨调用的事务。
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/test-runner/pkg/types"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Gateway 是引擎使用的写接口
type Gateway interface {
	// CreateRun 插入运行记录，ID 为空时生成 ID 并回填
	CreateRun(ctx context.Context, run *types.Run) error

	// UpdateRun 更新运行的状态、计数和结束时间
	UpdateRun(ctx context.Context, run *types.Run) error

	// CreateStep 插入一条步骤最终结果
	CreateStep(ctx context.Context, step *types.StepRecord) error
}

// Reader 是查询接口
type Reader interface {
	GetRun(ctx context.Context, id string) (*types.Run, error)
	ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.Run, int64, error)
	ListSteps(ctx context.Context, runID string) ([]*types.StepRecord, error)
	Stats(ctx context.Context, project string) (*types.ProjectStats, error)
}

// Store 组合读写接口
type Store interface {
	Gateway
	Reader
	Close() error
}

// New 根据配置选择实现：未配置数据库时使用内存存储
func New(cfg *DatabaseConfig, log *zap.Logger) (Store, error) {
	if !cfg.Enabled() {
		return NewMemoryStore(), nil
	}
	return Open(cfg, log)
}

func newID() string {
	return uuid.NewString()
}

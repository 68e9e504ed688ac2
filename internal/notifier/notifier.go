// Package notifier 发送运行结果通知。
// 通知失败只记录日志，永远不影响运行结果。
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"yqhp/test-runner/pkg/logger"
	"yqhp/test-runner/pkg/types"
)

// Notifier delivers run outcomes to humans.
type Notifier interface {
	// NotifyRun 发送一次运行的汇总
	NotifyRun(ctx context.Context, summary *types.RunSummary) error

	// NotifyFailure 发送运行无法开始（加载失败等）的通知
	NotifyFailure(ctx context.Context, project, scenario string, err error) error
}

// Nop 丢弃所有通知
type Nop struct{}

func (Nop) NotifyRun(context.Context, *types.RunSummary) error { return nil }

func (Nop) NotifyFailure(context.Context, string, string, error) error { return nil }

// dispatchTimeout 异步发送的上限
const dispatchTimeout = 30 * time.Second

// Dispatch 异步发送运行汇总，不阻塞调用方。返回的 channel 在发送结束后关闭。
func Dispatch(ctx context.Context, n Notifier, summary *types.RunSummary, log *zap.Logger) <-chan struct{} {
	return dispatch(ctx, log, func(ctx context.Context) error {
		return n.NotifyRun(ctx, summary)
	}, zap.String("run_id", summary.RunID), zap.String("status", string(summary.Status)))
}

// DispatchFailure 异步发送失败通知
func DispatchFailure(ctx context.Context, n Notifier, project, scenario string, cause error, log *zap.Logger) <-chan struct{} {
	return dispatch(ctx, log, func(ctx context.Context) error {
		return n.NotifyFailure(ctx, project, scenario, cause)
	}, zap.String("project", project), zap.String("scenario", scenario))
}

func dispatch(ctx context.Context, log *zap.Logger, send func(context.Context) error, fields ...zap.Field) <-chan struct{} {
	log = logger.OrDefault(log)
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)

	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error("notifier panic", append(fields, zap.Any("panic", r))...)
			}
		}()
		if err := send(ctx); err != nil {
			log.Warn("send notification failed", append(fields, zap.Error(err))...)
		}
	}()
	return done
}

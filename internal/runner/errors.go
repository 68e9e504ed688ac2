package runner

import "fmt"

// InternalError 表示运行记录创建之后发生的基础设施错误（持久化失败、panic、取消）。
// 此时运行已被标记为 FAILED。
type InternalError struct {
	RunID string
	Step  string
	Cause error
}

func (e *InternalError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("run %s aborted at step %q: %v", e.RunID, e.Step, e.Cause)
	}
	return fmt.Sprintf("run %s aborted: %v", e.RunID, e.Cause)
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

// PanicError 包装步骤循环中恢复的 panic
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

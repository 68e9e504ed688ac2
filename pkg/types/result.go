package types

import "time"

// StepStatus represents the status of a step execution.
type StepStatus string

const (
	StepPassed  StepStatus = "PASSED"
	StepFailed  StepStatus = "FAILED"
	StepSkipped StepStatus = "SKIPPED"
)

// StepResult contains the result of one execution attempt of a step.
// 推荐使用 NewStepResult 创建，执行结束时调用 Finish 设置 EndedAt 和 Duration。
type StepResult struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Status    StepStatus    `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"-"`
	Error     string        `json:"error,omitempty"`
	Response  any           `json:"response,omitempty"`

	// Retries 是该步骤最终结果之前的重试次数，由引擎填写
	Retries int `json:"retries"`
	// AutoFixed 表示该步骤在重试后转为通过
	AutoFixed bool `json:"auto_fixed,omitempty"`
}

// NewStepResult creates a PASSED result whose clock starts now.
func NewStepResult(name, stepType string) *StepResult {
	return &StepResult{
		Name:      name,
		Type:      stepType,
		Status:    StepPassed,
		StartedAt: time.Now(),
	}
}

// Fail marks the result as failed with a single message.
func (r *StepResult) Fail(message string) *StepResult {
	r.Status = StepFailed
	r.Error = message
	return r
}

// Finish sets EndedAt and Duration.
func (r *StepResult) Finish() *StepResult {
	r.EndedAt = time.Now()
	r.Duration = r.EndedAt.Sub(r.StartedAt)
	return r
}

// Passed reports whether the step passed.
func (r *StepResult) Passed() bool {
	return r.Status == StepPassed
}

// DurationMs returns the duration in milliseconds.
func (r *StepResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// NewSkippedResult creates a SKIPPED result for a step that was never executed.
func NewSkippedResult(name, stepType, reason string) *StepResult {
	now := time.Now()
	return &StepResult{
		Name:      name,
		Type:      stepType,
		Status:    StepSkipped,
		StartedAt: now,
		EndedAt:   now,
		Error:     reason,
	}
}

package types

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle status of a run.
type RunStatus string

const (
	RunPending RunStatus = "PENDING"
	RunRunning RunStatus = "RUNNING"
	RunPassed  RunStatus = "PASSED"
	RunFailed  RunStatus = "FAILED"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunPassed || s == RunFailed
}

// TriggerSource identifies what started a run.
type TriggerSource string

const (
	TriggerManual   TriggerSource = "manual"
	TriggerSchedule TriggerSource = "schedule"
	TriggerAPI      TriggerSource = "api"
	TriggerWebhook  TriggerSource = "webhook"
)

// Valid reports whether t is a known trigger source.
func (t TriggerSource) Valid() bool {
	switch t {
	case TriggerManual, TriggerSchedule, TriggerAPI, TriggerWebhook:
		return true
	}
	return false
}

// RetryMode controls which variable bindings a retried step sees.
type RetryMode string

const (
	// RetryLive 重试时使用当前变量（包含失败尝试写入的值）
	RetryLive RetryMode = "live"
	// RetrySnapshot 重试前把变量恢复到该步骤第一次执行前的状态
	RetrySnapshot RetryMode = "snapshot"
)

// Valid reports whether m is a known retry mode.
func (m RetryMode) Valid() bool {
	return m == RetryLive || m == RetrySnapshot
}

// Default run option values.
const (
	DefaultMaxRetry = 3
)

// RunOptions are the inputs of one run.
// Pointer fields distinguish "not set" from the zero value so defaults can apply.
type RunOptions struct {
	Project        string        `json:"project"`
	Scenario       string        `json:"scenario"`
	Environment    Environment   `json:"environment,omitempty"`
	TriggeredBy    TriggerSource `json:"triggered_by,omitempty"`
	AutoFix        *bool         `json:"auto_fix,omitempty"`
	MaxRetry       *int          `json:"max_retry,omitempty"`
	StopOnFailure  bool          `json:"stop_on_failure,omitempty"`
	RecordSkipped  bool          `json:"record_skipped,omitempty"`
	RetryVariables RetryMode     `json:"retry_variables,omitempty"`
}

// AutoFixEnabled returns the effective auto-fix flag.
func (o *RunOptions) AutoFixEnabled() bool {
	return o.AutoFix == nil || *o.AutoFix
}

// MaxRetries returns the effective retry bound.
func (o *RunOptions) MaxRetries() int {
	if o.MaxRetry == nil {
		return DefaultMaxRetry
	}
	return *o.MaxRetry
}

// Validate checks the caller-supplied fields. Empty enum values are allowed
// and replaced with defaults by the engine.
func (o *RunOptions) Validate() error {
	var errs ValidationErrors
	if o.Project == "" {
		errs = append(errs, &ValidationError{Field: "project", Message: "is required"})
	}
	if o.Scenario == "" {
		errs = append(errs, &ValidationError{Field: "scenario", Message: "is required"})
	}
	if o.Environment != "" && !o.Environment.Valid() {
		errs = append(errs, &ValidationError{Field: "environment", Message: fmt.Sprintf("unknown environment %q", o.Environment)})
	}
	if o.TriggeredBy != "" && !o.TriggeredBy.Valid() {
		errs = append(errs, &ValidationError{Field: "triggered_by", Message: fmt.Sprintf("unknown trigger %q", o.TriggeredBy)})
	}
	if o.MaxRetry != nil && *o.MaxRetry < 0 {
		errs = append(errs, &ValidationError{Field: "max_retry", Message: "must not be negative"})
	}
	if o.RetryVariables != "" && !o.RetryVariables.Valid() {
		errs = append(errs, &ValidationError{Field: "retry_variables", Message: fmt.Sprintf("unknown mode %q", o.RetryVariables)})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Run is the persisted aggregate of one scenario execution.
type Run struct {
	ID             string        `json:"id"`
	Project        string        `json:"project"`
	Scenario       string        `json:"scenario"`
	ScenarioName   string        `json:"scenario_name"`
	Environment    Environment   `json:"environment"`
	TriggeredBy    TriggerSource `json:"triggered_by"`
	Status         RunStatus     `json:"status"`
	TotalSteps     int           `json:"total_steps"`
	PassedSteps    int           `json:"passed_steps"`
	FailedSteps    int           `json:"failed_steps"`
	SkippedSteps   int           `json:"skipped_steps"`
	AutoFixedCount int           `json:"auto_fixed_count"`
	RetryCount     int           `json:"retry_count"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	DurationMs     int64         `json:"duration_ms"`
}

// StepRecord is the persisted final result of one step.
type StepRecord struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	Index        int        `json:"index"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Status       StepStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryAttempt int        `json:"retry_attempt"`
	AutoFixed    bool       `json:"auto_fixed"`
	Response     any        `json:"response,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      time.Time  `json:"ended_at"`
	DurationMs   int64      `json:"duration_ms"`
}

// RunResult is returned to the caller of a run.
type RunResult struct {
	TestRunID      string        `json:"test_run_id"`
	Project        string        `json:"project"`
	Scenario       string        `json:"scenario"`
	ScenarioName   string        `json:"scenario_name"`
	Environment    Environment   `json:"environment"`
	TriggeredBy    TriggerSource `json:"triggered_by"`
	Status         RunStatus     `json:"status"`
	TotalSteps     int           `json:"total_steps"`
	PassedSteps    int           `json:"passed_steps"`
	FailedSteps    int           `json:"failed_steps"`
	SkippedSteps   int           `json:"skipped_steps"`
	AutoFixedCount int           `json:"auto_fixed_count"`
	RetryCount     int           `json:"retry_count"`
	DurationMs     int64         `json:"duration_ms"`
	Steps          []*StepResult `json:"steps"`
}

// Passed reports whether the run passed.
func (r *RunResult) Passed() bool {
	return r.Status == RunPassed
}

// Summary builds the notification payload for this result.
func (r *RunResult) Summary() *RunSummary {
	s := &RunSummary{
		RunID:          r.TestRunID,
		Project:        r.Project,
		Scenario:       r.Scenario,
		ScenarioName:   r.ScenarioName,
		Environment:    r.Environment,
		TriggeredBy:    r.TriggeredBy,
		Status:         r.Status,
		TotalSteps:     r.TotalSteps,
		PassedSteps:    r.PassedSteps,
		FailedSteps:    r.FailedSteps,
		AutoFixedCount: r.AutoFixedCount,
		RetryCount:     r.RetryCount,
		DurationMs:     r.DurationMs,
	}
	for _, step := range r.Steps {
		if step.Status == StepFailed {
			s.Failures = append(s.Failures, StepFailure{Name: step.Name, Error: step.Error})
		}
	}
	return s
}

// RunSummary is what the notifier delivers.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Project        string        `json:"project"`
	Scenario       string        `json:"scenario"`
	ScenarioName   string        `json:"scenario_name"`
	Environment    Environment   `json:"environment"`
	TriggeredBy    TriggerSource `json:"triggered_by"`
	Status         RunStatus     `json:"status"`
	TotalSteps     int           `json:"total_steps"`
	PassedSteps    int           `json:"passed_steps"`
	FailedSteps    int           `json:"failed_steps"`
	AutoFixedCount int           `json:"auto_fixed_count"`
	RetryCount     int           `json:"retry_count"`
	DurationMs     int64         `json:"duration_ms"`
	Failures       []StepFailure `json:"failures,omitempty"`
}

// StepFailure names a failed step and its message.
type StepFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// RunFilter narrows a run listing.
type RunFilter struct {
	Project  string
	Scenario string
	Status   RunStatus
	Page     int
	PageSize int
}

// Normalize applies paging defaults.
func (f *RunFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 200 {
		f.PageSize = 200
	}
}

// Offset returns the row offset of the current page.
func (f *RunFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// ProjectStats aggregates the runs of a project.
type ProjectStats struct {
	Project        string     `json:"project"`
	TotalRuns      int64      `json:"total_runs"`
	PassedRuns     int64      `json:"passed_runs"`
	FailedRuns     int64      `json:"failed_runs"`
	RunningRuns    int64      `json:"running_runs"`
	PassRate       float64    `json:"pass_rate"`
	AutoFixedCount int64      `json:"auto_fixed_count"`
	RetryCount     int64      `json:"retry_count"`
	AvgDurationMs  int64      `json:"avg_duration_ms"`
	P50DurationMs  int64      `json:"p50_duration_ms"`
	P95DurationMs  int64      `json:"p95_duration_ms"`
	MaxDurationMs  int64      `json:"max_duration_ms"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}

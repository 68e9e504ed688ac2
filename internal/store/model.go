package store

import (
	"time"

	"github.com/jinzhu/copier"

	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

const (
	TableNameTestRun  = "t_test_run"
	TableNameTestStep = "t_test_step"
)

// TestRun 测试运行记录
type TestRun struct {
	ID             string     `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Project        string     `gorm:"column:project;type:varchar(128);not null;index:idx_test_run_project" json:"project"`
	Scenario       string     `gorm:"column:scenario;type:varchar(128);not null" json:"scenario"`
	ScenarioName   string     `gorm:"column:scenario_name;type:varchar(255)" json:"scenario_name"`
	Environment    string     `gorm:"column:environment;type:varchar(32);not null" json:"environment"`
	TriggeredBy    string     `gorm:"column:triggered_by;type:varchar(32);not null" json:"triggered_by"`
	Status         string     `gorm:"column:status;type:varchar(16);not null;index:idx_test_run_status" json:"status"`
	TotalSteps     int        `gorm:"column:total_steps;not null;default:0" json:"total_steps"`
	PassedSteps    int        `gorm:"column:passed_steps;not null;default:0" json:"passed_steps"`
	FailedSteps    int        `gorm:"column:failed_steps;not null;default:0" json:"failed_steps"`
	SkippedSteps   int        `gorm:"column:skipped_steps;not null;default:0" json:"skipped_steps"`
	AutoFixedCount int        `gorm:"column:auto_fixed_count;not null;default:0" json:"auto_fixed_count"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	StartedAt      time.Time  `gorm:"column:started_at;not null;index:idx_test_run_started_at" json:"started_at"`
	EndedAt        *time.Time `gorm:"column:ended_at" json:"ended_at"`
	DurationMs     int64      `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
}

// TableName TestRun's table name
func (*TestRun) TableName() string {
	return TableNameTestRun
}

// TestStep 步骤结果记录
type TestStep struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	RunID        string    `gorm:"column:run_id;type:varchar(36);not null;index:idx_test_step_run_id" json:"run_id"`
	Index        int       `gorm:"column:step_index;not null" json:"index"`
	Name         string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Type         string    `gorm:"column:type;type:varchar(32);not null" json:"type"`
	Status       string    `gorm:"column:status;type:varchar(16);not null" json:"status"`
	ErrorMessage string    `gorm:"column:error_message;type:text" json:"error_message"`
	RetryAttempt int       `gorm:"column:retry_attempt;not null;default:0" json:"retry_attempt"`
	AutoFixed    bool      `gorm:"column:auto_fixed;not null;default:false" json:"auto_fixed"`
	ResponseJSON string    `gorm:"column:response;type:text" json:"response"`
	StartedAt    time.Time `gorm:"column:started_at;not null" json:"started_at"`
	EndedAt      time.Time `gorm:"column:ended_at;not null" json:"ended_at"`
	DurationMs   int64     `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
}

// TableName TestStep's table name
func (*TestStep) TableName() string {
	return TableNameTestStep
}

func toTestRun(run *types.Run) (*TestRun, error) {
	var m TestRun
	if err := copier.Copy(&m, run); err != nil {
		return nil, err
	}
	m.Environment = string(run.Environment)
	m.TriggeredBy = string(run.TriggeredBy)
	m.Status = string(run.Status)
	return &m, nil
}

func (m *TestRun) toRun() (*types.Run, error) {
	var run types.Run
	if err := copier.Copy(&run, m); err != nil {
		return nil, err
	}
	run.Environment = types.Environment(m.Environment)
	run.TriggeredBy = types.TriggerSource(m.TriggeredBy)
	run.Status = types.RunStatus(m.Status)
	return &run, nil
}

func toTestStep(step *types.StepRecord) (*TestStep, error) {
	var m TestStep
	if err := copier.Copy(&m, step); err != nil {
		return nil, err
	}
	m.Status = string(step.Status)
	if step.Response != nil {
		m.ResponseJSON = jsonx.Stringify(step.Response)
	}
	return &m, nil
}

func (m *TestStep) toStepRecord() (*types.StepRecord, error) {
	var rec types.StepRecord
	if err := copier.Copy(&rec, m); err != nil {
		return nil, err
	}
	rec.Status = types.StepStatus(m.Status)
	if m.ResponseJSON != "" {
		if v, ok := jsonx.Decode([]byte(m.ResponseJSON)); ok {
			rec.Response = v
		} else {
			rec.Response = m.ResponseJSON
		}
	}
	return &rec, nil
}

package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"yqhp/test-runner/internal/adapter"
	"yqhp/test-runner/internal/variable"
	"yqhp/test-runner/pkg/types"
)

const (
	internalErrorStepName = "internal error"
	internalErrorStepType = "internal"
)

// Execution is a single run of a scenario.
type Execution struct {
	runner *Runner
	id     string
	opts   types.RunOptions
	state  stateHolder
	log    *zap.Logger

	run    *types.Run
	result *types.RunResult
	vars   *variable.Store
}

// ID returns the run ID this execution persists under.
func (e *Execution) ID() string {
	return e.id
}

// State returns the current phase of the execution.
func (e *Execution) State() State {
	return e.state.get()
}

// Run executes the scenario. Load failures are returned as-is and no run row exists.
// Once the run row is created every exit path leaves it in a terminal status;
// infrastructure failures after that point come back as *InternalError together with
// the partial result.
func (e *Execution) Run(ctx context.Context) (res *types.RunResult, err error) {
	r := e.runner
	opts := e.opts
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = types.TriggerManual
	}
	r.defaults.apply(&opts)
	e.opts = opts

	e.log = r.log.With(zap.String("project", opts.Project), zap.String("scenario", opts.Scenario))

	// 1. 加载场景
	e.state.set(PhaseLoading, 0)
	sc, err := r.loader.Load(ctx, opts.Project, opts.Scenario)
	if err != nil {
		e.state.set(PhaseDone, 0)
		e.log.Error("load scenario failed", zap.Error(err))
		return nil, err
	}

	environment := opts.Environment
	if environment == "" {
		environment = sc.Environment
	}

	// 2. 初始化变量
	e.vars = variable.NewStore()
	e.vars.Seed(sc.Variables)

	env, err := adapter.NewEnv(sc, e.vars, r.adapterCfg, e.log)
	if err != nil {
		e.state.set(PhaseDone, 0)
		return nil, fmt.Errorf("prepare adapters: %w", err)
	}
	adapters := adapter.NewSet(r.registry, env)

	// 3. 创建运行记录
	startedAt := r.now()
	e.run = &types.Run{
		ID:           e.id,
		Project:      opts.Project,
		Scenario:     opts.Scenario,
		ScenarioName: sc.Name,
		Environment:  environment,
		TriggeredBy:  opts.TriggeredBy,
		Status:       types.RunRunning,
		TotalSteps:   len(sc.Steps),
		StartedAt:    startedAt,
	}
	if err := r.gateway.CreateRun(ctx, e.run); err != nil {
		e.state.set(PhaseDone, 0)
		return nil, fmt.Errorf("create run: %w", err)
	}
	e.state.setRunID(e.run.ID)
	e.log = e.log.With(zap.String("run_id", e.run.ID))
	e.result = &types.RunResult{Steps: make([]*types.StepResult, 0, len(sc.Steps))}

	e.log.Info("run started",
		zap.Int("steps", len(sc.Steps)),
		zap.String("environment", string(environment)),
		zap.String("triggered_by", string(opts.TriggeredBy)),
	)

	current := ""
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
		if err != nil {
			e.abort(ctx, current, err)
			res = e.snapshotResult()
			err = &InternalError{RunID: e.run.ID, Step: current, Cause: err}
		}
	}()

	// 4. 顺序执行步骤
	for i := range sc.Steps {
		step := &sc.Steps[i]
		current = step.Name
		e.state.set(PhaseRunning, i)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.executeStep(ctx, adapters, step)
		if err != nil {
			return nil, err
		}

		e.run.RetryCount += result.Retries
		if result.AutoFixed {
			e.run.AutoFixedCount++
		}
		if err := r.gateway.CreateStep(ctx, e.stepRecord(i, result)); err != nil {
			return nil, fmt.Errorf("persist step: %w", err)
		}
		e.result.Steps = append(e.result.Steps, result)

		if result.Passed() {
			e.run.PassedSteps++
		} else {
			e.run.FailedSteps++
		}

		if !result.Passed() && opts.StopOnFailure {
			if err := e.skipRemaining(ctx, sc.Steps, i+1, step.Name); err != nil {
				return nil, err
			}
			break
		}
	}
	current = ""

	// 5-6. 汇总
	e.state.set(PhaseFinalizing, 0)
	e.finish()
	if err := r.gateway.UpdateRun(ctx, e.run); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	e.state.set(PhaseDone, 0)

	e.log.Info("run finished",
		zap.String("status", string(e.run.Status)),
		zap.Int("passed", e.run.PassedSteps),
		zap.Int("failed", e.run.FailedSteps),
		zap.Int("skipped", e.run.SkippedSteps),
		zap.Int("retries", e.run.RetryCount),
		zap.Int("auto_fixed", e.run.AutoFixedCount),
		zap.Int64("duration_ms", e.run.DurationMs),
	)
	return e.snapshotResult(), nil
}

// executeStep 执行一个步骤，失败时按策略重试，返回最终结果
func (e *Execution) executeStep(ctx context.Context, adapters *adapter.Set, step *types.Step) (*types.StepResult, error) {
	a, err := adapters.For(step.Type)
	if err != nil {
		return nil, err
	}

	var snapshot map[string]any
	if e.opts.RetryVariables == types.RetrySnapshot {
		snapshot = e.vars.Snapshot()
	}

	result := invoke(ctx, a, step)
	if result.Passed() || !e.opts.AutoFixEnabled() {
		return result, nil
	}

	maxRetry := e.opts.MaxRetries()
	retries := 0
	for retries < maxRetry {
		e.log.Warn("step failed, retrying",
			zap.String("step", step.Name),
			zap.Int("attempt", retries+1),
			zap.Int("max_retry", maxRetry),
			zap.String("error", result.Error),
		)
		if err := e.runner.sleep(ctx, e.runner.retryDelay); err != nil {
			return nil, err
		}
		retries++
		if snapshot != nil {
			e.vars.Restore(snapshot)
		}
		result = invoke(ctx, a, step)
		if result.Passed() {
			result.AutoFixed = true
			e.log.Info("step auto-fixed", zap.String("step", step.Name), zap.Int("retries", retries))
			break
		}
	}
	result.Retries = retries
	if !result.Passed() {
		e.log.Warn("step failed after retries",
			zap.String("step", step.Name),
			zap.Int("retries", retries),
			zap.String("error", result.Error),
		)
	}
	return result, nil
}

func invoke(ctx context.Context, a adapter.Adapter, step *types.Step) *types.StepResult {
	result := a.ExecuteStep(ctx, step)
	if result == nil {
		result = types.NewStepResult(step.Name, step.Type)
		result.Fail(fmt.Sprintf("adapter %s returned no result", a.Type())).Finish()
	}
	return result
}

// skipRemaining 处理 stop_on_failure 之后未执行的步骤
func (e *Execution) skipRemaining(ctx context.Context, steps []types.Step, from int, failed string) error {
	if from >= len(steps) {
		return nil
	}
	e.run.SkippedSteps = len(steps) - from
	e.log.Info("stop on failure", zap.String("step", failed), zap.Int("skipped", e.run.SkippedSteps))
	if !e.opts.RecordSkipped {
		return nil
	}
	reason := fmt.Sprintf("skipped: step %q failed and stop_on_failure is set", failed)
	for i := from; i < len(steps); i++ {
		skipped := types.NewSkippedResult(steps[i].Name, steps[i].Type, reason)
		if err := e.runner.gateway.CreateStep(ctx, e.stepRecord(i, skipped)); err != nil {
			return fmt.Errorf("persist skipped step: %w", err)
		}
		e.result.Steps = append(e.result.Steps, skipped)
	}
	return nil
}

func (e *Execution) finish() {
	endedAt := e.runner.now()
	e.run.EndedAt = &endedAt
	e.run.DurationMs = endedAt.Sub(e.run.StartedAt).Milliseconds()
	if e.run.FailedSteps == 0 {
		e.run.Status = types.RunPassed
	} else {
		e.run.Status = types.RunFailed
	}
}

// abort 把运行标记为 FAILED 并追加一条 internal error 步骤。
// 使用不可取消的 ctx，保证取消后也能落库。
func (e *Execution) abort(ctx context.Context, step string, cause error) {
	e.state.set(PhaseFinalizing, 0)
	ctx = context.WithoutCancel(ctx)

	e.log.Error("run aborted", zap.String("step", step), zap.Error(cause))

	synthetic := types.NewStepResult(internalErrorStepName, internalErrorStepType)
	synthetic.Fail("internal error: " + cause.Error()).Finish()
	index := len(e.result.Steps)

	if err := e.runner.gateway.CreateStep(ctx, e.stepRecord(index, synthetic)); err != nil {
		e.log.Error("persist internal error step failed", zap.Error(err))
	}
	e.result.Steps = append(e.result.Steps, synthetic)
	e.run.FailedSteps++

	e.finish()
	e.run.Status = types.RunFailed
	if err := e.runner.gateway.UpdateRun(ctx, e.run); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error("finalize aborted run failed", zap.Error(err))
	}
	e.state.set(PhaseDone, 0)
}

func (e *Execution) stepRecord(index int, result *types.StepResult) *types.StepRecord {
	return &types.StepRecord{
		RunID:        e.run.ID,
		Index:        index,
		Name:         result.Name,
		Type:         result.Type,
		Status:       result.Status,
		ErrorMessage: result.Error,
		RetryAttempt: e.run.RetryCount,
		AutoFixed:    result.AutoFixed,
		Response:     result.Response,
		StartedAt:    result.StartedAt,
		EndedAt:      result.EndedAt,
		DurationMs:   result.DurationMs(),
	}
}

func (e *Execution) snapshotResult() *types.RunResult {
	run := e.run
	return &types.RunResult{
		TestRunID:      run.ID,
		Project:        run.Project,
		Scenario:       run.Scenario,
		ScenarioName:   run.ScenarioName,
		Environment:    run.Environment,
		TriggeredBy:    run.TriggeredBy,
		Status:         run.Status,
		TotalSteps:     run.TotalSteps,
		PassedSteps:    run.PassedSteps,
		FailedSteps:    run.FailedSteps,
		SkippedSteps:   run.SkippedSteps,
		AutoFixedCount: run.AutoFixedCount,
		RetryCount:     run.RetryCount,
		DurationMs:     run.DurationMs,
		Steps:          append([]*types.StepResult(nil), e.result.Steps...),
	}
}

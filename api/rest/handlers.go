package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/notifier"
	"yqhp/test-runner/internal/runner"
	"yqhp/test-runner/internal/store"
	"yqhp/test-runner/pkg/types"
)

// RunAccepted POST /api/test/run 的返回数据
type RunAccepted struct {
	Status      types.RunStatus `json:"status"`
	ExecutionID string          `json:"execution_id"`
	Project     string          `json:"project"`
	Scenario    string          `json:"scenario"`
}

// ResultDetail 运行详情
type ResultDetail struct {
	Run   *types.Run          `json:"run"`
	Steps []*types.StepRecord `json:"steps"`
}

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// runTest handles POST /api/test/run
func (s *Server) runTest(c *fiber.Ctx) error {
	var opts types.RunOptions
	if err := c.BodyParser(&opts); err != nil {
		return BadRequest(c, "invalid request body: "+err.Error())
	}
	if err := opts.Validate(); err != nil {
		return BadRequest(c, err.Error())
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = types.TriggerAPI
	}

	// 预加载：场景不存在或解析失败时直接返回，不创建运行记录
	ctx, cancel := requestContext(c)
	defer cancel()
	if _, err := s.loader.Load(ctx, opts.Project, opts.Scenario); err != nil {
		s.log.Warn("scenario preload failed",
			zap.String("project", opts.Project),
			zap.String("scenario", opts.Scenario),
			zap.Error(err),
		)
		return ServerError(c, err.Error())
	}

	exec := s.runner.NewExecution(opts)
	s.active.Store(exec.ID(), exec)
	s.runs.Add(1)
	go s.execute(exec, opts)

	return Accepted(c, RunAccepted{
		Status:      types.RunRunning,
		ExecutionID: exec.ID(),
		Project:     opts.Project,
		Scenario:    opts.Scenario,
	})
}

// execute 在后台执行并发送通知
func (s *Server) execute(exec *runner.Execution, opts types.RunOptions) {
	defer s.runs.Done()
	defer s.active.Delete(exec.ID())

	ctx, cancel := s.runContext()
	defer cancel()

	log := s.log.With(
		zap.String("project", opts.Project),
		zap.String("scenario", opts.Scenario),
		zap.String("run_id", exec.ID()),
	)

	res, err := exec.Run(ctx)
	if res == nil {
		// 运行记录没有创建成功，只能发送失败通知
		log.Error("run failed before start", zap.Error(err))
		notifier.DispatchFailure(ctx, s.notifier, opts.Project, opts.Scenario, err, log)
		return
	}
	if err != nil {
		log.Error("run aborted", zap.Error(err))
	}
	notifier.Dispatch(ctx, s.notifier, res.Summary(), log)
}

// getExecution handles GET /api/test/executions/:id
// 只对正在执行的运行有效，结束后请查询 results
func (s *Server) getExecution(c *fiber.Ctx) error {
	v, ok := s.active.Load(c.Params("id"))
	if !ok {
		return NotFound(c, "execution not running")
	}
	return Success(c, v.(*runner.Execution).State())
}

// listResults handles GET /api/test/results
func (s *Server) listResults(c *fiber.Ctx) error {
	filter := types.RunFilter{
		Project:  c.Query("project"),
		Scenario: c.Query("scenario"),
		Status:   types.RunStatus(c.Query("status")),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 20),
	}
	if filter.Status != "" && !validRunStatus(filter.Status) {
		return BadRequest(c, fmt.Sprintf("unknown status %q", filter.Status))
	}
	filter.Normalize()

	ctx, cancel := requestContext(c)
	defer cancel()
	runs, total, err := s.reader.ListRuns(ctx, filter)
	if err != nil {
		return s.internalError(c, "list runs", err)
	}
	return Page(c, runs, total, filter.Page, filter.PageSize)
}

// getResult handles GET /api/test/results/:id
func (s *Server) getResult(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx, cancel := requestContext(c)
	defer cancel()

	run, err := s.reader.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return NotFound(c, "run not found")
	}
	if err != nil {
		return s.internalError(c, "get run", err)
	}
	steps, err := s.reader.ListSteps(ctx, id)
	if err != nil {
		return s.internalError(c, "list steps", err)
	}
	return Success(c, ResultDetail{Run: run, Steps: steps})
}

// getStats handles GET /api/test/stats/:project
func (s *Server) getStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	stats, err := s.reader.Stats(ctx, c.Params("project"))
	if err != nil {
		return s.internalError(c, "project stats", err)
	}
	return Success(c, stats)
}

// listSchedules handles GET /api/test/schedules
func (s *Server) listSchedules(c *fiber.Ctx) error {
	if s.jobs == nil {
		return Success(c, []any{})
	}
	return Success(c, s.jobs.Jobs())
}

func (s *Server) internalError(c *fiber.Ctx, op string, err error) error {
	s.log.Error(op+" failed", zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		return Error(c, fiber.StatusGatewayTimeout, op+" timed out")
	}
	return ServerError(c, err.Error())
}

func validRunStatus(s types.RunStatus) bool {
	switch s {
	case types.RunPending, types.RunRunning, types.RunPassed, types.RunFailed:
		return true
	}
	return false
}

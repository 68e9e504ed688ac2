package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jinzhu/copier"

	"yqhp/test-runner/pkg/types"
)

// MemoryStore keeps runs and steps in memory. Used by the CLI and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*types.Run
	order []string
	steps map[string][]*types.StepRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*types.Run),
		steps: make(map[string][]*types.StepRecord),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *types.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *types.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("update run %s: %w", run.ID, ErrNotFound)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) CreateStep(ctx context.Context, step *types.StepRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if step.ID == "" {
		step.ID = newID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[step.RunID]; !exists {
		return fmt.Errorf("create step for run %s: %w", step.RunID, ErrNotFound)
	}
	var rec types.StepRecord
	if err := copier.Copy(&rec, step); err != nil {
		return err
	}
	s.steps[step.RunID] = append(s.steps[step.RunID], &rec)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest first.
func (s *MemoryStore) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.Run, int64, error) {
	filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*types.Run
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if filter.Project != "" && run.Project != filter.Project {
			continue
		}
		if filter.Scenario != "" && run.Scenario != filter.Scenario {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		matched = append(matched, run)
	}

	total := int64(len(matched))
	start := filter.Offset()
	if start >= len(matched) {
		return []*types.Run{}, total, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*types.Run, 0, end-start)
	for _, run := range matched[start:end] {
		out = append(out, cloneRun(run))
	}
	return out, total, nil
}

// ListSteps returns the steps of a run ordered by index.
func (s *MemoryStore) ListSteps(ctx context.Context, runID string) ([]*types.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]*types.StepRecord, 0, len(s.steps[runID]))
	for _, rec := range s.steps[runID] {
		c := *rec
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, project string) (*types.ProjectStats, error) {
	s.mu.RLock()
	var runs []*types.Run
	for _, id := range s.order {
		if run := s.runs[id]; run.Project == project {
			runs = append(runs, cloneRun(run))
		}
	}
	s.mu.RUnlock()
	return ComputeStats(project, runs), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRun(run *types.Run) *types.Run {
	c := *run
	if run.EndedAt != nil {
		t := *run.EndedAt
		c.EndedAt = &t
	}
	return &c
}

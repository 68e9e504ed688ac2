package runner

import (
	"fmt"
	"sync"
)

// Phase 运行阶段
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseLoading    Phase = "LOADING"
	PhaseRunning    Phase = "RUNNING"
	PhaseFinalizing Phase = "FINALIZING"
	PhaseDone       Phase = "DONE"
)

// State is a point-in-time view of an execution.
// Step is the index of the step being executed and is only meaningful in PhaseRunning.
type State struct {
	Phase Phase  `json:"phase"`
	Step  int    `json:"step"`
	RunID string `json:"run_id,omitempty"`
}

func (s State) String() string {
	if s.Phase == PhaseRunning {
		return fmt.Sprintf("%s(%d)", s.Phase, s.Step)
	}
	return string(s.Phase)
}

type stateHolder struct {
	mu    sync.RWMutex
	state State
}

func (h *stateHolder) get() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *stateHolder) set(phase Phase, step int) {
	h.mu.Lock()
	h.state.Phase = phase
	h.state.Step = step
	h.mu.Unlock()
}

func (h *stateHolder) setRunID(id string) {
	h.mu.Lock()
	h.state.RunID = id
	h.mu.Unlock()
}

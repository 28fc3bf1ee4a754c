// Package statestore persists and resumes workflow execution state.
// Grounded on pkg/state/state_manager.go (StateBackend interface,
// NewStateBackend(backend, config) factory, one-JSON-file-per-execution
// layout) rather than pkg/state/local.go (a single shared
// corynth.tfstate file for every execution). The per-file approach is
// the closer structural match to a .workflow_state/<name>/run_<n>.json
// layout. Crash-safety (write temp, fsync, rename) is new: neither
// prior implementation has it.
package statestore

import (
	"time"

	"github.com/flowforge/flowforge/internal/context"
)

// Status is the overall run status.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// FailedStep records the step that caused a run to fail.
type FailedStep struct {
	StepName string    `json:"step_name"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// RetryState tracks the attempt count for a step under retry.
type RetryState struct {
	Attempt int `json:"attempt"`
}

// State is the full persisted document for one workflow run.
type State struct {
	WorkflowName   string                        `json:"workflow_name"`
	RunNumber      int                           `json:"run_number"`
	RunID          string                        `json:"run_id"`
	Flow           string                        `json:"flow"`
	Status         Status                        `json:"status"`
	StartTime      time.Time                     `json:"start_time"`
	LastUpdated    time.Time                     `json:"last_updated"`
	CompletedSteps []string                      `json:"completed_steps"`
	StepResults    map[string]context.StepResult `json:"step_results"`
	FailedStep     *FailedStep                   `json:"failed_step"`
	RetryState     map[string]RetryState         `json:"retry_state"`
	Params         map[string]interface{}        `json:"params"`
	// BatchProgress maps a batch step's name to the items already
	// completed (index, item, result/error), for the batch processor's
	// resume semantics: it persists intermediate progress after each
	// chunk so a retry or restart can skip completed indices without
	// re-dispatching them. Kept as its own top-level field rather than
	// nested inside StepResult, which has no room for it without
	// widening every non-batch step's JSON.
	BatchProgress map[string][]BatchProgressItem `json:"batch_progress,omitempty"`
}

// BatchProgressItem is one item's recorded outcome within a batch
// step's resumable progress.
type BatchProgressItem struct {
	Index  int         `json:"index"`
	Item   interface{} `json:"item"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Backend is the pluggable state storage interface: load, save and run
// listing. The Record* helpers below are methods on State.
type Backend interface {
	Load(workflowName string, runNumber int) (*State, error)
	Save(state *State) error
	LatestRunNumber(workflowName string) (int, error)
	ListRuns(workflowName string) ([]int, error)
}

// New creates a backend of the given kind ("local" or "s3"), mirroring
// NewStateBackend(backend, backendConfig) factory.
func New(kind string, cfg map[string]string) (Backend, error) {
	switch kind {
	case "", "local":
		dir := cfg["path"]
		if dir == "" {
			dir = ".workflow_state"
		}
		return NewLocal(dir), nil
	case "s3":
		return NewS3(cfg)
	default:
		return nil, &unsupportedBackendError{kind: kind}
	}
}

type unsupportedBackendError struct{ kind string }

func (e *unsupportedBackendError) Error() string {
	return "unsupported state backend: " + e.kind
}

// RecordCompleted marks a step completed and appends it to
// CompletedSteps if not already present.
func (s *State) RecordCompleted(name string, result context.StepResult) {
	s.StepResults[name] = result
	for _, n := range s.CompletedSteps {
		if n == name {
			return
		}
	}
	s.CompletedSteps = append(s.CompletedSteps, name)
	s.LastUpdated = time.Now()
}

// RecordFailed marks a step failed and records the run-level failure.
func (s *State) RecordFailed(name string, result context.StepResult) {
	s.StepResults[name] = result
	s.FailedStep = &FailedStep{StepName: name, Error: result.Error, FailedAt: time.Now()}
	s.LastUpdated = time.Now()
}

// RecordRetry increments the retry attempt counter for a step.
func (s *State) RecordRetry(name string) {
	rs := s.RetryState[name]
	rs.Attempt++
	s.RetryState[name] = rs
}

// ResetStep clears a step's recorded result and retry state and removes
// it from CompletedSteps. The engine does not call it.
func (s *State) ResetStep(name string) {
	delete(s.StepResults, name)
	delete(s.RetryState, name)
	for i, n := range s.CompletedSteps {
		if n == name {
			s.CompletedSteps = append(s.CompletedSteps[:i], s.CompletedSteps[i+1:]...)
			break
		}
	}
}

// NewState builds a fresh not_started State for a run.
func NewState(workflowName string, runNumber int, flow string, params map[string]interface{}) *State {
	return &State{
		WorkflowName:   workflowName,
		RunNumber:      runNumber,
		Flow:           flow,
		Status:         StatusNotStarted,
		StartTime:      time.Now(),
		LastUpdated:    time.Now(),
		CompletedSteps: []string{},
		StepResults:    map[string]context.StepResult{},
		RetryState:     map[string]RetryState{},
		Params:         params,
	}
}

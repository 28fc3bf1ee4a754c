package statestore

import (
	"os"
	"testing"

	"github.com/flowforge/flowforge/internal/context"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState("deploy", 1, "all", map[string]interface{}{"env": "prod"})
	if s.Status != StatusNotStarted {
		t.Errorf("Status = %v, want %v", s.Status, StatusNotStarted)
	}
	if s.StepResults == nil || s.RetryState == nil {
		t.Error("expected initialized maps")
	}
}

func TestRecordCompletedAppendsOnce(t *testing.T) {
	s := NewState("w", 1, "all", nil)
	sr := context.StepResult{Status: context.StatusCompleted}
	s.RecordCompleted("a", sr)
	s.RecordCompleted("a", sr)
	if len(s.CompletedSteps) != 1 {
		t.Errorf("CompletedSteps = %v, want one entry", s.CompletedSteps)
	}
}

func TestRecordFailedSetsFailedStep(t *testing.T) {
	s := NewState("w", 1, "all", nil)
	s.RecordFailed("a", context.StepResult{Status: context.StatusFailed, Error: "boom"})
	if s.FailedStep == nil || s.FailedStep.StepName != "a" || s.FailedStep.Error != "boom" {
		t.Errorf("FailedStep = %+v", s.FailedStep)
	}
}

func TestRecordRetryIncrementsAttempt(t *testing.T) {
	s := NewState("w", 1, "all", nil)
	s.RecordRetry("a")
	s.RecordRetry("a")
	if s.RetryState["a"].Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", s.RetryState["a"].Attempt)
	}
}

func TestResetStepClearsRecordedState(t *testing.T) {
	s := NewState("w", 1, "all", nil)
	s.RecordCompleted("a", context.StepResult{Status: context.StatusCompleted})
	s.RecordRetry("a")
	s.ResetStep("a")
	if _, ok := s.StepResults["a"]; ok {
		t.Error("expected step result to be cleared")
	}
	if _, ok := s.RetryState["a"]; ok {
		t.Error("expected retry state to be cleared")
	}
	for _, n := range s.CompletedSteps {
		if n == "a" {
			t.Error("expected completed steps to no longer include the reset step")
		}
	}
}

func TestNewLocalBackend(t *testing.T) {
	b, err := New("local", map[string]string{"path": t.TempDir()})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, ok := b.(*Local); !ok {
		t.Errorf("expected a *Local backend, got %T", b)
	}
}

func TestNewUnsupportedBackend(t *testing.T) {
	if _, err := New("carrier-pigeon", nil); err == nil {
		t.Fatal("expected an error for an unsupported backend kind")
	}
}

func TestLocalSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	s := NewState("deploy", 1, "all", map[string]interface{}{"env": "prod"})
	s.RecordCompleted("build", context.StepResult{Status: context.StatusCompleted, Result: map[string]interface{}{"ok": true}})

	if err := l.Save(s); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	loaded, err := l.Load("deploy", 1)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.WorkflowName != "deploy" || loaded.RunNumber != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.StepResults["build"].Status != context.StatusCompleted {
		t.Errorf("expected step result to round-trip, got %+v", loaded.StepResults["build"])
	}
}

func TestLocalLoadMissingRunReturnsNotExist(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, err := l.Load("ghost", 1)
	if !os.IsNotExist(err) {
		t.Errorf("expected an os.IsNotExist error, got %v", err)
	}
}

func TestLocalListRunsAndLatestRunNumber(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	for i := 1; i <= 3; i++ {
		if err := l.Save(NewState("deploy", i, "all", nil)); err != nil {
			t.Fatalf("Save(%d) error: %v", i, err)
		}
	}
	runs, err := l.ListRuns("deploy")
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 3 || runs[0] != 1 || runs[2] != 3 {
		t.Errorf("runs = %v", runs)
	}
	latest, err := l.LatestRunNumber("deploy")
	if err != nil {
		t.Fatalf("LatestRunNumber error: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest = %d, want 3", latest)
	}
}

func TestLocalLatestRunNumberNoRunsIsZero(t *testing.T) {
	l := NewLocal(t.TempDir())
	latest, err := l.LatestRunNumber("never-run")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest != 0 {
		t.Errorf("latest = %d, want 0", latest)
	}
}

func TestLocalSanitizesWorkflowNameForDirectory(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	s := NewState("deploy/staging", 1, "all", nil)
	if err := l.Save(s); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := os.Stat(l.workflowDir("deploy/staging")); err != nil {
		t.Errorf("expected the sanitized directory to exist: %v", err)
	}
}

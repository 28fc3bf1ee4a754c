package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	fctx "github.com/flowforge/flowforge/internal/context"
	"github.com/flowforge/flowforge/internal/task"
)

func newConfig(t *testing.T, workspace string, inputs map[string]interface{}) *task.Config {
	t.Helper()
	ctx := fctx.New(map[string]interface{}{}, map[string]string{}, fctx.Globals{})
	return task.NewConfig("step", "test", map[string]interface{}{"inputs": inputs}, workspace, ctx)
}

func TestRegisterAddsAllFourHandlers(t *testing.T) {
	r := task.NewRegistry()
	Register(r)
	for _, name := range []string{"echo", "shell", "write_file", "read_file"} {
		if _, ok := r.Lookup(name); !ok {
			t.Errorf("expected %q to be registered", name)
		}
	}
}

func TestEchoHandlerReturnsRenderedMessage(t *testing.T) {
	cfg := newConfig(t, t.TempDir(), map[string]interface{}{"msg": "hello"})
	out, err := echoHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Errorf("got %v", out)
	}
}

func TestShellHandlerReportsExitCodeOnFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := newConfig(t, dir, map[string]interface{}{"command": "exit 3"})
	out, err := shellHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("shellHandler should not return a Go error for a nonzero exit: %v", err)
	}
	res := out.(task.Result)
	if res["success"] != false || res["exit_code"] != 3 {
		t.Errorf("got %+v", res)
	}
}

func TestShellHandlerCapturesStdout(t *testing.T) {
	dir := t.TempDir()
	cfg := newConfig(t, dir, map[string]interface{}{"command": "echo hi"})
	out, err := shellHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := out.(task.Result)
	if res["stdout"] != "hi\n" || res["success"] != true {
		t.Errorf("got %+v", res)
	}
}

func TestShellHandlerHonorsTimeoutInput(t *testing.T) {
	dir := t.TempDir()
	cfg := newConfig(t, dir, map[string]interface{}{"command": "sleep 5", "timeout": 0.1})
	start := time.Now()
	out, err := shellHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("shellHandler should not return a Go error on timeout: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("expected the command to be killed around the 0.1s timeout, took %s", time.Since(start))
	}
	res := out.(task.Result)
	if res["timed_out"] != true || res["success"] != false {
		t.Errorf("got %+v", res)
	}
}

func TestShellHandlerRequiresCommand(t *testing.T) {
	cfg := newConfig(t, t.TempDir(), map[string]interface{}{})
	if _, err := shellHandler(context.Background(), cfg); err == nil {
		t.Error("expected an error for a missing inputs.command")
	}
}

func TestWriteFileThenReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeCfg := newConfig(t, dir, map[string]interface{}{"path": "out.txt", "content": "payload"})
	if _, err := writeFileHandler(context.Background(), writeCfg); err != nil {
		t.Fatalf("writeFileHandler error: %v", err)
	}

	readCfg := newConfig(t, dir, map[string]interface{}{"path": "out.txt"})
	out, err := readFileHandler(context.Background(), readCfg)
	if err != nil {
		t.Fatalf("readFileHandler error: %v", err)
	}
	res := out.(task.Result)
	if res["content"] != "payload" || res["exists"] != true {
		t.Errorf("got %+v", res)
	}
}

func TestWriteFileCreatesParentDirsWhenRequested(t *testing.T) {
	dir := t.TempDir()
	cfg := newConfig(t, dir, map[string]interface{}{
		"path": "nested/deep/out.txt", "content": "x", "create_dirs": true,
	})
	if _, err := writeFileHandler(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "deep", "out.txt")); err != nil {
		t.Errorf("expected the file to exist: %v", err)
	}
}

func TestReadFileMissingReportsNotExists(t *testing.T) {
	cfg := newConfig(t, t.TempDir(), map[string]interface{}{"path": "ghost.txt"})
	out, err := readFileHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := out.(task.Result)
	if res["exists"] != false {
		t.Errorf("expected exists=false, got %+v", res)
	}
}

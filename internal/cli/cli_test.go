package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestParseKeyValueArgsCoercesTypes(t *testing.T) {
	got, err := parseKeyValueArgs([]string{"env=staging", "retries=3", "ratio=0.5", "enabled=true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["env"] != "staging" {
		t.Errorf("env = %#v", got["env"])
	}
	if got["retries"] != int64(3) {
		t.Errorf("retries = %#v", got["retries"])
	}
	if got["ratio"] != 0.5 {
		t.Errorf("ratio = %#v", got["ratio"])
	}
	if got["enabled"] != true {
		t.Errorf("enabled = %#v", got["enabled"])
	}
}

func TestParseKeyValueArgsRejectsMissingEquals(t *testing.T) {
	if _, err := parseKeyValueArgs([]string{"no-equals-sign"}); err == nil {
		t.Fatal("expected an error for an argument with no '='")
	}
}

func TestValidateCommandReportsInvalidWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("steps: []\n"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	cmd := newValidateCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for a workflow with no name and no steps")
	}
}

func TestValidateCommandAcceptsValidWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "good.yaml")
	content := "name: ok\nsteps:\n  - name: a\n    task: echo\n    inputs:\n      msg: hi\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	cmd := newValidateCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() == 0 {
		t.Error("expected validate to print a confirmation message")
	}
}

func TestInitCommandScaffoldsStarterWorkflow(t *testing.T) {
	dir := t.TempDir()
	cmd := newInitCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dir", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "workflow.yaml")); err != nil {
		t.Errorf("expected workflow.yaml to be written: %v", err)
	}
}

func TestInitCommandRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "workflow.yaml"), []byte("existing"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	cmd := newInitCommand()
	cmd.SetArgs([]string{"--dir", dir})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when workflow.yaml already exists")
	}
}

func TestNewRootCommandRegistersAllSubcommands(t *testing.T) {
	root := NewRootCommand()
	want := []string{"run", "list", "validate", "workspace", "init", "version"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a %q subcommand to be registered", name)
		}
	}
}

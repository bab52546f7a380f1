package pyexec

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcweave/skillkernel/internal/kernel"
	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

func requirePython(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return bin
}

func writeSkillScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "commands.py")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestExecuteReturnsFunctionResult(t *testing.T) {
	python := requirePython(t)
	source := writeSkillScript(t, `
def greet(name):
    return {"message": "hello " + name}
`)

	e := New(python)
	cmd := pkgkernel.Command{SkillName: "demo", FunctionName: "greet", SourceFile: source}
	args, _ := json.Marshal(map[string]any{"name": "world"})

	result, err := e.Execute(context.Background(), cmd, args, kernel.NewHeartbeat())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	payload, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", result)
	}
	if payload["message"] != "hello world" {
		t.Fatalf("unexpected result: %v", payload)
	}
}

func TestExecuteSurfacesPythonExceptionAsError(t *testing.T) {
	python := requirePython(t)
	source := writeSkillScript(t, `
def fail():
    raise ValueError("boom")
`)

	e := New(python)
	cmd := pkgkernel.Command{SkillName: "demo", FunctionName: "fail", SourceFile: source}

	_, err := e.Execute(context.Background(), cmd, json.RawMessage("{}"), kernel.NewHeartbeat())
	if err == nil {
		t.Fatal("expected error from failing python function")
	}
}

func TestExecuteRespectsContextTimeout(t *testing.T) {
	python := requirePython(t)
	source := writeSkillScript(t, `
import time

def slow():
    time.sleep(5)
    return {"ok": True}
`)

	e := New(python)
	cmd := pkgkernel.Command{SkillName: "demo", FunctionName: "slow", SourceFile: source}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, cmd, json.RawMessage("{}"), kernel.NewHeartbeat())
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

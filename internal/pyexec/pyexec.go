// Package pyexec implements the C6 Executor contract (spec.md §4.6) for
// skill commands: each command is a @skill_command-tagged Python function
// inside a skill's scripts/ tree, invoked as a subprocess per call.
//
// Grounded on the teacher's internal/tools/exec/manager.go for the
// os/exec plumbing (context-scoped command, captured/limited
// stdout+stderr, exit-code classification) and on internal/runtime/py's
// driver-script convention for how a single function is addressed and
// invoked inside an otherwise arbitrary Python file.
package pyexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/arcweave/skillkernel/internal/kernel"
	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

// maxCapturedOutput bounds how much of a misbehaving command's stderr is
// kept for the error message; the teacher's limitedBuffer uses the same
// cap for exec tool output.
const maxCapturedOutput = 64_000

// driverScript is executed with `python3 -c`. It loads the command's
// source file as a standalone module (so relative imports inside a
// skill's scripts/ tree still resolve against that file's directory),
// calls the named function with the JSON arguments decoded as keyword
// arguments, and prints the function's return value as the only line of
// JSON on stdout.
const driverScript = `
import importlib.util, json, sys

source_file, function_name, args_json = sys.argv[1], sys.argv[2], sys.argv[3]
spec = importlib.util.spec_from_file_location("skill_command_module", source_file)
module = importlib.util.module_from_spec(spec)
spec.loader.exec_module(module)

func = getattr(module, function_name)
kwargs = json.loads(args_json)
result = func(**kwargs)
print(json.dumps(result))
`

// PythonExecutor runs skill commands by shelling out to a Python
// interpreter. It implements kernel.Executor.
type PythonExecutor struct {
	pythonBin string
}

var _ kernel.Executor = (*PythonExecutor)(nil)

// New builds a PythonExecutor. pythonBin defaults to "python3".
func New(pythonBin string) *PythonExecutor {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &PythonExecutor{pythonBin: pythonBin}
}

// Execute runs cmd's Python function as a subprocess, with args passed
// through as a JSON object decoded into the function's keyword
// arguments. ctx is already scoped to the dispatcher's total-timeout
// deadline; hb is touched once the subprocess exits so a slow-to-spawn
// interpreter doesn't itself starve the idle timeout.
func (e *PythonExecutor) Execute(ctx context.Context, cmd pkgkernel.Command, args json.RawMessage, hb *kernel.Heartbeat) (any, error) {
	argsJSON := args
	if len(argsJSON) == 0 {
		argsJSON = json.RawMessage("{}")
	}

	execCmd := exec.CommandContext(ctx, e.pythonBin, "-c", driverScript, cmd.SourceFile, cmd.FunctionName, string(argsJSON))

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = limitedWriter(&stderr, maxCapturedOutput)

	err := execCmd.Run()
	hb.Touch()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", cmd.CanonicalName(), err, stderr.String())
	}

	var result any
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", cmd.CanonicalName(), err)
	}
	return result, nil
}

func limitedWriter(buf *bytes.Buffer, max int) *capWriter {
	return &capWriter{buf: buf, max: max}
}

// capWriter caps how many bytes accumulate in buf, silently discarding the
// rest rather than growing unbounded on a runaway command.
type capWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if w.buf.Len() >= w.max {
		return len(p), nil
	}
	remaining := w.max - w.buf.Len()
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ojdaemon/ojd/internal/oj"
)

func TestExecuteCapturesStdoutAndExitCode(t *testing.T) {
	e := NewShellExecutor()
	eff := &oj.ShellEffect{
		Command: "echo hello",
		OutputSpecs: map[string]string{
			"greeting": "stdout",
			"code":     "exit_code",
		},
	}

	res, err := e.Execute(context.Background(), eff)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if res.Outputs["greeting"] != "hello" {
		t.Errorf("expected greeting=hello, got %q", res.Outputs["greeting"])
	}
	if res.Outputs["code"] != "0" {
		t.Errorf("expected code=0, got %q", res.Outputs["code"])
	}
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	e := NewShellExecutor()
	eff := &oj.ShellEffect{Command: "exit 7"}

	res, err := e.Execute(context.Background(), eff)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 7 {
		t.Errorf("expected exit code 7, got %d", res.ExitCode)
	}
}

func TestExecuteReadsFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	e := NewShellExecutor()
	eff := &oj.ShellEffect{
		Command: "printf 'contents' > " + path,
		OutputSpecs: map[string]string{
			"result": "file:" + path,
		},
	}

	res, err := e.Execute(context.Background(), eff)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outputs["result"] != "contents" {
		t.Errorf("expected contents, got %q", res.Outputs["result"])
	}
}

func TestExecuteUsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	e := NewShellExecutor()
	eff := &oj.ShellEffect{
		Command: "pwd",
		Dir:     dir,
		OutputSpecs: map[string]string{
			"cwd": "stdout",
		},
	}

	res, err := e.Execute(context.Background(), eff)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got, err := filepath.EvalSymlinks(res.Outputs["cwd"]); err == nil {
		want, _ := filepath.EvalSymlinks(dir)
		if got != want {
			t.Errorf("expected cwd %q, got %q", want, got)
		}
	}
}

func TestExecutePassesEnvironment(t *testing.T) {
	e := NewShellExecutor()
	eff := &oj.ShellEffect{
		Command: "echo $FOO",
		Env:     map[string]string{"FOO": "bar"},
		OutputSpecs: map[string]string{
			"foo": "stdout",
		},
	}

	res, err := e.Execute(context.Background(), eff)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outputs["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %q", res.Outputs["foo"])
	}
}

func TestExecuteCancellationKillsProcessGroup(t *testing.T) {
	e := NewShellExecutor()
	eff := &oj.ShellEffect{Command: "sleep 30"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := e.Execute(ctx, eff)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit code -1 on cancellation, got %d", res.ExitCode)
	}
	if elapsed > killGrace+2*time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	e := NewShellExecutor()
	if _, err := e.Execute(context.Background(), &oj.ShellEffect{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

package shell

import (
	"context"
	"testing"
)

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), "echo hi", "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "hi" {
		t.Errorf("expected stdout hi, got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRunReturnsNonZeroExitWithoutError(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), "exit 3", "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	r := New()
	if _, err := r.Run(context.Background(), "", "", nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRunPassesEnvironment(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), "echo $FOO", "", map[string]string{"FOO": "bar"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "bar" {
		t.Errorf("expected stdout bar, got %q", res.Stdout)
	}
}

// Package session implements SessionAdapter: spawning, addressing, and
// tearing down tmux sessions that host a running process (an agent
// binary, most often). It knows nothing about agent lifecycles or
// prompts — that belongs to internal/adapter/agent, which is a thin
// layer on top of this one.
package session

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ojdaemon/ojd/internal/oj"
)

const sessionPrefix = "ojd-"

// OpenSpec describes a tmux session to create.
type OpenSpec struct {
	ID      oj.SessionID
	Command string
	Dir     string
	Env     map[string]string
	Width   int
	Height  int
}

// Adapter manages tmux sessions by name, one per oj.SessionID.
type Adapter struct {
	mu sync.Mutex

	// ExitPollInterval is how often Close re-checks whether a session
	// has exited on its own during a graceful stop. Defaults to 200ms.
	ExitPollInterval time.Duration
}

// New returns a tmux-backed session Adapter.
func New() *Adapter {
	return &Adapter{}
}

func sessionName(id oj.SessionID) string {
	return sessionPrefix + string(id)
}

// Open creates a new detached tmux session running spec.Command.
func (a *Adapter) Open(ctx context.Context, spec OpenSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("session id is required")
	}
	name := sessionName(spec.ID)

	if a.exists(name) {
		return fmt.Errorf("tmux session %s already exists", name)
	}

	width, height := spec.Width, spec.Height
	if width == 0 {
		width = 200
	}
	if height == 0 {
		height = 50
	}

	args := []string{
		"new-session",
		"-d",
		"-s", name,
		"-x", fmt.Sprintf("%d", width),
		"-y", fmt.Sprintf("%d", height),
	}
	if spec.Dir != "" {
		args = append(args, "-c", spec.Dir)
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, spec.Command)

	cmd := exec.CommandContext(ctx, "tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session: %w: %s", err, out)
	}
	return nil
}

// Send writes input into the session followed by Enter, matching how a
// human would type a line at the prompt.
func (a *Adapter) Send(ctx context.Context, id oj.SessionID, input string) error {
	name := sessionName(id)
	if !a.exists(name) {
		return fmt.Errorf("tmux session %s not found", name)
	}
	return a.sendKeys(ctx, name, input)
}

func (a *Adapter) sendKeys(ctx context.Context, name, keys string) error {
	cmd := exec.CommandContext(ctx, "tmux", "send-keys", "-t", name, keys, "Enter")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux send-keys: %w: %s", err, out)
	}
	return nil
}

// Close kills the session. If force is false, it first sends Ctrl-C
// and gives the process up to gracePeriod to exit on its own.
func (a *Adapter) Close(ctx context.Context, id oj.SessionID, force bool, gracePeriod time.Duration) error {
	name := sessionName(id)
	if !a.exists(name) {
		return nil
	}

	if !force {
		_ = a.sendKeys(ctx, name, "C-c")
		if gracePeriod == 0 {
			gracePeriod = 3 * time.Second
		}
		poll := a.ExitPollInterval
		if poll <= 0 {
			poll = 200 * time.Millisecond
		}
		deadline := time.Now().Add(gracePeriod)
		for time.Now().Before(deadline) {
			if !a.exists(name) {
				return nil
			}
			time.Sleep(poll)
		}
	}

	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", name)
	out, err := cmd.CombinedOutput()
	if err != nil && !strings.Contains(string(out), "session not found") {
		return fmt.Errorf("tmux kill-session: %w: %s", err, out)
	}
	return nil
}

// Peek captures the session's current visible pane content, the same
// view a human attaching with `tmux attach` would see. withColor keeps
// tmux's ANSI escape sequences in the capture; otherwise they're
// stripped so the output is plain text.
func (a *Adapter) Peek(ctx context.Context, id oj.SessionID, withColor bool) (string, error) {
	name := sessionName(id)
	if !a.exists(name) {
		return "", fmt.Errorf("tmux session %s not found", name)
	}

	args := []string{"capture-pane", "-p", "-t", name}
	if withColor {
		args = append(args, "-e")
	}
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return stdout.String(), nil
}

// IsAlive reports whether id's tmux session currently exists.
func (a *Adapter) IsAlive(id oj.SessionID) bool {
	return a.exists(sessionName(id))
}

func (a *Adapter) exists(name string) bool {
	cmd := exec.Command("tmux", "has-session", "-t", name)
	return cmd.Run() == nil
}

// List returns the oj.SessionID of every live ojd-managed tmux session,
// used during daemon startup reconciliation to detect orphans and
// confirm which recorded sessions are still attached to a real process.
func (a *Adapter) List(ctx context.Context) ([]oj.SessionID, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name}")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}

	var ids []oj.SessionID
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, sessionPrefix) {
			ids = append(ids, oj.SessionID(strings.TrimPrefix(line, sessionPrefix)))
		}
	}
	return ids, nil
}

// Package agent implements AgentAdapter: spawning a coding agent binary
// inside a tmux session, sending it messages, and reconnecting to a
// previous run via its resume-session flag. It is a thin layer over
// internal/adapter/session — all process-group and liveness mechanics
// live there.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ojdaemon/ojd/internal/adapter/session"
	"github.com/ojdaemon/ojd/internal/oj"
)

// SessionOpener is the subset of session.Adapter the Adapter needs,
// narrowed so tests can supply a fake.
type SessionOpener interface {
	Open(ctx context.Context, spec session.OpenSpec) error
	Send(ctx context.Context, id oj.SessionID, input string) error
	Close(ctx context.Context, id oj.SessionID, force bool, gracePeriod time.Duration) error
	IsAlive(id oj.SessionID) bool
}

// Adapter spawns and drives coding-agent processes.
type Adapter struct {
	sessions SessionOpener

	// Binary is the default agent executable, overridable per spawn.
	Binary string

	// ResumeFlag is the flag used to resume a prior run by session id,
	// e.g. "--resume".
	ResumeFlag string

	// GracePeriod bounds how long a graceful stop waits before the
	// session adapter escalates to a forced kill.
	GracePeriod time.Duration

	// LogDir is the root directory holding each agent's copied log
	// stream (<LogDir>/<agent_id>/session.jsonl). Empty disables the
	// filesystem-event log watcher entirely.
	LogDir string

	logs *logWatcher
}

// New returns an Adapter backed by sessions.
func New(sessions SessionOpener) *Adapter {
	return &Adapter{
		sessions:    sessions,
		Binary:      "claude",
		ResumeFlag:  "--resume",
		GracePeriod: 3 * time.Second,
		logs:        newLogWatcher(),
	}
}

// WatchLog (re)starts the filesystem-event watch on agentID's
// session.jsonl, returning a channel that pulses on every write. It is
// a no-op returning a nil channel when LogDir is unset. Safe to call
// again for an agent that's already being watched (on reconciliation
// reattach, say) — the prior watch is replaced, not doubled up.
func (a *Adapter) WatchLog(ctx context.Context, agentID oj.AgentID) (<-chan time.Time, error) {
	if a.LogDir == "" {
		return nil, nil
	}
	return a.logs.watch(ctx, agentID, filepath.Join(a.LogDir, string(agentID)))
}

// StopWatchingLog tears down agentID's log watcher, if any.
func (a *Adapter) StopWatchingLog(agentID oj.AgentID) {
	a.logs.stop(agentID)
}

// Spawn starts eff.Binary (or the adapter default) in a new tmux
// session named after sid, resuming a prior agent session when
// eff.ResumeSessionID is set.
func (a *Adapter) Spawn(ctx context.Context, sid oj.SessionID, eff *oj.SpawnAgentEffect) error {
	if eff == nil {
		return fmt.Errorf("spawn agent effect is nil")
	}

	binary := eff.Binary
	if binary == "" {
		binary = a.Binary
	}

	args := []string{"--dangerously-skip-permissions"}
	if eff.ResumeSessionID != nil && *eff.ResumeSessionID != "" {
		args = append(args, a.ResumeFlag, string(*eff.ResumeSessionID))
	}
	command := binary + " " + strings.Join(args, " ")

	if err := a.sessions.Open(ctx, session.OpenSpec{
		ID:      sid,
		Command: command,
		Dir:     eff.Dir,
		Env:     eff.Env,
	}); err != nil {
		return fmt.Errorf("opening agent session: %w", err)
	}

	// Give the process a moment to reach its prompt before the initial
	// message is typed at it.
	time.Sleep(500 * time.Millisecond)

	if eff.PromptFile != "" {
		if err := a.sessions.Send(ctx, sid, "cat "+eff.PromptFile+" | "+binary); err != nil {
			return fmt.Errorf("sending prompt file: %w", err)
		}
	}

	// Best-effort: a log-watch failure shouldn't fail the spawn itself,
	// the liveness timer still covers detection on its own schedule.
	a.WatchLog(ctx, eff.ID)

	return nil
}

// Send types message into the agent's session.
func (a *Adapter) Send(ctx context.Context, sid oj.SessionID, message string) error {
	return a.sessions.Send(ctx, sid, message)
}

// Stop tears down the agent's session, gracefully unless force is set.
func (a *Adapter) Stop(ctx context.Context, sid oj.SessionID, force bool) error {
	return a.sessions.Close(ctx, sid, force, a.GracePeriod)
}

// IsAlive reports whether the agent's backing session still exists.
func (a *Adapter) IsAlive(sid oj.SessionID) bool {
	return a.sessions.IsAlive(sid)
}

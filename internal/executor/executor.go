// Package executor translates the runtime's closed Effect enum into
// real I/O: subprocess execution, tmux session control, agent spawning,
// and best-effort notifications. Each Dispatch call is meant to be run
// from its own goroutine by the caller (the runtime owns supervising
// those goroutines and feeding the resulting Event back through the
// write-ahead log) — nothing here talks to the event bus directly.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ojdaemon/ojd/internal/adapter/notify"
	"github.com/ojdaemon/ojd/internal/adapter/session"
	"github.com/ojdaemon/ojd/internal/adapter/shell"
	"github.com/ojdaemon/ojd/internal/oj"
)

// AgentSpawner is the subset of adapter/agent.Adapter Dispatch needs.
type AgentSpawner interface {
	Spawn(ctx context.Context, sid oj.SessionID, eff *oj.SpawnAgentEffect) error
	Send(ctx context.Context, sid oj.SessionID, message string) error
	IsAlive(sid oj.SessionID) bool
	StopWatchingLog(id oj.AgentID)
}

// SessionController is the subset of adapter/session.Adapter Dispatch needs.
type SessionController interface {
	Send(ctx context.Context, id oj.SessionID, input string) error
	Close(ctx context.Context, id oj.SessionID, force bool, gracePeriod time.Duration) error
}

// Timers receives SetTimer/CancelTimer effects, implemented by the
// scheduler package.
type Timers interface {
	SetTimer(eff *oj.SetTimerEffect)
	CancelTimer(eff *oj.CancelTimerEffect)
}

// AgentSessionLookup resolves the tmux session backing an agent, since
// SendToAgent addresses an agent by AgentID rather than SessionID.
type AgentSessionLookup func(id oj.AgentID) (oj.SessionID, bool)

// livenessInterval is how far out each re-armed liveness timer fires,
// used when the Dispatcher's own LivenessInterval is unset.
const livenessInterval = 15 * time.Second

// Dispatcher executes effects against the concrete adapters.
type Dispatcher struct {
	Shell    *ShellExecutor
	Agents   AgentSpawner
	Sessions SessionController
	Notify   *notify.Adapter
	Runner   *shell.Runner
	Timers   Timers

	ResolveAgentSession AgentSessionLookup

	// LivenessInterval overrides livenessInterval when non-zero.
	LivenessInterval time.Duration
}

func (d *Dispatcher) livenessInterval() time.Duration {
	if d.LivenessInterval > 0 {
		return d.LivenessInterval
	}
	return livenessInterval
}

// New returns a Dispatcher wired to concrete adapters. Pass nil for any
// field not yet available (e.g. Timers before the scheduler exists);
// Dispatch returns an error for an effect kind whose adapter is nil.
func New(shellExec *ShellExecutor, agents AgentSpawner, sessions SessionController, notifier *notify.Adapter, runner *shell.Runner, timers Timers, resolveAgentSession AgentSessionLookup) *Dispatcher {
	return &Dispatcher{
		Shell:               shellExec,
		Agents:              agents,
		Sessions:            sessions,
		Notify:              notifier,
		Runner:              runner,
		Timers:              timers,
		ResolveAgentSession: resolveAgentSession,
	}
}

// Dispatch executes one effect and, where the effect produces a
// follow-up event (ShellExited, AgentSpawned, ...), returns it so the
// caller can submit it back through the write-ahead log. Emit returns
// the event it wraps. Effects with no follow-up event (Notify,
// SetTimer, CancelTimer) return a nil event on success.
func (d *Dispatcher) Dispatch(ctx context.Context, eff oj.Effect) (*oj.Event, error) {
	switch eff.Kind {
	case oj.EffectEmit:
		return eff.Emit, nil

	case oj.EffectSetTimer:
		if d.Timers == nil {
			return nil, fmt.Errorf("executor: no timer sink wired")
		}
		d.Timers.SetTimer(eff.SetTimer)
		return nil, nil

	case oj.EffectCancelTimer:
		if d.Timers == nil {
			return nil, fmt.Errorf("executor: no timer sink wired")
		}
		d.Timers.CancelTimer(eff.CancelTimer)
		return nil, nil

	case oj.EffectShell:
		return d.dispatchShell(ctx, eff.Shell)

	case oj.EffectSpawnAgent:
		return d.dispatchSpawnAgent(ctx, eff.SpawnAgent)

	case oj.EffectSendToAgent:
		return nil, d.dispatchSendToAgent(ctx, eff.SendToAgent)

	case oj.EffectSendToSession:
		if d.Sessions == nil {
			return nil, fmt.Errorf("executor: no session controller wired")
		}
		return nil, d.Sessions.Send(ctx, eff.SendToSession.ID, eff.SendToSession.Input)

	case oj.EffectKillSession:
		if d.Sessions == nil {
			return nil, fmt.Errorf("executor: no session controller wired")
		}
		return &oj.Event{
			Kind:          oj.EventSessionClosed,
			SessionClosed: &oj.SessionRefPayload{ID: eff.KillSession.ID},
		}, d.Sessions.Close(ctx, eff.KillSession.ID, eff.KillSession.Force, 0)

	case oj.EffectNotify:
		if d.Notify == nil {
			return nil, fmt.Errorf("executor: no notify adapter wired")
		}
		return nil, d.Notify.Send(ctx, eff.Notify.Title, eff.Notify.Body)

	case oj.EffectTakeQueueItem:
		return d.dispatchTakeQueueItem(ctx, eff.TakeQueueItem)

	case oj.EffectCheckLiveness:
		return d.dispatchCheckLiveness(eff.CheckLiveness)

	default:
		return nil, fmt.Errorf("executor: unhandled effect kind %q", eff.Kind)
	}
}

func (d *Dispatcher) dispatchShell(ctx context.Context, eff *oj.ShellEffect) (*oj.Event, error) {
	if d.Shell == nil {
		return nil, fmt.Errorf("executor: no shell executor wired")
	}
	res, err := d.Shell.Execute(ctx, eff)
	if res == nil {
		return nil, err
	}
	return &oj.Event{
		Kind: oj.EventShellExited,
		ShellExited: &oj.ShellExitedPayload{
			JobID:    eff.JobID,
			StepName: eff.StepName,
			ExitCode: res.ExitCode,
			Outputs:  res.Outputs,
			IsGate:   eff.IsGate,
		},
	}, err
}

func (d *Dispatcher) dispatchSpawnAgent(ctx context.Context, eff *oj.SpawnAgentEffect) (*oj.Event, error) {
	if d.Agents == nil {
		return nil, fmt.Errorf("executor: no agent adapter wired")
	}

	sid := oj.NewSessionID()
	if eff.ResumeSessionID != nil {
		sid = *eff.ResumeSessionID
	}

	if err := d.Agents.Spawn(ctx, sid, eff); err != nil {
		return nil, fmt.Errorf("spawning agent %s: %w", eff.ID, err)
	}

	return &oj.Event{
		Kind: oj.EventAgentSpawned,
		AgentSpawned: &oj.AgentSpawnedPayload{
			ID:        eff.ID,
			Name:      eff.Name,
			Owner:     eff.Owner,
			Namespace: eff.Namespace,
			SessionID: sid,
		},
	}, nil
}

func (d *Dispatcher) dispatchSendToAgent(ctx context.Context, eff *oj.SendToAgentEffect) error {
	if d.Agents == nil {
		return fmt.Errorf("executor: no agent adapter wired")
	}
	if d.ResolveAgentSession == nil {
		return fmt.Errorf("executor: no agent session lookup wired")
	}
	sid, ok := d.ResolveAgentSession(eff.ID)
	if !ok {
		return fmt.Errorf("no session found for agent %s", eff.ID)
	}
	return d.Agents.Send(ctx, sid, eff.Message)
}

func (d *Dispatcher) dispatchTakeQueueItem(ctx context.Context, eff *oj.TakeQueueItemEffect) (*oj.Event, error) {
	if eff.TakeCommand == "" {
		return nil, nil
	}
	if d.Runner == nil {
		return nil, fmt.Errorf("executor: no shell runner wired")
	}
	if _, err := d.Runner.Run(ctx, eff.TakeCommand, "", nil); err != nil {
		return nil, fmt.Errorf("running take_command for queue %s: %w", eff.QueueName, err)
	}
	return nil, nil
}

// dispatchCheckLiveness resolves the agent's backing session and asks
// the agent adapter whether it's still alive. A dead agent surfaces as
// AgentGone so the job machine's on_dead chain can react; a live one
// gets its next liveness timer armed directly, since nothing about the
// result needs to round-trip through the log as its own event.
func (d *Dispatcher) dispatchCheckLiveness(eff *oj.CheckLivenessEffect) (*oj.Event, error) {
	if d.Agents == nil {
		return nil, fmt.Errorf("executor: no agent adapter wired")
	}
	if d.ResolveAgentSession == nil {
		return nil, fmt.Errorf("executor: no agent session lookup wired")
	}

	sid, ok := d.ResolveAgentSession(eff.AgentID)
	if !ok || !d.Agents.IsAlive(sid) {
		d.Agents.StopWatchingLog(eff.AgentID)
		return &oj.Event{Kind: oj.EventAgentGone, AgentGone: &oj.AgentRefPayload{ID: eff.AgentID}}, nil
	}

	if d.Timers != nil {
		d.Timers.SetTimer(&oj.SetTimerEffect{
			ID:       oj.NewTimerID(),
			FireAtMS: time.Now().Add(d.livenessInterval()).UnixMilli(),
			Owner:    eff.Owner,
			Label:    "agent_liveness",
		})
	}
	return nil, nil
}

package runtime

import (
	"fmt"
	"time"

	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/state"
)

// livenessCheckInterval is how long a freshly spawned agent gets before
// its first liveness check fires.
const livenessCheckInterval = 15 * time.Second

// RunbookLookup resolves a job's runbook by its content hash, since
// every job pins the exact runbook version it was created under.
type RunbookLookup func(sha string) (*oj.Runbook, bool)

// Reducer is the single entry point the daemon calls for each WAL
// entry: fold it into state, then let the job machine react to
// whatever the observation means for its owning job.
type Reducer struct {
	Machine  *Machine
	Runbooks RunbookLookup

	// LivenessInterval overrides livenessCheckInterval when non-zero.
	LivenessInterval time.Duration
}

// NewReducer returns a Reducer wired to a job Machine and a runbook
// lookup.
func NewReducer(m *Machine, runbooks RunbookLookup) *Reducer {
	return &Reducer{Machine: m, Runbooks: runbooks}
}

func (r *Reducer) livenessInterval() time.Duration {
	if r.LivenessInterval > 0 {
		return r.LivenessInterval
	}
	return livenessCheckInterval
}

// Apply folds ev into s and returns the effects the job machine emits
// in reaction, if ev concerns a job the machine tracks. Non-job events
// (crons, workers, decisions not owned by a job, pure bookkeeping) fold
// into state with no further effects — the scheduler/listener handle
// those directly.
func (r *Reducer) Apply(s *state.State, seq uint64, ev oj.Event) ([]oj.Effect, error) {
	if err := state.ApplyEvent(s, seq, ev); err != nil {
		return nil, err
	}

	jobID, ok := r.jobIDFor(s, ev)
	if !ok {
		return nil, nil
	}
	job, ok := s.Jobs[jobID]
	if !ok {
		return nil, nil
	}
	// A terminal job is otherwise inert, except JobResumed itself, whose
	// whole purpose is restarting one from done/failed/cancelled.
	if job.IsTerminal() && ev.Kind != oj.EventJobResumed {
		return nil, nil
	}

	rb, err := r.runbookFor(job)
	if err != nil {
		return nil, err
	}

	switch ev.Kind {
	case oj.EventJobCreated:
		return r.Machine.StartStep(s, rb, job)

	case oj.EventShellExited:
		return r.Machine.OnShellExited(s, rb, job, ev.ShellExited.ExitCode, ev.ShellExited.IsGate)

	case oj.EventAgentIdle:
		return r.Machine.OnAgentIdle(s, rb, job)

	case oj.EventAgentGone, oj.EventAgentExited:
		return r.Machine.OnAgentDead(s, rb, job)

	case oj.EventAgentSignal:
		if ev.AgentSignal == nil {
			return nil, nil
		}
		switch ev.AgentSignal.Kind {
		case "done":
			return r.Machine.OnAgentSignalDone(s, rb, job)
		case "fail":
			return r.Machine.OnAgentSignalFail(s, rb, job)
		}
		return nil, nil

	case oj.EventJobCancelRequested:
		return r.Machine.Cancel(s, rb, job)

	case oj.EventJobResumed:
		return r.Machine.Resume(s, rb, job)

	case oj.EventAgentSpawned:
		bindAgentToCurrentStep(job, ev.AgentSpawned)
		return armLivenessTimer(ev.AgentSpawned.Owner, r.livenessInterval()), nil

	case oj.EventDecisionResolved:
		return r.onDecisionResolved(s, rb, job, ev.DecisionResolved)

	case oj.EventTimerFired:
		return r.onTimerFired(s, rb, job, ev.TimerFired)

	case oj.EventSubPipelineDone:
		return r.Machine.OnSubPipelineDone(s, rb, job, ev.SubPipelineDone)

	default:
		return nil, nil
	}
}

// onTimerFired reacts to a scheduler-driven timer firing. Two labels
// are recognized: "action_wait" (the "wait" recovery action), which
// simply re-enters the step that scheduled it the same as a "retry"
// action would, and "agent_liveness", the recurring check armed after
// every AgentSpawned.
func (r *Reducer) onTimerFired(s *state.State, rb *oj.Runbook, job *oj.Job, p *oj.TimerRefPayload) ([]oj.Effect, error) {
	if p == nil {
		return nil, nil
	}
	switch p.Label {
	case "action_wait":
		job.StepStatus = oj.StepPending
		return r.Machine.StartStep(s, rb, job)

	case "agent_liveness":
		agentID := currentAgentID(s, job)
		if agentID == "" {
			// The step this timer was watching has already moved on;
			// nothing left to check.
			return nil, nil
		}
		return []oj.Effect{{
			Kind: oj.EffectCheckLiveness,
			CheckLiveness: &oj.CheckLivenessEffect{
				AgentID: agentID,
				Owner:   p.Owner,
			},
		}}, nil
	}
	return nil, nil
}

// armLivenessTimer returns the SetTimer effect that schedules the next
// liveness check for a just-spawned agent.
func armLivenessTimer(owner oj.Owner, interval time.Duration) []oj.Effect {
	return []oj.Effect{{
		Kind: oj.EffectSetTimer,
		SetTimer: &oj.SetTimerEffect{
			ID:       oj.NewTimerID(),
			FireAtMS: time.Now().Add(interval).UnixMilli(),
			Owner:    owner,
			Label:    "agent_liveness",
		},
	}}
}

// onDecisionResolved turns a resolved decision into whatever it means
// for the owning job: advance, retry, cancel, or just a message typed
// into the agent's session, per ResolveDecision's per-source table.
func (r *Reducer) onDecisionResolved(s *state.State, rb *oj.Runbook, job *oj.Job, p *oj.DecisionResolvedPayload) ([]oj.Effect, error) {
	if p == nil {
		return nil, nil
	}
	d, ok := s.Decisions[p.ID]
	if !ok {
		return nil, nil
	}

	res, err := ResolveDecision(d, p.Chosen, p.Message)
	if err != nil {
		return nil, err
	}

	var effects []oj.Effect
	if res.SessionInput != "" {
		if agentID := currentAgentID(s, job); agentID != "" {
			effects = append(effects, oj.Effect{
				Kind: oj.EffectSendToAgent,
				SendToAgent: &oj.SendToAgentEffect{
					ID:      agentID,
					Message: res.SessionInput,
				},
			})
		}
	}

	if res.Cancel {
		more, err := r.Machine.Cancel(s, rb, job)
		if err != nil {
			return nil, err
		}
		return append(effects, more...), nil
	}

	switch res.Advance {
	case "":
		job.StepStatus = oj.StepRunning
		return effects, nil
	case "retry":
		job.StepStatus = oj.StepPending
		more, err := r.Machine.StartStep(s, rb, job)
		if err != nil {
			return nil, err
		}
		return append(effects, more...), nil
	default:
		more, err := r.Machine.advance(s, rb, job, res.Advance)
		if err != nil {
			return nil, err
		}
		return append(effects, more...), nil
	}
}

// bindAgentToCurrentStep records the spawned agent on the job's open
// step record, mirroring what an explicit StepStarted event would do,
// so hook events (AgentIdle, AgentSignal) can later find the agent
// driving the current step via CurrentStepRecord.
func bindAgentToCurrentStep(job *oj.Job, p *oj.AgentSpawnedPayload) {
	if p == nil {
		return
	}
	rec := job.CurrentStepRecord()
	if rec == nil || rec.FinishedAtMS != nil {
		return
	}
	id := p.ID
	rec.AgentID = &id
	rec.AgentName = p.Name
}

func (r *Reducer) runbookFor(job *oj.Job) (*oj.Runbook, error) {
	if r.Runbooks == nil {
		return nil, fmt.Errorf("job %s: no runbook lookup wired", job.ID)
	}
	rb, ok := r.Runbooks(job.RunbookSha)
	if !ok {
		return nil, fmt.Errorf("job %s: runbook %s not found", job.ID, job.RunbookSha)
	}
	return rb, nil
}

// jobIDFor extracts the job id an event concerns, when it concerns one
// at all. Events that only reference an agent (AgentIdle, AgentGone,
// AgentExited, AgentSignal) are resolved to their owning job via the
// agent_owners map state.ApplyEvent has already folded AgentSpawned
// into by the time any of these observations arrive.
func (r *Reducer) jobIDFor(s *state.State, ev oj.Event) (oj.JobID, bool) {
	switch ev.Kind {
	case oj.EventJobCreated:
		if ev.JobCreated != nil {
			return ev.JobCreated.ID, true
		}
	case oj.EventJobCancelRequested:
		if ev.JobCancelRequested != nil {
			return ev.JobCancelRequested.ID, true
		}
	case oj.EventJobResumed:
		if ev.JobResumed != nil {
			return ev.JobResumed.ID, true
		}
	case oj.EventShellExited:
		if ev.ShellExited != nil {
			return ev.ShellExited.JobID, true
		}
	case oj.EventAgentIdle:
		if ev.AgentIdle != nil {
			return r.jobIDForAgent(s, ev.AgentIdle.ID)
		}
	case oj.EventAgentGone:
		if ev.AgentGone != nil {
			return r.jobIDForAgent(s, ev.AgentGone.ID)
		}
	case oj.EventAgentExited:
		if ev.AgentExited != nil {
			return r.jobIDForAgent(s, ev.AgentExited.ID)
		}
	case oj.EventAgentSignal:
		if ev.AgentSignal != nil {
			return r.jobIDForAgent(s, ev.AgentSignal.ID)
		}
	case oj.EventAgentSpawned:
		if ev.AgentSpawned != nil && ev.AgentSpawned.Owner.IsJob() {
			return ev.AgentSpawned.Owner.JobID(), true
		}
	case oj.EventDecisionResolved:
		if ev.DecisionResolved != nil {
			if d, ok := s.Decisions[ev.DecisionResolved.ID]; ok {
				return d.JobID, true
			}
		}
	case oj.EventTimerFired:
		if ev.TimerFired != nil && ev.TimerFired.Owner.IsJob() {
			return ev.TimerFired.Owner.JobID(), true
		}
	case oj.EventSubPipelineDone:
		if ev.SubPipelineDone != nil {
			return ev.SubPipelineDone.ParentJobID, true
		}
	}
	return "", false
}

// JobIDFor is jobIDFor exported for the daemon, which needs to know
// whether an event concerns a job in order to detect a terminal
// transition after folding it.
func (r *Reducer) JobIDFor(s *state.State, ev oj.Event) (oj.JobID, bool) {
	return r.jobIDFor(s, ev)
}

func (r *Reducer) jobIDForAgent(s *state.State, id oj.AgentID) (oj.JobID, bool) {
	owner, ok := s.AgentOwners[id]
	if !ok || !owner.IsJob() {
		return "", false
	}
	return owner.JobID(), true
}

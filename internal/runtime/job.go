package runtime

import (
	"fmt"
	"time"

	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/state"
)

// maxStepVisits bounds how many times a job may re-enter the same step
// before the runtime forces it terminal; guards against a runbook that
// loops a job between two steps forever.
const maxStepVisits = 100

// Machine is the job state machine: given materialized state already
// folded with an observation event, it decides what happens next and
// returns the effects for the executor to run.
type Machine struct {
	Invoke    map[string]string
	Workspace func(jobID oj.JobID) map[string]string

	// DefaultWaitMS is the base delay a "wait" recovery action uses when
	// its own wait_ms is unset, so a runbook author who omits it still
	// gets a sane backoff instead of firing immediately.
	DefaultWaitMS int
}

// NewMachine returns a Machine. invoke supplies the ${invoke.*}
// builtins shared by every job; workspace resolves ${workspace.*}
// builtins per job (root path, nonce), since those vary per run.
func NewMachine(invoke map[string]string, workspace func(oj.JobID) map[string]string) *Machine {
	return &Machine{Invoke: invoke, Workspace: workspace}
}

func (m *Machine) varsFor(job *oj.Job) *VarContext {
	var ws map[string]string
	if m.Workspace != nil {
		ws = m.Workspace(job.ID)
	}
	return NewVarContext(job.Variables, m.Invoke, ws, nil, nil)
}

func attemptKey(trigger string, chainPos int) string {
	return fmt.Sprintf("%s:%d", trigger, chainPos)
}

// StartStep emits the effect(s) that begin job.Step: a Shell effect for
// a shell step, a SpawnAgent effect for an agent step, or an Emit of the
// child job's JobCreated event for a pipeline step.
func (m *Machine) StartStep(s *state.State, rb *oj.Runbook, job *oj.Job) ([]oj.Effect, error) {
	if job.IsTerminal() {
		return nil, nil
	}

	jobDef, step, err := lookupStep(rb, job)
	if err != nil {
		return nil, err
	}

	job.StepVisits[job.Step]++
	if job.StepVisits[job.Step] > maxStepVisits {
		return m.forceTerminal(job, "step loop detected")
	}

	vars := m.varsFor(job)

	switch step.Run {
	case oj.RunShell:
		command, err := vars.SubstituteShellEscaped(step.Shell)
		if err != nil {
			return nil, fmt.Errorf("interpolating step %s: %w", step.Name, err)
		}
		return []oj.Effect{{
			Kind: oj.EffectShell,
			Shell: &oj.ShellEffect{
				JobID:    job.ID,
				StepName: step.Name,
				Command:  command,
				Dir:      job.WorkspacePath,
			},
		}}, nil

	case oj.RunAgent:
		agentDef, ok := rb.Agents[step.Agent]
		if !ok {
			return nil, fmt.Errorf("job %s step %s: unknown agent %q", job.ID, step.Name, step.Agent)
		}
		agentID := oj.NewAgentID()
		return []oj.Effect{{
			Kind: oj.EffectSpawnAgent,
			SpawnAgent: &oj.SpawnAgentEffect{
				ID:         agentID,
				Name:       agentDef.Name,
				Owner:      oj.JobOwner(job.ID),
				Namespace:  job.Namespace,
				Binary:     agentDef.Binary,
				PromptFile: agentDef.PromptFile,
				Dir:        job.WorkspacePath,
				Env:        agentDef.Env,
			},
		}}, nil

	case oj.RunPipeline:
		childDef, ok := rb.Jobs[step.Job]
		if !ok {
			return nil, fmt.Errorf("job %s step %s: unknown sub-pipeline job %q", job.ID, step.Name, step.Job)
		}
		parentID := job.ID
		return []oj.Effect{{
			Kind: oj.EffectEmit,
			Emit: &oj.Event{
				Kind: oj.EventJobCreated,
				JobCreated: &oj.JobCreatedPayload{
					ID:          oj.NewJobID(),
					Name:        childDef.Name,
					Kind:        step.Job,
					Namespace:   job.Namespace,
					RunbookSha:  job.RunbookSha,
					FirstStep:   childDef.FirstStep,
					Variables:   job.Variables,
					ParentJobID: &parentID,
				},
			},
		}}, nil

	default:
		_ = jobDef
		return nil, fmt.Errorf("job %s step %s: unknown run kind %q", job.ID, step.Name, step.Run)
	}
}

// OnShellExited handles a ShellExited observation for job's current
// step: finalize the step record, then advance per on_done/on_fail. A
// gate check (isGate) is a predicate, not the step's own run command:
// exit 0 still advances on_done, but a non-zero exit just means the
// predicate isn't true yet, so the step stays Waiting instead of
// running on_fail — the next AgentIdle tick re-evaluates it.
func (m *Machine) OnShellExited(s *state.State, rb *oj.Runbook, job *oj.Job, exitCode int, isGate bool) ([]oj.Effect, error) {
	_, step, err := lookupStep(rb, job)
	if err != nil {
		return nil, err
	}

	if exitCode == 0 {
		delete(job.ActionAttempts, attemptKey("on_fail", 0))
		return m.advance(s, rb, job, step.OnDone)
	}
	if isGate {
		return nil, nil
	}
	return m.runActionChain(s, rb, job, step.OnFail, "on_fail")
}

// OnAgentIdle handles an idle (WaitingForInput) observation: consult
// on_idle. An empty chain means the step has no recovery policy and
// simply remains waiting.
func (m *Machine) OnAgentIdle(s *state.State, rb *oj.Runbook, job *oj.Job) ([]oj.Effect, error) {
	_, step, err := lookupStep(rb, job)
	if err != nil {
		return nil, err
	}
	if step.Gate != "" {
		// Gate evaluation is a Shell effect marked IsGate so
		// OnShellExited can tell it apart from the step's own run
		// command: exit 0 advances on_done, non-zero just means "not
		// yet" and leaves the step Waiting instead of running on_fail.
		return []oj.Effect{{
			Kind: oj.EffectShell,
			Shell: &oj.ShellEffect{
				JobID:    job.ID,
				StepName: step.Name,
				Command:  step.Gate,
				Dir:      job.WorkspacePath,
				IsGate:   true,
			},
		}}, nil
	}
	if len(step.OnIdle) == 0 {
		return nil, nil
	}
	return m.runActionChain(s, rb, job, step.OnIdle, "on_idle")
}

// OnAgentSignalDone handles an AgentSignal{Done} from the stop hook.
func (m *Machine) OnAgentSignalDone(s *state.State, rb *oj.Runbook, job *oj.Job) ([]oj.Effect, error) {
	_, step, err := lookupStep(rb, job)
	if err != nil {
		return nil, err
	}
	delete(job.ActionAttempts, attemptKey("on_fail", 0))
	return m.advance(s, rb, job, step.OnDone)
}

// OnAgentSignalFail handles an AgentSignal{Fail} from the stop hook.
func (m *Machine) OnAgentSignalFail(s *state.State, rb *oj.Runbook, job *oj.Job) ([]oj.Effect, error) {
	_, step, err := lookupStep(rb, job)
	if err != nil {
		return nil, err
	}
	return m.runActionChain(s, rb, job, step.OnFail, "on_fail")
}

// OnAgentDead handles a SessionGone observation: consult on_dead.
func (m *Machine) OnAgentDead(s *state.State, rb *oj.Runbook, job *oj.Job) ([]oj.Effect, error) {
	_, step, err := lookupStep(rb, job)
	if err != nil {
		return nil, err
	}
	if len(step.OnDead) == 0 {
		job.Error = "agent session gone"
		return m.advance(s, rb, job, oj.StepTerminalF)
	}
	return m.runActionChain(s, rb, job, step.OnDead, "on_dead")
}

// OnSubPipelineDone handles a child job started by this job's
// `pipeline:` step reaching a terminal state: a done child routes
// through on_done exactly like a shell step's zero exit code; anything
// else (failed or cancelled) runs on_fail, same as a nonzero one.
func (m *Machine) OnSubPipelineDone(s *state.State, rb *oj.Runbook, job *oj.Job, p *oj.SubPipelineDonePayload) ([]oj.Effect, error) {
	_, step, err := lookupStep(rb, job)
	if err != nil {
		return nil, err
	}
	if p.Outcome == "done" {
		delete(job.ActionAttempts, attemptKey("on_fail", 0))
		return m.advance(s, rb, job, step.OnDone)
	}
	job.Error = p.Error
	return m.runActionChain(s, rb, job, step.OnFail, "on_fail")
}

// Cancel moves a job toward its on_cancel step, or straight to
// terminal cancelled if the step declares none.
func (m *Machine) Cancel(s *state.State, rb *oj.Runbook, job *oj.Job) ([]oj.Effect, error) {
	_, step, err := lookupStep(rb, job)
	if err != nil {
		return m.advance(s, rb, job, oj.StepCancelled)
	}
	if step.OnCancel != "" {
		return m.advance(s, rb, job, step.OnCancel)
	}
	return m.advance(s, rb, job, oj.StepCancelled)
}

// Resume reacts to a JobResumed observation. A non-terminal job has
// already had its waiting state cleared by the state fold and needs no
// further action here; a terminal one (done, failed, or cancelled) is
// rewound to the first step it ever ran and started anew.
func (m *Machine) Resume(s *state.State, rb *oj.Runbook, job *oj.Job) ([]oj.Effect, error) {
	if !job.IsTerminal() {
		return nil, nil
	}

	jobDef, ok := rb.Jobs[job.Kind]
	if !ok {
		return nil, fmt.Errorf("job %s: unknown job kind %q", job.ID, job.Kind)
	}

	first := jobDef.FirstStep
	if len(job.StepHistory) > 0 {
		first = job.StepHistory[0].Name
	}

	job.Error = ""
	job.Step = first
	job.StepStatus = oj.StepPending
	return m.StartStep(s, rb, job)
}

// advance moves job.Step to target (a step name, or one of the
// done/failed/cancelled sentinels) and, for a non-terminal target,
// starts it.
func (m *Machine) advance(s *state.State, rb *oj.Runbook, job *oj.Job, target string) ([]oj.Effect, error) {
	if target == "" {
		return nil, fmt.Errorf("job %s: empty transition target", job.ID)
	}

	job.Step = target
	job.StepStatus = oj.StepPending
	job.WaitingOn = nil

	if job.IsTerminal() {
		return nil, nil
	}
	return m.StartStep(s, rb, job)
}

// forceTerminal fails job immediately with reason, bypassing on_fail.
func (m *Machine) forceTerminal(job *oj.Job, reason string) ([]oj.Effect, error) {
	job.Error = reason
	job.Step = oj.StepTerminalF
	job.StepStatus = oj.StepFailed
	job.WaitingOn = nil
	return nil, nil
}

// runActionChain walks trigger's action chain, executing elements in
// order until one's attempts budget isn't exhausted. action_attempts
// is keyed "trigger:chain_pos" and persists across retry cycles on
// failure transitions; only a successful on_done advance clears it.
func (m *Machine) runActionChain(s *state.State, rb *oj.Runbook, job *oj.Job, chain []oj.Action, trigger string) ([]oj.Effect, error) {
	if len(chain) == 0 {
		return m.advance(s, rb, job, oj.StepTerminalF)
	}

	for pos, action := range chain {
		key := attemptKey(trigger, pos)
		limit := 0 // 0 == forever
		if action.Retry != nil {
			limit = action.Retry.Attempts
		}

		count := job.ActionAttempts[key] + 1
		if limit > 0 && count > limit {
			continue // exhausted, fall through to next element
		}
		job.ActionAttempts[key] = count
		job.TotalRetries++

		return m.runAction(s, rb, job, action)
	}

	// Every element in the chain exhausted its budget: terminal failure.
	return m.advance(s, rb, job, oj.StepTerminalF)
}

func (m *Machine) runAction(s *state.State, rb *oj.Runbook, job *oj.Job, action oj.Action) ([]oj.Effect, error) {
	switch action.Kind {
	case "nudge":
		agentID := currentAgentID(s, job)
		if agentID == "" {
			return nil, fmt.Errorf("job %s: nudge with no current agent", job.ID)
		}
		return []oj.Effect{{
			Kind: oj.EffectSendToAgent,
			SendToAgent: &oj.SendToAgentEffect{
				ID:      agentID,
				Message: action.Message,
			},
		}}, nil

	case "shell":
		vars := m.varsFor(job)
		command, err := vars.SubstituteShellEscaped(action.Shell)
		if err != nil {
			return nil, fmt.Errorf("interpolating recovery shell: %w", err)
		}
		return []oj.Effect{{
			Kind: oj.EffectShell,
			Shell: &oj.ShellEffect{
				JobID:    job.ID,
				StepName: job.Step,
				Command:  command,
				Dir:      job.WorkspacePath,
			},
		}}, nil

	case "wait":
		baseMS := action.WaitMS
		if baseMS <= 0 {
			baseMS = m.DefaultWaitMS
		}
		fireAt := time.Now().Add(waitDelay(baseMS, job.TotalRetries+1)).UnixMilli()
		return []oj.Effect{{
			Kind: oj.EffectSetTimer,
			SetTimer: &oj.SetTimerEffect{
				ID:       oj.NewTimerID(),
				FireAtMS: fireAt,
				Owner:    oj.JobOwner(job.ID),
				Label:    "action_wait",
			},
		}}, nil

	case "retry":
		job.Step = job.Step // re-enter the same step
		job.StepStatus = oj.StepPending
		return m.StartStep(s, rb, job)

	case "escalate":
		job.WaitingOn = nil // the DecisionCreated effect carries the new id
		return []oj.Effect{{
			Kind: oj.EffectEmit,
			Emit: &oj.Event{
				Kind: oj.EventDecisionCreated,
				DecisionCreated: &oj.DecisionCreatedPayload{
					ID:      oj.NewDecisionID(),
					JobID:   job.ID,
					Owner:   oj.JobOwner(job.ID),
					Source:  oj.DecisionError,
					Context: action.Message,
				},
			},
		}}, nil

	default:
		return nil, fmt.Errorf("job %s: unknown action kind %q", job.ID, action.Kind)
	}
}

func currentAgentID(s *state.State, job *oj.Job) oj.AgentID {
	rec := job.CurrentStepRecord()
	if rec == nil || rec.AgentID == nil {
		return ""
	}
	return *rec.AgentID
}

func lookupStep(rb *oj.Runbook, job *oj.Job) (*oj.JobDef, oj.StepDef, error) {
	jobDef, ok := rb.Jobs[job.Kind]
	if !ok {
		return nil, oj.StepDef{}, fmt.Errorf("job %s: unknown job kind %q", job.ID, job.Kind)
	}
	step, ok := jobDef.Steps[job.Step]
	if !ok {
		return &jobDef, oj.StepDef{}, fmt.Errorf("job %s: unknown step %q", job.ID, job.Step)
	}
	return &jobDef, step, nil
}

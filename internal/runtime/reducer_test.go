package runtime

import (
	"testing"

	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/state"
)

func reducerWithRunbook(rb *oj.Runbook) *Reducer {
	m := NewMachine(nil, nil)
	return NewReducer(m, func(sha string) (*oj.Runbook, bool) { return rb, true })
}

func TestApplyJobCreatedStartsFirstStep(t *testing.T) {
	r := reducerWithRunbook(buildRunbook())
	s := state.New()

	effects, err := r.Apply(s, 1, oj.Event{
		Kind: oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{
			ID:        oj.JobID("job-1"),
			Kind:      "build",
			FirstStep: "compile",
			Variables: map[string]string{"target": "release"},
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectShell {
		t.Fatalf("expected a shell effect for the first step, got %+v", effects)
	}
}

func TestApplyShellExitedAdvancesJob(t *testing.T) {
	r := reducerWithRunbook(buildRunbook())
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind: oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{
			ID:        oj.JobID("job-1"),
			Kind:      "build",
			FirstStep: "compile",
			Variables: map[string]string{"target": "release"},
		},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}

	effects, err := r.Apply(s, 2, oj.Event{
		Kind: oj.EventShellExited,
		ShellExited: &oj.ShellExitedPayload{
			JobID:    oj.JobID("job-1"),
			StepName: "compile",
			ExitCode: 0,
		},
	})
	if err != nil {
		t.Fatalf("Apply shell_exited: %v", err)
	}
	if s.Jobs[oj.JobID("job-1")].Step != "test" {
		t.Errorf("expected job to advance to test, got %q", s.Jobs[oj.JobID("job-1")].Step)
	}
	if len(effects) != 1 {
		t.Fatalf("expected one effect for the next step, got %+v", effects)
	}
}

func TestApplyNonJobEventReturnsNoEffects(t *testing.T) {
	r := reducerWithRunbook(buildRunbook())
	s := state.New()

	effects, err := r.Apply(s, 1, oj.Event{Kind: oj.EventReconcileStarted, ReconcileStarted: &oj.ReconcileStartedPayload{}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if effects != nil {
		t.Errorf("expected no effects for a non-job event, got %+v", effects)
	}
}

func TestApplyAgentIdleResolvesOwningJobViaAgentOwners(t *testing.T) {
	rb := &oj.Runbook{
		Jobs: map[string]oj.JobDef{
			"build": {
				Name:      "build",
				FirstStep: "run",
				Steps: map[string]oj.StepDef{
					"run": {
						Name:   "run",
						Run:    oj.RunAgent,
						Agent:  "worker",
						OnDone: oj.StepDone,
						OnIdle: []oj.Action{{Kind: "nudge", Message: "keep going"}},
					},
				},
			},
		},
		Agents: map[string]oj.AgentDef{"worker": {Name: "worker", Binary: "claude"}},
	}
	r := reducerWithRunbook(rb)
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind:       oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{ID: oj.JobID("job-1"), Kind: "build", FirstStep: "run"},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}

	agentID := oj.AgentID("agent-1")
	if _, err := r.Apply(s, 2, oj.Event{
		Kind: oj.EventAgentSpawned,
		AgentSpawned: &oj.AgentSpawnedPayload{
			ID:        agentID,
			Name:      "worker",
			Owner:     oj.JobOwner("job-1"),
			SessionID: oj.SessionID("sess-1"),
		},
	}); err != nil {
		t.Fatalf("Apply agent_spawned: %v", err)
	}

	job := s.Jobs[oj.JobID("job-1")]
	rec := job.CurrentStepRecord()
	if rec == nil {
		t.Fatal("expected a current step record after agent spawn")
	}

	effects, err := r.Apply(s, 3, oj.Event{
		Kind:      oj.EventAgentIdle,
		AgentIdle: &oj.AgentRefPayload{ID: agentID},
	})
	if err != nil {
		t.Fatalf("Apply agent_idle: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectSendToAgent {
		t.Fatalf("expected a nudge effect routed to the owning job's step, got %+v", effects)
	}
}

// driveToEscalation walks a fresh "build" job through a compile success
// and a test failure, returning the reducer, state and the
// decision_created event the escalate action emits.
func driveToEscalation(t *testing.T) (*Reducer, *state.State, oj.Event) {
	t.Helper()
	r := reducerWithRunbook(buildRunbook())
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind: oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{
			ID:        oj.JobID("job-1"),
			Kind:      "build",
			FirstStep: "compile",
			Variables: map[string]string{"target": "release"},
		},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}
	if _, err := r.Apply(s, 2, oj.Event{
		Kind: oj.EventShellExited,
		ShellExited: &oj.ShellExitedPayload{
			JobID: oj.JobID("job-1"), StepName: "compile", ExitCode: 0,
		},
	}); err != nil {
		t.Fatalf("Apply compile exit: %v", err)
	}

	effects, err := r.Apply(s, 3, oj.Event{
		Kind: oj.EventShellExited,
		ShellExited: &oj.ShellExitedPayload{
			JobID: oj.JobID("job-1"), StepName: "test", ExitCode: 1,
		},
	})
	if err != nil {
		t.Fatalf("Apply test exit: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectEmit || effects[0].Emit.Kind != oj.EventDecisionCreated {
		t.Fatalf("expected the test failure to escalate to a decision, got %+v", effects)
	}
	return r, s, *effects[0].Emit
}

func TestApplyDecisionResolvedAdvancesToDone(t *testing.T) {
	r, s, decisionEv := driveToEscalation(t)
	if _, err := r.Apply(s, 4, decisionEv); err != nil {
		t.Fatalf("Apply decision_created: %v", err)
	}

	decisionID := decisionEv.DecisionCreated.ID
	chosen := 2
	effects, err := r.Apply(s, 5, oj.Event{
		Kind: oj.EventDecisionResolved,
		DecisionResolved: &oj.DecisionResolvedPayload{
			ID: decisionID, Chosen: &chosen,
		},
	})
	if err != nil {
		t.Fatalf("Apply decision_resolved: %v", err)
	}
	if len(effects) != 0 {
		t.Errorf("expected no further effects once the job lands on done, got %+v", effects)
	}
	if s.Jobs[oj.JobID("job-1")].Step != oj.StepDone {
		t.Errorf("expected job done, got %q", s.Jobs[oj.JobID("job-1")].Step)
	}
}

func TestApplyDecisionResolvedRetryReRunsStep(t *testing.T) {
	r, s, decisionEv := driveToEscalation(t)
	if _, err := r.Apply(s, 4, decisionEv); err != nil {
		t.Fatalf("Apply decision_created: %v", err)
	}

	decisionID := decisionEv.DecisionCreated.ID
	chosen := 1
	effects, err := r.Apply(s, 5, oj.Event{
		Kind: oj.EventDecisionResolved,
		DecisionResolved: &oj.DecisionResolvedPayload{
			ID: decisionID, Chosen: &chosen,
		},
	})
	if err != nil {
		t.Fatalf("Apply decision_resolved: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectShell || effects[0].Shell.Command != "make test" {
		t.Fatalf("expected the retry option to re-run the test step, got %+v", effects)
	}
	if s.Jobs[oj.JobID("job-1")].Step != "test" {
		t.Errorf("expected job to remain on test step, got %q", s.Jobs[oj.JobID("job-1")].Step)
	}
}

func TestApplyJobResumedRestartsTerminalJobFromFirstStep(t *testing.T) {
	r := reducerWithRunbook(buildRunbook())
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind: oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{
			ID:        oj.JobID("job-1"),
			Kind:      "build",
			FirstStep: "compile",
			Variables: map[string]string{"target": "release"},
		},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Apply(s, uint64(2+i), oj.Event{
			Kind: oj.EventShellExited,
			ShellExited: &oj.ShellExitedPayload{
				JobID: oj.JobID("job-1"), StepName: "compile", ExitCode: 1,
			},
		}); err != nil {
			t.Fatalf("Apply compile failure %d: %v", i, err)
		}
	}
	if s.Jobs[oj.JobID("job-1")].Step != oj.StepTerminalF {
		t.Fatalf("expected job to exhaust retries into failed, got %q", s.Jobs[oj.JobID("job-1")].Step)
	}

	effects, err := r.Apply(s, 10, oj.Event{
		Kind:       oj.EventJobResumed,
		JobResumed: &oj.JobResumedPayload{ID: oj.JobID("job-1")},
	})
	if err != nil {
		t.Fatalf("Apply job_resumed: %v", err)
	}
	if s.Jobs[oj.JobID("job-1")].Step != "compile" {
		t.Errorf("expected resume to rewind to the first step, got %q", s.Jobs[oj.JobID("job-1")].Step)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectShell || effects[0].Shell.Command != "make release" {
		t.Fatalf("expected resume to restart the first step, got %+v", effects)
	}
}

func agentStepRunbook() *oj.Runbook {
	return &oj.Runbook{
		Jobs: map[string]oj.JobDef{
			"build": {
				Name:      "build",
				FirstStep: "run",
				Steps: map[string]oj.StepDef{
					"run": {
						Name:   "run",
						Run:    oj.RunAgent,
						Agent:  "worker",
						OnDone: oj.StepDone,
						OnDead: []oj.Action{{Kind: "nudge", Message: "unused"}},
					},
				},
			},
		},
		Agents: map[string]oj.AgentDef{"worker": {Name: "worker", Binary: "claude"}},
	}
}

func TestApplyAgentExitedRoutesThroughOnDead(t *testing.T) {
	r := reducerWithRunbook(agentStepRunbook())
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind:       oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{ID: oj.JobID("job-1"), Kind: "build", FirstStep: "run"},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}
	agentID := oj.AgentID("agent-1")
	if _, err := r.Apply(s, 2, oj.Event{
		Kind: oj.EventAgentSpawned,
		AgentSpawned: &oj.AgentSpawnedPayload{
			ID: agentID, Name: "worker", Owner: oj.JobOwner("job-1"), SessionID: oj.SessionID("sess-1"),
		},
	}); err != nil {
		t.Fatalf("Apply agent_spawned: %v", err)
	}

	effects, err := r.Apply(s, 3, oj.Event{
		Kind:        oj.EventAgentExited,
		AgentExited: &oj.AgentExitedPayload{ID: agentID, ExitReason: "process gone"},
	})
	if err != nil {
		t.Fatalf("Apply agent_exited: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectSendToAgent {
		t.Fatalf("expected agent_exited to run the run step's on_dead chain, got %+v", effects)
	}
}

func TestApplyAgentSpawnedArmsLivenessTimer(t *testing.T) {
	r := reducerWithRunbook(agentStepRunbook())
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind:       oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{ID: oj.JobID("job-1"), Kind: "build", FirstStep: "run"},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}

	effects, err := r.Apply(s, 2, oj.Event{
		Kind: oj.EventAgentSpawned,
		AgentSpawned: &oj.AgentSpawnedPayload{
			ID:        oj.AgentID("agent-1"),
			Name:      "worker",
			Owner:     oj.JobOwner("job-1"),
			SessionID: oj.SessionID("sess-1"),
		},
	})
	if err != nil {
		t.Fatalf("Apply agent_spawned: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectSetTimer {
		t.Fatalf("expected agent spawn to arm a liveness timer, got %+v", effects)
	}
	if effects[0].SetTimer.Label != "agent_liveness" {
		t.Errorf("expected liveness timer label, got %q", effects[0].SetTimer.Label)
	}
	if effects[0].SetTimer.Owner != oj.JobOwner("job-1") {
		t.Errorf("expected timer owned by job-1, got %+v", effects[0].SetTimer.Owner)
	}
}

func TestApplyTimerFiredAgentLivenessChecksCurrentAgent(t *testing.T) {
	r := reducerWithRunbook(agentStepRunbook())
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind:       oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{ID: oj.JobID("job-1"), Kind: "build", FirstStep: "run"},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}
	agentID := oj.AgentID("agent-1")
	if _, err := r.Apply(s, 2, oj.Event{
		Kind: oj.EventAgentSpawned,
		AgentSpawned: &oj.AgentSpawnedPayload{
			ID: agentID, Name: "worker", Owner: oj.JobOwner("job-1"), SessionID: oj.SessionID("sess-1"),
		},
	}); err != nil {
		t.Fatalf("Apply agent_spawned: %v", err)
	}

	effects, err := r.Apply(s, 3, oj.Event{
		Kind: oj.EventTimerFired,
		TimerFired: &oj.TimerRefPayload{
			ID: oj.NewTimerID(), Owner: oj.JobOwner("job-1"), Label: "agent_liveness",
		},
	})
	if err != nil {
		t.Fatalf("Apply timer_fired: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectCheckLiveness {
		t.Fatalf("expected a check_liveness effect, got %+v", effects)
	}
	if effects[0].CheckLiveness.AgentID != agentID {
		t.Errorf("expected liveness check for %s, got %s", agentID, effects[0].CheckLiveness.AgentID)
	}
}

func TestApplyTimerFiredAgentLivenessNoopAfterStepMovedOn(t *testing.T) {
	r := reducerWithRunbook(agentStepRunbook())
	s := state.New()

	if _, err := r.Apply(s, 1, oj.Event{
		Kind:       oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{ID: oj.JobID("job-1"), Kind: "build", FirstStep: "run"},
	}); err != nil {
		t.Fatalf("Apply job_created: %v", err)
	}
	if _, err := r.Apply(s, 2, oj.Event{
		Kind: oj.EventAgentSpawned,
		AgentSpawned: &oj.AgentSpawnedPayload{
			ID: oj.AgentID("agent-1"), Name: "worker", Owner: oj.JobOwner("job-1"), SessionID: oj.SessionID("sess-1"),
		},
	}); err != nil {
		t.Fatalf("Apply agent_spawned: %v", err)
	}
	if _, err := r.Apply(s, 3, oj.Event{
		Kind: oj.EventAgentSignal,
		AgentSignal: &oj.AgentSignalPayload{ID: oj.AgentID("agent-1"), Kind: "done"},
	}); err != nil {
		t.Fatalf("Apply agent_signal done: %v", err)
	}
	if s.Jobs[oj.JobID("job-1")].Step != oj.StepDone {
		t.Fatalf("expected job done after agent signal, got %q", s.Jobs[oj.JobID("job-1")].Step)
	}

	effects, err := r.Apply(s, 4, oj.Event{
		Kind: oj.EventTimerFired,
		TimerFired: &oj.TimerRefPayload{
			ID: oj.NewTimerID(), Owner: oj.JobOwner("job-1"), Label: "agent_liveness",
		},
	})
	if err != nil {
		t.Fatalf("Apply timer_fired: %v", err)
	}
	if effects != nil {
		t.Errorf("expected no effects once the job is terminal, got %+v", effects)
	}
}

func TestApplyRunPipelineStepCreatesAndLinksChildJob(t *testing.T) {
	r := reducerWithRunbook(pipelineRunbook())
	s := state.New()

	effects, err := r.Apply(s, 1, oj.Event{
		Kind:       oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{ID: oj.JobID("parent-1"), Kind: "release", FirstStep: "run_build"},
	})
	if err != nil {
		t.Fatalf("Apply parent job_created: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectEmit || effects[0].Emit.Kind != oj.EventJobCreated {
		t.Fatalf("expected the pipeline step to emit a child job_created, got %+v", effects)
	}

	childEv := *effects[0].Emit
	effects, err = r.Apply(s, 2, childEv)
	if err != nil {
		t.Fatalf("Apply child job_created: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectShell {
		t.Fatalf("expected the child job to start its own first step, got %+v", effects)
	}

	childID := childEv.JobCreated.ID
	child := s.Jobs[childID]
	if child == nil || child.ParentJobID == nil || *child.ParentJobID != oj.JobID("parent-1") {
		t.Fatalf("expected the child job to be linked to its parent, got %+v", child)
	}

	if _, err := r.Apply(s, 3, oj.Event{
		Kind: oj.EventSubPipelineDone,
		SubPipelineDone: &oj.SubPipelineDonePayload{
			ParentJobID: oj.JobID("parent-1"), ChildJobID: childID, Outcome: "done",
		},
	}); err != nil {
		t.Fatalf("Apply sub_pipeline_done: %v", err)
	}
	if s.Jobs[oj.JobID("parent-1")].Step != oj.StepDone {
		t.Errorf("expected parent to finish once its sub-pipeline completes, got %q", s.Jobs[oj.JobID("parent-1")].Step)
	}
}

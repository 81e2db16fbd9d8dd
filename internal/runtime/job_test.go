package runtime

import (
	"testing"

	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/state"
)

func newTestJob() *oj.Job {
	return &oj.Job{
		ID:             oj.JobID("job-1"),
		Kind:           "build",
		Step:           "compile",
		StepStatus:     oj.StepRunning,
		Variables:      map[string]string{"target": "release"},
		ActionAttempts: make(map[string]int),
		StepVisits:     make(map[string]int),
	}
}

func buildRunbook() *oj.Runbook {
	return &oj.Runbook{
		Jobs: map[string]oj.JobDef{
			"build": {
				Name:      "build",
				FirstStep: "compile",
				Steps: map[string]oj.StepDef{
					"compile": {
						Name:   "compile",
						Run:    oj.RunShell,
						Shell:  "make ${var.target}",
						OnDone: "test",
						OnFail: []oj.Action{{Kind: "retry", Retry: &oj.RetryPolicy{Attempts: 2}}},
					},
					"test": {
						Name:   "test",
						Run:    oj.RunShell,
						Shell:  "make test",
						OnDone: oj.StepDone,
						OnFail: []oj.Action{{Kind: "escalate", Message: "tests failed"}},
					},
				},
			},
		},
		Agents: map[string]oj.AgentDef{},
	}
}

func TestStartStepInterpolatesShellCommand(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := buildRunbook()

	effects, err := m.StartStep(state.New(), rb, job)
	if err != nil {
		t.Fatalf("StartStep: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectShell {
		t.Fatalf("expected one shell effect, got %+v", effects)
	}
	if effects[0].Shell.Command != "make release" {
		t.Errorf("expected interpolated command, got %q", effects[0].Shell.Command)
	}
}

func TestOnShellExitedZeroAdvancesToNextStep(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := buildRunbook()

	effects, err := m.OnShellExited(state.New(), rb, job, 0, false)
	if err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if job.Step != "test" {
		t.Errorf("expected job to advance to test step, got %q", job.Step)
	}
	if len(effects) != 1 || effects[0].Shell.Command != "make test" {
		t.Fatalf("expected test step's shell effect, got %+v", effects)
	}
}

func gateRunbook() *oj.Runbook {
	rb := buildRunbook()
	step := rb.Jobs["build"].Steps["compile"]
	step.Gate = "test -f /tmp/ready"
	rb.Jobs["build"].Steps["compile"] = step
	return rb
}

func TestOnAgentIdleWithGateEmitsMarkedShellEffect(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := gateRunbook()

	effects, err := m.OnAgentIdle(state.New(), rb, job)
	if err != nil {
		t.Fatalf("OnAgentIdle: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectShell {
		t.Fatalf("expected one shell effect for the gate check, got %+v", effects)
	}
	if !effects[0].Shell.IsGate {
		t.Errorf("expected the gate check's shell effect to be marked IsGate")
	}
	if effects[0].Shell.Command != "test -f /tmp/ready" {
		t.Errorf("expected the gate command, got %q", effects[0].Shell.Command)
	}
}

func TestOnShellExitedGateNonZeroLeavesStepWaiting(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	job.StepStatus = oj.StepWaiting
	rb := gateRunbook()

	effects, err := m.OnShellExited(state.New(), rb, job, 1, true)
	if err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if effects != nil {
		t.Errorf("expected no effects from an unsatisfied gate, got %+v", effects)
	}
	if job.Step != "compile" {
		t.Errorf("expected job to remain on compile step, got %q", job.Step)
	}
	if job.StepStatus != oj.StepWaiting {
		t.Errorf("expected step to stay Waiting on a failed gate check, got %q", job.StepStatus)
	}
	if job.ActionAttempts["on_fail:0"] != 0 {
		t.Errorf("expected a gate check not to record an on_fail attempt, got %v", job.ActionAttempts)
	}
}

func TestOnShellExitedGateZeroAdvances(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := gateRunbook()

	effects, err := m.OnShellExited(state.New(), rb, job, 0, true)
	if err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if job.Step != "test" {
		t.Errorf("expected a satisfied gate to advance on_done, got %q", job.Step)
	}
	if len(effects) != 1 || effects[0].Shell.Command != "make test" {
		t.Fatalf("expected the next step's shell effect, got %+v", effects)
	}
}

func TestOnShellExitedNonZeroRetriesWithinBudget(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := buildRunbook()

	effects, err := m.OnShellExited(state.New(), rb, job, 1, false)
	if err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if job.Step != "compile" {
		t.Errorf("expected job to remain on compile step for retry, got %q", job.Step)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectShell {
		t.Fatalf("expected retry to re-run the shell step, got %+v", effects)
	}
	if job.ActionAttempts["on_fail:0"] != 1 {
		t.Errorf("expected action_attempts to be recorded, got %v", job.ActionAttempts)
	}
}

func TestOnShellExitedExhaustsRetryBudgetThenFails(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := buildRunbook()

	for i := 0; i < 2; i++ {
		if _, err := m.OnShellExited(state.New(), rb, job, 1, false); err != nil {
			t.Fatalf("OnShellExited: %v", err)
		}
	}
	// Third failure: attempts budget (2) exhausted, falls through to
	// terminal failure since the chain has no further element.
	if _, err := m.OnShellExited(state.New(), rb, job, 1, false); err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if job.Step != oj.StepTerminalF {
		t.Errorf("expected job to fail after exhausting retries, got %q", job.Step)
	}
}

func TestSuccessfulAdvanceClearsActionAttempts(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := buildRunbook()

	if _, err := m.OnShellExited(state.New(), rb, job, 1, false); err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if job.ActionAttempts["on_fail:0"] != 1 {
		t.Fatalf("expected attempt recorded before success")
	}

	if _, err := m.OnShellExited(state.New(), rb, job, 0, false); err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if _, ok := job.ActionAttempts["on_fail:0"]; ok {
		t.Errorf("expected action_attempts cleared after a successful advance")
	}
}

func TestStepVisitsBoundForcesTerminalFailure(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	job.StepVisits["compile"] = maxStepVisits
	rb := buildRunbook()

	if _, err := m.StartStep(state.New(), rb, job); err != nil {
		t.Fatalf("StartStep: %v", err)
	}
	if job.Step != oj.StepTerminalF {
		t.Errorf("expected step-loop detection to force failure, got %q", job.Step)
	}
}

func TestCancelWithNoOnCancelGoesStraightToCancelled(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	rb := buildRunbook()

	if _, err := m.Cancel(state.New(), rb, job); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Step != oj.StepCancelled {
		t.Errorf("expected job cancelled, got %q", job.Step)
	}
}

func TestEscalateEmitsDecisionCreated(t *testing.T) {
	m := NewMachine(nil, nil)
	job := newTestJob()
	job.Step = "test"
	rb := buildRunbook()

	effects, err := m.OnShellExited(state.New(), rb, job, 1, false)
	if err != nil {
		t.Fatalf("OnShellExited: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectEmit {
		t.Fatalf("expected an emit effect for escalation, got %+v", effects)
	}
	if effects[0].Emit.Kind != oj.EventDecisionCreated {
		t.Errorf("expected decision_created event, got %s", effects[0].Emit.Kind)
	}
}

func pipelineRunbook() *oj.Runbook {
	return &oj.Runbook{
		Jobs: map[string]oj.JobDef{
			"release": {
				Name:      "release",
				FirstStep: "run_build",
				Steps: map[string]oj.StepDef{
					"run_build": {
						Name:   "run_build",
						Run:    oj.RunPipeline,
						Job:    "build",
						OnDone: oj.StepDone,
						OnFail: []oj.Action{{Kind: "escalate", Message: "sub-pipeline failed"}},
					},
				},
			},
			"build": {
				Name:      "build",
				FirstStep: "compile",
				Steps: map[string]oj.StepDef{
					"compile": {Name: "compile", Run: oj.RunShell, Shell: "make release", OnDone: oj.StepDone},
				},
			},
		},
		Agents: map[string]oj.AgentDef{},
	}
}

func TestStartStepRunPipelineEmitsChildJobCreated(t *testing.T) {
	m := NewMachine(nil, nil)
	job := &oj.Job{
		ID: oj.JobID("parent-1"), Kind: "release", Step: "run_build",
		Variables: map[string]string{}, ActionAttempts: map[string]int{}, StepVisits: map[string]int{},
	}
	rb := pipelineRunbook()

	effects, err := m.StartStep(state.New(), rb, job)
	if err != nil {
		t.Fatalf("StartStep: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectEmit {
		t.Fatalf("expected one emit effect, got %+v", effects)
	}
	ev := effects[0].Emit
	if ev.Kind != oj.EventJobCreated {
		t.Fatalf("expected job_created, got %s", ev.Kind)
	}
	if ev.JobCreated.Kind != "build" {
		t.Errorf("expected the child job kind to be %q, got %q", "build", ev.JobCreated.Kind)
	}
	if ev.JobCreated.ParentJobID == nil || *ev.JobCreated.ParentJobID != job.ID {
		t.Fatalf("expected the child to be linked back to the parent, got %+v", ev.JobCreated.ParentJobID)
	}
}

func TestOnSubPipelineDoneAdvancesOnDone(t *testing.T) {
	m := NewMachine(nil, nil)
	job := &oj.Job{
		ID: oj.JobID("parent-1"), Kind: "release", Step: "run_build",
		ActionAttempts: map[string]int{}, StepVisits: map[string]int{},
	}
	rb := pipelineRunbook()

	effects, err := m.OnSubPipelineDone(state.New(), rb, job, &oj.SubPipelineDonePayload{
		ParentJobID: job.ID, ChildJobID: oj.JobID("child-1"), Outcome: "done",
	})
	if err != nil {
		t.Fatalf("OnSubPipelineDone: %v", err)
	}
	if job.Step != oj.StepDone {
		t.Errorf("expected parent to land on done, got %q", job.Step)
	}
	if effects != nil {
		t.Errorf("expected no further effects once parent is done, got %+v", effects)
	}
}

func TestOnSubPipelineDoneFailedEscalates(t *testing.T) {
	m := NewMachine(nil, nil)
	job := &oj.Job{
		ID: oj.JobID("parent-1"), Kind: "release", Step: "run_build",
		ActionAttempts: map[string]int{}, StepVisits: map[string]int{},
	}
	rb := pipelineRunbook()

	effects, err := m.OnSubPipelineDone(state.New(), rb, job, &oj.SubPipelineDonePayload{
		ParentJobID: job.ID, ChildJobID: oj.JobID("child-1"), Outcome: "failed", Error: "compile step failed",
	})
	if err != nil {
		t.Fatalf("OnSubPipelineDone: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != oj.EffectEmit || effects[0].Emit.Kind != oj.EventDecisionCreated {
		t.Fatalf("expected the failure to escalate to a decision, got %+v", effects)
	}
	if job.Error != "compile step failed" {
		t.Errorf("expected the child's error to surface on the parent, got %q", job.Error)
	}
}

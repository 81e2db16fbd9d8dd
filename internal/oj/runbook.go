package oj

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// StepStatus is the status of one step within a running job.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepWaiting   StepStatus = "waiting"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Terminal step-name sentinels. A job's current step is one of these iff
// the job itself is terminal.
const (
	StepDone      = "done"
	StepTerminalF = "failed"
	StepCancelled = "cancelled"
)

// RunKind selects what a step executes.
type RunKind string

const (
	RunShell    RunKind = "shell"
	RunAgent    RunKind = "agent"
	RunPipeline RunKind = "pipeline"
)

// NotifyPolicy controls when a step fires a desktop notification.
type NotifyPolicy struct {
	OnStart bool `json:"on_start,omitempty" toml:"on_start,omitempty"`
	OnDone  bool `json:"on_done,omitempty" toml:"on_done,omitempty"`
	OnFail  bool `json:"on_fail,omitempty" toml:"on_fail,omitempty"`
}

// RetryPolicy bounds an action chain's repetition. Attempts == 0 means
// "forever" (never falls through to the next action).
type RetryPolicy struct {
	Attempts int `json:"attempts,omitempty" toml:"attempts,omitempty"`
	DelayMS  int `json:"delay_ms,omitempty" toml:"delay_ms,omitempty"`
}

// Action is one node in an on_fail/on_idle/on_dead recovery chain.
type Action struct {
	Kind    string      `json:"kind" toml:"kind"` // nudge | shell | wait | retry | escalate
	Message string      `json:"message,omitempty" toml:"message,omitempty"`
	Shell   string       `json:"shell,omitempty" toml:"shell,omitempty"`
	WaitMS  int          `json:"wait_ms,omitempty" toml:"wait_ms,omitempty"`
	Retry   *RetryPolicy `json:"retry,omitempty" toml:"retry,omitempty"`
}

// StepDef is a step definition as loaded from the runbook.
type StepDef struct {
	Name    string  `json:"name" toml:"name"`
	Run     RunKind `json:"run" toml:"run"`
	Shell   string  `json:"shell,omitempty" toml:"shell,omitempty"`
	Agent   string  `json:"agent,omitempty" toml:"agent,omitempty"`
	Job     string  `json:"job,omitempty" toml:"job,omitempty"`
	Gate    string  `json:"gate,omitempty" toml:"gate,omitempty"`

	OnDone   string `json:"on_done,omitempty" toml:"on_done,omitempty"`
	OnFail   []Action `json:"on_fail,omitempty" toml:"on_fail,omitempty"`
	OnCancel string `json:"on_cancel,omitempty" toml:"on_cancel,omitempty"`
	OnIdle   []Action `json:"on_idle,omitempty" toml:"on_idle,omitempty"`
	OnDead   []Action `json:"on_dead,omitempty" toml:"on_dead,omitempty"`

	Notify NotifyPolicy `json:"notify,omitempty" toml:"notify,omitempty"`
	Retry  *RetryPolicy `json:"retry,omitempty" toml:"retry,omitempty"`
}

// JobDef is a pipeline definition: an ordered-by-name set of steps with a
// designated first step.
type JobDef struct {
	Name      string             `json:"name" toml:"name"`
	FirstStep string             `json:"first_step" toml:"first_step"`
	Steps     map[string]StepDef `json:"steps" toml:"steps"`
}

// AgentDef is a spawn recipe for an agent.
type AgentDef struct {
	Name        string            `json:"name" toml:"name"`
	Binary      string            `json:"binary" toml:"binary"`
	PromptFile  string            `json:"prompt_file,omitempty" toml:"prompt_file,omitempty"`
	Env         map[string]string `json:"env,omitempty" toml:"env,omitempty"`
	OnDead      []Action          `json:"on_dead,omitempty" toml:"on_dead,omitempty"`
}

// QueueDef describes a persisted or external item source.
type QueueDef struct {
	Name         string `json:"name" toml:"name"`
	External     bool   `json:"external,omitempty" toml:"external,omitempty"`
	TakeCommand  string `json:"take_command,omitempty" toml:"take_command,omitempty"`
	ListCommand  string `json:"list_command,omitempty" toml:"list_command,omitempty"`
}

// WorkerDef describes a queue consumer.
type WorkerDef struct {
	Name        string `json:"name" toml:"name"`
	Queue       string `json:"queue" toml:"queue"`
	PipelineKind string `json:"pipeline_kind" toml:"pipeline_kind"`
	Concurrency int    `json:"concurrency" toml:"concurrency"`
}

// CronDef describes an interval trigger.
type CronDef struct {
	Name       string `json:"name" toml:"name"`
	IntervalMS int64  `json:"interval_ms" toml:"interval_ms"`
	RunJob     string `json:"run_job,omitempty" toml:"run_job,omitempty"`
	RunAgent   string `json:"run_agent,omitempty" toml:"run_agent,omitempty"`
}

// CommandDef is a CLI entry point bound to a job.
type CommandDef struct {
	Name string `json:"name" toml:"name"`
	Job  string `json:"job" toml:"job"`
}

// Runbook is the immutable, content-addressed typed form the (external)
// runbook parser produces. The core never sees HCL/TOML/JSON source; it
// only ever consumes this value.
type Runbook struct {
	Hash     string                `json:"hash" toml:"-"`
	Commands map[string]CommandDef `json:"commands" toml:"commands"`
	Jobs     map[string]JobDef     `json:"jobs" toml:"jobs"`
	Agents   map[string]AgentDef   `json:"agents" toml:"agents"`
	Queues   map[string]QueueDef   `json:"queues" toml:"queues"`
	Workers  map[string]WorkerDef  `json:"workers" toml:"workers"`
	Crons    map[string]CronDef    `json:"crons" toml:"crons"`
}

// HashRunbook computes the content hash of a Runbook from its canonical
// JSON form (keys sorted by encoding/json's default map ordering).
func HashRunbook(r *Runbook) (string, error) {
	cp := *r
	cp.Hash = ""
	b, err := json.Marshal(cp)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

package oj

// StepOutcome is the terminal disposition recorded for one step run.
type StepOutcome struct {
	Kind   string `json:"kind"` // running | completed | failed | waiting
	Reason string `json:"reason,omitempty"`
}

// StepRecord is a push-only history entry. The last record is the
// "current" one while the job is non-terminal.
type StepRecord struct {
	Name         string      `json:"name"`
	StartedAtMS  int64       `json:"started_at_ms"`
	FinishedAtMS *int64      `json:"finished_at_ms,omitempty"`
	Outcome      StepOutcome `json:"outcome"`
	AgentID      *AgentID    `json:"agent_id,omitempty"`
	AgentName    string      `json:"agent_name,omitempty"`

	// Supplemented from original_source (crates/daemon/src/protocol.rs
	// AgentSummary): best-effort activity counters, not authoritative
	// across crashes (matches the Non-goal on shell output recovery).
	FilesRead    int `json:"files_read,omitempty"`
	FilesWritten int `json:"files_written,omitempty"`
	CommandsRun  int `json:"commands_run,omitempty"`
}

// Job is the core pipeline state-machine record.
type Job struct {
	ID         JobID      `json:"id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Namespace  string     `json:"namespace"`
	RunbookSha string     `json:"runbook_sha"`

	Step       string     `json:"step"`
	StepStatus StepStatus `json:"step_status"`
	WaitingOn  *DecisionID `json:"waiting_on,omitempty"`

	Variables    map[string]string `json:"variables"`
	WorkspaceID  *WorkspaceID      `json:"workspace_id,omitempty"`
	WorkspacePath string           `json:"workspace_path,omitempty"`
	SessionID    *SessionID        `json:"session_id,omitempty"`
	Error        string            `json:"error,omitempty"`

	StepHistory []StepRecord `json:"step_history"`

	// action_attempts keyed by "trigger:chain_position"
	ActionAttempts map[string]int `json:"action_attempts"`
	TotalRetries   int            `json:"total_retries"`

	StepVisits map[string]int `json:"step_visits"`

	CronName   string `json:"cron_name,omitempty"`
	Cancelling bool   `json:"cancelling"`

	// ParentJobID is set when this job was started by another job's
	// `pipeline:` step; its terminal transition is reported back to
	// that step's on_done/on_fail instead of the ordinary worker/queue
	// bookkeeping a top-level job gets.
	ParentJobID *JobID `json:"parent_job_id,omitempty"`

	CreatedAtMS int64 `json:"created_at_ms"`
	UpdatedAtMS int64 `json:"updated_at_ms"`
}

// IsTerminal reports whether the job has reached done/failed/cancelled.
func (j *Job) IsTerminal() bool {
	return j.Step == StepDone || j.Step == StepTerminalF || j.Step == StepCancelled
}

// CurrentStepRecord returns the last (current) step history entry, or
// nil if the job has no history yet.
func (j *Job) CurrentStepRecord() *StepRecord {
	if len(j.StepHistory) == 0 {
		return nil
	}
	return &j.StepHistory[len(j.StepHistory)-1]
}

// AgentRunStatus is the lifecycle status of a standalone agent run.
type AgentRunStatus string

const (
	AgentRunStarting  AgentRunStatus = "starting"
	AgentRunRunning   AgentRunStatus = "running"
	AgentRunIdle      AgentRunStatus = "idle"
	AgentRunCompleted AgentRunStatus = "completed"
	AgentRunFailed    AgentRunStatus = "failed"
)

func (s AgentRunStatus) IsTerminal() bool {
	return s == AgentRunCompleted || s == AgentRunFailed
}

// AgentRun is a standalone agent execution with no surrounding job.
type AgentRun struct {
	ID          AgentRunID     `json:"id"`
	AgentName   string         `json:"agent_name"`
	CommandName string         `json:"command_name,omitempty"`
	Namespace   string         `json:"namespace"`
	Cwd         string         `json:"cwd"`
	RunbookSha  string         `json:"runbook_sha"`
	Status      AgentRunStatus `json:"status"`

	AgentID   *AgentID   `json:"agent_id,omitempty"`
	SessionID *SessionID `json:"session_id,omitempty"`
	Error     string     `json:"error,omitempty"`

	ActionAttempts map[string]int    `json:"action_attempts"`
	Variables      map[string]string `json:"variables"`

	NudgeCount  int   `json:"nudge_count"`
	CreatedAtMS int64 `json:"created_at_ms"`
	UpdatedAtMS int64 `json:"updated_at_ms"`
}

// AgentStatus is the process-level status of a spawned agent.
type AgentStatus string

const (
	AgentStarting AgentStatus = "starting"
	AgentRunningS AgentStatus = "running"
	AgentIdle     AgentStatus = "idle"
	AgentExited   AgentStatus = "exited"
	AgentGone     AgentStatus = "gone"
)

// AgentRecord is the process-level handle tracked by materialized state.
type AgentRecord struct {
	ID          AgentID     `json:"id"`
	Name        string      `json:"name"`
	Owner       Owner       `json:"owner"`
	Namespace   string      `json:"namespace"`
	Status      AgentStatus `json:"status"`
	UpdatedAtMS int64       `json:"updated_at_ms"`
}

// Session is one terminal-multiplexer session spawned for an agent.
type Session struct {
	ID          SessionID   `json:"id"`
	JobID       *JobID      `json:"job_id,omitempty"`
	AgentRunID  *AgentRunID `json:"agent_run_id,omitempty"`
	UpdatedAtMS int64       `json:"updated_at_ms"`
}

// WorkspaceStatus is the lifecycle status of a workspace.
type WorkspaceStatus string

const (
	WorkspaceCreating WorkspaceStatus = "creating"
	WorkspaceReady    WorkspaceStatus = "ready"
	WorkspaceFailed   WorkspaceStatus = "failed"
	WorkspaceDeleted  WorkspaceStatus = "deleted"
)

// Workspace is a git worktree or plain directory backing a job or agent run.
type Workspace struct {
	ID          WorkspaceID     `json:"id"`
	Path        string          `json:"path"`
	Branch      string          `json:"branch,omitempty"`
	Owner       *Owner          `json:"owner,omitempty"`
	Type        string          `json:"type,omitempty"` // branch | folder | cwd
	Status      WorkspaceStatus `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Namespace   string          `json:"namespace"`
	CreatedAtMS int64           `json:"created_at_ms"`
}

// DecisionSource names what kind of escalation this is.
type DecisionSource string

const (
	DecisionIdle     DecisionSource = "idle"
	DecisionError    DecisionSource = "error"
	DecisionGate     DecisionSource = "gate"
	DecisionApproval DecisionSource = "approval"
	DecisionQuestion DecisionSource = "question"
)

// DecisionOption is one numbered choice the user can pick.
type DecisionOption struct {
	Number      int    `json:"number"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Decision is an unresolved (or resolved) escalation to a human.
type Decision struct {
	ID           DecisionID       `json:"id"`
	JobID        JobID            `json:"job_id"`
	AgentID      *AgentID         `json:"agent_id,omitempty"`
	Owner        Owner            `json:"owner"`
	Source       DecisionSource   `json:"source"`
	Context      string           `json:"context"`
	Options      []DecisionOption `json:"options"`
	Chosen       *int             `json:"chosen,omitempty"`
	Message      string           `json:"message,omitempty"`
	CreatedAtMS  int64            `json:"created_at_ms"`
	ResolvedAtMS *int64           `json:"resolved_at_ms,omitempty"`
	SupersededBy *DecisionID      `json:"superseded_by,omitempty"`
}

func (d *Decision) IsResolved() bool { return d.ResolvedAtMS != nil }

// Orphan is a piece of recovered-but-unexplained state surfaced by
// startup reconciliation: a job breadcrumb with no matching record, or
// a live session with no matching record. The user dismisses it once
// they've confirmed it's accounted for (or already cleaned up by hand).
type Orphan struct {
	ID          string `json:"id"`
	JobID       *JobID `json:"job_id,omitempty"`
	Description string `json:"description"`
	DetectedAtMS int64 `json:"detected_at_ms"`
}

// WorkerStatus is the lifecycle status of a worker.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "running"
	WorkerStopped WorkerStatus = "stopped"
	WorkerPolling WorkerStatus = "polling"
)

// WorkerState is runtime-only state rebuilt from WAL replay.
type WorkerState struct {
	Name           string          `json:"name"`
	QueueName      string          `json:"queue_name"`
	QueueType      string          `json:"queue_type"` // persisted | external
	RunbookSha     string          `json:"runbook_sha"`
	ProjectRoot    string          `json:"project_root"`
	Namespace      string          `json:"namespace"`
	Concurrency    int             `json:"concurrency"`
	ActiveJobs     map[JobID]bool  `json:"active_jobs"`
	ItemPipeline   map[string]JobID `json:"item_pipeline_map"`
	Status         WorkerStatus    `json:"status"`
	InflightItems  int             `json:"inflight_items"`
	PipelineKind   string          `json:"pipeline_kind"`
	TakeTemplate   string          `json:"take_template,omitempty"`
}

// CronStatus is the lifecycle status of a cron.
type CronStatus string

const (
	CronActive  CronStatus = "active"
	CronStopped CronStatus = "stopped"
)

// RunTargetKind selects what a cron fires.
type RunTargetKind string

const (
	RunTargetJob   RunTargetKind = "job"
	RunTargetAgent RunTargetKind = "agent"
)

// CronState is runtime-only state rebuilt from WAL replay.
type CronState struct {
	Name        string        `json:"name"`
	IntervalMS  int64         `json:"interval_ms"`
	TargetKind  RunTargetKind `json:"run_target_kind"`
	TargetName  string        `json:"run_target_name"`
	Namespace   string        `json:"namespace"`
	RunbookSha  string        `json:"runbook_sha"`
	ProjectRoot string        `json:"project_root"`
	Status      CronStatus    `json:"status"`
	LastFireMS  int64         `json:"last_fire_ms"`
}

// QueueItemStatus is the lifecycle status of one persisted queue item.
type QueueItemStatus string

const (
	QueueItemPending   QueueItemStatus = "pending"
	QueueItemActive    QueueItemStatus = "active"
	QueueItemCompleted QueueItemStatus = "completed"
	QueueItemFailed    QueueItemStatus = "failed"
	QueueItemDead      QueueItemStatus = "dead"
)

// QueueItem is one persisted-queue entry.
type QueueItem struct {
	ID             string            `json:"id"`
	Status         QueueItemStatus   `json:"status"`
	Data           map[string]string `json:"data"`
	WorkerName     string            `json:"worker_name,omitempty"`
	PushedAtEpoch  int64             `json:"pushed_at_epoch_ms"`
	FailureCount   int               `json:"failure_count"`
}

// StoredRunbook is a Runbook plus its content hash, kept forever in
// materialized state so events that reference the hash can reconstruct
// definitions.
type StoredRunbook struct {
	Hash      string   `json:"hash"`
	Runbook   *Runbook `json:"runbook"`
	Namespace string   `json:"namespace"`
}

package oj

// EventKind discriminates the closed event enum. Every mutation to
// materialized state enters as one of these, in WAL order, and nothing
// else may mutate state.
type EventKind string

const (
	// Runbook lifecycle.
	EventRunbookLoaded EventKind = "runbook_loaded"

	// Job lifecycle.
	EventJobCreated    EventKind = "job_created"
	EventJobAdvanced   EventKind = "job_advanced"
	EventJobWaiting    EventKind = "job_waiting"
	EventJobResumed    EventKind = "job_resumed"
	EventJobCancelRequested EventKind = "job_cancel_requested"
	EventJobCancelled  EventKind = "job_cancelled"
	EventJobCompleted  EventKind = "job_completed"
	EventJobFailed     EventKind = "job_failed"
	EventJobDeleted    EventKind = "job_deleted"
	EventJobVariableSet EventKind = "job_variable_set"

	// Step lifecycle.
	EventStepStarted EventKind = "step_started"
	EventStepRetried EventKind = "step_retried"

	// Shell execution.
	EventShellStarted EventKind = "shell_started"
	EventShellExited  EventKind = "shell_exited"

	// Agent process lifecycle.
	EventAgentSpawned EventKind = "agent_spawned"
	EventAgentWorking EventKind = "agent_working"
	EventAgentIdle    EventKind = "agent_idle"
	EventAgentExited  EventKind = "agent_exited"
	EventAgentGone    EventKind = "agent_gone"
	EventAgentSignal  EventKind = "agent_signal"
	EventAgentActivityObserved EventKind = "agent_activity_observed"

	// Standalone agent runs.
	EventAgentRunCreated   EventKind = "agent_run_created"
	EventAgentRunCompleted EventKind = "agent_run_completed"
	EventAgentRunFailed    EventKind = "agent_run_failed"
	EventAgentRunNudged    EventKind = "agent_run_nudged"

	// Session lifecycle.
	EventSessionOpened EventKind = "session_opened"
	EventSessionInput  EventKind = "session_input"
	EventSessionClosed EventKind = "session_closed"

	// Workspace lifecycle.
	EventWorkspaceCreated EventKind = "workspace_created"
	EventWorkspaceReady   EventKind = "workspace_ready"
	EventWorkspaceFailed  EventKind = "workspace_failed"
	EventWorkspaceDropped EventKind = "workspace_dropped"

	// Timers.
	EventTimerSet      EventKind = "timer_set"
	EventTimerFired    EventKind = "timer_fired"
	EventTimerCancelled EventKind = "timer_cancelled"

	// Crons.
	EventCronStarted EventKind = "cron_started"
	EventCronFired   EventKind = "cron_fired"
	EventCronStopped EventKind = "cron_stopped"

	// Queues and workers.
	EventQueuePushed          EventKind = "queue_pushed"
	EventQueueItemTaken       EventKind = "queue_item_taken"
	EventQueueItemCompleted   EventKind = "queue_item_completed"
	EventQueueItemFailed      EventKind = "queue_item_failed"
	EventQueueItemRetried     EventKind = "queue_item_retried"
	EventQueueItemDropped     EventKind = "queue_item_dropped"
	EventWorkerStarted        EventKind = "worker_started"
	EventWorkerStopped        EventKind = "worker_stopped"
	EventWorkerItemDispatched EventKind = "worker_item_dispatched"
	EventWorkerSlotFreed      EventKind = "worker_slot_freed"

	// Decisions / escalation.
	EventDecisionCreated    EventKind = "decision_created"
	EventDecisionResolved   EventKind = "decision_resolved"
	EventDecisionSuperseded EventKind = "decision_superseded"

	// Reconciliation / lifecycle bookkeeping.
	EventReconcileStarted  EventKind = "reconcile_started"
	EventOrphanDetected    EventKind = "orphan_detected"
	EventOrphanDismissed   EventKind = "orphan_dismissed"
	EventShutdown          EventKind = "shutdown"

	EventSubPipelineDone EventKind = "sub_pipeline_done"
)

// Event is the single closed envelope every WAL entry carries. Exactly
// one of the typed payload fields is non-nil, selected by Kind. This
// flattened-union shape (rather than a Go interface) keeps JSON
// encode/decode symmetric without a custom UnmarshalJSON per variant.
type Event struct {
	Kind EventKind `json:"kind"`
	AtMS int64     `json:"at_ms"`

	RunbookLoaded    *RunbookLoadedPayload    `json:"runbook_loaded,omitempty"`
	JobCreated       *JobCreatedPayload       `json:"job_created,omitempty"`
	JobAdvanced      *JobAdvancedPayload      `json:"job_advanced,omitempty"`
	JobWaiting       *JobWaitingPayload       `json:"job_waiting,omitempty"`
	JobResumed       *JobResumedPayload       `json:"job_resumed,omitempty"`
	JobCancelRequested *JobCancelRequestedPayload `json:"job_cancel_requested,omitempty"`
	JobCancelled     *JobRefPayload           `json:"job_cancelled,omitempty"`
	JobCompleted     *JobRefPayload           `json:"job_completed,omitempty"`
	JobFailed        *JobFailedPayload        `json:"job_failed,omitempty"`
	JobDeleted       *JobRefPayload           `json:"job_deleted,omitempty"`
	JobVariableSet   *JobVariableSetPayload   `json:"job_variable_set,omitempty"`

	StepStarted *StepStartedPayload `json:"step_started,omitempty"`
	StepRetried *StepRetriedPayload `json:"step_retried,omitempty"`

	ShellStarted *ShellStartedPayload `json:"shell_started,omitempty"`
	ShellExited  *ShellExitedPayload  `json:"shell_exited,omitempty"`

	AgentSpawned *AgentSpawnedPayload `json:"agent_spawned,omitempty"`
	AgentWorking *AgentRefPayload     `json:"agent_working,omitempty"`
	AgentIdle    *AgentRefPayload     `json:"agent_idle,omitempty"`
	AgentExited  *AgentExitedPayload  `json:"agent_exited,omitempty"`
	AgentGone    *AgentRefPayload     `json:"agent_gone,omitempty"`
	AgentSignal  *AgentSignalPayload  `json:"agent_signal,omitempty"`
	AgentActivityObserved *AgentActivityPayload `json:"agent_activity_observed,omitempty"`

	AgentRunCreated   *AgentRunCreatedPayload `json:"agent_run_created,omitempty"`
	AgentRunCompleted *AgentRunRefPayload     `json:"agent_run_completed,omitempty"`
	AgentRunFailed    *AgentRunFailedPayload  `json:"agent_run_failed,omitempty"`
	AgentRunNudged    *AgentRunRefPayload     `json:"agent_run_nudged,omitempty"`

	SessionOpened *SessionOpenedPayload `json:"session_opened,omitempty"`
	SessionInput  *SessionInputPayload  `json:"session_input,omitempty"`
	SessionClosed *SessionRefPayload    `json:"session_closed,omitempty"`

	WorkspaceCreated *WorkspaceCreatedPayload `json:"workspace_created,omitempty"`
	WorkspaceReady   *WorkspaceRefPayload     `json:"workspace_ready,omitempty"`
	WorkspaceFailed  *WorkspaceFailedPayload  `json:"workspace_failed,omitempty"`
	WorkspaceDropped *WorkspaceRefPayload     `json:"workspace_dropped,omitempty"`

	TimerSet       *TimerSetPayload `json:"timer_set,omitempty"`
	TimerFired     *TimerRefPayload `json:"timer_fired,omitempty"`
	TimerCancelled *TimerRefPayload `json:"timer_cancelled,omitempty"`

	CronStarted *CronStartedPayload `json:"cron_started,omitempty"`
	CronFired   *CronRefPayload     `json:"cron_fired,omitempty"`
	CronStopped *CronRefPayload     `json:"cron_stopped,omitempty"`

	QueuePushed        *QueuePushedPayload      `json:"queue_pushed,omitempty"`
	QueueItemTaken     *QueueItemTakenPayload   `json:"queue_item_taken,omitempty"`
	QueueItemCompleted *QueueItemRefPayload     `json:"queue_item_completed,omitempty"`
	QueueItemFailed    *QueueItemFailedPayload  `json:"queue_item_failed,omitempty"`
	QueueItemRetried   *QueueItemRefPayload     `json:"queue_item_retried,omitempty"`
	QueueItemDropped   *QueueItemRefPayload     `json:"queue_item_dropped,omitempty"`
	WorkerStarted        *WorkerStartedPayload  `json:"worker_started,omitempty"`
	WorkerStopped        *WorkerRefPayload      `json:"worker_stopped,omitempty"`
	WorkerItemDispatched *WorkerItemDispatchedPayload `json:"worker_item_dispatched,omitempty"`
	WorkerSlotFreed      *WorkerRefPayload      `json:"worker_slot_freed,omitempty"`

	DecisionCreated    *DecisionCreatedPayload  `json:"decision_created,omitempty"`
	DecisionResolved   *DecisionResolvedPayload `json:"decision_resolved,omitempty"`
	DecisionSuperseded *DecisionSupersededPayload `json:"decision_superseded,omitempty"`

	ReconcileStarted *ReconcileStartedPayload `json:"reconcile_started,omitempty"`
	OrphanDetected   *OrphanDetectedPayload   `json:"orphan_detected,omitempty"`
	OrphanDismissed  *OrphanDismissedPayload  `json:"orphan_dismissed,omitempty"`
	Shutdown         *ShutdownPayload         `json:"shutdown,omitempty"`

	SubPipelineDone *SubPipelineDonePayload `json:"sub_pipeline_done,omitempty"`
}

// --- payload structs, grouped by the event they belong to ---

type RunbookLoadedPayload struct {
	Hash      string   `json:"hash"`
	Runbook   *Runbook `json:"runbook"`
	Namespace string   `json:"namespace"`
}

type JobCreatedPayload struct {
	ID          JobID             `json:"id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Namespace   string            `json:"namespace"`
	RunbookSha  string            `json:"runbook_sha"`
	FirstStep   string            `json:"first_step"`
	Variables   map[string]string `json:"variables"`
	WorkspaceID *WorkspaceID      `json:"workspace_id,omitempty"`
	CronName    string            `json:"cron_name,omitempty"`

	// ParentJobID is set for a job started by a `pipeline:` step of
	// another job; its completion routes back to the parent's on_done
	// /on_fail instead of freeing a worker slot or queue item directly.
	ParentJobID *JobID `json:"parent_job_id,omitempty"`
}

// SubPipelineDonePayload notifies a parent job that the sub-pipeline it
// started via a `pipeline:` step has reached a terminal state.
// Outcome is "done", "failed", or "cancelled".
type SubPipelineDonePayload struct {
	ParentJobID JobID  `json:"parent_job_id"`
	ChildJobID  JobID  `json:"child_job_id"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
}

type JobAdvancedPayload struct {
	ID      JobID       `json:"id"`
	Step    string      `json:"step"`
	Status  StepStatus  `json:"status"`
	Outcome StepOutcome `json:"outcome"`
}

type JobWaitingPayload struct {
	ID         JobID      `json:"id"`
	DecisionID DecisionID `json:"decision_id"`
}

type JobResumedPayload struct {
	ID        JobID             `json:"id"`
	Message   string            `json:"message,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

type JobCancelRequestedPayload struct {
	ID JobID `json:"id"`
}

type JobRefPayload struct {
	ID JobID `json:"id"`
}

type JobFailedPayload struct {
	ID    JobID  `json:"id"`
	Error string `json:"error"`
}

type JobVariableSetPayload struct {
	ID    JobID  `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type StepStartedPayload struct {
	JobID     JobID    `json:"job_id"`
	StepName  string   `json:"step_name"`
	AgentID   *AgentID `json:"agent_id,omitempty"`
	AgentName string   `json:"agent_name,omitempty"`
}

type StepRetriedPayload struct {
	JobID        JobID  `json:"job_id"`
	StepName     string `json:"step_name"`
	TriggerKind  string `json:"trigger_kind"`
	ChainPos     int    `json:"chain_pos"`
	Attempt      int    `json:"attempt"`
}

type ShellStartedPayload struct {
	JobID    JobID  `json:"job_id"`
	StepName string `json:"step_name"`
	Command  string `json:"command"`
}

type ShellExitedPayload struct {
	JobID    JobID             `json:"job_id"`
	StepName string            `json:"step_name"`
	ExitCode int               `json:"exit_code"`
	Outputs  map[string]string `json:"outputs,omitempty"`
	IsGate   bool              `json:"is_gate,omitempty"`
}

type AgentSpawnedPayload struct {
	ID          AgentID `json:"id"`
	Name        string  `json:"name"`
	Owner       Owner   `json:"owner"`
	Namespace   string  `json:"namespace"`
	SessionID   SessionID `json:"session_id"`
}

type AgentRefPayload struct {
	ID AgentID `json:"id"`
}

type AgentExitedPayload struct {
	ID         AgentID `json:"id"`
	ExitReason string  `json:"exit_reason"`
}

type AgentSignalPayload struct {
	ID      AgentID `json:"id"`
	Kind    string  `json:"kind"`
	Message string  `json:"message,omitempty"`
}

type AgentActivityPayload struct {
	ID           AgentID `json:"id"`
	FilesRead    int     `json:"files_read,omitempty"`
	FilesWritten int     `json:"files_written,omitempty"`
	CommandsRun  int     `json:"commands_run,omitempty"`
}

type AgentRunCreatedPayload struct {
	ID          AgentRunID        `json:"id"`
	AgentName   string            `json:"agent_name"`
	CommandName string            `json:"command_name,omitempty"`
	Namespace   string            `json:"namespace"`
	Cwd         string            `json:"cwd"`
	RunbookSha  string            `json:"runbook_sha"`
	Variables   map[string]string `json:"variables,omitempty"`
}

type AgentRunRefPayload struct {
	ID AgentRunID `json:"id"`
}

type AgentRunFailedPayload struct {
	ID    AgentRunID `json:"id"`
	Error string     `json:"error"`
}

type SessionOpenedPayload struct {
	ID    SessionID `json:"id"`
	Owner Owner     `json:"owner"`
}

type SessionInputPayload struct {
	ID    SessionID `json:"id"`
	Input string    `json:"input"`
}

type SessionRefPayload struct {
	ID SessionID `json:"id"`
}

type WorkspaceCreatedPayload struct {
	ID        WorkspaceID `json:"id"`
	Path      string      `json:"path"`
	Branch    string      `json:"branch,omitempty"`
	Owner     *Owner      `json:"owner,omitempty"`
	Type      string      `json:"type,omitempty"`
	Namespace string      `json:"namespace"`
}

type WorkspaceRefPayload struct {
	ID WorkspaceID `json:"id"`
}

type WorkspaceFailedPayload struct {
	ID     WorkspaceID `json:"id"`
	Reason string      `json:"reason"`
}

type TimerSetPayload struct {
	ID       TimerID `json:"id"`
	FireAtMS int64   `json:"fire_at_ms"`
	Owner    Owner   `json:"owner"`
	Label    string  `json:"label,omitempty"`
}

type TimerRefPayload struct {
	ID TimerID `json:"id"`

	// Owner and Label are only populated on a live TimerFired event (the
	// scheduler hands both to the daemon at fire time); TimerCancelled
	// never sets them. They let the reducer route the firing to the
	// owning job without a separate state lookup.
	Owner Owner  `json:"owner,omitempty"`
	Label string `json:"label,omitempty"`
}

type CronStartedPayload struct {
	Name        string        `json:"name"`
	IntervalMS  int64         `json:"interval_ms"`
	TargetKind  RunTargetKind `json:"run_target_kind"`
	TargetName  string        `json:"run_target_name"`
	Namespace   string        `json:"namespace"`
	RunbookSha  string        `json:"runbook_sha"`
	ProjectRoot string        `json:"project_root"`
}

type CronRefPayload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type QueuePushedPayload struct {
	QueueName string            `json:"queue_name"`
	Namespace string            `json:"namespace"`
	ItemID    string            `json:"item_id"`
	Data      map[string]string `json:"data"`
}

type QueueItemTakenPayload struct {
	QueueName  string `json:"queue_name"`
	Namespace  string `json:"namespace"`
	ItemID     string `json:"item_id"`
	WorkerName string `json:"worker_name"`
	JobID      JobID  `json:"job_id"`
}

type QueueItemRefPayload struct {
	QueueName string `json:"queue_name"`
	Namespace string `json:"namespace"`
	ItemID    string `json:"item_id"`
}

type QueueItemFailedPayload struct {
	QueueName string `json:"queue_name"`
	Namespace string `json:"namespace"`
	ItemID    string `json:"item_id"`
	Error     string `json:"error"`
	Dead      bool   `json:"dead"`
}

type WorkerStartedPayload struct {
	Name         string `json:"name"`
	QueueName    string `json:"queue_name"`
	Namespace    string `json:"namespace"`
	RunbookSha   string `json:"runbook_sha"`
	ProjectRoot  string `json:"project_root"`
	Concurrency  int    `json:"concurrency"`
	PipelineKind string `json:"pipeline_kind"`
}

type WorkerRefPayload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type WorkerItemDispatchedPayload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	ItemID    string `json:"item_id"`
	JobID     JobID  `json:"job_id"`
}

type DecisionCreatedPayload struct {
	ID      DecisionID       `json:"id"`
	JobID   JobID            `json:"job_id"`
	AgentID *AgentID         `json:"agent_id,omitempty"`
	Owner   Owner            `json:"owner"`
	Source  DecisionSource   `json:"source"`
	Context string           `json:"context"`
	Options []DecisionOption `json:"options"`
}

type DecisionResolvedPayload struct {
	ID      DecisionID `json:"id"`
	Chosen  *int       `json:"chosen,omitempty"`
	Message string     `json:"message,omitempty"`
}

type DecisionSupersededPayload struct {
	ID          DecisionID `json:"id"`
	SupersededBy DecisionID `json:"superseded_by"`
}

type ReconcileStartedPayload struct {
	AtMS int64 `json:"at_ms"`
}

type OrphanDetectedPayload struct {
	ID          string `json:"id"`
	JobID       *JobID `json:"job_id,omitempty"`
	Owner       Owner  `json:"owner,omitempty"`
	Description string `json:"description"`
}

type OrphanDismissedPayload struct {
	ID string `json:"id"`
}

type ShutdownPayload struct {
	Reason string `json:"reason,omitempty"`
}

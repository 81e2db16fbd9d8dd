// Package ipc defines the daemon's wire protocol: a 4-byte big-endian
// length-prefixed JSON envelope over a unix domain socket, and the
// closed Request/Query/Response types carried inside it.
package ipc

import (
	"github.com/ojdaemon/ojd/internal/oj"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 200 * 1024 * 1024

// RequestKind discriminates the closed request enum.
type RequestKind string

const (
	ReqPing             RequestKind = "ping"
	ReqHello            RequestKind = "hello"
	ReqEvent            RequestKind = "event"
	ReqQuery            RequestKind = "query"
	ReqShutdown         RequestKind = "shutdown"
	ReqStatus           RequestKind = "status"
	ReqSessionSend      RequestKind = "session_send"
	ReqAgentSend        RequestKind = "agent_send"
	ReqPipelineResume   RequestKind = "pipeline_resume"
	ReqPipelineCancel   RequestKind = "pipeline_cancel"
	ReqRunCommand       RequestKind = "run_command"
	ReqWorkspaceDrop     RequestKind = "workspace_drop"
	ReqWorkspaceDropFailed RequestKind = "workspace_drop_failed"
	ReqWorkspaceDropAll  RequestKind = "workspace_drop_all"
	ReqPeekSession       RequestKind = "peek_session"
	ReqWorkspacePrune    RequestKind = "workspace_prune"
	ReqWorkerStart       RequestKind = "worker_start"
	ReqWorkerWake        RequestKind = "worker_wake"
	ReqWorkerStop        RequestKind = "worker_stop"
	ReqQueuePush         RequestKind = "queue_push"
	ReqQueueDrop         RequestKind = "queue_drop"
	ReqQueueRetry        RequestKind = "queue_retry"
	ReqOrphanDismiss     RequestKind = "orphan_dismiss"
)

// QueryKind discriminates the closed query enum (a Request's payload
// when Kind == ReqQuery).
type QueryKind string

const (
	QueryListPipelines  QueryKind = "list_pipelines"
	QueryGetPipeline    QueryKind = "get_pipeline"
	QueryListSessions   QueryKind = "list_sessions"
	QueryListWorkspaces QueryKind = "list_workspaces"
	QueryGetWorkspace   QueryKind = "get_workspace"
	QueryGetPipelineLogs QueryKind = "get_pipeline_logs"
	QueryGetAgentLogs   QueryKind = "get_agent_logs"
	QueryGetAgentSignal QueryKind = "get_agent_signal"
	QueryListQueueItems QueryKind = "list_queue_items"
	QueryListWorkers    QueryKind = "list_workers"
	QueryListDecisions  QueryKind = "list_decisions"
	QueryListOrphans    QueryKind = "list_orphans"
)

// Query is the payload of a ReqQuery request.
type Query struct {
	Kind QueryKind `json:"kind"`

	ID          string `json:"id,omitempty"`
	Namespace   string `json:"namespace,omitempty"`
	Lines       int    `json:"lines,omitempty"`
	Step        string `json:"step,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	QueueName   string `json:"queue_name,omitempty"`
}

// Request is the single closed envelope read off the socket.
type Request struct {
	Kind RequestKind `json:"kind"`

	Hello           *HelloRequest           `json:"hello,omitempty"`
	Event           *oj.Event               `json:"event,omitempty"`
	Query           *Query                  `json:"query,omitempty"`
	Shutdown        *ShutdownRequest        `json:"shutdown,omitempty"`
	SessionSend     *SessionSendRequest     `json:"session_send,omitempty"`
	AgentSend       *AgentSendRequest       `json:"agent_send,omitempty"`
	PipelineResume  *PipelineResumeRequest  `json:"pipeline_resume,omitempty"`
	PipelineCancel  *PipelineCancelRequest  `json:"pipeline_cancel,omitempty"`
	RunCommand      *RunCommandRequest      `json:"run_command,omitempty"`
	WorkspaceDrop   *WorkspaceDropRequest   `json:"workspace_drop,omitempty"`
	PeekSession     *PeekSessionRequest     `json:"peek_session,omitempty"`
	WorkspacePrune  *WorkspacePruneRequest  `json:"workspace_prune,omitempty"`
	WorkerStart     *WorkerStartRequest     `json:"worker_start,omitempty"`
	WorkerWake      *WorkerRefRequest       `json:"worker_wake,omitempty"`
	WorkerStop      *WorkerRefRequest       `json:"worker_stop,omitempty"`
	QueuePush       *QueuePushRequest       `json:"queue_push,omitempty"`
	QueueDrop       *QueueItemRefRequest    `json:"queue_drop,omitempty"`
	QueueRetry      *QueueItemRefRequest    `json:"queue_retry,omitempty"`
	OrphanDismiss   *OrphanRefRequest       `json:"orphan_dismiss,omitempty"`
}

type HelloRequest struct {
	Version string `json:"version"`
}

type ShutdownRequest struct {
	Kill bool `json:"kill"`
}

type SessionSendRequest struct {
	ID    string `json:"id"`
	Input string `json:"input"`
}

type AgentSendRequest struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

type PipelineResumeRequest struct {
	ID      string            `json:"id"`
	Message string            `json:"message,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
}

type PipelineCancelRequest struct {
	IDs []string `json:"ids"`
}

type RunCommandRequest struct {
	ProjectRoot string            `json:"project_root"`
	InvokeDir   string            `json:"invoke_dir"`
	Namespace   string            `json:"namespace"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	NamedArgs   map[string]string `json:"named_args,omitempty"`
}

type WorkspaceDropRequest struct {
	ID string `json:"id"`
}

type PeekSessionRequest struct {
	SessionID string `json:"session_id"`
	WithColor bool   `json:"with_color"`
}

type WorkspacePruneRequest struct {
	All     bool `json:"all"`
	DryRun  bool `json:"dry_run"`
}

type WorkerStartRequest struct {
	ProjectRoot string `json:"project_root"`
	Namespace   string `json:"namespace"`
	WorkerName  string `json:"worker_name"`
}

type WorkerRefRequest struct {
	WorkerName string `json:"worker_name"`
	Namespace  string `json:"namespace"`
}

type QueuePushRequest struct {
	ProjectRoot string            `json:"project_root"`
	Namespace   string            `json:"namespace"`
	QueueName   string            `json:"queue_name"`
	Data        map[string]string `json:"data"`
}

type QueueItemRefRequest struct {
	Namespace string `json:"namespace"`
	QueueName string `json:"queue_name"`
	ItemID    string `json:"item_id"`
}

type OrphanRefRequest struct {
	ID string `json:"id"`
}

// ResponseKind discriminates the closed response enum.
type ResponseKind string

const (
	RespPong               ResponseKind = "pong"
	RespHello              ResponseKind = "hello"
	RespOK                 ResponseKind = "ok"
	RespError              ResponseKind = "error"
	RespStatus             ResponseKind = "status"
	RespPipelines          ResponseKind = "pipelines"
	RespPipeline           ResponseKind = "pipeline"
	RespPipelinesCancelled ResponseKind = "pipelines_cancelled"
	RespSessions           ResponseKind = "sessions"
	RespWorkspaces         ResponseKind = "workspaces"
	RespWorkspace          ResponseKind = "workspace"
	RespWorkspacesDropped  ResponseKind = "workspaces_dropped"
	RespWorkspacesPruned   ResponseKind = "workspaces_pruned"
	RespLogs               ResponseKind = "logs"
	RespAgentSignal        ResponseKind = "agent_signal"
	RespQueueItems         ResponseKind = "queue_items"
	RespWorkers            ResponseKind = "workers"
	RespDecisions          ResponseKind = "decisions"
	RespOrphans            ResponseKind = "orphans"
)

// Response is the single closed envelope written back to the socket.
type Response struct {
	Kind ResponseKind `json:"kind"`

	Hello              *HelloResponse              `json:"hello,omitempty"`
	Error              *ErrorResponse              `json:"error,omitempty"`
	Status             *StatusResponse             `json:"status,omitempty"`
	Pipelines          []PipelineSummary           `json:"pipelines,omitempty"`
	Pipeline           *PipelineDetail             `json:"pipeline,omitempty"`
	PipelinesCancelled *PipelinesCancelledResponse `json:"pipelines_cancelled,omitempty"`
	Sessions           []SessionSummary            `json:"sessions,omitempty"`
	Workspaces         []WorkspaceSummary          `json:"workspaces,omitempty"`
	Workspace          *WorkspaceDetail            `json:"workspace,omitempty"`
	WorkspacesDropped  *WorkspacesDroppedResponse  `json:"workspaces_dropped,omitempty"`
	WorkspacesPruned   *WorkspacesPrunedResponse   `json:"workspaces_pruned,omitempty"`
	Logs               []string                    `json:"logs,omitempty"`
	AgentSignal        *AgentSignalResponse        `json:"agent_signal,omitempty"`
	QueueItems         []QueueItemSummary          `json:"queue_items,omitempty"`
	Workers            []WorkerSummary             `json:"workers,omitempty"`
	Decisions          []DecisionSummary           `json:"decisions,omitempty"`
	Orphans            []OrphanSummary             `json:"orphans,omitempty"`
}

type HelloResponse struct {
	Version string `json:"version"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type StatusResponse struct {
	Uptime       int64 `json:"uptime_ms"`
	JobCount     int   `json:"job_count"`
	AgentCount   int   `json:"agent_count"`
	SessionCount int   `json:"session_count"`

	// DecisionCount is every decision still open; EscalatedCount is the
	// same number under the name the status line actually shows, kept
	// distinct in case escalation ever gains criteria beyond "unresolved".
	DecisionCount  int `json:"decision_count"`
	EscalatedCount int `json:"escalated_count"`
	OrphanCount    int `json:"orphan_count"`
}

type PipelineSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Step      string `json:"step"`
	Status    string `json:"status"`
	Namespace string `json:"namespace"`
}

type StepRecordDetail struct {
	Name        string `json:"name"`
	StartedAtMS int64  `json:"started_at_ms"`
	FinishedAtMS *int64 `json:"finished_at_ms,omitempty"`
	Outcome     string `json:"outcome"`
}

type PipelineDetail struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Step        string             `json:"step"`
	Status      string             `json:"status"`
	Variables   map[string]string  `json:"variables"`
	Error       string             `json:"error,omitempty"`
	StepHistory []StepRecordDetail `json:"step_history"`
	ParentJobID string             `json:"parent_job_id,omitempty"`
}

type PipelinesCancelledResponse struct {
	Cancelled     []string `json:"cancelled"`
	AlreadyTerminal []string `json:"already_terminal"`
	NotFound      []string `json:"not_found"`
}

type AgentSummary struct {
	StepName     string `json:"step_name"`
	AgentID      string `json:"agent_id"`
	Status       string `json:"status"`
	FilesRead    int    `json:"files_read"`
	FilesWritten int    `json:"files_written"`
	CommandsRun  int    `json:"commands_run"`
	ExitReason   string `json:"exit_reason,omitempty"`
}

type SessionSummary struct {
	ID          string `json:"id"`
	OwnerKind   string `json:"owner_kind"`
	OwnerID     string `json:"owner_id"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
}

type WorkspaceSummary struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Status string `json:"status"`
}

type WorkspaceEntry struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type WorkspaceDetail struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type WorkspacesDroppedResponse struct {
	Dropped []string `json:"dropped"`
}

type WorkspacesPrunedResponse struct {
	Pruned  []string `json:"pruned"`
	Skipped []string `json:"skipped"`
}

type AgentSignalResponse struct {
	Signaled bool   `json:"signaled"`
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message,omitempty"`
}

type QueueItemSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type DecisionOptionSummary struct {
	Number      int    `json:"number"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Recommended bool   `json:"recommended,omitempty"`
}

type DecisionSummary struct {
	ID        string                  `json:"id"`
	JobID     string                  `json:"job_id"`
	Context   string                  `json:"context"`
	Options   []DecisionOptionSummary `json:"options"`
	Resolved  bool                    `json:"resolved"`
	CreatedAtMS int64                 `json:"created_at_ms"`
}

type OrphanSummary struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id,omitempty"`
	Description  string `json:"description"`
	DetectedAtMS int64  `json:"detected_at_ms"`
}

type WorkerSummary struct {
	Name        string `json:"name"`
	QueueName   string `json:"queue_name"`
	Status      string `json:"status"`
	Concurrency int    `json:"concurrency"`
	Inflight    int    `json:"inflight_items"`
}

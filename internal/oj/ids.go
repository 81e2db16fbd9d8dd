// Package oj holds the closed data model shared by every daemon
// component: identifiers, events, effects, and the entity records the
// reducer maintains.
package oj

import "github.com/google/uuid"

// JobID identifies a job (pipeline). The source distinguished JobId from
// PipelineId; both were opaque string UUIDs used interchangeably, so this
// implementation collapses them into one type.
type JobID string

// AgentID identifies a spawned agent process.
type AgentID string

// AgentRunID identifies a standalone agent execution outside any job.
type AgentRunID string

// SessionID identifies a terminal-multiplexer session.
type SessionID string

// WorkspaceID identifies a workspace (git worktree or plain directory).
type WorkspaceID string

// TimerID identifies a one-shot scheduler timer.
type TimerID string

// DecisionID identifies an escalation awaiting human resolution.
type DecisionID string

// NewJobID, NewAgentID, etc. generate fresh random identifiers.
func NewJobID() JobID             { return JobID(uuid.NewString()) }
func NewAgentID() AgentID         { return AgentID(uuid.NewString()) }
func NewAgentRunID() AgentRunID   { return AgentRunID(uuid.NewString()) }
func NewSessionID() SessionID     { return SessionID(uuid.NewString()) }
func NewWorkspaceID() WorkspaceID { return WorkspaceID(uuid.NewString()) }
func NewTimerID() TimerID         { return TimerID(uuid.NewString()) }
func NewDecisionID() DecisionID   { return DecisionID(uuid.NewString()) }

// NewQueueItemID generates a fresh id for a pushed queue item. QueueItem.ID
// is a plain string rather than a distinct named type since queue items
// are addressed by the same string the caller used to push them.
func NewQueueItemID() string { return uuid.NewString() }

// OwnerKind distinguishes the two things that can own an agent, a
// decision, or a workspace.
type OwnerKind string

const (
	OwnerJob      OwnerKind = "job"
	OwnerAgentRun OwnerKind = "agent_run"
)

// Owner is the tagged union `OwnerId` from the data model: a job or a
// standalone agent run.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func JobOwner(id JobID) Owner            { return Owner{Kind: OwnerJob, ID: string(id)} }
func AgentRunOwner(id AgentRunID) Owner   { return Owner{Kind: OwnerAgentRun, ID: string(id)} }
func (o Owner) IsJob() bool              { return o.Kind == OwnerJob }
func (o Owner) IsAgentRun() bool         { return o.Kind == OwnerAgentRun }
func (o Owner) JobID() JobID             { return JobID(o.ID) }
func (o Owner) AgentRunID() AgentRunID   { return AgentRunID(o.ID) }
func (o Owner) String() string           { return string(o.Kind) + ":" + o.ID }

// Package state holds the Materialized State component: a single
// struct rebuilt by folding the write-ahead log's events through one
// pure reducer, ApplyEvent. Nothing else may mutate it.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/ojdaemon/ojd/internal/oj"
)

func workerKey(namespace, name string) string { return namespace + ":" + name }
func cronKey(namespace, name string) string    { return namespace + ":" + name }
func queueItemKey(namespace, queueName, itemID string) string {
	return namespace + ":" + queueName + ":" + itemID
}

// State is the full materialized view every listener query and runtime
// transition reads from.
type State struct {
	Jobs       map[oj.JobID]*oj.Job               `json:"jobs"`
	AgentRuns  map[oj.AgentRunID]*oj.AgentRun      `json:"agent_runs"`
	Agents     map[oj.AgentID]*oj.AgentRecord      `json:"agents"`
	Sessions   map[oj.SessionID]*oj.Session        `json:"sessions"`
	Workspaces map[oj.WorkspaceID]*oj.Workspace    `json:"workspaces"`
	Decisions  map[oj.DecisionID]*oj.Decision      `json:"decisions"`
	Workers    map[string]*oj.WorkerState          `json:"workers"`
	Crons      map[string]*oj.CronState            `json:"crons"`
	QueueItems map[string]*oj.QueueItem            `json:"queue_items"`
	Runbooks   map[string]*oj.StoredRunbook         `json:"runbooks"`

	// Orphans holds recovered-but-unexplained state surfaced by startup
	// reconciliation (a breadcrumb with no matching job record, or a
	// live session with no matching record), keyed by OrphanDetectedPayload.ID,
	// until the user dismisses it.
	Orphans map[string]*oj.Orphan `json:"orphans"`

	// ActiveRunbooks maps a namespace to the hash of the most recently
	// loaded runbook for it, so a request identified only by namespace
	// (starting a worker, running a command) can resolve which Runbook
	// definitions apply without the caller re-sending the hash.
	ActiveRunbooks map[string]string `json:"active_runbooks"`

	// AgentOwners is the cyclic ownership map: the current owner (job or
	// agent run) of every live agent, kept independent of Agents so an
	// agent record can outlive its owner briefly during teardown without
	// leaving ownership ambiguous.
	AgentOwners map[oj.AgentID]oj.Owner `json:"agent_owners"`

	// AgentSessions maps a live agent to the tmux session backing it, so
	// a SendToAgent effect (addressed by AgentID) can be resolved to the
	// SessionID the session adapter actually needs.
	AgentSessions map[oj.AgentID]oj.SessionID `json:"agent_sessions"`

	// LastAppliedSeq is the WAL sequence number of the last event folded
	// into this state. Snapshots persist it so replay resumes exactly
	// where the snapshot left off.
	LastAppliedSeq uint64 `json:"last_applied_seq"`
}

// New returns an empty, ready-to-fold State.
func New() *State {
	return &State{
		Jobs:           make(map[oj.JobID]*oj.Job),
		AgentRuns:      make(map[oj.AgentRunID]*oj.AgentRun),
		Agents:         make(map[oj.AgentID]*oj.AgentRecord),
		Sessions:       make(map[oj.SessionID]*oj.Session),
		Workspaces:     make(map[oj.WorkspaceID]*oj.Workspace),
		Decisions:      make(map[oj.DecisionID]*oj.Decision),
		Workers:        make(map[string]*oj.WorkerState),
		Crons:          make(map[string]*oj.CronState),
		QueueItems:     make(map[string]*oj.QueueItem),
		Runbooks:       make(map[string]*oj.StoredRunbook),
		Orphans:        make(map[string]*oj.Orphan),
		ActiveRunbooks: make(map[string]string),
		AgentOwners:    make(map[oj.AgentID]oj.Owner),
		AgentSessions:  make(map[oj.AgentID]oj.SessionID),
	}
}

// Snapshot marshals the state to JSON for checkpointing.
func (s *State) Snapshot() ([]byte, error) {
	return json.Marshal(s)
}

// LoadSnapshot rebuilds a State from a checkpoint written by Snapshot.
func LoadSnapshot(data []byte) (*State, error) {
	s := New()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Jobs == nil {
		s.Jobs = make(map[oj.JobID]*oj.Job)
	}
	if s.AgentRuns == nil {
		s.AgentRuns = make(map[oj.AgentRunID]*oj.AgentRun)
	}
	if s.Agents == nil {
		s.Agents = make(map[oj.AgentID]*oj.AgentRecord)
	}
	if s.Sessions == nil {
		s.Sessions = make(map[oj.SessionID]*oj.Session)
	}
	if s.Workspaces == nil {
		s.Workspaces = make(map[oj.WorkspaceID]*oj.Workspace)
	}
	if s.Decisions == nil {
		s.Decisions = make(map[oj.DecisionID]*oj.Decision)
	}
	if s.Workers == nil {
		s.Workers = make(map[string]*oj.WorkerState)
	}
	if s.Crons == nil {
		s.Crons = make(map[string]*oj.CronState)
	}
	if s.QueueItems == nil {
		s.QueueItems = make(map[string]*oj.QueueItem)
	}
	if s.Runbooks == nil {
		s.Runbooks = make(map[string]*oj.StoredRunbook)
	}
	if s.Orphans == nil {
		s.Orphans = make(map[string]*oj.Orphan)
	}
	if s.ActiveRunbooks == nil {
		s.ActiveRunbooks = make(map[string]string)
	}
	if s.AgentOwners == nil {
		s.AgentOwners = make(map[oj.AgentID]oj.Owner)
	}
	if s.AgentSessions == nil {
		s.AgentSessions = make(map[oj.AgentID]oj.SessionID)
	}
	return s, nil
}

// ApplyEvent is the single reducer every event in the system passes
// through, in WAL order. It is pure with respect to the outside world:
// it only ever reads and writes fields of s, never performs I/O, and
// applying the same event twice against the same prior state (the
// idempotent-creation invariant) must leave the state unchanged the
// second time.
func ApplyEvent(s *State, seq uint64, ev oj.Event) error {
	switch ev.Kind {

	case oj.EventRunbookLoaded:
		p := ev.RunbookLoaded
		if _, exists := s.Runbooks[p.Hash]; !exists {
			s.Runbooks[p.Hash] = &oj.StoredRunbook{Hash: p.Hash, Runbook: p.Runbook, Namespace: p.Namespace}
		}
		s.ActiveRunbooks[p.Namespace] = p.Hash

	case oj.EventJobCreated:
		p := ev.JobCreated
		if _, exists := s.Jobs[p.ID]; exists {
			break // idempotent: a replayed create is a no-op
		}
		s.Jobs[p.ID] = &oj.Job{
			ID:          p.ID,
			Name:        p.Name,
			Kind:        p.Kind,
			Namespace:   p.Namespace,
			RunbookSha:  p.RunbookSha,
			Step:        p.FirstStep,
			StepStatus:  oj.StepPending,
			Variables:   copyStringMap(p.Variables),
			WorkspaceID: p.WorkspaceID,
			CronName:    p.CronName,
			ParentJobID: p.ParentJobID,
			ActionAttempts: make(map[string]int),
			StepVisits:     make(map[string]int),
			StepHistory: []oj.StepRecord{{
				Name:        p.FirstStep,
				StartedAtMS: ev.AtMS,
			}},
			CreatedAtMS:    ev.AtMS,
			UpdatedAtMS:    ev.AtMS,
		}

	case oj.EventJobAdvanced:
		p := ev.JobAdvanced
		j, ok := s.Jobs[p.ID]
		if !ok {
			break
		}
		j.Step = p.Step
		j.StepStatus = p.Status
		j.StepVisits[p.Step]++
		j.UpdatedAtMS = ev.AtMS
		j.StepHistory = append(j.StepHistory, oj.StepRecord{
			Name:        p.Step,
			StartedAtMS: ev.AtMS,
			Outcome:     p.Outcome,
		})

	case oj.EventJobWaiting:
		p := ev.JobWaiting
		if j, ok := s.Jobs[p.ID]; ok {
			j.StepStatus = oj.StepWaiting
			j.WaitingOn = &p.DecisionID
			j.UpdatedAtMS = ev.AtMS
		}

	case oj.EventJobResumed:
		p := ev.JobResumed
		if j, ok := s.Jobs[p.ID]; ok {
			j.WaitingOn = nil
			j.StepStatus = oj.StepRunning
			for k, v := range p.Variables {
				j.Variables[k] = v
			}
			j.UpdatedAtMS = ev.AtMS
		}

	case oj.EventJobCancelRequested:
		if j, ok := s.Jobs[ev.JobCancelRequested.ID]; ok {
			j.Cancelling = true
			j.UpdatedAtMS = ev.AtMS
		}

	case oj.EventJobCancelled:
		if j, ok := s.Jobs[ev.JobCancelled.ID]; ok {
			finishTerminal(j, oj.StepCancelled, ev.AtMS)
			clearAgentOwnership(s, oj.JobOwner(j.ID))
		}

	case oj.EventJobCompleted:
		if j, ok := s.Jobs[ev.JobCompleted.ID]; ok {
			finishTerminal(j, oj.StepDone, ev.AtMS)
			clearAgentOwnership(s, oj.JobOwner(j.ID))
		}

	case oj.EventJobFailed:
		p := ev.JobFailed
		if j, ok := s.Jobs[p.ID]; ok {
			j.Error = p.Error
			finishTerminal(j, oj.StepTerminalF, ev.AtMS)
			clearAgentOwnership(s, oj.JobOwner(j.ID))
		}

	case oj.EventJobDeleted:
		p := ev.JobDeleted
		// Source correction: deleting a job must also clear every
		// agent_owners entry pointing at it, not just the job record,
		// or a later agent event resolves against a dangling owner.
		clearAgentOwnership(s, oj.JobOwner(p.ID))
		delete(s.Jobs, p.ID)

	case oj.EventJobVariableSet:
		p := ev.JobVariableSet
		if j, ok := s.Jobs[p.ID]; ok {
			j.Variables[p.Name] = p.Value
			j.UpdatedAtMS = ev.AtMS
		}

	case oj.EventStepStarted:
		p := ev.StepStarted
		if j, ok := s.Jobs[p.JobID]; ok {
			j.StepStatus = oj.StepRunning
			j.UpdatedAtMS = ev.AtMS
			if cur := j.CurrentStepRecord(); cur != nil && cur.Name == p.StepName && cur.FinishedAtMS == nil {
				cur.AgentID = p.AgentID
				cur.AgentName = p.AgentName
			}
		}

	case oj.EventStepRetried:
		p := ev.StepRetried
		if j, ok := s.Jobs[p.JobID]; ok {
			key := fmt.Sprintf("%s:%d", p.TriggerKind, p.ChainPos)
			j.ActionAttempts[key] = p.Attempt
			j.TotalRetries++
			j.UpdatedAtMS = ev.AtMS
		}

	case oj.EventShellExited:
		p := ev.ShellExited
		if j, ok := s.Jobs[p.JobID]; ok {
			if cur := j.CurrentStepRecord(); cur != nil && cur.Name == p.StepName {
				at := ev.AtMS
				cur.FinishedAtMS = &at
				if p.ExitCode == 0 {
					cur.Outcome = oj.StepOutcome{Kind: "completed"}
				} else {
					cur.Outcome = oj.StepOutcome{Kind: "failed", Reason: fmt.Sprintf("exit code %d", p.ExitCode)}
				}
			}
			j.UpdatedAtMS = ev.AtMS
		}

	case oj.EventAgentSpawned:
		p := ev.AgentSpawned
		if _, exists := s.Agents[p.ID]; !exists {
			s.Agents[p.ID] = &oj.AgentRecord{
				ID: p.ID, Name: p.Name, Owner: p.Owner, Namespace: p.Namespace,
				Status: oj.AgentStarting, UpdatedAtMS: ev.AtMS,
			}
		}
		s.AgentOwners[p.ID] = p.Owner
		s.AgentSessions[p.ID] = p.SessionID
		s.Sessions[p.SessionID] = sessionFor(p.Owner, p.SessionID, ev.AtMS)

	case oj.EventAgentWorking:
		setAgentStatus(s, ev.AgentWorking.ID, oj.AgentRunningS, ev.AtMS)

	case oj.EventAgentIdle:
		setAgentStatus(s, ev.AgentIdle.ID, oj.AgentIdle, ev.AtMS)

	case oj.EventAgentExited:
		setAgentStatus(s, ev.AgentExited.ID, oj.AgentExited, ev.AtMS)

	case oj.EventAgentGone:
		setAgentStatus(s, ev.AgentGone.ID, oj.AgentGone, ev.AtMS)

	case oj.EventAgentActivityObserved:
		p := ev.AgentActivityObserved
		owner, ok := s.AgentOwners[p.ID]
		if !ok {
			break
		}
		if owner.IsJob() {
			if j, ok := s.Jobs[owner.JobID()]; ok {
				if cur := j.CurrentStepRecord(); cur != nil {
					cur.FilesRead += p.FilesRead
					cur.FilesWritten += p.FilesWritten
					cur.CommandsRun += p.CommandsRun
				}
			}
		}

	case oj.EventAgentRunCreated:
		p := ev.AgentRunCreated
		if _, exists := s.AgentRuns[p.ID]; !exists {
			s.AgentRuns[p.ID] = &oj.AgentRun{
				ID: p.ID, AgentName: p.AgentName, CommandName: p.CommandName,
				Namespace: p.Namespace, Cwd: p.Cwd, RunbookSha: p.RunbookSha,
				Status:         oj.AgentRunStarting,
				Variables:      copyStringMap(p.Variables),
				ActionAttempts: make(map[string]int),
				CreatedAtMS:    ev.AtMS,
				UpdatedAtMS:    ev.AtMS,
			}
		}

	case oj.EventAgentRunCompleted:
		if r, ok := s.AgentRuns[ev.AgentRunCompleted.ID]; ok {
			r.Status = oj.AgentRunCompleted
			r.UpdatedAtMS = ev.AtMS
			clearAgentOwnership(s, oj.AgentRunOwner(r.ID))
		}

	case oj.EventAgentRunFailed:
		p := ev.AgentRunFailed
		if r, ok := s.AgentRuns[p.ID]; ok {
			r.Status = oj.AgentRunFailed
			r.Error = p.Error
			r.UpdatedAtMS = ev.AtMS
			clearAgentOwnership(s, oj.AgentRunOwner(r.ID))
		}

	case oj.EventAgentRunNudged:
		if r, ok := s.AgentRuns[ev.AgentRunNudged.ID]; ok {
			r.NudgeCount++
			r.UpdatedAtMS = ev.AtMS
		}

	case oj.EventSessionOpened:
		p := ev.SessionOpened
		s.Sessions[p.ID] = sessionFor(p.Owner, p.ID, ev.AtMS)

	case oj.EventSessionInput:
		if sess, ok := s.Sessions[ev.SessionInput.ID]; ok {
			sess.UpdatedAtMS = ev.AtMS
		}

	case oj.EventSessionClosed:
		delete(s.Sessions, ev.SessionClosed.ID)

	case oj.EventWorkspaceCreated:
		p := ev.WorkspaceCreated
		if _, exists := s.Workspaces[p.ID]; !exists {
			s.Workspaces[p.ID] = &oj.Workspace{
				ID: p.ID, Path: p.Path, Branch: p.Branch, Owner: p.Owner,
				Type: p.Type, Status: oj.WorkspaceCreating, Namespace: p.Namespace,
				CreatedAtMS: ev.AtMS,
			}
		}

	case oj.EventWorkspaceReady:
		if w, ok := s.Workspaces[ev.WorkspaceReady.ID]; ok {
			w.Status = oj.WorkspaceReady
		}

	case oj.EventWorkspaceFailed:
		p := ev.WorkspaceFailed
		if w, ok := s.Workspaces[p.ID]; ok {
			w.Status = oj.WorkspaceFailed
			w.Reason = p.Reason
		}

	case oj.EventWorkspaceDropped:
		delete(s.Workspaces, ev.WorkspaceDropped.ID)

	case oj.EventCronStarted:
		p := ev.CronStarted
		key := cronKey(p.Namespace, p.Name)
		s.Crons[key] = &oj.CronState{
			Name: p.Name, IntervalMS: p.IntervalMS, TargetKind: p.TargetKind,
			TargetName: p.TargetName, Namespace: p.Namespace, RunbookSha: p.RunbookSha,
			ProjectRoot: p.ProjectRoot, Status: oj.CronActive,
		}

	case oj.EventCronFired:
		p := ev.CronFired
		if c, ok := s.Crons[cronKey(p.Namespace, p.Name)]; ok {
			c.LastFireMS = ev.AtMS
		}

	case oj.EventCronStopped:
		p := ev.CronStopped
		if c, ok := s.Crons[cronKey(p.Namespace, p.Name)]; ok {
			c.Status = oj.CronStopped
		}

	case oj.EventQueuePushed:
		p := ev.QueuePushed
		key := queueItemKey(p.Namespace, p.QueueName, p.ItemID)
		s.QueueItems[key] = &oj.QueueItem{
			ID: p.ItemID, Status: oj.QueueItemPending, Data: copyStringMap(p.Data),
			PushedAtEpoch: ev.AtMS,
		}

	case oj.EventQueueItemTaken:
		p := ev.QueueItemTaken
		if item, ok := s.QueueItems[queueItemKey(p.Namespace, p.QueueName, p.ItemID)]; ok {
			item.Status = oj.QueueItemActive
			item.WorkerName = p.WorkerName
		}

	case oj.EventQueueItemCompleted:
		p := ev.QueueItemCompleted
		if item, ok := s.QueueItems[queueItemKey(p.Namespace, p.QueueName, p.ItemID)]; ok {
			item.Status = oj.QueueItemCompleted
		}

	case oj.EventQueueItemFailed:
		p := ev.QueueItemFailed
		if item, ok := s.QueueItems[queueItemKey(p.Namespace, p.QueueName, p.ItemID)]; ok {
			item.FailureCount++
			if p.Dead {
				item.Status = oj.QueueItemDead
			} else {
				item.Status = oj.QueueItemFailed
			}
		}

	case oj.EventQueueItemRetried:
		p := ev.QueueItemRetried
		if item, ok := s.QueueItems[queueItemKey(p.Namespace, p.QueueName, p.ItemID)]; ok {
			item.Status = oj.QueueItemPending
		}

	case oj.EventQueueItemDropped:
		p := ev.QueueItemDropped
		delete(s.QueueItems, queueItemKey(p.Namespace, p.QueueName, p.ItemID))

	case oj.EventWorkerStarted:
		p := ev.WorkerStarted
		key := workerKey(p.Namespace, p.Name)
		s.Workers[key] = &oj.WorkerState{
			Name: p.Name, QueueName: p.QueueName, RunbookSha: p.RunbookSha, ProjectRoot: p.ProjectRoot,
			Namespace: p.Namespace, Concurrency: p.Concurrency, PipelineKind: p.PipelineKind,
			Status: oj.WorkerRunning, ActiveJobs: make(map[oj.JobID]bool), ItemPipeline: make(map[string]oj.JobID),
		}

	case oj.EventWorkerStopped:
		p := ev.WorkerStopped
		if w, ok := s.Workers[workerKey(p.Namespace, p.Name)]; ok {
			w.Status = oj.WorkerStopped
		}

	case oj.EventWorkerItemDispatched:
		p := ev.WorkerItemDispatched
		if w, ok := s.Workers[workerKey(p.Namespace, p.Name)]; ok {
			w.ActiveJobs[p.JobID] = true
			w.ItemPipeline[p.ItemID] = p.JobID
			w.InflightItems++
		}

	case oj.EventWorkerSlotFreed:
		p := ev.WorkerSlotFreed
		if w, ok := s.Workers[workerKey(p.Namespace, p.Name)]; ok {
			if w.InflightItems > 0 {
				w.InflightItems--
			}
		}

	case oj.EventDecisionCreated:
		p := ev.DecisionCreated
		// Unresolved-decision uniqueness per owner: any still-open
		// decision for the same owner is resolved here and marked as
		// superseded by the new one before the new one is recorded.
		for _, old := range s.Decisions {
			if old.ID != p.ID && old.Owner == p.Owner && !old.IsResolved() {
				at := ev.AtMS
				newID := p.ID
				old.ResolvedAtMS = &at
				old.SupersededBy = &newID
			}
		}
		s.Decisions[p.ID] = &oj.Decision{
			ID: p.ID, JobID: p.JobID, AgentID: p.AgentID, Owner: p.Owner,
			Source: p.Source, Context: p.Context, Options: p.Options,
			CreatedAtMS: ev.AtMS,
		}
		if j, ok := s.Jobs[p.JobID]; ok {
			j.StepStatus = oj.StepWaiting
			j.WaitingOn = &p.ID
		}

	case oj.EventDecisionResolved:
		p := ev.DecisionResolved
		if d, ok := s.Decisions[p.ID]; ok {
			at := ev.AtMS
			d.Chosen = p.Chosen
			d.Message = p.Message
			d.ResolvedAtMS = &at
		}

	case oj.EventDecisionSuperseded:
		p := ev.DecisionSuperseded
		if d, ok := s.Decisions[p.ID]; ok && !d.IsResolved() {
			at := ev.AtMS
			d.ResolvedAtMS = &at
			d.SupersededBy = &p.SupersededBy
		}

	case oj.EventOrphanDetected:
		p := ev.OrphanDetected
		s.Orphans[p.ID] = &oj.Orphan{
			ID:           p.ID,
			JobID:        p.JobID,
			Description:  p.Description,
			DetectedAtMS: ev.AtMS,
		}

	case oj.EventOrphanDismissed:
		delete(s.Orphans, ev.OrphanDismissed.ID)

	case oj.EventAgentSignal, oj.EventReconcileStarted, oj.EventShutdown,
		oj.EventTimerSet, oj.EventTimerFired, oj.EventTimerCancelled, oj.EventSubPipelineDone:
		// Pure notifications / scheduler bookkeeping the reducer does
		// not need to materialize into State; the scheduler, listener,
		// and (for SubPipelineDone) the job machine consume these
		// directly off the event bus.

	default:
		return fmt.Errorf("state: unhandled event kind %q", ev.Kind)
	}

	if seq > s.LastAppliedSeq {
		s.LastAppliedSeq = seq
	}
	return nil
}

// Cron looks up a cron by namespace and name, the same key format its
// own WAL fold uses.
func (s *State) Cron(namespace, name string) (*oj.CronState, bool) {
	c, ok := s.Crons[cronKey(namespace, name)]
	return c, ok
}

// Worker looks up a worker by namespace and name, the same key format
// its own WAL fold uses.
func (s *State) Worker(namespace, name string) (*oj.WorkerState, bool) {
	w, ok := s.Workers[workerKey(namespace, name)]
	return w, ok
}

// finishTerminal folds a job's terminal transition. step_status only
// ever lands on Completed or Failed: a cancelled job is a failure to
// reach done just as much as an explicit failure is.
func finishTerminal(j *oj.Job, step string, atMS int64) {
	j.Step = step
	if step == oj.StepDone {
		j.StepStatus = oj.StepCompleted
	} else {
		j.StepStatus = oj.StepFailed
	}
	j.WaitingOn = nil
	j.UpdatedAtMS = atMS
	if cur := j.CurrentStepRecord(); cur != nil && cur.FinishedAtMS == nil {
		cur.FinishedAtMS = &atMS
	}
}

// clearAgentOwnership removes every agent_owners entry pointing at
// owner. A job or agent run that has reached a terminal state (or been
// deleted) can no longer own anything; leaving a stale entry would let
// a late agent event resolve against an owner nothing else references.
func clearAgentOwnership(s *State, owner oj.Owner) {
	for agentID, o := range s.AgentOwners {
		if o == owner {
			delete(s.AgentOwners, agentID)
		}
	}
}

func setAgentStatus(s *State, id oj.AgentID, status oj.AgentStatus, atMS int64) {
	if a, ok := s.Agents[id]; ok {
		a.Status = status
		a.UpdatedAtMS = atMS
	}
}

func sessionFor(owner oj.Owner, id oj.SessionID, atMS int64) *oj.Session {
	sess := &oj.Session{ID: id, UpdatedAtMS: atMS}
	if owner.IsJob() {
		jid := owner.JobID()
		sess.JobID = &jid
	} else if owner.IsAgentRun() {
		aid := owner.AgentRunID()
		sess.AgentRunID = &aid
	}
	return sess
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

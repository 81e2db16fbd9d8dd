package listener

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ojdaemon/ojd/internal/ipc"
	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/ojerr"
	"github.com/ojdaemon/ojd/internal/state"
)

func (l *Listener) handleQuery(q *ipc.Query) *ipc.Response {
	if q == nil {
		return errResponse(ojerr.ProtocolMalformed("missing query payload"))
	}

	switch q.Kind {
	case ipc.QueryListPipelines:
		var out []ipc.PipelineSummary
		l.reader.Read(func(s *state.State) {
			for _, j := range s.Jobs {
				if q.Namespace != "" && j.Namespace != q.Namespace {
					continue
				}
				out = append(out, summarizeJob(j))
			}
		})
		return &ipc.Response{Kind: ipc.RespPipelines, Pipelines: out}

	case ipc.QueryGetPipeline:
		var resp *ipc.Response
		l.reader.Read(func(s *state.State) {
			ids := jobIDStrings(s)
			id, err := resolvePrefix("job", ids, q.ID)
			if err != nil {
				resp = errResponse(err)
				return
			}
			j := s.Jobs[oj.JobID(id)]
			resp = &ipc.Response{Kind: ipc.RespPipeline, Pipeline: detailJob(j)}
		})
		return resp

	case ipc.QueryListSessions:
		var out []ipc.SessionSummary
		l.reader.Read(func(s *state.State) {
			for _, sess := range s.Sessions {
				out = append(out, summarizeSession(sess))
			}
		})
		return &ipc.Response{Kind: ipc.RespSessions, Sessions: out}

	case ipc.QueryListWorkspaces:
		var out []ipc.WorkspaceSummary
		l.reader.Read(func(s *state.State) {
			for _, w := range s.Workspaces {
				if q.Namespace != "" && w.Namespace != q.Namespace {
					continue
				}
				out = append(out, ipc.WorkspaceSummary{ID: string(w.ID), Path: w.Path, Status: string(w.Status)})
			}
		})
		return &ipc.Response{Kind: ipc.RespWorkspaces, Workspaces: out}

	case ipc.QueryGetWorkspace:
		var resp *ipc.Response
		l.reader.Read(func(s *state.State) {
			var ids []string
			for id := range s.Workspaces {
				ids = append(ids, string(id))
			}
			id, err := resolvePrefix("workspace", ids, q.ID)
			if err != nil {
				resp = errResponse(err)
				return
			}
			w := s.Workspaces[oj.WorkspaceID(id)]
			resp = &ipc.Response{Kind: ipc.RespWorkspace, Workspace: &ipc.WorkspaceDetail{
				ID: string(w.ID), Path: w.Path, Branch: w.Branch, Status: string(w.Status), Reason: w.Reason,
			}}
		})
		return resp

	case ipc.QueryListQueueItems:
		var items []*oj.QueueItem
		wantPrefix := q.Namespace + ":" + q.QueueName + ":"
		l.reader.Read(func(s *state.State) {
			for key, item := range s.QueueItems {
				if q.QueueName != "" && !strings.HasPrefix(key, wantPrefix) {
					continue
				}
				items = append(items, item)
			}
		})
		sort.Slice(items, func(i, j int) bool { return items[i].PushedAtEpoch < items[j].PushedAtEpoch })
		out := make([]ipc.QueueItemSummary, len(items))
		for i, item := range items {
			out[i] = ipc.QueueItemSummary{ID: item.ID, Status: string(item.Status)}
		}
		return &ipc.Response{Kind: ipc.RespQueueItems, QueueItems: out}

	case ipc.QueryListWorkers:
		var out []ipc.WorkerSummary
		l.reader.Read(func(s *state.State) {
			for _, w := range s.Workers {
				if q.Namespace != "" && w.Namespace != q.Namespace {
					continue
				}
				out = append(out, ipc.WorkerSummary{
					Name: w.Name, QueueName: w.QueueName, Status: string(w.Status),
					Concurrency: w.Concurrency, Inflight: w.InflightItems,
				})
			}
		})
		return &ipc.Response{Kind: ipc.RespWorkers, Workers: out}

	case ipc.QueryGetPipelineLogs:
		return l.tailLog("job", jobIDStrings, q.ID, q.Lines)

	case ipc.QueryGetAgentLogs:
		return l.tailLog("agent", agentIDStrings, q.AgentID, q.Lines)

	case ipc.QueryListDecisions:
		var out []ipc.DecisionSummary
		l.reader.Read(func(s *state.State) {
			for _, d := range s.Decisions {
				if q.Namespace != "" {
					if j, ok := s.Jobs[d.JobID]; !ok || j.Namespace != q.Namespace {
						continue
					}
				}
				if d.IsResolved() {
					continue
				}
				out = append(out, summarizeDecision(d))
			}
		})
		return &ipc.Response{Kind: ipc.RespDecisions, Decisions: out}

	case ipc.QueryListOrphans:
		var out []ipc.OrphanSummary
		l.reader.Read(func(s *state.State) {
			for _, o := range s.Orphans {
				out = append(out, summarizeOrphan(o))
			}
		})
		sort.Slice(out, func(i, j int) bool { return out[i].DetectedAtMS < out[j].DetectedAtMS })
		return &ipc.Response{Kind: ipc.RespOrphans, Orphans: out}

	case ipc.QueryGetAgentSignal:
		var resp *ipc.Response
		l.reader.Read(func(s *state.State) {
			a, ok := s.Agents[oj.AgentID(q.AgentID)]
			if !ok {
				resp = errResponse(ojerr.AdapterNotFound("agent", q.AgentID))
				return
			}
			resp = &ipc.Response{Kind: ipc.RespAgentSignal, AgentSignal: &ipc.AgentSignalResponse{
				Signaled: a.Status == oj.AgentExited || a.Status == oj.AgentGone,
				Kind:     string(a.Status),
			}}
		})
		return resp

	default:
		return errResponse(ojerr.ProtocolUnknownRequest(string(q.Kind)))
	}
}

func (l *Listener) handleSessionSend(req *ipc.SessionSendRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing session_send payload"))
	}
	if err := l.submitter.Submit(oj.Event{
		Kind:         oj.EventSessionInput,
		SessionInput: &oj.SessionInputPayload{ID: oj.SessionID(req.ID), Input: req.Input},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespOK}
}

func (l *Listener) handleAgentSend(req *ipc.AgentSendRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing agent_send payload"))
	}
	if err := l.submitter.Submit(oj.Event{
		Kind: oj.EventAgentSignal,
		AgentSignal: &oj.AgentSignalPayload{ID: oj.AgentID(req.AgentID), Kind: "message", Message: req.Message},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespOK}
}

func (l *Listener) handlePipelineResume(req *ipc.PipelineResumeRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing pipeline_resume payload"))
	}
	var resolved string
	l.reader.Read(func(s *state.State) {
		id, err := resolvePrefix("job", jobIDStrings(s), req.ID)
		if err == nil {
			resolved = id
		}
	})
	if resolved == "" {
		return errResponse(ojerr.ResolutionNotFound("job", req.ID))
	}
	if err := l.submitter.Submit(oj.Event{
		Kind:       oj.EventJobResumed,
		JobResumed: &oj.JobResumedPayload{ID: oj.JobID(resolved), Message: req.Message, Variables: req.Vars},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespOK}
}

func (l *Listener) handlePipelineCancel(req *ipc.PipelineCancelRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing pipeline_cancel payload"))
	}
	result := ipc.PipelinesCancelledResponse{}
	l.reader.Read(func(s *state.State) {
		ids := jobIDStrings(s)
		for _, want := range req.IDs {
			resolved, err := resolvePrefix("job", ids, want)
			if err != nil {
				result.NotFound = append(result.NotFound, want)
				continue
			}
			j := s.Jobs[oj.JobID(resolved)]
			if j.IsTerminal() {
				result.AlreadyTerminal = append(result.AlreadyTerminal, resolved)
				continue
			}
			result.Cancelled = append(result.Cancelled, resolved)
		}
	})
	for _, id := range result.Cancelled {
		l.submitter.Submit(oj.Event{
			Kind: oj.EventJobCancelRequested,
			JobCancelRequested: &oj.JobCancelRequestedPayload{ID: oj.JobID(id)},
		})
	}
	return &ipc.Response{Kind: ipc.RespPipelinesCancelled, PipelinesCancelled: &result}
}

func (l *Listener) handleWorkspaceDrop(req *ipc.WorkspaceDropRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing workspace_drop payload"))
	}
	var resolved string
	l.reader.Read(func(s *state.State) {
		var ids []string
		for id := range s.Workspaces {
			ids = append(ids, string(id))
		}
		if id, err := resolvePrefix("workspace", ids, req.ID); err == nil {
			resolved = id
		}
	})
	if resolved == "" {
		return errResponse(ojerr.ResolutionNotFound("workspace", req.ID))
	}
	if err := l.submitter.Submit(oj.Event{
		Kind:             oj.EventWorkspaceDropped,
		WorkspaceDropped: &oj.WorkspaceRefPayload{ID: oj.WorkspaceID(resolved)},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespWorkspacesDropped, WorkspacesDropped: &ipc.WorkspacesDroppedResponse{Dropped: []string{resolved}}}
}

func (l *Listener) handleWorkspaceDropAll() *ipc.Response {
	var ids []oj.WorkspaceID
	l.reader.Read(func(s *state.State) {
		for id := range s.Workspaces {
			ids = append(ids, id)
		}
	})
	var dropped []string
	for _, id := range ids {
		if err := l.submitter.Submit(oj.Event{Kind: oj.EventWorkspaceDropped, WorkspaceDropped: &oj.WorkspaceRefPayload{ID: id}}); err == nil {
			dropped = append(dropped, string(id))
		}
	}
	return &ipc.Response{Kind: ipc.RespWorkspacesDropped, WorkspacesDropped: &ipc.WorkspacesDroppedResponse{Dropped: dropped}}
}

func (l *Listener) handleWorkspacePrune(req *ipc.WorkspacePruneRequest) *ipc.Response {
	var pruned, skipped []string
	l.reader.Read(func(s *state.State) {
		for id, w := range s.Workspaces {
			if w.Owner != nil && !req.All {
				skipped = append(skipped, string(id))
				continue
			}
			pruned = append(pruned, string(id))
		}
	})
	if !req.DryRun {
		for _, id := range pruned {
			l.submitter.Submit(oj.Event{Kind: oj.EventWorkspaceDropped, WorkspaceDropped: &oj.WorkspaceRefPayload{ID: oj.WorkspaceID(id)}})
		}
	}
	return &ipc.Response{Kind: ipc.RespWorkspacesPruned, WorkspacesPruned: &ipc.WorkspacesPrunedResponse{Pruned: pruned, Skipped: skipped}}
}

func (l *Listener) handleWorkerStart(req *ipc.WorkerStartRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing worker_start payload"))
	}

	var def oj.WorkerDef
	var runbookSha string
	var found bool
	l.reader.Read(func(s *state.State) {
		sha, ok := s.ActiveRunbooks[req.Namespace]
		if !ok {
			return
		}
		rb, ok := s.Runbooks[sha]
		if !ok || rb.Runbook == nil {
			return
		}
		def, found = rb.Runbook.Workers[req.WorkerName]
		runbookSha = sha
	})
	if !found {
		return errResponse(ojerr.ProtocolMalformed(fmt.Sprintf("no worker %q defined in the active runbook for namespace %q", req.WorkerName, req.Namespace)))
	}

	if err := l.submitter.Submit(oj.Event{
		Kind: oj.EventWorkerStarted,
		WorkerStarted: &oj.WorkerStartedPayload{
			Name:         req.WorkerName,
			Namespace:    req.Namespace,
			ProjectRoot:  req.ProjectRoot,
			QueueName:    def.Queue,
			RunbookSha:   runbookSha,
			Concurrency:  def.Concurrency,
			PipelineKind: def.PipelineKind,
		},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespOK}
}

// handleRunCommand resolves req.Command against the active runbook's
// CommandDef table for req.Namespace and starts the job it names. The
// runbook is looked up by ActiveRunbooks exactly like handleWorkerStart
// does for worker defs — namespace is the only thing the caller knows,
// the hash comes from whatever RunbookLoaded landed there most recently.
func (l *Listener) handleRunCommand(req *ipc.RunCommandRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing run_command payload"))
	}

	var jobDef oj.JobDef
	var runbookSha string
	var found bool
	l.reader.Read(func(s *state.State) {
		sha, ok := s.ActiveRunbooks[req.Namespace]
		if !ok {
			return
		}
		rb, ok := s.Runbooks[sha]
		if !ok || rb.Runbook == nil {
			return
		}
		cmd, ok := rb.Runbook.Commands[req.Command]
		if !ok {
			return
		}
		jd, ok := rb.Runbook.Jobs[cmd.Job]
		if !ok {
			return
		}
		jobDef, runbookSha, found = jd, sha, true
	})
	if !found {
		return errResponse(ojerr.ProtocolMalformed(fmt.Sprintf("no command %q defined in the active runbook for namespace %q", req.Command, req.Namespace)))
	}

	vars := make(map[string]string, len(req.NamedArgs))
	for k, v := range req.NamedArgs {
		vars[k] = v
	}
	if len(req.Args) > 0 {
		vars["args"] = strings.Join(req.Args, " ")
	}

	if err := l.submitter.Submit(oj.Event{
		Kind: oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{
			ID:         oj.NewJobID(),
			Name:       jobDef.Name,
			Kind:       jobDef.Name,
			Namespace:  req.Namespace,
			RunbookSha: runbookSha,
			FirstStep:  jobDef.FirstStep,
			Variables:  vars,
		},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespOK}
}

func (l *Listener) handleWorkerControl(kind ipc.RequestKind, wake, stop *ipc.WorkerRefRequest) *ipc.Response {
	var name, namespace string
	switch kind {
	case ipc.ReqWorkerWake:
		if wake == nil {
			return errResponse(ojerr.ProtocolMalformed("missing worker_wake payload"))
		}
		name, namespace = wake.WorkerName, wake.Namespace
		if l.waker != nil {
			l.waker.WakeWorker(name, namespace) // a scheduler signal, not a state event
		}
		return &ipc.Response{Kind: ipc.RespOK}
	case ipc.ReqWorkerStop:
		if stop == nil {
			return errResponse(ojerr.ProtocolMalformed("missing worker_stop payload"))
		}
		name, namespace = stop.WorkerName, stop.Namespace
		if err := l.submitter.Submit(oj.Event{
			Kind:          oj.EventWorkerStopped,
			WorkerStopped: &oj.WorkerRefPayload{Name: name, Namespace: namespace},
		}); err != nil {
			return errResponse(err)
		}
		return &ipc.Response{Kind: ipc.RespOK}
	}
	return errResponse(ojerr.ProtocolUnknownRequest(string(kind)))
}

func (l *Listener) handleQueuePush(req *ipc.QueuePushRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing queue_push payload"))
	}
	if len(req.Data) == 0 {
		return errResponse(ojerr.ValidationMissingField("data"))
	}

	var found bool
	l.reader.Read(func(s *state.State) {
		sha, ok := s.ActiveRunbooks[req.Namespace]
		if !ok {
			return
		}
		rb, ok := s.Runbooks[sha]
		if !ok || rb.Runbook == nil {
			return
		}
		_, found = rb.Runbook.Queues[req.QueueName]
	})
	if !found {
		return errResponse(ojerr.ValidationUnknownQueue(req.Namespace, req.QueueName))
	}

	if err := l.submitter.Submit(oj.Event{
		Kind: oj.EventQueuePushed,
		QueuePushed: &oj.QueuePushedPayload{
			QueueName: req.QueueName, Namespace: req.Namespace, ItemID: oj.NewQueueItemID(), Data: req.Data,
		},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespOK}
}

func (l *Listener) handleQueueItemControl(kind ipc.RequestKind, drop, retry *ipc.QueueItemRefRequest) *ipc.Response {
	switch kind {
	case ipc.ReqQueueDrop:
		if drop == nil {
			return errResponse(ojerr.ProtocolMalformed("missing queue_drop payload"))
		}
		if err := l.submitter.Submit(oj.Event{
			Kind: oj.EventQueueItemDropped,
			QueueItemDropped: &oj.QueueItemRefPayload{
				QueueName: drop.QueueName, Namespace: drop.Namespace, ItemID: drop.ItemID,
			},
		}); err != nil {
			return errResponse(err)
		}
		return &ipc.Response{Kind: ipc.RespOK}
	case ipc.ReqQueueRetry:
		if retry == nil {
			return errResponse(ojerr.ProtocolMalformed("missing queue_retry payload"))
		}
		if err := l.submitter.Submit(oj.Event{
			Kind: oj.EventQueueItemRetried,
			QueueItemRetried: &oj.QueueItemRefPayload{
				QueueName: retry.QueueName, Namespace: retry.Namespace, ItemID: retry.ItemID,
			},
		}); err != nil {
			return errResponse(err)
		}
		return &ipc.Response{Kind: ipc.RespOK}
	}
	return errResponse(ojerr.ProtocolUnknownRequest(string(kind)))
}

func (l *Listener) handleOrphanDismiss(req *ipc.OrphanRefRequest) *ipc.Response {
	if req == nil || req.ID == "" {
		return errResponse(ojerr.ProtocolMalformed("missing orphan_dismiss payload"))
	}

	var found bool
	l.reader.Read(func(s *state.State) {
		_, found = s.Orphans[req.ID]
	})
	if !found {
		return errResponse(ojerr.AdapterNotFound("orphan", req.ID))
	}

	if err := l.submitter.Submit(oj.Event{
		Kind:            oj.EventOrphanDismissed,
		OrphanDismissed: &oj.OrphanDismissedPayload{ID: req.ID},
	}); err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespOK}
}

func (l *Listener) handlePeekSession(req *ipc.PeekSessionRequest) *ipc.Response {
	if req == nil {
		return errResponse(ojerr.ProtocolMalformed("missing peek_session payload"))
	}
	if l.peeker == nil {
		return errResponse(ojerr.AdapterNotFound("session", req.SessionID))
	}
	out, err := l.peeker.Peek(context.Background(), oj.SessionID(req.SessionID), req.WithColor)
	if err != nil {
		return errResponse(ojerr.AdapterNotFound("session", req.SessionID))
	}
	return &ipc.Response{Kind: ipc.RespLogs, Logs: strings.Split(out, "\n")}
}

func jobIDStrings(s *state.State) []string {
	ids := make([]string, 0, len(s.Jobs))
	for id := range s.Jobs {
		ids = append(ids, string(id))
	}
	return ids
}

func agentIDStrings(s *state.State) []string {
	ids := make([]string, 0, len(s.Agents))
	for id := range s.Agents {
		ids = append(ids, string(id))
	}
	return ids
}

// tailLog resolves idPrefix against whichever id set lister returns
// (job or agent ids, depending on kind) and returns the matching
// activity log's tail. kind doubles as both the resolvePrefix error
// label and the activitylog file-tree bucket, since both name the same
// entity type.
func (l *Listener) tailLog(kind string, lister func(*state.State) []string, idPrefix string, lines int) *ipc.Response {
	if idPrefix == "" {
		return errResponse(ojerr.ProtocolMalformed(fmt.Sprintf("missing %s id", kind)))
	}
	var id string
	var resolveErr error
	l.reader.Read(func(s *state.State) {
		id, resolveErr = resolvePrefix(kind, lister(s), idPrefix)
	})
	if resolveErr != nil {
		return errResponse(resolveErr)
	}
	if l.tailer == nil {
		return &ipc.Response{Kind: ipc.RespLogs, Logs: nil}
	}
	out, err := l.tailer.Tail(kind, id, lines)
	if err != nil {
		return errResponse(err)
	}
	return &ipc.Response{Kind: ipc.RespLogs, Logs: out}
}

func summarizeJob(j *oj.Job) ipc.PipelineSummary {
	return ipc.PipelineSummary{
		ID: string(j.ID), Name: j.Name, Step: j.Step, Status: string(j.StepStatus), Namespace: j.Namespace,
	}
}

func detailJob(j *oj.Job) *ipc.PipelineDetail {
	d := &ipc.PipelineDetail{
		ID: string(j.ID), Name: j.Name, Step: j.Step, Status: string(j.StepStatus),
		Variables: j.Variables, Error: j.Error,
	}
	if j.ParentJobID != nil {
		d.ParentJobID = string(*j.ParentJobID)
	}
	for _, sr := range j.StepHistory {
		d.StepHistory = append(d.StepHistory, ipc.StepRecordDetail{
			Name: sr.Name, StartedAtMS: sr.StartedAtMS, FinishedAtMS: sr.FinishedAtMS, Outcome: sr.Outcome.Kind,
		})
	}
	return d
}

func summarizeDecision(d *oj.Decision) ipc.DecisionSummary {
	out := ipc.DecisionSummary{
		ID: string(d.ID), JobID: string(d.JobID), Context: d.Context,
		Resolved: d.IsResolved(), CreatedAtMS: d.CreatedAtMS,
	}
	for _, opt := range d.Options {
		out.Options = append(out.Options, ipc.DecisionOptionSummary{
			Number: opt.Number, Label: opt.Label, Description: opt.Description, Recommended: opt.Recommended,
		})
	}
	return out
}

func summarizeOrphan(o *oj.Orphan) ipc.OrphanSummary {
	out := ipc.OrphanSummary{ID: o.ID, Description: o.Description, DetectedAtMS: o.DetectedAtMS}
	if o.JobID != nil {
		out.JobID = string(*o.JobID)
	}
	return out
}

func summarizeSession(sess *oj.Session) ipc.SessionSummary {
	out := ipc.SessionSummary{ID: string(sess.ID), UpdatedAtMS: sess.UpdatedAtMS}
	switch {
	case sess.JobID != nil:
		out.OwnerKind, out.OwnerID = "job", string(*sess.JobID)
	case sess.AgentRunID != nil:
		out.OwnerKind, out.OwnerID = "agent_run", string(*sess.AgentRunID)
	}
	return out
}

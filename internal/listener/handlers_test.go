package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/ojdaemon/ojd/internal/ipc"
	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/state"
)

type fakeReader struct{ s *state.State }

func (f *fakeReader) Read(fn func(*state.State)) { fn(f.s) }

type fakeSubmitter struct{ events []oj.Event }

func (f *fakeSubmitter) Submit(ev oj.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fakePeeker struct {
	out string
	err error
}

func (f *fakePeeker) Peek(ctx context.Context, id oj.SessionID, withColor bool) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func newTestListener(s *state.State, peeker SessionPeeker) *Listener {
	return &Listener{reader: &fakeReader{s: s}, submitter: &fakeSubmitter{}, peeker: peeker}
}

type fakeTailer struct {
	lines map[string][]string
	err   error
}

func (f *fakeTailer) Tail(kind, name string, lines int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lines[kind+"/"+name], nil
}

func TestHandleQueryListDecisionsFiltersResolvedAndNamespace(t *testing.T) {
	s := state.New()
	s.Jobs[oj.JobID("job-a")] = &oj.Job{ID: "job-a", Namespace: "ns-a"}
	s.Jobs[oj.JobID("job-b")] = &oj.Job{ID: "job-b", Namespace: "ns-b"}
	s.Decisions[oj.DecisionID("d-open")] = &oj.Decision{ID: "d-open", JobID: "job-a", Context: "pick one"}
	resolvedAt := int64(100)
	s.Decisions[oj.DecisionID("d-resolved")] = &oj.Decision{ID: "d-resolved", JobID: "job-a", ResolvedAtMS: &resolvedAt}
	s.Decisions[oj.DecisionID("d-other-ns")] = &oj.Decision{ID: "d-other-ns", JobID: "job-b", Context: "elsewhere"}

	l := newTestListener(s, nil)

	resp := l.handleQuery(&ipc.Query{Kind: ipc.QueryListDecisions, Namespace: "ns-a"})
	if resp.Kind != ipc.RespDecisions {
		t.Fatalf("expected RespDecisions, got %s", resp.Kind)
	}
	if len(resp.Decisions) != 1 || resp.Decisions[0].ID != "d-open" {
		t.Fatalf("expected only d-open, got %+v", resp.Decisions)
	}
}

func TestHandlePeekSessionReturnsCapturedLines(t *testing.T) {
	l := newTestListener(state.New(), &fakePeeker{out: "line one\nline two"})

	resp := l.handlePeekSession(&ipc.PeekSessionRequest{SessionID: "sess-1"})
	if resp.Kind != ipc.RespLogs {
		t.Fatalf("expected RespLogs, got %s", resp.Kind)
	}
	if len(resp.Logs) != 2 || resp.Logs[0] != "line one" || resp.Logs[1] != "line two" {
		t.Fatalf("unexpected logs: %+v", resp.Logs)
	}
}

func TestHandlePeekSessionNoPeekerErrors(t *testing.T) {
	l := newTestListener(state.New(), nil)

	resp := l.handlePeekSession(&ipc.PeekSessionRequest{SessionID: "sess-1"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError when no peeker is wired, got %s", resp.Kind)
	}
}

func TestHandleWorkerStartPopulatesFromActiveRunbook(t *testing.T) {
	s := state.New()
	s.ActiveRunbooks["ns-a"] = "sha-1"
	s.Runbooks["sha-1"] = &oj.StoredRunbook{
		Hash:      "sha-1",
		Namespace: "ns-a",
		Runbook: &oj.Runbook{
			Workers: map[string]oj.WorkerDef{
				"release-worker": {Name: "release-worker", Queue: "releases", PipelineKind: "release", Concurrency: 3},
			},
		},
	}
	l := newTestListener(s, nil)

	resp := l.handleWorkerStart(&ipc.WorkerStartRequest{
		ProjectRoot: "/repo", Namespace: "ns-a", WorkerName: "release-worker",
	})
	if resp.Kind != ipc.RespOK {
		t.Fatalf("expected RespOK, got %+v", resp)
	}

	sub := l.submitter.(*fakeSubmitter)
	if len(sub.events) != 1 || sub.events[0].Kind != oj.EventWorkerStarted {
		t.Fatalf("expected one worker_started event, got %+v", sub.events)
	}
	p := sub.events[0].WorkerStarted
	if p.QueueName != "releases" || p.PipelineKind != "release" || p.Concurrency != 3 || p.RunbookSha != "sha-1" {
		t.Fatalf("expected worker_started populated from the runbook's worker def, got %+v", p)
	}
}

func TestHandleWorkerStartUnknownWorkerErrors(t *testing.T) {
	s := state.New()
	s.ActiveRunbooks["ns-a"] = "sha-1"
	s.Runbooks["sha-1"] = &oj.StoredRunbook{Hash: "sha-1", Namespace: "ns-a", Runbook: &oj.Runbook{Workers: map[string]oj.WorkerDef{}}}
	l := newTestListener(s, nil)

	resp := l.handleWorkerStart(&ipc.WorkerStartRequest{Namespace: "ns-a", WorkerName: "missing"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError for a worker with no matching def, got %+v", resp)
	}
}

func TestHandleWorkerStartNoActiveRunbookErrors(t *testing.T) {
	l := newTestListener(state.New(), nil)

	resp := l.handleWorkerStart(&ipc.WorkerStartRequest{Namespace: "ns-a", WorkerName: "release-worker"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError when no runbook is loaded for the namespace, got %+v", resp)
	}
}

func TestHandleRunCommandStartsJobFromActiveRunbook(t *testing.T) {
	s := state.New()
	s.ActiveRunbooks["ns-a"] = "sha-1"
	s.Runbooks["sha-1"] = &oj.StoredRunbook{
		Hash:      "sha-1",
		Namespace: "ns-a",
		Runbook: &oj.Runbook{
			Commands: map[string]oj.CommandDef{"deploy": {Name: "deploy", Job: "deploy-job"}},
			Jobs:     map[string]oj.JobDef{"deploy-job": {Name: "deploy-job", FirstStep: "build"}},
		},
	}
	l := newTestListener(s, nil)

	resp := l.handleRunCommand(&ipc.RunCommandRequest{
		Namespace: "ns-a", Command: "deploy", Args: []string{"--force"}, NamedArgs: map[string]string{"env": "prod"},
	})
	if resp.Kind != ipc.RespOK {
		t.Fatalf("expected RespOK, got %+v", resp)
	}

	sub := l.submitter.(*fakeSubmitter)
	if len(sub.events) != 1 || sub.events[0].Kind != oj.EventJobCreated {
		t.Fatalf("expected one job_created event, got %+v", sub.events)
	}
	p := sub.events[0].JobCreated
	if p.Kind != "deploy-job" || p.FirstStep != "build" || p.RunbookSha != "sha-1" {
		t.Fatalf("expected job_created populated from the command's job def, got %+v", p)
	}
	if p.Variables["env"] != "prod" || p.Variables["args"] != "--force" {
		t.Fatalf("expected named args and positional args folded into variables, got %+v", p.Variables)
	}
}

func TestHandleRunCommandUnknownCommandErrors(t *testing.T) {
	s := state.New()
	s.ActiveRunbooks["ns-a"] = "sha-1"
	s.Runbooks["sha-1"] = &oj.StoredRunbook{Hash: "sha-1", Namespace: "ns-a", Runbook: &oj.Runbook{Commands: map[string]oj.CommandDef{}}}
	l := newTestListener(s, nil)

	resp := l.handleRunCommand(&ipc.RunCommandRequest{Namespace: "ns-a", Command: "missing"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError for an unknown command, got %+v", resp)
	}
}

func TestHandleRunCommandNoActiveRunbookErrors(t *testing.T) {
	l := newTestListener(state.New(), nil)

	resp := l.handleRunCommand(&ipc.RunCommandRequest{Namespace: "ns-a", Command: "deploy"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError when no runbook is loaded for the namespace, got %+v", resp)
	}
}

func TestHandleQueuePushGeneratesUniqueItemIDs(t *testing.T) {
	s := state.New()
	s.ActiveRunbooks["ns-a"] = "sha-1"
	s.Runbooks["sha-1"] = &oj.StoredRunbook{
		Hash: "sha-1", Namespace: "ns-a",
		Runbook: &oj.Runbook{Queues: map[string]oj.QueueDef{"releases": {Name: "releases"}}},
	}
	l := newTestListener(s, nil)

	resp1 := l.handleQueuePush(&ipc.QueuePushRequest{Namespace: "ns-a", QueueName: "releases", Data: map[string]string{"a": "1"}})
	resp2 := l.handleQueuePush(&ipc.QueuePushRequest{Namespace: "ns-a", QueueName: "releases", Data: map[string]string{"b": "2"}})
	if resp1.Kind != ipc.RespOK || resp2.Kind != ipc.RespOK {
		t.Fatalf("expected both pushes to succeed, got %+v and %+v", resp1, resp2)
	}

	sub := l.submitter.(*fakeSubmitter)
	if len(sub.events) != 2 {
		t.Fatalf("expected two queue_pushed events, got %d", len(sub.events))
	}
	id1 := sub.events[0].QueuePushed.ItemID
	id2 := sub.events[1].QueuePushed.ItemID
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("expected two distinct non-empty item ids, got %q and %q", id1, id2)
	}
}

func TestHandleQueuePushUnknownQueueErrors(t *testing.T) {
	s := state.New()
	s.ActiveRunbooks["ns-a"] = "sha-1"
	s.Runbooks["sha-1"] = &oj.StoredRunbook{Hash: "sha-1", Namespace: "ns-a", Runbook: &oj.Runbook{Queues: map[string]oj.QueueDef{}}}
	l := newTestListener(s, nil)

	resp := l.handleQueuePush(&ipc.QueuePushRequest{Namespace: "ns-a", QueueName: "missing", Data: map[string]string{"a": "1"}})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError for an unknown queue, got %+v", resp)
	}
}

func TestHandleQueuePushNoDataErrors(t *testing.T) {
	s := state.New()
	s.ActiveRunbooks["ns-a"] = "sha-1"
	s.Runbooks["sha-1"] = &oj.StoredRunbook{
		Hash: "sha-1", Namespace: "ns-a",
		Runbook: &oj.Runbook{Queues: map[string]oj.QueueDef{"releases": {Name: "releases"}}},
	}
	l := newTestListener(s, nil)

	resp := l.handleQueuePush(&ipc.QueuePushRequest{Namespace: "ns-a", QueueName: "releases"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError for a push with no data, got %+v", resp)
	}

	sub := l.submitter.(*fakeSubmitter)
	if len(sub.events) != 0 {
		t.Fatalf("expected no event submitted for an invalid push, got %+v", sub.events)
	}
}

func TestQueryListQueueItemsPreservesPushOrder(t *testing.T) {
	s := state.New()
	s.QueueItems["ns-a:releases:third"] = &oj.QueueItem{ID: "third", Status: oj.QueueItemPending, PushedAtEpoch: 300}
	s.QueueItems["ns-a:releases:first"] = &oj.QueueItem{ID: "first", Status: oj.QueueItemPending, PushedAtEpoch: 100}
	s.QueueItems["ns-a:releases:second"] = &oj.QueueItem{ID: "second", Status: oj.QueueItemPending, PushedAtEpoch: 200}
	l := newTestListener(s, nil)

	resp := l.handleQuery(&ipc.Query{Kind: ipc.QueryListQueueItems, Namespace: "ns-a", QueueName: "releases"})
	if resp.Kind != ipc.RespQueueItems {
		t.Fatalf("expected RespQueueItems, got %s", resp.Kind)
	}
	if len(resp.QueueItems) != 3 {
		t.Fatalf("expected 3 queue items, got %d", len(resp.QueueItems))
	}
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if resp.QueueItems[i].ID != id {
			t.Fatalf("expected push order %v, got %+v", want, resp.QueueItems)
		}
	}
}

func TestHandlePeekSessionAdapterErrorSurfacesAsRespError(t *testing.T) {
	l := newTestListener(state.New(), &fakePeeker{err: errors.New("tmux capture-pane: boom")})

	resp := l.handlePeekSession(&ipc.PeekSessionRequest{SessionID: "sess-1"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError, got %s", resp.Kind)
	}
}

func TestQueryListOrphansSortsByDetectedAt(t *testing.T) {
	s := state.New()
	s.Orphans["b"] = &oj.Orphan{ID: "b", Description: "second", DetectedAtMS: 200}
	s.Orphans["a"] = &oj.Orphan{ID: "a", Description: "first", DetectedAtMS: 100}
	l := newTestListener(s, nil)

	resp := l.handleQuery(&ipc.Query{Kind: ipc.QueryListOrphans})
	if resp.Kind != ipc.RespOrphans || len(resp.Orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %+v", resp)
	}
	if resp.Orphans[0].ID != "a" || resp.Orphans[1].ID != "b" {
		t.Fatalf("expected orphans sorted by detected_at_ms, got %+v", resp.Orphans)
	}
}

func TestHandleOrphanDismissUnknownIDErrors(t *testing.T) {
	l := newTestListener(state.New(), nil)
	resp := l.handleOrphanDismiss(&ipc.OrphanRefRequest{ID: "does-not-exist"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError for an unknown orphan id, got %s", resp.Kind)
	}
}

func TestHandleOrphanDismissSubmitsEvent(t *testing.T) {
	s := state.New()
	s.Orphans["o-1"] = &oj.Orphan{ID: "o-1", Description: "tmux session with no record"}
	l := newTestListener(s, nil)

	resp := l.handleOrphanDismiss(&ipc.OrphanRefRequest{ID: "o-1"})
	if resp.Kind != ipc.RespOK {
		t.Fatalf("expected RespOK, got %+v", resp)
	}
	sub := l.submitter.(*fakeSubmitter)
	if len(sub.events) != 1 || sub.events[0].Kind != oj.EventOrphanDismissed {
		t.Fatalf("expected one orphan_dismissed event, got %+v", sub.events)
	}
	if sub.events[0].OrphanDismissed.ID != "o-1" {
		t.Errorf("expected dismissed id o-1, got %q", sub.events[0].OrphanDismissed.ID)
	}
}

func TestQueryGetPipelineLogsResolvesIDAndTails(t *testing.T) {
	s := state.New()
	s.Jobs[oj.JobID("job-abc123")] = &oj.Job{ID: "job-abc123"}
	l := newTestListener(s, nil)
	l.tailer = &fakeTailer{lines: map[string][]string{"job/job-abc123": {"line one", "line two"}}}

	resp := l.handleQuery(&ipc.Query{Kind: ipc.QueryGetPipelineLogs, ID: "job-abc"})
	if resp.Kind != ipc.RespLogs {
		t.Fatalf("expected RespLogs, got %+v", resp)
	}
	if len(resp.Logs) != 2 || resp.Logs[1] != "line two" {
		t.Fatalf("expected tailed lines, got %+v", resp.Logs)
	}
}

func TestQueryGetPipelineLogsUnknownIDErrors(t *testing.T) {
	l := newTestListener(state.New(), nil)
	l.tailer = &fakeTailer{}

	resp := l.handleQuery(&ipc.Query{Kind: ipc.QueryGetPipelineLogs, ID: "nope"})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError for an unresolved job id, got %s", resp.Kind)
	}
}

func TestQueryGetAgentLogsMissingIDErrors(t *testing.T) {
	l := newTestListener(state.New(), nil)
	resp := l.handleQuery(&ipc.Query{Kind: ipc.QueryGetAgentLogs})
	if resp.Kind != ipc.RespError {
		t.Fatalf("expected RespError when agent_id is missing, got %s", resp.Kind)
	}
}

func TestQueryGetPipelineLogsNilTailerReturnsEmptyWindow(t *testing.T) {
	s := state.New()
	s.Jobs[oj.JobID("job-abc123")] = &oj.Job{ID: "job-abc123"}
	l := newTestListener(s, nil)

	resp := l.handleQuery(&ipc.Query{Kind: ipc.QueryGetPipelineLogs, ID: "job-abc123"})
	if resp.Kind != ipc.RespLogs || resp.Logs != nil {
		t.Fatalf("expected an empty log window with no tailer wired, got %+v", resp)
	}
}

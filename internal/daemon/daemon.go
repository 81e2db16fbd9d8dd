// Package daemon wires the runtime, scheduler, executor, and listener
// together into one long-lived process: it is the only thing that ever
// calls Wal.Append, the only thing that ever calls Reducer.Apply, and
// the seam scheduler.Handler and listener.Submitter/Reader are
// implemented against.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ojdaemon/ojd/internal/activitylog"
	"github.com/ojdaemon/ojd/internal/breadcrumb"
	"github.com/ojdaemon/ojd/internal/executor"
	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/runtime"
	"github.com/ojdaemon/ojd/internal/scheduler"
	"github.com/ojdaemon/ojd/internal/state"
	"github.com/ojdaemon/ojd/internal/wal"
)

// Daemon is the single-writer orchestrator: every state mutation enters
// through Submit, which appends the event to the log, folds it through
// the reducer, and dispatches whatever effects come back. Submit
// serializes on writeMu so the fold-then-dispatch sequence for one
// event always completes before the next one starts; stateMu guards
// reads (Read, the listener's query path) against the fold itself.
type Daemon struct {
	cfg *Config

	logger *slog.Logger

	wal       *wal.Wal
	lock      *Lock
	state     *state.State
	reducer   *runtime.Reducer
	dispatch  *executor.Dispatcher
	scheduler *scheduler.Scheduler

	// Breadcrumbs is set by lifecycle.Run after New returns. A nil value
	// (as in tests built directly around New) just skips breadcrumb
	// bookkeeping.
	Breadcrumbs *breadcrumb.Writer

	// Activity is set by lifecycle.Run after New returns. A nil value
	// just skips human-readable activity logging.
	Activity *activitylog.Logger

	writeMu sync.Mutex
	stateMu sync.RWMutex
}

// Config bundles the values New needs that don't belong to any one
// subsystem's own constructor.
type Config struct {
	Logger *slog.Logger
}

// New wires a Daemon from its already-constructed parts. Lifecycle
// (opening the WAL, loading the snapshot, replaying it, constructing
// the scheduler and executor) lives in lifecycle.go; New just assembles
// the pieces once they exist, so tests can build a Daemon directly
// around fakes without going through the full startup sequence.
func New(w *wal.Wal, lock *Lock, s *state.State, reducer *runtime.Reducer, dispatch *executor.Dispatcher, sched *scheduler.Scheduler, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		wal:       w,
		lock:      lock,
		state:     s,
		reducer:   reducer,
		dispatch:  dispatch,
		scheduler: sched,
		logger:    logger.With("component", "daemon"),
	}
}

// Submit implements listener.Submitter: it appends ev, folds it into
// state, and dispatches the effects the fold produced, each from its
// own goroutine per executor's contract.
func (d *Daemon) Submit(ev oj.Event) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.submitLocked(ev)
}

// submitLocked does the actual append-fold-dispatch work. It assumes
// writeMu is already held, so bookkeeping events synthesized as a
// side effect of folding the primary event (a job reaching a terminal
// step, a worker slot freeing up) can recurse into it directly without
// deadlocking on writeMu a second time.
func (d *Daemon) submitLocked(ev oj.Event) error {
	if ev.AtMS == 0 {
		ev.AtMS = nowMS()
	}

	d.stateMu.Lock()
	var job *oj.Job
	if jobID, ok := d.reducer.JobIDFor(d.state, ev); ok {
		job = d.state.Jobs[jobID]
	}
	wasTerminal := job != nil && job.IsTerminal()

	seq := d.wal.Append(ev)
	effects, err := d.reducer.Apply(d.state, seq, ev)
	if err != nil {
		d.stateMu.Unlock()
		return fmt.Errorf("applying event %q: %w", ev.Kind, err)
	}
	d.wal.MarkProcessed(seq)

	if d.Breadcrumbs != nil {
		d.syncBreadcrumb(ev)
	}
	if d.Activity != nil {
		d.syncActivityLog(ev)
	}

	var bookkeeping *oj.Event
	if job != nil && !wasTerminal && job.IsTerminal() {
		bookkeeping = terminalEventFor(job)
	}
	d.stateMu.Unlock()

	if d.wal.NeedsFlush() {
		if ferr := d.wal.Flush(); ferr != nil {
			d.logger.Error("flushing wal", "error", ferr)
		}
	}

	if bookkeeping != nil {
		if err := d.submitLocked(*bookkeeping); err != nil {
			d.logger.Error("recording job terminal event", "job", job.ID, "error", err)
		}
		d.freeWorkerSlotForJob(job)
		d.propagateSubPipelineDone(job)
	}

	d.runEffects(effects)
	return nil
}

// Read implements listener.Reader: fn runs with a read lock held, so
// every field it touches is a consistent snapshot with respect to
// concurrent folds.
func (d *Daemon) Read(fn func(*state.State)) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	fn(d.state)
}

// Snapshot marshals state to JSON under a write lock (it stamps
// LastAppliedSeq into the state being marshaled, so it needs exclusive
// access rather than Read's shared one) for the checkpoint loop.
func (d *Daemon) Snapshot(uptoSeq uint64) ([]byte, error) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.state.LastAppliedSeq = uptoSeq
	return d.state.Snapshot()
}

// WakeWorker implements listener.Waker.
func (d *Daemon) WakeWorker(name, namespace string) {
	d.scheduler.Wake()
}

// runEffects dispatches every effect from its own goroutine, per
// executor's documented contract, and submits whatever follow-up event
// each produces back through the log.
func (d *Daemon) runEffects(effects []oj.Effect) {
	for _, eff := range effects {
		eff := eff
		go d.runEffect(eff)
	}
}

func (d *Daemon) runEffect(eff oj.Effect) {
	ev, err := d.dispatch.Dispatch(context.Background(), eff)
	if err != nil {
		d.logger.Error("dispatching effect", "kind", eff.Kind, "error", err)
	}
	if ev != nil {
		if err := d.Submit(*ev); err != nil {
			d.logger.Error("submitting effect follow-up event", "kind", ev.Kind, "error", err)
		}
	}
}

// syncBreadcrumb keeps a job's sidecar breadcrumb file in step with its
// record: a non-terminal job gets its breadcrumb (re)written, a
// terminal or deleted one gets its breadcrumb removed. Assumes stateMu
// is already held (called from inside submitLocked's critical section).
func (d *Daemon) syncBreadcrumb(ev oj.Event) {
	id, ok := breadcrumbJobID(ev)
	if !ok {
		return
	}
	job, exists := d.state.Jobs[id]
	if !exists {
		if err := d.Breadcrumbs.Remove(id); err != nil {
			d.logger.Error("removing breadcrumb", "job", id, "error", err)
		}
		return
	}
	if job.IsTerminal() {
		if err := d.Breadcrumbs.Remove(id); err != nil {
			d.logger.Error("removing breadcrumb", "job", id, "error", err)
		}
		return
	}
	if err := d.Breadcrumbs.Write(job); err != nil {
		d.logger.Error("writing breadcrumb", "job", id, "error", err)
	}
}

// breadcrumbJobID extracts the job a given event concerns, independent
// of reducer.JobIDFor's narrower scope (which only covers events the
// job machine itself reacts to) since breadcrumbs track every event
// that touches a job's record.
func breadcrumbJobID(ev oj.Event) (oj.JobID, bool) {
	switch ev.Kind {
	case oj.EventJobCreated:
		return ev.JobCreated.ID, true
	case oj.EventJobAdvanced:
		return ev.JobAdvanced.ID, true
	case oj.EventJobWaiting:
		return ev.JobWaiting.ID, true
	case oj.EventJobResumed:
		return ev.JobResumed.ID, true
	case oj.EventJobCancelRequested:
		return ev.JobCancelRequested.ID, true
	case oj.EventJobCancelled:
		return ev.JobCancelled.ID, true
	case oj.EventJobCompleted:
		return ev.JobCompleted.ID, true
	case oj.EventJobFailed:
		return ev.JobFailed.ID, true
	case oj.EventJobDeleted:
		return ev.JobDeleted.ID, true
	case oj.EventJobVariableSet:
		return ev.JobVariableSet.ID, true
	case oj.EventStepStarted:
		return ev.StepStarted.JobID, true
	case oj.EventStepRetried:
		return ev.StepRetried.JobID, true
	default:
		return "", false
	}
}

// terminalEventFor returns the bookkeeping event that records job
// having just reached a terminal step. The job machine sets job.Step
// to the sentinel directly (advance, forceTerminal); nothing in
// internal/runtime emits JobCompleted/JobFailed/JobCancelled itself, so
// the daemon is what turns "job became terminal this round" into the
// durable record of it, and into the trigger for releasing whatever
// worker slot or workspace the job was holding.
func terminalEventFor(job *oj.Job) *oj.Event {
	switch job.Step {
	case oj.StepDone:
		return &oj.Event{Kind: oj.EventJobCompleted, JobCompleted: &oj.JobRefPayload{ID: job.ID}}
	case oj.StepCancelled:
		return &oj.Event{Kind: oj.EventJobCancelled, JobCancelled: &oj.JobRefPayload{ID: job.ID}}
	default:
		return &oj.Event{Kind: oj.EventJobFailed, JobFailed: &oj.JobFailedPayload{ID: job.ID, Error: job.Error}}
	}
}

// freeWorkerSlotForJob looks for a worker whose ActiveJobs set holds
// job's id (a job a worker dispatched, reaching a terminal state) and,
// if found, records the completed or failed queue item, frees the
// worker's concurrency slot, and wakes the scheduler so the freed slot
// is re-polled promptly.
func (d *Daemon) freeWorkerSlotForJob(job *oj.Job) {
	d.stateMu.RLock()
	var w *oj.WorkerState
	var itemID string
	for _, candidate := range d.state.Workers {
		if candidate.ActiveJobs[job.ID] {
			w = candidate
			for id, jid := range candidate.ItemPipeline {
				if jid == job.ID {
					itemID = id
					break
				}
			}
			break
		}
	}
	d.stateMu.RUnlock()

	if w == nil {
		return
	}

	if err := d.submitLocked(oj.Event{
		Kind:            oj.EventWorkerSlotFreed,
		WorkerSlotFreed: &oj.WorkerRefPayload{Name: w.Name, Namespace: w.Namespace},
	}); err != nil {
		d.logger.Error("recording worker slot freed", "worker", w.Name, "error", err)
	}

	if itemID != "" {
		if job.Step == oj.StepDone {
			d.submitLocked(oj.Event{
				Kind:               oj.EventQueueItemCompleted,
				QueueItemCompleted: &oj.QueueItemRefPayload{QueueName: w.QueueName, Namespace: w.Namespace, ItemID: itemID},
			})
		} else {
			d.submitLocked(oj.Event{
				Kind: oj.EventQueueItemFailed,
				QueueItemFailed: &oj.QueueItemFailedPayload{
					QueueName: w.QueueName, Namespace: w.Namespace, ItemID: itemID, Error: job.Error,
				},
			})
		}
	}

	d.scheduler.ReleaseSlot(w.Name, w.Namespace)
}

// propagateSubPipelineDone reports a sub-pipeline job's terminal state
// back to the parent step that started it, so the parent's on_done/
// on_fail can react the same as they would to a shell step's exit
// code. A job with no ParentJobID is a no-op.
func (d *Daemon) propagateSubPipelineDone(job *oj.Job) {
	if job.ParentJobID == nil {
		return
	}
	outcome := "failed"
	switch job.Step {
	case oj.StepDone:
		outcome = "done"
	case oj.StepCancelled:
		outcome = "cancelled"
	}
	if err := d.submitLocked(oj.Event{
		Kind: oj.EventSubPipelineDone,
		SubPipelineDone: &oj.SubPipelineDonePayload{
			ParentJobID: *job.ParentJobID,
			ChildJobID:  job.ID,
			Outcome:     outcome,
			Error:       job.Error,
		},
	}); err != nil {
		d.logger.Error("propagating sub-pipeline completion", "child", job.ID, "parent", *job.ParentJobID, "error", err)
	}
}

// TimerFired implements scheduler.Handler: it submits the firing as a
// live event carrying the owner and label the scheduler had on file, so
// the reducer can route it to the job without a separate lookup.
func (d *Daemon) TimerFired(id oj.TimerID, owner oj.Owner, label string) {
	if err := d.Submit(oj.Event{
		Kind: oj.EventTimerFired,
		TimerFired: &oj.TimerRefPayload{ID: id, Owner: owner, Label: label},
	}); err != nil {
		d.logger.Error("submitting timer fired", "timer", id, "error", err)
	}
}

// CronFired implements scheduler.Handler: it records the firing, then
// starts whatever the cron targets.
func (d *Daemon) CronFired(name, namespace string) {
	var cron *oj.CronState
	d.Read(func(s *state.State) {
		cron, _ = s.Cron(namespace, name)
	})
	if cron == nil {
		d.logger.Warn("cron fired with no matching state entry", "cron", name, "namespace", namespace)
		return
	}

	if err := d.Submit(oj.Event{
		Kind:      oj.EventCronFired,
		CronFired: &oj.CronRefPayload{Name: name, Namespace: namespace},
	}); err != nil {
		d.logger.Error("submitting cron fired", "cron", name, "error", err)
		return
	}

	switch cron.TargetKind {
	case oj.RunTargetJob:
		d.startCronJob(cron)
	case oj.RunTargetAgent:
		d.startCronAgent(cron)
	}
}

// startCronJob creates a fresh job run of the cron's target job kind.
func (d *Daemon) startCronJob(cron *oj.CronState) {
	rb := d.runbook(cron.RunbookSha)
	if rb == nil {
		d.logger.Error("cron job: runbook not found", "cron", cron.Name, "sha", cron.RunbookSha)
		return
	}
	jobDef, ok := rb.Jobs[cron.TargetName]
	if !ok {
		d.logger.Error("cron job: unknown job kind", "cron", cron.Name, "kind", cron.TargetName)
		return
	}

	if err := d.Submit(oj.Event{
		Kind: oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{
			ID: oj.NewJobID(), Name: jobDef.Name, Kind: cron.TargetName, Namespace: cron.Namespace,
			RunbookSha: cron.RunbookSha, FirstStep: jobDef.FirstStep, CronName: cron.Name,
		},
	}); err != nil {
		d.logger.Error("starting cron job", "cron", cron.Name, "error", err)
	}
}

// startCronAgent spawns the cron's target agent as a standalone run.
// Standalone agent runs have no state machine of their own in
// internal/runtime (nothing there reacts to AgentRunCreated, unlike a
// job's first step starting itself) — this records the run, then
// dispatches the spawn directly, bypassing the on_idle/on_dead recovery
// chains a job-bound agent gets. Scoped simplification: crons that run
// an agent get a fire-and-forget process, not a supervised one.
func (d *Daemon) startCronAgent(cron *oj.CronState) {
	rb := d.runbook(cron.RunbookSha)
	if rb == nil {
		d.logger.Error("cron agent: runbook not found", "cron", cron.Name, "sha", cron.RunbookSha)
		return
	}
	agentDef, ok := rb.Agents[cron.TargetName]
	if !ok {
		d.logger.Error("cron agent: unknown agent", "cron", cron.Name, "agent", cron.TargetName)
		return
	}

	runID := oj.NewAgentRunID()
	if err := d.Submit(oj.Event{
		Kind: oj.EventAgentRunCreated,
		AgentRunCreated: &oj.AgentRunCreatedPayload{
			ID: runID, AgentName: agentDef.Name, Namespace: cron.Namespace,
			Cwd: cron.ProjectRoot, RunbookSha: cron.RunbookSha,
		},
	}); err != nil {
		d.logger.Error("creating cron agent run", "cron", cron.Name, "error", err)
		return
	}

	d.runEffects([]oj.Effect{{
		Kind: oj.EffectSpawnAgent,
		SpawnAgent: &oj.SpawnAgentEffect{
			ID: oj.NewAgentID(), Name: agentDef.Name, Owner: oj.AgentRunOwner(runID),
			Namespace: cron.Namespace, Binary: agentDef.Binary, PromptFile: agentDef.PromptFile,
			Dir: cron.ProjectRoot, Env: agentDef.Env,
		},
	}})
}

// PollWorker implements scheduler.Handler: it drains pending items for
// name's queue up to the worker's free concurrency, dispatching each as
// its own job (persisted queues) or running the queue's take_command
// once per free slot (external queues, which report no item of their
// own back through the closed event/effect enums — dispatchTakeQueueItem
// only runs the command, a scoped simplification pending a richer
// external-queue contract).
func (d *Daemon) PollWorker(name, namespace string) {
	defer d.scheduler.PollDone(name, namespace)

	var w *oj.WorkerState
	var rb *oj.Runbook
	d.Read(func(s *state.State) {
		w, _ = s.Worker(namespace, name)
		if w != nil {
			if sr, ok := s.Runbooks[w.RunbookSha]; ok {
				rb = sr.Runbook
			}
		}
	})
	if w == nil || w.Status != oj.WorkerRunning || rb == nil {
		return
	}

	free := w.Concurrency - w.InflightItems
	if free <= 0 {
		return
	}

	if queueDef, ok := rb.Queues[w.QueueName]; ok && queueDef.External {
		for i := 0; i < free; i++ {
			d.runEffects([]oj.Effect{{
				Kind: oj.EffectTakeQueueItem,
				TakeQueueItem: &oj.TakeQueueItemEffect{
					QueueName: w.QueueName, Namespace: namespace,
					TakeCommand: queueDef.TakeCommand, WorkerName: name,
				},
			}})
		}
		return
	}

	jobDef, ok := rb.Jobs[w.PipelineKind]
	if !ok {
		d.logger.Error("worker pipeline kind not found", "worker", name, "kind", w.PipelineKind)
		return
	}

	prefix := namespace + ":" + w.QueueName + ":"
	var pending []*oj.QueueItem
	d.Read(func(s *state.State) {
		for key, item := range s.QueueItems {
			if item.Status == oj.QueueItemPending && strings.HasPrefix(key, prefix) {
				pending = append(pending, item)
			}
		}
	})
	sort.Slice(pending, func(i, j int) bool { return pending[i].PushedAtEpoch < pending[j].PushedAtEpoch })

	for i := 0; i < free && i < len(pending); i++ {
		d.dispatchQueueItem(pending[i], w, namespace, jobDef)
	}
}

func (d *Daemon) dispatchQueueItem(item *oj.QueueItem, w *oj.WorkerState, namespace string, jobDef oj.JobDef) {
	jobID := oj.NewJobID()
	vars := make(map[string]string, len(item.Data))
	for k, v := range item.Data {
		vars[k] = v
	}

	if err := d.Submit(oj.Event{
		Kind: oj.EventQueueItemTaken,
		QueueItemTaken: &oj.QueueItemTakenPayload{
			QueueName: w.QueueName, Namespace: namespace, ItemID: item.ID, WorkerName: w.Name, JobID: jobID,
		},
	}); err != nil {
		d.logger.Error("taking queue item", "item", item.ID, "error", err)
		return
	}

	if err := d.Submit(oj.Event{
		Kind: oj.EventJobCreated,
		JobCreated: &oj.JobCreatedPayload{
			ID: jobID, Name: jobDef.Name, Kind: w.PipelineKind, Namespace: namespace,
			RunbookSha: w.RunbookSha, FirstStep: jobDef.FirstStep, Variables: vars,
		},
	}); err != nil {
		d.logger.Error("starting worker job", "item", item.ID, "error", err)
	}

	if err := d.Submit(oj.Event{
		Kind: oj.EventWorkerItemDispatched,
		WorkerItemDispatched: &oj.WorkerItemDispatchedPayload{
			Name: w.Name, Namespace: namespace, ItemID: item.ID, JobID: jobID,
		},
	}); err != nil {
		d.logger.Error("recording worker dispatch", "item", item.ID, "error", err)
	}

	d.scheduler.AcquireSlot(w.Name, namespace)
}

func nowMS() int64 { return time.Now().UnixMilli() }

func (d *Daemon) runbook(sha string) *oj.Runbook {
	var rb *oj.Runbook
	d.Read(func(s *state.State) {
		if sr, ok := s.Runbooks[sha]; ok {
			rb = sr.Runbook
		}
	})
	return rb
}

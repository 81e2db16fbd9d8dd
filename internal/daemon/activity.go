package daemon

import (
	"fmt"

	"github.com/ojdaemon/ojd/internal/activitylog"
	"github.com/ojdaemon/ojd/internal/oj"
)

// syncActivityLog appends a human-readable line describing ev to
// whichever of logs/job, logs/agent, logs/worker, logs/queue it
// concerns. Assumes stateMu is already held (called from inside
// submitLocked's critical section, same as syncBreadcrumb).
func (d *Daemon) syncActivityLog(ev oj.Event) {
	switch ev.Kind {
	case oj.EventJobCreated:
		p := ev.JobCreated
		d.logActivity("job", string(p.ID), fmt.Sprintf("created name=%q first_step=%q", p.Name, p.FirstStep))

	case oj.EventJobAdvanced:
		p := ev.JobAdvanced
		d.logActivity("job", string(p.ID), fmt.Sprintf("step=%q status=%s outcome=%s", p.Step, p.Status, p.Outcome))

	case oj.EventJobCompleted:
		d.logActivity("job", string(ev.JobCompleted.ID), "completed")

	case oj.EventJobFailed:
		p := ev.JobFailed
		d.logActivity("job", string(p.ID), fmt.Sprintf("failed error=%q", p.Error))

	case oj.EventJobCancelled:
		d.logActivity("job", string(ev.JobCancelled.ID), "cancelled")

	case oj.EventStepStarted:
		p := ev.StepStarted
		d.logActivity("job", string(p.JobID), fmt.Sprintf("step %q started agent=%q", p.StepName, p.AgentName))
		if p.AgentID != nil {
			d.logActivity("agent", string(*p.AgentID), fmt.Sprintf("spawned for job=%s step=%q", p.JobID, p.StepName))
		}

	case oj.EventStepRetried:
		p := ev.StepRetried
		d.logActivity("job", string(p.JobID), fmt.Sprintf("step %q retried attempt=%d trigger=%s", p.StepName, p.Attempt, p.TriggerKind))

	case oj.EventShellExited:
		p := ev.ShellExited
		d.logActivity("job", string(p.JobID), fmt.Sprintf("step %q shell exited code=%d gate=%t %s", p.StepName, p.ExitCode, p.IsGate, activitylog.JoinOutputs(p.Outputs)))

	case oj.EventAgentSpawned:
		p := ev.AgentSpawned
		d.logActivity("agent", string(p.ID), fmt.Sprintf("spawned name=%q owner=%s session=%s", p.Name, p.Owner, p.SessionID))

	case oj.EventAgentExited:
		p := ev.AgentExited
		d.logActivity("agent", string(p.ID), fmt.Sprintf("exited reason=%q", p.ExitReason))

	case oj.EventAgentGone:
		d.logActivity("agent", string(ev.AgentGone.ID), "gone (session disappeared)")

	case oj.EventAgentSignal:
		p := ev.AgentSignal
		d.logActivity("agent", string(p.ID), fmt.Sprintf("signal=%s message=%q", p.Kind, p.Message))

	case oj.EventAgentActivityObserved:
		p := ev.AgentActivityObserved
		d.logActivity("agent", string(p.ID), fmt.Sprintf("activity files_read=%d files_written=%d commands_run=%d", p.FilesRead, p.FilesWritten, p.CommandsRun))

	case oj.EventQueuePushed:
		p := ev.QueuePushed
		d.logActivity("queue", p.QueueName, fmt.Sprintf("pushed item=%s namespace=%s", p.ItemID, p.Namespace))

	case oj.EventQueueItemTaken:
		p := ev.QueueItemTaken
		d.logActivity("queue", p.QueueName, fmt.Sprintf("item=%s taken by worker=%s job=%s", p.ItemID, p.WorkerName, p.JobID))

	case oj.EventQueueItemCompleted:
		p := ev.QueueItemCompleted
		d.logActivity("queue", p.QueueName, fmt.Sprintf("item=%s completed", p.ItemID))

	case oj.EventQueueItemFailed:
		p := ev.QueueItemFailed
		d.logActivity("queue", p.QueueName, fmt.Sprintf("item=%s failed dead=%t error=%q", p.ItemID, p.Dead, p.Error))

	case oj.EventQueueItemRetried:
		p := ev.QueueItemRetried
		d.logActivity("queue", p.QueueName, fmt.Sprintf("item=%s retried", p.ItemID))

	case oj.EventQueueItemDropped:
		p := ev.QueueItemDropped
		d.logActivity("queue", p.QueueName, fmt.Sprintf("item=%s dropped", p.ItemID))

	case oj.EventWorkerStarted:
		p := ev.WorkerStarted
		d.logActivity("worker", p.Name, fmt.Sprintf("started queue=%s namespace=%s concurrency=%d", p.QueueName, p.Namespace, p.Concurrency))

	case oj.EventWorkerStopped:
		d.logActivity("worker", ev.WorkerStopped.Name, "stopped")

	case oj.EventWorkerItemDispatched:
		p := ev.WorkerItemDispatched
		d.logActivity("worker", p.Name, fmt.Sprintf("dispatched item=%s job=%s", p.ItemID, p.JobID))

	case oj.EventWorkerSlotFreed:
		d.logActivity("worker", ev.WorkerSlotFreed.Name, "slot freed")
	}
}

func (d *Daemon) logActivity(kind, name, line string) {
	if d.Activity == nil || name == "" {
		return
	}
	if err := d.Activity.Append(kind, name, line); err != nil {
		d.logger.Error("appending activity log", "kind", kind, "name", name, "error", err)
	}
}

// Tail implements listener.LogTailer, delegating to Activity so the
// listener doesn't need to know the log package exists. A nil Activity
// (daemons built directly around New without lifecycle.Run) reports an
// empty window rather than erroring.
func (d *Daemon) Tail(kind, name string, lines int) ([]string, error) {
	if d.Activity == nil {
		return nil, nil
	}
	return d.Activity.Tail(kind, name, lines)
}

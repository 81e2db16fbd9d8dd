package daemon

import (
	"context"
	"log/slog"

	"github.com/ojdaemon/ojd/internal/adapter/agent"
	"github.com/ojdaemon/ojd/internal/adapter/session"
	"github.com/ojdaemon/ojd/internal/breadcrumb"
	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/state"
)

// reconcile compares materialized state's view of live sessions against
// what tmux actually reports at startup: a recorded session whose
// process is gone means its owning agent died while ojd wasn't running,
// and a live ojd- session with no matching record is an orphan left
// behind by an unclean shutdown. Both are recorded as events rather
// than corrected silently, so the owning job's on_dead recovery chain
// (or a human, for an orphan) decides what happens next.
//
// A recorded session that IS still live gets reattached: its log
// watcher is restarted and its liveness timer re-armed, since both were
// only ever held in this process's memory and don't survive a restart.
func reconcile(ctx context.Context, d *Daemon, sessions *session.Adapter, agents *agent.Adapter, logger *slog.Logger) {
	if err := d.Submit(oj.Event{Kind: oj.EventReconcileStarted, ReconcileStarted: &oj.ReconcileStartedPayload{AtMS: nowMS()}}); err != nil {
		logger.Error("recording reconcile start", "error", err)
	}

	live, err := sessions.List(ctx)
	if err != nil {
		logger.Error("listing live sessions", "error", err)
		return
	}
	liveSet := make(map[oj.SessionID]bool, len(live))
	for _, id := range live {
		liveSet[id] = true
	}

	var recorded []oj.SessionID
	d.Read(func(s *state.State) {
		for id := range s.Sessions {
			recorded = append(recorded, id)
		}
	})

	for _, id := range recorded {
		agentID := agentForSession(d, id)
		if agentID == "" {
			continue
		}
		if liveSet[id] {
			reattach(ctx, d, agents, agentID, logger)
			continue
		}
		if err := d.Submit(oj.Event{Kind: oj.EventAgentGone, AgentGone: &oj.AgentRefPayload{ID: agentID}}); err != nil {
			logger.Error("recording agent gone on reconcile", "agent", agentID, "error", err)
		}
	}

	for id := range liveSet {
		if isRecorded(d, id) {
			continue
		}
		if err := d.Submit(oj.Event{
			Kind: oj.EventOrphanDetected,
			OrphanDetected: &oj.OrphanDetectedPayload{
				ID:          "session:" + string(id),
				Description: "tmux session " + string(id) + " has no matching daemon record",
			},
		}); err != nil {
			logger.Error("recording orphan session", "session", id, "error", err)
		}
	}
}

// reconcileBreadcrumbs compares the breadcrumb sidecar files left on
// disk against materialized state: a breadcrumb whose job isn't in
// state points at a job that was in flight when a previous daemon
// instance died without a clean shutdown. Stale breadcrumbs (job
// already terminal) are removed outright; those whose job is missing
// are removed and surfaced as orphans for the user to dismiss or
// reconnect to, per reconcile's own pattern for session orphans above.
func reconcileBreadcrumbs(d *Daemon, stateDir string, logger *slog.Logger) {
	if d.Breadcrumbs == nil {
		return
	}
	crumbs, err := breadcrumb.Scan(d.Breadcrumbs.Dir)
	if err != nil {
		logger.Error("scanning breadcrumbs", "error", err)
		return
	}

	for _, c := range crumbs {
		var recorded, live bool
		d.Read(func(s *state.State) {
			j, ok := s.Jobs[c.JobID]
			recorded = ok
			live = ok && !j.IsTerminal()
		})
		if live {
			continue
		}

		if err := d.Breadcrumbs.Remove(c.JobID); err != nil {
			logger.Error("removing stale breadcrumb", "job", c.JobID, "error", err)
		}
		if recorded {
			continue
		}

		jobID := c.JobID
		if err := d.Submit(oj.Event{
			Kind: oj.EventOrphanDetected,
			OrphanDetected: &oj.OrphanDetectedPayload{
				ID:          "job:" + string(c.JobID),
				JobID:       &jobID,
				Description: "breadcrumb for job " + string(c.JobID) + " (" + c.Name + ") has no live record",
			},
		}); err != nil {
			logger.Error("recording orphan job", "job", c.JobID, "error", err)
		}
	}
}

// reattach restarts the in-process bookkeeping for an agent whose
// session survived a daemon restart: the log watcher (a goroutine, lost
// on restart) and the liveness timer (held by the scheduler, also lost
// on restart). It reuses the check_liveness effect rather than minting
// a new event kind, since a live agent's dispatch already re-arms its
// own next timer as a side effect.
func reattach(ctx context.Context, d *Daemon, agents *agent.Adapter, agentID oj.AgentID, logger *slog.Logger) {
	if agents != nil {
		if _, err := agents.WatchLog(ctx, agentID); err != nil {
			logger.Error("restarting log watch on reconcile", "agent", agentID, "error", err)
		}
	}

	var owner oj.Owner
	d.Read(func(s *state.State) {
		owner = s.AgentOwners[agentID]
	})
	d.runEffects([]oj.Effect{{
		Kind:          oj.EffectCheckLiveness,
		CheckLiveness: &oj.CheckLivenessEffect{AgentID: agentID, Owner: owner},
	}})
}

func agentForSession(d *Daemon, sid oj.SessionID) oj.AgentID {
	var found oj.AgentID
	d.Read(func(s *state.State) {
		for agentID, sessionID := range s.AgentSessions {
			if sessionID == sid {
				found = agentID
				return
			}
		}
	})
	return found
}

func isRecorded(d *Daemon, sid oj.SessionID) bool {
	var ok bool
	d.Read(func(s *state.State) {
		_, ok = s.Sessions[sid]
	})
	return ok
}

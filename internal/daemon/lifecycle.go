package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/run"

	"github.com/ojdaemon/ojd/internal/activitylog"
	"github.com/ojdaemon/ojd/internal/adapter/agent"
	"github.com/ojdaemon/ojd/internal/adapter/notify"
	"github.com/ojdaemon/ojd/internal/adapter/session"
	"github.com/ojdaemon/ojd/internal/adapter/shell"
	"github.com/ojdaemon/ojd/internal/breadcrumb"
	"github.com/ojdaemon/ojd/internal/config"
	"github.com/ojdaemon/ojd/internal/executor"
	"github.com/ojdaemon/ojd/internal/listener"
	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/runtime"
	"github.com/ojdaemon/ojd/internal/scheduler"
	"github.com/ojdaemon/ojd/internal/state"
	"github.com/ojdaemon/ojd/internal/wal"
)

const snapshotFile = "snapshot.json"

// Run is cmd/ojd's entire body: acquire the state-directory lock, bring
// up every subsystem, replay durable history into it, and block serving
// requests until ctx is cancelled or a client asks for shutdown.
func Run(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger) error {
	stateDir := cfg.StateDir(baseDir)

	lock, err := AcquireLock(stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	s, err := loadSnapshot(stateDir)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	w, err := wal.Open(filepath.Join(stateDir, "wal.log"), cfg.Wal.FlushInterval, cfg.Wal.FlushThreshold)
	if err != nil {
		return fmt.Errorf("opening wal: %w", err)
	}
	defer w.Close()

	entries, err := w.EntriesAfter(s.LastAppliedSeq)
	if err != nil {
		return fmt.Errorf("replaying wal: %w", err)
	}
	for _, e := range entries {
		if err := state.ApplyEvent(s, e.Seq, e.Event); err != nil {
			return fmt.Errorf("replaying seq %d: %w", e.Seq, err)
		}
		s.LastAppliedSeq = e.Seq
		w.MarkProcessed(e.Seq)
	}
	logger.Info("replayed wal", "entries", len(entries), "last_applied_seq", s.LastAppliedSeq)

	machine := runtime.NewMachine(invokeBuiltins(baseDir), func(jobID oj.JobID) map[string]string {
		for _, ws := range s.Workspaces {
			if ws.Owner != nil && ws.Owner.IsJob() && ws.Owner.JobID() == jobID {
				return map[string]string{"root": ws.Path, "nonce": string(ws.ID)}
			}
		}
		return nil
	})
	machine.DefaultWaitMS = cfg.Lifecycle.RunWaitMS
	reducer := runtime.NewReducer(machine, func(sha string) (*oj.Runbook, bool) {
		sr, ok := s.Runbooks[sha]
		if !ok {
			return nil, false
		}
		return sr.Runbook, true
	})
	reducer.LivenessInterval = cfg.Lifecycle.WatcherPollInterval

	sessions := session.New()
	sessions.ExitPollInterval = cfg.Lifecycle.WaitPollInterval
	agents := agent.New(sessions)
	agents.LogDir = filepath.Join(stateDir, "agents")
	agents.GracePeriod = cfg.Lifecycle.AgentStopGracePeriod
	notifier := notify.New()
	runner := shell.New()
	shellExec := executor.NewShellExecutor()

	dispatch := executor.New(shellExec, agents, sessions, notifier, runner, nil, func(id oj.AgentID) (oj.SessionID, bool) {
		sid, ok := s.AgentSessions[id]
		return sid, ok
	})
	dispatch.LivenessInterval = cfg.Lifecycle.WatcherPollInterval

	d := New(w, lock, s, reducer, dispatch, nil, logger)
	d.Breadcrumbs = breadcrumb.New(filepath.Join(stateDir, "logs", "breadcrumbs"))
	d.Activity = activitylog.New(filepath.Join(stateDir, "logs"))

	sched := scheduler.New(d, nil)
	dispatch.Timers = sched
	d.scheduler = sched
	rearmScheduler(sched, s)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var kill bool
	socketPath := filepath.Join(stateDir, "ojd.sock")
	lst := listener.New(socketPath, d, d, d, sessions, d, cfg, logger, func(requestedKill bool) {
		kill = requestedKill
		cancelRun()
	})

	var g run.Group

	g.Add(func() error {
		return lst.Serve(runCtx)
	}, func(error) {
		lst.Close()
	})

	g.Add(func() error {
		err := sched.Run(runCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	}, func(error) {})

	g.Add(func() error {
		return runFlushLoop(runCtx, w, cfg.Wal.FlushInterval, logger)
	}, func(error) {})

	g.Add(func() error {
		return runCheckpointLoop(runCtx, d, stateDir, cfg.Wal.CheckpointEvery, logger)
	}, func(error) {})

	g.Add(func() error {
		<-runCtx.Done()
		return runCtx.Err()
	}, func(error) {})

	reconcile(runCtx, d, sessions, agents, logger)
	reconcileBreadcrumbs(d, stateDir, logger)

	runErr := g.Run()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
	defer cancelShutdown()
	if err := d.Shutdown(shutdownCtx, sessions, kill, logger); err != nil {
		logger.Error("shutdown", "error", err)
	}

	if runErr == context.Canceled {
		return nil
	}
	return runErr
}

// rearmScheduler rebuilds the scheduler's in-memory cron table and
// worker table from materialized state: each active cron is armed from
// its last fire time, and each running worker is registered with the
// in-flight count that folding WorkerItemDispatched/WorkerSlotFreed
// left behind. One-shot timers are not part of materialized state, so
// timers pending when the previous daemon stopped are not re-armed here.
func rearmScheduler(sched *scheduler.Scheduler, s *state.State) {
	for _, c := range s.Crons {
		if c.Status == oj.CronActive {
			sched.ArmCron(c.Name, c.Namespace, c.IntervalMS, c.LastFireMS)
		}
	}
	for _, w := range s.Workers {
		if w.Status == oj.WorkerRunning {
			sched.RegisterWorker(w.Name, w.Namespace, w.Concurrency, w.InflightItems)
		}
	}
}

// invokeBuiltins supplies the ${invoke.*} builtins shared by every job
// in this daemon: just the directory ojd itself was launched from.
func invokeBuiltins(baseDir string) map[string]string {
	return map[string]string{"dir": baseDir}
}

func loadSnapshot(stateDir string) (*state.State, error) {
	path := filepath.Join(stateDir, snapshotFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return state.New(), nil
	}
	if err != nil {
		return nil, err
	}
	return state.LoadSnapshot(data)
}

// runFlushLoop ticks the WAL's group-commit flush on interval, so an
// idle period still bounds how long an applied-but-unflushed event can
// sit in memory.
func runFlushLoop(ctx context.Context, w *wal.Wal, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.NeedsFlush() {
				if err := w.Flush(); err != nil {
					logger.Error("periodic wal flush", "error", err)
				}
			}
		}
	}
}

// runCheckpointLoop snapshots state and truncates the WAL once every
// checkpointEvery processed entries, bounding how far a cold-start
// replay ever has to walk.
func runCheckpointLoop(ctx context.Context, d *Daemon, stateDir string, checkpointEvery int, logger *slog.Logger) error {
	if checkpointEvery <= 0 {
		checkpointEvery = 5000
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastCheckpoint uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			processed := d.wal.ProcessedSeq()
			if processed-lastCheckpoint < uint64(checkpointEvery) {
				continue
			}
			if err := checkpoint(d, stateDir, processed); err != nil {
				logger.Error("checkpoint failed", "error", err)
				continue
			}
			lastCheckpoint = processed
		}
	}
}

func checkpoint(d *Daemon, stateDir string, uptoSeq uint64) error {
	data, err := d.Snapshot(uptoSeq)
	if err != nil {
		return err
	}

	path := filepath.Join(stateDir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return d.wal.TruncateBefore(uptoSeq + 1)
}

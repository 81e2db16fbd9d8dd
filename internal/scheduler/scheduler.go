// Package scheduler owns the three runtime-only clocks the job machine
// itself never touches: one-shot timers backing the "wait" action and
// agent liveness checks, cron fire times, and worker queue polling. None
// of this is materialized state: at startup the daemon re-arms crons and
// workers from the folded state, then everything is driven purely in
// memory from there. One-shot timers are not persisted anywhere.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/ojdaemon/ojd/internal/oj"
)

// Handler is how the scheduler reports firings back to the daemon. The
// daemon turns each of these into a domain reaction (resume a job's
// action chain, run a cron's target, dispatch a worker's next item) and
// appends whatever event that reaction produces to the write-ahead log.
type Handler interface {
	TimerFired(id oj.TimerID, owner oj.Owner, label string)
	CronFired(name, namespace string)
	PollWorker(name, namespace string)
}

// tick is how often Run wakes up to drain due timers and advance cron
// fire times. spec.md's cron section describes a 1-second main-loop
// tick; timers and worker re-polls piggyback on the same tick, with the
// Wake channel available for anything that can't wait out the interval.
const tick = 1 * time.Second

type cronEntry struct {
	name        string
	namespace   string
	intervalMS  int64
	nextFireMS  int64
}

type workerEntry struct {
	name        string
	namespace   string
	concurrency int
	inflight    int
	polling     bool
}

// Scheduler holds the timer heap, cron table and worker table, and
// drives Handler callbacks as each comes due. The zero value is not
// usable; construct with New.
type Scheduler struct {
	mu      sync.Mutex
	timers  timerHeap
	byID    map[oj.TimerID]*timerEntry
	crons   map[string]*cronEntry
	workers map[string]*workerEntry

	handler Handler
	wake    chan struct{}

	nowMS func() int64
}

// New returns a Scheduler reporting firings to handler. nowMS supplies
// the current epoch-ms clock; pass nil to use the real wall clock (a
// test can substitute a fake one to drive fire-time comparisons
// deterministically).
func New(handler Handler, nowMS func() int64) *Scheduler {
	if nowMS == nil {
		nowMS = func() int64 { return time.Now().UnixMilli() }
	}
	return &Scheduler{
		byID:    make(map[oj.TimerID]*timerEntry),
		crons:   make(map[string]*cronEntry),
		workers: make(map[string]*workerEntry),
		handler: handler,
		wake:    make(chan struct{}, 1),
		nowMS:   nowMS,
	}
}

func cronKey(namespace, name string) string  { return namespace + "/" + name }
func workerKey(namespace, name string) string { return namespace + "/" + name }

// SetTimer implements executor.Timers: it pushes a one-shot timer onto
// the heap.
func (s *Scheduler) SetTimer(eff *oj.SetTimerEffect) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &timerEntry{id: eff.ID, fireAtMS: eff.FireAtMS, owner: eff.Owner, label: eff.Label}
	s.byID[eff.ID] = e
	heap.Push(&s.timers, e)
	s.Wake()
}

// CancelTimer implements executor.Timers: it removes a pending timer by
// id. A timer that already fired (or never existed) is a silent no-op,
// since the caller can't distinguish those from here without its own
// bookkeeping.
func (s *Scheduler) CancelTimer(eff *oj.CancelTimerEffect) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[eff.ID]
	if !ok {
		return
	}
	delete(s.byID, eff.ID)
	if e.index >= 0 && e.index < len(s.timers) && s.timers[e.index] == e {
		heap.Remove(&s.timers, e.index)
	}
}

// ArmCron registers a cron to fire every intervalMS starting lastFireMS
// (0 means fire on the first tick). The daemon calls this at startup
// for every active cron in materialized state.
func (s *Scheduler) ArmCron(name, namespace string, intervalMS, lastFireMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := lastFireMS + intervalMS
	if lastFireMS == 0 {
		next = s.nowMS()
	}
	s.crons[cronKey(namespace, name)] = &cronEntry{
		name: name, namespace: namespace, intervalMS: intervalMS,
		nextFireMS: next,
	}
}

// DisarmCron removes a cron so it no longer ticks.
func (s *Scheduler) DisarmCron(name, namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.crons, cronKey(namespace, name))
}

// RegisterWorker adds a worker to the poll table with inflight active
// jobs already accounted for (non-zero on a warm restart). Replaying
// WorkerStarted, then WorkerItemDispatched/WorkerSlotFreed for that
// worker, reconstructs the right inflight count before Run starts.
func (s *Scheduler) RegisterWorker(name, namespace string, concurrency, inflight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[workerKey(namespace, name)] = &workerEntry{
		name: name, namespace: namespace, concurrency: concurrency, inflight: inflight,
	}
}

// UnregisterWorker removes a stopped worker from the poll table.
func (s *Scheduler) UnregisterWorker(name, namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, workerKey(namespace, name))
}

// AcquireSlot accounts for a newly dispatched item against a worker's
// concurrency budget, called when WorkerItemDispatched folds.
func (s *Scheduler) AcquireSlot(name, namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[workerKey(namespace, name)]; ok {
		w.inflight++
	}
}

// ReleaseSlot frees a worker's slot, called when WorkerSlotFreed folds
// (the job that held it reached a terminal state). It also wakes the
// loop so the freed slot gets re-polled promptly instead of waiting out
// the tick.
func (s *Scheduler) ReleaseSlot(name, namespace string) {
	s.mu.Lock()
	if w, ok := s.workers[workerKey(namespace, name)]; ok && w.inflight > 0 {
		w.inflight--
	}
	s.mu.Unlock()
	s.Wake()
}

// PollDone marks a worker's in-flight poll as finished, per spec.md
// §4.4.3's status=Polling guard: the daemon calls this once its
// PollWorker callback has dispatched everything it found, allowing the
// next tick (or explicit Wake) to poll that worker again.
func (s *Scheduler) PollDone(name, namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[workerKey(namespace, name)]; ok {
		w.polling = false
	}
}

// Wake requests an immediate pass of the loop instead of waiting for
// the next tick: a queue push, a freed worker slot, or an explicit
// WorkerWake all funnel through here. Non-blocking: if a wake is
// already pending, this is a no-op.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is cancelled, firing due timers,
// advancing and firing due crons, and polling workers with free
// concurrency on every tick and every Wake. Grounded on the ticker-plus-select
// main loop idiom: a single select over ctx.Done(), a ticker channel and
// an explicit wake signal, with no separate goroutine per clock.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce()
		case <-s.wake:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	s.fireDueTimers()
	s.fireDueCrons()
	s.pollWorkers()
}

func (s *Scheduler) fireDueTimers() {
	now := s.nowMS()
	for {
		s.mu.Lock()
		if len(s.timers) == 0 || s.timers[0].fireAtMS > now {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.timers).(*timerEntry)
		delete(s.byID, e.id)
		s.mu.Unlock()

		if s.handler != nil {
			s.handler.TimerFired(e.id, e.owner, e.label)
		}
	}
}

func (s *Scheduler) fireDueCrons() {
	now := s.nowMS()

	s.mu.Lock()
	var due []*cronEntry
	for _, c := range s.crons {
		for c.nextFireMS <= now {
			due = append(due, c)
			c.nextFireMS += c.intervalMS
			if c.intervalMS <= 0 {
				break // misconfigured interval: fire once, don't spin forever
			}
		}
	}
	s.mu.Unlock()

	if s.handler == nil {
		return
	}
	for _, c := range due {
		s.handler.CronFired(c.name, c.namespace)
	}
}

func (s *Scheduler) pollWorkers() {
	s.mu.Lock()
	var ready []*workerEntry
	for _, w := range s.workers {
		if w.polling || w.inflight >= w.concurrency {
			continue
		}
		w.polling = true
		ready = append(ready, w)
	}
	s.mu.Unlock()

	if s.handler == nil {
		return
	}
	for _, w := range ready {
		s.handler.PollWorker(w.name, w.namespace)
	}
}

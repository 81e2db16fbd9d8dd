package scheduler

import "github.com/ojdaemon/ojd/internal/oj"

// timerEntry is one pending one-shot timer: SetTimer effects push these
// in, CancelTimer effects pop them back out by id before they fire.
type timerEntry struct {
	id       oj.TimerID
	fireAtMS int64
	owner    oj.Owner
	label    string
	index    int
}

// timerHeap is a binary min-heap ordered by fire time, driving the
// scheduler's one-shot timers (spec.md §4.4.3's timers: BinaryHeap<(fire_at, TimerId)>).
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAtMS < h[j].fireAtMS }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

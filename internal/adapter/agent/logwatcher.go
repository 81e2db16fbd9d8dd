package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ojdaemon/ojd/internal/oj"
)

const sessionLogName = "session.jsonl"

// logWatcher tails an agent's session.jsonl by filesystem event instead
// of polling, giving the liveness loop a faster signal than its ~15s
// tick that the session is still producing output. One fsnotify watcher
// is kept per agent, keyed by AgentID, so a reconnect (reattach on
// reconciliation) can restart the watch without leaking the old one.
type logWatcher struct {
	mu       sync.Mutex
	watchers map[oj.AgentID]*fsnotify.Watcher
}

func newLogWatcher() *logWatcher {
	return &logWatcher{watchers: make(map[oj.AgentID]*fsnotify.Watcher)}
}

// watch starts tailing dir/session.jsonl for write activity, returning
// a channel that receives a pulse on every write. The channel closes
// when ctx is done or the watch is replaced/stopped. Any prior watch
// registered under the same id is torn down first.
func (lw *logWatcher) watch(ctx context.Context, id oj.AgentID, dir string) (<-chan time.Time, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	lw.mu.Lock()
	if old, ok := lw.watchers[id]; ok {
		old.Close()
	}
	lw.watchers[id] = watcher
	lw.mu.Unlock()

	ch := make(chan time.Time, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != sessionLogName {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case ch <- time.Now():
				default:
					// a pulse is already pending; the reader hasn't
					// drained it yet, so another one adds nothing.
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ch, nil
}

// stop tears down the watcher registered for id, if one exists.
func (lw *logWatcher) stop(id oj.AgentID) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if watcher, ok := lw.watchers[id]; ok {
		watcher.Close()
		delete(lw.watchers, id)
	}
}

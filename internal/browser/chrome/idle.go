package chrome

import (
	"context"
	"sync"
	"time"
)

// networkIdle counts in-flight requests of a page and lets callers wait until
// the count stays at or below a threshold for a quiet period.
type networkIdle struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	changed  chan struct{}
}

func newNetworkIdle() *networkIdle {
	return &networkIdle{
		inflight: make(map[string]struct{}),
		changed:  make(chan struct{}),
	}
}

func (n *networkIdle) started(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.inflight[id]; ok {
		return
	}
	n.inflight[id] = struct{}{}
	n.notifyLocked()
}

func (n *networkIdle) finished(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.inflight[id]; !ok {
		return
	}
	delete(n.inflight, id)
	n.notifyLocked()
}

func (n *networkIdle) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight = make(map[string]struct{})
	n.notifyLocked()
}

func (n *networkIdle) notifyLocked() {
	close(n.changed)
	n.changed = make(chan struct{})
}

func (n *networkIdle) snapshot() (int, <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight), n.changed
}

// wait blocks until at most maxInflight requests have been in flight for
// quiet, or ctx ends.
func (n *networkIdle) wait(ctx context.Context, maxInflight int, quiet time.Duration) error {
	for {
		count, changed := n.snapshot()
		if count > maxInflight {
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		timer := time.NewTimer(quiet)
		select {
		case <-timer.C:
			return nil
		case <-changed:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

package gsusb

import "sync"

// echoTracker matches asynchronous transmit completions arriving on the
// receive path back to the send calls that issued them. It is the one
// piece of state shared between the send and receive paths, so every
// operation holds the mutex. At most one pending entry exists per echo id.
type echoTracker struct {
	mu      sync.Mutex
	pending map[uint32]chan error
	next    uint32
}

func newEchoTracker() *echoTracker {
	return &echoTracker{pending: make(map[uint32]chan error)}
}

// allocate reserves a fresh echo id and returns the channel its completion
// will arrive on. Ids come from a wrapping counter that skips the RX
// sentinel and any id still outstanding, so concurrently outstanding sends
// never share an id. The scan terminates after at most len(pending)+2
// candidates.
func (e *echoTracker) allocate() (uint32, <-chan error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		id := e.next
		e.next++
		if id == RxEchoID {
			continue
		}
		if _, busy := e.pending[id]; busy {
			continue
		}
		ch := make(chan error, 1)
		e.pending[id] = ch
		return id, ch
	}
}

// resolve delivers outcome to the send waiting on id and removes the
// pending entry. An id with no entry (duplicate completion, cancelled
// send) is dropped; the return value reports whether a waiter was found.
func (e *echoTracker) resolve(id uint32, outcome error) bool {
	e.mu.Lock()
	ch, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	ch <- outcome
	return true
}

// cancel removes the pending entry for id after a local send timeout, so
// a late device completion for it is treated as stale.
func (e *echoTracker) cancel(id uint32) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// failAll resolves every pending entry with outcome. Used when the
// receive path dies and no completion can ever arrive again.
func (e *echoTracker) failAll(outcome error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.pending {
		delete(e.pending, id)
		ch <- outcome
	}
}

func (e *echoTracker) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

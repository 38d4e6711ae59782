package gsusb

import (
	"errors"
	"testing"
)

func TestEchoAllocateUnique(t *testing.T) {
	e := newEchoTracker()
	id1, _ := e.allocate()
	id2, _ := e.allocate()
	if id1 == id2 {
		t.Errorf("allocate() returned %d twice while both pending", id1)
	}
	if got := e.pendingCount(); got != 2 {
		t.Errorf("pendingCount() = %d, want 2", got)
	}
}

func TestEchoAllocateSkipsSentinel(t *testing.T) {
	e := newEchoTracker()
	e.next = RxEchoID
	id, _ := e.allocate()
	if id == RxEchoID {
		t.Error("allocate() returned the RX sentinel")
	}
	if id != 0 {
		t.Errorf("allocate() = %d, want 0 after wraparound", id)
	}
}

func TestEchoAllocateSkipsPending(t *testing.T) {
	e := newEchoTracker()
	first, _ := e.allocate()
	e.next = first
	second, _ := e.allocate()
	if second == first {
		t.Errorf("allocate() reissued pending id %d", first)
	}
}

func TestEchoResolveDelivers(t *testing.T) {
	e := newEchoTracker()
	id, ch := e.allocate()

	if !e.resolve(id, nil) {
		t.Fatal("resolve() = false for pending id")
	}
	select {
	case err := <-ch:
		if err != nil {
			t.Errorf("outcome = %v, want nil", err)
		}
	default:
		t.Fatal("no outcome delivered")
	}
	if got := e.pendingCount(); got != 0 {
		t.Errorf("pendingCount() = %d, want 0", got)
	}
}

func TestEchoResolveTransmitError(t *testing.T) {
	e := newEchoTracker()
	id, ch := e.allocate()

	e.resolve(id, ErrTransport)
	if err := <-ch; !errors.Is(err, ErrTransport) {
		t.Errorf("outcome = %v, want ErrTransport", err)
	}
}

func TestEchoResolveUnknownIsDropped(t *testing.T) {
	e := newEchoTracker()
	if e.resolve(42, nil) {
		t.Error("resolve() = true for unknown id")
	}
}

func TestEchoFailAll(t *testing.T) {
	e := newEchoTracker()
	_, ch1 := e.allocate()
	_, ch2 := e.allocate()

	e.failAll(ErrDisconnected)
	if err := <-ch1; !errors.Is(err, ErrDisconnected) {
		t.Errorf("first outcome = %v, want ErrDisconnected", err)
	}
	if err := <-ch2; !errors.Is(err, ErrDisconnected) {
		t.Errorf("second outcome = %v, want ErrDisconnected", err)
	}
	if got := e.pendingCount(); got != 0 {
		t.Errorf("pendingCount() = %d, want 0", got)
	}
}

func TestEchoCancelMakesCompletionStale(t *testing.T) {
	e := newEchoTracker()
	id, ch := e.allocate()

	e.cancel(id)
	if e.resolve(id, nil) {
		t.Error("resolve() = true after cancel")
	}
	select {
	case <-ch:
		t.Error("outcome delivered after cancel")
	default:
	}
	if e.resolve(id, nil) {
		t.Error("duplicate resolve() = true after cancel")
	}
}

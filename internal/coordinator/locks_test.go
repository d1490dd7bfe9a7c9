package coordinator

import (
	"testing"
	"time"
)

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := k.lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()

	if n := k.held(); n != 0 {
		t.Errorf("held = %d after release, want 0", n)
	}
}

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.lock("a")

	acquired := make(chan struct{})
	go func() {
		u := k.lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on a acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock on a never acquired")
	}
}

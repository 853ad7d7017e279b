package sync

import "testing"

func withMockedCPU(ifEnabled bool) (restore func(), enabledCount, disabledCount *int) {
	enabled, disabled := 0, 0
	prevIF, prevEn, prevDis := interruptsEnabledFn, enableInterruptsFn, disableInterruptsFn

	interruptsEnabledFn = func() bool { return ifEnabled }
	enableInterruptsFn = func() { enabled++ }
	disableInterruptsFn = func() { disabled++ }

	return func() {
		interruptsEnabledFn, enableInterruptsFn, disableInterruptsFn = prevIF, prevEn, prevDis
	}, &enabled, &disabled
}

func TestIRQSpinlockAcquireRelease(t *testing.T) {
	restore, enabled, disabled := withMockedCPU(true)
	defer restore()

	var l IRQSpinlock
	l.Acquire()
	if l.state != 1 {
		t.Fatalf("state after Acquire = %d; want 1", l.state)
	}
	if *disabled == 0 {
		t.Error("expected interrupts to be disabled during Acquire")
	}

	l.Release()
	if l.state != 0 {
		t.Fatalf("state after Release = %d; want 0", l.state)
	}
	if *enabled == 0 {
		t.Error("expected interrupts to be re-enabled by Release (IF was set before Acquire)")
	}
}

func TestIRQSpinlockReleaseKeepsInterruptsDisabled(t *testing.T) {
	restore, enabled, _ := withMockedCPU(false)
	defer restore()

	var l IRQSpinlock
	l.Acquire()
	l.Release()

	if *enabled != 0 {
		t.Error("Release re-enabled interrupts even though they were disabled before Acquire")
	}
}

func TestIRQSpinlockAcquireWaitsForRelease(t *testing.T) {
	restore, _, _ := withMockedCPU(true)
	defer restore()

	var l IRQSpinlock
	l.state = 1 // simulate already held by another holder

	acquired := make(chan struct{})
	go func() {
		l.Acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while the lock was still held")
	default:
	}

	l.Release()
	<-acquired
}

func TestIRQSpinlockTryAcquireBusy(t *testing.T) {
	restore, _, _ := withMockedCPU(false)
	defer restore()

	var l IRQSpinlock
	l.state = 1 // simulate already held

	if l.TryAcquire() {
		t.Fatal("TryAcquire succeeded on an already-held lock")
	}
}

func TestIRQSpinlockTryAcquireFree(t *testing.T) {
	restore, _, _ := withMockedCPU(true)
	defer restore()

	var l IRQSpinlock
	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed on a free lock")
	}
	if l.state != 1 {
		t.Fatalf("state after TryAcquire = %d; want 1", l.state)
	}
}

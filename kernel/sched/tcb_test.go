package sched

import (
	"testing"
	"unsafe"

	"kernelcore/kernel"
)

func withFakeStack(t *testing.T) {
	t.Helper()
	arena := make([]byte, uintptr(kernel.StackSize)*4)
	var off uintptr

	prevAlloc, prevFree := allocStackFn, freeStackFn
	allocStackFn = func(size uintptr) uintptr {
		if off+size > uintptr(len(arena)) {
			return 0
		}
		p := uintptr(unsafe.Pointer(&arena[off]))
		off += size
		return p
	}
	freeStackFn = func(uintptr) {}

	t.Cleanup(func() {
		allocStackFn, freeStackFn = prevAlloc, prevFree
		_ = arena
	})
}

func withFakeTCBAlloc(t *testing.T) {
	t.Helper()
	arena := make([]byte, tcbSize*8)
	var off uintptr

	prevAlloc, prevFree := allocTCBFn, freeTCBFn
	allocTCBFn = func(size uintptr) uintptr {
		if off+size > uintptr(len(arena)) {
			return 0
		}
		p := uintptr(unsafe.Pointer(&arena[off]))
		off += size
		return p
	}
	freeTCBFn = func(uintptr) {}

	t.Cleanup(func() {
		allocTCBFn, freeTCBFn = prevAlloc, prevFree
		_ = arena
	})
}

func resetSchedState(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		current, nextTID, queueHead, queueTail, idle = nil, 0, nil, nil, nil
	})
}

func TestInitCreatesBootThreadAsIdle(t *testing.T) {
	resetSchedState(t)
	withFakeTCBAlloc(t)
	boot := Init()

	if boot.TID != 0 {
		t.Fatalf("boot.TID = %d; want 0", boot.TID)
	}
	if boot.State != Running {
		t.Fatalf("boot.State = %d; want Running", boot.State)
	}
	if boot.StackBase != 0 {
		t.Fatal("boot thread must keep stack_base == 0 (it reuses the in-progress kernel stack)")
	}
	if Current() != boot {
		t.Fatal("Init must install the boot thread as current")
	}
	if idle != boot {
		t.Fatal("Init must designate the boot thread as idle")
	}
}

func TestCreateSynthesizesTrampolineReturnAddress(t *testing.T) {
	resetSchedState(t)
	withFakeTCBAlloc(t)
	withFakeStack(t)
	Init()

	tr := Create(func(uintptr) {}, 0)
	if tr == nil {
		t.Fatal("Create returned nil")
	}
	if tr.State != Ready {
		t.Fatalf("new thread state = %d; want Ready", tr.State)
	}
	if tr.TID == 0 {
		t.Fatal("Create must not reuse TID 0 (reserved for the boot thread)")
	}

	retSlot := tr.StackBase + tr.StackSize - unsafe.Sizeof(uintptr(0))
	if tr.Context.RSP != retSlot {
		t.Fatalf("Context.RSP = %#x; want top-of-stack return slot %#x", tr.Context.RSP, retSlot)
	}

	gotPC := *(*uintptr)(unsafe.Pointer(retSlot))
	wantPC := funcPC(trampolineFn)
	if gotPC != wantPC {
		t.Fatalf("stack top holds %#x; want trampoline's address %#x", gotPC, wantPC)
	}
}

func TestCreateAssignsIncreasingTIDs(t *testing.T) {
	resetSchedState(t)
	withFakeTCBAlloc(t)
	withFakeStack(t)
	Init()

	a := Create(func(uintptr) {}, 0)
	b := Create(func(uintptr) {}, 0)
	if b.TID <= a.TID {
		t.Fatalf("expected strictly increasing TIDs, got %d then %d", a.TID, b.TID)
	}
}

func TestCreateFailsWhenStackAllocationFails(t *testing.T) {
	resetSchedState(t)
	withFakeTCBAlloc(t)
	prevAlloc := allocStackFn
	allocStackFn = func(uintptr) uintptr { return 0 }
	defer func() { allocStackFn = prevAlloc }()
	Init()

	if got := Create(func(uintptr) {}, 0); got != nil {
		t.Fatal("Create should return nil when the stack allocator is exhausted")
	}
}

func TestCreateFailsWhenTCBAllocationFails(t *testing.T) {
	resetSchedState(t)
	withFakeTCBAlloc(t)
	Init()

	prevAlloc := allocTCBFn
	allocTCBFn = func(uintptr) uintptr { return 0 }
	defer func() { allocTCBFn = prevAlloc }()

	if got := Create(func(uintptr) {}, 0); got != nil {
		t.Fatal("Create should return nil when the TCB allocator is exhausted")
	}
}

func TestTrampolineRunsEntryThenMarksDead(t *testing.T) {
	resetSchedState(t)
	withFakeTCBAlloc(t)
	withFakeStack(t)
	Init()

	prevHalt, prevEnable := haltFn, enableInterruptsFn
	haltCount := 0
	haltFn = func() {
		haltCount++
		if haltCount > 1 {
			panic("trampoline looped past the first halt")
		}
	}
	enableInterruptsFn = func() {}
	defer func() { haltFn, enableInterruptsFn = prevHalt, prevEnable }()

	var gotArg uintptr
	th := Create(func(arg uintptr) { gotArg = arg }, 0xabc)
	setCurrent(th)

	defer func() {
		recover() // the halt mock panics to break trampoline's infinite loop
		if gotArg != 0xabc {
			t.Fatalf("entry ran with arg %#x; want 0xabc", gotArg)
		}
		if th.State != Dead {
			t.Fatalf("thread state = %d; want Dead", th.State)
		}
	}()
	trampoline()
}

func TestDestroyFreesStack(t *testing.T) {
	resetSchedState(t)
	withFakeTCBAlloc(t)
	withFakeStack(t)
	Init()

	freed := uintptr(0)
	prevFree := freeStackFn
	freeStackFn = func(p uintptr) { freed = p }
	defer func() { freeStackFn = prevFree }()

	th := Create(func(uintptr) {}, 0)
	th.State = Dead
	Destroy(th)

	if freed != th.StackBase {
		t.Fatalf("Destroy freed %#x; want %#x", freed, th.StackBase)
	}
}

func TestDestroyNilIsNoop(t *testing.T) {
	Destroy(nil)
}

package virtio

import (
	"testing"
	"unsafe"
)

// withFakeFence replaces memoryFenceFn with a no-op for the duration of a
// test, since the real mfence/lfence primitives cpu.MemoryFence wraps
// aren't meaningful (and aren't needed) against a host-heap arena.
func withFakeFence(t *testing.T) {
	t.Helper()
	prev := memoryFenceFn
	memoryFenceFn = func() {}
	t.Cleanup(func() { memoryFenceFn = prev })
}

// arenaQueue builds a Queue of the given size overlaid on a fresh
// byte-slice arena, standing in for a physically-contiguous, HHDM-mapped
// vring allocation.
func arenaQueue(t *testing.T, size uint16) *Queue {
	t.Helper()
	l := computeLayout(size)
	arena := make([]byte, l.totalBytes)
	base := uintptr(unsafe.Pointer(&arena[0]))
	return newQueue(0, size, base, base)
}

func TestComputeLayoutPageAlignsUsedRing(t *testing.T) {
	l := computeLayout(8)
	if l.usedOffset%4096 != 0 {
		t.Fatalf("usedOffset = %d; want a multiple of the page size", l.usedOffset)
	}
	if l.totalBytes%4096 != 0 {
		t.Fatalf("totalBytes = %d; want a multiple of the page size", l.totalBytes)
	}
	wantDescBytes := descSize * 8
	if l.descBytes != wantDescBytes {
		t.Fatalf("descBytes = %d; want %d", l.descBytes, wantDescBytes)
	}
}

func TestNewQueueChainsFreeList(t *testing.T) {
	q := arenaQueue(t, 4)
	if q.numFree != 4 {
		t.Fatalf("numFree = %d; want 4", q.numFree)
	}
	if q.freeHead != 0 {
		t.Fatalf("freeHead = %d; want 0", q.freeHead)
	}
	for i := uint16(0); i < 3; i++ {
		if q.desc[i].Next != i+1 {
			t.Fatalf("desc[%d].Next = %d; want %d", i, q.desc[i].Next, i+1)
		}
	}
	if q.desc[3].Next != descNone {
		t.Fatalf("tail descriptor's Next = %#x; want descNone", q.desc[3].Next)
	}
}

func TestAllocDescPopsFreeListInOrder(t *testing.T) {
	q := arenaQueue(t, 2)

	d0, ok := q.allocDesc()
	if !ok || d0 != 0 {
		t.Fatalf("first allocDesc() = (%d, %v); want (0, true)", d0, ok)
	}
	if q.desc[0].Next != descNone {
		t.Fatalf("allocated descriptor's Next = %#x; want descNone", q.desc[0].Next)
	}

	d1, ok := q.allocDesc()
	if !ok || d1 != 1 {
		t.Fatalf("second allocDesc() = (%d, %v); want (1, true)", d1, ok)
	}

	if _, ok := q.allocDesc(); ok {
		t.Fatal("allocDesc() on an exhausted queue should report false")
	}
}

func TestFreeChainReturnsDescriptorsAndZeroesThem(t *testing.T) {
	q := arenaQueue(t, 4)
	d0, _ := q.allocDesc()
	d1, _ := q.allocDesc()
	d2, _ := q.allocDesc()

	q.desc[d0] = Desc{Addr: 0x1000, Len: 16, Flags: descFNext, Next: d1}
	q.desc[d1] = Desc{Addr: 0x2000, Len: 512, Flags: descFWrite | descFNext, Next: d2}
	q.desc[d2] = Desc{Addr: 0x3000, Len: 1, Flags: descFWrite, Next: descNone}

	q.freeChain(d0, 3)

	if q.numFree != 4 {
		t.Fatalf("numFree after freeing a 3-descriptor chain = %d; want 4", q.numFree)
	}
	for _, idx := range []uint16{d0, d1, d2} {
		if q.desc[idx].Addr != 0 || q.desc[idx].Len != 0 || q.desc[idx].Flags != 0 {
			t.Fatalf("descriptor %d not zeroed after free: %+v", idx, q.desc[idx])
		}
	}

	// The free list must still be usable: allocating 3 more descriptors
	// should succeed and exhaust it again.
	for i := 0; i < 3; i++ {
		if _, ok := q.allocDesc(); !ok {
			t.Fatalf("allocDesc() #%d after freeChain failed unexpectedly", i)
		}
	}
}

func TestSubmitAdvancesAvailRing(t *testing.T) {
	withFakeFence(t)
	q := arenaQueue(t, 4)

	submit(q, 2)
	if *q.availIdx != 1 {
		t.Fatalf("availIdx after one submit = %d; want 1", *q.availIdx)
	}
	if q.availRing[0] != 2 {
		t.Fatalf("availRing[0] = %d; want 2", q.availRing[0])
	}

	submit(q, 1)
	if *q.availIdx != 2 {
		t.Fatalf("availIdx after two submits = %d; want 2", *q.availIdx)
	}
	if q.availRing[1] != 1 {
		t.Fatalf("availRing[1] = %d; want 1", q.availRing[1])
	}
}

func TestHasUsedAndPopUsed(t *testing.T) {
	withFakeFence(t)
	q := arenaQueue(t, 4)

	if hasUsed(q) {
		t.Fatal("hasUsed() on a freshly initialized queue should be false")
	}

	q.usedRing[0] = usedElem{ID: 5, Len: 512}
	*q.usedIdx = 1

	if !hasUsed(q) {
		t.Fatal("hasUsed() should be true once usedIdx has advanced past lastUsedIdx")
	}

	head, written := popUsed(q)
	if head != 5 || written != 512 {
		t.Fatalf("popUsed() = (%d, %d); want (5, 512)", head, written)
	}
	if hasUsed(q) {
		t.Fatal("hasUsed() should be false again after consuming the only completion")
	}
}

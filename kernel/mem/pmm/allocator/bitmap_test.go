package allocator

import (
	"testing"
	"unsafe"

	"kernelcore/kernel/boot"
	"kernelcore/kernel/mem"
)

// newTestInfo fabricates a boot.Info describing one Usable region of
// usableFrames frames starting at frame 1 (frame 0 is always reserved, as
// in spec.md §8's exhaustion scenario), backed by a real Go-heap arena
// addressed through a synthetic HHDM so the allocator's bitmap writes land
// somewhere valid.
func newTestInfo(t *testing.T, usableFrames int) (*boot.Info, *BitmapAllocator) {
	t.Helper()

	totalFrames := usableFrames + 1
	arena := make([]byte, totalFrames*int(mem.PageSize))
	hhdm := unsafeAddr(arena)

	pageSize := uint64(mem.PageSize)
	info := &boot.Info{
		Regions: []boot.MemRegion{
			{Base: 0, Length: pageSize, Type: boot.Reserved},
			{Base: pageSize, Length: uint64(usableFrames) * pageSize, Type: boot.Usable},
		},
		HHDM: hhdm,
	}

	var a BitmapAllocator
	if err := a.Init(info); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return info, &a
}

func TestBitmapAllocatorAllocFreeRoundTrip(t *testing.T) {
	_, a := newTestInfo(t, 16)

	before := a.FreePages()
	phys := a.AllocPage()
	if phys == 0 {
		t.Fatal("AllocPage returned 0 on a fresh allocator")
	}
	if a.FreePages() != before-1 {
		t.Fatalf("FreePages after alloc = %d; want %d", a.FreePages(), before-1)
	}

	a.FreePage(phys)
	if a.FreePages() != before {
		t.Fatalf("FreePages after free = %d; want %d", a.FreePages(), before)
	}
}

func TestBitmapAllocatorFreeIsIdempotent(t *testing.T) {
	_, a := newTestInfo(t, 16)

	phys := a.AllocPage()
	a.FreePage(phys)
	before := a.FreePages()
	a.FreePage(phys)
	if a.FreePages() != before {
		t.Fatalf("double free changed FreePages: got %d, want %d", a.FreePages(), before)
	}
}

func TestBitmapAllocatorFrameZeroGuard(t *testing.T) {
	_, a := newTestInfo(t, 16)
	a.FreePage(0)
	if a.testBit(0) == false {
		t.Fatal("frame 0 must remain marked used even after FreePage(0)")
	}
}

func TestBitmapAllocatorExhaustion(t *testing.T) {
	// spec.md §8: one Usable region of exactly 16 frames; 15 allocations
	// succeed (the bitmap itself takes the region's first frame), the 16th
	// returns 0.
	_, a := newTestInfo(t, 16)

	seen := make(map[uintptr]bool)
	for i := 0; i < 15; i++ {
		phys := a.AllocPage()
		if phys == 0 {
			t.Fatalf("allocation %d unexpectedly returned 0", i)
		}
		if seen[phys] {
			t.Fatalf("allocation %d returned a duplicate address %#x", i, phys)
		}
		seen[phys] = true
	}

	if got := a.AllocPage(); got != 0 {
		t.Fatalf("16th allocation = %#x; want 0 (exhausted)", got)
	}
}

func TestBitmapAllocatorContiguousAtomicity(t *testing.T) {
	_, a := newTestInfo(t, 16)

	before := a.FreePages()
	phys := a.AllocContiguous(4)
	if phys == 0 {
		t.Fatal("AllocContiguous(4) returned 0 with 16 free frames")
	}
	if a.FreePages() != before-4 {
		t.Fatalf("FreePages after AllocContiguous(4) = %d; want %d", a.FreePages(), before-4)
	}

	start := uint64(phys) / uint64(mem.PageSize)
	for f := start; f < start+4; f++ {
		if !a.testBit(f) {
			t.Fatalf("frame %d inside the allocated run was not marked used", f)
		}
	}
}

func TestBitmapAllocatorContiguousNoRunReturnsZero(t *testing.T) {
	_, a := newTestInfo(t, 5)

	// Fragment the pool: alloc all 4, free only frame index 1 and 3
	// relative to the usable range so no 2-run exists.
	p0 := a.AllocPage()
	p1 := a.AllocPage()
	p2 := a.AllocPage()
	p3 := a.AllocPage()
	_ = p2
	a.FreePage(p1)
	a.FreePage(p3)
	_ = p0

	if got := a.AllocContiguous(2); got != 0 {
		t.Fatalf("AllocContiguous(2) = %#x over a fragmented pool; want 0", got)
	}
}

func unsafeAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

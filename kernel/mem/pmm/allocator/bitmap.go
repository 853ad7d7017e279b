// Package allocator implements the physical frame allocator: a bit-per-frame
// bitmap covering every physical frame named by the boot memory map, with
// first-fit single-frame and contiguous-run allocation. Grounded on the
// teacher's kernel/mem/pmm/allocator.BitmapAllocator, collapsed from that
// allocator's per-region pool design to a single flat bitmap spanning
// [0, total_frames) — the memory map here is consumed directly rather than
// bootstrapped through an early, non-freeing allocator first, since a
// Limine-style BootInfo is already fully parsed by the time this package
// sees it.
package allocator

import (
	"reflect"
	"unsafe"

	"kernelcore/kernel"
	"kernelcore/kernel/boot"
	"kernelcore/kernel/kfmt"
	"kernelcore/kernel/mem"
	"kernelcore/kernel/mem/pmm"
)

const bitsPerWord = 64

var (
	// FrameAllocator is the primary physical frame allocator instance.
	// It is a package-level singleton per spec.md §7's "global mutable
	// state... model as process-wide singletons with explicit init"
	// note: there is exactly one PFA for the lifetime of the kernel.
	FrameAllocator BitmapAllocator

	errNoBitmapPlacement = &kernel.Error{Module: "pmm_alloc", Message: "no usable region fits the frame bitmap"}
)

// BitmapAllocator is a physical frame allocator that tracks every frame in
// the system with a single bit-per-frame bitmap. A set bit means the frame
// is reserved/allocated; a clear bit means it is free.
type BitmapAllocator struct {
	hhdm uintptr

	totalFrames uint64
	freeFrames  uint64

	bitmap    []uint64
	bitmapHdr reflect.SliceHeader
}

// Init brings up the frame allocator from a parsed boot record, following
// spec.md §4.1's four-step initialisation:
//
//  1. scan the memory map for the highest physical address and derive the
//     frame count and required bitmap size;
//  2. place the bitmap inside the first Usable region that fits it, after
//     page-aligning the region, addressed through the HHDM;
//  3. mark every frame used, then clear the bits for frames that belong to
//     a Usable region;
//  4. re-mark frame 0 and the bitmap's own frames used.
//
// Placement failure is unrecoverable: there is no frame accounting to fall
// back to, so Init returns an error for the caller to hand to kernel.Panic.
func (a *BitmapAllocator) Init(info *boot.Info) *kernel.Error {
	a.hhdm = info.HHDM

	highest := info.HighestAddress()
	a.totalFrames = (highest + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	bitmapWords := (a.totalFrames + bitsPerWord - 1) / bitsPerWord
	bitmapBytes := bitmapWords * 8

	bitmapBase, bitmapFrames, err := a.placeBitmap(info, bitmapBytes)
	if err != nil {
		return err
	}

	a.bitmapHdr = reflect.SliceHeader{
		Data: a.hhdm + uintptr(bitmapBase),
		Len:  int(bitmapWords),
		Cap:  int(bitmapWords),
	}
	a.bitmap = *(*[]uint64)(unsafe.Pointer(&a.bitmapHdr))
	mem.Memset(a.bitmapHdr.Data, 0xff, uintptr(bitmapBytes))

	// Step 3: clear bits for every frame inside a Usable region.
	info.VisitRegions(func(r *boot.MemRegion) bool {
		if r.Type != boot.Usable {
			return true
		}
		startFrame := (r.Base + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
		endFrame := r.End() / uint64(mem.PageSize)
		for f := startFrame; f < endFrame; f++ {
			a.clearBit(f)
		}
		return true
	})

	// Step 4: frame 0 is the permanent null-pointer guard; the bitmap's
	// own backing frames must not be handed back out.
	a.setBit(0)
	for f := bitmapBase / uint64(mem.PageSize); f < bitmapBase/uint64(mem.PageSize)+bitmapFrames; f++ {
		a.setBit(f)
	}

	a.freeFrames = 0
	for f := uint64(0); f < a.totalFrames; f++ {
		if !a.testBit(f) {
			a.freeFrames++
		}
	}

	kfmt.Printf("[pmm] %u/%u frames free (%u total)\n", a.freeFrames, a.totalFrames, a.totalFrames)
	return nil
}

// placeBitmap finds the first Usable region (after page-alignment) large
// enough to hold bitmapBytes and returns its base address and the number of
// frames it occupies there.
func (a *BitmapAllocator) placeBitmap(info *boot.Info, bitmapBytes uint64) (base, frames uint64, err *kernel.Error) {
	pageSize := uint64(mem.PageSize)
	required := (bitmapBytes + pageSize - 1) &^ (pageSize - 1)

	found := false
	info.VisitRegions(func(r *boot.MemRegion) bool {
		if r.Type != boot.Usable {
			return true
		}
		alignedBase := (r.Base + pageSize - 1) &^ (pageSize - 1)
		if alignedBase >= r.End() || r.End()-alignedBase < required {
			return true
		}
		base = alignedBase
		frames = required / pageSize
		found = true
		return false
	})

	if !found {
		return 0, 0, errNoBitmapPlacement
	}
	return base, frames, nil
}

func (a *BitmapAllocator) bitLocation(frame uint64) (word uint64, mask uint64) {
	word = frame / bitsPerWord
	mask = uint64(1) << (63 - (frame % bitsPerWord))
	return
}

func (a *BitmapAllocator) setBit(frame uint64) {
	word, mask := a.bitLocation(frame)
	a.bitmap[word] |= mask
}

func (a *BitmapAllocator) clearBit(frame uint64) {
	word, mask := a.bitLocation(frame)
	a.bitmap[word] &^= mask
}

func (a *BitmapAllocator) testBit(frame uint64) bool {
	word, mask := a.bitLocation(frame)
	return a.bitmap[word]&mask != 0
}

// AllocPage reserves the first free frame via a first-fit scan over the
// bitmap's 64-bit words and returns its physical address. It returns 0 (an
// address that can never be valid, since frame 0 is permanently reserved)
// if no frame is free.
func (a *BitmapAllocator) AllocPage() uintptr {
	for word := range a.bitmap {
		if a.bitmap[word] == ^uint64(0) {
			continue
		}
		for bit := uint64(0); bit < bitsPerWord; bit++ {
			frame := uint64(word)*bitsPerWord + bit
			if frame >= a.totalFrames {
				break
			}
			if !a.testBit(frame) {
				a.setBit(frame)
				a.freeFrames--
				return pmm.Frame(frame).Address()
			}
		}
	}
	return 0
}

// FreePage releases the frame backing phys. Addresses outside the tracked
// range and frame 0 are ignored; freeing an already-free frame is a no-op.
func (a *BitmapAllocator) FreePage(phys uintptr) {
	frame := uint64(pmm.FrameFromAddress(phys))
	if frame == 0 || frame >= a.totalFrames {
		return
	}
	if !a.testBit(frame) {
		return
	}
	a.clearBit(frame)
	a.freeFrames++
}

// AllocContiguous reserves a run of n consecutive free frames and returns
// the physical address of the first one, or 0 if no such run exists. The
// scan and the reservation happen atomically from the caller's point of
// view: either all n frames are marked used, or none are.
func (a *BitmapAllocator) AllocContiguous(n uint64) uintptr {
	if n == 0 || n > a.freeFrames {
		return 0
	}

	var runStart, runLen uint64
	for frame := uint64(0); frame < a.totalFrames; frame++ {
		if a.testBit(frame) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = frame
		}
		runLen++
		if runLen == n {
			for f := runStart; f < runStart+n; f++ {
				a.setBit(f)
			}
			a.freeFrames -= n
			return pmm.Frame(runStart).Address()
		}
	}
	return 0
}

// TotalPages returns the total number of frames tracked by the allocator.
func (a *BitmapAllocator) TotalPages() uint64 { return a.totalFrames }

// FreePages returns the number of currently-free frames.
func (a *BitmapAllocator) FreePages() uint64 { return a.freeFrames }

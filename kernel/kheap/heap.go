package kheap

import (
	"kernelcore/kernel"
	"kernelcore/kernel/kfmt"
	"kernelcore/kernel/mem"
	"kernelcore/kernel/mem/pmm/allocator"
	"kernelcore/kernel/mem/vmm"
)

var (
	heapStart uintptr
	heapEnd   uintptr
	heapMax   uintptr
	listHead  uintptr

	errOutOfMemory = &kernel.Error{Module: "kheap", Message: "cannot grow past HEAP_MAX or the PFA is exhausted"}
	errCorruption  = &kernel.Error{Module: "kheap", Message: "block magic or canary mismatch: heap corrupted"}
)

// mapFrameFn reserves one physical frame and maps it at virt. Tests
// override it to skip the real PFA/VMM and back the heap with a host
// arena instead.
var mapFrameFn = func(virt uintptr) *kernel.Error {
	phys := allocator.FrameAllocator.AllocPage()
	if phys == 0 {
		return errOutOfMemory
	}
	return vmm.Map(virt, phys, vmm.FlagRW|vmm.FlagNoExecute)
}

// Init reserves the heap's virtual range and maps its initial pages.
func Init() *kernel.Error {
	heapStart = kernel.HeapStart
	heapMax = kernel.HeapMax
	heapEnd = heapStart
	listHead = 0

	return growHeap(uintptr(kernel.HeapInitialSize))
}

// growHeap rounds minBytes up to whole frames, maps each from the PFA,
// and folds the new space into the last block (extending it if free,
// appending a fresh free block otherwise).
func growHeap(minBytes uintptr) *kernel.Error {
	grown := alignUp(minBytes, uintptr(mem.PageSize))
	if heapEnd+grown > heapMax {
		return errOutOfMemory
	}

	for off := uintptr(0); off < grown; off += uintptr(mem.PageSize) {
		if err := mapFrameFn(heapEnd + off); err != nil {
			return err
		}
	}

	oldEnd := heapEnd
	heapEnd += grown

	if listHead == 0 {
		b := blockAt(oldEnd)
		b.magic = blockMagic
		b.payloadSize = uint64(grown - blockOverhead)
		b.free = 1
		b.prev = 0
		b.next = 0
		b.writeCanary()
		listHead = oldEnd
		return nil
	}

	last := lastBlock()
	if last.free != 0 {
		last.payloadSize += uint64(grown)
		last.writeCanary()
		return nil
	}

	newAddr := oldEnd
	nb := blockAt(newAddr)
	nb.magic = blockMagic
	nb.payloadSize = uint64(grown - blockOverhead)
	nb.free = 1
	nb.prev = last.addr()
	nb.next = 0
	nb.writeCanary()

	last.next = newAddr
	return nil
}

func lastBlock() *blockHeader {
	b := blockAt(listHead)
	for b.next != 0 {
		b = blockAt(b.next)
	}
	return b
}

// AllocZeroed returns a pointer to a zero-initialized payload of at least
// size bytes, or 0 if size is 0 or the heap cannot grow any further.
func AllocZeroed(size uintptr) uintptr {
	return alloc(size, true)
}

// Alloc returns a pointer to an uninitialized payload of at least size
// bytes, or 0 if size is 0 or the heap cannot grow any further.
func Alloc(size uintptr) uintptr {
	return alloc(size, false)
}

func alloc(size uintptr, zero bool) uintptr {
	if size == 0 {
		return 0
	}
	size = alignUp(size, alignment)

	for {
		if listHead != 0 {
			for b := blockAt(listHead); ; {
				if b.magic != blockMagic || !b.canaryIntact() {
					kernel.Panic(errCorruption)
				}
				if b.free != 0 && uintptr(b.payloadSize) >= size {
					trySplit(b, size)
					b.free = 0
					if zero {
						mem.Memset(b.payloadAddr(), 0, uintptr(b.payloadSize))
					}
					return b.payloadAddr()
				}
				if b.next == 0 {
					break
				}
				b = blockAt(b.next)
			}
		}

		if err := growHeap(size + blockOverhead); err != nil {
			return 0
		}
	}
}

// trySplit carves a new trailing free block out of b's payload when the
// leftover space, after satisfying neededSize, is large enough to host
// one: a header, its canary footer, and at least one aligned payload
// byte run.
func trySplit(b *blockHeader, neededSize uintptr) {
	remainder := uintptr(b.payloadSize) - neededSize
	if remainder < blockOverhead+alignment {
		return
	}

	newAddr := b.addr() + headerSize + neededSize + canarySlotSize
	nb := blockAt(newAddr)
	nb.magic = blockMagic
	nb.payloadSize = uint64(remainder - blockOverhead)
	nb.free = 1
	nb.prev = b.addr()
	nb.next = b.next
	if b.next != 0 {
		blockAt(b.next).prev = newAddr
	}
	nb.writeCanary()

	b.next = newAddr
	b.payloadSize = uint64(neededSize)
	b.writeCanary()
}

// absorb merges src into dst. dst must immediately precede src in
// address order (dst.next == src.addr()).
func absorb(dst, src *blockHeader) {
	dst.payloadSize += uint64(blockOverhead) + src.payloadSize
	dst.next = src.next
	if src.next != 0 {
		blockAt(src.next).prev = dst.addr()
	}
	dst.writeCanary()

	mem.Memset(src.addr(), poisonByte, headerSize)
}

// Free releases the block backing ptr. A nil ptr is a no-op; freeing an
// already-free block logs a warning instead of corrupting the list.
func Free(ptr uintptr) {
	if ptr == 0 {
		return
	}

	b := blockAt(ptr - headerSize)
	if b.magic != blockMagic || !b.canaryIntact() {
		kernel.Panic(errCorruption)
	}
	if b.free != 0 {
		kfmt.Printf("kheap: warning: double free at %p\n", ptr)
		return
	}

	mem.Memset(b.payloadAddr(), poisonByte, uintptr(b.payloadSize))
	b.free = 1

	for b.next != 0 {
		next := blockAt(b.next)
		if next.magic != blockMagic || !next.canaryIntact() {
			kernel.Panic(errCorruption)
		}
		if next.free == 0 {
			break
		}
		absorb(b, next)
	}

	if b.prev != 0 {
		prev := blockAt(b.prev)
		if prev.free != 0 {
			absorb(prev, b)
		}
	}
}

// Realloc resizes the allocation at ptr to newSize, preserving its
// contents up to min(old, new) bytes. A nil ptr behaves like Alloc; a
// newSize of 0 behaves like Free and returns 0.
func Realloc(ptr uintptr, newSize uintptr) uintptr {
	if ptr == 0 {
		return alloc(newSize, false)
	}
	if newSize == 0 {
		Free(ptr)
		return 0
	}
	newSize = alignUp(newSize, alignment)

	b := blockAt(ptr - headerSize)
	if b.magic != blockMagic || !b.canaryIntact() {
		kernel.Panic(errCorruption)
	}

	if uintptr(b.payloadSize) >= newSize {
		trySplit(b, newSize)
		return ptr
	}

	if b.next != 0 {
		next := blockAt(b.next)
		if next.free != 0 && uintptr(b.payloadSize)+blockOverhead+uintptr(next.payloadSize) >= newSize {
			absorb(b, next)
			trySplit(b, newSize)
			return ptr
		}
	}

	fresh := alloc(newSize, false)
	if fresh == 0 {
		return 0
	}

	copySize := uintptr(b.payloadSize)
	if newSize < copySize {
		copySize = newSize
	}
	mem.Memcopy(ptr, fresh, copySize)
	Free(ptr)
	return fresh
}

// Stats is a read-only snapshot of the heap's bookkeeping, per spec.md
// §4.3's stats dump.
type Stats struct {
	BlockCount  int
	FreeCount   int
	UsedBytes   uintptr
	FreeBytes   uintptr
	LargestFree uintptr
	RangeStart  uintptr
	RangeEnd    uintptr
}

// DumpStats walks the block list and summarizes it.
func DumpStats() Stats {
	st := Stats{RangeStart: heapStart, RangeEnd: heapEnd}
	if listHead == 0 {
		return st
	}

	for b := blockAt(listHead); ; {
		st.BlockCount++
		if b.free != 0 {
			st.FreeCount++
			st.FreeBytes += uintptr(b.payloadSize)
			if uintptr(b.payloadSize) > st.LargestFree {
				st.LargestFree = uintptr(b.payloadSize)
			}
		} else {
			st.UsedBytes += uintptr(b.payloadSize)
		}
		if b.next == 0 {
			break
		}
		b = blockAt(b.next)
	}
	return st
}

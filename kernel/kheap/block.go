// Package kheap implements the kernel's general-purpose allocator: a
// demand-grown, single-free-list, first-fit heap layered on the VMM and
// PFA, spanning a fixed reserved virtual range.
//
// Grounded on the teacher's overall free-list shape (kernel/mem/pmm's
// bitmap allocator for the underlying frame source, kernel/mem/vmm for
// mapping newly grown pages) generalized to spec.md §4.3's block header
// and split/coalesce/realloc contract, with a trailing canary supplement
// adopted from original_source/arc_os's kmalloc.c.
package kheap

import "unsafe"

const (
	// blockMagic marks a live header. Any block whose magic doesn't match
	// this value is corruption, not a bug to route through *kernel.Error —
	// spec.md §4.3 treats it as unrecoverable.
	blockMagic = uint64(0x4b48454150424c4b) // "KHEAPBLK"

	// canaryValue is arc_os's kmalloc.c trailing canary, adopted verbatim
	// as an additional corruption check layered on top of (not replacing)
	// the header magic spec.md already specifies.
	canaryValue = uint64(0xdeadbeefcafebabe)

	// poisonByte overwrites freed payload bytes and absorbed headers, to
	// make use-after-free and stale-pointer bugs visible.
	poisonByte = byte(0xDE)

	// alignment is the minimum payload alignment spec.md §4.3 requires.
	alignment = uintptr(16)

	// canarySlotSize reserves a full 16-byte-aligned footer for the
	// 8-byte canary so every block's total footprint
	// (header + payload + footer) stays a multiple of 16.
	canarySlotSize = uintptr(16)
)

// blockHeader is the in-place header spec.md §4.3 describes: magic,
// payload size, free flag, and address-ordered list links. It is never
// allocated by Go; blockAt overlays it directly onto heap-owned memory.
type blockHeader struct {
	magic       uint64
	payloadSize uint64
	free        uint64
	prev        uintptr
	next        uintptr
	_reserved   uint64
}

// headerSize is a multiple of 16 so that a 16-aligned header address plus
// headerSize is itself 16-aligned — the invariant that keeps every
// payload pointer in the heap aligned without per-block bookkeeping.
const headerSize = uintptr(unsafe.Sizeof(blockHeader{}))

// blockOverhead is the fixed cost of one block: its header plus its
// trailing canary footer. Split/grow decisions size new blocks against
// this, not headerSize alone, since the canary is this core's addition
// to spec.md's bookkeeping.
const blockOverhead = headerSize + canarySlotSize

func blockAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

func (b *blockHeader) addr() uintptr {
	return uintptr(unsafe.Pointer(b))
}

func (b *blockHeader) payloadAddr() uintptr {
	return b.addr() + headerSize
}

func (b *blockHeader) canaryAddr() uintptr {
	return b.payloadAddr() + uintptr(b.payloadSize)
}

func (b *blockHeader) writeCanary() {
	*(*uint64)(unsafe.Pointer(b.canaryAddr())) = canaryValue
}

func (b *blockHeader) canaryIntact() bool {
	return *(*uint64)(unsafe.Pointer(b.canaryAddr())) == canaryValue
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// Package virtio implements the legacy (pre-1.0) virtio transport's
// split virtqueue and a polling block-device client layered on top of
// it. Memory layout and the descriptor/avail/used ring shapes are
// grounded on usbarmory-tamago's QEMU VirtIO RNG driver
// (other_examples' qemu-virtio.go: VirtualQueueDesc's
// Addr/Len/Flags/Next fields, the legacy PCI register offsets), scaled
// from that driver's fixed 8-entry array to a runtime-sized queue via
// the same reflect.SliceHeader overlay kernel/mem/pmm/allocator uses
// for its bitmap.
package virtio

import (
	"reflect"
	"unsafe"

	"kernelcore/kernel/mem"
)

// Descriptor flags, per the legacy virtio spec.
const (
	descFNext  = uint16(1)
	descFWrite = uint16(2)

	// descNone marks the tail of the descriptor free list / a chain's
	// last link. Never dereferenced as an index; alloc/free track their
	// own counts instead (see freeChain's doc for why).
	descNone = uint16(0xFFFF)
)

// Desc is one virtqueue descriptor: a device-readable or -writable
// buffer plus chaining metadata. Bit-exact with the legacy virtio wire
// format (16 bytes), matching usbarmory-tamago's VirtualQueueDesc.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

const descSize = uintptr(unsafe.Sizeof(Desc{}))

// ringHeaderSize is the avail/used ring's common leading {flags, idx}
// pair.
const ringHeaderSize = uintptr(4)

// usedElem is one entry in the used ring: which descriptor chain the
// device consumed and how many bytes it wrote.
type usedElem struct {
	ID  uint32
	Len uint32
}

const usedElemSize = uintptr(unsafe.Sizeof(usedElem{}))

// Queue is one initialized virtqueue: the descriptor table plus avail
// and used rings, overlaid directly onto a single contiguous run of
// physical frames reachable through the HHDM.
type Queue struct {
	Index uint16
	Size  uint16

	PhysBase uintptr
	virtBase uintptr

	desc    []Desc
	descHdr reflect.SliceHeader

	availFlags *uint16
	availIdx   *uint16
	availRing  []uint16
	availHdr   reflect.SliceHeader

	usedFlags *uint16
	usedIdx   *uint16
	usedRing  []usedElem
	usedHdr   reflect.SliceHeader

	freeHead    uint16
	numFree     uint16
	lastUsedIdx uint16
}

// layout describes one queue's byte layout for a given size, per
// spec.md §4.7's legacy-transport memory layout.
type layout struct {
	descBytes   uintptr
	availOffset uintptr
	availBytes  uintptr
	usedOffset  uintptr
	usedBytes   uintptr
	totalBytes  uintptr
	frames      uintptr
}

func computeLayout(size uint16) layout {
	q := uintptr(size)
	var l layout

	l.descBytes = descSize * q
	l.availOffset = l.descBytes
	l.availBytes = ringHeaderSize + 2*q + 2 // flags+idx, ring[Q], used_event

	usedOffsetUnaligned := l.availOffset + l.availBytes
	l.usedOffset = alignUp(usedOffsetUnaligned, uintptr(mem.PageSize))
	l.usedBytes = ringHeaderSize + usedElemSize*q + 2 // flags+idx, ring[Q], avail_event

	l.totalBytes = alignUp(l.usedOffset+l.usedBytes, uintptr(mem.PageSize))
	l.frames = l.totalBytes / uintptr(mem.PageSize)
	return l
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// newQueue overlays a Queue's descriptor table and rings onto
// [virtBase, virtBase+layout.totalBytes), zeroing it first, and chains
// every descriptor into the free list (descriptor i.next = i+1, or
// descNone for the last).
func newQueue(index uint16, size uint16, physBase, virtBase uintptr) *Queue {
	l := computeLayout(size)
	mem.Memset(virtBase, 0, l.totalBytes)

	q := &Queue{Index: index, Size: size, PhysBase: physBase, virtBase: virtBase}

	q.descHdr = reflect.SliceHeader{Data: virtBase, Len: int(size), Cap: int(size)}
	q.desc = *(*[]Desc)(unsafe.Pointer(&q.descHdr))

	availBase := virtBase + l.availOffset
	q.availFlags = (*uint16)(unsafe.Pointer(availBase))
	q.availIdx = (*uint16)(unsafe.Pointer(availBase + 2))
	q.availHdr = reflect.SliceHeader{Data: availBase + ringHeaderSize, Len: int(size), Cap: int(size)}
	q.availRing = *(*[]uint16)(unsafe.Pointer(&q.availHdr))

	usedBase := virtBase + l.usedOffset
	q.usedFlags = (*uint16)(unsafe.Pointer(usedBase))
	q.usedIdx = (*uint16)(unsafe.Pointer(usedBase + 2))
	q.usedHdr = reflect.SliceHeader{Data: usedBase + ringHeaderSize, Len: int(size), Cap: int(size)}
	q.usedRing = *(*[]usedElem)(unsafe.Pointer(&q.usedHdr))

	for i := uint16(0); i < size; i++ {
		if i == size-1 {
			q.desc[i].Next = descNone
		} else {
			q.desc[i].Next = i + 1
		}
	}
	q.freeHead = 0
	q.numFree = size

	return q
}

// allocDesc pops one descriptor off the free list.
func (q *Queue) allocDesc() (uint16, bool) {
	if q.numFree == 0 {
		return 0, false
	}
	idx := q.freeHead
	q.freeHead = q.desc[idx].Next
	q.desc[idx].Next = descNone
	q.numFree--
	return idx, true
}

// freeChain walks a chain of length descriptors starting at head,
// zeroing each descriptor and pushing it back onto the free list. The
// caller supplies the chain's length rather than relying on a descNone
// sentinel scan; the chain's builder (ReadSectors) is what knows that
// length.
func (q *Queue) freeChain(head uint16, length int) {
	cur := head
	for i := 0; i < length; i++ {
		next := q.desc[cur].Next
		q.desc[cur].Addr = 0
		q.desc[cur].Len = 0
		q.desc[cur].Flags = 0
		q.desc[cur].Next = q.freeHead
		q.freeHead = cur
		q.numFree++
		cur = next
	}
}

// submit publishes chainHead to the device: place it in the avail ring,
// fence, bump avail.idx, fence again so the index update is visible
// before the notify write that follows in the caller (kernel/virtio's
// MMIO notify register access, per spec.md §4.7 step 5).
func submit(q *Queue, chainHead uint16) {
	q.availRing[*q.availIdx%q.Size] = chainHead
	memoryFenceFn()
	*q.availIdx++
	memoryFenceFn()
}

// hasUsed reports whether the device has completed at least one more
// request than the driver has consumed.
func hasUsed(q *Queue) bool {
	memoryFenceFn()
	return q.lastUsedIdx != *q.usedIdx
}

// popUsed reads the next completed descriptor chain's head index and
// the number of bytes the device wrote, advancing lastUsedIdx.
func popUsed(q *Queue) (head uint16, written uint32) {
	memoryFenceFn()
	elem := q.usedRing[q.lastUsedIdx%q.Size]
	q.lastUsedIdx++
	return uint16(elem.ID), elem.Len
}

// submitFn/hasUsedFn/popUsedFn indirect the three functions above so
// blk.go's polling loop can be driven by a fake device in tests instead of
// racing a real one.
var (
	submitFn  = submit
	hasUsedFn = hasUsed
	popUsedFn = popUsed
)

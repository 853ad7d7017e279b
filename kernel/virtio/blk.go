package virtio

import (
	"reflect"
	"unsafe"

	"kernelcore/kernel"
	"kernelcore/kernel/kfmt"
	"kernelcore/kernel/mem"
	"kernelcore/kernel/mem/pmm/allocator"
)

// Block request types and status codes, per
// original_source/kernel/drivers/virtio_blk.h. Only the read path is
// implemented — spec.md §4.7 puts writes out of scope for this core.
const (
	reqTypeIn = uint32(0)

	statusOK     = uint8(0)
	statusIOErr  = uint8(1)
	statusUnsupp = uint8(2)

	sectorSize = uint32(512)
)

// allocPageFn/freePageFn indirect the frame allocator's single-page
// alloc/free so tests can exercise the request-page lifecycle without a
// real PFA.
var (
	allocPageFn = allocator.FrameAllocator.AllocPage
	freePageFn  = allocator.FrameAllocator.FreePage
)

// blkReqHeader is the first descriptor's payload: bit-exact with
// original_source/kernel/drivers/virtio_blk.h's VirtioBlkReqHeader
// (packed, 16 bytes).
type blkReqHeader struct {
	Type     uint32
	Reserved uint32
	Sector   uint64
}

const blkReqHeaderSize = uintptr(unsafe.Sizeof(blkReqHeader{}))

var (
	errBadRange      = &kernel.Error{Module: "virtio_blk", Message: "sector range exceeds device capacity"}
	errNoDescriptors = &kernel.Error{Module: "virtio_blk", Message: "no free descriptors for block request"}
	errReqPage       = &kernel.Error{Module: "virtio_blk", Message: "failed to allocate request page"}
	errDataPages     = &kernel.Error{Module: "virtio_blk", Message: "failed to allocate data pages"}
	errTimeout       = &kernel.Error{Module: "virtio_blk", Message: "block read timed out waiting for device"}
	errDeviceStatus  = &kernel.Error{Module: "virtio_blk", Message: "device reported a non-OK status for the read"}
)

// ReadSectors reads count 512-byte sectors starting at sector into buf
// (which must be at least count*512 bytes), polling the device for
// completion. Mirrors original_source/kernel/drivers/virtio_blk.c's
// virtio_blk_read: build a 3-descriptor chain (header, data, status),
// submit, busy-poll the used ring up to kernel.PollTimeout spins, then
// check the status byte the device wrote back.
func (d *Device) ReadSectors(sector uint64, count uint32, buf []byte) *kernel.Error {
	if count == 0 {
		return nil
	}
	if sector+uint64(count) > d.Capacity {
		return errBadRange
	}

	hhdm := hhdmOffsetFn()
	dataBytes := uintptr(count) * uintptr(sectorSize)

	reqPhys := allocPageFn()
	if reqPhys == 0 {
		return errReqPage
	}

	dataPages := (dataBytes + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)
	dataPhys := allocContiguousFn(uint64(dataPages))
	if dataPhys == 0 {
		freePageFn(reqPhys)
		return errDataPages
	}

	hdr := (*blkReqHeader)(unsafe.Pointer(reqPhys + hhdm))
	hdr.Type = reqTypeIn
	hdr.Reserved = 0
	hdr.Sector = sector

	statusVirt := reqPhys + hhdm + blkReqHeaderSize
	statusPtr := (*uint8)(unsafe.Pointer(statusVirt))
	*statusPtr = 0xFF // sentinel; the device overwrites this on completion
	statusPhys := reqPhys + blkReqHeaderSize

	q := d.queue
	d0, ok0 := q.allocDesc()
	d1, ok1 := q.allocDesc()
	d2, ok2 := q.allocDesc()
	if !ok0 || !ok1 || !ok2 {
		if ok0 {
			q.freeChain(d0, 1)
		}
		if ok1 {
			q.freeChain(d1, 1)
		}
		if ok2 {
			q.freeChain(d2, 1)
		}
		freePageFn(reqPhys)
		freeContiguous(dataPhys, dataPages)
		return errNoDescriptors
	}

	q.desc[d0] = Desc{Addr: uint64(reqPhys), Len: uint32(blkReqHeaderSize), Flags: descFNext, Next: d1}
	q.desc[d1] = Desc{Addr: uint64(dataPhys), Len: uint32(dataBytes), Flags: descFWrite | descFNext, Next: d2}
	q.desc[d2] = Desc{Addr: uint64(statusPhys), Len: 1, Flags: descFWrite, Next: descNone}

	submitFn(q, d0)
	d.notify(q.Index)

	timeout := kernel.PollTimeout
	for !hasUsedFn(q) && timeout > 0 {
		timeout--
	}
	if timeout == 0 {
		q.freeChain(d0, 3)
		freePageFn(reqPhys)
		freeContiguous(dataPhys, dataPages)
		return errTimeout
	}

	popUsedFn(q)
	q.freeChain(d0, 3)

	var err *kernel.Error
	if *statusPtr == statusOK {
		dataHdr := reflect.SliceHeader{Data: dataPhys + hhdm, Len: int(dataBytes), Cap: int(dataBytes)}
		src := *(*[]byte)(unsafe.Pointer(&dataHdr))
		copy(buf, src)
	} else {
		kfmt.Printf("[virtio-blk] read failed, status=%d\n", *statusPtr)
		err = errDeviceStatus
	}

	freePageFn(reqPhys)
	freeContiguous(dataPhys, dataPages)
	return err
}

// freeContiguous releases n pages starting at phys one at a time, since the
// frame allocator only exposes single-page and alloc-contiguous, not a
// matching bulk free.
func freeContiguous(phys uintptr, n uintptr) {
	for i := uintptr(0); i < n; i++ {
		freePageFn(phys + i*uintptr(mem.PageSize))
	}
}

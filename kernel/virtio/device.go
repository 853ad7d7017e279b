package virtio

import (
	"kernelcore/kernel"
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/kfmt"
	"kernelcore/kernel/mem"
	"kernelcore/kernel/mem/pmm/allocator"
	"kernelcore/kernel/mem/vmm"
	"kernelcore/kernel/pci"
)

// Legacy VirtIO PCI register offsets, relative to BAR0's I/O base. Grounded
// on original_source/kernel/drivers/virtio.h.
const (
	regDeviceFeatures = uint16(0x00) // 32-bit, read
	regGuestFeatures  = uint16(0x04) // 32-bit, write
	regQueueAddr      = uint16(0x08) // 32-bit, write (PFN)
	regQueueSize      = uint16(0x0C) // 16-bit, read
	regQueueSelect    = uint16(0x0E) // 16-bit, write
	regQueueNotify    = uint16(0x10) // 16-bit, write
	regDeviceStatus   = uint16(0x12) // 8-bit, read/write
	regISRStatus      = uint16(0x13) // 8-bit, read
	regConfig         = uint16(0x14) // device-specific config space
)

// Device status bits.
const (
	statusAck      = uint8(0x01)
	statusDriver   = uint8(0x02)
	statusDriverOK = uint8(0x04)
	statusFeatures = uint8(0x08)
	statusFailed   = uint8(0x80)
)

// Virtio vendor/device IDs for the legacy block device, per
// original_source/kernel/drivers/virtio_blk.h.
const (
	VendorID      = uint16(0x1AF4)
	BlockDeviceID = uint16(0x1001)
)

// resolveFn/outX/inX are indirected so tests can fake the PCI device lookup
// and the port-I/O register accesses without real hardware.
var (
	resolveFn         = pci.Resolve
	enableBusMasterFn = pci.EnableBusMaster

	outbFn = cpu.Outb
	inbFn  = cpu.Inb
	outwFn = cpu.Outw
	inwFn  = cpu.Inw
	outlFn = cpu.Outl
	inlFn  = cpu.Inl

	allocContiguousFn = allocator.FrameAllocator.AllocContiguous
	hhdmOffsetFn      = vmm.HHDMOffset

	// memoryFenceFn backs queue.go's submit/hasUsed/popUsed ordering
	// fences (mfence on amd64, per original_source/kernel/drivers/
	// virtio.c's virtio_mb/virtio_rmb). Indirected so tests can run
	// those functions against a host-heap arena without executing a
	// real fence instruction.
	memoryFenceFn = cpu.MemoryFence
)

var errNoDevice = &kernel.Error{Module: "virtio", Message: "no virtio block device found on the PCI bus"}
var errQueueUnavailable = &kernel.Error{Module: "virtio", Message: "device reported a zero-size queue"}
var errOutOfMemory = &kernel.Error{Module: "virtio", Message: "failed to allocate virtqueue memory"}
var errNotIOSpace = &kernel.Error{Module: "virtio", Message: "BAR0 is not an I/O-space BAR"}

// Device is an initialized legacy-transport virtio device: the resolved PCI
// function, its I/O base, and queue 0 (the only queue a block device
// needs). Mirrors original_source/kernel/drivers/virtio.h's VirtioDevice,
// collapsed to the single queue this core's block client uses.
type Device struct {
	pci      pci.Device
	ioBase   uint16
	queue    *Queue
	ready    bool
	Capacity uint64 // sectors, 512 bytes each
}

// OpenBlockDevice resolves the legacy virtio-blk PCI function, runs the
// device through its reset/ACK/DRIVER/bus-master/feature-negotiation/
// queue-init/DRIVER_OK lifecycle (original_source/kernel/drivers/virtio.c's
// virtio_init_device, which calls pci_enable_bus_master right after writing
// ACK|DRIVER, then virtio_negotiate_features/virtio_init_queue/
// virtio_device_ready, in that order from virtio_blk_init) and returns the
// live Device plus its advertised capacity in 512-byte sectors.
func OpenBlockDevice() (*Device, uint64, *kernel.Error) {
	d, ok := resolveFn(VendorID, BlockDeviceID)
	if !ok {
		return nil, 0, errNoDevice
	}

	ioBase := pci.IOBase(d.BAR[0])
	if ioBase == 0 {
		return nil, 0, errNotIOSpace
	}

	dev := &Device{pci: d, ioBase: ioBase}

	outbFn(dev.reg8(regDeviceStatus), 0)
	outbFn(dev.reg8(regDeviceStatus), statusAck)
	outbFn(dev.reg8(regDeviceStatus), statusAck|statusDriver)

	enableBusMasterFn(d)

	dev.negotiateFeatures(0)

	q, err := dev.initQueue(0)
	if err != nil {
		return nil, 0, err
	}
	dev.queue = q

	capLo := inlFn(dev.ioBase + regConfig)
	capHi := inlFn(dev.ioBase + regConfig + 4)
	capacity := uint64(capHi)<<32 | uint64(capLo)
	dev.Capacity = capacity

	outbFn(dev.reg8(regDeviceStatus), statusAck|statusDriver|statusDriverOK)
	dev.ready = true

	kfmt.Printf("[virtio] block device ready: io_base=0x%x capacity=%d sectors\n", dev.ioBase, capacity)
	return dev, capacity, nil
}

// reg8 computes a register's absolute I/O port.
func (d *Device) reg8(offset uint16) uint16 { return d.ioBase + offset }

// negotiateFeatures reads the device's offered feature bits, ANDs them with
// supported, and writes the result back. A block-reading-only client needs
// no optional features, so OpenBlockDevice always calls this with 0.
func (d *Device) negotiateFeatures(supported uint32) {
	offered := inlFn(d.ioBase + regDeviceFeatures)
	negotiated := offered & supported
	outlFn(d.ioBase+regGuestFeatures, negotiated)
}

// initQueue selects queueIndex, reads its size, allocates physically
// contiguous frames for its vring, overlays a Queue onto them through the
// HHDM, and tells the device the vring's physical frame number.
func (d *Device) initQueue(queueIndex uint16) (*Queue, *kernel.Error) {
	outwFn(d.ioBase+regQueueSelect, queueIndex)

	size := uint16(inwFn(d.ioBase + regQueueSize))
	if size == 0 {
		return nil, errQueueUnavailable
	}

	l := computeLayout(size)
	phys := allocContiguousFn(uint64(l.frames))
	if phys == 0 {
		return nil, errOutOfMemory
	}

	virt := phys + hhdmOffsetFn()
	q := newQueue(queueIndex, size, phys, virt)

	outlFn(d.ioBase+regQueueAddr, uint32(phys/uintptr(mem.PageSize)))
	return q, nil
}

// notify tells the device a chain is ready on this device's queue.
func (d *Device) notify(queueIndex uint16) {
	outwFn(d.ioBase+regQueueNotify, queueIndex)
}

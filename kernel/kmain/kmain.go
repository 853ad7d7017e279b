// Package kmain orders the core's startup sequence (spec.md §2/§4.8):
// physical frame allocator, virtual memory manager, kernel heap, interrupt
// dispatcher, timer, scheduler and the idle thread's worker siblings, then
// the virtqueue-backed block client, finishing by enabling interrupts and
// yielding forever as the idle thread. Grounded on the
// teacher's kernel/kmain package — the same Init-err-chain shape,
// generalised from multiboot/goruntime to this core's boot.Info/PFA/VMM/
// heap/IRQ/timer/sched/virtio sequence — and on
// original_source/kernel/boot/kmain.c's boot-info diagnostic banner (HHDM
// offset, kernel base, memory map, framebuffer, RSDP), reproduced here via
// kfmt instead of a serial driver.
//
// This lives in its own package, separate from kernel/boot, because
// kernel/mem/pmm/allocator and kernel/mem/vmm both import kernel/boot for
// the Info type; a single combined package would create an import cycle.
package kmain

import (
	"kernelcore/kernel"
	"kernelcore/kernel/boot"
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/irq"
	"kernelcore/kernel/kfmt"
	"kernelcore/kernel/kheap"
	"kernelcore/kernel/mem/pmm"
	"kernelcore/kernel/mem/pmm/allocator"
	"kernelcore/kernel/mem/vmm"
	"kernelcore/kernel/sched"
	"kernelcore/kernel/timer"
	"kernelcore/kernel/virtio"
)

var errOutOfFrames = &kernel.Error{Module: "kmain", Message: "PFA exhausted while the VMM requested a page-table frame"}

// workerCount is how many demo worker threads Kmain spawns alongside the
// idle thread, purely to exercise Create/Add end to end.
const workerCount = 2

// Kmain brings every subsystem up in dependency order, enables interrupts
// and never returns: it ends in an endless sched.Yield loop as the idle
// thread. rt0 assembly invokes this after
// parsing the bootloader's handoff data into a boot.Info; kernelImageSize
// comes from the linker's image-end symbol, which boot.Info does not
// itself carry.
//
//go:noinline
func Kmain(info *boot.Info, kernelImageSize uintptr) {
	logBanner(info)

	var err *kernel.Error
	if err = allocator.FrameAllocator.Init(info); err != nil {
		kernel.Panic(err)
	}

	vmm.SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
		phys := allocator.FrameAllocator.AllocPage()
		if phys == 0 {
			return pmm.InvalidFrame, errOutOfFrames
		}
		return pmm.FrameFromAddress(phys), nil
	})
	if err = vmm.Init(info, kernelImageSize); err != nil {
		kernel.Panic(err)
	}

	if err = kheap.Init(); err != nil {
		kernel.Panic(err)
	}

	irq.Init()

	timer.Init(kernel.TimerFrequencyHz)
	timer.ScheduleFn = sched.Schedule
	irq.UnmaskIRQ(0)

	sched.Init()
	spawnWorkers()

	if _, capacity, err := virtio.OpenBlockDevice(); err != nil {
		kfmt.Printf("[boot] no virtio block device: %s\n", err.Message)
	} else {
		kfmt.Printf("[boot] block device ready, %d sectors\n", capacity)
	}

	kfmt.Printf("[boot] init complete, enabling interrupts\n")
	cpu.EnableInterrupts()

	for {
		sched.Yield()
	}
}

// idleLoopWork is a worker thread's body: yield forever. Standing in for
// whatever real workload a booted kernelcore would otherwise register.
func idleLoopWork(arg uintptr) {
	for {
		sched.Yield()
	}
}

func spawnWorkers() {
	for i := 0; i < workerCount; i++ {
		t := sched.Create(idleLoopWork, uintptr(i))
		if t == nil {
			kfmt.Printf("[boot] failed to create worker %d\n", i)
			continue
		}
		sched.Add(t)
	}
}

func logBanner(info *boot.Info) {
	kfmt.Printf("[boot] kernelcore booting...\n")
	kfmt.Printf("[boot] HHDM offset: 0x%x\n", info.HHDM)
	kfmt.Printf("[boot] kernel phys base: 0x%x virt base: 0x%x\n", info.KernelPhysBase, info.KernelVirtBase)

	if info.Framebuffer != nil {
		fb := info.Framebuffer
		kfmt.Printf("[boot] framebuffer: %dx%d bpp=%d pitch=%d addr=0x%x\n",
			fb.Width, fb.Height, fb.Bpp, fb.Pitch, fb.PhysAddr)
	} else {
		kfmt.Printf("[boot] framebuffer: not available\n")
	}

	kfmt.Printf("[boot] memory map (%d entries):\n", len(info.Regions))
	info.VisitRegions(func(r *boot.MemRegion) bool {
		kfmt.Printf("  0x%x - 0x%x (%s)\n", r.Base, r.End(), r.Type.String())
		return true
	})

	if info.RSDP != 0 {
		kfmt.Printf("[boot] ACPI RSDP at 0x%x\n", info.RSDP)
	} else {
		kfmt.Printf("[boot] ACPI RSDP: not available\n")
	}
}

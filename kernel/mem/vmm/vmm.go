// Package vmm implements the virtual memory manager: a 4-level x86_64 page
// table walker/builder addressed entirely through the higher-half direct
// map (HHDM) the bootloader hands us, rather than the recursive
// self-mapping trick older 32-bit-style kernels use. Every physical frame,
// including the ones backing the page tables themselves, is reachable at
// HHDMOffset()+physAddr from the moment the bootloader transfers control,
// so table walks never need a dedicated recursive PML4 slot.
//
// Grounded on the teacher's kernel/mem/vmm package for the overall shape
// (pageTableEntry bit-twiddling, FrameAllocatorFn indirection, Map/Unmap/
// Translate operation names) but rebuilt around HHDM-relative addressing,
// since the teacher's own PDT targeted a 32-bit-style recursive mapping
// that a Limine-style HHDM boot protocol makes unnecessary.
package vmm

import (
	"unsafe"

	"kernelcore/kernel"
	"kernelcore/kernel/boot"
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/mem"
	"kernelcore/kernel/mem/pmm"
)

const (
	pageLevels     = 4
	pageIndexBits  = 9
	pageIndexMask  = uintptr(1<<pageIndexBits) - 1
	twoMiB         = uintptr(mem.LargePageSize)
	entrySizeBytes = 8
)

// pageLevelShifts holds the bit offset of the index for each paging level,
// from the top (PML4) down to the leaf (PT).
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

var (
	// frameAllocator supplies physical frames for new page-table levels.
	// Registered once by the boot glue via SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// hhdmOffset and kernelPML4 are the two read-only accessors the rest
	// of the core needs: where the direct map starts, and which frame
	// holds the root of the canonical page table.
	hhdmOffset uintptr
	kernelPML4 pmm.Frame

	// ptePtrFn resolves an HHDM-relative table-entry address to a usable
	// pointer. Tests override it to confine writes to a fake arena
	// instead of requiring real physical memory.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}

	// switchPML4Fn is mocked by tests; loading CR3 is a privileged
	// operation with no safe hosted equivalent.
	switchPML4Fn = cpu.SwitchPML4

	errOutOfMemory = &kernel.Error{Module: "vmm", Message: "out of physical frames while walking page tables"}

	// ErrInvalidMapping is returned by GetPhys when the virtual address
	// has no present mapping.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// FrameAllocatorFn supplies a single physical frame, or an error if none
// remain.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers the function the VMM uses to obtain physical
// frames for new intermediate page tables.
func SetFrameAllocator(fn FrameAllocatorFn) {
	frameAllocator = fn
}

// KernelPML4 returns the frame holding the root of the canonical page
// table (spec.md §4.2's kernel_pml4 accessor).
func KernelPML4() pmm.Frame { return kernelPML4 }

// HHDMOffset returns the virtual offset at which every physical frame is
// mapped (spec.md §4.2's hhdm_offset accessor).
func HHDMOffset() uintptr { return hhdmOffset }

func hhdmAddr(phys uintptr) uintptr { return hhdmOffset + phys }

// Init builds a fresh top-level page table covering the HHDM identity
// mapping and the kernel image, then loads it, per spec.md §4.2:
//
//   - the HHDM region [0, highest_phys rounded up to 2 MiB) is identity
//     mapped at HHDM, using 2 MiB pages where both the physical and virtual
//     addresses are 2 MiB-aligned and at least 2 MiB of range remains, and
//     4 KiB leaves otherwise;
//   - the kernel image is mapped 4 KiB at a time at its virtual base.
//
// kernelImageSize is supplied by the boot glue (derived from the linker's
// image-end symbol); spec.md's BootInfo carries only the image's base
// addresses, not its size.
func Init(info *boot.Info, kernelImageSize uintptr) *kernel.Error {
	hhdmOffset = info.HHDM

	frame, err := frameAllocator()
	if err != nil {
		return err
	}
	kernelPML4 = frame
	mem.Memset(hhdmAddr(frame.Address()), 0, uintptr(mem.PageSize))

	highest := uintptr(info.HighestAddress())
	highestRounded := (highest + twoMiB - 1) &^ (twoMiB - 1)

	for phys := uintptr(0); phys < highestRounded; {
		virt := hhdmAddr(phys)
		if phys&(twoMiB-1) == 0 && virt&(twoMiB-1) == 0 && highestRounded-phys >= twoMiB {
			if err := mapHuge2MiB(virt, phys, FlagRW|FlagNoExecute); err != nil {
				return err
			}
			phys += twoMiB
		} else {
			if err := Map(virt, phys, FlagRW|FlagNoExecute); err != nil {
				return err
			}
			phys += uintptr(mem.PageSize)
		}
	}

	for off := uintptr(0); off < kernelImageSize; off += uintptr(mem.PageSize) {
		if err := Map(info.KernelVirtBase+off, info.KernelPhysBase+off, FlagRW); err != nil {
			return err
		}
	}

	switchPML4Fn(kernelPML4.Address())
	return nil
}

package vmm

import (
	"kernelcore/kernel"
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/mem"
	"kernelcore/kernel/mem/pmm"
)

// flushTLBEntryFn is mocked by tests; INVLPG has no portable equivalent.
var flushTLBEntryFn = cpu.FlushTLBEntry

// entryAt returns the address (already HHDM-relative) of the page-table
// entry for index idx inside the table whose HHDM-relative base is
// tableAddr.
func entryAt(tableAddr, idx uintptr) *pageTableEntry {
	return (*pageTableEntry)(ptePtrFn(tableAddr + idx*entrySizeBytes))
}

func indexForLevel(virtAddr uintptr, level int) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & pageIndexMask
}

// descendOrCreate walks from the current table to the next one down,
// allocating and zeroing a fresh table if the entry is not yet present.
// Intermediate entries are always Present|Writable|User: leaf permissions
// alone govern what's actually accessible, per spec.md §4.2.
func descendOrCreate(tableAddr, virtAddr uintptr, level int) (uintptr, *kernel.Error) {
	pte := entryAt(tableAddr, indexForLevel(virtAddr, level))
	if !pte.HasFlags(FlagPresent) {
		frame, err := frameAllocator()
		if err != nil {
			return 0, errOutOfMemory
		}
		zeroTable(hhdmAddr(frame.Address()))
		pte.SetFrame(frame)
		pte.SetFlags(FlagPresent | FlagRW | FlagUser)
	}
	return hhdmAddr(pte.Frame().Address()), nil
}

func zeroTable(tableAddr uintptr) {
	for i := uintptr(0); i < (1 << pageIndexBits); i++ {
		*entryAt(tableAddr, i) = 0
	}
}

// Map installs a 4 KiB mapping from virt to phys with the given leaf flags,
// walking (and creating, as needed) PML4 -> PDPT -> PD -> PT. Both
// addresses must already be 4 KiB-aligned.
func Map(virt, phys uintptr, flags PageTableEntryFlag) *kernel.Error {
	tableAddr := hhdmAddr(kernelPML4.Address())
	for level := 0; level < pageLevels-1; level++ {
		var err *kernel.Error
		tableAddr, err = descendOrCreate(tableAddr, virt, level)
		if err != nil {
			return err
		}
	}

	pte := entryAt(tableAddr, indexForLevel(virt, pageLevels-1))
	*pte = 0
	pte.SetFrame(pmm.FrameFromAddress(phys))
	pte.SetFlags(flags | FlagPresent)
	return nil
}

// mapHuge2MiB installs a 2 MiB mapping at the PD level, used only by the
// HHDM-construction pass in Init.
func mapHuge2MiB(virt, phys uintptr, flags PageTableEntryFlag) *kernel.Error {
	tableAddr := hhdmAddr(kernelPML4.Address())
	for level := 0; level < pageLevels-2; level++ {
		var err *kernel.Error
		tableAddr, err = descendOrCreate(tableAddr, virt, level)
		if err != nil {
			return err
		}
	}

	pte := entryAt(tableAddr, indexForLevel(virt, pageLevels-2))
	*pte = 0
	pte.SetFrame(pmm.FrameFromAddress(phys))
	pte.SetFlags(flags | FlagPresent | FlagHuge)
	return nil
}

// Unmap clears the leaf mapping for virt and invalidates its TLB entry. It
// is a no-op if any intermediate table, or the leaf itself, is absent.
func Unmap(virt uintptr) {
	_, pte := lookup(virt)
	if pte == nil {
		return
	}
	*pte = 0
	flushTLBEntryFn(virt)
}

// GetPhys resolves virt to a physical address, honouring 1 GiB and 2 MiB
// huge pages by composing the leaf's base with the in-page offset. It
// returns ErrInvalidMapping if virt has no present mapping at any level.
func GetPhys(virt uintptr) (uintptr, *kernel.Error) {
	level, pte := lookup(virt)
	if pte == nil {
		return 0, ErrInvalidMapping
	}

	var pageMask uintptr
	switch level {
	case pageLevels - 3: // PDPT leaf: 1 GiB huge page
		pageMask = 1<<30 - 1
	case pageLevels - 2: // PD leaf: 2 MiB huge page
		pageMask = uintptr(twoMiB) - 1
	default: // PT leaf: 4 KiB page
		pageMask = uintptr(mem.PageSize) - 1
	}

	return pte.Frame().Address() | (virt & pageMask), nil
}

// lookup walks the page tables for virt and returns the level and entry of
// the first leaf encountered: a present PT entry, or a present huge PD/PDPT
// entry. It returns a nil entry if the address is unmapped at any level.
func lookup(virt uintptr) (level int, pte *pageTableEntry) {
	tableAddr := hhdmAddr(kernelPML4.Address())
	for level = 0; level < pageLevels; level++ {
		pte = entryAt(tableAddr, indexForLevel(virt, level))
		if !pte.HasFlags(FlagPresent) {
			return level, nil
		}
		if level < pageLevels-1 && pte.HasFlags(FlagHuge) {
			return level, pte
		}
		if level == pageLevels-1 {
			return level, pte
		}
		tableAddr = hhdmAddr(pte.Frame().Address())
	}
	return level, nil
}

package vmm

import (
	"testing"

	"kernelcore/kernel"
	"kernelcore/kernel/boot"
	"kernelcore/kernel/mem/pmm"
)

func TestInitBuildsHHDMAndKernelMapping(t *testing.T) {
	a := newArenaAllocator(512)
	hhdmOffset = 0
	kernelPML4 = 0
	frameAllocator = func() (pmm.Frame, *kernel.Error) { return a.allocFrame() }
	flushTLBEntryFn = func(uintptr) {}
	t.Cleanup(func() {
		hhdmOffset, kernelPML4, frameAllocator = 0, 0, nil
	})

	info := &boot.Info{
		Regions: []boot.MemRegion{
			{Base: 0, Length: 0x10_0000, Type: boot.Usable}, // 1 MiB, well under one 2 MiB HHDM page
		},
		HHDM:           a.hhdm(),
		KernelPhysBase: 0,
		KernelVirtBase: a.hhdm() + 0x20_0000,
	}

	var switchCalled bool
	var switchedTo uintptr
	prevSwitch := switchPML4Fn
	switchPML4Fn = func(phys uintptr) { switchCalled = true; switchedTo = phys }
	defer func() { switchPML4Fn = prevSwitch }()

	if err := Init(info, 0x1000); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if !switchCalled {
		t.Fatal("Init did not install the new PML4 via SwitchPML4")
	}
	if switchedTo != KernelPML4().Address() {
		t.Fatalf("SwitchPML4 called with %#x; want %#x", switchedTo, KernelPML4().Address())
	}
	if HHDMOffset() != info.HHDM {
		t.Fatalf("HHDMOffset() = %#x; want %#x", HHDMOffset(), info.HHDM)
	}

	// Every byte of the declared Usable region should be reachable through
	// the HHDM mapping built by Init.
	phys, err := GetPhys(info.HHDM + 0x5000)
	if err != nil {
		t.Fatalf("GetPhys on HHDM region failed: %v", err)
	}
	if phys != 0x5000 {
		t.Fatalf("GetPhys(HHDM+0x5000) = %#x; want 0x5000", phys)
	}

	// The kernel image mapping should resolve to its physical base.
	kPhys, err := GetPhys(info.KernelVirtBase)
	if err != nil {
		t.Fatalf("GetPhys on kernel image failed: %v", err)
	}
	if kPhys != info.KernelPhysBase {
		t.Fatalf("GetPhys(KernelVirtBase) = %#x; want %#x", kPhys, info.KernelPhysBase)
	}
}

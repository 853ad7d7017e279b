package vmm

import (
	"testing"

	"kernelcore/kernel/mem/pmm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	if pte.HasFlags(FlagPresent) {
		t.Fatal("zero-value entry should not report FlagPresent")
	}

	pte.SetFlags(FlagPresent | FlagRW)
	if !pte.HasFlags(FlagPresent) || !pte.HasFlags(FlagRW) {
		t.Fatal("expected both FlagPresent and FlagRW to be set")
	}
	if pte.HasFlags(FlagUser) {
		t.Fatal("FlagUser should not be set")
	}

	pte.ClearFlags(FlagRW)
	if pte.HasFlags(FlagRW) {
		t.Fatal("FlagRW should have been cleared")
	}
	if !pte.HasFlags(FlagPresent) {
		t.Fatal("clearing FlagRW should not affect FlagPresent")
	}
}

func TestPageTableEntryFrame(t *testing.T) {
	var pte pageTableEntry
	pte.SetFlags(FlagPresent | FlagRW)

	frame := pmm.Frame(42)
	pte.SetFrame(frame)

	if got := pte.Frame(); got != frame {
		t.Fatalf("Frame() = %d; want %d", got, frame)
	}
	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("SetFrame must not disturb flag bits")
	}

	pte.SetFrame(pmm.Frame(7))
	if got := pte.Frame(); got != pmm.Frame(7) {
		t.Fatalf("Frame() after re-SetFrame = %d; want 7", got)
	}
}

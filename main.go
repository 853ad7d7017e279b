package main

import (
	"unsafe"

	"kernelcore/kernel/boot"
	"kernelcore/kernel/kmain"
)

// bootInfoPtr and kernelImageSize are populated by the rt0 assembly stub
// before jumping here, the same handoff gopher-os's stub.go describes for
// multibootInfoPtr: a Limine-style protocol stub (outside this core's
// scope) parses the bootloader's response structures into a boot.Info and
// leaves its address here. Passed as package-level variables rather than
// function arguments so the Go compiler can't prove main is a no-op and
// strip kmain.Kmain from the generated object file.
var (
	bootInfoPtr     uintptr
	kernelImageSize uintptr
)

// main is the only Go symbol visible to the rt0 initialization code. It is
// not expected to return; if it does, rt0 halts the CPU.
func main() {
	info := (*boot.Info)(unsafe.Pointer(bootInfoPtr))
	kmain.Kmain(info, kernelImageSize)
}

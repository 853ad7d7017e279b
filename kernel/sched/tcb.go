// Package sched implements the core's cooperative/preemptive thread
// scheduler: TCB allocation, stack synthesis, a FIFO run queue and the
// context-switch primitive, grounded on
// original_source/kernel/proc/thread.c and sched.c.
package sched

import (
	"unsafe"

	"kernelcore/kernel"
	"kernelcore/kernel/kfmt"
	"kernelcore/kernel/kheap"
)

// Thread states, matching original_source/kernel/proc/thread.h's
// THREAD_CREATED..THREAD_DEAD ordering.
const (
	Created = uint8(iota)
	Ready
	Running
	Blocked
	Dead
)

// EntryFunc is a thread's top-level function, invoked by the trampoline
// with the argument it was created with.
type EntryFunc func(arg uintptr)

// Context holds the callee-saved registers plus the stack pointer —
// exactly what context_switch saves and restores. Field order is
// load-bearing: it matches context_switch_amd64.s's save/restore order,
// bit-exact with original_source/kernel/proc/thread.h's ThreadContext.
type Context struct {
	R15, R14, R13, R12 uint64
	RBX, RBP           uint64
	RSP                uintptr
}

// TCB is a thread control block. Next links it into the scheduler's
// intrusive singly-linked run queue; it is nil whenever the thread isn't
// currently queued.
type TCB struct {
	TID       uint32
	State     uint8
	Context   Context
	StackBase uintptr // 0 for the boot thread, which keeps its original stack
	StackSize uintptr
	Entry     EntryFunc
	Arg       uintptr
	Next      *TCB
}

var (
	current *TCB
	nextTID uint32
)

// allocStackFn/freeStackFn indirect kheap.Alloc/Free so tests can back a
// thread's stack with a host-heap arena instead of the real kernel heap.
var (
	allocStackFn = kheap.Alloc
	freeStackFn  = kheap.Free
)

// allocTCBFn/freeTCBFn indirect kheap.AllocZeroed/Free. A TCB is never
// allocated by Go's own runtime (there is none, before goruntime bootstrap
// ran, and this core carries no such bootstrap): every TCB is overlaid
// directly onto kernel-heap-owned memory, the same way blockHeader,
// BitmapAllocator and Queue are.
var (
	allocTCBFn = kheap.AllocZeroed
	freeTCBFn  = kheap.Free
)

// tcbSize is the payload size Create/Init request for a new TCB overlay.
const tcbSize = unsafe.Sizeof(TCB{})

var errOutOfMemory = &kernel.Error{Module: "sched", Message: "kernel heap exhausted while allocating the boot TCB"}

// contextSwitchFn indirects the asm context_switch primitive so tests can
// replace it (real register-level switching can't safely run under
// `go test` on a hosted GOOS/GOARCH).
var contextSwitchFn = contextSwitch

// contextSwitch saves old and loads next, returning into whatever next's
// saved RSP points at. Declared here, implemented in
// context_switch_amd64.s.
func contextSwitch(old, next *Context)

// trampolineFn is the funcPC'd entry address written onto every freshly
// created thread's stack. Indirected (rather than called directly by
// funcPC(trampoline)) so tests can swap in a sentinel and avoid ever
// executing a real context switch into it.
var trampolineFn = trampoline

// trampoline is the first code a new thread executes, reached because
// context_switch's RET pops the address Create wrote at the top of its
// stack. Mirrors original_source/kernel/proc/thread.c's
// thread_trampoline: enable interrupts, run the entry function, mark the
// thread dead, then halt forever — a dead thread is simply never popped
// off the run queue again.
func trampoline() {
	t := Current()
	enableInterruptsFn()
	t.Entry(t.Arg)
	t.State = Dead
	for {
		haltFn()
	}
}

// Init synthesizes a TCB for the currently executing code (TID 0,
// stack_base = NULL so the in-progress kernel stack is left alone) and
// designates it the idle thread. Must be called once, before Create.
func Init() *TCB {
	addr := allocTCBFn(tcbSize)
	if addr == 0 {
		kernel.Panic(errOutOfMemory)
	}
	boot := (*TCB)(unsafe.Pointer(addr))
	boot.TID = 0
	boot.State = Running
	boot.StackBase = 0
	boot.StackSize = 0

	nextTID = 1
	current = boot
	SetIdle(boot)
	kfmt.Printf("[sched] threading initialized (boot thread tid=%d)\n", boot.TID)
	return boot
}

// Create allocates a TCB and kernel stack, synthesizes the initial stack
// so the first context switch into this thread lands in trampoline, and
// returns it in the Ready state. The returned TCB is not added to the run
// queue; callers call Add explicitly (per spec, thread creation and
// scheduling are separate concerns).
func Create(entry EntryFunc, arg uintptr) *TCB {
	addr := allocTCBFn(tcbSize)
	if addr == 0 {
		return nil
	}
	t := (*TCB)(unsafe.Pointer(addr))

	stackSize := uintptr(kernel.StackSize)
	stackBase := allocStackFn(stackSize)
	if stackBase == 0 {
		freeTCBFn(addr)
		return nil
	}

	t.StackBase = stackBase
	t.StackSize = stackSize
	t.Entry = entry
	t.Arg = arg
	t.State = Ready

	stackTop := stackBase + stackSize
	retSlot := stackTop - unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(retSlot)) = funcPC(trampolineFn)

	t.Context = Context{RSP: retSlot}

	t.TID = nextTID
	nextTID++

	kfmt.Printf("[sched] created thread tid=%d\n", t.TID)
	return t
}

// Destroy frees a Dead thread's stack and TCB. Callers are responsible
// for checking t.State == Dead first; Destroy itself doesn't enforce it,
// mirroring original_source/kernel/proc/thread.c's thread_destroy, which
// trusts its caller the same way.
func Destroy(t *TCB) {
	if t == nil {
		return
	}
	if t.StackBase != 0 {
		freeStackFn(t.StackBase)
	}
	freeTCBFn(uintptr(unsafe.Pointer(t)))
}

// Current returns the thread the scheduler last switched into.
func Current() *TCB {
	return current
}

// setCurrent is scheduler-internal: callers outside this package should
// never force the current thread directly.
func setCurrent(t *TCB) {
	current = t
}

func funcPC(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

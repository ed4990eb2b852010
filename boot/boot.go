// Package boot is the control-flow glue that drives the other
// packages through the boot sequence spec §2 describes: assembly to
// Kinit, Kinit through the layout, page allocator, byte heap,
// page-table engine, kernel address-space builder, and
// address-translation control, and finally back to the assembly stub
// for the switch to supervisor mode. It is the Go rendering of
// five_os's main.rs `kinit`/`kinit_hart` and mcause's trap entry
// contract, generalized so the whole sequence is reachable as an
// ordinary Go call rather than scattered through a `#[no_mangle]`
// free function with process-wide statics (spec §9's singleton
// re-architecture).
package boot

import (
	"fmt"
	"io"
	"runtime"

	"rvos/devio"
	"rvos/diag"
	"rvos/kheap"
	"rvos/kspace"
	"rvos/layout"
	"rvos/pagealloc"
	"rvos/pgtbl"
	"rvos/satp"
	"rvos/trap"
)

// DefaultKernelHeapFrames is the fixed kernel dynamic-heap size, in
// page frames, matching five_os's kernel_heap.rs KMEM_SIZE constant.
const DefaultKernelHeapFrames = 64

// Config gathers every external collaborator and compile-time
// constant Kinit needs: the linker-provided symbols, the active
// page-table kind, the MMIO device contracts, and the CSR accessors
// that in a real boot are reached from assembly (spec §6).
type Config struct {
	Layout           layout.Symbols
	KernelHeapFrames int // 0 selects DefaultKernelHeapFrames
	Mode             satp.Mode
	Descriptor       pgtbl.Descriptor
	UART             devio.UART
	PLIC             devio.PLIC
	SatpReg          satp.Register
	MScratch         satp.Register // mscratch, nil if not modeled
	SScratch         satp.Register // sscratch, nil if not modeled
	Hardware         kspace.HardwareWindows
}

// Kernel is the kernel-state record spec §9 calls for in place of
// process-wide mutable singletons: everything Kinit builds, held by
// value so its address can be passed explicitly to whatever needs it,
// instead of reached through package-level globals.
type Kernel struct {
	Layout     layout.Layout
	PageAlloc  *pagealloc.Allocator
	Heap       *kheap.Heap
	Space      kspace.Result
	Frames     *trap.Frames
	Dispatcher *trap.Dispatcher
	Profiler   *diag.Profiler
	SatpValue  uint64
}

// Kinit runs the hart-0 boot sequence (spec §2's control flow:
// layout → page allocator → byte heap → page-table build → address
// space install → MMU enable). physArena must back the region
// [cfg.Layout.HeapStart, cfg.Layout.MemoryEnd): in a real boot this is
// physical DRAM; in tests and in this hosted rendering, it is a plain
// byte slice standing in for that memory. Kinit returns an error
// rather than panicking on any recoverable-looking failure; the only
// path with no recoverable alternative is an unsupported translation
// mode, which satp.Enable reports as ErrUnsupportedMode -- the caller
// (in firmware, the boot stub; here, the caller of Kinit) decides
// whether to call Abort.
func Kinit(cfg Config, physArena []byte) (*Kernel, error) {
	l, err := layout.New(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("boot: layout: %w", err)
	}

	alloc, err := pagealloc.New(l.HeapStart(), physArena)
	if err != nil {
		return nil, fmt.Errorf("boot: pagealloc: %w", err)
	}

	heapFrames := cfg.KernelHeapFrames
	if heapFrames <= 0 {
		heapFrames = DefaultKernelHeapFrames
	}
	heapStart, err := alloc.ZeroAllocate(heapFrames)
	if err != nil {
		return nil, fmt.Errorf("boot: reserving kernel heap: %w", err)
	}
	heap, err := kheap.New(heapStart, alloc.Region(heapStart, heapFrames))
	if err != nil {
		return nil, fmt.Errorf("boot: kheap: %w", err)
	}

	trapFrameAddr, err := alloc.ZeroAllocate(1)
	if err != nil {
		return nil, fmt.Errorf("boot: reserving trap frame: %w", err)
	}
	trapStackAddr, err := alloc.ZeroAllocate(1)
	if err != nil {
		return nil, fmt.Errorf("boot: reserving trap stack: %w", err)
	}

	space, err := kspace.Build(kspace.Input{
		Layout:       l,
		Mem:          alloc,
		Descriptor:   cfg.Descriptor,
		HeapStart:    heapStart,
		HeapEnd:      heapStart + uintptr(heapFrames)*pagealloc.FrameSize,
		TrapStack:    trapStackAddr,
		TrapFrame:    trapFrameAddr,
		TrapFrameEnd: trapFrameAddr + pgtbl.PageSize,
		Hardware:     cfg.Hardware,
	})
	if err != nil {
		return nil, fmt.Errorf("boot: building kernel address space: %w", err)
	}

	satpValue := satp.Value(cfg.Mode, space.RootAddr)

	frames := &trap.Frames{}
	frames[0].Init(0, trapStackAddr+pagealloc.FrameSize, satpValue)

	if cfg.MScratch != nil {
		cfg.MScratch.Set(uint64(trapFrameAddr))
	}
	if cfg.SScratch != nil {
		cfg.SScratch.Set(uint64(trapFrameAddr))
	}

	if err := satp.Enable(cfg.SatpReg, cfg.Mode, space.RootAddr); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	return &Kernel{
		Layout:     l,
		PageAlloc:  alloc,
		Heap:       heap,
		Space:      space,
		Frames:     frames,
		Dispatcher: &trap.Dispatcher{UART: cfg.UART, PLIC: cfg.PLIC},
		Profiler:   diag.NewProfiler(),
		SatpValue:  satpValue,
	}, nil
}

// wfi approximates the RISC-V `wfi` instruction's observable effect
// (yield until something happens) for the hosted rendering of a
// secondary-hart park loop; there is no real low-power wait without
// actual hardware.
func wfi() { runtime.Gosched() }

// KinitHart is the secondary-hart entry point: per spec §5, only hart
// 0 executes allocator and page-table code during boot, so every
// other hart parks here indefinitely. This function does not return;
// callers that need to exercise boot logic for a non-zero hart should
// call Kinit directly rather than this loop.
func KinitHart(hartID uint64) {
	for {
		wfi()
	}
}

// Abort is the terminal handler for every fatal boot error (spec §7):
// it prints the error to w, then spins forever. The loop calls
// runtime.Gosched on every iteration so the Go compiler cannot prove
// the loop has no observable effect and elide it -- the hosted
// equivalent of the compiler fence spec §7 requires on a bare-metal
// wait-for-interrupt loop. Abort never returns.
func Abort(w io.Writer, err error) {
	if w != nil {
		fmt.Fprintf(w, "fatal: %v\n", err)
	}
	for {
		wfi()
	}
}

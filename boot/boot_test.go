package boot_test

import (
	"errors"
	"testing"

	"rvos/boot"
	"rvos/devio"
	"rvos/kspace"
	"rvos/layout"
	"rvos/pgtbl"
	"rvos/satp"
)

// fakeSatpReg models the satp CSR; mask simulates hardware that
// silently drops bits it does not implement (see satp_test.go).
type fakeSatpReg struct {
	value uint64
	mask  uint64
}

func (r *fakeSatpReg) Get() uint64  { return r.value }
func (r *fakeSatpReg) Set(v uint64) { r.value = v & r.mask }

func testConfig(satpReg satp.Register) boot.Config {
	const base = 0x8020_0000
	return boot.Config{
		Layout: layout.Symbols{
			TextStart:     base,
			TextEnd:       base + 0x1000,
			RodataStart:   base + 0x1000,
			RodataEnd:     base + 0x2000,
			DataStart:     base + 0x2000,
			DataEnd:       base + 0x3000,
			BssStart:      base + 0x3000,
			BssEnd:        base + 0x4000,
			StackStart:    base + 0x4000,
			StackEnd:      base + 0x5000,
			HeapStart:     base + 0x5000,
			HeapSize:      0x10_0000,
			MemoryStart:   base,
			MemoryEnd:     base + 0x20_0000,
			GlobalPointer: base + 0x2000,
			TrapStart:     base,
			TrapVector:    base,
		},
		KernelHeapFrames: 4,
		Mode:             satp.Sv39,
		Descriptor:       pgtbl.Sv39,
		UART:             &devio.FakeUart{},
		PLIC:             &fakePLIC{},
		SatpReg:          satpReg,
		Hardware: kspace.HardwareWindows{
			UARTStart: devio.UARTBase, UARTEnd: devio.UARTEnd,
			CLINTStart: devio.CLINTBase, CLINTEnd: devio.CLINTEnd,
			PLICStart: devio.PLICBase, PLICEnd: devio.PLICEnd,
			ReservedStart: 0x0c20_0000, ReservedEnd: 0x0c20_8000,
		},
	}
}

type fakePLIC struct{}

func (fakePLIC) EnableInterrupt(uint32)    {}
func (fakePLIC) SetPriority(uint32, uint8) {}
func (fakePLIC) SetThreshold(uint8)        {}
func (fakePLIC) Claim() (uint32, bool)     { return 0, false }
func (fakePLIC) Complete(uint32)           {}

func TestKinitBuildsConsistentKernel(t *testing.T) {
	reg := &fakeSatpReg{mask: ^uint64(0)}
	cfg := testConfig(reg)
	arena := make([]byte, 0x20_0000-0x5000)

	k, err := boot.Kinit(cfg, arena)
	if err != nil {
		t.Fatalf("Kinit: %v", err)
	}

	if k.Frames[0].Satp != k.SatpValue {
		t.Fatalf("frame satp = %#x, want %#x", k.Frames[0].Satp, k.SatpValue)
	}
	if got := satp.DecodeMode(k.SatpValue); got != satp.Sv39 {
		t.Fatalf("satp mode = %d, want Sv39", got)
	}
	if got := satp.DecodeAddress(k.SatpValue); got != k.Space.RootAddr {
		t.Fatalf("satp root = %#x, want %#x", got, k.Space.RootAddr)
	}

	if len(k.Space.Map.Regions()) == 0 {
		t.Fatal("kernel address space has no installed regions")
	}

	// Every region installed by kspace must actually translate
	// through the built root table.
	for _, r := range k.Space.Map.Regions() {
		for addr := r.Start & ^uintptr(pgtbl.PageSize-1); addr < r.End; addr += pgtbl.PageSize {
			if _, _, ok := pgtbl.Translate(k.Space.Root, pgtbl.Sv39, uint64(addr), k.PageAlloc); !ok {
				t.Fatalf("region %q: address %#x not mapped", r.Label, addr)
			}
		}
	}

	// A small byte-heap allocation round-trips.
	ptr, err := k.Heap.Allocate(64, 8)
	if err != nil {
		t.Fatalf("Heap.Allocate: %v", err)
	}
	k.Heap.Deallocate(ptr)
}

func TestKinitRejectsUnsupportedMode(t *testing.T) {
	reg := &fakeSatpReg{mask: (uint64(1) << 44) - 1} // mode bits silently dropped
	cfg := testConfig(reg)
	arena := make([]byte, 0x20_0000-0x5000)

	_, err := boot.Kinit(cfg, arena)
	if !errors.Is(err, satp.ErrUnsupportedMode) {
		t.Fatalf("Kinit = %v, want ErrUnsupportedMode", err)
	}
}

func TestKinitRejectsInvalidLayout(t *testing.T) {
	cfg := testConfig(&fakeSatpReg{mask: ^uint64(0)})
	cfg.Layout.TextStart = cfg.Layout.TextEnd + 1 // violates monotonic ordering
	_, err := boot.Kinit(cfg, make([]byte, 0x1000))
	if err == nil {
		t.Fatal("expected layout validation error")
	}
}

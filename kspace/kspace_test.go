package kspace_test

import (
	"testing"

	"rvos/devio"
	"rvos/kspace"
	"rvos/layout"
	"rvos/pagealloc"
	"rvos/pgtbl"
)

func testLayout(t *testing.T) layout.Layout {
	t.Helper()
	const base = 0x8020_0000
	l, err := layout.New(layout.Symbols{
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
		HeapSize:      0x1000,
		MemoryStart:   base,
		MemoryEnd:     base + 0x10_0000,
		GlobalPointer: base + 0x2000,
		TrapStart:     base,
		TrapVector:    base,
	})
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	return l
}

func TestBuildInstallsEveryRegion(t *testing.T) {
	l := testLayout(t)
	mem, err := pagealloc.New(0x9000_0000, make([]byte, 256*pagealloc.FrameSize))
	if err != nil {
		t.Fatalf("pagealloc.New: %v", err)
	}

	trapFrame, err := mem.ZeroAllocate(1)
	if err != nil {
		t.Fatalf("alloc trap frame: %v", err)
	}
	trapStack, err := mem.ZeroAllocate(1)
	if err != nil {
		t.Fatalf("alloc trap stack: %v", err)
	}
	heapFrames, err := mem.ZeroAllocate(4)
	if err != nil {
		t.Fatalf("alloc heap: %v", err)
	}

	in := kspace.Input{
		Layout:       l,
		Mem:          mem,
		Descriptor:   pgtbl.Sv39,
		HeapStart:    heapFrames,
		HeapEnd:      heapFrames + 4*pagealloc.FrameSize,
		TrapStack:    trapStack,
		TrapFrame:    trapFrame,
		TrapFrameEnd: trapFrame + pgtbl.PageSize,
		Hardware: kspace.HardwareWindows{
			UARTStart: devio.UARTBase, UARTEnd: devio.UARTEnd,
			CLINTStart: devio.CLINTBase, CLINTEnd: devio.CLINTEnd,
			PLICStart: devio.PLICBase, PLICEnd: devio.PLICEnd,
			ReservedStart: 0x0c20_0000, ReservedEnd: 0x0c20_8000,
		},
	}

	result, err := kspace.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	regions := result.Map.Regions()
	if len(regions) == 0 {
		t.Fatal("Build produced no regions")
	}
	if regions[0].Label != "trap frame" {
		t.Fatalf("first installed region = %q, want %q (trap frame first)", regions[0].Label, "trap frame")
	}

	// Every installed leaf page should translate back to itself.
	for _, r := range regions {
		for addr := r.Start & ^uintptr(pgtbl.PageSize-1); addr < r.End; addr += pgtbl.PageSize {
			phys, flags, ok := pgtbl.Translate(result.Root, pgtbl.Sv39, uint64(addr), mem)
			if !ok {
				t.Fatalf("region %q: address %#x not mapped", r.Label, addr)
			}
			if phys != uint64(addr) {
				t.Fatalf("region %q: translate(%#x) = %#x, want identity", r.Label, addr, phys)
			}
			if !flags.Valid() {
				t.Fatalf("region %q: leaf at %#x not valid", r.Label, addr)
			}
		}
	}
}

func TestBuildRejectsFullMap(t *testing.T) {
	var m kspace.Map
	for i := 0; i < kspace.RegionSlots; i++ {
		if err := m.AddRegion(pgtbl.Sv39, "row", 0x1000, 0x2000, pgtbl.ReadWrite); err != nil {
			t.Fatalf("AddRegion %d: %v", i, err)
		}
	}
	if err := m.AddRegion(pgtbl.Sv39, "overflow", 0x1000, 0x2000, pgtbl.ReadWrite); err == nil {
		t.Fatal("expected ErrMapFull")
	}
}

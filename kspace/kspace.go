// Package kspace builds the kernel's static address space: the fixed
// table of regions (spec §4.5) that must be identity-mapped before
// the MMU can be enabled, and the driver that installs them through
// the page-table engine.
package kspace

import (
	"errors"
	"fmt"

	"rvos/layout"
	"rvos/pgtbl"
)

// RegionSlots is the fixed cardinality of the region table, matching
// global_pages.rs's 16-entry KernelMemoryMap array: 14 named regions
// (spec §4.5) plus two spares for future use.
const RegionSlots = 16

// ErrMapFull is returned by AddRegion once RegionSlots rows are
// already populated.
var ErrMapFull = errors.New("kspace: region table is full")

// ErrAddressOutOfRange is returned when a region's address does not
// fit the active page-table kind's virtual address space -- the
// sanity check SPEC_FULL §3 adds from
// PageTableDescriptor::virtual_address_size in the original source.
var ErrAddressOutOfRange = errors.New("kspace: region address exceeds the page-table kind's address space")

// Region is one row of the kernel memory map: a labeled address range
// and the leaf flags it should be installed with.
type Region struct {
	Label string
	Start uintptr
	End   uintptr
	Flags pgtbl.Flags
}

// Map is the fixed-cardinality table of regions to identity-map,
// mirroring global_pages.rs's KernelMemoryMap.
type Map struct {
	regions [RegionSlots]Region
	count   int
}

// AddRegion appends a row. It returns ErrMapFull once RegionSlots rows
// have been added, and ErrAddressOutOfRange if end does not fit
// within d's virtual address space.
func (m *Map) AddRegion(d pgtbl.Descriptor, label string, start, end uintptr, flags pgtbl.Flags) error {
	if m.count >= RegionSlots {
		return ErrMapFull
	}
	if err := checkFits(d, end); err != nil {
		return err
	}
	m.regions[m.count] = Region{Label: label, Start: start, End: end, Flags: flags}
	m.count++
	return nil
}

// Regions returns the populated rows, in insertion order.
func (m *Map) Regions() []Region {
	return m.regions[:m.count]
}

func checkFits(d pgtbl.Descriptor, addr uintptr) error {
	bits := d.VirtualAddressBits()
	if bits >= 64 {
		return nil
	}
	limit := uintptr(1) << uint(bits)
	if addr > limit {
		return fmt.Errorf("%w: %#x exceeds %d-bit space of %s", ErrAddressOutOfRange, addr, bits, d.Name)
	}
	return nil
}

// FrameSource is the allocator capability the builder passes through
// to pgtbl, identical to pgtbl.FrameSource: kept as a separate name so
// this package's callers don't need to import pgtbl just to supply
// one.
type FrameSource = pgtbl.FrameSource

// HardwareWindows are the MMIO address ranges a kernel address space
// must identity-map; the builder does not hard-code devio's
// constants so it can be exercised against fakes in tests.
type HardwareWindows struct {
	UARTStart, UARTEnd         uintptr
	CLINTStart, CLINTEnd       uintptr
	PLICStart, PLICEnd         uintptr
	ReservedStart, ReservedEnd uintptr
}

// Input gathers everything Build needs: the validated linker layout,
// the page allocator (also the branch-frame source for pgtbl), the
// descriptor for the active page-table kind, the kernel dynamic heap's
// bounds, the trap stack's bounds, and the trap frame's address.
type Input struct {
	Layout       layout.Layout
	Mem          FrameSource
	Descriptor   pgtbl.Descriptor
	HeapStart    uintptr
	HeapEnd      uintptr
	TrapStack    uintptr // base of the one-page trap stack
	TrapFrame    uintptr
	TrapFrameEnd uintptr
	Hardware     HardwareWindows
}

// Result is what Build hands back: the populated region table, the
// root table's physical address, and its backing bytes.
type Result struct {
	Map      Map
	Root     []byte
	RootAddr uintptr
}

// Build allocates the root page table, assembles the region table per
// spec §4.5, installs the trap frame first (it must be reachable
// before any trap can be taken through the translated address space),
// then installs every other non-empty row. It does not write satp or
// enable the MMU: that is satp.Enable's job, invoked by boot once
// Build returns successfully.
func Build(in Input) (Result, error) {
	rootAddr, err := in.Mem.ZeroAllocate(1)
	if err != nil {
		return Result{}, fmt.Errorf("kspace: allocating root table: %w", err)
	}
	root := in.Mem.FrameBytes(rootAddr)

	var m Map
	d := in.Descriptor
	l := in.Layout

	rows := []Region{
		{"kernel root page table", rootAddr, rootAddr + pgtbl.PageSize, pgtbl.ReadWrite},
		{"kernel dynamic heap", in.HeapStart, in.HeapEnd, pgtbl.ReadWrite},
		{"allocation bitmap", l.HeapStart(), l.HeapStart() + l.HeapSize()/pgtbl.PageSize, pgtbl.ReadExecute},
		{"kernel text", l.TextStart(), l.TextEnd(), pgtbl.ReadExecute},
		{"rodata", l.RodataStart(), l.RodataEnd(), pgtbl.ReadExecute},
		{"data", l.DataStart(), l.DataEnd(), pgtbl.ReadWrite},
		{"bss", l.BssStart(), l.BssEnd(), pgtbl.ReadWrite},
		{"kernel stack", l.StackStart(), l.StackEnd(), pgtbl.ReadWrite},
		{"trap stack", in.TrapStack, in.TrapStack + pgtbl.PageSize, pgtbl.ReadWrite},
		{"uart window", in.Hardware.UARTStart, in.Hardware.UARTEnd, pgtbl.ReadWrite},
		{"clint window", in.Hardware.CLINTStart, in.Hardware.CLINTEnd, pgtbl.ReadWrite},
		{"plic window", in.Hardware.PLICStart, in.Hardware.PLICEnd, pgtbl.ReadWrite},
		{"reserved hardware window", in.Hardware.ReservedStart, in.Hardware.ReservedEnd, pgtbl.ReadWrite},
	}

	// The trap frame is installed before anything else: it must be
	// mapped before any trap can be taken through the translated
	// address space (spec §4.5).
	if err := pgtbl.IdentityMap(root, d, uint64(in.TrapFrame), uint64(in.TrapFrameEnd), pgtbl.ReadWrite, in.Mem); err != nil {
		return Result{}, fmt.Errorf("kspace: mapping trap frame: %w", err)
	}
	if err := m.AddRegion(d, "trap frame", in.TrapFrame, in.TrapFrameEnd, pgtbl.ReadWrite); err != nil {
		return Result{}, err
	}

	for _, r := range rows {
		if r.Start == 0 && r.End == 0 {
			continue
		}
		if err := m.AddRegion(d, r.Label, r.Start, r.End, r.Flags); err != nil {
			return Result{}, err
		}
		if err := pgtbl.IdentityMap(root, d, uint64(r.Start), uint64(r.End), r.Flags, in.Mem); err != nil {
			return Result{}, fmt.Errorf("kspace: mapping %q: %w", r.Label, err)
		}
	}

	return Result{Map: m, Root: root, RootAddr: rootAddr}, nil
}

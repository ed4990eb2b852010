// Package pgtbl implements the generic multi-level page-table engine:
// one implementation parameterized by a page-table kind descriptor,
// shared across Sv32, Sv39, and Sv48, performing identity mapping,
// leaf installation, and recursive branch allocation.
package pgtbl

import "rvos/util"

// PageSize is the size in bytes of a single leaf page, fixed by the
// RISC-V privileged specification at 4 KiB for every supported kind.
const PageSize = 1 << 12

// BitGroup describes one group of bits within an address or entry: its
// width and the offset of its lowest bit.
type BitGroup struct {
	Width  int
	Offset int
}

// Descriptor fixes the layout of one page-table kind (Sv32, Sv39, or
// Sv48): entry width, table depth, and the three bit-field descriptors
// that every traversal reads instead of hard-coding shifts.
type Descriptor struct {
	Name string

	// Levels is the table depth: 2 for Sv32, 3 for Sv39, 4 for Sv48.
	Levels int

	// EntrySize is the entry width in bytes: 4 for Sv32, 8 otherwise.
	EntrySize int

	// VirtualSegments[level] locates that level's index field within a
	// virtual address.
	VirtualSegments []BitGroup

	// PageSegments[level] locates that level's physical-page-number
	// group within an entry's middle bits.
	PageSegments []BitGroup

	// PhysicalSegments[level] locates that level's group within a raw
	// physical address, above the fixed 12-bit page offset.
	PhysicalSegments []BitGroup
}

// VirtualAddressBits returns the number of meaningful bits in a virtual
// address under this kind: the page offset plus every VPN segment.
func (d Descriptor) VirtualAddressBits() int {
	bits := 12
	for _, seg := range d.VirtualSegments {
		bits += seg.Width
	}
	return bits
}

// PhysicalAddressBits returns the number of meaningful bits in a
// physical address under this kind.
func (d Descriptor) PhysicalAddressBits() int {
	bits := 12
	for _, seg := range d.PhysicalSegments {
		bits += seg.Width
	}
	return bits
}

// ExtractIndex returns the per-level index into a page table, derived
// from the kind's VPN descriptor for that level.
func (d Descriptor) ExtractIndex(vaddr uint64, level int) uint64 {
	seg := d.VirtualSegments[level]
	return util.ExtractBits(vaddr, seg.Width, seg.Offset)
}

// ComposeAddress packs a physical address's segments into an entry's
// middle bits, per the kind's PageSegments/PhysicalSegments mapping.
func (d Descriptor) ComposeAddress(phys uint64) uint64 {
	var raw uint64
	for i, pa := range d.PhysicalSegments {
		group := util.ExtractBits(phys, pa.Width, pa.Offset)
		dst := d.PageSegments[i]
		raw |= group << uint(dst.Offset)
	}
	return raw
}

// ExtractAddress reconstructs the physical address encoded in an
// entry's middle bits.
func (d Descriptor) ExtractAddress(raw uint64) uint64 {
	var phys uint64
	for i, ppn := range d.PageSegments {
		group := util.ExtractBits(raw, ppn.Width, ppn.Offset)
		dst := d.PhysicalSegments[i]
		phys |= group << uint(dst.Offset)
	}
	return phys
}

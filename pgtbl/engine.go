package pgtbl

import (
	"errors"

	"rvos/util"
)

// ErrConflict is raised when a leaf install would overwrite an
// existing valid entry with a different physical frame, or when a
// concurrent writer beats a leaf CAS install. A lost branch CAS
// install is retried instead.
var ErrConflict = errors.New("pgtbl: conflicting page table entry")

// ErrShadowedLeaf is raised when traversal must descend through an
// entry that is already a valid leaf at a non-leaf level.
var ErrShadowedLeaf = errors.New("pgtbl: attempted to descend through a leaf entry")

// FrameSource is the allocator capability the engine needs to install
// new branch frames: an allocator object with a single method, taken
// by reference, rather than a closure threaded through every call.
type FrameSource interface {
	ZeroAllocate(n int) (uintptr, error)
	FrameBytes(addr uintptr) []byte
	Deallocate(addr uintptr)
}

// maxLevels bounds the per-call array of newly-allocated branch frames;
// Sv48 is the deepest supported kind at 4 levels.
const maxLevels = 4

// MapOne installs a single 4 KiB mapping from vaddr to paddr, starting
// the traversal at level (descriptor.Levels-1 for a fresh call). It
// returns the physical addresses of any branch frames it allocated
// along the way, indexed by the level at which each was installed (0
// where none was allocated at that level), so the caller can
// recursively identity-map them.
func MapOne(table []byte, d Descriptor, vaddr, paddr uint64, flags Flags, level int, mem FrameSource) ([maxLevels]uintptr, error) {
	var allocated [maxLevels]uintptr

	idx := d.ExtractIndex(vaddr, level)
	raw := loadEntry(table, d, int(idx))
	f := Flags(raw & 0x3FF)

	if level == 0 {
		if f.Valid() {
			if f.IsLeaf() {
				existing := d.ExtractAddress(raw)
				if existing != (paddr &^ 0xFFF) {
					return allocated, ErrConflict
				}
				return allocated, nil
			}
			return allocated, ErrShadowedLeaf
		}
		newRaw := composeEntry(d, paddr, flags|FlagValid)
		if !casEntry(table, d, int(idx), raw, newRaw) {
			return allocated, ErrConflict
		}
		return allocated, nil
	}

	if !f.Valid() {
		frame, err := mem.ZeroAllocate(1)
		if err != nil {
			return allocated, err
		}
		branchRaw := composeEntry(d, uint64(frame), branchFlags)
		if !casEntry(table, d, int(idx), raw, branchRaw) {
			// A concurrent writer installed this entry first: release
			// the unused frame and retry against the winner's entry.
			mem.Deallocate(frame)
			return MapOne(table, d, vaddr, paddr, flags, level, mem)
		}
		allocated[level] = frame
		next := mem.FrameBytes(frame)
		childAllocated, err := MapOne(next, d, vaddr, paddr, flags, level-1, mem)
		if err != nil {
			return allocated, err
		}
		for i, a := range childAllocated {
			if a != 0 {
				allocated[i] = a
			}
		}
		return allocated, nil
	}

	if f.IsBranch() {
		child := d.ExtractAddress(raw)
		next := mem.FrameBytes(uintptr(child))
		return MapOne(next, d, vaddr, paddr, flags, level-1, mem)
	}

	return allocated, ErrShadowedLeaf
}

// IdentityMap maps every page in [start, end) (rounded to page
// boundaries) to itself with the given flags. Whenever installing a
// page allocates a new branch frame, that frame is itself
// identity-mapped with read-write flags so it remains reachable once
// the MMU is enabled.
func IdentityMap(root []byte, d Descriptor, start, end uint64, flags Flags, mem FrameSource) error {
	start = util.Rounddown(start, PageSize)
	end = util.Roundup(end, PageSize)

	for addr := start; addr < end; addr += PageSize {
		allocated, err := MapOne(root, d, addr, addr, flags, d.Levels-1, mem)
		if err != nil {
			return err
		}
		for _, frame := range allocated {
			if frame == 0 {
				continue
			}
			if err := IdentityMap(root, d, uint64(frame), uint64(frame)+PageSize, ReadWrite, mem); err != nil {
				return err
			}
		}
	}
	return nil
}

// Unmap tears down every mapping reachable from root: a post-order
// traversal that invalidates each entry and returns each branch frame
// to mem. The root frame itself stays allocated; it belongs to
// whoever installed it. Not invoked on the boot path, where the
// kernel map lives for the life of the system.
func Unmap(root []byte, d Descriptor, mem FrameSource) {
	unmapLevel(root, d, d.Levels-1, mem)
}

func unmapLevel(table []byte, d Descriptor, level int, mem FrameSource) {
	entries := PageSize / d.EntrySize
	for i := 0; i < entries; i++ {
		raw := loadEntry(table, d, i)
		f := Flags(raw & 0x3FF)
		if !f.Valid() {
			continue
		}
		if f.IsBranch() && level > 0 {
			child := uintptr(d.ExtractAddress(raw))
			unmapLevel(mem.FrameBytes(child), d, level-1, mem)
			casEntry(table, d, i, raw, 0)
			mem.Deallocate(child)
			continue
		}
		casEntry(table, d, i, raw, 0)
	}
}

// Translate walks root for vaddr and, if a leaf is installed, returns
// the corresponding physical address with vaddr's low 12 bits
// preserved bit-exactly, and the leaf's flags.
func Translate(root []byte, d Descriptor, vaddr uint64, mem FrameSource) (uint64, Flags, bool) {
	table := root
	for level := d.Levels - 1; level >= 0; level-- {
		idx := d.ExtractIndex(vaddr, level)
		raw := loadEntry(table, d, int(idx))
		f := Flags(raw & 0x3FF)
		if !f.Valid() {
			return 0, 0, false
		}
		if f.IsLeaf() {
			phys := d.ExtractAddress(raw) | (vaddr & 0xFFF)
			return phys, f, true
		}
		table = mem.FrameBytes(uintptr(d.ExtractAddress(raw)))
	}
	return 0, 0, false
}

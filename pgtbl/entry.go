package pgtbl

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Flags is the low 10 bits of an entry: V, R, W, X, U, G, A, D, plus
// two software-reserved bits.
type Flags uint16

const (
	FlagValid Flags = 1 << iota
	FlagRead
	FlagWrite
	FlagExecute
	FlagUser
	FlagGlobal
	FlagAccessed
	FlagDirty
	FlagSoft0
	FlagSoft1
)

// Read, ReadWrite, UserReadWrite, and ReadExecute are the leaf flag
// combinations the kernel address-space builder installs.
var (
	Read          = FlagValid | FlagRead
	ReadWrite     = Read | FlagWrite
	UserReadWrite = ReadWrite | FlagUser
	ReadExecute   = Read | FlagExecute
)

// branchFlags is installed on a newly allocated table frame: valid,
// but none of R/W/X set, marking it a branch per the entry semantics.
const branchFlags Flags = FlagValid

func (f Flags) Valid() bool      { return f&FlagValid != 0 }
func (f Flags) Readable() bool   { return f&FlagRead != 0 }
func (f Flags) Writable() bool   { return f&FlagWrite != 0 }
func (f Flags) Executable() bool { return f&FlagExecute != 0 }
func (f Flags) User() bool       { return f&FlagUser != 0 }
func (f Flags) Global() bool     { return f&FlagGlobal != 0 }

// IsBranch reports whether flags describe a branch entry: valid, but
// none of read/write/execute set.
func (f Flags) IsBranch() bool {
	return f.Valid() && !f.Readable() && !f.Writable() && !f.Executable()
}

// IsLeaf reports whether flags describe a leaf entry: valid, and at
// least one of read/write/execute set.
func (f Flags) IsLeaf() bool {
	return f.Valid() && (f.Readable() || f.Writable() || f.Executable())
}

// String renders flags the way the reference kernel's diagnostic dump
// does: r/w/x-U-G-A-D-soft bits, or a fixed label for branch/unmapped
// entries.
func (f Flags) String() string {
	if !f.Valid() {
		return "not mapped."
	}
	if f.IsBranch() {
		return "branch"
	}
	bit := func(set bool, c byte) byte {
		if set {
			return c
		}
		return '-'
	}
	b := []byte{
		bit(f.Readable(), 'r'),
		bit(f.Writable(), 'w'),
		bit(f.Executable(), 'x'),
		bit(f.User(), 'U'),
		bit(f.Global(), 'G'),
		bit(f&FlagAccessed != 0, 'A'),
		bit(f&FlagDirty != 0, 'D'),
		bit(f&FlagSoft0 != 0, '0'),
		bit(f&FlagSoft1 != 0, '1'),
	}
	return string(b)
}

// loadEntry atomically reads the raw word at index idx of a table
// frame, using 32-bit or 64-bit atomics per the kind's entry size.
func loadEntry(table []byte, d Descriptor, idx int) uint64 {
	off := idx * d.EntrySize
	if d.EntrySize == 4 {
		return uint64(atomic.LoadUint32((*uint32)(unsafe.Pointer(&table[off]))))
	}
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&table[off])))
}

// casEntry compare-and-swaps the raw word at index idx, returning
// whether the installation was observed to succeed.
func casEntry(table []byte, d Descriptor, idx int, old, new uint64) bool {
	off := idx * d.EntrySize
	if d.EntrySize == 4 {
		return atomic.CompareAndSwapUint32((*uint32)(unsafe.Pointer(&table[off])), uint32(old), uint32(new))
	}
	return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(&table[off])), old, new)
}

// Entry is a read-only view of one page-table entry, used by
// diagnostics and tests; the engine itself operates on raw words via
// loadEntry/casEntry to keep writes atomic.
type Entry struct {
	Raw   uint64
	Flags Flags
	Descriptor
}

// ReadEntry decomposes a raw entry word into its flags and physical
// address under descriptor d.
func ReadEntry(d Descriptor, raw uint64) Entry {
	return Entry{Raw: raw, Flags: Flags(raw & 0x3FF), Descriptor: d}
}

// Address reconstructs the physical frame address this entry names.
// It is meaningless for an unmapped entry.
func (e Entry) Address() uint64 {
	return e.Descriptor.ExtractAddress(e.Raw)
}

func (e Entry) String() string {
	if !e.Flags.Valid() {
		return e.Flags.String()
	}
	return fmt.Sprintf("%s @ %#x", e.Flags, e.Address())
}

// composeEntry builds a raw entry word for a leaf or branch pointing
// at phys (already page-aligned), carrying flags.
func composeEntry(d Descriptor, phys uint64, flags Flags) uint64 {
	return d.ComposeAddress(phys) | uint64(flags)
}

// Package kheap implements the byte-granularity kernel heap: a fixed
// region of page frames subdivided by an inline free-list with
// split-on-alloc and coalesce-on-free.
package kheap

import (
	"encoding/binary"
	"errors"
	"sync"

	"rvos/util"
)

// HeaderSize is the size in bytes of the in-band node header that
// precedes every chunk, free or taken.
const HeaderSize = 16

const takenBit uint64 = 1 << 63

// ErrInsufficientRegion is returned by New when the region cannot hold
// even one header.
var ErrInsufficientRegion = errors.New("kheap: region too small for one node")

// ErrNoSpace is returned by Allocate when no free node is large enough
// to satisfy the request.
var ErrNoSpace = errors.New("kheap: no space")

// ErrAlignmentUnsupported is returned when Allocate is asked for an
// alignment stricter than 8 bytes, or one that is not a power of two;
// stricter requests must go directly to the page allocator, which
// returns page-aligned (4096-aligned) memory.
var ErrAlignmentUnsupported = errors.New("kheap: alignment must be a power of two no stricter than 8 bytes")

// ErrDoubleFree signals deallocation of a pointer whose node is not
// currently taken. Raised as a panic: it indicates heap corruption.
var ErrDoubleFree = errors.New("kheap: double free")

// Heap owns a fixed contiguous region of page frames, exposing
// variably-sized byte allocations over it.
type Heap struct {
	mu sync.Mutex

	head, tail uintptr
	arena      []byte
}

// New creates a Heap over the region [head, head+len(arena)), with the
// entire region starting as a single free node.
func New(head uintptr, arena []byte) (*Heap, error) {
	if len(arena) < HeaderSize {
		return nil, ErrInsufficientRegion
	}
	h := &Heap{head: head, tail: head + uintptr(len(arena)), arena: arena}
	h.writeHeader(0, false, uint64(len(arena)))
	return h, nil
}

func (h *Heap) readHeader(off uintptr) (taken bool, size uint64) {
	raw := binary.LittleEndian.Uint64(h.arena[off : off+8])
	return raw&takenBit != 0, raw &^ takenBit
}

func (h *Heap) writeHeader(off uintptr, taken bool, size uint64) {
	if size&takenBit != 0 {
		panic("kheap: node size overflows the taken bit")
	}
	raw := size
	if taken {
		raw |= takenBit
	}
	binary.LittleEndian.PutUint64(h.arena[off:off+8], raw)
	for i := off + 8; i < off+HeaderSize; i++ {
		h.arena[i] = 0
	}
}

// Allocate returns the address of a zeroed, alignment-byte-aligned
// chunk of at least size bytes. Only 8-byte alignment is supported;
// anything stricter is ErrAlignmentUnsupported. It returns ErrNoSpace,
// leaving the heap unchanged, if no node is large enough.
func (h *Heap) Allocate(size int, alignment int) (uintptr, error) {
	if alignment > 8 || !util.AlignPower(alignment) {
		return 0, ErrAlignmentUnsupported
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	payload := util.Roundup(uint64(size), 8)
	need := payload + HeaderSize

	off := uintptr(0)
	end := uintptr(len(h.arena))
	for off < end {
		taken, sz := h.readHeader(off)
		if sz == 0 {
			panic("kheap: corrupt node of size zero during allocate")
		}
		if !taken && sz >= need {
			remainder := sz - need
			if remainder >= HeaderSize+8 {
				h.writeHeader(off, true, need)
				h.writeHeader(off+uintptr(need), false, remainder)
			} else {
				h.writeHeader(off, true, sz)
			}
			payloadOff := off + HeaderSize
			for i := payloadOff; i < payloadOff+uintptr(payload); i++ {
				h.arena[i] = 0
			}
			return h.head + payloadOff, nil
		}
		off += uintptr(sz)
	}
	return 0, ErrNoSpace
}

// Deallocate walks the nodes to the one whose payload contains ptr,
// marks it free, then runs the coalescer. It panics with ErrDoubleFree
// if that node is not taken, or if ptr lies in a header or outside the
// heap.
func (h *Heap) Deallocate(ptr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ptr < h.head+HeaderSize || ptr >= h.tail {
		panic(ErrDoubleFree)
	}
	target := ptr - h.head
	off := uintptr(0)
	for {
		_, nodeSz := h.readHeader(off)
		if nodeSz == 0 {
			panic("kheap: corrupt node of size zero during deallocate")
		}
		if target < off+uintptr(nodeSz) {
			break
		}
		off += uintptr(nodeSz)
	}
	taken, sz := h.readHeader(off)
	if !taken || target < off+HeaderSize {
		panic(ErrDoubleFree)
	}
	h.writeHeader(off, false, sz)
	h.coalesce()
}

// coalesce performs a single forward pass merging every pair of
// adjacent free nodes. A node with size zero, or whose computed
// successor crosses the tail, is treated as corruption and halts the
// pass rather than retrying.
func (h *Heap) coalesce() {
	off := uintptr(0)
	end := uintptr(len(h.arena))
	for off < end {
		curTaken, curSz := h.readHeader(off)
		if curSz == 0 {
			return
		}
		next := off + uintptr(curSz)
		if next >= end {
			return
		}
		nextTaken, nextSz := h.readHeader(next)
		if !curTaken && !nextTaken {
			// Absorb the successor and re-check from the same node, so a
			// run of free nodes collapses into one.
			h.writeHeader(off, false, curSz+nextSz)
			continue
		}
		off = next
	}
}

// Node describes one node in the free list, for diagnostics and tests.
type Node struct {
	Offset uintptr
	Taken  bool
	Size   uint64
}

// Nodes walks the free list from head to tail and returns a snapshot.
// It panics if it encounters a zero-size node, the same corruption
// condition the coalescer treats as terminal.
func (h *Heap) Nodes() []Node {
	h.mu.Lock()
	defer h.mu.Unlock()

	var nodes []Node
	off := uintptr(0)
	end := uintptr(len(h.arena))
	for off < end {
		taken, sz := h.readHeader(off)
		if sz == 0 {
			panic("kheap: corrupt node of size zero")
		}
		nodes = append(nodes, Node{Offset: off, Taken: taken, Size: sz})
		off += uintptr(sz)
	}
	return nodes
}

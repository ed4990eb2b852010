// Package pagealloc implements the physical page-frame allocator: a
// bitmap-backed, first-fit allocator over a fixed contiguous region of
// memory, with run-length release on deallocation.
package pagealloc

import (
	"errors"
	"sync"
)

// FrameSize is the size in bytes of a single page frame.
const FrameSize = 4096

// Marker bits within a single byte of the bitmap.
const (
	takenBit uint8 = 1 << 0
	lastBit  uint8 = 1 << 1
)

// ErrInsufficientRegion is returned by New when the supplied region is too
// small to hold both its own marker array and at least one allocatable
// frame.
var ErrInsufficientRegion = errors.New("pagealloc: region too small for bitmap and one frame")

// ErrNoSpace is returned by Allocate/ZeroAllocate when no run of n free
// frames exists. The allocator's state is left unchanged.
var ErrNoSpace = errors.New("pagealloc: no space")

// ErrDoubleFree signals an attempt to deallocate a frame that is not
// currently the base of a live allocation. It is raised as a panic value
// because it indicates memory corruption, not a transient failure.
var ErrDoubleFree = errors.New("pagealloc: double free")

// Allocator owns a contiguous physical region, carving it into
// fixed-size frames tracked by an inline one-byte-per-frame bitmap
// stored in the low portion of the same region.
type Allocator struct {
	mu sync.Mutex

	head, tail uintptr
	arena      []byte // backing bytes for the entire [head, tail) region
	firstPage  uintptr
	count      int // number of allocatable frames
}

// New creates an Allocator over the region [head, head+len(arena)).
// arena must back the whole region: its low bytes serve as the marker
// array, and the remainder backs the frames themselves. It fails with
// ErrInsufficientRegion if the region cannot hold a marker array plus
// at least one aligned frame.
func New(head uintptr, arena []byte) (*Allocator, error) {
	if len(arena) == 0 {
		return nil, ErrInsufficientRegion
	}
	tail := head + uintptr(len(arena))
	count := uintptr(len(arena)) / FrameSize
	for iter := 0; iter < 64 && count > 0; iter++ {
		firstPage := roundup(head+count, FrameSize)
		if firstPage >= tail {
			count--
			continue
		}
		usable := (tail - firstPage) / FrameSize
		if usable == count {
			a := &Allocator{head: head, tail: tail, arena: arena, firstPage: firstPage, count: int(usable)}
			a.clear()
			return a, nil
		}
		count = usable
	}
	return nil, ErrInsufficientRegion
}

func roundup(v, b uintptr) uintptr {
	return (v + b - 1) / b * b
}

func (a *Allocator) markers() []byte {
	return a.arena[:a.count]
}

func (a *Allocator) clear() {
	m := a.markers()
	for i := range m {
		m[i] = 0
	}
}

// Info reports the allocator's region boundaries and the first
// allocatable address, for diagnostics.
type Info struct {
	Head, Tail uintptr
	FirstPage  uintptr
	FrameCount int
}

// Info returns the allocator's current boundaries.
func (a *Allocator) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{Head: a.head, Tail: a.tail, FirstPage: a.firstPage, FrameCount: a.count}
}

// Allocate returns the address of the first run of n consecutive free
// frames, marking each taken and the last one last. It does not zero
// the returned memory. It returns ErrNoSpace, leaving the allocator
// unchanged, if no such run exists.
func (a *Allocator) Allocate(n int) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked(n)
}

func (a *Allocator) allocateLocked(n int) (uintptr, error) {
	if n <= 0 || n > a.count {
		return 0, ErrNoSpace
	}
	m := a.markers()
	for i := 0; i+n <= len(m); i++ {
		free := true
		for j := i; j < i+n; j++ {
			if m[j]&takenBit != 0 {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for j := i; j < i+n; j++ {
			m[j] |= takenBit
		}
		m[i+n-1] |= lastBit
		return a.firstPage + uintptr(i)*FrameSize, nil
	}
	return 0, ErrNoSpace
}

// ZeroAllocate behaves like Allocate but additionally zeroes every byte
// of the returned frames.
func (a *Allocator) ZeroAllocate(n int) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, err := a.allocateLocked(n)
	if err != nil {
		return 0, err
	}
	off := addr - a.head
	region := a.arena[off : off+uintptr(n)*FrameSize]
	for i := range region {
		region[i] = 0
	}
	return addr, nil
}

// Deallocate walks markers from addr's frame forward, clearing each
// until and including the one with last set. It panics with
// ErrDoubleFree if addr is not the base of a live allocation — that
// condition signals corruption, not a recoverable failure.
func (a *Allocator) Deallocate(addr uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr < a.firstPage || (addr-a.firstPage)%FrameSize != 0 {
		panic(ErrDoubleFree)
	}
	idx := int((addr - a.firstPage) / FrameSize)
	m := a.markers()
	if idx >= len(m) || m[idx]&takenBit == 0 {
		panic(ErrDoubleFree)
	}
	// A taken predecessor without last set belongs to the same run, so
	// idx is not that run's base.
	if idx > 0 && m[idx-1]&takenBit != 0 && m[idx-1]&lastBit == 0 {
		panic(ErrDoubleFree)
	}
	for {
		last := m[idx]&lastBit != 0
		m[idx] = 0
		if last {
			return
		}
		idx++
		if idx >= len(m) {
			panic("pagealloc: allocation run missing its last marker")
		}
	}
}

// FrameBytes returns the backing bytes for the frame at addr, primarily
// for tests that want to inspect allocator output directly.
func (a *Allocator) FrameBytes(addr uintptr) []byte {
	off := addr - a.head
	return a.arena[off : off+FrameSize]
}

// Region returns the backing bytes for n contiguous frames starting at
// addr, for callers (such as kheap) that need a single byte slice
// spanning a multi-frame allocation rather than one frame at a time.
func (a *Allocator) Region(addr uintptr, n int) []byte {
	off := addr - a.head
	return a.arena[off : off+uintptr(n)*FrameSize]
}

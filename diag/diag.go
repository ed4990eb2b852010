// Package diag holds this kernel's ambient diagnostics: a formatted
// dump of the kernel memory map (mirroring the source's
// print_title!/Debug-impl texture; the layout dump is layout.Dump),
// and an allocation profiler that records one pprof sample per
// recorded pagealloc/kheap allocation, grouped by call site, so
// allocation behavior can be inspected offline with standard pprof
// tooling.
package diag

import (
	"io"
	"sync"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"rvos/kspace"
)

// DumpKernelMap writes a column-aligned listing of every installed
// region, the Go rendering of global_pages.rs's
// `impl Debug for KernelMemoryMap` (print_title! + one println! per
// row), with byte counts grouped the way layout.Dump formats them.
func DumpKernelMap(w io.Writer, m kspace.Map) {
	p := message.NewPrinter(language.English)
	p.Fprintln(w, "Kernel Space Identity Map")
	for _, r := range m.Regions() {
		p.Fprintf(w, "%s: %#x-%#x (%d bytes) %s\n", r.Label, r.Start, r.End, r.End-r.Start, r.Flags)
	}
}

// Profiler accumulates one pprof sample per recorded allocation (frame
// count and byte count), with one location per call site. This is the portable,
// offline-analyzable counterpart to the teacher's accounting fields
// (biscuit's Physmem_t.Pgcount) -- a debug build can flush it over the
// UART contract, and tests flush it to a buffer and parse it back with
// the same github.com/google/pprof/profile package.
type Profiler struct {
	mu        sync.Mutex
	prof      *profile.Profile
	locations map[string]*profile.Location
	nextID    uint64
}

// NewProfiler returns an empty profiler with frames/bytes sample
// types.
func NewProfiler() *Profiler {
	return &Profiler{
		locations: make(map[string]*profile.Location),
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "frames", Unit: "count"},
				{Type: "bytes", Unit: "bytes"},
			},
			PeriodType: &profile.ValueType{Type: "allocations", Unit: "count"},
			Period:     1,
		},
	}
}

func (p *Profiler) locationFor(site string) *profile.Location {
	if loc, ok := p.locations[site]; ok {
		return loc
	}
	p.nextID++
	fn := &profile.Function{ID: p.nextID, Name: site, SystemName: site}
	p.prof.Function = append(p.prof.Function, fn)
	p.nextID++
	loc := &profile.Location{ID: p.nextID, Line: []profile.Line{{Function: fn, Line: 1}}}
	p.prof.Location = append(p.prof.Location, loc)
	p.locations[site] = loc
	return loc
}

// Record adds one sample for an allocation made at call site site:
// frames is the frame count for a pagealloc call, bytes the chunk
// size for a kheap call (whichever does not apply is zero).
func (p *Profiler) Record(site string, frames, bytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	loc := p.locationFor(site)
	p.prof.Sample = append(p.prof.Sample, &profile.Sample{
		Location: []*profile.Location{loc},
		Value:    []int64{int64(frames), int64(bytes)},
	})
}

// WriteTo serializes the accumulated profile in pprof's standard
// gzip-compressed protobuf format.
func (p *Profiler) WriteTo(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prof.Write(w)
}

// ParseProfile reads back a profile written by (*Profiler).WriteTo.
// Tests use it to assert on recorded samples without reaching into
// Profiler's internals.
func ParseProfile(r io.Reader) (*profile.Profile, error) {
	return profile.Parse(r)
}

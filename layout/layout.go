// Package layout materializes the absolute addresses the linker script
// provides for each kernel section into a single value the rest of the
// kernel consumes by reference, instead of reaching for extern symbols
// throughout the codebase.
package layout

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Symbols names every linker-provided address this kernel depends on.
// A real boot stub resolves these from `extern` section markers emitted
// by the linker script; tests construct a Symbols value directly.
type Symbols struct {
	TextStart     uintptr
	TrapStart     uintptr
	TextEnd       uintptr
	GlobalPointer uintptr
	RodataStart   uintptr
	RodataEnd     uintptr
	DataStart     uintptr
	DataEnd       uintptr
	BssStart      uintptr
	BssEnd        uintptr
	MemoryStart   uintptr
	StackStart    uintptr
	StackEnd      uintptr
	HeapStart     uintptr
	HeapSize      uintptr
	MemoryEnd     uintptr
	TrapVector    uintptr
}

// Layout is the immutable, process-wide record built once from Symbols.
// Its zero value is never valid; construct with New.
type Layout struct {
	s Symbols
}

// New validates that the region start addresses (text, rodata, data,
// bss, stack, heap) followed by the memory end are monotonically
// non-decreasing in link order and returns the immutable Layout. Region
// end addresses are not checked.
func New(s Symbols) (Layout, error) {
	order := []uintptr{
		s.TextStart, s.RodataStart, s.DataStart, s.BssStart,
		s.StackStart, s.HeapStart, s.MemoryEnd,
	}
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			return Layout{}, fmt.Errorf("layout: region %d starts before region %d (%#x < %#x)", i, i-1, order[i], order[i-1])
		}
	}
	return Layout{s: s}, nil
}

func (l Layout) TextStart() uintptr     { return l.s.TextStart }
func (l Layout) TrapStart() uintptr     { return l.s.TrapStart }
func (l Layout) TextEnd() uintptr       { return l.s.TextEnd }
func (l Layout) GlobalPointer() uintptr { return l.s.GlobalPointer }
func (l Layout) RodataStart() uintptr   { return l.s.RodataStart }
func (l Layout) RodataEnd() uintptr     { return l.s.RodataEnd }
func (l Layout) DataStart() uintptr     { return l.s.DataStart }
func (l Layout) DataEnd() uintptr       { return l.s.DataEnd }
func (l Layout) BssStart() uintptr      { return l.s.BssStart }
func (l Layout) BssEnd() uintptr        { return l.s.BssEnd }
func (l Layout) MemoryStart() uintptr   { return l.s.MemoryStart }
func (l Layout) StackStart() uintptr    { return l.s.StackStart }
func (l Layout) StackEnd() uintptr      { return l.s.StackEnd }
func (l Layout) HeapStart() uintptr     { return l.s.HeapStart }
func (l Layout) HeapSize() uintptr      { return l.s.HeapSize }
func (l Layout) HeapEnd() uintptr       { return l.s.HeapStart + l.s.HeapSize }
func (l Layout) MemoryEnd() uintptr     { return l.s.MemoryEnd }
func (l Layout) TrapVector() uintptr    { return l.s.TrapVector }

// Dump writes a column-aligned sanity check of every region, grouping
// byte counts the way a human reads them (4,096 rather than 4096).
func Dump(w io.Writer, l Layout) {
	p := message.NewPrinter(language.English)
	p.Fprintln(w, "Static Layout Sanity Check")
	p.Fprintf(w, "text:\t%#x - %#x\t%d-bytes\n", l.TextStart(), l.TextEnd(), l.TextEnd()-l.TextStart())
	p.Fprintf(w, " trap:\t%#x - %#x??\n", l.TrapStart(), l.TextEnd())
	p.Fprintf(w, "global:\t%#x\n", l.GlobalPointer())
	p.Fprintf(w, "rodata:\t%#x - %#x\t%d-bytes\n", l.RodataStart(), l.RodataEnd(), l.RodataEnd()-l.RodataStart())
	p.Fprintf(w, "data:\t%#x - %#x\t%d-bytes\n", l.DataStart(), l.DataEnd(), l.DataEnd()-l.DataStart())
	p.Fprintf(w, "bss:\t%#x - %#x\t%d-bytes\n", l.BssStart(), l.BssEnd(), l.BssEnd()-l.BssStart())
	p.Fprintf(w, " stack:\t%#x - %#x\t%d-bytes\n", l.StackStart(), l.StackEnd(), l.StackEnd()-l.StackStart())
	p.Fprintf(w, " heap:\t%#x - %#x\t%d-bytes\n", l.HeapStart(), l.HeapEnd(), l.HeapSize())
}

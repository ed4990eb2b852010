package pgtbl

// Sv39 describes the three-level, 8-byte-entry page table format used
// by the reference target (QEMU virt in 64-bit mode).
var Sv39 = Descriptor{
	Name:      "Sv39",
	Levels:    3,
	EntrySize: 8,
	VirtualSegments: []BitGroup{
		{Width: 9, Offset: 12},
		{Width: 9, Offset: 21},
		{Width: 9, Offset: 30},
	},
	PageSegments: []BitGroup{
		{Width: 9, Offset: 10},
		{Width: 9, Offset: 19},
		{Width: 26, Offset: 28},
	},
	PhysicalSegments: []BitGroup{
		{Width: 9, Offset: 12},
		{Width: 9, Offset: 21},
		{Width: 26, Offset: 30},
	},
}

package pgtbl

// Sv48 describes the four-level, 8-byte-entry page table format, the
// extension of Sv39 with one additional top level.
var Sv48 = Descriptor{
	Name:      "Sv48",
	Levels:    4,
	EntrySize: 8,
	VirtualSegments: []BitGroup{
		{Width: 9, Offset: 12},
		{Width: 9, Offset: 21},
		{Width: 9, Offset: 30},
		{Width: 9, Offset: 39},
	},
	PageSegments: []BitGroup{
		{Width: 9, Offset: 10},
		{Width: 9, Offset: 19},
		{Width: 9, Offset: 28},
		{Width: 17, Offset: 37},
	},
	PhysicalSegments: []BitGroup{
		{Width: 9, Offset: 12},
		{Width: 9, Offset: 21},
		{Width: 9, Offset: 30},
		{Width: 17, Offset: 39},
	},
}

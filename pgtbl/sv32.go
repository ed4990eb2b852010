package pgtbl

// Sv32 describes the two-level, 4-byte-entry page table format used by
// 32-bit RISC-V targets. The reference target is 64-bit and boots
// Sv39, so this kind exists for completeness and is exercised only by
// tests.
var Sv32 = Descriptor{
	Name:      "Sv32",
	Levels:    2,
	EntrySize: 4,
	VirtualSegments: []BitGroup{
		{Width: 10, Offset: 12},
		{Width: 10, Offset: 22},
	},
	PageSegments: []BitGroup{
		{Width: 10, Offset: 10},
		{Width: 12, Offset: 20},
	},
	PhysicalSegments: []BitGroup{
		{Width: 10, Offset: 12},
		{Width: 12, Offset: 22},
	},
}

package vmm

import (
	"encoding/binary"

	"gokos/kernel"
	"gokos/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to look up a virtual memory
	// page that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual page does not point to a mapped physical frame"}

	// ErrAlreadyMapped is returned when trying to install a leaf entry for a
	// virtual page that already has one.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry.
type PageTableEntryFlag uint64

const (
	// FlagValid marks an entry as installed. Entries without it are treated
	// as holes by the table walker.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead allows loads through this entry.
	FlagRead

	// FlagWrite allows stores through this entry.
	FlagWrite

	// FlagExec allows instruction fetches through this entry.
	FlagExec

	// FlagUser allows user-mode accesses through this entry.
	FlagUser
)

// ptePhysPageShift is the bit offset where an entry stores its target
// physical page number.
const ptePhysPageShift = 10

// PageTableEntry describes a single page table entry. Entries encode a
// physical frame number and a set of permission flags.
type PageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags
// set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags on the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = PageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = PageTableEntry(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame(uint64(pte) >> ptePhysPageShift)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = PageTableEntry(uint64(*pte)&((1<<ptePhysPageShift)-1) | uint64(frame)<<ptePhysPageShift)
}

// entrySlot returns the byte region inside tableFrame that stores the entry
// with the given index.
func entrySlot(tableFrame mm.Frame, index int) []byte {
	return mm.PhysBytes(tableFrame)[index*mm.EntrySize : (index+1)*mm.EntrySize]
}

// loadEntry decodes the page table entry with the given index from the table
// node stored in tableFrame.
func loadEntry(tableFrame mm.Frame, index int) PageTableEntry {
	return PageTableEntry(binary.LittleEndian.Uint64(entrySlot(tableFrame, index)))
}

// storeEntry encodes the supplied entry into the table node stored in
// tableFrame.
func storeEntry(tableFrame mm.Frame, index int, pte PageTableEntry) {
	binary.LittleEndian.PutUint64(entrySlot(tableFrame, index), uint64(pte))
}

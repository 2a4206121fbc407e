// Package vmm implements the per-address-space virtual memory manager: a
// multi-level page table stored inside physical frames, the map areas that
// group contiguous mappings, and the memory set that describes one process's
// complete address space.
package vmm

import (
	"gokos/kernel"
	"gokos/kernel/mm"
)

// PageTable is a 3-level radix structure that translates virtual page
// numbers to physical page numbers. Table nodes live inside physical frames
// obtained from the frame allocator; the zero entry pattern marks a hole.
type PageTable struct {
	root mm.Frame

	// nodeFrames tracks the frames that back the root and intermediate
	// table nodes so they can be returned to the allocator on Release.
	// A table reconstructed from a token is a borrowed view and owns no
	// frames.
	nodeFrames []mm.Frame
}

// NewPageTable allocates the root node for an empty page table.
func NewPageTable() (*PageTable, *kernel.Error) {
	root, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	return &PageTable{root: root, nodeFrames: []mm.Frame{root}}, nil
}

// NewFromToken reconstructs a read/write view onto another address space's
// page table given its token. The view shares the underlying table nodes but
// owns none of them; it is what lets the kernel translate a pointer that a
// syscall argument expresses in a different task's address space.
func NewFromToken(token uintptr) *PageTable {
	return &PageTable{root: mm.Frame(token)}
}

// Token returns the value that identifies this address space to the rest of
// the system: the physical page number of the table root.
func (pt *PageTable) Token() uintptr {
	return uintptr(pt.root)
}

// pageTableWalker is a function invoked by walk with the table node frame
// and entry index that correspond to each level of the translation for a
// page. Returning false aborts the walk.
type pageTableWalker func(level int, tableFrame mm.Frame, entryIndex int) bool

// walk visits the page table entries that take part in translating page,
// one per level, allocating missing intermediate nodes on demand when
// allocate is set. Without allocate the walk stops silently at the first
// hole.
func (pt *PageTable) walk(page mm.Page, allocate bool, walkFn pageTableWalker) *kernel.Error {
	tableFrame := pt.root
	for level := 0; level < mm.PageLevels; level++ {
		entryIndex := page.TableIndex(level)
		if !walkFn(level, tableFrame, entryIndex) {
			return nil
		}

		if level == mm.PageLevels-1 {
			return nil
		}

		entry := loadEntry(tableFrame, entryIndex)
		if !entry.HasFlags(FlagValid) {
			if !allocate {
				return nil
			}

			nodeFrame, err := mm.AllocFrame()
			if err != nil {
				return err
			}
			pt.nodeFrames = append(pt.nodeFrames, nodeFrame)

			entry = 0
			entry.SetFrame(nodeFrame)
			entry.SetFlags(FlagValid)
			storeEntry(tableFrame, entryIndex, entry)
		}

		tableFrame = entry.Frame()
	}

	return nil
}

// Map installs a leaf entry that translates page to frame with the supplied
// permission flags, allocating any missing intermediate table nodes. It
// returns ErrAlreadyMapped without touching the table if a leaf entry is
// already installed for page.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var mapErr *kernel.Error

	walkErr := pt.walk(page, true, func(level int, tableFrame mm.Frame, entryIndex int) bool {
		if level != mm.PageLevels-1 {
			return true
		}

		if loadEntry(tableFrame, entryIndex).HasFlags(FlagValid) {
			mapErr = ErrAlreadyMapped
			return false
		}

		var entry PageTableEntry
		entry.SetFrame(frame)
		entry.SetFlags(flags | FlagValid)
		storeEntry(tableFrame, entryIndex, entry)
		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return mapErr
}

// Unmap clears the leaf entry for page. It returns ErrInvalidMapping if no
// leaf entry is installed. Intermediate table nodes are not reclaimed until
// the whole table is released.
func (pt *PageTable) Unmap(page mm.Page) *kernel.Error {
	err := ErrInvalidMapping

	pt.walk(page, false, func(level int, tableFrame mm.Frame, entryIndex int) bool {
		if level != mm.PageLevels-1 {
			return true
		}

		if !loadEntry(tableFrame, entryIndex).HasFlags(FlagValid) {
			return false
		}

		storeEntry(tableFrame, entryIndex, 0)
		err = nil
		return true
	})

	return err
}

// Translate performs a read-only walk for page and returns the installed
// leaf entry, or ErrInvalidMapping if any level of the translation is
// missing.
func (pt *PageTable) Translate(page mm.Page) (PageTableEntry, *kernel.Error) {
	var (
		entry PageTableEntry
		found bool
	)

	pt.walk(page, false, func(level int, tableFrame mm.Frame, entryIndex int) bool {
		pte := loadEntry(tableFrame, entryIndex)
		if !pte.HasFlags(FlagValid) {
			return false
		}

		if level == mm.PageLevels-1 {
			entry = pte
			found = true
		}
		return true
	})

	if !found {
		return 0, ErrInvalidMapping
	}
	return entry, nil
}

// TranslateAddr resolves a virtual address to the physical address it maps
// to: the target physical page number shifted into place with the page
// offset appended.
func (pt *PageTable) TranslateAddr(virtAddr uintptr) (uintptr, *kernel.Error) {
	entry, err := pt.Translate(mm.PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	return entry.Frame().Address() | mm.PageOffset(virtAddr), nil
}

// Release returns the root and intermediate table node frames to the
// allocator. Leaf mappings must already have been torn down by the owning
// memory set; a borrowed view releases nothing.
func (pt *PageTable) Release() {
	for _, frame := range pt.nodeFrames {
		mm.FreeFrame(frame)
	}
	pt.nodeFrames = nil
}

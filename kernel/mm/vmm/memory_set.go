package vmm

import (
	"gokos/kernel"
	"gokos/kernel/loader"
	"gokos/kernel/mm"
)

var (
	// ErrAreaOverlap is returned when inserting a region that intersects an
	// already mapped region of the same memory set.
	ErrAreaOverlap = &kernel.Error{Module: "vmm", Message: "region overlaps an existing map area"}

	// ErrNoMatchingArea is returned when unmapping a range that contains a
	// page no removable map area covers.
	ErrNoMatchingArea = &kernel.Error{Module: "vmm", Message: "no map area covers the requested page"}

	// ErrBadHeapBound is returned when a heap adjustment would move the
	// break below the heap bottom.
	ErrBadHeapBound = &kernel.Error{Module: "vmm", Message: "heap bound below heap bottom"}
)

// MemorySet describes one process's address space: a page table plus the
// ordered collection of map areas installed into it. User spaces addition-
// ally track the heap bounds for the sbrk path.
type MemorySet struct {
	pageTable *PageTable
	areas     []*MapArea

	// heapArea and stackArea point into areas for user spaces; they are
	// excluded from ad-hoc unmapping.
	heapArea  *MapArea
	stackArea *MapArea

	heapBottom uintptr
	brk        uintptr
}

// NewBareSet creates an empty memory set with a fresh page table.
func NewBareSet() (*MemorySet, *kernel.Error) {
	pt, err := NewPageTable()
	if err != nil {
		return nil, err
	}
	return &MemorySet{pageTable: pt}, nil
}

// NewKernelSpace creates the kernel address space: an identity mapping of
// the whole physical frame pool. It is built once at bring-up; per-task
// kernel stacks are inserted into it as framed areas afterwards.
func NewKernelSpace(totalFrames int) (*MemorySet, *kernel.Error) {
	set, err := NewBareSet()
	if err != nil {
		return nil, err
	}

	area := newMapArea(0, mm.Page(totalFrames), MapKindIdentity, FlagRead|FlagWrite)
	if err := area.mapRange(set.pageTable); err != nil {
		set.Release()
		return nil, err
	}
	set.areas = append(set.areas, area)

	return set, nil
}

// NewUserSpace builds a fresh address space from a program image: one framed
// area per segment with the segment's permissions, the user stack directly
// below the trap context page (with an unmapped guard page beneath it), an
// initially empty heap area past the loaded segments, and the kernel-only
// trap context page itself. It returns the new set together with the image
// entry point and the initial user stack pointer.
func NewUserSpace(img *loader.Image) (*MemorySet, uintptr, uintptr, *kernel.Error) {
	set, err := NewBareSet()
	if err != nil {
		return nil, 0, 0, err
	}

	var maxEndPage mm.Page
	for _, seg := range img.Segments {
		start := mm.PageFromAddress(seg.VirtAddr)
		end := mm.PageFromAddressRoundUp(seg.VirtAddr + uintptr(seg.MemSize))

		perms := FlagUser | segFlagsToPerms(seg.Flags)
		if err := set.insertArea(newMapArea(start, end, MapKindFramed, perms)); err != nil {
			set.Release()
			return nil, 0, 0, err
		}

		if err := set.writeData(seg.VirtAddr, seg.Data); err != nil {
			set.Release()
			return nil, 0, 0, err
		}

		if end > maxEndPage {
			maxEndPage = end
		}
	}

	// Heap bottom sits one guard page above the loaded segments.
	heapStart := maxEndPage + 1
	heap := newMapArea(heapStart, heapStart, MapKindFramed, FlagUser|FlagRead|FlagWrite)
	set.areas = append(set.areas, heap)
	set.heapArea = heap
	set.heapBottom = heapStart.Address()
	set.brk = set.heapBottom

	stack := newMapArea(mm.UserStackTopPage-mm.UserStackPages, mm.UserStackTopPage, MapKindFramed, FlagUser|FlagRead|FlagWrite)
	if err := set.insertArea(stack); err != nil {
		set.Release()
		return nil, 0, 0, err
	}
	set.stackArea = stack

	trap := newMapArea(mm.TrapContextPage, mm.TrapContextPage+1, MapKindFramed, FlagRead|FlagWrite)
	if err := set.insertArea(trap); err != nil {
		set.Release()
		return nil, 0, 0, err
	}

	return set, img.Entry, mm.UserStackTopPage.Address(), nil
}

// NewFromExisting deep-copies an address space: every area is recreated and
// every framed page is physically duplicated. Fork relies on this; there is
// no copy-on-write.
func NewFromExisting(src *MemorySet) (*MemorySet, *kernel.Error) {
	set, err := NewBareSet()
	if err != nil {
		return nil, err
	}

	for _, area := range src.areas {
		clone, err := area.cloneInto(set.pageTable)
		if err != nil {
			set.Release()
			return nil, err
		}
		set.areas = append(set.areas, clone)

		if area == src.heapArea {
			set.heapArea = clone
		}
		if area == src.stackArea {
			set.stackArea = clone
		}
	}

	set.heapBottom = src.heapBottom
	set.brk = src.brk

	return set, nil
}

// segFlagsToPerms converts image segment flags to page table permissions.
func segFlagsToPerms(flags loader.SegFlag) PageTableEntryFlag {
	var perms PageTableEntryFlag
	if flags&loader.SegRead != 0 {
		perms |= FlagRead
	}
	if flags&loader.SegWrite != 0 {
		perms |= FlagWrite
	}
	if flags&loader.SegExec != 0 {
		perms |= FlagExec
	}
	return perms
}

// Token returns the address space token of the underlying page table.
func (set *MemorySet) Token() uintptr { return set.pageTable.Token() }

// PageTable exposes the memory set's page table.
func (set *MemorySet) PageTable() *PageTable { return set.pageTable }

// Translate performs a read-only lookup of page in the set's page table.
func (set *MemorySet) Translate(page mm.Page) (PageTableEntry, *kernel.Error) {
	return set.pageTable.Translate(page)
}

// HeapBounds returns the heap bottom and the current program break.
func (set *MemorySet) HeapBounds() (bottom, brk uintptr) {
	return set.heapBottom, set.brk
}

// areaContaining returns the area covering page, if any.
func (set *MemorySet) areaContaining(page mm.Page) *MapArea {
	for _, area := range set.areas {
		if area.contains(page) {
			return area
		}
	}
	return nil
}

// insertArea validates that the area is disjoint from every existing area
// and maps it. Overlap is rejected before any mapping is installed so a
// failed insert leaves the set untouched.
func (set *MemorySet) insertArea(area *MapArea) *kernel.Error {
	for _, existing := range set.areas {
		if existing.overlaps(area.start, area.end) {
			return ErrAreaOverlap
		}
	}

	if err := area.mapRange(set.pageTable); err != nil {
		return err
	}
	set.areas = append(set.areas, area)
	return nil
}

// InsertFramedArea rounds [startVA, endVA) to page boundaries, allocates one
// frame per covered page and installs the mappings with the supplied
// permission bits as a new map area.
func (set *MemorySet) InsertFramedArea(startVA, endVA uintptr, perms PageTableEntryFlag) *kernel.Error {
	start := mm.PageFromAddress(startVA)
	end := mm.PageFromAddressRoundUp(endVA)
	return set.insertArea(newMapArea(start, end, MapKindFramed, perms))
}

// RemoveAreaMatching locates the map area whose range begins at page and
// tears it down. It returns ErrNoMatchingArea if no area starts there.
func (set *MemorySet) RemoveAreaMatching(page mm.Page) *kernel.Error {
	for i, area := range set.areas {
		if area.start != page {
			continue
		}

		area.unmapAll(set.pageTable)
		set.areas = append(set.areas[:i], set.areas[i+1:]...)
		return nil
	}
	return ErrNoMatchingArea
}

// UnmapRange tears down every page in [startVA, startVA+length). The whole
// range is validated before any page is touched: each covered page must
// belong to a framed area inserted ad hoc (the heap, stack and trap context
// areas are not removable this way), otherwise ErrNoMatchingArea is
// returned and nothing is unmapped. Areas partially covered by the range
// are trimmed or split.
func (set *MemorySet) UnmapRange(startVA, length uintptr) *kernel.Error {
	start := mm.PageFromAddress(startVA)
	end := mm.PageFromAddressRoundUp(startVA + length)

	for page := start; page < end; page++ {
		area := set.areaContaining(page)
		if area == nil || area.kind != MapKindFramed || area == set.heapArea || area == set.stackArea {
			return ErrNoMatchingArea
		}
		if area.start == mm.TrapContextPage {
			return ErrNoMatchingArea
		}
	}

	var kept []*MapArea
	for _, area := range set.areas {
		if area.kind != MapKindFramed || !area.overlaps(start, end) {
			kept = append(kept, area)
			continue
		}

		lo, hi := area.start, area.end
		if start > lo {
			lo = start
		}
		if end < hi {
			hi = end
		}
		for page := lo; page < hi; page++ {
			area.unmapOne(set.pageTable, page)
		}

		switch {
		case lo == area.start && hi == area.end:
			// area fully unmapped; drop it
		case lo == area.start:
			area.start = hi
			kept = append(kept, area)
		case hi == area.end:
			area.end = lo
			kept = append(kept, area)
		default:
			tail := newMapArea(hi, area.end, area.kind, area.perms)
			for page := hi; page < area.end; page++ {
				tail.frames[page] = area.frames[page]
				delete(area.frames, page)
			}
			area.end = lo
			kept = append(kept, area, tail)
		}
	}
	set.areas = kept

	return nil
}

// ChangeBrk grows or shrinks the heap by delta bytes, mapping or unmapping
// whole pages as the break crosses page boundaries. It returns the previous
// break, ErrBadHeapBound if the new break would fall below the heap bottom,
// or ErrAreaOverlap if a grow would run into another mapping. A failed call
// leaves the heap and the page table unchanged.
func (set *MemorySet) ChangeBrk(delta int64) (uintptr, *kernel.Error) {
	oldBrk := set.brk
	newBrk := int64(oldBrk) + delta
	if newBrk < int64(set.heapBottom) {
		return 0, ErrBadHeapBound
	}

	newEnd := mm.PageFromAddressRoundUp(uintptr(newBrk))
	switch {
	case newEnd > set.heapArea.end:
		for _, existing := range set.areas {
			if existing != set.heapArea && existing.overlaps(set.heapArea.end, newEnd) {
				return 0, ErrAreaOverlap
			}
		}
		if err := set.heapArea.appendTo(set.pageTable, newEnd); err != nil {
			return 0, err
		}
	case newEnd < set.heapArea.end:
		set.heapArea.shrinkTo(set.pageTable, newEnd)
	}

	set.brk = uintptr(newBrk)
	return oldBrk, nil
}

// RecycleDataPages unmaps every framed area and returns its frames to the
// allocator, leaving identity areas and the page table root intact. Called
// on exit; the table itself survives until the owning task is dropped.
func (set *MemorySet) RecycleDataPages() {
	var kept []*MapArea
	for _, area := range set.areas {
		if area.kind != MapKindFramed {
			kept = append(kept, area)
			continue
		}
		area.unmapAll(set.pageTable)
	}
	set.areas = kept
	set.heapArea = nil
	set.stackArea = nil
}

// Release tears down the whole memory set including identity areas and the
// page table node frames. The set must not be used afterwards.
func (set *MemorySet) Release() {
	for _, area := range set.areas {
		area.unmapAll(set.pageTable)
	}
	set.areas = nil
	set.heapArea = nil
	set.stackArea = nil
	set.pageTable.Release()
}

// writeData copies data into the address space starting at virtAddr using
// the set's own page table. It is used to load segment contents into freshly
// mapped areas.
func (set *MemorySet) writeData(virtAddr uintptr, data []byte) *kernel.Error {
	for len(data) > 0 {
		entry, err := set.pageTable.Translate(mm.PageFromAddress(virtAddr))
		if err != nil {
			return err
		}

		offset := mm.PageOffset(virtAddr)
		chunk := mm.PageSize - int(offset)
		if chunk > len(data) {
			chunk = len(data)
		}

		copy(mm.PhysBytes(entry.Frame())[offset:], data[:chunk])
		virtAddr += uintptr(chunk)
		data = data[chunk:]
	}
	return nil
}

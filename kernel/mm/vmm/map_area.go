package vmm

import (
	"gokos/kernel"
	"gokos/kernel/mm"
)

// MapKind describes how a map area backs its virtual pages.
type MapKind uint8

const (
	// MapKindIdentity maps each virtual page to the equally numbered
	// physical frame without owning it. Used for the kernel regions that
	// are installed once at memory set construction.
	MapKindIdentity MapKind = iota

	// MapKindFramed backs each virtual page with an exclusively owned frame
	// from the physical allocator.
	MapKindFramed
)

// MapArea describes one contiguous virtual region of an address space: a
// page range [start, end), a mapping kind, a permission set and, for framed
// areas, the frames that back each page.
type MapArea struct {
	start, end mm.Page
	kind       MapKind
	perms      PageTableEntryFlag
	frames     map[mm.Page]mm.Frame
}

// newMapArea creates an unmapped area covering [start, end).
func newMapArea(start, end mm.Page, kind MapKind, perms PageTableEntryFlag) *MapArea {
	area := &MapArea{start: start, end: end, kind: kind, perms: perms}
	if kind == MapKindFramed {
		area.frames = make(map[mm.Page]mm.Frame)
	}
	return area
}

// Start returns the first page of the area.
func (area *MapArea) Start() mm.Page { return area.start }

// End returns the page just past the area.
func (area *MapArea) End() mm.Page { return area.end }

// contains reports whether the area covers page.
func (area *MapArea) contains(page mm.Page) bool {
	return page >= area.start && page < area.end
}

// overlaps reports whether the area intersects [start, end).
func (area *MapArea) overlaps(start, end mm.Page) bool {
	return start < area.end && area.start < end
}

// mapOne installs the mapping for a single page of the area, allocating a
// backing frame for framed areas. On failure the page is left exactly as it
// was: a frame allocated for it goes back to the allocator.
func (area *MapArea) mapOne(pt *PageTable, page mm.Page) *kernel.Error {
	frame := mm.Frame(page)
	if area.kind == MapKindFramed {
		var err *kernel.Error
		if frame, err = mm.AllocFrame(); err != nil {
			return err
		}
		area.frames[page] = frame
	}

	if err := pt.Map(page, frame, area.perms); err != nil {
		if area.kind == MapKindFramed {
			mm.FreeFrame(frame)
			delete(area.frames, page)
		}
		return err
	}
	return nil
}

// unmapOne tears down the mapping for a single page of the area and returns
// its backing frame to the allocator. The page must be mapped; a missing
// leaf here means the area bookkeeping and the table disagree, which is a
// kernel bug.
func (area *MapArea) unmapOne(pt *PageTable, page mm.Page) {
	if err := pt.Unmap(page); err != nil {
		kernel.Panic(&kernel.Error{Module: "vmm", Message: "map area page has no leaf entry"})
	}

	if area.kind == MapKindFramed {
		mm.FreeFrame(area.frames[page])
		delete(area.frames, page)
	}
}

// mapPages installs mappings for every page in [from, to). A failure
// partway unwinds the pages mapped so far, so the call either maps the
// whole range or leaves the table untouched.
func (area *MapArea) mapPages(pt *PageTable, from, to mm.Page) *kernel.Error {
	for page := from; page < to; page++ {
		if err := area.mapOne(pt, page); err != nil {
			for mapped := from; mapped < page; mapped++ {
				area.unmapOne(pt, mapped)
			}
			return err
		}
	}
	return nil
}

// mapRange installs mappings for every page of the area.
func (area *MapArea) mapRange(pt *PageTable) *kernel.Error {
	return area.mapPages(pt, area.start, area.end)
}

// unmapAll tears down every page of the area.
func (area *MapArea) unmapAll(pt *PageTable) {
	for page := area.start; page < area.end; page++ {
		area.unmapOne(pt, page)
	}
}

// appendTo grows the area so it ends at newEnd, mapping the added pages.
// Either every added page is mapped or the area is unchanged.
func (area *MapArea) appendTo(pt *PageTable, newEnd mm.Page) *kernel.Error {
	if err := area.mapPages(pt, area.end, newEnd); err != nil {
		return err
	}
	area.end = newEnd
	return nil
}

// shrinkTo shrinks the area so it ends at newEnd, unmapping the removed
// pages.
func (area *MapArea) shrinkTo(pt *PageTable, newEnd mm.Page) {
	for page := newEnd; page < area.end; page++ {
		area.unmapOne(pt, page)
	}
	area.end = newEnd
}

// cloneInto duplicates the area into the address space owned by pt. Framed
// pages get fresh frames and a full physical copy of their contents; there
// is no copy-on-write.
func (area *MapArea) cloneInto(pt *PageTable) (*MapArea, *kernel.Error) {
	clone := newMapArea(area.start, area.end, area.kind, area.perms)
	if err := clone.mapRange(pt); err != nil {
		return nil, err
	}

	if area.kind == MapKindFramed {
		for page, srcFrame := range area.frames {
			copy(mm.PhysBytes(clone.frames[page]), mm.PhysBytes(srcFrame))
		}
	}

	return clone, nil
}

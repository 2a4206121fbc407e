// Package mm provides the base types shared by the physical and virtual
// memory managers: physical frames, virtual pages and the frame provider
// hooks that decouple the page table code from the allocator implementation.
package mm

import (
	"math"

	"gokos/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by page allocators when they fail to reserve the
// requested frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address where this Frame begins.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address where this Page begins.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(virtAddr >> PageShift)
}

// PageFromAddressRoundUp returns the Page that begins at virtAddr rounded up
// to the next page boundary.
func PageFromAddressRoundUp(virtAddr uintptr) Page {
	return Page((virtAddr + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset within the page that contains virtAddr.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (PageSize - 1)
}

// TableIndex returns the page table index for this Page at the given level.
// Level 0 is the table root.
func (p Page) TableIndex(level int) int {
	shift := uint((PageLevels - 1 - level) * PageLevelBits)
	return int((uintptr(p) >> shift) & (EntriesPerTable - 1))
}

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// frameReclaimer points to a frame release function registered using
	// SetFrameReclaimer.
	frameReclaimer FrameReclaimerFn

	// physMapper points to a function that exposes the backing bytes of a
	// physical frame.
	physMapper PhysMapperFn
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReclaimerFn is a function that returns a physical frame to the
// allocator that owns it.
type FrameReclaimerFn func(Frame)

// PhysMapperFn is a function that returns the backing bytes for a physical
// frame.
type PhysMapperFn func(Frame) []byte

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// SetFrameReclaimer registers the function used to return frames to the
// physical allocator.
func SetFrameReclaimer(freeFn FrameReclaimerFn) { frameReclaimer = freeFn }

// SetPhysMapper registers the function that maps physical frames to their
// backing bytes.
func SetPhysMapper(mapFn PhysMapperFn) { physMapper = mapFn }

// AllocFrame allocates a new physical frame using the currently registered
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) { return frameAllocator() }

// FreeFrame returns a frame to the currently registered physical allocator.
func FreeFrame(frame Frame) { frameReclaimer(frame) }

// PhysBytes returns the backing bytes for the supplied physical frame.
func PhysBytes(frame Frame) []byte { return physMapper(frame) }

// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"gokos/kernel"
	"gokos/kernel/mm"
)

var (
	// frameAllocator is the bitmap allocator instance that owns the
	// physical frame pool.
	frameAllocator bitmapAllocator

	// ErrOutOfMemory is returned when the physical frame pool has been
	// exhausted. Callers that cannot surface it as a syscall sentinel must
	// treat it as fatal; there is no reclamation path.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)

// bitmapAllocator tracks the physical frame pool with one bit per frame. The
// pool is backed by a contiguous memory slab carved into page-sized frames;
// a frame's backing bytes are handed out to exactly one owner at a time.
type bitmapAllocator struct {
	// slab is the backing storage for the physical frame pool.
	slab []byte

	// bitmap tracks allocated frames; 1 bits mark frames in use.
	bitmap []uint64

	// totalFrames is the size of the pool in frames.
	totalFrames int

	// allocCount tracks the number of currently allocated frames.
	allocCount int

	// searchHint is the bitmap word where the next allocation scan begins.
	searchHint int
}

// init sets up the allocator state for a pool of totalFrames frames.
func (alloc *bitmapAllocator) init(totalFrames int) {
	alloc.slab = make([]byte, totalFrames*mm.PageSize)
	alloc.bitmap = make([]uint64, (totalFrames+63)/64)
	alloc.totalFrames = totalFrames
	alloc.allocCount = 0
	alloc.searchHint = 0
}

// allocFrame reserves the next free frame in the pool, clears its contents
// and returns it. It returns ErrOutOfMemory if every frame is in use.
func (alloc *bitmapAllocator) allocFrame() (mm.Frame, *kernel.Error) {
	for wordOffset := 0; wordOffset < len(alloc.bitmap); wordOffset++ {
		wordIndex := (alloc.searchHint + wordOffset) % len(alloc.bitmap)
		word := alloc.bitmap[wordIndex]
		if word == ^uint64(0) {
			continue
		}

		for bit := 0; bit < 64; bit++ {
			if word&(1<<uint(bit)) != 0 {
				continue
			}

			frameIndex := wordIndex*64 + bit
			if frameIndex >= alloc.totalFrames {
				break
			}

			alloc.bitmap[wordIndex] |= 1 << uint(bit)
			alloc.allocCount++
			alloc.searchHint = wordIndex

			frame := mm.Frame(frameIndex)
			clear(alloc.frameBytes(frame))
			return frame, nil
		}
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// freeFrame returns a frame to the pool. Freeing a frame that is not
// currently allocated or lies outside the pool is a kernel bug and panics.
func (alloc *bitmapAllocator) freeFrame(frame mm.Frame) {
	frameIndex := int(frame)
	if frameIndex < 0 || frameIndex >= alloc.totalFrames {
		kernel.Panic(&kernel.Error{Module: "pmm", Message: "freed frame outside the physical pool"})
	}

	wordIndex, mask := frameIndex/64, uint64(1)<<uint(frameIndex%64)
	if alloc.bitmap[wordIndex]&mask == 0 {
		kernel.Panic(&kernel.Error{Module: "pmm", Message: "frame freed twice"})
	}

	alloc.bitmap[wordIndex] &^= mask
	alloc.allocCount--
	if wordIndex < alloc.searchHint {
		alloc.searchHint = wordIndex
	}
}

// frameBytes returns the slab region backing the supplied frame.
func (alloc *bitmapAllocator) frameBytes(frame mm.Frame) []byte {
	start := int(frame) * mm.PageSize
	return alloc.slab[start : start+mm.PageSize : start+mm.PageSize]
}

// Init sets up a physical frame pool of the requested size and registers the
// allocator with the mm package so the virtual memory code can obtain and
// release frames.
func Init(totalFrames int) {
	frameAllocator.init(totalFrames)
	mm.SetFrameAllocator(AllocFrame)
	mm.SetFrameReclaimer(FreeFrame)
	mm.SetPhysMapper(FrameBytes)
}

// AllocFrame reserves the next available free frame, clears its contents and
// returns it. It returns ErrOutOfMemory when the pool is exhausted.
func AllocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.allocFrame()
}

// FreeFrame returns a frame to the pool so it can be reused.
func FreeFrame(frame mm.Frame) {
	frameAllocator.freeFrame(frame)
}

// FrameBytes returns the backing bytes of the supplied frame.
func FrameBytes(frame mm.Frame) []byte {
	return frameAllocator.frameBytes(frame)
}

// UsedFrames returns the number of frames currently allocated.
func UsedFrames() int {
	return frameAllocator.allocCount
}

// TotalFrames returns the size of the physical frame pool.
func TotalFrames() int {
	return frameAllocator.totalFrames
}

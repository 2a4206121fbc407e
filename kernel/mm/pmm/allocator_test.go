package pmm

import (
	"testing"

	"gokos/kernel/mm"
)

func TestAllocFrame(t *testing.T) {
	Init(16)

	seen := make(map[mm.Frame]bool)
	for i := 0; i < 16; i++ {
		frame, err := AllocFrame()
		if err != nil {
			t.Fatalf("[frame %d] unexpected allocator error: %v", i, err)
		}

		if !frame.Valid() {
			t.Fatalf("[frame %d] expected allocated frame to be valid", i)
		}

		if seen[frame] {
			t.Fatalf("[frame %d] frame %d handed out twice", i, frame)
		}
		seen[frame] = true

		for offset, b := range FrameBytes(frame) {
			if b != 0 {
				t.Fatalf("[frame %d] expected frame contents to be zeroed; byte %d is %d", i, offset, b)
			}
		}
	}

	if _, err := AllocFrame(); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory once the pool is drained; got %v", err)
	}

	if got := UsedFrames(); got != 16 {
		t.Fatalf("expected 16 used frames; got %d", got)
	}
}

func TestFreeFrameAllowsReuse(t *testing.T) {
	Init(4)

	var frames []mm.Frame
	for i := 0; i < 4; i++ {
		frame, err := AllocFrame()
		if err != nil {
			t.Fatalf("unexpected allocator error: %v", err)
		}
		frames = append(frames, frame)
	}

	// Dirty a frame, free it and check that a fresh allocation returns
	// zeroed contents again.
	FrameBytes(frames[1])[123] = 0xaa
	FreeFrame(frames[1])

	if got := UsedFrames(); got != 3 {
		t.Fatalf("expected 3 used frames after free; got %d", got)
	}

	frame, err := AllocFrame()
	if err != nil {
		t.Fatalf("unexpected allocator error: %v", err)
	}
	if frame != frames[1] {
		t.Fatalf("expected the freed frame %d to be reused; got %d", frames[1], frame)
	}
	if FrameBytes(frame)[123] != 0 {
		t.Fatal("expected reused frame contents to be zeroed")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	Init(2)

	frame, err := AllocFrame()
	if err != nil {
		t.Fatalf("unexpected allocator error: %v", err)
	}
	FreeFrame(frame)

	defer func() {
		if recover() == nil {
			t.Fatal("expected double free to panic")
		}
	}()
	FreeFrame(frame)
}

func TestFrameAllocatorRegistration(t *testing.T) {
	Init(2)

	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatalf("unexpected allocator error: %v", err)
	}

	bytes := mm.PhysBytes(frame)
	if len(bytes) != mm.PageSize {
		t.Fatalf("expected PhysBytes to return %d bytes; got %d", mm.PageSize, len(bytes))
	}

	mm.FreeFrame(frame)
	if got := UsedFrames(); got != 0 {
		t.Fatalf("expected 0 used frames; got %d", got)
	}
}

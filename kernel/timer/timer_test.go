package timer

import "testing"

func TestClock(t *testing.T) {
	Reset()

	if got := NowUS(); got != 0 {
		t.Fatalf("expected a fresh clock to read 0; got %d", got)
	}

	Advance(1500)
	Advance(700)

	if exp, got := uint64(2200), NowUS(); got != exp {
		t.Errorf("expected NowUS to return %d; got %d", exp, got)
	}
	if exp, got := uint64(2), NowMS(); got != exp {
		t.Errorf("expected NowMS to return %d; got %d", exp, got)
	}

	Reset()
	if got := NowUS(); got != 0 {
		t.Fatalf("expected Reset to rewind the clock; got %d", got)
	}
}

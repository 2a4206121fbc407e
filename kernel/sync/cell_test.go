package sync

import "testing"

func TestCellAcquireRelease(t *testing.T) {
	var c Cell

	c.Acquire()
	c.Release()
	c.Acquire()
	c.Release()
}

func TestCellDoubleAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected double Acquire to panic")
		}
	}()

	var c Cell
	c.Acquire()
	c.Acquire()
}

func TestCellReleaseWhileFreePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Release on a free cell to panic")
		}
	}()

	var c Cell
	c.Release()
}

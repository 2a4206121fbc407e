package kfmt

import (
	"bytes"
	"testing"
)

func TestPrintfToRingBuffer(t *testing.T) {
	defer func() {
		outputSink = nil
		earlyPrintBuffer = ringBuffer{}
	}()
	outputSink = nil

	exp := "hello: 42"
	Printf("hello: %d", 42)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected SetOutputSink to flush %q; got %q", exp, got)
	}
}

func TestPrintfToSink(t *testing.T) {
	defer func() {
		outputSink = nil
		earlyPrintBuffer = ringBuffer{}
	}()

	var buf bytes.Buffer
	SetOutputSink(&buf)

	Printf("pid %d -> %s", 1, "zombie")
	if exp, got := "pid 1 -> zombie", buf.String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}

	buf.Reset()
	if _, err := Write([]byte{'o', 'k'}); err != nil {
		t.Fatalf("unexpected Write error: %v", err)
	}
	if exp, got := "ok", buf.String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	var rb ringBuffer

	payload := make([]byte, ringBufferSize+16)
	for i := 0; i < len(payload); i++ {
		payload[i] = byte('a' + (i % 23))
	}
	rb.Write(payload)

	got := make([]byte, 2*ringBufferSize)
	n := 0
	for {
		rd, _ := rb.Read(got[n:])
		if rd == 0 {
			break
		}
		n += rd
	}

	// The oldest 17 bytes got overwritten (one slot is sacrificed to
	// distinguish a full buffer from an empty one).
	exp := payload[len(payload)-(ringBufferSize-1):]
	if !bytes.Equal(got[:n], exp) {
		t.Fatalf("expected ring buffer to retain the %d most recent bytes", len(exp))
	}
}

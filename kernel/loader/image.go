// Package loader implements the read-only program image source: a binary
// image format describing a program's entry point and segments, and a
// process-wide registry that resolves images by name for initial process
// creation and exec.
package loader

import (
	"encoding/binary"

	"gokos/kernel"
)

// SegFlag describes the access permissions of an image segment.
type SegFlag uint8

const (
	// SegRead marks a segment as readable.
	SegRead SegFlag = 1 << iota

	// SegWrite marks a segment as writable.
	SegWrite

	// SegExec marks a segment as executable.
	SegExec
)

// imageMagic identifies an encoded program image.
const imageMagic = 0x4d494b47 // "GKIM"

// imageVersion is the format revision emitted by Encode.
const imageVersion = 1

var (
	// ErrBadImage is returned when decoding bytes that do not describe a
	// well-formed program image.
	ErrBadImage = &kernel.Error{Module: "loader", Message: "malformed program image"}

	// ErrImageNotFound is returned when looking up a program name that has
	// not been registered.
	ErrImageNotFound = &kernel.Error{Module: "loader", Message: "no program image with that name"}
)

// Segment describes one loadable region of a program image. MemSize may
// exceed the length of Data, in which case the tail is zero-filled when the
// segment is loaded.
type Segment struct {
	VirtAddr uintptr
	Flags    SegFlag
	MemSize  int
	Data     []byte
}

// Image describes a program: its entry point and an ordered list of
// segments. The memory set builder parses nothing else out of an image.
type Image struct {
	Entry    uintptr
	Segments []Segment
}

// Encode serializes the image into its binary form.
func (img *Image) Encode() []byte {
	size := 4 + 1 + 8 + 4
	for _, seg := range img.Segments {
		size += 8 + 1 + 4 + 4 + len(seg.Data)
	}

	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, imageMagic)
	out = append(out, imageVersion)
	out = binary.LittleEndian.AppendUint64(out, uint64(img.Entry))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(img.Segments)))

	for _, seg := range img.Segments {
		out = binary.LittleEndian.AppendUint64(out, uint64(seg.VirtAddr))
		out = append(out, byte(seg.Flags))
		out = binary.LittleEndian.AppendUint32(out, uint32(seg.MemSize))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(seg.Data)))
		out = append(out, seg.Data...)
	}

	return out
}

// Decode parses an encoded program image.
func Decode(data []byte) (*Image, *kernel.Error) {
	if len(data) < 17 || binary.LittleEndian.Uint32(data) != imageMagic || data[4] != imageVersion {
		return nil, ErrBadImage
	}

	img := &Image{Entry: uintptr(binary.LittleEndian.Uint64(data[5:]))}
	segCount := int(binary.LittleEndian.Uint32(data[13:]))
	offset := 17

	for i := 0; i < segCount; i++ {
		if len(data)-offset < 17 {
			return nil, ErrBadImage
		}

		seg := Segment{
			VirtAddr: uintptr(binary.LittleEndian.Uint64(data[offset:])),
			Flags:    SegFlag(data[offset+8]),
			MemSize:  int(binary.LittleEndian.Uint32(data[offset+9:])),
		}
		dataLen := int(binary.LittleEndian.Uint32(data[offset+13:]))
		offset += 17

		if dataLen > len(data)-offset || seg.MemSize < dataLen {
			return nil, ErrBadImage
		}
		seg.Data = data[offset : offset+dataLen]
		offset += dataLen

		img.Segments = append(img.Segments, seg)
	}

	return img, nil
}

// registry maps program names to their encoded images. It is populated once
// during bring-up and read-only afterwards.
var registry = make(map[string][]byte)

// Register adds an image to the registry under the supplied name, replacing
// any previous registration.
func Register(name string, img *Image) {
	registry[name] = img.Encode()
}

// LookupBytes returns the full encoded image registered under name, or
// ErrImageNotFound if the name is unknown.
func LookupBytes(name string) ([]byte, *kernel.Error) {
	data, ok := registry[name]
	if !ok {
		return nil, ErrImageNotFound
	}
	return data, nil
}

// Lookup resolves name and decodes the registered image.
func Lookup(name string) (*Image, *kernel.Error) {
	data, err := LookupBytes(name)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Reset drops every registered image. Used by tests that build their own
// program sets.
func Reset() {
	registry = make(map[string][]byte)
}

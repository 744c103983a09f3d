package msg

import (
	"fmt"
	"unsafe"
)

// ElementKind is the element type of a shared buffer view.
type ElementKind uint8

const (
	// KindNone marks nodes that do not publish buffers.
	KindNone ElementKind = iota
	// Uint8 is an 8-bit unsigned view.
	Uint8
	// Float32 is a 32-bit floating point view.
	Float32
)

// String implements fmt.Stringer.
func (k ElementKind) String() string {
	switch k {
	case Uint8:
		return "uint8"
	case Float32:
		return "float32"
	}
	return "none"
}

// ParseElementKind maps an attribute value to an ElementKind.
func ParseElementKind(s string) (ElementKind, error) {
	switch s {
	case "uint8", "u8":
		return Uint8, nil
	case "float32", "f32", "float":
		return Float32, nil
	}
	return KindNone, fmt.Errorf("unknown element kind %q", s)
}

// Size returns the element width in bytes.
func (k ElementKind) Size() int {
	switch k {
	case Uint8:
		return 1
	case Float32:
		return 4
	}
	return 0
}

// SharedBuffer is a live memory region published by a node. Both sides of the
// evaluation boundary see the same bytes; nothing is copied on handoff.
type SharedBuffer struct {
	Kind ElementKind
	data []byte
}

// NewSharedBuffer allocates a zeroed buffer of n elements.
func NewSharedBuffer(kind ElementKind, n int) *SharedBuffer {
	if n < 0 {
		n = 0
	}
	var data []byte
	switch kind {
	case Float32:
		backing := make([]float32, n)
		if n > 0 {
			data = unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), n*4)
		}
	default:
		data = make([]byte, n)
	}
	return &SharedBuffer{Kind: kind, data: data}
}

// WrapBytes adopts an existing region. A Float32 region must be 4-byte aligned.
func WrapBytes(kind ElementKind, b []byte) (*SharedBuffer, error) {
	if kind == Float32 {
		if len(b)%4 != 0 {
			return nil, fmt.Errorf("float32 region length %d is not a multiple of 4", len(b))
		}
		if len(b) > 0 && uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
			return nil, fmt.Errorf("float32 region is not 4-byte aligned")
		}
	}
	return &SharedBuffer{Kind: kind, data: b}, nil
}

// Bytes returns the raw region.
func (b *SharedBuffer) Bytes() []byte { return b.data }

// Len returns the number of elements of the buffer's own kind.
func (b *SharedBuffer) Len() int {
	if s := b.Kind.Size(); s > 0 {
		return len(b.data) / s
	}
	return len(b.data)
}

// Uint8 returns the region as bytes.
func (b *SharedBuffer) Uint8() []uint8 { return b.data }

// Float32 returns the region reinterpreted as float32 without copying. The
// trailing bytes that do not form a whole element are not visible.
func (b *SharedBuffer) Float32() []float32 {
	n := len(b.data) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), n)
}

// View returns a typed slice matching kind: []uint8 or []float32.
func (b *SharedBuffer) View(kind ElementKind) any {
	if kind == Float32 {
		return b.Float32()
	}
	return b.Uint8()
}

func (b *SharedBuffer) String() string {
	return fmt.Sprintf("buffer<%s>[%d]", b.Kind, b.Len())
}

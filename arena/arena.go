// Package arena implements the file-backed block allocator underneath every
// column. Blocks are addressed by refs: opaque, 8-byte-aligned offsets that
// stay stable for the lifetime of the attached image. The low bit of a ref
// is reserved so that slots can distinguish a ref from a tagged scalar.
package arena

import (
	"errors"
	"fmt"
	"sort"
)

// Ref is an opaque block address. The zero ref is the null ref.
type Ref uint64

// RefAlignment is the alignment of every block, and therefore of every ref.
// It guarantees the low bit of a valid ref is always zero.
const RefAlignment = 8

// baseOffset reserves the zero address so that Ref(0) can mean "null".
const baseOffset = RefAlignment

const defaultChunkSize = 1 << 20

var (
	// ErrAllocFailed is returned when an allocation cannot be satisfied,
	// for example because the configured arena limit is exhausted.
	ErrAllocFailed = errors.New("arena: allocation failed")

	// ErrBadRef is returned when a ref does not address an attached block.
	ErrBadRef = errors.New("arena: bad ref")
)

// MemRef pairs a ref with the memory of its block.
type MemRef struct {
	Ref  Ref
	Data []byte
}

// IsNull reports whether the ref is the null ref.
func (r Ref) IsNull() bool { return r == 0 }

type chunk struct {
	start uint64
	buf   []byte
}

// Arena is an append-mostly slab allocator. Freed blocks are recycled by
// exact size. Mutation of arena state must be serialized by the caller;
// the arena itself holds no lock.
type Arena struct {
	chunks []chunk
	top    uint64 // next unassigned address

	free map[int][]Ref // byte size -> freed refs

	limit uint64 // 0 means unlimited

	chunkSize int
}

// New creates an empty in-memory arena.
func New() *Arena {
	return &Arena{
		top:       baseOffset,
		free:      make(map[int][]Ref),
		chunkSize: defaultChunkSize,
	}
}

// SetLimit caps the total addressable size in bytes. Allocations beyond the
// limit fail with ErrAllocFailed. A limit of 0 removes the cap.
func (a *Arena) SetLimit(limit uint64) { a.limit = limit }

// Size returns the high-water mark of the address space in bytes.
func (a *Arena) Size() uint64 { return a.top }

// Alloc returns a zeroed block of at least size bytes. The returned ref is
// 8-byte aligned and non-null.
func (a *Arena) Alloc(size int) (MemRef, error) {
	if size <= 0 {
		return MemRef{}, fmt.Errorf("%w: size %d", ErrAllocFailed, size)
	}
	size = alignUp(size)

	// Exact-size recycling first.
	if refs := a.free[size]; len(refs) > 0 {
		ref := refs[len(refs)-1]
		a.free[size] = refs[:len(refs)-1]
		data, err := a.slice(ref, size)
		if err != nil {
			return MemRef{}, err
		}
		clear(data)
		return MemRef{Ref: ref, Data: data}, nil
	}

	if a.limit != 0 && a.top+uint64(size) > a.limit {
		return MemRef{}, fmt.Errorf("%w: limit %d exceeded", ErrAllocFailed, a.limit)
	}

	c := a.currentChunk()
	if c == nil || int(a.top-c.start)+size > len(c.buf) {
		c = a.grow(size)
	}

	ref := Ref(a.top)
	off := int(a.top - c.start)
	a.top += uint64(size)
	return MemRef{Ref: ref, Data: c.buf[off : off+size : off+size]}, nil
}

// Free returns a block of the given byte size to the arena. The caller must
// pass the same size the block was allocated with.
func (a *Arena) Free(ref Ref, size int) {
	if ref.IsNull() {
		return
	}
	size = alignUp(size)
	a.free[size] = append(a.free[size], ref)
}

// Translate returns the memory of the block at ref. The slice extends to
// the end of the containing chunk; callers bound it by the block header.
func (a *Arena) Translate(ref Ref) ([]byte, error) {
	if ref.IsNull() || uint64(ref)%RefAlignment != 0 {
		return nil, fmt.Errorf("%w: %#x", ErrBadRef, uint64(ref))
	}
	i := sort.Search(len(a.chunks), func(i int) bool {
		return a.chunks[i].start > uint64(ref)
	}) - 1
	if i < 0 {
		return nil, fmt.Errorf("%w: %#x", ErrBadRef, uint64(ref))
	}
	c := &a.chunks[i]
	off := uint64(ref) - c.start
	if off >= uint64(len(c.buf)) {
		return nil, fmt.Errorf("%w: %#x", ErrBadRef, uint64(ref))
	}
	return c.buf[off:], nil
}

func (a *Arena) slice(ref Ref, size int) ([]byte, error) {
	data, err := a.Translate(ref)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, fmt.Errorf("%w: %#x+%d", ErrBadRef, uint64(ref), size)
	}
	return data[:size:size], nil
}

func (a *Arena) currentChunk() *chunk {
	if len(a.chunks) == 0 {
		return nil
	}
	return &a.chunks[len(a.chunks)-1]
}

// grow appends a chunk that starts exactly at the current top, keeping the
// address space contiguous. The unused tail of the previous chunk stays
// addressable as zeros.
func (a *Arena) grow(minSize int) *chunk {
	if c := a.currentChunk(); c != nil {
		a.top = c.start + uint64(len(c.buf))
	}
	size := a.chunkSize
	if minSize > size {
		size = alignUp(minSize)
	}
	a.chunks = append(a.chunks, chunk{start: a.top, buf: make([]byte, size)})
	return a.currentChunk()
}

func alignUp(n int) int {
	return (n + RefAlignment - 1) &^ (RefAlignment - 1)
}

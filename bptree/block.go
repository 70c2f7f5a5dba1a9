package bptree

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/colgo/arena"
)

// newBlock allocates a zeroed block with room for payloadCap payload bytes.
// The recorded capacity is the full allocated size, header included.
func newBlock(ar *arena.Arena, flags, width byte, payloadCap int) (arena.MemRef, error) {
	mem, err := ar.Alloc(HeaderSize + payloadCap)
	if err != nil {
		return arena.MemRef{}, err
	}
	initHeader(mem.Data, flags, width, 0, len(mem.Data))
	return mem, nil
}

// loadBlock resolves a ref and bounds its memory by the recorded capacity.
func loadBlock(ar *arena.Arena, ref arena.Ref) (arena.MemRef, error) {
	data, err := ar.Translate(ref)
	if err != nil {
		return arena.MemRef{}, err
	}
	if len(data) < HeaderSize {
		return arena.MemRef{}, fmt.Errorf("%w: block %#x shorter than header", ErrCorrupt, uint64(ref))
	}
	c := headerCap(data)
	if c < HeaderSize || c > len(data) {
		return arena.MemRef{}, fmt.Errorf("%w: block %#x capacity %d", ErrCorrupt, uint64(ref), c)
	}
	return arena.MemRef{Ref: ref, Data: data[:c:c]}, nil
}

func payload(mem arena.MemRef) []byte { return mem.Data[HeaderSize:] }

func freeBlock(ar *arena.Arena, mem arena.MemRef) {
	ar.Free(mem.Ref, len(mem.Data))
}

func slotAt(mem arena.MemRef, i int) Slot {
	return Slot(binary.LittleEndian.Uint64(payload(mem)[i*8:]))
}

func setSlotAt(mem arena.MemRef, i int, s Slot) {
	binary.LittleEndian.PutUint64(payload(mem)[i*8:], uint64(s))
}

// DestroyDeep frees the subtree rooted at ref. For hasrefs blocks every
// untagged, non-null slot is followed; tagged slots are scalars and are
// never freed. Invariant: header count of a hasrefs block is its slot
// count.
func DestroyDeep(ar *arena.Arena, ref arena.Ref) error {
	if ref.IsNull() {
		return nil
	}
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return err
	}
	if hasRefs(mem.Data) {
		n := headerCount(mem.Data)
		for i := 0; i < n; i++ {
			s := slotAt(mem, i)
			if s.IsRef() && !s.IsNull() {
				if err := DestroyDeep(ar, s.Ref()); err != nil {
					return err
				}
			}
		}
	}
	freeBlock(ar, mem)
	return nil
}

// CloneDeep copies the subtree rooted at ref from src into dst, returning
// the new root ref. Tagged slots are copied verbatim.
func CloneDeep(src, dst *arena.Arena, ref arena.Ref) (arena.Ref, error) {
	if ref.IsNull() {
		return 0, nil
	}
	mem, err := loadBlock(src, ref)
	if err != nil {
		return 0, err
	}
	out, err := dst.Alloc(len(mem.Data))
	if err != nil {
		return 0, err
	}
	copy(out.Data, mem.Data)
	if hasRefs(mem.Data) {
		n := headerCount(mem.Data)
		for i := 0; i < n; i++ {
			s := slotAt(mem, i)
			if s.IsRef() && !s.IsNull() {
				child, err := CloneDeep(src, dst, s.Ref())
				if err != nil {
					return 0, err
				}
				setSlotAt(out, i, RefSlot(child))
			}
		}
	}
	return out.Ref, nil
}

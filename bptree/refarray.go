package bptree

import (
	"github.com/hupe1980/colgo/arena"
)

const refArrayInitialCap = 4

// RefArray is a single-block array of slots (refs or tagged scalars). It
// backs the big bytes leaf, the long leaf's child table, inner nodes, spec
// payload arrays and table tops. Header count is the slot count, which is
// what DestroyDeep relies on when it walks hasrefs blocks.
type RefArray struct {
	ar  *arena.Arena
	mem arena.MemRef
}

// NewRefArray allocates an empty slot array. withCtx sets the ctx header
// bit, which discriminates the big bytes leaf from the long one.
func NewRefArray(ar *arena.Arena, withCtx bool) (*RefArray, error) {
	flags := byte(flagHasRefs)
	if withCtx {
		flags |= flagCtx
	}
	mem, err := newBlock(ar, flags, 0, refArrayInitialCap*8)
	if err != nil {
		return nil, err
	}
	return &RefArray{ar: ar, mem: mem}, nil
}

// LoadRefArray attaches to an existing slot array block.
func LoadRefArray(ar *arena.Arena, ref arena.Ref) (*RefArray, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return nil, err
	}
	return &RefArray{ar: ar, mem: mem}, nil
}

// InitFromRef re-attaches the array to a (possibly changed) root ref.
func (a *RefArray) InitFromRef(ref arena.Ref) error {
	mem, err := loadBlock(a.ar, ref)
	if err != nil {
		return err
	}
	a.mem = mem
	return nil
}

// Ref returns the current block ref. It changes when the array grows.
func (a *RefArray) Ref() arena.Ref { return a.mem.Ref }

// Size returns the number of slots.
func (a *RefArray) Size() int { return headerCount(a.mem.Data) }

func (a *RefArray) capSlots() int { return (len(a.mem.Data) - HeaderSize) / 8 }

// Get returns the slot at i.
func (a *RefArray) Get(i int) (Slot, error) {
	if i < 0 || i >= a.Size() {
		return 0, outOfRange(i, a.Size())
	}
	return slotAt(a.mem, i), nil
}

// Set overwrites the slot at i.
func (a *RefArray) Set(i int, s Slot) error {
	if i < 0 || i >= a.Size() {
		return outOfRange(i, a.Size())
	}
	setSlotAt(a.mem, i, s)
	return nil
}

// Insert inserts s at i, shifting subsequent slots up.
func (a *RefArray) Insert(i int, s Slot) error {
	n := a.Size()
	if i < 0 || i > n {
		return outOfRange(i, n+1)
	}
	if n == a.capSlots() {
		if err := a.realloc(n * 2); err != nil {
			return err
		}
	}
	for j := n; j > i; j-- {
		setSlotAt(a.mem, j, slotAt(a.mem, j-1))
	}
	setSlotAt(a.mem, i, s)
	setHeaderCount(a.mem.Data, n+1)
	return nil
}

// Add appends s.
func (a *RefArray) Add(s Slot) error {
	return a.Insert(a.Size(), s)
}

// Erase removes the slot at i.
func (a *RefArray) Erase(i int) error {
	n := a.Size()
	if i < 0 || i >= n {
		return outOfRange(i, n)
	}
	for j := i; j < n-1; j++ {
		setSlotAt(a.mem, j, slotAt(a.mem, j+1))
	}
	setHeaderCount(a.mem.Data, n-1)
	return nil
}

// Clear removes all slots without shrinking the block.
func (a *RefArray) Clear() { setHeaderCount(a.mem.Data, 0) }

func (a *RefArray) realloc(capSlots int) error {
	n := a.Size()
	if capSlots < n {
		capSlots = n
	}
	mem, err := newBlock(a.ar, headerFlags(a.mem.Data), 0, capSlots*8)
	if err != nil {
		return err
	}
	copy(payload(mem), payload(a.mem)[:n*8])
	setHeaderCount(mem.Data, n)
	freeBlock(a.ar, a.mem)
	a.mem = mem
	return nil
}

// Destroy frees the block only; child refs are not followed.
func (a *RefArray) Destroy() {
	freeBlock(a.ar, a.mem)
	a.mem = arena.MemRef{}
}

// DestroyDeep frees the block and every subtree reachable through its
// untagged, non-null slots.
func (a *RefArray) DestroyDeep() error {
	ref := a.mem.Ref
	a.mem = arena.MemRef{}
	return DestroyDeep(a.ar, ref)
}

package bptree

import "github.com/hupe1980/colgo/arena"

// Slot is the sum of the two things a hasrefs payload element can hold: a
// ref (low bit clear, guaranteed by 8-byte ref alignment) or a tagged
// scalar serialized as (x<<1)|1. All readers go through this type; nothing
// else in the module masks ref bits by hand.
type Slot uint64

// RefSlot wraps a ref as a slot.
func RefSlot(r arena.Ref) Slot { return Slot(r) }

// TaggedSlot wraps a scalar as a tagged slot. The scalar loses its top bit.
func TaggedSlot(v int64) Slot { return Slot(uint64(v)<<1 | 1) }

// IsRef reports whether the slot holds a ref. The null ref counts as a ref.
func (s Slot) IsRef() bool { return s&1 == 0 }

// Ref returns the ref held by the slot. Must only be called when IsRef.
func (s Slot) Ref() arena.Ref { return arena.Ref(s) }

// Tagged returns the scalar held by the slot. Must only be called when
// !IsRef.
func (s Slot) Tagged() int64 { return int64(s) >> 1 }

// IsNull reports whether the slot is the null ref.
func (s Slot) IsNull() bool { return s == 0 }

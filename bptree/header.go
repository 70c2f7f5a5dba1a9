// Package bptree implements the node substrate and tree protocol shared by
// all column kinds: tagged block headers, packed integer leaves, the three
// variable-length bytes leaf encodings, and the inner-node B+-tree
// operations (indexed lookup, split on insert, collapse on erase).
package bptree

import (
	"encoding/binary"
)

// HeaderSize is the fixed prefix of every block in the arena.
const HeaderSize = 16

// Header flag bits. The three bits are independent; together with the
// block's role they discriminate every node kind in a column tree.
const (
	flagInner   = 0x1 // inner B+-tree node vs leaf
	flagHasRefs = 0x2 // payload is a vector of slots, not scalars
	flagCtx     = 0x4 // leaf-kind discriminator within hasrefs leaves
)

// Kind identifies the concrete encoding of a node.
type Kind uint8

const (
	// KindInner is a B+-tree inner node.
	KindInner Kind = iota
	// KindInt is a packed integer leaf.
	KindInt
	// KindSmall is the fixed-slot bytes leaf, values up to 15 bytes.
	KindSmall
	// KindLong is the variable-length bytes leaf, values up to 63 bytes.
	KindLong
	// KindBig is the unbounded bytes leaf, one child blob per slot.
	KindBig
)

func (k Kind) String() string {
	switch k {
	case KindInner:
		return "inner"
	case KindInt:
		return "int"
	case KindSmall:
		return "small"
	case KindLong:
		return "long"
	case KindBig:
		return "big"
	}
	return "unknown"
}

// rank orders the bytes leaf kinds for promotion. A leaf may only move to a
// higher rank, never down.
func (k Kind) rank() int {
	switch k {
	case KindSmall:
		return 1
	case KindLong:
		return 2
	case KindBig:
		return 3
	}
	return 0
}

// Family selects how leaf blocks of a tree are interpreted. A (0,0) header
// is a packed integer leaf in an integer tree and a small bytes leaf in a
// bytes tree.
type Family uint8

const (
	// FamilyInt marks trees whose leaves hold packed integers.
	FamilyInt Family = iota
	// FamilyBytes marks trees whose leaves hold variable-length bytes.
	FamilyBytes
)

// Block header layout:
//
//	[0]     flags (inner, hasrefs, ctx)
//	[1]     element width in bytes (integer leaves; small bytes leaves
//	        record their slot size)
//	[2:4]   reserved
//	[4:8]   element count
//	[8:12]  block capacity in bytes, header included
//	[12:16] reserved

func initHeader(b []byte, flags, width byte, count, capacity int) {
	b[0] = flags
	b[1] = width
	b[2], b[3] = 0, 0
	binary.LittleEndian.PutUint32(b[4:8], uint32(count))
	binary.LittleEndian.PutUint32(b[8:12], uint32(capacity))
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

func headerFlags(b []byte) byte  { return b[0] }
func headerWidth(b []byte) int   { return int(b[1]) }
func headerCount(b []byte) int   { return int(binary.LittleEndian.Uint32(b[4:8])) }
func headerCap(b []byte) int     { return int(binary.LittleEndian.Uint32(b[8:12])) }
func isInner(b []byte) bool      { return headerFlags(b)&flagInner != 0 }
func hasRefs(b []byte) bool      { return headerFlags(b)&flagHasRefs != 0 }
func ctxFlag(b []byte) bool      { return headerFlags(b)&flagCtx != 0 }
func setHeaderCount(b []byte, n int) {
	binary.LittleEndian.PutUint32(b[4:8], uint32(n))
}
func setHeaderWidth(b []byte, w byte) { b[1] = w }

// kindOf discriminates a block within the given leaf family.
func kindOf(b []byte, family Family) Kind {
	if isInner(b) {
		return KindInner
	}
	if family == FamilyInt {
		return KindInt
	}
	if !hasRefs(b) {
		return KindSmall
	}
	if ctxFlag(b) {
		return KindBig
	}
	return KindLong
}

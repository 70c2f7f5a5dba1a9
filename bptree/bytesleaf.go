package bptree

import (
	"fmt"

	"github.com/hupe1980/colgo/arena"
)

// Small leaf: fixed 16-byte slots. Bytes 0..14 hold the value, byte 15 its
// length, with 0xFF reserved for null.

const (
	smallSlotSize       = 16
	smallNullLen        = 0xFF
	smallLeafInitialCap = 4
)

type smallLeaf struct {
	ar  *arena.Arena
	mem arena.MemRef
}

func newSmallLeaf(ar *arena.Arena, capElems int) (smallLeaf, error) {
	if capElems < smallLeafInitialCap {
		capElems = smallLeafInitialCap
	}
	mem, err := newBlock(ar, 0, smallSlotSize, capElems*smallSlotSize)
	if err != nil {
		return smallLeaf{}, err
	}
	return smallLeaf{ar: ar, mem: mem}, nil
}

func loadSmallLeaf(ar *arena.Arena, ref arena.Ref) (smallLeaf, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return smallLeaf{}, err
	}
	return smallLeaf{ar: ar, mem: mem}, nil
}

func (l *smallLeaf) count() int { return headerCount(l.mem.Data) }

func (l *smallLeaf) capElems() int {
	return (len(l.mem.Data) - HeaderSize) / smallSlotSize
}

func (l *smallLeaf) slot(i int) []byte {
	return payload(l.mem)[i*smallSlotSize : (i+1)*smallSlotSize]
}

func (l *smallLeaf) get(i int) ([]byte, bool) {
	s := l.slot(i)
	if s[smallSlotSize-1] == smallNullLen {
		return nil, true
	}
	return s[:s[smallSlotSize-1]], false
}

func (l *smallLeaf) put(i int, v []byte, null bool) {
	s := l.slot(i)
	if null {
		clear(s)
		s[smallSlotSize-1] = smallNullLen
		return
	}
	copy(s, v)
	clear(s[len(v) : smallSlotSize-1])
	s[smallSlotSize-1] = byte(len(v))
}

func (l *smallLeaf) ensure() error {
	if l.count() < l.capElems() {
		return nil
	}
	mem, err := newBlock(l.ar, 0, smallSlotSize, l.capElems()*2*smallSlotSize)
	if err != nil {
		return err
	}
	n := l.count()
	copy(payload(mem), payload(l.mem)[:n*smallSlotSize])
	setHeaderCount(mem.Data, n)
	freeBlock(l.ar, l.mem)
	l.mem = mem
	return nil
}

func (l *smallLeaf) insert(i int, v []byte, null bool) error {
	if err := l.ensure(); err != nil {
		return err
	}
	n := l.count()
	p := payload(l.mem)
	copy(p[(i+1)*smallSlotSize:(n+1)*smallSlotSize], p[i*smallSlotSize:n*smallSlotSize])
	l.put(i, v, null)
	setHeaderCount(l.mem.Data, n+1)
	return nil
}

func (l *smallLeaf) erase(i int) {
	n := l.count()
	p := payload(l.mem)
	copy(p[i*smallSlotSize:], p[(i+1)*smallSlotSize:n*smallSlotSize])
	setHeaderCount(l.mem.Data, n-1)
}

// Blob block: a raw bytes child of long and big leaves. Header count is the
// byte length.

func newBlob(ar *arena.Arena, capBytes int) (arena.MemRef, error) {
	return newBlock(ar, 0, 0, capBytes)
}

func blobLen(mem arena.MemRef) int { return headerCount(mem.Data) }

func blobData(mem arena.MemRef) []byte {
	return payload(mem)[:blobLen(mem)]
}

// blobSplice replaces bytes [start, end) with repl, reallocating when the
// block is too small. Returns the (possibly new) block.
func blobSplice(ar *arena.Arena, mem arena.MemRef, start, end int, repl []byte) (arena.MemRef, error) {
	oldLen := blobLen(mem)
	newLen := oldLen - (end - start) + len(repl)
	capBytes := len(mem.Data) - HeaderSize
	if newLen <= capBytes {
		p := payload(mem)
		copy(p[start+len(repl):newLen], p[end:oldLen])
		copy(p[start:], repl)
		setHeaderCount(mem.Data, newLen)
		return mem, nil
	}
	grow := capBytes * 2
	if grow < newLen {
		grow = newLen
	}
	next, err := newBlob(ar, grow)
	if err != nil {
		return arena.MemRef{}, err
	}
	p, q := payload(mem), payload(next)
	copy(q, p[:start])
	copy(q[start:], repl)
	copy(q[start+len(repl):newLen], p[end:oldLen])
	setHeaderCount(next.Data, newLen)
	freeBlock(ar, mem)
	return next, nil
}

// Long leaf: a hasrefs block with three child slots: cumulative end
// offsets, the blob region, and an optional null marker array (null slot
// when the column is not nullable). The element count lives in the offsets
// child; the leaf's own header count is its slot count, as for every
// hasrefs block.

const (
	longSlotOffsets = 0
	longSlotBlob    = 1
	longSlotNulls   = 2
	longSlotCount   = 3
)

type longLeaf struct {
	ar      *arena.Arena
	mem     arena.MemRef
	offsets intLeaf
	blob    arena.MemRef
	nulls   *intLeaf
}

func newLongLeaf(ar *arena.Arena, nullable bool) (longLeaf, error) {
	mem, err := newBlock(ar, flagHasRefs, 0, longSlotCount*8)
	if err != nil {
		return longLeaf{}, err
	}
	setHeaderCount(mem.Data, longSlotCount)

	offsets, err := newIntLeaf(ar, 2, intLeafInitialCap)
	if err != nil {
		return longLeaf{}, err
	}
	blob, err := newBlob(ar, 64)
	if err != nil {
		return longLeaf{}, err
	}
	l := longLeaf{ar: ar, mem: mem, offsets: offsets, blob: blob}
	if nullable {
		nulls, err := newIntLeaf(ar, 1, intLeafInitialCap)
		if err != nil {
			return longLeaf{}, err
		}
		l.nulls = &nulls
	}
	l.syncSlots()
	return l, nil
}

func loadLongLeaf(ar *arena.Arena, ref arena.Ref) (longLeaf, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return longLeaf{}, err
	}
	l := longLeaf{ar: ar, mem: mem}
	l.offsets, err = loadIntLeaf(ar, slotAt(mem, longSlotOffsets).Ref())
	if err != nil {
		return longLeaf{}, err
	}
	l.blob, err = loadBlock(ar, slotAt(mem, longSlotBlob).Ref())
	if err != nil {
		return longLeaf{}, err
	}
	if s := slotAt(mem, longSlotNulls); !s.IsNull() {
		nulls, err := loadIntLeaf(ar, s.Ref())
		if err != nil {
			return longLeaf{}, err
		}
		l.nulls = &nulls
	}
	return l, nil
}

func (l *longLeaf) syncSlots() {
	setSlotAt(l.mem, longSlotOffsets, RefSlot(l.offsets.mem.Ref))
	setSlotAt(l.mem, longSlotBlob, RefSlot(l.blob.Ref))
	if l.nulls != nil {
		setSlotAt(l.mem, longSlotNulls, RefSlot(l.nulls.mem.Ref))
	} else {
		setSlotAt(l.mem, longSlotNulls, 0)
	}
}

func (l *longLeaf) count() int { return l.offsets.count() }

func (l *longLeaf) bounds(i int) (int, int) {
	start := 0
	if i > 0 {
		start = int(l.offsets.get(i - 1))
	}
	return start, int(l.offsets.get(i))
}

func (l *longLeaf) get(i int) ([]byte, bool) {
	if l.nulls != nil && l.nulls.get(i) != 0 {
		return nil, true
	}
	start, end := l.bounds(i)
	return blobData(l.blob)[start:end], false
}

func (l *longLeaf) set(i int, v []byte, null bool) error {
	if null {
		v = nil
	}
	start, end := l.bounds(i)
	blob, err := blobSplice(l.ar, l.blob, start, end, v)
	if err != nil {
		return err
	}
	l.blob = blob
	delta := int64(len(v) - (end - start))
	if delta != 0 {
		for j := i; j < l.offsets.count(); j++ {
			if err := l.offsets.set(j, l.offsets.get(j)+delta); err != nil {
				return err
			}
		}
	}
	if l.nulls != nil {
		if err := l.setNullFlag(i, null); err != nil {
			return err
		}
	}
	l.syncSlots()
	return nil
}

func (l *longLeaf) insert(i int, v []byte, null bool) error {
	if null {
		v = nil
	}
	start := 0
	if i > 0 {
		start = int(l.offsets.get(i - 1))
	}
	blob, err := blobSplice(l.ar, l.blob, start, start, v)
	if err != nil {
		return err
	}
	l.blob = blob
	if err := l.offsets.insert(i, int64(start)); err != nil {
		return err
	}
	delta := int64(len(v))
	for j := i; j < l.offsets.count(); j++ {
		if err := l.offsets.set(j, l.offsets.get(j)+delta); err != nil {
			return err
		}
	}
	if l.nulls != nil {
		flag := int64(0)
		if null {
			flag = 1
		}
		if err := l.nulls.insert(i, flag); err != nil {
			return err
		}
	}
	l.syncSlots()
	return nil
}

func (l *longLeaf) erase(i int) error {
	start, end := l.bounds(i)
	blob, err := blobSplice(l.ar, l.blob, start, end, nil)
	if err != nil {
		return err
	}
	l.blob = blob
	delta := int64(end - start)
	l.offsets.erase(i)
	for j := i; j < l.offsets.count(); j++ {
		if err := l.offsets.set(j, l.offsets.get(j)-delta); err != nil {
			return err
		}
	}
	if l.nulls != nil {
		l.nulls.erase(i)
	}
	l.syncSlots()
	return nil
}

func (l *longLeaf) setNullFlag(i int, null bool) error {
	flag := int64(0)
	if null {
		flag = 1
	}
	return l.nulls.set(i, flag)
}

// Big leaf: a hasrefs+ctx block whose slots are per-element blob refs. A
// null slot encodes null; an empty value is a zero-length blob child, which
// keeps null distinct from empty.

type bigLeaf struct {
	ar  *arena.Arena
	mem arena.MemRef
}

func newBigLeaf(ar *arena.Arena) (bigLeaf, error) {
	mem, err := newBlock(ar, flagHasRefs|flagCtx, 0, refArrayInitialCap*8)
	if err != nil {
		return bigLeaf{}, err
	}
	return bigLeaf{ar: ar, mem: mem}, nil
}

func loadBigLeaf(ar *arena.Arena, ref arena.Ref) (bigLeaf, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return bigLeaf{}, err
	}
	return bigLeaf{ar: ar, mem: mem}, nil
}

func (l *bigLeaf) count() int { return headerCount(l.mem.Data) }

func (l *bigLeaf) capSlots() int { return (len(l.mem.Data) - HeaderSize) / 8 }

func (l *bigLeaf) get(i int) ([]byte, bool, error) {
	s := slotAt(l.mem, i)
	if s.IsNull() {
		return nil, true, nil
	}
	blob, err := loadBlock(l.ar, s.Ref())
	if err != nil {
		return nil, false, err
	}
	return blobData(blob), false, nil
}

func (l *bigLeaf) makeChild(v []byte, null bool) (Slot, error) {
	if null {
		return 0, nil
	}
	blob, err := newBlob(l.ar, len(v))
	if err != nil {
		return 0, err
	}
	copy(payload(blob), v)
	setHeaderCount(blob.Data, len(v))
	return RefSlot(blob.Ref), nil
}

func (l *bigLeaf) freeChild(i int) error {
	s := slotAt(l.mem, i)
	if s.IsNull() {
		return nil
	}
	blob, err := loadBlock(l.ar, s.Ref())
	if err != nil {
		return err
	}
	freeBlock(l.ar, blob)
	return nil
}

func (l *bigLeaf) set(i int, v []byte, null bool) error {
	child, err := l.makeChild(v, null)
	if err != nil {
		return err
	}
	if err := l.freeChild(i); err != nil {
		return err
	}
	setSlotAt(l.mem, i, child)
	return nil
}

func (l *bigLeaf) insert(i int, v []byte, null bool) error {
	child, err := l.makeChild(v, null)
	if err != nil {
		return err
	}
	n := l.count()
	if n == l.capSlots() {
		mem, err := newBlock(l.ar, flagHasRefs|flagCtx, 0, n*2*8)
		if err != nil {
			return err
		}
		copy(payload(mem), payload(l.mem)[:n*8])
		setHeaderCount(mem.Data, n)
		freeBlock(l.ar, l.mem)
		l.mem = mem
	}
	for j := n; j > i; j-- {
		setSlotAt(l.mem, j, slotAt(l.mem, j-1))
	}
	setSlotAt(l.mem, i, child)
	setHeaderCount(l.mem.Data, n+1)
	return nil
}

func (l *bigLeaf) erase(i int) error {
	if err := l.freeChild(i); err != nil {
		return err
	}
	n := l.count()
	for j := i; j < n-1; j++ {
		setSlotAt(l.mem, j, slotAt(l.mem, j+1))
	}
	setSlotAt(l.mem, n-1, 0)
	setHeaderCount(l.mem.Data, n-1)
	return nil
}

func (l *bigLeaf) verify() error {
	for i := 0; i < l.count(); i++ {
		s := slotAt(l.mem, i)
		if !s.IsRef() {
			return fmt.Errorf("%w: big leaf slot %d holds a tagged value", ErrCorrupt, i)
		}
	}
	return nil
}

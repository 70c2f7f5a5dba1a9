package bptree

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/colgo/arena"
)

// nullSentinel is the reserved encoding for null in nullable integer
// leaves. Nullable integer leaves always use the full 8-byte width.
const nullSentinel = math.MinInt64

const intLeafInitialCap = 8

// intLeaf is a packed integer leaf: elements of 1, 2, 4 or 8 bytes, signed,
// little-endian. Growing the width or the capacity reallocates the block,
// so every mutating call can change the leaf's ref.
type intLeaf struct {
	ar  *arena.Arena
	mem arena.MemRef
}

func newIntLeaf(ar *arena.Arena, width byte, capElems int) (intLeaf, error) {
	if capElems < intLeafInitialCap {
		capElems = intLeafInitialCap
	}
	mem, err := newBlock(ar, 0, width, capElems*int(width))
	if err != nil {
		return intLeaf{}, err
	}
	return intLeaf{ar: ar, mem: mem}, nil
}

func loadIntLeaf(ar *arena.Arena, ref arena.Ref) (intLeaf, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return intLeaf{}, err
	}
	return intLeaf{ar: ar, mem: mem}, nil
}

func (l *intLeaf) count() int { return headerCount(l.mem.Data) }
func (l *intLeaf) width() int { return headerWidth(l.mem.Data) }

func (l *intLeaf) capElems() int {
	return (len(l.mem.Data) - HeaderSize) / l.width()
}

func (l *intLeaf) get(i int) int64 {
	w := l.width()
	b := payload(l.mem)[i*w:]
	switch w {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

func (l *intLeaf) put(i int, v int64) {
	w := l.width()
	b := payload(l.mem)[i*w:]
	switch w {
	case 1:
		b[0] = byte(int8(v))
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	default:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func fitsInWidth(v int64, w int) bool {
	switch w {
	case 1:
		return v >= math.MinInt8 && v <= math.MaxInt8
	case 2:
		return v >= math.MinInt16 && v <= math.MaxInt16
	case 4:
		return v >= math.MinInt32 && v <= math.MaxInt32
	default:
		return true
	}
}

func widthFor(v int64) byte {
	switch {
	case fitsInWidth(v, 1):
		return 1
	case fitsInWidth(v, 2):
		return 2
	case fitsInWidth(v, 4):
		return 4
	default:
		return 8
	}
}

// ensure guarantees room for one more element of the given value, widening
// or reallocating as needed.
func (l *intLeaf) ensure(v int64) error {
	w := l.width()
	if !fitsInWidth(v, w) {
		if err := l.widen(widthFor(v)); err != nil {
			return err
		}
		w = l.width()
	}
	if l.count() == l.capElems() {
		return l.realloc(l.capElems()*2, byte(w))
	}
	return nil
}

func (l *intLeaf) widen(newWidth byte) error {
	if int(newWidth) <= l.width() {
		return nil
	}
	capElems := l.capElems()
	if capElems < l.count() {
		capElems = l.count()
	}
	return l.realloc(capElems, newWidth)
}

func (l *intLeaf) realloc(capElems int, width byte) error {
	n := l.count()
	if capElems < n {
		capElems = n
	}
	mem, err := newBlock(l.ar, headerFlags(l.mem.Data), width, capElems*int(width))
	if err != nil {
		return err
	}
	next := intLeaf{ar: l.ar, mem: mem}
	for i := 0; i < n; i++ {
		next.put(i, l.get(i))
	}
	setHeaderCount(mem.Data, n)
	freeBlock(l.ar, l.mem)
	l.mem = mem
	return nil
}

func (l *intLeaf) set(i int, v int64) error {
	if !fitsInWidth(v, l.width()) {
		if err := l.widen(widthFor(v)); err != nil {
			return err
		}
	}
	l.put(i, v)
	return nil
}

func (l *intLeaf) insert(i int, v int64) error {
	if err := l.ensure(v); err != nil {
		return err
	}
	n := l.count()
	for j := n; j > i; j-- {
		l.put(j, l.get(j-1))
	}
	l.put(i, v)
	setHeaderCount(l.mem.Data, n+1)
	return nil
}

func (l *intLeaf) erase(i int) {
	n := l.count()
	for j := i; j < n-1; j++ {
		l.put(j, l.get(j+1))
	}
	setHeaderCount(l.mem.Data, n-1)
}

func (l *intLeaf) truncate() {
	setHeaderCount(l.mem.Data, 0)
}

// IntArray is a single-block array of packed integers: the substrate of
// spec payload arrays and of the offsets child inside long bytes leaves.
// Unlike a tree it has no upper element bound; the block reallocates as it
// grows, so consult Ref after every mutation.
type IntArray struct {
	l intLeaf
}

// NewIntArray allocates an empty integer array.
func NewIntArray(ar *arena.Arena) (*IntArray, error) {
	l, err := newIntLeaf(ar, 1, intLeafInitialCap)
	if err != nil {
		return nil, err
	}
	return &IntArray{l: l}, nil
}

// LoadIntArray attaches to an existing integer array block.
func LoadIntArray(ar *arena.Arena, ref arena.Ref) (*IntArray, error) {
	l, err := loadIntLeaf(ar, ref)
	if err != nil {
		return nil, err
	}
	return &IntArray{l: l}, nil
}

// InitFromRef re-attaches the array to a (possibly changed) root ref.
func (a *IntArray) InitFromRef(ref arena.Ref) error {
	l, err := loadIntLeaf(a.l.ar, ref)
	if err != nil {
		return err
	}
	a.l = l
	return nil
}

// Ref returns the current block ref. It changes when the array grows.
func (a *IntArray) Ref() arena.Ref { return a.l.mem.Ref }

// Size returns the number of elements.
func (a *IntArray) Size() int { return a.l.count() }

// Get returns the element at i.
func (a *IntArray) Get(i int) (int64, error) {
	if i < 0 || i >= a.l.count() {
		return 0, outOfRange(i, a.l.count())
	}
	return a.l.get(i), nil
}

// Set overwrites the element at i.
func (a *IntArray) Set(i int, v int64) error {
	if i < 0 || i >= a.l.count() {
		return outOfRange(i, a.l.count())
	}
	return a.l.set(i, v)
}

// Insert inserts v at i, shifting subsequent elements up.
func (a *IntArray) Insert(i int, v int64) error {
	if i < 0 || i > a.l.count() {
		return outOfRange(i, a.l.count()+1)
	}
	return a.l.insert(i, v)
}

// Add appends v.
func (a *IntArray) Add(v int64) error {
	return a.l.insert(a.l.count(), v)
}

// Erase removes the element at i.
func (a *IntArray) Erase(i int) error {
	if i < 0 || i >= a.l.count() {
		return outOfRange(i, a.l.count())
	}
	a.l.erase(i)
	return nil
}

// Clear removes all elements without shrinking the block.
func (a *IntArray) Clear() { a.l.truncate() }

// Adjust adds d to every element.
func (a *IntArray) Adjust(d int64) error {
	for i := 0; i < a.l.count(); i++ {
		if err := a.l.set(i, a.l.get(i)+d); err != nil {
			return err
		}
	}
	return nil
}

// Destroy frees the block.
func (a *IntArray) Destroy() {
	freeBlock(a.l.ar, a.l.mem)
	a.l.mem = arena.MemRef{}
}

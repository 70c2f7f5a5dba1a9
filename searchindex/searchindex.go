// Package searchindex implements the per-column search index: an
// associative value-to-row-set structure whose postings are Roaring
// Bitmaps. The index answers FindFirst/FindAll/Count without scanning the
// column and is kept in lock-step with every column mutation. Its persisted
// image lives in one arena blob at the slot following the column's
// (ndx + 1), which the accessor refresh protocol relies on.
package searchindex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/colgo/arena"
)

// NotFound is returned by FindFirst when no row holds the value.
const NotFound = -1

var (
	// ErrDuplicateValue is returned when a unique index rejects a write
	// that would duplicate an existing value. The rejection happens before
	// the column itself is touched.
	ErrDuplicateValue = errors.New("searchindex: duplicate value")

	// ErrBadImage is returned when a persisted index image cannot be
	// decoded.
	ErrBadImage = errors.New("searchindex: bad persisted image")
)

// Target is the column an index is attached to. The index reads values
// back through it during erase (the column still holds the old value at
// that point) and during a full rebuild.
type Target interface {
	Size() (int, error)
	IndexKey(row int) (string, error)
}

// Key encoding: one discriminator byte keeps null distinct from every
// value, including the empty one.

// KeyNull encodes the null key.
func KeyNull() string { return "\x00" }

// KeyBytes encodes a bytes value as an index key.
func KeyBytes(b []byte) string { return "\x01" + string(b) }

// KeyInt encodes an integer value as an index key.
func KeyInt(v int64) string {
	var buf [9]byte
	buf[0] = 0x01
	binary.BigEndian.PutUint64(buf[1:], uint64(v))
	return string(buf[:])
}

// Index maps encoded values to the set of rows holding them.
type Index struct {
	ar       *arena.Arena
	ref      arena.Ref // persisted image, null until saved
	postings map[string]*roaring.Bitmap
	unique   bool
	ndx      int // ndx in parent: column slot + 1
	target   Target
}

// New creates an empty index over the given target column.
func New(ar *arena.Arena, target Target, unique bool) *Index {
	return &Index{
		ar:       ar,
		postings: make(map[string]*roaring.Bitmap),
		unique:   unique,
		target:   target,
	}
}

// Load attaches to a persisted index image.
func Load(ar *arena.Arena, ref arena.Ref, target Target, unique bool) (*Index, error) {
	ix := New(ar, target, unique)
	ix.ref = ref
	if err := ix.loadImage(ref); err != nil {
		return nil, err
	}
	return ix, nil
}

// SetTarget rebinds the index to its column accessor.
func (ix *Index) SetTarget(t Target) { ix.target = t }

// SetNdxInParent records the index's slot in the table's columns block.
func (ix *Index) SetNdxInParent(ndx int) { ix.ndx = ndx }

// NdxInParent returns the recorded parent slot.
func (ix *Index) NdxInParent() int { return ix.ndx }

// AllowDuplicates configures whether duplicate values are rejected.
func (ix *Index) AllowDuplicates(allow bool) { ix.unique = !allow }

func (ix *Index) posting(key string) *roaring.Bitmap {
	bm, ok := ix.postings[key]
	if !ok {
		bm = roaring.New()
		ix.postings[key] = bm
	}
	return bm
}

// shiftRows renumbers every row at or above from by delta.
func (ix *Index) shiftRows(from int, delta int) {
	for key, bm := range ix.postings {
		if bm.IsEmpty() {
			delete(ix.postings, key)
			continue
		}
		next := roaring.New()
		it := bm.Iterator()
		for it.HasNext() {
			row := it.Next()
			if int(row) >= from {
				next.Add(uint32(int(row) + delta))
			} else {
				next.Add(row)
			}
		}
		ix.postings[key] = next
	}
}

// CheckInsert reports whether inserting count copies of key would violate
// uniqueness, without mutating anything. Columns call it before their own
// mutation so a constraint failure aborts while nothing has changed.
func (ix *Index) CheckInsert(key string, count int) error {
	if !ix.unique {
		return nil
	}
	if count > 1 {
		return fmt.Errorf("%w: %d copies in one insert", ErrDuplicateValue, count)
	}
	if bm, ok := ix.postings[key]; ok && !bm.IsEmpty() {
		return ErrDuplicateValue
	}
	return nil
}

// Insert registers count copies of key starting at row. For non-append
// inserts every row at or above the insertion point is renumbered first.
// On a unique index a duplicate fails before any state changes.
func (ix *Index) Insert(row int, key string, count int, isAppend bool) error {
	if ix.unique {
		if count > 1 {
			return fmt.Errorf("%w: %d copies in one insert", ErrDuplicateValue, count)
		}
		if bm, ok := ix.postings[key]; ok && !bm.IsEmpty() {
			return ErrDuplicateValue
		}
	}
	if !isAppend {
		ix.shiftRows(row, count)
	}
	bm := ix.posting(key)
	for k := 0; k < count; k++ {
		bm.Add(uint32(row + k))
	}
	return nil
}

// Set rewrites the key for row. Called before the column itself changes,
// so the old key is still readable through the target.
func (ix *Index) Set(row int, key string) error {
	oldKey, err := ix.target.IndexKey(row)
	if err != nil {
		return err
	}
	if oldKey == key {
		return nil
	}
	if ix.unique {
		if bm, ok := ix.postings[key]; ok && !bm.IsEmpty() {
			return ErrDuplicateValue
		}
	}
	if bm, ok := ix.postings[oldKey]; ok {
		bm.Remove(uint32(row))
		if bm.IsEmpty() {
			delete(ix.postings, oldKey)
		}
	}
	ix.posting(key).Add(uint32(row))
	return nil
}

// Erase removes row from the posting of its current value. Unless the row
// is the last one, higher rows are renumbered down. Called before the
// column mutation, per the ordering contract.
func (ix *Index) Erase(row int, isLast bool) error {
	key, err := ix.target.IndexKey(row)
	if err != nil {
		return err
	}
	if bm, ok := ix.postings[key]; ok {
		bm.Remove(uint32(row))
		if bm.IsEmpty() {
			delete(ix.postings, key)
		}
	}
	if !isLast {
		ix.shiftRows(row+1, -1)
	}
	return nil
}

// UpdateRef moves the registration of key from oldRow to newRow, leaving
// every other row untouched. Used by move-last-over.
func (ix *Index) UpdateRef(key string, oldRow, newRow int) {
	bm := ix.posting(key)
	bm.Remove(uint32(oldRow))
	bm.Add(uint32(newRow))
}

// FindFirst returns the smallest row holding key, or NotFound.
func (ix *Index) FindFirst(key string) int {
	bm, ok := ix.postings[key]
	if !ok || bm.IsEmpty() {
		return NotFound
	}
	return int(bm.Minimum())
}

// FindAll returns every row holding key in ascending order.
func (ix *Index) FindAll(key string) []uint32 {
	bm, ok := ix.postings[key]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// FindAllBitmap returns the posting bitmap itself, avoiding a copy. The
// bitmap must not be modified and is only valid until the next mutation.
func (ix *Index) FindAllBitmap(key string) *roaring.Bitmap {
	return ix.postings[key]
}

// Count returns the number of rows holding key.
func (ix *Index) Count(key string) int {
	bm, ok := ix.postings[key]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// Clear drops every posting.
func (ix *Index) Clear() {
	ix.postings = make(map[string]*roaring.Bitmap)
}

// Rebuild repopulates the index from its target column.
func (ix *Index) Rebuild() error {
	ix.Clear()
	n, err := ix.target.Size()
	if err != nil {
		return err
	}
	for row := 0; row < n; row++ {
		key, err := ix.target.IndexKey(row)
		if err != nil {
			return err
		}
		ix.posting(key).Add(uint32(row))
	}
	return nil
}

// Verify checks the index against its target column.
func (ix *Index) Verify() error {
	n, err := ix.target.Size()
	if err != nil {
		return err
	}
	total := uint64(0)
	for key, bm := range ix.postings {
		it := bm.Iterator()
		for it.HasNext() {
			row := int(it.Next())
			if row >= n {
				return fmt.Errorf("searchindex: posting %q references row %d beyond size %d", key, row, n)
			}
			got, err := ix.target.IndexKey(row)
			if err != nil {
				return err
			}
			if got != key {
				return fmt.Errorf("searchindex: posting %q does not match row %d", key, row)
			}
		}
		total += bm.GetCardinality()
	}
	if total != uint64(n) {
		return fmt.Errorf("searchindex: postings cover %d rows, column has %d", total, n)
	}
	return nil
}

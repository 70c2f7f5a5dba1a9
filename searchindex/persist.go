package searchindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
)

// Persisted image: u32 key count, then per key u32 length, the key bytes,
// u32 posting length, and the roaring serialization of the posting.

// Save writes the index image into a fresh arena blob, releasing the
// previous one, and returns the new ref. The table stores it in the slot
// after the column's.
func (ix *Index) Save() (arena.Ref, error) {
	var buf bytes.Buffer
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(ix.postings)))
	buf.Write(scratch[:])
	for key, bm := range ix.postings {
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(key)))
		buf.Write(scratch[:])
		buf.WriteString(key)

		data, err := bm.ToBytes()
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(data)))
		buf.Write(scratch[:])
		buf.Write(data)
	}

	if !ix.ref.IsNull() {
		if err := bptree.FreeBlob(ix.ar, ix.ref); err != nil {
			return 0, err
		}
	}
	ref, err := bptree.NewBlob(ix.ar, buf.Bytes())
	if err != nil {
		return 0, err
	}
	ix.ref = ref
	return ref, nil
}

// Ref returns the ref of the last saved image, or the null ref.
func (ix *Index) Ref() arena.Ref { return ix.ref }

func (ix *Index) loadImage(ref arena.Ref) error {
	ix.postings = make(map[string]*roaring.Bitmap)
	if ref.IsNull() {
		return nil
	}
	data, err := bptree.BlobData(ix.ar, ref)
	if err != nil {
		return err
	}
	r := bytes.NewReader(data)
	var scratch [4]byte
	readU32 := func() (int, error) {
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrBadImage, err)
		}
		return int(binary.LittleEndian.Uint32(scratch[:])), nil
	}

	n, err := readU32()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		keyLen, err := readU32()
		if err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return fmt.Errorf("%w: %w", ErrBadImage, err)
		}
		bmLen, err := readU32()
		if err != nil {
			return err
		}
		raw := make([]byte, bmLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("%w: %w", ErrBadImage, err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("%w: %w", ErrBadImage, err)
		}
		ix.postings[string(key)] = bm
	}
	return nil
}

// RefreshAccessorTree re-synchronizes the index with the ref stored in the
// parent after an external commit. A null ref means no image was ever
// persisted, in which case the postings are rebuilt from the column.
func (ix *Index) RefreshAccessorTree(ref arena.Ref) error {
	ix.ref = ref
	if ref.IsNull() {
		return ix.Rebuild()
	}
	return ix.loadImage(ref)
}

// Destroy releases the persisted image and drops every posting.
func (ix *Index) Destroy() error {
	if !ix.ref.IsNull() {
		if err := bptree.FreeBlob(ix.ar, ix.ref); err != nil {
			return err
		}
		ix.ref = 0
	}
	ix.Clear()
	return nil
}

package bptree

import (
	"github.com/hupe1980/colgo/arena"
)

// NewBlob stores a raw byte payload in its own block and returns the ref.
// Blobs carry the standard block header, so they are safe to reach through
// DestroyDeep.
func NewBlob(ar *arena.Arena, data []byte) (arena.Ref, error) {
	mem, err := newBlob(ar, len(data))
	if err != nil {
		return 0, err
	}
	copy(payload(mem), data)
	setHeaderCount(mem.Data, len(data))
	return mem.Ref, nil
}

// BlobData returns the payload of a blob block. The slice aliases arena
// memory.
func BlobData(ar *arena.Arena, ref arena.Ref) ([]byte, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return nil, err
	}
	return blobData(mem), nil
}

// FreeBlob releases a blob block.
func FreeBlob(ar *arena.Arena, ref arena.Ref) error {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return err
	}
	freeBlock(ar, mem)
	return nil
}

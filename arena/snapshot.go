package arena

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/colgo/internal/mmap"
)

// Compression selects the codec used for arena snapshots.
type Compression uint8

const (
	// CompressionNone stores the image uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 frame compression (fast, lower ratio).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses Zstandard compression (better ratio).
	CompressionZstd Compression = 2
)

var snapshotMagic = [8]byte{'c', 'o', 'l', 'g', 'o', 'a', 'r', '1'}

const snapshotHeaderSize = 8 + 1 + 8 + 8

// ErrBadSnapshot is returned when a snapshot header or payload cannot be
// decoded.
var ErrBadSnapshot = errors.New("arena: bad snapshot")

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// WriteTo streams the live block image to w, recording top as the entry
// ref of the snapshot. Returns the number of bytes written.
func (a *Arena) WriteTo(w io.Writer, top Ref, c Compression) (int64, error) {
	cw := &countingWriter{w: w}

	var hdr [snapshotHeaderSize]byte
	copy(hdr[:8], snapshotMagic[:])
	hdr[8] = byte(c)
	binary.LittleEndian.PutUint64(hdr[9:17], uint64(top))
	imageSize := a.top - baseOffset
	binary.LittleEndian.PutUint64(hdr[17:25], imageSize)
	if _, err := cw.Write(hdr[:]); err != nil {
		return cw.n, err
	}

	var (
		body   io.Writer
		closer io.Closer
	)
	switch c {
	case CompressionNone:
		body = cw
	case CompressionLZ4:
		lw := lz4.NewWriter(cw)
		body, closer = lw, lw
	case CompressionZstd:
		zw, err := zstd.NewWriter(cw)
		if err != nil {
			return cw.n, err
		}
		body, closer = zw, zw
	default:
		return cw.n, fmt.Errorf("%w: unknown compression %d", ErrBadSnapshot, c)
	}

	if err := a.writeImage(body); err != nil {
		if closer != nil {
			closer.Close()
		}
		return cw.n, err
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

func (a *Arena) writeImage(w io.Writer) error {
	remaining := a.top - baseOffset
	for _, c := range a.chunks {
		if remaining == 0 {
			break
		}
		used := uint64(len(c.buf))
		if used > remaining {
			used = remaining
		}
		if _, err := w.Write(c.buf[:used]); err != nil {
			return err
		}
		remaining -= used
	}
	if remaining != 0 {
		return fmt.Errorf("%w: image truncated, %d bytes unaccounted", ErrBadSnapshot, remaining)
	}
	return nil
}

// ReadFrom reconstructs an arena from a snapshot stream produced by
// WriteTo. Returns the arena and the entry ref recorded in the snapshot.
func ReadFrom(r io.Reader) (*Arena, Ref, error) {
	var hdr [snapshotHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	if !bytes.Equal(hdr[:8], snapshotMagic[:]) {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	c := Compression(hdr[8])
	top := Ref(binary.LittleEndian.Uint64(hdr[9:17]))
	imageSize := binary.LittleEndian.Uint64(hdr[17:25])

	var body io.Reader
	switch c {
	case CompressionNone:
		body = r
	case CompressionLZ4:
		body = lz4.NewReader(r)
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
		}
		defer zr.Close()
		body = zr
	default:
		return nil, 0, fmt.Errorf("%w: unknown compression %d", ErrBadSnapshot, c)
	}

	buf := make([]byte, imageSize)
	if _, err := io.ReadFull(body, buf); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}

	a := &Arena{
		chunks:    []chunk{{start: baseOffset, buf: buf}},
		top:       baseOffset + imageSize,
		free:      make(map[int][]Ref),
		chunkSize: defaultChunkSize,
	}
	return a, top, nil
}

// OpenFile maps the snapshot at path and reconstructs the arena from it.
// The mapping is released before returning; the arena owns plain memory.
func OpenFile(path string) (*Arena, Ref, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	a, top, err := ReadFrom(bytes.NewReader(f.Data))
	if err != nil {
		return nil, 0, err
	}
	return a, top, nil
}

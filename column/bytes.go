package column

import (
	"bytes"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/searchindex"
	"github.com/hupe1980/colgo/spec"
)

// BytesColumn is the variable-length bytes column. Values live in one of
// three leaf encodings picked by size; a leaf is promoted in place the
// first time it has to hold a bigger value and never demoted except by
// Clear. The string column is the same column with zero-termination turned
// on for C-string compatibility.
type BytesColumn struct {
	baseColumn
	cfg      Config
	zeroTerm bool
}

// NewBytesColumn creates an empty binary column.
func NewBytesColumn(ar *arena.Arena, cfg Config) (*BytesColumn, error) {
	return newBytesColumn(ar, cfg, false)
}

// NewStringColumn creates an empty string column: values are stored with a
// terminating zero byte.
func NewStringColumn(ar *arena.Arena, cfg Config) (*BytesColumn, error) {
	return newBytesColumn(ar, cfg, true)
}

func newBytesColumn(ar *arena.Arena, cfg Config, zeroTerm bool) (*BytesColumn, error) {
	tree, err := bptree.New(ar, cfg.treeConfig(bptree.FamilyBytes))
	if err != nil {
		return nil, err
	}
	return &BytesColumn{baseColumn: baseColumn{ar: ar, tree: tree}, cfg: cfg, zeroTerm: zeroTerm}, nil
}

// LoadBytesColumn attaches a binary column accessor to an existing root.
func LoadBytesColumn(ar *arena.Arena, ref arena.Ref, cfg Config) (*BytesColumn, error) {
	return loadBytesColumn(ar, ref, cfg, false)
}

// LoadStringColumn attaches a string column accessor to an existing root.
func LoadStringColumn(ar *arena.Arena, ref arena.Ref, cfg Config) (*BytesColumn, error) {
	return loadBytesColumn(ar, ref, cfg, true)
}

func loadBytesColumn(ar *arena.Arena, ref arena.Ref, cfg Config, zeroTerm bool) (*BytesColumn, error) {
	tree, err := bptree.Load(ar, ref, cfg.treeConfig(bptree.FamilyBytes))
	if err != nil {
		return nil, err
	}
	return &BytesColumn{baseColumn: baseColumn{ar: ar, tree: tree}, cfg: cfg, zeroTerm: zeroTerm}, nil
}

// Nullable reports whether null is representable, distinct from empty.
func (c *BytesColumn) Nullable() bool { return c.cfg.Nullable }

func (c *BytesColumn) encode(v []byte, null bool) bptree.Value {
	if null {
		return bptree.NullValue()
	}
	if c.zeroTerm {
		stored := make([]byte, len(v)+1)
		copy(stored, v)
		return bptree.BytesValue(stored)
	}
	return bptree.BytesValue(v)
}

func (c *BytesColumn) decode(v bptree.Value) ([]byte, bool) {
	if v.Null {
		return nil, true
	}
	b := v.Bytes
	if c.zeroTerm && len(b) > 0 {
		b = b[:len(b)-1]
	}
	return b, false
}

// CreateSearchIndex attaches a fresh search index, populated from the
// current rows.
func (c *BytesColumn) CreateSearchIndex(unique bool) (*searchindex.Index, error) {
	ix := searchindex.New(c.ar, (*bytesIndexTarget)(c), unique)
	if err := ix.Rebuild(); err != nil {
		return nil, err
	}
	c.index = ix
	ix.SetNdxInParent(c.ndx + 1)
	return ix, nil
}

// AttachSearchIndex adopts a loaded search index.
func (c *BytesColumn) AttachSearchIndex(ix *searchindex.Index) {
	ix.SetTarget((*bytesIndexTarget)(c))
	ix.SetNdxInParent(c.ndx + 1)
	c.index = ix
}

type bytesIndexTarget BytesColumn

func (t *bytesIndexTarget) Size() (int, error) { return (*BytesColumn)(t).Size() }

func (t *bytesIndexTarget) IndexKey(row int) (string, error) {
	c := (*BytesColumn)(t)
	v, err := c.tree.Get(row)
	if err != nil {
		return "", err
	}
	b, null := c.decode(v)
	if null {
		return searchindex.KeyNull(), nil
	}
	return searchindex.KeyBytes(b), nil
}

func (c *BytesColumn) key(v []byte, null bool) string {
	if null {
		return searchindex.KeyNull()
	}
	return searchindex.KeyBytes(v)
}

// Get returns the value at row. The slice aliases arena memory and is only
// valid until the next mutation.
func (c *BytesColumn) Get(row int) ([]byte, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return nil, err
	}
	b, _ := c.decode(v)
	return b, nil
}

// GetString returns the value at row as a string; null reads as "".
func (c *BytesColumn) GetString(row int) (string, error) {
	b, err := c.Get(row)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsNull reports whether the value at row is null.
func (c *BytesColumn) IsNull(row int) (bool, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return false, err
	}
	return v.Null, nil
}

// LeafKindAt exposes the leaf encoding holding row, for verification.
func (c *BytesColumn) LeafKindAt(row int) (bptree.Kind, error) {
	return c.tree.LeafKindAt(row)
}

func (c *BytesColumn) set(row int, v []byte, null bool) error {
	if null && !c.cfg.Nullable {
		return ErrNullNotSupported
	}
	if c.index != nil {
		if err := c.index.Set(row, c.key(v, null)); err != nil {
			return err
		}
	}
	if err := c.tree.Set(row, c.encode(v, null)); err != nil {
		return err
	}
	return c.syncRoot()
}

// Set overwrites the value at row, promoting the target leaf when needed.
func (c *BytesColumn) Set(row int, v []byte) error { return c.set(row, v, false) }

// SetString overwrites the value at row with a string.
func (c *BytesColumn) SetString(row int, v string) error { return c.set(row, []byte(v), false) }

// SetNull writes null at row.
func (c *BytesColumn) SetNull(row int) error { return c.set(row, nil, true) }

func (c *BytesColumn) insert(row int, v []byte, null bool, nrows int) error {
	if null && !c.cfg.Nullable {
		return ErrNullNotSupported
	}
	size, err := c.Size()
	if err != nil {
		return err
	}
	if row == NPos {
		row = size
	}
	isAppend := row == size

	key := c.key(v, null)
	if c.index != nil {
		if err := c.index.CheckInsert(key, nrows); err != nil {
			return err
		}
	}
	for k := 0; k < nrows; k++ {
		if err := c.tree.Insert(row+k, c.encode(v, null)); err != nil {
			return err
		}
	}
	if err := c.syncRoot(); err != nil {
		return err
	}
	if c.index != nil {
		return c.index.Insert(row, key, nrows, isAppend)
	}
	return nil
}

// Insert inserts v before row; NPos appends.
func (c *BytesColumn) Insert(row int, v []byte, nrows int) error {
	return c.insert(row, v, false, nrows)
}

// InsertString inserts a string value before row; NPos appends.
func (c *BytesColumn) InsertString(row int, v string, nrows int) error {
	return c.insert(row, []byte(v), false, nrows)
}

// InsertRows inserts default values (empty, or null when nullable).
func (c *BytesColumn) InsertRows(row, nrows int) error {
	return c.insert(row, nil, c.cfg.Nullable, nrows)
}

// Add appends v.
func (c *BytesColumn) Add(v []byte) error { return c.Insert(NPos, v, 1) }

// AddString appends a string value.
func (c *BytesColumn) AddString(v string) error { return c.InsertString(NPos, v, 1) }

// EraseRow removes the row. The index is updated first, while it can still
// resolve the removed value through the column.
func (c *BytesColumn) EraseRow(row int, isLast bool) error {
	if c.index != nil {
		if err := c.index.Erase(row, isLast); err != nil {
			return err
		}
	}
	if err := c.tree.Erase(row); err != nil {
		return err
	}
	return c.syncRoot()
}

// MoveLastOver overwrites row with the last row's value and drops the last
// row. The value is copied through a heap buffer first: source and
// destination can share a leaf, and overwriting row would trample the
// bytes still to be read.
func (c *BytesColumn) MoveLastOver(row, last int) error {
	v, err := c.tree.Get(last)
	if err != nil {
		return err
	}
	b, null := c.decode(v)
	buf := append([]byte(nil), b...)

	if c.index != nil {
		if err := c.index.Erase(row, true); err != nil {
			return err
		}
		if row != last {
			c.index.UpdateRef(c.key(buf, null), last, row)
		}
	}
	if row != last {
		if err := c.tree.Set(row, c.encode(buf, null)); err != nil {
			return err
		}
	}
	if err := c.tree.Erase(last); err != nil {
		return err
	}
	return c.syncRoot()
}

// Clear removes every row, replacing the root with a fresh small leaf.
func (c *BytesColumn) Clear() error {
	if err := c.tree.Clear(); err != nil {
		return err
	}
	if c.index != nil {
		c.index.Clear()
	}
	return c.syncRoot()
}

func (c *BytesColumn) scan(v []byte, null bool, fn func(row int) bool) error {
	return c.tree.ForEach(func(i int, val bptree.Value) bool {
		b, isNull := c.decode(val)
		if isNull != null {
			return true
		}
		if !null && !bytes.Equal(b, v) {
			return true
		}
		return fn(i)
	})
}

// FindFirst returns the smallest row holding v, or searchindex.NotFound.
// With an index attached the scan is skipped entirely.
func (c *BytesColumn) FindFirst(v []byte) (int, error) {
	if c.index != nil {
		return c.index.FindFirst(searchindex.KeyBytes(v)), nil
	}
	found := searchindex.NotFound
	err := c.scan(v, false, func(row int) bool {
		found = row
		return false
	})
	return found, err
}

// FindFirstString returns the smallest row holding v.
func (c *BytesColumn) FindFirstString(v string) (int, error) {
	return c.FindFirst([]byte(v))
}

// FindAll returns every row holding v in ascending order.
func (c *BytesColumn) FindAll(v []byte) ([]int, error) {
	if c.index != nil {
		rows := c.index.FindAll(searchindex.KeyBytes(v))
		out := make([]int, len(rows))
		for i, r := range rows {
			out[i] = int(r)
		}
		return out, nil
	}
	var out []int
	err := c.scan(v, false, func(row int) bool {
		out = append(out, row)
		return true
	})
	return out, err
}

// Count returns the number of rows holding v.
func (c *BytesColumn) Count(v []byte) (int, error) {
	if c.index != nil {
		return c.index.Count(searchindex.KeyBytes(v)), nil
	}
	n := 0
	err := c.scan(v, false, func(int) bool {
		n++
		return true
	})
	return n, err
}

// RefreshAccessorTree re-reads the root ref from the parent. When the new
// root is a different leaf kind the tree dispatch adapts by itself; no
// accessor reallocation is needed.
func (c *BytesColumn) RefreshAccessorTree(colNdx int, sp *spec.Spec) error {
	_ = colNdx
	_ = sp
	return c.refreshFromParent()
}

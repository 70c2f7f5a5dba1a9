package column

import (
	"bytes"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/searchindex"
	"github.com/hupe1980/colgo/spec"
)

// EnumColumn is the dictionary-encoded string column: an integer column of
// key indices plus a grow-only key list shared through the spec. Every
// value is an index into the keys; keys are appended in first-use order
// and never removed, not even by Clear.
type EnumColumn struct {
	baseColumn
	cfg  Config
	keys *bptree.Tree

	// When bound, a moved keys root is written back into the spec's
	// enumkeys array.
	sp      *spec.Spec
	specNdx int
}

// NewEnumColumn creates an empty enumeration column with its own key list.
func NewEnumColumn(ar *arena.Arena, cfg Config) (*EnumColumn, error) {
	values, err := bptree.New(ar, cfg.treeConfig(bptree.FamilyInt))
	if err != nil {
		return nil, err
	}
	keys, err := bptree.New(ar, bptree.Config{
		Family:       bptree.FamilyBytes,
		MaxLeafSize:  cfg.MaxLeafSize,
		MaxInnerSize: cfg.MaxInnerSize,
	})
	if err != nil {
		return nil, err
	}
	return &EnumColumn{
		baseColumn: baseColumn{ar: ar, tree: values},
		cfg:        cfg,
		keys:       keys,
	}, nil
}

// LoadEnumColumn attaches an enumeration column to existing values and
// keys roots.
func LoadEnumColumn(ar *arena.Arena, valuesRef, keysRef arena.Ref, cfg Config) (*EnumColumn, error) {
	values, err := bptree.Load(ar, valuesRef, cfg.treeConfig(bptree.FamilyInt))
	if err != nil {
		return nil, err
	}
	keys, err := bptree.Load(ar, keysRef, bptree.Config{
		Family:       bptree.FamilyBytes,
		MaxLeafSize:  cfg.MaxLeafSize,
		MaxInnerSize: cfg.MaxInnerSize,
	})
	if err != nil {
		return nil, err
	}
	return &EnumColumn{
		baseColumn: baseColumn{ar: ar, tree: values},
		cfg:        cfg,
		keys:       keys,
	}, nil
}

// BindSpec registers the spec slot carrying the key list, so key growth
// can write back a moved root.
func (c *EnumColumn) BindSpec(sp *spec.Spec, ndx int) {
	c.sp = sp
	c.specNdx = ndx
}

// KeysRef returns the current root of the key list.
func (c *EnumColumn) KeysRef() arena.Ref { return c.keys.Ref() }

// Nullable reports whether null is representable.
func (c *EnumColumn) Nullable() bool { return c.cfg.Nullable }

func (c *EnumColumn) syncKeys() error {
	if c.sp == nil {
		return nil
	}
	return c.sp.SetEnumKeysRef(c.specNdx, c.keys.Ref())
}

// KeyCount returns the number of distinct keys ever written.
func (c *EnumColumn) KeyCount() (int, error) { return c.keys.Size() }

// GetKey returns the key at the given dictionary index.
func (c *EnumColumn) GetKey(ndx int) (string, error) {
	v, err := c.keys.Get(ndx)
	if err != nil {
		return "", err
	}
	return string(v.Bytes), nil
}

// keyNdxOf returns the dictionary index of value, if present.
func (c *EnumColumn) keyNdxOf(value []byte) (int, bool, error) {
	found, ok := 0, false
	err := c.keys.ForEach(func(i int, v bptree.Value) bool {
		if bytes.Equal(v.Bytes, value) {
			found, ok = i, true
			return false
		}
		return true
	})
	return found, ok, err
}

// getOrAddKey returns the dictionary index of value, appending it when
// absent. Keys grow monotonically.
func (c *EnumColumn) getOrAddKey(value []byte) (int, error) {
	ndx, ok, err := c.keyNdxOf(value)
	if err != nil {
		return 0, err
	}
	if ok {
		return ndx, nil
	}
	n, err := c.keys.Size()
	if err != nil {
		return 0, err
	}
	if err := c.keys.Insert(n, bptree.BytesValue(value)); err != nil {
		return 0, err
	}
	return n, c.syncKeys()
}

// CreateSearchIndex attaches a fresh search index over the string values
// (not the key indices).
func (c *EnumColumn) CreateSearchIndex(unique bool) (*searchindex.Index, error) {
	ix := searchindex.New(c.ar, (*enumIndexTarget)(c), unique)
	if err := ix.Rebuild(); err != nil {
		return nil, err
	}
	c.index = ix
	ix.SetNdxInParent(c.ndx + 1)
	return ix, nil
}

// AttachSearchIndex adopts a loaded search index.
func (c *EnumColumn) AttachSearchIndex(ix *searchindex.Index) {
	ix.SetTarget((*enumIndexTarget)(c))
	ix.SetNdxInParent(c.ndx + 1)
	c.index = ix
}

type enumIndexTarget EnumColumn

func (t *enumIndexTarget) Size() (int, error) { return (*EnumColumn)(t).Size() }

func (t *enumIndexTarget) IndexKey(row int) (string, error) {
	c := (*EnumColumn)(t)
	v, err := c.tree.Get(row)
	if err != nil {
		return "", err
	}
	if v.Null {
		return searchindex.KeyNull(), nil
	}
	key, err := c.GetKey(int(v.Int))
	if err != nil {
		return "", err
	}
	return searchindex.KeyBytes([]byte(key)), nil
}

// KeyIndexAt returns the dictionary index stored at row.
func (c *EnumColumn) KeyIndexAt(row int) (int, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return 0, err
	}
	return int(v.Int), nil
}

// GetString returns the string value at row; null reads as "".
func (c *EnumColumn) GetString(row int) (string, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return "", err
	}
	if v.Null {
		return "", nil
	}
	return c.GetKey(int(v.Int))
}

// IsNull reports whether the value at row is null.
func (c *EnumColumn) IsNull(row int) (bool, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return false, err
	}
	return v.Null, nil
}

func (c *EnumColumn) set(row int, value []byte, null bool) error {
	if null && !c.cfg.Nullable {
		return ErrNullNotSupported
	}
	if c.index != nil {
		key := searchindex.KeyNull()
		if !null {
			key = searchindex.KeyBytes(value)
		}
		if err := c.index.Set(row, key); err != nil {
			return err
		}
	}
	v := bptree.NullValue()
	if !null {
		keyNdx, err := c.getOrAddKey(value)
		if err != nil {
			return err
		}
		v = bptree.IntValue(int64(keyNdx))
	}
	if err := c.tree.Set(row, v); err != nil {
		return err
	}
	return c.syncRoot()
}

// SetString overwrites the value at row, growing the dictionary when the
// value is new.
func (c *EnumColumn) SetString(row int, value string) error {
	return c.set(row, []byte(value), false)
}

// SetNull writes null at row.
func (c *EnumColumn) SetNull(row int) error { return c.set(row, nil, true) }

func (c *EnumColumn) insert(row int, value []byte, null bool, nrows int) error {
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

	key := searchindex.KeyNull()
	if !null {
		key = searchindex.KeyBytes(value)
	}
	if c.index != nil {
		if err := c.index.CheckInsert(key, nrows); err != nil {
			return err
		}
	}

	v := bptree.NullValue()
	if !null {
		keyNdx, err := c.getOrAddKey(value)
		if err != nil {
			return err
		}
		v = bptree.IntValue(int64(keyNdx))
	}
	for k := 0; k < nrows; k++ {
		if err := c.tree.Insert(row+k, v); err != nil {
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

// InsertString inserts a value before row; NPos appends.
func (c *EnumColumn) InsertString(row int, value string, nrows int) error {
	return c.insert(row, []byte(value), false, nrows)
}

// InsertRows inserts default values (empty string, or null when nullable).
func (c *EnumColumn) InsertRows(row, nrows int) error {
	return c.insert(row, nil, c.cfg.Nullable, nrows)
}

// AddString appends a value.
func (c *EnumColumn) AddString(value string) error {
	return c.InsertString(NPos, value, 1)
}

// EraseRow removes the row; index first, per the ordering contract. Keys
// are untouched.
func (c *EnumColumn) EraseRow(row int, isLast bool) error {
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
// row.
func (c *EnumColumn) MoveLastOver(row, last int) error {
	v, err := c.tree.Get(last)
	if err != nil {
		return err
	}
	if c.index != nil {
		if err := c.index.Erase(row, true); err != nil {
			return err
		}
		if row != last {
			key := searchindex.KeyNull()
			if !v.Null {
				s, err := c.GetKey(int(v.Int))
				if err != nil {
					return err
				}
				key = searchindex.KeyBytes([]byte(s))
			}
			c.index.UpdateRef(key, last, row)
		}
	}
	if row != last {
		if err := c.tree.Set(row, v); err != nil {
			return err
		}
	}
	if err := c.tree.Erase(last); err != nil {
		return err
	}
	return c.syncRoot()
}

// SwapRows exchanges the values of rows a and b. Rows encoding the same
// key are left alone.
func (c *EnumColumn) SwapRows(a, b int) error {
	va, err := c.tree.Get(a)
	if err != nil {
		return err
	}
	vb, err := c.tree.Get(b)
	if err != nil {
		return err
	}
	if va.Null == vb.Null && va.Int == vb.Int {
		return nil
	}
	if c.index != nil {
		ta := (*enumIndexTarget)(c)
		keyA, err := ta.IndexKey(a)
		if err != nil {
			return err
		}
		keyB, err := ta.IndexKey(b)
		if err != nil {
			return err
		}
		if err := c.index.Set(a, keyB); err != nil {
			return err
		}
		if err := c.index.Set(b, keyA); err != nil {
			return err
		}
	}
	if err := c.tree.Set(a, vb); err != nil {
		return err
	}
	if err := c.tree.Set(b, va); err != nil {
		return err
	}
	return c.syncRoot()
}

// Clear removes every row. The dictionary is intentionally kept; key
// compaction is never performed.
func (c *EnumColumn) Clear() error {
	if err := c.tree.Clear(); err != nil {
		return err
	}
	if c.index != nil {
		c.index.Clear()
	}
	return c.syncRoot()
}

// FindFirst translates the value through the dictionary, then scans the
// key indices, unless the index can answer directly.
func (c *EnumColumn) FindFirst(value string) (int, error) {
	if c.index != nil {
		return c.index.FindFirst(searchindex.KeyBytes([]byte(value))), nil
	}
	keyNdx, ok, err := c.keyNdxOf([]byte(value))
	if err != nil || !ok {
		return searchindex.NotFound, err
	}
	found := searchindex.NotFound
	err = c.tree.ForEach(func(i int, v bptree.Value) bool {
		if !v.Null && v.Int == int64(keyNdx) {
			found = i
			return false
		}
		return true
	})
	return found, err
}

// FindAll returns every row holding value in ascending order.
func (c *EnumColumn) FindAll(value string) ([]int, error) {
	if c.index != nil {
		rows := c.index.FindAll(searchindex.KeyBytes([]byte(value)))
		out := make([]int, len(rows))
		for i, r := range rows {
			out[i] = int(r)
		}
		return out, nil
	}
	keyNdx, ok, err := c.keyNdxOf([]byte(value))
	if err != nil || !ok {
		return nil, err
	}
	var out []int
	err = c.tree.ForEach(func(i int, v bptree.Value) bool {
		if !v.Null && v.Int == int64(keyNdx) {
			out = append(out, i)
		}
		return true
	})
	return out, err
}

// Count returns the number of rows holding value.
func (c *EnumColumn) Count(value string) (int, error) {
	if c.index != nil {
		return c.index.Count(searchindex.KeyBytes([]byte(value))), nil
	}
	keyNdx, ok, err := c.keyNdxOf([]byte(value))
	if err != nil || !ok {
		return 0, err
	}
	n := 0
	err = c.tree.ForEach(func(_ int, v bptree.Value) bool {
		if !v.Null && v.Int == int64(keyNdx) {
			n++
		}
		return true
	})
	return n, err
}

// Destroy frees the values tree; the key list belongs to the spec and is
// destroyed with it when bound, or here when standalone.
func (c *EnumColumn) Destroy() error {
	if c.sp == nil {
		if err := c.keys.Destroy(); err != nil {
			return err
		}
	}
	return c.baseColumn.Destroy()
}

// Verify checks both structures and the dictionary invariant: every value
// is a valid key index.
func (c *EnumColumn) Verify() error {
	if err := c.baseColumn.Verify(); err != nil {
		return err
	}
	if err := c.keys.Verify(); err != nil {
		return err
	}
	keyCount, err := c.keys.Size()
	if err != nil {
		return err
	}
	var bad error
	err = c.tree.ForEach(func(i int, v bptree.Value) bool {
		if !v.Null && (v.Int < 0 || v.Int >= int64(keyCount)) {
			bad = &ErrBadKeyIndex{Row: i, KeyNdx: int(v.Int), KeyCount: keyCount}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return bad
}

// RefreshAccessorTree re-reads the values root from the parent and the
// keys root from the spec's enumkeys array.
func (c *EnumColumn) RefreshAccessorTree(colNdx int, sp *spec.Spec) error {
	if err := c.refreshFromParent(); err != nil {
		return err
	}
	if sp != nil {
		keysRef, err := sp.EnumKeysRef(colNdx)
		if err != nil {
			return err
		}
		if err := c.keys.InitFromRef(keysRef); err != nil {
			return err
		}
		c.sp = sp
		c.specNdx = colNdx
	}
	return nil
}

// UpgradeStringToEnum rebuilds a plain string column as an enumeration
// column, registers the key list in the spec, and destroys the old string
// storage. The returned column takes over the original's parent slot.
func UpgradeStringToEnum(sc *BytesColumn, sp *spec.Spec, ndx int, cfg Config) (*EnumColumn, error) {
	ec, err := NewEnumColumn(sc.ar, cfg)
	if err != nil {
		return nil, err
	}
	size, err := sc.Size()
	if err != nil {
		return nil, err
	}
	for row := 0; row < size; row++ {
		null, err := sc.IsNull(row)
		if err != nil {
			return nil, err
		}
		if null {
			if err := ec.insert(NPos, nil, true, 1); err != nil {
				return nil, err
			}
			continue
		}
		v, err := sc.GetString(row)
		if err != nil {
			return nil, err
		}
		if err := ec.AddString(v); err != nil {
			return nil, err
		}
	}
	if sp != nil {
		if err := sp.UpgradeStringToEnum(ndx, ec.KeysRef()); err != nil {
			return nil, err
		}
		ec.BindSpec(sp, ndx)
	}
	ec.SetParent(sc.parent, sc.ndx)
	if sc.index != nil {
		ec.AttachSearchIndex(sc.index)
		sc.index = nil
	}
	if err := sc.tree.Destroy(); err != nil {
		return nil, err
	}
	return ec, ec.syncRoot()
}

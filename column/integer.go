package column

import (
	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/searchindex"
	"github.com/hupe1980/colgo/spec"
)

// IntColumn is the generic integer column: a B+-tree of packed integer
// leaves, optionally nullable through a reserved encoding, optionally
// paired with a search index kept in lock-step with every mutation.
type IntColumn struct {
	baseColumn
	cfg Config
}

// NewIntColumn creates an empty integer column.
func NewIntColumn(ar *arena.Arena, cfg Config) (*IntColumn, error) {
	tree, err := bptree.New(ar, cfg.treeConfig(bptree.FamilyInt))
	if err != nil {
		return nil, err
	}
	return &IntColumn{baseColumn: baseColumn{ar: ar, tree: tree}, cfg: cfg}, nil
}

// LoadIntColumn attaches an integer column accessor to an existing root.
func LoadIntColumn(ar *arena.Arena, ref arena.Ref, cfg Config) (*IntColumn, error) {
	tree, err := bptree.Load(ar, ref, cfg.treeConfig(bptree.FamilyInt))
	if err != nil {
		return nil, err
	}
	return &IntColumn{baseColumn: baseColumn{ar: ar, tree: tree}, cfg: cfg}, nil
}

// Nullable reports whether null is representable.
func (c *IntColumn) Nullable() bool { return c.cfg.Nullable }

// CreateSearchIndex attaches a fresh search index, populated from the
// current rows.
func (c *IntColumn) CreateSearchIndex(unique bool) (*searchindex.Index, error) {
	ix := searchindex.New(c.ar, (*intIndexTarget)(c), unique)
	if err := ix.Rebuild(); err != nil {
		return nil, err
	}
	c.index = ix
	ix.SetNdxInParent(c.ndx + 1)
	return ix, nil
}

// AttachSearchIndex adopts a loaded search index.
func (c *IntColumn) AttachSearchIndex(ix *searchindex.Index) {
	ix.SetTarget((*intIndexTarget)(c))
	ix.SetNdxInParent(c.ndx + 1)
	c.index = ix
}

// intIndexTarget adapts the column to the index's target surface without
// widening the public API.
type intIndexTarget IntColumn

func (t *intIndexTarget) Size() (int, error) { return (*IntColumn)(t).Size() }

func (t *intIndexTarget) IndexKey(row int) (string, error) {
	c := (*IntColumn)(t)
	v, err := c.tree.Get(row)
	if err != nil {
		return "", err
	}
	if v.Null {
		return searchindex.KeyNull(), nil
	}
	return searchindex.KeyInt(v.Int), nil
}

// Get returns the value at row. Null reads as 0; use IsNull to
// distinguish.
func (c *IntColumn) Get(row int) (int64, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return 0, err
	}
	if v.Null {
		return 0, nil
	}
	return v.Int, nil
}

// IsNull reports whether the value at row is null.
func (c *IntColumn) IsNull(row int) (bool, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return false, err
	}
	return v.Null, nil
}

func (c *IntColumn) set(row int, v bptree.Value) error {
	if v.Null && !c.cfg.Nullable {
		return ErrNullNotSupported
	}
	if c.index != nil {
		// Index first, while it can still locate the old value.
		if err := c.index.Set(row, intKey(v)); err != nil {
			return err
		}
	}
	if err := c.tree.Set(row, v); err != nil {
		return err
	}
	return c.syncRoot()
}

func intKey(v bptree.Value) string {
	if v.Null {
		return searchindex.KeyNull()
	}
	return searchindex.KeyInt(v.Int)
}

// Set overwrites the value at row.
func (c *IntColumn) Set(row int, v int64) error {
	return c.set(row, bptree.IntValue(v))
}

// SetNull writes null at row.
func (c *IntColumn) SetNull(row int) error {
	return c.set(row, bptree.NullValue())
}

// SetString fails: an integer column cannot hold strings.
func (c *IntColumn) SetString(int, string) error {
	return &ErrKindMismatch{Expected: spec.TypeString, Actual: spec.TypeInt}
}

func (c *IntColumn) insert(row int, v bptree.Value, nrows int) error {
	if v.Null && !c.cfg.Nullable {
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

	key := intKey(v)
	if c.index != nil {
		// A unique index must reject before any mutation.
		if err := c.index.CheckInsert(key, nrows); err != nil {
			return err
		}
	}

	// Column first, index second: the documented order for pure inserts.
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

// Insert inserts v before row; NPos appends.
func (c *IntColumn) Insert(row int, v int64, nrows int) error {
	return c.insert(row, bptree.IntValue(v), nrows)
}

// InsertRows inserts default values (zero, or null when nullable).
func (c *IntColumn) InsertRows(row, nrows int) error {
	v := bptree.IntValue(0)
	if c.cfg.Nullable {
		v = bptree.NullValue()
	}
	return c.insert(row, v, nrows)
}

// Add appends v.
func (c *IntColumn) Add(v int64) error {
	return c.Insert(NPos, v, 1)
}

// EraseRow removes the row. The index is updated first, while it can still
// resolve the removed value through the column.
func (c *IntColumn) EraseRow(row int, isLast bool) error {
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
// row. last must be size-1.
func (c *IntColumn) MoveLastOver(row, last int) error {
	v, err := c.tree.Get(last)
	if err != nil {
		return err
	}
	if c.index != nil {
		// Erase row's old entry without renumbering, then repoint the
		// moved value from last to row.
		if err := c.index.Erase(row, true); err != nil {
			return err
		}
		if row != last {
			c.index.UpdateRef(intKey(v), last, row)
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

// Clear removes every row. The search index keeps existing but empties.
func (c *IntColumn) Clear() error {
	if err := c.tree.Clear(); err != nil {
		return err
	}
	if c.index != nil {
		c.index.Clear()
	}
	return c.syncRoot()
}

// FindFirst returns the smallest row holding v, or searchindex.NotFound.
func (c *IntColumn) FindFirst(v int64) (int, error) {
	if c.index != nil {
		return c.index.FindFirst(searchindex.KeyInt(v)), nil
	}
	found := searchindex.NotFound
	err := c.tree.ForEach(func(i int, val bptree.Value) bool {
		if !val.Null && val.Int == v {
			found = i
			return false
		}
		return true
	})
	return found, err
}

// FindAll returns every row holding v in ascending order.
func (c *IntColumn) FindAll(v int64) ([]int, error) {
	if c.index != nil {
		rows := c.index.FindAll(searchindex.KeyInt(v))
		out := make([]int, len(rows))
		for i, r := range rows {
			out[i] = int(r)
		}
		return out, nil
	}
	var out []int
	err := c.tree.ForEach(func(i int, val bptree.Value) bool {
		if !val.Null && val.Int == v {
			out = append(out, i)
		}
		return true
	})
	return out, err
}

// Count returns the number of rows holding v, answered by the index when
// one is present.
func (c *IntColumn) Count(v int64) (int, error) {
	if c.index != nil {
		return c.index.Count(searchindex.KeyInt(v)), nil
	}
	n := 0
	err := c.tree.ForEach(func(_ int, val bptree.Value) bool {
		if !val.Null && val.Int == v {
			n++
		}
		return true
	})
	return n, err
}

// Sum adds up every non-null value. Numerical aggregates always scan.
func (c *IntColumn) Sum() (int64, error) {
	var sum int64
	err := c.tree.ForEach(func(_ int, val bptree.Value) bool {
		if !val.Null {
			sum += val.Int
		}
		return true
	})
	return sum, err
}

// Min returns the smallest non-null value; ok is false on an empty or
// all-null column.
func (c *IntColumn) Min() (min int64, ok bool, err error) {
	err = c.tree.ForEach(func(_ int, val bptree.Value) bool {
		if val.Null {
			return true
		}
		if !ok || val.Int < min {
			min, ok = val.Int, true
		}
		return true
	})
	return min, ok, err
}

// Max returns the largest non-null value; ok is false on an empty or
// all-null column.
func (c *IntColumn) Max() (max int64, ok bool, err error) {
	err = c.tree.ForEach(func(_ int, val bptree.Value) bool {
		if val.Null {
			return true
		}
		if !ok || val.Int > max {
			max, ok = val.Int, true
		}
		return true
	})
	return max, ok, err
}

// Average returns the mean of the non-null values; ok is false when there
// are none.
func (c *IntColumn) Average() (avg float64, ok bool, err error) {
	var sum int64
	var n int
	err = c.tree.ForEach(func(_ int, val bptree.Value) bool {
		if !val.Null {
			sum += val.Int
			n++
		}
		return true
	})
	if err != nil || n == 0 {
		return 0, false, err
	}
	return float64(sum) / float64(n), true, nil
}

// Adjust adds d to the value at row.
func (c *IntColumn) Adjust(row int, d int64) error {
	v, err := c.tree.Get(row)
	if err != nil {
		return err
	}
	if v.Null {
		return nil
	}
	return c.Set(row, v.Int+d)
}

// AdjustAll adds d to every non-null value. An attached index is rebuilt
// afterwards rather than updated row by row.
func (c *IntColumn) AdjustAll(d int64) error {
	if err := c.tree.AdjustAll(d); err != nil {
		return err
	}
	if err := c.syncRoot(); err != nil {
		return err
	}
	if c.index != nil {
		return c.index.Rebuild()
	}
	return nil
}

// AdjustGE adds d to every non-null value greater than or equal to limit.
func (c *IntColumn) AdjustGE(limit, d int64) error {
	if err := c.tree.AdjustGE(limit, d); err != nil {
		return err
	}
	if err := c.syncRoot(); err != nil {
		return err
	}
	if c.index != nil {
		return c.index.Rebuild()
	}
	return nil
}

// LowerBound returns the first row not less than v over a sorted column.
func (c *IntColumn) LowerBound(v int64) (int, error) {
	return c.tree.LowerBound(v)
}

// UpperBound returns the first row greater than v over a sorted column.
func (c *IntColumn) UpperBound(v int64) (int, error) {
	return c.tree.UpperBound(v)
}

// RefreshAccessorTree re-reads the root ref from the parent and, when an
// index is attached, refreshes it from the following slot.
func (c *IntColumn) RefreshAccessorTree(colNdx int, sp *spec.Spec) error {
	_ = colNdx
	_ = sp
	return c.refreshFromParent()
}

// Package column implements the column kinds of the storage core: the
// integer column, the variable-length bytes/string column with its three
// leaf encodings, the dictionary-encoded string column, and the subtable
// column with its live accessor map. ColumnSet ties the columns of one
// table together and coordinates cascade deletes and accessor refresh.
package column

import (
	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/searchindex"
	"github.com/hupe1980/colgo/spec"
)

// Parent is the slot array a column's root ref is registered in: the
// table's columns block. A column with a search index also owns the slot
// immediately after its own.
type Parent interface {
	ChildRef(ndx int) (arena.Ref, error)
	SetChildRef(ndx int, ref arena.Ref) error
}

// Column is the surface ColumnSet drives on every column kind.
type Column interface {
	Size() (int, error)
	Ref() arena.Ref

	SetParent(p Parent, ndx int)
	NdxInParent() int
	SetNdxInParent(ndx int)

	// SetString writes a string value; columns that cannot hold strings
	// fail with ErrKindMismatch.
	SetString(row int, v string) error

	// InsertRows inserts nrows default values before row; NPos appends.
	InsertRows(row, nrows int) error
	EraseRow(row int, isLast bool) error
	MoveLastOver(row, last int) error
	Clear() error
	Destroy() error

	HasSearchIndex() bool
	SearchIndex() *searchindex.Index
	SaveSearchIndex() error

	// RefreshAccessorTree re-synchronizes the accessor with the ref graph
	// after an external commit. Preconditions: the parent accessor is
	// already refreshed, dirty sub-accessors are marked, and the cached
	// ndx-in-parent is valid.
	RefreshAccessorTree(colNdx int, sp *spec.Spec) error
	Verify() error

	// Accessor adjustment hooks: bookkeeping on live accessors only, no
	// persistent effect.
	AdjAccInsertRows(row, n int)
	AdjAccEraseRow(row int)
	AdjAccMoveOver(from, to int)
	AdjAccClearRootTable()
	MarkRecursive()
	DiscardChildAccessors()

	CascadeBreakBacklinksTo(row int, state *CascadeState) error
	CascadeBreakBacklinksToAllRows(n int, state *CascadeState) error
}

var (
	_ Column = (*IntColumn)(nil)
	_ Column = (*BytesColumn)(nil)
	_ Column = (*EnumColumn)(nil)
	_ Column = (*SubtableColumn)(nil)
)

// Config fixes per-column shape at creation time.
type Config struct {
	Nullable bool
	// MaxLeafSize and MaxInnerSize bound tree nodes; zero selects the
	// defaults. Tests shrink them to force deep trees.
	MaxLeafSize  int
	MaxInnerSize int
}

func (c Config) treeConfig(family bptree.Family) bptree.Config {
	return bptree.Config{
		Family:       family,
		Nullable:     c.Nullable,
		MaxLeafSize:  c.MaxLeafSize,
		MaxInnerSize: c.MaxInnerSize,
	}
}

// baseColumn carries what every column kind shares: the owned tree, the
// parent registration and the optional search index.
type baseColumn struct {
	ar     *arena.Arena
	tree   *bptree.Tree
	parent Parent
	ndx    int
	index  *searchindex.Index
}

func (c *baseColumn) Size() (int, error) { return c.tree.Size() }

func (c *baseColumn) Ref() arena.Ref { return c.tree.Ref() }

func (c *baseColumn) SetParent(p Parent, ndx int) {
	c.parent = p
	c.ndx = ndx
}

func (c *baseColumn) NdxInParent() int { return c.ndx }

func (c *baseColumn) SetNdxInParent(ndx int) {
	c.ndx = ndx
	if c.index != nil {
		c.index.SetNdxInParent(ndx + 1)
	}
}

// syncRoot writes the (possibly moved) root ref back into the parent.
// Every mutating operation ends with it.
func (c *baseColumn) syncRoot() error {
	if c.parent == nil {
		return nil
	}
	return c.parent.SetChildRef(c.ndx, c.tree.Ref())
}

func (c *baseColumn) HasSearchIndex() bool { return c.index != nil }

func (c *baseColumn) SearchIndex() *searchindex.Index { return c.index }

// SaveSearchIndex persists the index image and registers it in the slot
// after the column's.
func (c *baseColumn) SaveSearchIndex() error {
	if c.index == nil {
		return nil
	}
	ref, err := c.index.Save()
	if err != nil {
		return err
	}
	if c.parent == nil {
		return nil
	}
	return c.parent.SetChildRef(c.ndx+1, ref)
}

// refreshFromParent re-reads the root ref at the cached child index and
// re-attaches the tree; the search index, when present, refreshes from the
// immediately following slot.
func (c *baseColumn) refreshFromParent() error {
	if c.parent == nil {
		return nil
	}
	ref, err := c.parent.ChildRef(c.ndx)
	if err != nil {
		return err
	}
	if err := c.tree.InitFromRef(ref); err != nil {
		return err
	}
	if c.index != nil {
		iref, err := c.parent.ChildRef(c.ndx + 1)
		if err != nil {
			return err
		}
		if err := c.index.RefreshAccessorTree(iref); err != nil {
			return err
		}
	}
	return nil
}

func (c *baseColumn) Destroy() error {
	if c.index != nil {
		if err := c.index.Destroy(); err != nil {
			return err
		}
	}
	return c.tree.Destroy()
}

func (c *baseColumn) Verify() error {
	if err := c.tree.Verify(); err != nil {
		return err
	}
	if c.index != nil {
		return c.index.Verify()
	}
	return nil
}

// Default accessor hooks: most column kinds keep no child accessors.

func (c *baseColumn) AdjAccInsertRows(int, int) {}
func (c *baseColumn) AdjAccEraseRow(int)        {}
func (c *baseColumn) AdjAccMoveOver(int, int)   {}
func (c *baseColumn) AdjAccClearRootTable()     {}
func (c *baseColumn) MarkRecursive()            {}
func (c *baseColumn) DiscardChildAccessors()    {}

func (c *baseColumn) CascadeBreakBacklinksTo(int, *CascadeState) error { return nil }

func (c *baseColumn) CascadeBreakBacklinksToAllRows(int, *CascadeState) error { return nil }

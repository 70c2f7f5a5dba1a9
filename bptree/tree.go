package bptree

import (
	"fmt"

	"github.com/hupe1980/colgo/arena"
)

const (
	defaultMaxLeafSize  = 1000
	defaultMaxInnerSize = 128
)

// Config fixes the shape of a tree. MaxLeafSize bounds elements per leaf,
// MaxInnerSize children per inner node; tests shrink both to force deep
// trees with few rows.
type Config struct {
	Family       Family
	Nullable     bool
	MaxLeafSize  int
	MaxInnerSize int
}

func (c Config) withDefaults() Config {
	if c.MaxLeafSize <= 1 {
		c.MaxLeafSize = defaultMaxLeafSize
	}
	if c.MaxInnerSize <= 1 {
		c.MaxInnerSize = defaultMaxInnerSize
	}
	return c
}

// Tree is a column's node hierarchy: a single leaf while small, an inner
// node protocol above leaves once it outgrows one block. The tree owns its
// root; every mutating operation may move the root ref, so parents must
// re-read Ref afterwards.
type Tree struct {
	ar   *arena.Arena
	cfg  Config
	root arena.Ref
}

// New creates an empty tree whose root is a fresh leaf.
func New(ar *arena.Arena, cfg Config) (*Tree, error) {
	cfg = cfg.withDefaults()
	kind := KindInt
	if cfg.Family == FamilyBytes {
		kind = KindSmall
	}
	lf, err := newLeaf(ar, kind, cfg.Family, cfg.Nullable)
	if err != nil {
		return nil, err
	}
	return &Tree{ar: ar, cfg: cfg, root: lf.ref()}, nil
}

// Load attaches a tree to an existing root ref.
func Load(ar *arena.Arena, ref arena.Ref, cfg Config) (*Tree, error) {
	cfg = cfg.withDefaults()
	if _, err := loadBlock(ar, ref); err != nil {
		return nil, err
	}
	return &Tree{ar: ar, cfg: cfg, root: ref}, nil
}

// Ref returns the current root ref.
func (t *Tree) Ref() arena.Ref { return t.root }

// InitFromRef re-attaches the tree to a (possibly changed) root ref, as the
// accessor refresh protocol requires.
func (t *Tree) InitFromRef(ref arena.Ref) error {
	if _, err := loadBlock(t.ar, ref); err != nil {
		return err
	}
	t.root = ref
	return nil
}

// Arena returns the arena the tree lives in.
func (t *Tree) Arena() *arena.Arena { return t.ar }

// Config returns the tree's configuration.
func (t *Tree) Config() Config { return t.cfg }

// RootIsLeaf reports whether the root is a leaf (the single-leaf fast
// path).
func (t *Tree) RootIsLeaf() (bool, error) {
	mem, err := loadBlock(t.ar, t.root)
	if err != nil {
		return false, err
	}
	return !isInner(mem.Data), nil
}

// RootKind returns the node kind of the root block.
func (t *Tree) RootKind() (Kind, error) {
	mem, err := loadBlock(t.ar, t.root)
	if err != nil {
		return 0, err
	}
	return kindOf(mem.Data, t.cfg.Family), nil
}

func (t *Tree) nodeSize(ref arena.Ref) (int, error) {
	mem, err := loadBlock(t.ar, ref)
	if err != nil {
		return 0, err
	}
	if isInner(mem.Data) {
		node, err := loadInnerNode(t.ar, ref)
		if err != nil {
			return 0, err
		}
		return node.total(), nil
	}
	lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
	if err != nil {
		return 0, err
	}
	return lf.count(), nil
}

// Size returns the number of elements.
func (t *Tree) Size() (int, error) {
	return t.nodeSize(t.root)
}

// leafFor descends to the leaf containing element i, returning the leaf and
// the element's offset within it.
func (t *Tree) leafFor(i int) (leaf, int, error) {
	return t.leafForAt(t.root, i)
}

func (t *Tree) leafForAt(ref arena.Ref, i int) (leaf, int, error) {
	for {
		mem, err := loadBlock(t.ar, ref)
		if err != nil {
			return leaf{}, 0, err
		}
		if !isInner(mem.Data) {
			lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
			if err != nil {
				return leaf{}, 0, err
			}
			return lf, i, nil
		}
		node, err := loadInnerNode(t.ar, ref)
		if err != nil {
			return leaf{}, 0, err
		}
		c, base := node.findChild(i)
		ref = node.childRef(c)
		i -= base
	}
}

// Get returns the element at i. Returned byte slices alias arena memory and
// are only valid until the next mutation; callers that retain a value must
// copy it.
func (t *Tree) Get(i int) (Value, error) {
	size, err := t.Size()
	if err != nil {
		return Value{}, err
	}
	if i < 0 || i >= size {
		return Value{}, outOfRange(i, size)
	}
	lf, off, err := t.leafFor(i)
	if err != nil {
		return Value{}, err
	}
	return lf.get(off, t.cfg.Nullable)
}

// LeafKindAt returns the kind of the leaf holding element i.
func (t *Tree) LeafKindAt(i int) (Kind, error) {
	size, err := t.Size()
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= size {
		return 0, outOfRange(i, size)
	}
	lf, _, err := t.leafFor(i)
	if err != nil {
		return 0, err
	}
	return lf.kind, nil
}

// Set overwrites the element at i, promoting the target leaf in place when
// the value needs a higher kind.
func (t *Tree) Set(i int, v Value) error {
	size, err := t.Size()
	if err != nil {
		return err
	}
	if i < 0 || i >= size {
		return outOfRange(i, size)
	}
	root, err := t.setRec(t.root, i, v)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Tree) setRec(ref arena.Ref, i int, v Value) (arena.Ref, error) {
	mem, err := loadBlock(t.ar, ref)
	if err != nil {
		return 0, err
	}
	if isInner(mem.Data) {
		node, err := loadInnerNode(t.ar, ref)
		if err != nil {
			return 0, err
		}
		c, base := node.findChild(i)
		child, err := t.setRec(node.childRef(c), i-base, v)
		if err != nil {
			return 0, err
		}
		if child != node.childRef(c) {
			node.setChildRef(c, child)
		}
		return node.ref(), nil
	}
	lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
	if err != nil {
		return 0, err
	}
	lf, err = t.promoteIfNeeded(lf, v)
	if err != nil {
		return 0, err
	}
	if err := lf.set(i, v); err != nil {
		return 0, err
	}
	return lf.ref(), nil
}

func (t *Tree) promoteIfNeeded(lf leaf, v Value) (leaf, error) {
	if t.cfg.Family != FamilyBytes {
		return lf, nil
	}
	need := requiredKind(v)
	if need.rank() <= lf.kind.rank() {
		return lf, nil
	}
	return promoteLeaf(t.ar, lf, need, t.cfg.Nullable)
}

// Insert inserts v before element i; i equal to Size appends.
func (t *Tree) Insert(i int, v Value) error {
	size, err := t.Size()
	if err != nil {
		return err
	}
	if i < 0 || i > size {
		return outOfRange(i, size+1)
	}
	root, sib, err := t.insertRec(t.root, i, v)
	if err != nil {
		return err
	}
	t.root = root
	if !sib.IsNull() {
		return t.introduceNewRoot(sib)
	}
	return nil
}

func (t *Tree) insertRec(ref arena.Ref, i int, v Value) (arena.Ref, arena.Ref, error) {
	mem, err := loadBlock(t.ar, ref)
	if err != nil {
		return 0, 0, err
	}
	if isInner(mem.Data) {
		return t.innerInsert(ref, i, v)
	}
	return t.leafInsert(ref, i, v)
}

func (t *Tree) leafInsert(ref arena.Ref, i int, v Value) (arena.Ref, arena.Ref, error) {
	lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
	if err != nil {
		return 0, 0, err
	}
	lf, err = t.promoteIfNeeded(lf, v)
	if err != nil {
		return 0, 0, err
	}
	if lf.count() < t.cfg.MaxLeafSize {
		if err := lf.insert(i, v); err != nil {
			return 0, 0, err
		}
		return lf.ref(), 0, nil
	}

	// Leaf is full. Appends open a fresh sibling for the new value; inner
	// inserts move the tail beyond i to the sibling and append the value
	// to this leaf.
	if i == lf.count() {
		sibKind := lf.kind
		if t.cfg.Family == FamilyBytes {
			sibKind = requiredKind(v)
		}
		sib, err := newLeaf(t.ar, sibKind, t.cfg.Family, t.cfg.Nullable)
		if err != nil {
			return 0, 0, err
		}
		if err := sib.insert(0, v); err != nil {
			return 0, 0, err
		}
		return lf.ref(), sib.ref(), nil
	}

	sib, err := newLeaf(t.ar, lf.kind, t.cfg.Family, t.cfg.Nullable)
	if err != nil {
		return 0, 0, err
	}
	n := lf.count()
	for j := i; j < n; j++ {
		mv, err := lf.get(j, t.cfg.Nullable)
		if err != nil {
			return 0, 0, err
		}
		if err := sib.insert(j-i, mv); err != nil {
			return 0, 0, err
		}
	}
	if err := t.truncateLeaf(&lf, i); err != nil {
		return 0, 0, err
	}
	if err := lf.insert(i, v); err != nil {
		return 0, 0, err
	}
	return lf.ref(), sib.ref(), nil
}

func (t *Tree) truncateLeaf(lf *leaf, to int) error {
	switch lf.kind {
	case KindInt:
		setHeaderCount(lf.il.mem.Data, to)
	case KindSmall:
		setHeaderCount(lf.sl.mem.Data, to)
	case KindLong:
		for lf.ll.count() > to {
			if err := lf.ll.erase(lf.ll.count() - 1); err != nil {
				return err
			}
		}
	case KindBig:
		n := lf.bl.count()
		for j := to; j < n; j++ {
			if err := lf.bl.freeChild(j); err != nil {
				return err
			}
			setSlotAt(lf.bl.mem, j, 0)
		}
		setHeaderCount(lf.bl.mem.Data, to)
	}
	return nil
}

func (t *Tree) innerInsert(ref arena.Ref, i int, v Value) (arena.Ref, arena.Ref, error) {
	node, err := loadInnerNode(t.ar, ref)
	if err != nil {
		return 0, 0, err
	}
	var c, base int
	if i == node.total() {
		// Append fast path: always extend the last child.
		c = node.childCount() - 1
		base = node.cum(c - 1)
	} else {
		c, base = node.findChild(i)
	}

	child, sib, err := t.insertRec(node.childRef(c), i-base, v)
	if err != nil {
		return 0, 0, err
	}
	if child != node.childRef(c) {
		node.setChildRef(c, child)
	}
	if sib.IsNull() {
		node.adjustCounts(c, 1)
		return node.ref(), 0, nil
	}

	// The child split. Rewrite the counts at and after c, then wire the
	// sibling in at c+1.
	n1, err := t.nodeSize(child)
	if err != nil {
		return 0, 0, err
	}
	n2, err := t.nodeSize(sib)
	if err != nil {
		return 0, 0, err
	}
	tail := make([]int, 0, node.childCount()-c-1)
	for j := c + 1; j < node.childCount(); j++ {
		tail = append(tail, node.cum(j))
	}
	if err := node.a.Insert(2*(c+1), RefSlot(sib)); err != nil {
		return 0, 0, err
	}
	if err := node.a.Insert(2*(c+1)+1, TaggedSlot(0)); err != nil {
		return 0, 0, err
	}
	node.setCum(c, base+n1)
	node.setCum(c+1, base+n1+n2)
	for k, old := range tail {
		node.setCum(c+2+k, old+1)
	}

	if node.childCount() <= t.cfg.MaxInnerSize {
		return node.ref(), 0, nil
	}
	return t.splitInner(node)
}

// splitInner moves the upper half of an overflowing inner node into a new
// sibling node and returns both refs.
func (t *Tree) splitInner(node innerNode) (arena.Ref, arena.Ref, error) {
	half := node.childCount() / 2
	sib, err := newInnerNode(t.ar)
	if err != nil {
		return 0, 0, err
	}
	baseCount := node.cum(half - 1)
	for j := half; j < node.childCount(); j++ {
		if err := sib.a.Add(RefSlot(node.childRef(j))); err != nil {
			return 0, 0, err
		}
		if err := sib.a.Add(TaggedSlot(int64(node.cum(j) - baseCount))); err != nil {
			return 0, 0, err
		}
	}
	setHeaderCount(node.a.mem.Data, 2*half)
	return node.ref(), sib.ref(), nil
}

// introduceNewRoot wraps the old root and the new sibling under a fresh
// inner node after a root split.
func (t *Tree) introduceNewRoot(sib arena.Ref) error {
	n1, err := t.nodeSize(t.root)
	if err != nil {
		return err
	}
	n2, err := t.nodeSize(sib)
	if err != nil {
		return err
	}
	node, err := newInnerNode(t.ar)
	if err != nil {
		return err
	}
	if err := node.a.Add(RefSlot(t.root)); err != nil {
		return err
	}
	if err := node.a.Add(TaggedSlot(int64(n1))); err != nil {
		return err
	}
	if err := node.a.Add(RefSlot(sib)); err != nil {
		return err
	}
	if err := node.a.Add(TaggedSlot(int64(n1 + n2))); err != nil {
		return err
	}
	t.root = node.ref()
	return nil
}

// Erase removes the element at i. Empty leaves collapse out of the tree;
// when the root is an inner node left with a single child, the child
// becomes the new root.
func (t *Tree) Erase(i int) error {
	size, err := t.Size()
	if err != nil {
		return err
	}
	if i < 0 || i >= size {
		return outOfRange(i, size)
	}
	root, _, err := t.eraseRec(t.root, i, true)
	if err != nil {
		return err
	}
	t.root = root

	mem, err := loadBlock(t.ar, t.root)
	if err != nil {
		return err
	}
	if isInner(mem.Data) {
		node, err := loadInnerNode(t.ar, t.root)
		if err != nil {
			return err
		}
		if node.childCount() == 1 {
			child := node.childRef(0)
			freeBlock(t.ar, node.a.mem)
			t.root = child
		}
	}
	return nil
}

func (t *Tree) eraseRec(ref arena.Ref, i int, isRoot bool) (arena.Ref, bool, error) {
	mem, err := loadBlock(t.ar, ref)
	if err != nil {
		return 0, false, err
	}
	if !isInner(mem.Data) {
		lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
		if err != nil {
			return 0, false, err
		}
		if err := lf.erase(i); err != nil {
			return 0, false, err
		}
		// The root leaf survives even when empty.
		return lf.ref(), lf.count() == 0 && !isRoot, nil
	}

	node, err := loadInnerNode(t.ar, ref)
	if err != nil {
		return 0, false, err
	}
	c, base := node.findChild(i)
	child, empty, err := t.eraseRec(node.childRef(c), i-base, false)
	if err != nil {
		return 0, false, err
	}
	if empty {
		if err := DestroyDeep(t.ar, child); err != nil {
			return 0, false, err
		}
		tail := make([]int, 0, node.childCount()-c-1)
		for j := c + 1; j < node.childCount(); j++ {
			tail = append(tail, node.cum(j))
		}
		if err := node.a.Erase(2 * c); err != nil {
			return 0, false, err
		}
		if err := node.a.Erase(2 * c); err != nil {
			return 0, false, err
		}
		for k, old := range tail {
			node.setCum(c+k, old-1)
		}
		return node.ref(), node.childCount() == 0 && !isRoot, nil
	}
	if child != node.childRef(c) {
		node.setChildRef(c, child)
	}
	node.adjustCounts(c, -1)
	return node.ref(), false, nil
}

// Clear destroys the whole tree and replaces the root with a fresh empty
// leaf of the family's base kind. This is the only way a bytes column's
// leaf encoding ever moves down.
func (t *Tree) Clear() error {
	if err := DestroyDeep(t.ar, t.root); err != nil {
		return err
	}
	kind := KindInt
	if t.cfg.Family == FamilyBytes {
		kind = KindSmall
	}
	lf, err := newLeaf(t.ar, kind, t.cfg.Family, t.cfg.Nullable)
	if err != nil {
		return err
	}
	t.root = lf.ref()
	return nil
}

// Destroy frees the tree.
func (t *Tree) Destroy() error {
	ref := t.root
	t.root = 0
	return DestroyDeep(t.ar, ref)
}

// CloneDeep copies the tree into dst and returns the new root ref.
func (t *Tree) CloneDeep(dst *arena.Arena) (arena.Ref, error) {
	return CloneDeep(t.ar, dst, t.root)
}

// ForEach visits elements in row order until fn returns false. The visited
// values alias arena memory; see Get.
func (t *Tree) ForEach(fn func(i int, v Value) bool) error {
	_, err := t.forEachRec(t.root, 0, fn)
	return err
}

func (t *Tree) forEachRec(ref arena.Ref, start int, fn func(i int, v Value) bool) (bool, error) {
	mem, err := loadBlock(t.ar, ref)
	if err != nil {
		return false, err
	}
	if isInner(mem.Data) {
		node, err := loadInnerNode(t.ar, ref)
		if err != nil {
			return false, err
		}
		for c := 0; c < node.childCount(); c++ {
			cont, err := t.forEachRec(node.childRef(c), start+node.cum(c-1), fn)
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	}
	lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
	if err != nil {
		return false, err
	}
	for j := 0; j < lf.count(); j++ {
		v, err := lf.get(j, t.cfg.Nullable)
		if err != nil {
			return false, err
		}
		if !fn(start+j, v) {
			return false, nil
		}
	}
	return true, nil
}

// AdjustAll adds d to every non-null element of an integer tree.
func (t *Tree) AdjustAll(d int64) error {
	return t.adjustWhere(func(int64) bool { return true }, d)
}

// AdjustGE adds d to every non-null element greater than or equal to limit.
func (t *Tree) AdjustGE(limit, d int64) error {
	return t.adjustWhere(func(v int64) bool { return v >= limit }, d)
}

func (t *Tree) adjustWhere(pred func(int64) bool, d int64) error {
	if t.cfg.Family != FamilyInt {
		return fmt.Errorf("%w: adjust on non-integer tree", ErrCorrupt)
	}
	root, err := t.adjustRec(t.root, pred, d)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Tree) adjustRec(ref arena.Ref, pred func(int64) bool, d int64) (arena.Ref, error) {
	mem, err := loadBlock(t.ar, ref)
	if err != nil {
		return 0, err
	}
	if isInner(mem.Data) {
		node, err := loadInnerNode(t.ar, ref)
		if err != nil {
			return 0, err
		}
		for c := 0; c < node.childCount(); c++ {
			child, err := t.adjustRec(node.childRef(c), pred, d)
			if err != nil {
				return 0, err
			}
			if child != node.childRef(c) {
				node.setChildRef(c, child)
			}
		}
		return node.ref(), nil
	}
	lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
	if err != nil {
		return 0, err
	}
	for j := 0; j < lf.count(); j++ {
		raw := lf.il.get(j)
		if t.cfg.Nullable && raw == nullSentinel {
			continue
		}
		if pred(raw) {
			if err := lf.il.set(j, raw+d); err != nil {
				return 0, err
			}
		}
	}
	return lf.ref(), nil
}

// LowerBound returns the first row whose value is not less than v, assuming
// the tree is sorted ascending. A leaf root is answered by per-leaf binary
// search, a deeper tree by binary search over rows.
func (t *Tree) LowerBound(v int64) (int, error) {
	return t.bound(v, func(x int64) bool { return x < v })
}

// UpperBound returns the first row whose value is greater than v, assuming
// the tree is sorted ascending.
func (t *Tree) UpperBound(v int64) (int, error) {
	return t.bound(v, func(x int64) bool { return x <= v })
}

func (t *Tree) bound(v int64, less func(int64) bool) (int, error) {
	size, err := t.Size()
	if err != nil {
		return 0, err
	}
	lo, hi := 0, size
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		mv, err := t.Get(mid)
		if err != nil {
			return 0, err
		}
		if less(mv.Int) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

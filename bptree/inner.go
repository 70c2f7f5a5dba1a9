package bptree

import (
	"fmt"

	"github.com/hupe1980/colgo/arena"
)

// innerNode is a B+-tree inner node. Children occupy slot pairs: slot 2c
// holds the child ref, slot 2c+1 the tagged cumulative element count of
// children 0..c. The last pair's count is the subtree total, serving as the
// size footer. Storing the counts as tagged slots keeps DestroyDeep from
// ever following them.
type innerNode struct {
	a RefArray
}

func newInnerNode(ar *arena.Arena) (innerNode, error) {
	mem, err := newBlock(ar, flagInner|flagHasRefs, 0, 8*8)
	if err != nil {
		return innerNode{}, err
	}
	return innerNode{a: RefArray{ar: ar, mem: mem}}, nil
}

func loadInnerNode(ar *arena.Arena, ref arena.Ref) (innerNode, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return innerNode{}, err
	}
	if !isInner(mem.Data) {
		return innerNode{}, fmt.Errorf("%w: block %#x is not an inner node", ErrCorrupt, uint64(ref))
	}
	return innerNode{a: RefArray{ar: ar, mem: mem}}, nil
}

func (n *innerNode) ref() arena.Ref  { return n.a.Ref() }
func (n *innerNode) childCount() int { return n.a.Size() / 2 }

func (n *innerNode) childRef(c int) arena.Ref {
	return slotAt(n.a.mem, 2*c).Ref()
}

func (n *innerNode) cum(c int) int {
	if c < 0 {
		return 0
	}
	return int(slotAt(n.a.mem, 2*c+1).Tagged())
}

func (n *innerNode) total() int {
	return n.cum(n.childCount() - 1)
}

func (n *innerNode) setChildRef(c int, ref arena.Ref) {
	setSlotAt(n.a.mem, 2*c, RefSlot(ref))
}

func (n *innerNode) setCum(c, v int) {
	setSlotAt(n.a.mem, 2*c+1, TaggedSlot(int64(v)))
}

// findChild locates the child whose accumulated range contains element i.
// For i equal to the total (append position) it returns the last child.
func (n *innerNode) findChild(i int) (c, base int) {
	// Binary search for the first child with cum > i.
	lo, hi := 0, n.childCount()-1
	for lo < hi {
		mid := (lo + hi) / 2
		if n.cum(mid) > i {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, n.cum(lo - 1)
}

// insertChild inserts a child at position c with the given subtree size,
// rewriting the cumulative counts at and after c.
func (n *innerNode) insertChild(c int, ref arena.Ref, size int) error {
	if err := n.a.Insert(2*c, RefSlot(ref)); err != nil {
		return err
	}
	if err := n.a.Insert(2*c+1, TaggedSlot(0)); err != nil {
		return err
	}
	for j := c; j < n.childCount(); j++ {
		if j == c {
			n.setCum(j, n.cum(j-1)+size)
		} else {
			n.setCum(j, n.cum(j)+size)
		}
	}
	return nil
}

// eraseChild removes the child at c, rewriting subsequent cumulative
// counts. size is the number of elements the removed subtree held.
func (n *innerNode) eraseChild(c, size int) error {
	if err := n.a.Erase(2 * c); err != nil {
		return err
	}
	if err := n.a.Erase(2 * c); err != nil {
		return err
	}
	for j := c; j < n.childCount(); j++ {
		n.setCum(j, n.cum(j)-size)
	}
	return nil
}

// adjustCounts adds d to the cumulative counts of children c and later.
func (n *innerNode) adjustCounts(c int, d int) {
	for j := c; j < n.childCount(); j++ {
		n.setCum(j, n.cum(j)+d)
	}
}

func (n *innerNode) verify() error {
	if n.a.Size()%2 != 0 {
		return fmt.Errorf("%w: inner node has odd slot count %d", ErrCorrupt, n.a.Size())
	}
	if n.childCount() == 0 {
		return fmt.Errorf("%w: inner node has no children", ErrCorrupt)
	}
	prev := 0
	for c := 0; c < n.childCount(); c++ {
		if s := slotAt(n.a.mem, 2*c); !s.IsRef() || s.IsNull() {
			return fmt.Errorf("%w: inner node child %d is not a ref", ErrCorrupt, c)
		}
		if s := slotAt(n.a.mem, 2*c+1); s.IsRef() {
			return fmt.Errorf("%w: inner node count %d is not tagged", ErrCorrupt, c)
		}
		if n.cum(c) <= prev {
			return fmt.Errorf("%w: inner node counts not increasing at child %d", ErrCorrupt, c)
		}
		prev = n.cum(c)
	}
	return nil
}

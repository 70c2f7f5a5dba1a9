package bptree

import (
	"fmt"

	"github.com/hupe1980/colgo/arena"
)

// Verify checks the structural invariants of the tree: inner node counts
// match child subtree sizes, node fan-out respects the configuration, and
// leaves decode for the tree's family. It is meant for tests and debug
// builds; failures indicate corruption.
func (t *Tree) Verify() error {
	_, err := t.verifyRec(t.root)
	return err
}

func (t *Tree) verifyRec(ref arena.Ref) (int, error) {
	mem, err := loadBlock(t.ar, ref)
	if err != nil {
		return 0, err
	}
	if isInner(mem.Data) {
		node, err := loadInnerNode(t.ar, ref)
		if err != nil {
			return 0, err
		}
		if err := node.verify(); err != nil {
			return 0, err
		}
		if node.childCount() > t.cfg.MaxInnerSize {
			return 0, fmt.Errorf("%w: inner node fan-out %d exceeds %d", ErrCorrupt, node.childCount(), t.cfg.MaxInnerSize)
		}
		for c := 0; c < node.childCount(); c++ {
			size, err := t.verifyRec(node.childRef(c))
			if err != nil {
				return 0, err
			}
			if got := node.cum(c) - node.cum(c-1); got != size {
				return 0, fmt.Errorf("%w: inner node count %d for child %d, subtree has %d", ErrCorrupt, got, c, size)
			}
		}
		return node.total(), nil
	}

	lf, err := loadLeaf(t.ar, ref, t.cfg.Family)
	if err != nil {
		return 0, err
	}
	if t.cfg.Family == FamilyInt && lf.kind != KindInt {
		return 0, fmt.Errorf("%w: %s leaf in integer tree", ErrCorrupt, lf.kind)
	}
	if lf.count() > t.cfg.MaxLeafSize {
		return 0, fmt.Errorf("%w: leaf holds %d elements, max is %d", ErrCorrupt, lf.count(), t.cfg.MaxLeafSize)
	}
	switch lf.kind {
	case KindLong:
		prev := int64(0)
		for j := 0; j < lf.ll.offsets.count(); j++ {
			end := lf.ll.offsets.get(j)
			if end < prev {
				return 0, fmt.Errorf("%w: long leaf offsets decrease at %d", ErrCorrupt, j)
			}
			prev = end
		}
		if int(prev) != blobLen(lf.ll.blob) {
			return 0, fmt.Errorf("%w: long leaf blob length %d, offsets end at %d", ErrCorrupt, blobLen(lf.ll.blob), prev)
		}
	case KindBig:
		if err := lf.bl.verify(); err != nil {
			return 0, err
		}
	}
	return lf.count(), nil
}

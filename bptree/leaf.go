package bptree

import (
	"fmt"

	"github.com/hupe1980/colgo/arena"
)

// leaf is the tagged sum over the concrete leaf encodings. All per-kind
// operations are arms of a dispatch on the header discriminator, so the
// tree protocol never downcasts.
type leaf struct {
	kind Kind
	il   intLeaf
	sl   smallLeaf
	ll   longLeaf
	bl   bigLeaf
}

func loadLeaf(ar *arena.Arena, ref arena.Ref, family Family) (leaf, error) {
	mem, err := loadBlock(ar, ref)
	if err != nil {
		return leaf{}, err
	}
	kind := kindOf(mem.Data, family)
	l := leaf{kind: kind}
	switch kind {
	case KindInt:
		l.il = intLeaf{ar: ar, mem: mem}
	case KindSmall:
		l.sl = smallLeaf{ar: ar, mem: mem}
	case KindLong:
		l.ll, err = loadLongLeaf(ar, ref)
	case KindBig:
		l.bl = bigLeaf{ar: ar, mem: mem}
	default:
		err = fmt.Errorf("%w: block %#x is not a leaf", ErrCorrupt, uint64(ref))
	}
	if err != nil {
		return leaf{}, err
	}
	return l, nil
}

// newLeaf creates an empty leaf of the given kind.
func newLeaf(ar *arena.Arena, kind Kind, family Family, nullable bool) (leaf, error) {
	switch kind {
	case KindInt:
		width := byte(1)
		if nullable {
			// Null is a reserved 64-bit encoding, so nullable integer
			// leaves use the full width from the start.
			width = 8
		}
		il, err := newIntLeaf(ar, width, intLeafInitialCap)
		if err != nil {
			return leaf{}, err
		}
		return leaf{kind: KindInt, il: il}, nil
	case KindSmall:
		sl, err := newSmallLeaf(ar, smallLeafInitialCap)
		if err != nil {
			return leaf{}, err
		}
		return leaf{kind: KindSmall, sl: sl}, nil
	case KindLong:
		ll, err := newLongLeaf(ar, nullable)
		if err != nil {
			return leaf{}, err
		}
		return leaf{kind: KindLong, ll: ll}, nil
	case KindBig:
		bl, err := newBigLeaf(ar)
		if err != nil {
			return leaf{}, err
		}
		return leaf{kind: KindBig, bl: bl}, nil
	}
	return leaf{}, fmt.Errorf("%w: cannot create leaf of kind %s", ErrCorrupt, kind)
}

func (l *leaf) ref() arena.Ref {
	switch l.kind {
	case KindInt:
		return l.il.mem.Ref
	case KindSmall:
		return l.sl.mem.Ref
	case KindLong:
		return l.ll.mem.Ref
	default:
		return l.bl.mem.Ref
	}
}

func (l *leaf) count() int {
	switch l.kind {
	case KindInt:
		return l.il.count()
	case KindSmall:
		return l.sl.count()
	case KindLong:
		return l.ll.count()
	default:
		return l.bl.count()
	}
}

func (l *leaf) get(i int, nullable bool) (Value, error) {
	switch l.kind {
	case KindInt:
		raw := l.il.get(i)
		if nullable && raw == nullSentinel {
			return NullValue(), nil
		}
		return IntValue(raw), nil
	case KindSmall:
		b, null := l.sl.get(i)
		if null {
			return NullValue(), nil
		}
		return BytesValue(b), nil
	case KindLong:
		b, null := l.ll.get(i)
		if null {
			return NullValue(), nil
		}
		return BytesValue(b), nil
	default:
		b, null, err := l.bl.get(i)
		if err != nil {
			return Value{}, err
		}
		if null {
			return NullValue(), nil
		}
		return BytesValue(b), nil
	}
}

func (l *leaf) encodeInt(v Value) int64 {
	if v.Null {
		return nullSentinel
	}
	return v.Int
}

// set writes v at i. The leaf kind must already be sufficient for v;
// promotion is the tree's job.
func (l *leaf) set(i int, v Value) error {
	switch l.kind {
	case KindInt:
		return l.il.set(i, l.encodeInt(v))
	case KindSmall:
		l.sl.put(i, v.Bytes, v.Null)
		return nil
	case KindLong:
		return l.ll.set(i, v.Bytes, v.Null)
	default:
		return l.bl.set(i, v.Bytes, v.Null)
	}
}

func (l *leaf) insert(i int, v Value) error {
	switch l.kind {
	case KindInt:
		return l.il.insert(i, l.encodeInt(v))
	case KindSmall:
		return l.sl.insert(i, v.Bytes, v.Null)
	case KindLong:
		return l.ll.insert(i, v.Bytes, v.Null)
	default:
		return l.bl.insert(i, v.Bytes, v.Null)
	}
}

func (l *leaf) erase(i int) error {
	switch l.kind {
	case KindInt:
		l.il.erase(i)
		return nil
	case KindSmall:
		l.sl.erase(i)
		return nil
	case KindLong:
		return l.ll.erase(i)
	default:
		return l.bl.erase(i)
	}
}

func (l *leaf) destroyDeep(ar *arena.Arena) error {
	return DestroyDeep(ar, l.ref())
}

// promoteLeaf rebuilds the leaf at a higher kind, copying every element, then
// destroys the old leaf. Promotion is monotonic; asking for a lower kind is
// a corruption-level bug.
func promoteLeaf(ar *arena.Arena, l leaf, target Kind, nullable bool) (leaf, error) {
	if target.rank() <= l.kind.rank() {
		return leaf{}, fmt.Errorf("%w: leaf demotion %s to %s", ErrCorrupt, l.kind, target)
	}
	next, err := newLeaf(ar, target, FamilyBytes, nullable)
	if err != nil {
		return leaf{}, err
	}
	n := l.count()
	for i := 0; i < n; i++ {
		v, err := l.get(i, nullable)
		if err != nil {
			return leaf{}, err
		}
		if err := next.insert(i, v); err != nil {
			return leaf{}, err
		}
	}
	if err := l.destroyDeep(ar); err != nil {
		return leaf{}, err
	}
	return next, nil
}

// Package spec implements the authoritative schema descriptor of a table:
// column types, names, attributes, sparse sub-specs for subtable and link
// family columns, and the enumeration key lists. The accessor refresh
// protocol resolves everything about a column through its spec.
package spec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
)

// Type identifies the storage type of a column.
type Type uint8

const (
	// TypeInt is the integer column.
	TypeInt Type = iota
	// TypeBool is a boolean column, stored as an integer column of 0/1.
	TypeBool
	// TypeString is the variable-length string column.
	TypeString
	// TypeStringEnum is the dictionary-encoded string column: integer key
	// indices plus a grow-only key list.
	TypeStringEnum
	// TypeBinary is the variable-length bytes column.
	TypeBinary
	// TypeTable is the subtable column.
	TypeTable
	// TypeLink is a single link to a row of a target table.
	TypeLink
	// TypeLinkList is a list of links to rows of a target table.
	TypeLinkList
	// TypeBackLink is the unnamed reciprocal column of a link column.
	TypeBackLink
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeStringEnum:
		return "string-enum"
	case TypeBinary:
		return "binary"
	case TypeTable:
		return "table"
	case TypeLink:
		return "link"
	case TypeLinkList:
		return "linklist"
	case TypeBackLink:
		return "backlink"
	}
	return "unknown"
}

// subspecSlots returns how many subspecs entries a column of this type
// contributes.
func (t Type) subspecSlots() int {
	switch t {
	case TypeTable, TypeLink, TypeLinkList:
		return 1
	case TypeBackLink:
		return 2
	}
	return 0
}

// Attr is the per-column attribute bitmask.
type Attr uint8

const (
	// AttrNone marks a plain column.
	AttrNone Attr = 0
	// AttrIndexed marks a column carrying a search index.
	AttrIndexed Attr = 1 << 0
	// AttrUnique makes the search index reject duplicate values.
	AttrUnique Attr = 1 << 1
	// AttrNullable makes null representable, distinct from zero/empty.
	AttrNullable Attr = 1 << 2
	// AttrStrongLinks makes a link column cascade deletes to its targets.
	AttrStrongLinks Attr = 1 << 3
)

// ErrNoSuchColumn is returned for a column index outside the spec.
var ErrNoSuchColumn = errors.New("spec: no such column")

// Top slot layout. The subspecs and enumkeys slots exist only once a
// column needs them.
const (
	topSlotTypes    = 0
	topSlotNames    = 1
	topSlotAttrs    = 2
	topSlotSubspecs = 3
	topSlotEnumKeys = 4
)

// Spec owns its top array and all child arrays. Sub-spec accessors are
// created lazily and cached as unique owners.
type Spec struct {
	ar    *arena.Arena
	top   *bptree.RefArray
	types *bptree.IntArray
	names *bptree.Tree
	attrs *bptree.IntArray

	subspecs *bptree.RefArray // nil while no column needs one
	enumkeys *bptree.RefArray // nil while no column is enumerated

	children map[int]*Spec // cached sub-spec accessors by subspec slot
}

// New creates an empty spec.
func New(ar *arena.Arena) (*Spec, error) {
	ref, err := createEmpty(ar)
	if err != nil {
		return nil, err
	}
	return Load(ar, ref)
}

// createEmpty builds the persistent form of an empty spec and returns its
// top ref.
func createEmpty(ar *arena.Arena) (arena.Ref, error) {
	top, err := bptree.NewRefArray(ar, false)
	if err != nil {
		return 0, err
	}
	types, err := bptree.NewIntArray(ar)
	if err != nil {
		return 0, err
	}
	names, err := bptree.New(ar, bptree.Config{Family: bptree.FamilyBytes})
	if err != nil {
		return 0, err
	}
	attrs, err := bptree.NewIntArray(ar)
	if err != nil {
		return 0, err
	}
	if err := top.Add(bptree.RefSlot(types.Ref())); err != nil {
		return 0, err
	}
	if err := top.Add(bptree.RefSlot(names.Ref())); err != nil {
		return 0, err
	}
	if err := top.Add(bptree.RefSlot(attrs.Ref())); err != nil {
		return 0, err
	}
	return top.Ref(), nil
}

// Load attaches a spec accessor to an existing top ref.
func Load(ar *arena.Arena, ref arena.Ref) (*Spec, error) {
	s := &Spec{ar: ar, children: make(map[int]*Spec)}
	if err := s.InitFromRef(ref); err != nil {
		return nil, err
	}
	return s, nil
}

// InitFromRef re-attaches the spec and all child arrays to a (possibly
// changed) top ref. Cached sub-spec accessors are re-attached recursively.
func (s *Spec) InitFromRef(ref arena.Ref) error {
	top, err := bptree.LoadRefArray(s.ar, ref)
	if err != nil {
		return err
	}
	s.top = top

	slot := func(i int) (arena.Ref, error) {
		sl, err := top.Get(i)
		if err != nil {
			return 0, err
		}
		return sl.Ref(), nil
	}

	typesRef, err := slot(topSlotTypes)
	if err != nil {
		return err
	}
	if s.types, err = bptree.LoadIntArray(s.ar, typesRef); err != nil {
		return err
	}
	namesRef, err := slot(topSlotNames)
	if err != nil {
		return err
	}
	if s.names, err = bptree.Load(s.ar, namesRef, bptree.Config{Family: bptree.FamilyBytes}); err != nil {
		return err
	}
	attrsRef, err := slot(topSlotAttrs)
	if err != nil {
		return err
	}
	if s.attrs, err = bptree.LoadIntArray(s.ar, attrsRef); err != nil {
		return err
	}

	s.subspecs = nil
	if top.Size() > topSlotSubspecs {
		r, err := slot(topSlotSubspecs)
		if err != nil {
			return err
		}
		if !r.IsNull() {
			if s.subspecs, err = bptree.LoadRefArray(s.ar, r); err != nil {
				return err
			}
		}
	}
	s.enumkeys = nil
	if top.Size() > topSlotEnumKeys {
		r, err := slot(topSlotEnumKeys)
		if err != nil {
			return err
		}
		if !r.IsNull() {
			if s.enumkeys, err = bptree.LoadRefArray(s.ar, r); err != nil {
				return err
			}
		}
	}

	for ndx, child := range s.children {
		sl, err := s.subspecs.Get(ndx)
		if err != nil {
			return err
		}
		if err := child.InitFromRef(sl.Ref()); err != nil {
			return err
		}
	}
	return nil
}

// Ref returns the spec's top ref. It can change when the top array grows.
func (s *Spec) Ref() arena.Ref { return s.top.Ref() }

// syncTop writes the (possibly moved) child array refs back into the top.
func (s *Spec) syncTop() error {
	if err := s.top.Set(topSlotTypes, bptree.RefSlot(s.types.Ref())); err != nil {
		return err
	}
	if err := s.top.Set(topSlotNames, bptree.RefSlot(s.names.Ref())); err != nil {
		return err
	}
	if err := s.top.Set(topSlotAttrs, bptree.RefSlot(s.attrs.Ref())); err != nil {
		return err
	}
	if s.subspecs != nil {
		if err := s.top.Set(topSlotSubspecs, bptree.RefSlot(s.subspecs.Ref())); err != nil {
			return err
		}
	}
	if s.enumkeys != nil {
		if err := s.top.Set(topSlotEnumKeys, bptree.RefSlot(s.enumkeys.Ref())); err != nil {
			return err
		}
	}
	return nil
}

// ColumnCount returns the number of columns, backlinks included.
func (s *Spec) ColumnCount() int { return s.types.Size() }

// PublicColumnCount returns the number of named columns; backlink columns
// are unnamed and excluded.
func (s *Spec) PublicColumnCount() (int, error) {
	return s.names.Size()
}

// GetType returns the column's type.
func (s *Spec) GetType(ndx int) (Type, error) {
	v, err := s.types.Get(ndx)
	if err != nil {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchColumn, ndx)
	}
	return Type(v), nil
}

// SetType rewrites the column's type.
func (s *Spec) SetType(ndx int, t Type) error {
	if err := s.types.Set(ndx, int64(t)); err != nil {
		return fmt.Errorf("%w: %d", ErrNoSuchColumn, ndx)
	}
	return s.syncTop()
}

// GetAttr returns the column's attribute mask.
func (s *Spec) GetAttr(ndx int) (Attr, error) {
	v, err := s.attrs.Get(ndx)
	if err != nil {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchColumn, ndx)
	}
	return Attr(v), nil
}

// SetAttr rewrites the column's attribute mask.
func (s *Spec) SetAttr(ndx int, a Attr) error {
	if err := s.attrs.Set(ndx, int64(a)); err != nil {
		return fmt.Errorf("%w: %d", ErrNoSuchColumn, ndx)
	}
	return s.syncTop()
}

// GetName returns the column's name. Backlink columns have none.
func (s *Spec) GetName(ndx int) (string, error) {
	v, err := s.names.Get(ndx)
	if err != nil {
		return "", fmt.Errorf("%w: %d", ErrNoSuchColumn, ndx)
	}
	return string(v.Bytes), nil
}

// RenameColumn rewrites the column's name.
func (s *Spec) RenameColumn(ndx int, name string) error {
	if err := s.names.Set(ndx, bptree.BytesValue([]byte(name))); err != nil {
		return err
	}
	return s.syncTop()
}

// InsertColumn inserts a column descriptor at ndx. Backlink columns are
// unnamed; every backlink must sit after all public columns.
func (s *Spec) InsertColumn(ndx int, t Type, name string, attr Attr) error {
	if ndx < 0 || ndx > s.ColumnCount() {
		return fmt.Errorf("%w: %d", ErrNoSuchColumn, ndx)
	}
	if t != TypeBackLink {
		if err := s.names.Insert(ndx, bptree.BytesValue([]byte(name))); err != nil {
			return err
		}
	}
	if err := s.types.Insert(ndx, int64(t)); err != nil {
		return err
	}
	if err := s.attrs.Insert(ndx, int64(attr)); err != nil {
		return err
	}

	if t.subspecSlots() > 0 {
		if err := s.ensureSubspecs(); err != nil {
			return err
		}
		subspecNdx, err := s.SubspecNdx(ndx)
		if err != nil {
			return err
		}
		switch t {
		case TypeTable:
			childRef, err := createEmpty(s.ar)
			if err != nil {
				return err
			}
			if err := s.subspecs.Insert(subspecNdx, bptree.RefSlot(childRef)); err != nil {
				return err
			}
			s.shiftChildren(subspecNdx, 1)
		case TypeLink, TypeLinkList:
			// The target table is not wired yet; an untagged zero marks
			// that state.
			if err := s.subspecs.Insert(subspecNdx, 0); err != nil {
				return err
			}
			s.shiftChildren(subspecNdx, 1)
		case TypeBackLink:
			if err := s.subspecs.Insert(subspecNdx, 0); err != nil {
				return err
			}
			if err := s.subspecs.Insert(subspecNdx, 0); err != nil {
				return err
			}
			s.shiftChildren(subspecNdx, 2)
		}
	}
	return s.syncTop()
}

// EraseColumn removes the column descriptor at ndx, destroying everything
// it owns: the sub-spec tree of a subtable column, the sub-spec slots of a
// link or backlink column, the key list of an enumerated column.
func (s *Spec) EraseColumn(ndx int) error {
	t, err := s.GetType(ndx)
	if err != nil {
		return err
	}

	switch t {
	case TypeTable:
		subspecNdx, err := s.SubspecNdx(ndx)
		if err != nil {
			return err
		}
		sl, err := s.subspecs.Get(subspecNdx)
		if err != nil {
			return err
		}
		if err := bptree.DestroyDeep(s.ar, sl.Ref()); err != nil {
			return err
		}
		if err := s.subspecs.Erase(subspecNdx); err != nil {
			return err
		}
		delete(s.children, subspecNdx)
		s.shiftChildren(subspecNdx, -1)
	case TypeLink, TypeLinkList:
		subspecNdx, err := s.SubspecNdx(ndx)
		if err != nil {
			return err
		}
		if err := s.subspecs.Erase(subspecNdx); err != nil {
			return err
		}
		s.shiftChildren(subspecNdx, -1)
	case TypeBackLink:
		subspecNdx, err := s.SubspecNdx(ndx)
		if err != nil {
			return err
		}
		if err := s.subspecs.Erase(subspecNdx); err != nil {
			return err
		}
		if err := s.subspecs.Erase(subspecNdx); err != nil {
			return err
		}
		s.shiftChildren(subspecNdx, -2)
	case TypeStringEnum:
		keysNdx, err := s.enumKeysNdx(ndx)
		if err != nil {
			return err
		}
		sl, err := s.enumkeys.Get(keysNdx)
		if err != nil {
			return err
		}
		if err := bptree.DestroyDeep(s.ar, sl.Ref()); err != nil {
			return err
		}
		if err := s.enumkeys.Erase(keysNdx); err != nil {
			return err
		}
	}

	if t != TypeBackLink {
		if err := s.names.Erase(ndx); err != nil {
			return err
		}
	}
	if err := s.types.Erase(ndx); err != nil {
		return err
	}
	if err := s.attrs.Erase(ndx); err != nil {
		return err
	}
	return s.syncTop()
}

// ensureSubspecs lazily creates the subspecs array on first use.
func (s *Spec) ensureSubspecs() error {
	if s.subspecs != nil {
		return nil
	}
	sub, err := bptree.NewRefArray(s.ar, false)
	if err != nil {
		return err
	}
	s.subspecs = sub
	if s.top.Size() == topSlotSubspecs {
		return s.top.Add(bptree.RefSlot(sub.Ref()))
	}
	return s.top.Set(topSlotSubspecs, bptree.RefSlot(sub.Ref()))
}

// shiftChildren renumbers cached sub-spec accessors after slot insertion
// or removal at from.
func (s *Spec) shiftChildren(from, delta int) {
	if len(s.children) == 0 {
		return
	}
	next := make(map[int]*Spec, len(s.children))
	for ndx, child := range s.children {
		if ndx >= from {
			next[ndx+delta] = child
		} else {
			next[ndx] = child
		}
	}
	s.children = next
}

// SubspecNdx returns the subspecs slot of the sub-spec-bearing column at
// ndx: the sum of slots contributed by earlier columns.
func (s *Spec) SubspecNdx(ndx int) (int, error) {
	slot := 0
	for i := 0; i < ndx; i++ {
		t, err := s.GetType(i)
		if err != nil {
			return 0, err
		}
		slot += t.subspecSlots()
	}
	return slot, nil
}

// GetSubspec returns the cached sub-spec accessor of the subtable column
// at ndx, creating it on first use.
func (s *Spec) GetSubspec(ndx int) (*Spec, error) {
	t, err := s.GetType(ndx)
	if err != nil {
		return nil, err
	}
	if t != TypeTable {
		return nil, fmt.Errorf("spec: column %d is %s, not a subtable", ndx, t)
	}
	subspecNdx, err := s.SubspecNdx(ndx)
	if err != nil {
		return nil, err
	}
	if child, ok := s.children[subspecNdx]; ok {
		return child, nil
	}
	sl, err := s.subspecs.Get(subspecNdx)
	if err != nil {
		return nil, err
	}
	child, err := Load(s.ar, sl.Ref())
	if err != nil {
		return nil, err
	}
	s.children[subspecNdx] = child
	return child, nil
}

// syncSubspec writes a cached child's (possibly moved) top ref back into
// the subspecs slot. Must be called after any schema mutation on a child.
func (s *Spec) syncSubspec(ndx int) error {
	subspecNdx, err := s.SubspecNdx(ndx)
	if err != nil {
		return err
	}
	child, ok := s.children[subspecNdx]
	if !ok {
		return nil
	}
	if err := s.subspecs.Set(subspecNdx, bptree.RefSlot(child.Ref())); err != nil {
		return err
	}
	return s.syncTop()
}

// SyncSubspec is the exported form of syncSubspec for the table layer.
func (s *Spec) SyncSubspec(ndx int) error { return s.syncSubspec(ndx) }

// SetLinkTarget records the target table of the link column at ndx as a
// tagged integer, so an untagged zero can keep meaning "not yet wired".
func (s *Spec) SetLinkTarget(ndx int, targetTable int) error {
	subspecNdx, err := s.SubspecNdx(ndx)
	if err != nil {
		return err
	}
	return s.subspecs.Set(subspecNdx, bptree.TaggedSlot(int64(targetTable)))
}

// GetLinkTarget returns the target table of the link column at ndx, and
// whether it has been wired yet.
func (s *Spec) GetLinkTarget(ndx int) (int, bool, error) {
	subspecNdx, err := s.SubspecNdx(ndx)
	if err != nil {
		return 0, false, err
	}
	sl, err := s.subspecs.Get(subspecNdx)
	if err != nil {
		return 0, false, err
	}
	if sl.IsRef() {
		return 0, false, nil
	}
	return int(sl.Tagged()), true, nil
}

// SetBacklinkOrigin records the origin table and origin column of the
// backlink column at ndx.
func (s *Spec) SetBacklinkOrigin(ndx int, originTable, originColumn int) error {
	subspecNdx, err := s.SubspecNdx(ndx)
	if err != nil {
		return err
	}
	if err := s.subspecs.Set(subspecNdx, bptree.TaggedSlot(int64(originTable))); err != nil {
		return err
	}
	return s.subspecs.Set(subspecNdx+1, bptree.TaggedSlot(int64(originColumn)))
}

// GetBacklinkOrigin returns the origin table and column of the backlink
// column at ndx, and whether they have been wired.
func (s *Spec) GetBacklinkOrigin(ndx int) (int, int, bool, error) {
	subspecNdx, err := s.SubspecNdx(ndx)
	if err != nil {
		return 0, 0, false, err
	}
	t, err := s.subspecs.Get(subspecNdx)
	if err != nil {
		return 0, 0, false, err
	}
	c, err := s.subspecs.Get(subspecNdx + 1)
	if err != nil {
		return 0, 0, false, err
	}
	if t.IsRef() || c.IsRef() {
		return 0, 0, false, nil
	}
	return int(t.Tagged()), int(c.Tagged()), true, nil
}

// enumKeysNdx returns the enumkeys slot of the enumerated column at ndx.
func (s *Spec) enumKeysNdx(ndx int) (int, error) {
	slot := 0
	for i := 0; i < ndx; i++ {
		t, err := s.GetType(i)
		if err != nil {
			return 0, err
		}
		if t == TypeStringEnum {
			slot++
		}
	}
	return slot, nil
}

// UpgradeStringToEnum switches the string column at ndx to the enumerated
// encoding, registering the ref of its key list.
func (s *Spec) UpgradeStringToEnum(ndx int, keysRef arena.Ref) error {
	t, err := s.GetType(ndx)
	if err != nil {
		return err
	}
	if t != TypeString {
		return fmt.Errorf("spec: column %d is %s, not a string column", ndx, t)
	}
	if s.enumkeys == nil {
		keys, err := bptree.NewRefArray(s.ar, false)
		if err != nil {
			return err
		}
		s.enumkeys = keys
		for s.top.Size() < topSlotEnumKeys {
			if err := s.top.Add(0); err != nil {
				return err
			}
		}
		if s.top.Size() == topSlotEnumKeys {
			if err := s.top.Add(bptree.RefSlot(keys.Ref())); err != nil {
				return err
			}
		} else {
			if err := s.top.Set(topSlotEnumKeys, bptree.RefSlot(keys.Ref())); err != nil {
				return err
			}
		}
	}
	keysNdx, err := s.enumKeysNdx(ndx)
	if err != nil {
		return err
	}
	if err := s.enumkeys.Insert(keysNdx, bptree.RefSlot(keysRef)); err != nil {
		return err
	}
	if err := s.types.Set(ndx, int64(TypeStringEnum)); err != nil {
		return err
	}
	return s.syncTop()
}

// EnumKeysRef returns the key list ref of the enumerated column at ndx.
func (s *Spec) EnumKeysRef(ndx int) (arena.Ref, error) {
	keysNdx, err := s.enumKeysNdx(ndx)
	if err != nil {
		return 0, err
	}
	sl, err := s.enumkeys.Get(keysNdx)
	if err != nil {
		return 0, err
	}
	return sl.Ref(), nil
}

// SetEnumKeysRef writes back a (possibly moved) key list root.
func (s *Spec) SetEnumKeysRef(ndx int, ref arena.Ref) error {
	keysNdx, err := s.enumKeysNdx(ndx)
	if err != nil {
		return err
	}
	if err := s.enumkeys.Set(keysNdx, bptree.RefSlot(ref)); err != nil {
		return err
	}
	return s.syncTop()
}

// HasStrongLinks reports whether any column cascades deletes.
func (s *Spec) HasStrongLinks() (bool, error) {
	for i := 0; i < s.ColumnCount(); i++ {
		a, err := s.GetAttr(i)
		if err != nil {
			return false, err
		}
		if a&AttrStrongLinks != 0 {
			return true, nil
		}
	}
	return false, nil
}

// Equal compares two specs structurally: types, names, attributes and,
// recursively, sub-specs. String and StringEnum compare as equal because
// the enumeration is an internal encoding, not a schema difference.
func (s *Spec) Equal(o *Spec) (bool, error) {
	if s.ColumnCount() != o.ColumnCount() {
		return false, nil
	}
	for i := 0; i < s.ColumnCount(); i++ {
		st, err := s.GetType(i)
		if err != nil {
			return false, err
		}
		ot, err := o.GetType(i)
		if err != nil {
			return false, err
		}
		if normalizeType(st) != normalizeType(ot) {
			return false, nil
		}
		sa, err := s.GetAttr(i)
		if err != nil {
			return false, err
		}
		oa, err := o.GetAttr(i)
		if err != nil {
			return false, err
		}
		if sa != oa {
			return false, nil
		}
		if st != TypeBackLink {
			sn, err := s.GetName(i)
			if err != nil {
				return false, err
			}
			on, err := o.GetName(i)
			if err != nil {
				return false, err
			}
			if sn != on {
				return false, nil
			}
		}
		if normalizeType(st) == TypeTable {
			sc, err := s.GetSubspec(i)
			if err != nil {
				return false, err
			}
			oc, err := o.GetSubspec(i)
			if err != nil {
				return false, err
			}
			eq, err := sc.Equal(oc)
			if err != nil || !eq {
				return eq, err
			}
		}
	}
	return true, nil
}

func normalizeType(t Type) Type {
	if t == TypeStringEnum {
		return TypeString
	}
	return t
}

// Destroy frees the spec storage, sub-specs and key lists included.
func (s *Spec) Destroy() error {
	ref := s.top.Ref()
	s.top = nil
	s.children = nil
	return bptree.DestroyDeep(s.ar, ref)
}

// Verify checks the structural invariants of the descriptor.
func (s *Spec) Verify() error {
	public, err := s.PublicColumnCount()
	if err != nil {
		return err
	}
	named := 0
	subspecSlots := 0
	for i := 0; i < s.ColumnCount(); i++ {
		t, err := s.GetType(i)
		if err != nil {
			return err
		}
		if t != TypeBackLink {
			named++
		}
		subspecSlots += t.subspecSlots()
	}
	if named != public {
		return fmt.Errorf("spec: %d names for %d public columns", public, named)
	}
	if s.types.Size() != s.attrs.Size() {
		return fmt.Errorf("spec: %d types, %d attrs", s.types.Size(), s.attrs.Size())
	}
	if subspecSlots > 0 {
		if s.subspecs == nil {
			return fmt.Errorf("spec: %d subspec slots expected, array missing", subspecSlots)
		}
		if s.subspecs.Size() != subspecSlots {
			return fmt.Errorf("spec: %d subspec slots expected, found %d", subspecSlots, s.subspecs.Size())
		}
	}
	return nil
}

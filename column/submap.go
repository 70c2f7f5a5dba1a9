package column

// submapEntry pairs a row index with the live child table accessor open on
// it. The map holds no ownership; accessors are reference counted by their
// users.
type submapEntry struct {
	row   int
	table *Table
}

// subtableMap is the small multiset of live child accessors of one
// subtable column. At most one entry exists per row index. All access is
// serialized by the owning column's lock; operations that detach accessors
// run outside the lock because a released accessor reaches back into the
// column.
type subtableMap struct {
	entries []submapEntry
}

func (m *subtableMap) empty() bool { return len(m.entries) == 0 }

func (m *subtableMap) find(row int) *Table {
	for _, e := range m.entries {
		if e.row == row {
			return e.table
		}
	}
	return nil
}

// add registers an accessor. The row must not already be mapped.
func (m *subtableMap) add(row int, t *Table) {
	m.entries = append(m.entries, submapEntry{row: row, table: t})
}

// remove drops the entry of the given accessor by swap-with-last. Reports
// whether an entry was removed.
func (m *subtableMap) remove(t *Table) bool {
	for i := range m.entries {
		if m.entries[i].table == t {
			last := len(m.entries) - 1
			m.entries[i] = m.entries[last]
			m.entries = m.entries[:last]
			return true
		}
	}
	return false
}

// take removes and returns the entry at row, or nil.
func (m *subtableMap) take(row int) *Table {
	for i := range m.entries {
		if m.entries[i].row == row {
			t := m.entries[i].table
			last := len(m.entries) - 1
			m.entries[i] = m.entries[last]
			m.entries = m.entries[:last]
			return t
		}
	}
	return nil
}

// takeAll removes every entry and returns the accessors.
func (m *subtableMap) takeAll() []*Table {
	out := make([]*Table, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.table)
	}
	m.entries = m.entries[:0]
	return out
}

// adjInsertRows renumbers entries after rows were inserted into the
// column.
func (m *subtableMap) adjInsertRows(row, n int) {
	for i := range m.entries {
		if m.entries[i].row >= row {
			m.entries[i].row += n
			m.entries[i].table.setNdxInParent(m.entries[i].row)
		}
	}
}

// adjEraseRow renumbers entries above an erased row. The entry of the row
// itself must have been taken out beforehand.
func (m *subtableMap) adjEraseRow(row int) {
	for i := range m.entries {
		if m.entries[i].row > row {
			m.entries[i].row--
			m.entries[i].table.setNdxInParent(m.entries[i].row)
		}
	}
}

// adjMoveOver repoints the accessor of row from to row to after
// move-last-over.
func (m *subtableMap) adjMoveOver(from, to int) {
	for i := range m.entries {
		if m.entries[i].row == from {
			m.entries[i].row = to
			m.entries[i].table.setNdxInParent(to)
		}
	}
}

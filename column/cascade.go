package column

import "sort"

// CascadeRow identifies a row by its group-level table index and row index.
// The pair is the global dedupe key of a cascade round.
type CascadeRow struct {
	TableNdx int
	RowNdx   int
}

func (r CascadeRow) less(o CascadeRow) bool {
	if r.TableNdx != o.TableNdx {
		return r.TableNdx < o.TableNdx
	}
	return r.RowNdx < o.RowNdx
}

// CascadeState collects the rows scheduled for removal during a cascading
// delete, ordered lexicographically and de-duplicated, plus the two
// mutually exclusive stop markers that prevent re-entry.
type CascadeState struct {
	rows []CascadeRow

	// StopOnTable suppresses recursion into the given table. Table clear
	// sets it so that the rows being cleared are not scheduled again.
	// Must never be set together with StopOnLinkListColumn.
	StopOnTable *Table

	// StopOnLinkListColumn suppresses backlink removal for one link list,
	// identified by the column and the row holding the list. Link-list
	// clear sets it to avoid re-entry. Ignored when nil.
	StopOnLinkListColumn  Column
	StopOnLinkListRowNdx  int
}

// NewCascadeState creates an empty cascade state.
func NewCascadeState() *CascadeState {
	return &CascadeState{}
}

// Add schedules a row for removal. Duplicates are dropped; the set stays
// sorted. Reports whether the row was newly added.
func (s *CascadeState) Add(row CascadeRow) bool {
	i := sort.Search(len(s.rows), func(i int) bool {
		return !s.rows[i].less(row)
	})
	if i < len(s.rows) && s.rows[i] == row {
		return false
	}
	s.rows = append(s.rows, CascadeRow{})
	copy(s.rows[i+1:], s.rows[i:])
	s.rows[i] = row
	return true
}

// Contains reports whether the row is scheduled.
func (s *CascadeState) Contains(row CascadeRow) bool {
	i := sort.Search(len(s.rows), func(i int) bool {
		return !s.rows[i].less(row)
	})
	return i < len(s.rows) && s.rows[i] == row
}

// Rows returns the scheduled rows in lexicographic order.
func (s *CascadeState) Rows() []CascadeRow { return s.rows }

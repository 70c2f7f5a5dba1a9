// Package colgo provides the column storage core of an embedded,
// column-oriented database for Go.
//
// Each table is a collection of typed columns; each column is a persistent
// B+-tree whose leaves hold the actual values. Trees live in a file-backed
// arena of immutable-addressed blocks ("refs"), with production-ready
// features including:
//
//   - Typed columns: integer, binary/string, dictionary-encoded string
//     (enumeration), and subtable columns
//   - Adaptive leaf encodings for variable-length values (small/long/big)
//     with monotonic in-place promotion
//   - Optional Roaring Bitmap-backed search index per column, kept in
//     lock-step with every mutation
//   - Accessor refresh protocol that re-synchronizes live accessors with
//     the ref graph after an external commit
//   - Cascading deletes across strong-link columns with re-entrancy guards
//   - Arena snapshots with optional compression (LZ4, Zstandard)
//
// # Quick Start
//
// Create a table with an integer and a string column, write some rows:
//
//	ar := arena.New()
//	tbl, _ := colgo.CreateTable(ar, func(s *spec.Spec) error {
//	    if err := s.InsertColumn(0, spec.TypeInt, "score", spec.AttrNone); err != nil {
//	        return err
//	    }
//	    return s.InsertColumn(1, spec.TypeString, "name", spec.AttrIndexed)
//	})
//	defer tbl.Close()
//
//	score, _ := tbl.IntColumn(0)
//	name, _ := tbl.StringColumn(1)
//	row, _ := tbl.AddRow()
//	_ = score.Set(row, 42)
//	_ = name.SetString(row, "zaphod")
//
//	row, _ = name.FindFirstString("zaphod") // 0
//
// Persist the whole arena image and load it back:
//
//	var buf bytes.Buffer
//	_, _ = ar.WriteTo(&buf, tbl.Ref(), arena.CompressionZstd)
//
// # Concurrency
//
// The core assumes externally serialized mutation: a single writer per
// column within a transaction. The only internal locking is in the subtable
// column's accessor map, which can be re-entered by child accessor
// destruction. There are no suspension points; every operation is
// synchronous CPU + arena work.
package colgo

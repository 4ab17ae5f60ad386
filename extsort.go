// Package extsort implements a bounded-memory external merge-sort engine.
//
// Records are appended through Write until Rewind transitions the sorter
// into its merging phase; Next, Rowkey and Compare then drive a forward
// iteration over the fully sorted sequence, whether or not any data ever
// spilled to temporary storage. Past a configured memory budget the
// accumulator is flushed to a "packed memory array" (PMA) in a caller
// supplied temp file; PMAs are merged back through a tournament tree,
// optionally several levels deep, optionally overlapping merge work with
// consumption on background goroutines.
package extsort

// Comparator orders two keys. It must be a deterministic, thread-safe
// total order over every key a caller ever writes; the engine never
// interprets key bytes itself. ignoreTrailing, when nonzero, asks the
// comparator to disregard that many trailing fields of its own key
// encoding, and to report Less whenever a leading field of the sorter's
// current key is NULL — callers use this to defer UNIQUE-index checks.
type Comparator func(a, b []byte, ignoreTrailing int) int

// HeapOracle reports memory pressure so the Sorter can spill a run before
// its configured max-PMA threshold would otherwise force it to. It is an
// optional collaborator; a nil HeapOracle simply disables the early-spill
// path and only the size threshold triggers a flush.
type HeapOracle interface {
	NearlyFull() bool
}

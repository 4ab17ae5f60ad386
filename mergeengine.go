package extsort

// mergeEngine is a tournament tree over up to N readers, N the next power
// of two >= the number of real readers supplied (minimum 2, so the index
// arithmetic below never degenerates). Slots beyond the real reader count
// are permanently at EOF. tree[1] always indexes the reader holding the
// current minimum key; tree[k] for k < N/2 holds the winner between
// tree[2k] and tree[2k+1], and for k >= N/2 the winner between readers
// 2k-N and 2k-N+1. A mergeEngine is itself a runSource, so trees compose.
type mergeEngine struct {
	cmp     Comparator
	readers []runSource
	haveKey []bool
	tree    []int
	active  int
	primed  bool
}

func newMergeEngine(cmp Comparator, readers []runSource) *mergeEngine {
	n := 2
	for n < len(readers) {
		n *= 2
	}
	m := &mergeEngine{
		cmp:     cmp,
		readers: make([]runSource, n),
		haveKey: make([]bool, n),
		tree:    make([]int, n),
		active:  len(readers),
	}
	copy(m.readers, readers)
	return m
}

func (m *mergeEngine) Key() []byte {
	return m.readers[m.tree[1]].Key()
}

func (m *mergeEngine) Next() (bool, error) {
	if !m.primed {
		for i := 0; i < m.active; i++ {
			ok, err := m.readers[i].Next()
			if err != nil {
				return false, err
			}
			m.haveKey[i] = ok
		}
		m.buildAll()
		m.primed = true
		return m.haveKey[m.tree[1]], nil
	}
	winner := m.tree[1]
	if !m.haveKey[winner] {
		return false, nil
	}
	ok, err := m.readers[winner].Next()
	if err != nil {
		return false, err
	}
	m.haveKey[winner] = ok
	m.updatePath(winner)
	return m.haveKey[m.tree[1]], nil
}

// winner returns the index of the smaller-keyed reader between a and b.
// EOF compares greater than any key; ties break toward the lower index so
// the older reader wins, which is what preserves single-threaded
// stability across a merge.
func (m *mergeEngine) winner(a, b int) int {
	ak, bk := m.haveKey[a], m.haveKey[b]
	switch {
	case !ak && !bk:
		if a < b {
			return a
		}
		return b
	case !ak:
		return b
	case !bk:
		return a
	}
	if m.cmp(m.readers[a].Key(), m.readers[b].Key(), 0) <= 0 {
		return a
	}
	return b
}

func (m *mergeEngine) buildAll() {
	n := len(m.readers)
	for k := n / 2; k < n; k++ {
		m.tree[k] = m.winner(2*k-n, 2*k-n+1)
	}
	for k := n/2 - 1; k >= 1; k-- {
		m.tree[k] = m.winner(m.tree[2*k], m.tree[2*k+1])
	}
}

// updatePath recomputes only the log2(N) nodes on the path from
// readerIdx's leaf pair up to the root, per the MergeEngine step
// operation.
func (m *mergeEngine) updatePath(readerIdx int) {
	n := len(m.readers)
	k := n/2 + readerIdx/2
	m.tree[k] = m.winner(2*k-n, 2*k-n+1)
	for k > 1 {
		k /= 2
		m.tree[k] = m.winner(m.tree[2*k], m.tree[2*k+1])
	}
}

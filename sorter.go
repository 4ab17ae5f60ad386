package extsort

// phase is the Sorter's lifecycle state: accumulating writes, merging
// them back out, or drained.
type phase int

const (
	phaseAccumulating phase = iota
	phaseMerging
	phaseExhausted
)

// Sorter buffers incoming records in memory, spills sorted runs to temp
// files once a memory cap is hit, and on Rewind builds a tree of merges
// that drives subsequent Next calls. It owns all of its subtasks and
// configuration; nothing about key encoding or storage is its concern
// beyond the Comparator and TempFileFactory it was given.
type Sorter struct {
	cmp     Comparator
	cfg     Config
	factory TempFileFactory

	subtasks   []*subtask
	useThreads bool
	usePMA     bool
	lastFlush  int

	cur        *sorterList
	curBytes   int64
	maxKeySize int
	bulkCap    int

	phase  phase
	root   runSource
	curKey []byte
}

// NewSorter constructs a Sorter. cmp and factory are required external
// collaborators; cfg is copied and defaulted.
func NewSorter(cmp Comparator, cfg Config, factory TempFileFactory) (*Sorter, error) {
	if cmp == nil {
		return nil, newErr(KindInvalidUsage, "sorter.new", errNilComparator)
	}
	if factory == nil {
		return nil, newErr(KindInvalidUsage, "sorter.new", errNilFactory)
	}
	cfg.setDefaults()
	s := &Sorter{cmp: cmp, cfg: cfg, factory: factory}
	if err := s.resetState(); err != nil {
		return nil, err
	}
	return s, nil
}

// resetState (re)initializes all per-run state, including the
// pre-allocated bulk buffer that backs the current in-memory run.
func (s *Sorter) resetState() error {
	n := 1
	s.useThreads = s.cfg.WorkerBudget > 0
	if s.useThreads {
		n = s.cfg.WorkerBudget + 1
	}
	s.subtasks = make([]*subtask, n)
	for i := range s.subtasks {
		s.subtasks[i] = newSubtask(s)
	}
	// Reuse the existing bulk buffer's backing array across a Reset rather
	// than reallocating, since the run it held is no longer needed but the
	// memory behind it still is. A fresh page-sized buffer is allocated on
	// the first call, from NewSorter, and whenever the current list holds
	// no buffer: an in-memory Rewind sorts through sorterList.Sorted, which
	// releases the buffer, so a Reset after such a run does not reuse it.
	if s.cur != nil && cap(s.cur.buf) > 0 {
		s.bulkCap = cap(s.cur.buf)
		s.cur = newBulkSorterList(s.cmp, s.cur.buf[:0])
	} else {
		s.bulkCap = s.cfg.PageSize
		buf, err := safeMakeBytes(int64(s.bulkCap))
		if err != nil {
			return newErr(KindOutOfMemory, "sorter.reset", err)
		}
		s.cur = newBulkSorterList(s.cmp, buf)
	}
	s.curBytes = 0
	s.maxKeySize = 0
	s.usePMA = false
	s.lastFlush = -1
	s.phase = phaseAccumulating
	s.root = nil
	s.curKey = nil
	return nil
}

// Write appends record to the current in-memory run, spilling it to a
// level-0 PMA first if needed to stay within the configured memory
// budget. Phase must be ACCUMULATING.
func (s *Sorter) Write(record []byte) error {
	if s.phase != phaseAccumulating {
		return newErr(KindInvalidUsage, "sorter.write", errWrongPhase)
	}
	if err := s.checkSubtaskErrors(); err != nil {
		return err
	}
	if err := s.ensureBulkRoom(len(record)); err != nil {
		return err
	}
	s.cur.Add(record)
	s.curBytes += int64(varintLen(uint64(len(record)))) + int64(len(record))
	if len(record) > s.maxKeySize {
		s.maxKeySize = len(record)
	}
	nearlyFull := s.cfg.Heap != nil && s.cfg.Heap.NearlyFull()
	if s.curBytes > s.cfg.maxPmaBytes() || (s.curBytes > s.cfg.minPmaBytes() && nearlyFull) {
		return s.flush()
	}
	return nil
}

// ensureBulkRoom grows the current run's bulk buffer up to max_pma so the
// next record fits, rather than spilling early just because the buffer
// happens to be small. A single record larger than max_pma still grows
// the buffer past max_pma far enough to fit it (to the doubled capacity or
// to the exact size needed, whichever is larger); Write's own byte
// threshold check then spills it immediately afterward.
func (s *Sorter) ensureBulkRoom(keyLen int) error {
	need := int64(len(s.cur.buf)) + int64(bulkHeaderSize) + int64(keyLen)
	if need <= int64(cap(s.cur.buf)) {
		return nil
	}
	newCap := int64(cap(s.cur.buf)) * 2
	if newCap < need {
		newCap = need
	}
	if max := s.cfg.maxPmaBytes(); newCap > max && need <= max {
		newCap = max
	}
	buf, err := safeMakeBytes(newCap)
	if err != nil {
		return newErr(KindOutOfMemory, "sorter.write", err)
	}
	copy(buf, s.cur.buf)
	s.cur.buf = buf[:len(s.cur.buf)]
	s.bulkCap = int(newCap)
	return nil
}

// flush moves the current run to a subtask and writes it out as one
// level-0 PMA, inline or on a worker goroutine depending on configuration.
// The replacement bulk buffer is allocated before the run is stolen from
// s.cur so that an allocation failure leaves the sorter accumulating with
// its run intact rather than half-transitioned.
func (s *Sorter) flush() error {
	fresh, err := safeMakeBytes(int64(s.bulkCap))
	if err != nil {
		return newErr(KindOutOfMemory, "sorter.flush", err)
	}
	run := s.cur.Sorted()
	payloadBytes := s.curBytes
	s.cur = newBulkSorterList(s.cmp, fresh)
	s.curBytes = 0
	s.usePMA = true

	idx := s.selectSubtask()
	s.lastFlush = idx
	t := s.subtasks[idx]
	if s.useThreads && idx < len(s.subtasks)-1 {
		s.cfg.Trace("extsort: flushing %d bytes to subtask %d on a worker goroutine", payloadBytes, idx)
		t.flushAsync(run, payloadBytes)
		return nil
	}
	s.cfg.Trace("extsort: flushing %d bytes to subtask %d inline", payloadBytes, idx)
	if err := t.flushRun(run, payloadBytes); err != nil {
		t.setError(err)
		return err
	}
	return nil
}

// selectSubtask round-robins over the worker slots, skipping any whose
// previous flush hasn't finished, falling back to the final (consumer
// thread) slot if none is free.
func (s *Sorter) selectSubtask() int {
	n := len(s.subtasks)
	if n == 1 {
		return 0
	}
	workerSlots := n - 1
	for i := 1; i <= workerSlots; i++ {
		idx := (s.lastFlush + i) % workerSlots
		if idx < 0 {
			idx += workerSlots
		}
		if !s.subtasks[idx].busy.Load() {
			return idx
		}
	}
	return n - 1
}

// Rewind is the one-way transition from ACCUMULATING to MERGING. It
// flushes any final run, joins outstanding flush workers, builds the
// merge tree, and positions on the first key.
func (s *Sorter) Rewind() error {
	if s.phase != phaseAccumulating {
		return newErr(KindInvalidUsage, "sorter.rewind", errWrongPhase)
	}
	if !s.usePMA {
		run := s.cur.Sorted()
		s.root = newListRunSource(run)
		s.phase = phaseMerging
		return s.advance()
	}
	if s.cur.Len() > 0 {
		if err := s.flush(); err != nil {
			return err
		}
	}
	for _, t := range s.subtasks {
		t.join()
	}
	if err := s.checkSubtaskErrors(); err != nil {
		return err
	}
	root, err := s.buildMergeTree()
	if err != nil {
		s.phase = phaseExhausted
		return err
	}
	s.root = root
	s.phase = phaseMerging
	return s.advance()
}

func (s *Sorter) checkSubtaskErrors() error {
	for _, t := range s.subtasks {
		if err := t.Err(); err != nil {
			s.phase = phaseExhausted
			return err
		}
	}
	return nil
}

func (s *Sorter) maxBufSize() int64 {
	half := s.cfg.maxPmaBytes() / 2
	need := int64(s.maxKeySize + maxVarintLen)
	if need > half {
		return need
	}
	return half
}

// buildMergeTree builds one subtree per subtask holding data, then (if
// more than one such subtask exists) a root MergeEngine across them, each
// fed through its own IncrementalMerger so a parent reader can consume
// the whole subtree as one bounded region.
func (s *Sorter) buildMergeTree() (runSource, error) {
	var roots []runSource
	var owners []*subtask
	for _, t := range s.subtasks {
		n := t.pmaCount()
		if n == 0 {
			continue
		}
		sub, err := s.buildSubtaskTree(t, n)
		if err != nil {
			return nil, err
		}
		roots = append(roots, sub)
		owners = append(owners, t)
	}
	if len(roots) == 0 {
		return newListRunSource(nil), nil
	}
	if len(roots) == 1 {
		return roots[0], nil
	}
	s.cfg.Trace("extsort: building root merge over %d subtasks", len(roots))
	// Prime the root's readers highest-index first: in threaded mode this
	// kicks off background fills in reverse order, so by the time the
	// consumer drains reader 0 the later subtasks are already filling
	// their second buffer rather than starting cold.
	readers := make([]runSource, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		im, err := newIncrementalMerger(owners[i], roots[i], s.useThreads, s.maxBufSize())
		if err != nil {
			return nil, err
		}
		r, err := newIncrPMAReader(im, s.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		readers[i] = r
	}
	return newMergeEngine(s.cmp, readers), nil
}

func (s *Sorter) tryMmapFile(f TempFile, size int64) []byte {
	if s.cfg.MaxMmapBytes <= 0 || size <= 0 || size > s.cfg.MaxMmapBytes {
		return nil
	}
	data, ok, err := f.TryMmap(size)
	if err != nil || !ok {
		return nil
	}
	return data
}

// buildSubtaskTree builds a single MergeEngine over a subtask's PMAs when
// their count is within fanout, or a hierarchical tree of depth
// ceil(log_F(P)) otherwise, so no level ever merges more than fanout
// sources at once.
func (s *Sorter) buildSubtaskTree(t *subtask, p int) (runSource, error) {
	mapped := s.tryMmapFile(t.file, t.fileEOF)
	leaves := make([]runSource, p)
	for i := 0; i < p; i++ {
		r, err := newPMAReader(t.file, mapped, t.pmaStart(i), s.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		leaves[i] = r
	}
	if p <= s.cfg.Fanout {
		return newMergeEngine(s.cmp, leaves), nil
	}
	return s.buildLevels(t, leaves)
}

func (s *Sorter) buildLevels(t *subtask, leaves []runSource) (runSource, error) {
	level := leaves
	f := s.cfg.Fanout
	for len(level) > f {
		next := make([]runSource, 0, (len(level)+f-1)/f)
		for i := 0; i < len(level); i += f {
			end := i + f
			if end > len(level) {
				end = len(level)
			}
			me := newMergeEngine(s.cmp, level[i:end])
			im, err := newIncrementalMerger(t, me, s.useThreads, s.maxBufSize())
			if err != nil {
				return nil, err
			}
			r, err := newIncrPMAReader(im, s.cfg.PageSize)
			if err != nil {
				return nil, err
			}
			next = append(next, r)
		}
		level = next
	}
	return newMergeEngine(s.cmp, level), nil
}

func (s *Sorter) advance() error {
	ok, err := s.root.Next()
	if err != nil {
		s.phase = phaseExhausted
		return err
	}
	if !ok {
		s.curKey = nil
		s.phase = phaseExhausted
		return nil
	}
	s.curKey = s.root.Key()
	return nil
}

// Next advances to the next smallest key. It returns false once exhausted
// and is idempotent thereafter.
func (s *Sorter) Next() (bool, error) {
	switch s.phase {
	case phaseExhausted:
		return false, nil
	case phaseMerging:
		if err := s.advance(); err != nil {
			return false, err
		}
		return s.curKey != nil, nil
	default:
		return false, newErr(KindInvalidUsage, "sorter.next", errWrongPhase)
	}
}

// Rowkey returns the current key. Valid until the next Next or Rewind.
func (s *Sorter) Rowkey() []byte {
	return s.curKey
}

// Compare compares candidate against the current key, ignoring the last
// ignoreTrailing comparator fields; NULL-leading-field handling is
// delegated entirely to the comparator, which owns key encoding.
func (s *Sorter) Compare(candidate []byte, ignoreTrailing int) int {
	return s.cmp(candidate, s.curKey, ignoreTrailing)
}

// Reset returns the Sorter to ACCUMULATING, releasing the subtasks' temp
// files and replacing the subtask slots with fresh ones; the bulk buffer
// is reused when the previous run left one behind (see resetState).
func (s *Sorter) Reset() error {
	var firstErr error
	for _, t := range s.subtasks {
		if err := t.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.resetState(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases temp files and joins any outstanding worker goroutines.
func (s *Sorter) Close() error {
	var firstErr error
	for _, t := range s.subtasks {
		if err := t.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.phase = phaseExhausted
	return firstErr
}

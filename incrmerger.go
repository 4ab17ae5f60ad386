package extsort

import "sync"

// incrementalMerger adapts a child runSource (normally a mergeEngine over
// some subtree) into a bounded file region a parent pmaReader can consume
// like a headerless PMA. It owns two buffer regions of at most maxBuf
// bytes each; one is being drained by the Reader while the other is
// refilled from the child, either synchronously (single-threaded) or by a
// background goroutine (threaded), bounding peak disk use to 2*maxBuf per
// merger regardless of how large the child subtree is.
type incrementalMerger struct {
	task     *subtask
	child    runSource
	threaded bool
	maxBuf   int64

	// single-threaded: both regions alias task.scratch at
	// startOff + k*maxBuf. threaded: each region is its own temp file.
	file     TempFile
	startOff int64
	files    [2]TempFile

	eofs    [2]int64 // bytes written in each region, relative to its base
	readIdx int

	primed       bool
	childHasMore bool

	wg      sync.WaitGroup
	fillErr error
}

func newIncrementalMerger(t *subtask, child runSource, threaded bool, maxBuf int64) (*incrementalMerger, error) {
	m := &incrementalMerger{task: t, child: child, threaded: threaded, maxBuf: maxBuf}
	if threaded {
		f0, err := t.sorter.factory.Open()
		if err != nil {
			return nil, newErr(KindIo, "incrmerger.open", err)
		}
		f1, err := t.sorter.factory.Open()
		if err != nil {
			return nil, newErr(KindIo, "incrmerger.open", err)
		}
		m.files[0], m.files[1] = f0, f1
	} else {
		if err := t.ensureScratch(); err != nil {
			return nil, err
		}
		m.file = t.scratch
		m.startOff = t.scratchEOF
		t.scratchEOF += 2 * maxBuf
	}
	return m, nil
}

func (m *incrementalMerger) regionFile(idx int) (TempFile, int64) {
	if m.threaded {
		return m.files[idx], 0
	}
	return m.file, m.startOff + int64(idx)*m.maxBuf
}

func (m *incrementalMerger) currentRegion() (TempFile, int64, int64) {
	file, base := m.regionFile(m.readIdx)
	return file, base, base + m.eofs[m.readIdx]
}

func (m *incrementalMerger) ensurePrimed() error {
	if m.primed {
		return nil
	}
	m.primed = true
	ok, err := m.child.Next()
	if err != nil {
		return err
	}
	m.childHasMore = ok
	return nil
}

// fill drains the child into region idx until the next key would not fit
// or the child is exhausted. A single oversized key is still written
// alone, since maxBuf is sized to guarantee room for the largest key seen.
func (m *incrementalMerger) fill(idx int) error {
	if err := m.ensurePrimed(); err != nil {
		return err
	}
	file, base := m.regionFile(idx)
	w := newPMAWriter(file, base, m.task.sorter.cfg.PageSize)
	var written int64
	for m.childHasMore {
		key := m.child.Key()
		need := int64(varintLen(uint64(len(key))) + len(key))
		if written > 0 && written+need > m.maxBuf {
			break
		}
		w.writeVarint(uint64(len(key)))
		w.writeBytes(key)
		written += need
		ok, err := m.child.Next()
		if err != nil {
			return err
		}
		m.childHasMore = ok
	}
	eof, err := w.finish()
	if err != nil {
		return err
	}
	m.eofs[idx] = eof - base
	return nil
}

// start fills the first buffer so a pmaReader can begin consuming it, and
// in threaded mode kicks off a background fill of the second buffer so
// it's ready by the time the first swap happens.
func (m *incrementalMerger) start() error {
	if err := m.fill(0); err != nil {
		return err
	}
	if m.threaded && m.childHasMore {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.fill(1); err != nil {
				m.fillErr = newErr(KindWorkerFailed, "incrmerger.fill", err)
			}
		}()
	}
	return nil
}

// swap is called when the Reader has drained its current region. It
// returns false if the newly current region is empty, meaning the merger
// is exhausted.
func (m *incrementalMerger) swap() (bool, error) {
	otherIdx := 1 - m.readIdx
	if m.threaded {
		m.wg.Wait()
		if m.fillErr != nil {
			return false, m.fillErr
		}
	} else if m.childHasMore {
		if err := m.fill(otherIdx); err != nil {
			return false, err
		}
	} else {
		// unrefreshed region must not be mistaken for stale leftover data
		m.eofs[otherIdx] = 0
	}
	drainedIdx := m.readIdx
	m.readIdx = otherIdx
	if m.threaded && m.childHasMore {
		m.wg.Add(1)
		go func(idx int) {
			defer m.wg.Done()
			if err := m.fill(idx); err != nil {
				m.fillErr = newErr(KindWorkerFailed, "incrmerger.fill", err)
			}
		}(drainedIdx)
	} else if m.threaded {
		// the drained region will not be refilled, so it must read as empty
		m.eofs[drainedIdx] = 0
	}
	return m.eofs[m.readIdx] > 0, nil
}

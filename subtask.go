package extsort

import (
	"sync"
	"sync/atomic"
)

// subtask is a slot owning one temp file of level-0 PMAs, one scratch
// temp file for higher-level single-threaded incremental merges, and (in
// threaded configurations) the worker goroutine that flushes runs handed
// to it. There are WorkerBudget+1 subtasks per Sorter: one per worker
// plus one for the consumer thread.
type subtask struct {
	sorter *Sorter

	file    TempFile
	fileEOF int64

	scratch    TempFile
	scratchEOF int64

	pmaOffsets []int64

	busy atomic.Bool
	wg   sync.WaitGroup

	mu       sync.Mutex
	errMu    sync.Mutex
	firstErr error
}

func newSubtask(s *Sorter) *subtask {
	return &subtask{sorter: s}
}

func (t *subtask) setError(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.firstErr == nil {
		t.firstErr = err
	}
}

func (t *subtask) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.firstErr
}

func (t *subtask) ensureFile() error {
	if t.file != nil {
		return nil
	}
	f, err := t.sorter.factory.Open()
	if err != nil {
		return newErr(KindIo, "subtask.open", err)
	}
	t.file = f
	return nil
}

func (t *subtask) ensureScratch() error {
	if t.scratch != nil {
		return nil
	}
	f, err := t.sorter.factory.Open()
	if err != nil {
		return newErr(KindIo, "subtask.scratch", err)
	}
	t.scratch = f
	return nil
}

// flushRun writes run as one level-0 PMA appended to the primary file. It
// does not sort: the caller (Sorter.flush) sorts the run on the calling
// goroutine before handing it over, so a worker goroutine only writes.
// payloadBytes must equal the sum of varint_len(len(key)) + len(key) over
// the chain.
func (t *subtask) flushRun(run *sorterRecord, payloadBytes int64) error {
	if err := t.ensureFile(); err != nil {
		return err
	}
	start := t.fileEOF
	w := newPMAWriter(t.file, start, t.sorter.cfg.PageSize)
	w.writeVarint(uint64(payloadBytes))
	for rec := run; rec != nil; rec = rec.next {
		w.writeVarint(uint64(len(rec.key)))
		w.writeBytes(rec.key)
	}
	eof, err := w.finish()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.pmaOffsets = append(t.pmaOffsets, start)
	t.fileEOF = eof
	t.mu.Unlock()
	return nil
}

func (t *subtask) flushAsync(run *sorterRecord, payloadBytes int64) {
	t.busy.Store(true)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.busy.Store(false)
		if err := t.flushRun(run, payloadBytes); err != nil {
			t.setError(newErr(KindWorkerFailed, "subtask.worker", err))
		}
	}()
}

func (t *subtask) join() {
	t.wg.Wait()
}

func (t *subtask) pmaCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pmaOffsets)
}

func (t *subtask) pmaStart(i int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pmaOffsets[i]
}

func (t *subtask) close() error {
	t.join()
	var err error
	if t.file != nil {
		if e := t.file.Close(); e != nil {
			err = e
		}
		t.file = nil
	}
	if t.scratch != nil {
		if e := t.scratch.Close(); e != nil {
			err = e
		}
		t.scratch = nil
	}
	return err
}

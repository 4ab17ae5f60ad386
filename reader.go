package extsort

import "io"

// runSource is satisfied by anything that can be consumed as one sorted
// run: a pmaReader over a file region, or a mergeEngine standing in for a
// whole merged subtree. Next advances to (and loads) the next key; the
// zero value has no current key until Next has been called once.
type runSource interface {
	Next() (bool, error)
	Key() []byte
}

// pmaReader is a forward-only iterator over one PMA or one incremental
// merger's current buffer region. It reads via a whole-file mmap when one
// is available, otherwise through a page-sized buffer, assembling keys
// that straddle a page boundary into a private scratch buffer that never
// shrinks below the largest key seen.
type pmaReader struct {
	file     TempFile
	pageSize int

	off int64
	eof int64

	mapped []byte

	buf    []byte
	bufOff int64
	bufLen int

	asm []byte
	key []byte

	merger *incrementalMerger
	done   bool
}

// newPMAReader creates a reader positioned at the start of a level-0 PMA,
// consuming its leading varint(payload_bytes) header to compute eof.
func newPMAReader(file TempFile, mapped []byte, start int64, pageSize int) (*pmaReader, error) {
	r := &pmaReader{file: file, mapped: mapped, pageSize: pageSize, off: start}
	payload, n, err := r.readVarint(start)
	if err != nil {
		return nil, err
	}
	r.off = start + int64(n)
	r.eof = r.off + int64(payload)
	return r, nil
}

// newIncrPMAReader creates a reader over an incrementalMerger's current
// buffer region. Incremental-merger regions carry no outer length header.
func newIncrPMAReader(merger *incrementalMerger, pageSize int) (*pmaReader, error) {
	if err := merger.start(); err != nil {
		return nil, err
	}
	file, start, eof := merger.currentRegion()
	return &pmaReader{file: file, pageSize: pageSize, off: start, eof: eof, merger: merger}, nil
}

func (r *pmaReader) Key() []byte { return r.key }

func (r *pmaReader) Next() (bool, error) {
	if r.done {
		return false, nil
	}
	if r.off >= r.eof {
		return r.handleEOF()
	}
	keyLen, n, err := r.readVarint(r.off)
	if err != nil {
		return false, err
	}
	keyOff := r.off + int64(n)
	keyBytes, err := r.readAt(keyOff, int(keyLen))
	if err != nil {
		return false, err
	}
	r.key = keyBytes
	r.off = keyOff + int64(keyLen)
	return true, nil
}

func (r *pmaReader) handleEOF() (bool, error) {
	if r.merger == nil {
		r.done = true
		return false, nil
	}
	ok, err := r.merger.swap()
	if err != nil {
		return false, err
	}
	if !ok {
		r.done = true
		return false, nil
	}
	file, start, eof := r.merger.currentRegion()
	r.file = file
	r.mapped = nil
	r.buf = nil
	r.bufLen = 0
	r.off = start
	r.eof = eof
	return r.Next()
}

func (r *pmaReader) readVarint(off int64) (uint64, int, error) {
	b, err := r.readAt(off, maxVarintLen)
	if err != nil {
		for n := maxVarintLen - 1; n > 0; n-- {
			b2, err2 := r.readAt(off, n)
			if err2 == nil {
				if v, used := getVarint(b2); used > 0 {
					return v, used, nil
				}
			}
		}
		return 0, 0, err
	}
	v, used := getVarint(b)
	if used == 0 {
		return 0, 0, newErr(KindIo, "reader.varint", errShortVarint)
	}
	return v, used, nil
}

// readAt returns n bytes starting at off, from the mmap, the current page
// buffer, or an on-demand assembly buffer when the span crosses a page or
// exceeds one.
func (r *pmaReader) readAt(off int64, n int) ([]byte, error) {
	if r.mapped != nil {
		if off+int64(n) > int64(len(r.mapped)) {
			return nil, newErr(KindIo, "reader.read", io.ErrUnexpectedEOF)
		}
		return r.mapped[off : off+int64(n)], nil
	}
	if r.buf == nil {
		r.buf = make([]byte, r.pageSize)
	}
	if off >= r.bufOff && off+int64(n) <= r.bufOff+int64(r.bufLen) {
		s := off - r.bufOff
		return r.buf[s : s+int64(n)], nil
	}
	if n <= r.pageSize && off >= r.bufOff && off < r.bufOff+int64(r.bufLen) {
		r.growAsm(n)
		avail := int(r.bufOff + int64(r.bufLen) - off)
		copy(r.asm[:avail], r.buf[off-r.bufOff:r.bufLen])
		if err := r.fillPage(off + int64(avail)); err != nil {
			return nil, err
		}
		need := n - avail
		if need > r.bufLen {
			return nil, newErr(KindIo, "reader.read", io.ErrUnexpectedEOF)
		}
		copy(r.asm[avail:], r.buf[:need])
		return r.asm, nil
	}
	if err := r.fillPage(off); err != nil {
		return nil, err
	}
	if n <= r.bufLen {
		return r.buf[:n], nil
	}
	// Key larger than one page: read it directly into the assembly buffer.
	r.growAsm(n)
	got, err := r.file.ReadAt(off, r.asm)
	if err != nil && got < n {
		return nil, newErr(KindIo, "reader.read", err)
	}
	return r.asm, nil
}

func (r *pmaReader) growAsm(n int) {
	if cap(r.asm) < n {
		r.asm = make([]byte, n)
	} else {
		r.asm = r.asm[:n]
	}
}

func (r *pmaReader) fillPage(off int64) error {
	n, err := r.file.ReadAt(off, r.buf)
	if n == 0 && err != nil {
		return newErr(KindIo, "reader.fill", err)
	}
	r.bufOff = off
	r.bufLen = n
	return nil
}

// listRunSource adapts an in-memory sorted chain to runSource, used for
// the pure-in-memory fast path when no run ever spilled.
type listRunSource struct {
	cur *sorterRecord
}

func newListRunSource(head *sorterRecord) *listRunSource {
	return &listRunSource{cur: &sorterRecord{next: head}}
}

func (l *listRunSource) Next() (bool, error) {
	if l.cur == nil {
		return false, nil
	}
	l.cur = l.cur.next
	return l.cur != nil, nil
}

func (l *listRunSource) Key() []byte {
	if l.cur == nil {
		return nil
	}
	return l.cur.key
}

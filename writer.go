package extsort

// pmaWriter is a page-aligned, append-only streaming writer. It owns a
// scratch buffer of exactly pageSize bytes; once the buffer fills, a
// single page-aligned write is issued and the buffer restarts at offset
// zero. Any I/O error is sticky: subsequent writes become silent no-ops
// and finish propagates the first error observed.
type pmaWriter struct {
	file     TempFile
	pageSize int
	buf      []byte
	hi       int
	writeOff int64
	err      error
}

func newPMAWriter(file TempFile, startOff int64, pageSize int) *pmaWriter {
	return &pmaWriter{
		file:     file,
		pageSize: pageSize,
		buf:      make([]byte, pageSize),
		writeOff: startOff,
	}
}

func (w *pmaWriter) writeBytes(data []byte) {
	if w.err != nil {
		return
	}
	for len(data) > 0 {
		n := copy(w.buf[w.hi:], data)
		w.hi += n
		data = data[n:]
		if w.hi == len(w.buf) {
			w.flush()
		}
	}
}

func (w *pmaWriter) writeVarint(v uint64) {
	if w.err != nil {
		return
	}
	var tmp [maxVarintLen]byte
	n := putVarint(tmp[:], v)
	w.writeBytes(tmp[:n])
}

func (w *pmaWriter) flush() {
	if w.err != nil || w.hi == 0 {
		return
	}
	if _, err := w.file.WriteAt(w.writeOff, w.buf[:w.hi]); err != nil {
		w.err = newErr(KindIo, "writer.write", err)
		return
	}
	w.writeOff += int64(w.hi)
	w.hi = 0
}

// finish flushes any residual bytes and returns the absolute end offset of
// everything written, or the first error observed.
func (w *pmaWriter) finish() (int64, error) {
	w.flush()
	if w.err != nil {
		return 0, w.err
	}
	return w.writeOff, nil
}

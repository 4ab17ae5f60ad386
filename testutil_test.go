package extsort

import (
	"bytes"
	"fmt"
	"sync"
)

// memTempFile is an in-memory TempFile used by tests so they don't depend
// on OS temp-file behavior. TryMmap is honored deterministically (it just
// hands back a view into the backing slice) so tests can exercise the
// mmap-reader path without relying on a real platform mapping.
type memTempFile struct {
	mu     sync.Mutex
	data   []byte
	mapped bool
}

func newMemTempFile() *memTempFile { return &memTempFile{} }

func (f *memTempFile) ReadAt(off int64, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= int64(len(f.data)) {
		return 0, fmt.Errorf("memTempFile: read past eof")
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("memTempFile: short read")
	}
	return n, nil
}

func (f *memTempFile) WriteAt(off int64, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), nil
}

func (f *memTempFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

func (f *memTempFile) TryMmap(size int64) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size <= 0 || size > int64(len(f.data)) {
		return nil, false, nil
	}
	f.mapped = true
	return f.data[:size], true, nil
}

func (f *memTempFile) Unmap() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapped = false
	return nil
}

func (f *memTempFile) Close() error { return nil }

type memTempFileFactory struct {
	mu    sync.Mutex
	files []*memTempFile
}

func (fac *memTempFileFactory) Open() (TempFile, error) {
	f := newMemTempFile()
	fac.mu.Lock()
	fac.files = append(fac.files, f)
	fac.mu.Unlock()
	return f, nil
}

// byteComparator orders raw byte strings lexicographically, ignoring the
// last ignoreTrailing bytes of each key (a stand-in for "trailing
// comparator fields" since these tests don't encode composite keys).
func byteComparator(a, b []byte, ignoreTrailing int) int {
	if ignoreTrailing > 0 {
		a = trimTrailing(a, ignoreTrailing)
		b = trimTrailing(b, ignoreTrailing)
	}
	return bytes.Compare(a, b)
}

func trimTrailing(k []byte, n int) []byte {
	if n >= len(k) {
		return nil
	}
	return k[:len(k)-n]
}

// failAfterNWritesFactory wraps a base factory; the first file it opens
// fails its (failAt)th WriteAt call with a simulated I/O error, used to
// exercise how a disk write failure partway through a flush is reported.
type failAfterNWritesFactory struct {
	base   TempFileFactory
	failAt int
	opened int
}

func (fac *failAfterNWritesFactory) Open() (TempFile, error) {
	tf, err := fac.base.Open()
	if err != nil {
		return nil, err
	}
	fac.opened++
	if fac.opened == 1 {
		return &failingTempFile{TempFile: tf, failAt: fac.failAt}, nil
	}
	return tf, nil
}

type failingTempFile struct {
	TempFile
	failAt int
	writes int
}

func (f *failingTempFile) WriteAt(off int64, p []byte) (int, error) {
	f.writes++
	if f.writes == f.failAt {
		return 0, fmt.Errorf("simulated disk failure")
	}
	return f.TempFile.WriteAt(off, p)
}

func collectAll(t testingT, s *Sorter) [][]byte {
	t.Helper()
	var out [][]byte
	if err := s.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	for {
		key := s.Rowkey()
		if key == nil {
			break
		}
		out = append(out, append([]byte(nil), key...))
		ok, err := s.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
	}
	return out
}

// testingT is the subset of *testing.T collectAll needs, so it can be
// called from both *testing.T and *testing.B if ever needed.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

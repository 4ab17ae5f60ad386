package extsort

import "os"

// TempFile is a handle to a disposable, byte-addressable file. It is the
// external collaborator the engine spills PMAs to and reads them back
// from; callers may supply their own implementation (e.g. backed by a
// platform VFS) in place of the default one this package provides.
type TempFile interface {
	ReadAt(off int64, p []byte) (int, error)
	WriteAt(off int64, p []byte) (int, error)
	Truncate(size int64) error
	// TryMmap attempts to map the first size bytes of the file for
	// reading. ok is false if mapping isn't available or declined; in
	// that case the caller falls back to ReadAt.
	TryMmap(size int64) (data []byte, ok bool, err error)
	// Unmap releases any mapping returned by TryMmap. Safe to call when
	// no mapping is active.
	Unmap() error
	// Close releases the file. The file is deleted as part of Close.
	Close() error
}

// TempFileFactory creates TempFiles. It may be called concurrently from
// multiple worker goroutines.
type TempFileFactory interface {
	Open() (TempFile, error)
}

// osTempFileFactory is the default TempFileFactory, backed by os.CreateTemp
// with delete-on-close semantics.
type osTempFileFactory struct {
	dir string
}

// NewOSTempFileFactory returns a TempFileFactory that creates ordinary OS
// temp files under dir (the system default temp directory if dir is
// empty), removed as soon as they're closed.
func NewOSTempFileFactory(dir string) TempFileFactory {
	return &osTempFileFactory{dir: dir}
}

func (f *osTempFileFactory) Open() (TempFile, error) {
	file, err := os.CreateTemp(f.dir, "extsort-*.pma")
	if err != nil {
		return nil, newErr(KindIo, "tempfile.open", err)
	}
	return &osTempFile{f: file}, nil
}

type osTempFile struct {
	f      *os.File
	mapped []byte
}

func (t *osTempFile) ReadAt(off int64, p []byte) (int, error) {
	return t.f.ReadAt(p, off)
}

func (t *osTempFile) WriteAt(off int64, p []byte) (int, error) {
	return t.f.WriteAt(p, off)
}

func (t *osTempFile) Truncate(size int64) error {
	return t.f.Truncate(size)
}

func (t *osTempFile) TryMmap(size int64) ([]byte, bool, error) {
	if size <= 0 {
		return nil, false, nil
	}
	data, err := mmapFile(t.f, size)
	if err != nil {
		// mmap is best-effort: fall back to buffered reads.
		return nil, false, nil
	}
	t.mapped = data
	return data, true, nil
}

func (t *osTempFile) Unmap() error {
	if t.mapped == nil {
		return nil
	}
	err := munmapRegion(t.mapped)
	t.mapped = nil
	return err
}

func (t *osTempFile) Close() error {
	_ = t.Unmap()
	name := t.f.Name()
	err := t.f.Close()
	os.Remove(name)
	return err
}

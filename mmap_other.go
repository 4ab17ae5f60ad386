//go:build !unix

package extsort

import (
	"io"
	"os"
)

// mmapFile falls back to reading the whole region into a plain slice on
// platforms without a real mmap syscall, so callers still get a []byte
// view of the file regardless of OS.
// TODO: wire a real Windows mapping via golang.org/x/sys/windows.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf, nil
}

func munmapRegion(data []byte) error {
	return nil
}

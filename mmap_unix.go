//go:build unix

package extsort

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmapFile(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

func munmapRegion(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

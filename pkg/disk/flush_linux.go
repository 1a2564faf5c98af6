//go:build linux

package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

// forceFile uses fdatasync for plain files: entry log metadata (mtime) does not need to be durable.
func forceFile(fc FileChannel) error {
	f, ok := fc.(*os.File)
	if !ok {
		return fc.Sync()
	}
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}

// adviseSequential hints the kernel that f is appended and scanned sequentially.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

//go:build !linux

package disk

import "os"

func forceFile(fc FileChannel) error {
	return fc.Sync()
}

func adviseSequential(f *os.File) {}

package index

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
)

type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FileInfo is the header record of one ledger index file: master key,
// state bits and data size, plus the data region after the header.
//
// The backing file is opened lazily. Every accessor auto-opens with
// createIfMissing=false while the record is unopened; nothing works once
// it is closed. All methods serialize on one mutex, which also makes
// MoveToNewLocation a critical section against reads and writes.
type FileInfo struct {
	mu sync.Mutex

	path      string
	masterKey []byte
	state     State

	file        *os.File
	header      header
	size        int64 // data bytes after the header
	headerDirty bool
}

func NewFileInfo(path string, masterKey []byte) *FileInfo {
	return &FileInfo{
		path:      path,
		masterKey: append([]byte(nil), masterKey...),
	}
}

// Open transitions the record to StateOpen. A missing file fails with
// ErrNotFound unless createIfMissing is set. Open is idempotent.
func (fi *FileInfo) Open(createIfMissing bool) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.checkOpenLocked(createIfMissing)
}

func (fi *FileInfo) checkOpenLocked(create bool) error {
	switch fi.state {
	case StateOpen:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: %s", types.ErrClosed, fi.path)
	}

	// A relocation into or out of this path may have been interrupted.
	rec, err := reconcileMarker(fi.path)
	if err != nil {
		return err
	}
	if rec != nil && rec.action == recoveryRollforward && rec.marker != nil && sameFile(rec.marker.Source, fi.path) {
		util.Info("index file %s was relocated to %s", fi.path, rec.marker.Target)
		fi.path = rec.marker.Target
	}

	f, err := os.OpenFile(fi.path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		if !create {
			return fmt.Errorf("%w: %s", types.ErrNotFound, fi.path)
		}
		return fi.createLocked()
	}
	if err != nil {
		return err
	}

	if err := fi.loadLocked(f); err != nil {
		if cerr := f.Close(); cerr != nil {
			util.Error("close index file %s: %v", fi.path, cerr)
		}
		return err
	}
	fi.file = f
	fi.state = StateOpen
	return nil
}

func (fi *FileInfo) createLocked() error {
	fi.header = header{version: HeaderVersion, masterKey: fi.masterKey}
	buf, err := fi.header.marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(fi.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(fi.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		fi.abandonLocked(f)
		return fmt.Errorf("write header of %s: %w", fi.path, err)
	}
	if err := f.Sync(); err != nil {
		fi.abandonLocked(f)
		return fmt.Errorf("sync header of %s: %w", fi.path, err)
	}
	syncDir(dir)

	fi.file = f
	fi.size = 0
	fi.state = StateOpen
	util.Debug("created index file %s", fi.path)
	return nil
}

func (fi *FileInfo) abandonLocked(f *os.File) {
	if err := f.Close(); err != nil {
		util.Error("close index file %s: %v", fi.path, err)
	}
	if err := os.Remove(fi.path); err != nil {
		util.Error("remove half-created index file %s: %v", fi.path, err)
	}
}

// loadLocked reads and verifies the header of f. An empty file gets a fresh header.
func (fi *FileInfo) loadLocked(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		fi.header = header{version: HeaderVersion, masterKey: fi.masterKey}
		buf, err := fi.header.marshal()
		if err != nil {
			return err
		}
		if _, err := f.WriteAt(buf, 0); err != nil {
			return fmt.Errorf("write header of %s: %w", fi.path, err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync header of %s: %w", fi.path, err)
		}
		fi.size = 0
		return nil
	}
	if st.Size() < HeaderSize {
		return fmt.Errorf("%w: %s is %d bytes", types.ErrCorruptHeader, fi.path, st.Size())
	}

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read header of %s: %w", fi.path, err)
	}
	var h header
	if err := h.unmarshal(buf); err != nil {
		return fmt.Errorf("%s: %w", fi.path, err)
	}

	switch {
	case len(fi.masterKey) == 0:
		fi.masterKey = append([]byte(nil), h.masterKey...)
	case !bytes.Equal(fi.masterKey, h.masterKey):
		return fmt.Errorf("%w: %s", types.ErrMasterKeyMismatch, fi.path)
	}

	fi.header = h
	fi.size = st.Size() - HeaderSize
	if h.size != fi.size {
		util.Debug("index file %s: header records %d data bytes, file holds %d", fi.path, h.size, fi.size)
	}
	return nil
}

// ReadAt reads into buf from position, relative to the start of the data
// region. With bestEffort a read cut short by the end of data returns the
// partial count; without it the read fails with ErrShortRead.
func (fi *FileInfo) ReadAt(buf []byte, position int64, bestEffort bool) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	start := position + HeaderSize
	if position < 0 || start < 0 {
		return 0, fmt.Errorf("%w: %d", types.ErrNegativePosition, position)
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.checkOpenLocked(false); err != nil {
		return 0, err
	}
	return fi.readAbsoluteLocked(buf, start, position, bestEffort)
}

func (fi *FileInfo) readAbsoluteLocked(buf []byte, start, position int64, bestEffort bool) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := fi.file.ReadAt(buf[total:], start+int64(total))
		total += n
		if total == len(buf) {
			break
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			if bestEffort {
				return total, nil
			}
			return total, fmt.Errorf("%w: %s: %d of %d bytes at %d: %w",
				types.ErrShortRead, fi.path, total, len(buf), position, io.EOF)
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Write writes bufs back to back starting at position in the data region.
func (fi *FileInfo) Write(bufs [][]byte, position int64) (int64, error) {
	if position < 0 || position+HeaderSize < 0 {
		return 0, fmt.Errorf("%w: %d", types.ErrNegativePosition, position)
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.checkOpenLocked(false); err != nil {
		return 0, err
	}

	var total int64
	for _, b := range bufs {
		n, err := fi.file.WriteAt(b, HeaderSize+position+total)
		total += int64(n)
		if err != nil {
			fi.growLocked(position + total)
			return total, fmt.Errorf("write %s at %d: %w", fi.path, position+total, err)
		}
	}
	fi.growLocked(position + total)
	return total, nil
}

func (fi *FileInfo) growLocked(end int64) {
	if end > fi.size {
		fi.size = end
		fi.headerDirty = true
	}
}

// Size returns the number of data bytes after the header.
func (fi *FileInfo) Size() (int64, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.checkOpenLocked(false); err != nil {
		return 0, err
	}
	return fi.size, nil
}

func (fi *FileInfo) MasterKey() ([]byte, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.checkOpenLocked(false); err != nil {
		return nil, err
	}
	return append([]byte(nil), fi.header.masterKey...), nil
}

// SetFenced marks the ledger fenced and persists the header right away.
// It reports whether the call changed the state.
func (fi *FileInfo) SetFenced() (bool, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.checkOpenLocked(false); err != nil {
		return false, err
	}
	if fi.header.stateBits&stateFenced != 0 {
		return false, nil
	}
	fi.header.stateBits |= stateFenced
	fi.headerDirty = true
	if err := fi.flushHeaderLocked(); err != nil {
		return false, err
	}
	if err := fi.file.Sync(); err != nil {
		return false, fmt.Errorf("sync fenced header of %s: %w", fi.path, err)
	}
	return true, nil
}

func (fi *FileInfo) IsFenced() (bool, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.checkOpenLocked(false); err != nil {
		return false, err
	}
	return fi.header.stateBits&stateFenced != 0, nil
}

// FlushHeader rewrites the header if the size or state bits changed. It does not sync.
func (fi *FileInfo) FlushHeader() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if fi.state != StateOpen {
		return nil
	}
	return fi.flushHeaderLocked()
}

func (fi *FileInfo) flushHeaderLocked() error {
	if !fi.headerDirty {
		return nil
	}
	fi.header.size = fi.size
	buf, err := fi.header.marshal()
	if err != nil {
		return err
	}
	if _, err := fi.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write header of %s: %w", fi.path, err)
	}
	fi.headerDirty = false
	return nil
}

// Flush writes a dirty header and syncs the file.
func (fi *FileInfo) Flush() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if fi.state != StateOpen {
		return nil
	}
	if err := fi.flushHeaderLocked(); err != nil {
		return err
	}
	return fi.file.Sync()
}

// Close flushes a dirty header, optionally syncs, and closes the file.
func (fi *FileInfo) Close(force bool) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if fi.state != StateOpen {
		fi.state = StateClosed
		return nil
	}
	fi.state = StateClosed

	var errs []error
	if err := fi.flushHeaderLocked(); err != nil {
		errs = append(errs, err)
	}
	if force {
		if err := fi.file.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := fi.file.Close(); err != nil {
		errs = append(errs, err)
	}
	fi.file = nil
	return errors.Join(errs...)
}

// Delete closes the record and removes its file.
func (fi *FileInfo) Delete() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if fi.file != nil {
		if err := fi.file.Close(); err != nil {
			util.Error("close index file %s: %v", fi.path, err)
		}
		fi.file = nil
	}
	fi.state = StateClosed

	if err := os.Remove(fi.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (fi *FileInfo) Path() string {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.path
}

func (fi *FileInfo) State() State {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.state
}

// IsSameFile reports whether path resolves to the current backing file.
func (fi *FileInfo) IsSameFile(path string) bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return sameFile(fi.path, path)
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return canonicalPath(a) == canonicalPath(b)
}

func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	// The file may not exist; resolve its directory instead.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs))
	}
	return abs
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		util.Debug("open directory %s for sync: %v", dir, err)
		return
	}
	if err := d.Sync(); err != nil {
		util.Debug("sync directory %s: %v", dir, err)
	}
	if err := d.Close(); err != nil {
		util.Debug("close directory %s: %v", dir, err)
	}
}

package index

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/downfa11-org/bookie/pkg/config"
	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
)

const indexFileSuffix = ".idx"

// Manager caches one FileInfo per ledger. New index files go to the first
// directory; lookups search every directory the manager knows about, the
// configured extra directories included.
type Manager struct {
	mu    sync.Mutex
	dirs  []string
	files *haxmap.Map[uint64, *FileInfo]
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{files: haxmap.New[uint64, *FileInfo]()}
	m.addDir(cfg.IndexDir)
	for _, dir := range cfg.ExtraIndexDirs {
		m.addDir(dir)
	}
	return m
}

// IndexPath returns <dir>/<high byte hex>/<ledger hex>.idx.
func IndexPath(dir string, ledgerID uint64) string {
	return filepath.Join(dir,
		strconv.FormatUint(ledgerID>>56, 16),
		strconv.FormatUint(ledgerID, 16)+indexFileSuffix)
}

func (m *Manager) dirList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dirs...)
}

// addDir reports whether dir was new to the manager.
func (m *Manager) addDir(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dirs {
		if sameFile(d, dir) {
			return false
		}
	}
	m.dirs = append(m.dirs, dir)
	return true
}

// locate finishes interrupted relocations for ledgerID, then returns the
// path of its index file, or "" when there is none. A relocation found from
// its source may point outside the known directories.
func (m *Manager) locate(ledgerID uint64) (string, error) {
	dirs := m.dirList()
	paths := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		p, err := RecoverRelocation(IndexPath(dir, ledgerID))
		if err != nil {
			return "", err
		}
		paths = append(paths, p)
	}
	for _, p := range paths {
		if exists(p) {
			return p, nil
		}
	}
	return "", nil
}

// GetFileInfo returns the open FileInfo of ledgerID, creating the index
// file when create is set. A non-empty masterKey must match the stored one.
func (m *Manager) GetFileInfo(ledgerID uint64, masterKey []byte, create bool) (*FileInfo, error) {
	if fi, ok := m.files.Get(ledgerID); ok && fi.State() != StateClosed {
		if err := checkKey(fi, masterKey); err != nil {
			return nil, err
		}
		return fi, nil
	}

	path, err := m.locate(ledgerID)
	if err != nil {
		return nil, err
	}
	if path == "" {
		if !create {
			return nil, fmt.Errorf("%w: index of ledger %d", types.ErrNotFound, ledgerID)
		}
		path = IndexPath(m.dirList()[0], ledgerID)
	}

	fi := NewFileInfo(path, masterKey)
	if err := fi.Open(create); err != nil {
		return nil, err
	}

	actual, loaded := m.files.GetOrSet(ledgerID, fi)
	if loaded && actual.State() != StateClosed {
		if err := fi.Close(false); err != nil {
			util.Error("close duplicate index of ledger %d: %v", ledgerID, err)
		}
		if err := checkKey(actual, masterKey); err != nil {
			return nil, err
		}
		return actual, nil
	}
	if loaded {
		m.files.Set(ledgerID, fi)
	}
	util.Debug("opened index of ledger %d at %s", ledgerID, path)
	return fi, nil
}

func checkKey(fi *FileInfo, masterKey []byte) error {
	if len(masterKey) == 0 {
		return nil
	}
	stored, err := fi.MasterKey()
	if err != nil {
		return err
	}
	if string(stored) != string(masterKey) {
		return fmt.Errorf("%w: %s", types.ErrMasterKeyMismatch, fi.Path())
	}
	return nil
}

// RelocateLedger moves the index file of ledgerID under newDir.
func (m *Manager) RelocateLedger(ledgerID uint64, newDir string) error {
	fi, err := m.GetFileInfo(ledgerID, nil, false)
	if err != nil {
		return err
	}
	size, err := fi.Size()
	if err != nil {
		return err
	}

	if m.addDir(newDir) {
		util.Warn("relocating ledger %d to %s, which is not a configured index directory; add it to extra_index_dirs to find it after a restart", ledgerID, newDir)
	}
	if err := fi.MoveToNewLocation(IndexPath(newDir, ledgerID), size); err != nil {
		return fmt.Errorf("relocate index of ledger %d: %w", ledgerID, err)
	}
	return nil
}

// DeleteLedger removes the index file of ledgerID.
func (m *Manager) DeleteLedger(ledgerID uint64) error {
	fi, err := m.GetFileInfo(ledgerID, nil, false)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	m.files.Del(ledgerID)
	return fi.Delete()
}

// FlushAll writes dirty headers and syncs every open index file.
func (m *Manager) FlushAll() error {
	var errs []error
	m.files.ForEach(func(ledgerID uint64, fi *FileInfo) bool {
		if err := fi.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush index of ledger %d: %w", ledgerID, err))
		}
		return true
	})
	return errors.Join(errs...)
}

func (m *Manager) Flush() error {
	return m.FlushAll()
}

// CloseAll closes and forgets every cached index file.
func (m *Manager) CloseAll() error {
	var errs []error
	var ids []uint64
	m.files.ForEach(func(ledgerID uint64, fi *FileInfo) bool {
		util.Debug("closing index of ledger %d", ledgerID)
		if err := fi.Close(true); err != nil {
			errs = append(errs, fmt.Errorf("close index of ledger %d: %w", ledgerID, err))
		}
		ids = append(ids, ledgerID)
		return true
	})
	for _, id := range ids {
		m.files.Del(id)
	}
	return errors.Join(errs...)
}

// Len returns the number of cached index files.
func (m *Manager) Len() int {
	return int(m.files.Len())
}

// ListLedgers returns the ledgers with an index file under dir.
func ListLedgers(dir string) ([]uint64, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*", "*"+indexFileSuffix))
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(files))
	for _, f := range files {
		name := filepath.Base(f)
		id, err := strconv.ParseUint(name[:len(name)-len(indexFileSuffix)], 16, 64)
		if err != nil {
			util.Debug("skipping unrecognized index file name %s", f)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var _ types.Flushable = (*Manager)(nil)

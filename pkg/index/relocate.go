package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/downfa11-org/bookie/pkg/metrics"
	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
)

const MarkerSuffix = ".rloc"

const (
	markerCopying   = "copying"
	markerCommitted = "committed"
)

const (
	recoveryRollback    = "rollback"
	recoveryRollforward = "rollforward"
	recoveryDiscard     = "discard"
)

// relocationMarker is written next to the relocation target before any
// data moves, and a copy of it next to the source. While the target marker
// says copying the source is authoritative; once it says committed the
// target is. The source copy only points recovery at the target marker.
type relocationMarker struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Staging      string `json:"staging"`
	ExpectedSize int64  `json:"expected_size"`
	State        string `json:"state"`
}

func (m *relocationMarker) valid() bool {
	if m.ID == "" || m.Source == "" || m.Target == "" || m.Staging == "" {
		return false
	}
	return m.State == markerCopying || m.State == markerCommitted
}

type recovery struct {
	action string
	marker *relocationMarker
}

// MarkerPath returns the relocation marker path for target.
func MarkerPath(target string) string {
	return target + MarkerSuffix
}

var errStaleMarker = errors.New("unparseable relocation marker")

func readMarker(path string) (*relocationMarker, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m relocationMarker
	if err := json.Unmarshal(data, &m); err != nil || !m.valid() {
		return nil, errStaleMarker
	}
	return &m, nil
}

func writeMarker(path string, m *relocationMarker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadMarker reads the marker next to path. An unparseable marker is
// removed and reported as a discard.
func loadMarker(path string) (*relocationMarker, *recovery, error) {
	mpath := MarkerPath(path)
	m, err := readMarker(mpath)
	switch {
	case errors.Is(err, errStaleMarker):
		if err := discardMarker(mpath); err != nil {
			return nil, nil, err
		}
		return nil, &recovery{action: recoveryDiscard}, nil
	case err != nil:
		return nil, nil, fmt.Errorf("%w: read marker %s: %w", types.ErrRelocation, mpath, err)
	}
	return m, nil, nil
}

func discardMarker(mpath string) error {
	if err := removeIfExists(mpath); err != nil {
		return fmt.Errorf("%w: remove stale marker %s: %w", types.ErrRelocation, mpath, err)
	}
	metrics.RelocationRecoveries.WithLabelValues(recoveryDiscard).Inc()
	util.Warn("discarded relocation marker %s", mpath)
	return nil
}

// reconcileMarker finishes or undoes an interrupted relocation into or out
// of path. It returns nil when there was no marker.
func reconcileMarker(path string) (*recovery, error) {
	m, rec, err := loadMarker(path)
	if err != nil || m == nil {
		return rec, err
	}

	switch {
	case sameFile(m.Target, path):
		return finishRelocation(m)
	case sameFile(m.Source, path):
		return reconcileSource(m)
	}
	if err := discardMarker(MarkerPath(path)); err != nil {
		return nil, err
	}
	return &recovery{action: recoveryDiscard}, nil
}

// reconcileSource settles a relocation seen from its source side. The
// target marker decides while it exists.
func reconcileSource(ptr *relocationMarker) (*recovery, error) {
	m, _, err := loadMarker(ptr.Target)
	if err != nil {
		return nil, err
	}
	if m != nil && m.ID == ptr.ID && sameFile(m.Target, ptr.Target) {
		return finishRelocation(m)
	}

	// Only the source copy is left. The target marker is written before
	// any data moves and removed only after the source is gone or the
	// copy is undone.
	action := recoveryRollback
	if !exists(ptr.Source) && exists(ptr.Target) {
		action = recoveryRollforward
	}
	if action == recoveryRollback {
		if err := removeIfExists(ptr.Staging); err != nil {
			return nil, fmt.Errorf("%w: remove staging %s: %w", types.ErrRelocation, ptr.Staging, err)
		}
	}
	if err := removeIfExists(MarkerPath(ptr.Source)); err != nil {
		return nil, fmt.Errorf("%w: remove marker of %s: %w", types.ErrRelocation, ptr.Source, err)
	}

	metrics.RelocationRecoveries.WithLabelValues(action).Inc()
	util.Warn("recovered interrupted relocation %s from its source: %s %s -> %s", ptr.ID, action, ptr.Source, ptr.Target)
	return &recovery{action: action, marker: ptr}, nil
}

func finishRelocation(m *relocationMarker) (*recovery, error) {
	action := recoveryRollback
	if m.State == markerCommitted || (!exists(m.Source) && exists(m.Target)) {
		action = recoveryRollforward
	}

	var err error
	if action == recoveryRollforward {
		err = rollForward(m)
	} else {
		err = rollBack(m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s of %s -> %s: %w", types.ErrRelocation, action, m.Source, m.Target, err)
	}

	metrics.RelocationRecoveries.WithLabelValues(action).Inc()
	util.Warn("recovered interrupted relocation %s: %s %s -> %s", m.ID, action, m.Source, m.Target)
	return &recovery{action: action, marker: m}, nil
}

// rollBack discards the copy; the source stays authoritative.
func rollBack(m *relocationMarker) error {
	var errs []error
	if err := removeIfExists(m.Staging); err != nil {
		errs = append(errs, err)
	}
	if !sameFile(m.Source, m.Target) {
		if err := removeIfExists(m.Target); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	syncDir(filepath.Dir(m.Target))
	return removeMarkers(m)
}

// rollForward drops the source; the target is authoritative.
func rollForward(m *relocationMarker) error {
	var errs []error
	if !sameFile(m.Source, m.Target) {
		if err := removeIfExists(m.Source); err != nil {
			errs = append(errs, err)
		}
	}
	if err := removeIfExists(m.Staging); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	syncDir(filepath.Dir(m.Source))
	return removeMarkers(m)
}

// removeMarkers removes the target marker, then the source copy.
func removeMarkers(m *relocationMarker) error {
	if err := removeIfExists(MarkerPath(m.Target)); err != nil {
		return err
	}
	return removeIfExists(MarkerPath(m.Source))
}

// RecoverRelocation reconciles a relocation marker left next to target and
// returns the path that holds the index file afterwards.
func RecoverRelocation(target string) (string, error) {
	rec, err := reconcileMarker(target)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.marker == nil {
		return target, nil
	}
	if rec.action == recoveryRollforward {
		return rec.marker.Target, nil
	}
	return rec.marker.Source, nil
}

// MoveToNewLocation moves the backing file to newFile and switches the
// record over to it. The move survives a crash at any step: recovery
// either keeps the old file or finishes the move, never loses both.
// expectedSize is the data size the caller believes the file has.
func (fi *FileInfo) MoveToNewLocation(newFile string, expectedSize int64) error {
	if newFile == "" {
		return fmt.Errorf("%w: relocation target", types.ErrNilArgument)
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.checkOpenLocked(false); err != nil {
		return err
	}
	if sameFile(fi.path, newFile) {
		return nil
	}

	m, _, err := loadMarker(newFile)
	if err != nil {
		return err
	}
	switch {
	case m == nil:
	case sameFile(m.Target, newFile) && sameFile(m.Source, fi.path):
		// An earlier move of this file was interrupted. The open source
		// may have changed since that copy, so the copy is discarded.
		if err := rollBack(m); err != nil {
			return fmt.Errorf("%w: discard earlier copy %s: %w", types.ErrRelocation, newFile, err)
		}
		metrics.RelocationRecoveries.WithLabelValues(recoveryRollback).Inc()
		util.Warn("discarded interrupted relocation %s of open file %s", m.ID, fi.path)
	default:
		if _, err := reconcileMarker(newFile); err != nil {
			return err
		}
	}

	st, err := os.Stat(newFile)
	switch {
	case err == nil && st.Size() > 0:
		return fmt.Errorf("%w: %s", types.ErrTargetExists, newFile)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: stat %s: %w", types.ErrRelocation, newFile, err)
	}

	return fi.relocateLocked(newFile, expectedSize)
}

func (fi *FileInfo) relocateLocked(target string, expectedSize int64) error {
	id := util.GenerateID()
	m := &relocationMarker{
		ID:           id,
		Source:       canonicalPath(fi.path),
		Target:       canonicalPath(target),
		Staging:      canonicalPath(target + "." + id + ".tmp"),
		ExpectedSize: expectedSize,
		State:        markerCopying,
	}

	if err := os.MkdirAll(filepath.Dir(m.Target), 0o755); err != nil {
		metrics.Relocations.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: create directory for %s: %w", types.ErrRelocation, target, err)
	}
	// The source copy goes first so the move is found from either path.
	if err := writeMarker(MarkerPath(m.Source), m); err != nil {
		_ = removeIfExists(MarkerPath(m.Source))
		metrics.Relocations.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: write marker for %s: %w", types.ErrRelocation, fi.path, err)
	}
	if err := writeMarker(MarkerPath(m.Target), m); err != nil {
		if rerr := removeMarkers(m); rerr != nil {
			util.Error("remove relocation markers %s: %v", id, rerr)
		}
		metrics.Relocations.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: write marker for %s: %w", types.ErrRelocation, target, err)
	}
	util.Info("relocating index file %s -> %s (%s)", fi.path, target, id)

	abort := func(cause error) error {
		if err := rollBack(m); err != nil {
			util.Error("roll back relocation %s: %v", id, err)
		}
		metrics.Relocations.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %s -> %s: %w", types.ErrRelocation, fi.path, target, cause)
	}

	// The copy must carry the current size and state bits.
	if err := fi.flushHeaderLocked(); err != nil {
		return abort(err)
	}
	if err := fi.file.Sync(); err != nil {
		return abort(err)
	}
	if expectedSize != fi.size {
		util.Warn("relocating %s: expected %d data bytes, file holds %d", fi.path, expectedSize, fi.size)
	}

	if err := copyToStaging(fi.file, m.Staging); err != nil {
		return abort(err)
	}
	if err := os.Rename(m.Staging, m.Target); err != nil {
		return abort(err)
	}
	syncDir(filepath.Dir(m.Target))

	f, err := os.OpenFile(m.Target, os.O_RDWR, 0)
	if err != nil {
		return abort(err)
	}

	m.State = markerCommitted
	if err := writeMarker(MarkerPath(m.Target), m); err != nil {
		_ = f.Close()
		return abort(err)
	}

	old, oldPath := fi.file, fi.path
	fi.file, fi.path = f, target

	if err := old.Close(); err != nil {
		util.Error("close relocated index file %s: %v", oldPath, err)
	}
	// Leftovers are finished by recovery on the next open.
	if err := removeIfExists(oldPath); err != nil {
		util.Error("remove relocated index file %s: %v", oldPath, err)
		metrics.Relocations.WithLabelValues("ok").Inc()
		return nil
	}
	syncDir(filepath.Dir(oldPath))
	if err := removeMarkers(m); err != nil {
		util.Error("remove relocation markers for %s: %v", target, err)
	}

	metrics.Relocations.WithLabelValues("ok").Inc()
	util.Info("relocated index file %s -> %s", oldPath, target)
	return nil
}

func copyToStaging(src *os.File, staging string) error {
	st, err := src.Stat()
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(staging, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, io.NewSectionReader(src, 0, st.Size())); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy to %s: %w", staging, err)
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("sync %s: %w", staging, err)
	}
	return dst.Close()
}

package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/downfa11-org/bookie/pkg/config"
	"github.com/downfa11-org/bookie/pkg/metrics"
	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
)

const entryLogSuffix = ".log"

// EntryLogger appends ledger entries to the current entry log through a
// BufferedChannel and rotates to a fresh log once the size limit is reached.
//
// Record layout: length(4) | ledgerID(8) | entryID(8) | payload, where
// length counts everything after itself.
type EntryLogger struct {
	Dir       string
	SizeLimit int64

	cfg *config.Config

	mu        sync.Mutex
	currentID uint64
	current   *BufferedChannel
	closed    bool
}

func NewEntryLogger(cfg *config.Config) (*EntryLogger, error) {
	if err := os.MkdirAll(cfg.LedgerDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory %s: %w", cfg.LedgerDir, err)
	}

	ids, err := ListEntryLogs(cfg.LedgerDir)
	if err != nil {
		return nil, err
	}

	el := &EntryLogger{
		Dir:       cfg.LedgerDir,
		SizeLimit: cfg.EntryLogSizeLimit,
		cfg:       cfg,
	}

	// Never append to a log written by a previous process; its tail may be torn.
	next := uint64(0)
	if len(ids) > 0 {
		next = ids[len(ids)-1] + 1
	}
	if err := el.openLog(next); err != nil {
		return nil, err
	}
	util.Info("entry logger started in %s with log %x (%d existing)", el.Dir, next, len(ids))
	return el, nil
}

// LogPath returns the file path of entry log id.
func (el *EntryLogger) LogPath(id uint64) string {
	return filepath.Join(el.Dir, strconv.FormatUint(id, 16)+entryLogSuffix)
}

// CurrentLogID returns the id of the log currently accepting appends.
func (el *EntryLogger) CurrentLogID() uint64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.currentID
}

func (el *EntryLogger) openLog(id uint64) error {
	bc, err := OpenBufferedChannel(el.LogPath(id), el.cfg)
	if err != nil {
		return fmt.Errorf("open entry log %x: %w", id, err)
	}
	el.current = bc
	el.currentID = id
	return nil
}

func (el *EntryLogger) rotateLocked() error {
	if err := el.current.FlushAndForce(); err != nil {
		return fmt.Errorf("flush entry log %x before rotation: %w", el.currentID, err)
	}
	if err := el.current.Close(); err != nil {
		util.Error("close entry log %x during rotation: %v", el.currentID, err)
	}
	prev := el.currentID
	if err := el.openLog(prev + 1); err != nil {
		return err
	}
	metrics.EntryLogRotations.Inc()
	util.Debug("rotated entry log %x -> %x", prev, el.currentID)
	return nil
}

// AddEntry appends one entry and returns where it was written.
func (el *EntryLogger) AddEntry(ledgerID, entryID uint64, payload []byte) (types.EntryLocation, error) {
	if payload == nil {
		return types.EntryLocation{}, fmt.Errorf("%w: entry payload", types.ErrNilArgument)
	}

	record := make([]byte, types.EntryHeaderSize+len(payload))
	binary.BigEndian.PutUint32(record[0:4], uint32(len(record)-4))
	binary.BigEndian.PutUint64(record[4:12], ledgerID)
	binary.BigEndian.PutUint64(record[12:20], entryID)
	copy(record[types.EntryHeaderSize:], payload)

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return types.EntryLocation{}, types.ErrClosed
	}

	if pos := el.current.Position(); pos > 0 && pos+int64(len(record)) > el.SizeLimit {
		if err := el.rotateLocked(); err != nil {
			return types.EntryLocation{}, err
		}
	}

	loc := types.EntryLocation{LogID: el.currentID, Offset: el.current.Position()}
	if _, err := el.current.Write(record); err != nil {
		return types.EntryLocation{}, fmt.Errorf("append entry %d/%d: %w", ledgerID, entryID, err)
	}
	return loc, nil
}

// ReadEntry reads the entry at loc, from the buffered channel if loc is in the current log.
func (el *EntryLogger) ReadEntry(loc types.EntryLocation) (*types.Entry, error) {
	if loc.Offset < 0 {
		return nil, fmt.Errorf("%w: entry offset %d", types.ErrNegativePosition, loc.Offset)
	}

	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return nil, types.ErrClosed
	}
	current, currentID := el.current, el.currentID
	el.mu.Unlock()

	if loc.LogID == currentID {
		entry, err := readEntry(current.Read, loc)
		if !errors.Is(err, types.ErrClosed) {
			return entry, err
		}
		// rotated while reading; the log is complete on disk now
	}

	f, err := os.Open(el.LogPath(loc.LogID))
	if err != nil {
		return nil, fmt.Errorf("open entry log %x: %w", loc.LogID, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			util.Error("close entry log %x: %v", loc.LogID, err)
		}
	}()

	readAt := func(dest []byte, pos int64, length int) (int, error) {
		n, err := f.ReadAt(dest[:length], pos)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return n, err
	}
	return readEntry(readAt, loc)
}

func readEntry(read func(dest []byte, pos int64, length int) (int, error), loc types.EntryLocation) (*types.Entry, error) {
	var hdr [types.EntryHeaderSize]byte
	n, err := read(hdr[:], loc.Offset, len(hdr))
	if err != nil {
		return nil, fmt.Errorf("read entry header at %x@%d: %w", loc.LogID, loc.Offset, err)
	}
	if n < len(hdr) {
		return nil, fmt.Errorf("%w: entry header at %x@%d truncated to %d bytes", types.ErrShortRead, loc.LogID, loc.Offset, n)
	}

	size := int(binary.BigEndian.Uint32(hdr[0:4]))
	if size < types.EntryHeaderSize-4 {
		return nil, fmt.Errorf("invalid entry length %d at %x@%d", size, loc.LogID, loc.Offset)
	}

	entry := &types.Entry{
		LedgerID: binary.BigEndian.Uint64(hdr[4:12]),
		EntryID:  binary.BigEndian.Uint64(hdr[12:20]),
		Payload:  make([]byte, size-(types.EntryHeaderSize-4)),
		Location: loc,
	}
	if len(entry.Payload) == 0 {
		return entry, nil
	}

	n, err = read(entry.Payload, loc.Offset+types.EntryHeaderSize, len(entry.Payload))
	if err != nil {
		return nil, fmt.Errorf("read entry payload at %x@%d: %w", loc.LogID, loc.Offset, err)
	}
	if n < len(entry.Payload) {
		return nil, fmt.Errorf("%w: entry payload at %x@%d truncated to %d of %d bytes",
			types.ErrShortRead, loc.LogID, loc.Offset, n, len(entry.Payload))
	}
	return entry, nil
}

// Flush flushes and syncs the current entry log.
func (el *EntryLogger) Flush() error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return nil
	}
	return el.current.FlushAndForce()
}

// Close flushes, syncs and closes the current entry log.
func (el *EntryLogger) Close() error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return nil
	}
	el.closed = true

	var errs []error
	if err := el.current.FlushAndForce(); err != nil {
		errs = append(errs, err)
	}
	if err := el.current.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ListEntryLogs returns the ids of the entry logs in dir, ascending.
func ListEntryLogs(dir string) ([]uint64, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+entryLogSuffix))
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(files))
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), entryLogSuffix)
		id, err := strconv.ParseUint(name, 16, 64)
		if err != nil {
			util.Debug("skipping unrecognized entry log name %s", f)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

var _ types.Storage = (*EntryLogger)(nil)

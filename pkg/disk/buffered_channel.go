package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/downfa11-org/bookie/pkg/config"
	"github.com/downfa11-org/bookie/pkg/metrics"
	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
)

// FileChannel is the backing file of a BufferedChannel. *os.File satisfies it.
type FileChannel interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// BufferedChannel appends through a write buffer and serves random reads from
// the write buffer, a single-window read cache, or the backing file, in that
// order. Every byte in [writeBufferStart, writeBufferStart+len(writeBuffer))
// is authoritative in memory, not on disk.
type BufferedChannel struct {
	mu sync.Mutex

	fc     FileChannel
	closed bool

	writeBuffer      []byte
	writeBufferStart int64

	readBuffer      []byte
	readBufferStart int64

	unpersistedBytes      int64
	unpersistedBytesBound int64
}

// NewBufferedChannel wraps fc. position is the file offset the first appended byte lands on.
func NewBufferedChannel(fc FileChannel, position int64, writeCapacity, readCapacity int, unpersistedBytesBound int64) (*BufferedChannel, error) {
	if fc == nil {
		return nil, fmt.Errorf("%w: file channel", types.ErrNilArgument)
	}
	if position < 0 {
		return nil, fmt.Errorf("%w: start position %d", types.ErrNegativePosition, position)
	}
	if writeCapacity <= 0 || readCapacity <= 0 {
		return nil, fmt.Errorf("%w: buffer capacities must be positive (write=%d, read=%d)",
			types.ErrInvalidArgument, writeCapacity, readCapacity)
	}

	return &BufferedChannel{
		fc:                    fc,
		writeBuffer:           make([]byte, 0, writeCapacity),
		writeBufferStart:      position,
		readBuffer:            make([]byte, 0, readCapacity),
		readBufferStart:       -1,
		unpersistedBytesBound: unpersistedBytesBound,
	}, nil
}

// OpenBufferedChannel opens (or creates) path and appends after its current end.
func OpenBufferedChannel(path string, cfg *config.Config) (*BufferedChannel, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			util.Error("failed to close %s: %v", path, cerr)
		}
		return nil, err
	}

	if cfg.FadviseSequential {
		adviseSequential(f)
	}

	bc, err := NewBufferedChannel(f, info.Size(), cfg.WriteBufferSize, cfg.ReadBufferSize, cfg.UnpersistedBytesBound)
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			util.Error("failed to close %s: %v", path, cerr)
		}
		return nil, err
	}
	return bc, nil
}

// Write appends p. A nil p is rejected; an empty p is a no-op.
func (bc *BufferedChannel) Write(p []byte) (int, error) {
	if p == nil {
		return 0, fmt.Errorf("%w: write source", types.ErrNilArgument)
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return 0, types.ErrClosed
	}

	written := 0
	for written < len(p) {
		if len(bc.writeBuffer) == cap(bc.writeBuffer) {
			if err := bc.flushLocked(); err != nil {
				bc.unpersistedBytes += int64(written)
				return written, err
			}
		}
		n := len(bc.writeBuffer)
		c := copy(bc.writeBuffer[n:cap(bc.writeBuffer)], p[written:])
		bc.writeBuffer = bc.writeBuffer[:n+c]
		written += c
	}

	bc.unpersistedBytes += int64(len(p))
	if bc.unpersistedBytesBound > 0 && bc.unpersistedBytes >= bc.unpersistedBytesBound {
		if err := bc.flushLocked(); err != nil {
			return written, err
		}
		if err := bc.forceLocked(); err != nil {
			return written, err
		}
		bc.unpersistedBytes = 0
	}
	return written, nil
}

// Read copies up to length bytes starting at pos into dest and returns the count.
//
// length <= 0 returns 0 without touching dest. A read starting at or past the
// end of written data fails with ErrReadPastEOF; a read that starts inside the
// written data but runs past its end returns the available prefix.
func (bc *BufferedChannel) Read(dest []byte, pos int64, length int) (int, error) {
	if length <= 0 {
		return 0, nil
	}
	if dest == nil {
		return 0, fmt.Errorf("%w: read destination", types.ErrNilArgument)
	}
	if len(dest) < length {
		return 0, fmt.Errorf("%w: destination holds %d bytes, %d requested", types.ErrInvalidArgument, len(dest), length)
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: position %d", types.ErrNegativePosition, pos)
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return 0, types.ErrClosed
	}

	end := bc.positionLocked()
	if pos >= end {
		return 0, fmt.Errorf("%w: position %d, written up to %d", types.ErrReadPastEOF, pos, end)
	}
	if avail := end - pos; int64(length) > avail {
		length = int(avail)
	}

	copied := 0
	for copied < length {
		cur := pos + int64(copied)
		want := dest[copied:length]

		switch {
		case cur >= bc.writeBufferStart:
			off := cur - bc.writeBufferStart
			copied += copy(want, bc.writeBuffer[off:])
			metrics.ObserveReadTier(metrics.TierWriteBuffer)

		case bc.readBufferStart >= 0 && cur >= bc.readBufferStart && cur < bc.readBufferStart+int64(len(bc.readBuffer)):
			off := cur - bc.readBufferStart
			copied += copy(want, bc.readBuffer[off:])
			metrics.ObserveReadTier(metrics.TierReadBuffer)

		default:
			if err := bc.fillReadBufferLocked(cur); err != nil {
				return copied, err
			}
			metrics.ObserveReadTier(metrics.TierDisk)
		}
	}
	return copied, nil
}

// fillReadBufferLocked loads the disk window starting at pos. The window never
// extends into the write buffer range, whose bytes on disk may be stale.
func (bc *BufferedChannel) fillReadBufferLocked(pos int64) error {
	window := int64(cap(bc.readBuffer))
	if limit := bc.writeBufferStart - pos; window > limit {
		window = limit
	}

	// The refill reuses the cached window's array; drop the window first.
	buf := bc.readBuffer[:window]
	bc.readBuffer = bc.readBuffer[:0]
	bc.readBufferStart = -1

	n, err := bc.fc.ReadAt(buf, pos)
	if n <= 0 {
		metrics.ChannelShortReads.Inc()
		if err == nil {
			err = io.ErrNoProgress
		}
		return fmt.Errorf("%w: %d bytes expected at position %d: %w", types.ErrShortRead, window, pos, err)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		metrics.ChannelShortReads.Inc()
		return fmt.Errorf("%w: %d of %d bytes at position %d: %w", types.ErrShortRead, n, window, pos, err)
	}

	bc.readBuffer = buf[:n]
	bc.readBufferStart = pos
	return nil
}

// NumBytesInWriteBuffer reports the bytes appended but not yet flushed.
func (bc *BufferedChannel) NumBytesInWriteBuffer() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.writeBuffer)
}

// Position is the offset the next appended byte lands on.
func (bc *BufferedChannel) Position() int64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.positionLocked()
}

// FileChannelPosition is the offset up to which bytes have been handed to the backing file.
func (bc *BufferedChannel) FileChannelPosition() int64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.writeBufferStart
}

func (bc *BufferedChannel) UnpersistedBytes() int64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.unpersistedBytes
}

func (bc *BufferedChannel) positionLocked() int64 {
	return bc.writeBufferStart + int64(len(bc.writeBuffer))
}

// Flush writes the write buffer to the backing file. It does not sync.
func (bc *BufferedChannel) Flush() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return types.ErrClosed
	}
	return bc.flushLocked()
}

func (bc *BufferedChannel) flushLocked() error {
	n := len(bc.writeBuffer)
	if n == 0 {
		return nil
	}

	start := bc.writeBufferStart
	written, err := bc.fc.WriteAt(bc.writeBuffer, start)
	if err != nil {
		return fmt.Errorf("flush %d bytes at %d (wrote %d): %w", n, start, written, err)
	}

	if bc.readBufferStart >= 0 && bc.readBufferStart < start+int64(n) && start < bc.readBufferStart+int64(len(bc.readBuffer)) {
		bc.readBuffer = bc.readBuffer[:0]
		bc.readBufferStart = -1
	}

	bc.writeBufferStart += int64(n)
	bc.writeBuffer = bc.writeBuffer[:0]
	metrics.ObserveFlush(n)
	return nil
}

// ForceWrite makes previously flushed bytes durable. Buffered bytes are not flushed.
func (bc *BufferedChannel) ForceWrite() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return types.ErrClosed
	}
	return bc.forceLocked()
}

func (bc *BufferedChannel) forceLocked() error {
	start := time.Now()
	if err := forceFile(bc.fc); err != nil {
		return fmt.Errorf("force write: %w", err)
	}
	metrics.ObserveForce(time.Since(start))
	return nil
}

// FlushAndForce flushes the write buffer and syncs the backing file.
func (bc *BufferedChannel) FlushAndForce() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return types.ErrClosed
	}
	if err := bc.flushLocked(); err != nil {
		return err
	}
	if err := bc.forceLocked(); err != nil {
		return err
	}
	bc.unpersistedBytes = 0
	return nil
}

// Close flushes buffered bytes and closes the backing file. Flushed bytes are
// not synced; callers wanting durability call FlushAndForce first.
func (bc *BufferedChannel) Close() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return nil
	}
	bc.closed = true

	var errs []error
	if err := bc.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := bc.fc.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

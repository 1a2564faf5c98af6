package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
	"golang.org/x/exp/mmap"
)

// ScanEntryLog maps a flushed entry log read-only and calls fn for every
// complete record in order. A torn record at the tail ends the scan quietly.
func ScanEntryLog(path string, logID uint64, fn func(*types.Entry) error) error {
	reader, err := mmap.Open(path)
	if err != nil {
		return fmt.Errorf("mmap open failed: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			util.Error("failed to unmap %s: %v", path, err)
		}
	}()

	var hdr [types.EntryHeaderSize]byte
	pos := 0
	for {
		if pos+types.EntryHeaderSize > reader.Len() {
			if pos != reader.Len() {
				util.Warn("entry log %s: %d trailing bytes ignored", path, reader.Len()-pos)
			}
			return nil
		}
		if _, err := reader.ReadAt(hdr[:], int64(pos)); err != nil {
			return fmt.Errorf("read entry header at %d: %w", pos, err)
		}

		size := int(binary.BigEndian.Uint32(hdr[0:4]))
		if size < types.EntryHeaderSize-4 {
			return fmt.Errorf("invalid entry length %d at %d in %s", size, pos, path)
		}
		if pos+4+size > reader.Len() {
			util.Warn("entry log %s: torn record at %d", path, pos)
			return nil
		}

		entry := &types.Entry{
			LedgerID: binary.BigEndian.Uint64(hdr[4:12]),
			EntryID:  binary.BigEndian.Uint64(hdr[12:20]),
			Payload:  make([]byte, size-(types.EntryHeaderSize-4)),
			Location: types.EntryLocation{LogID: logID, Offset: int64(pos)},
		}
		if len(entry.Payload) > 0 {
			if _, err := reader.ReadAt(entry.Payload, int64(pos+types.EntryHeaderSize)); err != nil {
				return fmt.Errorf("read entry payload at %d: %w", pos, err)
			}
		}

		if err := fn(entry); err != nil {
			return err
		}
		pos += 4 + size
	}
}

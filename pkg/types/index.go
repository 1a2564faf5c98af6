package types

const (
	// EntryHeaderSize is len(4) + ledgerID(8) + entryID(8)
	EntryHeaderSize = 20
)

// EntryLocation addresses one entry inside an entry log.
type EntryLocation struct {
	LogID  uint64
	Offset int64
}

// Entry is a decoded entry log record.
type Entry struct {
	LedgerID uint64
	EntryID  uint64
	Payload  []byte
	Location EntryLocation
}

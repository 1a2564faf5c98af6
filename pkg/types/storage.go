package types

// Flushable is implemented by anything the sync thread can make durable.
type Flushable interface {
	Flush() error
}

// Storage is the write/read surface an entry log exposes to the ledger index.
type Storage interface {
	AddEntry(ledgerID, entryID uint64, payload []byte) (EntryLocation, error)
	ReadEntry(loc EntryLocation) (*Entry, error)
	Flushable
	Close() error
}

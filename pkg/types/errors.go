package types

import "errors"

// Caller-contract violations.
var (
	ErrNilArgument      = errors.New("nil argument")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNegativePosition = errors.New("negative position")
)

// I/O and logical end-of-data faults. A short read means the backing file
// returned nothing where data was expected; past-EOF means the caller asked
// for bytes that were never written.
var (
	ErrShortRead   = errors.New("short read")
	ErrReadPastEOF = errors.New("read past EOF")
)

// Header record faults.
var (
	ErrNotFound          = errors.New("index file not found")
	ErrMasterKeyMismatch = errors.New("master key mismatch")
	ErrCorruptHeader     = errors.New("corrupt index header")
	ErrClosed            = errors.New("file already closed")
)

// Relocation faults.
var (
	ErrTargetExists = errors.New("relocation target already exists")
	ErrRelocation   = errors.New("relocation failed")
)

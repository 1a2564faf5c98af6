package index

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
)

// Index file header layout (big endian), padded to HeaderSize:
//
//	signature(4) | version(4) | stateBits(4) | size(8) | keyLen(4) | masterKey(keyLen) | ... | crc32c(4)
//
// The checksum sits in the last four bytes of the header and covers
// everything up to the end of the master key. Data starts at HeaderSize.
const (
	HeaderSize    = 1024
	HeaderVersion = 1

	headerFixedSize = 24
	checksumOffset  = HeaderSize - 4
	MaxMasterKeyLen = checksumOffset - headerFixedSize

	stateFenced uint32 = 1 << 0
)

var signature = [4]byte{'B', 'K', 'L', 'E'}

type header struct {
	version   uint32
	stateBits uint32
	size      int64
	masterKey []byte
}

func (h *header) marshal() ([]byte, error) {
	if len(h.masterKey) > MaxMasterKeyLen {
		return nil, fmt.Errorf("%w: master key is %d bytes, at most %d fit", types.ErrInvalidArgument, len(h.masterKey), MaxMasterKeyLen)
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:4], signature[:])
	binary.BigEndian.PutUint32(buf[4:8], h.version)
	binary.BigEndian.PutUint32(buf[8:12], h.stateBits)
	binary.BigEndian.PutUint64(buf[12:20], uint64(h.size))
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(h.masterKey)))
	end := headerFixedSize + copy(buf[headerFixedSize:], h.masterKey)
	binary.BigEndian.PutUint32(buf[checksumOffset:], util.Checksum(buf[:end]))
	return buf, nil
}

func (h *header) unmarshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: header is %d bytes", types.ErrCorruptHeader, len(buf))
	}
	if !bytes.Equal(buf[0:4], signature[:]) {
		return fmt.Errorf("%w: bad signature %q", types.ErrCorruptHeader, buf[0:4])
	}

	version := binary.BigEndian.Uint32(buf[4:8])
	if version != HeaderVersion {
		return fmt.Errorf("%w: unsupported header version %d", types.ErrCorruptHeader, version)
	}

	keyLen := binary.BigEndian.Uint32(buf[20:24])
	if keyLen > MaxMasterKeyLen {
		return fmt.Errorf("%w: master key length %d", types.ErrCorruptHeader, keyLen)
	}
	end := headerFixedSize + int(keyLen)
	if sum := binary.BigEndian.Uint32(buf[checksumOffset:]); sum != util.Checksum(buf[:end]) {
		return fmt.Errorf("%w: checksum mismatch", types.ErrCorruptHeader)
	}

	h.version = version
	h.stateBits = binary.BigEndian.Uint32(buf[8:12])
	h.size = int64(binary.BigEndian.Uint64(buf[12:20]))
	h.masterKey = append([]byte(nil), buf[headerFixedSize:end]...)
	return nil
}

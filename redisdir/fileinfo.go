package redisdir

import (
	"encoding/hex"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/rarydzu/redisdir/utils"
	"github.com/ztrue/tracerr"
)

const (
	fileInfoVersion = 1
	// version + size + id length + name length + crc
	fixedRecordSize = 1 + 8 + 4 + 4 + 4
)

// FileInfo is the metadata of one logical file. Blocks are keyed by ID so a
// rename never moves data.
type FileInfo struct {
	ID   string
	Name string
	Size int64
}

// NewID generates a 128 bit random identifier as lower-case hex
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// NewFileInfo creates metadata for an empty file with a fresh id
func NewFileInfo(name string) *FileInfo {
	return &FileInfo{
		ID:   NewID(),
		Name: name,
		Size: 0,
	}
}

// Blocks returns the number of blocks holding Size bytes
func (fi *FileInfo) Blocks() int64 {
	return utils.CeilDiv(fi.Size, BlockSize)
}

// Marshal encodes fi as
// version(1) | size(8) | idLen(4) | id | nameLen(4) | name | crc32(4)
func (fi *FileInfo) Marshal() []byte {
	buf := make([]byte, 0, fixedRecordSize+len(fi.ID)+len(fi.Name))
	buf = append(buf, fileInfoVersion)
	buf = append(buf, utils.Uint64ToBytes(uint64(fi.Size))...)
	buf = append(buf, utils.Uint32ToBytes(uint32(len(fi.ID)))...)
	buf = append(buf, fi.ID...)
	buf = append(buf, utils.Uint32ToBytes(uint32(len(fi.Name)))...)
	buf = append(buf, fi.Name...)
	return append(buf, utils.Uint32ToBytes(crc32.ChecksumIEEE(buf))...)
}

// DecodeFileInfo decodes a Marshal'ed record, returning ErrCorruptRecord for
// anything else
func DecodeFileInfo(data []byte) (*FileInfo, error) {
	if len(data) < fixedRecordSize {
		return nil, tracerr.Errorf("%w: %d bytes", ErrCorruptRecord, len(data))
	}
	body := data[:len(data)-4]
	if crc := crc32.ChecksumIEEE(body); crc != utils.BytesToUint32(data[len(body):]) {
		return nil, tracerr.Errorf("%w: CRC check failed", ErrCorruptRecord)
	}
	if body[0] != fileInfoVersion {
		return nil, tracerr.Errorf("%w: unknown version %d", ErrCorruptRecord, body[0])
	}
	size := int64(utils.BytesToUint64(body[1:9]))
	rest := body[9:]
	id, rest, ok := lengthPrefixed(rest)
	if !ok {
		return nil, tracerr.Errorf("%w: truncated id", ErrCorruptRecord)
	}
	name, rest, ok := lengthPrefixed(rest)
	if !ok || len(rest) != 0 {
		return nil, tracerr.Errorf("%w: truncated name", ErrCorruptRecord)
	}
	if size < 0 || len(id) == 0 {
		return nil, tracerr.Errorf("%w: invalid id or size", ErrCorruptRecord)
	}
	return &FileInfo{
		ID:   string(id),
		Name: string(name),
		Size: size,
	}, nil
}

func lengthPrefixed(b []byte) ([]byte, []byte, bool) {
	if len(b) < 4 {
		return nil, nil, false
	}
	n := utils.BytesToUint32(b[:4])
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, nil, false
	}
	return b[:n], b[n:], true
}

package ticklog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/portfoliomap/tick/internal/schema"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 36
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'T', 'K', 'L', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("ticklog invalid magic")
	ErrUnsupportedRecordVer    = errors.New("ticklog unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("ticklog invalid header size")
)

// Record is the metadata of one logged update call.
type Record struct {
	Kind     schema.Kind
	Version  uint16
	RowCount uint32
	Seq      uint64
	TsRecv   int64
}

func encodeHeader(dst []byte, rec Record, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(rec.Kind))
	binary.LittleEndian.PutUint16(dst[10:12], rec.Version)
	binary.LittleEndian.PutUint32(dst[12:16], rec.RowCount)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[20:28], rec.Seq)
	binary.LittleEndian.PutUint64(dst[28:36], uint64(rec.TsRecv))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (Record, uint32, error) {
	if len(src) < recordHeaderSize {
		return Record{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Record{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Record{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return Record{}, 0, ErrInvalidRecordHeaderSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[16:20])
	rec := Record{
		Kind:     schema.Kind(binary.LittleEndian.Uint16(src[8:10])),
		Version:  binary.LittleEndian.Uint16(src[10:12]),
		RowCount: binary.LittleEndian.Uint32(src[12:16]),
		Seq:      binary.LittleEndian.Uint64(src[20:28]),
		TsRecv:   int64(binary.LittleEndian.Uint64(src[28:36])),
	}
	return rec, payloadLen, nil
}

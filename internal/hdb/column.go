package hdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/portfoliomap/tick/internal/schema"
)

const (
	columnVersion    uint16 = 1
	columnHeaderSize        = 16
)

var (
	columnMagic = [4]byte{'C', 'O', 'L', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrColumnMagic    = errors.New("hdb column invalid magic")
	ErrColumnVersion  = errors.New("hdb column unsupported version")
	ErrColumnType     = errors.New("hdb column type mismatch")
	ErrColumnChecksum = errors.New("hdb column checksum mismatch")
)

// IsPartitionExists reports whether err means the target date is already
// published.
func IsPartitionExists(err error) bool {
	return errors.Is(err, ErrPartitionExists)
}

// column holds one table column's values for a day, tagged by storage type.
// Times are int64 UTC nanoseconds, floats IEEE bits, syms length-prefixed.
type column struct {
	typ    schema.ColType
	times  []int64
	floats []float64
	ints   []int64
	syms   []string
}

func newColumn(typ schema.ColType) *column {
	return &column{typ: typ}
}

func (c *column) count() int {
	switch c.typ {
	case schema.ColTime:
		return len(c.times)
	case schema.ColFloat:
		return len(c.floats)
	case schema.ColInt:
		return len(c.ints)
	case schema.ColSym:
		return len(c.syms)
	default:
		return 0
	}
}

func writeColumnFile(path string, col *column) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	crc := crc32.New(crcTable)
	buf := bufio.NewWriter(io.MultiWriter(file, crc))

	header := make([]byte, columnHeaderSize)
	copy(header[0:4], columnMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], columnVersion)
	header[6] = byte(col.typ)
	binary.LittleEndian.PutUint64(header[8:16], uint64(col.count()))
	if _, err := buf.Write(header); err != nil {
		_ = file.Close()
		return err
	}

	if err := writeValues(buf, col); err != nil {
		_ = file.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		_ = file.Close()
		return err
	}

	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], crc.Sum32())
	if _, err := file.Write(sumBuf[:]); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeValues(w io.Writer, col *column) error {
	var scratch [8]byte
	putU64 := func(v uint64) error {
		binary.LittleEndian.PutUint64(scratch[:], v)
		_, err := w.Write(scratch[:])
		return err
	}
	switch col.typ {
	case schema.ColTime:
		for _, v := range col.times {
			if err := putU64(uint64(v)); err != nil {
				return err
			}
		}
	case schema.ColFloat:
		for _, v := range col.floats {
			if err := putU64(math.Float64bits(v)); err != nil {
				return err
			}
		}
	case schema.ColInt:
		for _, v := range col.ints {
			if err := putU64(uint64(v)); err != nil {
				return err
			}
		}
	case schema.ColSym:
		var lenBuf [4]byte
		for _, v := range col.syms {
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
			if _, err := w.Write(lenBuf[:]); err != nil {
				return err
			}
			if _, err := io.WriteString(w, v); err != nil {
				return err
			}
		}
	default:
		return ErrColumnType
	}
	return nil
}

func readColumnFile(path string, want schema.ColType) (*column, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < columnHeaderSize+4 {
		return nil, ErrColumnMagic
	}

	body, sumBuf := data[:len(data)-4], data[len(data)-4:]
	if crc32.Checksum(body, crcTable) != binary.LittleEndian.Uint32(sumBuf) {
		return nil, ErrColumnChecksum
	}
	if !bytes.Equal(body[0:4], columnMagic[:]) {
		return nil, ErrColumnMagic
	}
	if binary.LittleEndian.Uint16(body[4:6]) != columnVersion {
		return nil, ErrColumnVersion
	}
	typ := schema.ColType(body[6])
	if typ != want {
		return nil, ErrColumnType
	}
	count := binary.LittleEndian.Uint64(body[8:16])

	col := newColumn(typ)
	values := body[columnHeaderSize:]
	switch typ {
	case schema.ColTime, schema.ColFloat, schema.ColInt:
		if uint64(len(values)) != count*8 {
			return nil, io.ErrUnexpectedEOF
		}
		for i := uint64(0); i < count; i++ {
			raw := binary.LittleEndian.Uint64(values[i*8:])
			switch typ {
			case schema.ColTime:
				col.times = append(col.times, int64(raw))
			case schema.ColFloat:
				col.floats = append(col.floats, math.Float64frombits(raw))
			case schema.ColInt:
				col.ints = append(col.ints, int64(raw))
			}
		}
	case schema.ColSym:
		off := 0
		for i := uint64(0); i < count; i++ {
			if off+4 > len(values) {
				return nil, io.ErrUnexpectedEOF
			}
			n := int(binary.LittleEndian.Uint32(values[off:]))
			off += 4
			if off+n > len(values) {
				return nil, io.ErrUnexpectedEOF
			}
			col.syms = append(col.syms, string(values[off:off+n]))
			off += n
		}
	default:
		return nil, ErrColumnType
	}
	return col, nil
}

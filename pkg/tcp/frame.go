package tcp

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	// ErrFrameTooLarge is returned when a frame exceeds the size limit.
	ErrFrameTooLarge = errors.New("tcp: frame too large")
	// ErrEmptyFrame is returned when a zero-length frame is read or written.
	ErrEmptyFrame = errors.New("tcp: empty frame")
)

// MaxFrameSize bounds a single frame. Large enough for a full-day snapshot
// of one table, small enough to reject runaway peers.
const MaxFrameSize = 64 << 20

const frameHeaderSize = 4

// WriteFrame writes one length-prefixed frame: a 4-byte big-endian payload
// length followed by the payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame. The returned slice is freshly
// allocated and owned by the caller.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's JSON payload, per spec: frames whose
// length exceeds this are rejected as protocol errors rather than read.
const MaxFrameSize = 100 * 1024 * 1024 // 100 MiB

// ErrFrameTooLarge is returned by EncodeFrame, (*Decoder).Next and
// ReadFrame when a payload's length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// ErrIncomplete is returned by (*Decoder).Next when the buffer does not yet
// hold a complete frame. It is not a protocol error; callers should push
// more bytes and retry.
var ErrIncomplete = errors.New("protocol: incomplete frame")

// EncodeFrame serializes m as a length-prefixed frame: a 4-byte big-endian
// length followed by the UTF-8 JSON payload.
func EncodeFrame(m Message) ([]byte, error) {
	payload, err := Encode(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode payload: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// Decoder performs incremental length-prefixed decoding over an
// accumulating byte buffer. It is synchronous and holds no state beyond
// the buffered bytes, matching the framing codec's contract: Next yields
// nothing until a complete frame is available.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty incremental decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Push appends newly read bytes to the decoder's buffer.
func (d *Decoder) Push(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next attempts to decode one frame from the buffered bytes. It returns
// ErrIncomplete (not a real error) when fewer than 4 bytes, or fewer than
// 4+length bytes, are buffered. A length exceeding MaxFrameSize is
// rejected as ErrFrameTooLarge without consuming any bytes, since the
// stream is no longer trustworthy.
func (d *Decoder) Next() (Message, error) {
	if len(d.buf) < 4 {
		return nil, ErrIncomplete
	}
	length := binary.BigEndian.Uint32(d.buf[:4])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	total := 4 + int(length)
	if len(d.buf) < total {
		return nil, ErrIncomplete
	}
	payload := d.buf[4:total]
	msg, err := Decode(payload)
	if err != nil {
		d.buf = d.buf[total:]
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	d.buf = d.buf[total:]
	return msg, nil
}

// ErrInvalidMessage wraps a payload that parsed the length prefix correctly
// but failed to decode as a well-formed tagged-union message.
var ErrInvalidMessage = errors.New("protocol: invalid message payload")

// ReadFrame reads exactly one frame from r: a 4-byte big-endian length
// followed by its JSON payload. It returns io.EOF only when r is closed
// before any bytes of a new frame are read (a clean stream end); a partial
// frame at EOF is reported as io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protocol: read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	msg, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// WriteFrame encodes m and writes it to w as a single frame with one Write
// call. Callers that pass a *bufio.Writer are responsible for flushing.
func WriteFrame(w io.Writer, m Message) error {
	frame, err := EncodeFrame(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// Package frame is the fixed container header shared by traced-program and edge
// program files: a big-endian header followed by one TLV payload.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FixedHeaderLen uint16 = 24
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrHeaderLenTooSmall  = errors.New("frame: header_len smaller than fixed header")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrShortPayload       = errors.New("frame: short payload")
	ErrTrailingBytes      = errors.New("frame: trailing bytes after payload")
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrKindMismatch       = errors.New("frame: container kind mismatch")
)

// Header is the fixed container header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Kind       uint32
	Flags      uint32
	PayloadLen uint64
}

// Frame is one complete container.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 2 << 30,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	// Extension bytes beyond the fixed header are skipped.
	if ext := int64(h.HeaderLen - FixedHeaderLen); ext > 0 {
		if _, err := io.CopyN(io.Discard, r, ext); err != nil {
			return Frame{}, ErrShortHeader
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Frame{}, ErrShortPayload
			}
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// Unmarshal decodes exactly one frame from buf. The declared payload length is
// checked against len(buf) before anything is allocated.
func Unmarshal(buf []byte, limits Limits) (Frame, error) {
	if len(buf) >= int(FixedHeaderLen) {
		h, err := DecodeHeader(buf[:FixedHeaderLen])
		if err != nil {
			return Frame{}, err
		}
		if h.HeaderLen >= FixedHeaderLen && h.PayloadLen <= limits.MaxPayloadBytes &&
			h.PayloadLen > uint64(len(buf))-uint64(FixedHeaderLen) {
			return Frame{}, ErrShortPayload
		}
	}
	r := bytes.NewReader(buf)
	f, err := ReadFrame(r, limits)
	if err != nil {
		return Frame{}, err
	}
	if r.Len() != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, r.Len())
	}
	return f, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Marshal returns the frame as one contiguous buffer.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(FixedHeaderLen) + len(f.Payload))
	if err := WriteFrame(&buf, f, limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Expect checks the identity fields of a decoded header.
func Expect(h Header, magic uint32, version uint16, kind uint32) error {
	if h.Magic != magic {
		return fmt.Errorf("%w: got %#08x want %#08x", ErrBadMagic, h.Magic, magic)
	}
	if h.Version != version {
		return fmt.Errorf("%w: got %d want %d", ErrUnsupportedVersion, h.Version, version)
	}
	if h.Kind != kind {
		return fmt.Errorf("%w: got %d want %d", ErrKindMismatch, h.Kind, kind)
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint32(buf[8:12], h.Kind)
	binary.BigEndian.PutUint32(buf[12:16], h.Flags)
	binary.BigEndian.PutUint64(buf[16:24], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Kind:       binary.BigEndian.Uint32(b[8:12]),
		Flags:      binary.BigEndian.Uint32(b[12:16]),
		PayloadLen: binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

// Package tuple decodes the on-disk heap tuple and page formats into typed
// xid.RawRow records.
//
// This is the only package that reads transaction ids out of raw bytes. The
// layout follows the PostgreSQL heap format on a little-endian host:
//
//	offset  size  field
//	0       4     t_xmin
//	4       4     t_xmax
//	8       4     t_cid / t_xvac
//	12      6     t_ctid (block hi, block lo, line)
//	18      2     t_infomask2
//	20      2     t_infomask
//	22      1     t_hoff (offset of the payload)
//	23      ...   null bitmap, padding, payload
package tuple

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/dirtyread/internal/xid"
)

// HeaderSize is the fixed part of a tuple header.
const HeaderSize = 23

// DefaultHoff is the payload offset written by Encode (HeaderSize rounded up
// to the 8-byte alignment the host uses).
const DefaultHoff = 24

// ErrCorrupt is wrapped by every decoding failure.
var ErrCorrupt = errors.New("corrupt tuple")

// Header is the decoded fixed tuple header.
type Header struct {
	XMin      xid.TransactionID
	XMax      xid.TransactionID
	Field3    uint32
	CTID      xid.TID
	Infomask2 uint16
	Infomask  uint16
	Hoff      uint8
}

// Natts returns the attribute count recorded in infomask2.
func (h Header) Natts() int {
	return int(h.Infomask2 & 0x07FF)
}

var le = binary.LittleEndian

// DecodeHeader reads the fixed header of a tuple and validates that the
// payload offset falls inside the tuple. An unset xmin is not checked here:
// a raw dump still returns such a tuple.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrCorrupt, len(b), HeaderSize)
	}
	h := Header{
		XMin:   xid.TransactionID(le.Uint32(b[0:4])),
		XMax:   xid.TransactionID(le.Uint32(b[4:8])),
		Field3: le.Uint32(b[8:12]),
		CTID: xid.TID{
			Block: uint32(le.Uint16(b[12:14]))<<16 | uint32(le.Uint16(b[14:16])),
			Line:  le.Uint16(b[16:18]),
		},
		Infomask2: le.Uint16(b[18:20]),
		Infomask:  le.Uint16(b[20:22]),
		Hoff:      b[22],
	}
	if int(h.Hoff) < HeaderSize || int(h.Hoff) > len(b) {
		return Header{}, fmt.Errorf("%w: payload offset %d outside tuple of %d bytes", ErrCorrupt, h.Hoff, len(b))
	}
	return h, nil
}

// Decode converts the stored bytes of the tuple at tid into a RawRow. The
// payload is copied; the returned row does not alias b.
func Decode(tid xid.TID, b []byte) (xid.RawRow, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return xid.RawRow{}, fmt.Errorf("tuple %s: %w", tid, err)
	}
	return xid.RawRow{
		XMin:    h.XMin,
		XMax:    h.XMax,
		TID:     tid,
		Payload: bytes.Clone(b[h.Hoff:]),
	}, nil
}

// Encode builds a tuple with the given header fields and payload. Hoff is
// always DefaultHoff.
func Encode(h Header, payload []byte) []byte {
	b := make([]byte, DefaultHoff+len(payload))
	le.PutUint32(b[0:4], uint32(h.XMin))
	le.PutUint32(b[4:8], uint32(h.XMax))
	le.PutUint32(b[8:12], h.Field3)
	le.PutUint16(b[12:14], uint16(h.CTID.Block>>16))
	le.PutUint16(b[14:16], uint16(h.CTID.Block))
	le.PutUint16(b[16:18], h.CTID.Line)
	le.PutUint16(b[18:20], h.Infomask2)
	le.PutUint16(b[20:22], h.Infomask)
	b[22] = DefaultHoff
	copy(b[DefaultHoff:], payload)
	return b
}

// SetXMax stamps a deleting transaction id into an encoded tuple in place.
func SetXMax(b []byte, x xid.TransactionID) error {
	if _, err := DecodeHeader(b); err != nil {
		return err
	}
	le.PutUint32(b[4:8], uint32(x))
	return nil
}

package tuple

import (
	"fmt"

	"github.com/roach88/dirtyread/internal/xid"
)

// Page layout constants.
const (
	PageHeaderSize = 24
	ItemIDSize     = 4
)

// Line pointer states.
const (
	LPUnused   = 0
	LPNormal   = 1
	LPRedirect = 2
	LPDead     = 3
)

// Item is one stored tuple located through a line pointer. Data is nil when
// the line pointer points outside the page; Decode reports such items as
// corrupt.
type Item struct {
	TID  xid.TID
	Data []byte
}

// DecodePage walks the line pointer array of a heap page and returns the
// normal items in line pointer order. Unused, redirected and dead pointers
// are skipped. An error is returned only when the page header itself is
// unreadable.
func DecodePage(block uint32, page []byte) ([]Item, error) {
	if len(page) < PageHeaderSize {
		return nil, fmt.Errorf("%w: page %d is %d bytes", ErrCorrupt, block, len(page))
	}
	lower := int(le.Uint16(page[12:14]))
	upper := int(le.Uint16(page[14:16]))
	if lower < PageHeaderSize || lower > len(page) || upper > len(page) || lower > upper {
		return nil, fmt.Errorf("%w: page %d has lower=%d upper=%d size=%d", ErrCorrupt, block, lower, upper, len(page))
	}

	n := (lower - PageHeaderSize) / ItemIDSize
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		raw := le.Uint32(page[PageHeaderSize+i*ItemIDSize:])
		off := int(raw & 0x7FFF)
		flags := (raw >> 15) & 0x03
		length := int(raw >> 17)
		if flags != LPNormal || length == 0 {
			continue
		}
		it := Item{TID: xid.TID{Block: block, Line: uint16(i + 1)}}
		if off+length <= len(page) {
			it.Data = page[off : off+length]
		}
		items = append(items, it)
	}
	return items, nil
}

// EncodePage lays tuples out on a page of the given size the way the host
// does: line pointers grow up from the header, tuple data grows down from
// the end. It is used to build fixtures.
func EncodePage(size int, tuples [][]byte) ([]byte, error) {
	page := make([]byte, size)
	lower := PageHeaderSize + len(tuples)*ItemIDSize
	upper := size
	for i, t := range tuples {
		upper -= len(t)
		upper &^= 7
		if upper < lower {
			return nil, fmt.Errorf("page overflow at tuple %d", i)
		}
		copy(page[upper:], t)
		lp := uint32(upper) | uint32(LPNormal)<<15 | uint32(len(t))<<17
		le.PutUint32(page[PageHeaderSize+i*ItemIDSize:], lp)
	}
	le.PutUint16(page[12:14], uint16(lower))
	le.PutUint16(page[14:16], uint16(upper))
	le.PutUint16(page[16:18], uint16(size))
	le.PutUint16(page[18:20], uint16(size)|4)
	return page, nil
}

package xid

import "fmt"

// TID is the physical location of a tuple: block number and 1-based line
// pointer index within the block.
type TID struct {
	Block uint32
	Line  uint16
}

func (t TID) String() string {
	return fmt.Sprintf("(%d,%d)", t.Block, t.Line)
}

// Less orders tids by physical position.
func (t TID) Less(o TID) bool {
	if t.Block != o.Block {
		return t.Block < o.Block
	}
	return t.Line < o.Line
}

// RawRow is a stored row version as read from storage, before any
// visibility filtering.
//
// XMin is never Invalid for a row read from storage. XMax is Invalid when the
// row has no recorded deletion attempt.
type RawRow struct {
	XMin    TransactionID
	XMax    TransactionID
	TID     TID
	Payload []byte
}

// HasDeleter reports whether a delete or update was ever attempted on the row.
func (r RawRow) HasDeleter() bool {
	return r.XMax != Invalid
}

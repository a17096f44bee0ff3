package testutil

import (
	"sync"

	"github.com/roach88/dirtyread/internal/xid"
)

// XIDClock hands out transaction ids in order for tests.
//
// The first call to Next() returns the start id (xid.FirstNormal by
// default), so fixtures never collide with the special ids.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type XIDClock struct {
	mu    sync.Mutex
	start xid.TransactionID
	next  xid.TransactionID
}

// NewXIDClock creates a clock whose first id is start. A start below
// xid.FirstNormal is raised to it.
func NewXIDClock(start xid.TransactionID) *XIDClock {
	if start < xid.FirstNormal {
		start = xid.FirstNormal
	}
	return &XIDClock{start: start, next: start}
}

// Next returns the next transaction id.
func (c *XIDClock) Next() xid.TransactionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	return id
}

// Current returns the most recently issued id, or xid.Invalid before the
// first call to Next.
func (c *XIDClock) Current() xid.TransactionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == c.start {
		return xid.Invalid
	}
	return c.next - 1
}

// Reset rewinds the clock to its start id.
func (c *XIDClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.start
}

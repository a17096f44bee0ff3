// Package locks provides relation-level share/exclusive locks.
//
// A share lock is taken by every raw scan and is compatible with other share
// locks. An exclusive lock is taken by destructive schema changes such as
// dropping a relation, and waits for all scans to finish. Neither mode is
// ever upgraded.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lock "github.com/viney-shih/go-lock"
)

// Mode is a lock mode.
type Mode uint8

const (
	Share Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "share"
}

// DefaultTimeout bounds how long an acquisition waits.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when a lock cannot be acquired in time.
var ErrTimeout = errors.New("lock not acquired")

// Manager hands out relation locks keyed by relation name.
type Manager struct {
	mu      sync.Mutex
	locks   map[string]*lock.CASMutex
	timeout time.Duration
}

// NewManager creates a Manager whose acquisitions wait at most timeout.
// A non-positive timeout selects DefaultTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		locks:   make(map[string]*lock.CASMutex),
		timeout: timeout,
	}
}

func (m *Manager) get(relation string) *lock.CASMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[relation]
	if !ok {
		l = lock.NewCASMutex()
		m.locks[relation] = l
	}
	return l
}

// Handle is a held lock. Release is safe to call more than once; only the
// first call releases.
type Handle struct {
	Relation string
	Mode     Mode
	once     sync.Once
	release  func()
}

// Release gives the lock back.
func (h *Handle) Release() {
	h.once.Do(h.release)
}

// Acquire takes a lock on relation in the given mode, waiting until the
// manager's timeout or ctx ends.
func (m *Manager) Acquire(ctx context.Context, relation string, mode Mode) (*Handle, error) {
	l := m.get(relation)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var ok bool
	var release func()
	switch mode {
	case Share:
		ok = l.RTryLockWithContext(ctx)
		release = l.RUnlock
	case Exclusive:
		ok = l.TryLockWithContext(ctx)
		release = l.Unlock
	default:
		return nil, fmt.Errorf("unknown lock mode %d", mode)
	}
	if !ok {
		slog.Debug("lock wait gave up", "relation", relation, "mode", mode, "timeout", m.timeout)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s lock on %q: %w", ErrTimeout, mode, relation, err)
		}
		return nil, fmt.Errorf("%w: %s lock on %q", ErrTimeout, mode, relation)
	}
	return &Handle{Relation: relation, Mode: mode, release: release}, nil
}

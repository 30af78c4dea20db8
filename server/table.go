package server

import (
	"net"
	"sync"

	"github.com/wippyai/wasm-bridge/handoff"
)

// Table maps descriptors to the connections they stand for. Descriptors are
// never zero; freed slots are reused.
type Table struct {
	entries  []net.Conn
	freeList []handoff.Descriptor
	mu       sync.Mutex
	closed   bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]net.Conn, 0, 64),
		freeList: make([]handoff.Descriptor, 0, 16),
	}
}

// Insert registers conn and returns its descriptor, or 0 once the table is
// closed.
func (t *Table) Insert(conn net.Conn) handoff.Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || conn == nil {
		return 0
	}

	if len(t.freeList) > 0 {
		d := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[d-1] = conn
		return d
	}

	t.entries = append(t.entries, conn)
	return handoff.Descriptor(len(t.entries))
}

// Remove unregisters d and hands its connection to the caller, who becomes
// responsible for closing it.
func (t *Table) Remove(d handoff.Descriptor) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn := t.lookup(d)
	if conn == nil {
		return nil, false
	}
	t.entries[d-1] = nil
	t.freeList = append(t.freeList, d)
	return conn, true
}

// Len returns the number of registered connections.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) - len(t.freeList)
}

// CloseAll closes every registered connection and refuses further inserts.
// It returns how many connections it closed.
func (t *Table) CloseAll() int {
	t.mu.Lock()
	t.closed = true
	var conns []net.Conn
	for _, c := range t.entries {
		if c != nil {
			conns = append(conns, c)
		}
	}
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()

	// Close outside the lock; Close on a net.Conn may block.
	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

func (t *Table) lookup(d handoff.Descriptor) net.Conn {
	if d <= 0 || int(d) > len(t.entries) {
		return nil
	}
	return t.entries[d-1]
}

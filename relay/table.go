package relay

import "errors"

// ErrTableFull reports that every slot in the session table is occupied.
// The caller must reject the new connection outright; it never enters the
// table.
var ErrTableFull = errors.New("relay: session table full")

// SessionTable is a fixed-capacity array of session slots. Each slot is
// either empty or holds exactly one live session; a released slot is
// immediately reusable. Lookups go through the slot index plus the session's
// connection id, so a handle to a released-and-reused slot can never resolve
// to the wrong session.
//
// The table is owned by the hub goroutine and is not safe for concurrent
// use.
type SessionTable struct {
	slots []*Session
	count int
}

// NewSessionTable creates a table with the given number of slots.
//
// Parameters:
//   - capacity: Maximum number of concurrent sessions; must be positive
//
// Returns:
//   - An empty SessionTable
func NewSessionTable(capacity int) *SessionTable {
	return &SessionTable{slots: make([]*Session, capacity)}
}

// Acquire places the session in the first empty slot and records the slot
// index on the session.
//
// Parameters:
//   - sess: The session to place; its slot field is set on success
//
// Returns:
//   - The slot index, or ErrTableFull if no slot is free
func (t *SessionTable) Acquire(sess *Session) (int, error) {
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = sess
			sess.slot = i
			t.count++
			return i, nil
		}
	}

	return -1, ErrTableFull
}

// Release empties the slot. The session's slot field is reset so a stale
// handle is detectable. Releasing an already-empty slot is a no-op.
//
// Parameters:
//   - slot: The slot index to empty
func (t *SessionTable) Release(slot int) {
	if slot < 0 || slot >= len(t.slots) || t.slots[slot] == nil {
		return
	}

	t.slots[slot].slot = -1
	t.slots[slot] = nil
	t.count--
}

// Get returns the session occupying the slot, or nil if the slot is empty
// or out of range.
//
// Parameters:
//   - slot: The slot index to look up
//
// Returns:
//   - The occupying session, or nil
func (t *SessionTable) Get(slot int) *Session {
	if slot < 0 || slot >= len(t.slots) {
		return nil
	}

	return t.slots[slot]
}

// Lookup returns the session occupying the slot only if its connection id
// matches. Events queued by a read goroutine can outlive their session; the
// id check makes such stale handles resolve to nil instead of whatever
// session reused the slot.
//
// Parameters:
//   - slot: The slot index to look up
//   - id: The connection id the caller believes occupies the slot
//
// Returns:
//   - The occupying session, or nil if the slot is empty or reused
func (t *SessionTable) Lookup(slot int, id uint64) *Session {
	sess := t.Get(slot)
	if sess == nil || sess.id != id {
		return nil
	}

	return sess
}

// ForEachOccupied calls fn for every occupied slot in slot order. Iteration
// stops early if fn returns false. fn must not acquire or release slots.
//
// Parameters:
//   - fn: Function called with each live session; return false to stop
func (t *SessionTable) ForEachOccupied(fn func(sess *Session) bool) {
	for _, s := range t.slots {
		if s == nil {
			continue
		}
		if !fn(s) {
			return
		}
	}
}

// Count returns the number of occupied slots.
func (t *SessionTable) Count() int {
	return t.count
}

// Capacity returns the total number of slots.
func (t *SessionTable) Capacity() int {
	return len(t.slots)
}

package presence

import (
	"sync"
	"time"
)

// Handle is a non-owning reference to a live connection. The connection
// registry owns the lifetime; a handle held here may already be closed and
// must be discarded at lookup time, never dereferenced blindly.
type Handle interface {
	ID() string
}

// Entry is the per-user presence record. Entries are created lazily on first
// connect and never deleted; Online flips to false instead.
type Entry struct {
	UserID   uint
	Online   bool
	LastSeen time.Time
	Handle   Handle
}

// Table is the single source of truth for "is this user reachable right now".
type Table interface {
	SetOnline(userID uint, handle Handle)
	SetOffline(userID uint)
	SetOfflineIfHandle(userID uint, handleID string) bool
	Lookup(userID uint) (Handle, bool)
	IsOnline(userID uint) bool
	Entry(userID uint) (Entry, bool)
	Snapshot() []Entry
}

// InMemoryTable guards all entries with a single lock so a lookup never
// observes an online flag without its handle, or vice versa.
type InMemoryTable struct {
	mu      sync.RWMutex
	entries map[uint]*Entry
	nowFn   func() time.Time
}

// NewTable builds an empty in-memory presence table.
func NewTable() *InMemoryTable {
	return &InMemoryTable{
		entries: make(map[uint]*Entry),
		nowFn:   time.Now,
	}
}

// SetOnline records the user as reachable through the given handle, replacing
// any prior handle. A reconnect after an unclean drop lands here before the
// old connection's teardown is observed; the replaced handle is simply
// orphaned, never merged.
func (t *InMemoryTable) SetOnline(userID uint, handle Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[userID]
	if !ok {
		e = &Entry{UserID: userID}
		t.entries[userID] = e
	}
	e.Online = true
	e.Handle = handle
	e.LastSeen = t.nowFn()
}

// SetOffline marks the user unreachable and clears the handle reference.
// Calling it for a user that is already offline (or was never seen) is a
// no-op; disconnect can race with a concurrent cleanup.
func (t *InMemoryTable) SetOffline(userID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[userID]
	if !ok || !e.Online {
		return
	}
	e.Online = false
	e.Handle = nil
	e.LastSeen = t.nowFn()
}

// SetOfflineIfHandle marks the user unreachable only while the table still
// points at the given handle, and reports whether it did. The comparison and
// the flip happen under one lock acquisition: a teardown racing a reconnect
// must never knock the replacement handle offline, so the caller cannot
// Lookup-then-SetOffline in two steps.
func (t *InMemoryTable) SetOfflineIfHandle(userID uint, handleID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[userID]
	if !ok || !e.Online || e.Handle == nil || e.Handle.ID() != handleID {
		return false
	}
	e.Online = false
	e.Handle = nil
	e.LastSeen = t.nowFn()
	return true
}

// Lookup returns the live handle iff the user is currently online.
func (t *InMemoryTable) Lookup(userID uint) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[userID]
	if !ok || !e.Online || e.Handle == nil {
		return nil, false
	}
	return e.Handle, true
}

// IsOnline reports whether the user currently has a registered handle.
func (t *InMemoryTable) IsOnline(userID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[userID]
	return ok && e.Online
}

// Entry returns a copy of the user's presence record.
func (t *InMemoryTable) Entry(userID uint) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[userID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot copies out every entry. Callers fan out notifications over the
// snapshot so no I/O happens under the table lock.
func (t *InMemoryTable) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

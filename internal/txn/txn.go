// Package txn provides the opaque transaction/lock handle threaded
// through the storage core's mutating operations. No MVCC or ARIES
// recovery is implemented here: the lock manager's acquisition points
// are identified by accepting a Handle, but Lock/Unlock are no-ops. A
// real transaction/lock manager is an external collaborator.
package txn

import "github.com/google/uuid"

// Handle identifies one logical transaction. It carries no state beyond
// its id; callers pass it through so the eventual lock manager has
// somewhere to hang real locks.
type Handle struct {
	id uuid.UUID
}

// New mints a fresh handle.
func New() Handle {
	return Handle{id: uuid.New()}
}

// Nil is the zero handle, used by callers that have no transaction
// context (e.g. standalone tests exercising the storage core directly).
var Nil Handle

func (h Handle) String() string { return h.id.String() }

func (h Handle) IsNil() bool { return h.id == uuid.Nil }

// Manager is a no-op stand-in for a lock/transaction manager: it exposes
// lock acquisition points (LockShared/LockExclusive/Unlock) without
// implementing any actual concurrency control; the table heap, B+ tree
// and catalog do not call them (locking is an external collaborator).
type Manager struct{}

// NewManager builds a no-op lock manager.
func NewManager() *Manager { return &Manager{} }

// LockShared/LockExclusive/Unlock are identified acquisition points
// that do nothing: the single-threaded, single-latch-per-page model
// documented for this storage core does not require real locking.
func (m *Manager) LockShared(h Handle, rid any) error    { return nil }
func (m *Manager) LockExclusive(h Handle, rid any) error { return nil }
func (m *Manager) Unlock(h Handle, rid any) error        { return nil }

// Package ownership tracks, per state key, which transaction currently
// holds the right to write it during one scheduling pass.
package ownership

import (
	"sync"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// Entry guards the owner of a single state key.
type Entry struct {
	mu    sync.RWMutex
	owner types.PriorityCode
}

// NewEntry creates an entry owned by the weakest released code, so the
// first claim always succeeds.
func NewEntry() *Entry {
	return &Entry{owner: types.ReleasedPriorityCode()}
}

// ReleaseOwnership marks the current owner as released. The owner's
// height and hash are kept.
func (e *Entry) ReleaseOwnership() {
	e.mu.Lock()
	e.owner.Release()
	e.mu.Unlock()
}

// CheckOwnership reports whether who ranks at or above the current owner.
func (e *Entry) CheckOwnership(who types.PriorityCode) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return who.Compare(e.owner) <= 0
}

// TrySetOwner claims the entry for who if it ranks at or above the
// current owner. The check is repeated under the write lock so a
// concurrent stronger claim is never overwritten.
func (e *Entry) TrySetOwner(who types.PriorityCode) bool {
	if !e.CheckOwnership(who) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if who.Compare(e.owner) > 0 {
		return false
	}
	e.owner = who
	return true
}

// ReleaseIfOwner releases the entry only if who is its current owner.
func (e *Entry) ReleaseIfOwner(who types.PriorityCode) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner.Compare(who) != 0 {
		return false
	}
	e.owner.Release()
	return true
}

// Owner returns a copy of the current owner.
func (e *Entry) Owner() types.PriorityCode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.owner
}

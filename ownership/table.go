package ownership

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// DefaultShards is the shard count used by NewTable.
const DefaultShards = 64

type shard struct {
	mu      sync.RWMutex
	entries map[types.Hash]*Entry
}

// Table maps state keys to ownership entries. Entries are created lazily
// and exactly once per key. The map is split into shards selected by an
// xxhash of the key so unrelated keys do not contend on one lock.
type Table struct {
	shards []*shard
}

// NewTable creates a table with DefaultShards shards.
func NewTable() *Table {
	return NewTableWithShards(DefaultShards)
}

// NewTableWithShards creates a table with n shards.
func NewTableWithShards(n int) *Table {
	if n <= 0 {
		n = 1
	}
	t := &Table{shards: make([]*shard, n)}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[types.Hash]*Entry)}
	}
	return t
}

func (t *Table) shardFor(key types.Hash) *shard {
	return t.shards[xxhash.Sum64(key[:])%uint64(len(t.shards))]
}

// GetOrCreate returns the entry for key, creating it if absent. Racing
// callers for the same key all receive the same entry.
func (t *Table) GetOrCreate(key types.Hash) *Entry {
	s := t.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = NewEntry()
	s.entries[key] = e
	return e
}

// Get returns the entry for key if it exists.
func (t *Table) Get(key types.Hash) (*Entry, bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// ReleaseAll releases ownership of every existing entry among keys.
// Unknown keys are ignored.
func (t *Table) ReleaseAll(keys []types.Hash) {
	for _, k := range keys {
		if e, ok := t.Get(k); ok {
			e.ReleaseOwnership()
		}
	}
}

// Clear removes all entries.
func (t *Table) Clear() {
	for _, s := range t.shards {
		s.mu.Lock()
		s.entries = make(map[types.Hash]*Entry)
		s.mu.Unlock()
	}
}

// Len returns the number of entries.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// IsEmpty reports whether the table has no entries.
func (t *Table) IsEmpty() bool { return t.Len() == 0 }

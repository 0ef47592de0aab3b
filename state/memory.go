package state

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/btree"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// MemoryStore keeps the state in a copy-on-write B-tree. Snapshots are
// O(1) copies of the tree and commits are staged on a copy that replaces
// the live tree only after every write was applied.
type MemoryStore struct {
	mu     sync.RWMutex
	data   *btree.Map[string, []byte]
	root   types.Hash
	closed bool
	knobs  *TestingKnobs
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: new(btree.Map[string, []byte]),
		root: EmptyRoot,
	}
}

// SetTestingKnobs installs fault injection hooks.
func (s *MemoryStore) SetTestingKnobs(knobs *TestingKnobs) {
	s.mu.Lock()
	s.knobs = knobs
	s.mu.Unlock()
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot() (Snapshot, error) {
	// Copy updates copy-on-write markers on the source tree, so it needs
	// the write lock.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return &memorySnapshot{data: s.data.Copy()}, nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(writes []types.Write) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.Hash{}, ErrStoreClosed
	}
	if len(writes) == 0 {
		return s.root, nil
	}

	staged := s.data.Copy()
	for i, w := range writes {
		if err := s.knobs.beforeApply(i, w); err != nil {
			return types.Hash{}, errors.Wrapf(err, "commit write %d (key %s)", i, w.Key.Short())
		}
		if w.Value == nil {
			staged.Delete(string(w.Key[:]))
			continue
		}
		staged.Set(string(w.Key[:]), cloneBytes(w.Value))
	}

	root := rootOfMap(staged)
	if err := s.knobs.beforePublish(root); err != nil {
		return types.Hash{}, errors.Wrap(err, "publish commit")
	}
	s.data = staged
	s.root = root
	return root, nil
}

// Get implements Store.
func (s *MemoryStore) Get(key types.Hash) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	v, ok := s.data.Get(string(key[:]))
	return cloneBytes(v), ok, nil
}

// Root implements Store.
func (s *MemoryStore) Root() types.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Len returns the number of keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func rootOfMap(m *btree.Map[string, []byte]) types.Hash {
	return computeRoot(func(yield func(k, v []byte) bool) {
		m.Scan(func(k string, v []byte) bool {
			return yield([]byte(k), v)
		})
	})
}

type memorySnapshot struct {
	mu   sync.RWMutex
	data *btree.Map[string, []byte]
}

func (s *memorySnapshot) Get(key types.Hash) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, false, ErrSnapshotReleased
	}
	v, ok := s.data.Get(string(key[:]))
	return cloneBytes(v), ok, nil
}

func (s *memorySnapshot) Release() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
}

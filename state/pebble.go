package state

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// PebbleStore keeps the state in a pebble LSM. Commits are written as a
// single synced indexed batch and snapshots are pebble snapshots.
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	root   types.Hash
	closed bool
	knobs  *TestingKnobs
}

// OpenPebble opens or creates a store in dir. An empty dir opens an
// in-memory filesystem.
func OpenPebble(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %q", dir)
	}

	s := &PebbleStore{db: db}
	root, err := s.computeRoot()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.root = root
	return s, nil
}

// SetTestingKnobs installs fault injection hooks.
func (s *PebbleStore) SetTestingKnobs(knobs *TestingKnobs) {
	s.mu.Lock()
	s.knobs = knobs
	s.mu.Unlock()
}

// Snapshot implements Store.
func (s *PebbleStore) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return &pebbleSnapshot{snap: s.db.NewSnapshot()}, nil
}

// Commit implements Store.
func (s *PebbleStore) Commit(writes []types.Write) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.Hash{}, ErrStoreClosed
	}
	if len(writes) == 0 {
		return s.root, nil
	}

	// The root is computed over the indexed batch, which reads through to
	// the db, so a failure leaves nothing applied.
	batch := s.db.NewIndexedBatch()
	defer batch.Close()
	for i, w := range writes {
		if err := s.knobs.beforeApply(i, w); err != nil {
			return types.Hash{}, errors.Wrapf(err, "commit write %d (key %s)", i, w.Key.Short())
		}
		var err error
		if w.Value == nil {
			err = batch.Delete(w.Key[:], nil)
		} else {
			err = batch.Set(w.Key[:], w.Value, nil)
		}
		if err != nil {
			return types.Hash{}, errors.Wrapf(err, "stage write %d", i)
		}
	}

	root, err := scanRoot(batch)
	if err != nil {
		return types.Hash{}, err
	}
	if err := s.knobs.beforePublish(root); err != nil {
		return types.Hash{}, errors.Wrap(err, "publish commit")
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return types.Hash{}, errors.Wrap(err, "commit batch")
	}
	s.root = root
	return root, nil
}

// Get implements Store.
func (s *PebbleStore) Get(key types.Hash) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	return pebbleGet(s.db, key)
}

// Root implements Store.
func (s *PebbleStore) Root() types.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Close implements Store.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *PebbleStore) computeRoot() (types.Hash, error) {
	return scanRoot(s.db)
}

type iterable interface {
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// scanRoot hashes every live entry visible through r. It costs a full
// scan of the state per call.
// TODO: maintain the root incrementally from the committed writes once
// the state outgrows a full scan per block.
func scanRoot(r iterable) (types.Hash, error) {
	iter, err := r.NewIter(nil)
	if err != nil {
		return types.Hash{}, errors.Wrap(err, "open iterator")
	}
	root := computeRoot(func(yield func(k, v []byte) bool) {
		for iter.First(); iter.Valid(); iter.Next() {
			if !yield(iter.Key(), iter.Value()) {
				return
			}
		}
	})
	if err := iter.Close(); err != nil {
		return types.Hash{}, errors.Wrap(err, "scan state")
	}
	return root, nil
}

type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func pebbleGet(r reader, key types.Hash) ([]byte, bool, error) {
	v, closer, err := r.Get(key[:])
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", key.Short())
	}
	defer closer.Close()
	return cloneBytes(v), true, nil
}

type pebbleSnapshot struct {
	mu   sync.RWMutex
	snap *pebble.Snapshot
}

func (s *pebbleSnapshot) Get(key types.Hash) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, false, ErrSnapshotReleased
	}
	return pebbleGet(s.snap, key)
}

func (s *pebbleSnapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		_ = s.snap.Close()
		s.snap = nil
	}
}

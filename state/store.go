// Package state provides the world-state stores the scheduler reads
// snapshots from and commits confirmed writes to.
package state

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/sha3"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

var (
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("state store is closed")
	// ErrSnapshotReleased is returned by reads on a released snapshot.
	ErrSnapshotReleased = errors.New("snapshot is released")
)

// Snapshot is a read-only, point-in-time view of the state. It is safe for
// concurrent reads and is unaffected by later commits.
type Snapshot interface {
	// Get returns the value of key and whether it exists.
	Get(key types.Hash) ([]byte, bool, error)
	// Release frees resources held by the snapshot.
	Release()
}

// Store is the world state.
type Store interface {
	// Snapshot returns a consistent view of the current state.
	Snapshot() (Snapshot, error)
	// Commit applies writes in order as one atomic unit and returns the new
	// state root. On error nothing is applied.
	Commit(writes []types.Write) (types.Hash, error)
	// Get reads the latest committed value of key.
	Get(key types.Hash) ([]byte, bool, error)
	// Root returns the current state root.
	Root() types.Hash
	// Close releases the store.
	Close() error
}

// TestingKnobs inject faults into store operations.
type TestingKnobs struct {
	// BeforeApply is called for every staged write during Commit. A
	// non-nil error aborts the whole commit.
	BeforeApply func(index int, w types.Write) error
	// BeforePublish is called with the new root after every write is
	// staged and before the commit becomes visible.
	BeforePublish func(root types.Hash) error
}

func (k *TestingKnobs) beforeApply(i int, w types.Write) error {
	if k == nil || k.BeforeApply == nil {
		return nil
	}
	return k.BeforeApply(i, w)
}

func (k *TestingKnobs) beforePublish(root types.Hash) error {
	if k == nil || k.BeforePublish == nil {
		return nil
	}
	return k.BeforePublish(root)
}

// EmptyRoot is the root of a state with no keys.
var EmptyRoot = computeRoot(func(func(k, v []byte) bool) {})

// computeRoot hashes every (key, value) pair visited by scan. scan must
// visit keys in ascending byte order for the root to be canonical.
func computeRoot(scan func(yield func(k, v []byte) bool)) types.Hash {
	d := sha3.NewLegacyKeccak256()
	var lenBuf [4]byte
	scan(func(k, v []byte) bool {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		d.Write(lenBuf[:])
		d.Write(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		d.Write(lenBuf[:])
		d.Write(v)
		return true
	})
	var h types.Hash
	d.Sum(h[:0])
	return h
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package state

import "github.com/cockroachdb/errors"

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
)

// Open creates a store for the named backend. path is only used by the
// pebble backend; an empty path keeps pebble in memory.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendPebble:
		return OpenPebble(path)
	default:
		return nil, errors.Newf("unknown state backend %q", backend)
	}
}

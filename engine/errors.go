package engine

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

var (
	// ErrInvalidBlock is returned for malformed blocks before any work is done.
	ErrInvalidBlock = errors.New("invalid block")
	// ErrMaxRetriesExceeded is matched by MaxRetriesError.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// MaxRetriesError reports that conflict resolution did not settle within
// the configured number of rounds. Nothing was committed.
type MaxRetriesError struct {
	// TxHash is the highest-priority transaction still unsettled.
	TxHash types.Hash
	// Attempts is how many times that transaction was executed.
	Attempts int
	// Rounds is the number of re-execution rounds performed.
	Rounds int
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("max retries exceeded: tx %s unsettled after %d attempts (%d rounds)",
		e.TxHash.Hex(), e.Attempts, e.Rounds)
}

// Is makes errors.Is(err, ErrMaxRetriesExceeded) match.
func (e *MaxRetriesError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// StateError wraps a failure of the state store. Nothing was committed.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.Op, e.Err)
}

// Unwrap returns the store error.
func (e *StateError) Unwrap() error { return e.Err }

func invalidBlock(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidBlock)
}

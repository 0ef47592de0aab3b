package engine

import (
	"context"

	"github.com/VanDung-dev/Seamless-Engine/state"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

// Executor runs one transaction against a snapshot. It must be safe for
// concurrent use and deterministic: the same transaction against the same
// snapshot yields the same read-write set and result. A logical failure
// is reported as a failed result, not an error.
type Executor interface {
	Execute(ctx context.Context, tx *types.Transaction, snap state.Snapshot) (*types.RWSet, types.ExecutionResult)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, tx *types.Transaction, snap state.Snapshot) (*types.RWSet, types.ExecutionResult)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, tx *types.Transaction, snap state.Snapshot) (*types.RWSet, types.ExecutionResult) {
	return f(ctx, tx, snap)
}

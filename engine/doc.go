// Package engine schedules the transactions of a block for parallel
// execution. It implements:
//   - the optimistic scheduler with its ownership-based conflict resolution
//   - a bounded worker pool that runs each scheduling phase
//   - a mempool and block builder feeding blocks to the scheduler
package engine

package engine

import (
	"sort"
	"time"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// ExecutedTransaction is a transaction with its latest execution outcome.
type ExecutedTransaction struct {
	Transaction *types.Transaction
	Priority    types.PriorityCode
	RWSet       *types.RWSet
	Result      types.ExecutionResult
	// Attempts counts executions, including the optimistic one.
	Attempts int

	hash types.Hash
}

// Hash returns the transaction hash.
func (e *ExecutedTransaction) Hash() types.Hash { return e.hash }

func sortByPriority(txs []*ExecutedTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Priority.Compare(txs[j].Priority) < 0
	})
}

// ScheduleStats describes the work done for one block.
type ScheduleStats struct {
	Transactions int           `json:"transactions"`
	Executions   int           `json:"executions"`
	Aborts       int           `json:"aborts"`
	Failed       int           `json:"failed"`
	Rounds       int           `json:"rounds"`
	Duration     time.Duration `json:"duration"`
	// Dependencies describes the read-write dependency graph of the
	// confirmed transactions in commit order.
	Dependencies DependencyStats `json:"dependencies"`
}

// ParallelismRatio returns confirmed transactions per dependency batch.
func (s ScheduleStats) ParallelismRatio() float64 {
	return s.Dependencies.ParallelismRatio(s.Transactions)
}

// ScheduleResult is the outcome of scheduling a block.
type ScheduleResult struct {
	// Confirmed holds every transaction in final priority order.
	Confirmed []*ExecutedTransaction
	BlockHash types.Hash
	StateRoot types.Hash
	// ReexecutionRounds is the number of rounds in which aborted
	// transactions were re-executed.
	ReexecutionRounds int
	Stats             ScheduleStats
}

// Writes gathers the writes of all confirmed transactions in order.
func (r *ScheduleResult) Writes() []types.Write {
	n := 0
	for _, tx := range r.Confirmed {
		n += len(tx.RWSet.Writes())
	}
	writes := make([]types.Write, 0, n)
	for _, tx := range r.Confirmed {
		writes = append(writes, tx.RWSet.Writes()...)
	}
	return writes
}

// Hashes returns the confirmed transaction hashes in order.
func (r *ScheduleResult) Hashes() []types.Hash {
	out := make([]types.Hash, len(r.Confirmed))
	for i, tx := range r.Confirmed {
		out[i] = tx.Hash()
	}
	return out
}

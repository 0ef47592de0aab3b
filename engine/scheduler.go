package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/VanDung-dev/Seamless-Engine/ownership"
	"github.com/VanDung-dev/Seamless-Engine/state"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

// Recorder receives the statistics of every Schedule call.
type Recorder interface {
	RecordSchedule(stats ScheduleStats, err error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithRecorder sets the statistics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// Scheduler executes the transactions of a block in parallel and resolves
// their conflicts so the committed outcome follows the priority order of
// the transactions.
//
// Every transaction first executes optimistically against one snapshot and
// claims its write keys. Claims are decided by priority code, so each key
// ends up owned by its highest-priority writer. A transaction is confirmed
// once no key it touches is owned by a higher-priority transaction;
// confirmed transactions release their keys and the rest re-execute and
// claim again. The highest-priority unsettled transaction is always
// confirmed, so every round makes progress.
type Scheduler struct {
	config   Config
	pool     *WorkerPool
	logger   *zap.Logger
	recorder Recorder
}

// NewScheduler creates a scheduler and starts its worker pool.
func NewScheduler(config Config, opts ...Option) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "scheduler config")
	}
	s := &Scheduler{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewWorkerPool("scheduler", config.Workers)
	return s, nil
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config { return s.config }

// PoolStats returns statistics of the execution pool.
func (s *Scheduler) PoolStats() PoolStats { return s.pool.GetStats() }

// Close stops the worker pool. Schedule must not be running.
func (s *Scheduler) Close() { s.pool.Shutdown() }

// Schedule executes block against a snapshot of store, resolves conflicts
// and commits the confirmed writes to store in one atomic step.
//
// It panics if store or exec is nil.
func (s *Scheduler) Schedule(ctx context.Context, block *types.Block, store state.Store, exec Executor) (*ScheduleResult, error) {
	if store == nil || exec == nil {
		panic(errors.AssertionFailedf("schedule requires a state store and an executor"))
	}

	start := time.Now()
	res, stats, err := s.schedule(ctx, block, store, exec)
	stats.Duration = time.Since(start)
	if res != nil {
		res.Stats = stats
	}
	if s.recorder != nil {
		s.recorder.RecordSchedule(stats, err)
	}
	return res, err
}

func (s *Scheduler) schedule(ctx context.Context, block *types.Block, store state.Store, exec Executor) (*ScheduleResult, ScheduleStats, error) {
	var stats ScheduleStats

	hashes, err := s.validate(block)
	if err != nil {
		return nil, stats, err
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	stats.Transactions = len(hashes)

	snap, err := store.Snapshot()
	if err != nil {
		return nil, stats, &StateError{Op: "snapshot", Err: err}
	}
	defer snap.Release()

	p := &pass{
		block:  block,
		snap:   snap,
		exec:   exec,
		table:  ownership.NewTableWithShards(s.config.OwnershipShards),
		pool:   s.pool,
		logger: s.logger.With(zap.Uint64("height", block.Height)),
	}

	pending, err := p.optimistic(ctx, hashes)
	if err != nil {
		return nil, stats, err
	}

	confirmed := make([]*ExecutedTransaction, 0, len(pending))
	rounds := 0
	for {
		ready, aborted, err := p.partition(ctx, pending)
		if err != nil {
			return nil, stats, err
		}
		if err := p.release(ctx, ready); err != nil {
			return nil, stats, err
		}
		confirmed = append(confirmed, ready...)
		stats.Aborts += len(aborted)

		p.logger.Debug("resolution round",
			zap.Int("round", rounds),
			zap.Int("confirmed", len(ready)),
			zap.Int("aborted", len(aborted)))

		if len(aborted) == 0 {
			break
		}
		if rounds >= s.config.MaxRetries {
			sortByPriority(aborted)
			head := aborted[0]
			p.logger.Warn("conflict resolution did not converge",
				zap.Int("rounds", rounds),
				zap.Int("unsettled", len(aborted)),
				zap.Stringer("tx", head.Hash()))
			stats.Rounds = rounds
			stats.Executions = countExecutions(confirmed, aborted)
			return nil, stats, &MaxRetriesError{TxHash: head.Hash(), Attempts: head.Attempts, Rounds: rounds}
		}

		rounds++
		if err := p.reexecute(ctx, aborted); err != nil {
			return nil, stats, err
		}
		pending = aborted
	}

	sortByPriority(confirmed)
	stats.Rounds = rounds
	stats.Executions = countExecutions(confirmed, nil)
	stats.Dependencies = analyzeDependencies(confirmed)
	for _, tx := range confirmed {
		if !tx.Result.IsSuccess() {
			stats.Failed++
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	res := &ScheduleResult{
		Confirmed:         confirmed,
		BlockHash:         block.Hash(),
		ReexecutionRounds: rounds,
	}
	root, err := store.Commit(res.Writes())
	if err != nil {
		return nil, stats, &StateError{Op: "commit", Err: err}
	}
	res.StateRoot = root

	p.logger.Info("block scheduled",
		zap.Int("transactions", len(confirmed)),
		zap.Int("rounds", rounds),
		zap.Int("executions", stats.Executions),
		zap.Int("failed", stats.Failed),
		zap.Int("dependency_edges", stats.Dependencies.Edges),
		zap.Int("batches", stats.Dependencies.Batches),
		zap.Int("max_parallelism", stats.Dependencies.MaxParallelism),
		zap.Stringer("state_root", root))
	return res, stats, nil
}

// validate checks the block and returns the transaction hashes.
func (s *Scheduler) validate(block *types.Block) ([]types.Hash, error) {
	if block == nil {
		return nil, invalidBlock("nil block")
	}
	if len(block.Transactions) == 0 && !s.config.AllowEmptyBlocks {
		return nil, invalidBlock("block %d has no transactions", block.Height)
	}

	hashes := make([]types.Hash, len(block.Transactions))
	seen := make(map[types.Hash]int, len(block.Transactions))
	for i, tx := range block.Transactions {
		if tx == nil {
			return nil, invalidBlock("block %d: transaction %d is nil", block.Height, i)
		}
		h := tx.Hash()
		if j, dup := seen[h]; dup {
			return nil, invalidBlock("block %d: transaction %d duplicates transaction %d (%s)", block.Height, i, j, h.Short())
		}
		seen[h] = i
		hashes[i] = h
	}
	return hashes, nil
}

func countExecutions(groups ...[]*ExecutedTransaction) int {
	n := 0
	for _, g := range groups {
		for _, tx := range g {
			n += tx.Attempts
		}
	}
	return n
}

// pass holds the state of one Schedule call.
type pass struct {
	block  *types.Block
	snap   state.Snapshot
	exec   Executor
	table  *ownership.Table
	pool   *WorkerPool
	logger *zap.Logger
}

// optimistic executes every transaction once and records its claims.
func (p *pass) optimistic(ctx context.Context, hashes []types.Hash) ([]*ExecutedTransaction, error) {
	digest := p.block.TransactionsHash()
	executed := make([]*ExecutedTransaction, len(hashes))

	err := p.pool.RunBatch(ctx, "optimistic", len(hashes), func(ctx context.Context, i int) error {
		et := &ExecutedTransaction{
			Transaction: p.block.Transactions[i],
			Priority:    types.DerivePriorityCode(p.block.Height, hashes[i], digest),
			hash:        hashes[i],
		}
		p.execute(ctx, et)
		p.claim(et)
		executed[i] = et
		return nil
	})
	if err != nil {
		return nil, err
	}
	return executed, nil
}

// execute runs the executor and stores its outcome on et. A panicking
// executor yields a failed result with no accesses.
func (p *pass) execute(ctx context.Context, et *ExecutedTransaction) {
	et.Attempts++
	defer func() {
		if r := recover(); r != nil {
			et.RWSet = types.NewRWSet()
			et.Result = types.Failed("executor panic: " + panicToString(r))
			p.logger.Warn("executor panicked", zap.Stringer("tx", et.hash), zap.Any("panic", r))
		}
	}()

	rw, result := p.exec.Execute(ctx, et.Transaction, p.snap)
	if rw == nil {
		rw = types.NewRWSet()
	}
	et.RWSet = rw
	et.Result = result
}

// claim tries to take ownership of every key et writes.
func (p *pass) claim(et *ExecutedTransaction) {
	for _, k := range et.RWSet.WriteKeys() {
		p.table.GetOrCreate(k).TrySetOwner(et.Priority)
	}
}

// eligible reports whether no key et touches is owned by a higher
// priority transaction. Keys nobody claimed are free.
func (p *pass) eligible(et *ExecutedTransaction) bool {
	for _, k := range et.RWSet.AllKeys() {
		if e, ok := p.table.Get(k); ok && !e.CheckOwnership(et.Priority) {
			return false
		}
	}
	return true
}

// partition splits pending into confirmed transactions, sorted by
// priority, and aborted ones in their original order.
func (p *pass) partition(ctx context.Context, pending []*ExecutedTransaction) (ready, aborted []*ExecutedTransaction, err error) {
	ok := make([]bool, len(pending))
	err = p.pool.RunBatch(ctx, "partition", len(pending), func(_ context.Context, i int) error {
		ok[i] = p.eligible(pending[i])
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for i, et := range pending {
		if ok[i] {
			ready = append(ready, et)
		} else {
			aborted = append(aborted, et)
		}
	}
	sortByPriority(ready)
	return ready, aborted, nil
}

// release frees the write keys of confirmed transactions.
func (p *pass) release(ctx context.Context, ready []*ExecutedTransaction) error {
	return p.pool.RunBatch(ctx, "release", len(ready), func(_ context.Context, i int) error {
		p.table.ReleaseAll(ready[i].RWSet.WriteKeys())
		return nil
	})
}

// reexecute runs aborted transactions again against the same snapshot.
// Claims on keys a transaction no longer writes are dropped before the
// new write set is claimed, and claiming only starts once every
// re-execution finished so ownership does not depend on timing.
func (p *pass) reexecute(ctx context.Context, aborted []*ExecutedTransaction) error {
	err := p.pool.RunBatch(ctx, "reexecute", len(aborted), func(ctx context.Context, i int) error {
		et := aborted[i]
		previous := et.RWSet.WriteKeys()
		p.execute(ctx, et)
		p.dropStaleClaims(et, previous)
		return nil
	})
	if err != nil {
		return err
	}

	return p.pool.RunBatch(ctx, "claim", len(aborted), func(_ context.Context, i int) error {
		p.claim(aborted[i])
		return nil
	})
}

func (p *pass) dropStaleClaims(et *ExecutedTransaction, previous []types.Hash) {
	if len(previous) == 0 {
		return
	}
	current := make(map[types.Hash]struct{}, len(previous))
	for _, k := range et.RWSet.WriteKeys() {
		current[k] = struct{}{}
	}
	for _, k := range previous {
		if _, still := current[k]; still {
			continue
		}
		if e, ok := p.table.Get(k); ok {
			e.ReleaseIfOwner(et.Priority)
		}
	}
}

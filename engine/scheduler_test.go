package engine

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/Seamless-Engine/state"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

// scriptedExecutor reads and writes fixed keys per transaction nonce and
// writes the nonce as the value.
type scriptedExecutor struct {
	mu     sync.Mutex
	calls  map[uint64]int
	reads  map[uint64][]types.Hash
	writes map[uint64][]types.Hash
	fail   map[uint64]string
	panics map[uint64]bool
	before func(tx *types.Transaction, call int)
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		calls:  make(map[uint64]int),
		reads:  make(map[uint64][]types.Hash),
		writes: make(map[uint64][]types.Hash),
		fail:   make(map[uint64]string),
		panics: make(map[uint64]bool),
	}
}

func (e *scriptedExecutor) Execute(_ context.Context, tx *types.Transaction, snap state.Snapshot) (*types.RWSet, types.ExecutionResult) {
	e.mu.Lock()
	e.calls[tx.Nonce]++
	call := e.calls[tx.Nonce]
	e.mu.Unlock()

	if e.before != nil {
		e.before(tx, call)
	}
	if e.panics[tx.Nonce] {
		panic("boom")
	}

	rw := types.NewRWSet()
	for _, k := range e.reads[tx.Nonce] {
		_, _, _ = snap.Get(k)
		rw.RecordRead(k)
	}
	for _, k := range e.writes[tx.Nonce] {
		rw.RecordWrite(k, nonceValue(tx.Nonce))
	}
	if reason, ok := e.fail[tx.Nonce]; ok {
		return rw, types.Failed(reason)
	}
	return rw, types.Succeeded(nil)
}

func (e *scriptedExecutor) callCount(nonce uint64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[nonce]
}

func (e *scriptedExecutor) totalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

func nonceValue(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func stateKey(b byte) types.Hash {
	var h types.Hash
	h[0] = 0xee
	h[31] = b
	return h
}

func makeBlock(height uint64, n int) *types.Block {
	txs := make([]*types.Transaction, n)
	for i := range txs {
		from := types.BytesToAddress([]byte{byte(i + 1)})
		txs[i] = types.NewTransaction(uint64(i), from, types.Address{}, 0, nil)
	}
	return types.NewBlock(height, types.Hash{}, txs, 1_700_000_000)
}

func priorityOf(block *types.Block, tx *types.Transaction) types.PriorityCode {
	return types.DerivePriorityCode(block.Height, tx.Hash(), block.TransactionsHash())
}

// byPriority returns the block's transactions from highest to lowest priority.
func byPriority(block *types.Block) []*types.Transaction {
	out := append([]*types.Transaction(nil), block.Transactions...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && priorityOf(block, out[j]).Outranks(priorityOf(block, out[j-1])); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func newTestScheduler(t testing.TB, mutate func(*Config)) *Scheduler {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func requireSortedByPriority(t *testing.T, res *ScheduleResult) {
	t.Helper()
	for i := 1; i < len(res.Confirmed); i++ {
		require.True(t, res.Confirmed[i-1].Priority.Outranks(res.Confirmed[i].Priority),
			"confirmed[%d] should outrank confirmed[%d]", i-1, i)
	}
}

func TestScheduleIndependentTransactions(t *testing.T) {
	s := newTestScheduler(t, nil)
	block := makeBlock(1, 10)
	exec := newScriptedExecutor()
	for i := 0; i < 10; i++ {
		exec.writes[uint64(i)] = []types.Hash{stateKey(byte(i))}
	}
	store := state.NewMemoryStore()

	res, err := s.Schedule(context.Background(), block, store, exec)
	require.NoError(t, err)
	require.Len(t, res.Confirmed, 10)
	require.Equal(t, 0, res.ReexecutionRounds)
	require.Equal(t, 10, exec.totalCalls())
	require.Equal(t, DependencyStats{Edges: 0, Batches: 1, MaxParallelism: 10}, res.Stats.Dependencies)
	require.Equal(t, block.Hash(), res.BlockHash)
	require.Equal(t, store.Root(), res.StateRoot)
	requireSortedByPriority(t, res)

	for i, tx := range byPriority(block) {
		require.Equal(t, tx.Hash(), res.Confirmed[i].Hash())
		require.True(t, res.Confirmed[i].Result.IsSuccess())
		require.Equal(t, 1, res.Confirmed[i].Attempts)
	}

	v, ok, err := store.Get(stateKey(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nonceValue(3), v)
}

// Two transactions at height 10 write the same key. The higher priority
// one finishes executing last, yet it is confirmed first and the lower one
// is re-executed once.
func TestScheduleConflictingPairFollowsPriority(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.Workers = 2 })
	block := makeBlock(10, 2)
	ordered := byPriority(block)
	tx1, tx2 := ordered[0], ordered[1]

	exec := newScriptedExecutor()
	exec.writes[tx1.Nonce] = []types.Hash{stateKey(0xaa)}
	exec.writes[tx2.Nonce] = []types.Hash{stateKey(0xaa)}

	tx2Done := make(chan struct{})
	var once sync.Once
	exec.before = func(tx *types.Transaction, call int) {
		switch tx.Nonce {
		case tx1.Nonce:
			<-tx2Done
			time.Sleep(10 * time.Millisecond)
		case tx2.Nonce:
			once.Do(func() { close(tx2Done) })
		}
	}

	store := state.NewMemoryStore()
	res, err := s.Schedule(context.Background(), block, store, exec)
	require.NoError(t, err)

	require.Equal(t, []types.Hash{tx1.Hash(), tx2.Hash()}, res.Hashes())
	require.Equal(t, 1, res.ReexecutionRounds)
	require.Equal(t, 1, exec.callCount(tx1.Nonce))
	require.Equal(t, 2, exec.callCount(tx2.Nonce))
	require.Equal(t, 2, res.Confirmed[1].Attempts)

	// Writes apply in priority order, so the lower priority write is last.
	v, _, err := store.Get(stateKey(0xaa))
	require.NoError(t, err)
	require.Equal(t, nonceValue(tx2.Nonce), v)
}

func TestScheduleReadOfHigherPriorityWriteAborts(t *testing.T) {
	s := newTestScheduler(t, nil)
	block := makeBlock(3, 2)
	ordered := byPriority(block)
	high, low := ordered[0], ordered[1]

	exec := newScriptedExecutor()
	exec.writes[high.Nonce] = []types.Hash{stateKey(1)}
	exec.reads[low.Nonce] = []types.Hash{stateKey(1)}

	res, err := s.Schedule(context.Background(), block, state.NewMemoryStore(), exec)
	require.NoError(t, err)
	require.Equal(t, 1, res.ReexecutionRounds)
	require.Equal(t, 2, exec.callCount(low.Nonce))
	require.Equal(t, []types.Hash{high.Hash(), low.Hash()}, res.Hashes())
}

func TestScheduleReadOfLowerPriorityWriteDoesNotAbort(t *testing.T) {
	s := newTestScheduler(t, nil)
	block := makeBlock(3, 2)
	ordered := byPriority(block)
	high, low := ordered[0], ordered[1]

	exec := newScriptedExecutor()
	exec.reads[high.Nonce] = []types.Hash{stateKey(1)}
	exec.writes[low.Nonce] = []types.Hash{stateKey(1)}

	res, err := s.Schedule(context.Background(), block, state.NewMemoryStore(), exec)
	require.NoError(t, err)
	require.Equal(t, 0, res.ReexecutionRounds)
	require.Equal(t, 2, exec.totalCalls())
}

func TestScheduleHotKeyConvergesOneRoundPerTransaction(t *testing.T) {
	const n = 5
	block := makeBlock(7, n)
	newExec := func() *scriptedExecutor {
		exec := newScriptedExecutor()
		for i := 0; i < n; i++ {
			exec.writes[uint64(i)] = []types.Hash{stateKey(0x01)}
		}
		return exec
	}

	s := newTestScheduler(t, func(c *Config) { c.MaxRetries = n - 1 })
	res, err := s.Schedule(context.Background(), block, state.NewMemoryStore(), newExec())
	require.NoError(t, err)
	require.Equal(t, n-1, res.ReexecutionRounds)
	require.Equal(t, n-1, res.Stats.Rounds)
	require.Equal(t, DependencyStats{Edges: n * (n - 1) / 2, Batches: n, MaxParallelism: 1}, res.Stats.Dependencies)
	require.Equal(t, 1.0, res.Stats.ParallelismRatio())
	requireSortedByPriority(t, res)
}

func TestScheduleMaxRetriesExceeded(t *testing.T) {
	block := makeBlock(7, 5)
	exec := newScriptedExecutor()
	for i := 0; i < 5; i++ {
		exec.writes[uint64(i)] = []types.Hash{stateKey(0x01)}
	}
	store := state.NewMemoryStore()
	rootBefore := store.Root()

	s := newTestScheduler(t, func(c *Config) { c.MaxRetries = 2 })
	res, err := s.Schedule(context.Background(), block, store, exec)
	require.Nil(t, res)
	require.True(t, errors.Is(err, ErrMaxRetriesExceeded))

	var mre *MaxRetriesError
	require.True(t, errors.As(err, &mre))
	require.Equal(t, 2, mre.Rounds)
	// Three transactions settled (one per partition), the fourth is next.
	require.Equal(t, byPriority(block)[3].Hash(), mre.TxHash)
	require.Equal(t, 3, mre.Attempts)
	require.Equal(t, rootBefore, store.Root(), "nothing is committed")
}

func TestScheduleZeroRetriesRejectsAnyConflict(t *testing.T) {
	block := makeBlock(1, 2)
	exec := newScriptedExecutor()
	exec.writes[0] = []types.Hash{stateKey(9)}
	exec.writes[1] = []types.Hash{stateKey(9)}

	s := newTestScheduler(t, func(c *Config) { c.MaxRetries = 0 })
	_, err := s.Schedule(context.Background(), block, state.NewMemoryStore(), exec)

	var mre *MaxRetriesError
	require.True(t, errors.As(err, &mre))
	require.Equal(t, byPriority(block)[1].Hash(), mre.TxHash)
	require.Equal(t, 1, mre.Attempts)
}

func TestScheduleFailedResultIsConfirmed(t *testing.T) {
	s := newTestScheduler(t, nil)
	block := makeBlock(2, 3)
	exec := newScriptedExecutor()
	exec.fail[1] = "insufficient balance"

	res, err := s.Schedule(context.Background(), block, state.NewMemoryStore(), exec)
	require.NoError(t, err)
	require.Len(t, res.Confirmed, 3)
	require.Equal(t, 1, res.Stats.Failed)

	for _, tx := range res.Confirmed {
		if tx.Transaction.Nonce == 1 {
			require.False(t, tx.Result.IsSuccess())
			require.Equal(t, "insufficient balance", tx.Result.Reason)
		} else {
			require.True(t, tx.Result.IsSuccess())
		}
	}
}

func TestScheduleExecutorPanicBecomesFailedResult(t *testing.T) {
	s := newTestScheduler(t, nil)
	block := makeBlock(2, 2)
	exec := newScriptedExecutor()
	exec.panics[0] = true
	exec.writes[1] = []types.Hash{stateKey(1)}

	res, err := s.Schedule(context.Background(), block, state.NewMemoryStore(), exec)
	require.NoError(t, err)
	require.Len(t, res.Confirmed, 2)
	for _, tx := range res.Confirmed {
		if tx.Transaction.Nonce == 0 {
			require.False(t, tx.Result.IsSuccess())
			require.Contains(t, tx.Result.Reason, "boom")
			require.True(t, tx.RWSet.IsEmpty())
		}
	}
}

func TestScheduleInvalidBlock(t *testing.T) {
	s := newTestScheduler(t, nil)
	exec := newScriptedExecutor()
	store := state.NewMemoryStore()

	dup := makeBlock(1, 2)
	dup.Transactions[1] = dup.Transactions[0]
	withNil := makeBlock(1, 2)
	withNil.Transactions[1] = nil

	cases := map[string]*types.Block{
		"nil":       nil,
		"empty":     types.NewBlock(1, types.Hash{}, nil, 0),
		"duplicate": dup,
		"nil tx":    withNil,
	}
	for name, block := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := s.Schedule(context.Background(), block, store, exec)
			require.Nil(t, res)
			require.True(t, errors.Is(err, ErrInvalidBlock), "got %v", err)
		})
	}
	require.Equal(t, 0, exec.totalCalls())
}

func TestScheduleEmptyBlockAllowed(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.AllowEmptyBlocks = true })
	store := state.NewMemoryStore()
	block := types.NewBlock(4, types.Hash{}, nil, 0)

	res, err := s.Schedule(context.Background(), block, store, newScriptedExecutor())
	require.NoError(t, err)
	require.Empty(t, res.Confirmed)
	require.Equal(t, state.EmptyRoot, res.StateRoot)
	require.Equal(t, block.Hash(), res.BlockHash)
}

func TestScheduleCommitFailureLeavesStateUntouched(t *testing.T) {
	s := newTestScheduler(t, nil)
	block := makeBlock(5, 4)
	exec := newScriptedExecutor()
	for i := 0; i < 4; i++ {
		exec.writes[uint64(i)] = []types.Hash{stateKey(byte(i))}
	}

	store := state.NewMemoryStore()
	injected := errors.New("disk full")
	store.SetTestingKnobs(&state.TestingKnobs{
		BeforeApply: func(i int, _ types.Write) error {
			if i == 3 {
				return injected
			}
			return nil
		},
	})

	res, err := s.Schedule(context.Background(), block, store, exec)
	require.Nil(t, res)
	var se *StateError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "commit", se.Op)
	require.True(t, errors.Is(err, injected))
	require.Equal(t, state.EmptyRoot, store.Root())
	require.Equal(t, 0, store.Len())
}

func TestScheduleSnapshotFailure(t *testing.T) {
	s := newTestScheduler(t, nil)
	store := state.NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := s.Schedule(context.Background(), makeBlock(1, 1), store, newScriptedExecutor())
	var se *StateError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "snapshot", se.Op)
	require.True(t, errors.Is(err, state.ErrStoreClosed))
}

func TestScheduleCancelledContext(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newScriptedExecutor()
	_, err := s.Schedule(ctx, makeBlock(1, 3), state.NewMemoryStore(), exec)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 0, exec.totalCalls())
}

func TestSchedulePanicsWithoutStore(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.Panics(t, func() {
		_, _ = s.Schedule(context.Background(), makeBlock(1, 1), nil, newScriptedExecutor())
	})
}

type recordingRecorder struct {
	mu    sync.Mutex
	stats []ScheduleStats
	errs  []error
}

func (r *recordingRecorder) RecordSchedule(stats ScheduleStats, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, stats)
	r.errs = append(r.errs, err)
}

func TestScheduleRecordsStats(t *testing.T) {
	rec := &recordingRecorder{}
	s, err := NewScheduler(DefaultConfig(), WithRecorder(rec))
	require.NoError(t, err)
	defer s.Close()

	block := makeBlock(1, 3)
	exec := newScriptedExecutor()
	for i := 0; i < 3; i++ {
		exec.writes[uint64(i)] = []types.Hash{stateKey(1)}
	}
	res, err := s.Schedule(context.Background(), block, state.NewMemoryStore(), exec)
	require.NoError(t, err)

	require.Len(t, rec.stats, 1)
	got := rec.stats[0]
	require.NoError(t, rec.errs[0])
	require.Equal(t, 3, got.Transactions)
	require.Equal(t, 2, got.Rounds)
	require.Equal(t, exec.totalCalls(), got.Executions)
	require.Equal(t, 3, got.Aborts) // two in the first partition, one in the second
	require.Equal(t, res.Stats, got)
}

func TestNewSchedulerRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err := NewScheduler(cfg)
	require.Error(t, err)
}

type randomWorkload struct {
	block *types.Block
	reads map[uint64][]types.Hash
	write map[uint64][]types.Hash
}

func newRandomWorkload(seed int64, txs, keys int) randomWorkload {
	rng := rand.New(rand.NewSource(seed))
	w := randomWorkload{
		block: makeBlock(42, txs),
		reads: make(map[uint64][]types.Hash),
		write: make(map[uint64][]types.Hash),
	}
	for i := 0; i < txs; i++ {
		for r := rng.Intn(3); r > 0; r-- {
			w.reads[uint64(i)] = append(w.reads[uint64(i)], stateKey(byte(rng.Intn(keys))))
		}
		for r := 1 + rng.Intn(2); r > 0; r-- {
			w.write[uint64(i)] = append(w.write[uint64(i)], stateKey(byte(rng.Intn(keys))))
		}
	}
	return w
}

func (w randomWorkload) executor() *scriptedExecutor {
	exec := newScriptedExecutor()
	exec.reads = w.reads
	exec.writes = w.write
	return exec
}

func TestScheduleDeterministicAcrossWorkerCounts(t *testing.T) {
	w := newRandomWorkload(1, 60, 12)

	var (
		wantOrder  []types.Hash
		wantRoot   types.Hash
		wantRounds int
	)
	for _, workers := range []int{1, 2, 4, 8} {
		for rep := 0; rep < 3; rep++ {
			s := newTestScheduler(t, func(c *Config) { c.Workers = workers })
			res, err := s.Schedule(context.Background(), w.block, state.NewMemoryStore(), w.executor())
			require.NoError(t, err)
			requireSortedByPriority(t, res)

			if wantOrder == nil {
				wantOrder, wantRoot, wantRounds = res.Hashes(), res.StateRoot, res.ReexecutionRounds
				continue
			}
			require.Equal(t, wantOrder, res.Hashes(), "workers=%d rep=%d", workers, rep)
			require.Equal(t, wantRoot, res.StateRoot, "workers=%d rep=%d", workers, rep)
			require.Equal(t, wantRounds, res.ReexecutionRounds, "workers=%d rep=%d", workers, rep)
		}
	}
}

func TestScheduleCommitsInPriorityOrder(t *testing.T) {
	w := newRandomWorkload(7, 40, 6)
	s := newTestScheduler(t, nil)
	store := state.NewMemoryStore()

	res, err := s.Schedule(context.Background(), w.block, store, w.executor())
	require.NoError(t, err)

	// Applying every transaction's writes one by one in priority order
	// must give the same root.
	expected := state.NewMemoryStore()
	for _, tx := range byPriority(w.block) {
		var writes []types.Write
		for _, k := range w.write[tx.Nonce] {
			writes = append(writes, types.Write{Key: k, Value: nonceValue(tx.Nonce)})
		}
		_, err := expected.Commit(writes)
		require.NoError(t, err)
	}
	require.Equal(t, expected.Root(), res.StateRoot)
}

func TestScheduleSameRootOnPebble(t *testing.T) {
	w := newRandomWorkload(3, 30, 8)
	s := newTestScheduler(t, nil)

	mem := state.NewMemoryStore()
	peb, err := state.OpenPebble("")
	require.NoError(t, err)
	defer peb.Close()

	r1, err := s.Schedule(context.Background(), w.block, mem, w.executor())
	require.NoError(t, err)
	r2, err := s.Schedule(context.Background(), w.block, peb, w.executor())
	require.NoError(t, err)
	require.Equal(t, r1.StateRoot, r2.StateRoot)
}

func BenchmarkScheduleContended(b *testing.B) {
	w := newRandomWorkload(11, 200, 32)
	s := newTestScheduler(b, func(c *Config) { c.Workers = 8 })
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Schedule(context.Background(), w.block, state.NewMemoryStore(), w.executor()); err != nil {
			b.Fatal(err)
		}
	}
}

package engine

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/btree"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// Common errors for mempool operations
var (
	ErrMempoolFull     = errors.New("mempool is full")
	ErrTxAlreadyExists = errors.New("transaction already exists")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrInvalidTx       = errors.New("invalid transaction")
)

// PendingTx is a transaction waiting in the mempool.
type PendingTx struct {
	Tx       *types.Transaction `json:"tx"`
	Hash     types.Hash         `json:"hash"`
	Priority int                `json:"priority"`
	AddedAt  time.Time          `json:"added_at"`

	seq uint64
}

// releasedBefore orders pending transactions by release: higher priority
// first, then arrival.
func releasedBefore(a, b *PendingTx) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

// Mempool holds pending transactions until they are sealed into a block.
// The order it releases them in becomes the block order. When full, a
// new transaction evicts the last one in release order if it would be
// released before it.
type Mempool struct {
	byHash  map[types.Hash]*PendingTx
	order   *btree.BTreeG[*PendingTx]
	senders map[types.Address]int
	maxSize int
	nextSeq uint64
	evicted uint64
	mu      sync.RWMutex
}

func newOrder() *btree.BTreeG[*PendingTx] {
	return btree.NewBTreeGOptions(releasedBefore, btree.Options{NoLocks: true})
}

// NewMempool creates a new Mempool with the specified maximum size.
func NewMempool(maxSize int) *Mempool {
	return &Mempool{
		byHash:  make(map[types.Hash]*PendingTx),
		order:   newOrder(),
		senders: make(map[types.Address]int),
		maxSize: maxSize,
	}
}

// Add adds a transaction with the given priority. A full mempool rejects
// it with ErrMempoolFull unless it outranks the last pending transaction,
// which is then evicted.
func (m *Mempool) Add(tx *types.Transaction, priority int) error {
	if tx == nil {
		return ErrInvalidTx
	}
	hash := tx.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[hash]; exists {
		return ErrTxAlreadyExists
	}

	ptx := &PendingTx{
		Tx:       tx,
		Hash:     hash,
		Priority: priority,
		AddedAt:  time.Now(),
		seq:      m.nextSeq,
	}
	if len(m.byHash) >= m.maxSize {
		last, ok := m.order.Max()
		if !ok || !releasedBefore(ptx, last) {
			return ErrMempoolFull
		}
		m.remove(last)
		m.evicted++
	}

	m.nextSeq++
	m.byHash[hash] = ptx
	m.order.Set(ptx)
	m.senders[tx.From]++
	return nil
}

// remove drops ptx from every index (called with lock held).
func (m *Mempool) remove(ptx *PendingTx) {
	delete(m.byHash, ptx.Hash)
	m.order.Delete(ptx)
	if m.senders[ptx.Tx.From]--; m.senders[ptx.Tx.From] == 0 {
		delete(m.senders, ptx.Tx.From)
	}
}

// Get retrieves a transaction by hash without removing it.
func (m *Mempool) Get(hash types.Hash) (*PendingTx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ptx, ok := m.byHash[hash]
	if !ok {
		return nil, ErrTxNotFound
	}
	return ptx, nil
}

// Remove removes a transaction by hash.
// Returns true if the transaction was found and removed.
func (m *Mempool) Remove(hash types.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ptx, ok := m.byHash[hash]
	if !ok {
		return false
	}
	m.remove(ptx)
	return true
}

// PopBatch removes and returns up to n transactions in release order.
func (m *Mempool) PopBatch(n int) []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || len(m.byHash) == 0 {
		return nil
	}
	batch := make([]*types.Transaction, 0, min(n, len(m.byHash)))
	for len(batch) < n {
		ptx, ok := m.order.Min()
		if !ok {
			break
		}
		m.remove(ptx)
		batch = append(batch, ptx.Tx)
	}
	return batch
}

// Peek returns up to n transactions in release order without removing them.
func (m *Mempool) Peek(n int) []*types.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	var batch []*types.Transaction
	m.order.Scan(func(ptx *PendingTx) bool {
		batch = append(batch, ptx.Tx)
		return len(batch) < n
	})
	return batch
}

// PendingFrom returns the number of pending transactions sent by addr.
func (m *Mempool) PendingFrom(addr types.Address) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.senders[addr]
}

// Size returns the current number of transactions in the mempool.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash)
}

// IsFull returns true if the mempool has reached its maximum size.
func (m *Mempool) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash) >= m.maxSize
}

// Clear removes all transactions from the mempool.
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byHash = make(map[types.Hash]*PendingTx)
	m.order = newOrder()
	m.senders = make(map[types.Address]int)
}

// MempoolStats contains mempool statistics.
type MempoolStats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Available int    `json:"available"`
	Senders   int    `json:"senders"`
	Evicted   uint64 `json:"evicted"`
}

// Stats returns mempool statistics.
func (m *Mempool) Stats() MempoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MempoolStats{
		Size:      len(m.byHash),
		MaxSize:   m.maxSize,
		Available: m.maxSize - len(m.byHash),
		Senders:   len(m.senders),
		Evicted:   m.evicted,
	}
}

// Contains checks if a transaction exists in the mempool.
func (m *Mempool) Contains(hash types.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.byHash[hash]
	return exists
}

package engine

import (
	"sync"
	"time"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// BlockBuilder batches transactions into chained blocks. A batch is
// sealed when it reaches the block size or when the batch timeout has
// elapsed since its first transaction.
type BlockBuilder struct {
	blockSize    int
	batchTimeout time.Duration
	currentBatch []*types.Transaction
	batchHashes  map[types.Hash]bool
	batchStart   time.Time

	height uint64
	parent types.Hash
	now    func() time.Time
	mu     sync.Mutex
}

// NewBlockBuilder creates a builder whose first block has the given
// height and parent hash.
func NewBlockBuilder(blockSize int, timeout time.Duration, height uint64, parent types.Hash) *BlockBuilder {
	if blockSize <= 0 {
		blockSize = 1
	}
	return &BlockBuilder{
		blockSize:    blockSize,
		batchTimeout: timeout,
		currentBatch: make([]*types.Transaction, 0, blockSize),
		batchHashes:  make(map[types.Hash]bool),
		batchStart:   time.Now(),
		height:       height,
		parent:       parent,
		now:          time.Now,
	}
}

// Add appends tx to the current batch. It returns the sealed block when
// the batch is ready, nil otherwise. Duplicates within a batch are skipped.
func (b *BlockBuilder) Add(tx *types.Transaction) *types.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := tx.Hash()
	if b.batchHashes[h] {
		return nil
	}
	if len(b.currentBatch) == 0 {
		b.batchStart = b.now()
	}

	b.currentBatch = append(b.currentBatch, tx)
	b.batchHashes[h] = true

	if b.isReady() {
		return b.seal()
	}
	return nil
}

// AddBatch adds every transaction and returns the blocks sealed on the way.
func (b *BlockBuilder) AddBatch(txs []*types.Transaction) []*types.Block {
	var blocks []*types.Block
	for _, tx := range txs {
		if block := b.Add(tx); block != nil {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// Flush seals the current batch if it has timed out.
func (b *BlockBuilder) Flush() *types.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.currentBatch) == 0 || !b.isReady() {
		return nil
	}
	return b.seal()
}

// ForceFlush seals the current batch regardless of size or age.
func (b *BlockBuilder) ForceFlush() *types.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.currentBatch) == 0 {
		return nil
	}
	return b.seal()
}

// isReady checks if batch is ready (called with lock held).
func (b *BlockBuilder) isReady() bool {
	if len(b.currentBatch) >= b.blockSize {
		return true
	}
	return b.now().Sub(b.batchStart) >= b.batchTimeout
}

// seal builds the next block from the batch and resets (called with lock held).
func (b *BlockBuilder) seal() *types.Block {
	block := types.NewBlock(b.height, b.parent, b.currentBatch, uint64(b.now().Unix()))
	b.height++
	b.parent = block.Hash()

	b.currentBatch = make([]*types.Transaction, 0, b.blockSize)
	b.batchHashes = make(map[types.Hash]bool)
	b.batchStart = b.now()
	return block
}

// BatchSize returns current batch size.
func (b *BlockBuilder) BatchSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.currentBatch)
}

// Height returns the height of the next block.
func (b *BlockBuilder) Height() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height
}

package types

import (
	"encoding/binary"
)

// Block is an ordered batch of transactions at a given height.
type Block struct {
	Height       uint64         `json:"height"`
	ParentHash   Hash           `json:"parent_hash"`
	Transactions []*Transaction `json:"transactions"`
	Timestamp    uint64         `json:"timestamp"`
}

// NewBlock creates a block.
func NewBlock(height uint64, parent Hash, txs []*Transaction, timestamp uint64) *Block {
	return &Block{
		Height:       height,
		ParentHash:   parent,
		Transactions: txs,
		Timestamp:    timestamp,
	}
}

// Len returns the number of transactions.
func (b *Block) Len() int { return len(b.Transactions) }

// TransactionsHash digests the ordered transaction hashes. It is mixed
// into every priority code of the block.
func (b *Block) TransactionsHash() Hash {
	buf := make([]byte, 0, len(b.Transactions)*HashLength)
	for _, tx := range b.Transactions {
		h := tx.Hash()
		buf = append(buf, h[:]...)
	}
	return Keccak256(buf)
}

// Hash identifies the block by its header fields and transactions digest.
func (b *Block) Hash() Hash {
	txs := b.TransactionsHash()
	var header [8 + HashLength + HashLength + 8]byte
	binary.BigEndian.PutUint64(header[0:8], b.Height)
	copy(header[8:40], b.ParentHash[:])
	copy(header[40:72], txs[:])
	binary.BigEndian.PutUint64(header[72:80], b.Timestamp)
	return Keccak256(header[:])
}

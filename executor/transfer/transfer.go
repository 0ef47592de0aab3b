// Package transfer is a deterministic executor that moves balances
// between accounts. It stands in for a full VM in tools and tests.
package transfer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/VanDung-dev/Seamless-Engine/state"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

// Failure reasons reported in execution results.
const (
	ReasonNoRecipient         = "missing recipient"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonStateRead           = "state read failed"
)

// Executor applies value transfers. Balances are stored as 8-byte
// big-endian integers under types.BalanceKey.
type Executor struct{}

// New creates a transfer executor.
func New() *Executor { return &Executor{} }

// Execute debits tx.From and credits tx.To by tx.Value.
func (e *Executor) Execute(_ context.Context, tx *types.Transaction, snap state.Snapshot) (*types.RWSet, types.ExecutionResult) {
	rw := types.NewRWSet()
	if tx.To == nil {
		return rw, types.Failed(ReasonNoRecipient)
	}

	fromKey := types.BalanceKey(tx.From)
	toKey := types.BalanceKey(*tx.To)

	rw.RecordRead(fromKey)
	from, err := readBalance(snap, fromKey)
	if err != nil {
		return rw, types.Failed(fmt.Sprintf("%s: %v", ReasonStateRead, err))
	}
	if from < tx.Value {
		return rw, types.Failed(ReasonInsufficientBalance)
	}
	if fromKey == toKey {
		return rw, types.Succeeded(EncodeBalance(from))
	}

	rw.RecordRead(toKey)
	to, err := readBalance(snap, toKey)
	if err != nil {
		return rw, types.Failed(fmt.Sprintf("%s: %v", ReasonStateRead, err))
	}

	rw.RecordWrite(fromKey, EncodeBalance(from-tx.Value))
	rw.RecordWrite(toKey, EncodeBalance(to+tx.Value))
	return rw, types.Succeeded(EncodeBalance(from - tx.Value))
}

func readBalance(snap state.Snapshot, key types.Hash) (uint64, error) {
	v, ok, err := snap.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	return DecodeBalance(v)
}

// EncodeBalance encodes a balance value.
func EncodeBalance(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeBalance decodes a balance value.
func DecodeBalance(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Newf("balance must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Genesis commits the initial balances to store.
func Genesis(store state.Store, balances map[types.Address]uint64) (types.Hash, error) {
	writes := make([]types.Write, 0, len(balances))
	for addr, v := range balances {
		writes = append(writes, types.Write{Key: types.BalanceKey(addr), Value: EncodeBalance(v)})
	}
	root, err := store.Commit(writes)
	if err != nil {
		return types.Hash{}, errors.Wrap(err, "commit genesis balances")
	}
	return root, nil
}

// Balance reads the committed balance of addr.
func Balance(store state.Store, addr types.Address) (uint64, error) {
	v, ok, err := store.Get(types.BalanceKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	return DecodeBalance(v)
}

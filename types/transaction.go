package types

import (
	"encoding/binary"
)

// Transaction is an already ordered, already validated transaction. The
// scheduler never inspects its payload; only the executor does.
type Transaction struct {
	Nonce uint64   `json:"nonce"`
	From  Address  `json:"from"`
	To    *Address `json:"to,omitempty"`
	Value uint64   `json:"value"`
	Data  []byte   `json:"data,omitempty"`
}

// NewTransaction creates a call or transfer to the given recipient.
func NewTransaction(nonce uint64, from, to Address, value uint64, data []byte) *Transaction {
	return &Transaction{
		Nonce: nonce,
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	}
}

// encode produces the canonical byte form hashed by Hash.
func (tx *Transaction) encode() []byte {
	buf := make([]byte, 0, 8+AddressLength+1+AddressLength+8+4+len(tx.Data))
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	buf = append(buf, tx.From[:]...)
	if tx.To != nil {
		buf = append(buf, 1)
		buf = append(buf, tx.To[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint64(buf, tx.Value)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Data)))
	buf = append(buf, tx.Data...)
	return buf
}

// Hash returns the Keccak-256 digest of the canonical encoding.
func (tx *Transaction) Hash() Hash {
	return Keccak256(tx.encode())
}

package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/cockroachdb/errors"
)

// PriorityCodeSize is the length of a serialized PriorityCode.
const PriorityCodeSize = 1 + 8 + HashLength

// Release flag values in the serialized form.
const (
	FlagOwned    byte = 0
	FlagDisowned byte = 1
)

// ErrInvalidPriorityCode is returned when decoding malformed bytes.
var ErrInvalidPriorityCode = errors.New("invalid priority code")

// PriorityCode orders transactions within a block. Codes compare by
// (release flag, height, hash) ascending and a lower code is a higher
// priority, so any owned code outranks any released one.
type PriorityCode struct {
	released bool
	height   uint64
	hash     Hash
}

// NewPriorityCode creates an owned code.
func NewPriorityCode(height uint64, hash Hash) PriorityCode {
	return PriorityCode{height: height, hash: hash}
}

// DerivePriorityCode builds the code of a transaction inside a block. The
// hash component mixes the transaction hash with the block transactions
// digest so it cannot be chosen independently of the block.
func DerivePriorityCode(height uint64, txHash, blockDigest Hash) PriorityCode {
	return NewPriorityCode(height, Keccak256(txHash[:], blockDigest[:]))
}

// ReleasedPriorityCode is the weakest possible code. Any claim outranks it.
func ReleasedPriorityCode() PriorityCode {
	return PriorityCode{released: true, height: math.MaxUint64}
}

// Release marks the code as disowned. It cannot be undone.
func (p *PriorityCode) Release() { p.released = true }

// Released reports whether the code is disowned.
func (p PriorityCode) Released() bool { return p.released }

// Height returns the block height component.
func (p PriorityCode) Height() uint64 { return p.height }

// Hash returns the hash component.
func (p PriorityCode) Hash() Hash { return p.hash }

// Compare returns -1 if p ranks before other, +1 if after and 0 if equal.
func (p PriorityCode) Compare(other PriorityCode) int {
	if p.released != other.released {
		if !p.released {
			return -1
		}
		return 1
	}
	if p.height != other.height {
		if p.height < other.height {
			return -1
		}
		return 1
	}
	return bytes.Compare(p.hash[:], other.hash[:])
}

// Outranks reports whether p has strictly higher priority than other.
func (p PriorityCode) Outranks(other PriorityCode) bool {
	return p.Compare(other) < 0
}

// Bytes returns the 41-byte form: [flag][height big-endian][hash].
func (p PriorityCode) Bytes() [PriorityCodeSize]byte {
	var out [PriorityCodeSize]byte
	if p.released {
		out[0] = FlagDisowned
	}
	binary.BigEndian.PutUint64(out[1:9], p.height)
	copy(out[9:], p.hash[:])
	return out
}

// PriorityCodeFromBytes decodes the 41-byte form. Any non-zero flag byte
// decodes as released.
func PriorityCodeFromBytes(b [PriorityCodeSize]byte) PriorityCode {
	var p PriorityCode
	p.released = b[0] != FlagOwned
	p.height = binary.BigEndian.Uint64(b[1:9])
	copy(p.hash[:], b[9:])
	return p
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PriorityCode) MarshalBinary() ([]byte, error) {
	b := p.Bytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PriorityCode) UnmarshalBinary(data []byte) error {
	if len(data) != PriorityCodeSize {
		return errors.Wrapf(ErrInvalidPriorityCode, "length %d", len(data))
	}
	var b [PriorityCodeSize]byte
	copy(b[:], data)
	*p = PriorityCodeFromBytes(b)
	return nil
}

// String returns the hex form of the serialized code.
func (p PriorityCode) String() string {
	b := p.Bytes()
	return hex.EncodeToString(b[:])
}

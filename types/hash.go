package types

import (
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/sha3"
)

const (
	// HashLength is the size of a Hash in bytes.
	HashLength = 32
	// AddressLength is the size of an Address in bytes.
	AddressLength = 20
)

// Hash is a 32-byte Keccak-256 digest. It is also used as a state key.
type Hash [HashLength]byte

// Address identifies an account.
type Address [AddressLength]byte

// BytesToHash converts b to a Hash, keeping the rightmost bytes when b is
// longer than HashLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash decodes a hex string, with or without a 0x prefix.
func HexToHash(s string) (Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, errors.Wrapf(err, "decode hash %q", s)
	}
	return BytesToHash(b), nil
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashLength)
	copy(b, h[:])
	return b
}

// IsZero reports whether all bytes are zero.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x-prefixed hex encoding.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// Short returns an abbreviated form for logs.
func (h Hash) Short() string { return hex.EncodeToString(h[:4]) }

// BytesToAddress converts b to an Address, keeping the rightmost bytes.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// Hex returns the 0x-prefixed hex encoding.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

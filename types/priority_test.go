package types

import (
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func hashOf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestPriorityCodeOrdering(t *testing.T) {
	low := NewPriorityCode(10, hashOf(0x01))
	high := NewPriorityCode(10, hashOf(0x02))

	if !low.Outranks(high) {
		t.Error("Expected lower hash to outrank higher hash at same height")
	}
	if high.Outranks(low) {
		t.Error("Expected higher hash not to outrank lower hash")
	}
	if low.Compare(low) != 0 {
		t.Error("Expected code to compare equal to itself")
	}

	earlier := NewPriorityCode(9, hashOf(0xff))
	if !earlier.Outranks(low) {
		t.Error("Expected lower height to outrank regardless of hash")
	}
}

func TestPriorityCodeReleasedRanksLast(t *testing.T) {
	owned := NewPriorityCode(math.MaxUint64, hashOf(0xff))
	released := NewPriorityCode(0, Hash{})
	released.Release()

	if !released.Released() {
		t.Fatal("Expected code to be released")
	}
	if !owned.Outranks(released) {
		t.Error("Expected any owned code to outrank any released code")
	}
	if released.Compare(owned) != 1 {
		t.Errorf("Expected 1, got %d", released.Compare(owned))
	}
}

func TestPriorityCodeReleaseDoesNotAffectCopies(t *testing.T) {
	code := NewPriorityCode(1, hashOf(0x01))
	copied := code
	code.Release()

	if copied.Released() {
		t.Error("Release should only affect the receiver")
	}
}

func TestPriorityCodeTotalOrder(t *testing.T) {
	codes := []PriorityCode{
		NewPriorityCode(2, hashOf(0x01)),
		NewPriorityCode(1, hashOf(0x03)),
		ReleasedPriorityCode(),
		NewPriorityCode(1, hashOf(0x02)),
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Compare(codes[j]) < 0 })

	if codes[0].Height() != 1 || codes[0].Hash() != hashOf(0x02) {
		t.Errorf("Unexpected first code: %s", codes[0])
	}
	if codes[2].Height() != 2 {
		t.Errorf("Expected height 2 third, got %d", codes[2].Height())
	}
	if !codes[3].Released() {
		t.Error("Expected released code last")
	}

	for i := range codes {
		for j := range codes {
			a, b := codes[i].Compare(codes[j]), codes[j].Compare(codes[i])
			if a != -b {
				t.Errorf("Compare not antisymmetric for %d,%d", i, j)
			}
		}
	}
}

func TestPriorityCodeBytesRoundTrip(t *testing.T) {
	code := NewPriorityCode(0x0102030405060708, hashOf(0xaa))
	b := code.Bytes()

	if b[0] != FlagOwned {
		t.Errorf("Expected owned flag, got %d", b[0])
	}
	if b[1] != 0x01 || b[8] != 0x08 {
		t.Errorf("Expected big-endian height, got %x", b[1:9])
	}
	if b[9] != 0xaa {
		t.Errorf("Expected hash at offset 9, got %x", b[9])
	}

	decoded := PriorityCodeFromBytes(b)
	if decoded.Compare(code) != 0 || decoded.Released() {
		t.Errorf("Round trip mismatch: %s != %s", decoded, code)
	}

	code.Release()
	b = code.Bytes()
	if b[0] != FlagDisowned {
		t.Errorf("Expected disowned flag, got %d", b[0])
	}
	if !PriorityCodeFromBytes(b).Released() {
		t.Error("Expected decoded code to be released")
	}
}

func TestPriorityCodeUnmarshalBinaryLength(t *testing.T) {
	var code PriorityCode
	err := code.UnmarshalBinary(make([]byte, PriorityCodeSize-1))
	if !errors.Is(err, ErrInvalidPriorityCode) {
		t.Errorf("Expected ErrInvalidPriorityCode for short input, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "length 40") {
		t.Errorf("Expected length in error, got %q", err)
	}

	want := NewPriorityCode(7, hashOf(0x07))
	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if err := code.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if code.Compare(want) != 0 {
		t.Errorf("Expected %s, got %s", want, code)
	}
}

func TestDerivePriorityCodeDependsOnBlock(t *testing.T) {
	tx := hashOf(0x01)
	a := DerivePriorityCode(5, tx, hashOf(0x10))
	b := DerivePriorityCode(5, tx, hashOf(0x20))

	if a.Compare(b) == 0 {
		t.Error("Expected different block digests to give different codes")
	}
	if a.Height() != 5 {
		t.Errorf("Expected height 5, got %d", a.Height())
	}
	if a.Hash() != Keccak256(tx[:], hashOf(0x10).Bytes()) {
		t.Error("Unexpected priority hash derivation")
	}
}

func BenchmarkPriorityCodeCompare(b *testing.B) {
	x := NewPriorityCode(1, hashOf(0x01))
	y := NewPriorityCode(1, hashOf(0x02))
	for i := 0; i < b.N; i++ {
		_ = x.Compare(y)
	}
}

package types

// balanceSlot is the reserved storage slot of an account balance.
var balanceSlot = Hash{}

// StorageKey derives the state key of a storage slot owned by addr.
func StorageKey(addr Address, slot Hash) Hash {
	return Keccak256(addr[:], slot[:])
}

// BalanceKey is the state key holding the balance of addr.
func BalanceKey(addr Address) Hash { return StorageKey(addr, balanceSlot) }

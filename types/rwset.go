package types

// Write is a single state mutation. A nil Value deletes the key.
type Write struct {
	Key   Hash
	Value []byte
}

// RWSet records the keys a transaction read and the values it wrote.
type RWSet struct {
	reads  []Hash
	writes []Write
}

// NewRWSet creates an empty set.
func NewRWSet() *RWSet {
	return &RWSet{}
}

// RecordRead records that key was read.
func (s *RWSet) RecordRead(key Hash) {
	s.reads = append(s.reads, key)
}

// RecordWrite records that key was written with value.
func (s *RWSet) RecordWrite(key Hash, value []byte) {
	s.writes = append(s.writes, Write{Key: key, Value: value})
}

// Reads returns the read keys in recording order.
func (s *RWSet) Reads() []Hash { return s.reads }

// Writes returns the writes in recording order. Later writes to the same
// key supersede earlier ones when applied.
func (s *RWSet) Writes() []Write { return s.writes }

// WriteKeys returns the distinct written keys in first-write order.
func (s *RWSet) WriteKeys() []Hash {
	return dedup(nil, s.writes)
}

// AllKeys returns the distinct read and written keys, reads first.
func (s *RWSet) AllKeys() []Hash {
	return dedup(s.reads, s.writes)
}

func dedup(reads []Hash, writes []Write) []Hash {
	seen := make(map[Hash]struct{}, len(reads)+len(writes))
	keys := make([]Hash, 0, len(reads)+len(writes))
	for _, k := range reads {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, w := range writes {
		if _, ok := seen[w.Key]; !ok {
			seen[w.Key] = struct{}{}
			keys = append(keys, w.Key)
		}
	}
	return keys
}

// Len returns the number of recorded reads plus writes.
func (s *RWSet) Len() int { return len(s.reads) + len(s.writes) }

// IsEmpty reports whether nothing was recorded.
func (s *RWSet) IsEmpty() bool { return s.Len() == 0 }

// Clear drops all recorded accesses.
func (s *RWSet) Clear() {
	s.reads = s.reads[:0]
	s.writes = s.writes[:0]
}

// HasRead reports whether key was read.
func (s *RWSet) HasRead(key Hash) bool {
	for _, k := range s.reads {
		if k == key {
			return true
		}
	}
	return false
}

// HasWrite reports whether key was written.
func (s *RWSet) HasWrite(key Hash) bool {
	for _, w := range s.writes {
		if w.Key == key {
			return true
		}
	}
	return false
}

// HasRAW reports a read-after-write dependency: s reads a key other writes.
func (s *RWSet) HasRAW(other *RWSet) bool {
	for _, k := range s.reads {
		if other.HasWrite(k) {
			return true
		}
	}
	return false
}

// HasWAW reports that both sets write a common key.
func (s *RWSet) HasWAW(other *RWSet) bool {
	for _, w := range s.writes {
		if other.HasWrite(w.Key) {
			return true
		}
	}
	return false
}

// HasWAR reports a write-after-read dependency: s writes a key other reads.
func (s *RWSet) HasWAR(other *RWSet) bool {
	for _, w := range s.writes {
		if other.HasRead(w.Key) {
			return true
		}
	}
	return false
}

// ConflictSet summarizes the dependencies between two read-write sets.
type ConflictSet struct {
	RAW bool `json:"raw"`
	WAW bool `json:"waw"`
	WAR bool `json:"war"`
}

// Any reports whether any dependency exists.
func (c ConflictSet) Any() bool { return c.RAW || c.WAW || c.WAR }

// Conflicts computes the dependencies of s on other.
func (s *RWSet) Conflicts(other *RWSet) ConflictSet {
	return ConflictSet{
		RAW: s.HasRAW(other),
		WAW: s.HasWAW(other),
		WAR: s.HasWAR(other),
	}
}

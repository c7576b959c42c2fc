package physical

import (
	"fmt"
	"strings"
)

// Requirement is the partitioning an operator demands of its input: rows
// hashed by the key columns, in order, into a fixed number of buckets.
// The zero value demands nothing.
type Requirement struct {
	Keys    []string
	Buckets int
}

func (r Requirement) IsAny() bool { return r.Buckets == 0 }

// Satisfies reports whether input partitioned for r can be consumed by an
// operator demanding other without an exchange: other's key list must be a
// prefix of r's, in order, and the bucket counts must match exactly.
func (r Requirement) Satisfies(other Requirement) bool {
	if other.IsAny() {
		return true
	}
	if r.IsAny() || r.Buckets != other.Buckets {
		return false
	}
	if len(other.Keys) > len(r.Keys) {
		return false
	}
	for i, key := range other.Keys {
		if r.Keys[i] != key {
			return false
		}
	}
	return true
}

// CoLocates reports whether an exchange hashing by r physically co-locates
// the partitions other demands: rows that agree on other's keys also agree on
// any prefix of them, so r's key list must be a prefix of other's, with the
// same bucket count.
func (r Requirement) CoLocates(other Requirement) bool {
	if other.IsAny() {
		return true
	}
	if r.IsAny() || r.Buckets != other.Buckets {
		return false
	}
	if len(r.Keys) > len(other.Keys) {
		return false
	}
	for i, key := range r.Keys {
		if other.Keys[i] != key {
			return false
		}
	}
	return true
}

func (r Requirement) String() string {
	if r.IsAny() {
		return "none"
	}
	if len(r.Keys) == 0 {
		return fmt.Sprintf("singleton buckets=%d", r.Buckets)
	}
	return fmt.Sprintf("hash(%s) buckets=%d", strings.Join(r.Keys, ", "), r.Buckets)
}

package api

import (
	"fmt"
)

// Range is a contiguous slice of the keyspace owned by exactly one node.
// Should be immutable after construction.
type Range struct {
	Start Key // inclusive; ZeroKey means unbounded below
	End   Key // inclusive; ZeroKey means unbounded above
	Owner NodeID
	Local bool // whether Owner is the node holding this copy of the table
}

// Contains returns whether the key falls inside this range. Both boundaries
// are inclusive; a ZeroKey boundary is open-ended on that side.
func (r Range) Contains(k Key) bool {
	if r.Start != ZeroKey {
		if k < r.Start {
			return false
		}
	}

	if r.End != ZeroKey {
		if k > r.End {
			return false
		}
	}

	return true
}

// String returns a string like: [-inf, H] -> n1
func (r Range) String() string {
	var s, e string

	if r.Start == ZeroKey {
		s = "[-inf"
	} else {
		s = fmt.Sprintf("[%s", r.Start)
	}

	if r.End == ZeroKey {
		e = "+inf]"
	} else {
		e = fmt.Sprintf("%s]", r.End)
	}

	return fmt.Sprintf("%s, %s -> %s", s, e, r.Owner)
}

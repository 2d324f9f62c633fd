// Package partition computes and maintains each node's view of how the
// keyspace is split across the nodes of its service type.
package partition

import (
	"sort"

	"github.com/adammck/rangegate/pkg/api"
)

// Table maps each node to the contiguous range it owns. It's derived
// deterministically from the sorted list of node ids, recomputed wholesale on
// every topology change, and never patched incrementally.
type Table map[api.NodeID]api.Range

// Compute builds the table for the given node ids, from the point of view of
// self (which gets Local=true on its range). The ordered 26-letter alphabet
// is divided into contiguous buckets, one per node in sorted id order; the
// first range is unbounded below and the last unbounded above, so the whole
// keyspace is always covered.
//
// With more nodes than letters, the trailing nodes get inverted ranges which
// contain nothing. That's a known limit of the single-letter boundary scheme,
// not something this function guards against.
func Compute(ids []api.NodeID, self api.NodeID) Table {
	n := len(ids)
	if n == 0 {
		return Table{}
	}

	sorted := make([]api.NodeID, n)
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	t := make(Table, n)

	if n == 1 {
		t[sorted[0]] = api.Range{
			Start: api.ZeroKey,
			End:   api.ZeroKey,
			Owner: sorted[0],
			Local: sorted[0] == self,
		}
		return t
	}

	for i, id := range sorted {
		r := api.Range{Owner: id, Local: id == self}

		if i > 0 {
			r.Start = api.Key(boundary(i, n))
		}
		if i < n-1 {
			// Inclusive end: one letter before the next node's start, so
			// adjacent ranges never share a letter.
			r.End = api.Key(boundary(i+1, n) - 1)
		}

		t[id] = r
	}

	return t
}

// boundary returns the bucket boundary character for index i of n: the
// character at position floor(26*i/n) from 'A'.
func boundary(i, n int) byte {
	return byte('A' + 26*i/n)
}

// Owner returns the node whose range contains the key. Ranges are disjoint,
// so there's at most one. The second return is false when no range matches,
// which is possible for multi-character keys straddling a bucket boundary
// (e.g. "Hx" between an "H" end and an "I" start) and transiently during
// convergence; callers fall back rather than fail.
func (t Table) Owner(k api.Key) (api.NodeID, bool) {
	for id, r := range t {
		if r.Contains(k) {
			return id, true
		}
	}
	return "", false
}

// Equal returns whether two tables assign identical ranges to identical
// nodes. Local flags are ignored, since they vary per holder, not per
// assignment.
func (t Table) Equal(other Table) bool {
	if len(t) != len(other) {
		return false
	}

	for id, r := range t {
		o, ok := other[id]
		if !ok {
			return false
		}
		r.Local = false
		o.Local = false
		if r != o {
			return false
		}
	}

	return true
}

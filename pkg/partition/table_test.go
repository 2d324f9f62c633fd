package partition

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []api.NodeID {
	out := make([]api.NodeID, n)
	for i := range out {
		out[i] = api.NodeID(fmt.Sprintf("n%02d", i))
	}
	return out
}

func TestComputeEmpty(t *testing.T) {
	assert.Empty(t, Compute(nil, "n1"))
}

func TestComputeSingleNode(t *testing.T) {
	tbl := Compute([]api.NodeID{"n1"}, "n1")
	require.Len(t, tbl, 1)

	r := tbl["n1"]
	assert.Equal(t, api.ZeroKey, r.Start)
	assert.Equal(t, api.ZeroKey, r.End)
	assert.True(t, r.Local)
	assert.True(t, r.Contains("anything at all"))
}

func TestComputeThreeNodes(t *testing.T) {
	tbl := Compute([]api.NodeID{"n3", "n1", "n2"}, "n2")
	require.Len(t, tbl, 3)

	// 26/3 buckets: boundaries at I and R.
	assert.Equal(t, api.Range{Start: api.ZeroKey, End: "H", Owner: "n1"}, tbl["n1"])
	assert.Equal(t, api.Range{Start: "I", End: "Q", Owner: "n2", Local: true}, tbl["n2"])
	assert.Equal(t, api.Range{Start: "R", End: api.ZeroKey, Owner: "n3"}, tbl["n3"])

	owner, ok := tbl.Owner("Mark")
	require.True(t, ok)
	assert.Equal(t, api.NodeID("n2"), owner)
}

func TestExhaustivenessAndDisjointness(t *testing.T) {
	// For any node count, every letter A..Z is owned by exactly one range.
	rnd := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		n := 1 + rnd.Intn(26)
		tbl := Compute(ids(n), "n00")

		for c := byte('A'); c <= 'Z'; c++ {
			k := api.Key(c)
			owners := 0
			for _, r := range tbl {
				if r.Contains(k) {
					owners++
				}
			}
			assert.Equal(t, 1, owners, "n=%d key=%s", n, k)
		}
	}
}

func TestDeterminism(t *testing.T) {
	for _, n := range []int{1, 2, 5, 13, 26} {
		a := Compute(ids(n), "n00")
		b := Compute(ids(n), "n00")
		assert.True(t, a.Equal(b), "n=%d: %s", n, cmp.Diff(a, b))

		// Input order must not matter either.
		shuffled := ids(n)
		rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		c := Compute(shuffled, "n00")
		assert.True(t, a.Equal(c), "n=%d shuffled input diverged", n)
	}
}

func TestBoundedReassignmentOnJoin(t *testing.T) {
	// Adding one node reassigns at most one range per node: no node gets
	// churned more than once, and the total reassignment count is bounded by
	// the new node count, not some multiple of it.
	for n := 1; n < 26; n++ {
		before := Compute(ids(n), "n00")

		joined := append(ids(n), api.NodeID(fmt.Sprintf("n%02d", n)))
		after := Compute(joined, "n00")

		changed := 0
		for id, r := range before {
			if after[id] != r {
				changed++
			}
		}
		assert.LessOrEqual(t, changed, n, "n=%d", n)
	}
}

func TestRemovalRedistributes(t *testing.T) {
	// Removing the middle of three nodes splits its letters between the
	// survivors.
	before := Compute([]api.NodeID{"n1", "n2", "n3"}, "n1")
	after := Compute([]api.NodeID{"n1", "n3"}, "n1")

	require.Len(t, after, 2)
	assert.Equal(t, api.Range{Start: api.ZeroKey, End: "M", Owner: "n1", Local: true}, after["n1"])
	assert.Equal(t, api.Range{Start: "N", End: api.ZeroKey, Owner: "n3"}, after["n3"])

	// n2's old letters I..Q are now covered by the survivors.
	for _, k := range []api.Key{"I", "K", "Q"} {
		owner, ok := before.Owner(k)
		require.True(t, ok)
		assert.Equal(t, api.NodeID("n2"), owner)

		owner, ok = after.Owner(k)
		require.True(t, ok)
		assert.Contains(t, []api.NodeID{"n1", "n3"}, owner)
	}
}

func TestOwnerGapFallsThrough(t *testing.T) {
	// Multi-character keys between an inclusive end and the next start (e.g.
	// "Hx" between end=H and start=I) match no range. Callers handle this
	// with the first-node fallback.
	tbl := Compute([]api.NodeID{"n1", "n2", "n3"}, "n1")
	_, ok := tbl.Owner("Hx")
	assert.False(t, ok)
}

func TestTableEqualIgnoresLocal(t *testing.T) {
	a := Compute([]api.NodeID{"n1", "n2"}, "n1")
	b := Compute([]api.NodeID{"n1", "n2"}, "n2")
	assert.True(t, a.Equal(b))

	c := Compute([]api.NodeID{"n1", "n2", "n3"}, "n1")
	assert.False(t, a.Equal(c))
}

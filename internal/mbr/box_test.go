package mbr

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randBox(r *rand.Rand) Box {
	w := r.Float64()*200 - 100
	s := r.Float64()*200 - 100
	e := w + r.Float64()*50
	n := s + r.Float64()*50
	return Box{W: w, S: s, E: e, N: n}
}

// invariant 1: disjoint(a,b) <=> !within(a,b) && !within(b,a) && !intersect(a,b)
func TestDisjointDefinition(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		a, b := randBox(r), randBox(r)
		want := !a.Within(b) && !b.Within(a) && !a.Intersects(b)
		require.Equal(t, want, a.Disjoint(b))
	}
}

// invariant 2: within(a,a) holds; !disjoint(a,a)
func TestSelfContainment(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		a := randBox(r)
		assert.True(t, a.Within(a))
		assert.False(t, a.Disjoint(a))
	}
}

// invariant 3: merge is commutative/associative and within(a,merge(a,b)) etc.
func TestMergeProperties(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		a, b, c := randBox(r), randBox(r), randBox(r)

		assert.Equal(t, a.Merge(b), b.Merge(a))
		assert.Equal(t, a.Merge(b).Merge(c), a.Merge(b.Merge(c)))
		assert.True(t, a.Within(a.Merge(b)))
		assert.True(t, b.Within(a.Merge(b)))
	}
}

// invariant 4: area(overlap(a,b)) <= min(area(a), area(b)) when not disjoint.
func TestOverlapAreaBound(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 500; i++ {
		a, b := randBox(r), randBox(r)
		if a.Disjoint(b) {
			assert.Equal(t, 0.0, a.Overlap(b).Area())
			continue
		}
		ov := a.Overlap(b).Area()
		assert.LessOrEqual(t, ov, a.Area()+1e-9)
		assert.LessOrEqual(t, ov, b.Area()+1e-9)
	}
}

func TestEnlargement(t *testing.T) {
	a := Box{W: 0, S: 0, E: 10, N: 10}
	b := Box{W: 5, S: 5, E: 20, N: 20}
	require.InDelta(t, a.Merge(b).Area()-a.Area(), a.Enlargement(b), 1e-9)

	// enlarging by a box already within incurs zero cost.
	inner := Box{W: 1, S: 1, E: 2, N: 2}
	require.InDelta(t, 0, a.Enlargement(inner), 1e-9)
}

func TestMergeAllEmpty(t *testing.T) {
	require.Equal(t, Zero, MergeAll(nil))
}

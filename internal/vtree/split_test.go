package vtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vtreedb/vtree/internal/mbr"
)

func TestSplitBalancedTieBreaksByOverlapThenCoverage(t *testing.T) {
	// Two axis candidates of equal size (balanced): construct boxes so the
	// W/E split and S/N split both produce 2/2 groups, forcing the tie
	// break down to overlap area then coverage area.
	boxes := []mbr.Box{
		{W: 0, S: 0, E: 1, N: 1},   // west, south
		{W: 0, S: 9, E: 1, N: 10},  // west, north
		{W: 9, S: 0, E: 10, N: 1},  // east, south
		{W: 9, S: 9, E: 10, N: 10}, // east, north
	}
	outer := mbr.MergeAll(boxes)

	res := split(boxes, outer)
	require.False(t, res.Degenerate)
	require.Len(t, res.GroupA, 2)
	require.Len(t, res.GroupB, 2)

	// Every candidate axis here is perfectly balanced (2/2) with zero
	// overlap and identical coverage, so the tie break falls through every
	// level to the documented W/E default.
	wSet := map[int]bool{}
	for _, i := range res.GroupA {
		wSet[i] = true
	}
	require.True(t, wSet[0] && wSet[1], "expected west bucket {0,1} selected as group A by default tie-break")
}

func TestSplitDegenerateFallbackHalvesInOrder(t *testing.T) {
	// Every box hugs the outer box's north-east corner, so all four are
	// assigned to PE (PW=∅) and all four to PN (PS=∅) — one of the four
	// degenerate fallback combinations, which halves the original-order
	// list rather than trusting either axis candidate.
	outer := mbr.Box{W: 0, S: 0, E: 10, N: 10}
	boxes := []mbr.Box{
		{W: 8, S: 8, E: 9, N: 9},
		{W: 8.5, S: 8.5, E: 9.5, N: 9.5},
		{W: 9, S: 9, E: 10, N: 10},
		{W: 7, S: 7, E: 8, N: 8},
	}

	res := split(boxes, outer)
	require.True(t, res.Degenerate)
	require.Equal(t, "degenerate-partition-fallback", res.Note)
	require.Equal(t, []int{0, 1}, res.GroupA)
	require.Equal(t, []int{2, 3}, res.GroupB)
}

func TestAxisBucketsAssignEveryChildToBothAxes(t *testing.T) {
	boxes := []mbr.Box{
		{W: 0, S: 0, E: 2, N: 2},
		{W: 8, S: 8, E: 10, N: 10},
	}
	outer := mbr.MergeAll(boxes)
	pw, pe, ps, pn := axisBuckets(boxes, outer)

	require.Equal(t, []int{0}, pw)
	require.Equal(t, []int{1}, pe)
	require.Equal(t, []int{0}, ps)
	require.Equal(t, []int{1}, pn)
}

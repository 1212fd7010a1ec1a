package vtree

import "github.com/vtreedb/vtree/internal/mbr"

// splitResult is a 2-way partition of a node's children into two index
// sets over the original (pre-split) slice.
type splitResult struct {
	GroupA, GroupB []int
	// Degenerate is set when the 4-way partition could not produce a
	// clean split on at least one axis and a fallback rule fired.
	Degenerate bool
	Note       string
}

// split implements a 4-way partition + best-split selection over a set of
// boxes (either leaf-entry MBRs, or child-node MBRs for an inner node
// split), given the outer MBR of the node being split.
func split(boxes []mbr.Box, outer mbr.Box) splitResult {
	pw, pe, ps, pn := axisBuckets(boxes, outer)

	pwEmpty, peEmpty := len(pw) == 0, len(pe) == 0
	psEmpty, pnEmpty := len(ps) == 0, len(pn) == 0

	// The four degenerate fallback combinations: halve the full,
	// order-preserved list rather than trust either axis candidate.
	switch {
	case pwEmpty && psEmpty,
		peEmpty && pnEmpty,
		psEmpty && peEmpty,
		pwEmpty && pnEmpty:
		mid := len(boxes) / 2
		idx := make([]int, len(boxes))
		for i := range idx {
			idx[i] = i
		}
		return splitResult{GroupA: idx[:mid], GroupB: idx[mid:], Degenerate: true, Note: "degenerate-partition-fallback"}
	}

	degenerate := pwEmpty || peEmpty || psEmpty || pnEmpty
	note := ""
	if degenerate {
		note = "partial-degenerate-axis"
	}

	maxWE := max(len(pw), len(pe))
	maxSN := max(len(ps), len(pn))

	chooseWE := func() splitResult {
		return splitResult{GroupA: pw, GroupB: pe, Degenerate: degenerate, Note: note}
	}
	chooseSN := func() splitResult {
		return splitResult{GroupA: ps, GroupB: pn, Degenerate: degenerate, Note: note}
	}

	switch {
	case maxWE < maxSN:
		return chooseWE()
	case maxWE > maxSN:
		return chooseSN()
	}

	// Tie: break by minimal overlap, then minimal coverage, defaulting to
	// W/E. This three-level ordering is load-bearing for deterministic
	// test behavior and must not be reordered.
	mbrW, mbrE := boxesOf(boxes, pw), boxesOf(boxes, pe)
	mbrS, mbrN := boxesOf(boxes, ps), boxesOf(boxes, pn)
	weW, weE := mbr.MergeAll(mbrW), mbr.MergeAll(mbrE)
	snS, snN := mbr.MergeAll(mbrS), mbr.MergeAll(mbrN)

	overlapWE := weW.Overlap(weE).Area()
	overlapSN := snS.Overlap(snN).Area()
	if overlapWE < overlapSN {
		return chooseWE()
	}
	if overlapWE > overlapSN {
		return chooseSN()
	}

	coverageWE := weW.Area() + weE.Area()
	coverageSN := snS.Area() + snN.Area()
	if coverageSN < coverageWE {
		return chooseSN()
	}
	return chooseWE() // default to W/E on a full tie
}

// axisBuckets assigns every child independently to a west/east bucket and
// a south/north bucket.
func axisBuckets(boxes []mbr.Box, outer mbr.Box) (pw, pe, ps, pn []int) {
	for i, b := range boxes {
		if b.W-outer.W < outer.E-b.E {
			pw = append(pw, i)
		} else {
			pe = append(pe, i)
		}
		if b.S-outer.S < outer.N-b.N {
			ps = append(ps, i)
		} else {
			pn = append(pn, i)
		}
	}
	return
}

func boxesOf(all []mbr.Box, idx []int) []mbr.Box {
	out := make([]mbr.Box, len(idx))
	for i, j := range idx {
		out[i] = all[j]
	}
	return out
}

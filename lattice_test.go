package decoder

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

// twoBranchGraph has a cheap branch through state 1 (total 5.0) and a
// dear one through state 2 (total 5.2), merging in state 3.
func twoBranchGraph(t *testing.T) *SearchGraph {
	t.Helper()
	g, err := NewGraphBuilder(4, 0).
		AddArc(0, 1, 1, 1, 5.0).
		AddArc(0, 2, 2, 2, 5.2).
		AddArc(1, 3, 3, 3, 0).
		AddArc(2, 3, 4, 4, 0).
		SetFinal(3, 0.3).
		Build()
	assert.NoError(t, err)
	return g
}

func decodeTwoBranch(t *testing.T, latticeBeam float32) (*Decoder, *LatticeView) {
	t.Helper()
	opts := testOptions()
	opts.Beam = 8.0
	opts.LatticeBeam = latticeBeam
	d, err := New(twoBranchGraph(t), opts)
	assert.NoError(t, err)

	assert.NoError(t, d.BeginUtterance())
	ll := []float32{0, 0, 0, 0, 0}
	assert.NoError(t, d.ProcessFrame(ll))
	assert.NoError(t, d.ProcessFrame(ll))
	v, err := d.EndUtterance()
	assert.NoError(t, err)
	return d, v
}

func TestBackPruneTightBeam(t *testing.T) {
	assert := assert.New(t)

	// the dear branch carries link extra 0.2 on its last arc; a beam of
	// 0.15 prunes the whole branch.
	_, v := decodeTwoBranch(t, 0.15)
	assert.Len(v.Arcs, 2)
	for _, a := range v.Arcs {
		assert.Contains([]int32{1, 3}, a.ILabel)
	}

	// the dear branch's mid token was saved by no arc
	for _, tok := range v.FrameTokens(1) {
		if tok.State == 2 {
			assert.Equal(inf, tok.ExtraCost)
		}
	}
	checkLattice(t, v, 0.15)
}

func TestBackPruneWideBeam(t *testing.T) {
	assert := assert.New(t)

	// a beam of 0.25 keeps both branches.
	_, v := decodeTwoBranch(t, 0.25)
	assert.Len(v.Arcs, 4)
	checkLattice(t, v, 0.25)

	for _, tok := range v.FrameTokens(1) {
		if tok.State == 2 {
			assert.InDelta(0.2, tok.ExtraCost, 1e-5)
		}
	}
}

func TestBackPruneIdempotent(t *testing.T) {
	assert := assert.New(t)

	d, v := decodeTwoBranch(t, 0.25)
	arcs1 := append([]LatLink(nil), v.Arcs...)

	// rerun the whole backward pass from scratch: same arc set.
	l := d.lat
	l.prunedUpTo = -1
	l.output.Clear()
	for i := range l.arcFrameSize {
		l.arcFrameSize[i] = 0
	}
	assert.NoError(l.pruneActiveTokens(d.frame, d.frame))

	arcs2 := make([]LatLink, l.output.Size())
	l.output.CopyAllTo(arcs2)
	assert.ElementsMatch(arcs1, arcs2)
}

func TestBestPath(t *testing.T) {
	assert := assert.New(t)

	_, v := decodeTwoBranch(t, 0.25)
	path, cost := v.BestPath()
	assert.Len(path, 2)
	assert.Equal(int32(1), path[0].ILabel)
	assert.Equal(int32(3), path[1].ILabel)
	assert.InDelta(5.3, cost, 1e-5) // 5.0 plus the final cost of state 3
}

func arcKeys(arcs []LatLink) []LatLink {
	keys := append([]LatLink(nil), arcs...)
	slices.SortFunc(keys, func(a, b LatLink) int {
		switch {
		case a.NextFrame != b.NextFrame:
			return int(a.NextFrame - b.NextFrame)
		case a.ILabel != b.ILabel:
			return int(a.ILabel - b.ILabel)
		default:
			return int(a.PrevIdx - b.PrevIdx)
		}
	})
	return keys
}

func TestInterimPrune(t *testing.T) {
	assert := assert.New(t)

	b := NewGraphBuilder(8, 0)
	for i := int32(0); i < 7; i++ {
		b.AddArc(i, i+1, 1, i, 0.1)
	}
	g, err := b.Build()
	assert.NoError(err)

	decode := func(interval int32) *LatticeView {
		opts := testOptions()
		opts.PruneInterval = interval
		d, err := New(g, opts)
		assert.NoError(err)
		assert.NoError(d.BeginUtterance())
		for f := 0; f < 6; f++ {
			assert.NoError(d.ProcessFrame([]float32{0, 0}))
		}
		v, err := d.EndUtterance()
		assert.NoError(err)
		return v
	}

	whole := decode(3000)
	windowed := decode(2)

	// a single-path lattice has exact extra costs in every window, so
	// interim pruning must not change the survivor set.
	assert.Equal(whole.ArcFrameSize, windowed.ArcFrameSize)
	assert.Equal(arcKeys(whole.Arcs), arcKeys(windowed.Arcs))
	checkLattice(t, windowed, 1.0)
}

func TestPrunedArenaOverflow(t *testing.T) {
	assert := assert.New(t)

	opts := testOptions()
	opts.Beam = 8.0
	opts.MaxArcs = 8 // pruned arena holds 8*0.25 = 2 arcs
	d, err := New(twoBranchGraph(t), opts)
	assert.NoError(err)

	assert.NoError(d.BeginUtterance())
	ll := []float32{0, 0, 0, 0, 0}
	assert.NoError(d.ProcessFrame(ll))
	assert.NoError(d.ProcessFrame(ll))

	_, err = d.EndUtterance()
	assert.Error(err)
	var ce *CapacityError
	assert.ErrorAs(err, &ce)
	assert.Equal("pruned_lattice_arena", ce.Ceiling)
}

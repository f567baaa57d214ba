package decoder

import (
	"fmt"

	"github.com/tidwall/hashmap"
)

// SearchGraph is the static WFST in CSR form, split into an emitting
// and a non-emitting (epsilon) partition. Arcs of state s live in
// [EOffsets[s], EOffsets[s+1]) and [NEOffsets[s], NEOffsets[s+1]) of
// the parallel arc arrays. Finals holds per-state final costs, +Inf
// for non-final states.
type SearchGraph struct {
	NumStates int32
	NumArcs   int32
	Start     int32
	MaxILabel int32

	EOffsets  []uint32
	NEOffsets []uint32

	ILabels    []int32
	OLabels    []int32
	Weights    []float32
	NextStates []int32

	Finals []float32
}

// Empty reports a graph the decoder cannot start on.
func (g *SearchGraph) Empty() bool {
	return g == nil || g.NumArcs == 0 || g.Start < 0 || g.Start >= g.NumStates
}

// Final returns the final cost of state, +Inf when non-final.
func (g *SearchGraph) Final(state int32) float32 {
	return g.Finals[state]
}

// LogLikelihoodSource yields one dense vector of acoustic
// log-likelihoods per frame, indexed by input label. Compute is called
// at most once per frame.
type LogLikelihoodSource interface {
	Compute(out []float32, frame int32)
}

type graphArc struct {
	ilabel int32
	olabel int32
	weight float32
	next   int32
}

// GraphBuilder assembles a SearchGraph arc by arc and lays the arrays
// out in CSR order at Build: the emitting block first, state by state,
// then the epsilon block.
type GraphBuilder struct {
	numStates int32
	start     int32
	numArcs   int32
	maxILabel int32

	emit   hashmap.Map[int32, []graphArc]
	eps    hashmap.Map[int32, []graphArc]
	finals hashmap.Map[int32, float32]
}

func NewGraphBuilder(numStates, start int32) *GraphBuilder {
	return &GraphBuilder{numStates: numStates, start: start}
}

// AddArc records an arc; ilabel 0 marks an epsilon arc that consumes no
// acoustic frame.
func (b *GraphBuilder) AddArc(from, to, ilabel, olabel int32, weight float32) *GraphBuilder {
	a := graphArc{ilabel: ilabel, olabel: olabel, weight: weight, next: to}
	m := &b.emit
	if ilabel == 0 {
		m = &b.eps
	}
	arcs, _ := m.Get(from)
	m.Set(from, append(arcs, a))
	b.numArcs++
	if ilabel > b.maxILabel {
		b.maxILabel = ilabel
	}
	return b
}

// SetFinal marks state final with the given cost.
func (b *GraphBuilder) SetFinal(state int32, cost float32) *GraphBuilder {
	b.finals.Set(state, cost)
	return b
}

func (b *GraphBuilder) Build() (*SearchGraph, error) {
	if b.start < 0 || b.start >= b.numStates {
		return nil, fmt.Errorf("decoder: start state %d out of range [0, %d)", b.start, b.numStates)
	}

	g := &SearchGraph{
		NumStates:  b.numStates,
		NumArcs:    b.numArcs,
		Start:      b.start,
		MaxILabel:  b.maxILabel,
		EOffsets:   make([]uint32, b.numStates+1),
		NEOffsets:  make([]uint32, b.numStates+1),
		ILabels:    make([]int32, 0, b.numArcs),
		OLabels:    make([]int32, 0, b.numArcs),
		Weights:    make([]float32, 0, b.numArcs),
		NextStates: make([]int32, 0, b.numArcs),
		Finals:     make([]float32, b.numStates),
	}

	appendArcs := func(m *hashmap.Map[int32, []graphArc], offsets []uint32) error {
		for s := int32(0); s < b.numStates; s++ {
			offsets[s] = uint32(len(g.ILabels))
			arcs, _ := m.Get(s)
			for _, a := range arcs {
				if a.next < 0 || a.next >= b.numStates {
					return fmt.Errorf("decoder: arc %d->%d out of range [0, %d)", s, a.next, b.numStates)
				}
				g.ILabels = append(g.ILabels, a.ilabel)
				g.OLabels = append(g.OLabels, a.olabel)
				g.Weights = append(g.Weights, a.weight)
				g.NextStates = append(g.NextStates, a.next)
			}
		}
		offsets[b.numStates] = uint32(len(g.ILabels))
		return nil
	}

	if err := appendArcs(&b.emit, g.EOffsets); err != nil {
		return nil, err
	}
	if err := appendArcs(&b.eps, g.NEOffsets); err != nil {
		return nil, err
	}

	for s := range g.Finals {
		g.Finals[s] = inf
	}
	b.finals.Scan(func(state int32, cost float32) bool {
		g.Finals[state] = cost
		return true
	})
	return g, nil
}

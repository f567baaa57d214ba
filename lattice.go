package decoder

import (
	"log/slog"
	"sync/atomic"
)

const (
	// estimatedPruneRatio sizes the pruned-arc arena as a fraction of
	// the raw arc ceiling.
	estimatedPruneRatio = 0.25

	// maxPruneIters caps the per-frame extra-cost relaxation; epsilon
	// chains within a frame need more than one pass.
	maxPruneIters = 10
)

// latticeProcessor owns the per-frame token/arc bookkeeping and the
// backward extra-cost propagation that turns the raw expansion record
// into the pruned lattice. Node positions never move: arcs reference
// tokens by (frame, slot), so pruning removes arcs only and nodes fall
// out downstream when no surviving arc touches them.
type latticeProcessor struct {
	graph *SearchGraph
	opts  *Options
	log   *slog.Logger

	arena   *tokenArena
	latArcs *Vector[LatLinkCompact]

	// start index per frame to address a token or arc by (frame, slot).
	toksSidx []int32
	arcsSidx []uint32

	output       *Vector[LatLink]
	arcFrameSize []int32

	// highest frame whose surviving arcs were already emitted.
	prunedUpTo int32

	workers int

	arcIdx   atomic.Int64
	modified [3]atomic.Int32

	overflow atomic.Bool
}

func newLatticeProcessor(graph *SearchGraph, opts *Options, arena *tokenArena,
	latArcs *Vector[LatLinkCompact], log *slog.Logger,
) *latticeProcessor {
	return &latticeProcessor{
		graph:   graph,
		opts:    opts,
		log:     log,
		arena:   arena,
		latArcs: latArcs,
		output:  newVector[LatLink](uint32(estimatedPruneRatio * float64(opts.MaxArcs))),
		workers: poolSize(opts.GpuFraction * opts.LatFraction),
	}
}

func (l *latticeProcessor) reset() {
	l.toksSidx = append(l.toksSidx[:0], 0)
	l.arcsSidx = append(l.arcsSidx[:0], 0)
	l.arcFrameSize = l.arcFrameSize[:0]
	l.output.Clear()
	l.prunedUpTo = -1
	l.overflow.Store(false)
}

// collect closes frame f: the survivors of cur claim their arena
// records and the frame start indexes advance.
func (l *latticeProcessor) collect(frame int32, cur *MergeVector) {
	l.arena.advance(cur.Size())
	l.toksSidx = append(l.toksSidx, int32(l.arena.size()))
	l.arcsSidx = append(l.arcsSidx, l.latArcs.Size())
	l.arcFrameSize = append(l.arcFrameSize, 0)
}

func (l *latticeProcessor) tokenAt(frame, slot int32) *Token {
	return l.arena.at(l.toksSidx[frame] + slot)
}

func (l *latticeProcessor) frameArcs(frame int32) []LatLinkCompact {
	return l.latArcs.mem[l.arcsSidx[frame]:l.arcsSidx[frame+1]]
}

// seed assigns the last decoded frame its extra costs: each token's
// margin over the frame's best.
func (l *latticeProcessor) seed(lastFrame int32) {
	lo, hi := l.toksSidx[lastFrame], l.toksSidx[lastFrame+1]
	best := inf
	for i := lo; i < hi; i++ {
		if c := l.arena.at(i).Cost; c < best {
			best = c
		}
	}
	for i := lo; i < hi; i++ {
		tok := l.arena.at(i)
		tok.ExtraCost = tok.Cost - best
	}
}

// linkExtra is the arc's slack: how much worse the best path through it
// is than the best path overall.
func (l *latticeProcessor) linkExtra(a *LatLinkCompact) float32 {
	next := l.tokenAt(a.Next.frame(), a.Next.slot())
	prev := l.tokenAt(a.Prev.frame(), a.Prev.slot())
	return atomicLoadF32(&next.ExtraCost) +
		(prev.Cost + a.Acoustic + l.graph.Weights[a.ArcID] - next.Cost)
}

// propagate relaxes the arcs of frame t until quiescent, lowering the
// extra cost of every predecessor a surviving arc can reach. Tokens of
// frame t-1 start from +Inf; epsilon arcs keep both endpoints inside
// frame t, which is what the inner iteration is for.
func (l *latticeProcessor) propagate(t int32) {
	if t > 0 {
		lo, hi := l.toksSidx[t-1], l.toksSidx[t]
		for i := lo; i < hi; i++ {
			l.arena.at(i).ExtraCost = inf
		}
	}

	arcs := l.frameArcs(t)
	n := int64(len(arcs))
	if n == 0 {
		return
	}
	beam := l.opts.LatticeBeam
	for i := range l.modified {
		l.modified[i].Store(0)
	}

	for it := 0; it < maxPruneIters; it++ {
		l.modified[(it+1)%3].Store(0)
		l.arcIdx.Store(0)
		l.runPool(func() {
			for {
				ai := l.arcIdx.Add(1) - 1
				if ai >= n {
					break
				}
				a := &arcs[ai]
				le := l.linkExtra(a)
				if !(le <= beam) {
					continue
				}
				prev := l.tokenAt(a.Prev.frame(), a.Prev.slot())
				if atomicMinF32(&prev.ExtraCost, le) {
					l.modified[it%3].Store(1)
				}
			}
		})
		if l.modified[it%3].Load() == 0 {
			return
		}
	}
}

// emitFrame appends the surviving arcs of frame t to the output arena
// in exploded form and records the per-frame count.
func (l *latticeProcessor) emitFrame(t int32) {
	arcs := l.frameArcs(t)
	n := int64(len(arcs))
	if n == 0 {
		return
	}
	beam := l.opts.LatticeBeam
	l.arcIdx.Store(0)
	l.runPool(func() {
		for {
			ai := l.arcIdx.Add(1) - 1
			if ai >= n {
				break
			}
			a := &arcs[ai]
			if le := l.linkExtra(a); !(le <= beam) {
				continue
			}
			if _, ok := l.output.PushBack(explode(*a, l.graph)); !ok {
				l.overflow.Store(true)
				return
			}
			atomic.AddInt32(&l.arcFrameSize[t], 1)
		}
	})
}

// pruneActiveTokens runs the backward pass from lastFrame down to the
// pruning frontier and emits arcs for every frame up to emitUpTo. The
// final call of an utterance uses emitUpTo == lastFrame; interim calls
// leave the youngest prune-interval frames for later, when their extra
// costs are trustworthy.
func (l *latticeProcessor) pruneActiveTokens(lastFrame, emitUpTo int32) error {
	l.seed(lastFrame)
	for t := lastFrame; t > l.prunedUpTo; t-- {
		l.propagate(t)
		if t <= emitUpTo {
			l.emitFrame(t)
		}
	}
	if emitUpTo > l.prunedUpTo {
		l.prunedUpTo = emitUpTo
	}
	if l.overflow.Load() {
		l.log.Error("pruned lattice arena overflow; raise max_arcs",
			"capacity", l.output.max, "frame", lastFrame)
		return &CapacityError{
			Ceiling: "pruned_lattice_arena",
			Limit:   l.output.max,
			Frame:   lastFrame,
		}
	}
	return nil
}

func (l *latticeProcessor) runPool(fn func()) {
	runWorkers(l.workers, fn)
}

package decoder

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/sourcegraph/conc"
)

const (
	// maxNeIters caps the non-emitting closure; convergence past the
	// cap is best effort and counted in the stats.
	maxNeIters = 10

	histBins = 128

	// invalidArcSlot marks a pack whose Token was written straight into
	// the arena (the start token); the scatter must not resolve it.
	invalidArcSlot = ^uint32(0)
)

// expander runs the three per-frame phases over a pool of workers. A
// shared atomic counter dispatches source tokens; every phase boundary
// is a full pool join, which is the only barrier the protocol needs.
type expander struct {
	graph *SearchGraph
	opts  *Options
	log   *slog.Logger

	arena   *tokenArena
	lookup  *lookupTable
	latArcs *Vector[LatLinkCompact]

	workers int
	hists   []*histogram

	// first-pass scratch of two-pass recombination, indexed by the
	// frame-local arc slot.
	tempToks    []Token
	tempUpdated []byte
	aggQueue    *Vector[int32]

	frame      int32
	arcsBase   uint32
	cutoff     float32
	cutoffPrev float32
	frameBest  float32
	prevBest   float32

	fbIdx    atomic.Int64
	peIdx    atomic.Int64
	neIdx    atomic.Int64
	modified [3]atomic.Int32

	fault atomic.Pointer[CapacityError]

	histPrunes  atomic.Int64
	nanSkipped  atomic.Int64
	neSaturated atomic.Int64
}

func newExpander(graph *SearchGraph, opts *Options, arena *tokenArena,
	lookup *lookupTable, latArcs *Vector[LatLinkCompact], log *slog.Logger,
) *expander {
	e := &expander{
		graph:       graph,
		opts:        opts,
		log:         log,
		arena:       arena,
		lookup:      lookup,
		latArcs:     latArcs,
		workers:     poolSize(opts.GpuFraction),
		tempToks:    make([]Token, opts.MaxLatArcPerFrame),
		tempUpdated: make([]byte, opts.MaxLatArcPerFrame),
		aggQueue:    newVector[int32](opts.MaxTokensPerFrame),
	}
	e.hists = make([]*histogram, e.workers)
	for i := range e.hists {
		e.hists[i] = newHistogram(0, 1, histBins)
	}
	return e
}

func poolSize(fraction float64) int {
	n := int(fraction * float64(runtime.GOMAXPROCS(0)))
	if n < 1 {
		n = 1
	}
	return n
}

func (e *expander) resetUtterance() {
	e.fault.Store(nil)
	e.prevBest = inf
	e.histPrunes.Store(0)
	e.nanSkipped.Store(0)
	e.neSaturated.Store(0)
	for i := range e.tempUpdated {
		e.tempUpdated[i] = 0
	}
}

func (e *expander) beginFrame(frame int32) {
	e.frame = frame
	e.arcsBase = e.latArcs.Size()
	e.cutoff = inf
	e.cutoffPrev = inf
	e.frameBest = inf
	for i := range e.modified {
		e.modified[i].Store(0)
	}
}

// closeFrame publishes this frame's best cost as the histogram baseline
// of the next one.
func (e *expander) closeFrame() {
	e.prevBest = e.frameBest
}

func (e *expander) run(fn func(w int)) {
	var wg conc.WaitGroup
	for w := 0; w < e.workers; w++ {
		w := w
		wg.Go(func() { fn(w) })
	}
	wg.Wait()
}

func (e *expander) faulted() bool {
	return e.fault.Load() != nil
}

func (e *expander) setFault(ceiling string, limit uint32) {
	ce := &CapacityError{Ceiling: ceiling, Limit: limit, Frame: e.frame}
	if e.fault.CompareAndSwap(nil, ce) {
		e.log.Error("capacity ceiling exceeded", "ceiling", ceiling, "limit", limit, "frame", e.frame)
	}
}

func (e *expander) skipNaN(arc uint32) {
	e.nanSkipped.Add(1)
	if e.opts.Verbose > 2 {
		e.log.Debug("nan cost treated as infinite", "frame", e.frame, "arc", arc)
	}
}

// addInitialToken seeds the start state with cost 0 and no predecessor.
// Its pack carries the sentinel slot so the scatter leaves the directly
// written arena record alone.
func (e *expander) addInitialToken(cur *MergeVector) {
	tsIdx, ok := e.lookup.claimOrGet(e.graph.Start, cur, e.arena)
	if !ok {
		e.setFault("max_tokens_per_frame", e.opts.MaxTokensPerFrame)
		return
	}
	ts := &cur.mem[tsIdx]
	*e.arena.at(ts.TokenIdx) = Token{Cost: 0, Frame: 0, ExtraCost: inf, State: e.graph.Start}
	ts.Cost = 0
	atomic.StoreUint64(&ts.pack, newPack(0, invalidArcSlot))
	e.frameBest = 0
}

// findBestCutoff is phase A: the pool reduces the minimum of
// prev.cost + arc.weight + acoustic + beam over every emitting arc of
// the previous survivors. When the survivor count exceeds MaxActive the
// pre-pass histograms their costs first and arms cutoffPrev, which
// drops the worst sources for the rest of the frame.
func (e *expander) findBestCutoff(prev *MergeVector, ll []float32) {
	n := int64(prev.Size())

	if e.opts.MaxActive > 0 && n > int64(e.opts.MaxActive) && e.frame > 1 {
		e.histPrunes.Add(1)
		base, width := e.prevBest, e.opts.Beam/histBins
		e.fbIdx.Store(0)
		e.run(func(w int) {
			h := e.hists[w]
			h.rebase(base, width)
			for {
				i := e.fbIdx.Add(1) - 1
				if i >= n {
					break
				}
				if c := prev.mem[i].Cost; !isNaN32(c) {
					h.add(c)
				}
			}
		})
		for _, h := range e.hists[1:] {
			e.hists[0].merge(h)
		}
		e.cutoffPrev = e.hists[0].cutoff(e.opts.MaxActive)
	}

	g := e.graph
	beam := e.opts.Beam
	e.fbIdx.Store(0)
	e.run(func(w int) {
		local := inf
		for {
			i := e.fbIdx.Add(1) - 1
			if i >= n {
				break
			}
			ts := &prev.mem[i]
			cost := ts.Cost
			if cost > e.cutoffPrev {
				continue
			}
			for j := g.EOffsets[ts.State]; j < g.EOffsets[ts.State+1]; j++ {
				total := cost + g.Weights[j] - ll[g.ILabels[j]] + beam
				if total < local {
					local = total
				}
			}
		}
		if local < inf {
			atomicMinF32(&e.cutoff, local)
		}
	})
}

// relax is the first pass of two-pass recombination: record the lattice
// arc, then race on the destination TokenState's pack with atomic-max.
// Only the winner writes the temp Token bound to this arc slot, so no
// slot ever has two writers. Returns won and whether the frame is still
// healthy.
func (e *expander) relax(cur *MergeVector, srcSlot, srcFrame int32, arc uint32,
	next int32, total, acoustic float32,
) (bool, bool) {
	tsIdx, ok := e.lookup.claimOrGet(next, cur, e.arena)
	if !ok {
		e.setFault("max_tokens_per_frame", e.opts.MaxTokensPerFrame)
		return false, false
	}
	uGlobal, ok := e.latArcs.PushBack(LatLinkCompact{
		Prev:     newTokIdx(srcFrame, srcSlot),
		Next:     newTokIdx(e.frame, int32(tsIdx)),
		Acoustic: acoustic,
		ArcID:    int32(arc),
	})
	if !ok {
		e.setFault("max_arcs", e.opts.MaxArcs)
		return false, false
	}
	u := uGlobal - e.arcsBase
	if u >= e.opts.MaxLatArcPerFrame {
		e.setFault("max_lat_arc_per_frame", e.opts.MaxLatArcPerFrame)
		return false, false
	}
	if atomicMaxU64(&cur.mem[tsIdx].pack, newPack(total, u)) {
		e.tempToks[u] = Token{Cost: total, Frame: e.frame, ExtraCost: inf, State: next}
		e.tempUpdated[u] = 1
		return true, true
	}
	return false, true
}

// emit is phase B: expand every emitting arc whose total stays under
// the cutoff.
func (e *expander) emit(prev *MergeVector, cur *MergeVector, ll []float32) {
	g := e.graph
	n := int64(prev.Size())
	e.peIdx.Store(0)
	e.run(func(w int) {
		for !e.faulted() {
			i := e.peIdx.Add(1) - 1
			if i >= n {
				break
			}
			src := &prev.mem[i]
			cost := src.Cost
			if cost > e.cutoffPrev {
				continue
			}
			for j := g.EOffsets[src.State]; j < g.EOffsets[src.State+1]; j++ {
				ac := -ll[g.ILabels[j]]
				total := cost + g.Weights[j] + ac
				if isNaN32(total) {
					e.skipNaN(j)
					continue
				}
				if total > e.cutoff {
					continue
				}
				if _, ok := e.relax(cur, int32(i), e.frame-1, j, g.NextStates[j], total, ac); !ok {
					return
				}
			}
		}
	})
}

// scatter is the second recombination pass over the whole survivor
// vector, partitioned evenly across the pool.
func (e *expander) scatter(cur *MergeVector, withAgg bool) {
	n := cur.Size()
	var agg *Vector[int32]
	if withAgg {
		e.aggQueue.Clear()
		agg = e.aggQueue
	}
	chunk := (n + uint32(e.workers) - 1) / uint32(e.workers)
	if chunk == 0 {
		return
	}
	e.run(func(w int) {
		lo := uint32(w) * chunk
		if lo >= n {
			return
		}
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		cur.storeByPack(lo, hi, e.tempToks, e.tempUpdated, e.arena, agg, &e.frameBest)
	})
}

// processNonemitting is phase C: iterate the epsilon closure until no
// pack improves or the cap is hit. The first round walks every
// survivor; later rounds only the ones the previous scatter updated
// (the aggregation queue). The modified flags rotate through a triple
// buffer so an iteration never needs a reset barrier for its
// predecessor's flag.
func (e *expander) processNonemitting(cur *MergeVector) {
	for it := 0; it < maxNeIters && !e.faulted(); it++ {
		e.modified[(it+1)%3].Store(0)

		var src []int32
		var n int64
		if it == 0 {
			n = int64(cur.Size())
		} else {
			src = e.aggQueue.mem[:e.aggQueue.Size()]
			n = int64(len(src))
			if n == 0 {
				return
			}
		}

		e.neIdx.Store(0)
		e.run(func(w int) {
			for !e.faulted() {
				q := e.neIdx.Add(1) - 1
				if q >= n {
					break
				}
				i := int32(q)
				if src != nil {
					i = src[q]
				}
				if !e.expandNonemitting(cur, i, it) {
					return
				}
			}
		})
		if e.faulted() {
			return
		}

		e.scatter(cur, true)

		if e.modified[it%3].Load() == 0 {
			return
		}
		if it == maxNeIters-1 {
			e.neSaturated.Add(1)
			e.log.Warn("non-emitting closure saturated", "frame", e.frame, "iters", maxNeIters)
		}
	}
}

func (e *expander) expandNonemitting(cur *MergeVector, i int32, it int) bool {
	g := e.graph
	ts := &cur.mem[i]
	cost := ts.Cost
	for j := g.NEOffsets[ts.State]; j < g.NEOffsets[ts.State+1]; j++ {
		total := cost + g.Weights[j]
		if isNaN32(total) {
			e.skipNaN(j)
			continue
		}
		if total > e.cutoff {
			continue
		}
		won, ok := e.relax(cur, i, e.frame, j, g.NextStates[j], total, 0)
		if !ok {
			return false
		}
		if won {
			e.modified[it%3].Store(1)
		}
	}
	return true
}

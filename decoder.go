package decoder

import (
	"fmt"
	"log/slog"
	"sync"
)

// Decoder drives frame-synchronous lattice decoding over a static
// SearchGraph. Every pool is allocated once at construction and sized
// from Options; BeginUtterance is a reset, not a reallocation. A
// Decoder handles one utterance at a time.
type Decoder struct {
	opts  Options
	graph *SearchGraph
	log   *slog.Logger

	arena   *tokenArena
	lookup  *lookupTable
	latArcs *Vector[LatLinkCompact]

	// double-buffered survivor vectors, rotated per frame. The arc
	// vector is single: it is append-only for the whole utterance.
	bufs [2]*MergeVector
	cur  *MergeVector
	prev *MergeVector

	exp *expander
	lat *latticeProcessor

	// double-buffered log-likelihoods so the copy-in of frame t+1 can
	// overlap the expansion of frame t.
	ll     [2][]float32
	srcBuf [2][]float32

	frame      int32
	copiedUpTo int32
	inUtt      bool
	failed     error

	// observer-side mirror of the token arena, filled by the copier with
	// the frames finalized at each interim prune (while the next frames
	// compute) and with the rest at EndUtterance.
	hostToks []Token
	copyCh   chan copySpan
	copyWG   sync.WaitGroup
}

type copySpan struct{ lo, hi uint32 }

func New(graph *SearchGraph, opts Options) (*Decoder, error) {
	if err := checkOptions(opts); err != nil {
		return nil, err
	}
	if graph.Empty() {
		return nil, ErrGraphEmpty
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	d := &Decoder{opts: opts, graph: graph, log: log}
	d.arena = newTokenArena(opts.MaxTokens)
	d.lookup = newLookupTable(graph.NumStates)
	d.latArcs = newVector[LatLinkCompact](opts.MaxArcs)
	d.bufs[0] = newMergeVector(opts.MaxTokensPerFrame)
	d.bufs[1] = newMergeVector(opts.MaxTokensPerFrame)
	for i := range d.ll {
		d.ll[i] = make([]float32, graph.MaxILabel+1)
		d.srcBuf[i] = make([]float32, graph.MaxILabel+1)
	}
	d.exp = newExpander(graph, &d.opts, d.arena, d.lookup, d.latArcs, log)
	d.lat = newLatticeProcessor(graph, &d.opts, d.arena, d.latArcs, log)
	d.hostToks = make([]Token, opts.MaxTokens)
	return d, nil
}

// BeginUtterance resets all per-utterance state, seeds the start token
// and runs its epsilon closure as frame 0.
func (d *Decoder) BeginUtterance() error {
	if d.graph.Empty() {
		return ErrGraphEmpty
	}
	if d.inUtt {
		d.stopCopier()
		d.inUtt = false
	}

	d.frame = 0
	d.copiedUpTo = -1
	d.failed = nil
	d.arena.reset()
	d.latArcs.Clear()
	d.bufs[0].Clear()
	d.bufs[1].Clear()
	d.lookup.resetAll()
	d.cur, d.prev = d.bufs[0], d.bufs[1]
	d.exp.resetUtterance()
	d.lat.reset()
	d.startCopier()

	d.exp.beginFrame(0)
	d.exp.addInitialToken(d.cur)
	d.exp.processNonemitting(d.cur)
	if ce := d.exp.fault.Load(); ce != nil {
		return d.fail(ce)
	}
	d.inUtt = true
	d.closeFrame()
	return nil
}

// ProcessFrame decodes one acoustic frame: rotate the survivor buffers,
// copy the log-likelihoods in, run phases A-C and collect the lattice.
// Every prune_interval frames it also runs interim pruning and hands the
// frames finalized by it to the copier.
func (d *Decoder) ProcessFrame(loglik []float32) error {
	if !d.inUtt {
		return ErrNoUtterance
	}
	if d.failed != nil {
		return d.failed
	}

	d.frame++
	f := d.frame
	d.cur, d.prev = d.bufs[f%2], d.bufs[(f+1)%2]
	d.lookup.reset(d.prev)
	d.cur.Clear()

	buf := d.ll[f%2]
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, loglik)

	if !d.arena.hasRoom(d.opts.MaxTokensPerFrame) {
		return d.fail(&CapacityError{Ceiling: "max_tokens", Limit: d.opts.MaxTokens, Frame: f})
	}

	d.exp.beginFrame(f)
	d.exp.findBestCutoff(d.prev, buf)
	d.exp.emit(d.prev, d.cur, buf)
	if !d.exp.faulted() {
		d.exp.scatter(d.cur, false)
		d.exp.processNonemitting(d.cur)
	}
	if ce := d.exp.fault.Load(); ce != nil {
		return d.fail(ce)
	}

	d.closeFrame()

	if f >= d.opts.PruneInterval && f%d.opts.PruneInterval == 0 {
		if err := d.lat.pruneActiveTokens(f, f-d.opts.PruneInterval); err != nil {
			return d.fail(err)
		}
		// the next pass still rewrites the extra costs of frame
		// f-PruneInterval, so only the frames before it are final.
		d.enqueueCopy(f - d.opts.PruneInterval - 1)
	}
	return nil
}

// EndUtterance runs the final backward pruning pass, waits for the
// copier to drain and returns the host-visible lattice.
func (d *Decoder) EndUtterance() (*LatticeView, error) {
	if !d.inUtt {
		return nil, ErrNoUtterance
	}
	if err := d.lat.pruneActiveTokens(d.frame, d.frame); err != nil {
		return nil, d.fail(err)
	}
	d.enqueueCopy(d.frame)
	d.stopCopier()
	d.inUtt = false

	arcs := make([]LatLink, d.lat.output.Size())
	d.lat.output.CopyAllTo(arcs)
	last := make([]TokenState, d.cur.Size())
	d.cur.CopyAllTo(last)

	return &LatticeView{
		Tokens:          d.hostToks[:d.arena.size()],
		TokenFrameStart: append([]int32(nil), d.lat.toksSidx...),
		Arcs:            arcs,
		ArcFrameSize:    append([]int32(nil), d.lat.arcFrameSize...),
		LastFrameTokens: last,
		graph:           d.graph,
	}, nil
}

// Decode runs a whole utterance of the given length. The source fills
// the back buffer for frame t+1 while frame t expands.
func (d *Decoder) Decode(src LogLikelihoodSource, frames int) (*LatticeView, error) {
	if err := d.BeginUtterance(); err != nil {
		return nil, err
	}
	if frames > 0 {
		done := make(chan []float32, 1)
		compute := func(f int32, out []float32) {
			src.Compute(out, f)
			done <- out
		}
		go compute(1, d.srcBuf[1])
		for f := int32(1); f <= int32(frames); f++ {
			buf := <-done
			if f < int32(frames) {
				go compute(f+1, d.srcBuf[(f+1)%2])
			}
			if err := d.ProcessFrame(buf); err != nil {
				return nil, err
			}
		}
	}
	return d.EndUtterance()
}

// NumFramesDecoded returns the number of acoustic frames already
// decoded; the frame-0 epsilon closure does not count.
func (d *Decoder) NumFramesDecoded() int32 {
	return d.frame
}

// ReachedFinal reports whether any survivor of the last decoded frame
// sits in a final graph state.
func (d *Decoder) ReachedFinal() bool {
	if d.cur == nil {
		return false
	}
	n := d.cur.Size()
	for i := uint32(0); i < n; i++ {
		if d.graph.Final(d.cur.mem[i].State) < inf {
			return true
		}
	}
	return false
}

// FinalRelativeCost returns the gap between the best final-cost-adjusted
// token and the best token on the last frame; +Inf when no final state
// is active there.
func (d *Decoder) FinalRelativeCost() float32 {
	if d.cur == nil {
		return inf
	}
	best, bestFinal := inf, inf
	n := d.cur.Size()
	for i := uint32(0); i < n; i++ {
		ts := &d.cur.mem[i]
		if ts.Cost < best {
			best = ts.Cost
		}
		if fc := d.graph.Final(ts.State); fc < inf && ts.Cost+fc < bestFinal {
			bestFinal = ts.Cost + fc
		}
	}
	if best == inf || bestFinal == inf {
		return inf
	}
	return bestFinal - best
}

func (d *Decoder) closeFrame() {
	d.lat.collect(d.frame, d.cur)
	d.exp.closeFrame()
}

// enqueueCopy hands every frame whose extra costs are final to the
// copier; the transfer overlaps the expansion of the frames that
// follow.
func (d *Decoder) enqueueCopy(uptoFrame int32) {
	if d.copyCh == nil || uptoFrame <= d.copiedUpTo {
		return
	}
	lo := uint32(d.lat.toksSidx[d.copiedUpTo+1])
	hi := uint32(d.lat.toksSidx[uptoFrame+1])
	if hi > lo {
		d.copyCh <- copySpan{lo: lo, hi: hi}
	}
	d.copiedUpTo = uptoFrame
}

func (d *Decoder) startCopier() {
	d.copyCh = make(chan copySpan, 64)
	d.copyWG.Add(1)
	go func() {
		defer d.copyWG.Done()
		for s := range d.copyCh {
			copy(d.hostToks[s.lo:s.hi], d.arena.tokens[s.lo:s.hi])
		}
	}()
}

func (d *Decoder) stopCopier() {
	if d.copyCh == nil {
		return
	}
	close(d.copyCh)
	d.copyWG.Wait()
	d.copyCh = nil
}

func (d *Decoder) fail(err error) error {
	wrapped := fmt.Errorf("decoder: utterance aborted: %w", err)
	d.failed = wrapped
	d.inUtt = false
	d.stopCopier()
	d.log.Error("utterance aborted", "frame", d.frame, "err", err)
	return wrapped
}

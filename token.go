package decoder

import (
	"math"
)

// Token is a decoding hypothesis: the accumulated path cost of the best
// known path reaching a graph state, stamped with the frame it was
// created in. ExtraCost stays +Inf until backward pruning fills it.
type Token struct {
	Cost      float32 `json:"cost"`
	Frame     int32   `json:"frame"`
	ExtraCost float32 `json:"extra_cost"`
	State     int32   `json:"state"`
}

// TokenState is the frame-local representative of a graph state in the
// survivor set. pack is its recombination word, mutated only by
// atomic-max; TokenIdx binds it to the arena slot of the winning Token.
type TokenState struct {
	pack     uint64
	TokenIdx int32
	State    int32
	Cost     float32
}

// pack is the 64-bit recombination word.
// +------------------------------+------------------------------+
// |      orderbits(-cost)        |        arc slot (32)         |
// +------------------------------+------------------------------+
//
// Unsigned max on the word selects the lowest cost. Equal costs
// tie-break toward the larger arc slot, which is the one observable
// nondeterminism of the decoder under contention.

func newPack(cost float32, slot uint32) uint64 {
	return uint64(orderbits(-cost))<<32 | uint64(slot)
}

func packCost(p uint64) float32 {
	return -unorderbits(uint32(p >> 32))
}

func packSlot(p uint64) uint32 {
	return uint32(p)
}

// orderbits maps a float32 to a uint32 whose unsigned order matches the
// float order: flip all bits of negatives, set the sign bit of the rest.
func orderbits(f float32) uint32 {
	b := math.Float32bits(f)
	if b&signBit != 0 {
		return ^b
	}
	return b | signBit
}

func unorderbits(u uint32) float32 {
	if u&signBit != 0 {
		return math.Float32frombits(u &^ signBit)
	}
	return math.Float32frombits(^u)
}

const signBit = 1 << 31

// tokIdx packs a (frame, slot) token handle.
// +------------------------------+------------------------------+
// |          frame(32)           |          slot(32)            |
// +------------------------------+------------------------------+

type tokIdx uint64

func newTokIdx(frame, slot int32) tokIdx {
	return tokIdx(uint64(uint32(frame))<<32 | uint64(uint32(slot)))
}

func (i tokIdx) frame() int32 {
	return int32(i >> 32)
}

func (i tokIdx) slot() int32 {
	return int32(uint32(i))
}

// LatLinkCompact is the append-only lattice arc record written during
// expansion. Graph-derived fields (labels, graph weight) are recovered
// from ArcID when the arc is exploded during backward pruning.
type LatLinkCompact struct {
	Prev     tokIdx
	Next     tokIdx
	Acoustic float32
	ArcID    int32
}

// LatLink is the exploded arc form exported in the pruned lattice.
type LatLink struct {
	PrevFrame int32   `json:"prev_frame"`
	PrevIdx   int32   `json:"prev_idx"`
	NextFrame int32   `json:"next_frame"`
	NextIdx   int32   `json:"next_idx"`
	ILabel    int32   `json:"ilabel"`
	OLabel    int32   `json:"olabel"`
	Graph     float32 `json:"graph"`
	Acoustic  float32 `json:"acoustic"`
}

func explode(c LatLinkCompact, g *SearchGraph) LatLink {
	return LatLink{
		PrevFrame: c.Prev.frame(),
		PrevIdx:   c.Prev.slot(),
		NextFrame: c.Next.frame(),
		NextIdx:   c.Next.slot(),
		ILabel:    g.ILabels[c.ArcID],
		OLabel:    g.OLabels[c.ArcID],
		Graph:     g.Weights[c.ArcID],
		Acoustic:  c.Acoustic,
	}
}

var inf = float32(math.Inf(1))

package decoder

import (
	"github.com/bytedance/sonic"
	"github.com/tidwall/hashmap"
	"github.com/zeebo/xxh3"
)

// LatticeView is the host-visible result of an utterance: the
// frame-major token buffer, per-frame start indexes, the surviving arcs
// in pruning order with their per-frame counts, and the last frame's
// survivor set for final-cost computation. The buffers stay valid until
// the decoder begins its next utterance.
type LatticeView struct {
	Tokens          []Token      `json:"tokens"`
	TokenFrameStart []int32      `json:"token_frame_start"`
	Arcs            []LatLink    `json:"arcs"`
	ArcFrameSize    []int32      `json:"arc_frame_size"`
	LastFrameTokens []TokenState `json:"last_frame_tokens"`

	graph *SearchGraph
}

// NumFrames returns the number of decoded acoustic frames; the frame-0
// epsilon closure does not count.
func (v *LatticeView) NumFrames() int32 {
	return int32(len(v.TokenFrameStart)) - 2
}

// FrameTokens returns the tokens of frame f.
func (v *LatticeView) FrameTokens(f int32) []Token {
	return v.Tokens[v.TokenFrameStart[f]:v.TokenFrameStart[f+1]]
}

func (v *LatticeView) tokenAt(f, slot int32) *Token {
	return &v.Tokens[v.TokenFrameStart[f]+slot]
}

// Fingerprint hashes the exported buffers; identical decodes yield
// identical fingerprints.
func (v *LatticeView) Fingerprint() uint64 {
	h := xxh3.Hash(tokenBytes(v.Tokens))
	h = xxh3.HashSeed(linkBytes(v.Arcs), h)
	h = xxh3.HashSeed(i32Bytes(v.TokenFrameStart), h)
	return xxh3.HashSeed(i32Bytes(v.ArcFrameSize), h)
}

// JSON serializes the lattice for downstream tooling.
func (v *LatticeView) JSON() ([]byte, error) {
	return sonic.Marshal(v)
}

// BestPath walks the surviving arcs backward from the best token of the
// last frame and returns the best path's arcs in forward order together
// with its total cost. Graph final costs weigh in when any final state
// survived the last frame.
func (v *LatticeView) BestPath() ([]LatLink, float32) {
	T := v.NumFrames()
	if T < 0 || len(v.Tokens) == 0 {
		return nil, inf
	}

	last := v.FrameTokens(T)
	if len(last) == 0 {
		return nil, inf
	}
	useFinal := false
	if v.graph != nil {
		for _, tok := range last {
			if v.graph.Final(tok.State) < inf {
				useFinal = true
				break
			}
		}
	}
	bestSlot, bestCost := int32(-1), inf
	for i, tok := range last {
		c := tok.Cost
		if useFinal {
			c += v.graph.Final(tok.State)
		}
		if c < bestCost {
			bestCost = c
			bestSlot = int32(i)
		}
	}
	if bestSlot < 0 {
		return nil, inf
	}

	// best incoming arc per token
	var in hashmap.Map[tokIdx, LatLink]
	arrival := func(a LatLink) float32 {
		return v.tokenAt(a.PrevFrame, a.PrevIdx).Cost + a.Graph + a.Acoustic
	}
	for _, a := range v.Arcs {
		key := newTokIdx(a.NextFrame, a.NextIdx)
		if cur, ok := in.Get(key); !ok || arrival(a) < arrival(cur) {
			in.Set(key, a)
		}
	}

	var path []LatLink
	at := newTokIdx(T, bestSlot)
	for steps := 0; steps <= len(v.Arcs); steps++ {
		a, ok := in.Get(at)
		if !ok {
			break
		}
		path = append(path, a)
		at = newTokIdx(a.PrevFrame, a.PrevIdx)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, bestCost
}

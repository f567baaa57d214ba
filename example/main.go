package main

import (
	"fmt"

	decoder "github.com/xgzlucario/GigaDecoder"
)

// silence is a flat acoustic source: every label equally likely.
type silence struct{}

func (silence) Compute(out []float32, frame int32) {
	for i := range out {
		out[i] = 0
	}
}

func main() {
	// a tiny two-word graph: "go" (label 1) is cheaper than "stop"
	// (label 2), both ending in the final state 3.
	g, err := decoder.NewGraphBuilder(4, 0).
		AddArc(0, 1, 1, 1, 0.5).
		AddArc(0, 2, 2, 2, 0.9).
		AddArc(1, 1, 1, 0, 0.1).
		AddArc(2, 2, 2, 0, 0.1).
		AddArc(1, 3, 0, 0, 0).
		AddArc(2, 3, 0, 0, 0).
		SetFinal(3, 0).
		Build()
	if err != nil {
		panic(err)
	}

	opts := decoder.DefaultOptions
	opts.Beam = 8.0
	opts.LatticeBeam = 4.0

	d, err := decoder.New(g, opts)
	if err != nil {
		panic(err)
	}

	lat, err := d.Decode(silence{}, 10)
	if err != nil {
		panic(err)
	}

	stat := d.Stat()
	fmt.Println("frames:", stat.FramesDecoded)
	fmt.Println("tokens:", stat.TokensAlloc)
	fmt.Printf("arcs: %d raw, %d pruned (%.1f%%)\n",
		stat.ArcsAlloc, stat.ArcsOutput, stat.SurvivalRate())
	fmt.Println("reached final:", d.ReachedFinal())

	path, cost := lat.BestPath()
	fmt.Printf("best path cost %.2f via:\n", cost)
	for _, a := range path {
		fmt.Printf("  frame %d  olabel %d\n", a.NextFrame, a.OLabel)
	}

	buf, err := lat.JSON()
	if err != nil {
		panic(err)
	}
	fmt.Println("lattice bytes:", len(buf))
	fmt.Println("fingerprint:", lat.Fingerprint())
}

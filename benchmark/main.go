package main

import (
	"flag"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	decoder "github.com/xgzlucario/GigaDecoder"
	"golang.org/x/exp/rand"
)

var previousPause time.Duration

func gcPause() time.Duration {
	runtime.GC()
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	pause := stats.PauseTotal - previousPause
	previousPause = stats.PauseTotal
	return pause
}

type noisySource struct {
	rng *rand.Rand
}

func (s *noisySource) Compute(out []float32, frame int32) {
	for i := range out {
		out[i] = -s.rng.Float32() * 2
	}
}

func randomGraph(states, arcs, labels int, rng *rand.Rand) *decoder.SearchGraph {
	b := decoder.NewGraphBuilder(int32(states), 0)
	for i := 0; i < arcs; i++ {
		b.AddArc(
			int32(rng.Intn(states)),
			int32(rng.Intn(states)),
			int32(rng.Intn(labels)+1),
			int32(rng.Intn(labels)),
			rng.Float32()*3,
		)
	}
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

func main() {
	states := 0
	arcs := 0
	frames := 0
	labels := 0
	flag.IntVar(&states, "states", 20000, "number of graph states")
	flag.IntVar(&arcs, "arcs", 200000, "number of graph arcs")
	flag.IntVar(&frames, "frames", 500, "number of acoustic frames")
	flag.IntVar(&labels, "labels", 64, "number of input labels")
	flag.Parse()

	fmt.Println("states:", states)
	fmt.Println("arcs:", arcs)
	fmt.Println("frames:", frames)

	rng := rand.New(rand.NewSource(1))
	g := randomGraph(states, arcs, labels, rng)

	opts := decoder.DefaultOptions
	opts.Beam = 8.0
	opts.LatticeBeam = 4.0
	opts.MaxActive = 20000
	opts.GpuFraction = 1.0

	d, err := decoder.New(g, opts)
	if err != nil {
		panic(err)
	}

	start := time.Now()
	lat, err := d.Decode(&noisySource{rng: rng}, frames)
	if err != nil {
		panic(err)
	}
	cost := time.Since(start)

	var mem runtime.MemStats
	var stat debug.GCStats
	runtime.ReadMemStats(&mem)
	debug.ReadGCStats(&stat)

	ds := d.Stat()
	fmt.Println("tokens:", ds.TokensAlloc/1024, "k")
	fmt.Println("raw arcs:", ds.ArcsAlloc/1024, "k")
	fmt.Println("pruned arcs:", ds.ArcsOutput/1024, "k")
	fmt.Println("lattice frames:", lat.NumFrames())
	fmt.Println("alloc:", mem.Alloc/1024/1024, "mb")
	fmt.Println("heap inuse:", mem.HeapInuse/1024/1024, "mb")
	fmt.Println("gc:", stat.NumGC)
	fmt.Println("pause:", gcPause())
	fmt.Println("cost:", cost)
	fmt.Printf("rtf: %.1f frames/sec\n", float64(frames)/cost.Seconds())
}

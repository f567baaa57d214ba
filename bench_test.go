package decoder

import (
	"testing"

	"golang.org/x/exp/rand"
)

func benchGraph(states, arcs, labels int) *SearchGraph {
	rng := rand.New(rand.NewSource(7))
	b := NewGraphBuilder(int32(states), 0)
	for i := 0; i < arcs; i++ {
		b.AddArc(
			int32(rng.Intn(states)),
			int32(rng.Intn(states)),
			int32(rng.Intn(labels)+1),
			0,
			rng.Float32()*3,
		)
	}
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

func BenchmarkProcessFrame(b *testing.B) {
	g := benchGraph(2000, 20000, 32)
	opts := DefaultOptions
	opts.Beam = 8.0
	opts.GpuFraction = 1.0
	d, err := New(g, opts)
	if err != nil {
		b.Fatal(err)
	}

	ll := make([]float32, g.MaxILabel+1)
	rng := rand.New(rand.NewSource(7))
	for i := range ll {
		ll[i] = -rng.Float32()
	}

	if err := d.BeginUtterance(); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := d.ProcessFrame(ll); err != nil {
			// restart on ceiling hits so b.N can grow freely
			b.StopTimer()
			if err := d.BeginUtterance(); err != nil {
				b.Fatal(err)
			}
			b.StartTimer()
		}
	}
}

func BenchmarkVectorPushBack(b *testing.B) {
	v := newVector[LatLinkCompact](uint32(b.N) + 1)
	arc := LatLinkCompact{Prev: newTokIdx(1, 2), Next: newTokIdx(2, 3), Acoustic: 0.5, ArcID: 7}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.PushBack(arc)
	}
}

func BenchmarkPack(b *testing.B) {
	var word uint64
	b.RunParallel(func(pb *testing.PB) {
		i := uint32(0)
		for pb.Next() {
			atomicMaxU64(&word, newPack(float32(i%64), i))
			i++
		}
	})
}

func BenchmarkEndUtterance(b *testing.B) {
	g := benchGraph(2000, 20000, 32)
	opts := DefaultOptions
	opts.Beam = 8.0
	opts.LatticeBeam = 4.0
	opts.GpuFraction = 1.0
	d, err := New(g, opts)
	if err != nil {
		b.Fatal(err)
	}

	ll := make([]float32, g.MaxILabel+1)
	for i := range ll {
		ll[i] = -0.5
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		if err := d.BeginUtterance(); err != nil {
			b.Fatal(err)
		}
		for f := 0; f < 50; f++ {
			if err := d.ProcessFrame(ll); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()
		if _, err := d.EndUtterance(); err != nil {
			b.Fatal(err)
		}
	}
}

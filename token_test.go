package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
)

func TestPackRoundtrip(t *testing.T) {
	assert := assert.New(t)

	for i := 0; i < 100000; i++ {
		cost := rand.Float32()*200 - 100
		slot := rand.Uint32() >> 1
		p := newPack(cost, slot)

		assert.Equal(slot, packSlot(p))
		assert.Equal(cost, packCost(p))
	}
}

func TestPackOrder(t *testing.T) {
	assert := assert.New(t)

	// lower cost must win the unsigned max.
	costs := []float32{-50, -1.5, -0.25, 0, 0.25, 1.5, 50}
	for i := 0; i < len(costs)-1; i++ {
		lo := newPack(costs[i], 7)
		hi := newPack(costs[i+1], 7)
		assert.Greater(lo, hi, "cost %v must outrank %v", costs[i], costs[i+1])
	}

	// equal costs tie-break toward the larger arc slot.
	assert.Greater(newPack(1.0, 9), newPack(1.0, 3))
}

func TestPackAtomicMax(t *testing.T) {
	assert := assert.New(t)

	var word uint64
	assert.True(atomicMaxU64(&word, newPack(0.3, 0)))
	assert.True(atomicMaxU64(&word, newPack(0.1, 1)))
	assert.False(atomicMaxU64(&word, newPack(0.2, 2)))

	assert.Equal(float32(0.1), packCost(word))
	assert.Equal(uint32(1), packSlot(word))
}

func TestTokIdx(t *testing.T) {
	assert := assert.New(t)

	for i := 0; i < 100000; i++ {
		frame := int32(rand.Uint32() >> 1)
		slot := int32(rand.Uint32() >> 1)
		p := newTokIdx(frame, slot)

		assert.Equal(frame, p.frame())
		assert.Equal(slot, p.slot())
	}
}

func TestOrderbits(t *testing.T) {
	assert := assert.New(t)

	vals := []float32{-inf, -100, -1, -0.001, 0, 0.001, 1, 100, inf}
	for i := 0; i < len(vals)-1; i++ {
		assert.Less(orderbits(vals[i]), orderbits(vals[i+1]))
	}
	for _, v := range vals[1 : len(vals)-1] {
		assert.Equal(v, unorderbits(orderbits(v)))
	}
}

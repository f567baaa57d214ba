package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistogramCutoff(t *testing.T) {
	assert := assert.New(t)

	h := newHistogram(0, 1, 10)
	// 5 tokens per bin over bins 0..3
	for b := 0; b < 4; b++ {
		for i := 0; i < 5; i++ {
			h.add(float32(b) + 0.5)
		}
	}

	assert.Equal(float32(1), h.cutoff(5))
	assert.Equal(float32(2), h.cutoff(6))
	assert.Equal(float32(4), h.cutoff(20))
	assert.Equal(inf, h.cutoff(21))
}

func TestHistogramClamp(t *testing.T) {
	assert := assert.New(t)

	h := newHistogram(10, 1, 4)
	h.add(5)    // below base -> bin 0
	h.add(1000) // beyond range -> last bin
	assert.Equal(int32(1), h.bins[0])
	assert.Equal(int32(1), h.bins[3])
}

func TestHistogramMergeRebase(t *testing.T) {
	assert := assert.New(t)

	a := newHistogram(0, 1, 4)
	b := newHistogram(0, 1, 4)
	a.add(0.5)
	b.add(0.5)
	b.add(1.5)
	a.merge(b)
	assert.Equal(int32(2), a.bins[0])
	assert.Equal(int32(1), a.bins[1])

	a.rebase(2, 0.5)
	assert.Equal(int32(0), a.bins[0])
	a.add(2.1)
	assert.Equal(int32(1), a.bins[0])
	assert.Equal(float32(2.5), a.cutoff(1))
}

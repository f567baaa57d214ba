package decoder

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/sourcegraph/conc"
)

// runWorkers joins n workers over fn; the return is the barrier.
func runWorkers(n int, fn func()) {
	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		wg.Go(fn)
	}
	wg.Wait()
}

// atomicMaxU64 raises *addr to val and reports whether val won.
func atomicMaxU64(addr *uint64, val uint64) bool {
	for {
		old := atomic.LoadUint64(addr)
		if old >= val {
			return false
		}
		if atomic.CompareAndSwapUint64(addr, old, val) {
			return true
		}
	}
}

// atomicMinF32 lowers *addr to val and reports whether val won. A NaN
// already stored loses to any value.
func atomicMinF32(addr *float32, val float32) bool {
	p := (*uint32)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint32(p)
		if math.Float32frombits(old) <= val {
			return false
		}
		if atomic.CompareAndSwapUint32(p, old, math.Float32bits(val)) {
			return true
		}
	}
}

func atomicLoadF32(addr *float32) float32 {
	return math.Float32frombits(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
}

func isNaN32(f float32) bool {
	return f != f
}

package metrics

import (
	"math"
	"sync/atomic"
)

// atomicFloat is a float64 updated with a compare-and-swap loop.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// decrementFloor decrements v unless it is already zero.
func decrementFloor(v *atomic.Int64) {
	for {
		old := v.Load()
		if old <= 0 {
			return
		}
		if v.CompareAndSwap(old, old-1) {
			return
		}
	}
}

package decoder

import (
	"runtime"
	"sync/atomic"
)

const (
	slotInactive int32 = iota
	slotClaiming
	slotReady
)

type lookupSlot struct {
	flag atomic.Int32
	idx  atomic.Int32
}

// lookupTable gives constant-time access to the frame-local TokenState
// of a graph state, one slot per state. Activating a state is a CAS
// race INACTIVE -> CLAIMING; the winner pushes the TokenState, binds an
// arena record to it and publishes READY, while losers spin until the
// index is visible.
type lookupTable struct {
	slots []lookupSlot
}

func newLookupTable(numStates int32) *lookupTable {
	return &lookupTable{slots: make([]lookupSlot, numStates)}
}

// claimOrGet returns the current frame's survivor slot for state,
// creating it when this call wins the activation race. ok is false only
// when the survivor vector is out of capacity; the slot is still
// published so spinning peers cannot hang.
func (t *lookupTable) claimOrGet(state int32, cur *MergeVector, arena *tokenArena) (uint32, bool) {
	s := &t.slots[state]
	for {
		switch s.flag.Load() {
		case slotReady:
			return uint32(s.idx.Load()), true

		case slotInactive:
			if !s.flag.CompareAndSwap(slotInactive, slotClaiming) {
				continue
			}
			i, ok := cur.PushBack(TokenState{State: state, Cost: inf})
			if !ok {
				s.idx.Store(0)
				s.flag.Store(slotReady)
				return 0, false
			}
			cur.mem[i].TokenIdx = arena.allocIndex(i)
			s.idx.Store(int32(i))
			s.flag.Store(slotReady)
			return i, true

		default:
			runtime.Gosched()
		}
	}
}

// reset restores the slots touched by the survivors of toks to
// INACTIVE.
func (t *lookupTable) reset(toks *MergeVector) {
	n := toks.Size()
	for i := uint32(0); i < n; i++ {
		t.slots[toks.mem[i].State].flag.Store(slotInactive)
	}
}

// resetAll restores every slot. Used when starting an utterance, where
// the previous survivor set is no longer known.
func (t *lookupTable) resetAll() {
	for i := range t.slots {
		t.slots[i].flag.Store(slotInactive)
	}
}

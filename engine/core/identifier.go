package core

import (
	"math"
	"sync/atomic"
)

// Identifier hands out monotonically increasing ids starting at 1.
// Zero is never returned so it can be used as an invalid sentinel.
// Ids are never recycled.
type Identifier struct {
	last atomic.Uint64
}

func NewIdentifier() *Identifier {
	return &Identifier{}
}

func (i *Identifier) AcquireNewID() (uint64, error) {
	for {
		cur := i.last.Load()
		if cur == math.MaxUint64 {
			return 0, ErrIdentifierExhausted
		}
		if i.last.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

// Last returns the most recently issued id, or zero.
func (i *Identifier) Last() uint64 {
	return i.last.Load()
}

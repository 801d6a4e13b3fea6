package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueueOrder(t *testing.T) {
	pq := NewPriorityQueue(func(a, b int) bool { return a < b })
	for _, v := range []int{5, 1, 4, 2, 3} {
		pq.Push(v)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, pq.Sorted())
	assert.Equal(t, 5, pq.Len())

	var got []int
	for {
		v, ok := pq.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingPushEvicts(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		_, ok := r.Push(i)
		assert.False(t, ok)
	}

	evicted, ok := r.Push(4)
	assert.True(t, ok)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, []int{2, 3, 4}, r.Items())
	assert.Equal(t, 3, r.Len())
}

func TestRingLast(t *testing.T) {
	r := NewRing[int](5)
	for i := 1; i <= 7; i++ {
		r.Push(i)
	}

	assert.Equal(t, []int{6, 7}, r.Last(2))
	assert.Equal(t, []int{3, 4, 5, 6, 7}, r.Last(10))
	assert.Nil(t, r.Last(0))
}

func TestRingResize(t *testing.T) {
	r := NewRing[int](5)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	small := r.Resize(2)
	assert.Equal(t, []int{4, 5}, small.Items())

	big := r.Resize(8)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, big.Items())
	assert.Equal(t, 8, big.Cap())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Items())
}

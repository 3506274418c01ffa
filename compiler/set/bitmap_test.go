package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(s *Bitmap) (r []int) {
	s.Range(func(i int) bool {
		r = append(r, i)
		return true
	})

	return r
}

func TestBitmap(t *testing.T) {
	s := Of(3, 70, 1, 200)

	assert.Equal(t, []int{1, 3, 70, 200}, collect(s))
	assert.True(t, s.IsSet(70))
	assert.False(t, s.IsSet(71))
	assert.False(t, s.IsSet(-1))
	assert.False(t, s.IsSet(10000))

	var first []int

	s.Range(func(i int) bool {
		first = append(first, i)
		return len(first) < 2
	})

	assert.Equal(t, []int{1, 3}, first)

	var n *Bitmap
	assert.False(t, n.IsSet(0))

	e := NewBitmap(130)
	assert.Empty(t, collect(e))

	e.Set(129)
	assert.Equal(t, []int{129}, collect(e))
}

package hmmlib

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolEach(t *testing.T) {
	for _, nw := range []int{0, 1, 3, 64} {
		p := newWorkPool(nw)
		hits := make([]int32, 100)
		require.NoError(t, p.each(len(hits), func(i int) {
			atomic.AddInt32(&hits[i], 1)
		}))
		for i, h := range hits {
			assert.EqualValues(t, 1, h, "index %d with %d workers", i, nw)
		}
	}
}

func TestPoolBlocks(t *testing.T) {
	n := 3*blockSize + 17
	require.Equal(t, 4, numBlocks(n))
	require.Equal(t, 0, numBlocks(0))

	cover := make([]int32, n)
	var nb int32
	err := newWorkPool(3).blocks(n, func(b, lo, hi int) {
		atomic.AddInt32(&nb, 1)
		assert.Equal(t, b*blockSize, lo)
		for i := lo; i < hi; i++ {
			atomic.AddInt32(&cover[i], 1)
		}
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, nb)
	for i, c := range cover {
		require.EqualValues(t, 1, c, "position %d", i)
	}
}

func TestPoolPanic(t *testing.T) {
	err := newWorkPool(4).each(10, func(i int) {
		if i == 7 {
			panic("boom")
		}
	})
	require.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "boom")
}

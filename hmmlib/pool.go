package hmmlib

import (
	"fmt"
	"sync"
)

// Positions are processed in blocks of this size.  The block layout does
// not depend on the number of workers, so partial sums reduced in block
// order give identical results for any pool size.
const blockSize = 1024

// workPool runs independent pieces of work on a fixed number of
// goroutines.  A pool belongs to one Run call.
type workPool struct {
	nworker int
}

func newWorkPool(nworker int) *workPool {
	if nworker < 1 {
		nworker = 1
	}
	return &workPool{nworker: nworker}
}

// numBlocks returns the number of blocks covering [0, n).
func numBlocks(n int) int {
	return (n + blockSize - 1) / blockSize
}

// each calls fn(i) for i in [0, n), distributing the calls over the
// workers.  It returns after all calls have finished.  A panic in fn is
// returned as an error.
func (p *workPool) each(n int, fn func(i int)) error {

	if n <= 0 {
		return nil
	}

	nw := p.nworker
	if nw > n {
		nw = n
	}

	var wg sync.WaitGroup
	var mut sync.Mutex
	var perr error

	next := make(chan int, n)
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)

	for w := 0; w < nw; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mut.Lock()
					if perr == nil {
						perr = fmt.Errorf("%w: worker panic: %v", ErrInternal, r)
					}
					mut.Unlock()
				}
			}()
			for i := range next {
				fn(i)
			}
		}()
	}

	wg.Wait()
	return perr
}

// blocks calls fn(b, lo, hi) for every block b covering positions
// [lo, hi) of [0, n).
func (p *workPool) blocks(n int, fn func(b, lo, hi int)) error {
	return p.each(numBlocks(n), func(b int) {
		lo := b * blockSize
		hi := lo + blockSize
		if hi > n {
			hi = n
		}
		fn(b, lo, hi)
	})
}

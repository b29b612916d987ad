package ledger

import (
	"context"
	"sync"

	"github.com/asurechain/ledger/pkg/types"
)

type sealJob struct {
	ctx        context.Context
	block      *UnsealedBlock
	difficulty uint32
	maxNonce   uint64
	result     chan sealResult
}

type sealResult struct {
	block *types.Block
	err   error
}

// sealer runs proof-of-work on a dedicated goroutine so request handlers
// only wait on a channel while the search is CPU-bound.
type sealer struct {
	jobs chan sealJob
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newSealer() *sealer {
	s := &sealer{
		jobs: make(chan sealJob),
		done: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *sealer) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case job := <-s.jobs:
			block, err := job.block.Seal(job.ctx, job.difficulty, job.maxNonce)
			job.result <- sealResult{block: block, err: err}
		}
	}
}

// seal hands the block to the worker and waits for the result
func (s *sealer) seal(ctx context.Context, block *UnsealedBlock, difficulty uint32, maxNonce uint64) (*types.Block, error) {
	job := sealJob{
		ctx:        ctx,
		block:      block,
		difficulty: difficulty,
		maxNonce:   maxNonce,
		result:     make(chan sealResult, 1),
	}

	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}

	// The worker checks ctx during the search, so this always completes
	r := <-job.result
	return r.block, r.err
}

func (s *sealer) close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

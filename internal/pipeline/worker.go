package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/queue"
)

// Pool runs a fixed set of workers consuming call IDs from the queue.
type Pool struct {
	queue     queue.Queue
	processor *Processor
	workers   int
	log       zerolog.Logger

	wg        sync.WaitGroup
	active    atomic.Int32
	processed atomic.Int64
}

func NewPool(q queue.Queue, p *Processor, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:     q,
		processor: p,
		workers:   workers,
		log:       log.With().Str("component", "workers").Logger(),
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled or
// the queue's channel closes.
func (pl *Pool) Start(ctx context.Context) {
	for i := 0; i < pl.workers; i++ {
		pl.wg.Add(1)
		go pl.worker(ctx, i)
	}
	pl.log.Info().Int("workers", pl.workers).Msg("worker pool started")
}

// Stop waits for in-flight calls to finish. Close the queue first so the
// workers drain and exit.
func (pl *Pool) Stop() {
	pl.wg.Wait()
	pl.log.Info().Int64("processed", pl.processed.Load()).Msg("worker pool stopped")
}

func (pl *Pool) worker(ctx context.Context, id int) {
	defer pl.wg.Done()
	log := pl.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case callID, ok := <-pl.queue.Dequeue():
			if !ok {
				return
			}
			pl.active.Add(1)
			if err := pl.processor.Process(ctx, callID); err != nil {
				log.Warn().Err(err).Str("call_id", callID).Msg("processing failed")
			}
			pl.active.Add(-1)
			pl.processed.Add(1)
		}
	}
}

// ActiveWorkers reports workers currently processing a call.
func (pl *Pool) ActiveWorkers() int { return int(pl.active.Load()) }

// QueueDepth reports call IDs buffered locally and not yet picked up.
func (pl *Pool) QueueDepth() int { return len(pl.queue.Dequeue()) }

// ProcessedCount reports calls handled since start.
func (pl *Pool) ProcessedCount() int64 { return pl.processed.Load() }

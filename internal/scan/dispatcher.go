package scan

import (
	"context"
	"sync"

	apperrors "github.com/newsletter-scanner/internal/errors"
	"github.com/newsletter-scanner/internal/logging"
)

// ChunkProcessor processes one chunk of a scan job
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, jobID string) error
}

// Dispatcher is the in-process chunk queue. Triggers are non-blocking
// and best-effort; the reconciliation sweep re-triggers any PENDING job
// whose enqueue was dropped, so a full queue only delays progress.
type Dispatcher struct {
	processor ChunkProcessor
	queue     chan string
	logger    *logging.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher with the given queue capacity
func NewDispatcher(processor ChunkProcessor, buffer int, logger *logging.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		processor: processor,
		queue:     make(chan string, buffer),
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start launches the dispatch loop. Chunks for different jobs run
// sequentially through the loop; concurrency within a chunk comes from
// the scanner's sub-batch fetches.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Trigger enqueues a chunk for the job. Returns false when the queue is
// full or the dispatcher is stopped.
func (d *Dispatcher) Trigger(jobID string) bool {
	select {
	case <-d.stop:
		return false
	default:
	}
	select {
	case d.queue <- jobID:
		return true
	default:
		return false
	}
}

// Stop shuts the dispatch loop down and waits for the in-flight chunk
// to finish
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case jobID := <-d.queue:
			d.process(ctx, jobID)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, jobID string) {
	err := d.processor.ProcessChunk(ctx, jobID)
	if err == nil {
		return
	}
	if apperrors.IsConflict(err) {
		// Duplicate trigger lost the claim race; nothing to do.
		d.logger.WithJob(jobID).Debug("Skipped chunk, job not claimable")
		return
	}
	// The failure is already recorded on the job record.
	d.logger.WithJob(jobID).WithError(err).Warn("Chunk processing failed")
}

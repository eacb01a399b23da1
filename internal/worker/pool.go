// Package worker implements a bounded worker pool for extraction calls.
//
// Extraction is the one point where an item waits on an external service.
// Running those calls on the pool keeps a slow or failing service from
// stalling progress timers for other items.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mtiwari1/tradeflow/internal/extract"
	"github.com/mtiwari1/tradeflow/internal/intake"
)

// Job asks for one extraction. Ctx is cancelled when the item is cancelled.
type Job struct {
	Ctx    context.Context
	Owner  string // user the item belongs to
	ItemID string
	File   intake.FileRef
}

// Result holds the outcome of processing a single job.
type Result struct {
	Owner   string
	ItemID  string
	Order   extract.PurchaseOrder
	Latency time.Duration
	Err     error
}

// Pool manages a fixed set of worker goroutines that process Jobs from a channel
// and emit Results to another channel.
type Pool struct {
	workers   int
	extractor extract.Extractor
	jobs      chan Job
	results   chan Result
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewPool creates a pool with the given number of workers.
// Call Start() to launch the goroutines.
func NewPool(workers int, extractor extract.Extractor, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:   workers,
		extractor: extractor,
		jobs:      make(chan Job, workers*2), // small buffer for backpressure
		results:   make(chan Result, workers*2),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start launches worker goroutines. Each reads from the jobs channel until it is
// closed or the context is cancelled.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a job. It blocks while the jobs buffer is full.
// Returns false if the pool is shutting down or the job's own context ends first.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	jobCtx := job.Ctx
	if jobCtx == nil {
		jobCtx = context.Background()
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.ctx.Done():
		return false
	case <-jobCtx.Done():
		return false
	}
}

// Results returns the read-only results channel for the consumer.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown stops accepting jobs, cancels in-flight extractions, waits for
// all workers to finish, then closes the results channel. Safe to call more
// than once.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		close(p.results)
	})
}

// worker is the goroutine body. It processes jobs until the pool context is
// cancelled, preventing goroutine leaks.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			p.process(id, job)

		case <-p.ctx.Done():
			p.logger.Debug("worker exiting", slog.Int("worker_id", id))
			return
		}
	}
}

// process runs one extraction and sends its result.
func (p *Pool) process(workerID int, job Job) {
	jobCtx := job.Ctx
	if jobCtx == nil {
		jobCtx = context.Background()
	}
	// Shutdown cancels in-flight calls too.
	ctx, cancel := context.WithCancel(jobCtx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	res := Result{Owner: job.Owner, ItemID: job.ItemID}

	if err := ctx.Err(); err != nil {
		res.Err = errors.Wrap(err, "job cancelled before processing")
		p.emit(res)
		return
	}

	start := time.Now()
	p.logger.Info("extraction started",
		slog.Int("worker_id", workerID),
		slog.String("item_id", job.ItemID),
		slog.String("file", job.File.Name),
	)

	order, err := p.extractor.Extract(ctx, job.File)
	res.Latency = time.Since(start)

	if err != nil {
		p.logger.Warn("extraction failed",
			slog.Int("worker_id", workerID),
			slog.String("item_id", job.ItemID),
			slog.Duration("latency", res.Latency),
			slog.String("error", err.Error()),
		)
		res.Err = err
		p.emit(res)
		return
	}

	p.logger.Info("extraction completed",
		slog.Int("worker_id", workerID),
		slog.String("item_id", job.ItemID),
		slog.Duration("latency", res.Latency),
		slog.String("po_number", order.PONumber),
	)
	res.Order = order
	p.emit(res)
}

// emit delivers a result unless the pool is shutting down and nobody is
// left to read it.
func (p *Pool) emit(res Result) {
	select {
	case p.results <- res:
	case <-p.ctx.Done():
		select {
		case p.results <- res:
		default:
		}
	}
}

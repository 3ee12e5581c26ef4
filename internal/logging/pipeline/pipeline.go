// Package pipeline implements a batching log pipeline: entries submitted by
// any number of producers are grouped into ordered batches of bounded size
// and handed to a BatchSink by a bounded worker pool. Partial batches are
// flushed by a periodic timer so no entry waits indefinitely.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mkravets/logpipeline/internal/logging"
)

// Pipeline composes the batcher, the flush timer and the worker pool behind
// the submit/complete/fault/await contract. Producers may call Submit and
// Offer concurrently.
type Pipeline struct {
	cfg  Config
	sink logging.BatchSink
	log  *logrus.Entry
	m    *metrics

	batcher *batcher
	timer   *flushTimer
	pool    *workerPool

	mu       sync.Mutex // guards state transitions and faultErr
	state    atomic.Int32
	faultErr error
	doneCh   chan struct{}
}

var _ logging.EntryPipeline = (*Pipeline)(nil)

// New builds a pipeline around the given sink. Start must be called before
// entries are submitted.
func New(cfg Config, sink logging.BatchSink) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		sink:   sink,
		log:    logrus.NewEntry(cfg.Logger).WithField("component", "pipeline"),
		m:      newMetrics(cfg.Registerer),
		doneCh: make(chan struct{}),
	}

	p.pool = newWorkerPool(cfg.MaxParallelism, cfg.QueueCapacity, sink.Log, p.escalate, p.log, p.m)
	p.batcher = newBatcher(cfg.MaxBatchSize, func(batch []logging.LogEntry, trigger string) {
		p.m.batchesEmitted.WithLabelValues(trigger).Inc()
		p.pool.schedule(batch)
	})
	p.timer = newFlushTimer(cfg.FlushInterval, p.batcher.triggerFlush)

	return p, nil
}

// Start launches the worker pool and arms the flush timer. Call once.
func (p *Pipeline) Start() {
	p.log.Infof("starting pipeline: batch size=%d, flush interval=%v, parallelism=%d",
		p.cfg.MaxBatchSize, p.cfg.FlushInterval, p.cfg.MaxParallelism)

	p.pool.start()
	p.timer.start()

	go func() {
		<-p.pool.done()

		p.mu.Lock()
		if p.State() == StateCompleting {
			p.state.Store(int32(StateCompleted))
		}
		p.mu.Unlock()
		close(p.doneCh)
	}()
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Submit adds an entry to the current pending batch, blocking if the batch
// fills while the worker queue is saturated. Entries failing the sink's
// ShouldLog pre-filter are dropped silently. Returns a RejectedError once
// the pipeline has left the Running state.
func (p *Pipeline) Submit(entry logging.LogEntry) error {
	if s := p.State(); s != StateRunning {
		p.m.entriesRejected.Inc()
		return &RejectedError{State: s}
	}
	if !p.sink.ShouldLog(entry) {
		p.m.entriesFiltered.Inc()
		return nil
	}
	if err := p.batcher.submit(entry); err != nil {
		p.m.entriesRejected.Inc()
		return &RejectedError{State: p.State()}
	}
	p.m.entriesSubmitted.Inc()
	return nil
}

// Offer is the backpressure-aware submission path. provide is invoked at
// most once, and only after the pipeline commits to taking the entry, so an
// upstream source distributing entries to competing sinks never
// double-delivers. OfferPostponed means the entry was not consumed and may
// be offered again once the sink catches up.
func (p *Pipeline) Offer(provide func() logging.LogEntry) logging.OfferResult {
	if p.State() != StateRunning {
		return logging.OfferDeclined
	}
	return p.batcher.offer(func() (logging.LogEntry, bool) {
		entry := provide()
		if !p.sink.ShouldLog(entry) {
			p.m.entriesFiltered.Inc()
			return logging.LogEntry{}, false
		}
		p.m.entriesSubmitted.Inc()
		return entry, true
	}, p.pool.saturated)
}

// Complete stops intake, flushes the final partial batch and lets the
// worker pool finish everything already emitted. Done resolves once the
// final drained batch has been processed.
func (p *Pipeline) Complete() {
	p.mu.Lock()
	if p.State() != StateRunning {
		p.mu.Unlock()
		return
	}
	p.state.Store(int32(StateCompleting))
	p.mu.Unlock()

	p.log.Info("completing pipeline, draining pending entries")
	p.timer.stop()
	p.batcher.drain()
	p.pool.closeIntake()
}

// Fault aborts the pipeline: pending un-emitted entries are discarded,
// no further batches are scheduled, and in-flight Log invocations run to
// completion. Done resolves with err.
func (p *Pipeline) Fault(err error) {
	if err == nil {
		err = ErrFaulted
	}

	p.mu.Lock()
	if s := p.State(); s == StateCompleted || s == StateFaulted {
		p.mu.Unlock()
		return
	}
	p.state.Store(int32(StateFaulted))
	p.faultErr = err
	p.mu.Unlock()

	// Abort the pool first so producers blocked on a saturated queue are
	// released before the batcher mutex is taken again.
	p.pool.abort()
	p.timer.stop()
	if n := p.batcher.discard(); n > 0 {
		p.m.entriesDiscarded.Add(float64(n))
		p.log.WithError(err).Warnf("pipeline faulted, discarded %d pending entries", n)
	} else {
		p.log.WithError(err).Warn("pipeline faulted")
	}
}

// Done is closed once the pipeline reached Completed or Faulted and every
// started Log invocation has returned.
func (p *Pipeline) Done() <-chan struct{} {
	return p.doneCh
}

// Err returns the fault cause, or nil if the pipeline has not faulted.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faultErr
}

// Wait blocks until the pipeline finishes or ctx expires, returning the
// fault cause if any.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.doneCh:
		return p.Err()
	}
}

func (p *Pipeline) escalate(err error) {
	p.Fault(err)
}

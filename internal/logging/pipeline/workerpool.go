package pipeline

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mkravets/logpipeline/internal/logging"
)

// workerPool runs up to parallelism concurrent invocations of process over
// scheduled batches. Batches start in schedule order; completion order
// across workers is unspecified. A failing invocation is contained to its
// batch unless process returns a FatalError, which is escalated through
// onFatal.
type workerPool struct {
	parallelism int
	process     func(batch []logging.LogEntry) error
	onFatal     func(err error)
	log         *logrus.Entry
	m           *metrics

	batchCh   chan []logging.LogEntry
	abortCh   chan struct{}
	doneCh    chan struct{}
	abortOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWorkerPool(parallelism, queueCapacity int, process func([]logging.LogEntry) error, onFatal func(error), log *logrus.Entry, m *metrics) *workerPool {
	return &workerPool{
		parallelism: parallelism,
		process:     process,
		onFatal:     onFatal,
		log:         log,
		m:           m,
		batchCh:     make(chan []logging.LogEntry, queueCapacity),
		abortCh:     make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (wp *workerPool) start() {
	for i := 0; i < wp.parallelism; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	go wp.watchCompletion()
}

// schedule enqueues a batch, blocking while the queue is full. The send is
// abandoned if the pool aborts, which also unblocks producers waiting here.
func (wp *workerPool) schedule(batch []logging.LogEntry) {
	select {
	case wp.batchCh <- batch:
	case <-wp.abortCh:
		wp.m.batchesDiscarded.Inc()
	}
}

// saturated reports whether the next scheduled batch would block.
func (wp *workerPool) saturated() bool {
	return len(wp.batchCh) == cap(wp.batchCh)
}

// closeIntake signals that no further batches will be scheduled. Must be
// called after the upstream batcher stopped emitting.
func (wp *workerPool) closeIntake() {
	wp.closeOnce.Do(func() { close(wp.batchCh) })
}

// abort stops batch intake without waiting for queued batches; running
// invocations finish, queued ones are discarded.
func (wp *workerPool) abort() {
	wp.abortOnce.Do(func() { close(wp.abortCh) })
}

// done is closed once no further batches will run and every started
// invocation has returned.
func (wp *workerPool) done() <-chan struct{} {
	return wp.doneCh
}

func (wp *workerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		// abort wins over a non-empty queue: without this check the
		// select below picks at random and a queued batch could still
		// reach the sink after abort.
		select {
		case <-wp.abortCh:
			return
		default:
		}

		select {
		case <-wp.abortCh:
			return
		case batch, ok := <-wp.batchCh:
			if !ok {
				return
			}
			select {
			case <-wp.abortCh:
				wp.m.batchesDiscarded.Inc()
				return
			default:
			}
			wp.runBatch(id, batch)
		}
	}
}

func (wp *workerPool) runBatch(id int, batch []logging.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			wp.m.batchesFailed.Inc()
			wp.log.WithField("worker", id).Errorf("sink panicked on batch of %d entries: %v", len(batch), r)
		}
	}()

	wp.m.workersBusy.Inc()
	defer wp.m.workersBusy.Dec()

	err := wp.process(batch)
	wp.m.batchesProcessed.Inc()
	if err == nil {
		return
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		wp.log.WithField("worker", id).WithError(err).Error("sink signaled fatal error, faulting pipeline")
		wp.onFatal(err)
		return
	}

	wp.m.batchesFailed.Inc()
	wp.log.WithField("worker", id).WithError(&ProcessingError{BatchSize: len(batch), Err: err}).
		Warn("batch processing failed, continuing")
}

func (wp *workerPool) watchCompletion() {
	wp.wg.Wait()

	// After an abort, count whatever was queued but never started.
	for {
		select {
		case _, ok := <-wp.batchCh:
			if !ok {
				close(wp.doneCh)
				return
			}
			wp.m.batchesDiscarded.Inc()
		default:
			close(wp.doneCh)
			return
		}
	}
}

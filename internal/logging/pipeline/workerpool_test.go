package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkravets/logpipeline/internal/logging"
)

func testPoolDeps() (*logrus.Entry, *metrics) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger), newMetrics(prometheus.NewRegistry())
}

func makeBatch(n int, prefix string) []logging.LogEntry {
	batch := make([]logging.LogEntry, n)
	for i := range batch {
		batch[i] = entry(fmt.Sprintf("%s-%d", prefix, i))
	}
	return batch
}

func TestWorkerPool_ProcessesAllScheduledBatches(t *testing.T) {
	log, m := testPoolDeps()

	var mu sync.Mutex
	var processed [][]logging.LogEntry
	process := func(batch []logging.LogEntry) error {
		mu.Lock()
		defer mu.Unlock()
		processed = append(processed, batch)
		return nil
	}

	wp := newWorkerPool(2, 4, process, func(error) {}, log, m)
	wp.start()

	for i := 0; i < 10; i++ {
		wp.schedule(makeBatch(3, fmt.Sprintf("b%d", i)))
	}
	wp.closeIntake()

	select {
	case <-wp.done():
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, processed, 10)
}

func TestWorkerPool_RespectsParallelismCap(t *testing.T) {
	log, m := testPoolDeps()

	var running, maxRunning atomic.Int32
	process := func(batch []logging.LogEntry) error {
		n := running.Add(1)
		for {
			seen := maxRunning.Load()
			if n <= seen || maxRunning.CompareAndSwap(seen, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	const parallelism = 3
	wp := newWorkerPool(parallelism, 16, process, func(error) {}, log, m)
	wp.start()

	for i := 0; i < 12; i++ {
		wp.schedule(makeBatch(1, fmt.Sprintf("b%d", i)))
	}
	wp.closeIntake()

	select {
	case <-wp.done():
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain")
	}

	assert.LessOrEqual(t, maxRunning.Load(), int32(parallelism))
	assert.Greater(t, maxRunning.Load(), int32(1), "expected some parallelism under load")
}

func TestWorkerPool_ErrorContainedToBatch(t *testing.T) {
	log, m := testPoolDeps()

	var processed atomic.Int32
	process := func(batch []logging.LogEntry) error {
		processed.Add(1)
		if batch[0].Message == "bad-0" {
			return errors.New("boom")
		}
		return nil
	}

	var fatals atomic.Int32
	wp := newWorkerPool(1, 4, process, func(error) { fatals.Add(1) }, log, m)
	wp.start()

	wp.schedule(makeBatch(1, "bad"))
	wp.schedule(makeBatch(1, "good"))
	wp.closeIntake()

	select {
	case <-wp.done():
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not drain")
	}

	assert.Equal(t, int32(2), processed.Load(), "a failing batch must not stop the pool")
	assert.Equal(t, int32(0), fatals.Load())
}

func TestWorkerPool_FatalErrorEscalates(t *testing.T) {
	log, m := testPoolDeps()

	cause := errors.New("disk gone")
	process := func(batch []logging.LogEntry) error {
		return &FatalError{Err: cause}
	}

	fatalCh := make(chan error, 1)
	wp := newWorkerPool(1, 4, process, func(err error) { fatalCh <- err }, log, m)
	wp.start()

	wp.schedule(makeBatch(1, "b"))
	wp.closeIntake()

	select {
	case err := <-fatalCh:
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error was not escalated")
	}

	<-wp.done()
}

func TestWorkerPool_AbortLetsRunningBatchFinish(t *testing.T) {
	log, m := testPoolDeps()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var finished atomic.Int32
	process := func(batch []logging.LogEntry) error {
		started <- struct{}{}
		<-release
		finished.Add(1)
		return nil
	}

	wp := newWorkerPool(1, 4, process, func(error) {}, log, m)
	wp.start()

	wp.schedule(makeBatch(1, "running"))
	<-started
	wp.schedule(makeBatch(1, "queued"))

	wp.abort()

	select {
	case <-wp.done():
		t.Fatal("done resolved while an invocation was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)

	select {
	case <-wp.done():
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not finish after abort")
	}

	assert.Len(t, started, 0, "queued batch must not start after abort")
	assert.Equal(t, int32(1), finished.Load())
}

func TestWorkerPool_AbortWinsOverQueuedBatch(t *testing.T) {
	for i := 0; i < 200; i++ {
		log, m := testPoolDeps()

		var invocations atomic.Int32
		release := make(chan struct{})
		process := func(batch []logging.LogEntry) error {
			if invocations.Add(1) == 1 {
				<-release
			}
			return nil
		}

		wp := newWorkerPool(1, 4, process, func(error) {}, log, m)
		wp.start()

		wp.schedule(makeBatch(1, "running"))
		for invocations.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		wp.schedule(makeBatch(1, "queued"))

		wp.abort()
		close(release)

		select {
		case <-wp.done():
		case <-time.After(2 * time.Second):
			t.Fatal("pool did not finish after abort")
		}

		if got := invocations.Load(); got != 1 {
			t.Fatalf("iteration %d: queued batch started after abort (%d invocations)", i, got)
		}
	}
}

func TestWorkerPool_AbortUnblocksProducers(t *testing.T) {
	log, m := testPoolDeps()

	release := make(chan struct{})
	process := func(batch []logging.LogEntry) error {
		<-release
		return nil
	}
	defer close(release)

	wp := newWorkerPool(1, 1, process, func(error) {}, log, m)
	wp.start()

	// one running, one queued; the next schedule blocks
	wp.schedule(makeBatch(1, "a"))
	wp.schedule(makeBatch(1, "b"))

	scheduled := make(chan struct{})
	go func() {
		wp.schedule(makeBatch(1, "c"))
		close(scheduled)
	}()

	time.Sleep(20 * time.Millisecond)
	wp.abort()

	select {
	case <-scheduled:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked producer was not released by abort")
	}
}

func TestWorkerPool_SaturatedReflectsQueue(t *testing.T) {
	log, m := testPoolDeps()

	release := make(chan struct{})
	process := func(batch []logging.LogEntry) error {
		<-release
		return nil
	}
	defer close(release)

	wp := newWorkerPool(1, 1, process, func(error) {}, log, m)
	wp.start()
	require.False(t, wp.saturated())

	wp.schedule(makeBatch(1, "running"))
	// wait for the worker to pick it up, then fill the queue slot
	time.Sleep(20 * time.Millisecond)
	wp.schedule(makeBatch(1, "queued"))
	assert.True(t, wp.saturated())
}

package pipeline

import (
	"sync"

	"github.com/mkravets/logpipeline/internal/logging"
)

// batcher accumulates entries into ordered batches of at most max entries.
// A batch is emitted when it fills, when the flush timer fires, or when the
// pipeline drains on shutdown. One mutex guards the whole
// check-size/emit/reset step, so a timer flush can never interleave with a
// size-triggered emission and split or duplicate an entry.
//
// emit is invoked with the mutex held, which keeps emission order equal to
// submission order; it must not call back into the batcher.
type batcher struct {
	mu      sync.Mutex
	max     int
	pending []logging.LogEntry
	closed  bool
	emit    func(batch []logging.LogEntry, trigger string)
}

func newBatcher(max int, emit func(batch []logging.LogEntry, trigger string)) *batcher {
	return &batcher{
		max:     max,
		pending: make([]logging.LogEntry, 0, max),
		emit:    emit,
	}
}

// submit appends the entry to the pending batch, emitting it when full.
// Returns errBatcherClosed once drain or discard was called.
func (b *batcher) submit(entry logging.LogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBatcherClosed
	}
	b.pending = append(b.pending, entry)
	if len(b.pending) >= b.max {
		b.emitLocked(triggerSize)
	}
	return nil
}

// offer is the non-blocking entry path. include materializes the entry and
// reports whether it passed the pre-filter; it runs under the batcher mutex
// and is called at most once, only after the batcher commits to accepting.
// queueFull reports downstream saturation and is consulted only when taking
// this entry would complete a batch, i.e. when submit would have to block.
func (b *batcher) offer(include func() (logging.LogEntry, bool), queueFull func() bool) logging.OfferResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return logging.OfferDeclined
	}
	if len(b.pending) == b.max-1 && queueFull() {
		return logging.OfferPostponed
	}
	entry, ok := include()
	if !ok {
		return logging.OfferAccepted
	}
	b.pending = append(b.pending, entry)
	if len(b.pending) >= b.max {
		b.emitLocked(triggerSize)
	}
	return logging.OfferAccepted
}

// triggerFlush emits the current partial batch. Emitting an empty pending
// batch is a no-op.
func (b *batcher) triggerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.emitLocked(triggerTimer)
}

// drain emits whatever is pending exactly once and stops accepting entries.
func (b *batcher) drain() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.emitLocked(triggerDrain)
}

// discard throws away pending entries without emitting them and stops
// accepting more. Returns the number of entries dropped.
func (b *batcher) discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	n := len(b.pending)
	b.pending = nil
	return n
}

func (b *batcher) emitLocked(trigger string) {
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = make([]logging.LogEntry, 0, b.max)
	b.emit(batch, trigger)
}

package pipeline

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlushTimer_FiresPeriodically(t *testing.T) {
	var fires atomic.Int32
	timer := newFlushTimer(20*time.Millisecond, func() {
		fires.Add(1)
	})
	timer.start()
	defer timer.stop()

	deadline := time.Now().Add(2 * time.Second)
	for fires.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, fires.Load(), int32(3))
}

func TestFlushTimer_StopWaitsForInflightFiring(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	timer := newFlushTimer(10*time.Millisecond, func() {
		close(started)
		<-release
		close(finished)
	})
	timer.start()

	<-started

	stopReturned := make(chan struct{})
	go func() {
		timer.stop()
		close(stopReturned)
	}()

	select {
	case <-stopReturned:
		t.Fatal("stop returned while a firing was still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	<-stopReturned

	select {
	case <-finished:
	default:
		t.Fatal("in-flight firing was not allowed to finish")
	}
}

func TestFlushTimer_NoFiringAfterStop(t *testing.T) {
	var fires atomic.Int32
	timer := newFlushTimer(10*time.Millisecond, func() {
		fires.Add(1)
	})
	timer.start()

	time.Sleep(35 * time.Millisecond)
	timer.stop()
	after := fires.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, fires.Load())
}

func TestFlushTimer_StopSuppressesExpiredTick(t *testing.T) {
	// With a near-zero interval the re-armed tick has already expired by
	// the time the loop re-enters its select, together with a closed stop
	// channel. Stop was requested during the first firing, so no second
	// firing may start.
	for i := 0; i < 100; i++ {
		var fires atomic.Int32
		release := make(chan struct{})
		timer := newFlushTimer(time.Nanosecond, func() {
			if fires.Add(1) == 1 {
				<-release
			}
		})
		timer.start()

		for fires.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		stopReturned := make(chan struct{})
		go func() {
			timer.stop()
			close(stopReturned)
		}()

		time.Sleep(time.Millisecond)
		close(release)
		<-stopReturned

		if got := fires.Load(); got != 1 {
			t.Fatalf("iteration %d: timer fired %d times after stop was requested", i, got)
		}
	}
}

func TestFlushTimer_StopIsIdempotent(t *testing.T) {
	timer := newFlushTimer(time.Hour, func() {})
	timer.start()
	timer.stop()
	timer.stop()
}

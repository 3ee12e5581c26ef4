package daemon

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailerMetrics_BasicOperations(t *testing.T) {
	metrics := &TailerMetrics{}

	metrics.IncFilesDiscovered()
	metrics.IncFilesProcessed()
	metrics.IncFilesFailed()
	metrics.IncWorkersActive()
	metrics.IncWorkersBusy()
	metrics.IncEntriesOffered()
	metrics.IncEntriesPostponed()
	metrics.IncScaleUpOperations()
	metrics.IncScaleDownOperations()

	result := metrics.GetMetricsStamp()

	assert.Equal(t, 1, result.ScaleUpOperations)
	assert.Equal(t, 1, result.ScaleDownOperations)
	assert.Equal(t, 1, result.FilesDiscovered)
	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 1, result.FilesFailed)
	assert.Equal(t, 1, result.WorkersActive)
	assert.Equal(t, 1, result.WorkersBusy)
	assert.Equal(t, 1, result.EntriesOffered)
	assert.Equal(t, 1, result.EntriesPostponed)
}

func TestTailerMetrics_QueueUsage(t *testing.T) {
	metrics := &TailerMetrics{
		FilesQueueCapacity: 10,
	}
	usage := metrics.GetQueueUsage()
	assert.Equal(t, 0.0, usage)

	for i := 0; i < 5; i++ {
		metrics.IncQueuedFiles()
	}
	assert.Equal(t, 0.5, metrics.GetQueueUsage())

	metrics.DecQueuedFiles()
	assert.Equal(t, 0.4, metrics.GetQueueUsage())
}

func TestTailerMetrics_ConcurrentUpdates(t *testing.T) {
	metrics := &TailerMetrics{FilesQueueCapacity: 100}

	var wg sync.WaitGroup
	wg.Add(4)
	for w := 0; w < 4; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				metrics.IncEntriesOffered()
				metrics.IncQueuedFiles()
				metrics.DecQueuedFiles()
			}
		}()
	}
	wg.Wait()

	stamp := metrics.GetMetricsStamp()
	assert.Equal(t, 400, stamp.EntriesOffered)
	assert.Equal(t, 0, stamp.QueuedFiles)
}

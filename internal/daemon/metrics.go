package daemon

import (
	"sync"
)

// TailerMetrics is a readable stats snapshot for the tailer service.
// The autoscaler needs to read these values back, which is why they live in
// a plain struct next to the Prometheus metrics exported by the pipeline.
type TailerMetrics struct {
	FilesDiscovered     int
	FilesProcessed      int
	FilesFailed         int
	QueuedFiles         int
	FilesQueueCapacity  int
	WorkersActive       int
	WorkersBusy         int
	EntriesOffered      int
	EntriesPostponed    int
	ScaleUpOperations   int
	ScaleDownOperations int
	mu                  sync.RWMutex
}

func (m *TailerMetrics) IncFilesDiscovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesDiscovered++
}

func (m *TailerMetrics) IncFilesProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesProcessed++
}

func (m *TailerMetrics) IncFilesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesFailed++
}

func (m *TailerMetrics) IncQueuedFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedFiles++
}

func (m *TailerMetrics) DecQueuedFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedFiles--
}

func (m *TailerMetrics) IncWorkersActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersActive++
}

func (m *TailerMetrics) DecWorkersActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersActive--
}

func (m *TailerMetrics) IncWorkersBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersBusy++
}

func (m *TailerMetrics) DecWorkersBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersBusy--
}

func (m *TailerMetrics) IncEntriesOffered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesOffered++
}

func (m *TailerMetrics) IncEntriesPostponed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesPostponed++
}

func (m *TailerMetrics) IncScaleUpOperations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScaleUpOperations++
}

func (m *TailerMetrics) IncScaleDownOperations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScaleDownOperations++
}

func (m *TailerMetrics) GetMetricsStamp() TailerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TailerMetrics{
		FilesDiscovered:     m.FilesDiscovered,
		FilesProcessed:      m.FilesProcessed,
		FilesFailed:         m.FilesFailed,
		QueuedFiles:         m.QueuedFiles,
		FilesQueueCapacity:  m.FilesQueueCapacity,
		WorkersActive:       m.WorkersActive,
		WorkersBusy:         m.WorkersBusy,
		EntriesOffered:      m.EntriesOffered,
		EntriesPostponed:    m.EntriesPostponed,
		ScaleUpOperations:   m.ScaleUpOperations,
		ScaleDownOperations: m.ScaleDownOperations,
	}
}

func (m *TailerMetrics) GetQueueUsage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FilesQueueCapacity == 0 {
		return 0
	}
	return float64(m.QueuedFiles) / float64(m.FilesQueueCapacity)
}

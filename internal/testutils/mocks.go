package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mkravets/logpipeline/internal/logging"
)

// MockSink records every batch it receives and tracks how many Log
// invocations run concurrently, so tests can verify the pipeline's
// parallelism cap.
type MockSink struct {
	mu             sync.Mutex
	Batches        [][]logging.LogEntry
	ShouldFail     bool
	FailWith       error
	Delay          time.Duration
	FilterFunc     func(entry logging.LogEntry) bool
	running        int
	MaxConcurrency int
}

func (m *MockSink) ShouldLog(entry logging.LogEntry) bool {
	if m.FilterFunc != nil {
		return m.FilterFunc(entry)
	}
	return true
}

func (m *MockSink) Log(batch []logging.LogEntry) error {
	m.mu.Lock()
	m.running++
	if m.running > m.MaxConcurrency {
		m.MaxConcurrency = m.running
	}
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.running--

	if m.FailWith != nil {
		return m.FailWith
	}
	if m.ShouldFail {
		return fmt.Errorf("mock log failed")
	}
	m.Batches = append(m.Batches, batch)
	return nil
}

// GetBatches returns a snapshot of batches received so far.
func (m *MockSink) GetBatches() [][]logging.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]logging.LogEntry, len(m.Batches))
	copy(out, m.Batches)
	return out
}

// TotalEntries counts entries across all received batches.
func (m *MockSink) TotalEntries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, b := range m.Batches {
		total += len(b)
	}
	return total
}

// Messages returns received entry messages in emission order.
func (m *MockSink) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, b := range m.Batches {
		for _, e := range b {
			out = append(out, e.Message)
		}
	}
	return out
}

// GetMaxConcurrency returns the highest number of Log invocations observed
// running at once.
func (m *MockSink) GetMaxConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxConcurrency
}

// MockPipeline implements logging.EntryPipeline for producer-side tests.
type MockPipeline struct {
	mu           sync.Mutex
	Entries      []logging.LogEntry
	SubmitErr    error
	OfferResults []logging.OfferResult // consumed in order; last value repeats
	offerCalls   int
}

func (m *MockPipeline) Submit(entry logging.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MockPipeline) Offer(provide func() logging.LogEntry) logging.OfferResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := logging.OfferAccepted
	if len(m.OfferResults) > 0 {
		i := m.offerCalls
		if i >= len(m.OfferResults) {
			i = len(m.OfferResults) - 1
		}
		result = m.OfferResults[i]
	}
	m.offerCalls++

	if result == logging.OfferAccepted {
		m.Entries = append(m.Entries, provide())
	}
	return result
}

// GetEntries returns a snapshot of accepted entries.
func (m *MockPipeline) GetEntries() []logging.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logging.LogEntry, len(m.Entries))
	copy(out, m.Entries)
	return out
}

// OfferCalls returns how many times Offer was invoked.
func (m *MockPipeline) OfferCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offerCalls
}

func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":          "log content 1\nline 2\n",
		"default_pod-1_uid123/container-2/app.log":          "log content 2\nerror log\n",
		"kube-system_pod-2_uid456/container/app.log":        "log content 3\ninfo message\n",
		"default_pod-3_uid789/container/app.log":            "log content 4\n",
		"monitoring_pod-4_uid101/grafana/grafana.log":       "grafana starting\n",
		"monitoring_pod-4_uid101/prometheus/prometheus.log": "prometheus ready\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}

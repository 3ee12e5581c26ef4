// Package daemon discovers log files under a root directory, tails them and
// feeds their lines into the log pipeline through its backpressure offer
// protocol.
package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"github.com/sirupsen/logrus"

	"github.com/mkravets/logpipeline/internal/logging"
)

type TailerService struct {
	config        Config
	pipeline      logging.EntryPipeline
	fileQueue     chan string
	workers       []*worker
	workersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *TailerMetrics
	log           *logrus.Entry

	scaleMutex     sync.RWMutex
	currentWorkers int
	maxWorkers     int
	minWorkers     int

	seenFiles map[string]struct{}
}

type worker struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	LogRootPath        string
	ScanInterval       time.Duration
	MinWorkers         int
	MaxWorkers         int
	FileQueueSize      int
	NodeName           string
	ScaleUpThreshold   float64 // default: 0.9
	ScaleDownThreshold float64 // default: 0.3
	ScaleCheckInterval time.Duration
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	// How long to back off before re-offering a postponed entry
	OfferRetryDelay time.Duration
}

// NewTailerService always creates 3 + config.MinWorkers goroutines on Start()
func NewTailerService(ctx context.Context, config Config, pipeline logging.EntryPipeline, logger *logrus.Logger) *TailerService {
	nCtx, cancel := context.WithCancel(ctx)

	if config.OfferRetryDelay <= 0 {
		config.OfferRetryDelay = 50 * time.Millisecond
	}

	service := &TailerService{
		config:    config,
		pipeline:  pipeline,
		fileQueue: make(chan string, config.FileQueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		metrics: &TailerMetrics{
			FilesQueueCapacity: config.FileQueueSize,
		},
		log:            logrus.NewEntry(logger).WithField("component", "tailer"),
		minWorkers:     config.MinWorkers,
		maxWorkers:     config.MaxWorkers,
		currentWorkers: config.MinWorkers,
		seenFiles:      make(map[string]struct{}),
	}

	service.workers = make([]*worker, config.MaxWorkers+1)

	return service
}

func (s *TailerService) Start() {
	s.log.Infof("starting tailer service: min workers=%d, max workers=%d, queue size=%d",
		s.minWorkers, s.maxWorkers, s.config.FileQueueSize)

	for i := 0; i < s.minWorkers; i++ {
		s.startWorker(i)
	}

	s.subServicesWg.Add(1)
	go s.scanner()

	s.subServicesWg.Add(1)
	go s.monitorAndScale()

	s.subServicesWg.Add(1)
	go s.statsReporter()

	s.log.Info("tailer service started")
}

func (s *TailerService) Stop() {
	s.log.Info("stopping tailer service...")
	s.cancel()

	s.subServicesWg.Wait()

	close(s.fileQueue)
	s.workersWg.Wait()

	s.log.Info("tailer service stopped")
}

// Metrics returns the service's readable stats.
func (s *TailerService) Metrics() *TailerMetrics {
	return s.metrics
}

func (s *TailerService) startWorker(id int) {
	if id >= len(s.workers) || s.workers[id] != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(s.ctx)
	worker := &worker{
		id:     id,
		ctx:    workerCtx,
		cancel: cancel,
	}
	s.workers[id] = worker

	s.workersWg.Add(1)
	go s.worker(worker)

	s.metrics.IncWorkersActive()
	s.log.Infof("worker %d started", id)
}

func (s *TailerService) stopWorker(id int) {
	if id >= len(s.workers) || s.workers[id] == nil {
		return
	}

	s.workers[id].cancel()
	s.workers[id] = nil

	s.metrics.DecWorkersActive()
	s.log.Infof("worker %d stopped", id)
}

func (s *TailerService) worker(worker *worker) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("worker %d panicked: %v", worker.id, r)
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecQueuedFiles()
			s.metrics.IncWorkersBusy()
			s.tailFile(worker.ctx, filePath)
			s.metrics.DecWorkersBusy()

		case <-worker.ctx.Done():
			return
		}
	}
}

func (s *TailerService) tailFile(ctx context.Context, filePath string) {
	defer s.metrics.IncFilesProcessed()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("file processing panicked for %s: %v", filePath, r)
			s.metrics.IncFilesFailed()
		}
	}()

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.log.WithError(err).Errorf("failed to tail file %s", filePath)
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line := <-t.Lines:
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.log.WithError(line.Err).Warnf("error reading from %s", filePath)
				continue
			}

			if !s.offerLine(ctx, filePath, line.Text) {
				return
			}
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// offerLine hands one line to the pipeline, backing off while the pipeline
// is saturated. Returns false when the pipeline declined, meaning it shut
// down and this worker should stop tailing.
func (s *TailerService) offerLine(ctx context.Context, filePath, text string) bool {
	provide := func() logging.LogEntry {
		return logging.LogEntry{
			Timestamp: time.Now(),
			Message:   text,
			File:      filePath,
			Labels:    s.extractLabels(filePath),
		}
	}

	for {
		switch s.pipeline.Offer(provide) {
		case logging.OfferAccepted:
			s.metrics.IncEntriesOffered()
			return true
		case logging.OfferPostponed:
			s.metrics.IncEntriesPostponed()
			select {
			case <-time.After(s.config.OfferRetryDelay):
			case <-ctx.Done():
				return false
			}
		case logging.OfferDeclined:
			s.log.Debugf("pipeline declined entry from %s, stopping tail", filePath)
			return false
		}
	}
}

func (s *TailerService) scanner() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailerService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.log.WithError(err).Error("error discovering log files")
		return
	}

	for _, file := range files {
		if _, ok := s.seenFiles[file]; !ok {
			s.metrics.IncFilesDiscovered()
			s.seenFiles[file] = struct{}{}
		}
		select {
		case s.fileQueue <- file:
			s.metrics.IncQueuedFiles()
		case <-s.ctx.Done():
			return

		default:
			s.log.Warnf("file queue full (%d/%d), skipping %s",
				len(s.fileQueue), cap(s.fileQueue), file)
		}
	}
}

func (s *TailerService) monitorAndScale() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.adjustWorkers()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailerService) adjustWorkers() {
	metrics := s.metrics.GetMetricsStamp()

	if s.currentWorkers >= s.maxWorkers && s.currentWorkers <= s.minWorkers {
		return
	}

	queueUsage := metrics.GetQueueUsage()
	workerUtilization := 0.0
	if s.currentWorkers > 0 {
		workerUtilization = float64(metrics.WorkersBusy) / float64(s.currentWorkers)
	}

	if queueUsage > s.config.ScaleUpThreshold &&
		workerUtilization > s.config.ScaleUpThreshold &&
		s.currentWorkers < s.maxWorkers {
		s.scaleUp()
	} else if queueUsage < s.config.ScaleDownThreshold &&
		workerUtilization < s.config.ScaleDownThreshold &&
		s.currentWorkers > s.minWorkers {
		s.scaleDown()
	}
}

func (s *TailerService) scaleUp() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers >= s.maxWorkers {
		return
	}

	newWorkerID := s.currentWorkers
	s.currentWorkers++

	s.startWorker(newWorkerID)
	s.metrics.IncScaleUpOperations()

	s.log.Infof("scaled up to %d workers (queue usage: %d%%)",
		s.currentWorkers, int(s.metrics.GetQueueUsage()*100))
}

func (s *TailerService) scaleDown() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers <= s.minWorkers {
		return
	}

	workerToStop := s.currentWorkers - 1
	s.currentWorkers--

	s.stopWorker(workerToStop)
	s.metrics.IncScaleDownOperations()

	s.log.Infof("scaled down to %d workers (queue usage: %d%%)",
		s.currentWorkers, int(s.metrics.GetQueueUsage()*100))
}

func (s *TailerService) statsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := s.metrics.GetMetricsStamp()
			queueUsage := s.metrics.GetQueueUsage()

			s.log.WithFields(logrus.Fields{
				"workers_active":   metrics.WorkersActive,
				"workers_max":      s.maxWorkers,
				"workers_busy":     metrics.WorkersBusy,
				"queue_used":       metrics.QueuedFiles,
				"queue_capacity":   s.config.FileQueueSize,
				"queue_usage_pct":  int(queueUsage * 100),
				"files_processed":  metrics.FilesProcessed,
				"files_discovered": metrics.FilesDiscovered,
				"entries_offered":  metrics.EntriesOffered,
				"entries_deferred": metrics.EntriesPostponed,
				"scale_up":         metrics.ScaleUpOperations,
				"scale_down":       metrics.ScaleDownOperations,
			}).Info("tailer stats")

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailerService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.WithError(err).Warnf("error accessing path %s", path)
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

func (s *TailerService) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"node": s.config.NodeName,
		"file": filepath.Base(filePath),
	}

	parts := strings.Split(filePath, "/")
	if len(parts) >= 5 {
		podParts := strings.Split(parts[4], "_")
		if len(podParts) >= 3 {
			labels["namespace"] = podParts[0]
			labels["pod"] = podParts[1]
			labels["pod_uid"] = podParts[2]
		}

		if len(parts) >= 6 {
			labels["container"] = parts[5]
		}
	}

	return labels
}

package pipeline

import (
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Config holds the tunables of a Pipeline.
type Config struct {
	// MaxBatchSize is the number of entries at which a pending batch is
	// emitted immediately. Must be positive.
	MaxBatchSize int

	// FlushInterval is how long a partial batch may sit before the flush
	// timer forces its emission. Must be positive.
	FlushInterval time.Duration

	// MaxParallelism caps concurrent Log invocations.
	// Default: number of available processing units.
	MaxParallelism int

	// QueueCapacity is the number of emitted batches that may wait for a
	// worker before producers start blocking. Default: 2 * MaxParallelism.
	QueueCapacity int

	// Logger receives the pipeline's own diagnostics.
	// Default: logrus.StandardLogger().
	Logger *logrus.Logger

	// Registerer receives the pipeline's Prometheus collectors.
	// Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.MaxParallelism == 0 {
		c.MaxParallelism = runtime.GOMAXPROCS(0)
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 2 * c.MaxParallelism
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}
	return c
}

func (c Config) validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MaxBatchSize must be positive, got %d", c.MaxBatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("FlushInterval must be positive, got %v", c.FlushInterval)
	}
	if c.MaxParallelism < 0 {
		return fmt.Errorf("MaxParallelism must not be negative, got %d", c.MaxParallelism)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("QueueCapacity must not be negative, got %d", c.QueueCapacity)
	}
	return nil
}

// Package config loads agent configuration from an optional YAML file, with
// environment variables overriding file values and built-in defaults
// backing both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5s" parse. Plain
// integers are taken as nanoseconds, matching yaml.v3's native decoding.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type AppConfig struct {
	LokiURL     string `yaml:"loki_url"`
	NodeName    string `yaml:"node_name"`
	LogRootPath string `yaml:"log_root_path"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	MaxBatchSize   int      `yaml:"max_batch_size"`
	FlushInterval  Duration `yaml:"flush_interval"`
	MaxParallelism int      `yaml:"max_parallelism"`
	QueueCapacity  int      `yaml:"queue_capacity"`
	MaxRetries     int      `yaml:"max_retries"`

	ScanInterval       Duration `yaml:"scan_interval"`
	MinWorkers         int      `yaml:"min_workers"`
	MaxWorkers         int      `yaml:"max_workers"`
	FileQueueSize      int      `yaml:"file_queue_size"`
	ScaleUpThreshold   float64  `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64  `yaml:"scale_down_threshold"`
	ScaleCheckInterval Duration `yaml:"scale_check_interval"`
	FileIdleTimeout    Duration `yaml:"file_idle_timeout"`

	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

func defaults() AppConfig {
	return AppConfig{
		LokiURL:            "http://loki:3100",
		NodeName:           "unknown",
		LogRootPath:        "/var/log/pods",
		LogLevel:           "info",
		MetricsAddr:        ":9090",
		MaxBatchSize:       1000,
		FlushInterval:      Duration(5 * time.Second),
		MaxParallelism:     0, // pipeline default: available processing units
		QueueCapacity:      0, // pipeline default: 2 * parallelism
		MaxRetries:         3,
		ScanInterval:       Duration(30 * time.Second),
		MinWorkers:         2,
		MaxWorkers:         10,
		FileQueueSize:      50,
		ScaleUpThreshold:   0.9,
		ScaleDownThreshold: 0.3,
		ScaleCheckInterval: Duration(15 * time.Second),
		FileIdleTimeout:    Duration(5 * time.Minute),
		ShutdownTimeout:    Duration(30 * time.Second),
	}
}

// Load reads the config file at path (skipped when path is empty) and then
// applies environment overrides on top.
func Load(path string) (AppConfig, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.LokiURL = getEnv("LOKI_URL", c.LokiURL)
	c.NodeName = getEnv("NODE_NAME", c.NodeName)
	c.LogRootPath = getEnv("LOG_PATH", c.LogRootPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.MaxBatchSize = getEnvAsInt("MAX_BATCH_SIZE", c.MaxBatchSize)
	c.FlushInterval = getEnvAsDuration("FLUSH_INTERVAL", c.FlushInterval)
	c.MaxParallelism = getEnvAsInt("MAX_PARALLELISM", c.MaxParallelism)
	c.QueueCapacity = getEnvAsInt("QUEUE_CAPACITY", c.QueueCapacity)
	c.MaxRetries = getEnvAsInt("MAX_RETRIES", c.MaxRetries)
	c.ScanInterval = getEnvAsDuration("SCAN_INTERVAL", c.ScanInterval)
	c.MinWorkers = getEnvAsInt("MIN_WORKERS", c.MinWorkers)
	c.MaxWorkers = getEnvAsInt("MAX_WORKERS", c.MaxWorkers)
	c.FileQueueSize = getEnvAsInt("QUEUE_SIZE", c.FileQueueSize)
	c.ScaleUpThreshold = getEnvAsFloat("SCALE_UP_THRESHOLD", c.ScaleUpThreshold)
	c.ScaleDownThreshold = getEnvAsFloat("SCALE_DOWN_THRESHOLD", c.ScaleDownThreshold)
	c.ScaleCheckInterval = getEnvAsDuration("SCALE_CHECK_INTERVAL", c.ScaleCheckInterval)
	c.FileIdleTimeout = getEnvAsDuration("FILE_IDLE_TIMEOUT", c.FileIdleTimeout)
	c.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return Duration(result)
		}
	}
	return defaultValue
}

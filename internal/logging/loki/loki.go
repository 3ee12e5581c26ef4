// Package loki provides a BatchSink that pushes log batches to a Loki
// instance over its HTTP push API.
package loki

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkravets/logpipeline/internal/logging"
)

const pushPath = "/loki/api/v1/push"

type Sink struct {
	baseURL    string
	nodeName   string
	httpClient *http.Client
	maxRetries int
	log        *logrus.Entry
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type Payload struct {
	Streams []Stream `json:"streams"`
}

func NewSink(baseURL, nodeName string, maxRetries int, logger *logrus.Logger) *Sink {
	return &Sink{
		baseURL:  baseURL,
		nodeName: nodeName,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		maxRetries: maxRetries,
		log:        logrus.NewEntry(logger).WithField("component", "loki"),
	}
}

// ShouldLog drops blank lines before they enter the pipeline.
func (s *Sink) ShouldLog(entry logging.LogEntry) bool {
	return entry.Message != ""
}

// Log pushes one batch, retrying with linear backoff up to maxRetries
// attempts. A batch that still fails is reported as an error but not
// escalated: losing one push should not take the whole pipeline down.
func (s *Sink) Log(batch []logging.LogEntry) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := json.Marshal(s.buildPayload(batch))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.push(body)
		if err == nil {
			s.log.Debugf("pushed batch of %d entries", len(batch))
			return nil
		}
		if attempt < s.maxRetries {
			s.log.WithError(err).Warnf("push attempt %d/%d failed, retrying", attempt, s.maxRetries)
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to push batch of %d entries after %d attempts: %w", len(batch), s.maxRetries, err)
}

// buildPayload groups entries into Loki streams keyed by pod and container.
func (s *Sink) buildPayload(batch []logging.LogEntry) Payload {
	streams := make(map[string]Stream)

	for _, entry := range batch {
		key := entry.Labels["pod"] + ":" + entry.Labels["container"]
		stream, exists := streams[key]
		if !exists {
			stream = Stream{
				Stream: s.streamLabels(entry),
				Values: [][2]string{},
			}
		}
		timestamp := fmt.Sprintf("%d", entry.Timestamp.UnixNano())
		stream.Values = append(stream.Values, [2]string{timestamp, entry.Message})
		streams[key] = stream
	}

	payload := Payload{
		Streams: make([]Stream, 0, len(streams)),
	}
	for _, stream := range streams {
		payload.Streams = append(payload.Streams, stream)
	}
	return payload
}

func (s *Sink) streamLabels(entry logging.LogEntry) map[string]string {
	labels := map[string]string{
		"job":  "node-logger",
		"node": s.nodeName,
	}
	for k, v := range entry.Labels {
		labels[k] = v
	}
	return labels
}

func (s *Sink) push(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, s.baseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("loki returned status %d: %s", resp.StatusCode, string(responseBody))
	}
	return nil
}
